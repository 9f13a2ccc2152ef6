package math

// Vec2 represents a 2D vector
type Vec2 struct {
	X, Y float32
}

// Vec3 represents a 3D vector
type Vec3 struct {
	X, Y, Z float32
}

// Vec4 represents a 4D vector, also used for RGBA colours.
type Vec4 struct {
	X, Y, Z, W float32
}

// Extents2D is an axis aligned integer box, max exclusive.
type Extents2D struct {
	MinX, MinY int
	MaxX, MaxY int
}

func (e Extents2D) Empty() bool {
	return e.MinX >= e.MaxX || e.MinY >= e.MaxY
}

// Intersect clips e against other.
func (e Extents2D) Intersect(other Extents2D) Extents2D {
	return Extents2D{
		MinX: Max(e.MinX, other.MinX),
		MinY: Max(e.MinY, other.MinY),
		MaxX: Min(e.MaxX, other.MaxX),
		MaxY: Min(e.MaxY, other.MaxY),
	}
}

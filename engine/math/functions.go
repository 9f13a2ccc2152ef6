package math

import (
	gomath "math"

	"golang.org/x/exp/rand"
)

func NewVec2(x, y float32) Vec2 {
	return Vec2{X: x, Y: y}
}

func (v Vec2) Sub(other Vec2) Vec2 {
	return Vec2{X: v.X - other.X, Y: v.Y - other.Y}
}

func NewVec3(x, y, z float32) Vec3 {
	return Vec3{X: x, Y: y, Z: z}
}

func NewVec4(x, y, z, w float32) Vec4 {
	return Vec4{X: x, Y: y, Z: z, W: w}
}

func NewVec4One() Vec4 {
	return Vec4{X: 1, Y: 1, Z: 1, W: 1}
}

func (v Vec4) Add(other Vec4) Vec4 {
	return Vec4{X: v.X + other.X, Y: v.Y + other.Y, Z: v.Z + other.Z, W: v.W + other.W}
}

// Mul is the component-wise product.
func (v Vec4) Mul(other Vec4) Vec4 {
	return Vec4{X: v.X * other.X, Y: v.Y * other.Y, Z: v.Z * other.Z, W: v.W * other.W}
}

func (v Vec4) MulScalar(s float32) Vec4 {
	return Vec4{X: v.X * s, Y: v.Y * s, Z: v.Z * s, W: v.W * s}
}

// Edge is the signed doubled area of triangle (a, b, p). It is positive when p
// lies to the left of a->b in a y-up frame.
func Edge(a, b, p Vec2) float32 {
	return (b.X-a.X)*(p.Y-a.Y) - (b.Y-a.Y)*(p.X-a.X)
}

// IsTopLeft reports whether a->b is a top or left edge of a triangle with
// positive Edge area in a y-down raster frame.
func IsTopLeft(a, b Vec2) bool {
	d := b.Sub(a)
	return (d.Y == 0 && d.X > 0) || d.Y < 0
}

// UnormToByte converts a [0, 1] float to an 8 bit channel with rounding.
func UnormToByte(f float32) uint8 {
	return uint8(Clamp(f, 0, 1)*255 + 0.5)
}

func Floor(f float32) int {
	return int(gomath.Floor(float64(f)))
}

func Ceil(f float32) int {
	return int(gomath.Ceil(float64(f)))
}

// RandomInRange returns a pseudo random value in [0, max).
func RandomInRange(max int64) int64 {
	if max <= 0 {
		return 0
	}
	return rand.Int63n(max)
}

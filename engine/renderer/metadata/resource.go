package metadata

type ResourceType int

const (
	ResourceTypeNone ResourceType = iota
	// Compiled shader blob.
	ResourceTypeShader
	// Vertex, index and uniform data.
	ResourceTypeMesh
)

func (t ResourceType) String() string {
	switch t {
	case ResourceTypeShader:
		return "shader"
	case ResourceTypeMesh:
		return "mesh"
	default:
		return "none"
	}
}

// Resource is what every asset loader returns.
type Resource struct {
	Name     string
	FullPath string
	Type     ResourceType
	DataSize uint64
	Data     interface{}
}

// Mesh is the geometry and uniform data consumed by the static resources.
type Mesh struct {
	Name     string    `toml:"name"`
	Vertices []Vertex  `toml:"vertices"`
	Indices  []uint32  `toml:"indices"`
	Uniform  []float32 `toml:"uniform"`
}

// TriangleMesh is the built-in red/green/blue triangle with a uniform of 64 ones.
func TriangleMesh() *Mesh {
	uniform := make([]float32, 64)
	for i := range uniform {
		uniform[i] = 1.0
	}
	return &Mesh{
		Name: "triangle",
		Vertices: []Vertex{
			{Position: [3]float32{1, -1, 0}, Color: [4]float32{1, 0, 0, 1}},
			{Position: [3]float32{-1, -1, 0}, Color: [4]float32{0, 1, 0, 1}},
			{Position: [3]float32{0, 1, 0}, Color: [4]float32{0, 0, 1, 1}},
		},
		Indices: []uint32{0, 1, 2},
		Uniform: uniform,
	}
}

package metadata

import (
	"encoding/binary"
	"fmt"
	gomath "math"

	"github.com/spaghettifunk/framepace/engine/math"
)

type ResourceState uint8

const (
	// Initial state of a freshly created back buffer.
	ResourceStateCommon ResourceState = iota
	ResourceStatePresent
	ResourceStateRenderTarget
)

func (s ResourceState) String() string {
	switch s {
	case ResourceStateCommon:
		return "COMMON"
	case ResourceStatePresent:
		return "PRESENT"
	case ResourceStateRenderTarget:
		return "RENDER_TARGET"
	default:
		return fmt.Sprintf("ResourceState(%d)", uint8(s))
	}
}

type Color struct {
	R, G, B, A float32
}

type Viewport struct {
	X, Y          float32
	Width, Height float32
	MinDepth      float32
	MaxDepth      float32
}

type Rect struct {
	Left, Top, Right, Bottom int32
}

type Format uint8

const (
	FormatUnknown Format = iota
	FormatR8G8B8A8Unorm
	FormatR32G32B32Float
	FormatR32G32B32A32Float
	FormatR32Uint
)

type IndexFormat uint8

const (
	IndexFormatUint32 IndexFormat = iota
)

func (f IndexFormat) Size() uint32 {
	return 4
}

type BufferUsage uint8

const (
	BufferUsageVertex BufferUsage = iota
	BufferUsageIndex
	BufferUsageUniform
)

func (u BufferUsage) String() string {
	switch u {
	case BufferUsageVertex:
		return "vertex"
	case BufferUsageIndex:
		return "index"
	case BufferUsageUniform:
		return "uniform"
	default:
		return fmt.Sprintf("BufferUsage(%d)", uint8(u))
	}
}

// UniformBufferAlignment is the required size granularity of uniform buffers.
const UniformBufferAlignment = 256

type BufferDescription struct {
	Label string
	Usage BufferUsage
	Size  uint64
}

type InputElement struct {
	Semantic string
	Format   Format
	Offset   uint32
}

type PipelineDescription struct {
	Label        string
	VertexShader []byte
	PixelShader  []byte
	InputLayout  []InputElement
	TargetFormat Format
}

type SurfaceDescription struct {
	Width       uint32
	Height      uint32
	BufferCount uint32
	Format      Format
}

// Vertex is a position + colour vertex, 28 bytes when packed.
type Vertex struct {
	Position [3]float32 `toml:"position"`
	Color    [4]float32 `toml:"color"`
}

const VertexStride uint32 = 28

// VertexLayout describes Vertex to pipeline creation.
var VertexLayout = []InputElement{
	{Semantic: "POSITION", Format: FormatR32G32B32Float, Offset: 0},
	{Semantic: "COLOR", Format: FormatR32G32B32A32Float, Offset: 12},
}

// VertexBytes packs vertices little endian, VertexStride bytes each.
func VertexBytes(vertices []Vertex) []byte {
	out := make([]byte, 0, len(vertices)*int(VertexStride))
	for _, v := range vertices {
		for _, f := range v.Position {
			out = binary.LittleEndian.AppendUint32(out, gomath.Float32bits(f))
		}
		for _, f := range v.Color {
			out = binary.LittleEndian.AppendUint32(out, gomath.Float32bits(f))
		}
	}
	return out
}

// DecodeVertex reads the vertex at index from packed bytes, with the position at
// offset 0 and the colour at colorOffset inside each element.
func DecodeVertex(data []byte, index, stride, colorOffset uint32) (Vertex, error) {
	var v Vertex
	offset := uint64(index) * uint64(stride)
	end := offset + uint64(math.Max(colorOffset+16, 12))
	if end > uint64(len(data)) {
		return v, fmt.Errorf("vertex %d out of range (%d bytes)", index, len(data))
	}
	for i := 0; i < 3; i++ {
		v.Position[i] = gomath.Float32frombits(binary.LittleEndian.Uint32(data[offset+uint64(i*4):]))
	}
	for i := 0; i < 4; i++ {
		v.Color[i] = gomath.Float32frombits(binary.LittleEndian.Uint32(data[offset+uint64(colorOffset)+uint64(i*4):]))
	}
	return v, nil
}

func IndexBytes(indices []uint32) []byte {
	out := make([]byte, 0, len(indices)*4)
	for _, i := range indices {
		out = binary.LittleEndian.AppendUint32(out, i)
	}
	return out
}

func Float32Bytes(values []float32) []byte {
	out := make([]byte, 0, len(values)*4)
	for _, f := range values {
		out = binary.LittleEndian.AppendUint32(out, gomath.Float32bits(f))
	}
	return out
}

package renderer

import (
	"errors"
	"fmt"

	"github.com/spaghettifunk/framepace/engine/core"
	"github.com/spaghettifunk/framepace/engine/math"
	"github.com/spaghettifunk/framepace/engine/renderer/metadata"
)

// UniformFloatCount is the size of the default uniform block in float32s.
const UniformFloatCount = 64

// StaticResources holds the vertex, index and uniform buffers. They are written
// once through host visible memory and live until Destroy.
type StaticResources struct {
	device metadata.Device

	Vertex     metadata.Buffer
	Index      metadata.Buffer
	Uniform    metadata.Buffer
	IndexCount uint32
}

func NewStaticResources(device metadata.Device) *StaticResources {
	return &StaticResources{device: device}
}

// UploadOnce creates a buffer sized for data and copies data into it. Uniform
// buffers are rounded up to metadata.UniformBufferAlignment.
func (sr *StaticResources) UploadOnce(label string, usage metadata.BufferUsage, data []byte) (metadata.Buffer, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%s: nothing to upload: %w", label, core.ErrGraphicsDevice)
	}
	size := uint64(len(data))
	if usage == metadata.BufferUsageUniform {
		size = math.AlignUp(size, uint64(metadata.UniformBufferAlignment))
	}
	buffer, err := sr.device.CreateBuffer(metadata.BufferDescription{
		Label: label,
		Usage: usage,
		Size:  size,
	})
	if err != nil {
		core.LogError("failed to create %s buffer '%s': %s", usage, label, err)
		return nil, deviceError("create buffer", err)
	}
	if err := buffer.Write(0, data); err != nil {
		_ = buffer.Destroy()
		core.LogError("failed to upload %d bytes to '%s': %s", len(data), label, err)
		return nil, deviceError("upload", err)
	}
	core.LogDebug("Uploaded %d bytes to %s buffer '%s' at 0x%x.", len(data), usage, label, buffer.Address())
	return buffer, nil
}

// UploadMesh replaces every buffer with the mesh contents. The caller makes sure the
// GPU no longer reads the old buffers.
func (sr *StaticResources) UploadMesh(mesh *metadata.Mesh) error {
	if err := ValidateMesh(mesh); err != nil {
		return err
	}
	uniform := mesh.Uniform
	if len(uniform) == 0 {
		uniform = defaultUniform()
	}

	vertex, err := sr.UploadOnce(mesh.Name+"-vertices", metadata.BufferUsageVertex, metadata.VertexBytes(mesh.Vertices))
	if err != nil {
		return err
	}
	index, err := sr.UploadOnce(mesh.Name+"-indices", metadata.BufferUsageIndex, metadata.IndexBytes(mesh.Indices))
	if err != nil {
		_ = vertex.Destroy()
		return err
	}
	constants, err := sr.UploadOnce(mesh.Name+"-uniform", metadata.BufferUsageUniform, metadata.Float32Bytes(uniform))
	if err != nil {
		_ = vertex.Destroy()
		_ = index.Destroy()
		return err
	}

	if err := sr.Destroy(); err != nil {
		return err
	}
	sr.Vertex = vertex
	sr.Index = index
	sr.Uniform = constants
	sr.IndexCount = uint32(len(mesh.Indices))
	return nil
}

// UpdateUniform drains the GPU and then rewrites the uniform buffer in place.
func (sr *StaticResources) UpdateUniform(fence *FrameFence, values []float32) error {
	if sr.Uniform == nil {
		return fmt.Errorf("no uniform buffer to update: %w", core.ErrGraphicsDevice)
	}
	data := metadata.Float32Bytes(values)
	if uint64(len(data)) > sr.Uniform.Size() {
		return fmt.Errorf("uniform update of %d bytes exceeds %d: %w", len(data), sr.Uniform.Size(), core.ErrGraphicsDevice)
	}
	if err := fence.DrainAll(); err != nil {
		return err
	}
	if err := sr.Uniform.Write(0, data); err != nil {
		core.LogError("failed to update the uniform buffer: %s", err)
		return deviceError("update uniform", err)
	}
	return nil
}

// Drawable reports whether a mesh is bound.
func (sr *StaticResources) Drawable() bool {
	return sr.Vertex != nil && sr.Index != nil && sr.IndexCount > 0
}

func (sr *StaticResources) Destroy() error {
	var errs []error
	for _, b := range []*metadata.Buffer{&sr.Vertex, &sr.Index, &sr.Uniform} {
		if *b != nil {
			errs = append(errs, (*b).Destroy())
			*b = nil
		}
	}
	sr.IndexCount = 0
	return errors.Join(errs...)
}

// ValidateMesh checks that the mesh is a non-empty triangle list with in-range indices.
func ValidateMesh(mesh *metadata.Mesh) error {
	if mesh == nil || len(mesh.Vertices) == 0 || len(mesh.Indices) == 0 {
		return fmt.Errorf("mesh has no geometry: %w", core.ErrGraphicsDevice)
	}
	if len(mesh.Indices)%3 != 0 {
		return fmt.Errorf("mesh '%s': %d indices is not a triangle list: %w", mesh.Name, len(mesh.Indices), core.ErrGraphicsDevice)
	}
	for _, i := range mesh.Indices {
		if int(i) >= len(mesh.Vertices) {
			return fmt.Errorf("mesh '%s': index %d out of %d vertices: %w", mesh.Name, i, len(mesh.Vertices), core.ErrGraphicsDevice)
		}
	}
	if len(mesh.Uniform) > UniformFloatCount {
		return fmt.Errorf("mesh '%s': uniform block holds at most %d floats: %w", mesh.Name, UniformFloatCount, core.ErrGraphicsDevice)
	}
	return nil
}

func defaultUniform() []float32 {
	values := make([]float32, UniformFloatCount)
	for i := range values {
		values[i] = 1.0
	}
	return values
}

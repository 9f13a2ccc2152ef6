package loaders

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"

	"github.com/spaghettifunk/framepace/engine/renderer/metadata"
)

// MeshLoader reads meshes written as TOML:
//
//	name = "triangle"
//	indices = [0, 1, 2]
//	uniform = [1.0, 1.0, 1.0, 1.0]
//
//	[[vertices]]
//	position = [1.0, -1.0, 0.0]
//	color = [1.0, 0.0, 0.0, 1.0]
type MeshLoader struct{}

func (ml *MeshLoader) Load(path string, assetType metadata.ResourceType, params interface{}) (*metadata.Resource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	mesh := &metadata.Mesh{}
	decoder := toml.NewDecoder(f)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(mesh); err != nil {
		return nil, fmt.Errorf("failed to decode mesh '%s': %w", path, err)
	}
	if len(mesh.Vertices) == 0 || len(mesh.Indices) == 0 {
		return nil, fmt.Errorf("mesh '%s' has no geometry", path)
	}
	if mesh.Name == "" {
		mesh.Name = resourceName(path)
	}

	size := len(mesh.Vertices)*int(metadata.VertexStride) + len(mesh.Indices)*4 + len(mesh.Uniform)*4
	return &metadata.Resource{
		Name:     mesh.Name,
		FullPath: path,
		Type:     metadata.ResourceTypeMesh,
		DataSize: uint64(size),
		Data:     mesh,
	}, nil
}

func (ml *MeshLoader) Unload(res *metadata.Resource) error {
	res.Data = nil
	res.DataSize = 0
	return nil
}

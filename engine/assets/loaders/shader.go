package loaders

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spaghettifunk/framepace/engine/renderer/metadata"
)

// SPIRVMagic is the first word of every SPIR-V module.
const SPIRVMagic uint32 = 0x07230203

type ShaderLoader struct{}

// Load reads a compiled shader blob. Blobs ending in .spv must be SPIR-V.
func (sl *ShaderLoader) Load(path string, assetType metadata.ResourceType, params interface{}) (*metadata.Resource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("shader '%s' is empty", path)
	}
	if filepath.Ext(path) == ".spv" {
		if len(data)%4 != 0 {
			return nil, fmt.Errorf("shader '%s' is not a whole number of SPIR-V words (%d bytes)", path, len(data))
		}
		if magic := binary.LittleEndian.Uint32(data); magic != SPIRVMagic {
			return nil, fmt.Errorf("shader '%s' has magic 0x%08x, want 0x%08x", path, magic, SPIRVMagic)
		}
	}
	return &metadata.Resource{
		Name:     resourceName(path),
		FullPath: path,
		Type:     metadata.ResourceTypeShader,
		DataSize: uint64(len(data)),
		Data:     data,
	}, nil
}

func (sl *ShaderLoader) Unload(res *metadata.Resource) error {
	res.Data = nil
	res.DataSize = 0
	return nil
}

func resourceName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

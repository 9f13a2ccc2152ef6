package assets

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/framepace/engine/assets/loaders"
	"github.com/spaghettifunk/framepace/engine/core"
	"github.com/spaghettifunk/framepace/engine/renderer/metadata"
)

const triangleMesh = `
name = "triangle"
indices = [0, 1, 2]

[[vertices]]
position = [1.0, -1.0, 0.0]
color = [1.0, 0.0, 0.0, 1.0]

[[vertices]]
position = [-1.0, -1.0, 0.0]
color = [0.0, 1.0, 0.0, 1.0]

[[vertices]]
position = [0.0, 1.0, 0.0]
color = [0.0, 0.0, 1.0, 1.0]
`

func spirv(words ...uint32) []byte {
	out := binary.LittleEndian.AppendUint32(nil, loaders.SPIRVMagic)
	for _, w := range words {
		out = binary.LittleEndian.AppendUint32(out, w)
	}
	return out
}

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, data, 0o644))
}

func newTestAssets(t *testing.T) (*AssetManager, string) {
	t.Helper()
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "shaders", "vert.spv"), spirv(0x00010000, 1))
	writeFile(t, filepath.Join(dir, "shaders", "frag.spv"), spirv(0x00010000, 2))
	writeFile(t, filepath.Join(dir, "meshes", "triangle.toml"), []byte(triangleMesh))
	writeFile(t, filepath.Join(dir, "README.txt"), []byte("not an asset"))

	am, err := NewAssetManager()
	require.NoError(t, err)
	require.NoError(t, am.Initialize(dir))
	t.Cleanup(func() {
		_ = am.Shutdown()
	})
	return am, dir
}

func TestIndexesKnownAssets(t *testing.T) {
	am, _ := newTestAssets(t)

	assert.Equal(t, 3, am.Count())
	info, ok := am.Lookup("shaders/vert.spv")
	require.True(t, ok)
	assert.Equal(t, metadata.ResourceTypeShader, info.Type)
	info, ok = am.Lookup("meshes/triangle.toml")
	require.True(t, ok)
	assert.Equal(t, metadata.ResourceTypeMesh, info.Type)
	_, ok = am.Lookup("README.txt")
	assert.False(t, ok)
}

func TestLoadShaderAndMesh(t *testing.T) {
	am, _ := newTestAssets(t)

	vert, err := am.LoadShader("shaders/vert.spv")
	require.NoError(t, err)
	assert.Equal(t, spirv(0x00010000, 1), vert)

	mesh, err := am.LoadMesh("meshes/triangle.toml")
	require.NoError(t, err)
	assert.Equal(t, metadata.TriangleMesh().Vertices, mesh.Vertices)
	assert.Equal(t, []uint32{0, 1, 2}, mesh.Indices)
	assert.Empty(t, mesh.Uniform)

	_, err = am.LoadShader("meshes/triangle.toml")
	assert.Error(t, err)
	_, err = am.LoadMesh("meshes/missing.toml")
	assert.Error(t, err)

	info, ok := am.Lookup("meshes/triangle.toml")
	require.True(t, ok)
	assert.False(t, info.LastLoaded.IsZero())
}

func TestShaderLoaderRejectsBadBlobs(t *testing.T) {
	dir := t.TempDir()
	loader := &loaders.ShaderLoader{}

	bad := filepath.Join(dir, "bad.spv")
	writeFile(t, bad, []byte{0xde, 0xad, 0xbe, 0xef})
	_, err := loader.Load(bad, metadata.ResourceTypeShader, nil)
	assert.Error(t, err)

	odd := filepath.Join(dir, "odd.spv")
	writeFile(t, odd, append(spirv(), 0x01))
	_, err = loader.Load(odd, metadata.ResourceTypeShader, nil)
	assert.Error(t, err)

	// Non SPIR-V blobs are opaque.
	cso := filepath.Join(dir, "pixel.cso")
	writeFile(t, cso, []byte{0x44, 0x58, 0x42, 0x43})
	res, err := loader.Load(cso, metadata.ResourceTypeShader, nil)
	require.NoError(t, err)
	assert.Equal(t, "pixel", res.Name)
	assert.Equal(t, uint64(4), res.DataSize)
	require.NoError(t, loader.Unload(res))
	assert.Nil(t, res.Data)
}

func TestMeshLoaderRejectsUnknownFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "quad.toml")
	writeFile(t, path, []byte("indices = [0]\ntexture = \"wood.png\"\n"))

	_, err := (&loaders.MeshLoader{}).Load(path, metadata.ResourceTypeMesh, nil)
	assert.Error(t, err)

	empty := filepath.Join(dir, "empty.toml")
	writeFile(t, empty, []byte("name = \"nothing\"\n"))
	_, err = (&loaders.MeshLoader{}).Load(empty, metadata.ResourceTypeMesh, nil)
	assert.Error(t, err)
}

func TestRewriteFiresReloadEvent(t *testing.T) {
	require.True(t, core.EventSystemInitialize())
	t.Cleanup(func() {
		_ = core.EventSystemShutdown()
	})
	reloaded := make(map[string]bool)
	core.EventRegister(core.EVENT_CODE_ASSET_RELOADED, func(ctx core.EventContext) {
		if e, ok := ctx.Data.(*core.AssetEvent); ok {
			reloaded[e.Path] = true
		}
	})

	am, dir := newTestAssets(t)
	writeFile(t, filepath.Join(dir, "shaders", "frag.spv"), spirv(0x00010000, 3))
	writeFile(t, filepath.Join(dir, "notes.md"), []byte("ignored"))

	assert.Eventually(t, func() bool {
		core.EventDispatch()
		return reloaded["shaders/frag.spv"]
	}, 2*time.Second, 10*time.Millisecond)
	assert.False(t, reloaded["notes.md"])

	frag, err := am.LoadShader("shaders/frag.spv")
	require.NoError(t, err)
	assert.Equal(t, spirv(0x00010000, 3), frag)
}

func TestNewDirectoriesAreWatched(t *testing.T) {
	am, dir := newTestAssets(t)

	require.NoError(t, os.MkdirAll(filepath.Join(dir, "extra"), 0o755))
	// Give the watcher a moment to add the new directory before writing into it.
	assert.Eventually(t, func() bool {
		_ = os.WriteFile(filepath.Join(dir, "extra", "pixel.spv"), spirv(7), 0o644)
		_, ok := am.Lookup("extra/pixel.spv")
		return ok
	}, 2*time.Second, 20*time.Millisecond)
}

func TestShutdownAfterFailedInitialize(t *testing.T) {
	am, err := NewAssetManager()
	require.NoError(t, err)
	require.Error(t, am.Initialize(filepath.Join(t.TempDir(), "missing")))

	done := make(chan error, 1)
	go func() { done <- am.Shutdown() }()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Shutdown blocked after a failed Initialize")
	}
	assert.NoError(t, am.Shutdown())
}

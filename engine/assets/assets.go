package assets

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/spaghettifunk/framepace/engine/assets/loaders"
	"github.com/spaghettifunk/framepace/engine/core"
	"github.com/spaghettifunk/framepace/engine/renderer/metadata"
)

type AssetInfo struct {
	Path       string
	Type       metadata.ResourceType
	LastLoaded time.Time
	LastChange time.Time
}

// AssetManager indexes the assets directory, loads shader blobs and meshes, and
// fires core.EVENT_CODE_ASSET_RELOADED whenever a known asset is rewritten.
type AssetManager struct {
	root    string
	assets  map[string]AssetInfo
	loaders map[metadata.ResourceType]Loader

	mutex sync.RWMutex

	done     chan struct{}
	stopped  chan struct{}
	fsnotify *fsnotify.Watcher
	isClosed bool
	started  bool
}

func NewAssetManager() (*AssetManager, error) {
	fsWatch, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &AssetManager{
		assets:   make(map[string]AssetInfo),
		loaders:  make(map[metadata.ResourceType]Loader),
		fsnotify: fsWatch,
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}, nil
}

func (am *AssetManager) Initialize(assetsDir string) error {
	root, err := filepath.Abs(assetsDir)
	if err != nil {
		return err
	}
	// Register loaders
	am.registerLoader(metadata.ResourceTypeShader, &loaders.ShaderLoader{})
	am.registerLoader(metadata.ResourceTypeMesh, &loaders.MeshLoader{})

	am.root = root
	if err := am.addRecursive(root); err != nil {
		am.root = ""
		return fmt.Errorf("failed to watch assets directory '%s': %w", root, err)
	}
	am.started = true
	go am.start()

	core.LogInfo("Asset manager watching '%s' (%d assets).", root, am.Count())
	return nil
}

func (am *AssetManager) Shutdown() error {
	if am.isClosed {
		return nil
	}
	am.isClosed = true
	close(am.done)
	if am.started {
		<-am.stopped
		return nil
	}
	// The watcher goroutine never ran.
	return am.fsnotify.Close()
}

// AddRecursive starts watching the named directory and all sub-directories.
func (am *AssetManager) addRecursive(name string) error {
	if am.isClosed {
		return errors.New("asset watcher already closed")
	}
	return am.watchRecursive(name)
}

// Register loaders for each asset type
func (am *AssetManager) registerLoader(assetType metadata.ResourceType, loader Loader) {
	am.loaders[assetType] = loader
}

// LoadAsset loads the asset at name, relative to the assets directory.
func (am *AssetManager) LoadAsset(name string, params interface{}) (*metadata.Resource, error) {
	path := am.key(name)

	am.mutex.Lock()
	asset, exists := am.assets[path]
	if !exists {
		am.mutex.Unlock()
		return nil, fmt.Errorf("asset not found: %s", path)
	}
	asset.LastLoaded = time.Now()
	am.assets[path] = asset
	am.mutex.Unlock()

	loader, loaderExists := am.loaders[asset.Type]
	if !loaderExists {
		return nil, fmt.Errorf("no loader registered for asset type: %s", asset.Type)
	}
	res, err := loader.Load(filepath.Join(am.root, path), asset.Type, params)
	if err != nil {
		core.LogError("failed to load asset '%s': %s", path, err)
		return nil, err
	}
	return res, nil
}

// LoadShader returns the blob of a compiled shader.
func (am *AssetManager) LoadShader(name string) ([]byte, error) {
	res, err := am.LoadAsset(name, nil)
	if err != nil {
		return nil, err
	}
	data, ok := res.Data.([]byte)
	if !ok || res.Type != metadata.ResourceTypeShader {
		return nil, fmt.Errorf("asset '%s' is a %s, not a shader", name, res.Type)
	}
	return data, nil
}

func (am *AssetManager) LoadMesh(name string) (*metadata.Mesh, error) {
	res, err := am.LoadAsset(name, nil)
	if err != nil {
		return nil, err
	}
	mesh, ok := res.Data.(*metadata.Mesh)
	if !ok || res.Type != metadata.ResourceTypeMesh {
		return nil, fmt.Errorf("asset '%s' is a %s, not a mesh", name, res.Type)
	}
	return mesh, nil
}

func (am *AssetManager) UnloadAsset(asset *metadata.Resource) error {
	loader, ok := am.loaders[asset.Type]
	if !ok {
		return nil
	}
	return loader.Unload(asset)
}

// Lookup returns the index entry for name, relative to the assets directory.
func (am *AssetManager) Lookup(name string) (AssetInfo, bool) {
	am.mutex.RLock()
	defer am.mutex.RUnlock()
	info, ok := am.assets[am.key(name)]
	return info, ok
}

func (am *AssetManager) Count() int {
	am.mutex.RLock()
	defer am.mutex.RUnlock()
	return len(am.assets)
}

func (am *AssetManager) start() {
	defer close(am.stopped)
	for {
		select {
		case e, ok := <-am.fsnotify.Events:
			if !ok {
				return
			}
			am.handleEvent(e)

		case err, ok := <-am.fsnotify.Errors:
			if !ok {
				return
			}
			core.LogError("asset watcher: %s", err)

		case <-am.done:
			am.fsnotify.Close()
			return
		}
	}
}

func (am *AssetManager) handleEvent(e fsnotify.Event) {
	s, err := os.Stat(e.Name)
	if err == nil && s.IsDir() {
		if e.Op&fsnotify.Create != 0 {
			if err := am.watchRecursive(e.Name); err != nil {
				core.LogWarn("failed to watch '%s': %s", e.Name, err)
			}
		}
		return
	}
	// Handle create or modify events
	if e.Op&(fsnotify.Create|fsnotify.Write) != 0 {
		if path, changed := am.handleFileEvent(e.Name); changed {
			core.LogDebug("Asset '%s' changed on disk.", path)
			core.EventFire(core.EventContext{
				Type: core.EVENT_CODE_ASSET_RELOADED,
				Data: &core.AssetEvent{Path: path},
			})
		}
	}
	// A removed directory cannot be stat'ed; Remove on a plain file is a no-op.
	if e.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
		am.removeAsset(e.Name)
		_ = am.fsnotify.Remove(e.Name)
	}
}

// watchRecursive adds all directories under the given one to the watch list and
// indexes every file it finds.
func (am *AssetManager) watchRecursive(path string) error {
	return filepath.Walk(path, func(walkPath string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if fi.IsDir() {
			return am.fsnotify.Add(walkPath)
		}
		am.handleFileEvent(walkPath)
		return nil
	})
}

// handleFileEvent indexes a created or modified file and reports its key and
// whether it is a known asset type.
func (am *AssetManager) handleFileEvent(fullPath string) (string, bool) {
	assetType := determineAssetType(fullPath)
	if assetType == metadata.ResourceTypeNone {
		return "", false
	}
	path := am.key(fullPath)

	am.mutex.Lock()
	defer am.mutex.Unlock()
	info := am.assets[path]
	info.Path = path
	info.Type = assetType
	info.LastChange = time.Now()
	am.assets[path] = info
	return path, true
}

// Remove the asset from the index if it was deleted
func (am *AssetManager) removeAsset(fullPath string) {
	am.mutex.Lock()
	defer am.mutex.Unlock()

	delete(am.assets, am.key(fullPath))
}

// key is the slash separated path of name relative to the assets directory.
func (am *AssetManager) key(name string) string {
	if filepath.IsAbs(name) {
		if rel, err := filepath.Rel(am.root, name); err == nil {
			name = rel
		}
	}
	return filepath.ToSlash(filepath.Clean(name))
}

func determineAssetType(path string) metadata.ResourceType {
	switch filepath.Ext(path) {
	case ".spv", ".cso", ".dxil":
		return metadata.ResourceTypeShader
	case ".toml":
		return metadata.ResourceTypeMesh
	default:
		return metadata.ResourceTypeNone
	}
}

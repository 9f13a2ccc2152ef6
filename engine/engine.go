package engine

import (
	"errors"
	"fmt"
	"image/png"
	"os"
	"path/filepath"
	"time"

	"github.com/spaghettifunk/framepace/engine/assets"
	"github.com/spaghettifunk/framepace/engine/core"
	"github.com/spaghettifunk/framepace/engine/platform"
	"github.com/spaghettifunk/framepace/engine/renderer"
	"github.com/spaghettifunk/framepace/engine/renderer/metadata"
	"github.com/spaghettifunk/framepace/engine/renderer/software"
	"github.com/spaghettifunk/framepace/engine/renderer/vulkan"
)

type Stage uint8

const (
	// Engine is in an uninitialized state
	EngineStageUninitialized Stage = iota
	// Engine is currently booting up
	EngineStageBooting
	// Engine completed boot process and is ready to be initialized
	EngineStageBootComplete
	// Engine is currently initializing
	EngineStageInitializing
	// Engine initialization is complete
	EngineStageInitialized
	// Engine is currently running
	EngineStageRunning
	// Engine is in the process of shutting down
	EngineStageShuttingDown
)

func (s Stage) String() string {
	switch s {
	case EngineStageUninitialized:
		return "uninitialized"
	case EngineStageBooting:
		return "booting"
	case EngineStageBootComplete:
		return "boot complete"
	case EngineStageInitializing:
		return "initializing"
	case EngineStageInitialized:
		return "initialized"
	case EngineStageRunning:
		return "running"
	case EngineStageShuttingDown:
		return "shutting down"
	default:
		return fmt.Sprintf("Stage(%d)", uint8(s))
	}
}

// suspendedPoll is how long a minimised window sleeps between event pumps.
const suspendedPoll = 100 * time.Millisecond

type Engine struct {
	currentStage Stage
	gameInstance *Game
	config       *ApplicationConfig
	isRunning    bool
	isSuspended  bool
	// platform is nil for the headless software backend.
	platform     *platform.Platform
	assetManager *assets.AssetManager
	renderer     *renderer.Renderer
	width        uint32
	height       uint32
	clock        *core.Clock
	lastTime     time.Duration
	frameCount   uint64
	lastReport   time.Duration
}

func New(g *Game) (*Engine, error) {
	if g == nil || g.ApplicationConfig == nil {
		return nil, fmt.Errorf("game has no application config: %w", core.ErrInitialization)
	}
	if err := g.ApplicationConfig.Validate(); err != nil {
		core.LogError(err.Error())
		return nil, err
	}
	level, _ := core.ParseLogLevel(g.ApplicationConfig.LogLevel)
	core.SetLogLevel(level)

	am, err := assets.NewAssetManager()
	if err != nil {
		core.LogError(err.Error())
		return nil, err
	}

	e := &Engine{
		currentStage: EngineStageUninitialized,
		gameInstance: g,
		config:       g.ApplicationConfig,
		clock:        core.NewClock(),
		assetManager: am,
		isRunning:    true,
		isSuspended:  false,
		width:        g.ApplicationConfig.Window.Width,
		height:       g.ApplicationConfig.Window.Height,
	}
	if e.config.Backend == BackendVulkan {
		e.platform = platform.New()
	}
	e.renderer = renderer.New(e.config.Renderer, e.deviceFactory())
	g.Renderer = e.renderer
	return e, nil
}

// deviceFactory returns the constructor for the configured backend.
func (e *Engine) deviceFactory() renderer.DeviceFactory {
	if e.config.Backend == BackendSoftware {
		return func(options metadata.DeviceOptions) (metadata.Device, error) {
			return software.New(software.Options{DeviceOptions: options}), nil
		}
	}
	return func(options metadata.DeviceOptions) (metadata.Device, error) {
		d, err := vulkan.New(e.config.Name, options, e.platform)
		if err != nil {
			return nil, err
		}
		return d, nil
	}
}

func (e *Engine) Initialize() error {
	e.currentStage = EngineStageBooting
	if e.gameInstance.FnBoot != nil {
		if err := e.gameInstance.FnBoot(); err != nil {
			return err
		}
	}
	e.currentStage = EngineStageBootComplete

	e.currentStage = EngineStageInitializing
	// initialize events
	if !core.EventSystemInitialize() {
		return fmt.Errorf("failed to initialize the event system: %w", core.ErrInitialization)
	}

	// register some events
	core.EventRegister(core.EVENT_CODE_APPLICATION_QUIT, e.onEvent)
	core.EventRegister(core.EVENT_CODE_KEY_PRESSED, e.onKey)
	core.EventRegister(core.EVENT_CODE_RESIZED, e.onResized)
	core.EventRegister(core.EVENT_CODE_ASSET_RELOADED, e.onAssetReloaded)

	if e.platform != nil {
		if err := e.platform.Startup(e.config.Name,
			e.config.Window.X,
			e.config.Window.Y,
			e.config.Window.Width,
			e.config.Window.Height); err != nil {
			return err
		}
		// The framebuffer can differ from the window size on high density displays.
		e.width, e.height = e.platform.FramebufferSize()
	}

	// initialize subsystems
	assetsDir := e.config.AssetsDir
	if !filepath.IsAbs(assetsDir) {
		wd, err := os.Getwd()
		if err != nil {
			return err
		}
		assetsDir = filepath.Join(wd, assetsDir)
	}
	if err := e.assetManager.Initialize(assetsDir); err != nil {
		return err
	}

	shaders, err := e.loadShaders()
	if err != nil {
		return err
	}
	mesh, err := e.loadMesh()
	if err != nil {
		return err
	}
	if err := e.renderer.Initialize(e.width, e.height, shaders, mesh); err != nil {
		return err
	}

	if e.gameInstance.FnInitialize != nil {
		if err := e.gameInstance.FnInitialize(); err != nil {
			return err
		}
	}
	if e.gameInstance.FnOnResize != nil {
		if err := e.gameInstance.FnOnResize(e.width, e.height); err != nil {
			return err
		}
	}
	e.currentStage = EngineStageInitialized
	return nil
}

func (e *Engine) loadShaders() (renderer.ShaderSet, error) {
	vertex, err := e.assetManager.LoadShader(e.config.Renderer.VertexShader)
	if err != nil {
		return renderer.ShaderSet{}, err
	}
	pixel, err := e.assetManager.LoadShader(e.config.Renderer.PixelShader)
	if err != nil {
		return renderer.ShaderSet{}, err
	}
	return renderer.ShaderSet{Vertex: vertex, Pixel: pixel}, nil
}

// loadMesh returns nil when no mesh is configured, which renders clear-only frames.
func (e *Engine) loadMesh() (*metadata.Mesh, error) {
	if e.config.Renderer.Mesh == "" {
		return nil, nil
	}
	return e.assetManager.LoadMesh(e.config.Renderer.Mesh)
}

func (e *Engine) Run() error {
	if e.currentStage != EngineStageInitialized {
		return fmt.Errorf("run requested in stage '%s': %w", e.currentStage, core.ErrInitialization)
	}
	e.currentStage = EngineStageRunning

	e.clock.Start()
	e.clock.Update()
	e.lastTime = e.clock.Elapsed()

	for e.isRunning {
		if e.platform != nil && !e.platform.PumpMessages() {
			e.isRunning = false
			break
		}
		core.EventDispatch()
		if !e.isRunning {
			break
		}

		if e.isSuspended {
			time.Sleep(suspendedPoll)
			continue
		}

		// Update clock and get delta time.
		e.clock.Update()
		currentTime := e.clock.Elapsed()
		delta := (currentTime - e.lastTime).Seconds()

		if e.gameInstance.FnUpdate != nil {
			if err := e.gameInstance.FnUpdate(delta); err != nil {
				core.LogError("Game update failed, shutting down: %s", err)
				e.isRunning = false
				return err
			}
		}

		if err := e.renderer.Render(); err != nil {
			core.LogError("Frame %d failed, shutting down: %s", e.renderer.FrameNumber(), err)
			e.isRunning = false
			return err
		}
		e.frameCount++

		if currentTime-e.lastReport >= time.Second {
			fps, frameTime := e.renderer.Metrics().Frame()
			stalls, stallTime := e.renderer.Metrics().Stalls()
			core.LogDebug("%.0f fps, %.3f ms/frame, %d fence stalls (%s)", fps, frameTime, stalls, stallTime)
			e.lastReport = currentTime
		}

		if e.config.MaxFrames > 0 && e.frameCount >= e.config.MaxFrames {
			core.LogInfo("Rendered %d frames, stopping.", e.frameCount)
			e.isRunning = false
		}

		// Update last time
		e.lastTime = currentTime
	}

	return nil
}

// Stop asks the run loop to exit. It is safe to call from any goroutine.
func (e *Engine) Stop() {
	if !core.EventFire(core.EventContext{Type: core.EVENT_CODE_APPLICATION_QUIT}) {
		core.LogWarn("quit request dropped, the event system is not running")
	}
}

// Shutdown drains the GPU through the renderer before tearing anything down.
func (e *Engine) Shutdown() error {
	e.currentStage = EngineStageShuttingDown
	var errs []error

	if e.config.CapturePath != "" {
		if err := e.capture(e.config.CapturePath); err != nil {
			core.LogError("failed to capture the last frame: %s", err)
			errs = append(errs, err)
		}
	}
	if err := e.renderer.Shutdown(); err != nil {
		errs = append(errs, err)
	}
	if e.gameInstance.FnShutdown != nil {
		if err := e.gameInstance.FnShutdown(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := e.assetManager.Shutdown(); err != nil {
		errs = append(errs, err)
	}
	if e.platform != nil {
		if err := e.platform.Shutdown(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := core.EventSystemShutdown(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// capture writes the last presented frame, stretched to the window size, as PNG.
func (e *Engine) capture(path string) error {
	if e.renderer.Fence() == nil {
		return fmt.Errorf("nothing was rendered: %w", core.ErrPresent)
	}
	// Presents execute on the queue; draining makes the last one visible.
	if err := e.renderer.Fence().DrainAll(); err != nil {
		return err
	}
	surface, ok := e.renderer.Surface().(*software.Surface)
	if !ok {
		return fmt.Errorf("the %s backend cannot capture frames: %w", e.config.Backend, core.ErrPresent)
	}
	img, ok := surface.Snapshot(e.width, e.height)
	if !ok {
		return fmt.Errorf("no frame was presented: %w", core.ErrPresent)
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return err
	}
	core.LogInfo("Captured frame %d to '%s'.", e.renderer.FrameNumber(), path)
	return f.Close()
}

// GetFramebufferSize returns the width and height (in this order)
// of the application Framebuffer
func (e *Engine) GetFramebufferSize() (uint32, uint32) {
	return e.width, e.height
}

func (e *Engine) Stage() Stage {
	return e.currentStage
}

func (e *Engine) FrameCount() uint64 {
	return e.frameCount
}

func (e *Engine) onEvent(context core.EventContext) {
	switch context.Type {
	case core.EVENT_CODE_APPLICATION_QUIT:
		core.LogInfo("EVENT_CODE_APPLICATION_QUIT received, shutting down.")
		e.isRunning = false
	}
}

func (e *Engine) onKey(context core.EventContext) {
	ke, ok := context.Data.(*core.KeyEvent)
	if !ok {
		core.LogError("wrong event associated with the event type `%d`", context.Type)
		return
	}

	switch ke.KeyCode {
	case core.KEY_ESCAPE:
		// NOTE: Technically firing an event to itself, but there may be other listeners.
		core.EventFire(core.EventContext{Type: core.EVENT_CODE_APPLICATION_QUIT})
	case core.KEY_R:
		core.LogInfo("Reloading shaders and mesh.")
		e.reloadShaders()
		e.reloadMesh()
	}
}

func (e *Engine) onResized(context core.EventContext) {
	se, ok := context.Data.(*core.SystemEvent)
	if !ok {
		core.LogError("wrong event associated with the event type `%d`", context.Type)
		return
	}

	width := se.WindowWidth
	height := se.WindowHeight
	if width == e.width && height == e.height {
		return
	}
	e.width = width
	e.height = height
	core.LogDebug("Window resize: %d, %d", width, height)

	// Handle minimization
	if width == 0 || height == 0 {
		core.LogInfo("Window minimized, suspending application.")
		e.isSuspended = true
		return
	}
	if e.isSuspended {
		core.LogInfo("Window restored, resuming application.")
		e.isSuspended = false
	}
	if err := e.renderer.Resize(width, height); err != nil {
		core.LogError("resize to %dx%d failed, shutting down: %s", width, height, err)
		e.isRunning = false
		return
	}
	if e.gameInstance.FnOnResize != nil {
		if err := e.gameInstance.FnOnResize(width, height); err != nil {
			core.LogError(err.Error())
		}
	}
}

// onAssetReloaded rebuilds whatever the changed file feeds. Failures keep the
// previous pipeline or mesh.
func (e *Engine) onAssetReloaded(context core.EventContext) {
	ae, ok := context.Data.(*core.AssetEvent)
	if !ok {
		core.LogError("wrong event associated with the event type `%d`", context.Type)
		return
	}
	switch ae.Path {
	case assetKey(e.config.Renderer.VertexShader), assetKey(e.config.Renderer.PixelShader):
		e.reloadShaders()
	case assetKey(e.config.Renderer.Mesh):
		e.reloadMesh()
	}
}

func (e *Engine) reloadShaders() {
	shaders, err := e.loadShaders()
	if err != nil {
		core.LogError("failed to load shaders: %s", err)
		return
	}
	if err := e.renderer.ReloadPipeline(shaders); err != nil {
		core.LogError("failed to reload the pipeline: %s", err)
	}
}

func (e *Engine) reloadMesh() {
	mesh, err := e.loadMesh()
	if err != nil {
		core.LogError("failed to load mesh: %s", err)
		return
	}
	if mesh == nil {
		return
	}
	if err := e.renderer.ReloadMesh(mesh); err != nil {
		core.LogError("failed to reload the mesh: %s", err)
	}
}

func assetKey(name string) string {
	if name == "" {
		return ""
	}
	return filepath.ToSlash(filepath.Clean(name))
}

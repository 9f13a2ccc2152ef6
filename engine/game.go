package engine

import "github.com/spaghettifunk/framepace/engine/renderer"

type Game struct {
	ApplicationConfig *ApplicationConfig
	// Renderer is set by the engine before FnInitialize runs.
	Renderer     *renderer.Renderer
	State        interface{}
	FnBoot       Boot
	FnInitialize Initialize
	FnUpdate     Update
	FnOnResize   OnResize
	FnShutdown   Shutdown
}

type Boot func() error
type Initialize func() error
type Update func(deltaTime float64) error
type OnResize func(width uint32, height uint32) error
type Shutdown func() error

package testbed

import (
	"github.com/spaghettifunk/framepace/engine"
	"github.com/spaghettifunk/framepace/engine/core"
	"github.com/spaghettifunk/framepace/engine/math"
)

type TestGame struct {
	*engine.Game
}

type gameState struct {
	width  uint32
	height uint32

	elapsed float64
	tint    int
}

// tints are cycled with the space bar. The pixel shader multiplies the vertex
// colour by the first vec4 of the uniform block.
var tints = []math.Vec4{
	math.NewVec4One(),
	math.NewVec4(1.0, 0.5, 0.5, 1.0),
	math.NewVec4(0.5, 1.0, 0.5, 1.0),
	math.NewVec4(0.5, 0.5, 1.0, 1.0),
}

func NewTestGame(config *engine.ApplicationConfig) *TestGame {
	tg := &TestGame{
		Game: &engine.Game{
			ApplicationConfig: config,
			State:             &gameState{},
		},
	}

	tg.FnBoot = tg.Boot
	tg.FnInitialize = tg.Initialize
	tg.FnUpdate = tg.Update
	tg.FnOnResize = tg.OnResize
	tg.FnShutdown = tg.Shutdown

	return tg
}

func (g *TestGame) state() *gameState {
	return g.State.(*gameState)
}

func (g *TestGame) Boot() error {
	core.LogInfo("booting testbed on the %s backend...", g.ApplicationConfig.Backend)
	return nil
}

func (g *TestGame) Initialize() error {
	core.EventRegister(core.EVENT_CODE_KEY_PRESSED, g.onKey)
	return nil
}

func (g *TestGame) Update(deltaTime float64) error {
	g.state().elapsed += deltaTime
	return nil
}

func (g *TestGame) OnResize(width uint32, height uint32) error {
	s := g.state()
	s.width = width
	s.height = height
	return nil
}

func (g *TestGame) Shutdown() error {
	core.LogInfo("testbed ran for %.2fs", g.state().elapsed)
	return nil
}

func (g *TestGame) onKey(context core.EventContext) {
	ke, ok := context.Data.(*core.KeyEvent)
	if !ok || ke.KeyCode != core.KEY_SPACE {
		return
	}
	s := g.state()
	s.tint = (s.tint + 1) % len(tints)
	t := tints[s.tint]
	if err := g.Renderer.UpdateUniform([]float32{t.X, t.Y, t.Z, t.W}); err != nil {
		core.LogError("failed to update the tint: %s", err)
		return
	}
	core.LogInfo("tint set to [%.1f, %.1f, %.1f, %.1f]", t.X, t.Y, t.Z, t.W)
}

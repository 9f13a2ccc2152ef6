package software

import (
	"fmt"

	"github.com/spaghettifunk/framepace/engine/core"
	"github.com/spaghettifunk/framepace/engine/renderer/metadata"
)

// pipeline keeps the shader blobs for bookkeeping only; the executor implements the
// passthrough vertex stage and the colour * uniform pixel stage directly.
type pipeline struct {
	device       *Device
	label        string
	vertexShader []byte
	pixelShader  []byte
	layout       []metadata.InputElement
	colorOffset  uint32
}

func newPipeline(d *Device, desc metadata.PipelineDescription) (*pipeline, error) {
	if len(desc.VertexShader) == 0 || len(desc.PixelShader) == 0 {
		return nil, fmt.Errorf("pipeline %q needs vertex and pixel shaders: %w", desc.Label, core.ErrGraphicsDevice)
	}
	if desc.TargetFormat != metadata.FormatR8G8B8A8Unorm {
		return nil, fmt.Errorf("pipeline %q: unsupported target format %d: %w", desc.Label, desc.TargetFormat, core.ErrGraphicsDevice)
	}
	p := &pipeline{
		device:       d,
		label:        desc.Label,
		vertexShader: desc.VertexShader,
		pixelShader:  desc.PixelShader,
		layout:       desc.InputLayout,
	}
	if p.label == "" {
		p.label = core.NewObjectLabel("pipeline")
	}

	var hasPosition, hasColor bool
	for _, e := range desc.InputLayout {
		switch e.Semantic {
		case "POSITION":
			if e.Format != metadata.FormatR32G32B32Float || e.Offset != 0 {
				return nil, fmt.Errorf("pipeline %q: POSITION must be R32G32B32_FLOAT at 0: %w", p.label, core.ErrGraphicsDevice)
			}
			hasPosition = true
		case "COLOR":
			if e.Format != metadata.FormatR32G32B32A32Float {
				return nil, fmt.Errorf("pipeline %q: COLOR must be R32G32B32A32_FLOAT: %w", p.label, core.ErrGraphicsDevice)
			}
			p.colorOffset = e.Offset
			hasColor = true
		default:
			return nil, fmt.Errorf("pipeline %q: unknown semantic %q: %w", p.label, e.Semantic, core.ErrGraphicsDevice)
		}
	}
	if !hasPosition || !hasColor {
		return nil, fmt.Errorf("pipeline %q: input layout needs POSITION and COLOR: %w", p.label, core.ErrGraphicsDevice)
	}
	return p, nil
}

func (p *pipeline) Label() string {
	return p.label
}

func (p *pipeline) Destroy() error {
	return p.device.destroyInUse(p, p.label)
}

package software

import (
	"errors"
	"fmt"

	"github.com/spaghettifunk/framepace/engine/core"
	"github.com/spaghettifunk/framepace/engine/renderer/metadata"
)

type commandAllocator struct {
	device *Device
	label  string
}

// Reset fails while any list recorded from the allocator is still pending.
func (a *commandAllocator) Reset() error {
	if a.device.inUse(a) {
		a.device.report(metadata.SeverityError, a.label, "allocator reset while its command lists are executing")
		return fmt.Errorf("%s reset while in flight: %w", a.label, core.ErrGraphicsDevice)
	}
	return nil
}

func (a *commandAllocator) Destroy() error {
	return a.device.destroyInUse(a, a.label)
}

type commandKind uint8

const (
	cmdSetViewport commandKind = iota
	cmdSetScissor
	cmdSetUniformBuffer
	cmdBarrier
	cmdSetRenderTarget
	cmdClear
	cmdSetVertexBuffer
	cmdSetIndexBuffer
	cmdDrawIndexed
)

type drawArgs struct {
	indexCount    uint32
	instanceCount uint32
	firstIndex    uint32
	baseVertex    int32
	firstInstance uint32
}

type command struct {
	kind        commandKind
	viewport    metadata.Viewport
	rect        metadata.Rect
	target      *renderTarget
	before      metadata.ResourceState
	after       metadata.ResourceState
	color       metadata.Color
	buffer      *buffer
	stride      uint32
	indexFormat metadata.IndexFormat
	draw        drawArgs
}

type commandList struct {
	device    *Device
	label     string
	allocator *commandAllocator
	pipeline  *pipeline
	commands  []command
	recording bool
	err       error
	destroyed bool
}

func (l *commandList) Label() string {
	return l.label
}

// Reset starts a new recording. The previous command slice is not reused, so
// lists may be reset while an earlier recording is still executing.
func (l *commandList) Reset(allocator metadata.CommandAllocator, p metadata.Pipeline) error {
	if l.recording {
		return fmt.Errorf("%s reset while recording: %w", l.label, core.ErrGraphicsDevice)
	}
	a, ok := allocator.(*commandAllocator)
	if !ok || a == nil {
		return fmt.Errorf("%s reset with a foreign allocator: %w", l.label, core.ErrGraphicsDevice)
	}
	l.allocator = a
	l.pipeline = nil
	if p != nil {
		sp, ok := p.(*pipeline)
		if !ok {
			return fmt.Errorf("%s reset with a foreign pipeline: %w", l.label, core.ErrGraphicsDevice)
		}
		l.pipeline = sp
	}
	l.commands = nil
	l.err = nil
	l.recording = true
	return nil
}

func (l *commandList) record(c command) {
	if !l.recording {
		l.fail(errors.New("command recorded on a closed list"))
		return
	}
	l.commands = append(l.commands, c)
}

func (l *commandList) fail(err error) {
	if l.err == nil {
		l.err = err
	}
}

func (l *commandList) SetViewport(viewport metadata.Viewport) {
	l.record(command{kind: cmdSetViewport, viewport: viewport})
}

func (l *commandList) SetScissor(rect metadata.Rect) {
	l.record(command{kind: cmdSetScissor, rect: rect})
}

func (l *commandList) SetUniformBuffer(b metadata.Buffer) {
	sb, ok := b.(*buffer)
	if !ok || sb.usage != metadata.BufferUsageUniform {
		l.fail(errors.New("uniform binding needs a uniform buffer"))
		return
	}
	l.record(command{kind: cmdSetUniformBuffer, buffer: sb})
}

func (l *commandList) ResourceBarrier(target metadata.RenderTarget, before, after metadata.ResourceState) {
	rt, ok := target.(*renderTarget)
	if !ok {
		l.fail(errors.New("barrier on a foreign resource"))
		return
	}
	if before == after {
		l.fail(fmt.Errorf("barrier on %s with identical states %s", rt.label, before))
		return
	}
	l.record(command{kind: cmdBarrier, target: rt, before: before, after: after})
}

func (l *commandList) SetRenderTarget(target metadata.RenderTarget) {
	rt, ok := target.(*renderTarget)
	if !ok {
		l.fail(errors.New("render target binding on a foreign resource"))
		return
	}
	l.record(command{kind: cmdSetRenderTarget, target: rt})
}

func (l *commandList) ClearRenderTarget(target metadata.RenderTarget, color metadata.Color) {
	rt, ok := target.(*renderTarget)
	if !ok {
		l.fail(errors.New("clear on a foreign resource"))
		return
	}
	l.record(command{kind: cmdClear, target: rt, color: color})
}

func (l *commandList) SetVertexBuffer(b metadata.Buffer, stride uint32) {
	sb, ok := b.(*buffer)
	if !ok || sb.usage != metadata.BufferUsageVertex {
		l.fail(errors.New("vertex binding needs a vertex buffer"))
		return
	}
	if stride == 0 {
		l.fail(errors.New("vertex binding with zero stride"))
		return
	}
	l.record(command{kind: cmdSetVertexBuffer, buffer: sb, stride: stride})
}

func (l *commandList) SetIndexBuffer(b metadata.Buffer, format metadata.IndexFormat) {
	sb, ok := b.(*buffer)
	if !ok || sb.usage != metadata.BufferUsageIndex {
		l.fail(errors.New("index binding needs an index buffer"))
		return
	}
	l.record(command{kind: cmdSetIndexBuffer, buffer: sb, indexFormat: format})
}

func (l *commandList) DrawIndexed(indexCount, instanceCount, firstIndex uint32, baseVertex int32, firstInstance uint32) {
	if l.pipeline == nil {
		l.fail(errors.New("draw without a pipeline"))
		return
	}
	l.record(command{kind: cmdDrawIndexed, draw: drawArgs{
		indexCount:    indexCount,
		instanceCount: instanceCount,
		firstIndex:    firstIndex,
		baseVertex:    baseVertex,
		firstInstance: firstInstance,
	}})
}

func (l *commandList) Close() error {
	if !l.recording {
		return fmt.Errorf("%s closed twice: %w", l.label, core.ErrGraphicsDevice)
	}
	l.recording = false
	if l.err != nil {
		return fmt.Errorf("%s: %v: %w", l.label, l.err, core.ErrGraphicsDevice)
	}
	return nil
}

func (l *commandList) Destroy() error {
	if err := l.device.destroyInUse(l, l.label); err != nil {
		return err
	}
	l.destroyed = true
	l.commands = nil
	return nil
}

// references lists every object the recorded commands touch.
func (l *commandList) references() []interface{} {
	refs := []interface{}{l, l.allocator}
	if l.pipeline != nil {
		refs = append(refs, l.pipeline)
	}
	seen := make(map[interface{}]bool)
	for _, c := range l.commands {
		var obj interface{}
		switch {
		case c.target != nil:
			obj = c.target
		case c.buffer != nil:
			obj = c.buffer
		default:
			continue
		}
		if !seen[obj] {
			seen[obj] = true
			refs = append(refs, obj)
		}
	}
	return refs
}

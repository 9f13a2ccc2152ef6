package software

import (
	"encoding/binary"
	"fmt"
	"image"
	"image/color"
	gomath "math"

	"github.com/spaghettifunk/framepace/engine/math"
	"github.com/spaghettifunk/framepace/engine/renderer/metadata"
)

// executor replays one command list against GPU memory.
type executor struct {
	device   *Device
	label    string
	pipeline *pipeline

	viewport    metadata.Viewport
	viewportSet bool
	scissor     metadata.Rect
	scissorSet  bool

	uniform      *buffer
	target       *renderTarget
	vertexBuffer *buffer
	stride       uint32
	indexBuffer  *buffer
}

func newExecutor(d *Device, label string, p *pipeline) *executor {
	return &executor{device: d, label: label, pipeline: p}
}

func (e *executor) run(commands []command) {
	for _, c := range commands {
		switch c.kind {
		case cmdSetViewport:
			e.viewport = c.viewport
			e.viewportSet = true
		case cmdSetScissor:
			e.scissor = c.rect
			e.scissorSet = true
		case cmdSetUniformBuffer:
			e.uniform = c.buffer
		case cmdBarrier:
			e.barrier(c.target, c.before, c.after)
		case cmdSetRenderTarget:
			e.target = c.target
		case cmdClear:
			e.clear(c.target, c.color)
		case cmdSetVertexBuffer:
			e.vertexBuffer = c.buffer
			e.stride = c.stride
		case cmdSetIndexBuffer:
			e.indexBuffer = c.buffer
		case cmdDrawIndexed:
			e.drawIndexed(c.draw)
		}
	}
}

func (e *executor) hazard(object string, format string, args ...interface{}) {
	e.device.report(metadata.SeverityError, object, "%s: %s", e.label, fmt.Sprintf(format, args...))
}

func (e *executor) barrier(rt *renderTarget, before, after metadata.ResourceState) {
	if rt.state != before {
		e.hazard(rt.label, "barrier expects %s but resource is %s", before, rt.state)
	}
	rt.state = after
}

func (e *executor) clear(rt *renderTarget, c metadata.Color) {
	if rt.state != metadata.ResourceStateRenderTarget {
		e.hazard(rt.label, "cleared in state %s", rt.state)
	}
	px := [4]uint8{math.UnormToByte(c.R), math.UnormToByte(c.G), math.UnormToByte(c.B), math.UnormToByte(c.A)}
	pix := rt.image.Pix
	for i := 0; i+3 < len(pix); i += 4 {
		pix[i], pix[i+1], pix[i+2], pix[i+3] = px[0], px[1], px[2], px[3]
	}
}

func (e *executor) drawIndexed(args drawArgs) {
	switch {
	case e.target == nil:
		e.hazard("draw", "no render target bound")
		return
	case e.vertexBuffer == nil || e.indexBuffer == nil:
		e.hazard("draw", "vertex or index buffer not bound")
		return
	case !e.viewportSet:
		e.hazard("draw", "no viewport set")
		return
	}
	if e.target.state != metadata.ResourceStateRenderTarget {
		e.hazard(e.target.label, "drawn to in state %s", e.target.state)
	}
	if args.instanceCount == 0 {
		return
	}

	var indices []byte
	e.indexBuffer.read(func(data []byte) {
		indices = append(indices, data...)
	})
	var vertices []byte
	e.vertexBuffer.read(func(data []byte) {
		vertices = append(vertices, data...)
	})
	modulate := e.uniformColor()
	clip := e.clipRect()

	for i := uint32(0); i+2 < args.indexCount; i += 3 {
		var tri [3]metadata.Vertex
		ok := true
		for k := uint32(0); k < 3; k++ {
			at := uint64(args.firstIndex+i+k) * 4
			if at+4 > uint64(len(indices)) {
				e.hazard(e.indexBuffer.label, "index %d out of range", args.firstIndex+i+k)
				return
			}
			idx := int64(binary.LittleEndian.Uint32(indices[at:])) + int64(args.baseVertex)
			if idx < 0 {
				e.hazard(e.vertexBuffer.label, "negative vertex index %d", idx)
				return
			}
			v, err := metadata.DecodeVertex(vertices, uint32(idx), e.stride, e.pipeline.colorOffset)
			if err != nil {
				e.hazard(e.vertexBuffer.label, "%v", err)
				ok = false
				break
			}
			tri[k] = v
		}
		if ok {
			e.rasterize(tri, modulate, clip)
		}
	}
}

// uniformColor is the first vec4 of the bound uniform buffer, or white.
func (e *executor) uniformColor() math.Vec4 {
	out := math.NewVec4One()
	if e.uniform == nil {
		return out
	}
	e.uniform.read(func(data []byte) {
		if len(data) < 16 {
			return
		}
		f := func(i int) float32 {
			return gomath.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
		}
		out = math.NewVec4(f(0), f(1), f(2), f(3))
	})
	return out
}

func (e *executor) clipRect() math.Extents2D {
	b := e.target.image.Bounds()
	clip := math.Extents2D{MinX: b.Min.X, MinY: b.Min.Y, MaxX: b.Max.X, MaxY: b.Max.Y}
	vp := math.Extents2D{
		MinX: math.Floor(e.viewport.X),
		MinY: math.Floor(e.viewport.Y),
		MaxX: math.Ceil(e.viewport.X + e.viewport.Width),
		MaxY: math.Ceil(e.viewport.Y + e.viewport.Height),
	}
	clip = clip.Intersect(vp)
	if e.scissorSet {
		clip = clip.Intersect(math.Extents2D{
			MinX: int(e.scissor.Left),
			MinY: int(e.scissor.Top),
			MaxX: int(e.scissor.Right),
			MaxY: int(e.scissor.Bottom),
		})
	}
	return clip
}

func (e *executor) toScreen(p [3]float32) math.Vec2 {
	return math.NewVec2(
		(p[0]+1)*0.5*e.viewport.Width+e.viewport.X,
		(1-p[1])*0.5*e.viewport.Height+e.viewport.Y,
	)
}

// rasterize fills the pixels whose centres the triangle covers, with a top-left
// fill rule and no culling.
func (e *executor) rasterize(tri [3]metadata.Vertex, modulate math.Vec4, clip math.Extents2D) {
	p0, p1, p2 := e.toScreen(tri[0].Position), e.toScreen(tri[1].Position), e.toScreen(tri[2].Position)
	c0, c1, c2 := colorOf(tri[0]), colorOf(tri[1]), colorOf(tri[2])

	area := math.Edge(p0, p1, p2)
	if area == 0 {
		return
	}
	if area < 0 {
		p1, p2 = p2, p1
		c1, c2 = c2, c1
		area = -area
	}

	box := math.Extents2D{
		MinX: math.Floor(math.Min(p0.X, math.Min(p1.X, p2.X))),
		MinY: math.Floor(math.Min(p0.Y, math.Min(p1.Y, p2.Y))),
		MaxX: math.Ceil(math.Max(p0.X, math.Max(p1.X, p2.X))),
		MaxY: math.Ceil(math.Max(p0.Y, math.Max(p1.Y, p2.Y))),
	}.Intersect(clip)
	if box.Empty() {
		return
	}

	topLeft0 := math.IsTopLeft(p1, p2)
	topLeft1 := math.IsTopLeft(p2, p0)
	topLeft2 := math.IsTopLeft(p0, p1)
	covered := func(w float32, topLeft bool) bool {
		return w > 0 || (w == 0 && topLeft)
	}

	img := e.target.image
	for y := box.MinY; y < box.MaxY; y++ {
		for x := box.MinX; x < box.MaxX; x++ {
			pc := math.NewVec2(float32(x)+0.5, float32(y)+0.5)
			w0 := math.Edge(p1, p2, pc)
			w1 := math.Edge(p2, p0, pc)
			w2 := math.Edge(p0, p1, pc)
			if !covered(w0, topLeft0) || !covered(w1, topLeft1) || !covered(w2, topLeft2) {
				continue
			}
			c := c0.MulScalar(w0 / area).Add(c1.MulScalar(w1 / area)).Add(c2.MulScalar(w2 / area)).Mul(modulate)
			img.SetRGBA(x, y, color.RGBA{
				R: math.UnormToByte(c.X),
				G: math.UnormToByte(c.Y),
				B: math.UnormToByte(c.Z),
				A: math.UnormToByte(c.W),
			})
		}
	}
}

func colorOf(v metadata.Vertex) math.Vec4 {
	return math.NewVec4(v.Color[0], v.Color[1], v.Color[2], v.Color[3])
}

// Pixel returns the RGBA8 value of a back buffer pixel. Only valid when the
// queue is idle.
func (s *Surface) Pixel(index uint32, x, y int) (color.RGBA, bool) {
	if index >= uint32(len(s.buffers)) {
		return color.RGBA{}, false
	}
	s.device.gpuMutex.Lock()
	defer s.device.gpuMutex.Unlock()
	img := s.buffers[index].image
	if !(image.Point{X: x, Y: y}.In(img.Bounds())) {
		return color.RGBA{}, false
	}
	return img.RGBAAt(x, y), true
}

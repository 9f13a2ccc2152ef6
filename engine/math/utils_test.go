package math

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAlignUp(t *testing.T) {
	assert.Equal(t, uint64(256), AlignUp[uint64](1, 256))
	assert.Equal(t, uint64(256), AlignUp[uint64](256, 256))
	assert.Equal(t, uint64(512), AlignUp[uint64](257, 256))
	assert.Equal(t, uint32(0), AlignUp[uint32](0, 256))
}

func TestEdgeAndTopLeft(t *testing.T) {
	a := NewVec2(0, 0)
	b := NewVec2(4, 0)
	c := NewVec2(0, 4)
	assert.Equal(t, float32(16), Edge(a, b, c))
	assert.Equal(t, float32(-16), Edge(a, c, b))
	assert.True(t, IsTopLeft(a, b))
	assert.False(t, IsTopLeft(b, a))
	assert.True(t, IsTopLeft(c, a))
}

func TestUnormToByte(t *testing.T) {
	assert.Equal(t, uint8(51), UnormToByte(0.2))
	assert.Equal(t, uint8(255), UnormToByte(1.5))
	assert.Equal(t, uint8(0), UnormToByte(-1))
}

func TestExtentsIntersect(t *testing.T) {
	e := Extents2D{MinX: -2, MinY: 1, MaxX: 10, MaxY: 3}.Intersect(Extents2D{MaxX: 4, MaxY: 4})
	assert.Equal(t, Extents2D{MinX: 0, MinY: 1, MaxX: 4, MaxY: 3}, e)
	assert.True(t, Extents2D{MinX: 3, MaxX: 3, MaxY: 1}.Empty())
}

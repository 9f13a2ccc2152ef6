package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFrameMetricsAverage(t *testing.T) {
	m := NewFrameMetrics()
	for i := 0; i < int(AVG_COUNT); i++ {
		m.Update(10 * time.Millisecond)
	}
	assert.InDelta(t, 10.0, m.FrameTime(), 1e-9)

	// a second window must not accumulate on top of the first
	for i := 0; i < int(AVG_COUNT); i++ {
		m.Update(20 * time.Millisecond)
	}
	assert.InDelta(t, 20.0, m.FrameTime(), 1e-9)
}

func TestFrameMetricsFPS(t *testing.T) {
	m := NewFrameMetrics()
	for i := 0; i < 101; i++ {
		m.Update(10 * time.Millisecond)
	}
	fps, _ := m.Frame()
	assert.Equal(t, 101.0, fps)
}

func TestFrameMetricsStalls(t *testing.T) {
	m := NewFrameMetrics()
	m.RecordStall(2 * time.Millisecond)
	m.RecordStall(3 * time.Millisecond)
	count, total := m.Stalls()
	assert.Equal(t, uint64(2), count)
	assert.Equal(t, 5*time.Millisecond, total)
}

func TestClock(t *testing.T) {
	c := NewClock()
	c.Update()
	assert.Zero(t, c.Elapsed())
	assert.False(t, c.IsRunning())

	c.Start()
	time.Sleep(2 * time.Millisecond)
	c.Update()
	assert.GreaterOrEqual(t, c.Elapsed(), 2*time.Millisecond)

	c.Stop()
	elapsed := c.Elapsed()
	time.Sleep(time.Millisecond)
	c.Update()
	assert.Equal(t, elapsed, c.Elapsed())
}

func TestObjectLabel(t *testing.T) {
	a := NewObjectLabel("cmdlist")
	b := NewObjectLabel("cmdlist")
	assert.Regexp(t, `^cmdlist-[0-9a-f]{8}$`, a)
	assert.NotEqual(t, a, b)
}

func TestParseLogLevel(t *testing.T) {
	l, err := ParseLogLevel("warn")
	assert.NoError(t, err)
	assert.Equal(t, WarnLevel, l)
	_, err = ParseLogLevel("loud")
	assert.Error(t, err)
}

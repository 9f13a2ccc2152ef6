package core

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventsAreDeliveredOnDispatch(t *testing.T) {
	require.True(t, EventSystemInitialize())
	defer EventSystemShutdown()

	var got []uint32
	EventRegister(EVENT_CODE_RESIZED, func(ctx EventContext) {
		se := ctx.Data.(*SystemEvent)
		got = append(got, se.WindowWidth)
	})

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			EventFire(EventContext{Type: EVENT_CODE_RESIZED, Data: &SystemEvent{WindowWidth: 640, WindowHeight: 480}})
		}()
	}
	wg.Wait()

	assert.Empty(t, got, "listeners must not run before dispatch")
	assert.Equal(t, 4, EventDispatch())
	assert.Equal(t, []uint32{640, 640, 640, 640}, got)
	assert.Equal(t, 0, EventDispatch())
}

func TestEventsWithoutSystem(t *testing.T) {
	assert.False(t, EventFire(EventContext{Type: EVENT_CODE_APPLICATION_QUIT}))
	assert.False(t, EventRegister(EVENT_CODE_APPLICATION_QUIT, func(EventContext) {}))
	assert.Equal(t, 0, EventDispatch())
}

func TestEventSystemDoubleInitialize(t *testing.T) {
	require.True(t, EventSystemInitialize())
	defer EventSystemShutdown()
	assert.False(t, EventSystemInitialize())
}

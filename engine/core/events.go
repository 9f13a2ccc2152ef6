package core

import "sync"

// System internal event codes. Application should use codes beyond 255.
type SystemEventCode int

const (
	// Shuts the application down on the next frame.
	EVENT_CODE_APPLICATION_QUIT SystemEventCode = 0x01
	// Keyboard key pressed. Data: *KeyEvent
	EVENT_CODE_KEY_PRESSED SystemEventCode = 0x02
	// Keyboard key released. Data: *KeyEvent
	EVENT_CODE_KEY_RELEASED SystemEventCode = 0x03
	// Framebuffer resized by the OS. Data: *SystemEvent
	EVENT_CODE_RESIZED SystemEventCode = 0x08
	// A watched asset changed on disk. Data: *AssetEvent
	EVENT_CODE_ASSET_RELOADED SystemEventCode = 0x10

	MAX_EVENT_CODE SystemEventCode = 0xFF
)

const eventQueueSize = 256

type EventContext struct {
	Type SystemEventCode
	Data interface{}
}

type KeyEvent struct {
	KeyCode KeyCode
}

type SystemEvent struct {
	WindowWidth  uint32
	WindowHeight uint32
}

type AssetEvent struct {
	Path string
}

type FnOnEvent func(context EventContext)

type eventSystemState struct {
	mutex      sync.RWMutex
	registered map[SystemEventCode][]FnOnEvent
	queue      chan EventContext
}

var eventState *eventSystemState

// EventSystemInitialize returns false if the system is already running.
func EventSystemInitialize() bool {
	if eventState != nil {
		return false
	}
	eventState = &eventSystemState{
		registered: make(map[SystemEventCode][]FnOnEvent),
		queue:      make(chan EventContext, eventQueueSize),
	}
	return true
}

func EventSystemShutdown() error {
	eventState = nil
	return nil
}

func EventRegister(code SystemEventCode, onEvent FnOnEvent) bool {
	if eventState == nil {
		return false
	}
	eventState.mutex.Lock()
	defer eventState.mutex.Unlock()
	eventState.registered[code] = append(eventState.registered[code], onEvent)
	return true
}

// EventFire queues the event. It is safe to call from any goroutine; listeners
// run on the goroutine that calls EventDispatch.
func EventFire(context EventContext) bool {
	if eventState == nil {
		return false
	}
	select {
	case eventState.queue <- context:
		return true
	default:
		LogWarn("event queue full, dropping event %d", context.Type)
		return false
	}
}

// EventDispatch drains the queue and returns how many events were delivered.
func EventDispatch() int {
	if eventState == nil {
		return 0
	}
	delivered := 0
	for {
		select {
		case ctx := <-eventState.queue:
			eventState.mutex.RLock()
			listeners := eventState.registered[ctx.Type]
			eventState.mutex.RUnlock()
			for _, l := range listeners {
				l(ctx)
			}
			delivered++
		default:
			return delivered
		}
	}
}

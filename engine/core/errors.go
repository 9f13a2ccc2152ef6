package core

import (
	"errors"
)

// Every error below is fatal for the current session. Callers wrap them with
// fmt.Errorf("...: %w", err) and match with errors.Is.
var (
	// No adapter or device with the required feature level.
	ErrInitialization = errors.New("graphics initialization failed")
	// A native API call failed mid-frame, device removal included.
	ErrGraphicsDevice = errors.New("graphics device error")
	// The surface could not present the back buffer.
	ErrPresent = errors.New("present failed")
	// A fence wait ran past its bound.
	ErrSyncTimeout = errors.New("fence wait timed out")
	// Recording was requested on a slot whose previous work is still pending.
	ErrSlotInFlight = errors.New("frame slot still in flight")
	// The surface refused to recreate its buffers while work was pending.
	ErrResizeInFlight = errors.New("resize requested with gpu work in flight")
)

package software

import (
	"fmt"
	"sync"
	"time"

	"github.com/spaghettifunk/framepace/engine/core"
	"github.com/spaghettifunk/framepace/engine/renderer/metadata"
)

// timeline is a fence: a counter written by the executor and waited on by the CPU.
type timeline struct {
	device *Device
	label  string

	mutex sync.Mutex
	cond  *sync.Cond
	value uint64
}

func newTimeline(d *Device, initial uint64) *timeline {
	t := &timeline{
		device: d,
		label:  core.NewObjectLabel("fence"),
		value:  initial,
	}
	t.cond = sync.NewCond(&t.mutex)
	return t
}

func (t *timeline) CompletedValue() uint64 {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	return t.value
}

func (t *timeline) Wait(value uint64, timeout time.Duration) error {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	if t.value >= value {
		return nil
	}

	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
		timer := time.AfterFunc(timeout, func() {
			t.mutex.Lock()
			t.cond.Broadcast()
			t.mutex.Unlock()
		})
		defer timer.Stop()
	}

	for t.value < value {
		if timeout > 0 && !time.Now().Before(deadline) {
			return fmt.Errorf("%s: waited %s for value %d, completed %d: %w",
				t.label, timeout, value, t.value, core.ErrSyncTimeout)
		}
		t.cond.Wait()
	}
	return nil
}

func (t *timeline) set(value uint64) {
	t.mutex.Lock()
	if value < t.value {
		t.device.report(metadata.SeverityWarning, t.label, "signaled %d below completed value %d", value, t.value)
	}
	t.value = value
	t.cond.Broadcast()
	t.mutex.Unlock()
}

func (t *timeline) Destroy() error {
	return t.device.destroyInUse(t, t.label)
}

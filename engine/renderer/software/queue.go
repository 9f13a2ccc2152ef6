package software

import (
	"fmt"
	"sync"
	"time"

	"github.com/spaghettifunk/framepace/engine/core"
	"github.com/spaghettifunk/framepace/engine/math"
	"github.com/spaghettifunk/framepace/engine/renderer/metadata"
)

type workKind uint8

const (
	workExecute workKind = iota
	workSignal
	workPresent
)

type workItem struct {
	kind     workKind
	label    string
	commands []command
	pipeline *pipeline
	timeline *timeline
	value    uint64
	present  presentRequest
	refs     []interface{}
}

// queue is the emulated GPU queue. Work runs on a single executor goroutine in
// submission order.
type queue struct {
	device *Device

	mutex     sync.Mutex
	cond      *sync.Cond
	items     []workItem
	executing int
	stopped   bool
	done      chan struct{}
}

func newQueue(d *Device) *queue {
	q := &queue{
		device: d,
		done:   make(chan struct{}),
	}
	q.cond = sync.NewCond(&q.mutex)
	go q.run()
	return q
}

func (q *queue) Submit(lists ...metadata.CommandList) error {
	items := make([]workItem, 0, len(lists))
	for _, l := range lists {
		cl, ok := l.(*commandList)
		if !ok || cl == nil {
			return fmt.Errorf("submit needs software command lists: %w", core.ErrGraphicsDevice)
		}
		if cl.recording {
			return fmt.Errorf("%s submitted while still recording: %w", cl.label, core.ErrGraphicsDevice)
		}
		if cl.err != nil {
			return fmt.Errorf("%s failed to record: %v: %w", cl.label, cl.err, core.ErrGraphicsDevice)
		}
		items = append(items, workItem{
			kind:     workExecute,
			label:    cl.label,
			commands: cl.commands,
			pipeline: cl.pipeline,
			refs:     cl.references(),
		})
	}
	for _, item := range items {
		if err := q.push(item); err != nil {
			return err
		}
	}
	return nil
}

func (q *queue) Signal(t metadata.Timeline, value uint64) error {
	tl, ok := t.(*timeline)
	if !ok || tl == nil {
		return fmt.Errorf("signal needs a software timeline: %w", core.ErrGraphicsDevice)
	}
	return q.push(workItem{
		kind:     workSignal,
		label:    tl.label,
		timeline: tl,
		value:    value,
		refs:     []interface{}{tl},
	})
}

func (q *queue) push(item workItem) error {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	if q.stopped {
		return fmt.Errorf("queue stopped: %w", core.ErrGraphicsDevice)
	}
	q.device.acquire(item.refs)
	q.items = append(q.items, item)
	q.cond.Broadcast()
	return nil
}

func (q *queue) run() {
	defer close(q.done)
	for {
		q.mutex.Lock()
		for len(q.items) == 0 && !q.stopped {
			q.cond.Wait()
		}
		if len(q.items) == 0 {
			q.mutex.Unlock()
			return
		}
		item := q.items[0]
		q.items[0] = workItem{}
		q.items = q.items[1:]
		q.executing++
		q.mutex.Unlock()

		q.execute(item)
		q.device.release(item.refs)

		// Signals land together with the completion of their item.
		q.mutex.Lock()
		q.executing--
		if item.kind == workSignal {
			item.timeline.set(item.value)
		}
		q.cond.Broadcast()
		q.mutex.Unlock()
	}
}

func (q *queue) execute(item workItem) {
	switch item.kind {
	case workExecute:
		delay := q.device.options.ExecutionDelay
		if jitter := q.device.options.ExecutionJitter; jitter > 0 {
			delay += time.Duration(math.RandomInRange(int64(jitter)))
		}
		if delay > 0 {
			time.Sleep(delay)
		}
		q.device.gpuMutex.Lock()
		newExecutor(q.device, item.label, item.pipeline).run(item.commands)
		q.device.gpuMutex.Unlock()
	case workPresent:
		q.device.gpuMutex.Lock()
		item.present.surface.executePresent(item.present)
		q.device.gpuMutex.Unlock()
	}
}

// pendingCount is the number of queued plus executing work items.
func (q *queue) pendingCount() int {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	return len(q.items) + q.executing
}

func (q *queue) waitIdle() {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	for len(q.items)+q.executing > 0 {
		q.cond.Wait()
	}
}

// stop drains the remaining work and ends the executor.
func (q *queue) stop() {
	q.mutex.Lock()
	q.stopped = true
	q.cond.Broadcast()
	q.mutex.Unlock()
	<-q.done
}

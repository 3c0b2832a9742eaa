package federated

import (
	"context"
	"log/slog"
	"slices"
	"sync"
)

// Observer receives pipeline notifications. Calls are made in order on a
// single goroutine; nothing an observer returns or does affects the
// pipeline.
type Observer interface {
	ActionStarted(taskID string, action Action)
	TaskBegan(taskID string)
	TaskCompleted(taskID string)
	TaskFailed(taskID string, action Action, err error)
	Progress(taskID string, action Action, fraction float64)
}

// NopObserver ignores every notification. Embed it to implement a subset.
type NopObserver struct{}

func (NopObserver) ActionStarted(string, Action) {}
func (NopObserver) TaskBegan(string) {}
func (NopObserver) TaskCompleted(string) {}
func (NopObserver) TaskFailed(string, Action, error) {}
func (NopObserver) Progress(string, Action, float64) {}

type eventKind uint8

const (
	eventActionStarted eventKind = iota
	eventTaskBegan
	eventTaskCompleted
	eventTaskFailed
	eventProgress
	eventBarrier
)

type event struct {
	kind     eventKind
	taskID   string
	action   Action
	fraction float64
	err      error
	done     chan struct{}
}

// dispatcher queues events without blocking the emitter and delivers them
// to the current subscribers from one goroutine.
type dispatcher struct {
	logger *slog.Logger

	mu        sync.Mutex
	observers map[uint64]Observer
	nextID    uint64
	queue     []event
	stopped   bool

	wake chan struct{}
	stop chan struct{}
	done chan struct{}
}

func newDispatcher(logger *slog.Logger) *dispatcher {
	d := &dispatcher{
		logger:    logger,
		observers: make(map[uint64]Observer),
		wake:      make(chan struct{}, 1),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	go d.run()

	return d
}

func (d *dispatcher) subscribe(o Observer) func() {
	d.mu.Lock()
	defer d.mu.Unlock()

	id := d.nextID
	d.nextID++
	d.observers[id] = o

	var once sync.Once

	return func() {
		once.Do(func() {
			d.mu.Lock()
			defer d.mu.Unlock()

			delete(d.observers, id)
		})
	}
}

func (d *dispatcher) emit(e event) bool {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()

		return false
	}
	d.queue = append(d.queue, e)
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}

	return true
}

// flush waits until every event queued before the call has been delivered.
func (d *dispatcher) flush(ctx context.Context) {
	barrier := event{kind: eventBarrier, done: make(chan struct{})}
	if !d.emit(barrier) {
		return
	}

	select {
	case <-barrier.done:
	case <-d.done:
	case <-ctx.Done():
	}
}

func (d *dispatcher) run() {
	defer close(d.done)

	for {
		d.mu.Lock()
		pending := d.queue
		d.queue = nil
		d.mu.Unlock()

		for _, e := range pending {
			d.deliver(e)
		}
		if len(pending) > 0 {
			continue
		}

		select {
		case <-d.wake:
		case <-d.stop:
			d.mu.Lock()
			pending = d.queue
			d.queue = nil
			d.mu.Unlock()
			for _, e := range pending {
				d.deliver(e)
			}

			return
		}
	}
}

func (d *dispatcher) close() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		<-d.done

		return
	}
	d.stopped = true
	d.mu.Unlock()

	close(d.stop)
	<-d.done
}

func (d *dispatcher) snapshot() []Observer {
	d.mu.Lock()
	defer d.mu.Unlock()

	ids := make([]uint64, 0, len(d.observers))
	for id := range d.observers {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	out := make([]Observer, 0, len(ids))
	for _, id := range ids {
		out = append(out, d.observers[id])
	}

	return out
}

func (d *dispatcher) deliver(e event) {
	if e.kind == eventBarrier {
		close(e.done)

		return
	}

	for _, o := range d.snapshot() {
		d.call(o, e)
	}
}

func (d *dispatcher) call(o Observer, e event) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("observer panicked",
				slog.String("task_id", e.taskID),
				slog.String("action", e.action.String()),
				slog.Any("panic", r))
		}
	}()

	switch e.kind {
	case eventActionStarted:
		o.ActionStarted(e.taskID, e.action)
	case eventTaskBegan:
		o.TaskBegan(e.taskID)
	case eventTaskCompleted:
		o.TaskCompleted(e.taskID)
	case eventTaskFailed:
		o.TaskFailed(e.taskID, e.action, e.err)
	case eventProgress:
		o.Progress(e.taskID, e.action, e.fraction)
	}
}

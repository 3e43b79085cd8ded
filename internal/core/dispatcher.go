package core

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// Priority classes a task can be posted under. Higher priorities always
// drain before lower ones within a single batch.
type Priority int

const (
	PriorityCritical Priority = iota
	PriorityHigh
	PriorityNormal
	PriorityLow
	numPriorities
)

// maxBatch bounds how many tasks the dispatcher drains per priority class
// on a single pass through the loop, so one noisy tag can't starve timers.
const maxBatch = 256

// Task is a unit of work posted to the dispatcher.
type Task struct {
	Tag      string
	Priority Priority
	Run      func()
}

// Dispatcher is the single-goroutine cooperative event loop: it owns a
// Queue per priority class and a TimerWheel, and drains both on its own
// goroutine. All application code must only ever touch dispatcher-owned
// state (order books, strategy state) from within a Task run on this
// loop.
type Dispatcher struct {
	queues   [numPriorities]*Queue[Task]
	wheel    *TimerWheel
	tickRate time.Duration
	tags     map[string]bool // nil means "accept all tags"
	log      *slog.Logger

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewDispatcher creates a dispatcher with queueSize slots per priority
// class and a timer tick of tickRate (matching the timer wheel's 1ms
// base resolution is recommended, but any resolution is supported).
func NewDispatcher(queueSize int, tickRate time.Duration, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	d := &Dispatcher{
		wheel:    NewTimerWheel(),
		tickRate: tickRate,
		log:      log.With("component", "dispatcher"),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	for i := range d.queues {
		d.queues[i] = NewQueue[Task](queueSize)
	}
	return d
}

// SetTagFilter restricts the loop to only running tasks whose Tag is in
// tags; other tasks are dropped at Post time. A nil/empty set accepts
// every tag.
func (d *Dispatcher) SetTagFilter(tags []string) {
	if len(tags) == 0 {
		d.tags = nil
		return
	}
	set := make(map[string]bool, len(tags))
	for _, t := range tags {
		set[t] = true
	}
	d.tags = set
}

// Post enqueues a task for the given priority. Returns ErrQueueFull if
// that priority's queue is saturated.
func (d *Dispatcher) Post(task Task) error {
	if d.tags != nil && !d.tags[task.Tag] {
		return nil
	}
	return d.queues[task.Priority].Push(task)
}

// PostDelayed schedules task to be posted onto its priority queue after
// delay elapses.
func (d *Dispatcher) PostDelayed(task Task, delay time.Duration) TimerID {
	delayMS := delay.Milliseconds()
	return d.wheel.Schedule(delayMS, func() {
		if err := d.Post(task); err != nil {
			d.log.Warn("dropped delayed task, queue full", "tag", task.Tag)
		}
	})
}

// CancelDelayed cancels a timer previously returned by PostDelayed.
func (d *Dispatcher) CancelDelayed(id TimerID) bool {
	return d.wheel.Cancel(id)
}

// Run drives the loop until ctx is cancelled or Stop is called. On each
// tickRate tick it advances the timer wheel by the whole milliseconds of
// wall time elapsed since the last advance and then drains up to
// maxBatch tasks per priority class, highest priority first.
func (d *Dispatcher) Run(ctx context.Context) error {
	defer close(d.doneCh)
	ticker := time.NewTicker(d.tickRate)
	defer ticker.Stop()
	last := time.Now()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-d.stopCh:
			return nil
		case now := <-ticker.C:
			if elapsed := now.Sub(last).Milliseconds(); elapsed > 0 {
				d.wheel.Advance(uint64(elapsed))
				last = last.Add(time.Duration(elapsed) * time.Millisecond)
			}
			d.drainOnce()
		}
	}
}

func (d *Dispatcher) drainOnce() {
	for p := range d.queues {
		q := d.queues[p]
		for i := 0; i < maxBatch; i++ {
			task, ok := q.Pop()
			if !ok {
				break
			}
			d.runTask(task)
		}
	}
}

func (d *Dispatcher) runTask(task Task) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("task panicked", "tag", task.Tag, "recover", r)
		}
	}()
	task.Run()
}

// Stop signals the run loop to exit and blocks until it has.
func (d *Dispatcher) Stop() {
	select {
	case <-d.stopCh:
	default:
		close(d.stopCh)
	}
	<-d.doneCh
}

// RunWithGroup starts the dispatcher's loop under an errgroup so callers
// can fan out additional reactor goroutines (WS readers, REST pollers)
// and have their failures propagate to the same cancellation context,
// matching the teacher's shutdown coordination in its engine run loop.
func RunWithGroup(ctx context.Context, d *Dispatcher) (*errgroup.Group, context.Context) {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return d.Run(gctx) })
	return g, gctx
}

package audit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Overflow selects what Emit does when the queue is full.
type Overflow int

const (
	// OverflowWait blocks the emitting call until there is room or its
	// context ends.
	OverflowWait Overflow = iota
	// OverflowDrop discards the event and counts it.
	OverflowDrop
)

// Config sizes the queue between the controller and its sink.
type Config struct {
	Enabled  bool
	Buffer   int
	Overflow Overflow
	// Now stamps events that arrive without a timestamp.
	Now func() time.Time
}

// queued pairs an event with the values of the context it was emitted in.
// Cancellation is not carried; a sign-out that returns must not abort the
// delivery of its own audit record.
type queued struct {
	ctx   context.Context
	event Event
}

// Dispatcher hands session lifecycle events to a sink from a single
// goroutine, so the sink sees them in the order the controller emitted them.
// A nil *Dispatcher accepts and discards everything.
type Dispatcher struct {
	sink     Sink
	overflow Overflow
	now      func() time.Time

	queue chan queued
	stop  chan struct{}
	wg    sync.WaitGroup
	once  sync.Once
	shut  atomic.Bool

	delivered atomic.Uint64
	dropped   atomic.Uint64
}

// NewDispatcher returns nil when cfg is disabled. Otherwise the delivery
// goroutine runs until Close.
func NewDispatcher(cfg Config, sink Sink) *Dispatcher {
	if !cfg.Enabled {
		return nil
	}
	if sink == nil {
		sink = NoOpSink{}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	d := &Dispatcher{
		sink:     sink,
		overflow: cfg.Overflow,
		now:      cfg.Now,
		queue:    make(chan queued, max(cfg.Buffer, 1)),
		stop:     make(chan struct{}),
	}
	d.wg.Add(1)
	go d.loop()
	return d
}

func (d *Dispatcher) loop() {
	defer d.wg.Done()
	for {
		select {
		case q := <-d.queue:
			d.send(q)
		case <-d.stop:
			d.drain()
			return
		}
	}
}

// drain delivers whatever is still queued after Close.
func (d *Dispatcher) drain() {
	for {
		select {
		case q := <-d.queue:
			d.send(q)
		default:
			return
		}
	}
}

func (d *Dispatcher) send(q queued) {
	d.sink.Emit(q.ctx, q.event)
	d.delivered.Add(1)
}

// Emit queues event for the sink. Events emitted after Close are ignored.
func (d *Dispatcher) Emit(ctx context.Context, event Event) {
	if d == nil || d.shut.Load() {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = d.now()
	}
	q := queued{ctx: context.WithoutCancel(ctx), event: event}

	switch d.overflow {
	case OverflowDrop:
		select {
		case d.queue <- q:
		case <-d.stop:
		default:
			d.dropped.Add(1)
		}
	default:
		select {
		case d.queue <- q:
		case <-d.stop:
		case <-ctx.Done():
			d.dropped.Add(1)
		}
	}
}

// Close stops intake and returns once every queued event reached the sink.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.once.Do(func() {
		d.shut.Store(true)
		close(d.stop)
		d.wg.Wait()
	})
}

// Emitted counts events handed to the sink.
func (d *Dispatcher) Emitted() uint64 {
	if d == nil {
		return 0
	}
	return d.delivered.Load()
}

// Dropped counts events lost to a full queue or an expired emit context.
func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}

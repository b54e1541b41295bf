package queue

import (
	"container/list"
	"sync"
	"sync/atomic"
	"time"

	"github.com/VictoriaMetrics/metrics"

	"github.com/ValentinKolb/sKV/lib/logging"
)

// --------------------------------------------------------------------------
// Types
// --------------------------------------------------------------------------

// Priority is the coarse admission tier of an event.
type Priority uint8

const (
	PriorityNoise Priority = iota // droppable under pressure
	PriorityAux                   // auxiliary state updates
	PriorityCore                  // session-critical updates
)

func (p Priority) String() string {
	switch p {
	case PriorityCore:
		return "CORE"
	case PriorityAux:
		return "AUX"
	case PriorityNoise:
		return "NOISE"
	default:
		return "Unknown"
	}
}

// Item is one queued event.
type Item struct {
	Kind     string
	Payload  []byte
	Priority Priority
	Enqueued time.Time
}

// Handler processes one dequeued item. Handlers are supplied by the external
// protocol-binding layer; an error return is logged and otherwise ignored.
type Handler func(item Item) error

// Stats is a point-in-time view of queue pressure.
type Stats struct {
	Depth    int    // queued items
	InFlight int    // handlers currently executing
	Dropped  uint64 // items dropped or evicted under pressure
}

// Options configures the queue behavior during initialization
type Options struct {
	MaxSize        int // Queue capacity (items beyond it are dropped/evicted)
	MaxConcurrency int // Concurrency cap for handler execution
}

// DefaultOptions returns the default queue options
func DefaultOptions() *Options {
	return &Options{
		MaxSize:        1024,
		MaxConcurrency: 8,
	}
}

// --------------------------------------------------------------------------
// Event Queue
// --------------------------------------------------------------------------

var (
	droppedTotal    = metrics.NewCounter("skv_queue_dropped_total")
	dispatchedTotal = metrics.NewCounter("skv_queue_dispatched_total")
	handlerErrors   = metrics.NewCounter("skv_queue_handler_errors_total")
)

// EventQueue is a bounded FIFO queue with tiered admission and a
// concurrency-capped background dispatch loop.
type EventQueue struct {
	opts    Options
	handler Handler

	mu    sync.Mutex
	items *list.List // of Item

	inFlight atomic.Int64
	dropped  atomic.Uint64
	closed   atomic.Bool

	wake chan struct{}
	done chan struct{}
	loop sync.WaitGroup

	logger logging.Logger
}

// NewEventQueue creates a queue and starts its dispatch loop. The handler is
// invoked for every dequeued item; it must be safe for concurrent use up to
// MaxConcurrency parallel invocations.
//
// A nil handler creates an admission-only queue: events are buffered and the
// admission policy applies, but nothing is dispatched. This is the state
// before the protocol-binding layer has attached its handler.
func NewEventQueue(handler Handler, opts *Options) *EventQueue {
	if opts == nil {
		opts = DefaultOptions()
	}

	q := &EventQueue{
		opts:    *opts,
		handler: handler,
		items:   list.New(),
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
		logger:  logging.New("queue"),
	}

	if handler != nil {
		q.loop.Add(1)
		go q.dispatch()
	}

	return q
}

// Enqueue appends an event. It returns false if the queue is closed or the
// item was dropped by the admission policy.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (q *EventQueue) Enqueue(kind string, payload []byte, prio Priority) bool {
	if q.closed.Load() {
		return false
	}

	item := Item{
		Kind:     kind,
		Payload:  payload,
		Priority: prio,
		Enqueued: time.Now(),
	}

	q.mu.Lock()
	if q.items.Len() >= q.opts.MaxSize {
		// Admission under pressure: NOISE is dropped outright, anything
		// higher evicts the oldest queued item regardless of its tier.
		if prio == PriorityNoise {
			q.mu.Unlock()
			q.dropped.Add(1)
			droppedTotal.Inc()
			q.logger.Debugf("queue full, dropped %s event %q", prio, kind)
			return false
		}

		if front := q.items.Front(); front != nil {
			evicted := q.items.Remove(front).(Item)
			q.dropped.Add(1)
			droppedTotal.Inc()
			q.logger.Debugf("queue full, evicted oldest %s event %q for %s event %q",
				evicted.Priority, evicted.Kind, prio, kind)
		}
	}
	q.items.PushBack(item)
	q.mu.Unlock()

	q.signal()
	return true
}

// signal wakes the dispatch loop without blocking the producer
func (q *EventQueue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// dispatch is the queue's consumer loop. It drains items while the in-flight
// count is below the concurrency cap and parks otherwise; handler completion
// re-wakes it.
func (q *EventQueue) dispatch() {
	defer q.loop.Done()

	for {
		for {
			if q.inFlight.Load() >= int64(q.opts.MaxConcurrency) {
				break
			}

			q.mu.Lock()
			front := q.items.Front()
			if front == nil {
				q.mu.Unlock()
				break
			}
			item := q.items.Remove(front).(Item)
			q.mu.Unlock()

			q.inFlight.Add(1)
			go q.run(item)
		}

		select {
		case <-q.wake:
		case <-q.done:
			return
		}
	}
}

// run executes one handler invocation with per-item failure containment
func (q *EventQueue) run(item Item) {
	defer func() {
		if r := recover(); r != nil {
			handlerErrors.Inc()
			q.logger.Errorf("handler panic for %s event %q: %v", item.Priority, item.Kind, r)
		}
		q.inFlight.Add(-1)
		q.signal()
	}()

	dispatchedTotal.Inc()
	if err := q.handler(item); err != nil {
		handlerErrors.Inc()
		q.logger.Warnf("handler failed for %s event %q: %v", item.Priority, item.Kind, err)
	}
}

// Stats returns a point-in-time view of queue pressure.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (q *EventQueue) Stats() Stats {
	q.mu.Lock()
	depth := q.items.Len()
	q.mu.Unlock()

	return Stats{
		Depth:    depth,
		InFlight: int(q.inFlight.Load()),
		Dropped:  q.dropped.Load(),
	}
}

// Close stops admission and shuts down the dispatch loop. Items still queued
// at close time are discarded; in-flight handlers run to completion.
func (q *EventQueue) Close() {
	if !q.closed.CompareAndSwap(false, true) {
		return
	}
	close(q.done)
	q.loop.Wait()
}

// IsClosed returns true if the queue is closed.
func (q *EventQueue) IsClosed() bool {
	return q.closed.Load()
}

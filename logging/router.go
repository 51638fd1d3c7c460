package logging

import (
	"context"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

type Clock interface {
	Now() time.Time
}

type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time {
	return f()
}

// SystemClock reads the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

type Sink interface {
	Write(Event) error
	Close(context.Context) error
}

// NamedSink registers a sink with the router. A sink with Categories only
// receives events of those categories.
type NamedSink struct {
	Name       string
	Sink       Sink
	Categories []string
}

// Router fans published events out to sink workers without blocking the
// publisher. Events that do not fit in the queue are dropped and counted.
type Router struct {
	cfg      Config
	clock    Clock
	fallback *log.Logger
	fields   map[string]any

	queue   chan Event
	stop    chan struct{}
	workers []*sinkWorker
	wg      sync.WaitGroup

	closed    atomic.Bool
	published atomic.Uint64
	dropped   atomic.Uint64
	nextWarn  atomic.Int64
}

// RouterStats reports delivery counters for the router and each sink.
type RouterStats struct {
	EventsTotal  uint64
	DroppedTotal uint64
	Sinks        map[string]SinkStats
}

type SinkStats struct {
	Written  uint64
	Skipped  uint64
	Dropped  uint64
	Failures uint64
}

func NewRouter(clock Clock, cfg Config, fallback *log.Logger, namedSinks []NamedSink) *Router {
	if clock == nil {
		clock = SystemClock{}
	}
	if fallback == nil {
		fallback = log.New(os.Stderr, "[logging] ", log.LstdFlags)
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 256
	}
	if cfg.DropWarnInterval <= 0 {
		cfg.DropWarnInterval = 5 * time.Second
	}

	r := &Router{
		cfg:      cfg,
		clock:    clock,
		fallback: fallback,
		fields:   cfg.CloneFields(),
		queue:    make(chan Event, cfg.BufferSize),
		stop:     make(chan struct{}),
	}
	backlog := min(max(cfg.BufferSize, 32), 1024)
	for _, named := range namedSinks {
		if named.Sink == nil {
			continue
		}
		r.workers = append(r.workers, newSinkWorker(named, backlog, clock, fallback))
	}

	r.wg.Add(1 + len(r.workers))
	go r.dispatch()
	for _, w := range r.workers {
		go func(w *sinkWorker) {
			defer r.wg.Done()
			w.run()
		}(w)
	}
	return r
}

// dispatch moves events from the shared queue to every interested sink until
// Close, then flushes what is left.
func (r *Router) dispatch() {
	defer r.wg.Done()
	defer func() {
		for _, w := range r.workers {
			close(w.backlog)
		}
	}()
	for {
		select {
		case event := <-r.queue:
			r.route(event)
		case <-r.stop:
			for {
				select {
				case event := <-r.queue:
					r.route(event)
				default:
					return
				}
			}
		}
	}
}

func (r *Router) route(event Event) {
	if event.Severity < r.cfg.MinimumSeverity {
		return
	}
	if event.Time.IsZero() {
		event.Time = r.clock.Now()
	}
	if len(r.fields) > 0 {
		event = cloneEvent(event)
		if event.Extra == nil {
			event.Extra = make(map[string]any, len(r.fields))
		}
		for k, v := range r.fields {
			if _, set := event.Extra[k]; !set {
				event.Extra[k] = v
			}
		}
	}
	r.published.Add(1)
	for _, w := range r.workers {
		w.offer(event)
	}
}

func (r *Router) Publish(_ context.Context, event Event) {
	if event.Type == "" || r.closed.Load() {
		return
	}
	select {
	case r.queue <- event:
	default:
		r.dropped.Add(1)
		r.warnDrop(event)
	}
}

// warnDrop logs at most one dropped event per DropWarnInterval.
func (r *Router) warnDrop(event Event) {
	now := r.clock.Now().UnixNano()
	next := r.nextWarn.Load()
	if now < next {
		return
	}
	if r.nextWarn.CompareAndSwap(next, now+r.cfg.DropWarnInterval.Nanoseconds()) {
		r.fallback.Printf("queue full, dropping %s from %s (%d dropped so far)", event.Type, event.Actor.ID, r.dropped.Load())
	}
}

// Close stops dispatch, flushes queued events to the sinks and closes them.
// Calling Close again is a no-op.
func (r *Router) Close(ctx context.Context) error {
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(r.stop)

	flushed := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(flushed)
	}()
	select {
	case <-flushed:
	case <-ctx.Done():
		return ctx.Err()
	}

	var firstErr error
	for _, w := range r.workers {
		if err := w.sink.Close(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (r *Router) Stats() RouterStats {
	stats := RouterStats{
		EventsTotal:  r.published.Load(),
		DroppedTotal: r.dropped.Load(),
		Sinks:        make(map[string]SinkStats, len(r.workers)),
	}
	for _, w := range r.workers {
		stats.Sinks[w.name] = SinkStats{
			Written:  w.written.Load(),
			Skipped:  w.skipped.Load(),
			Dropped:  w.dropped.Load(),
			Failures: w.failures.Load(),
		}
	}
	return stats
}

func (r *Router) Sink(name string) Sink {
	for _, w := range r.workers {
		if w.name == name {
			return w.sink
		}
	}
	return nil
}

// sinkWorker owns one sink. A failing sink backs off exponentially, up to
// 32s, while its backlog keeps absorbing events.
type sinkWorker struct {
	name       string
	sink       Sink
	categories map[string]struct{}
	backlog    chan Event
	clock      Clock
	fallback   *log.Logger

	written  atomic.Uint64
	skipped  atomic.Uint64
	dropped  atomic.Uint64
	failures atomic.Uint64

	streak   int
	resumeAt time.Time
}

func newSinkWorker(named NamedSink, backlog int, clock Clock, fallback *log.Logger) *sinkWorker {
	w := &sinkWorker{
		name:     named.Name,
		sink:     named.Sink,
		backlog:  make(chan Event, backlog),
		clock:    clock,
		fallback: fallback,
	}
	if len(named.Categories) > 0 {
		w.categories = make(map[string]struct{}, len(named.Categories))
		for _, category := range named.Categories {
			w.categories[category] = struct{}{}
		}
	}
	return w
}

func (w *sinkWorker) offer(event Event) {
	if w.categories != nil {
		if _, ok := w.categories[event.Category]; !ok {
			w.skipped.Add(1)
			return
		}
	}
	select {
	case w.backlog <- cloneEvent(event):
	default:
		w.dropped.Add(1)
		w.fallback.Printf("sink %s backlog full, dropping %s", w.name, event.Type)
	}
}

func (w *sinkWorker) run() {
	for event := range w.backlog {
		if w.streak > 0 {
			if wait := w.resumeAt.Sub(w.clock.Now()); wait > 0 {
				time.Sleep(wait)
			}
		}
		if err := w.sink.Write(event); err != nil {
			w.failures.Add(1)
			w.streak++
			delay := time.Second << min(w.streak, 5)
			w.resumeAt = w.clock.Now().Add(delay)
			w.fallback.Printf("sink %s failed: %v (retry in %s)", w.name, err, delay)
			continue
		}
		w.written.Add(1)
		w.streak = 0
	}
}

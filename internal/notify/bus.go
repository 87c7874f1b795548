// Package notify delivers store change events to observers on a dedicated
// dispatch goroutine so that mutating callers never wait on observer work.
package notify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"worktally/internal/metrics"
	"worktally/pkg/domain"
)

// ErrClosed is returned by Post once Close has been called.
var ErrClosed = errors.New("notification bus closed")

// Observer receives events in post order, one at a time.
type Observer interface {
	Notify(ctx context.Context, event domain.Event) error
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(ctx context.Context, event domain.Event) error

// Notify implements Observer.
func (f ObserverFunc) Notify(ctx context.Context, event domain.Event) error {
	return f(ctx, event)
}

// Options configures a Bus.
type Options struct {
	// Capacity bounds the queue; zero means unbounded and Post never blocks.
	Capacity int
	Logger   *slog.Logger
	// Registerer receives the bus metrics; nil uses a private registry.
	Registerer prometheus.Registerer
	// Name labels log records and metrics, typically the store location.
	Name string
}

type item struct {
	event domain.Event
	stop  bool
}

// Bus is a single-dispatcher event queue.
type Bus struct {
	name     string
	capacity int
	logger   *slog.Logger
	metrics  *busMetrics

	mu      sync.Mutex
	queue   []item
	closed  bool
	wake    chan struct{}
	room    chan struct{}
	closing chan struct{}

	obsMu     sync.RWMutex
	observers map[uint64]Observer
	order     []uint64
	nextID    uint64

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

// New constructs a bus. Call Start before posting.
func New(opts Options) *Bus {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	reg := opts.Registerer
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Bus{
		name:      opts.Name,
		capacity:  opts.Capacity,
		logger:    logger.With("component", "notify", "bus", opts.Name),
		metrics:   newBusMetrics(reg, opts.Name),
		wake:      make(chan struct{}, 1),
		room:      make(chan struct{}, 1),
		closing:   make(chan struct{}),
		observers: make(map[uint64]Observer),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start launches the dispatch goroutine.
func (b *Bus) Start() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started {
		return
	}
	b.started = true
	b.wg.Add(1)
	go b.loop()
}

// Subscribe registers an observer and returns a function that removes it.
func (b *Bus) Subscribe(o Observer) (unsubscribe func()) {
	b.obsMu.Lock()
	defer b.obsMu.Unlock()
	b.nextID++
	id := b.nextID
	b.observers[id] = o
	b.order = append(b.order, id)
	var once sync.Once
	return func() {
		once.Do(func() {
			b.obsMu.Lock()
			defer b.obsMu.Unlock()
			delete(b.observers, id)
			for i, v := range b.order {
				if v == id {
					b.order = append(b.order[:i], b.order[i+1:]...)
					break
				}
			}
		})
	}
}

// Post enqueues an event. With a bounded queue it waits for space until ctx
// is done.
func (b *Bus) Post(ctx context.Context, event domain.Event) error {
	for {
		b.mu.Lock()
		if b.closed {
			b.mu.Unlock()
			return ErrClosed
		}
		if b.capacity <= 0 || len(b.queue) < b.capacity {
			b.queue = append(b.queue, item{event: event})
			depth := len(b.queue)
			b.mu.Unlock()
			b.metrics.posted.Inc()
			b.metrics.depth.Set(float64(depth))
			signal(b.wake)
			return nil
		}
		b.mu.Unlock()
		select {
		case <-b.room:
		case <-b.closing:
		case <-ctx.Done():
			return fmt.Errorf("post %s: %w", event, ctx.Err())
		}
	}
}

// Pending reports the number of queued events not yet dispatched.
func (b *Bus) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, it := range b.queue {
		if !it.stop {
			n++
		}
	}
	return n
}

// Close enqueues the shutdown sentinel and waits until every event posted
// before it has been delivered. Further posts fail with ErrClosed.
func (b *Bus) Close(ctx context.Context) error {
	b.mu.Lock()
	if !b.closed {
		b.closed = true
		b.queue = append(b.queue, item{stop: true})
		close(b.closing)
	}
	started := b.started
	b.mu.Unlock()
	signal(b.wake)
	if !started {
		b.cancel()
		return nil
	}

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("drain notification bus: %w", ctx.Err())
	}
}

func (b *Bus) loop() {
	defer b.wg.Done()
	defer b.cancel()
	for {
		b.mu.Lock()
		if len(b.queue) == 0 {
			b.mu.Unlock()
			<-b.wake
			continue
		}
		next := b.queue[0]
		b.queue[0] = item{}
		b.queue = b.queue[1:]
		depth := len(b.queue)
		b.mu.Unlock()
		b.metrics.depth.Set(float64(depth))
		signal(b.room)

		if next.stop {
			return
		}
		b.dispatch(next.event)
	}
}

func (b *Bus) dispatch(event domain.Event) {
	b.obsMu.RLock()
	observers := make([]Observer, 0, len(b.order))
	for _, id := range b.order {
		observers = append(observers, b.observers[id])
	}
	b.obsMu.RUnlock()

	for _, o := range observers {
		if err := b.notify(o, event); err != nil {
			b.metrics.failures.Inc()
			b.logger.Error("observer failed", "event", event.String(), "error", err)
		}
	}
	b.metrics.delivered.Inc()
}

func (b *Bus) notify(o Observer, event domain.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("observer panic: %v", r)
		}
	}()
	return o.Notify(b.ctx, event)
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

type busMetrics struct {
	depth     prometheus.Gauge
	posted    prometheus.Counter
	delivered prometheus.Counter
	failures  prometheus.Counter
}

func newBusMetrics(reg prometheus.Registerer, name string) *busMetrics {
	labels := prometheus.Labels{"bus": name}
	return &busMetrics{
		depth: metrics.Register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "worktally_notify_queue_depth",
			Help:        "Events waiting for dispatch",
			ConstLabels: labels,
		})),
		posted: metrics.Register(reg, prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "worktally_notify_posted_total",
			Help:        "Events posted to the bus",
			ConstLabels: labels,
		})),
		delivered: metrics.Register(reg, prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "worktally_notify_delivered_total",
			Help:        "Events delivered to every observer",
			ConstLabels: labels,
		})),
		failures: metrics.Register(reg, prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "worktally_notify_observer_failures_total",
			Help:        "Observer errors and recovered panics",
			ConstLabels: labels,
		})),
	}
}

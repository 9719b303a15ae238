package xstream

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xlog"
)

// DefaultMaxDepth bounds re-publish chains when no explicit limit is configured.
const DefaultMaxDepth = 32

var _ API = (*Router)(nil)

// Router owns every Channel and performs publish dispatch and chained re-publishing.
//
// Topology (channels and subscribers) is built before the first Publish and is
// immutable afterwards, so concurrent publishes read it without locking.
type Router struct {
	clock          xclock.Clock
	logger         *xlog.Logger
	middlewares    []Middleware
	maxDepth       int
	publishTimeout time.Duration

	observerPool *ObserverPool
	observersMu  sync.RWMutex
	observers    []Observer
	metrics      *routerMetrics

	setupMu  sync.Mutex
	sealed   atomic.Bool
	channels map[string]*Channel
	order    []string
	inputs   map[string][]*Channel // destination -> input channels, creation order

	closed    atomic.Bool
	closeOnce sync.Once
}

// routerMetrics uses lock-free atomics so publishes never contend on telemetry.
type routerMetrics struct {
	published    atomic.Uint64
	delivered    atomic.Uint64
	republished  atomic.Uint64
	failures     atomic.Uint64
	cycles       atomic.Uint64
	processingNs atomic.Int64
}

func newRouter(clock xclock.Clock, logger *xlog.Logger) *Router {
	return &Router{
		clock:    clock,
		logger:   logger,
		maxDepth: DefaultMaxDepth,
		metrics:  &routerMetrics{},
		channels: make(map[string]*Channel),
		inputs:   make(map[string][]*Channel),
	}
}

// CreateChannel declares a named channel. Names are unique within a Router.
func (r *Router) CreateChannel(name string, dir Direction, opts ...ChannelOption) (*Channel, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: channel name must not be empty", ErrConfiguration)
	}
	if dir != Output && dir != Input {
		return nil, fmt.Errorf("%w: channel %q: invalid direction %s", ErrConfiguration, name, dir)
	}

	ch := &Channel{
		name:        name,
		direction:   dir,
		destination: name,
		router:      r,
	}
	for _, o := range opts {
		if o != nil {
			o(ch)
		}
	}

	r.setupMu.Lock()
	defer r.setupMu.Unlock()

	if r.sealed.Load() {
		return nil, fmt.Errorf("%w: channel %q: topology is fixed after the first publish", ErrConfiguration, name)
	}
	if _, exists := r.channels[name]; exists {
		return nil, fmt.Errorf("%w: %q", ErrDuplicateChannel, name)
	}

	r.channels[name] = ch
	r.order = append(r.order, name)
	if dir == Input {
		r.inputs[ch.destination] = append(r.inputs[ch.destination], ch)
	}
	return ch, nil
}

// Subscribe registers sub on the named input channel.
func (r *Router) Subscribe(channel string, sub Subscriber) error {
	ch, ok := r.Channel(channel)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownChannel, channel)
	}
	return ch.RegisterSubscriber(sub)
}

// Channel looks up a channel by name.
func (r *Router) Channel(name string) (*Channel, bool) {
	if r.sealed.Load() {
		ch, ok := r.channels[name]
		return ch, ok
	}
	r.setupMu.Lock()
	defer r.setupMu.Unlock()
	ch, ok := r.channels[name]
	return ch, ok
}

// Channels lists channel names in creation order.
func (r *Router) Channels() []string {
	r.setupMu.Lock()
	defer r.setupMu.Unlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Sealed reports whether the topology has been frozen by a publish.
func (r *Router) Sealed() bool { return r.sealed.Load() }

// seal freezes the topology. Taking setupMu once orders every setup write
// before the lock-free reads done by publishes.
func (r *Router) seal() {
	if r.sealed.Load() {
		return
	}
	r.setupMu.Lock()
	r.sealed.Store(true)
	r.setupMu.Unlock()
}

// MaxDepth returns the configured re-publish depth bound.
func (r *Router) MaxDepth() int { return r.maxDepth }

// GetMetrics returns current router metrics.
func (r *Router) GetMetrics() Metrics {
	var dropped uint64
	if r.observerPool != nil {
		dropped = r.observerPool.Stats().Dropped
	}
	return Metrics{
		Published:           r.metrics.published.Load(),
		Delivered:           r.metrics.delivered.Load(),
		Republished:         r.metrics.republished.Load(),
		Failures:            r.metrics.failures.Load(),
		Cycles:              r.metrics.cycles.Load(),
		EventsDropped:       dropped,
		AvgProcessingTimeMs: float64(r.metrics.processingNs.Load()) / 1e6,
	}
}

// Health reports router health for readiness probes.
func (r *Router) Health(_ context.Context) HealthStatus {
	if r.closed.Load() {
		return HealthStatus{
			Status:    "unhealthy",
			Timestamp: r.clock.Now(),
			Message:   "router is closed",
		}
	}

	metrics := r.GetMetrics()
	status := "healthy"

	// Degraded when more than 5% of publishes produced a failure.
	if metrics.Failures > 0 && metrics.Published > 0 {
		failureRate := float64(metrics.Failures) / float64(metrics.Published)
		if failureRate > 0.05 {
			status = "degraded"
		}
	}

	return HealthStatus{
		Status:    status,
		Metrics:   metrics,
		Timestamp: r.clock.Now(),
	}
}

// Close stops accepting publishes and drains the observer pool. Idempotent.
func (r *Router) Close(_ context.Context) error {
	var closeErr error

	r.closeOnce.Do(func() {
		r.closed.Store(true)
		r.seal()

		if r.observerPool != nil {
			if err := r.observerPool.Close(5 * time.Second); err != nil {
				r.logger.Warn().Err(err).Msg("xstream: observer pool shutdown timeout")
				closeErr = err
			}
		}
	})

	return closeErr
}

// AddObserver registers an observer (thread-safe).
func (r *Router) AddObserver(obs Observer) {
	if obs == nil {
		return
	}
	r.observersMu.Lock()
	r.observers = append(r.observers, obs)
	r.observersMu.Unlock()
}

// RemoveObserver removes an observer. obs must be comparable; pass pointer observers
// rather than ObserverFunc values when removal is needed.
func (r *Router) RemoveObserver(obs Observer) {
	if obs == nil {
		return
	}
	r.observersMu.Lock()
	defer r.observersMu.Unlock()

	for i, o := range r.observers {
		if o == obs {
			r.observers = append(r.observers[:i], r.observers[i+1:]...)
			break
		}
	}
}

// notify hands e to the observer pool, or calls observers inline when no pool is configured.
func (r *Router) notify(e Event) {
	if r.closed.Load() {
		return
	}

	r.observersMu.RLock()
	if len(r.observers) == 0 {
		r.observersMu.RUnlock()
		return
	}
	observers := make([]Observer, len(r.observers))
	copy(observers, r.observers)
	r.observersMu.RUnlock()

	if r.observerPool != nil {
		r.observerPool.Notify(e, observers)
		return
	}
	for _, o := range observers {
		func() {
			defer func() { _ = recover() }()
			o.OnEvent(e)
		}()
	}
}

// recordProcessingTime keeps an exponential moving average of publish durations.
func (r *Router) recordProcessingTime(ns int64) {
	const alpha = 0.2
	current := r.metrics.processingNs.Load()
	if current == 0 {
		r.metrics.processingNs.Store(ns)
		return
	}
	r.metrics.processingNs.Store(int64(float64(ns)*alpha + float64(current)*(1-alpha)))
}

package xstream

import (
	"context"
	"fmt"
	"time"

	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xlog"
)

// RouterBuilder constructs Router instances (Builder pattern).
type RouterBuilder struct {
	middlewares    []Middleware
	observers      []Observer
	logger         *xlog.Logger
	clock          xclock.Clock
	maxDepth       int
	publishTimeout time.Duration
	topology       *Topology

	poolWorkers int
	poolBuffer  int
}

// NewRouterBuilder returns a new builder with sensible defaults.
func NewRouterBuilder() *RouterBuilder {
	return &RouterBuilder{maxDepth: DefaultMaxDepth}
}

func (rb *RouterBuilder) WithMiddleware(mw ...Middleware) *RouterBuilder {
	if len(mw) == 0 {
		return rb
	}
	rb.middlewares = append(rb.middlewares, mw...)
	return rb
}

func (rb *RouterBuilder) WithObserver(obs ...Observer) *RouterBuilder {
	for _, o := range obs {
		if o != nil {
			rb.observers = append(rb.observers, o)
		}
	}
	return rb
}

// WithObserverPool dispatches observer events asynchronously. Without it observers run inline.
func (rb *RouterBuilder) WithObserverPool(workers, bufferSize int) *RouterBuilder {
	rb.poolWorkers = workers
	rb.poolBuffer = bufferSize
	return rb
}

func (rb *RouterBuilder) WithLogger(l *xlog.Logger) *RouterBuilder {
	rb.logger = l
	return rb
}

func (rb *RouterBuilder) WithClock(c xclock.Clock) *RouterBuilder {
	rb.clock = c
	return rb
}

// WithMaxDepth bounds re-publish chains. Values below 1 keep the default.
func (rb *RouterBuilder) WithMaxDepth(n int) *RouterBuilder {
	if n > 0 {
		rb.maxDepth = n
	}
	return rb
}

// WithPublishTimeout gives every top-level publish a deadline.
func (rb *RouterBuilder) WithPublishTimeout(d time.Duration) *RouterBuilder {
	if d > 0 {
		rb.publishTimeout = d
	}
	return rb
}

// WithTopology declares channels and stage subscribers to create during Build.
func (rb *RouterBuilder) WithTopology(t Topology) *RouterBuilder {
	rb.topology = &t
	return rb
}

func (rb *RouterBuilder) Build() (*Router, error) {
	clk := rb.clock
	if clk == nil {
		clk = xclock.Default()
	}
	lg := rb.logger
	if lg == nil {
		lg = xlog.Default()
	}

	r := newRouter(clk, lg)
	r.maxDepth = rb.maxDepth
	r.publishTimeout = rb.publishTimeout
	r.middlewares = rb.middlewares

	if rb.poolWorkers > 0 || rb.poolBuffer > 0 {
		r.observerPool = NewObserverPool(rb.poolWorkers, rb.poolBuffer)
	}

	// Attach logging observer first unless one was supplied externally.
	hasLoggingObserver := false
	for _, o := range rb.observers {
		if _, ok := o.(LoggingObserver); ok {
			hasLoggingObserver = true
			break
		}
	}
	if !hasLoggingObserver {
		r.AddObserver(LoggingObserver{Logger: lg})
	}
	for _, o := range rb.observers {
		r.AddObserver(o)
	}

	if rb.topology != nil {
		if err := rb.topology.Apply(r); err != nil {
			_ = r.Close(context.Background())
			return nil, fmt.Errorf("apply topology: %w", err)
		}
	}

	return r, nil
}

// New constructs a Router via Builder and returns a close func for convenience.
func New(init func(b *RouterBuilder)) (*Router, func() error, error) {
	b := NewRouterBuilder()
	if init != nil {
		init(b)
	}
	r, err := b.Build()
	if err != nil {
		return nil, nil, err
	}
	closeFn := func() error { return r.Close(context.Background()) }
	return r, closeFn, nil
}

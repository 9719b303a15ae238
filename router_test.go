package xstream

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter(t *testing.T, init func(b *RouterBuilder)) *Router {
	t.Helper()
	r, closeFn, err := New(init)
	require.NoError(t, err)
	t.Cleanup(func() { _ = closeFn() })
	return r
}

// inputOn creates an input channel bound to dest and registers subs on it.
func inputOn(t *testing.T, r *Router, name, dest string, subs ...Subscriber) *Channel {
	t.Helper()
	ch, err := r.CreateChannel(name, Input, WithDestination(dest))
	require.NoError(t, err)
	for _, s := range subs {
		require.NoError(t, ch.RegisterSubscriber(s))
	}
	return ch
}

func TestRouter_CreateChannel(t *testing.T) {
	r := newTestRouter(t, nil)

	ch, err := r.CreateChannel("output", Output)
	require.NoError(t, err)
	assert.Equal(t, "output", ch.Name())
	assert.Equal(t, Output, ch.Direction())
	assert.Equal(t, "output", ch.Destination(), "destination defaults to the channel name")

	_, err = r.CreateChannel("output", Input)
	assert.ErrorIs(t, err, ErrDuplicateChannel)

	_, err = r.CreateChannel("", Input)
	assert.ErrorIs(t, err, ErrConfiguration)

	_, err = r.CreateChannel("in", Input, WithDestination("raw"))
	require.NoError(t, err)
	assert.Equal(t, []string{"output", "in"}, r.Channels())
}

func TestRouter_PublishUnknownChannel(t *testing.T) {
	r := newTestRouter(t, nil)

	err := r.Publish(context.Background(), "nope", NewEnvelope("x", nil))
	assert.ErrorIs(t, err, ErrUnknownChannel)

	// a rejected publish leaves the topology open
	assert.False(t, r.Sealed())
	_, err = r.CreateChannel("nope", Input)
	assert.NoError(t, err)
}

func TestChannel_RegisterSubscriberRules(t *testing.T) {
	r := newTestRouter(t, nil)
	noop := SinkFunc(func(context.Context, Envelope) error { return nil })

	out, err := r.CreateChannel("out", Output)
	require.NoError(t, err)
	assert.ErrorIs(t, out.RegisterSubscriber(noop), ErrConfiguration)

	in, err := r.CreateChannel("in", Input)
	require.NoError(t, err)
	assert.ErrorIs(t, in.RegisterSubscriber(nil), ErrConfiguration)
	require.NoError(t, in.RegisterSubscriber(noop))
	assert.Equal(t, 1, in.Subscribers())

	assert.ErrorIs(t, r.Subscribe("missing", noop), ErrUnknownChannel)
}

func TestChannel_RegisterAfterPublishFails(t *testing.T) {
	r := newTestRouter(t, nil)
	noop := SinkFunc(func(context.Context, Envelope) error { return nil })
	in := inputOn(t, r, "in", "in", noop)

	require.NoError(t, r.Publish(context.Background(), "in", NewEnvelope("x", nil)))
	assert.True(t, r.Sealed())

	assert.ErrorIs(t, in.RegisterSubscriber(noop), ErrConfiguration)
	_, err := r.CreateChannel("late", Input)
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestRouter_OutputReachesInputsOnSameDestination(t *testing.T) {
	r := newTestRouter(t, nil)

	var got []string
	record := func(tag string) Subscriber {
		return SinkFunc(func(ctx context.Context, env Envelope) error {
			ch, _ := ChannelFromContext(ctx)
			got = append(got, tag+":"+ch+":"+env.Payload())
			return nil
		})
	}

	_, err := r.CreateChannel("output", Output, WithDestination("raw"))
	require.NoError(t, err)
	inputOn(t, r, "a", "raw", record("a1"), record("a2"))
	inputOn(t, r, "b", "raw", record("b1"))
	inputOn(t, r, "other", "elsewhere", record("never"))

	require.NoError(t, r.Publish(context.Background(), "output", NewEnvelope("m", nil)))
	assert.Equal(t, []string{"a1:a:m", "a2:a:m", "b1:b:m"}, got)
}

func TestRouter_RepublishIsDepthFirst(t *testing.T) {
	r := newTestRouter(t, nil)

	var trace []string
	_, err := r.CreateChannel("next", Output, WithDestination("second"))
	require.NoError(t, err)

	inputOn(t, r, "first", "first",
		func(_ context.Context, env Envelope) (*Reply, error) {
			trace = append(trace, "first/0")
			return SendTo("next", env.WithPayload(env.Payload()+"!")), nil
		},
		SinkFunc(func(context.Context, Envelope) error {
			trace = append(trace, "first/1")
			return nil
		}),
	)
	inputOn(t, r, "second", "second", SinkFunc(func(ctx context.Context, env Envelope) error {
		depth, _ := DepthFromContext(ctx)
		trace = append(trace, fmt.Sprintf("second:%s:%d", env.Payload(), depth))
		return nil
	}))

	require.NoError(t, r.Publish(context.Background(), "first", NewEnvelope("go", nil)))
	assert.Equal(t, []string{"first/0", "second:go!:1", "first/1"}, trace)

	m := r.GetMetrics()
	assert.Equal(t, uint64(1), m.Published)
	assert.Equal(t, uint64(3), m.Delivered)
	assert.Equal(t, uint64(1), m.Republished)
}

func TestRouter_SubscriberFailuresAreIsolated(t *testing.T) {
	r := newTestRouter(t, nil)

	boom := errors.New("boom")
	var after atomic.Int32
	inputOn(t, r, "in", "in",
		SinkFunc(func(context.Context, Envelope) error { return boom }),
		func(context.Context, Envelope) (*Reply, error) { panic("kaboom") },
		SinkFunc(func(context.Context, Envelope) error {
			after.Add(1)
			return nil
		}),
	)

	err := r.Publish(context.Background(), "in", NewEnvelope("x", map[string]string{"trace": "t-1"}))
	require.Error(t, err)
	assert.Equal(t, int32(1), after.Load(), "later subscribers still run")

	var pe *PublishError
	require.ErrorAs(t, err, &pe)
	require.Len(t, pe.Failures, 2)
	assert.Equal(t, "in", pe.Channel)

	assert.ErrorIs(t, pe.Failures[0], boom)
	assert.Equal(t, 0, pe.Failures[0].Subscriber)
	assert.Equal(t, "t-1", pe.Failures[0].Headers["trace"])

	assert.ErrorIs(t, pe.Failures[1], ErrSubscriberPanic)
	assert.Equal(t, 1, pe.Failures[1].Subscriber)

	assert.ErrorIs(t, err, ErrSubscriberFailure)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, uint64(2), r.GetMetrics().Failures)
}

func TestRouter_CycleAbortsChainAndRouterStaysUsable(t *testing.T) {
	r := newTestRouter(t, func(b *RouterBuilder) { b.WithMaxDepth(4) })

	var calls atomic.Int32
	bounce := func(target string) Subscriber {
		return func(_ context.Context, env Envelope) (*Reply, error) {
			calls.Add(1)
			return SendTo(target, env), nil
		}
	}
	inputOn(t, r, "A", "A", bounce("B"))
	inputOn(t, r, "B", "B", bounce("A"))

	var sunk atomic.Int32
	inputOn(t, r, "unrelated", "unrelated", SinkFunc(func(context.Context, Envelope) error {
		sunk.Add(1)
		return nil
	}))

	err := r.Publish(context.Background(), "A", NewEnvelope("ping", nil))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPipelineCycle)
	assert.Equal(t, int32(5), calls.Load(), "deliveries at depth 0 through max depth")

	var pe *PublishError
	require.ErrorAs(t, err, &pe)
	require.Len(t, pe.Failures, 1)
	assert.Equal(t, 4, pe.Failures[0].Depth)
	assert.Equal(t, uint64(1), r.GetMetrics().Cycles)

	require.NoError(t, r.Publish(context.Background(), "unrelated", NewEnvelope("ok", nil)))
	assert.Equal(t, int32(1), sunk.Load())
}

func TestRouter_DefaultMaxDepth(t *testing.T) {
	r := newTestRouter(t, nil)
	assert.Equal(t, DefaultMaxDepth, r.MaxDepth())

	var calls atomic.Int32
	inputOn(t, r, "loop", "loop", func(_ context.Context, env Envelope) (*Reply, error) {
		calls.Add(1)
		return SendTo("loop", env), nil
	})

	err := r.Publish(context.Background(), "loop", NewEnvelope("x", nil))
	assert.ErrorIs(t, err, ErrPipelineCycle)
	assert.Equal(t, int32(DefaultMaxDepth+1), calls.Load())
}

func TestRouter_UnknownReplyTargetFailsOnlyThatChain(t *testing.T) {
	r := newTestRouter(t, nil)

	var second atomic.Int32
	inputOn(t, r, "in", "in",
		func(_ context.Context, env Envelope) (*Reply, error) { return SendTo("ghost", env), nil },
		SinkFunc(func(context.Context, Envelope) error {
			second.Add(1)
			return nil
		}),
	)

	err := r.Publish(context.Background(), "in", NewEnvelope("x", nil))
	assert.ErrorIs(t, err, ErrUnknownChannel)
	assert.Equal(t, int32(1), second.Load())
}

func TestRouter_CancelledContextStopsChain(t *testing.T) {
	r := newTestRouter(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	var ran []int
	inputOn(t, r, "in", "in",
		SinkFunc(func(context.Context, Envelope) error {
			ran = append(ran, 0)
			cancel()
			return nil
		}),
		SinkFunc(func(context.Context, Envelope) error {
			ran = append(ran, 1)
			return nil
		}),
	)

	err := r.Publish(ctx, "in", NewEnvelope("x", nil))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []int{0}, ran, "delivered effects stay, the rest is skipped")
}

func TestRouter_PublishTimeout(t *testing.T) {
	r := newTestRouter(t, func(b *RouterBuilder) { b.WithPublishTimeout(20 * time.Millisecond) })

	var second atomic.Int32
	inputOn(t, r, "in", "in",
		SinkFunc(func(ctx context.Context, _ Envelope) error {
			<-ctx.Done()
			return nil
		}),
		SinkFunc(func(context.Context, Envelope) error {
			second.Add(1)
			return nil
		}),
	)

	err := r.Publish(context.Background(), "in", NewEnvelope("slow", nil))
	assert.ErrorIs(t, err, ErrTimeout)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, int32(0), second.Load())
}

func TestRouter_ConcurrentPublishesDoNotInterleave(t *testing.T) {
	r := newTestRouter(t, nil)

	_, err := r.CreateChannel("step", Output, WithDestination("sink"))
	require.NoError(t, err)
	inputOn(t, r, "entry", "entry", func(_ context.Context, env Envelope) (*Reply, error) {
		return SendTo("step", env.WithHeader("origin", env.Payload())), nil
	})

	var mu sync.Mutex
	mismatches := 0
	seen := 0
	inputOn(t, r, "sink", "sink", SinkFunc(func(_ context.Context, env Envelope) error {
		origin, _ := env.Header("origin")
		mu.Lock()
		defer mu.Unlock()
		seen++
		if origin != env.Payload() {
			mismatches++
		}
		return nil
	}))

	const publishers = 16
	const perPublisher = 200
	var wg sync.WaitGroup
	for p := 0; p < publishers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perPublisher; i++ {
				payload := fmt.Sprintf("p%d-%d", p, i)
				assert.NoError(t, r.Publish(context.Background(), "entry", NewEnvelope(payload, nil)))
			}
		}(p)
	}
	wg.Wait()

	assert.Equal(t, publishers*perPublisher, seen)
	assert.Zero(t, mismatches)
}

func TestRouter_ClosedRejectsPublish(t *testing.T) {
	r := newTestRouter(t, nil)
	inputOn(t, r, "in", "in", SinkFunc(func(context.Context, Envelope) error { return nil }))

	require.NoError(t, r.Close(context.Background()))
	require.NoError(t, r.Close(context.Background()), "close is idempotent")

	assert.ErrorIs(t, r.Publish(context.Background(), "in", NewEnvelope("x", nil)), ErrRouterClosed)
	assert.Equal(t, "unhealthy", r.Health(context.Background()).Status)
}

func TestRouter_Health(t *testing.T) {
	r := newTestRouter(t, nil)
	inputOn(t, r, "ok", "ok", SinkFunc(func(context.Context, Envelope) error { return nil }))
	inputOn(t, r, "bad", "bad", SinkFunc(func(context.Context, Envelope) error { return errors.New("no") }))

	require.NoError(t, r.Publish(context.Background(), "ok", NewEnvelope("x", nil)))
	assert.Equal(t, "healthy", r.Health(context.Background()).Status)

	require.Error(t, r.Publish(context.Background(), "bad", NewEnvelope("x", nil)))
	h := r.Health(context.Background())
	assert.Equal(t, "degraded", h.Status)
	assert.Equal(t, uint64(2), h.Metrics.Published)
}

func TestRouter_PublishBatchMergesFailures(t *testing.T) {
	r := newTestRouter(t, nil)
	inputOn(t, r, "in", "in", SinkFunc(func(_ context.Context, env Envelope) error {
		if env.Payload() == "bad" {
			return errors.New("rejected")
		}
		return nil
	}))

	err := r.PublishBatch(context.Background(), "in",
		NewEnvelope("good", nil), NewEnvelope("bad", nil), NewEnvelope("bad", nil))
	var pe *PublishError
	require.ErrorAs(t, err, &pe)
	assert.Len(t, pe.Failures, 2)

	assert.NoError(t, r.PublishBatch(context.Background(), "in"))
	assert.ErrorIs(t, r.PublishBatch(context.Background(), "missing", NewEnvelope("x", nil)), ErrUnknownChannel)
}

func TestRouter_PublishBatchKeepsFailuresWhenClosedMidway(t *testing.T) {
	r := newTestRouter(t, nil)
	inputOn(t, r, "in", "in", SinkFunc(func(_ context.Context, env Envelope) error {
		_ = r.Close(context.Background())
		return errors.New("rejected " + env.Payload())
	}))

	err := r.PublishBatch(context.Background(), "in", NewEnvelope("a", nil), NewEnvelope("b", nil))
	assert.ErrorIs(t, err, ErrRouterClosed)

	var pe *PublishError
	require.ErrorAs(t, err, &pe)
	require.Len(t, pe.Failures, 1)
	assert.ErrorContains(t, pe.Failures[0], "rejected a")
}

type recordingObserver struct {
	mu    sync.Mutex
	types []EventType
}

func (o *recordingObserver) OnEvent(e Event) {
	o.mu.Lock()
	o.types = append(o.types, e.Type)
	o.mu.Unlock()
}

func (o *recordingObserver) seen() []EventType {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]EventType(nil), o.types...)
}

func TestRouter_ObserversSeeLifecycle(t *testing.T) {
	obs := &recordingObserver{}

	r := newTestRouter(t, func(b *RouterBuilder) { b.WithObserver(obs) })
	_, err := r.CreateChannel("to-sink", Output, WithDestination("sink"))
	require.NoError(t, err)
	inputOn(t, r, "in", "in", func(_ context.Context, env Envelope) (*Reply, error) {
		return SendTo("to-sink", env), nil
	})
	inputOn(t, r, "sink", "sink", SinkFunc(func(context.Context, Envelope) error { return nil }))

	require.NoError(t, r.Publish(context.Background(), "in", NewEnvelope("x", nil)))

	assert.Equal(t, []EventType{PublishStart, Deliver, Republish, Deliver, PublishDone}, obs.seen())

	r.RemoveObserver(obs)
	require.NoError(t, r.Publish(context.Background(), "sink", NewEnvelope("y", nil)))
	assert.Len(t, obs.seen(), 5)
}

func TestRouter_ObserverPoolDispatchesAsync(t *testing.T) {
	var count atomic.Int32
	r := newTestRouter(t, func(b *RouterBuilder) {
		b.WithObserverPool(2, 64).WithObserver(ObserverFunc(func(Event) { count.Add(1) }))
	})
	inputOn(t, r, "in", "in", SinkFunc(func(context.Context, Envelope) error { return nil }))

	require.NoError(t, r.Publish(context.Background(), "in", NewEnvelope("x", nil)))
	require.Eventually(t, func() bool { return count.Load() == 3 }, time.Second, 5*time.Millisecond)
}

func BenchmarkRouter_PublishChain(b *testing.B) {
	r, closeFn, err := New(nil)
	if err != nil {
		b.Fatalf("build router: %v", err)
	}
	defer func() { _ = closeFn() }()

	if _, err := r.CreateChannel("next", Output, WithDestination("sink")); err != nil {
		b.Fatal(err)
	}
	in, _ := r.CreateChannel("in", Input)
	_ = in.RegisterSubscriber(func(_ context.Context, env Envelope) (*Reply, error) {
		return SendTo("next", env.WithHeader("rawValue", env.Payload())), nil
	})
	sink, _ := r.CreateChannel("sink", Input)
	_ = sink.RegisterSubscriber(SinkFunc(func(context.Context, Envelope) error { return nil }))

	env := NewEnvelope("payload", nil)
	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := r.Publish(ctx, "in", env); err != nil {
			b.Fatalf("publish failed: %v", err)
		}
	}
}

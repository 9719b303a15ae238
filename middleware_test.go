package xstream

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xlog"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func TestChain_AppliesInOrder(t *testing.T) {
	var calls []string
	tag := func(name string) Middleware {
		return func(next Subscriber) Subscriber {
			return func(ctx context.Context, env Envelope) (*Reply, error) {
				calls = append(calls, name+">")
				reply, err := next(ctx, env)
				calls = append(calls, "<"+name)
				return reply, err
			}
		}
	}
	base := SinkFunc(func(context.Context, Envelope) error {
		calls = append(calls, "sub")
		return nil
	})

	_, err := Chain(base, tag("a"), nil, tag("b"))(context.Background(), NewEnvelope("x", nil))
	require.NoError(t, err)
	assert.Equal(t, []string{"a>", "b>", "sub", "<b", "<a"}, calls)
}

func TestRecoveryMiddleware(t *testing.T) {
	sub := RecoveryMiddleware()(func(context.Context, Envelope) (*Reply, error) {
		panic("bad input")
	})

	reply, err := sub(context.Background(), NewEnvelope("x", nil))
	assert.Nil(t, reply)
	assert.ErrorIs(t, err, ErrSubscriberPanic)
	assert.Contains(t, err.Error(), "bad input")
}

func TestTimeoutMiddleware(t *testing.T) {
	slow := func(ctx context.Context, _ Envelope) (*Reply, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Second):
			return nil, nil
		}
	}
	_, err := TimeoutMiddleware(10*time.Millisecond)(slow)(context.Background(), NewEnvelope("x", nil))
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	fast := func(_ context.Context, env Envelope) (*Reply, error) { return SendTo("next", env), nil }
	reply, err := TimeoutMiddleware(time.Second)(fast)(context.Background(), NewEnvelope("x", nil))
	require.NoError(t, err)
	require.NotNil(t, reply)
	assert.Equal(t, "next", reply.Channel)

	_, err = TimeoutMiddleware(time.Second)(func(context.Context, Envelope) (*Reply, error) {
		panic("inside goroutine")
	})(context.Background(), NewEnvelope("x", nil))
	assert.ErrorIs(t, err, ErrSubscriberPanic)
}

func TestTimeoutMiddleware_ThroughRouter(t *testing.T) {
	r := newTestRouter(t, func(b *RouterBuilder) { b.WithMiddleware(TimeoutMiddleware(10 * time.Millisecond)) })

	ran := false
	inputOn(t, r, "in", "in",
		SinkFunc(func(ctx context.Context, _ Envelope) error {
			<-ctx.Done()
			return ctx.Err()
		}),
		SinkFunc(func(context.Context, Envelope) error {
			ran = true
			return nil
		}),
	)

	err := r.Publish(context.Background(), "in", NewEnvelope("x", nil))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, ran, "a per-subscriber timeout only fails that delivery")
}

func TestTracingMiddleware_RecordsSpans(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	r := newTestRouter(t, func(b *RouterBuilder) { b.WithMiddleware(TracingMiddleware(tp.Tracer("test"))) })
	_, err := r.CreateChannel("out", Output, WithDestination("sink"))
	require.NoError(t, err)
	inputOn(t, r, "in", "in", func(_ context.Context, env Envelope) (*Reply, error) {
		return SendTo("out", env), nil
	})
	inputOn(t, r, "sink", "sink", SinkFunc(func(context.Context, Envelope) error {
		return errors.New("disk full")
	}))

	require.Error(t, r.Publish(context.Background(), "in", NewEnvelope("x", nil)))

	spans := sr.Ended()
	require.Len(t, spans, 2)

	// Replies are re-published after the producing span has ended.
	in, sink := spans[0], spans[1]
	assert.Equal(t, "deliver in", in.Name())
	assert.Equal(t, codes.Unset, in.Status().Code)
	assert.Equal(t, trace.SpanKindConsumer, in.SpanKind())

	assert.Equal(t, "deliver sink", sink.Name())
	assert.Equal(t, codes.Error, sink.Status().Code)
	require.Len(t, sink.Events(), 1, "the error is recorded on the span")
}

func TestLoggingMiddleware_PassesThrough(t *testing.T) {
	sub := LoggingMiddleware(xlog.Default())(func(_ context.Context, env Envelope) (*Reply, error) {
		return SendTo("next", env.WithPayload("y")), nil
	})
	ctx := InjectAll(context.Background(), xlog.Default(), xclock.Default(), "in", 0)

	reply, err := sub(ctx, NewEnvelope("x", nil))
	require.NoError(t, err)
	require.NotNil(t, reply)
	assert.Equal(t, "y", reply.Envelope.Payload())

	_, err = LoggingMiddleware(nil)(SinkFunc(func(context.Context, Envelope) error { return nil }))(ctx, NewEnvelope("x", nil))
	assert.NoError(t, err)
}

// stoppedClock reports a fixed instant and counts Since calls.
type stoppedClock struct {
	xclock.Clock
	at     time.Time
	sinces atomic.Int32
}

func (c *stoppedClock) Now() time.Time { return c.at }

func (c *stoppedClock) Since(t time.Time) time.Duration {
	c.sinces.Add(1)
	return c.at.Sub(t)
}

func TestLoggingMiddleware_UsesDeliveryClock(t *testing.T) {
	clk := &stoppedClock{Clock: xclock.Default(), at: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)}
	ctx := InjectAll(context.Background(), xlog.Default(), clk, "in", 0)

	sub := LoggingMiddleware(xlog.Default())(SinkFunc(func(context.Context, Envelope) error { return nil }))
	_, err := sub(ctx, NewEnvelope("x", nil))
	require.NoError(t, err)
	assert.Equal(t, int32(1), clk.sinces.Load())

	// no clock in the context falls back to the default one
	_, err = sub(context.Background(), NewEnvelope("x", nil))
	assert.NoError(t, err)
	assert.Equal(t, int32(1), clk.sinces.Load())
}

func TestContext_DeliveryValues(t *testing.T) {
	ctx := InjectAll(context.Background(), xlog.Default(), xclock.Default(), "processorInput", 3)

	ch, ok := ChannelFromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, "processorInput", ch)

	depth, ok := DepthFromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, 3, depth)

	_, ok = LoggerFromContext(ctx)
	assert.True(t, ok)
	_, ok = ClockFromContext(ctx)
	assert.True(t, ok)

	_, ok = ChannelFromContext(context.Background())
	assert.False(t, ok)
}

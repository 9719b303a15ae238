package xstream

import (
	"context"
	"fmt"
	"time"

	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xlog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/trickstertwo/xstream"

// RecoveryMiddleware converts subscriber panics into ErrSubscriberPanic errors.
// The router applies it to every subscriber before any configured middleware.
func RecoveryMiddleware() Middleware {
	return func(next Subscriber) Subscriber {
		return func(ctx context.Context, env Envelope) (reply *Reply, err error) {
			defer func() {
				if r := recover(); r != nil {
					reply = nil
					err = fmt.Errorf("%w: %v", ErrSubscriberPanic, r)
				}
			}()
			return next(ctx, env)
		}
	}
}

// TimeoutMiddleware bounds a single subscriber call. On expiry the delivery
// fails with context.DeadlineExceeded; the subscriber goroutine is left to
// observe its cancelled context.
func TimeoutMiddleware(d time.Duration) Middleware {
	if d <= 0 {
		return func(next Subscriber) Subscriber { return next }
	}
	return func(next Subscriber) Subscriber {
		return func(ctx context.Context, env Envelope) (*Reply, error) {
			tctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()

			type result struct {
				reply *Reply
				err   error
			}
			resCh := make(chan result, 1)
			go func() {
				defer func() {
					if r := recover(); r != nil {
						resCh <- result{err: fmt.Errorf("%w: %v", ErrSubscriberPanic, r)}
					}
				}()
				reply, err := next(tctx, env)
				resCh <- result{reply: reply, err: err}
			}()

			select {
			case <-tctx.Done():
				return nil, tctx.Err()
			case res := <-resCh:
				return res.reply, res.err
			}
		}
	}
}

// LoggingMiddleware logs every delivery at debug level.
func LoggingMiddleware(l *xlog.Logger) Middleware {
	return func(next Subscriber) Subscriber {
		return func(ctx context.Context, env Envelope) (*Reply, error) {
			if l == nil {
				return next(ctx, env)
			}
			ch, _ := ChannelFromContext(ctx)
			clk, ok := ClockFromContext(ctx)
			if !ok {
				clk = xclock.Default()
			}
			start := clk.Now()
			reply, err := next(ctx, env)

			lg := l.With(
				xlog.Str("channel", ch),
				xlog.Str("payload", env.Payload()),
				xlog.Dur("dur", clk.Since(start)),
			)
			if reply != nil {
				lg = lg.With(xlog.Str("reply_to", reply.Channel))
			}
			lg.Debug().Err(err).Msg("xstream delivery")
			return reply, err
		}
	}
}

// TracingMiddleware wraps every delivery in an OpenTelemetry span named
// "deliver <channel>". A nil tracer uses the global provider.
func TracingMiddleware(tracer trace.Tracer) Middleware {
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}
	return func(next Subscriber) Subscriber {
		return func(ctx context.Context, env Envelope) (*Reply, error) {
			ch, _ := ChannelFromContext(ctx)
			depth, _ := DepthFromContext(ctx)

			ctx, span := tracer.Start(ctx, "deliver "+ch,
				trace.WithSpanKind(trace.SpanKindConsumer),
				trace.WithAttributes(
					attribute.String("xstream.channel", ch),
					attribute.Int("xstream.depth", depth),
					attribute.Int("xstream.headers", env.Len()),
				),
			)
			defer span.End()

			reply, err := next(ctx, env)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			}
			if reply != nil {
				span.SetAttributes(attribute.String("xstream.reply_to", reply.Channel))
			}
			return reply, err
		}
	}
}

// Chain composes middlewares around a subscriber in order.
func Chain(s Subscriber, mws ...Middleware) Subscriber {
	if len(mws) == 0 {
		return s
	}
	wrapped := s
	// Apply in reverse so that first middleware wraps last.
	for i := len(mws) - 1; i >= 0; i-- {
		if mws[i] == nil {
			continue
		}
		wrapped = mws[i](wrapped)
	}
	return wrapped
}

package xstream

import (
	"context"

	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xlog"
)

// ctxKey is the base for all context keys in xstream (prevents collisions).
type ctxKey string

const (
	loggerCtxKey  ctxKey = "xstream:logger"
	clockCtxKey   ctxKey = "xstream:clock"
	channelCtxKey ctxKey = "xstream:channel"
	depthCtxKey   ctxKey = "xstream:depth"
)

func injectLogger(ctx context.Context, l *xlog.Logger) context.Context {
	if l == nil {
		return ctx
	}
	return context.WithValue(ctx, loggerCtxKey, l)
}

// LoggerFromContext returns the router logger injected for subscribers.
func LoggerFromContext(ctx context.Context) (*xlog.Logger, bool) {
	if v := ctx.Value(loggerCtxKey); v != nil {
		if l, ok := v.(*xlog.Logger); ok && l != nil {
			return l, true
		}
	}
	return nil, false
}

func injectClock(ctx context.Context, c xclock.Clock) context.Context {
	if c == nil {
		return ctx
	}
	return context.WithValue(ctx, clockCtxKey, c)
}

// ClockFromContext returns the router clock injected for subscribers.
func ClockFromContext(ctx context.Context) (xclock.Clock, bool) {
	if v := ctx.Value(clockCtxKey); v != nil {
		if c, ok := v.(xclock.Clock); ok && c != nil {
			return c, true
		}
	}
	return nil, false
}

func injectDelivery(ctx context.Context, channel string, depth int) context.Context {
	ctx = context.WithValue(ctx, channelCtxKey, channel)
	return context.WithValue(ctx, depthCtxKey, depth)
}

// ChannelFromContext returns the input channel currently delivering to the subscriber.
func ChannelFromContext(ctx context.Context) (string, bool) {
	ch, ok := ctx.Value(channelCtxKey).(string)
	return ch, ok
}

// DepthFromContext returns the re-publish depth of the current delivery (0 for a top-level publish).
func DepthFromContext(ctx context.Context) (int, bool) {
	d, ok := ctx.Value(depthCtxKey).(int)
	return d, ok
}

// InjectAll is a convenience helper for calling subscribers outside a router, e.g. in tests.
func InjectAll(ctx context.Context, logger *xlog.Logger, clock xclock.Clock, channel string, depth int) context.Context {
	ctx = injectLogger(ctx, logger)
	ctx = injectClock(ctx, clock)
	return injectDelivery(ctx, channel, depth)
}

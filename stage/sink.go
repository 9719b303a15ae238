package stage

import (
	"context"
	"time"

	"github.com/trickstertwo/xclock"

	"github.com/trickstertwo/xstream"
)

// Record is what a sink emits for every envelope it consumes.
type Record struct {
	Channel  string            `json:"channel"`
	Payload  string            `json:"payload"`
	RawValue string            `json:"rawValue"`
	Headers  map[string]string `json:"headers"`
	At       time.Time         `json:"at"`
}

// Emitter performs the sink's observable side effect.
type Emitter interface {
	Emit(ctx context.Context, rec Record) error
}

// EmitterFunc is an Adapter that lets a plain function satisfy Emitter.
type EmitterFunc func(ctx context.Context, rec Record) error

func (f EmitterFunc) Emit(ctx context.Context, rec Record) error { return f(ctx, rec) }

// NewSink returns a terminal subscriber that emits one Record per envelope.
// Emitter errors become the subscriber's failure; the router logs and
// aggregates them without stopping other deliveries.
func NewSink(em Emitter) xstream.Subscriber {
	return func(ctx context.Context, env xstream.Envelope) (*xstream.Reply, error) {
		rec := Record{
			Payload: env.Payload(),
			Headers: env.Headers(),
		}
		rec.RawValue, _ = env.Header(HeaderRawValue)
		rec.Channel, _ = xstream.ChannelFromContext(ctx)
		clk, ok := xstream.ClockFromContext(ctx)
		if !ok {
			clk = xclock.Default()
		}
		rec.At = clk.Now()
		return nil, em.Emit(ctx, rec)
	}
}

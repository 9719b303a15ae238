package xstream

import "context"

// Subscriber processes one envelope delivered on an input channel.
// Returning a nil Reply makes it terminal (sink). A non-nil Reply asks the
// Router to re-publish Reply.Envelope on Reply.Channel before moving on.
type Subscriber func(ctx context.Context, env Envelope) (*Reply, error)

// Middleware composes processing concerns around a Subscriber.
type Middleware func(next Subscriber) Subscriber

// Reply is a request to re-publish an envelope on another channel.
type Reply struct {
	Channel  string
	Envelope Envelope
}

// SendTo pairs env with the channel it should be re-published on.
func SendTo(channel string, env Envelope) *Reply {
	return &Reply{Channel: channel, Envelope: env}
}

// SinkFunc adapts a terminal handler into a Subscriber.
func SinkFunc(fn func(ctx context.Context, env Envelope) error) Subscriber {
	return func(ctx context.Context, env Envelope) (*Reply, error) {
		return nil, fn(ctx, env)
	}
}

// ProcessorFunc adapts a transformation into a Subscriber that always replies on target.
func ProcessorFunc(target string, fn func(ctx context.Context, env Envelope) (Envelope, error)) Subscriber {
	return func(ctx context.Context, env Envelope) (*Reply, error) {
		out, err := fn(ctx, env)
		if err != nil {
			return nil, err
		}
		return SendTo(target, out), nil
	}
}

package messaging

import (
	"context"
	"errors"
	"strconv"

	"github.com/google/uuid"
	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xlog"

	"github.com/trickstertwo/xstream"
	"github.com/trickstertwo/xstream/stage"
)

// Header keys stamped on every envelope sent for processing.
const (
	HeaderID        = "id"
	HeaderTimestamp = "timestamp" // unix millis
)

// Gateway is the producer side of the pipeline: it turns raw values into
// envelopes and publishes them on the entry channel.
type Gateway struct {
	pub     xstream.Publisher
	channel string
	logger  *xlog.Logger
	clock   xclock.Clock
	newID   func() string
}

type Option func(*Gateway)

func WithLogger(l *xlog.Logger) Option {
	return func(g *Gateway) {
		if l != nil {
			g.logger = l
		}
	}
}

func WithClock(c xclock.Clock) Option {
	return func(g *Gateway) {
		if c != nil {
			g.clock = c
		}
	}
}

// WithIDGenerator replaces the uuid generator used for the id header.
func WithIDGenerator(fn func() string) Option {
	return func(g *Gateway) {
		if fn != nil {
			g.newID = fn
		}
	}
}

func NewGateway(pub xstream.Publisher, channel string, opts ...Option) (*Gateway, error) {
	if pub == nil {
		return nil, errors.New("messaging: publisher must not be nil")
	}
	if channel == "" {
		return nil, errors.New("messaging: entry channel required")
	}
	g := &Gateway{
		pub:     pub,
		channel: channel,
		logger:  xlog.Default(),
		clock:   xclock.Default(),
		newID:   uuid.NewString,
	}
	for _, o := range opts {
		if o != nil {
			o(g)
		}
	}
	return g, nil
}

// Channel returns the entry channel envelopes are published on.
func (g *Gateway) Channel() string { return g.channel }

// SendForProcessing publishes value with the rawValue, id and timestamp
// headers and waits for the whole chain. The returned error is the
// router's aggregated publish error.
func (g *Gateway) SendForProcessing(ctx context.Context, value string) error {
	g.logger.With(xlog.Str("channel", g.channel)).Info().Msg("Value passed through is " + value)

	env := xstream.NewEnvelope(value, map[string]string{
		stage.HeaderRawValue: value,
		HeaderID:             g.newID(),
		HeaderTimestamp:      strconv.FormatInt(g.clock.Now().UnixMilli(), 10),
	})
	return g.pub.Publish(ctx, g.channel, env)
}

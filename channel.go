package xstream

import (
	"fmt"
	"strings"
)

// Direction tells whether a channel accepts external publishes only (Output)
// or also delivers to subscriber callbacks (Input).
type Direction uint8

const (
	Output Direction = iota
	Input
)

func (d Direction) String() string {
	switch d {
	case Output:
		return "output"
	case Input:
		return "input"
	default:
		return fmt.Sprintf("direction(%d)", uint8(d))
	}
}

// ParseDirection accepts "output" or "input" (case-insensitive).
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "output", "out":
		return Output, nil
	case "input", "in":
		return Input, nil
	}
	return 0, fmt.Errorf("%w: unknown direction %q", ErrConfiguration, s)
}

// ChannelOption configures a channel at creation time.
type ChannelOption func(*Channel)

// WithDestination binds the channel to a named destination. Publishing on any
// channel reaches every input channel bound to the same destination.
// Defaults to the channel name.
func WithDestination(dest string) ChannelOption {
	return func(c *Channel) {
		if dest != "" {
			c.destination = dest
		}
	}
}

// Channel is a named conduit owned by a Router.
type Channel struct {
	name        string
	direction   Direction
	destination string
	router      *Router

	// written under router.setupMu before the topology is sealed, read-only afterwards
	subscribers []Subscriber
}

func (c *Channel) Name() string         { return c.name }
func (c *Channel) Direction() Direction { return c.direction }
func (c *Channel) Destination() string  { return c.destination }

// Subscribers reports how many subscribers are registered.
func (c *Channel) Subscribers() int {
	c.router.setupMu.Lock()
	defer c.router.setupMu.Unlock()
	return len(c.subscribers)
}

// RegisterSubscriber attaches sub to an input channel. Registration is refused
// on output channels and once the owning Router has accepted a publish.
func (c *Channel) RegisterSubscriber(sub Subscriber) error {
	if sub == nil {
		return fmt.Errorf("%w: nil subscriber for channel %q", ErrConfiguration, c.name)
	}
	if c.direction != Input {
		return fmt.Errorf("%w: channel %q is an output channel and cannot have subscribers", ErrConfiguration, c.name)
	}

	r := c.router
	r.setupMu.Lock()
	defer r.setupMu.Unlock()
	if r.sealed.Load() {
		return fmt.Errorf("%w: channel %q: topology is fixed after the first publish", ErrConfiguration, c.name)
	}

	// Recovery always wraps the raw subscriber so panics become SubscriberFailures.
	wrapped := Chain(RecoveryMiddleware()(sub), r.middlewares...)
	c.subscribers = append(c.subscribers, wrapped)
	return nil
}

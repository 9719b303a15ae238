package redisstream

import (
	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xlog"
)

// Option configures a Binder.
type Option func(*Binder)

// WithLogger injects a custom xlog logger.
func WithLogger(l *xlog.Logger) Option {
	return func(b *Binder) {
		if l != nil {
			b.logger = l
		}
	}
}

// WithClock injects a custom xclock clock used for producedAt stamps.
func WithClock(c xclock.Clock) Option {
	return func(b *Binder) {
		if c != nil {
			b.clock = c
		}
	}
}

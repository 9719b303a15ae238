package xstream

import (
	"strconv"

	"github.com/trickstertwo/xlog"
)

// Observer receives router lifecycle events. Implementations should be non-blocking.
type Observer interface {
	OnEvent(e Event)
}

// ObserverFunc is an Adapter that lets a plain function satisfy Observer.
type ObserverFunc func(e Event)

func (f ObserverFunc) OnEvent(e Event) { f(e) }

// LoggingObserver is an Adapter that emits router events via xlog.
type LoggingObserver struct {
	Logger *xlog.Logger
}

func (o LoggingObserver) OnEvent(e Event) {
	if o.Logger == nil {
		return
	}
	ev := o.Logger.With(
		xlog.Str("type", string(e.Type)),
		xlog.Str("channel", e.Channel),
		xlog.Str("destination", e.Destination),
		xlog.Str("depth", strconv.Itoa(e.Depth)),
	)
	if e.Target != "" {
		ev = ev.With(xlog.Str("target", e.Target))
	}
	if e.Type == PublishDone && e.Duration > 0 {
		ev = ev.With(xlog.Dur("duration", e.Duration))
	}
	if warnsFor(e) {
		ev.Warn().Err(e.Err).Msg("xstream event")
		return
	}
	ev.Debug().Err(e.Err).Msg("xstream event")
}

// warnsFor reports whether an event is logged at warn level. Individual
// subscriber failures are already logged by the router, so only the
// aggregated outcome of a failed publish warns here.
func warnsFor(e Event) bool {
	return e.Type == PublishDone && e.Err != nil
}

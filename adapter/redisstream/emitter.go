package redisstream

import (
	"context"

	"github.com/trickstertwo/xstream"
	"github.com/trickstertwo/xstream/stage"
)

// StreamEmitter mirrors sink records into a Redis stream. The record's
// headers become meta fields and its sink channel is kept under "channel".
type StreamEmitter struct {
	Binder *Binder
	Stream string
}

var _ stage.Emitter = StreamEmitter{}

func (e StreamEmitter) Emit(ctx context.Context, rec stage.Record) error {
	if e.Binder.closed.Load() {
		return ErrBinderClosed
	}
	vals := encodeEnvelope(xstream.NewEnvelope(rec.Payload, rec.Headers), rec.At)
	if rec.Channel != "" {
		vals[fieldChannel] = rec.Channel
	}
	if err := e.Binder.client.XAdd(ctx, e.Binder.addArgs(e.Stream, vals)).Err(); err != nil {
		e.Binder.metrics.exportErrors.Add(1)
		return err
	}
	e.Binder.metrics.exported.Add(1)
	return nil
}

package xstream

import (
	"context"
	"errors"
	"fmt"
)

// PublishBatch publishes envs one after another on channel. Each envelope
// gets its own chain; failures of all chains are merged into a single
// *PublishError. Unknown channels and a closed router fail before any delivery;
// a router closed part way through returns the merged failures joined with
// ErrRouterClosed.
func (r *Router) PublishBatch(ctx context.Context, channel string, envs ...Envelope) error {
	if len(envs) == 0 {
		return nil
	}
	if r.closed.Load() {
		return ErrRouterClosed
	}
	if _, ok := r.Channel(channel); !ok {
		return fmt.Errorf("%w: %q", ErrUnknownChannel, channel)
	}

	var merged *PublishError
	for _, env := range envs {
		err := r.Publish(ctx, channel, env)
		if err == nil {
			continue
		}
		var pe *PublishError
		if !errors.As(err, &pe) {
			// keep what earlier chains already reported
			if merged != nil {
				return errors.Join(merged, err)
			}
			return err
		}
		if merged == nil {
			merged = &PublishError{Channel: channel}
		}
		merged.Failures = append(merged.Failures, pe.Failures...)
	}
	if merged != nil {
		return merged
	}
	return nil
}

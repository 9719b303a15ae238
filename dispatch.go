package xstream

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/trickstertwo/xlog"
)

// Publish delivers env to every input channel bound to the destination of
// channel, invoking subscribers synchronously in registration order. Replies
// are re-published depth-first before the next subscriber runs.
//
// The first Publish to a known channel seals the topology. The call returns
// nil when the whole chain succeeded and a *PublishError listing every
// failure otherwise; failures never stop delivery to unrelated subscribers.
func (r *Router) Publish(ctx context.Context, channel string, env Envelope) error {
	if r.closed.Load() {
		return ErrRouterClosed
	}
	ch, ok := r.Channel(channel)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownChannel, channel)
	}
	r.seal()

	if r.publishTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.publishTimeout)
		defer cancel()
	}

	r.metrics.published.Add(1)
	r.notify(Event{Type: PublishStart, Channel: channel, Destination: ch.destination})
	start := r.clock.Now()

	c := &chain{}
	r.dispatch(ctx, c, ch, env, 0)

	duration := r.clock.Since(start)
	r.recordProcessingTime(duration.Nanoseconds())

	var err error
	if len(c.failures) > 0 {
		err = &PublishError{Channel: channel, Failures: c.failures}
	}
	r.notify(Event{
		Type:        PublishDone,
		Channel:     channel,
		Destination: ch.destination,
		Duration:    duration,
		Err:         err,
	})
	return err
}

// chain collects the failures of one top-level publish. It lives on the
// caller's stack, so concurrent publishes never share it.
type chain struct {
	failures []*SubscriberFailure
}

// dispatch walks the input channels bound to ch's destination. It returns
// false when the whole top-level chain must stop (cancellation or deadline).
func (r *Router) dispatch(ctx context.Context, c *chain, ch *Channel, env Envelope, depth int) bool {
	for _, in := range r.inputs[ch.destination] {
		for i, sub := range in.subscribers {
			if err := ctx.Err(); err != nil {
				r.fail(c, in, ch.destination, i, depth, env, contextCause(err))
				return false
			}

			r.metrics.delivered.Add(1)
			r.notify(Event{Type: Deliver, Channel: in.name, Destination: ch.destination, Depth: depth})

			dctx := injectLogger(ctx, r.logger)
			dctx = injectClock(dctx, r.clock)
			dctx = injectDelivery(dctx, in.name, depth)

			reply, err := sub(dctx, env)
			if err != nil {
				r.fail(c, in, ch.destination, i, depth, env, err)
				continue
			}
			if reply == nil {
				continue
			}
			if !r.republish(ctx, c, in, i, reply, depth) {
				return false
			}
		}
	}
	return true
}

// republish routes a subscriber reply. Cycle and unknown-target failures end
// only this branch; the caller keeps delivering to its remaining subscribers.
func (r *Router) republish(ctx context.Context, c *chain, from *Channel, idx int, reply *Reply, depth int) bool {
	next := depth + 1
	if next > r.maxDepth {
		r.metrics.cycles.Add(1)
		r.notify(Event{Type: Cycle, Channel: from.name, Destination: from.destination, Target: reply.Channel, Depth: depth})
		r.fail(c, from, from.destination, idx, depth, reply.Envelope,
			fmt.Errorf("%w: max depth %d reached re-publishing to %q", ErrPipelineCycle, r.maxDepth, reply.Channel))
		return true
	}

	target, ok := r.channels[reply.Channel]
	if !ok {
		r.fail(c, from, from.destination, idx, depth, reply.Envelope,
			fmt.Errorf("%w: reply target %q", ErrUnknownChannel, reply.Channel))
		return true
	}

	r.metrics.republished.Add(1)
	r.notify(Event{Type: Republish, Channel: from.name, Destination: target.destination, Target: target.name, Depth: next})
	return r.dispatch(ctx, c, target, reply.Envelope, next)
}

func (r *Router) fail(c *chain, in *Channel, dest string, idx, depth int, env Envelope, err error) {
	f := &SubscriberFailure{
		Channel:     in.name,
		Destination: dest,
		Subscriber:  idx,
		Depth:       depth,
		Headers:     env.Headers(),
		Err:         err,
	}
	c.failures = append(c.failures, f)
	r.metrics.failures.Add(1)

	r.logger.With(
		xlog.Str("channel", f.Channel),
		xlog.Str("destination", f.Destination),
		xlog.Str("subscriber", strconv.Itoa(f.Subscriber)),
		xlog.Str("depth", strconv.Itoa(f.Depth)),
		xlog.Str("headers", formatHeaders(f.Headers)),
	).Warn().Err(err).Msg("xstream: subscriber failed")

	r.notify(Event{Type: SubscriberError, Channel: in.name, Destination: dest, Depth: depth, Err: err})
}

// contextCause maps a context error onto the router taxonomy.
func contextCause(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	return err
}

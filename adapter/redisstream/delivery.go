package redisstream

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/trickstertwo/xlog"

	"github.com/trickstertwo/xstream"
)

// ErrBinderClosed is returned by Export and Bind after Close.
var ErrBinderClosed = errors.New("redisstream: binder is closed")

// delivery is one stream entry read by a consumer group.
type delivery struct {
	b          *Binder
	stream     string
	group      string
	id         string
	env        xstream.Envelope
	producedAt time.Time
}

func (b *Binder) newDelivery(stream, group string, msg redis.XMessage) *delivery {
	b.metrics.consumed.Add(1)
	env, producedAt := decodeEnvelope(msg.Values)
	return &delivery{
		b:          b,
		stream:     stream,
		group:      group,
		id:         msg.ID,
		env:        env,
		producedAt: producedAt,
	}
}

// settleCtx outlives a cancelled binding so an entry whose chain completed is
// still acknowledged during shutdown.
func (d *delivery) settleCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := d.b.cfg.AckTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return context.WithTimeout(context.WithoutCancel(ctx), timeout)
}

func (d *delivery) ack(ctx context.Context) {
	actx, cancel := d.settleCtx(ctx)
	defer cancel()

	if err := d.b.client.XAck(actx, d.stream, d.group, d.id).Err(); err != nil {
		d.b.logger.With(xlog.Str("stream", d.stream), xlog.Str("id", d.id)).
			Warn().Err(err).Msg("redisstream: ack failed")
		return
	}
	d.b.metrics.acked.Add(1)
	if d.b.cfg.AutoDeleteOnAck {
		_ = d.b.client.XDel(actx, d.stream, d.id).Err()
	}
}

// nack dead-letters the entry and acknowledges it when a dead-letter stream
// is configured. Without one the entry stays pending.
func (d *delivery) nack(ctx context.Context, reason error) {
	dl := d.b.cfg.DeadLetter
	if dl == "" {
		return
	}

	actx, cancel := d.settleCtx(ctx)
	defer cancel()

	vals := encodeEnvelope(d.env, d.producedAt)
	vals[fieldOrigStream] = d.stream
	vals[fieldOrigID] = d.id
	vals[fieldError] = fmt.Sprintf("%v", reason)

	if err := d.b.client.XAdd(actx, d.b.addArgs(dl, vals)).Err(); err != nil {
		d.b.logger.With(xlog.Str("stream", dl), xlog.Str("id", d.id)).
			Error().Err(err).Msg("redisstream: dead-letter write failed")
		return
	}
	d.b.metrics.deadLettered.Add(1)
	d.ack(ctx)
}

// encodeEnvelope flattens env into stream entry values.
func encodeEnvelope(env xstream.Envelope, producedAt time.Time) map[string]any {
	headers := env.Headers()
	vals := make(map[string]any, 2+len(headers))
	vals[fieldPayload] = env.Payload()
	vals[fieldProducedAt] = producedAt.UnixNano()
	for k, v := range headers {
		vals[fieldMetaPrefix+k] = v
	}
	return vals
}

// decodeEnvelope rebuilds an Envelope from stream entry values. Fields that
// are neither payload nor meta are ignored.
func decodeEnvelope(vals map[string]any) (xstream.Envelope, time.Time) {
	var payload string
	if v, ok := vals[fieldPayload]; ok {
		payload = asString(v)
	}

	var producedAt time.Time
	if ns, ok := toInt64(vals[fieldProducedAt]); ok && ns > 0 {
		producedAt = time.Unix(0, ns)
	}

	var headers map[string]string
	for k, v := range vals {
		if strings.HasPrefix(k, fieldMetaPrefix) {
			if headers == nil {
				headers = make(map[string]string, 4)
			}
			headers[strings.TrimPrefix(k, fieldMetaPrefix)] = asString(v)
		}
	}
	return xstream.NewEnvelope(payload, headers), producedAt
}

func asString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case []byte:
		return string(s)
	default:
		return fmt.Sprintf("%v", s)
	}
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int32:
		return int64(n), true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	case string:
		if n == "" {
			return 0, false
		}
		if i, err := strconv.ParseInt(n, 10, 64); err == nil {
			return i, true
		}
		if f, err := strconv.ParseFloat(n, 64); err == nil {
			return int64(f), true
		}
	case []byte:
		return toInt64(string(n))
	}
	return 0, false
}

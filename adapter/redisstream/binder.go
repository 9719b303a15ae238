package redisstream

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xlog"

	"github.com/trickstertwo/xstream"
)

// Binder connects router channels to Redis Streams. Export writes envelopes
// to a stream; Bind feeds a stream into a router channel through a consumer
// group.
type Binder struct {
	cfg        Config
	client     *redis.Client
	ownsClient bool
	logger     *xlog.Logger
	clock      xclock.Clock

	closeOnce sync.Once
	closed    atomic.Bool

	metrics *binderMetrics
}

type binderMetrics struct {
	exported      atomic.Uint64
	consumed      atomic.Uint64
	acked         atomic.Uint64
	deadLettered  atomic.Uint64
	exportErrors  atomic.Uint64
	consumeErrors atomic.Uint64
}

// Stats is a snapshot of binder counters.
type Stats struct {
	Exported      uint64 `json:"exported"`
	Consumed      uint64 `json:"consumed"`
	Acked         uint64 `json:"acked"`
	DeadLettered  uint64 `json:"dead_lettered"`
	ExportErrors  uint64 `json:"export_errors"`
	ConsumeErrors uint64 `json:"consume_errors"`
}

// NewBinder dials Redis and verifies the connection.
func NewBinder(cfg Config, opts ...Option) (*Binder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	ropts := &redis.Options{
		Addr:         cfg.Addr,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.DB,
		MaxRetries:   3,
		PoolSize:     10,
		MinIdleConns: 2,
	}
	if cfg.TLS {
		ropts.TLSConfig = &tls.Config{
			MinVersion:    tls.VersionTLS12,
			ServerName:    cfg.TLSServerName,
			Renegotiation: tls.RenegotiateNever,
		}
	}

	client := redis.NewClient(ropts)
	if err := ping(client); err != nil {
		_ = client.Close()
		return nil, err
	}

	b := NewBinderWithClient(client, cfg, opts...)
	b.ownsClient = true
	return b, nil
}

// NewBinderWithClient builds a Binder on an existing client. Close leaves the
// client open.
func NewBinderWithClient(client *redis.Client, cfg Config, opts ...Option) *Binder {
	b := &Binder{
		cfg:     cfg,
		client:  client,
		logger:  xlog.Default(),
		clock:   xclock.Default(),
		metrics: &binderMetrics{},
	}
	for _, o := range opts {
		if o != nil {
			o(b)
		}
	}
	return b
}

// Export appends envs to stream with XADD, pipelined in one round trip.
// Headers are flattened into "meta:<key>" fields.
func (b *Binder) Export(ctx context.Context, stream string, envs ...xstream.Envelope) error {
	if len(envs) == 0 {
		return nil
	}
	if b.closed.Load() {
		return ErrBinderClosed
	}

	now := b.clock.Now()
	pipe := b.client.Pipeline()
	for _, env := range envs {
		pipe.XAdd(ctx, b.addArgs(stream, encodeEnvelope(env, now)))
	}

	if _, err := pipe.Exec(ctx); err != nil {
		b.metrics.exportErrors.Add(uint64(len(envs)))
		return fmt.Errorf("redisstream: export to %q: %w", stream, err)
	}
	b.metrics.exported.Add(uint64(len(envs)))
	return nil
}

func (b *Binder) addArgs(stream string, vals map[string]any) *redis.XAddArgs {
	args := &redis.XAddArgs{
		Stream: stream,
		ID:     "*",
		Values: vals,
	}
	// Approximate trimming keeps the stream bounded.
	if b.cfg.MaxLenApprox > 0 {
		args.MaxLen = b.cfg.MaxLenApprox
		args.Approx = true
	}
	return args
}

// Binding is an active stream consumer started by Bind.
type Binding struct {
	close func() error
}

// Close stops polling and waits for in-flight publishes to finish.
func (s *Binding) Close() error {
	if s.close != nil {
		return s.close()
	}
	return nil
}

// Bind consumes stream through consumer group (Config.Group when empty) and
// publishes every entry on channel. Entries are acknowledged once the publish
// chain succeeds. A failed chain is written to the dead-letter stream and
// acknowledged when one is configured; otherwise the entry stays pending for
// redelivery or claiming.
func (b *Binder) Bind(ctx context.Context, stream, group string, pub xstream.Publisher, channel string) (*Binding, error) {
	if b.closed.Load() {
		return nil, ErrBinderClosed
	}
	if pub == nil {
		return nil, errors.New("redisstream: publisher must not be nil")
	}
	if group == "" {
		group = b.cfg.Group
	}

	if b.cfg.AutoCreate {
		start := b.cfg.StartID
		if start == "" {
			start = "$"
		}
		err := b.client.XGroupCreateMkStream(ctx, stream, group, start).Err()
		if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
			return nil, fmt.Errorf("redisstream: create group %q on %q: %w", group, stream, err)
		}
	}

	innerCtx, cancel := context.WithCancel(ctx)
	wg := &sync.WaitGroup{}

	handle := func(d *delivery) {
		if err := pub.Publish(innerCtx, channel, d.env); err != nil {
			if innerCtx.Err() != nil {
				// shutting down: leave the entry pending
				return
			}
			b.logger.With(
				xlog.Str("stream", stream),
				xlog.Str("group", group),
				xlog.Str("id", d.id),
				xlog.Str("channel", channel),
			).Warn().Err(err).Msg("redisstream: publish chain failed")
			d.nack(innerCtx, err)
			return
		}
		d.ack(innerCtx)
	}

	workers := max(1, b.cfg.Concurrency)
	workCh := make(chan *delivery, workers*2)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for d := range workCh {
				handle(d)
			}
		}()
	}

	pollerDone := make(chan struct{})
	wg.Add(1)
	go func() {
		defer func() {
			close(workCh)
			close(pollerDone)
			wg.Done()
		}()
		b.pollerLoop(innerCtx, stream, group, workCh)
	}()

	if b.cfg.ClaimMinIdle > 0 && b.cfg.ClaimInterval > 0 && b.cfg.ClaimBatch > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.claimLoop(innerCtx, stream, group, handle)
		}()
	}

	return &Binding{
		close: func() error {
			cancel()
			<-pollerDone
			wg.Wait()
			return nil
		},
	}, nil
}

// pollerLoop reads new entries for the group and hands them to workers.
func (b *Binder) pollerLoop(ctx context.Context, stream, group string, workCh chan<- *delivery) {
	xArgs := &redis.XReadGroupArgs{
		Group:    group,
		Consumer: b.cfg.Consumer,
		Streams:  []string{stream, ">"},
		Count:    int64(max(1, b.cfg.BatchSize)),
		Block:    b.cfg.Block,
	}

	backoff := 100 * time.Millisecond
	const maxBackoff = 5 * time.Second

	for {
		if ctx.Err() != nil {
			return
		}

		res, err := b.client.XReadGroup(ctx, xArgs).Result()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, redis.Nil) {
				backoff = 100 * time.Millisecond
				continue
			}

			b.metrics.consumeErrors.Add(1)
			b.logger.With(xlog.Str("stream", stream), xlog.Dur("backoff", backoff)).
				Warn().Err(err).Msg("redisstream: read failed")
			select {
			case <-time.After(backoff):
				backoff = min(backoff*2, maxBackoff)
			case <-ctx.Done():
				return
			}
			continue
		}
		backoff = 100 * time.Millisecond

		for _, s := range res {
			for _, msg := range s.Messages {
				d := b.newDelivery(stream, group, msg)
				select {
				case workCh <- d:
				case <-ctx.Done():
					return
				}
			}
		}
	}
}

// claimLoop periodically takes over entries idle on other consumers and
// processes them in place.
func (b *Binder) claimLoop(ctx context.Context, stream, group string, handle func(*delivery)) {
	ticker := time.NewTicker(b.cfg.ClaimInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		pending, err := b.client.XPendingExt(ctx, &redis.XPendingExtArgs{
			Stream: stream,
			Group:  group,
			Start:  "-",
			End:    "+",
			Count:  int64(max(1, b.cfg.ClaimBatch)),
			Idle:   b.cfg.ClaimMinIdle,
		}).Result()
		if err != nil || len(pending) == 0 {
			continue
		}

		ids := make([]string, 0, len(pending))
		for _, p := range pending {
			ids = append(ids, p.ID)
		}
		msgs, err := b.client.XClaim(ctx, &redis.XClaimArgs{
			Stream:   stream,
			Group:    group,
			Consumer: b.cfg.Consumer,
			MinIdle:  b.cfg.ClaimMinIdle,
			Messages: ids,
		}).Result()
		if err != nil {
			continue
		}
		for _, msg := range msgs {
			handle(b.newDelivery(stream, group, msg))
		}
	}
}

// Stats returns a snapshot of binder counters.
func (b *Binder) Stats() Stats {
	return Stats{
		Exported:      b.metrics.exported.Load(),
		Consumed:      b.metrics.consumed.Load(),
		Acked:         b.metrics.acked.Load(),
		DeadLettered:  b.metrics.deadLettered.Load(),
		ExportErrors:  b.metrics.exportErrors.Load(),
		ConsumeErrors: b.metrics.consumeErrors.Load(),
	}
}

// Close releases the Redis client if the Binder created it. Bindings must be
// closed by their owners first.
func (b *Binder) Close(_ context.Context) error {
	var err error
	b.closeOnce.Do(func() {
		b.closed.Store(true)
		if b.ownsClient {
			err = b.client.Close()
		}
	})
	return err
}

func ping(c *redis.Client) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	res, err := c.Ping(ctx).Result()
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return fmt.Errorf("redis ping timeout: %w", err)
		}
		return err
	}
	if strings.ToUpper(res) != "PONG" {
		return fmt.Errorf("unexpected redis ping result: %s", res)
	}
	return nil
}

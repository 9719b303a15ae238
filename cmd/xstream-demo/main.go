package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xlog"
	"github.com/trickstertwo/xlog/adapter/zerolog"
	"go.opentelemetry.io/otel"

	"github.com/trickstertwo/xstream"
	"github.com/trickstertwo/xstream/adapter/redisstream"
	"github.com/trickstertwo/xstream/internal/cache"
	"github.com/trickstertwo/xstream/internal/config"
	"github.com/trickstertwo/xstream/internal/messaging"
	"github.com/trickstertwo/xstream/internal/server"
	"github.com/trickstertwo/xstream/internal/store"
	"github.com/trickstertwo/xstream/internal/telemetry"
	"github.com/trickstertwo/xstream/stage"
)

const demoSinkStage = "sink.demo"

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		xlog.Default().Error().Err(err).Msg("failed to load config")
		os.Exit(1)
	}

	minLevel := xlog.LevelInfo
	if cfg.Log.Debug {
		minLevel = xlog.LevelDebug
	}
	logger := zerolog.Use(zerolog.Config{
		MinLevel:          minLevel,
		Console:           cfg.Log.Console,
		ConsoleTimeFormat: time.RFC3339Nano,
		Caller:            true,
		CallerSkip:        5,
	}).With(xlog.Str("app", cfg.Telemetry.ServiceName))
	clock := xclock.Default()

	if err := run(cfg, logger, clock); err != nil {
		logger.Error().Err(err).Msg("xstream-demo stopped")
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *xlog.Logger, clock xclock.Clock) error {
	if cfg.Telemetry.Enabled {
		shutdown, err := telemetry.InitTracer(cfg.Telemetry.ServiceName, nil, logger)
		if err != nil {
			return err
		}
		defer func() {
			if err := shutdown(context.Background()); err != nil {
				logger.Warn().Err(err).Msg("failed to shutdown tracer")
			}
		}()
	}

	db, err := store.New(cfg.Storage.SQLite.Path)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	kv, err := cache.New(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	cancel()
	if err != nil {
		return err
	}
	defer func() { _ = kv.Close() }()

	// The stream bridge shares the cache connection.
	binderCfg, err := redisstream.ConfigFromMap(cfg.Streams)
	if err != nil {
		return err
	}
	binderCfg.Addr = cfg.Redis.Addr
	if cfg.Pipeline.DeadLetter != "" {
		binderCfg.DeadLetter = cfg.Pipeline.DeadLetter
	}
	if err := binderCfg.Validate(); err != nil {
		return err
	}
	binder := redisstream.NewBinderWithClient(kv.Client(), binderCfg,
		redisstream.WithLogger(logger),
		redisstream.WithClock(clock),
	)
	defer func() { _ = binder.Close(context.Background()) }()

	sinks := stage.MultiEmitter{stage.LogEmitter{Logger: logger}}
	if cfg.Pipeline.MirrorStream != "" {
		sinks = append(sinks, redisstream.StreamEmitter{Binder: binder, Stream: cfg.Pipeline.MirrorStream})
	}
	if err := stage.RegisterSink(demoSinkStage, sinks); err != nil {
		return err
	}
	if cfg.Pipeline.SinkStage == stage.LogSinkStageName {
		cfg.Pipeline.SinkStage = demoSinkStage
	}

	router, closeRouter, err := xstream.New(func(b *xstream.RouterBuilder) {
		b.WithLogger(logger).
			WithClock(clock).
			WithMaxDepth(cfg.Pipeline.MaxDepth).
			WithPublishTimeout(cfg.Pipeline.PublishTimeout).
			WithMiddleware(xstream.TracingMiddleware(otel.Tracer("xstream"))).
			WithTopology(cfg.PipelineTopology())
	})
	if err != nil {
		return err
	}
	defer func() { _ = closeRouter() }()

	gateway, err := messaging.NewGateway(router, cfg.Pipeline.EntryChannel,
		messaging.WithLogger(logger),
		messaging.WithClock(clock),
	)
	if err != nil {
		return err
	}

	runCtx, stop := context.WithCancel(context.Background())
	defer stop()

	if cfg.Pipeline.InboundStream != "" {
		binding, err := binder.Bind(runCtx, cfg.Pipeline.InboundStream, "", router, cfg.Pipeline.EntryChannel)
		if err != nil {
			return err
		}
		defer func() { _ = binding.Close() }()
		logger.Info().
			Str("stream", cfg.Pipeline.InboundStream).
			Str("channel", cfg.Pipeline.EntryChannel).
			Msg("inbound stream bound")
	}

	srv := server.New(cfg.Server.Port, logger, server.Deps{
		Store:   db,
		Facts:   store.NewRandomFacts(uint64(clock.Now().UnixNano())),
		Cache:   kv,
		Gateway: gateway,
		Health:  router,
	})

	errC := make(chan error, 1)
	go func() { errC <- srv.Start() }()

	sigC := make(chan os.Signal, 1)
	signal.Notify(sigC, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigC:
		logger.Info().Str("signal", sig.String()).Msg("shutdown signal received")
	case err := <-errC:
		if err != nil {
			return err
		}
	}
	stop()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := router.Close(shutdownCtx); err != nil {
		return err
	}

	logger.Info().Msg("shutdown complete")
	return nil
}

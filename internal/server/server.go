package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/trickstertwo/xlog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/trickstertwo/xstream"
	"github.com/trickstertwo/xstream/internal/store"
)

// Saver persists sample rows.
type Saver interface {
	Save(ctx context.Context, item *store.Something) (*store.Something, error)
}

// KV is the cache surface used by the facade.
type KV interface {
	Set(ctx context.Context, key, value string) error
	Get(ctx context.Context, key string) (string, bool, error)
}

// Sender pushes a raw value into the pipeline.
type Sender interface {
	SendForProcessing(ctx context.Context, value string) error
}

// Deps are the collaborators behind the HTTP endpoints.
type Deps struct {
	Store   Saver
	Facts   store.FactSource
	Cache   KV
	Gateway Sender
	Health  xstream.HealthChecker
}

type Server struct {
	Router *chi.Mux
	Port   int
	logger *xlog.Logger
	deps   Deps
	http   *http.Server
}

func New(port int, logger *xlog.Logger, deps Deps) *Server {
	if logger == nil {
		logger = xlog.Default()
	}
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(logger))
	r.Use(middleware.Recoverer)
	r.Use(func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, "xstream-http")
	})

	s := &Server{
		Router: r,
		Port:   port,
		logger: logger,
		deps:   deps,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.Post("/loadData", s.handleLoadData)
	s.Router.Post("/loadCache", s.handleLoadCache)
	s.Router.Get("/getCache", s.handleGetCache)
	s.Router.Post("/sendMessage", s.handleSendMessage)
	s.Router.Get("/health", s.handleHealth)
}

// Start serves until Shutdown. It returns nil after a graceful shutdown.
func (s *Server) Start() error {
	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.Port),
		Handler:           s.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.With(xlog.Str("addr", s.http.Addr)).Info().Msg("starting server")
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

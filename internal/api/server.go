// Package api is the HTTP boundary between the tracking engine and its
// front-end: subscription management, history views and event polling.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/position-tracker/internal/history"
	"github.com/sells-group/position-tracker/internal/model"
	"github.com/sells-group/position-tracker/internal/notify"
)

// Subscriptions is the registry surface the API drives.
type Subscriptions interface {
	Add(ctx context.Context, subscriberID, articleID int64, query string, frequency int) (model.Subscription, error)
	Remove(ctx context.Context, subscriberID, articleID int64, query string) bool
	List(subscriberID int64) []model.Subscription
	BeginDraft(subscriberID int64, query string) (string, error)
	PendingQuery(subscriberID int64) (string, bool)
	CancelDraft(subscriberID int64)
	ConfirmDraft(ctx context.Context, subscriberID, articleID int64, frequency int) (model.Subscription, error)
}

// History serves the history view.
type History interface {
	Window(ctx context.Context, articleID int64, query string, days int) (history.Chart, error)
}

// Events serves polled events.
type Events interface {
	Since(subscriberID int64, after uint64) []notify.Delivered
}

// Config holds optional server settings.
type Config struct {
	// Metrics is mounted at /metrics when set.
	Metrics http.Handler
	// HealthCheck reports backend health for /health.
	HealthCheck func(ctx context.Context) error
	// AllowedOrigins for CORS. Default: any origin.
	AllowedOrigins []string
	// WindowDays is the default history window. Default: 7.
	WindowDays int
}

// Server holds the API dependencies.
type Server struct {
	subs   Subscriptions
	hist   History
	events Events
	cfg    Config
	log    *zap.Logger
}

// New creates a Server.
func New(subs Subscriptions, hist History, events Events, cfg Config) *Server {
	if cfg.WindowDays <= 0 {
		cfg.WindowDays = history.DefaultWindowDays
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"*"}
	}
	return &Server{
		subs:   subs,
		hist:   hist,
		events: events,
		cfg:    cfg,
		log:    zap.L().With(zap.String("component", "api")),
	}
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	if s.cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.cfg.Metrics)
	}

	r.Route("/subscribers/{sid}", func(r chi.Router) {
		r.Get("/subscriptions", s.handleList)
		r.Post("/subscriptions", s.handleCreate)
		r.Delete("/subscriptions/{article}", s.handleRemove)
		r.Get("/draft", s.handleGetDraft)
		r.Post("/draft", s.handleBeginDraft)
		r.Delete("/draft", s.handleCancelDraft)
		r.Post("/draft/confirm", s.handleConfirmDraft)
		r.Get("/events", s.handleEvents)
	})
	r.Get("/history/{article}", s.handleHistory)
	return r
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug("api: request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

// Package api exposes the verification service over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/civil-registry/internal/model"
	"github.com/sells-group/civil-registry/internal/verify"
	"github.com/sells-group/civil-registry/internal/workflow"
)

// ActorHeader carries the acting user's opaque id.
const ActorHeader = "X-Actor-ID"

// Service is the verification surface the handlers call. *verify.Service
// satisfies it.
type Service interface {
	DetectAndScore(ctx context.Context, key model.CertificateKey) (*verify.DetectResult, error)
	RequestTransition(ctx context.Context, req workflow.TransitionRequest) (*workflow.TransitionResult, error)
	WorkflowState(ctx context.Context, key model.CertificateKey) (*model.WorkflowState, error)
	AllowedTransitions(from model.State) []model.State
	History(ctx context.Context, key model.CertificateKey) ([]model.TransitionRecord, error)
	OpenDiscrepancies(ctx context.Context, key model.CertificateKey) ([]model.Discrepancy, error)
	GetWorkflowCounts(ctx context.Context) (map[model.State]int, error)
	ListWorkflow(ctx context.Context, f model.WorkflowFilter) ([]model.WorkflowRecord, error)
	ReviewQueue(ctx context.Context, t model.CertificateType, limit int) ([]model.WorkflowRecord, error)
}

// Options configures the router.
type Options struct {
	AllowedOrigins []string
	// Health is called by GET /health when set, typically the store's Ping.
	Health         func(ctx context.Context) error
	RequestTimeout time.Duration
}

// Handler serves the verification endpoints.
type Handler struct {
	svc    Service
	health func(ctx context.Context) error
}

// New creates a Handler.
func New(svc Service, health func(ctx context.Context) error) *Handler {
	return &Handler{svc: svc, health: health}
}

// NewRouter builds the chi router with middleware and every route mounted.
func NewRouter(svc Service, opts Options) http.Handler {
	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(timeout))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", ActorHeader},
		MaxAge:         300,
	}))

	New(svc, opts.Health).Register(r)
	return r
}

// Register mounts the routes on r.
func (h *Handler) Register(r chi.Router) {
	r.Get("/health", h.handleHealth)

	r.Route("/certificates/{type}/{id}", func(r chi.Router) {
		r.Post("/detect", h.handleDetect)
		r.Get("/workflow", h.handleWorkflowState)
		r.Post("/transitions", h.handleTransition)
		r.Get("/transitions", h.handleHistory)
		r.Get("/discrepancies", h.handleDiscrepancies)
	})

	r.Get("/workflow/counts", h.handleCounts)
	r.Get("/workflow/queue", h.handleQueue)
	r.Get("/workflow", h.handleList)
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Debug("api: request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

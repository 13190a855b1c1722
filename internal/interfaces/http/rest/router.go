// Package rest assembles the HTTP router.
package rest

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/Galaxyz7/equipment-troubleshooting-rust-react-sub001/internal/application/graphstore"
	"github.com/Galaxyz7/equipment-troubleshooting-rust-react-sub001/internal/application/issues"
	"github.com/Galaxyz7/equipment-troubleshooting-rust-react-sub001/internal/application/sessions"
	"github.com/Galaxyz7/equipment-troubleshooting-rust-react-sub001/internal/application/transfer"
	"github.com/Galaxyz7/equipment-troubleshooting-rust-react-sub001/internal/infrastructure/cache"
	"github.com/Galaxyz7/equipment-troubleshooting-rust-react-sub001/internal/infrastructure/observability"
	"github.com/Galaxyz7/equipment-troubleshooting-rust-react-sub001/internal/interfaces/http/rest/handlers"
	"github.com/Galaxyz7/equipment-troubleshooting-rust-react-sub001/internal/repository"
	pkgerrors "github.com/Galaxyz7/equipment-troubleshooting-rust-react-sub001/pkg/errors"
)

// Options tune the router.
type Options struct {
	ServiceName    string
	Version        string
	AllowedOrigins []string
	RequestTimeout time.Duration
}

// Router creates and configures the HTTP router
type Router struct {
	store        *graphstore.Store
	engine       *sessions.Engine
	issues       *issues.Service
	transfer     *transfer.Service
	sessions     repository.SessionRepository
	cache        *cache.ViewCache
	metrics      *observability.Metrics
	logger       *zap.Logger
	errorHandler *pkgerrors.Handler
	opts         Options
}

// NewRouter creates a new router instance
func NewRouter(
	store *graphstore.Store,
	engine *sessions.Engine,
	issueService *issues.Service,
	transferService *transfer.Service,
	sessionRepo repository.SessionRepository,
	viewCache *cache.ViewCache,
	metrics *observability.Metrics,
	logger *zap.Logger,
	errorHandler *pkgerrors.Handler,
	opts Options,
) *Router {
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"http://localhost:3000"}
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}
	return &Router{
		store:        store,
		engine:       engine,
		issues:       issueService,
		transfer:     transferService,
		sessions:     sessionRepo,
		cache:        viewCache,
		metrics:      metrics,
		logger:       logger,
		errorHandler: errorHandler,
		opts:         opts,
	}
}

// Setup configures all routes and middleware
func (rt *Router) Setup() *chi.Mux {
	router := chi.NewRouter()

	router.Use(chimiddleware.RequestID)
	router.Use(chimiddleware.RealIP)
	router.Use(observability.RequestLogger(rt.logger, rt.metrics))
	router.Use(observability.Tracing(rt.opts.ServiceName))
	router.Use(rt.errorHandler.Recoverer)
	router.Use(chimiddleware.Timeout(rt.opts.RequestTimeout))

	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   rt.opts.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID", "Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	ops := handlers.NewOpsHandler(rt.store, rt.sessions, rt.cache, rt.opts.Version, rt.logger, rt.errorHandler)
	router.Get("/health", ops.Health)
	router.Get("/ready", ops.Ready)
	router.Method(http.MethodGet, "/metrics", rt.metrics.Handler())

	router.Route("/api/v1", func(r chi.Router) {
		ts := handlers.NewTroubleshootHandler(rt.engine, rt.issues, rt.logger, rt.errorHandler)
		r.Route("/troubleshoot", func(r chi.Router) {
			r.Post("/start", ts.StartSession)
			r.Get("/{sessionID}", ts.GetSession)
			r.Post("/{sessionID}/answer", ts.SubmitAnswer)
			r.Get("/{sessionID}/history", ts.GetHistory)
		})
		r.Get("/issues/tree/{category}", ts.GetTree)

		// Authentication is applied in front of this service.
		r.Route("/admin", func(r chi.Router) {
			nodes := handlers.NewNodeHandler(rt.store, rt.logger, rt.errorHandler)
			r.Route("/nodes", func(r chi.Router) {
				r.Get("/", nodes.ListNodes)
				r.Post("/", nodes.CreateNode)
				r.Get("/{nodeID}", nodes.GetNode)
				r.Put("/{nodeID}", nodes.UpdateNode)
				r.Delete("/{nodeID}", nodes.DeleteNode)
			})

			conns := handlers.NewConnectionHandler(rt.store, rt.logger, rt.errorHandler)
			r.Route("/connections", func(r chi.Router) {
				r.Post("/", conns.CreateConnection)
				r.Get("/{connectionID}", conns.GetConnection)
				r.Put("/{connectionID}", conns.UpdateConnection)
				r.Delete("/{connectionID}", conns.DeleteConnection)
			})

			is := handlers.NewIssueHandler(rt.issues, rt.logger, rt.errorHandler)
			r.Route("/issues", func(r chi.Router) {
				r.Get("/", is.ListIssues)
				r.Post("/", is.CreateIssue)
				r.Get("/{category}", is.GetIssue)
				r.Put("/{category}", is.UpdateIssue)
				r.Delete("/{category}", is.DeleteIssue)
				r.Patch("/{category}/toggle", is.ToggleIssue)
				r.Get("/{category}/validate", is.ValidateIssue)
				r.Get("/{category}/graph", is.GetIssueGraph)
			})

			tr := handlers.NewTransferHandler(rt.transfer, rt.logger, rt.errorHandler)
			r.Get("/export", tr.ExportAll)
			r.Get("/export/{category}", tr.ExportCategory)
			r.Post("/import", tr.Import)

			ss := handlers.NewSessionHandler(rt.engine, rt.logger, rt.errorHandler)
			r.Route("/sessions", func(r chi.Router) {
				r.Get("/", ss.ListSessions)
				r.Delete("/", ss.DeleteSessions)
				r.Get("/count", ss.CountSessions)
			})

			r.Get("/performance", ops.Performance)
			r.Get("/stats", ops.Stats)
		})
	})

	return router
}

package handlers

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/Galaxyz7/equipment-troubleshooting-rust-react-sub001/internal/application/graphstore"
	"github.com/Galaxyz7/equipment-troubleshooting-rust-react-sub001/internal/infrastructure/cache"
	"github.com/Galaxyz7/equipment-troubleshooting-rust-react-sub001/internal/repository"
	"github.com/Galaxyz7/equipment-troubleshooting-rust-react-sub001/pkg/api"
	pkgerrors "github.com/Galaxyz7/equipment-troubleshooting-rust-react-sub001/pkg/errors"
)

// OpsHandler serves health, readiness and admin statistics.
type OpsHandler struct {
	store        *graphstore.Store
	sessions     repository.SessionRepository
	cache        *cache.ViewCache
	version      string
	logger       *zap.Logger
	errorHandler *pkgerrors.Handler
}

func NewOpsHandler(store *graphstore.Store, sessions repository.SessionRepository, c *cache.ViewCache, version string, logger *zap.Logger, errorHandler *pkgerrors.Handler) *OpsHandler {
	return &OpsHandler{store: store, sessions: sessions, cache: c, version: version, logger: logger, errorHandler: errorHandler}
}

// StatsResponse is the body of GET /admin/stats.
type StatsResponse struct {
	Graph    repository.GraphCounts   `json:"graph"`
	Sessions repository.SessionCounts `json:"sessions"`
}

// Health handles GET /health
func (h *OpsHandler) Health(w http.ResponseWriter, r *http.Request) {
	api.RespondJSON(w, http.StatusOK, map[string]string{"status": "healthy", "version": h.version})
}

// Ready handles GET /ready
func (h *OpsHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := h.store.Ping(ctx); err != nil {
		h.logger.Warn("Readiness check failed", zap.Error(err))
		h.errorHandler.Handle(w, r, pkgerrors.NewUnavailableError("graph store").WithCause(err))
		return
	}
	api.RespondJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// Performance handles GET /admin/performance
func (h *OpsHandler) Performance(w http.ResponseWriter, r *http.Request) {
	api.RespondJSON(w, http.StatusOK, map[string]interface{}{"cache": h.cache.Stats()})
}

// Stats handles GET /admin/stats
func (h *OpsHandler) Stats(w http.ResponseWriter, r *http.Request) {
	graphCounts, err := h.store.Counts(r.Context())
	if err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}
	sessionCounts, err := h.sessions.Counts(r.Context())
	if err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}
	api.RespondJSON(w, http.StatusOK, StatsResponse{Graph: graphCounts, Sessions: sessionCounts})
}

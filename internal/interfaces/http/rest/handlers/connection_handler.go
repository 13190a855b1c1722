package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/Galaxyz7/equipment-troubleshooting-rust-react-sub001/internal/application/graphstore"
	"github.com/Galaxyz7/equipment-troubleshooting-rust-react-sub001/internal/domain/graph"
	"github.com/Galaxyz7/equipment-troubleshooting-rust-react-sub001/pkg/api"
	pkgerrors "github.com/Galaxyz7/equipment-troubleshooting-rust-react-sub001/pkg/errors"
)

// ConnectionHandler handles connection-related HTTP requests
type ConnectionHandler struct {
	store        *graphstore.Store
	logger       *zap.Logger
	errorHandler *pkgerrors.Handler
}

func NewConnectionHandler(store *graphstore.Store, logger *zap.Logger, errorHandler *pkgerrors.Handler) *ConnectionHandler {
	return &ConnectionHandler{store: store, logger: logger, errorHandler: errorHandler}
}

type CreateConnectionRequest struct {
	FromNodeID string `json:"from_node_id" validate:"required"`
	ToNodeID   string `json:"to_node_id" validate:"required"`
	Label      string `json:"label" validate:"required,max=200"`
	OrderIndex int    `json:"order_index" validate:"min=0"`
	IsActive   *bool  `json:"is_active,omitempty"`
}

type UpdateConnectionRequest struct {
	ToNodeID   *string `json:"to_node_id,omitempty" validate:"omitempty,min=1"`
	Label      *string `json:"label,omitempty" validate:"omitempty,min=1,max=200"`
	OrderIndex *int    `json:"order_index,omitempty" validate:"omitempty,min=0"`
	IsActive   *bool   `json:"is_active,omitempty"`
}

// CreateConnection handles POST /admin/connections
func (h *ConnectionHandler) CreateConnection(w http.ResponseWriter, r *http.Request) {
	var req CreateConnectionRequest
	if err := decode(w, r, &req); err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}

	conn, err := h.store.CreateConnection(r.Context(), graph.ConnectionSpec{
		FromNodeID: req.FromNodeID,
		ToNodeID:   req.ToNodeID,
		Label:      req.Label,
		OrderIndex: req.OrderIndex,
		IsActive:   req.IsActive,
	})
	if err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}
	api.RespondJSON(w, http.StatusCreated, conn)
}

// GetConnection handles GET /admin/connections/{connectionID}
func (h *ConnectionHandler) GetConnection(w http.ResponseWriter, r *http.Request) {
	conn, err := h.store.GetConnection(r.Context(), chi.URLParam(r, "connectionID"))
	if err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}
	api.RespondJSON(w, http.StatusOK, conn)
}

// UpdateConnection handles PUT /admin/connections/{connectionID}
func (h *ConnectionHandler) UpdateConnection(w http.ResponseWriter, r *http.Request) {
	var req UpdateConnectionRequest
	if err := decode(w, r, &req); err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}

	conn, err := h.store.UpdateConnection(r.Context(), chi.URLParam(r, "connectionID"), graph.ConnectionPatch{
		ToNodeID:   req.ToNodeID,
		Label:      req.Label,
		OrderIndex: req.OrderIndex,
		IsActive:   req.IsActive,
	})
	if err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}
	api.RespondJSON(w, http.StatusOK, conn)
}

// DeleteConnection handles DELETE /admin/connections/{connectionID}
func (h *ConnectionHandler) DeleteConnection(w http.ResponseWriter, r *http.Request) {
	if err := h.store.DeleteConnection(r.Context(), chi.URLParam(r, "connectionID")); err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}
	api.RespondNoContent(w)
}

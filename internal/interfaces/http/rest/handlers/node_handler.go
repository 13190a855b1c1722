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

// NodeHandler handles node-related HTTP requests
type NodeHandler struct {
	store        *graphstore.Store
	logger       *zap.Logger
	errorHandler *pkgerrors.Handler
}

// NewNodeHandler creates a new node handler
func NewNodeHandler(store *graphstore.Store, logger *zap.Logger, errorHandler *pkgerrors.Handler) *NodeHandler {
	return &NodeHandler{store: store, logger: logger, errorHandler: errorHandler}
}

// CreateNodeRequest represents the request body for creating a node
type CreateNodeRequest struct {
	Category        string   `json:"category" validate:"required,max=100"`
	NodeType        string   `json:"node_type" validate:"required"`
	Text            string   `json:"text" validate:"required"`
	SemanticID      *string  `json:"semantic_id,omitempty" validate:"omitempty,max=200"`
	DisplayCategory *string  `json:"display_category,omitempty" validate:"omitempty,max=100"`
	PositionX       *float64 `json:"position_x,omitempty"`
	PositionY       *float64 `json:"position_y,omitempty"`
	IsActive        *bool    `json:"is_active,omitempty"`
}

// UpdateNodeRequest represents the request body for updating a node
type UpdateNodeRequest struct {
	Category        *string  `json:"category,omitempty" validate:"omitempty,min=1,max=100"`
	NodeType        *string  `json:"node_type,omitempty"`
	Text            *string  `json:"text,omitempty" validate:"omitempty,min=1"`
	SemanticID      *string  `json:"semantic_id,omitempty" validate:"omitempty,max=200"`
	DisplayCategory *string  `json:"display_category,omitempty" validate:"omitempty,max=100"`
	PositionX       *float64 `json:"position_x,omitempty"`
	PositionY       *float64 `json:"position_y,omitempty"`
	IsActive        *bool    `json:"is_active,omitempty"`
}

// CreateNode handles POST /admin/nodes
func (h *NodeHandler) CreateNode(w http.ResponseWriter, r *http.Request) {
	var req CreateNodeRequest
	if err := decode(w, r, &req); err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}
	nodeType, err := graph.ParseNodeType(req.NodeType)
	if err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}

	node, err := h.store.CreateNode(r.Context(), graph.NodeSpec{
		Category:        req.Category,
		NodeType:        nodeType,
		Text:            req.Text,
		SemanticID:      req.SemanticID,
		DisplayCategory: req.DisplayCategory,
		PositionX:       req.PositionX,
		PositionY:       req.PositionY,
		IsActive:        req.IsActive,
	})
	if err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}
	api.RespondJSON(w, http.StatusCreated, node)
}

// ListNodes handles GET /admin/nodes?category=...
func (h *NodeHandler) ListNodes(w http.ResponseWriter, r *http.Request) {
	category := r.URL.Query().Get("category")
	if category == "" {
		h.errorHandler.Handle(w, r, pkgerrors.NewValidationError("category query parameter is required"))
		return
	}
	nodes, err := h.store.ListNodesByCategory(r.Context(), category)
	if err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}
	api.RespondList(w, requestID(r), nodes, len(nodes))
}

// GetNode handles GET /admin/nodes/{nodeID}
func (h *NodeHandler) GetNode(w http.ResponseWriter, r *http.Request) {
	node, err := h.store.GetNodeWithConnections(r.Context(), chi.URLParam(r, "nodeID"))
	if err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}
	api.RespondJSON(w, http.StatusOK, node)
}

// UpdateNode handles PUT /admin/nodes/{nodeID}
func (h *NodeHandler) UpdateNode(w http.ResponseWriter, r *http.Request) {
	var req UpdateNodeRequest
	if err := decode(w, r, &req); err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}

	patch := graph.NodePatch{
		Category:        req.Category,
		Text:            req.Text,
		SemanticID:      req.SemanticID,
		DisplayCategory: req.DisplayCategory,
		PositionX:       req.PositionX,
		PositionY:       req.PositionY,
		IsActive:        req.IsActive,
	}
	if req.NodeType != nil {
		nt, err := graph.ParseNodeType(*req.NodeType)
		if err != nil {
			h.errorHandler.Handle(w, r, err)
			return
		}
		patch.NodeType = &nt
	}

	node, err := h.store.UpdateNode(r.Context(), chi.URLParam(r, "nodeID"), patch)
	if err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}
	api.RespondJSON(w, http.StatusOK, node)
}

// DeleteNode handles DELETE /admin/nodes/{nodeID}
func (h *NodeHandler) DeleteNode(w http.ResponseWriter, r *http.Request) {
	if err := h.store.DeleteNode(r.Context(), chi.URLParam(r, "nodeID")); err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}
	api.RespondNoContent(w)
}

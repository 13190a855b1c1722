package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/Galaxyz7/equipment-troubleshooting-rust-react-sub001/internal/application/issues"
	"github.com/Galaxyz7/equipment-troubleshooting-rust-react-sub001/pkg/api"
	pkgerrors "github.com/Galaxyz7/equipment-troubleshooting-rust-react-sub001/pkg/errors"
)

// IssueHandler serves issue administration.
type IssueHandler struct {
	issues       *issues.Service
	logger       *zap.Logger
	errorHandler *pkgerrors.Handler
}

func NewIssueHandler(issueService *issues.Service, logger *zap.Logger, errorHandler *pkgerrors.Handler) *IssueHandler {
	return &IssueHandler{issues: issueService, logger: logger, errorHandler: errorHandler}
}

// ToggleRequest is the optional body of the toggle endpoint. The force
// query parameter is accepted as well.
type ToggleRequest struct {
	Force bool `json:"force"`
}

// ListIssues handles GET /admin/issues
func (h *IssueHandler) ListIssues(w http.ResponseWriter, r *http.Request) {
	list, err := h.issues.List(r.Context())
	if err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}
	api.RespondList(w, requestID(r), list, len(list))
}

// CreateIssue handles POST /admin/issues
func (h *IssueHandler) CreateIssue(w http.ResponseWriter, r *http.Request) {
	var req issues.CreateRequest
	if err := decode(w, r, &req); err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}
	issue, err := h.issues.Create(r.Context(), req)
	if err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}
	api.RespondJSON(w, http.StatusCreated, issue)
}

// GetIssue handles GET /admin/issues/{category}
func (h *IssueHandler) GetIssue(w http.ResponseWriter, r *http.Request) {
	issue, err := h.issues.Get(r.Context(), chi.URLParam(r, "category"))
	if err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}
	api.RespondJSON(w, http.StatusOK, issue)
}

// UpdateIssue handles PUT /admin/issues/{category}
func (h *IssueHandler) UpdateIssue(w http.ResponseWriter, r *http.Request) {
	var req issues.UpdateRequest
	if err := decode(w, r, &req); err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}
	issue, err := h.issues.Update(r.Context(), chi.URLParam(r, "category"), req)
	if err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}
	api.RespondJSON(w, http.StatusOK, issue)
}

// DeleteIssue handles DELETE /admin/issues/{category}
func (h *IssueHandler) DeleteIssue(w http.ResponseWriter, r *http.Request) {
	res, err := h.issues.Delete(r.Context(), chi.URLParam(r, "category"))
	if err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}
	api.RespondJSON(w, http.StatusOK, res)
}

// ToggleIssue handles PATCH /admin/issues/{category}/toggle
func (h *IssueHandler) ToggleIssue(w http.ResponseWriter, r *http.Request) {
	var req ToggleRequest
	if err := decodeOptional(w, r, &req); err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}
	force, err := boolQuery(r, "force")
	if err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}

	issue, err := h.issues.Toggle(r.Context(), chi.URLParam(r, "category"), force || req.Force)
	if err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}
	api.RespondJSON(w, http.StatusOK, issue)
}

// ValidateIssue handles GET /admin/issues/{category}/validate
func (h *IssueHandler) ValidateIssue(w http.ResponseWriter, r *http.Request) {
	res, err := h.issues.Validate(r.Context(), chi.URLParam(r, "category"))
	if err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}
	api.RespondJSON(w, http.StatusOK, res)
}

// GetIssueGraph handles GET /admin/issues/{category}/graph
func (h *IssueHandler) GetIssueGraph(w http.ResponseWriter, r *http.Request) {
	g, err := h.issues.Graph(r.Context(), chi.URLParam(r, "category"))
	if err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}
	api.RespondJSON(w, http.StatusOK, g)
}

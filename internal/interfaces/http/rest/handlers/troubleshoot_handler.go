package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/Galaxyz7/equipment-troubleshooting-rust-react-sub001/internal/application/issues"
	"github.com/Galaxyz7/equipment-troubleshooting-rust-react-sub001/internal/application/sessions"
	"github.com/Galaxyz7/equipment-troubleshooting-rust-react-sub001/pkg/api"
	pkgerrors "github.com/Galaxyz7/equipment-troubleshooting-rust-react-sub001/pkg/errors"
)

// TroubleshootHandler serves the public session endpoints.
type TroubleshootHandler struct {
	engine       *sessions.Engine
	issues       *issues.Service
	logger       *zap.Logger
	errorHandler *pkgerrors.Handler
}

func NewTroubleshootHandler(engine *sessions.Engine, issueService *issues.Service, logger *zap.Logger, errorHandler *pkgerrors.Handler) *TroubleshootHandler {
	return &TroubleshootHandler{engine: engine, issues: issueService, logger: logger, errorHandler: errorHandler}
}

// StartSessionRequest is the body of POST /troubleshoot/start. Every field
// is optional.
type StartSessionRequest struct {
	Category       *string `json:"category,omitempty" validate:"omitempty,max=100"`
	TechIdentifier *string `json:"tech_identifier,omitempty" validate:"omitempty,max=100"`
	ClientSite     *string `json:"client_site,omitempty" validate:"omitempty,max=200"`
}

// SubmitAnswerRequest is the body of POST /troubleshoot/{sessionID}/answer.
type SubmitAnswerRequest struct {
	ConnectionID string `json:"connection_id" validate:"required"`
}

// StartSession handles POST /troubleshoot/start
func (h *TroubleshootHandler) StartSession(w http.ResponseWriter, r *http.Request) {
	var req StartSessionRequest
	if err := decodeOptional(w, r, &req); err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}

	res, err := h.engine.StartSession(r.Context(), sessions.StartRequest{
		Category:       req.Category,
		TechIdentifier: req.TechIdentifier,
		ClientSite:     req.ClientSite,
		ClientIP:       clientIP(r),
		UserAgent:      r.UserAgent(),
	})
	if err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}
	api.RespondJSON(w, http.StatusCreated, res)
}

// SubmitAnswer handles POST /troubleshoot/{sessionID}/answer
func (h *TroubleshootHandler) SubmitAnswer(w http.ResponseWriter, r *http.Request) {
	var req SubmitAnswerRequest
	if err := decode(w, r, &req); err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}

	res, err := h.engine.SubmitAnswer(r.Context(), chi.URLParam(r, "sessionID"), req.ConnectionID)
	if err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}
	api.RespondJSON(w, http.StatusOK, res)
}

// GetSession handles GET /troubleshoot/{sessionID}
func (h *TroubleshootHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	state, err := h.engine.GetSession(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}
	api.RespondJSON(w, http.StatusOK, state)
}

// GetHistory handles GET /troubleshoot/{sessionID}/history
func (h *TroubleshootHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	history, err := h.engine.GetHistory(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}
	api.RespondJSON(w, http.StatusOK, history)
}

// GetTree handles GET /issues/tree/{category}. Only published nodes are
// part of the tree.
func (h *TroubleshootHandler) GetTree(w http.ResponseWriter, r *http.Request) {
	tree, err := h.issues.Tree(r.Context(), chi.URLParam(r, "category"))
	if err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}
	api.RespondJSON(w, http.StatusOK, tree)
}

package handlers

import (
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/Galaxyz7/equipment-troubleshooting-rust-react-sub001/internal/application/sessions"
	"github.com/Galaxyz7/equipment-troubleshooting-rust-react-sub001/internal/domain/session"
	"github.com/Galaxyz7/equipment-troubleshooting-rust-react-sub001/internal/repository"
	"github.com/Galaxyz7/equipment-troubleshooting-rust-react-sub001/pkg/api"
	pkgerrors "github.com/Galaxyz7/equipment-troubleshooting-rust-react-sub001/pkg/errors"
)

// SessionHandler serves session administration.
type SessionHandler struct {
	engine       *sessions.Engine
	logger       *zap.Logger
	errorHandler *pkgerrors.Handler
}

func NewSessionHandler(engine *sessions.Engine, logger *zap.Logger, errorHandler *pkgerrors.Handler) *SessionHandler {
	return &SessionHandler{engine: engine, logger: logger, errorHandler: errorHandler}
}

// ListSessions handles GET /admin/sessions
func (h *SessionHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	filter, err := sessionFilter(r)
	if err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}
	page, err := intQuery(r, "page")
	if err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}
	pageSize, err := intQuery(r, "page_size")
	if err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}

	list, err := h.engine.ListSessions(r.Context(), filter, page, pageSize)
	if err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}
	api.RespondJSON(w, http.StatusOK, list)
}

// CountSessions handles GET /admin/sessions/count
func (h *SessionHandler) CountSessions(w http.ResponseWriter, r *http.Request) {
	filter, err := sessionFilter(r)
	if err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}
	n, err := h.engine.CountSessions(r.Context(), filter)
	if err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}
	api.RespondJSON(w, http.StatusOK, map[string]int{"count": n})
}

// DeleteSessions handles DELETE /admin/sessions
func (h *SessionHandler) DeleteSessions(w http.ResponseWriter, r *http.Request) {
	filter, err := sessionFilter(r)
	if err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}
	all, err := boolQuery(r, "all")
	if err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}

	n, err := h.engine.DeleteSessions(r.Context(), filter, all)
	if err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}
	api.RespondJSON(w, http.StatusOK, map[string]int{"deleted": n})
}

// sessionFilter reads status, category, search, start_date and end_date.
// Dates are RFC 3339 timestamps or plain YYYY-MM-DD days; an end day
// includes the whole day.
func sessionFilter(r *http.Request) (repository.SessionFilter, error) {
	q := r.URL.Query()
	f := repository.SessionFilter{Category: q.Get("category"), Search: q.Get("search")}

	if raw := q.Get("status"); raw != "" {
		status, err := session.ParseStatus(raw)
		if err != nil {
			return f, err
		}
		f.Status = status
	}
	var err error
	if f.StartedAfter, err = dateQuery(q.Get("start_date"), "start_date", false); err != nil {
		return f, err
	}
	if f.StartedBefore, err = dateQuery(q.Get("end_date"), "end_date", true); err != nil {
		return f, err
	}
	return f, nil
}

func dateQuery(raw, name string, endOfDay bool) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return &t, nil
	}
	day, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return nil, pkgerrors.NewValidationError(name + " must be an RFC 3339 timestamp or a YYYY-MM-DD date")
	}
	if endOfDay {
		day = day.Add(24*time.Hour - time.Nanosecond)
	}
	return &day, nil
}

func intQuery(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, pkgerrors.NewValidationError(name + " must be a non-negative integer")
	}
	return v, nil
}

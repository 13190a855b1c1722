package sessions

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/Galaxyz7/equipment-troubleshooting-rust-react-sub001/internal/domain/session"
	"github.com/Galaxyz7/equipment-troubleshooting-rust-react-sub001/internal/repository"
	pkgerrors "github.com/Galaxyz7/equipment-troubleshooting-rust-react-sub001/pkg/errors"
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 200
)

// Summary is the admin list view of a session.
type Summary struct {
	SessionID       string         `json:"session_id"`
	Category        string         `json:"category,omitempty"`
	Status          session.Status `json:"status"`
	StartedAt       time.Time      `json:"started_at"`
	CompletedAt     *time.Time     `json:"completed_at,omitempty"`
	Abandoned       bool           `json:"abandoned"`
	TechIdentifier  *string        `json:"tech_identifier,omitempty"`
	ClientSite      *string        `json:"client_site,omitempty"`
	FinalConclusion *string        `json:"final_conclusion,omitempty"`
	StepCount       int            `json:"step_count"`
}

func summarize(s *session.Session) Summary {
	return Summary{
		SessionID:       s.ID,
		Category:        s.Category,
		Status:          s.Status(),
		StartedAt:       s.StartedAt,
		CompletedAt:     s.CompletedAt,
		Abandoned:       s.Abandoned,
		TechIdentifier:  s.TechIdentifier,
		ClientSite:      s.ClientSite,
		FinalConclusion: s.FinalConclusion,
		StepCount:       len(s.Steps),
	}
}

// SessionList is one page of the admin session listing.
type SessionList struct {
	Sessions   []Summary `json:"sessions"`
	TotalCount int       `json:"total_count"`
	Page       int       `json:"page"`
	PageSize   int       `json:"page_size"`
}

// ListSessions pages through sessions, newest first. page starts at 1;
// pageSize defaults to DefaultPageSize and is capped at MaxPageSize.
func (e *Engine) ListSessions(ctx context.Context, filter repository.SessionFilter, page, pageSize int) (*SessionList, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = DefaultPageSize
	}
	pageSize = min(pageSize, MaxPageSize)

	found, total, err := e.repo.List(ctx, filter, repository.Page{Number: page, Size: pageSize})
	if err != nil {
		return nil, err
	}
	out := &SessionList{Sessions: make([]Summary, 0, len(found)), TotalCount: total, Page: page, PageSize: pageSize}
	for _, s := range found {
		out.Sessions = append(out.Sessions, summarize(s))
	}
	return out, nil
}

// CountSessions returns how many sessions match filter.
func (e *Engine) CountSessions(ctx context.Context, filter repository.SessionFilter) (int, error) {
	_, total, err := e.repo.List(ctx, filter, repository.Page{Number: 1, Size: 0})
	return total, err
}

// DeleteSessions removes every session matching filter. An empty filter
// deletes everything and must be asked for with all.
func (e *Engine) DeleteSessions(ctx context.Context, filter repository.SessionFilter, all bool) (int, error) {
	if filter.IsZero() && !all {
		return 0, pkgerrors.NewValidationError("a filter is required to delete sessions; pass all=true to delete every session").
			WithCode("FILTER_REQUIRED")
	}
	n, err := e.repo.Delete(ctx, filter)
	if err != nil {
		return n, err
	}
	e.logger.Info("Sessions deleted",
		zap.Int("count", n),
		zap.String("status", string(filter.Status)),
		zap.String("category", filter.Category))
	return n, nil
}

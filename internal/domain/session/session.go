// Package session models one user's walk through a decision tree.
//
// A session is Active until it reaches a conclusion (Completed) or an external
// policy gives up on it (Abandoned). Both end states are terminal: every
// transition method refuses to run on a session that has left Active.
package session

import (
	"strings"
	"time"

	"github.com/google/uuid"

	pkgerrors "github.com/Galaxyz7/equipment-troubleshooting-rust-react-sub001/pkg/errors"
)

// Status is the lifecycle state of a session.
type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusAbandoned Status = "abandoned"
)

// ParseStatus accepts the lowercase status names.
func ParseStatus(s string) (Status, error) {
	switch Status(strings.ToLower(strings.TrimSpace(s))) {
	case StatusActive:
		return StatusActive, nil
	case StatusCompleted:
		return StatusCompleted, nil
	case StatusAbandoned:
		return StatusAbandoned, nil
	default:
		return "", pkgerrors.NewValidationError("status must be one of: active completed abandoned")
	}
}

// Step records one answer: the node it was given at and the connection chosen.
type Step struct {
	NodeID       string    `json:"node_id"`
	NodeText     string    `json:"node_text"`
	ConnectionID string    `json:"connection_id"`
	Label        string    `json:"label"`
	Timestamp    time.Time `json:"timestamp"`
}

// Context holds the optional tags captured when a session starts.
type Context struct {
	TechIdentifier *string `json:"tech_identifier,omitempty"`
	ClientSite     *string `json:"client_site,omitempty"`
	IPHash         *string `json:"ip_hash,omitempty"`
	UserAgent      *string `json:"user_agent,omitempty"`
}

// Session is one traversal instance.
type Session struct {
	ID              string     `json:"session_id"`
	Category        string     `json:"category,omitempty"`
	CurrentNodeID   string     `json:"current_node_id"`
	Steps           []Step     `json:"steps"`
	StartedAt       time.Time  `json:"started_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	Abandoned       bool       `json:"abandoned"`
	FinalConclusion *string    `json:"final_conclusion,omitempty"`
	Context

	// Version increments on every persisted transition and guards against
	// concurrent writers.
	Version int `json:"version"`
}

// New starts an active session positioned at startNodeID.
func New(category, startNodeID string, ctx Context, now time.Time) *Session {
	return &Session{
		ID:            uuid.NewString(),
		Category:      category,
		CurrentNodeID: startNodeID,
		Steps:         []Step{},
		StartedAt:     now,
		UpdatedAt:     now,
		Context:       ctx,
		Version:       1,
	}
}

// Status derives the lifecycle state.
func (s *Session) Status() Status {
	switch {
	case s.CompletedAt != nil:
		return StatusCompleted
	case s.Abandoned:
		return StatusAbandoned
	default:
		return StatusActive
	}
}

// IsActive reports whether the session still accepts answers.
func (s *Session) IsActive() bool { return s.Status() == StatusActive }

// Advance appends a step and moves the session to nextNodeID.
func (s *Session) Advance(step Step, nextNodeID string, now time.Time) error {
	if !s.IsActive() {
		return ErrNotActive(s.ID)
	}
	s.Steps = append(s.Steps, step)
	s.CurrentNodeID = nextNodeID
	s.UpdatedAt = now
	return nil
}

// Complete records the conclusion text and ends the session.
func (s *Session) Complete(conclusion string, now time.Time) error {
	if !s.IsActive() {
		return ErrNotActive(s.ID)
	}
	s.FinalConclusion = &conclusion
	s.CompletedAt = &now
	s.UpdatedAt = now
	return nil
}

// Abandon ends an active session without a conclusion.
func (s *Session) Abandon(now time.Time) error {
	if !s.IsActive() {
		return ErrNotActive(s.ID)
	}
	s.Abandoned = true
	s.UpdatedAt = now
	return nil
}

// Clone returns a deep copy so callers can mutate without touching shared state.
func (s *Session) Clone() *Session {
	c := *s
	c.Steps = append([]Step(nil), s.Steps...)
	if s.CompletedAt != nil {
		t := *s.CompletedAt
		c.CompletedAt = &t
	}
	if s.FinalConclusion != nil {
		f := *s.FinalConclusion
		c.FinalConclusion = &f
	}
	return &c
}

// ErrNotActive is returned by every transition on a finished session. Callers
// cannot tell a finished session from a missing one.
func ErrNotActive(id string) *pkgerrors.AppError {
	return pkgerrors.NewNotFoundError("active session").
		WithDetails(map[string]interface{}{"session_id": id})
}

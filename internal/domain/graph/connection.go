package graph

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	pkgerrors "github.com/Galaxyz7/equipment-troubleshooting-rust-react-sub001/pkg/errors"
)

// Connection is a directed, labeled edge: one answer choice leading from a
// question to the next node.
type Connection struct {
	ID         string    `json:"id"`
	FromNodeID string    `json:"from_node_id"`
	ToNodeID   string    `json:"to_node_id"`
	Label      string    `json:"label"`
	OrderIndex int       `json:"order_index"`
	IsActive   bool      `json:"is_active"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// ConnectionSpec carries the fields of a connection to create.
type ConnectionSpec struct {
	FromNodeID string
	ToNodeID   string
	Label      string
	OrderIndex int
	// IsActive defaults to true when nil.
	IsActive *bool
}

// NewConnection validates spec and builds a connection with a fresh id.
// Endpoint existence is checked by the store, not here.
func NewConnection(spec ConnectionSpec, now time.Time) (*Connection, error) {
	if spec.FromNodeID == "" || spec.ToNodeID == "" {
		return nil, pkgerrors.NewValidationError("from_node_id and to_node_id are required")
	}
	if spec.FromNodeID == spec.ToNodeID {
		return nil, ErrSelfLoop()
	}
	if strings.TrimSpace(spec.Label) == "" {
		return nil, pkgerrors.NewValidationError("label is required")
	}

	active := true
	if spec.IsActive != nil {
		active = *spec.IsActive
	}

	return &Connection{
		ID:         uuid.NewString(),
		FromNodeID: spec.FromNodeID,
		ToNodeID:   spec.ToNodeID,
		Label:      spec.Label,
		OrderIndex: spec.OrderIndex,
		IsActive:   active,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

// ConnectionPatch is a partial update of a connection.
type ConnectionPatch struct {
	ToNodeID   *string
	Label      *string
	OrderIndex *int
	IsActive   *bool
}

// Apply mutates c with the patch and bumps UpdatedAt.
func (p ConnectionPatch) Apply(c *Connection, now time.Time) error {
	if p.ToNodeID != nil {
		if *p.ToNodeID == c.FromNodeID {
			return ErrSelfLoop()
		}
		c.ToNodeID = *p.ToNodeID
	}
	if p.Label != nil {
		if strings.TrimSpace(*p.Label) == "" {
			return pkgerrors.NewValidationError("label cannot be empty")
		}
		c.Label = *p.Label
	}
	if p.OrderIndex != nil {
		c.OrderIndex = *p.OrderIndex
	}
	if p.IsActive != nil {
		c.IsActive = *p.IsActive
	}
	c.UpdatedAt = now
	return nil
}

// ErrSelfLoop is returned when a connection would lead back to its own source.
func ErrSelfLoop() *pkgerrors.AppError {
	return pkgerrors.NewGraphIntegrityError("a connection cannot point to its own source node").
		WithCode("SELF_LOOP")
}

// SortConnections orders connections by order_index ascending. The sort is stable,
// so callers pass connections in creation order to break ties by creation.
func SortConnections(conns []*Connection) {
	sort.SliceStable(conns, func(i, j int) bool {
		if conns[i].OrderIndex != conns[j].OrderIndex {
			return conns[i].OrderIndex < conns[j].OrderIndex
		}
		return conns[i].CreatedAt.Before(conns[j].CreatedAt)
	})
}

// ActiveOnly returns the active subset, preserving order.
func ActiveOnly(conns []*Connection) []*Connection {
	out := make([]*Connection, 0, len(conns))
	for _, c := range conns {
		if c.IsActive {
			out = append(out, c)
		}
	}
	return out
}

// Package repository defines the persistence ports used by the application layer.
//
// Backends return pkg/errors typed failures: NotFound for missing rows and
// Conflict for unique-key violations (semantic ids, stale session versions).
package repository

import (
	"context"
	"strings"
	"time"

	"github.com/Galaxyz7/equipment-troubleshooting-rust-react-sub001/internal/domain/graph"
	"github.com/Galaxyz7/equipment-troubleshooting-rust-react-sub001/internal/domain/session"
)

// GraphReader is the read side of the node/connection store. List methods
// return rows regardless of is_active; callers filter.
type GraphReader interface {
	GetNode(ctx context.Context, id string) (*graph.Node, error)
	FindNodeBySemanticID(ctx context.Context, semanticID string) (*graph.Node, error)
	ListNodesByCategory(ctx context.Context, category string) ([]*graph.Node, error)
	ListCategories(ctx context.Context) ([]string, error)

	GetConnection(ctx context.Context, id string) (*graph.Connection, error)
	// ListConnectionsFrom returns outgoing connections ordered by order_index,
	// ties broken by creation order.
	ListConnectionsFrom(ctx context.Context, nodeID string) ([]*graph.Connection, error)
	ListConnectionsTo(ctx context.Context, nodeID string) ([]*graph.Connection, error)
}

// GraphWriter mutates nodes and connections.
type GraphWriter interface {
	InsertNode(ctx context.Context, n *graph.Node) error
	UpdateNode(ctx context.Context, n *graph.Node) error
	// DeleteNode removes the node row only; connection cleanup is the caller's job
	// inside the same transaction.
	DeleteNode(ctx context.Context, id string) error

	InsertConnection(ctx context.Context, c *graph.Connection) error
	UpdateConnection(ctx context.Context, c *graph.Connection) error
	DeleteConnection(ctx context.Context, id string) error
}

// GraphTx is a unit of work over the graph. Writes become visible atomically
// when the enclosing WithTx returns nil. Reads inside a transaction are not
// guaranteed to observe the transaction's own pending writes.
type GraphTx interface {
	GraphReader
	GraphWriter
}

// GraphCounts summarizes the store for admin dashboards.
type GraphCounts struct {
	Nodes             int `json:"nodes"`
	ActiveNodes       int `json:"active_nodes"`
	Connections       int `json:"connections"`
	ActiveConnections int `json:"active_connections"`
	Categories        int `json:"categories"`
}

// GraphRepository is the node/connection store.
type GraphRepository interface {
	GraphReader
	// WithTx runs fn in a transaction. Any error from fn rolls everything back.
	WithTx(ctx context.Context, fn func(ctx context.Context, tx GraphTx) error) error
	Counts(ctx context.Context) (GraphCounts, error)
	Ping(ctx context.Context) error
}

// SessionCounts summarizes sessions by lifecycle state.
type SessionCounts struct {
	Total     int `json:"total"`
	Active    int `json:"active"`
	Completed int `json:"completed"`
	Abandoned int `json:"abandoned"`
}

// SessionFilter selects sessions for admin listing and deletion. Zero
// fields match everything.
type SessionFilter struct {
	Status   session.Status
	Category string
	// Search matches a substring of the technician identifier or the site.
	Search        string
	StartedAfter  *time.Time
	StartedBefore *time.Time
}

// IsZero reports whether the filter matches every session.
func (f SessionFilter) IsZero() bool {
	return f.Status == "" && f.Category == "" && f.Search == "" && f.StartedAfter == nil && f.StartedBefore == nil
}

// Matches applies the filter to one session in memory. Search is case
// insensitive.
func (f SessionFilter) Matches(s *session.Session) bool {
	if f.Status != "" && s.Status() != f.Status {
		return false
	}
	if f.Category != "" && s.Category != f.Category {
		return false
	}
	if f.StartedAfter != nil && s.StartedAt.Before(*f.StartedAfter) {
		return false
	}
	if f.StartedBefore != nil && s.StartedAt.After(*f.StartedBefore) {
		return false
	}
	if f.Search != "" {
		needle := strings.ToLower(f.Search)
		hit := func(v *string) bool { return v != nil && strings.Contains(strings.ToLower(*v), needle) }
		if !hit(s.TechIdentifier) && !hit(s.ClientSite) {
			return false
		}
	}
	return true
}

// Page is a 1-based page request.
type Page struct {
	Number int
	Size   int
}

// Offset is the number of rows before the page.
func (p Page) Offset() int { return (p.Number - 1) * p.Size }

// SessionRepository persists sessions with their steps embedded.
type SessionRepository interface {
	Create(ctx context.Context, s *session.Session) error
	Get(ctx context.Context, id string) (*session.Session, error)
	// Update stores s only if the persisted version still equals s.Version and
	// then increments s.Version. A stale version fails with Conflict.
	Update(ctx context.Context, s *session.Session) error
	// ListIdleActive returns up to limit active sessions not updated since cutoff.
	ListIdleActive(ctx context.Context, cutoff time.Time, limit int) ([]*session.Session, error)
	Counts(ctx context.Context) (SessionCounts, error)
	// List returns one page of matching sessions, newest first, and the
	// number of matches.
	List(ctx context.Context, filter SessionFilter, page Page) ([]*session.Session, int, error)
	// Delete removes every matching session and returns how many it removed.
	Delete(ctx context.Context, filter SessionFilter) (int, error)
}

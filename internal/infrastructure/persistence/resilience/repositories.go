package resilience

import (
	"context"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/Galaxyz7/equipment-troubleshooting-rust-react-sub001/internal/domain/graph"
	"github.com/Galaxyz7/equipment-troubleshooting-rust-react-sub001/internal/domain/session"
	"github.com/Galaxyz7/equipment-troubleshooting-rust-react-sub001/internal/repository"
)

// GraphRepository guards a graph repository with a circuit breaker. A whole
// transaction counts as one request.
type GraphRepository struct {
	inner repository.GraphRepository
	cb    *gobreaker.CircuitBreaker
}

// NewGraphRepository wraps inner.
func NewGraphRepository(inner repository.GraphRepository, cfg Config, logger *zap.Logger) *GraphRepository {
	return &GraphRepository{inner: inner, cb: newBreaker(cfg, logger)}
}

var _ repository.GraphRepository = (*GraphRepository)(nil)

func (r *GraphRepository) GetNode(ctx context.Context, id string) (*graph.Node, error) {
	return run(r.cb, func() (*graph.Node, error) { return r.inner.GetNode(ctx, id) })
}

func (r *GraphRepository) FindNodeBySemanticID(ctx context.Context, semanticID string) (*graph.Node, error) {
	return run(r.cb, func() (*graph.Node, error) { return r.inner.FindNodeBySemanticID(ctx, semanticID) })
}

func (r *GraphRepository) ListNodesByCategory(ctx context.Context, category string) ([]*graph.Node, error) {
	return run(r.cb, func() ([]*graph.Node, error) { return r.inner.ListNodesByCategory(ctx, category) })
}

func (r *GraphRepository) ListCategories(ctx context.Context) ([]string, error) {
	return run(r.cb, func() ([]string, error) { return r.inner.ListCategories(ctx) })
}

func (r *GraphRepository) GetConnection(ctx context.Context, id string) (*graph.Connection, error) {
	return run(r.cb, func() (*graph.Connection, error) { return r.inner.GetConnection(ctx, id) })
}

func (r *GraphRepository) ListConnectionsFrom(ctx context.Context, nodeID string) ([]*graph.Connection, error) {
	return run(r.cb, func() ([]*graph.Connection, error) { return r.inner.ListConnectionsFrom(ctx, nodeID) })
}

func (r *GraphRepository) ListConnectionsTo(ctx context.Context, nodeID string) ([]*graph.Connection, error) {
	return run(r.cb, func() ([]*graph.Connection, error) { return r.inner.ListConnectionsTo(ctx, nodeID) })
}

func (r *GraphRepository) WithTx(ctx context.Context, fn func(ctx context.Context, tx repository.GraphTx) error) error {
	return exec(r.cb, func() error { return r.inner.WithTx(ctx, fn) })
}

func (r *GraphRepository) Counts(ctx context.Context) (repository.GraphCounts, error) {
	return run(r.cb, func() (repository.GraphCounts, error) { return r.inner.Counts(ctx) })
}

// Ping bypasses the breaker so readiness reflects the backend itself.
func (r *GraphRepository) Ping(ctx context.Context) error {
	return r.inner.Ping(ctx)
}

// State exposes the breaker state for health reporting.
func (r *GraphRepository) State() string {
	return r.cb.State().String()
}

// SessionRepository guards a session repository with a circuit breaker.
type SessionRepository struct {
	inner repository.SessionRepository
	cb    *gobreaker.CircuitBreaker
}

// NewSessionRepository wraps inner.
func NewSessionRepository(inner repository.SessionRepository, cfg Config, logger *zap.Logger) *SessionRepository {
	return &SessionRepository{inner: inner, cb: newBreaker(cfg, logger)}
}

var _ repository.SessionRepository = (*SessionRepository)(nil)

func (r *SessionRepository) Create(ctx context.Context, s *session.Session) error {
	return exec(r.cb, func() error { return r.inner.Create(ctx, s) })
}

func (r *SessionRepository) Get(ctx context.Context, id string) (*session.Session, error) {
	return run(r.cb, func() (*session.Session, error) { return r.inner.Get(ctx, id) })
}

func (r *SessionRepository) Update(ctx context.Context, s *session.Session) error {
	return exec(r.cb, func() error { return r.inner.Update(ctx, s) })
}

func (r *SessionRepository) ListIdleActive(ctx context.Context, cutoff time.Time, limit int) ([]*session.Session, error) {
	return run(r.cb, func() ([]*session.Session, error) { return r.inner.ListIdleActive(ctx, cutoff, limit) })
}

func (r *SessionRepository) Counts(ctx context.Context) (repository.SessionCounts, error) {
	return run(r.cb, func() (repository.SessionCounts, error) { return r.inner.Counts(ctx) })
}

type sessionPage struct {
	sessions []*session.Session
	total    int
}

func (r *SessionRepository) List(ctx context.Context, filter repository.SessionFilter, page repository.Page) ([]*session.Session, int, error) {
	out, err := run(r.cb, func() (sessionPage, error) {
		sessions, total, err := r.inner.List(ctx, filter, page)
		return sessionPage{sessions: sessions, total: total}, err
	})
	return out.sessions, out.total, err
}

func (r *SessionRepository) Delete(ctx context.Context, filter repository.SessionFilter) (int, error) {
	return run(r.cb, func() (int, error) { return r.inner.Delete(ctx, filter) })
}

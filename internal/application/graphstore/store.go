// Package graphstore owns the lifecycle of nodes and connections. It is the
// only application component that talks to the graph repository, and every
// committed mutation is announced as an events.GraphChanged naming the
// categories whose derived views it touched.
package graphstore

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/Galaxyz7/equipment-troubleshooting-rust-react-sub001/internal/domain/events"
	"github.com/Galaxyz7/equipment-troubleshooting-rust-react-sub001/internal/domain/graph"
	"github.com/Galaxyz7/equipment-troubleshooting-rust-react-sub001/internal/repository"
	pkgerrors "github.com/Galaxyz7/equipment-troubleshooting-rust-react-sub001/pkg/errors"
)

const tracerName = "troubleshooting/graphstore"

// TxFunc is a multi-step mutation. It returns the categories it affected.
type TxFunc func(ctx context.Context, tx repository.GraphTx) ([]string, error)

// Store is the GraphStore.
type Store struct {
	repo      repository.GraphRepository
	publisher events.Publisher
	roots     graph.Roots
	logger    *zap.Logger
	tracer    trace.Tracer
	now       func() time.Time
}

// New creates a Store. A nil publisher discards events.
func New(repo repository.GraphRepository, publisher events.Publisher, roots graph.Roots, logger *zap.Logger) *Store {
	if publisher == nil {
		publisher = events.Discard
	}
	return &Store{
		repo:      repo,
		publisher: publisher,
		roots:     roots,
		logger:    logger,
		tracer:    otel.Tracer(tracerName),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Roots returns the configured entry-point names.
func (s *Store) Roots() graph.Roots { return s.roots }

// Now returns the store clock, in UTC.
func (s *Store) Now() time.Time { return s.now() }

func (s *Store) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "graphstore."+name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// Mutate runs fn in one transaction and, once committed, publishes a
// GraphChanged event for the categories fn reported.
func (s *Store) Mutate(ctx context.Context, eventType, aggregateID string, fn TxFunc) error {
	var categories []string
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx repository.GraphTx) error {
		cats, err := fn(ctx, tx)
		if err != nil {
			return err
		}
		categories = cats
		return nil
	})
	if err != nil {
		return err
	}

	s.publish(ctx, events.NewGraphChanged(eventType, aggregateID, categories, s.now()))
	return nil
}

func (s *Store) publish(ctx context.Context, event events.GraphChanged) {
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Error("Failed to publish graph change",
			zap.String("eventType", event.EventType),
			zap.Strings("categories", event.Categories),
			zap.Error(err))
	}
}

// CreateNode inserts a node. A semantic id already in use fails with Conflict.
func (s *Store) CreateNode(ctx context.Context, spec graph.NodeSpec) (node *graph.Node, err error) {
	ctx, span := s.startSpan(ctx, "CreateNode", attribute.String("category", spec.Category))
	defer func() { endSpan(span, err) }()

	node, err = graph.NewNode(spec, s.now())
	if err != nil {
		return nil, err
	}

	err = s.Mutate(ctx, events.NodeCreated, node.ID, func(ctx context.Context, tx repository.GraphTx) ([]string, error) {
		if node.SemanticID != nil {
			if err := EnsureSemanticIDFree(ctx, tx, *node.SemanticID, ""); err != nil {
				return nil, err
			}
		}
		if err := tx.InsertNode(ctx, node); err != nil {
			return nil, err
		}
		return []string{node.Category}, nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Debug("Node created",
		zap.String("nodeID", node.ID),
		zap.String("category", node.Category),
		zap.String("type", string(node.NodeType)))
	return node, nil
}

// UpdateNode applies a partial update. Unknown ids fail with NotFound.
func (s *Store) UpdateNode(ctx context.Context, id string, patch graph.NodePatch) (node *graph.Node, err error) {
	ctx, span := s.startSpan(ctx, "UpdateNode", attribute.String("node.id", id))
	defer func() { endSpan(span, err) }()

	err = s.Mutate(ctx, events.NodeUpdated, id, func(ctx context.Context, tx repository.GraphTx) ([]string, error) {
		current, err := tx.GetNode(ctx, id)
		if err != nil {
			return nil, err
		}
		if sid, changed := patch.ChangesSemanticID(current); changed {
			if err := EnsureSemanticIDFree(ctx, tx, sid, id); err != nil {
				return nil, err
			}
		}

		affected := []string{current.Category}
		if err := patch.Apply(current, s.now()); err != nil {
			return nil, err
		}
		if err := tx.UpdateNode(ctx, current); err != nil {
			return nil, err
		}
		affected = append(affected, current.Category)

		// Options shown on the way into this node carry its category and label.
		incoming, err := sourceCategories(ctx, tx, id)
		if err != nil {
			return nil, err
		}
		node = current
		return append(affected, incoming...), nil
	})
	if err != nil {
		return nil, err
	}
	return node, nil
}

// DeleteNode removes a node together with every connection that starts or
// ends at it, atomically.
func (s *Store) DeleteNode(ctx context.Context, id string) (err error) {
	ctx, span := s.startSpan(ctx, "DeleteNode", attribute.String("node.id", id))
	defer func() { endSpan(span, err) }()

	removed := 0
	err = s.Mutate(ctx, events.NodeDeleted, id, func(ctx context.Context, tx repository.GraphTx) ([]string, error) {
		cats, n, err := deleteNodeCascade(ctx, tx, id)
		removed = n
		return cats, err
	})
	if err != nil {
		return err
	}

	s.logger.Debug("Node deleted",
		zap.String("nodeID", id),
		zap.Int("connectionsRemoved", removed))
	return nil
}

// deleteNodeCascade deletes the node's connections and then the node. It
// returns the affected categories and the number of connections removed.
func deleteNodeCascade(ctx context.Context, tx repository.GraphTx, id string) ([]string, int, error) {
	node, err := tx.GetNode(ctx, id)
	if err != nil {
		return nil, 0, err
	}
	outgoing, err := tx.ListConnectionsFrom(ctx, id)
	if err != nil {
		return nil, 0, err
	}
	incoming, err := tx.ListConnectionsTo(ctx, id)
	if err != nil {
		return nil, 0, err
	}

	affected := []string{node.Category}
	seen := make(map[string]bool, len(outgoing)+len(incoming))
	for _, c := range append(outgoing, incoming...) {
		if seen[c.ID] {
			continue
		}
		seen[c.ID] = true
		if c.FromNodeID != id {
			from, err := tx.GetNode(ctx, c.FromNodeID)
			if err != nil && !pkgerrors.IsNotFound(err) {
				return nil, 0, err
			}
			if from != nil {
				affected = append(affected, from.Category)
			}
		}
		if err := tx.DeleteConnection(ctx, c.ID); err != nil {
			return nil, 0, err
		}
	}

	if err := tx.DeleteNode(ctx, id); err != nil {
		return nil, 0, err
	}
	return affected, len(seen), nil
}

// DeleteCategory removes every node of a category and all their connections.
func (s *Store) DeleteCategory(ctx context.Context, category string) (deleted int, err error) {
	ctx, span := s.startSpan(ctx, "DeleteCategory", attribute.String("category", category))
	defer func() { endSpan(span, err) }()

	err = s.Mutate(ctx, events.CategoryDeleted, category, func(ctx context.Context, tx repository.GraphTx) ([]string, error) {
		cats, n, err := DeleteCategoryTx(ctx, tx, category)
		deleted = n
		return cats, err
	})
	return deleted, err
}

// DeleteCategoryTx deletes a category inside an existing transaction. A
// category with no nodes fails with NotFound.
func DeleteCategoryTx(ctx context.Context, tx repository.GraphTx, category string) ([]string, int, error) {
	nodes, err := tx.ListNodesByCategory(ctx, category)
	if err != nil {
		return nil, 0, err
	}
	if len(nodes) == 0 {
		return nil, 0, pkgerrors.NewNotFoundError("issue").
			WithDetails(map[string]interface{}{"category": category})
	}

	inCategory := make(map[string]bool, len(nodes))
	for _, n := range nodes {
		inCategory[n.ID] = true
	}

	affected := []string{category}
	deletedConns := make(map[string]bool)
	for _, n := range nodes {
		outgoing, err := tx.ListConnectionsFrom(ctx, n.ID)
		if err != nil {
			return nil, 0, err
		}
		incoming, err := tx.ListConnectionsTo(ctx, n.ID)
		if err != nil {
			return nil, 0, err
		}
		for _, c := range append(outgoing, incoming...) {
			if deletedConns[c.ID] {
				continue
			}
			deletedConns[c.ID] = true
			if !inCategory[c.FromNodeID] {
				from, err := tx.GetNode(ctx, c.FromNodeID)
				if err != nil && !pkgerrors.IsNotFound(err) {
					return nil, 0, err
				}
				if from != nil {
					affected = append(affected, from.Category)
				}
			}
			if err := tx.DeleteConnection(ctx, c.ID); err != nil {
				return nil, 0, err
			}
		}
	}
	for _, n := range nodes {
		if err := tx.DeleteNode(ctx, n.ID); err != nil {
			return nil, 0, err
		}
	}
	return affected, len(nodes), nil
}

// CreateConnection links two existing nodes. Missing endpoints fail with
// NotFound and self-loops with a graph integrity error.
func (s *Store) CreateConnection(ctx context.Context, spec graph.ConnectionSpec) (conn *graph.Connection, err error) {
	ctx, span := s.startSpan(ctx, "CreateConnection",
		attribute.String("from", spec.FromNodeID),
		attribute.String("to", spec.ToNodeID))
	defer func() { endSpan(span, err) }()

	conn, err = graph.NewConnection(spec, s.now())
	if err != nil {
		return nil, err
	}

	err = s.Mutate(ctx, events.ConnectionCreated, conn.ID, func(ctx context.Context, tx repository.GraphTx) ([]string, error) {
		from, err := endpoint(ctx, tx, "from", conn.FromNodeID)
		if err != nil {
			return nil, err
		}
		if _, err := endpoint(ctx, tx, "to", conn.ToNodeID); err != nil {
			return nil, err
		}
		if err := tx.InsertConnection(ctx, conn); err != nil {
			return nil, err
		}
		return []string{from.Category}, nil
	})
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// UpdateConnection applies a partial update.
func (s *Store) UpdateConnection(ctx context.Context, id string, patch graph.ConnectionPatch) (conn *graph.Connection, err error) {
	ctx, span := s.startSpan(ctx, "UpdateConnection", attribute.String("connection.id", id))
	defer func() { endSpan(span, err) }()

	err = s.Mutate(ctx, events.ConnectionUpdated, id, func(ctx context.Context, tx repository.GraphTx) ([]string, error) {
		current, err := tx.GetConnection(ctx, id)
		if err != nil {
			return nil, err
		}
		if patch.ToNodeID != nil && *patch.ToNodeID != current.ToNodeID && *patch.ToNodeID != current.FromNodeID {
			if _, err := endpoint(ctx, tx, "to", *patch.ToNodeID); err != nil {
				return nil, err
			}
		}
		if err := patch.Apply(current, s.now()); err != nil {
			return nil, err
		}
		if err := tx.UpdateConnection(ctx, current); err != nil {
			return nil, err
		}
		conn = current
		return connectionCategories(ctx, tx, current)
	})
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// DeleteConnection removes a single connection.
func (s *Store) DeleteConnection(ctx context.Context, id string) (err error) {
	ctx, span := s.startSpan(ctx, "DeleteConnection", attribute.String("connection.id", id))
	defer func() { endSpan(span, err) }()

	return s.Mutate(ctx, events.ConnectionDeleted, id, func(ctx context.Context, tx repository.GraphTx) ([]string, error) {
		current, err := tx.GetConnection(ctx, id)
		if err != nil {
			return nil, err
		}
		cats, err := connectionCategories(ctx, tx, current)
		if err != nil {
			return nil, err
		}
		return cats, tx.DeleteConnection(ctx, id)
	})
}

// SetCategoryActive sets is_active on every node of a category and on the
// connections entering its root from other categories, such as the link
// from the global start node. Every category with a connection into the
// toggled category is reported as affected.
func (s *Store) SetCategoryActive(ctx context.Context, category string, active bool) (err error) {
	ctx, span := s.startSpan(ctx, "SetCategoryActive",
		attribute.String("category", category),
		attribute.Bool("active", active))
	defer func() { endSpan(span, err) }()

	return s.Mutate(ctx, events.CategoryToggled, category, func(ctx context.Context, tx repository.GraphTx) ([]string, error) {
		root, err := resolveRoot(ctx, tx, s.roots, category, false)
		if err != nil {
			return nil, err
		}
		nodes, err := tx.ListNodesByCategory(ctx, category)
		if err != nil {
			return nil, err
		}

		now := s.now()
		for _, n := range nodes {
			if n.IsActive == active {
				continue
			}
			n.IsActive = active
			n.UpdatedAt = now
			if err := tx.UpdateNode(ctx, n); err != nil {
				return nil, err
			}
		}

		// Any category linking into one of these nodes caches options that
		// depend on their is_active flag.
		affected := []string{category}
		for _, n := range nodes {
			incoming, err := tx.ListConnectionsTo(ctx, n.ID)
			if err != nil {
				return nil, err
			}
			for _, c := range incoming {
				from, err := tx.GetNode(ctx, c.FromNodeID)
				if err != nil {
					return nil, err
				}
				if from.Category == category {
					continue
				}
				affected = append(affected, from.Category)
				if n.ID != root.ID || c.IsActive == active {
					continue
				}
				c.IsActive = active
				c.UpdatedAt = now
				if err := tx.UpdateConnection(ctx, c); err != nil {
					return nil, err
				}
			}
		}
		return affected, nil
	})
}

func endpoint(ctx context.Context, r repository.GraphReader, which, id string) (*graph.Node, error) {
	n, err := r.GetNode(ctx, id)
	if err != nil {
		if pkgerrors.IsNotFound(err) {
			return nil, pkgerrors.NewNotFoundError(which + " node").
				WithDetails(map[string]interface{}{which + "_node_id": id})
		}
		return nil, err
	}
	return n, nil
}

// EnsureSemanticIDFree fails with Conflict when semanticID belongs to a
// node other than selfID.
func EnsureSemanticIDFree(ctx context.Context, r repository.GraphReader, semanticID, selfID string) error {
	existing, err := r.FindNodeBySemanticID(ctx, semanticID)
	if err != nil {
		if pkgerrors.IsNotFound(err) {
			return nil
		}
		return err
	}
	if existing.ID == selfID {
		return nil
	}
	return pkgerrors.NewConflictError("semantic_id is already in use").
		WithCode("DUPLICATE_SEMANTIC_ID").
		WithDetails(map[string]interface{}{"semantic_id": semanticID})
}

// sourceCategories lists the categories of nodes with a connection into id.
func sourceCategories(ctx context.Context, r repository.GraphReader, id string) ([]string, error) {
	incoming, err := r.ListConnectionsTo(ctx, id)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(incoming))
	for _, c := range incoming {
		from, err := r.GetNode(ctx, c.FromNodeID)
		if err != nil {
			if pkgerrors.IsNotFound(err) {
				continue
			}
			return nil, err
		}
		out = append(out, from.Category)
	}
	return out, nil
}

func connectionCategories(ctx context.Context, r repository.GraphReader, c *graph.Connection) ([]string, error) {
	from, err := r.GetNode(ctx, c.FromNodeID)
	if err != nil {
		if pkgerrors.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return []string{from.Category}, nil
}

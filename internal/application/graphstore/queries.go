package graphstore

import (
	"context"

	"go.opentelemetry.io/otel/attribute"

	"github.com/Galaxyz7/equipment-troubleshooting-rust-react-sub001/internal/domain/graph"
	"github.com/Galaxyz7/equipment-troubleshooting-rust-react-sub001/internal/repository"
	pkgerrors "github.com/Galaxyz7/equipment-troubleshooting-rust-react-sub001/pkg/errors"
)

// NodeWithConnections is a node with its outgoing connections in display order.
type NodeWithConnections struct {
	Node        *graph.Node         `json:"node"`
	Connections []*graph.Connection `json:"connections"`
}

func (s *Store) GetNode(ctx context.Context, id string) (*graph.Node, error) {
	return s.repo.GetNode(ctx, id)
}

func (s *Store) GetConnection(ctx context.Context, id string) (*graph.Connection, error) {
	return s.repo.GetConnection(ctx, id)
}

// FindNodeBySemanticID looks a node up by its semantic id, active or not.
func (s *Store) FindNodeBySemanticID(ctx context.Context, semanticID string) (*graph.Node, error) {
	return s.repo.FindNodeBySemanticID(ctx, semanticID)
}

// ListNodesByCategory returns every node of the category, active or not, in
// creation order.
func (s *Store) ListNodesByCategory(ctx context.Context, category string) ([]*graph.Node, error) {
	return s.repo.ListNodesByCategory(ctx, category)
}

func (s *Store) ListCategories(ctx context.Context) ([]string, error) {
	return s.repo.ListCategories(ctx)
}

// ListOutgoingConnections returns a node's connections ordered by
// order_index, ties broken by creation order.
func (s *Store) ListOutgoingConnections(ctx context.Context, nodeID string, activeOnly bool) (conns []*graph.Connection, err error) {
	ctx, span := s.startSpan(ctx, "ListOutgoingConnections", attribute.String("node.id", nodeID))
	defer func() { endSpan(span, err) }()

	if _, err = s.repo.GetNode(ctx, nodeID); err != nil {
		return nil, err
	}
	conns, err = s.repo.ListConnectionsFrom(ctx, nodeID)
	if err != nil {
		return nil, err
	}
	graph.SortConnections(conns)
	if activeOnly {
		conns = graph.ActiveOnly(conns)
	}
	return conns, nil
}

// ListIncomingConnections returns every connection ending at nodeID.
func (s *Store) ListIncomingConnections(ctx context.Context, nodeID string) ([]*graph.Connection, error) {
	return s.repo.ListConnectionsTo(ctx, nodeID)
}

func (s *Store) GetNodeWithConnections(ctx context.Context, id string) (*NodeWithConnections, error) {
	node, err := s.repo.GetNode(ctx, id)
	if err != nil {
		return nil, err
	}
	conns, err := s.repo.ListConnectionsFrom(ctx, id)
	if err != nil {
		return nil, err
	}
	graph.SortConnections(conns)
	return &NodeWithConnections{Node: node, Connections: conns}, nil
}

// StartNode returns the active global entry node.
func (s *Store) StartNode(ctx context.Context) (*graph.Node, error) {
	n, err := s.repo.FindNodeBySemanticID(ctx, s.roots.StartSemanticID)
	if err != nil {
		if pkgerrors.IsNotFound(err) {
			return nil, pkgerrors.NewNotFoundError("start node")
		}
		return nil, err
	}
	if !n.IsActive {
		return nil, pkgerrors.NewNotFoundError("start node")
	}
	return n, nil
}

// ResolveRoot returns the active root node of a category.
func (s *Store) ResolveRoot(ctx context.Context, category string) (*graph.Node, error) {
	return resolveRoot(ctx, s.repo, s.roots, category, true)
}

// FindRoot returns a category's root regardless of is_active. Admin
// operations use it to reach categories that are not published.
func (s *Store) FindRoot(ctx context.Context, category string) (*graph.Node, error) {
	return resolveRoot(ctx, s.repo, s.roots, category, false)
}

// FindRootTx is FindRoot inside a transaction.
func (s *Store) FindRootTx(ctx context.Context, tx repository.GraphReader, category string) (*graph.Node, error) {
	return resolveRoot(ctx, tx, s.roots, category, false)
}

// resolveRoot tries, in order: the node whose semantic id is category plus
// the root suffix; the target of a connection from the global start node
// into the category; the earliest question in the category with no
// incoming connection from its own category.
func resolveRoot(ctx context.Context, r repository.GraphReader, roots graph.Roots, category string, activeOnly bool) (*graph.Node, error) {
	usable := func(n *graph.Node) bool { return !activeOnly || n.IsActive }

	n, err := r.FindNodeBySemanticID(ctx, roots.CategoryRootID(category))
	switch {
	case err == nil && n.Category == category && usable(n):
		return n, nil
	case err != nil && !pkgerrors.IsNotFound(err):
		return nil, err
	}

	start, err := r.FindNodeBySemanticID(ctx, roots.StartSemanticID)
	if err != nil && !pkgerrors.IsNotFound(err) {
		return nil, err
	}
	if start != nil && start.Category != category && usable(start) {
		conns, err := r.ListConnectionsFrom(ctx, start.ID)
		if err != nil {
			return nil, err
		}
		graph.SortConnections(conns)
		for _, c := range conns {
			if activeOnly && !c.IsActive {
				continue
			}
			target, err := r.GetNode(ctx, c.ToNodeID)
			if err != nil {
				if pkgerrors.IsNotFound(err) {
					continue
				}
				return nil, err
			}
			if target.Category == category && usable(target) {
				return target, nil
			}
		}
	}

	nodes, err := r.ListNodesByCategory(ctx, category)
	if err != nil {
		return nil, err
	}
	inCategory := make(map[string]bool, len(nodes))
	for _, n := range nodes {
		inCategory[n.ID] = true
	}
	for _, n := range nodes {
		if !n.IsQuestion() || !usable(n) {
			continue
		}
		incoming, err := r.ListConnectionsTo(ctx, n.ID)
		if err != nil {
			return nil, err
		}
		entered := false
		for _, c := range incoming {
			if inCategory[c.FromNodeID] && (!activeOnly || c.IsActive) {
				entered = true
				break
			}
		}
		if !entered {
			return n, nil
		}
	}

	return nil, pkgerrors.NewNotFoundError("root node").
		WithDetails(map[string]interface{}{"category": category})
}

// EnsureStartNode returns the global entry node, creating it when missing.
func (s *Store) EnsureStartNode(ctx context.Context, text string) (*graph.Node, error) {
	existing, err := s.repo.FindNodeBySemanticID(ctx, s.roots.StartSemanticID)
	if err == nil {
		return existing, nil
	}
	if !pkgerrors.IsNotFound(err) {
		return nil, err
	}

	sid := s.roots.StartSemanticID
	node, err := s.CreateNode(ctx, graph.NodeSpec{
		Category:   s.roots.StartCategory,
		NodeType:   graph.NodeTypeQuestion,
		Text:       text,
		SemanticID: &sid,
	})
	if pkgerrors.IsConflict(err) {
		// Created concurrently.
		return s.repo.FindNodeBySemanticID(ctx, sid)
	}
	return node, err
}

// Counts summarizes the store.
func (s *Store) Counts(ctx context.Context) (repository.GraphCounts, error) {
	return s.repo.Counts(ctx)
}

// Ping checks the backing store.
func (s *Store) Ping(ctx context.Context) error {
	return s.repo.Ping(ctx)
}

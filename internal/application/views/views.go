// Package views builds the derived, cacheable read models of a category:
// the flattened tree used by traversal and the editor graph used by the
// authoring UI.
package views

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/Galaxyz7/equipment-troubleshooting-rust-react-sub001/internal/domain/graph"
	"github.com/Galaxyz7/equipment-troubleshooting-rust-react-sub001/internal/infrastructure/cache"
	pkgerrors "github.com/Galaxyz7/equipment-troubleshooting-rust-react-sub001/pkg/errors"
)

// Source is the graph read surface views are computed from.
type Source interface {
	GetNode(ctx context.Context, id string) (*graph.Node, error)
	ListNodesByCategory(ctx context.Context, category string) ([]*graph.Node, error)
	ListOutgoingConnections(ctx context.Context, nodeID string, activeOnly bool) ([]*graph.Connection, error)
}

// Option is one answer a user can pick at a node.
type Option struct {
	ConnectionID    string  `json:"connection_id"`
	Label           string  `json:"label"`
	TargetNodeID    string  `json:"target_node_id"`
	TargetCategory  string  `json:"target_category"`
	DisplayCategory *string `json:"display_category,omitempty"`
	OrderIndex      int     `json:"order_index"`
}

// TreeNode is an active node and its options in display order.
type TreeNode struct {
	Node    *graph.Node `json:"node"`
	Options []Option    `json:"options"`
}

// Tree is the flattened traversal view of a category: its active nodes
// keyed by id, each with its active options.
type Tree struct {
	Category string               `json:"category"`
	RootID   string               `json:"root_node_id,omitempty"`
	Nodes    map[string]*TreeNode `json:"nodes"`
	BuiltAt  time.Time            `json:"built_at"`
}

// Lookup returns the node and its options when id belongs to the tree.
func (t *Tree) Lookup(id string) (*TreeNode, bool) {
	n, ok := t.Nodes[id]
	return n, ok
}

// EditorGraph is every node of a category, active or not, plus their
// outgoing connections.
type EditorGraph struct {
	Category    string              `json:"category"`
	Nodes       []*graph.Node       `json:"nodes"`
	Connections []*graph.Connection `json:"connections"`
}

// RootResolver finds the active root of a category.
type RootResolver interface {
	ResolveRoot(ctx context.Context, category string) (*graph.Node, error)
}

// Builder computes views through the view cache.
type Builder struct {
	source Source
	roots  RootResolver
	cache  *cache.ViewCache
	logger *zap.Logger
}

func NewBuilder(source Source, roots RootResolver, c *cache.ViewCache, logger *zap.Logger) *Builder {
	return &Builder{source: source, roots: roots, cache: c, logger: logger}
}

// FlattenedTree returns the cached tree for a category. A category with no
// active nodes fails with NotFound.
func (b *Builder) FlattenedTree(ctx context.Context, category string) (*Tree, error) {
	return cache.GetAs(ctx, b.cache, cache.ViewFlattenedTree, category, func(ctx context.Context) (*Tree, error) {
		return b.BuildTree(ctx, category)
	})
}

// EditorGraph returns the cached editor graph for a category.
func (b *Builder) EditorGraph(ctx context.Context, category string) (*EditorGraph, error) {
	return cache.GetAs(ctx, b.cache, cache.ViewEditorGraph, category, func(ctx context.Context) (*EditorGraph, error) {
		return b.BuildEditorGraph(ctx, category)
	})
}

// BuildTree computes a tree straight from the source.
func (b *Builder) BuildTree(ctx context.Context, category string) (*Tree, error) {
	nodes, err := b.source.ListNodesByCategory(ctx, category)
	if err != nil {
		return nil, err
	}

	known := make(map[string]*graph.Node, len(nodes))
	tree := &Tree{Category: category, Nodes: make(map[string]*TreeNode, len(nodes)), BuiltAt: time.Now().UTC()}
	for _, n := range nodes {
		known[n.ID] = n
		if n.IsActive {
			tree.Nodes[n.ID] = &TreeNode{Node: n}
		}
	}
	if len(tree.Nodes) == 0 {
		return nil, pkgerrors.NewNotFoundError("issue").
			WithDetails(map[string]interface{}{"category": category})
	}

	for id, tn := range tree.Nodes {
		conns, err := b.source.ListOutgoingConnections(ctx, id, true)
		if err != nil {
			return nil, err
		}
		opts, err := buildOptions(ctx, b.source, conns, known)
		if err != nil {
			return nil, err
		}
		tn.Options = opts
	}

	if root, err := b.roots.ResolveRoot(ctx, category); err == nil {
		tree.RootID = root.ID
	} else if !pkgerrors.IsNotFound(err) {
		return nil, err
	}

	b.logger.Debug("Built flattened tree",
		zap.String("category", category),
		zap.Int("nodes", len(tree.Nodes)))
	return tree, nil
}

// BuildEditorGraph computes an editor graph straight from the source.
func (b *Builder) BuildEditorGraph(ctx context.Context, category string) (*EditorGraph, error) {
	nodes, err := b.source.ListNodesByCategory(ctx, category)
	if err != nil {
		return nil, err
	}
	if len(nodes) == 0 {
		return nil, pkgerrors.NewNotFoundError("issue").
			WithDetails(map[string]interface{}{"category": category})
	}

	g := &EditorGraph{Category: category, Nodes: nodes, Connections: []*graph.Connection{}}
	for _, n := range nodes {
		conns, err := b.source.ListOutgoingConnections(ctx, n.ID, false)
		if err != nil {
			return nil, err
		}
		g.Connections = append(g.Connections, conns...)
	}
	return g, nil
}

// Options computes a node's active options without the cache.
func Options(ctx context.Context, source Source, nodeID string) ([]Option, error) {
	conns, err := source.ListOutgoingConnections(ctx, nodeID, true)
	if err != nil {
		return nil, err
	}
	return buildOptions(ctx, source, conns, nil)
}

// buildOptions turns active connections into options, dropping those whose
// target is inactive. known caches target lookups.
func buildOptions(ctx context.Context, source Source, conns []*graph.Connection, known map[string]*graph.Node) ([]Option, error) {
	if known == nil {
		known = make(map[string]*graph.Node)
	}
	opts := make([]Option, 0, len(conns))
	for _, c := range conns {
		if !c.IsActive {
			continue
		}
		target, ok := known[c.ToNodeID]
		if !ok {
			n, err := source.GetNode(ctx, c.ToNodeID)
			if err != nil {
				if pkgerrors.IsNotFound(err) {
					continue
				}
				return nil, err
			}
			known[n.ID] = n
			target = n
		}
		if !target.IsActive {
			continue
		}
		opts = append(opts, Option{
			ConnectionID:    c.ID,
			Label:           c.Label,
			TargetNodeID:    target.ID,
			TargetCategory:  target.Category,
			DisplayCategory: target.DisplayCategory,
			OrderIndex:      c.OrderIndex,
		})
	}
	return opts, nil
}

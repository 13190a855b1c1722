// Package validation decides whether a category's graph is safe to publish
// and flips categories between published and unpublished.
package validation

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/Galaxyz7/equipment-troubleshooting-rust-react-sub001/internal/domain/graph"
	pkgerrors "github.com/Galaxyz7/equipment-troubleshooting-rust-react-sub001/pkg/errors"
)

// Graph is the part of the graph store the engine reads and mutates.
type Graph interface {
	GetNode(ctx context.Context, id string) (*graph.Node, error)
	FindNodeBySemanticID(ctx context.Context, semanticID string) (*graph.Node, error)
	ListNodesByCategory(ctx context.Context, category string) ([]*graph.Node, error)
	ListOutgoingConnections(ctx context.Context, nodeID string, activeOnly bool) ([]*graph.Connection, error)
	ListIncomingConnections(ctx context.Context, nodeID string) ([]*graph.Connection, error)
	ResolveRoot(ctx context.Context, category string) (*graph.Node, error)
	FindRoot(ctx context.Context, category string) (*graph.Node, error)
	SetCategoryActive(ctx context.Context, category string, active bool) error
	Roots() graph.Roots
}

// Result reports the outcome of validating a category.
type Result struct {
	Category string `json:"category"`
	OK       bool   `json:"ok"`
	// IncompleteNodes holds the text of every reachable question with no
	// active outgoing connection, in traversal order.
	IncompleteNodes   []string `json:"incomplete_nodes"`
	IncompleteNodeIDs []string `json:"incomplete_node_ids"`
	ReachableNodes    int      `json:"reachable_nodes"`
	// ReachableQuestions counts the questions visited.
	ReachableQuestions int `json:"reachable_questions"`
	// AsActivated is set when the category is unpublished and was evaluated
	// as it would look once activated.
	AsActivated bool `json:"as_activated"`
}

// Engine is the ValidationEngine.
type Engine struct {
	graph  Graph
	logger *zap.Logger
	tracer trace.Tracer
}

func NewEngine(g Graph, logger *zap.Logger) *Engine {
	return &Engine{graph: g, logger: logger, tracer: otel.Tracer("troubleshooting/validation")}
}

// ValidateCategory walks the category from its root over active nodes and
// connections. A published category is checked as it is; an unpublished
// one is checked as it would be once activated.
func (e *Engine) ValidateCategory(ctx context.Context, category string) (*Result, error) {
	ctx, span := e.tracer.Start(ctx, "validation.ValidateCategory", trace.WithAttributes(attribute.String("category", category)))
	defer span.End()

	root, err := e.graph.ResolveRoot(ctx, category)
	asActivated := false
	if pkgerrors.IsNotFound(err) {
		root, err = e.graph.FindRoot(ctx, category)
		asActivated = true
	}
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	res, err := e.walk(ctx, category, root, asActivated)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(attribute.Bool("ok", res.OK), attribute.Int("incomplete", len(res.IncompleteNodeIDs)))
	return res, nil
}

// walk is a breadth-first traversal with a visited set, so cycles are
// safe. Connections leaving the category count as answers while their
// target is active but are not followed: the target category is validated
// on its own.
func (e *Engine) walk(ctx context.Context, category string, root *graph.Node, asActivated bool) (*Result, error) {
	active := func(n *graph.Node) bool {
		return n.IsActive || (asActivated && n.Category == category)
	}

	res := &Result{
		Category:          category,
		IncompleteNodes:   []string{},
		IncompleteNodeIDs: []string{},
		AsActivated:       asActivated,
	}
	if !active(root) {
		return nil, pkgerrors.NewNotFoundError("root node").
			WithDetails(map[string]interface{}{"category": category})
	}

	nodes := map[string]*graph.Node{root.ID: root}
	visited := map[string]bool{root.ID: true}
	queue := []*graph.Node{root}

	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		res.ReachableNodes++

		conns, err := e.graph.ListOutgoingConnections(ctx, n.ID, true)
		if err != nil {
			return nil, err
		}

		// Only answers leading to a live node count; the same filter hides
		// the others from users.
		answers := 0
		for _, c := range conns {
			target, ok := nodes[c.ToNodeID]
			if !ok {
				t, err := e.graph.GetNode(ctx, c.ToNodeID)
				if err != nil {
					if pkgerrors.IsNotFound(err) {
						continue
					}
					return nil, err
				}
				nodes[t.ID] = t
				target = t
			}
			if !active(target) {
				continue
			}
			answers++
			if target.Category != category || visited[target.ID] {
				continue
			}
			visited[target.ID] = true
			queue = append(queue, target)
		}

		if n.IsQuestion() {
			res.ReachableQuestions++
			if answers == 0 {
				res.IncompleteNodes = append(res.IncompleteNodes, n.Text)
				res.IncompleteNodeIDs = append(res.IncompleteNodeIDs, n.ID)
			}
		}
	}

	res.OK = len(res.IncompleteNodeIDs) == 0
	return res, nil
}

// ToggleActivation flips a category between published and unpublished.
// Activating an incomplete category fails with a validation error listing
// the incomplete node texts, unless force is set. Deactivation is never
// validated.
func (e *Engine) ToggleActivation(ctx context.Context, category string, force bool) (*graph.Issue, error) {
	ctx, span := e.tracer.Start(ctx, "validation.ToggleActivation",
		trace.WithAttributes(attribute.String("category", category), attribute.Bool("force", force)))
	defer span.End()

	root, err := e.graph.FindRoot(ctx, category)
	if err != nil {
		return nil, err
	}
	activate := !root.IsActive

	if activate {
		res, err := e.walk(ctx, category, root, true)
		if err != nil {
			return nil, err
		}
		if !res.OK {
			if !force {
				return nil, incompleteError(res)
			}
			e.logger.Warn("Activating incomplete category",
				zap.String("category", category),
				zap.Strings("incompleteNodes", res.IncompleteNodes))
		}
	}

	if err := e.graph.SetCategoryActive(ctx, category, activate); err != nil {
		return nil, err
	}

	e.logger.Info("Category activation toggled",
		zap.String("category", category),
		zap.Bool("active", activate),
		zap.Bool("forced", force))
	return e.Summarize(ctx, category)
}

func incompleteError(res *Result) *pkgerrors.AppError {
	return pkgerrors.NewValidationError(fmt.Sprintf(
		"This issue has %d question node(s) with no active answers: %s. Add outgoing connections or change them to conclusions.",
		len(res.IncompleteNodes), strings.Join(res.IncompleteNodes, ", "))).
		WithCode("INCOMPLETE_GRAPH").
		WithDetails(map[string]interface{}{
			"incomplete_nodes":    res.IncompleteNodes,
			"incomplete_node_ids": res.IncompleteNodeIDs,
		})
}

// Summarize derives the Issue view of a category. The name is the label of
// the start node's connection into the root, falling back to the category.
// Unpublished categories are counted as they would be once activated.
func (e *Engine) Summarize(ctx context.Context, category string) (*graph.Issue, error) {
	root, err := e.graph.FindRoot(ctx, category)
	if err != nil {
		return nil, err
	}
	res, err := e.walk(ctx, category, root, !root.IsActive)
	if err != nil {
		return nil, err
	}

	issue := &graph.Issue{
		Name:            category,
		Category:        category,
		DisplayCategory: root.DisplayCategory,
		RootQuestionID:  root.ID,
		IsActive:        root.IsActive,
		QuestionCount:   res.ReachableQuestions,
		CreatedAt:       root.CreatedAt,
		UpdatedAt:       root.UpdatedAt,
	}

	if name, ok, err := e.startLabel(ctx, root); err != nil {
		return nil, err
	} else if ok {
		issue.Name = name
	}

	nodes, err := e.graph.ListNodesByCategory(ctx, category)
	if err != nil {
		return nil, err
	}
	for _, n := range nodes {
		if n.CreatedAt.Before(issue.CreatedAt) {
			issue.CreatedAt = n.CreatedAt
		}
		if n.UpdatedAt.After(issue.UpdatedAt) {
			issue.UpdatedAt = n.UpdatedAt
		}
	}
	return issue, nil
}

func (e *Engine) startLabel(ctx context.Context, root *graph.Node) (string, bool, error) {
	start, err := e.graph.FindNodeBySemanticID(ctx, e.graph.Roots().StartSemanticID)
	if err != nil {
		if pkgerrors.IsNotFound(err) {
			return "", false, nil
		}
		return "", false, err
	}
	incoming, err := e.graph.ListIncomingConnections(ctx, root.ID)
	if err != nil {
		return "", false, err
	}
	for _, c := range incoming {
		if c.FromNodeID == start.ID {
			return c.Label, true, nil
		}
	}
	return "", false, nil
}

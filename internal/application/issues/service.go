// Package issues manages categories as user-facing issues: the admin list,
// creation with a linked root question, metadata updates and deletion.
package issues

import (
	"context"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Galaxyz7/equipment-troubleshooting-rust-react-sub001/internal/application/graphstore"
	"github.com/Galaxyz7/equipment-troubleshooting-rust-react-sub001/internal/application/validation"
	"github.com/Galaxyz7/equipment-troubleshooting-rust-react-sub001/internal/application/views"
	"github.com/Galaxyz7/equipment-troubleshooting-rust-react-sub001/internal/domain/events"
	"github.com/Galaxyz7/equipment-troubleshooting-rust-react-sub001/internal/domain/graph"
	"github.com/Galaxyz7/equipment-troubleshooting-rust-react-sub001/internal/infrastructure/cache"
	"github.com/Galaxyz7/equipment-troubleshooting-rust-react-sub001/internal/repository"
	pkgerrors "github.com/Galaxyz7/equipment-troubleshooting-rust-react-sub001/pkg/errors"
	pkgvalidation "github.com/Galaxyz7/equipment-troubleshooting-rust-react-sub001/pkg/validation"
)

// CreateRequest creates an issue with an inactive root question.
type CreateRequest struct {
	Name             string  `json:"name" validate:"required,max=200"`
	Category         string  `json:"category" validate:"required,max=100"`
	DisplayCategory  *string `json:"display_category,omitempty" validate:"omitempty,max=100"`
	RootQuestionText string  `json:"root_question_text" validate:"required"`
}

// UpdateRequest changes issue metadata. Nil fields are left alone.
type UpdateRequest struct {
	Name            *string `json:"name,omitempty" validate:"omitempty,min=1,max=200"`
	DisplayCategory *string `json:"display_category,omitempty" validate:"omitempty,max=100"`
	IsActive        *bool   `json:"is_active,omitempty"`
}

// DeleteResult reports a deleted issue.
type DeleteResult struct {
	Category     string `json:"category"`
	DeletedNodes int    `json:"deleted_count"`
}

// Service is the issue admin surface.
type Service struct {
	store     *graphstore.Store
	validator *validation.Engine
	views     *views.Builder
	cache     *cache.ViewCache
	logger    *zap.Logger
}

func NewService(store *graphstore.Store, validator *validation.Engine, vb *views.Builder, c *cache.ViewCache, logger *zap.Logger) *Service {
	return &Service{store: store, validator: validator, views: vb, cache: c, logger: logger}
}

// List returns every issue, sorted by category. The result is cached under
// the global scope and dropped on any graph change.
func (s *Service) List(ctx context.Context) ([]*graph.Issue, error) {
	return cache.GetAs(ctx, s.cache, cache.ViewIssueList, cache.GlobalScope, s.list)
}

func (s *Service) list(ctx context.Context) ([]*graph.Issue, error) {
	categories, err := s.store.ListCategories(ctx)
	if err != nil {
		return nil, err
	}
	sort.Strings(categories)

	out := make([]*graph.Issue, 0, len(categories))
	for _, category := range categories {
		if category == s.store.Roots().StartCategory {
			continue
		}
		issue, err := s.validator.Summarize(ctx, category)
		if err != nil {
			if pkgerrors.IsNotFound(err) {
				// A category with no question root is a shared sub-tree, not an issue.
				continue
			}
			return nil, err
		}
		out = append(out, issue)
	}
	return out, nil
}

// Get returns one issue.
func (s *Service) Get(ctx context.Context, category string) (*graph.Issue, error) {
	return s.validator.Summarize(ctx, category)
}

// Create adds a category with an inactive root question whose semantic id
// is the category plus the root suffix, and links it from the global start
// node under the issue name.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*graph.Issue, error) {
	req.Category = strings.TrimSpace(req.Category)
	req.Name = strings.TrimSpace(req.Name)
	if err := pkgvalidation.Struct(req); err != nil {
		return nil, err
	}
	roots := s.store.Roots()
	if req.Category == roots.StartCategory {
		return nil, pkgerrors.NewValidationError("category name is reserved").
			WithDetails(map[string]interface{}{"category": req.Category})
	}

	inactive := false
	sid := roots.CategoryRootID(req.Category)
	root, err := graph.NewNode(graph.NodeSpec{
		Category:        req.Category,
		NodeType:        graph.NodeTypeQuestion,
		Text:            req.RootQuestionText,
		SemanticID:      &sid,
		DisplayCategory: req.DisplayCategory,
		IsActive:        &inactive,
	}, s.store.Now())
	if err != nil {
		return nil, err
	}

	err = s.store.Mutate(ctx, events.CategoryCreated, req.Category, func(ctx context.Context, tx repository.GraphTx) ([]string, error) {
		existing, err := tx.ListNodesByCategory(ctx, req.Category)
		if err != nil {
			return nil, err
		}
		if len(existing) > 0 {
			return nil, pkgerrors.NewConflictError("issue already exists").
				WithCode("ISSUE_EXISTS").
				WithDetails(map[string]interface{}{"category": req.Category})
		}
		if err := graphstore.EnsureSemanticIDFree(ctx, tx, sid, ""); err != nil {
			return nil, err
		}
		if err := tx.InsertNode(ctx, root); err != nil {
			return nil, err
		}
		linked, err := LinkFromStart(ctx, tx, roots, root, req.Name, s.store.Now())
		if err != nil {
			return nil, err
		}
		if linked {
			return []string{req.Category, roots.StartCategory}, nil
		}
		return []string{req.Category}, nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Issue created",
		zap.String("category", req.Category),
		zap.String("name", req.Name))
	return s.validator.Summarize(ctx, req.Category)
}

// LinkFromStart connects the global start node to root with label, after
// its existing options. It reports false when there is no start node or
// the link already exists.
func LinkFromStart(ctx context.Context, tx repository.GraphTx, roots graph.Roots, root *graph.Node, label string, now time.Time) (bool, error) {
	start, err := tx.FindNodeBySemanticID(ctx, roots.StartSemanticID)
	if err != nil {
		if pkgerrors.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	if start.ID == root.ID {
		return false, nil
	}
	existing, err := tx.ListConnectionsFrom(ctx, start.ID)
	if err != nil {
		return false, err
	}
	next := 0
	for _, c := range existing {
		if c.ToNodeID == root.ID {
			return false, nil
		}
		if c.OrderIndex >= next {
			next = c.OrderIndex + 1
		}
	}
	conn, err := graph.NewConnection(graph.ConnectionSpec{
		FromNodeID: start.ID,
		ToNodeID:   root.ID,
		Label:      label,
		OrderIndex: next,
	}, now)
	if err != nil {
		return false, err
	}
	return true, tx.InsertConnection(ctx, conn)
}

// Update renames an issue, changes its display category on every node, and
// publishes or unpublishes it. Activation goes through validation.
func (s *Service) Update(ctx context.Context, category string, req UpdateRequest) (*graph.Issue, error) {
	if err := pkgvalidation.Struct(req); err != nil {
		return nil, err
	}
	root, err := s.store.FindRoot(ctx, category)
	if err != nil {
		return nil, err
	}

	if req.Name != nil || req.DisplayCategory != nil {
		roots := s.store.Roots()
		err = s.store.Mutate(ctx, events.CategoryUpdated, category, func(ctx context.Context, tx repository.GraphTx) ([]string, error) {
			now := s.store.Now()
			affected := []string{category}
			if req.Name != nil {
				renamed, err := renameStartLink(ctx, tx, roots, root.ID, *req.Name, now)
				if err != nil {
					return nil, err
				}
				if renamed {
					affected = append(affected, roots.StartCategory)
				}
			}
			if req.DisplayCategory != nil {
				nodes, err := tx.ListNodesByCategory(ctx, category)
				if err != nil {
					return nil, err
				}
				patch := graph.NodePatch{DisplayCategory: req.DisplayCategory}
				for _, n := range nodes {
					if err := patch.Apply(n, now); err != nil {
						return nil, err
					}
					if err := tx.UpdateNode(ctx, n); err != nil {
						return nil, err
					}
				}
				affected = append(affected, roots.StartCategory)
			}
			return affected, nil
		})
		if err != nil {
			return nil, err
		}
	}

	if req.IsActive != nil && *req.IsActive != root.IsActive {
		return s.validator.ToggleActivation(ctx, category, false)
	}
	return s.validator.Summarize(ctx, category)
}

func renameStartLink(ctx context.Context, tx repository.GraphTx, roots graph.Roots, rootID, name string, now time.Time) (bool, error) {
	start, err := tx.FindNodeBySemanticID(ctx, roots.StartSemanticID)
	if err != nil {
		if pkgerrors.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	incoming, err := tx.ListConnectionsTo(ctx, rootID)
	if err != nil {
		return false, err
	}
	renamed := false
	for _, c := range incoming {
		if c.FromNodeID != start.ID {
			continue
		}
		label := name
		if err := (graph.ConnectionPatch{Label: &label}).Apply(c, now); err != nil {
			return false, err
		}
		if err := tx.UpdateConnection(ctx, c); err != nil {
			return false, err
		}
		renamed = true
	}
	return renamed, nil
}

// Delete removes every node of the category and their connections.
func (s *Service) Delete(ctx context.Context, category string) (*DeleteResult, error) {
	n, err := s.store.DeleteCategory(ctx, category)
	if err != nil {
		return nil, err
	}
	s.logger.Info("Issue deleted", zap.String("category", category), zap.Int("nodes", n))
	return &DeleteResult{Category: category, DeletedNodes: n}, nil
}

// Toggle flips activation; see validation.Engine.ToggleActivation.
func (s *Service) Toggle(ctx context.Context, category string, force bool) (*graph.Issue, error) {
	return s.validator.ToggleActivation(ctx, category, force)
}

// Validate reports incomplete nodes without changing anything.
func (s *Service) Validate(ctx context.Context, category string) (*validation.Result, error) {
	return s.validator.ValidateCategory(ctx, category)
}

// Graph returns the cached editor graph.
func (s *Service) Graph(ctx context.Context, category string) (*views.EditorGraph, error) {
	return s.views.EditorGraph(ctx, category)
}

// Tree returns the cached flattened tree.
func (s *Service) Tree(ctx context.Context, category string) (*views.Tree, error) {
	return s.views.FlattenedTree(ctx, category)
}

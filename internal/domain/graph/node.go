// Package graph contains the decision-tree model: question and conclusion nodes
// joined by labeled, directed connections.
//
// A category groups the nodes of one decision tree. Nodes and connections carry an
// is_active flag that acts as both soft-delete and publish switch; every read path
// that serves end users filters on it explicitly.
package graph

import (
	"strings"
	"time"

	"github.com/google/uuid"

	pkgerrors "github.com/Galaxyz7/equipment-troubleshooting-rust-react-sub001/pkg/errors"
)

// NodeType distinguishes questions, which present answers, from terminal conclusions.
type NodeType string

const (
	NodeTypeQuestion   NodeType = "question"
	NodeTypeConclusion NodeType = "conclusion"
)

// ParseNodeType accepts the lowercase wire names, case-insensitively.
func ParseNodeType(s string) (NodeType, error) {
	switch NodeType(strings.ToLower(strings.TrimSpace(s))) {
	case NodeTypeQuestion:
		return NodeTypeQuestion, nil
	case NodeTypeConclusion:
		return NodeTypeConclusion, nil
	default:
		return "", pkgerrors.NewValidationError("node_type must be one of: question conclusion")
	}
}

// Node is one step in a decision tree.
type Node struct {
	ID              string    `json:"id"`
	Category        string    `json:"category"`
	NodeType        NodeType  `json:"node_type"`
	Text            string    `json:"text"`
	SemanticID      *string   `json:"semantic_id,omitempty"`
	DisplayCategory *string   `json:"display_category,omitempty"`
	PositionX       *float64  `json:"position_x,omitempty"`
	PositionY       *float64  `json:"position_y,omitempty"`
	IsActive        bool      `json:"is_active"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// IsQuestion reports whether the node presents answers.
func (n *Node) IsQuestion() bool { return n.NodeType == NodeTypeQuestion }

// IsConclusion reports whether the node ends a session.
func (n *Node) IsConclusion() bool { return n.NodeType == NodeTypeConclusion }

// HasSemanticID reports whether the node carries the given semantic id.
func (n *Node) HasSemanticID(id string) bool {
	return n.SemanticID != nil && *n.SemanticID == id
}

// SemanticKey returns the semantic id or the empty string.
func (n *Node) SemanticKey() string {
	if n.SemanticID == nil {
		return ""
	}
	return *n.SemanticID
}

// NodeSpec carries the fields of a node to create.
type NodeSpec struct {
	Category        string
	NodeType        NodeType
	Text            string
	SemanticID      *string
	DisplayCategory *string
	PositionX       *float64
	PositionY       *float64
	// IsActive defaults to true when nil.
	IsActive *bool
}

// NewNode validates spec and builds a node with a fresh id.
func NewNode(spec NodeSpec, now time.Time) (*Node, error) {
	category := strings.TrimSpace(spec.Category)
	if category == "" {
		return nil, pkgerrors.NewValidationError("category is required")
	}
	if spec.NodeType != NodeTypeQuestion && spec.NodeType != NodeTypeConclusion {
		return nil, pkgerrors.NewValidationError("node_type must be one of: question conclusion")
	}
	if strings.TrimSpace(spec.Text) == "" {
		return nil, pkgerrors.NewValidationError("text is required")
	}

	active := true
	if spec.IsActive != nil {
		active = *spec.IsActive
	}

	return &Node{
		ID:              uuid.NewString(),
		Category:        category,
		NodeType:        spec.NodeType,
		Text:            spec.Text,
		SemanticID:      normalizeOptional(spec.SemanticID),
		DisplayCategory: normalizeOptional(spec.DisplayCategory),
		PositionX:       spec.PositionX,
		PositionY:       spec.PositionY,
		IsActive:        active,
		CreatedAt:       now,
		UpdatedAt:       now,
	}, nil
}

// NodePatch is a partial update. Nil fields are left untouched; an empty
// SemanticID or DisplayCategory clears the value.
type NodePatch struct {
	Category        *string
	NodeType        *NodeType
	Text            *string
	SemanticID      *string
	DisplayCategory *string
	PositionX       *float64
	PositionY       *float64
	IsActive        *bool
}

// Apply mutates n with the patch and bumps UpdatedAt.
func (p NodePatch) Apply(n *Node, now time.Time) error {
	if p.Category != nil {
		category := strings.TrimSpace(*p.Category)
		if category == "" {
			return pkgerrors.NewValidationError("category cannot be empty")
		}
		n.Category = category
	}
	if p.NodeType != nil {
		if *p.NodeType != NodeTypeQuestion && *p.NodeType != NodeTypeConclusion {
			return pkgerrors.NewValidationError("node_type must be one of: question conclusion")
		}
		n.NodeType = *p.NodeType
	}
	if p.Text != nil {
		if strings.TrimSpace(*p.Text) == "" {
			return pkgerrors.NewValidationError("text cannot be empty")
		}
		n.Text = *p.Text
	}
	if p.SemanticID != nil {
		n.SemanticID = normalizeOptional(p.SemanticID)
	}
	if p.DisplayCategory != nil {
		n.DisplayCategory = normalizeOptional(p.DisplayCategory)
	}
	if p.PositionX != nil {
		n.PositionX = p.PositionX
	}
	if p.PositionY != nil {
		n.PositionY = p.PositionY
	}
	if p.IsActive != nil {
		n.IsActive = *p.IsActive
	}
	n.UpdatedAt = now
	return nil
}

// ChangesSemanticID reports whether applying p to n would assign a new, non-empty semantic id.
func (p NodePatch) ChangesSemanticID(n *Node) (string, bool) {
	if p.SemanticID == nil {
		return "", false
	}
	next := strings.TrimSpace(*p.SemanticID)
	if next == "" || n.HasSemanticID(next) {
		return "", false
	}
	return next, true
}

func normalizeOptional(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}

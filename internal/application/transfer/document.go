// Package transfer exports categories as portable documents and imports
// them back. Documents reference nodes by document-local keys, never by
// store ids, so they can move between stores.
package transfer

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	pkgerrors "github.com/Galaxyz7/equipment-troubleshooting-rust-react-sub001/pkg/errors"
)

// FormatVersion is written to every exported document.
const FormatVersion = 1

// Mode is the collision policy for a category that already exists.
type Mode string

const (
	// ModeReject refuses to import into an existing category.
	ModeReject Mode = "reject"
	// ModeReplace deletes the existing category first.
	ModeReplace Mode = "replace"
	// ModeMerge adds the document's nodes to the existing category.
	ModeMerge Mode = "merge"
)

// ParseMode accepts the mode names case-insensitively; empty means reject.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeReject:
		return ModeReject, nil
	case ModeReplace:
		return ModeReplace, nil
	case ModeMerge:
		return ModeMerge, nil
	default:
		return "", fmt.Errorf("unknown import mode %q", s)
	}
}

// Document is one exported category.
type Document struct {
	Version     int             `json:"version"`
	Issue       IssueMetadata   `json:"issue"`
	Nodes       []NodeData      `json:"nodes"`
	Connections []ConnectionDoc `json:"connections"`
}

// IssueMetadata describes the exported category.
type IssueMetadata struct {
	Name             string  `json:"name"`
	Category         string  `json:"category"`
	DisplayCategory  *string `json:"display_category,omitempty"`
	RootQuestionText string  `json:"root_question_text"`
	RootRef          string  `json:"root_ref,omitempty"`
	IsActive         *bool   `json:"is_active,omitempty"`
}

// NodeData is a node keyed by a document-local reference.
type NodeData struct {
	Ref             string   `json:"ref"`
	NodeType        string   `json:"node_type"`
	Text            string   `json:"text"`
	SemanticID      *string  `json:"semantic_id,omitempty"`
	DisplayCategory *string  `json:"display_category,omitempty"`
	PositionX       *float64 `json:"position_x,omitempty"`
	PositionY       *float64 `json:"position_y,omitempty"`
	IsActive        *bool    `json:"is_active,omitempty"`
}

// ConnectionDoc is a connection between document references. A target
// outside the document is named by ToSemanticID. Older documents may
// carry ConclusionText instead of a target, or array indices instead of
// references.
type ConnectionDoc struct {
	FromRef        string  `json:"from_ref,omitempty"`
	ToRef          string  `json:"to_ref,omitempty"`
	ToSemanticID   *string `json:"to_semantic_id,omitempty"`
	ConclusionText *string `json:"conclusion_text,omitempty"`
	FromNodeIndex  *int    `json:"from_node_index,omitempty"`
	ToNodeIndex    *int    `json:"to_node_index,omitempty"`
	Label          string  `json:"label"`
	OrderIndex     int     `json:"order_index"`
	IsActive       *bool   `json:"is_active,omitempty"`
}

// ImportResult separates what was imported from what failed.
type ImportResult struct {
	Success []ImportSuccess `json:"success"`
	Errors  []ImportError   `json:"errors"`
}

// ImportSuccess reports one imported document.
type ImportSuccess struct {
	Category         string `json:"category"`
	Name             string `json:"name"`
	Mode             Mode   `json:"mode"`
	NodesCount       int    `json:"nodes_count"`
	ConnectionsCount int    `json:"connections_count"`
}

// ImportError reports a failed document, or a single failed node or
// connection of an otherwise imported document.
type ImportError struct {
	Category string `json:"category"`
	Item     string `json:"item,omitempty"`
	Type     string `json:"type"`
	Error    string `json:"error"`
}

// Merge appends other's entries.
func (r *ImportResult) Merge(other *ImportResult) {
	r.Success = append(r.Success, other.Success...)
	r.Errors = append(r.Errors, other.Errors...)
}

func newResult() *ImportResult {
	return &ImportResult{Success: []ImportSuccess{}, Errors: []ImportError{}}
}

func nodeRef(i int) string {
	return fmt.Sprintf("n%d", i+1)
}

// refs returns the reference of every node, assigning positional
// references to nodes that have none.
func (d *Document) refs() []string {
	out := make([]string, len(d.Nodes))
	for i, n := range d.Nodes {
		if ref := strings.TrimSpace(n.Ref); ref != "" {
			out[i] = ref
		} else {
			out[i] = nodeRef(i)
		}
	}
	return out
}

// endpointRef resolves a connection endpoint given as a reference or as
// an array index.
func endpointRef(ref string, index *int, refs []string) (string, bool) {
	if ref != "" {
		return ref, true
	}
	if index != nil && *index >= 0 && *index < len(refs) {
		return refs[*index], true
	}
	return "", false
}

// DecodeDocuments parses one document or a JSON array of documents.
func DecodeDocuments(raw []byte) ([]*Document, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, pkgerrors.NewValidationError("import body is empty")
	}

	var (
		docs []*Document
		err  error
	)
	if raw[0] == '[' {
		err = json.Unmarshal(raw, &docs)
	} else {
		var doc Document
		err = json.Unmarshal(raw, &doc)
		docs = []*Document{&doc}
	}
	if err != nil {
		return nil, pkgerrors.NewValidationError("invalid import document: " + err.Error())
	}
	for i, d := range docs {
		if d == nil {
			return nil, pkgerrors.NewValidationError(fmt.Sprintf("document %d is null", i))
		}
	}
	return docs, nil
}

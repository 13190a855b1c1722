package graph

import "time"

// Issue is the derived view of one category: its root question and how it is
// presented in the global selector. It is never stored on its own.
type Issue struct {
	Name            string    `json:"name"`
	Category        string    `json:"category"`
	DisplayCategory *string   `json:"display_category,omitempty"`
	RootQuestionID  string    `json:"root_question_id"`
	IsActive        bool      `json:"is_active"`
	QuestionCount   int       `json:"question_count"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Roots names the well-known semantic ids used to find entry points.
type Roots struct {
	// StartSemanticID marks the single global entry node.
	StartSemanticID string
	// StartCategory is the category the global entry node lives in.
	StartCategory string
	// RootSuffix is appended to a category to form its root semantic id.
	RootSuffix string
}

// DefaultRoots returns the conventional entry-point names.
func DefaultRoots() Roots {
	return Roots{StartSemanticID: "start", StartCategory: "root", RootSuffix: "_start"}
}

// CategoryRootID returns the semantic id of a category's root question.
func (r Roots) CategoryRootID(category string) string {
	return category + r.RootSuffix
}

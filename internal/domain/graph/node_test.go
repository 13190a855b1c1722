package graph

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/Galaxyz7/equipment-troubleshooting-rust-react-sub001/pkg/errors"
)

func strPtr(s string) *string { return &s }

func TestNewNode(t *testing.T) {
	now := time.Now()

	t.Run("defaults to active and trims optional fields", func(t *testing.T) {
		n, err := NewNode(NodeSpec{
			Category:   " brush ",
			NodeType:   NodeTypeQuestion,
			Text:       "Is the brush spinning?",
			SemanticID: strPtr("  "),
		}, now)

		require.NoError(t, err)
		assert.NotEmpty(t, n.ID)
		assert.Equal(t, "brush", n.Category)
		assert.True(t, n.IsActive)
		assert.Nil(t, n.SemanticID)
		assert.Equal(t, now, n.CreatedAt)
	})

	t.Run("rejects missing fields", func(t *testing.T) {
		_, err := NewNode(NodeSpec{NodeType: NodeTypeQuestion, Text: "x"}, now)
		assert.True(t, pkgerrors.IsValidation(err))

		_, err = NewNode(NodeSpec{Category: "c", NodeType: "maybe", Text: "x"}, now)
		assert.True(t, pkgerrors.IsValidation(err))

		_, err = NewNode(NodeSpec{Category: "c", NodeType: NodeTypeConclusion}, now)
		assert.True(t, pkgerrors.IsValidation(err))
	})
}

func TestNodePatch_Apply(t *testing.T) {
	created := time.Now().Add(-time.Hour)
	n, err := NewNode(NodeSpec{Category: "c", NodeType: NodeTypeQuestion, Text: "q", SemanticID: strPtr("q1")}, created)
	require.NoError(t, err)

	later := time.Now()
	inactive := false
	err = NodePatch{Text: strPtr("new"), SemanticID: strPtr(""), IsActive: &inactive}.Apply(n, later)

	require.NoError(t, err)
	assert.Equal(t, "new", n.Text)
	assert.Nil(t, n.SemanticID)
	assert.False(t, n.IsActive)
	assert.Equal(t, later, n.UpdatedAt)
	assert.Equal(t, created, n.CreatedAt)
}

func TestNodePatch_ChangesSemanticID(t *testing.T) {
	n := &Node{SemanticID: strPtr("a")}

	_, changed := NodePatch{SemanticID: strPtr("a")}.ChangesSemanticID(n)
	assert.False(t, changed)

	next, changed := NodePatch{SemanticID: strPtr("b")}.ChangesSemanticID(n)
	assert.True(t, changed)
	assert.Equal(t, "b", next)
}

func TestParseNodeType(t *testing.T) {
	nt, err := ParseNodeType("Conclusion")
	require.NoError(t, err)
	assert.Equal(t, NodeTypeConclusion, nt)

	_, err = ParseNodeType("answer")
	assert.Error(t, err)
}

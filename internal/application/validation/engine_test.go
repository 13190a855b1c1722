package validation_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Galaxyz7/equipment-troubleshooting-rust-react-sub001/internal/application/apptest"
	"github.com/Galaxyz7/equipment-troubleshooting-rust-react-sub001/internal/domain/graph"
	pkgerrors "github.com/Galaxyz7/equipment-troubleshooting-rust-react-sub001/pkg/errors"
)

// seedPump builds a cyclic pump category with one reachable dead end and
// one unreachable dead end.
func seedPump(t *testing.T, env *apptest.Env) map[string]*graph.Node {
	t.Helper()
	n := map[string]*graph.Node{
		"root":    env.Question(t, "pump", "pump_start", "Is the pump running?"),
		"breaker": env.Question(t, "pump", "pump_breaker", "Is the breaker tripped?"),
		"noise":   env.Question(t, "pump", "pump_noise", "Is the pump noisy?"),
		"orphan":  env.Question(t, "pump", "pump_orphan", "Unused question"),
		"bearing": env.Conclusion(t, "pump", "", "Replace the bearing."),
	}
	env.Link(t, n["root"], n["breaker"], "No", 0)
	env.Link(t, n["root"], n["noise"], "Yes", 1)
	env.Link(t, n["noise"], n["bearing"], "Yes", 0)
	env.Link(t, n["noise"], n["root"], "Start over", 1)
	env.Link(t, env.Start, n["root"], "Pump Problems", 0)
	return n
}

func TestValidateCategory_CompleteGraph(t *testing.T) {
	env := apptest.New(t)
	env.SeedBrush(t)

	res, err := env.Validator.ValidateCategory(context.Background(), "brush")
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Empty(t, res.IncompleteNodes)
	assert.Equal(t, 6, res.ReachableQuestions)
	assert.Equal(t, 11, res.ReachableNodes)
	assert.False(t, res.AsActivated)
}

func TestValidateCategory_ReportsOnlyReachableDeadEnds(t *testing.T) {
	env := apptest.New(t)
	n := seedPump(t, env)

	res, err := env.Validator.ValidateCategory(context.Background(), "pump")
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.Equal(t, []string{"Is the breaker tripped?"}, res.IncompleteNodes)
	assert.Equal(t, []string{n["breaker"].ID}, res.IncompleteNodeIDs)
	assert.Equal(t, 4, res.ReachableNodes)
}

func TestValidateCategory_InactiveConnectionLeavesQuestionIncomplete(t *testing.T) {
	env := apptest.New(t)
	brush := env.SeedBrush(t)
	ctx := context.Background()

	off := false
	_, err := env.Store.UpdateConnection(ctx, brush.Conn("set_auto", "Yes").ID, graph.ConnectionPatch{IsActive: &off})
	require.NoError(t, err)

	res, err := env.Validator.ValidateCategory(ctx, "brush")
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.Equal(t, []string{brush.Nodes["set_auto"].Text}, res.IncompleteNodes)
}

func TestValidateCategory_CrossCategoryTargetCountsButIsNotWalked(t *testing.T) {
	env := apptest.New(t)
	brush := env.SeedBrush(t)
	q := env.Question(t, "vacuum", "vacuum_start", "Is the vacuum weak?")
	env.Link(t, q, brush.Nodes["brush_check"], "Check the brush", 0)

	res, err := env.Validator.ValidateCategory(context.Background(), "vacuum")
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Equal(t, 1, res.ReachableNodes)
}

func TestValidateCategory_InactiveCrossCategoryTargetIsNoAnswer(t *testing.T) {
	env := apptest.New(t)
	brush := env.SeedBrush(t)
	ctx := context.Background()
	q := env.Question(t, "vacuum", "vacuum_start", "Is the vacuum weak?")
	env.Link(t, q, brush.Nodes["brush_check"], "Check the brush", 0)
	require.NoError(t, env.Store.SetCategoryActive(ctx, "brush", false))

	res, err := env.Validator.ValidateCategory(ctx, "vacuum")
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.Equal(t, []string{q.ID}, res.IncompleteNodeIDs)
}

func TestValidateCategory_UnpublishedIsCheckedAsActivated(t *testing.T) {
	env := apptest.New(t)
	env.SeedBrush(t)
	ctx := context.Background()
	require.NoError(t, env.Store.SetCategoryActive(ctx, "brush", false))

	res, err := env.Validator.ValidateCategory(ctx, "brush")
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.True(t, res.AsActivated)
	assert.Equal(t, 6, res.ReachableQuestions)
}

func TestValidateCategory_UnknownCategory(t *testing.T) {
	env := apptest.New(t)

	_, err := env.Validator.ValidateCategory(context.Background(), "nope")
	assert.True(t, pkgerrors.IsNotFound(err))
}

func TestToggleActivation_BlocksIncompleteUnlessForced(t *testing.T) {
	env := apptest.New(t)
	seedPump(t, env)
	ctx := context.Background()

	issue, err := env.Validator.ToggleActivation(ctx, "pump", false)
	require.NoError(t, err, "deactivation is never validated")
	assert.False(t, issue.IsActive)

	_, err = env.Validator.ToggleActivation(ctx, "pump", false)
	require.Error(t, err)
	appErr := pkgerrors.GetAppError(err)
	require.NotNil(t, appErr)
	assert.Equal(t, pkgerrors.ErrorTypeValidation, appErr.Type)
	assert.Equal(t, "INCOMPLETE_GRAPH", appErr.Code)
	assert.Equal(t, []string{"Is the breaker tripped?"}, appErr.Details["incomplete_nodes"])

	root, err := env.Store.FindRoot(ctx, "pump")
	require.NoError(t, err)
	assert.False(t, root.IsActive)

	issue, err = env.Validator.ToggleActivation(ctx, "pump", true)
	require.NoError(t, err)
	assert.True(t, issue.IsActive)
	assert.Equal(t, "Pump Problems", issue.Name)
}

func TestToggleActivation_CompleteCategoryActivates(t *testing.T) {
	env := apptest.New(t)
	env.SeedBrush(t)
	ctx := context.Background()

	issue, err := env.Validator.ToggleActivation(ctx, "brush", false)
	require.NoError(t, err)
	assert.False(t, issue.IsActive)

	issue, err = env.Validator.ToggleActivation(ctx, "brush", false)
	require.NoError(t, err)
	assert.True(t, issue.IsActive)

	root, err := env.Store.ResolveRoot(ctx, "brush")
	require.NoError(t, err)
	assert.Equal(t, issue.RootQuestionID, root.ID)
}

func TestSummarize(t *testing.T) {
	env := apptest.New(t)
	brush := env.SeedBrush(t)

	issue, err := env.Validator.Summarize(context.Background(), "brush")
	require.NoError(t, err)
	assert.Equal(t, "Brush Problems", issue.Name)
	assert.Equal(t, "brush", issue.Category)
	assert.Equal(t, brush.Nodes["brush_check"].ID, issue.RootQuestionID)
	assert.Equal(t, 6, issue.QuestionCount)
	assert.True(t, issue.IsActive)
}

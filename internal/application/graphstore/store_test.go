package graphstore_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Galaxyz7/equipment-troubleshooting-rust-react-sub001/internal/application/apptest"
	"github.com/Galaxyz7/equipment-troubleshooting-rust-react-sub001/internal/domain/events"
	"github.com/Galaxyz7/equipment-troubleshooting-rust-react-sub001/internal/domain/graph"
	"github.com/Galaxyz7/equipment-troubleshooting-rust-react-sub001/internal/infrastructure/cache"
	"github.com/Galaxyz7/equipment-troubleshooting-rust-react-sub001/internal/infrastructure/messaging"
	pkgerrors "github.com/Galaxyz7/equipment-troubleshooting-rust-react-sub001/pkg/errors"
)

type recordedEvents struct {
	mu     sync.Mutex
	events []events.GraphChanged
}

func (r *recordedEvents) Handle(_ context.Context, e events.DomainEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if gc, ok := e.(events.GraphChanged); ok {
		r.events = append(r.events, gc)
	}
	return nil
}

func (r *recordedEvents) last() events.GraphChanged {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[len(r.events)-1]
}

func record(env *apptest.Env) *recordedEvents {
	r := &recordedEvents{}
	env.Dispatcher.Register("recorder", messaging.Handler(r))
	return r
}

func TestDeleteNode_RemovesEveryReferencingConnection(t *testing.T) {
	env := apptest.New(t)
	brush := env.SeedBrush(t)
	ctx := context.Background()
	target := brush.Nodes["not_spinning1"]

	require.NoError(t, env.Store.DeleteNode(ctx, target.ID))

	_, err := env.Store.GetNode(ctx, target.ID)
	assert.True(t, pkgerrors.IsNotFound(err))

	for key, c := range brush.Conns {
		_, err := env.Store.GetConnection(ctx, c.ID)
		touches := c.FromNodeID == target.ID || c.ToNodeID == target.ID
		if touches {
			assert.True(t, pkgerrors.IsNotFound(err), key)
		} else {
			assert.NoError(t, err, key)
		}
	}

	out, err := env.Store.ListOutgoingConnections(ctx, brush.Nodes["brush_check"].ID, false)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "Not Deploying", out[0].Label)
	assert.Equal(t, "Timing/Pressure Issues", out[1].Label)
}

func TestCreateConnection_Integrity(t *testing.T) {
	env := apptest.New(t)
	ctx := context.Background()
	q := env.Question(t, "pump", "pump_check", "Is the pump running?")

	_, err := env.Store.CreateConnection(ctx, graph.ConnectionSpec{FromNodeID: q.ID, ToNodeID: q.ID, Label: "Again"})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsGraphIntegrity(err))

	_, err = env.Store.CreateConnection(ctx, graph.ConnectionSpec{FromNodeID: q.ID, ToNodeID: "missing", Label: "Nowhere"})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsNotFound(err))

	_, err = env.Store.CreateConnection(ctx, graph.ConnectionSpec{FromNodeID: "missing", ToNodeID: q.ID, Label: "Nowhere"})
	assert.True(t, pkgerrors.IsNotFound(err))
}

func TestCreateNode_DuplicateSemanticIDConflicts(t *testing.T) {
	env := apptest.New(t)
	ctx := context.Background()
	env.Question(t, "pump", "pump_check", "Is the pump running?")

	sid := "pump_check"
	_, err := env.Store.CreateNode(ctx, graph.NodeSpec{Category: "vacuum", NodeType: graph.NodeTypeQuestion, Text: "Other", SemanticID: &sid})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsConflict(err))
	assert.Equal(t, "DUPLICATE_SEMANTIC_ID", pkgerrors.GetAppError(err).Code)
}

func TestUpdateNode_SemanticIDConflictAndSelf(t *testing.T) {
	env := apptest.New(t)
	ctx := context.Background()
	a := env.Question(t, "pump", "pump_a", "A")
	env.Question(t, "pump", "pump_b", "B")

	same := "pump_a"
	text := "A, reworded"
	updated, err := env.Store.UpdateNode(ctx, a.ID, graph.NodePatch{SemanticID: &same, Text: &text})
	require.NoError(t, err)
	assert.Equal(t, text, updated.Text)

	taken := "pump_b"
	_, err = env.Store.UpdateNode(ctx, a.ID, graph.NodePatch{SemanticID: &taken})
	assert.True(t, pkgerrors.IsConflict(err))

	_, err = env.Store.UpdateNode(ctx, "missing", graph.NodePatch{Text: &text})
	assert.True(t, pkgerrors.IsNotFound(err))
}

func TestListOutgoingConnections_OrderedAndFiltered(t *testing.T) {
	env := apptest.New(t)
	brush := env.SeedBrush(t)
	ctx := context.Background()
	off := false
	_, err := env.Store.UpdateConnection(ctx, brush.Conn("brush_check", "Not Spinning").ID, graph.ConnectionPatch{IsActive: &off})
	require.NoError(t, err)

	all, err := env.Store.ListOutgoingConnections(ctx, brush.Nodes["brush_check"].ID, false)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []int{0, 1, 2}, []int{all[0].OrderIndex, all[1].OrderIndex, all[2].OrderIndex})

	active, err := env.Store.ListOutgoingConnections(ctx, brush.Nodes["brush_check"].ID, true)
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, "Not Deploying", active[0].Label)

	_, err = env.Store.ListOutgoingConnections(ctx, "missing", true)
	assert.True(t, pkgerrors.IsNotFound(err))
}

func TestResolveRoot(t *testing.T) {
	ctx := context.Background()

	t.Run("semantic root wins", func(t *testing.T) {
		env := apptest.New(t)
		other := env.Question(t, "pump", "", "Earlier question")
		root := env.Question(t, "pump", "pump_start", "Is the pump running?")
		env.Link(t, env.Start, other, "Pump", 0)

		got, err := env.Store.ResolveRoot(ctx, "pump")
		require.NoError(t, err)
		assert.Equal(t, root.ID, got.ID)
	})

	t.Run("start link", func(t *testing.T) {
		env := apptest.New(t)
		brush := env.SeedBrush(t)

		got, err := env.Store.ResolveRoot(ctx, "brush")
		require.NoError(t, err)
		assert.Equal(t, brush.Nodes["brush_check"].ID, got.ID)
	})

	t.Run("earliest unentered question", func(t *testing.T) {
		env := apptest.New(t)
		first := env.Question(t, "pump", "", "First")
		second := env.Question(t, "pump", "", "Second")
		env.Link(t, second, first, "Back", 0)

		got, err := env.Store.ResolveRoot(ctx, "pump")
		require.NoError(t, err)
		assert.Equal(t, second.ID, got.ID)
	})

	t.Run("inactive category has no active root", func(t *testing.T) {
		env := apptest.New(t)
		env.SeedBrush(t)
		require.NoError(t, env.Store.SetCategoryActive(ctx, "brush", false))

		_, err := env.Store.ResolveRoot(ctx, "brush")
		assert.True(t, pkgerrors.IsNotFound(err))

		root, err := env.Store.FindRoot(ctx, "brush")
		require.NoError(t, err)
		assert.Equal(t, "brush", root.Category)
	})
}

func TestSetCategoryActive_FlipsNodesAndStartLink(t *testing.T) {
	env := apptest.New(t)
	brush := env.SeedBrush(t)
	ctx := context.Background()

	require.NoError(t, env.Store.SetCategoryActive(ctx, "brush", false))
	nodes, err := env.Store.ListNodesByCategory(ctx, "brush")
	require.NoError(t, err)
	for _, n := range nodes {
		assert.False(t, n.IsActive, n.Text)
	}
	link, err := env.Store.GetConnection(ctx, brush.Conn("start", "Brush Problems").ID)
	require.NoError(t, err)
	assert.False(t, link.IsActive)

	require.NoError(t, env.Store.SetCategoryActive(ctx, "brush", true))
	link, err = env.Store.GetConnection(ctx, link.ID)
	require.NoError(t, err)
	assert.True(t, link.IsActive)
}

func TestSetCategoryActive_InvalidatesCategoriesLinkingIntoAnyNode(t *testing.T) {
	env := apptest.New(t)
	brush := env.SeedBrush(t)
	rec := record(env)
	ctx := context.Background()
	root := env.Question(t, "shared", "shared_start", "Is there power at the panel?")
	mid := env.Question(t, "shared", "shared_mid", "Check the electrical panel?")
	env.Link(t, root, mid, "Yes", 0)
	env.Link(t, brush.Nodes["not_deploying"], mid, "Electrical", 1)

	_, err := env.Views.FlattenedTree(ctx, "brush")
	require.NoError(t, err)

	require.NoError(t, env.Store.SetCategoryActive(ctx, "shared", false))

	last := rec.last()
	assert.Equal(t, events.CategoryToggled, last.EventType)
	assert.ElementsMatch(t, []string{"brush", "shared"}, last.Categories)

	tree, err := env.Views.FlattenedTree(ctx, "brush")
	require.NoError(t, err)
	tn, ok := tree.Lookup(brush.Nodes["not_deploying"].ID)
	require.True(t, ok)
	require.Len(t, tn.Options, 1)
	assert.Equal(t, "No", tn.Options[0].Label)
}

func TestMutations_InvalidateAffectedCategories(t *testing.T) {
	env := apptest.New(t)
	brush := env.SeedBrush(t)
	rec := record(env)
	ctx := context.Background()

	_, err := env.Views.FlattenedTree(ctx, "brush")
	require.NoError(t, err)
	_, err = env.Views.FlattenedTree(ctx, env.Roots.StartCategory)
	require.NoError(t, err)
	require.Equal(t, 2, env.Cache.Stats()[cache.ViewFlattenedTree].Entries)

	text := "What is the brush doing now?"
	_, err = env.Store.UpdateNode(ctx, brush.Nodes["brush_check"].ID, graph.NodePatch{Text: &text})
	require.NoError(t, err)

	last := rec.last()
	assert.Equal(t, events.NodeUpdated, last.EventType)
	assert.Equal(t, []string{"brush", env.Roots.StartCategory}, last.Categories)
	assert.Zero(t, env.Cache.Stats()[cache.ViewFlattenedTree].Entries)

	tree, err := env.Views.FlattenedTree(ctx, "brush")
	require.NoError(t, err)
	tn, ok := tree.Lookup(brush.Nodes["brush_check"].ID)
	require.True(t, ok)
	assert.Equal(t, text, tn.Node.Text)
}

func TestFailedMutation_PublishesNothing(t *testing.T) {
	env := apptest.New(t)
	rec := record(env)
	q := env.Question(t, "pump", "pump_check", "Is the pump running?")
	before := len(rec.events)

	_, err := env.Store.CreateConnection(context.Background(), graph.ConnectionSpec{FromNodeID: q.ID, ToNodeID: q.ID, Label: "Loop"})
	require.Error(t, err)
	assert.Len(t, rec.events, before)
}

func TestDeleteCategory(t *testing.T) {
	env := apptest.New(t)
	brush := env.SeedBrush(t)
	ctx := context.Background()

	deleted, err := env.Store.DeleteCategory(ctx, "brush")
	require.NoError(t, err)
	assert.Equal(t, 11, deleted)

	out, err := env.Store.ListOutgoingConnections(ctx, env.Start.ID, false)
	require.NoError(t, err)
	assert.Empty(t, out)
	_, err = env.Store.GetConnection(ctx, brush.Conn("start", "Brush Problems").ID)
	assert.True(t, pkgerrors.IsNotFound(err))

	_, err = env.Store.DeleteCategory(ctx, "brush")
	assert.True(t, pkgerrors.IsNotFound(err))
}

func TestEnsureStartNode_Idempotent(t *testing.T) {
	env := apptest.New(t)

	again, err := env.Store.EnsureStartNode(context.Background(), "ignored")
	require.NoError(t, err)
	assert.Equal(t, env.Start.ID, again.ID)
	assert.NotEqual(t, "ignored", again.Text)
}

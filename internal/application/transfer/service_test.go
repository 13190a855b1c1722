package transfer_test

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Galaxyz7/equipment-troubleshooting-rust-react-sub001/internal/application/apptest"
	"github.com/Galaxyz7/equipment-troubleshooting-rust-react-sub001/internal/application/transfer"
	"github.com/Galaxyz7/equipment-troubleshooting-rust-react-sub001/internal/domain/graph"
	pkgerrors "github.com/Galaxyz7/equipment-troubleshooting-rust-react-sub001/pkg/errors"
)

// shape describes a category independently of ids.
type shape struct {
	nodes []string
	edges []string
}

func describe(t *testing.T, env *apptest.Env, category string) shape {
	t.Helper()
	ctx := context.Background()
	nodes, err := env.Store.ListNodesByCategory(ctx, category)
	require.NoError(t, err)

	var s shape
	for _, n := range nodes {
		sid := ""
		if n.SemanticID != nil {
			sid = *n.SemanticID
		}
		s.nodes = append(s.nodes, fmt.Sprintf("%s|%s|%s|%t", n.NodeType, n.Text, sid, n.IsActive))

		conns, err := env.Store.ListOutgoingConnections(ctx, n.ID, false)
		require.NoError(t, err)
		for _, c := range conns {
			to, err := env.Store.GetNode(ctx, c.ToNodeID)
			require.NoError(t, err)
			s.edges = append(s.edges, fmt.Sprintf("%s -[%d:%s:%t]-> %s", n.Text, c.OrderIndex, c.Label, c.IsActive, to.Text))
		}
	}
	sort.Strings(s.nodes)
	sort.Strings(s.edges)
	return s
}

func TestExportImport_RoundTripIsIsomorphic(t *testing.T) {
	src := apptest.New(t)
	brush := src.SeedBrush(t)
	ctx := context.Background()
	off := false
	_, err := src.Store.UpdateConnection(ctx, brush.Conn("set_auto", "Yes").ID, graph.ConnectionPatch{IsActive: &off})
	require.NoError(t, err)

	doc, err := src.Transfer.ExportCategory(ctx, "brush")
	require.NoError(t, err)
	assert.Equal(t, transfer.FormatVersion, doc.Version)
	assert.Equal(t, "Brush Problems", doc.Issue.Name)
	assert.Len(t, doc.Nodes, 11)
	assert.Len(t, doc.Connections, 10)
	assert.Equal(t, "n1", doc.Nodes[0].Ref)
	assert.Equal(t, "What is the brush doing?", doc.Issue.RootQuestionText)

	raw, err := json.Marshal(doc)
	require.NoError(t, err)
	var decoded transfer.Document
	require.NoError(t, json.Unmarshal(raw, &decoded))

	dst := apptest.New(t)
	res, err := dst.Transfer.ImportDocument(ctx, &decoded, transfer.ModeReject)
	require.NoError(t, err)
	require.Empty(t, res.Errors)
	require.Len(t, res.Success, 1)
	assert.Equal(t, 11, res.Success[0].NodesCount)
	assert.Equal(t, 10, res.Success[0].ConnectionsCount)

	assert.Equal(t, describe(t, src, "brush"), describe(t, dst, "brush"))

	issue, err := dst.Validator.Summarize(ctx, "brush")
	require.NoError(t, err)
	assert.Equal(t, "Brush Problems", issue.Name)
	root, err := dst.Store.ResolveRoot(ctx, "brush")
	require.NoError(t, err)
	assert.Equal(t, "What is the brush doing?", root.Text)
}

func TestExportCategory_CrossCategoryTargetsUseSemanticIDs(t *testing.T) {
	env := apptest.New(t)
	brush := env.SeedBrush(t)
	ctx := context.Background()
	q := env.Question(t, "vacuum", "vacuum_start", "Is the vacuum weak?")
	env.Link(t, q, brush.Nodes["brush_check"], "Check the brush", 0)
	env.Link(t, q, env.Conclusion(t, "brush", "", "Unnamed conclusion"), "Unnamed", 1)

	doc, err := env.Transfer.ExportCategory(ctx, "vacuum")
	require.NoError(t, err)
	require.Len(t, doc.Connections, 1)
	require.NotNil(t, doc.Connections[0].ToSemanticID)
	assert.Equal(t, "brush_check", *doc.Connections[0].ToSemanticID)
	assert.Empty(t, doc.Connections[0].ToRef)

	_, err = env.Transfer.ExportCategory(ctx, "nope")
	assert.True(t, pkgerrors.IsNotFound(err))
}

func TestImportDocument_Modes(t *testing.T) {
	env := apptest.New(t)
	env.SeedBrush(t)
	ctx := context.Background()
	doc, err := env.Transfer.ExportCategory(ctx, "brush")
	require.NoError(t, err)
	before := describe(t, env, "brush")

	res, err := env.Transfer.ImportDocument(ctx, doc, transfer.ModeReject)
	require.NoError(t, err)
	assert.Empty(t, res.Success)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "CONFLICT", res.Errors[0].Type)
	assert.Empty(t, res.Errors[0].Item)

	res, err = env.Transfer.ImportDocument(ctx, doc, transfer.ModeMerge)
	require.NoError(t, err)
	assert.Empty(t, res.Success)
	assert.Len(t, res.Errors, 1+11, "document error plus one semantic id collision per node")
	assert.Equal(t, before, describe(t, env, "brush"))

	res, err = env.Transfer.ImportDocument(ctx, doc, transfer.ModeReplace)
	require.NoError(t, err)
	require.Empty(t, res.Errors)
	require.Len(t, res.Success, 1)
	assert.Equal(t, transfer.ModeReplace, res.Success[0].Mode)
	assert.Equal(t, before, describe(t, env, "brush"))

	out, err := env.Store.ListOutgoingConnections(ctx, env.Start.ID, false)
	require.NoError(t, err)
	assert.Len(t, out, 1, "the start link is recreated, not duplicated")

	_, err = env.Transfer.ImportDocument(ctx, doc, transfer.Mode("upsert"))
	assert.True(t, pkgerrors.IsValidation(err))
}

func TestImportDocument_MergeAddsToExistingCategory(t *testing.T) {
	env := apptest.New(t)
	env.SeedBrush(t)
	ctx := context.Background()

	doc := &transfer.Document{
		Version: 1,
		Issue:   transfer.IssueMetadata{Name: "Brush Problems", Category: "brush"},
		Nodes: []transfer.NodeData{
			{Ref: "extra", NodeType: "question", Text: "Is the brush worn?"},
			{Ref: "replace", NodeType: "conclusion", Text: "Replace the brush."},
		},
		Connections: []transfer.ConnectionDoc{
			{FromRef: "extra", ToRef: "replace", Label: "Yes"},
			{FromRef: "extra", ToSemanticID: ptr("brush_check"), Label: "No", OrderIndex: 1},
		},
	}
	res, err := env.Transfer.ImportDocument(ctx, doc, transfer.ModeMerge)
	require.NoError(t, err)
	require.Empty(t, res.Errors)
	assert.Equal(t, 2, res.Success[0].NodesCount)
	assert.Equal(t, 2, res.Success[0].ConnectionsCount)

	nodes, err := env.Store.ListNodesByCategory(ctx, "brush")
	require.NoError(t, err)
	assert.Len(t, nodes, 13)
}

func ptr[T any](v T) *T { return &v }

func TestImportDocument_CollectsItemErrors(t *testing.T) {
	env := apptest.New(t)
	ctx := context.Background()

	doc := &transfer.Document{
		Version: 1,
		Issue:   transfer.IssueMetadata{Name: "Pump Problems", Category: "pump"},
		Nodes: []transfer.NodeData{
			{Ref: "q", NodeType: "Question", Text: "Is the pump running?", SemanticID: ptr("pump_start")},
			{Ref: "c", NodeType: "conclusion", Text: "Prime the pump."},
			{Ref: "bad", NodeType: "diagram", Text: "Not a node type"},
			{Ref: "taken", NodeType: "question", Text: "Duplicate", SemanticID: ptr("start")},
		},
		Connections: []transfer.ConnectionDoc{
			{FromRef: "q", ToRef: "c", Label: "No", OrderIndex: 0},
			{FromRef: "q", ConclusionText: ptr("Call service."), Label: "Still no", OrderIndex: 1},
			{FromRef: "q", ToRef: "ghost", Label: "Ghost"},
			{FromRef: "ghost", ToRef: "c", Label: "From nowhere"},
			{FromRef: "q", ToSemanticID: ptr("missing_sid"), Label: "Elsewhere"},
			{FromRef: "q", Label: "No target"},
			{FromRef: "c", ToRef: "c", Label: "Loop"},
		},
	}

	res, err := env.Transfer.ImportDocument(ctx, doc, transfer.ModeReject)
	require.NoError(t, err)
	require.Len(t, res.Success, 1)
	assert.Equal(t, 3, res.Success[0].NodesCount)
	assert.Equal(t, 2, res.Success[0].ConnectionsCount)

	types := map[string]string{}
	for _, e := range res.Errors {
		assert.Equal(t, "pump", e.Category)
		types[e.Item] = e.Type
	}
	assert.Equal(t, map[string]string{
		"node bad":     "VALIDATION",
		"node taken":   "CONFLICT",
		"connection 2": "GRAPH_INTEGRITY",
		"connection 3": "GRAPH_INTEGRITY",
		"connection 4": "GRAPH_INTEGRITY",
		"connection 5": "GRAPH_INTEGRITY",
		"connection 6": "GRAPH_INTEGRITY",
	}, types)

	v, err := env.Validator.ValidateCategory(ctx, "pump")
	require.NoError(t, err)
	assert.True(t, v.OK)

	issue, err := env.Validator.Summarize(ctx, "pump")
	require.NoError(t, err)
	assert.Equal(t, "Pump Problems", issue.Name)
}

func TestImportDocument_DocumentLevelFailures(t *testing.T) {
	env := apptest.New(t)
	ctx := context.Background()

	cases := map[string]*transfer.Document{
		"no category": {Nodes: []transfer.NodeData{{NodeType: "question", Text: "?"}}},
		"no nodes":    {Issue: transfer.IssueMetadata{Category: "pump"}},
		"reserved":    {Issue: transfer.IssueMetadata{Category: env.Roots.StartCategory}, Nodes: []transfer.NodeData{{NodeType: "question", Text: "?"}}},
		"future":      {Version: 99, Issue: transfer.IssueMetadata{Category: "pump"}, Nodes: []transfer.NodeData{{NodeType: "question", Text: "?"}}},
		"all invalid": {Issue: transfer.IssueMetadata{Category: "pump"}, Nodes: []transfer.NodeData{{NodeType: "nope", Text: "?"}}},
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			res, err := env.Transfer.ImportDocument(ctx, doc, transfer.ModeReject)
			require.NoError(t, err)
			assert.Empty(t, res.Success)
			require.NotEmpty(t, res.Errors)
			assert.Empty(t, res.Errors[0].Item)
		})
	}

	cats, err := env.Store.ListCategories(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{env.Roots.StartCategory}, cats)
}

func TestImportDocument_LegacyIndexedDocument(t *testing.T) {
	env := apptest.New(t)
	ctx := context.Background()
	raw := `{
		"issue": {"name": "Wheel Problems", "category": "wheel", "root_question_text": "Is the wheel turning?"},
		"nodes": [
			{"node_type": "question", "text": "Is the wheel turning?", "semantic_id": "wheel_start"},
			{"node_type": "conclusion", "text": "Replace the wheel motor."}
		],
		"connections": [
			{"from_node_index": 0, "to_node_index": 1, "label": "No", "order_index": 0},
			{"from_node_index": 0, "conclusion_text": "No action needed.", "label": "Yes", "order_index": 1}
		]
	}`
	var doc transfer.Document
	require.NoError(t, json.Unmarshal([]byte(raw), &doc))

	res, err := env.Transfer.ImportDocument(ctx, &doc, "")
	require.NoError(t, err)
	require.Empty(t, res.Errors)
	assert.Equal(t, 3, res.Success[0].NodesCount)
	assert.Equal(t, transfer.ModeReject, res.Success[0].Mode)

	root, err := env.Store.ResolveRoot(ctx, "wheel")
	require.NoError(t, err)
	out, err := env.Store.ListOutgoingConnections(ctx, root.ID, true)
	require.NoError(t, err)
	require.Len(t, out, 2)
	target, err := env.Store.GetNode(ctx, out[1].ToNodeID)
	require.NoError(t, err)
	assert.True(t, target.IsConclusion())
	assert.Equal(t, "No action needed.", target.Text)
}

func TestExportAll_SkipsExcludedCategories(t *testing.T) {
	env := apptest.New(t)
	env.SeedBrush(t)
	env.Question(t, "pump", "pump_start", "Is the pump running?")
	env.Question(t, "scratch", "", "Draft")

	svc := transfer.NewService(env.Store, env.Validator, []string{"scratch"}, nil, zap.NewNop())
	docs, err := svc.ExportAll(context.Background())
	require.NoError(t, err)

	var cats []string
	for _, d := range docs {
		cats = append(cats, d.Issue.Category)
	}
	assert.Equal(t, []string{"brush", "pump"}, cats)
}

type importCounter struct{ ok, failed int }

func (c *importCounter) DocumentImported(ok bool) {
	if ok {
		c.ok++
	} else {
		c.failed++
	}
}

func TestImportDocuments_MergesInOrder(t *testing.T) {
	src := apptest.New(t)
	src.SeedBrush(t)
	src.Question(t, "pump", "pump_start", "Is the pump running?")
	ctx := context.Background()
	docs, err := src.Transfer.ExportAll(ctx)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	docs = append(docs, docs[0])

	dst := apptest.New(t)
	counter := &importCounter{}
	svc := transfer.NewService(dst.Store, dst.Validator, nil, counter, zap.NewNop())
	res, err := svc.ImportDocuments(ctx, docs, transfer.ModeReject)
	require.NoError(t, err)

	var imported []string
	for _, s := range res.Success {
		imported = append(imported, s.Category)
	}
	sort.Strings(imported)
	assert.Equal(t, []string{"brush", "pump"}, imported)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "brush", res.Errors[0].Category)
	assert.Equal(t, 2, counter.ok)
	assert.Equal(t, 1, counter.failed)
}

func TestParseMode(t *testing.T) {
	for in, want := range map[string]transfer.Mode{"": transfer.ModeReject, "Replace": transfer.ModeReplace, " merge ": transfer.ModeMerge} {
		got, err := transfer.ParseMode(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := transfer.ParseMode("overwrite")
	assert.Error(t, err)
}

func TestDecodeDocuments(t *testing.T) {
	docs, err := transfer.DecodeDocuments([]byte(` {"version":1,"issue":{"name":"Pump","category":"pump"},"nodes":[]} `))
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "pump", docs[0].Issue.Category)

	docs, err = transfer.DecodeDocuments([]byte(`[{"issue":{"category":"a"}},{"issue":{"category":"b"}}]`))
	require.NoError(t, err)
	assert.Len(t, docs, 2)

	for _, raw := range []string{"", "   ", "{", "[null]"} {
		_, err := transfer.DecodeDocuments([]byte(raw))
		assert.True(t, pkgerrors.IsValidation(err), raw)
	}
}

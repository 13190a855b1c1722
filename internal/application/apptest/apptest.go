// Package apptest wires the application services over a temporary SQLite
// database for tests.
package apptest

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Galaxyz7/equipment-troubleshooting-rust-react-sub001/internal/application/graphstore"
	"github.com/Galaxyz7/equipment-troubleshooting-rust-react-sub001/internal/application/issues"
	"github.com/Galaxyz7/equipment-troubleshooting-rust-react-sub001/internal/application/sessions"
	"github.com/Galaxyz7/equipment-troubleshooting-rust-react-sub001/internal/application/transfer"
	"github.com/Galaxyz7/equipment-troubleshooting-rust-react-sub001/internal/application/validation"
	"github.com/Galaxyz7/equipment-troubleshooting-rust-react-sub001/internal/application/views"
	"github.com/Galaxyz7/equipment-troubleshooting-rust-react-sub001/internal/domain/graph"
	"github.com/Galaxyz7/equipment-troubleshooting-rust-react-sub001/internal/infrastructure/cache"
	"github.com/Galaxyz7/equipment-troubleshooting-rust-react-sub001/internal/infrastructure/messaging"
	"github.com/Galaxyz7/equipment-troubleshooting-rust-react-sub001/internal/infrastructure/persistence/sqlite"
)

// Env is a fully wired set of services.
type Env struct {
	DB         *sqlite.DB
	Sessions   *sqlite.SessionRepository
	Cache      *cache.ViewCache
	Dispatcher *messaging.Dispatcher
	Store      *graphstore.Store
	Views      *views.Builder
	Validator  *validation.Engine
	Engine     *sessions.Engine
	Issues     *issues.Service
	Transfer   *transfer.Service
	Roots      graph.Roots
	Start      *graph.Node
}

// New builds an Env with the global start node already present.
func New(t testing.TB) *Env {
	t.Helper()
	ctx := context.Background()
	logger := zap.NewNop()

	db, err := sqlite.Open(ctx, sqlite.DefaultConfig(filepath.Join(t.TempDir(), "app.db")), logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	roots := graph.DefaultRoots()
	viewCache := cache.New(cache.DefaultConfig(), logger)
	dispatcher := messaging.NewDispatcher(logger)
	dispatcher.Register("cache", messaging.NewCacheInvalidator(viewCache, logger))

	store := graphstore.New(sqlite.NewGraphRepository(db, logger), dispatcher, roots, logger)
	builder := views.NewBuilder(store, store, viewCache, logger)
	validator := validation.NewEngine(store, logger)
	sessionRepo := sqlite.NewSessionRepository(db, logger)

	start, err := store.EnsureStartNode(ctx, "What type of issue are you experiencing?")
	require.NoError(t, err)

	return &Env{
		DB:         db,
		Sessions:   sessionRepo,
		Cache:      viewCache,
		Dispatcher: dispatcher,
		Store:      store,
		Views:      builder,
		Validator:  validator,
		Engine:     sessions.NewEngine(store, builder, sessionRepo, nil, logger),
		Issues:     issues.NewService(store, validator, builder, viewCache, logger),
		Transfer:   transfer.NewService(store, validator, nil, nil, logger),
		Roots:      roots,
		Start:      start,
	}
}

// Question creates an active question whose semantic id is key.
func (e *Env) Question(t testing.TB, category, key, text string) *graph.Node {
	t.Helper()
	return e.node(t, category, graph.NodeTypeQuestion, key, text)
}

// Conclusion creates an active conclusion. key may be empty.
func (e *Env) Conclusion(t testing.TB, category, key, text string) *graph.Node {
	t.Helper()
	return e.node(t, category, graph.NodeTypeConclusion, key, text)
}

func (e *Env) node(t testing.TB, category string, nt graph.NodeType, key, text string) *graph.Node {
	t.Helper()
	spec := graph.NodeSpec{Category: category, NodeType: nt, Text: text}
	if key != "" {
		spec.SemanticID = &key
	}
	n, err := e.Store.CreateNode(context.Background(), spec)
	require.NoError(t, err)
	return n
}

// Link connects from to to.
func (e *Env) Link(t testing.TB, from, to *graph.Node, label string, order int) *graph.Connection {
	t.Helper()
	c, err := e.Store.CreateConnection(context.Background(), graph.ConnectionSpec{
		FromNodeID: from.ID,
		ToNodeID:   to.ID,
		Label:      label,
		OrderIndex: order,
	})
	require.NoError(t, err)
	return c
}

// ForcedOffText is the conclusion reached from forced_off in the brush fixture.
const ForcedOffText = "Maintenance has the brush forced off pending repair. Contact maintenance for an ETA."

// Brush is the brush troubleshooting fixture.
type Brush struct {
	Nodes map[string]*graph.Node
	// Conns is keyed by "<from semantic id>/<label>".
	Conns map[string]*graph.Connection
}

// Conn returns the connection leaving from with label.
func (b *Brush) Conn(from, label string) *graph.Connection {
	return b.Conns[from+"/"+label]
}

// SeedBrush builds a complete brush category linked from the start node.
// Connections out of brush_check are created out of order.
func (e *Env) SeedBrush(t testing.TB) *Brush {
	t.Helper()
	b := &Brush{Nodes: map[string]*graph.Node{}, Conns: map[string]*graph.Connection{}}
	q := func(key, text string) {
		b.Nodes[key] = e.Question(t, "brush", key, text)
	}
	c := func(key, text string) {
		b.Nodes[key] = e.Conclusion(t, "brush", key, text)
	}
	link := func(from, to, label string, order int) {
		b.Conns[from+"/"+label] = e.Link(t, b.Nodes[from], b.Nodes[to], label, order)
	}

	q("brush_check", "What is the brush doing?")
	q("not_spinning1", "Is the brush motor running?")
	q("not_deploying", "Does the brush lower when engaged?")
	q("timing_pressure", "Is the brush pressure set correctly?")
	q("forced_off", "Is the brush forced off in the controller?")
	q("set_auto", "Set the brush to auto. Does it spin now?")
	c("check_motor", "Check the brush motor breaker.")
	c("forced_off_conclusion", ForcedOffText)
	c("resolved", "Problem resolved.")
	c("check_actuator", "Inspect the deploy actuator.")
	c("adjust_pressure", "Adjust the pressure setting.")

	link("brush_check", "timing_pressure", "Timing/Pressure Issues", 2)
	link("brush_check", "not_spinning1", "Not Spinning", 0)
	link("brush_check", "not_deploying", "Not Deploying", 1)
	link("not_spinning1", "check_motor", "No", 1)
	link("not_spinning1", "forced_off", "Yes", 0)
	link("forced_off", "set_auto", "No", 0)
	link("forced_off", "forced_off_conclusion", "Yes", 1)
	link("set_auto", "resolved", "Yes", 0)
	link("not_deploying", "check_actuator", "No", 0)
	link("timing_pressure", "adjust_pressure", "No", 0)

	b.Nodes["start"] = e.Start
	b.Conns["start/Brush Problems"] = e.Link(t, e.Start, b.Nodes["brush_check"], "Brush Problems", 0)
	return b
}

// Package sessions runs the traversal state machine: a session starts at a
// root node, advances one answer at a time and ends at a conclusion or when
// an external policy abandons it.
package sessions

import (
	"context"
	"encoding/hex"
	"strings"
	"time"

	"github.com/zeebo/blake3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/Galaxyz7/equipment-troubleshooting-rust-react-sub001/internal/application/views"
	"github.com/Galaxyz7/equipment-troubleshooting-rust-react-sub001/internal/domain/graph"
	"github.com/Galaxyz7/equipment-troubleshooting-rust-react-sub001/internal/domain/session"
	"github.com/Galaxyz7/equipment-troubleshooting-rust-react-sub001/internal/repository"
	pkgerrors "github.com/Galaxyz7/equipment-troubleshooting-rust-react-sub001/pkg/errors"
)

// Graph is the direct read path used when a cached view cannot answer.
type Graph interface {
	views.Source
	StartNode(ctx context.Context) (*graph.Node, error)
	ResolveRoot(ctx context.Context, category string) (*graph.Node, error)
	Roots() graph.Roots
}

// Trees serves cached flattened trees.
type Trees interface {
	FlattenedTree(ctx context.Context, category string) (*views.Tree, error)
}

// Recorder receives session lifecycle counts. It may be nil.
type Recorder interface {
	SessionStarted(category string)
	AnswerSubmitted()
	SessionCompleted(category string)
	SessionAbandoned()
}

// StartRequest carries the optional inputs of StartSession.
type StartRequest struct {
	Category       *string
	TechIdentifier *string
	ClientSite     *string
	ClientIP       string
	UserAgent      string
}

// StartResult is returned by StartSession.
type StartResult struct {
	SessionID string         `json:"session_id"`
	Node      *graph.Node    `json:"node"`
	Options   []views.Option `json:"options"`
}

// AnswerResult is returned by SubmitAnswer.
type AnswerResult struct {
	SessionID      string         `json:"session_id"`
	Node           *graph.Node    `json:"node"`
	Options        []views.Option `json:"options"`
	IsConclusion   bool           `json:"is_conclusion"`
	ConclusionText *string        `json:"conclusion_text,omitempty"`
}

// State is a session together with the node it is positioned at.
type State struct {
	Session *session.Session `json:"session"`
	Status  session.Status   `json:"status"`
	Node    *graph.Node      `json:"node"`
	Options []views.Option   `json:"options"`
}

// History is the ordered path a session has taken.
type History struct {
	SessionID       string         `json:"session_id"`
	Category        string         `json:"category,omitempty"`
	Status          session.Status `json:"status"`
	StartedAt       time.Time      `json:"started_at"`
	CompletedAt     *time.Time     `json:"completed_at,omitempty"`
	Completed       bool           `json:"completed"`
	Steps           []session.Step `json:"steps"`
	FinalConclusion *string        `json:"final_conclusion,omitempty"`
}

// Engine is the SessionEngine.
type Engine struct {
	graph    Graph
	trees    Trees
	repo     repository.SessionRepository
	recorder Recorder
	logger   *zap.Logger
	tracer   trace.Tracer
	now      func() time.Time
}

func NewEngine(g Graph, trees Trees, repo repository.SessionRepository, recorder Recorder, logger *zap.Logger) *Engine {
	return &Engine{
		graph:    g,
		trees:    trees,
		repo:     repo,
		recorder: recorder,
		logger:   logger,
		tracer:   otel.Tracer("troubleshooting/sessions"),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// StartSession opens a session at the global start node, or directly at a
// category's root when one is given.
func (e *Engine) StartSession(ctx context.Context, req StartRequest) (*StartResult, error) {
	ctx, span := e.tracer.Start(ctx, "sessions.StartSession")
	defer span.End()

	var (
		start *graph.Node
		err   error
	)
	category := ""
	if req.Category != nil && strings.TrimSpace(*req.Category) != "" {
		category = strings.TrimSpace(*req.Category)
		span.SetAttributes(attribute.String("category", category))
		start, err = e.graph.ResolveRoot(ctx, category)
	} else {
		start, err = e.graph.StartNode(ctx)
	}
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	node, options, err := e.position(ctx, start.Category, start.ID)
	if err != nil {
		return nil, err
	}

	sctx := session.Context{
		TechIdentifier: trimmed(req.TechIdentifier),
		ClientSite:     trimmed(req.ClientSite),
		UserAgent:      trimmed(&req.UserAgent),
	}
	if req.ClientIP != "" {
		h := HashIP(req.ClientIP)
		sctx.IPHash = &h
	}

	if category == "" && start.Category != e.graph.Roots().StartCategory {
		category = start.Category
	}
	s := session.New(category, node.ID, sctx, e.now())
	if err := e.repo.Create(ctx, s); err != nil {
		return nil, err
	}

	if e.recorder != nil {
		e.recorder.SessionStarted(category)
	}
	e.logger.Info("Session started",
		zap.String("sessionID", s.ID),
		zap.String("category", category),
		zap.String("nodeID", node.ID))

	return &StartResult{SessionID: s.ID, Node: node, Options: options}, nil
}

// SubmitAnswer advances an active session along one of its current node's
// active options. Unknown or finished sessions fail with NotFound; a
// connection that is not an option fails with a validation error. A failed
// call never changes the stored session.
func (e *Engine) SubmitAnswer(ctx context.Context, sessionID, connectionID string) (*AnswerResult, error) {
	ctx, span := e.tracer.Start(ctx, "sessions.SubmitAnswer", trace.WithAttributes(attribute.String("session.id", sessionID)))
	defer span.End()

	stored, err := e.repo.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !stored.IsActive() {
		return nil, session.ErrNotActive(sessionID)
	}

	current, options, err := e.position(ctx, e.categoryHint(stored), stored.CurrentNodeID)
	if err != nil {
		return nil, err
	}

	var chosen *views.Option
	for i := range options {
		if options[i].ConnectionID == connectionID {
			chosen = &options[i]
			break
		}
	}
	if chosen == nil {
		return nil, pkgerrors.NewValidationError("connection is not an available answer for the current node").
			WithCode("INVALID_ANSWER").
			WithDetails(map[string]interface{}{
				"session_id":    sessionID,
				"connection_id": connectionID,
				"node_id":       current.ID,
			})
	}

	next, nextOptions, err := e.position(ctx, chosen.TargetCategory, chosen.TargetNodeID)
	if err != nil {
		return nil, err
	}
	if !next.IsActive {
		return nil, pkgerrors.NewValidationError("the chosen answer leads to an inactive node").
			WithCode("INACTIVE_TARGET").
			WithDetails(map[string]interface{}{
				"session_id":    sessionID,
				"connection_id": connectionID,
				"node_id":       next.ID,
			})
	}

	now := e.now()
	s := stored.Clone()
	step := session.Step{
		NodeID:       current.ID,
		NodeText:     current.Text,
		ConnectionID: chosen.ConnectionID,
		Label:        chosen.Label,
		Timestamp:    now,
	}
	if err := s.Advance(step, next.ID, now); err != nil {
		return nil, err
	}
	if s.Category == "" && next.Category != e.graph.Roots().StartCategory {
		s.Category = next.Category
	}

	result := &AnswerResult{SessionID: s.ID, Node: next, Options: nextOptions}
	if next.IsConclusion() {
		if err := s.Complete(next.Text, now); err != nil {
			return nil, err
		}
		result.Options = []views.Option{}
		result.IsConclusion = true
		result.ConclusionText = s.FinalConclusion
	}

	if err := e.repo.Update(ctx, s); err != nil {
		return nil, err
	}

	if e.recorder != nil {
		e.recorder.AnswerSubmitted()
		if result.IsConclusion {
			e.recorder.SessionCompleted(s.Category)
		}
	}
	e.logger.Debug("Answer submitted",
		zap.String("sessionID", s.ID),
		zap.String("connectionID", connectionID),
		zap.String("nextNodeID", next.ID),
		zap.Bool("completed", result.IsConclusion))
	return result, nil
}

// GetSession returns a session and the node it is positioned at, in any
// lifecycle state. Finished sessions carry no options.
func (e *Engine) GetSession(ctx context.Context, sessionID string) (*State, error) {
	s, err := e.repo.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	node, options, err := e.position(ctx, e.categoryHint(s), s.CurrentNodeID)
	if err != nil {
		return nil, err
	}
	if !s.IsActive() {
		options = []views.Option{}
	}
	return &State{Session: s, Status: s.Status(), Node: node, Options: options}, nil
}

// GetHistory returns the ordered steps of a session in any lifecycle state.
func (e *Engine) GetHistory(ctx context.Context, sessionID string) (*History, error) {
	s, err := e.repo.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	steps := s.Steps
	if steps == nil {
		steps = []session.Step{}
	}
	return &History{
		SessionID:       s.ID,
		Category:        s.Category,
		Status:          s.Status(),
		StartedAt:       s.StartedAt,
		CompletedAt:     s.CompletedAt,
		Completed:       s.CompletedAt != nil,
		Steps:           steps,
		FinalConclusion: s.FinalConclusion,
	}, nil
}

// MarkAbandoned ends an active session without a conclusion. Unknown and
// finished sessions fail with NotFound.
func (e *Engine) MarkAbandoned(ctx context.Context, sessionID string) error {
	stored, err := e.repo.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	s := stored.Clone()
	if err := s.Abandon(e.now()); err != nil {
		return err
	}
	if err := e.repo.Update(ctx, s); err != nil {
		return err
	}
	if e.recorder != nil {
		e.recorder.SessionAbandoned()
	}
	e.logger.Info("Session abandoned", zap.String("sessionID", sessionID))
	return nil
}

func (e *Engine) categoryHint(s *session.Session) string {
	if s.Category != "" {
		return s.Category
	}
	return e.graph.Roots().StartCategory
}

// position returns a node and its options. The cached tree of the hinted
// category is tried first, then the tree of the node's own category, then a
// direct read. Cache failures only cost the fallback.
func (e *Engine) position(ctx context.Context, categoryHint, nodeID string) (*graph.Node, []views.Option, error) {
	if tn, ok := e.fromTree(ctx, categoryHint, nodeID); ok {
		return tn.Node, copyOptions(tn.Options), nil
	}

	node, err := e.graph.GetNode(ctx, nodeID)
	if err != nil {
		return nil, nil, err
	}
	if node.Category != categoryHint {
		if tn, ok := e.fromTree(ctx, node.Category, nodeID); ok {
			return tn.Node, copyOptions(tn.Options), nil
		}
	}

	options, err := views.Options(ctx, e.graph, nodeID)
	if err != nil {
		return nil, nil, err
	}
	return node, options, nil
}

func (e *Engine) fromTree(ctx context.Context, category, nodeID string) (*views.TreeNode, bool) {
	if category == "" || e.trees == nil {
		return nil, false
	}
	tree, err := e.trees.FlattenedTree(ctx, category)
	if err != nil {
		if !pkgerrors.IsNotFound(err) {
			e.logger.Warn("Flattened tree unavailable, reading graph directly",
				zap.String("category", category),
				zap.Error(err))
		}
		return nil, false
	}
	return tree.Lookup(nodeID)
}

// copyOptions detaches options from the shared cached tree.
func copyOptions(in []views.Option) []views.Option {
	return append(make([]views.Option, 0, len(in)), in...)
}

// HashIP returns the hex blake3 digest of a client address. Raw addresses
// are never stored.
func HashIP(ip string) string {
	sum := blake3.Sum256([]byte(ip))
	return hex.EncodeToString(sum[:])
}

func trimmed(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}

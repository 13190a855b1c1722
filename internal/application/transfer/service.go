package transfer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Galaxyz7/equipment-troubleshooting-rust-react-sub001/internal/application/graphstore"
	"github.com/Galaxyz7/equipment-troubleshooting-rust-react-sub001/internal/application/issues"
	"github.com/Galaxyz7/equipment-troubleshooting-rust-react-sub001/internal/application/validation"
	"github.com/Galaxyz7/equipment-troubleshooting-rust-react-sub001/internal/domain/events"
	"github.com/Galaxyz7/equipment-troubleshooting-rust-react-sub001/internal/domain/graph"
	"github.com/Galaxyz7/equipment-troubleshooting-rust-react-sub001/internal/repository"
	pkgerrors "github.com/Galaxyz7/equipment-troubleshooting-rust-react-sub001/pkg/errors"
)

const defaultWorkers = 4

// Recorder counts import outcomes. It may be nil.
type Recorder interface {
	DocumentImported(ok bool)
}

// Service is the ImportExportEngine.
type Service struct {
	store     *graphstore.Store
	validator *validation.Engine
	excluded  map[string]bool
	workers   int
	recorder  Recorder
	logger    *zap.Logger
	tracer    trace.Tracer
}

// NewService creates the engine. excluded names categories ExportAll skips.
func NewService(store *graphstore.Store, validator *validation.Engine, excluded []string, recorder Recorder, logger *zap.Logger) *Service {
	ex := make(map[string]bool, len(excluded)+1)
	for _, c := range excluded {
		ex[c] = true
	}
	ex[store.Roots().StartCategory] = true
	return &Service{
		store:     store,
		validator: validator,
		excluded:  ex,
		workers:   defaultWorkers,
		recorder:  recorder,
		logger:    logger,
		tracer:    otel.Tracer("troubleshooting/transfer"),
	}
}

// ExportCategory serializes every node and connection of a category,
// including inactive ones, with document-local references in creation
// order.
func (s *Service) ExportCategory(ctx context.Context, category string) (*Document, error) {
	ctx, span := s.tracer.Start(ctx, "transfer.ExportCategory", trace.WithAttributes(attribute.String("category", category)))
	defer span.End()

	nodes, err := s.store.ListNodesByCategory(ctx, category)
	if err != nil {
		return nil, err
	}
	if len(nodes) == 0 {
		return nil, pkgerrors.NewNotFoundError("issue").
			WithDetails(map[string]interface{}{"category": category})
	}

	doc := &Document{
		Version:     FormatVersion,
		Issue:       IssueMetadata{Name: category, Category: category},
		Nodes:       make([]NodeData, 0, len(nodes)),
		Connections: []ConnectionDoc{},
	}

	refs := make(map[string]string, len(nodes))
	for i, n := range nodes {
		ref := nodeRef(i)
		refs[n.ID] = ref
		active := n.IsActive
		doc.Nodes = append(doc.Nodes, NodeData{
			Ref:             ref,
			NodeType:        string(n.NodeType),
			Text:            n.Text,
			SemanticID:      n.SemanticID,
			DisplayCategory: n.DisplayCategory,
			PositionX:       n.PositionX,
			PositionY:       n.PositionY,
			IsActive:        &active,
		})
	}

	issue, err := s.validator.Summarize(ctx, category)
	switch {
	case err == nil:
		active := issue.IsActive
		doc.Issue.Name = issue.Name
		doc.Issue.DisplayCategory = issue.DisplayCategory
		doc.Issue.RootRef = refs[issue.RootQuestionID]
		doc.Issue.IsActive = &active
		for _, n := range nodes {
			if n.ID == issue.RootQuestionID {
				doc.Issue.RootQuestionText = n.Text
			}
		}
	case !pkgerrors.IsNotFound(err):
		return nil, err
	}

	for _, n := range nodes {
		conns, err := s.store.ListOutgoingConnections(ctx, n.ID, false)
		if err != nil {
			return nil, err
		}
		for _, c := range conns {
			active := c.IsActive
			cd := ConnectionDoc{
				FromRef:    refs[n.ID],
				Label:      c.Label,
				OrderIndex: c.OrderIndex,
				IsActive:   &active,
			}
			if ref, ok := refs[c.ToNodeID]; ok {
				cd.ToRef = ref
			} else {
				target, err := s.store.GetNode(ctx, c.ToNodeID)
				if err != nil {
					return nil, err
				}
				if target.SemanticID == nil {
					s.logger.Warn("Skipping cross-category connection without a semantic target",
						zap.String("category", category),
						zap.String("connectionID", c.ID),
						zap.String("targetCategory", target.Category))
					continue
				}
				cd.ToSemanticID = target.SemanticID
			}
			doc.Connections = append(doc.Connections, cd)
		}
	}

	s.logger.Info("Exported issue",
		zap.String("category", category),
		zap.Int("nodes", len(doc.Nodes)),
		zap.Int("connections", len(doc.Connections)))
	return doc, nil
}

// ExportAll exports every category except the excluded ones, sorted by
// category. Categories that fail to export are logged and skipped.
func (s *Service) ExportAll(ctx context.Context) ([]*Document, error) {
	categories, err := s.store.ListCategories(ctx)
	if err != nil {
		return nil, err
	}

	selected := make([]string, 0, len(categories))
	for _, c := range categories {
		if !s.excluded[c] {
			selected = append(selected, c)
		}
	}

	docs := make([]*Document, len(selected))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i, category := range selected {
		g.Go(func() error {
			doc, err := s.ExportCategory(gctx, category)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				s.logger.Warn("Failed to export issue", zap.String("category", category), zap.Error(err))
				return nil
			}
			docs[i] = doc
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]*Document, 0, len(docs))
	for _, d := range docs {
		if d != nil {
			out = append(out, d)
		}
	}
	return out, nil
}

// ImportDocuments imports documents concurrently and merges their results
// in input order.
func (s *Service) ImportDocuments(ctx context.Context, docs []*Document, mode Mode) (*ImportResult, error) {
	results := make([]*ImportResult, len(docs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i, doc := range docs {
		g.Go(func() error {
			res, err := s.ImportDocument(gctx, doc, mode)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := newResult()
	for _, r := range results {
		merged.Merge(r)
	}
	s.logger.Info("Import complete",
		zap.Int("documents", len(docs)),
		zap.Int("succeeded", len(merged.Success)),
		zap.Int("errors", len(merged.Errors)))
	return merged, nil
}

// ImportDocument imports one document with fresh ids. Node and connection
// problems are collected as item errors and do not stop the rest of the
// document; a document that cannot be imported at all is reported as a
// single error with no item. The returned error is reserved for invalid
// arguments and cancellation.
func (s *Service) ImportDocument(ctx context.Context, doc *Document, mode Mode) (*ImportResult, error) {
	ctx, span := s.tracer.Start(ctx, "transfer.ImportDocument")
	defer span.End()

	mode, err := ParseMode(string(mode))
	if err != nil {
		return nil, pkgerrors.NewValidationError(err.Error())
	}

	result := newResult()
	if doc == nil {
		return nil, pkgerrors.NewValidationError("document is required")
	}
	category := strings.TrimSpace(doc.Issue.Category)
	span.SetAttributes(attribute.String("category", category), attribute.String("mode", string(mode)))

	fail := func(err error) (*ImportResult, error) {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		result.Errors = append(result.Errors, documentError(category, err))
		s.record(false)
		return result, nil
	}

	switch {
	case category == "":
		return fail(pkgerrors.NewValidationError("issue.category is required"))
	case category == s.store.Roots().StartCategory:
		return fail(pkgerrors.NewValidationError("category name is reserved"))
	case len(doc.Nodes) == 0:
		return fail(pkgerrors.NewValidationError("issue must have at least one node"))
	case doc.Version > FormatVersion:
		return fail(pkgerrors.NewValidationError(fmt.Sprintf("unsupported document version %d", doc.Version)))
	}

	if mode == ModeReplace {
		if _, err := s.store.DeleteCategory(ctx, category); err != nil && !pkgerrors.IsNotFound(err) {
			return fail(err)
		}
	}

	var imp *importer
	err = s.store.Mutate(ctx, events.CategoryImported, category, func(ctx context.Context, tx repository.GraphTx) ([]string, error) {
		imp = &importer{
			tx:       tx,
			doc:      doc,
			category: category,
			roots:    s.store.Roots(),
			now:      s.store.Now(),
		}
		return imp.run(ctx, mode)
	})
	if err != nil {
		res, ferr := fail(err)
		if res != nil && imp != nil {
			// Nothing was written; the item errors explain why.
			res.Errors = append(res.Errors, imp.errors...)
		}
		return res, ferr
	}

	result.Success = append(result.Success, ImportSuccess{
		Category:         category,
		Name:             imp.name(),
		Mode:             mode,
		NodesCount:       imp.nodesCreated,
		ConnectionsCount: imp.connectionsCreated,
	})
	result.Errors = append(result.Errors, imp.errors...)
	s.record(true)

	s.logger.Info("Imported issue",
		zap.String("category", category),
		zap.String("mode", string(mode)),
		zap.Int("nodes", imp.nodesCreated),
		zap.Int("connections", imp.connectionsCreated),
		zap.Int("itemErrors", len(imp.errors)))
	return result, nil
}

func (s *Service) record(ok bool) {
	if s.recorder != nil {
		s.recorder.DocumentImported(ok)
	}
}

func documentError(category string, err error) ImportError {
	return ImportError{Category: category, Type: errorType(err), Error: err.Error()}
}

func errorType(err error) string {
	if appErr := pkgerrors.GetAppError(err); appErr != nil {
		return string(appErr.Type)
	}
	return string(pkgerrors.ErrorTypeInternal)
}

// importer carries the state of one document import inside a transaction.
type importer struct {
	tx       repository.GraphTx
	doc      *Document
	category string
	roots    graph.Roots
	now      time.Time

	created            map[string]*graph.Node
	nodesCreated       int
	connectionsCreated int
	errors             []ImportError
}

func (imp *importer) name() string {
	if n := strings.TrimSpace(imp.doc.Issue.Name); n != "" {
		return n
	}
	return imp.category
}

func (imp *importer) itemError(item string, err error) {
	imp.errors = append(imp.errors, ImportError{
		Category: imp.category,
		Item:     item,
		Type:     errorType(err),
		Error:    err.Error(),
	})
}

func (imp *importer) run(ctx context.Context, mode Mode) ([]string, error) {
	existing, err := imp.tx.ListNodesByCategory(ctx, imp.category)
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 && mode != ModeMerge {
		return nil, pkgerrors.NewConflictError(fmt.Sprintf(
			"issue with category %q already exists; delete it first or import with mode merge", imp.category)).
			WithCode("ISSUE_EXISTS")
	}

	refs := imp.doc.refs()
	imp.created = make(map[string]*graph.Node, len(refs))
	if err := imp.importNodes(ctx, refs); err != nil {
		return nil, err
	}
	if imp.nodesCreated == 0 {
		return nil, pkgerrors.NewValidationError("no node of the document could be imported")
	}
	if err := imp.importConnections(ctx, refs); err != nil {
		return nil, err
	}

	affected := []string{imp.category}
	if len(existing) > 0 {
		// Merged into a category that already has its entry point.
		return affected, nil
	}
	if root := imp.root(refs); root != nil {
		linked, err := issues.LinkFromStart(ctx, imp.tx, imp.roots, root, imp.name(), imp.now)
		if err != nil {
			return nil, err
		}
		if linked {
			affected = append(affected, imp.roots.StartCategory)
		}
	}
	return affected, nil
}

func (imp *importer) importNodes(ctx context.Context, refs []string) error {
	seenSemantic := make(map[string]bool)
	for i, nd := range imp.doc.Nodes {
		ref := refs[i]
		item := "node " + ref
		if _, dup := imp.created[ref]; dup {
			imp.itemError(item, pkgerrors.NewGraphIntegrityError("duplicate node reference"))
			continue
		}

		nodeType, err := graph.ParseNodeType(nd.NodeType)
		if err != nil {
			imp.itemError(item, err)
			continue
		}

		if nd.SemanticID != nil && strings.TrimSpace(*nd.SemanticID) != "" {
			sid := strings.TrimSpace(*nd.SemanticID)
			if seenSemantic[sid] {
				imp.itemError(item, pkgerrors.NewConflictError(fmt.Sprintf("semantic_id %q appears twice in the document", sid)))
				continue
			}
			if err := graphstore.EnsureSemanticIDFree(ctx, imp.tx, sid, ""); err != nil {
				if !pkgerrors.IsConflict(err) {
					return err
				}
				imp.itemError(item, err)
				continue
			}
			seenSemantic[sid] = true
		}

		display := nd.DisplayCategory
		if display == nil {
			display = imp.doc.Issue.DisplayCategory
		}
		node, err := graph.NewNode(graph.NodeSpec{
			Category:        imp.category,
			NodeType:        nodeType,
			Text:            nd.Text,
			SemanticID:      nd.SemanticID,
			DisplayCategory: display,
			PositionX:       nd.PositionX,
			PositionY:       nd.PositionY,
			IsActive:        nd.IsActive,
		}, imp.now)
		if err != nil {
			imp.itemError(item, err)
			continue
		}
		if err := imp.tx.InsertNode(ctx, node); err != nil {
			return err
		}
		imp.created[ref] = node
		imp.nodesCreated++
	}
	return nil
}

func (imp *importer) importConnections(ctx context.Context, refs []string) error {
	for j, cd := range imp.doc.Connections {
		item := fmt.Sprintf("connection %d", j)

		fromRef, ok := endpointRef(cd.FromRef, cd.FromNodeIndex, refs)
		from := imp.created[fromRef]
		if !ok || from == nil {
			imp.itemError(item, unknownRef("from", fromRef))
			continue
		}

		to, err := imp.target(ctx, cd, refs)
		if err != nil {
			if !pkgerrors.IsAppError(err) {
				return err
			}
			imp.itemError(item, err)
			continue
		}

		conn, err := graph.NewConnection(graph.ConnectionSpec{
			FromNodeID: from.ID,
			ToNodeID:   to.ID,
			Label:      cd.Label,
			OrderIndex: cd.OrderIndex,
			IsActive:   cd.IsActive,
		}, imp.now)
		if err != nil {
			imp.itemError(item, err)
			continue
		}
		if err := imp.tx.InsertConnection(ctx, conn); err != nil {
			return err
		}
		imp.connectionsCreated++
	}
	return nil
}

// target resolves a connection's destination: a document reference, a
// semantic id elsewhere in the store, or inline conclusion text, which
// becomes a new conclusion node.
func (imp *importer) target(ctx context.Context, cd ConnectionDoc, refs []string) (*graph.Node, error) {
	if ref, ok := endpointRef(cd.ToRef, cd.ToNodeIndex, refs); ok {
		if n := imp.created[ref]; n != nil {
			return n, nil
		}
		return nil, unknownRef("to", ref)
	}

	if cd.ToSemanticID != nil && *cd.ToSemanticID != "" {
		n, err := imp.tx.FindNodeBySemanticID(ctx, *cd.ToSemanticID)
		if err != nil {
			if pkgerrors.IsNotFound(err) {
				return nil, pkgerrors.NewGraphIntegrityError(fmt.Sprintf("target semantic_id %q does not exist", *cd.ToSemanticID)).
					WithCode("UNKNOWN_REFERENCE")
			}
			return nil, err
		}
		return n, nil
	}

	if cd.ConclusionText != nil && strings.TrimSpace(*cd.ConclusionText) != "" {
		active := true
		if cd.IsActive != nil {
			active = *cd.IsActive
		}
		n, err := graph.NewNode(graph.NodeSpec{
			Category:        imp.category,
			NodeType:        graph.NodeTypeConclusion,
			Text:            *cd.ConclusionText,
			DisplayCategory: imp.doc.Issue.DisplayCategory,
			IsActive:        &active,
		}, imp.now)
		if err != nil {
			return nil, err
		}
		if err := imp.tx.InsertNode(ctx, n); err != nil {
			return nil, err
		}
		imp.nodesCreated++
		return n, nil
	}

	return nil, pkgerrors.NewGraphIntegrityError("connection has no target").WithCode("UNKNOWN_REFERENCE")
}

// root picks the imported root: the declared root reference, then the node
// carrying the category's root semantic id, then the first question.
func (imp *importer) root(refs []string) *graph.Node {
	if n := imp.created[imp.doc.Issue.RootRef]; n != nil {
		return n
	}
	want := imp.roots.CategoryRootID(imp.category)
	for _, ref := range refs {
		if n := imp.created[ref]; n != nil && n.HasSemanticID(want) {
			return n
		}
	}
	for _, ref := range refs {
		if n := imp.created[ref]; n != nil && n.IsQuestion() {
			return n
		}
	}
	return nil
}

func unknownRef(which, ref string) *pkgerrors.AppError {
	return pkgerrors.NewGraphIntegrityError(fmt.Sprintf("%s reference %q is not a node of the document", which, ref)).
		WithCode("UNKNOWN_REFERENCE")
}

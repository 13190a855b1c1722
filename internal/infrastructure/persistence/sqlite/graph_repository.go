package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/Galaxyz7/equipment-troubleshooting-rust-react-sub001/internal/domain/graph"
	"github.com/Galaxyz7/equipment-troubleshooting-rust-react-sub001/internal/repository"
	pkgerrors "github.com/Galaxyz7/equipment-troubleshooting-rust-react-sub001/pkg/errors"
)

const nodeColumns = `id, category, node_type, text, semantic_id, display_category, position_x, position_y, is_active, created_at, updated_at`

const connectionColumns = `id, from_node_id, to_node_id, label, order_index, is_active, created_at, updated_at`

// GraphRepository implements repository.GraphRepository on SQLite.
type GraphRepository struct {
	db     *DB
	logger *zap.Logger
	graphQueries
}

// NewGraphRepository creates a graph repository over db.
func NewGraphRepository(db *DB, logger *zap.Logger) *GraphRepository {
	return &GraphRepository{
		db:           db,
		logger:       logger,
		graphQueries: graphQueries{q: db.sql},
	}
}

var _ repository.GraphRepository = (*GraphRepository)(nil)

// WithTx runs fn inside an immediate transaction.
func (r *GraphRepository) WithTx(ctx context.Context, fn func(ctx context.Context, tx repository.GraphTx) error) error {
	tx, err := r.db.sql.BeginTx(ctx, nil)
	if err != nil {
		return pkgerrors.NewDatabaseError("begin transaction", err)
	}

	if err := fn(ctx, &graphQueries{q: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			r.logger.Error("Failed to roll back transaction", zap.Error(rbErr))
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return pkgerrors.NewDatabaseError("commit transaction", err)
	}
	return nil
}

// Counts summarizes nodes, connections and categories.
func (r *GraphRepository) Counts(ctx context.Context) (repository.GraphCounts, error) {
	var c repository.GraphCounts
	err := r.db.sql.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM nodes),
			(SELECT COUNT(*) FROM nodes WHERE is_active = 1),
			(SELECT COUNT(*) FROM connections),
			(SELECT COUNT(*) FROM connections WHERE is_active = 1),
			(SELECT COUNT(DISTINCT category) FROM nodes)`).
		Scan(&c.Nodes, &c.ActiveNodes, &c.Connections, &c.ActiveConnections, &c.Categories)
	if err != nil {
		return c, pkgerrors.NewDatabaseError("count graph", err)
	}
	return c, nil
}

// Ping checks the database is reachable.
func (r *GraphRepository) Ping(ctx context.Context) error {
	return r.db.Ping(ctx)
}

// graphQueries holds the statements shared by the pool and transactions.
type graphQueries struct {
	q queryer
}

func (g *graphQueries) GetNode(ctx context.Context, id string) (*graph.Node, error) {
	row := g.q.QueryRowContext(ctx, `SELECT `+nodeColumns+` FROM nodes WHERE id = ?`, id)
	n, err := scanNode(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, pkgerrors.NewNotFoundError("node").WithDetails(map[string]interface{}{"node_id": id})
	}
	if err != nil {
		return nil, pkgerrors.NewDatabaseError("get node", err)
	}
	return n, nil
}

func (g *graphQueries) FindNodeBySemanticID(ctx context.Context, semanticID string) (*graph.Node, error) {
	row := g.q.QueryRowContext(ctx, `SELECT `+nodeColumns+` FROM nodes WHERE semantic_id = ?`, semanticID)
	n, err := scanNode(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, pkgerrors.NewNotFoundError("node").WithDetails(map[string]interface{}{"semantic_id": semanticID})
	}
	if err != nil {
		return nil, pkgerrors.NewDatabaseError("find node by semantic id", err)
	}
	return n, nil
}

func (g *graphQueries) ListNodesByCategory(ctx context.Context, category string) ([]*graph.Node, error) {
	rows, err := g.q.QueryContext(ctx,
		`SELECT `+nodeColumns+` FROM nodes WHERE category = ? ORDER BY created_at, rowid`, category)
	if err != nil {
		return nil, pkgerrors.NewDatabaseError("list nodes", err)
	}
	defer rows.Close()

	var nodes []*graph.Node
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, pkgerrors.NewDatabaseError("scan node", err)
		}
		nodes = append(nodes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, pkgerrors.NewDatabaseError("list nodes", err)
	}
	return nodes, nil
}

func (g *graphQueries) ListCategories(ctx context.Context) ([]string, error) {
	rows, err := g.q.QueryContext(ctx, `SELECT DISTINCT category FROM nodes ORDER BY category`)
	if err != nil {
		return nil, pkgerrors.NewDatabaseError("list categories", err)
	}
	defer rows.Close()

	var categories []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, pkgerrors.NewDatabaseError("scan category", err)
		}
		categories = append(categories, c)
	}
	if err := rows.Err(); err != nil {
		return nil, pkgerrors.NewDatabaseError("list categories", err)
	}
	return categories, nil
}

func (g *graphQueries) GetConnection(ctx context.Context, id string) (*graph.Connection, error) {
	row := g.q.QueryRowContext(ctx, `SELECT `+connectionColumns+` FROM connections WHERE id = ?`, id)
	c, err := scanConnection(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, pkgerrors.NewNotFoundError("connection").WithDetails(map[string]interface{}{"connection_id": id})
	}
	if err != nil {
		return nil, pkgerrors.NewDatabaseError("get connection", err)
	}
	return c, nil
}

func (g *graphQueries) ListConnectionsFrom(ctx context.Context, nodeID string) ([]*graph.Connection, error) {
	return g.listConnections(ctx,
		`SELECT `+connectionColumns+` FROM connections WHERE from_node_id = ? ORDER BY order_index ASC, rowid ASC`, nodeID)
}

func (g *graphQueries) ListConnectionsTo(ctx context.Context, nodeID string) ([]*graph.Connection, error) {
	return g.listConnections(ctx,
		`SELECT `+connectionColumns+` FROM connections WHERE to_node_id = ? ORDER BY rowid ASC`, nodeID)
}

func (g *graphQueries) listConnections(ctx context.Context, query, nodeID string) ([]*graph.Connection, error) {
	rows, err := g.q.QueryContext(ctx, query, nodeID)
	if err != nil {
		return nil, pkgerrors.NewDatabaseError("list connections", err)
	}
	defer rows.Close()

	var conns []*graph.Connection
	for rows.Next() {
		c, err := scanConnection(rows)
		if err != nil {
			return nil, pkgerrors.NewDatabaseError("scan connection", err)
		}
		conns = append(conns, c)
	}
	if err := rows.Err(); err != nil {
		return nil, pkgerrors.NewDatabaseError("list connections", err)
	}
	return conns, nil
}

func (g *graphQueries) InsertNode(ctx context.Context, n *graph.Node) error {
	_, err := g.q.ExecContext(ctx, `INSERT INTO nodes (`+nodeColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		n.ID, n.Category, string(n.NodeType), n.Text, nullString(n.SemanticID), nullString(n.DisplayCategory),
		nullFloat(n.PositionX), nullFloat(n.PositionY), boolToInt(n.IsActive), formatTime(n.CreatedAt), formatTime(n.UpdatedAt))
	if isUniqueViolation(err) {
		return semanticIDConflict(n)
	}
	if err != nil {
		return pkgerrors.NewDatabaseError("insert node", err)
	}
	return nil
}

func (g *graphQueries) UpdateNode(ctx context.Context, n *graph.Node) error {
	res, err := g.q.ExecContext(ctx, `
		UPDATE nodes SET category = ?, node_type = ?, text = ?, semantic_id = ?, display_category = ?,
			position_x = ?, position_y = ?, is_active = ?, updated_at = ?
		WHERE id = ?`,
		n.Category, string(n.NodeType), n.Text, nullString(n.SemanticID), nullString(n.DisplayCategory),
		nullFloat(n.PositionX), nullFloat(n.PositionY), boolToInt(n.IsActive), formatTime(n.UpdatedAt), n.ID)
	if isUniqueViolation(err) {
		return semanticIDConflict(n)
	}
	if err != nil {
		return pkgerrors.NewDatabaseError("update node", err)
	}
	return expectOneRow(res, "node", n.ID)
}

func (g *graphQueries) DeleteNode(ctx context.Context, id string) error {
	res, err := g.q.ExecContext(ctx, `DELETE FROM nodes WHERE id = ?`, id)
	if isForeignKeyViolation(err) {
		return pkgerrors.NewGraphIntegrityError("node still has connections").
			WithDetails(map[string]interface{}{"node_id": id})
	}
	if err != nil {
		return pkgerrors.NewDatabaseError("delete node", err)
	}
	return expectOneRow(res, "node", id)
}

func (g *graphQueries) InsertConnection(ctx context.Context, c *graph.Connection) error {
	_, err := g.q.ExecContext(ctx, `INSERT INTO connections (`+connectionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.FromNodeID, c.ToNodeID, c.Label, c.OrderIndex, boolToInt(c.IsActive),
		formatTime(c.CreatedAt), formatTime(c.UpdatedAt))
	if isForeignKeyViolation(err) {
		return danglingEndpoint(c)
	}
	if err != nil {
		return pkgerrors.NewDatabaseError("insert connection", err)
	}
	return nil
}

func (g *graphQueries) UpdateConnection(ctx context.Context, c *graph.Connection) error {
	res, err := g.q.ExecContext(ctx, `
		UPDATE connections SET to_node_id = ?, label = ?, order_index = ?, is_active = ?, updated_at = ?
		WHERE id = ?`,
		c.ToNodeID, c.Label, c.OrderIndex, boolToInt(c.IsActive), formatTime(c.UpdatedAt), c.ID)
	if isForeignKeyViolation(err) {
		return danglingEndpoint(c)
	}
	if err != nil {
		return pkgerrors.NewDatabaseError("update connection", err)
	}
	return expectOneRow(res, "connection", c.ID)
}

func (g *graphQueries) DeleteConnection(ctx context.Context, id string) error {
	res, err := g.q.ExecContext(ctx, `DELETE FROM connections WHERE id = ?`, id)
	if err != nil {
		return pkgerrors.NewDatabaseError("delete connection", err)
	}
	return expectOneRow(res, "connection", id)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNode(s rowScanner) (*graph.Node, error) {
	var (
		n                    graph.Node
		nodeType             string
		semanticID, display  sql.NullString
		posX, posY           sql.NullFloat64
		active               int
		createdAt, updatedAt string
	)
	if err := s.Scan(&n.ID, &n.Category, &nodeType, &n.Text, &semanticID, &display,
		&posX, &posY, &active, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	var err error
	if n.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if n.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	n.NodeType = graph.NodeType(nodeType)
	n.SemanticID = stringPtr(semanticID)
	n.DisplayCategory = stringPtr(display)
	n.PositionX = floatPtr(posX)
	n.PositionY = floatPtr(posY)
	n.IsActive = active != 0
	return &n, nil
}

func scanConnection(s rowScanner) (*graph.Connection, error) {
	var (
		c                    graph.Connection
		active               int
		createdAt, updatedAt string
	)
	if err := s.Scan(&c.ID, &c.FromNodeID, &c.ToNodeID, &c.Label, &c.OrderIndex, &active,
		&createdAt, &updatedAt); err != nil {
		return nil, err
	}

	var err error
	if c.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if c.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	c.IsActive = active != 0
	return &c, nil
}

func expectOneRow(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return pkgerrors.NewDatabaseError("rows affected", err)
	}
	if n == 0 {
		return pkgerrors.NewNotFoundError(resource).WithDetails(map[string]interface{}{"id": id})
	}
	return nil
}

func semanticIDConflict(n *graph.Node) error {
	return pkgerrors.NewConflictError(fmt.Sprintf("semantic_id %q is already in use", n.SemanticKey())).
		WithCode("DUPLICATE_SEMANTIC_ID")
}

func danglingEndpoint(c *graph.Connection) error {
	return pkgerrors.NewGraphIntegrityError("connection endpoint does not exist").
		WithCode("DANGLING_ENDPOINT").
		WithDetails(map[string]interface{}{"from_node_id": c.FromNodeID, "to_node_id": c.ToNodeID})
}

package dynamodb

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.uber.org/zap"

	"github.com/Galaxyz7/equipment-troubleshooting-rust-react-sub001/internal/domain/graph"
	"github.com/Galaxyz7/equipment-troubleshooting-rust-react-sub001/internal/repository"
	pkgerrors "github.com/Galaxyz7/equipment-troubleshooting-rust-react-sub001/pkg/errors"
)

// GraphRepository implements repository.GraphRepository on DynamoDB
type GraphRepository struct {
	client API
	cfg    Config
	logger *zap.Logger
}

// NewGraphRepository creates a new GraphRepository
func NewGraphRepository(client API, cfg Config, logger *zap.Logger) *GraphRepository {
	return &GraphRepository{client: client, cfg: cfg, logger: logger}
}

var _ repository.GraphRepository = (*GraphRepository)(nil)

// WithTx buffers fn's writes and commits them atomically.
func (r *GraphRepository) WithTx(ctx context.Context, fn func(ctx context.Context, tx repository.GraphTx) error) error {
	uow := newUnitOfWork(r)
	if err := fn(ctx, uow); err != nil {
		return err
	}
	return uow.commit(ctx)
}

func (r *GraphRepository) getItem(ctx context.Context, pk, sk string, out interface{}) (bool, error) {
	res, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.cfg.TableName),
		Key:            key(pk, sk),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return false, mapError("get item", err)
	}
	if len(res.Item) == 0 {
		return false, nil
	}
	if err := attributevalue.UnmarshalMap(res.Item, out); err != nil {
		return false, pkgerrors.NewDatabaseError("unmarshal item", err)
	}
	return true, nil
}

func (r *GraphRepository) GetNode(ctx context.Context, id string) (*graph.Node, error) {
	item, err := r.getNodeItem(ctx, id)
	if err != nil {
		return nil, err
	}
	return item.toDomain(), nil
}

func (r *GraphRepository) getNodeItem(ctx context.Context, id string) (*nodeItem, error) {
	var item nodeItem
	found, err := r.getItem(ctx, nodePK(id), skMeta, &item)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, pkgerrors.NewNotFoundError("node").WithDetails(map[string]interface{}{"node_id": id})
	}
	return &item, nil
}

func (r *GraphRepository) FindNodeBySemanticID(ctx context.Context, semanticID string) (*graph.Node, error) {
	var lock semanticLockItem
	found, err := r.getItem(ctx, semanticPK(semanticID), skLock, &lock)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, pkgerrors.NewNotFoundError("node").WithDetails(map[string]interface{}{"semantic_id": semanticID})
	}
	return r.GetNode(ctx, lock.NodeID)
}

// query runs a paginated query and unmarshals every page into out.
func (r *GraphRepository) query(ctx context.Context, index string, keyCond expression.KeyConditionBuilder, filter *expression.ConditionBuilder, out interface{}) error {
	b := expression.NewBuilder().WithKeyCondition(keyCond)
	if filter != nil {
		b = b.WithFilter(*filter)
	}
	expr, err := b.Build()
	if err != nil {
		return pkgerrors.NewInternalError("build query expression").WithCause(err)
	}

	input := &dynamodb.QueryInput{
		TableName:                 aws.String(r.cfg.TableName),
		KeyConditionExpression:    expr.KeyCondition(),
		FilterExpression:          expr.Filter(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ScanIndexForward:          aws.Bool(true),
	}
	if index != "" {
		input.IndexName = aws.String(index)
	}

	var items []map[string]types.AttributeValue
	paginator := dynamodb.NewQueryPaginator(r.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return mapError("query", err)
		}
		items = append(items, page.Items...)
	}

	if err := attributevalue.UnmarshalListOfMaps(items, out); err != nil {
		return pkgerrors.NewDatabaseError("unmarshal items", err)
	}
	return nil
}

func (r *GraphRepository) ListNodesByCategory(ctx context.Context, category string) ([]*graph.Node, error) {
	var items []nodeItem
	keyCond := expression.Key("GSI1PK").Equal(expression.Value(categoryPK(category))).
		And(expression.Key("GSI1SK").BeginsWith("NODE#"))
	if err := r.query(ctx, r.cfg.IndexName, keyCond, nil, &items); err != nil {
		return nil, err
	}

	nodes := make([]*graph.Node, 0, len(items))
	for _, item := range items {
		nodes = append(nodes, item.toDomain())
	}
	return nodes, nil
}

func (r *GraphRepository) ListCategories(ctx context.Context) ([]string, error) {
	var items []categoryItem
	keyCond := expression.Key("PK").Equal(expression.Value(categoriesPK))
	filter := expression.Name("NodeCount").GreaterThan(expression.Value(0))
	if err := r.query(ctx, "", keyCond, &filter, &items); err != nil {
		return nil, err
	}

	categories := make([]string, 0, len(items))
	for _, item := range items {
		categories = append(categories, item.Category)
	}
	return categories, nil
}

func (r *GraphRepository) GetConnection(ctx context.Context, id string) (*graph.Connection, error) {
	var item connectionItem
	found, err := r.getItem(ctx, connectionPK(id), skMeta, &item)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, pkgerrors.NewNotFoundError("connection").WithDetails(map[string]interface{}{"connection_id": id})
	}
	return item.toDomain(), nil
}

func (r *GraphRepository) ListConnectionsFrom(ctx context.Context, nodeID string) ([]*graph.Connection, error) {
	conns, err := r.listConnections(ctx, r.cfg.IndexName, expression.Key("GSI1PK").Equal(expression.Value(fromPK(nodeID))))
	if err != nil {
		return nil, err
	}
	// The index sort key is the creation time, so the stable sort keeps
	// creation order among equal order indexes.
	graph.SortConnections(conns)
	return conns, nil
}

func (r *GraphRepository) ListConnectionsTo(ctx context.Context, nodeID string) ([]*graph.Connection, error) {
	return r.listConnections(ctx, r.cfg.ReverseIndexName, expression.Key("GSI2PK").Equal(expression.Value(toPK(nodeID))))
}

func (r *GraphRepository) listConnections(ctx context.Context, index string, keyCond expression.KeyConditionBuilder) ([]*graph.Connection, error) {
	var items []connectionItem
	if err := r.query(ctx, index, keyCond, nil, &items); err != nil {
		return nil, err
	}
	conns := make([]*graph.Connection, 0, len(items))
	for _, item := range items {
		conns = append(conns, item.toDomain())
	}
	return conns, nil
}

// Counts scans the table. It is meant for admin dashboards, not hot paths.
func (r *GraphRepository) Counts(ctx context.Context) (repository.GraphCounts, error) {
	var (
		c   repository.GraphCounts
		err error
	)
	entity := func(t string) expression.ConditionBuilder {
		return expression.Name("EntityType").Equal(expression.Value(t))
	}
	active := expression.Name("IsActive").Equal(expression.Value(true))

	if c.Nodes, err = r.count(ctx, entity(entityNode)); err != nil {
		return c, err
	}
	if c.ActiveNodes, err = r.count(ctx, entity(entityNode).And(active)); err != nil {
		return c, err
	}
	if c.Connections, err = r.count(ctx, entity(entityConnection)); err != nil {
		return c, err
	}
	if c.ActiveConnections, err = r.count(ctx, entity(entityConnection).And(active)); err != nil {
		return c, err
	}
	categories, err := r.ListCategories(ctx)
	if err != nil {
		return c, err
	}
	c.Categories = len(categories)
	return c, nil
}

func (r *GraphRepository) count(ctx context.Context, filter expression.ConditionBuilder) (int, error) {
	expr, err := expression.NewBuilder().WithFilter(filter).Build()
	if err != nil {
		return 0, pkgerrors.NewInternalError("build scan expression").WithCause(err)
	}

	total := 0
	paginator := dynamodb.NewScanPaginator(r.client, &dynamodb.ScanInput{
		TableName:                 aws.String(r.cfg.TableName),
		FilterExpression:          expr.Filter(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		Select:                    types.SelectCount,
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return 0, mapError("scan", err)
		}
		total += int(page.Count)
	}
	return total, nil
}

// Ping checks the table exists and is reachable.
func (r *GraphRepository) Ping(ctx context.Context) error {
	_, err := r.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(r.cfg.TableName)})
	if err != nil {
		return pkgerrors.NewUnavailableError("dynamodb").WithCause(err)
	}
	return nil
}

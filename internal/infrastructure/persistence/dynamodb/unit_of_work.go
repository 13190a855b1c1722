package dynamodb

import (
	"context"
	"errors"
	"fmt"
	"sort"

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

// OperationType defines the type of transactional operation
type OperationType string

const (
	OperationTypePut            OperationType = "PUT"
	OperationTypeUpdate         OperationType = "UPDATE"
	OperationTypeDelete         OperationType = "DELETE"
	OperationTypeConditionCheck OperationType = "CONDITION_CHECK"
)

// Operation is one buffered write of a unit of work.
type Operation struct {
	Type      OperationType
	Item      interface{}
	Key       map[string]types.AttributeValue
	Condition *expression.ConditionBuilder
	Update    *expression.UpdateBuilder
	// OnConditionFailed builds the error reported when this operation's
	// condition cancels the transaction.
	OnConditionFailed func() error
}

// unitOfWork buffers graph writes and commits them with TransactWriteItems.
// Reads go straight to the table and do not observe buffered writes.
//
// Every node row carries EdgeCount, the number of connections touching it.
// Connection writes adjust the counters of their endpoints in the same
// transaction, and a node delete is conditioned on the count matching the
// connections the unit removed. The GSIs used to find those connections are
// eventually consistent; the counter is not.
type unitOfWork struct {
	*GraphRepository
	ops []Operation
	// categoryDelta is folded into one counter update per category at commit;
	// a transaction may not touch the same item twice.
	categoryDelta map[string]int
	// nodes collects every node row the unit writes, in first-touch order,
	// so each row gets exactly one operation at commit.
	nodes     map[string]*nodeWrite
	nodeOrder []string
}

// nodeWrite is the pending state of one node row.
type nodeWrite struct {
	id string
	// loaded is set once the row was read; edges is its EdgeCount then.
	loaded bool
	edges  int
	put    *nodeItem
	insert bool
	delete bool
	// edgeDelta is the net change of connections touching the node.
	edgeDelta int
	// mustExist is set when a new connection points at the node.
	mustExist bool
	conn      *graph.Connection
}

var _ repository.GraphTx = (*unitOfWork)(nil)

func newUnitOfWork(repo *GraphRepository) *unitOfWork {
	return &unitOfWork{
		GraphRepository: repo,
		categoryDelta:   make(map[string]int),
		nodes:           make(map[string]*nodeWrite),
	}
}

func (u *unitOfWork) add(op Operation) {
	u.ops = append(u.ops, op)
}

func (u *unitOfWork) node(id string) *nodeWrite {
	w, ok := u.nodes[id]
	if !ok {
		w = &nodeWrite{id: id}
		u.nodes[id] = w
		u.nodeOrder = append(u.nodeOrder, id)
	}
	return w
}

// load reads the stored row once per unit.
func (u *unitOfWork) load(ctx context.Context, id string) (*nodeWrite, *nodeItem, error) {
	item, err := u.getNodeItem(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	w := u.node(id)
	if !w.loaded {
		w.loaded = true
		w.edges = item.EdgeCount
	}
	return w, item, nil
}

func (u *unitOfWork) bumpEdges(nodeID string, delta int, c *graph.Connection) {
	w := u.node(nodeID)
	w.edgeDelta += delta
	if delta > 0 {
		w.mustExist = true
		w.conn = c
	}
}

func notExists() *expression.ConditionBuilder {
	c := expression.AttributeNotExists(expression.Name("PK"))
	return &c
}

func exists() *expression.ConditionBuilder {
	c := expression.AttributeExists(expression.Name("PK"))
	return &c
}

// edgeCountIs matches rows whose EdgeCount equals n. Rows written before the
// counter existed have no attribute and count as zero.
func edgeCountIs(n int) expression.ConditionBuilder {
	c := expression.Name("EdgeCount").Equal(expression.Value(n))
	if n == 0 {
		c = expression.AttributeNotExists(expression.Name("EdgeCount")).Or(c)
	}
	return c
}

func (u *unitOfWork) InsertNode(ctx context.Context, n *graph.Node) error {
	item := toNodeItem(n)
	w := u.node(n.ID)
	w.put = &item
	w.insert = true
	if n.SemanticID != nil {
		u.putSemanticLock(*n.SemanticID, n.ID)
	}
	u.categoryDelta[n.Category]++
	return nil
}

func (u *unitOfWork) UpdateNode(ctx context.Context, n *graph.Node) error {
	w, stored, err := u.load(ctx, n.ID)
	if err != nil {
		return err
	}
	current := stored.toDomain()

	item := toNodeItem(n)
	w.put = &item

	if current.SemanticKey() != n.SemanticKey() {
		if current.SemanticID != nil {
			u.add(Operation{Type: OperationTypeDelete, Key: key(semanticPK(*current.SemanticID), skLock)})
		}
		if n.SemanticID != nil {
			u.putSemanticLock(*n.SemanticID, n.ID)
		}
	}
	if current.Category != n.Category {
		u.categoryDelta[current.Category]--
		u.categoryDelta[n.Category]++
	}
	return nil
}

// DeleteNode must follow the deletion of every connection touching the
// node in the same unit.
func (u *unitOfWork) DeleteNode(ctx context.Context, id string) error {
	w, stored, err := u.load(ctx, id)
	if err != nil {
		return err
	}
	if remaining := w.edges + w.edgeDelta; remaining != 0 {
		return pkgerrors.NewConflictError("node still has connections that were not removed; retry the delete").
			WithCode("EDGE_COUNT_MISMATCH").
			WithDetails(map[string]interface{}{"node_id": id, "remaining_connections": remaining})
	}

	w.delete = true
	if stored.SemanticID != nil {
		u.add(Operation{Type: OperationTypeDelete, Key: key(semanticPK(*stored.SemanticID), skLock)})
	}
	u.categoryDelta[stored.Category]--
	return nil
}

func (u *unitOfWork) putSemanticLock(sid, nodeID string) {
	u.add(Operation{
		Type:      OperationTypePut,
		Item:      semanticLockItem{PK: semanticPK(sid), SK: skLock, EntityType: entitySemantic, NodeID: nodeID},
		Condition: notExists(),
		OnConditionFailed: func() error {
			return pkgerrors.NewConflictError(fmt.Sprintf("semantic_id %q is already in use", sid)).
				WithCode("DUPLICATE_SEMANTIC_ID")
		},
	})
}

func danglingEndpoint(c *graph.Connection) func() error {
	return func() error {
		err := pkgerrors.NewGraphIntegrityError("connection endpoint does not exist").WithCode("DANGLING_ENDPOINT")
		if c != nil {
			err = err.WithDetails(map[string]interface{}{"from_node_id": c.FromNodeID, "to_node_id": c.ToNodeID})
		}
		return err
	}
}

func (u *unitOfWork) InsertConnection(ctx context.Context, c *graph.Connection) error {
	u.bumpEdges(c.FromNodeID, 1, c)
	u.bumpEdges(c.ToNodeID, 1, c)
	u.add(Operation{Type: OperationTypePut, Item: toConnectionItem(c), Condition: notExists(),
		OnConditionFailed: func() error { return pkgerrors.NewConflictError("connection already exists") }})
	return nil
}

func (u *unitOfWork) UpdateConnection(ctx context.Context, c *graph.Connection) error {
	current, err := u.GraphRepository.GetConnection(ctx, c.ID)
	if err != nil {
		return err
	}
	if current.ToNodeID != c.ToNodeID {
		u.bumpEdges(current.ToNodeID, -1, current)
		u.bumpEdges(c.ToNodeID, 1, c)
	}
	u.add(Operation{Type: OperationTypePut, Item: toConnectionItem(c), Condition: exists(),
		OnConditionFailed: func() error { return pkgerrors.NewNotFoundError("connection") }})
	return nil
}

func (u *unitOfWork) DeleteConnection(ctx context.Context, id string) error {
	current, err := u.GraphRepository.GetConnection(ctx, id)
	if err != nil {
		return err
	}
	u.bumpEdges(current.FromNodeID, -1, current)
	u.bumpEdges(current.ToNodeID, -1, current)
	u.add(Operation{Type: OperationTypeDelete, Key: key(connectionPK(id), skMeta), Condition: exists(),
		OnConditionFailed: func() error { return pkgerrors.NewNotFoundError("connection") }})
	return nil
}

// nodeOperations turns the pending node rows into one operation each.
func (u *unitOfWork) nodeOperations() {
	for _, id := range u.nodeOrder {
		w := u.nodes[id]
		pk := key(nodePK(id), skMeta)

		switch {
		case w.delete:
			cond := exists().And(edgeCountIs(w.edges))
			u.add(Operation{Type: OperationTypeDelete, Key: pk, Condition: &cond,
				OnConditionFailed: func() error {
					return pkgerrors.NewConflictError("node connections changed during the delete; retry").
						WithCode("EDGE_COUNT_MISMATCH").
						WithDetails(map[string]interface{}{"node_id": id})
				}})

		case w.insert:
			w.put.EdgeCount = w.edgeDelta
			u.add(Operation{Type: OperationTypePut, Item: *w.put, Condition: notExists(),
				OnConditionFailed: func() error { return pkgerrors.NewConflictError("node already exists") }})

		case w.put != nil:
			w.put.EdgeCount = w.edges + w.edgeDelta
			cond := exists().And(edgeCountIs(w.edges))
			u.add(Operation{Type: OperationTypePut, Item: *w.put, Condition: &cond,
				OnConditionFailed: func() error {
					return pkgerrors.NewConflictError("node was deleted or its connections changed concurrently").
						WithDetails(map[string]interface{}{"node_id": id})
				}})

		case w.edgeDelta != 0:
			update := expression.Add(expression.Name("EdgeCount"), expression.Value(w.edgeDelta))
			u.add(Operation{Type: OperationTypeUpdate, Key: pk, Update: &update, Condition: exists(),
				OnConditionFailed: danglingEndpoint(w.conn)})

		case w.mustExist:
			u.add(Operation{Type: OperationTypeConditionCheck, Key: pk, Condition: exists(),
				OnConditionFailed: danglingEndpoint(w.conn)})
		}
	}
}

// commit flushes the buffered operations in one TransactWriteItems call.
func (u *unitOfWork) commit(ctx context.Context) error {
	u.nodeOperations()

	categories := make([]string, 0, len(u.categoryDelta))
	for c, d := range u.categoryDelta {
		if d != 0 {
			categories = append(categories, c)
		}
	}
	sort.Strings(categories)
	for _, c := range categories {
		update := expression.Add(expression.Name("NodeCount"), expression.Value(u.categoryDelta[c])).
			Set(expression.Name("Category"), expression.Value(c)).
			Set(expression.Name("EntityType"), expression.Value(entityCategory))
		u.add(Operation{Type: OperationTypeUpdate, Key: key(categoriesPK, categoryPK(c)), Update: &update})
	}

	if len(u.ops) == 0 {
		return nil
	}
	if len(u.ops) > maxTransactItems {
		return pkgerrors.NewValidationError(fmt.Sprintf("transaction has %d writes, the limit is %d", len(u.ops), maxTransactItems))
	}

	items := make([]types.TransactWriteItem, 0, len(u.ops))
	for _, op := range u.ops {
		item, err := u.buildTransactItem(op)
		if err != nil {
			return err
		}
		items = append(items, *item)
	}

	_, err := u.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items})
	if err == nil {
		return nil
	}

	var canceled *types.TransactionCanceledException
	if errors.As(err, &canceled) {
		for i, reason := range canceled.CancellationReasons {
			if aws.ToString(reason.Code) == "ConditionalCheckFailed" && i < len(u.ops) && u.ops[i].OnConditionFailed != nil {
				return u.ops[i].OnConditionFailed()
			}
		}
		u.logger.Warn("Transaction canceled", zap.Error(err), zap.Int("operations", len(u.ops)))
		return pkgerrors.NewConflictError("transaction was canceled").WithCause(err)
	}
	return mapError("transact write", err)
}

func (u *unitOfWork) buildTransactItem(op Operation) (*types.TransactWriteItem, error) {
	table := aws.String(u.cfg.TableName)

	var expr *expression.Expression
	if op.Condition != nil || op.Update != nil {
		b := expression.NewBuilder()
		if op.Condition != nil {
			b = b.WithCondition(*op.Condition)
		}
		if op.Update != nil {
			b = b.WithUpdate(*op.Update)
		}
		built, err := b.Build()
		if err != nil {
			return nil, pkgerrors.NewInternalError("build expression").WithCause(err)
		}
		expr = &built
	}
	names := func() map[string]string {
		if expr == nil {
			return nil
		}
		return expr.Names()
	}
	values := func() map[string]types.AttributeValue {
		if expr == nil {
			return nil
		}
		return expr.Values()
	}
	condition := func() *string {
		if expr == nil || op.Condition == nil {
			return nil
		}
		return expr.Condition()
	}

	switch op.Type {
	case OperationTypePut:
		av, err := attributevalue.MarshalMap(op.Item)
		if err != nil {
			return nil, pkgerrors.NewInternalError("marshal item").WithCause(err)
		}
		return &types.TransactWriteItem{Put: &types.Put{
			TableName: table, Item: av, ConditionExpression: condition(),
			ExpressionAttributeNames: names(), ExpressionAttributeValues: values(),
		}}, nil
	case OperationTypeDelete:
		return &types.TransactWriteItem{Delete: &types.Delete{
			TableName: table, Key: op.Key, ConditionExpression: condition(),
			ExpressionAttributeNames: names(), ExpressionAttributeValues: values(),
		}}, nil
	case OperationTypeUpdate:
		if expr == nil || op.Update == nil {
			return nil, pkgerrors.NewInternalError("update operation without update expression")
		}
		return &types.TransactWriteItem{Update: &types.Update{
			TableName: table, Key: op.Key, UpdateExpression: expr.Update(), ConditionExpression: condition(),
			ExpressionAttributeNames: names(), ExpressionAttributeValues: values(),
		}}, nil
	case OperationTypeConditionCheck:
		if condition() == nil {
			return nil, pkgerrors.NewInternalError("condition check without condition")
		}
		return &types.TransactWriteItem{ConditionCheck: &types.ConditionCheck{
			TableName: table, Key: op.Key, ConditionExpression: condition(),
			ExpressionAttributeNames: names(), ExpressionAttributeValues: values(),
		}}, nil
	default:
		return nil, pkgerrors.NewInternalError(fmt.Sprintf("unsupported operation type: %s", op.Type))
	}
}

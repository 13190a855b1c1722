package dynamodb

import (
	"context"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.uber.org/zap"

	"github.com/Galaxyz7/equipment-troubleshooting-rust-react-sub001/internal/domain/session"
	"github.com/Galaxyz7/equipment-troubleshooting-rust-react-sub001/internal/repository"
	pkgerrors "github.com/Galaxyz7/equipment-troubleshooting-rust-react-sub001/pkg/errors"
)

// SessionRepository implements repository.SessionRepository on DynamoDB. Steps
// are stored as a list attribute on the session item.
type SessionRepository struct {
	graph *GraphRepository
}

// NewSessionRepository creates a session repository sharing the graph table.
func NewSessionRepository(client API, cfg Config, logger *zap.Logger) *SessionRepository {
	return &SessionRepository{graph: NewGraphRepository(client, cfg, logger)}
}

var _ repository.SessionRepository = (*SessionRepository)(nil)

func (r *SessionRepository) put(ctx context.Context, s *session.Session, cond expression.ConditionBuilder) error {
	av, err := attributevalue.MarshalMap(toSessionItem(s))
	if err != nil {
		return pkgerrors.NewInternalError("marshal session").WithCause(err)
	}
	expr, err := expression.NewBuilder().WithCondition(cond).Build()
	if err != nil {
		return pkgerrors.NewInternalError("build condition").WithCause(err)
	}

	_, err = r.graph.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                 aws.String(r.graph.cfg.TableName),
		Item:                      av,
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	return err
}

func (r *SessionRepository) Create(ctx context.Context, s *session.Session) error {
	err := r.put(ctx, s, expression.AttributeNotExists(expression.Name("PK")))
	if isConditionFailed(err) {
		return pkgerrors.NewConflictError("session already exists")
	}
	return mapError("put session", err)
}

func (r *SessionRepository) Get(ctx context.Context, id string) (*session.Session, error) {
	var item sessionItem
	found, err := r.graph.getItem(ctx, sessionPK(id), skMeta, &item)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, pkgerrors.NewNotFoundError("session").WithDetails(map[string]interface{}{"session_id": id})
	}
	return item.toDomain(), nil
}

func (r *SessionRepository) Update(ctx context.Context, s *session.Session) error {
	next := s.Clone()
	next.Version = s.Version + 1

	err := r.put(ctx, next, expression.Name("Version").Equal(expression.Value(s.Version)))
	if isConditionFailed(err) {
		if _, getErr := r.Get(ctx, s.ID); getErr != nil {
			return getErr
		}
		return pkgerrors.NewConflictError("session was modified concurrently").WithCode("STALE_SESSION")
	}
	if err != nil {
		return mapError("update session", err)
	}

	s.Version = next.Version
	return nil
}

func (r *SessionRepository) ListIdleActive(ctx context.Context, cutoff time.Time, limit int) ([]*session.Session, error) {
	if limit <= 0 {
		limit = 100
	}
	expr, err := expression.NewBuilder().WithKeyCondition(
		expression.Key("GSI1PK").Equal(expression.Value(sessionStatus(session.StatusActive))).
			And(expression.Key("GSI1SK").LessThan(expression.Value(formatTime(cutoff)))),
	).Build()
	if err != nil {
		return nil, pkgerrors.NewInternalError("build query expression").WithCause(err)
	}

	res, err := r.graph.client.Query(ctx, &dynamodb.QueryInput{
		TableName:                 aws.String(r.graph.cfg.TableName),
		IndexName:                 aws.String(r.graph.cfg.IndexName),
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		Limit:                     aws.Int32(int32(limit)),
	})
	if err != nil {
		return nil, mapError("query idle sessions", err)
	}

	var items []sessionItem
	if err := attributevalue.UnmarshalListOfMaps(res.Items, &items); err != nil {
		return nil, pkgerrors.NewDatabaseError("unmarshal sessions", err)
	}
	out := make([]*session.Session, 0, len(items))
	for _, item := range items {
		out = append(out, item.toDomain())
	}
	return out, nil
}

func (r *SessionRepository) Counts(ctx context.Context) (repository.SessionCounts, error) {
	var c repository.SessionCounts
	for _, status := range []session.Status{session.StatusActive, session.StatusCompleted, session.StatusAbandoned} {
		n, err := r.countStatus(ctx, status)
		if err != nil {
			return c, err
		}
		switch status {
		case session.StatusActive:
			c.Active = n
		case session.StatusCompleted:
			c.Completed = n
		case session.StatusAbandoned:
			c.Abandoned = n
		}
	}
	c.Total = c.Active + c.Completed + c.Abandoned
	return c, nil
}

func (r *SessionRepository) countStatus(ctx context.Context, status session.Status) (int, error) {
	expr, err := expression.NewBuilder().WithKeyCondition(
		expression.Key("GSI1PK").Equal(expression.Value(sessionStatus(status))),
	).Build()
	if err != nil {
		return 0, pkgerrors.NewInternalError("build query expression").WithCause(err)
	}

	total := 0
	paginator := dynamodb.NewQueryPaginator(r.graph.client, &dynamodb.QueryInput{
		TableName:                 aws.String(r.graph.cfg.TableName),
		IndexName:                 aws.String(r.graph.cfg.IndexName),
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		Select:                    types.SelectCount,
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return 0, mapError("count sessions", err)
		}
		total += int(page.Count)
	}
	return total, nil
}

// matching reads the status partitions the filter allows and applies the
// rest of the filter in memory.
func (r *SessionRepository) matching(ctx context.Context, filter repository.SessionFilter) ([]*session.Session, error) {
	statuses := []session.Status{session.StatusActive, session.StatusCompleted, session.StatusAbandoned}
	if filter.Status != "" {
		statuses = []session.Status{filter.Status}
	}

	var out []*session.Session
	for _, status := range statuses {
		var items []sessionItem
		keyCond := expression.Key("GSI1PK").Equal(expression.Value(sessionStatus(status)))
		if err := r.graph.query(ctx, r.graph.cfg.IndexName, keyCond, nil, &items); err != nil {
			return nil, err
		}
		for _, item := range items {
			if s := item.toDomain(); filter.Matches(s) {
				out = append(out, s)
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out, nil
}

func (r *SessionRepository) List(ctx context.Context, filter repository.SessionFilter, page repository.Page) ([]*session.Session, int, error) {
	all, err := r.matching(ctx, filter)
	if err != nil {
		return nil, 0, err
	}
	start := min(page.Offset(), len(all))
	end := min(start+page.Size, len(all))
	return append([]*session.Session{}, all[start:end]...), len(all), nil
}

func (r *SessionRepository) Delete(ctx context.Context, filter repository.SessionFilter) (int, error) {
	all, err := r.matching(ctx, filter)
	if err != nil {
		return 0, err
	}

	deleted := 0
	for start := 0; start < len(all); start += maxTransactItems {
		end := min(start+maxTransactItems, len(all))
		items := make([]types.TransactWriteItem, 0, end-start)
		for _, s := range all[start:end] {
			items = append(items, types.TransactWriteItem{Delete: &types.Delete{
				TableName: aws.String(r.graph.cfg.TableName),
				Key:       key(sessionPK(s.ID), skMeta),
			}})
		}
		if _, err := r.graph.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items}); err != nil {
			return deleted, mapError("delete sessions", err)
		}
		deleted += len(items)
	}
	r.graph.logger.Info("Sessions deleted", zap.Int("count", deleted))
	return deleted, nil
}

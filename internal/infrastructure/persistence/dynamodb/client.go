// Package dynamodb stores the graph and sessions in a single DynamoDB table.
//
// Key layout:
//
//	NODE#<id>        / META               node rows with EdgeCount, GSI1 = CATEGORY#<category>
//	SEMANTIC#<sid>   / LOCK               uniqueness guard for semantic ids
//	CONN#<id>        / META               connections, GSI1 = FROM#<id>, GSI2 = TO#<id>
//	CATEGORIES       / CATEGORY#<name>    per-category node counters
//	SESSION#<id>     / META               sessions, GSI1 = SESSION_STATUS#<status>
package dynamodb

import (
	"context"
	"errors"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"

	pkgerrors "github.com/Galaxyz7/equipment-troubleshooting-rust-react-sub001/pkg/errors"
)

// API is the subset of the DynamoDB client used by the repositories.
type API interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	TransactWriteItems(ctx context.Context, params *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
	DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
}

var _ API = (*dynamodb.Client)(nil)

// Config holds table settings.
type Config struct {
	TableName string
	// IndexName is the first global secondary index (GSI1PK/GSI1SK).
	IndexName string
	// ReverseIndexName is the second global secondary index (GSI2PK/GSI2SK).
	ReverseIndexName string
}

// DefaultConfig returns the conventional index names for table.
func DefaultConfig(table string) Config {
	return Config{TableName: table, IndexName: "GSI1", ReverseIndexName: "GSI2"}
}

const (
	maxTransactItems = 100
	timeLayout       = "2006-01-02T15:04:05.000000000Z"
)

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// mapError converts SDK failures into typed application errors.
func mapError(operation string, err error) error {
	if err == nil {
		return nil
	}
	if pkgerrors.IsAppError(err) {
		return err
	}

	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return pkgerrors.NewConflictError("conditional check failed").WithCause(err)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ProvisionedThroughputExceededException", "ThrottlingException", "RequestLimitExceeded":
			return pkgerrors.NewUnavailableError("dynamodb").WithCause(err).WithCode(apiErr.ErrorCode())
		case "ResourceNotFoundException":
			return pkgerrors.NewDatabaseError(operation, err).WithCode("TABLE_NOT_FOUND")
		}
	}
	return pkgerrors.NewDatabaseError(operation, err)
}

func isConditionFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}

package eventbridge

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/Galaxyz7/equipment-troubleshooting-rust-react-sub001/internal/domain/events"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type mockAPI struct {
	mock.Mock
}

func (m *mockAPI) PutEvents(ctx context.Context, params *eventbridge.PutEventsInput, _ ...func(*eventbridge.Options)) (*eventbridge.PutEventsOutput, error) {
	args := m.Called(ctx, params)
	out, _ := args.Get(0).(*eventbridge.PutEventsOutput)
	return out, args.Error(1)
}

func changes(n int) []events.DomainEvent {
	out := make([]events.DomainEvent, n)
	for i := range out {
		out[i] = events.NewGraphChanged(events.NodeUpdated, fmt.Sprintf("node-%d", i), []string{"brush"}, time.Now())
	}
	return out
}

func TestPublisher_BatchesByTen(t *testing.T) {
	api := new(mockAPI)
	api.On("PutEvents", mock.Anything, mock.MatchedBy(func(in *eventbridge.PutEventsInput) bool {
		return len(in.Entries) == 10
	})).Return(&eventbridge.PutEventsOutput{}, nil).Once()
	api.On("PutEvents", mock.Anything, mock.MatchedBy(func(in *eventbridge.PutEventsInput) bool {
		return len(in.Entries) == 3
	})).Return(&eventbridge.PutEventsOutput{}, nil).Once()

	p := NewPublisher(api, "graph-bus", zap.NewNop())

	require.NoError(t, p.Publish(context.Background(), changes(13)...))
	api.AssertExpectations(t)
}

func TestPublisher_EntryShape(t *testing.T) {
	api := new(mockAPI)
	var captured *eventbridge.PutEventsInput
	api.On("PutEvents", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { captured = args.Get(1).(*eventbridge.PutEventsInput) }).
		Return(&eventbridge.PutEventsOutput{}, nil)

	p := NewPublisher(api, "graph-bus", zap.NewNop())
	require.NoError(t, p.Handle(context.Background(), changes(1)[0]))

	require.Len(t, captured.Entries, 1)
	entry := captured.Entries[0]
	assert.Equal(t, "graph-bus", aws.ToString(entry.EventBusName))
	assert.Equal(t, Source, aws.ToString(entry.Source))
	assert.Equal(t, events.NodeUpdated, aws.ToString(entry.DetailType))
	assert.Contains(t, aws.ToString(entry.Detail), `"categories":["brush"]`)
}

func TestPublisher_FailedEntries(t *testing.T) {
	api := new(mockAPI)
	api.On("PutEvents", mock.Anything, mock.Anything).Return(&eventbridge.PutEventsOutput{
		FailedEntryCount: 1,
		Entries: []types.PutEventsResultEntry{
			{EventId: aws.String("ok")},
			{ErrorCode: aws.String("InternalFailure"), ErrorMessage: aws.String("boom")},
		},
	}, nil)

	p := NewPublisher(api, "graph-bus", zap.NewNop())
	err := p.Publish(context.Background(), changes(2)...)

	assert.EqualError(t, err, "1 events failed to publish")
}

func TestPublisher_ClientError(t *testing.T) {
	api := new(mockAPI)
	api.On("PutEvents", mock.Anything, mock.Anything).Return(nil, errors.New("network"))

	p := NewPublisher(api, "graph-bus", zap.NewNop())
	err := p.Publish(context.Background(), changes(1)...)

	assert.ErrorContains(t, err, "network")
}

func TestPublisher_NoEvents(t *testing.T) {
	api := new(mockAPI)
	p := NewPublisher(api, "graph-bus", zap.NewNop())

	assert.NoError(t, p.Publish(context.Background()))
	api.AssertNotCalled(t, "PutEvents", mock.Anything, mock.Anything)
}

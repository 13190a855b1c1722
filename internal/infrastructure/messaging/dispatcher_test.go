package messaging

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Galaxyz7/equipment-troubleshooting-rust-react-sub001/internal/domain/events"
	"github.com/Galaxyz7/equipment-troubleshooting-rust-react-sub001/internal/infrastructure/cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestDispatcher_InvokesHandlersInOrder(t *testing.T) {
	d := NewDispatcher(zap.NewNop())
	var order []string
	d.Register("first", HandlerFunc(func(context.Context, events.DomainEvent) error {
		order = append(order, "first")
		return nil
	}))
	d.Register("second", HandlerFunc(func(context.Context, events.DomainEvent) error {
		order = append(order, "second")
		return nil
	}))

	ev := events.NewGraphChanged(events.NodeCreated, "n1", []string{"brush"}, time.Now())
	require.NoError(t, d.Publish(context.Background(), ev))

	assert.Equal(t, []string{"first", "second"}, order)
}

func TestDispatcher_HandlerFailureDoesNotStopOthers(t *testing.T) {
	d := NewDispatcher(zap.NewNop())
	called := false
	d.Register("broken", HandlerFunc(func(context.Context, events.DomainEvent) error {
		return errors.New("bus unreachable")
	}))
	d.Register("panicky", HandlerFunc(func(context.Context, events.DomainEvent) error {
		panic("boom")
	}))
	d.Register("ok", HandlerFunc(func(context.Context, events.DomainEvent) error {
		called = true
		return nil
	}))

	err := d.Publish(context.Background(), events.NewGraphChanged(events.NodeDeleted, "n1", nil, time.Now()))

	assert.NoError(t, err)
	assert.True(t, called)
}

func TestCacheInvalidator_DropsCategoriesAndIssueList(t *testing.T) {
	c := cache.New(cache.DefaultConfig(), zap.NewNop())
	ctx := context.Background()
	calls := map[string]int{}
	load := func(name string) cache.Loader {
		return func(context.Context) (interface{}, error) {
			calls[name]++
			return name, nil
		}
	}
	warm := func() {
		_, _ = c.Get(ctx, cache.ViewFlattenedTree, "brush", load("brush"))
		_, _ = c.Get(ctx, cache.ViewFlattenedTree, "pump", load("pump"))
		_, _ = c.Get(ctx, cache.ViewIssueList, cache.GlobalScope, load("issues"))
	}
	warm()

	d := NewDispatcher(zap.NewNop())
	d.Register("cache", NewCacheInvalidator(c, zap.NewNop()))
	require.NoError(t, d.Publish(ctx, events.NewGraphChanged(events.ConnectionCreated, "c1", []string{"brush"}, time.Now())))

	warm()
	assert.Equal(t, 2, calls["brush"])
	assert.Equal(t, 1, calls["pump"])
	assert.Equal(t, 2, calls["issues"])
}

func TestCacheInvalidator_IgnoresOtherEvents(t *testing.T) {
	h := NewCacheInvalidator(cache.New(cache.DefaultConfig(), zap.NewNop()), zap.NewNop())

	err := h.Handle(context.Background(), events.BaseEvent{EventType: "other"})

	assert.NoError(t, err)
}

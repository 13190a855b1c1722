package sessions_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Galaxyz7/equipment-troubleshooting-rust-react-sub001/internal/application/apptest"
	"github.com/Galaxyz7/equipment-troubleshooting-rust-react-sub001/internal/application/sessions"
	"github.com/Galaxyz7/equipment-troubleshooting-rust-react-sub001/internal/domain/session"
	"github.com/Galaxyz7/equipment-troubleshooting-rust-react-sub001/internal/repository"
	pkgerrors "github.com/Galaxyz7/equipment-troubleshooting-rust-react-sub001/pkg/errors"
)

func TestListSessions_FiltersAndPages(t *testing.T) {
	env := apptest.New(t)
	brush := env.SeedBrush(t)
	ctx := context.Background()

	var ids []string
	for _, site := range []string{"North Plant", "South Plant", "North Depot"} {
		started, err := env.Engine.StartSession(ctx, sessions.StartRequest{Category: category("brush"), ClientSite: &site})
		require.NoError(t, err)
		ids = append(ids, started.SessionID)
	}
	_, err := env.Engine.SubmitAnswer(ctx, ids[0], brush.Conn("brush_check", "Not Spinning").ID)
	require.NoError(t, err)
	require.NoError(t, env.Engine.MarkAbandoned(ctx, ids[1]))

	list, err := env.Engine.ListSessions(ctx, repository.SessionFilter{Search: "north"}, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, list.TotalCount)
	assert.Equal(t, 1, list.Page)
	assert.Equal(t, sessions.DefaultPageSize, list.PageSize)

	list, err = env.Engine.ListSessions(ctx, repository.SessionFilter{Status: session.StatusAbandoned}, 1, 10)
	require.NoError(t, err)
	require.Len(t, list.Sessions, 1)
	assert.Equal(t, ids[1], list.Sessions[0].SessionID)
	assert.True(t, list.Sessions[0].Abandoned)

	list, err = env.Engine.ListSessions(ctx, repository.SessionFilter{}, 2, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, list.TotalCount)
	assert.Len(t, list.Sessions, 1)

	list, err = env.Engine.ListSessions(ctx, repository.SessionFilter{}, 1, sessions.MaxPageSize*10)
	require.NoError(t, err)
	assert.Equal(t, sessions.MaxPageSize, list.PageSize)

	n, err := env.Engine.CountSessions(ctx, repository.SessionFilter{Status: session.StatusActive})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestDeleteSessions_RequiresFilterOrAll(t *testing.T) {
	env := apptest.New(t)
	env.SeedBrush(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := env.Engine.StartSession(ctx, sessions.StartRequest{Category: category("brush")})
		require.NoError(t, err)
	}

	_, err := env.Engine.DeleteSessions(ctx, repository.SessionFilter{}, false)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsValidation(err))
	appErr := pkgerrors.GetAppError(err)
	require.NotNil(t, appErr)
	assert.Equal(t, "FILTER_REQUIRED", appErr.Code)

	n, err := env.Engine.DeleteSessions(ctx, repository.SessionFilter{Category: "other"}, false)
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = env.Engine.DeleteSessions(ctx, repository.SessionFilter{}, true)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	count, err := env.Engine.CountSessions(ctx, repository.SessionFilter{})
	require.NoError(t, err)
	assert.Zero(t, count)
}

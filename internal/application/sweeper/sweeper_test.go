package sweeper

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Galaxyz7/equipment-troubleshooting-rust-react-sub001/internal/application/apptest"
	"github.com/Galaxyz7/equipment-troubleshooting-rust-react-sub001/internal/application/sessions"
	"github.com/Galaxyz7/equipment-troubleshooting-rust-react-sub001/internal/domain/session"
	pkgerrors "github.com/Galaxyz7/equipment-troubleshooting-rust-react-sub001/pkg/errors"
)

func startSessions(t *testing.T, env *apptest.Env, n int) []string {
	t.Helper()
	category := "brush"
	ids := make([]string, n)
	for i := range ids {
		res, err := env.Engine.StartSession(context.Background(), sessions.StartRequest{Category: &category})
		require.NoError(t, err)
		ids[i] = res.SessionID
	}
	return ids
}

func TestSweep_AbandonsIdleActiveSessionsAcrossPages(t *testing.T) {
	env := apptest.New(t)
	brush := env.SeedBrush(t)
	ctx := context.Background()
	ids := startSessions(t, env, 4)

	_, err := env.Engine.SubmitAnswer(ctx, ids[0], brush.Conn("brush_check", "Not Deploying").ID)
	require.NoError(t, err)
	_, err = env.Engine.SubmitAnswer(ctx, ids[0], brush.Conn("not_deploying", "No").ID)
	require.NoError(t, err)

	s := New(env.Sessions, env.Engine, 2, zap.NewNop())
	s.now = func() time.Time { return time.Now().UTC().Add(time.Hour) }

	n, err := s.Sweep(ctx, 30*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	for i, id := range ids {
		h, err := env.Engine.GetHistory(ctx, id)
		require.NoError(t, err)
		if i == 0 {
			assert.Equal(t, session.StatusCompleted, h.Status)
		} else {
			assert.Equal(t, session.StatusAbandoned, h.Status)
		}
	}

	n, err = s.Sweep(ctx, 30*time.Minute)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSweep_LeavesRecentSessions(t *testing.T) {
	env := apptest.New(t)
	env.SeedBrush(t)
	ids := startSessions(t, env, 2)

	n, err := New(env.Sessions, env.Engine, 10, zap.NewNop()).Sweep(context.Background(), time.Hour)
	require.NoError(t, err)
	assert.Zero(t, n)

	h, err := env.Engine.GetHistory(context.Background(), ids[0])
	require.NoError(t, err)
	assert.Equal(t, session.StatusActive, h.Status)
}

type abandonerFunc func(ctx context.Context, id string) error

func (f abandonerFunc) MarkAbandoned(ctx context.Context, id string) error { return f(ctx, id) }

func TestSweep_SkipsRacesAndStopsOnFailure(t *testing.T) {
	env := apptest.New(t)
	env.SeedBrush(t)
	ctx := context.Background()
	startSessions(t, env, 3)
	future := func() time.Time { return time.Now().UTC().Add(time.Hour) }

	raced := New(env.Sessions, abandonerFunc(func(context.Context, string) error {
		return pkgerrors.NewConflictError("session was modified concurrently")
	}), 10, zap.NewNop())
	raced.now = future
	n, err := raced.Sweep(ctx, time.Minute)
	require.NoError(t, err)
	assert.Zero(t, n)

	boom := errors.New("database is gone")
	failing := New(env.Sessions, abandonerFunc(func(context.Context, string) error { return boom }), 10, zap.NewNop())
	failing.now = future
	_, err = failing.Sweep(ctx, time.Minute)
	assert.ErrorIs(t, err, boom)
}

func TestRun_StopsWithContext(t *testing.T) {
	env := apptest.New(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		New(env.Sessions, env.Engine, 10, zap.NewNop()).Run(ctx, 5*time.Millisecond, time.Hour)
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

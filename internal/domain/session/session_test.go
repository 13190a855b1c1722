package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/Galaxyz7/equipment-troubleshooting-rust-react-sub001/pkg/errors"
)

func TestSession_Lifecycle(t *testing.T) {
	now := time.Now()
	s := New("brush", "root", Context{}, now)
	require.Equal(t, StatusActive, s.Status())

	err := s.Advance(Step{NodeID: "root", ConnectionID: "c1", Label: "Not Spinning"}, "next", now)
	require.NoError(t, err)
	assert.Equal(t, "next", s.CurrentNodeID)
	assert.Len(t, s.Steps, 1)

	require.NoError(t, s.Complete("Replace the motor", now))
	assert.Equal(t, StatusCompleted, s.Status())
	require.NotNil(t, s.CompletedAt)
	require.NotNil(t, s.FinalConclusion)

	t.Run("terminal states refuse transitions", func(t *testing.T) {
		err := s.Advance(Step{}, "other", now)
		assert.True(t, pkgerrors.IsNotFound(err))
		assert.True(t, pkgerrors.IsNotFound(s.Abandon(now)))
		assert.True(t, pkgerrors.IsNotFound(s.Complete("again", now)))
		assert.Equal(t, "next", s.CurrentNodeID)
		assert.Len(t, s.Steps, 1)
	})
}

func TestSession_Abandon(t *testing.T) {
	s := New("", "start", Context{}, time.Now())

	require.NoError(t, s.Abandon(time.Now()))

	assert.Equal(t, StatusAbandoned, s.Status())
	assert.Nil(t, s.CompletedAt)
	assert.Nil(t, s.FinalConclusion)
}

func TestSession_CloneIsIndependent(t *testing.T) {
	s := New("c", "n1", Context{}, time.Now())
	require.NoError(t, s.Advance(Step{NodeID: "n1"}, "n2", time.Now()))

	c := s.Clone()
	require.NoError(t, c.Advance(Step{NodeID: "n2"}, "n3", time.Now()))

	assert.Len(t, s.Steps, 1)
	assert.Equal(t, "n2", s.CurrentNodeID)
	assert.Len(t, c.Steps, 2)
}

package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/Galaxyz7/equipment-troubleshooting-rust-react-sub001/internal/domain/graph"
	"github.com/Galaxyz7/equipment-troubleshooting-rust-react-sub001/internal/repository"
	pkgerrors "github.com/Galaxyz7/equipment-troubleshooting-rust-react-sub001/pkg/errors"
)

type stubGraphRepository struct {
	repository.GraphRepository
	err   error
	calls int
}

func (s *stubGraphRepository) GetNode(context.Context, string) (*graph.Node, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return &graph.Node{ID: "n1"}, nil
}

func testConfig() Config {
	cfg := DefaultConfig("graph-test")
	cfg.MinRequests = 3
	cfg.FailureThreshold = 0.5
	cfg.Timeout = time.Minute
	return cfg
}

func TestGraphRepository_TripsOnBackendFailures(t *testing.T) {
	// Arrange
	inner := &stubGraphRepository{err: pkgerrors.NewDatabaseError("get node", errors.New("connection reset"))}
	repo := NewGraphRepository(inner, testConfig(), zap.NewNop())

	// Act
	for i := 0; i < 3; i++ {
		_, _ = repo.GetNode(context.Background(), "n1")
	}
	_, err := repo.GetNode(context.Background(), "n1")

	// Assert
	assert.True(t, pkgerrors.IsType(err, pkgerrors.ErrorTypeUnavailable))
	assert.Equal(t, 3, inner.calls, "open breaker short-circuits the call")
	assert.Equal(t, "open", repo.State())
}

func TestGraphRepository_DomainErrorsDoNotTrip(t *testing.T) {
	inner := &stubGraphRepository{err: pkgerrors.NewNotFoundError("node")}
	repo := NewGraphRepository(inner, testConfig(), zap.NewNop())

	for i := 0; i < 10; i++ {
		_, err := repo.GetNode(context.Background(), "n1")
		assert.True(t, pkgerrors.IsNotFound(err))
	}

	assert.Equal(t, 10, inner.calls)
	assert.Equal(t, "closed", repo.State())
}

func TestGraphRepository_PassesValuesThrough(t *testing.T) {
	repo := NewGraphRepository(&stubGraphRepository{}, testConfig(), zap.NewNop())

	n, err := repo.GetNode(context.Background(), "n1")

	assert.NoError(t, err)
	assert.Equal(t, "n1", n.ID)
}

// Package sweeper implements the idle-session abandonment policy.
package sweeper

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/Galaxyz7/equipment-troubleshooting-rust-react-sub001/internal/repository"
	pkgerrors "github.com/Galaxyz7/equipment-troubleshooting-rust-react-sub001/pkg/errors"
)

// Abandoner ends a single session.
type Abandoner interface {
	MarkAbandoned(ctx context.Context, sessionID string) error
}

// Sweeper marks active sessions with no recent activity as abandoned.
type Sweeper struct {
	sessions  repository.SessionRepository
	abandoner Abandoner
	batchSize int
	logger    *zap.Logger
	now       func() time.Time
}

func New(sessions repository.SessionRepository, abandoner Abandoner, batchSize int, logger *zap.Logger) *Sweeper {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Sweeper{
		sessions:  sessions,
		abandoner: abandoner,
		batchSize: batchSize,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Sweep abandons every active session idle for longer than olderThan and
// returns how many it abandoned. Sessions that finish or advance while the
// sweep runs are skipped.
func (s *Sweeper) Sweep(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := s.now().Add(-olderThan)
	total := 0

	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		idle, err := s.sessions.ListIdleActive(ctx, cutoff, s.batchSize)
		if err != nil {
			return total, err
		}

		abandoned := 0
		for _, sess := range idle {
			err := s.abandoner.MarkAbandoned(ctx, sess.ID)
			switch {
			case err == nil:
				abandoned++
			case pkgerrors.IsNotFound(err), pkgerrors.IsConflict(err):
				s.logger.Debug("Session changed during sweep", zap.String("sessionID", sess.ID))
			default:
				return total + abandoned, err
			}
		}
		total += abandoned

		// A short page is the last; a page with no progress would repeat.
		if len(idle) < s.batchSize || abandoned == 0 {
			break
		}
	}

	if total > 0 {
		s.logger.Info("Abandoned idle sessions",
			zap.Int("count", total),
			zap.Duration("idleFor", olderThan))
	}
	return total, nil
}

// Run sweeps on every tick until ctx is done.
func (s *Sweeper) Run(ctx context.Context, interval, olderThan time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx, olderThan); err != nil && ctx.Err() == nil {
				s.logger.Error("Session sweep failed", zap.Error(err))
			}
		}
	}
}

// Package resilience wraps repositories with circuit breakers so a failing
// backend is shed quickly instead of piling up blocked requests.
package resilience

import (
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	pkgerrors "github.com/Galaxyz7/equipment-troubleshooting-rust-react-sub001/pkg/errors"
)

// Config holds configuration for a circuit breaker
type Config struct {
	Name             string
	MaxRequests      uint32
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold float64
	MinRequests      uint32
}

// DefaultConfig returns a default configuration for circuit breaker
func DefaultConfig(name string) Config {
	return Config{
		Name:             name,
		MaxRequests:      5,
		Interval:         30 * time.Second,
		Timeout:          60 * time.Second,
		FailureThreshold: 0.8,
		MinRequests:      5,
	}
}

func newBreaker(cfg Config, logger *zap.Logger) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
		// Domain outcomes say nothing about backend health.
		IsSuccessful: func(err error) bool {
			return err == nil ||
				pkgerrors.IsNotFound(err) ||
				pkgerrors.IsValidation(err) ||
				pkgerrors.IsConflict(err)
		},
	})
}

// run executes fn through cb and maps breaker rejections to Unavailable.
func run[T any](cb *gobreaker.CircuitBreaker, fn func() (T, error)) (T, error) {
	out, err := cb.Execute(func() (interface{}, error) {
		return fn()
	})
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		var zero T
		return zero, pkgerrors.NewUnavailableError(cb.Name()).WithCause(err)
	}
	if err != nil {
		var zero T
		return zero, err
	}
	return out.(T), nil
}

func exec(cb *gobreaker.CircuitBreaker, fn func() error) error {
	_, err := run(cb, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

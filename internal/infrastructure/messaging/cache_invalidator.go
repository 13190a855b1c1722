package messaging

import (
	"context"

	"github.com/Galaxyz7/equipment-troubleshooting-rust-react-sub001/internal/domain/events"
	"github.com/Galaxyz7/equipment-troubleshooting-rust-react-sub001/internal/infrastructure/cache"
	"go.uber.org/zap"
)

// Invalidator is the part of the view cache the invalidation handler needs.
type Invalidator interface {
	InvalidateCategory(category string) int
}

var _ Invalidator = (*cache.ViewCache)(nil)

// CacheInvalidator drops cached views for every category named by a
// GraphChanged event, plus the global issue list.
type CacheInvalidator struct {
	cache  Invalidator
	logger *zap.Logger
}

func NewCacheInvalidator(c Invalidator, logger *zap.Logger) *CacheInvalidator {
	return &CacheInvalidator{cache: c, logger: logger}
}

// Handle implements Handler.
func (h *CacheInvalidator) Handle(_ context.Context, event events.DomainEvent) error {
	changed, ok := event.(events.GraphChanged)
	if !ok {
		return nil
	}

	removed := 0
	for _, category := range changed.Categories {
		removed += h.cache.InvalidateCategory(category)
	}
	removed += h.cache.InvalidateCategory(cache.GlobalScope)

	h.logger.Debug("Invalidated cached views",
		zap.String("eventType", changed.EventType),
		zap.Strings("categories", changed.Categories),
		zap.Int("removed", removed))
	return nil
}

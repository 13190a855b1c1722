// Package messaging delivers domain events to in-process handlers and,
// optionally, to an external bus.
package messaging

import (
	"context"
	"fmt"
	"time"

	"github.com/Galaxyz7/equipment-troubleshooting-rust-react-sub001/internal/domain/events"
	"go.uber.org/zap"
)

// Handler reacts to a single domain event.
type Handler interface {
	Handle(ctx context.Context, event events.DomainEvent) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, event events.DomainEvent) error

func (f HandlerFunc) Handle(ctx context.Context, event events.DomainEvent) error {
	return f(ctx, event)
}

type namedHandler struct {
	name    string
	handler Handler
}

// Dispatcher implements events.Publisher by invoking every registered
// handler synchronously, in registration order. Handler failures are
// logged and never surface to the publisher: the mutation that raised the
// event has already been committed.
type Dispatcher struct {
	handlers []namedHandler
	logger   *zap.Logger
}

// NewDispatcher creates a dispatcher with no handlers.
func NewDispatcher(logger *zap.Logger) *Dispatcher {
	return &Dispatcher{logger: logger}
}

// Register adds a handler. Not safe for use after the first Publish.
func (d *Dispatcher) Register(name string, h Handler) {
	d.handlers = append(d.handlers, namedHandler{name: name, handler: h})
}

// Publish dispatches events to every handler.
func (d *Dispatcher) Publish(ctx context.Context, domainEvents ...events.DomainEvent) error {
	if len(domainEvents) == 0 {
		return nil
	}

	startTime := time.Now()
	failureCount := 0

	for _, event := range domainEvents {
		for _, h := range d.handlers {
			if err := d.invoke(ctx, h, event); err != nil {
				failureCount++
				d.logger.Warn("Event handler failed",
					zap.String("handler", h.name),
					zap.String("eventType", event.GetEventType()),
					zap.String("aggregateID", event.GetAggregateID()),
					zap.Error(err))
			}
		}
	}

	d.logger.Debug("Events dispatched",
		zap.Int("events", len(domainEvents)),
		zap.Int("handlers", len(d.handlers)),
		zap.Int("failed", failureCount),
		zap.Duration("duration", time.Since(startTime)))

	return nil
}

func (d *Dispatcher) invoke(ctx context.Context, h namedHandler, event events.DomainEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return h.handler.Handle(ctx, event)
}

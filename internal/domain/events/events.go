// Package events defines the change notifications emitted by graph mutations.
package events

import (
	"context"
	"sort"
	"time"
)

// DomainEvent is the base interface for all domain events
type DomainEvent interface {
	GetAggregateID() string
	GetEventType() string
	GetTimestamp() time.Time
}

// BaseEvent provides common event fields
type BaseEvent struct {
	AggregateID string    `json:"aggregate_id"`
	EventType   string    `json:"event_type"`
	Timestamp   time.Time `json:"timestamp"`
}

func (e BaseEvent) GetAggregateID() string  { return e.AggregateID }
func (e BaseEvent) GetEventType() string    { return e.EventType }
func (e BaseEvent) GetTimestamp() time.Time { return e.Timestamp }

// Event types
const (
	NodeCreated       = "node.created"
	NodeUpdated       = "node.updated"
	NodeDeleted       = "node.deleted"
	ConnectionCreated = "connection.created"
	ConnectionUpdated = "connection.updated"
	ConnectionDeleted = "connection.deleted"
	CategoryCreated   = "category.created"
	CategoryUpdated   = "category.updated"
	CategoryToggled   = "category.toggled"
	CategoryDeleted   = "category.deleted"
	CategoryImported  = "category.imported"
)

// GraphChanged is raised by every graph mutation. Categories lists every
// category whose derived views may now be stale.
type GraphChanged struct {
	BaseEvent
	Categories []string `json:"categories"`
}

// NewGraphChanged builds a GraphChanged event with de-duplicated, sorted categories.
func NewGraphChanged(eventType, aggregateID string, categories []string, now time.Time) GraphChanged {
	return GraphChanged{
		BaseEvent: BaseEvent{
			AggregateID: aggregateID,
			EventType:   eventType,
			Timestamp:   now,
		},
		Categories: uniqueSorted(categories),
	}
}

// Publisher receives domain events.
type Publisher interface {
	Publish(ctx context.Context, events ...DomainEvent) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, events ...DomainEvent) error

func (f PublisherFunc) Publish(ctx context.Context, events ...DomainEvent) error {
	return f(ctx, events...)
}

// Discard drops every event.
var Discard Publisher = PublisherFunc(func(context.Context, ...DomainEvent) error { return nil })

func uniqueSorted(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, c := range in {
		if c == "" {
			continue
		}
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

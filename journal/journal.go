// Package journal records world-state events (entity lifecycle, chat relay,
// dropped updates) and fans them out to configurable sinks. It is the
// domain-level audit trail; operational logging lives with zap.
package journal

import (
	"context"
	"strings"
	"time"
)

type EventType string

const (
	EventEyeCreated    EventType = "eye_created"
	EventEyeUpdated    EventType = "eye_updated"
	EventEyeEvicted    EventType = "eye_evicted"
	EventBoxSeeded     EventType = "box_seeded"
	EventBoxUpdated    EventType = "box_updated"
	EventChatRelayed   EventType = "chat_relayed"
	EventSymbolRelayed EventType = "symbol_relayed"
	EventUpdateDropped EventType = "update_dropped"
)

type Severity int

const (
	SeverityDebug Severity = iota
	SeverityInfo
	SeverityWarn
	SeverityError
)

type EntityKind string

const (
	EntityKindUnknown EntityKind = "unknown"
	EntityKindEye     EntityKind = "eye"
	EntityKindBox     EntityKind = "box"
	EntityKindChat    EntityKind = "chat"
	EntityKindSymbol  EntityKind = "symbol"
	EntityKindSystem  EntityKind = "system"
)

// EntityRef identifies the entity an event is about.
type EntityRef struct {
	ID   string     `json:"id"`
	Kind EntityKind `json:"kind"`
}

// Event is one journal entry.
type Event struct {
	Type     EventType      `json:"type"`
	Time     time.Time      `json:"time"`
	Entity   EntityRef      `json:"entity"`
	Severity Severity       `json:"severity"`
	Payload  any            `json:"payload,omitempty"`
	Extra    map[string]any `json:"extra,omitempty"`
}

type Publisher interface {
	Publish(ctx context.Context, event Event)
}

type PublisherFunc func(ctx context.Context, event Event)

func (f PublisherFunc) Publish(ctx context.Context, event Event) {
	if f == nil {
		return
	}
	f(ctx, event)
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, Event) {}

// NopPublisher discards every event. Useful default for tests.
func NopPublisher() Publisher {
	return nopPublisher{}
}

type fieldPublisher struct {
	next   Publisher
	fields map[string]any
}

func (p *fieldPublisher) Publish(ctx context.Context, event Event) {
	if p.next == nil {
		return
	}
	if len(p.fields) > 0 {
		event = cloneEvent(event)
		if event.Extra == nil {
			event.Extra = make(map[string]any, len(p.fields))
		}
		for k, v := range p.fields {
			if _, exists := event.Extra[k]; !exists {
				event.Extra[k] = v
			}
		}
	}
	p.next.Publish(ctx, event)
}

// WithFields wraps a publisher so every event carries the given extras
// unless the event already set them.
func WithFields(p Publisher, fields map[string]any) Publisher {
	if p == nil {
		return NopPublisher()
	}
	if len(fields) == 0 {
		return p
	}
	copied := make(map[string]any, len(fields))
	for k, v := range fields {
		copied[k] = v
	}
	return &fieldPublisher{next: p, fields: copied}
}

func cloneEvent(event Event) Event {
	cloned := event
	if event.Extra != nil {
		copied := make(map[string]any, len(event.Extra))
		for k, v := range event.Extra {
			copied[k] = v
		}
		cloned.Extra = copied
	}
	return cloned
}

// ParseSeverity maps a config string to a severity, defaulting to info.
func ParseSeverity(raw string) Severity {
	switch strings.ToLower(raw) {
	case "debug":
		return SeverityDebug
	case "warn", "warning":
		return SeverityWarn
	case "error":
		return SeverityError
	default:
		return SeverityInfo
	}
}

func (s Severity) String() string {
	switch s {
	case SeverityDebug:
		return "debug"
	case SeverityInfo:
		return "info"
	case SeverityWarn:
		return "warn"
	case SeverityError:
		return "error"
	default:
		return "unknown"
	}
}

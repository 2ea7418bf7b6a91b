package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Vec3 is a world-space coordinate triple.
type Vec3 [3]float64

// Inbound event kinds accepted by the validator. Outbound-only kinds
// ("box", "eyeRemoved") are produced by the hub and never accepted here.
const (
	EventTypeEyeUpdate   = "eyeUpdate"
	EventTypeBoxUpdate   = "boxUpdate"
	EventTypeChatMessage = "chatMessage"
	EventTypeSymbol      = "symbol"
	EventTypeBoxState    = "box"
	EventTypeEyeRemoved  = "eyeRemoved"
)

// EyeUpdate is a partial update for an eye avatar. P and L are optional but
// at least one must be present. T is required on the wire but advisory; the
// server stamps its own time on accepted updates.
type EyeUpdate struct {
	Type string  `json:"type"`
	ID   string  `json:"id"`
	Name string  `json:"name,omitempty"`
	P    *Vec3   `json:"p,omitempty"`
	L    *Vec3   `json:"l,omitempty"`
	T    float64 `json:"t,omitempty"`
}

// BoxUpdate is a partial update for a box. At least one of P/O must be
// present. Boxes never carry a color on the wire; color is fixed at seeding.
type BoxUpdate struct {
	Type string `json:"type"`
	ID   string `json:"id"`
	P    *Vec3  `json:"p,omitempty"`
	O    *Vec3  `json:"o,omitempty"`
}

// SymbolEvent flashes a glyph above an eye. Relayed to all subscribers and
// never stored.
type SymbolEvent struct {
	Type string `json:"type"`
	ID   string `json:"id"`
	Key  string `json:"key"`
}

// ChatMessage is relayed to all subscribers and never stored.
type ChatMessage struct {
	Type      string  `json:"type"`
	ID        string  `json:"id"`
	UserID    string  `json:"userId"`
	Name      string  `json:"name,omitempty"`
	Text      string  `json:"text"`
	Timestamp float64 `json:"timestamp"`
	AudioSrc  string  `json:"audioSrc,omitempty"`
}

// BoxState is the outbound authoritative record of a box.
type BoxState struct {
	Type string `json:"type"`
	ID   string `json:"id"`
	P    Vec3   `json:"p"`
	O    Vec3   `json:"o"`
	C    string `json:"c"`
	T    int64  `json:"t"`
}

// EyeState is the outbound authoritative record of an eye, framed as a full
// eyeUpdate so clients handle live updates and snapshot entries uniformly.
type EyeState struct {
	Type string `json:"type"`
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
	P    Vec3   `json:"p"`
	L    Vec3   `json:"l"`
	T    int64  `json:"t"`
}

// EyeRemoved announces a staleness eviction to connected subscribers.
type EyeRemoved struct {
	Type string `json:"type"`
	ID   string `json:"id"`
	T    int64  `json:"t"`
}

// Event is the closed inbound union: *EyeUpdate, *BoxUpdate, *ChatMessage
// or *SymbolEvent.
type Event interface {
	eventKind() string
}

func (e *EyeUpdate) eventKind() string   { return EventTypeEyeUpdate }
func (e *BoxUpdate) eventKind() string   { return EventTypeBoxUpdate }
func (e *ChatMessage) eventKind() string { return EventTypeChatMessage }
func (e *SymbolEvent) eventKind() string { return EventTypeSymbol }

// ErrInvalidJSON marks a request body that is not a JSON object at all.
var ErrInvalidJSON = errors.New("invalid JSON payload")

// FieldError names a single field that failed validation.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError itemizes every field that failed validation. It is the
// only error besides ErrInvalidJSON that DecodeEvent returns, and the
// transport layer translates it into a 400 response.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, fmt.Sprintf("%s: %s", f.Field, f.Message))
	}
	return "invalid event: " + strings.Join(parts, "; ")
}

func (e *ValidationError) add(field, message string) {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: message})
}

func (e *ValidationError) orNil() error {
	if len(e.Fields) == 0 {
		return nil
	}
	return e
}

// DecodeEvent classifies and validates an untrusted payload against the
// inbound union. It is pure: no registry state is consulted or touched.
func DecodeEvent(raw []byte) (Event, error) {
	var probe struct {
		Type json.RawMessage `json:"type"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, ErrInvalidJSON
	}
	if probe.Type == nil {
		verr := &ValidationError{}
		verr.add("type", "missing event type")
		return nil, verr
	}
	var kind string
	if err := json.Unmarshal(probe.Type, &kind); err != nil {
		verr := &ValidationError{}
		verr.add("type", "must be a string")
		return nil, verr
	}

	switch kind {
	case EventTypeEyeUpdate:
		return decodeEyeUpdate(raw)
	case EventTypeBoxUpdate:
		return decodeBoxUpdate(raw)
	case EventTypeChatMessage:
		return decodeChatMessage(raw)
	case EventTypeSymbol:
		return decodeSymbol(raw)
	default:
		verr := &ValidationError{}
		verr.add("type", fmt.Sprintf("unrecognized event type %q", kind))
		return nil, verr
	}
}

func decodeEyeUpdate(raw []byte) (Event, error) {
	var wire struct {
		ID   string          `json:"id"`
		Name string          `json:"name"`
		P    json.RawMessage `json:"p"`
		L    json.RawMessage `json:"l"`
		T    *float64        `json:"t"`
	}
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, ErrInvalidJSON
	}

	verr := &ValidationError{}
	if wire.ID == "" {
		verr.add("id", "required non-empty string")
	}

	p := parseVec3Field(verr, "p", wire.P)
	l := parseVec3Field(verr, "l", wire.L)
	if wire.P == nil && wire.L == nil {
		verr.add("p", "eyeUpdate requires at least one of p or l")
	}
	// The client clock is advisory but mandatory on the wire.
	if wire.T == nil {
		verr.add("t", "required number")
	}
	if err := verr.orNil(); err != nil {
		return nil, err
	}

	return &EyeUpdate{Type: EventTypeEyeUpdate, ID: wire.ID, Name: wire.Name, P: p, L: l, T: *wire.T}, nil
}

func decodeSymbol(raw []byte) (Event, error) {
	var wire struct {
		ID  string `json:"id"`
		Key string `json:"key"`
	}
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, ErrInvalidJSON
	}

	verr := &ValidationError{}
	if wire.ID == "" {
		verr.add("id", "required non-empty string")
	}
	if wire.Key == "" {
		verr.add("key", "required non-empty string")
	}
	if err := verr.orNil(); err != nil {
		return nil, err
	}

	return &SymbolEvent{Type: EventTypeSymbol, ID: wire.ID, Key: wire.Key}, nil
}

func decodeBoxUpdate(raw []byte) (Event, error) {
	var wire struct {
		ID string          `json:"id"`
		P  json.RawMessage `json:"p"`
		O  json.RawMessage `json:"o"`
	}
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, ErrInvalidJSON
	}

	verr := &ValidationError{}
	if wire.ID == "" {
		verr.add("id", "required non-empty string")
	}

	p := parseVec3Field(verr, "p", wire.P)
	o := parseVec3Field(verr, "o", wire.O)
	if wire.P == nil && wire.O == nil {
		verr.add("p", "boxUpdate requires at least one of p or o")
	}
	if err := verr.orNil(); err != nil {
		return nil, err
	}

	return &BoxUpdate{Type: EventTypeBoxUpdate, ID: wire.ID, P: p, O: o}, nil
}

func decodeChatMessage(raw []byte) (Event, error) {
	var wire struct {
		ID        string   `json:"id"`
		UserID    string   `json:"userId"`
		Name      string   `json:"name"`
		Text      string   `json:"text"`
		Timestamp *float64 `json:"timestamp"`
		AudioSrc  string   `json:"audioSrc"`
	}
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, ErrInvalidJSON
	}

	verr := &ValidationError{}
	if wire.ID == "" {
		verr.add("id", "required non-empty string")
	}
	if wire.UserID == "" {
		verr.add("userId", "required non-empty string")
	}
	if wire.Text == "" {
		verr.add("text", "required non-empty string")
	}
	if wire.Timestamp == nil {
		verr.add("timestamp", "required number")
	}
	if err := verr.orNil(); err != nil {
		return nil, err
	}

	return &ChatMessage{
		Type:      EventTypeChatMessage,
		ID:        wire.ID,
		UserID:    wire.UserID,
		Name:      wire.Name,
		Text:      wire.Text,
		Timestamp: *wire.Timestamp,
		AudioSrc:  wire.AudioSrc,
	}, nil
}

// parseVec3Field enforces the exactly-three-numbers contract. encoding/json
// silently pads or truncates fixed-size arrays, so tuples are checked as
// slices first.
func parseVec3Field(verr *ValidationError, field string, raw json.RawMessage) *Vec3 {
	if raw == nil {
		return nil
	}
	var values []float64
	if err := json.Unmarshal(raw, &values); err != nil {
		verr.add(field, "must be an array of 3 numbers")
		return nil
	}
	if len(values) != 3 {
		verr.add(field, fmt.Sprintf("must have exactly 3 entries, got %d", len(values)))
		return nil
	}
	v := Vec3{values[0], values[1], values[2]}
	return &v
}

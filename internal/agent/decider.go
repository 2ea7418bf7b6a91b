// Package agent drives autonomous eye avatars. Agents submit their poses
// and chat through the same ingestion path as human clients; nothing in the
// hub knows or cares that they are synthetic.
package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	server "eyefield/server"
)

// ChatLine is one remembered chat message, kept by the driver because the
// hub retains no chat history.
type ChatLine struct {
	UserID string `json:"userId"`
	Name   string `json:"name,omitempty"`
	Text   string `json:"text"`
}

// Perception is what an agent knows about the world when it thinks: its own
// pose, every visible entity, and recent chat.
type Perception struct {
	AgentID string            `json:"agentId"`
	Name    string            `json:"name"`
	Pos     server.Vec3       `json:"p"`
	Look    server.Vec3       `json:"l"`
	Eyes    []server.EyeState `json:"eyes"`
	Boxes   []server.BoxState `json:"boxes"`
	Chat    []ChatLine        `json:"chat"`
}

// ActionKind enumerates the closed action union.
type ActionKind string

const (
	ActionNone ActionKind = "none"
	ActionMove ActionKind = "move"
	ActionTurn ActionKind = "turn"
)

// Action is the validated form of a decider's chosen action.
type Action struct {
	Kind      ActionKind
	Direction string  // forward|backward for move, left|right for turn
	Distance  float64 // move only, > 0
	Degrees   float64 // turn only, 1..30
}

// Decision is one think-step outcome. An empty ChatMessage means silence.
type Decision struct {
	ChatMessage string
	Action      Action
}

var noDecision = Decision{Action: Action{Kind: ActionNone}}

// Decider chooses what an agent does next. Implementations must treat the
// perception as read-only.
type Decider interface {
	Decide(ctx context.Context, p Perception) (Decision, error)
}

const (
	maxTurnDegrees  = 30
	minTurnDegrees  = 1
	maxReplyBytes   = 64 << 10
	deciderDeadline = 20 * time.Second
)

// HTTPDecider asks a language-model service over HTTP. The reply is parsed
// strictly: anything malformed, out of range, or late degrades to a no-op
// decision at the caller.
type HTTPDecider struct {
	url     string
	httpc   *http.Client
	timeout time.Duration
}

func NewHTTPDecider(url string, timeout time.Duration) *HTTPDecider {
	if timeout <= 0 {
		timeout = deciderDeadline
	}
	return &HTTPDecider{url: url, httpc: &http.Client{Timeout: timeout}, timeout: timeout}
}

func (d *HTTPDecider) Decide(ctx context.Context, p Perception) (Decision, error) {
	payload, err := json.Marshal(p)
	if err != nil {
		return noDecision, err
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(payload))
	if err != nil {
		return noDecision, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.httpc.Do(req)
	if err != nil {
		return noDecision, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return noDecision, fmt.Errorf("decider service returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxReplyBytes))
	if err != nil {
		return noDecision, err
	}
	return ParseDecision(body)
}

// ParseDecision validates a raw decider reply of the shape
// {"chatMessage"?: string, "action": <action union> | null}.
func ParseDecision(raw []byte) (Decision, error) {
	var wire struct {
		ChatMessage string          `json:"chatMessage"`
		Action      json.RawMessage `json:"action"`
	}
	if err := json.Unmarshal(raw, &wire); err != nil {
		return noDecision, fmt.Errorf("malformed decision: %w", err)
	}

	action, err := parseAction(wire.Action)
	if err != nil {
		return noDecision, err
	}
	return Decision{ChatMessage: wire.ChatMessage, Action: action}, nil
}

func parseAction(raw json.RawMessage) (Action, error) {
	none := Action{Kind: ActionNone}
	if len(raw) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return none, nil
	}

	var wire struct {
		Action    string   `json:"action"`
		Direction string   `json:"direction"`
		Distance  *float64 `json:"distance"`
		Degrees   *float64 `json:"degrees"`
	}
	if err := json.Unmarshal(raw, &wire); err != nil {
		return none, fmt.Errorf("malformed action: %w", err)
	}

	switch wire.Action {
	case "none":
		return none, nil
	case "move":
		if wire.Direction != "forward" && wire.Direction != "backward" {
			return none, fmt.Errorf("move direction must be forward or backward, got %q", wire.Direction)
		}
		if wire.Distance == nil || *wire.Distance <= 0 {
			return none, fmt.Errorf("move distance must be a positive number")
		}
		return Action{Kind: ActionMove, Direction: wire.Direction, Distance: *wire.Distance}, nil
	case "turn":
		if wire.Direction != "left" && wire.Direction != "right" {
			return none, fmt.Errorf("turn direction must be left or right, got %q", wire.Direction)
		}
		if wire.Degrees == nil || *wire.Degrees < minTurnDegrees || *wire.Degrees > maxTurnDegrees {
			return none, fmt.Errorf("turn degrees must be between %d and %d", minTurnDegrees, maxTurnDegrees)
		}
		return Action{Kind: ActionTurn, Direction: wire.Direction, Degrees: *wire.Degrees}, nil
	default:
		return none, fmt.Errorf("unrecognized action %q", wire.Action)
	}
}

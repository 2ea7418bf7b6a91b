package agent

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func jsonDecode(r *http.Request, v any) error {
	return json.NewDecoder(r.Body).Decode(v)
}

func TestParseDecisionValid(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want Decision
	}{
		{
			"move forward",
			`{"action":{"action":"move","direction":"forward","distance":12.5}}`,
			Decision{Action: Action{Kind: ActionMove, Direction: "forward", Distance: 12.5}},
		},
		{
			"turn with chat",
			`{"chatMessage":"hello there","action":{"action":"turn","direction":"left","degrees":30}}`,
			Decision{ChatMessage: "hello there", Action: Action{Kind: ActionTurn, Direction: "left", Degrees: 30}},
		},
		{
			"explicit none",
			`{"action":{"action":"none"}}`,
			Decision{Action: Action{Kind: ActionNone}},
		},
		{
			"null action",
			`{"action":null}`,
			Decision{Action: Action{Kind: ActionNone}},
		},
		{
			"absent action",
			`{"chatMessage":"just talking"}`,
			Decision{ChatMessage: "just talking", Action: Action{Kind: ActionNone}},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseDecision([]byte(tc.raw))
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestParseDecisionInvalid(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"not json", `move forward please`},
		{"unknown action", `{"action":{"action":"fly"}}`},
		{"bad move direction", `{"action":{"action":"move","direction":"sideways","distance":5}}`},
		{"zero distance", `{"action":{"action":"move","direction":"forward","distance":0}}`},
		{"negative distance", `{"action":{"action":"move","direction":"forward","distance":-3}}`},
		{"missing distance", `{"action":{"action":"move","direction":"forward"}}`},
		{"degrees too large", `{"action":{"action":"turn","direction":"left","degrees":31}}`},
		{"degrees too small", `{"action":{"action":"turn","direction":"right","degrees":0.5}}`},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseDecision([]byte(tc.raw))
			require.Error(t, err)
		})
	}
}

func TestHTTPDeciderRoundTrip(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var p Perception
		require.NoError(t, jsonDecode(r, &p))
		require.Equal(t, "ai-agent-1", p.AgentID)
		_, _ = w.Write([]byte(`{"chatMessage":"hi","action":{"action":"turn","direction":"right","degrees":15}}`))
	}))
	defer ts.Close()

	decider := NewHTTPDecider(ts.URL, time.Second)
	decision, err := decider.Decide(context.Background(), Perception{AgentID: "ai-agent-1"})
	require.NoError(t, err)
	require.Equal(t, "hi", decision.ChatMessage)
	require.Equal(t, ActionTurn, decision.Action.Kind)
}

func TestHTTPDeciderDegradesOnServerError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	decision, err := NewHTTPDecider(ts.URL, time.Second).Decide(context.Background(), Perception{})
	require.Error(t, err)
	require.Equal(t, ActionNone, decision.Action.Kind)
}

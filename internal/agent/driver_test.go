package agent

import (
	"context"
	"math"
	"math/rand"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	server "eyefield/server"
)

func TestApplyMoveForwardFollowsGaze(t *testing.T) {
	pos := server.Vec3{0, 5, 0}
	look := server.Vec3{0, 5, -10} // facing -Z

	next, nextLook := applyMove(pos, look, Action{Kind: ActionMove, Direction: "forward", Distance: 4})
	require.InDelta(t, 0, next[0], 1e-9)
	require.InDelta(t, 5, next[1], 1e-9)
	require.InDelta(t, -4, next[2], 1e-9)

	// Gaze offset is carried with the body.
	require.InDelta(t, -14, nextLook[2], 1e-9)
}

func TestApplyMoveBackwardAndClamp(t *testing.T) {
	pos := server.Vec3{-248, 5, 0}
	look := server.Vec3{-258, 5, 0} // facing -X, near the boundary

	next, _ := applyMove(pos, look, Action{Kind: ActionMove, Direction: "forward", Distance: 10})
	require.InDelta(t, -worldBound, next[0], 1e-9)

	back, _ := applyMove(pos, look, Action{Kind: ActionMove, Direction: "backward", Distance: 10})
	require.InDelta(t, -238, back[0], 1e-9)
}

func TestApplyTurnRotatesGazeAroundAgent(t *testing.T) {
	pos := server.Vec3{0, 5, 0}
	look := server.Vec3{0, 5, -10}

	// 90 degrees in three 30-degree left turns: -Z gaze ends up facing -X.
	for i := 0; i < 3; i++ {
		look = applyTurn(pos, look, Action{Kind: ActionTurn, Direction: "left", Degrees: 30})
	}
	require.InDelta(t, -10, look[0], 1e-9)
	require.InDelta(t, 5, look[1], 1e-9)
	require.InDelta(t, 0, look[2], 1e-9)

	// Gaze length is preserved.
	require.InDelta(t, 10, length(sub(look, pos)), 1e-9)
}

func TestApplyTurnRightIsInverseOfLeft(t *testing.T) {
	pos := server.Vec3{3, 7, -2}
	look := server.Vec3{8, 7, -9}

	turned := applyTurn(pos, look, Action{Kind: ActionTurn, Direction: "left", Degrees: 17})
	restored := applyTurn(pos, turned, Action{Kind: ActionTurn, Direction: "right", Degrees: 17})
	for i := range look {
		require.InDelta(t, look[i], restored[i], 1e-9)
	}
}

func TestWanderStaysInBoundsAndLeadsGaze(t *testing.T) {
	hub := server.NewHub()
	d := NewDriver(hub, Options{
		Agents: []Profile{{ID: "ai-agent-1", DisplayName: "Wanderer"}},
		Rand:   rand.New(rand.NewSource(42)),
	})

	pos := server.Vec3{249, eyeHeight, -249}
	for i := 0; i < 100; i++ {
		var look server.Vec3
		pos, look = d.wander(Profile{ID: "ai-agent-1"}, pos, d.logger)
		require.LessOrEqual(t, math.Abs(pos[0]), worldBound)
		require.LessOrEqual(t, math.Abs(pos[2]), worldBound)
		// Gaze always leads the pose by the fixed look-ahead distance.
		require.InDelta(t, wanderLookLead, length(sub(look, pos)), 1e-6)
	}
}

func TestWanderStaysAtEyeHeight(t *testing.T) {
	hub := server.NewHub()
	d := NewDriver(hub, Options{
		Agents: []Profile{{ID: "ai-agent-1", DisplayName: "Wanderer"}},
		Rand:   rand.New(rand.NewSource(3)),
	})

	pos := server.Vec3{0, eyeHeight, 0}
	for i := 0; i < 50; i++ {
		var look server.Vec3
		pos, look = d.wander(Profile{ID: "ai-agent-1"}, pos, d.logger)
		require.Equal(t, eyeHeight, pos[1], "step %d left the eye plane", i)
		require.Equal(t, eyeHeight, look[1], "step %d tilted the gaze off the eye plane", i)
	}
}

// scriptedDecider returns queued decisions, then errors.
type scriptedDecider struct {
	mu        sync.Mutex
	decisions []Decision
	seen      []Perception
}

func (s *scriptedDecider) Decide(_ context.Context, p Perception) (Decision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen = append(s.seen, p)
	if len(s.decisions) == 0 {
		return Decision{Action: Action{Kind: ActionNone}}, context.DeadlineExceeded
	}
	d := s.decisions[0]
	s.decisions = s.decisions[1:]
	return d, nil
}

type fakeSpeech struct{}

func (fakeSpeech) Synthesize(context.Context, string) (string, error) {
	return "data:audio/mpeg;base64,QQ==", nil
}

func startObserver(t *testing.T, hub *server.Hub) *frameCollector {
	t.Helper()
	c := &frameCollector{}
	sub := hub.Subscribe(c)
	t.Cleanup(func() { hub.Unsubscribe(sub) })
	return c
}

type frameCollector struct {
	mu     sync.Mutex
	frames []string
}

func (c *frameCollector) Send(frame []byte) error {
	c.mu.Lock()
	c.frames = append(c.frames, string(frame))
	c.mu.Unlock()
	return nil
}

func (c *frameCollector) Close() {}

func (c *frameCollector) countContaining(substr string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, f := range c.frames {
		if strings.Contains(f, substr) {
			n++
		}
	}
	return n
}

func TestDriverSubmitsThroughIngestionPath(t *testing.T) {
	hub := server.NewHub()
	collector := startObserver(t, hub)

	decider := &scriptedDecider{decisions: []Decision{
		{ChatMessage: "greetings", Action: Action{Kind: ActionTurn, Direction: "left", Degrees: 10}},
	}}

	d := NewDriver(hub, Options{
		Agents:        []Profile{{ID: "ai-agent-1", DisplayName: "Iris"}},
		MoveInterval:  20 * time.Millisecond,
		ThinkInterval: 30 * time.Millisecond,
		Decider:       decider,
		Speech:        fakeSpeech{},
		Rand:          rand.New(rand.NewSource(7)),
	})
	d.Start()
	defer d.Stop()

	// Spawn pose arrives first, then wander updates and the scripted chat.
	require.Eventually(t, func() bool {
		return collector.countContaining(`"type":"eyeUpdate"`) >= 2 &&
			collector.countContaining(`"type":"chatMessage"`) >= 1
	}, 3*time.Second, 10*time.Millisecond)

	eyes, _ := hub.Snapshot()
	require.Len(t, eyes, 1)
	require.Equal(t, "ai-agent-1", eyes[0].ID)
	require.Equal(t, "Iris", eyes[0].Name)

	require.Equal(t, 1, collector.countContaining("data:audio/mpeg;base64"))
}

func TestDriverPerceptionSeesChatHistory(t *testing.T) {
	hub := server.NewHub()

	decider := &scriptedDecider{}
	d := NewDriver(hub, Options{
		Agents:        []Profile{{ID: "ai-agent-1", DisplayName: "Iris"}},
		MoveInterval:  time.Hour, // keep the wanderer still
		ThinkInterval: 25 * time.Millisecond,
		Decider:       decider,
		Rand:          rand.New(rand.NewSource(7)),
	})
	d.Start()
	defer d.Stop()

	require.NoError(t, hub.Ingest([]byte(`{"type":"chatMessage","id":"m1","userId":"human-1","name":"Ada","text":"anyone here?","timestamp":1}`)))

	require.Eventually(t, func() bool {
		decider.mu.Lock()
		defer decider.mu.Unlock()
		for _, p := range decider.seen {
			for _, line := range p.Chat {
				if line.Text == "anyone here?" {
					return true
				}
			}
		}
		return false
	}, 3*time.Second, 10*time.Millisecond)
}

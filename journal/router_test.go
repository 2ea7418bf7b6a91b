package journal_test

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"eyefield/server/journal"
	"eyefield/server/journal/sinks"
)

func newRouter(t *testing.T, cfg journal.Config) (*journal.Router, *sinks.MemorySink) {
	t.Helper()
	mem := sinks.NewMemorySink()
	router := journal.NewRouter(nil, cfg, []journal.NamedSink{{Name: "memory", Sink: mem}})
	t.Cleanup(func() { _ = router.Close(context.Background()) })
	return router, mem
}

func waitForEvents(t *testing.T, mem *sinks.MemorySink, n int) []journal.Event {
	t.Helper()
	require.Eventually(t, func() bool {
		return len(mem.Events()) >= n
	}, 2*time.Second, 5*time.Millisecond)
	return mem.Events()
}

func TestRouterDeliversToSink(t *testing.T) {
	router, mem := newRouter(t, journal.DefaultConfig())

	router.Publish(context.Background(), journal.Event{
		Type:     journal.EventEyeCreated,
		Entity:   journal.EntityRef{ID: "eye-1", Kind: journal.EntityKindEye},
		Severity: journal.SeverityInfo,
	})

	events := waitForEvents(t, mem, 1)
	require.Equal(t, journal.EventEyeCreated, events[0].Type)
	require.Equal(t, "eye-1", events[0].Entity.ID)
	require.False(t, events[0].Time.IsZero(), "router stamps missing times")
}

func TestRouterFiltersBelowMinimumSeverity(t *testing.T) {
	cfg := journal.DefaultConfig()
	cfg.MinimumSeverity = journal.SeverityWarn
	router, mem := newRouter(t, cfg)

	router.Publish(context.Background(), journal.Event{Type: journal.EventEyeUpdated, Severity: journal.SeverityDebug})
	router.Publish(context.Background(), journal.Event{Type: journal.EventEyeUpdated, Severity: journal.SeverityInfo})
	router.Publish(context.Background(), journal.Event{Type: journal.EventUpdateDropped, Severity: journal.SeverityWarn})

	events := waitForEvents(t, mem, 1)
	require.Len(t, events, 1)
	require.Equal(t, journal.EventUpdateDropped, events[0].Type)
}

func TestRouterIgnoresUntypedEvents(t *testing.T) {
	router, mem := newRouter(t, journal.DefaultConfig())

	router.Publish(context.Background(), journal.Event{Severity: journal.SeverityError})
	router.Publish(context.Background(), journal.Event{Type: journal.EventChatRelayed, Severity: journal.SeverityInfo})

	events := waitForEvents(t, mem, 1)
	require.Len(t, events, 1)
}

func TestRouterCloseFlushesAndIsIdempotent(t *testing.T) {
	mem := sinks.NewMemorySink()
	router := journal.NewRouter(nil, journal.DefaultConfig(), []journal.NamedSink{{Name: "memory", Sink: mem}})

	for i := 0; i < 10; i++ {
		router.Publish(context.Background(), journal.Event{Type: journal.EventBoxUpdated, Severity: journal.SeverityInfo})
	}
	require.NoError(t, router.Close(context.Background()))
	require.NoError(t, router.Close(context.Background()))
	require.Len(t, mem.Events(), 10)

	// Publishing after close is a no-op, not a panic.
	router.Publish(context.Background(), journal.Event{Type: journal.EventBoxUpdated, Severity: journal.SeverityInfo})
	require.Len(t, mem.Events(), 10)
}

func TestRouterStatsCountDeliveries(t *testing.T) {
	router, mem := newRouter(t, journal.DefaultConfig())

	router.Publish(context.Background(), journal.Event{Type: journal.EventEyeEvicted, Severity: journal.SeverityInfo})
	waitForEvents(t, mem, 1)

	stats := router.Stats()
	require.EqualValues(t, 1, stats.EventsTotal)
	require.Zero(t, stats.DroppedTotal)
}

func TestRouterSinkLookup(t *testing.T) {
	router, mem := newRouter(t, journal.DefaultConfig())
	require.Equal(t, journal.Sink(mem), router.Sink("memory"))
	require.Nil(t, router.Sink("absent"))
}

func TestWithFieldsAnnotatesExtra(t *testing.T) {
	var captured journal.Event
	base := journal.PublisherFunc(func(_ context.Context, event journal.Event) {
		captured = event
	})

	wrapped := journal.WithFields(base, map[string]any{"node": "a"})
	wrapped.Publish(context.Background(), journal.Event{Type: journal.EventEyeCreated})

	require.Equal(t, "a", captured.Extra["node"])
}

func TestJSONLSinkWritesOneLinePerEvent(t *testing.T) {
	var buf bytes.Buffer
	sink := sinks.NewJSONL(&buf, 0)

	require.NoError(t, sink.Write(journal.Event{
		Type:     journal.EventEyeCreated,
		Time:     time.UnixMilli(1000),
		Entity:   journal.EntityRef{ID: "eye-1", Kind: journal.EntityKindEye},
		Severity: journal.SeverityInfo,
	}))
	require.NoError(t, sink.Write(journal.Event{
		Type:     journal.EventEyeEvicted,
		Time:     time.UnixMilli(2000),
		Entity:   journal.EntityRef{ID: "eye-1", Kind: journal.EntityKindEye},
		Severity: journal.SeverityInfo,
	}))
	require.NoError(t, sink.Close(context.Background()))

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 2)
	require.Contains(t, string(lines[0]), `"eye_created"`)
	require.Contains(t, string(lines[1]), `"eye_evicted"`)
}

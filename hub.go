package server

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"eyefield/server/internal/observability"
	"eyefield/server/journal"
)

// Stream is one subscriber's outbound transport. Send delivers a single
// framed event; a returned error means the peer is gone and the stream will
// be removed from the live set. Implementations live in internal/transport.
type Stream interface {
	Send(frame []byte) error
	Close()
}

// Subscription tracks one live stream inside the hub. Frames pass through a
// buffered queue drained by a dedicated writer goroutine, so a slow network
// peer never blocks the hub lock; a full queue counts as a failed write.
type Subscription struct {
	hub       *Hub
	stream    Stream
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

// Done is closed when the subscription has been removed from the live set.
func (s *Subscription) Done() <-chan struct{} { return s.done }

func (s *Subscription) finish() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.stream.Close()
	})
}

func (s *Subscription) run() {
	for {
		select {
		case <-s.done:
			return
		case frame := <-s.send:
			if err := s.stream.Send(frame); err != nil {
				s.hub.Unsubscribe(s)
				return
			}
		}
	}
}

// Clock supplies wall-clock time; injected for tests.
type Clock func() time.Time

// HubConfig tunes the hub. Zero values fall back to the package defaults.
type HubConfig struct {
	StaleAfter    time.Duration
	SweepInterval time.Duration
	QueueSize     int
	Journal       journal.Publisher
	Metrics       *observability.HubMetrics
	Logger        *zap.Logger
	Clock         Clock
}

// Hub owns the entity registry and the subscriber set. Every mutation and
// every snapshot happens under one mutex: the registry itself stays a dumb
// map store, and the mutex supplies the single-writer atomicity the
// original cooperative event loop got for free.
type Hub struct {
	mu          sync.Mutex
	registry    *Registry
	subscribers map[*Subscription]struct{}
	boxSeq      int

	staleAfter    time.Duration
	sweepInterval time.Duration
	queueSize     int

	journal journal.Publisher
	metrics *observability.HubMetrics
	logger  *zap.Logger
	clock   Clock
}

// NewHub constructs a hub with default thresholds, a nop journal, and no
// metrics.
func NewHub() *Hub {
	return NewHubWithConfig(HubConfig{})
}

// NewHubWithConfig constructs a hub from explicit dependencies so tests can
// isolate instances; nothing here is process-global.
func NewHubWithConfig(cfg HubConfig) *Hub {
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = staleAfter
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = sweepInterval
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = subscriberQueueSize
	}
	if cfg.Journal == nil {
		cfg.Journal = journal.NopPublisher()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Hub{
		registry:      NewRegistry(),
		subscribers:   make(map[*Subscription]struct{}),
		staleAfter:    cfg.StaleAfter,
		sweepInterval: cfg.SweepInterval,
		queueSize:     cfg.QueueSize,
		journal:       cfg.Journal,
		metrics:       cfg.Metrics,
		logger:        cfg.Logger,
		clock:         cfg.Clock,
	}
}

// Ingest validates one raw event and, if accepted, commits it to the
// registry and fans it out. It is the single ingestion path: the HTTP
// handler and the autonomous agent driver both call it, so humans and
// agents get identical treatment. A nil return means the transport should
// acknowledge — including schema-valid updates that were silently dropped.
func (h *Hub) Ingest(raw []byte) error {
	event, err := DecodeEvent(raw)
	if err != nil {
		h.metrics.IncRejected()
		return err
	}

	now := h.clock().UnixMilli()

	switch ev := event.(type) {
	case *EyeUpdate:
		h.ingestEye(ev, now)
	case *BoxUpdate:
		h.ingestBox(ev, now)
	case *ChatMessage:
		h.relayChat(ev)
	case *SymbolEvent:
		h.relaySymbol(ev)
	}
	return nil
}

func (h *Hub) ingestEye(ev *EyeUpdate, now int64) {
	h.mu.Lock()
	prior := h.registry.eye(ev.ID)
	next, reason := reconcileEye(prior, ev, now)
	if reason != dropNone {
		h.mu.Unlock()
		h.noteDrop(journal.EntityKindEye, ev.ID, reason)
		return
	}
	h.registry.upsertEye(next)
	frame, err := json.Marshal(next.wire())
	if err != nil {
		h.mu.Unlock()
		h.logger.Error("failed to marshal eye state", zap.String("id", ev.ID), zap.Error(err))
		return
	}
	stale := h.publishLocked(frame)
	eyes, boxes := len(h.registry.eyes), len(h.registry.boxes)
	h.mu.Unlock()

	h.metrics.IncAccepted()
	h.metrics.SetEntities(eyes, boxes)
	h.finishAll(stale)

	eventType := journal.EventEyeUpdated
	if prior == nil {
		eventType = journal.EventEyeCreated
	}
	h.journal.Publish(context.Background(), journal.Event{
		Type:     eventType,
		Entity:   journal.EntityRef{ID: ev.ID, Kind: journal.EntityKindEye},
		Severity: journal.SeverityDebug,
	})
}

func (h *Hub) ingestBox(ev *BoxUpdate, now int64) {
	h.mu.Lock()
	prior := h.registry.box(ev.ID)
	next, reason := reconcileBox(prior, ev, now)
	if reason != dropNone {
		h.mu.Unlock()
		h.noteDrop(journal.EntityKindBox, ev.ID, reason)
		return
	}
	h.registry.upsertBox(next)
	frame, err := json.Marshal(next.wire())
	if err != nil {
		h.mu.Unlock()
		h.logger.Error("failed to marshal box state", zap.String("id", ev.ID), zap.Error(err))
		return
	}
	stale := h.publishLocked(frame)
	h.mu.Unlock()

	h.metrics.IncAccepted()
	h.finishAll(stale)

	h.journal.Publish(context.Background(), journal.Event{
		Type:     journal.EventBoxUpdated,
		Entity:   journal.EntityRef{ID: ev.ID, Kind: journal.EntityKindBox},
		Severity: journal.SeverityDebug,
	})
}

// relayChat broadcasts without touching the registry. Chat history, if
// anyone wants one, is the receiver's problem.
func (h *Hub) relayChat(msg *ChatMessage) {
	frame, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("failed to marshal chat message", zap.String("id", msg.ID), zap.Error(err))
		return
	}

	h.mu.Lock()
	stale := h.publishLocked(frame)
	h.mu.Unlock()

	h.metrics.IncAccepted()
	h.finishAll(stale)

	h.journal.Publish(context.Background(), journal.Event{
		Type:     journal.EventChatRelayed,
		Entity:   journal.EntityRef{ID: msg.UserID, Kind: journal.EntityKindChat},
		Severity: journal.SeverityDebug,
	})
}

// relaySymbol broadcasts a glyph flash. Like chat, symbols are ephemeral
// and leave no trace in the registry.
func (h *Hub) relaySymbol(ev *SymbolEvent) {
	frame, err := json.Marshal(ev)
	if err != nil {
		h.logger.Error("failed to marshal symbol event", zap.String("id", ev.ID), zap.Error(err))
		return
	}

	h.mu.Lock()
	stale := h.publishLocked(frame)
	h.mu.Unlock()

	h.metrics.IncAccepted()
	h.finishAll(stale)

	h.journal.Publish(context.Background(), journal.Event{
		Type:     journal.EventSymbolRelayed,
		Entity:   journal.EntityRef{ID: ev.ID, Kind: journal.EntityKindSymbol},
		Severity: journal.SeverityDebug,
	})
}

func (h *Hub) noteDrop(kind journal.EntityKind, id string, reason dropReason) {
	h.metrics.IncDropped()
	h.logger.Warn("dropping incomplete update",
		zap.String("entity", id),
		zap.String("reason", string(reason)))
	h.journal.Publish(context.Background(), journal.Event{
		Type:     journal.EventUpdateDropped,
		Entity:   journal.EntityRef{ID: id, Kind: kind},
		Severity: journal.SeverityWarn,
		Payload:  map[string]any{"reason": string(reason)},
	})
}

// SeedBoxes creates count boxes spaced along the X axis at the fixed spawn
// height. The creation path is the only place colors are assigned; the
// palette index follows creation order across the hub's lifetime.
func (h *Hub) SeedBoxes(count int) {
	if count <= 0 {
		return
	}
	now := h.clock().UnixMilli()

	var allStale []*Subscription
	h.mu.Lock()
	for i := 0; i < count; i++ {
		id := fmt.Sprintf("box_%d", i+1)
		if h.registry.box(id) != nil {
			continue
		}
		pos := Vec3{
			float64(i)*boxSpawnSpacing - float64(count-1)*boxSpawnSpacing/2,
			boxSpawnY,
			boxSpawnZ,
		}
		box := newSeededBox(id, pos, Vec3{}, h.boxSeq, now)
		h.boxSeq++
		h.registry.upsertBox(box)
		if frame, err := json.Marshal(box.wire()); err == nil {
			allStale = append(allStale, h.publishLocked(frame)...)
		}
	}
	eyes, boxes := len(h.registry.eyes), len(h.registry.boxes)
	h.mu.Unlock()

	h.metrics.SetEntities(eyes, boxes)
	h.finishAll(allStale)

	h.journal.Publish(context.Background(), journal.Event{
		Type:     journal.EventBoxSeeded,
		Entity:   journal.EntityRef{Kind: journal.EntityKindSystem},
		Severity: journal.SeverityInfo,
		Payload:  map[string]any{"count": count},
	})
}

// Subscribe adds a stream to the live set. The full snapshot — every eye,
// then every box — is queued before the subscription joins the set, so the
// newcomer sees the complete world as of subscribe time and live events
// strictly after it.
func (h *Hub) Subscribe(stream Stream) *Subscription {
	sub := &Subscription{
		hub:    h,
		stream: stream,
		send:   make(chan []byte, h.queueSize),
		done:   make(chan struct{}),
	}

	h.mu.Lock()
	ok := true
	for _, eye := range h.registry.allEyes() {
		if !enqueue(sub, mustMarshal(eye.wire())) {
			ok = false
			break
		}
	}
	if ok {
		for _, box := range h.registry.allBoxes() {
			if !enqueue(sub, mustMarshal(box.wire())) {
				ok = false
				break
			}
		}
	}
	if !ok {
		h.mu.Unlock()
		h.logger.Warn("subscriber queue exhausted during snapshot")
		sub.finish()
		return sub
	}
	h.subscribers[sub] = struct{}{}
	count := len(h.subscribers)
	h.mu.Unlock()

	h.metrics.SetSubscribers(count)
	go sub.run()
	return sub
}

// Unsubscribe removes a subscription, idempotently. Called on explicit
// client disconnect and internally on failed writes.
func (h *Hub) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	h.mu.Lock()
	_, present := h.subscribers[sub]
	delete(h.subscribers, sub)
	count := len(h.subscribers)
	h.mu.Unlock()

	if present {
		h.metrics.SetSubscribers(count)
	}
	sub.finish()
}

// publishLocked queues one frame to every live subscription in commit
// order. Subscriptions whose queue is full are removed from the set and
// returned for the caller to finish outside the lock.
func (h *Hub) publishLocked(frame []byte) []*Subscription {
	var stale []*Subscription
	for sub := range h.subscribers {
		if !enqueue(sub, frame) {
			delete(h.subscribers, sub)
			stale = append(stale, sub)
		}
	}
	h.metrics.IncBroadcasts()
	return stale
}

func (h *Hub) finishAll(stale []*Subscription) {
	for _, sub := range stale {
		h.logger.Warn("removing slow subscriber")
		sub.finish()
	}
	if len(stale) > 0 {
		h.mu.Lock()
		count := len(h.subscribers)
		h.mu.Unlock()
		h.metrics.SetSubscribers(count)
	}
}

func enqueue(sub *Subscription, frame []byte) bool {
	select {
	case sub.send <- frame:
		return true
	default:
		return false
	}
}

func mustMarshal(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		// Wire structs contain only plain fields; this cannot fail at runtime.
		panic(err)
	}
	return data
}

// RunReaper drives the staleness sweep until the stop channel closes.
func (h *Hub) RunReaper(stop <-chan struct{}) {
	ticker := time.NewTicker(h.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case now := <-ticker.C:
			h.SweepStale(now)
		}
	}
}

// SweepStale evicts every eye whose last update is older than the
// staleness threshold and announces each eviction to live subscribers.
// Boxes are world furniture and never expire.
func (h *Hub) SweepStale(now time.Time) int {
	nowMillis := now.UnixMilli()
	cutoff := h.staleAfter.Milliseconds()

	var evicted []string
	var allStale []*Subscription

	h.mu.Lock()
	for _, eye := range h.registry.allEyes() {
		if nowMillis-eye.UpdatedAt <= cutoff {
			continue
		}
		h.registry.evictEye(eye.ID)
		evicted = append(evicted, eye.ID)
		frame := mustMarshal(EyeRemoved{Type: EventTypeEyeRemoved, ID: eye.ID, T: nowMillis})
		allStale = append(allStale, h.publishLocked(frame)...)
	}
	eyes, boxes := len(h.registry.eyes), len(h.registry.boxes)
	h.mu.Unlock()

	h.finishAll(allStale)
	if len(evicted) == 0 {
		return 0
	}

	h.metrics.IncEvictions(len(evicted))
	h.metrics.SetEntities(eyes, boxes)
	for _, id := range evicted {
		h.logger.Info("evicting stale eye", zap.String("id", id))
		h.journal.Publish(context.Background(), journal.Event{
			Type:     journal.EventEyeEvicted,
			Entity:   journal.EntityRef{ID: id, Kind: journal.EntityKindEye},
			Severity: journal.SeverityInfo,
		})
	}
	return len(evicted)
}

// Snapshot returns the wire form of every current entity, eyes then boxes.
func (h *Hub) Snapshot() ([]EyeState, []BoxState) {
	h.mu.Lock()
	defer h.mu.Unlock()

	eyes := make([]EyeState, 0, len(h.registry.eyes))
	for _, eye := range h.registry.allEyes() {
		eyes = append(eyes, eye.wire())
	}
	boxes := make([]BoxState, 0, len(h.registry.boxes))
	for _, box := range h.registry.allBoxes() {
		boxes = append(boxes, box.wire())
	}
	return eyes, boxes
}

// DiagnosticsEye is one row of the diagnostics endpoint.
type DiagnosticsEye struct {
	ID         string `json:"id"`
	Name       string `json:"name,omitempty"`
	LastUpdate int64  `json:"lastUpdate"`
	AgeMillis  int64  `json:"ageMillis"`
}

// Diagnostics summarizes hub state for operators.
type Diagnostics struct {
	ServerTime       int64            `json:"serverTime"`
	Eyes             []DiagnosticsEye `json:"eyes"`
	BoxCount         int              `json:"boxCount"`
	Subscribers      int              `json:"subscribers"`
	StaleAfterMillis int64            `json:"staleAfterMillis"`
	SweepMillis      int64            `json:"sweepMillis"`
}

// DiagnosticsSnapshot exposes last-update ages for the diagnostics endpoint.
func (h *Hub) DiagnosticsSnapshot() Diagnostics {
	now := h.clock().UnixMilli()

	h.mu.Lock()
	defer h.mu.Unlock()

	eyes := make([]DiagnosticsEye, 0, len(h.registry.eyes))
	for _, eye := range h.registry.allEyes() {
		eyes = append(eyes, DiagnosticsEye{
			ID:         eye.ID,
			Name:       eye.Name,
			LastUpdate: eye.UpdatedAt,
			AgeMillis:  now - eye.UpdatedAt,
		})
	}
	return Diagnostics{
		ServerTime:       now,
		Eyes:             eyes,
		BoxCount:         len(h.registry.boxes),
		Subscribers:      len(h.subscribers),
		StaleAfterMillis: h.staleAfter.Milliseconds(),
		SweepMillis:      h.sweepInterval.Milliseconds(),
	}
}

package agent

import (
	"context"
	"encoding/json"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	server "eyefield/server"
	"eyefield/server/internal/speech"
)

const (
	worldBound     = 250.0
	wanderMinStep  = 5.0
	wanderMaxStep  = 25.0
	wanderLookLead = wanderMaxStep / 2
	chatHistoryCap = 20

	// Agents are eye avatars: they live on a fixed horizontal plane and
	// wander in X/Z only.
	eyeHeight = 5.0
)

// Profile identifies one autonomous agent.
type Profile struct {
	ID          string
	DisplayName string
}

// Options configures the driver. Zero intervals fall back to defaults; a
// nil Decider disables the think loop, leaving pure wanderers.
type Options struct {
	Agents        []Profile
	MoveInterval  time.Duration
	ThinkInterval time.Duration
	Decider       Decider
	Speech        speech.Synthesizer
	Logger        *zap.Logger
	Rand          *rand.Rand
	Clock         func() time.Time
}

// Driver runs every configured agent until stopped. Each agent owns its
// pose locally; the hub only ever sees it through ordinary eyeUpdates.
type Driver struct {
	hub     *server.Hub
	agents  []Profile
	move    time.Duration
	think   time.Duration
	decider Decider
	speech  speech.Synthesizer
	logger  *zap.Logger
	clock   func() time.Time

	randMu sync.Mutex
	rand   *rand.Rand

	chatMu  sync.Mutex
	chat    []ChatLine
	chatSub *server.Subscription

	stop chan struct{}
	wg   sync.WaitGroup
}

func NewDriver(hub *server.Hub, opts Options) *Driver {
	if opts.MoveInterval <= 0 {
		opts.MoveInterval = 5 * time.Second
	}
	if opts.ThinkInterval <= 0 {
		opts.ThinkInterval = 7 * time.Second
	}
	if opts.Speech == nil {
		opts.Speech = speech.Nop{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Rand == nil {
		opts.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Driver{
		hub:     hub,
		agents:  opts.Agents,
		move:    opts.MoveInterval,
		think:   opts.ThinkInterval,
		decider: opts.Decider,
		speech:  opts.Speech,
		logger:  opts.Logger,
		clock:   opts.Clock,
		rand:    opts.Rand,
		stop:    make(chan struct{}),
	}
}

// Start spawns one goroutine per agent plus a shared chat observer.
func (d *Driver) Start() {
	if len(d.agents) == 0 {
		return
	}
	d.chatSub = d.hub.Subscribe(&chatObserver{driver: d})

	for i, profile := range d.agents {
		d.wg.Add(1)
		// Stagger think ticks so agents do not all call the decider at once.
		stagger := time.Duration(i) * d.think / time.Duration(len(d.agents))
		go d.runAgent(profile, stagger)
	}
}

// Stop halts every agent loop and detaches the chat observer.
func (d *Driver) Stop() {
	close(d.stop)
	d.wg.Wait()
	if d.chatSub != nil {
		d.hub.Unsubscribe(d.chatSub)
	}
}

// chatObserver feeds broadcast chat into the shared history ring. Snapshot
// and non-chat frames are skipped.
type chatObserver struct {
	driver *Driver
}

func (o *chatObserver) Send(frame []byte) error {
	var msg struct {
		Type   string `json:"type"`
		UserID string `json:"userId"`
		Name   string `json:"name"`
		Text   string `json:"text"`
	}
	if err := json.Unmarshal(frame, &msg); err != nil || msg.Type != server.EventTypeChatMessage {
		return nil
	}
	o.driver.remember(ChatLine{UserID: msg.UserID, Name: msg.Name, Text: msg.Text})
	return nil
}

func (o *chatObserver) Close() {}

func (d *Driver) remember(line ChatLine) {
	d.chatMu.Lock()
	defer d.chatMu.Unlock()
	d.chat = append(d.chat, line)
	if len(d.chat) > chatHistoryCap {
		d.chat = d.chat[len(d.chat)-chatHistoryCap:]
	}
}

func (d *Driver) recentChat() []ChatLine {
	d.chatMu.Lock()
	defer d.chatMu.Unlock()
	return append([]ChatLine(nil), d.chat...)
}

func (d *Driver) randFloat() float64 {
	d.randMu.Lock()
	defer d.randMu.Unlock()
	return d.rand.Float64()
}

func (d *Driver) runAgent(profile Profile, stagger time.Duration) {
	defer d.wg.Done()
	logger := d.logger.With(zap.String("agent", profile.ID))

	// Spawn somewhere in the middle of the field at eye height and announce
	// immediately; an eye cannot exist until it has reported a position.
	pos := server.Vec3{
		(d.randFloat()*2 - 1) * 50,
		eyeHeight,
		(d.randFloat()*2 - 1) * 50,
	}
	look := server.Vec3{pos[0], eyeHeight, pos[2] - wanderLookLead}
	d.submitPose(profile, pos, look, logger)

	if stagger > 0 {
		select {
		case <-d.stop:
			return
		case <-time.After(stagger):
		}
	}

	moveTicker := time.NewTicker(d.move)
	defer moveTicker.Stop()

	var thinkC <-chan time.Time
	if d.decider != nil {
		thinkTicker := time.NewTicker(d.think)
		defer thinkTicker.Stop()
		thinkC = thinkTicker.C
	}

	for {
		select {
		case <-d.stop:
			return
		case <-moveTicker.C:
			pos, look = d.wander(profile, pos, logger)
		case <-thinkC:
			pos, look = d.thinkStep(profile, pos, look, logger)
		}
	}
}

// wander takes one random step in the horizontal plane: an independent 5 to
// 25 unit offset with random sign on X and Z, clamped to the world bounds,
// gaze leading the movement direction. Height never changes; a step the
// clamp cancels entirely is skipped.
func (d *Driver) wander(profile Profile, pos server.Vec3, logger *zap.Logger) (server.Vec3, server.Vec3) {
	next := server.Vec3{pos[0], eyeHeight, pos[2]}
	for _, axis := range [...]int{0, 2} {
		offset := wanderMinStep + d.randFloat()*(wanderMaxStep-wanderMinStep)
		if d.randFloat() < 0.5 {
			offset = -offset
		}
		next[axis] = clamp(pos[axis]+offset, -worldBound, worldBound)
	}

	dx, dz := next[0]-pos[0], next[2]-pos[2]
	planar := math.Hypot(dx, dz)
	if planar == 0 {
		return pos, server.Vec3{pos[0], eyeHeight, pos[2] - wanderLookLead}
	}

	look := server.Vec3{
		next[0] + dx/planar*wanderLookLead,
		eyeHeight,
		next[2] + dz/planar*wanderLookLead,
	}
	d.submitPose(profile, next, look, logger)
	return next, look
}

// thinkStep asks the decider and applies the outcome. Every failure path
// degrades to doing nothing; an agent that cannot think still wanders.
func (d *Driver) thinkStep(profile Profile, pos, look server.Vec3, logger *zap.Logger) (server.Vec3, server.Vec3) {
	ctx, cancel := context.WithTimeout(context.Background(), d.think)
	defer cancel()

	eyes, boxes := d.hub.Snapshot()
	decision, err := d.decider.Decide(ctx, Perception{
		AgentID: profile.ID,
		Name:    profile.DisplayName,
		Pos:     pos,
		Look:    look,
		Eyes:    eyes,
		Boxes:   boxes,
		Chat:    d.recentChat(),
	})
	if err != nil {
		logger.Warn("decider failed, holding still", zap.Error(err))
		decision = Decision{Action: Action{Kind: ActionNone}}
	}

	if decision.ChatMessage != "" {
		d.say(ctx, profile, decision.ChatMessage, logger)
	}

	switch decision.Action.Kind {
	case ActionMove:
		pos, look = applyMove(pos, look, decision.Action)
		d.submitPose(profile, pos, look, logger)
	case ActionTurn:
		look = applyTurn(pos, look, decision.Action)
		d.submitPose(profile, pos, look, logger)
	}
	return pos, look
}

func (d *Driver) say(ctx context.Context, profile Profile, text string, logger *zap.Logger) {
	msg := server.ChatMessage{
		Type:      server.EventTypeChatMessage,
		ID:        uuid.NewString(),
		UserID:    profile.ID,
		Name:      profile.DisplayName,
		Text:      text,
		Timestamp: float64(d.clock().UnixMilli()),
	}
	if audio, err := d.speech.Synthesize(ctx, text); err != nil {
		logger.Warn("speech synthesis failed, sending text only", zap.Error(err))
	} else {
		msg.AudioSrc = audio
	}

	raw, err := json.Marshal(msg)
	if err != nil {
		logger.Error("failed to marshal chat message", zap.Error(err))
		return
	}
	if err := d.hub.Ingest(raw); err != nil {
		logger.Error("chat message rejected", zap.Error(err))
	}
}

func (d *Driver) submitPose(profile Profile, pos, look server.Vec3, logger *zap.Logger) {
	update := server.EyeUpdate{
		Type: server.EventTypeEyeUpdate,
		ID:   profile.ID,
		Name: profile.DisplayName,
		P:    &pos,
		L:    &look,
		T:    float64(d.clock().UnixMilli()),
	}
	raw, err := json.Marshal(update)
	if err != nil {
		logger.Error("failed to marshal pose update", zap.Error(err))
		return
	}
	if err := d.hub.Ingest(raw); err != nil {
		logger.Error("pose update rejected", zap.Error(err))
	}
}

// applyMove translates along the current gaze direction, carrying the gaze
// with the body. Backward negates the direction.
func applyMove(pos, look server.Vec3, action Action) (server.Vec3, server.Vec3) {
	dir := sub(look, pos)
	if length(dir) == 0 {
		dir = server.Vec3{0, 0, -1}
	}
	step := scale(normalize(dir), action.Distance)
	if action.Direction == "backward" {
		step = scale(step, -1)
	}

	next := pos
	for i := range next {
		next[i] = clamp(pos[i]+step[i], -worldBound, worldBound)
	}
	return next, add(next, sub(look, pos))
}

// applyTurn rotates the gaze around the vertical axis through the agent's
// position. Left is counterclockwise seen from above.
func applyTurn(pos, look server.Vec3, action Action) server.Vec3 {
	radians := action.Degrees * math.Pi / 180
	if action.Direction == "right" {
		radians = -radians
	}

	dir := sub(look, pos)
	sin, cos := math.Sin(radians), math.Cos(radians)
	rotated := server.Vec3{
		dir[0]*cos + dir[2]*sin,
		dir[1],
		-dir[0]*sin + dir[2]*cos,
	}
	return add(pos, rotated)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func add(a, b server.Vec3) server.Vec3 {
	return server.Vec3{a[0] + b[0], a[1] + b[1], a[2] + b[2]}
}

func sub(a, b server.Vec3) server.Vec3 {
	return server.Vec3{a[0] - b[0], a[1] - b[1], a[2] - b[2]}
}

func scale(v server.Vec3, f float64) server.Vec3 {
	return server.Vec3{v[0] * f, v[1] * f, v[2] * f}
}

func length(v server.Vec3) float64 {
	return math.Sqrt(v[0]*v[0] + v[1]*v[1] + v[2]*v[2])
}

func normalize(v server.Vec3) server.Vec3 {
	l := length(v)
	if l == 0 {
		return server.Vec3{}
	}
	return scale(v, 1/l)
}

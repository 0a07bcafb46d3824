// Package room runs one goroutine per live room. Every mutating operation
// on a room's session state (code diffs, battle transitions, execution
// queue advancement) flows through the room's inbox and is applied one at
// a time in arrival order. Different rooms proceed fully in parallel.
package room

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/kretes-dev/codearena-backend/internal/engine"
	"github.com/kretes-dev/codearena-backend/internal/metrics"
	"github.com/kretes-dev/codearena-backend/internal/protocol"
	"github.com/kretes-dev/codearena-backend/internal/sandbox"
)

type Msg interface{ isRoomMsg() }

// Join registers a client connection and its outbox for delivery.
type Join struct {
	User   engine.UserInfo
	Outbox chan protocol.ServerEvent
}

// Leave detaches a client. Pending execution requests from the user are
// flagged as originating from an absent user, not cancelled.
type Leave struct{ UserID string }

// FromClient carries one decoded protocol event from a connected user.
type FromClient struct {
	UserID string
	Event  protocol.ClientEvent
}

// GetState replies with an independent snapshot of the session state.
type GetState struct {
	Reply chan engine.SessionState
}

// EndBattle is the administrative end signal (host or HTTP surface).
type EndBattle struct{ UserID string }

type Shutdown struct{}

func (Join) isRoomMsg()       {}
func (Leave) isRoomMsg()      {}
func (FromClient) isRoomMsg() {}
func (GetState) isRoomMsg()   {}
func (EndBattle) isRoomMsg()  {}
func (Shutdown) isRoomMsg()   {}

// internal timer and completion messages; generation counters drop fires
// armed for a state that has since moved on.
type countdownTick struct{ gen uint64 }
type battleTick struct{ gen uint64 }
type typingExpired struct {
	userID string
	gen    uint64
}
type execDone struct {
	id     string
	result sandbox.Result
	err    error
}
type gradeDone struct {
	userID  string
	codeLen int
	elapsed time.Duration
	res     sandbox.GradeResult
	err     error
}
type idleSweep struct{}

func (countdownTick) isRoomMsg() {}
func (battleTick) isRoomMsg()    {}
func (typingExpired) isRoomMsg() {}
func (execDone) isRoomMsg()      {}
func (gradeDone) isRoomMsg()     {}
func (idleSweep) isRoomMsg()     {}

// Config tunes the room's timers; zero values take the defaults. Tests
// shrink them so lifecycle scenarios run in milliseconds.
type Config struct {
	CountdownSec int
	Tick         time.Duration
	TypingQuiet  time.Duration
	IdleEvery    time.Duration
	Metrics      *metrics.Metrics
}

func (c Config) withDefaults() Config {
	if c.CountdownSec == 0 {
		c.CountdownSec = 3
	}
	if c.Tick == 0 {
		c.Tick = time.Second
	}
	if c.TypingQuiet == 0 {
		c.TypingQuiet = engine.TypingQuiet
	}
	if c.IdleEvery == 0 {
		c.IdleEvery = 10 * time.Second
	}
	return c
}

type Room struct {
	ID string

	inbox   chan Msg
	state   engine.SessionState
	clients map[string]chan protocol.ServerEvent

	queue   []*engine.ExecutionRequest
	running *engine.ExecutionRequest

	cfg       Config
	runner    sandbox.Runner
	log       *zap.Logger
	ctx       context.Context
	cancel    context.CancelFunc
	timerGen  uint64
	countdown int
	typingGen map[string]uint64
}

func New(parent context.Context, initial engine.SessionState, runner sandbox.Runner, log *zap.Logger, cfg Config) *Room {
	ctx, cancel := context.WithCancel(parent)
	r := &Room{
		ID:        initial.RoomID,
		inbox:     make(chan Msg, 64),
		state:     initial,
		clients:   make(map[string]chan protocol.ServerEvent),
		cfg:       cfg.withDefaults(),
		runner:    runner,
		log:       log.With(zap.String("room", initial.RoomID)),
		ctx:       ctx,
		cancel:    cancel,
		typingGen: make(map[string]uint64),
	}
	go r.loop()
	return r
}

// Post delivers a message to the room loop. Once the room has shut down it
// becomes a no-op instead of blocking the sender on a dead inbox.
func (r *Room) Post(m Msg) {
	select {
	case r.inbox <- m:
	case <-r.ctx.Done():
	}
}

// Snapshot fetches an independent copy of the session state through the
// room loop, so callers never race its owner.
func (r *Room) Snapshot(ctx context.Context) (engine.SessionState, error) {
	reply := make(chan engine.SessionState, 1)
	select {
	case r.inbox <- GetState{Reply: reply}:
	case <-ctx.Done():
		return engine.SessionState{}, ctx.Err()
	case <-r.ctx.Done():
		return engine.SessionState{}, engine.ErrRoomClosed
	}
	select {
	case s := <-reply:
		return s, nil
	case <-ctx.Done():
		return engine.SessionState{}, ctx.Err()
	case <-r.ctx.Done():
		return engine.SessionState{}, engine.ErrRoomClosed
	}
}

func (r *Room) loop() {
	idle := time.NewTicker(r.cfg.IdleEvery)
	defer idle.Stop()

	for {
		select {
		case <-r.ctx.Done():
			r.shutdown()
			return

		case <-idle.C:
			r.sweepIdle()

		case m := <-r.inbox:
			switch msg := m.(type) {
			case Join:
				r.handleJoin(msg)
			case Leave:
				r.handleLeave(msg.UserID)
			case FromClient:
				r.handleClient(msg.UserID, msg.Event)
			case GetState:
				msg.Reply <- r.state.Snapshot()
			case EndBattle:
				r.handleAdminEnd(msg.UserID)
			case countdownTick:
				r.handleCountdownTick(msg.gen)
			case battleTick:
				r.handleBattleTick(msg.gen)
			case typingExpired:
				r.handleTypingExpired(msg.userID, msg.gen)
			case execDone:
				r.handleExecDone(msg)
			case gradeDone:
				r.handleGradeDone(msg)
			case idleSweep:
				r.sweepIdle()
			case Shutdown:
				r.shutdown()
				return
			}
		}
	}
}

func (r *Room) shutdown() {
	for id, ch := range r.clients {
		close(ch)
		delete(r.clients, id)
	}
	r.cancel()
}

func (r *Room) after(d time.Duration, m Msg) {
	time.AfterFunc(d, func() { r.Post(m) })
}

func (r *Room) handleJoin(msg Join) {
	ns, err := engine.AddUser(r.state, msg.User)
	if err != nil {
		msg.Outbox <- protocol.ErrorEvent{Message: err.Error()}
		close(msg.Outbox)
		return
	}
	if old, ok := r.clients[msg.User.ID]; ok {
		close(old)
	}
	r.clients[msg.User.ID] = msg.Outbox
	r.state = engine.AppendActivity(ns, engine.ActivityEntry{
		UserID: msg.User.ID, Kind: engine.ActivityJoin,
		Text: msg.User.Name + " joined", At: time.Now(),
	})

	r.direct(msg.User.ID, protocol.CodeSync{
		Code: r.state.Code, Language: r.state.Language,
		Version: r.state.Version, Reason: "join",
	})
	if b := r.state.Battle; b != nil {
		r.direct(msg.User.ID, protocol.BattleLobbyUpdate{Ready: readyMap(b)})
	}
	r.broadcast(protocol.UsersInRoom{Users: r.state.UserList()})
}

func (r *Room) handleLeave(userID string) {
	name := userID
	if u, ok := r.state.Users[userID]; ok {
		name = u.Name
	}
	r.detach(userID)
	r.state = engine.AppendActivity(r.state, engine.ActivityEntry{
		UserID: userID, Kind: engine.ActivityLeave,
		Text: name + " left", At: time.Now(),
	})
	r.broadcast(protocol.UsersInRoom{Users: r.state.UserList()})

	// The departed user may have been the only seat without a submission.
	if b := r.state.Battle; b != nil && b.Phase == engine.PhaseActive && r.allSeatsSubmitted() {
		r.endBattle(time.Now())
	}
}

// detach removes a client connection and all state attributed to the user.
// Pending execution requests are flagged requester-absent, not cancelled.
// Shared by explicit leaves and slow-client drops so both agree.
func (r *Room) detach(userID string) {
	if ch, ok := r.clients[userID]; ok {
		close(ch)
		delete(r.clients, userID)
	}
	r.state = engine.RemoveUser(r.state, userID)
	if r.running != nil && r.running.UserID == userID {
		r.running.RequesterAbsent = true
	}
	for _, req := range r.queue {
		if req.UserID == userID {
			req.RequesterAbsent = true
		}
	}
}

func (r *Room) handleAdminEnd(userID string) {
	b := r.state.Battle
	if b == nil || b.Phase != engine.PhaseActive {
		r.direct(userID, protocol.ErrorEvent{Message: engine.ErrInvalidTransition.Error()})
		return
	}
	if userID != "" && userID != b.HostID {
		r.direct(userID, protocol.ErrorEvent{Message: engine.ErrNotHost.Error()})
		return
	}
	r.endBattle(time.Now())
}

func (r *Room) sweepIdle() {
	ns, changed := engine.SweepIdle(r.state, time.Now())
	if len(changed) == 0 {
		return
	}
	r.state = ns
	r.broadcast(protocol.UsersInRoom{Users: r.state.UserList()})
}

// broadcast delivers to every connected participant. Slow clients whose
// outbox is full get dropped, same as any other disconnect.
func (r *Room) broadcast(ev protocol.ServerEvent) {
	for id, ch := range r.clients {
		r.send(id, ch, ev)
	}
}

func (r *Room) broadcastExcept(senderID string, ev protocol.ServerEvent) {
	for id, ch := range r.clients {
		if id == senderID {
			continue
		}
		r.send(id, ch, ev)
	}
}

func (r *Room) direct(userID string, ev protocol.ServerEvent) {
	if ch, ok := r.clients[userID]; ok {
		r.send(userID, ch, ev)
	}
}

func (r *Room) send(id string, ch chan protocol.ServerEvent, ev protocol.ServerEvent) {
	select {
	case ch <- ev:
	default:
		r.log.Warn("dropping slow client", zap.String("user", id))
		r.detach(id)
	}
}

func (r *Room) countExec(state engine.ExecState) {
	if r.cfg.Metrics != nil {
		r.cfg.Metrics.Executions.WithLabelValues(string(state)).Inc()
	}
}

func readyMap(b *engine.BattleState) map[string]bool {
	out := make(map[string]bool, len(b.Ready))
	for k, v := range b.Ready {
		out[k] = v
	}
	return out
}

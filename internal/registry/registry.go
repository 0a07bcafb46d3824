// Package registry owns the in-memory map from room id to live room, plus
// the short-code index. It is the only globally shared mutable structure;
// all access goes through the registry loop, so inserts and evictions are
// atomic per room id while rooms themselves proceed in parallel.
package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/kretes-dev/codearena-backend/internal/engine"
	"github.com/kretes-dev/codearena-backend/internal/metrics"
	"github.com/kretes-dev/codearena-backend/internal/room"
	"github.com/kretes-dev/codearena-backend/internal/sandbox"
	"github.com/kretes-dev/codearena-backend/internal/store"
)

type regMsg interface{ isRegMsg() }

type getRoom struct {
	roomID string
	reply  chan *room.Room
}

type resolveCode struct {
	code  string
	reply chan string
}

// insertRoom is insert-if-absent: the reply is the canonical room, which is
// the existing one when a concurrent reconciliation won the race.
type insertRoom struct {
	rm    *room.Room
	code  string
	reply chan *room.Room
}

type evictRoom struct{ roomID string }

type shutdownReg struct{}

func (getRoom) isRegMsg()     {}
func (resolveCode) isRegMsg() {}
func (insertRoom) isRegMsg()  {}
func (evictRoom) isRegMsg()   {}
func (shutdownReg) isRegMsg() {}

type Registry struct {
	inbox  chan regMsg
	rooms  map[string]*room.Room
	codes  map[string]string
	st     store.Store
	runner sandbox.Runner
	log    *zap.Logger
	met    *metrics.Metrics
	rcfg   room.Config
	sf     singleflight.Group
	ctx    context.Context
	cancel context.CancelFunc
}

func New(parent context.Context, st store.Store, runner sandbox.Runner, log *zap.Logger, met *metrics.Metrics, rcfg room.Config) *Registry {
	ctx, cancel := context.WithCancel(parent)
	if rcfg.Metrics == nil {
		rcfg.Metrics = met
	}
	g := &Registry{
		inbox:  make(chan regMsg, 64),
		rooms:  make(map[string]*room.Room),
		codes:  make(map[string]string),
		st:     st,
		runner: runner,
		log:    log.Named("registry"),
		met:    met,
		rcfg:   rcfg,
		ctx:    ctx,
		cancel: cancel,
	}
	go g.loop()
	return g
}

func (g *Registry) loop() {
	for {
		select {
		case <-g.ctx.Done():
			g.shutdown()
			return

		case m := <-g.inbox:
			switch msg := m.(type) {
			case getRoom:
				msg.reply <- g.rooms[msg.roomID] // may be nil

			case resolveCode:
				msg.reply <- g.codes[msg.code] // may be ""

			case insertRoom:
				if existing := g.rooms[msg.rm.ID]; existing != nil {
					msg.reply <- existing
					break
				}
				g.rooms[msg.rm.ID] = msg.rm
				if msg.code != "" {
					g.codes[msg.code] = msg.rm.ID
				}
				g.met.RoomsActive.Set(float64(len(g.rooms)))
				msg.reply <- msg.rm

			case evictRoom:
				rm := g.rooms[msg.roomID]
				if rm == nil {
					break
				}
				delete(g.rooms, msg.roomID)
				for code, id := range g.codes {
					if id == msg.roomID {
						delete(g.codes, code)
					}
				}
				g.met.RoomsActive.Set(float64(len(g.rooms)))
				rm.Post(room.Shutdown{})

			case shutdownReg:
				g.shutdown()
				return
			}
		}
	}
}

func (g *Registry) shutdown() {
	for _, rm := range g.rooms {
		rm.Post(room.Shutdown{})
	}
	clear(g.rooms)
	clear(g.codes)
	g.cancel()
}

// Lookup returns the live room for an id, or nil when not cached.
func (g *Registry) Lookup(roomID string) *room.Room {
	reply := make(chan *room.Room, 1)
	select {
	case g.inbox <- getRoom{roomID: roomID, reply: reply}:
		return <-reply
	case <-g.ctx.Done():
		return nil
	}
}

func (g *Registry) resolve(code string) string {
	reply := make(chan string, 1)
	select {
	case g.inbox <- resolveCode{code: code, reply: reply}:
		return <-reply
	case <-g.ctx.Done():
		return ""
	}
}

func (g *Registry) insert(rm *room.Room, code string) *room.Room {
	reply := make(chan *room.Room, 1)
	select {
	case g.inbox <- insertRoom{rm: rm, code: code, reply: reply}:
		return <-reply
	case <-g.ctx.Done():
		return rm
	}
}

// Evict drops the cached session for a room. The durable record is
// untouched; a later join reconstructs the session from storage.
func (g *Registry) Evict(roomID string) {
	select {
	case g.inbox <- evictRoom{roomID: roomID}:
	case <-g.ctx.Done():
	}
}

// Close marks the durable room closed and evicts its session.
func (g *Registry) Close(ctx context.Context, roomID string) error {
	if err := g.st.CloseRoom(ctx, roomID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return engine.ErrRoomNotFound
		}
		return err
	}
	g.Evict(roomID)
	return nil
}

func (g *Registry) Shutdown() {
	select {
	case g.inbox <- shutdownReg{}:
	case <-g.ctx.Done():
	}
}

// CreateSpec describes a new room.
type CreateSpec struct {
	Mode        engine.Mode
	CreatorID   string
	CreatorName string
	Language    string
	ProblemID   string
	Difficulty  string
	Duration    time.Duration
	CodeTTL     time.Duration
}

// Create persists the durable Room, then inserts the live session. A crash
// between the two steps leaves a recoverable record and no orphaned cache
// entry.
func (g *Registry) Create(ctx context.Context, spec CreateSpec) (*store.Room, *room.Room, error) {
	code, err := g.uniqueCode(ctx)
	if err != nil {
		return nil, nil, err
	}

	now := time.Now()
	rec := &store.Room{
		ID:          uuid.NewString(),
		Code:        code,
		Mode:        string(spec.Mode),
		CreatorID:   spec.CreatorID,
		Status:      store.StatusActive,
		Language:    spec.Language,
		ProblemID:   spec.ProblemID,
		Difficulty:  spec.Difficulty,
		DurationSec: int(spec.Duration / time.Second),
		CreatedAt:   now,
		Participants: []store.Participant{{
			RoomID:      "", // filled by the association
			UserID:      spec.CreatorID,
			DisplayName: spec.CreatorName,
			Role:        string(engine.RoleHost),
			Permission:  string(engine.PermFullAccess),
			IsActive:    true,
			JoinedAt:    now,
			LastSeen:    now,
		}},
	}
	if spec.CodeTTL > 0 {
		exp := now.Add(spec.CodeTTL)
		rec.CodeExpiresAt = &exp
	}
	if err := g.st.CreateRoom(ctx, rec); err != nil {
		return nil, nil, fmt.Errorf("persisting room: %w", err)
	}

	rm := room.New(g.ctx, g.stateFromRecord(rec), g.runner, g.log, g.rcfg)
	canonical := g.insert(rm, code)
	if canonical != rm {
		rm.Post(room.Shutdown{})
	}
	g.met.RoomsCreated.Inc()
	g.log.Info("room created",
		zap.String("room", rec.ID), zap.String("code", code), zap.String("mode", rec.Mode))
	return rec, canonical, nil
}

func (g *Registry) uniqueCode(ctx context.Context) (string, error) {
	for i := 0; i < 10; i++ {
		code, err := GenerateCode()
		if err != nil {
			return "", fmt.Errorf("generating code: %w", err)
		}
		_, err = g.st.FindRoomByCode(ctx, code)
		if errors.Is(err, store.ErrNotFound) {
			return code, nil
		}
		if err != nil {
			return "", fmt.Errorf("checking code: %w", err)
		}
	}
	return "", errors.New("could not find a free room code")
}

// Ensure returns the live room, reconstructing its session from durable
// storage when the cache has no entry (cold cache, restart, eviction).
// Concurrent calls for the same id share one reconciliation.
func (g *Registry) Ensure(ctx context.Context, roomID string) (*room.Room, error) {
	if rm := g.Lookup(roomID); rm != nil {
		return rm, nil
	}
	v, err, _ := g.sf.Do(roomID, func() (any, error) {
		return g.reconcile(ctx, roomID)
	})
	if err != nil {
		return nil, err
	}
	return v.(*room.Room), nil
}

// EnsureByCode resolves a short join code to a live room.
func (g *Registry) EnsureByCode(ctx context.Context, code string) (*room.Room, error) {
	if roomID := g.resolve(code); roomID != "" {
		return g.Ensure(ctx, roomID)
	}
	rec, err := g.st.FindRoomByCode(ctx, code)
	if errors.Is(err, store.ErrNotFound) {
		return nil, engine.ErrRoomNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", engine.ErrReconciliation, err)
	}
	return g.Ensure(ctx, rec.ID)
}

func (g *Registry) reconcile(ctx context.Context, roomID string) (*room.Room, error) {
	// A losing racer may arrive here after the winner's flight finished.
	if rm := g.Lookup(roomID); rm != nil {
		return rm, nil
	}

	rec, err := g.fetchWithRetry(ctx, roomID)
	if err != nil {
		g.met.Reconciliations.WithLabelValues("error").Inc()
		return nil, err
	}
	if rec.Status == store.StatusClosed {
		g.met.Reconciliations.WithLabelValues("closed").Inc()
		return nil, engine.ErrRoomClosed
	}

	rm := room.New(g.ctx, g.stateFromRecord(rec), g.runner, g.log, g.rcfg)
	canonical := g.insert(rm, rec.Code)
	if canonical != rm {
		rm.Post(room.Shutdown{})
	}
	g.met.Reconciliations.WithLabelValues("ok").Inc()
	g.log.Info("session reconstructed from storage", zap.String("room", roomID))
	return canonical, nil
}

func (g *Registry) fetchWithRetry(ctx context.Context, roomID string) (*store.Room, error) {
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(time.Duration(attempt) * 100 * time.Millisecond):
			case <-ctx.Done():
				return nil, fmt.Errorf("%w: %v", engine.ErrReconciliation, ctx.Err())
			}
		}
		rec, err := g.st.FindRoomByID(ctx, roomID)
		if err == nil {
			return rec, nil
		}
		if errors.Is(err, store.ErrNotFound) {
			return nil, engine.ErrRoomNotFound
		}
		lastErr = err
	}
	return nil, fmt.Errorf("%w: %v", engine.ErrReconciliation, lastErr)
}

// stateFromRecord synthesizes a fresh session from the durable record:
// version 0, users from active participants, and for battle rooms a
// conservative not-started battle. In-flight code and scores lived only in
// memory and are treated as lost; losing them is acceptable, losing the
// ability to rejoin the room is not.
func (g *Registry) stateFromRecord(rec *store.Room) engine.SessionState {
	st := engine.NewSessionState(rec.ID, engine.Mode(rec.Mode), rec.Language)
	for _, p := range rec.ActiveParticipants() {
		st.Users[p.UserID] = engine.UserInfo{
			ID:         p.UserID,
			Name:       p.DisplayName,
			Color:      engine.ColorFor(p.UserID),
			Role:       engine.Role(p.Role),
			Permission: engine.Permission(p.Permission),
		}
	}
	if engine.Mode(rec.Mode) == engine.ModeBattle {
		st.Battle = engine.NewBattleState(
			rec.ProblemID, rec.Difficulty, rec.CreatorID,
			time.Duration(rec.DurationSec)*time.Second,
		)
	}
	return st
}

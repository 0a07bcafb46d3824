package room

import (
	"time"

	"go.uber.org/zap"

	"github.com/kretes-dev/codearena-backend/internal/engine"
	"github.com/kretes-dev/codearena-backend/internal/protocol"
	"github.com/kretes-dev/codearena-backend/internal/sandbox"
)

func (r *Room) handleStartBattle(userID string) {
	ns, err := engine.StartCountdown(r.state, userID)
	if err != nil {
		// Out-of-order lifecycle requests are rejected and logged, never
		// fatal to the connection.
		r.log.Info("rejected start-battle", zap.String("user", userID), zap.Error(err))
		r.direct(userID, protocol.ErrorEvent{Message: err.Error()})
		return
	}
	r.state = ns
	r.timerGen++
	r.countdown = r.cfg.CountdownSec
	r.broadcast(protocol.BattleCountdown{Remaining: r.countdown})
	if r.countdown <= 0 {
		r.activateBattle()
		return
	}
	r.after(r.cfg.Tick, countdownTick{gen: r.timerGen})
}

func (r *Room) handleCountdownTick(gen uint64) {
	if gen != r.timerGen {
		return
	}
	if b := r.state.Battle; b == nil || b.Phase != engine.PhaseCountdown {
		return
	}
	r.countdown--
	if r.countdown > 0 {
		r.broadcast(protocol.BattleCountdown{Remaining: r.countdown})
		r.after(r.cfg.Tick, countdownTick{gen: gen})
		return
	}
	r.activateBattle()
}

func (r *Room) activateBattle() {
	ns, err := engine.ActivateBattle(r.state, time.Now())
	if err != nil {
		r.log.Error("countdown finished in unexpected phase", zap.Error(err))
		return
	}
	r.state = ns
	b := r.state.Battle
	r.broadcast(protocol.BattleStarted{
		StartedAt:   b.StartedAt.UnixMilli(),
		DurationSec: int(b.Duration / time.Second),
	})
	r.timerGen++
	r.after(r.cfg.Tick, battleTick{gen: r.timerGen})
}

// handleBattleTick drives the wall-clock battle timer. It keeps ticking
// whether or not the host is still connected.
func (r *Room) handleBattleTick(gen uint64) {
	if gen != r.timerGen {
		return
	}
	b := r.state.Battle
	if b == nil || b.Phase != engine.PhaseActive {
		return
	}
	remaining := b.Remaining(time.Now())
	if remaining <= 0 {
		r.endBattle(time.Now())
		return
	}
	secs := int((remaining + r.cfg.Tick - 1) / r.cfg.Tick)
	r.broadcast(protocol.BattleTick{Remaining: secs})
	r.after(r.cfg.Tick, battleTick{gen: gen})
}

func (r *Room) endBattle(now time.Time) {
	ns, err := engine.EndBattle(r.state, now)
	if err != nil {
		return
	}
	r.state = ns
	r.timerGen++ // invalidate any in-flight tick
	b := r.state.Battle
	r.state = engine.AppendActivity(r.state, engine.ActivityEntry{
		Kind: engine.ActivityBattle, Text: "battle ended", At: now,
	})
	r.broadcast(protocol.BattleEnded{
		EndedAt:  b.EndedAt.UnixMilli(),
		Rankings: engine.Rank(b),
	})
}

func (r *Room) handleBattleSubmit(user engine.UserInfo, e protocol.BattleSubmitCode) {
	if !user.Permission.CanEdit() {
		r.deny(user.ID)
		return
	}
	b := r.state.Battle
	if b == nil || b.Phase != engine.PhaseActive {
		r.direct(user.ID, protocol.ErrorEvent{Message: engine.ErrBattleNotActive.Error()})
		return
	}
	elapsed := time.Since(b.StartedAt)
	req := sandbox.GradeRequest{Language: r.state.Language, Source: e.Code, ProblemID: b.ProblemID}
	userID := user.ID
	codeLen := len(e.Code)
	go func() {
		res, err := r.runner.Grade(r.ctx, req)
		r.Post(gradeDone{userID: userID, codeLen: codeLen, elapsed: elapsed, res: res, err: err})
	}()
}

func (r *Room) handleGradeDone(m gradeDone) {
	if m.err != nil {
		r.log.Warn("grading failed", zap.String("user", m.userID), zap.Error(m.err))
		r.direct(m.userID, protocol.ErrorEvent{Message: "submission grading failed"})
		return
	}
	ns, err := engine.RecordSubmission(r.state, m.userID, engine.Submission{
		CodeLen:     m.codeLen,
		Score:       m.res.Score,
		Passed:      m.res.Passed,
		Total:       m.res.Total,
		Elapsed:     m.elapsed,
		SubmittedAt: time.Now(),
	})
	if err != nil {
		// Battle ended while the grade was in flight; ended is terminal,
		// so the result is dropped.
		r.log.Info("dropping late submission", zap.String("user", m.userID), zap.Error(err))
		return
	}
	r.state = ns
	r.broadcast(protocol.BattleSubmission{
		UserID: m.userID, Score: m.res.Score,
		Passed: m.res.Passed, Total: m.res.Total,
		Elapsed: m.elapsed.Milliseconds(),
	})
	if r.allSeatsSubmitted() {
		r.endBattle(time.Now())
	}
}

// allSeatsSubmitted reports whether every editing participant still in the
// room has a recorded submission.
func (r *Room) allSeatsSubmitted() bool {
	b := r.state.Battle
	if b == nil {
		return false
	}
	seats := 0
	for id, u := range r.state.Users {
		if !u.Permission.CanEdit() {
			continue
		}
		seats++
		if _, ok := b.Submissions[id]; !ok {
			return false
		}
	}
	return seats > 0
}

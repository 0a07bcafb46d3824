package room

import (
	"errors"
	"time"

	"github.com/kretes-dev/codearena-backend/internal/engine"
	"github.com/kretes-dev/codearena-backend/internal/protocol"
)

// handleClient dispatches one inbound event. Protocol-level failures go
// back to the originating client only; nothing here may take the room down.
func (r *Room) handleClient(userID string, ev protocol.ClientEvent) {
	user, known := r.state.Users[userID]
	if !known {
		r.direct(userID, protocol.ErrorEvent{Message: engine.ErrUnknownUser.Error()})
		return
	}

	switch e := ev.(type) {
	case protocol.JoinRoom:
		// Explicit resync request from a client already attached to the
		// connection: re-send the authoritative buffer and roster.
		r.direct(userID, protocol.CodeSync{
			Code: r.state.Code, Language: r.state.Language,
			Version: r.state.Version, Reason: "resync",
		})
		r.direct(userID, protocol.UsersInRoom{Users: r.state.UserList()})

	case protocol.LeaveRoom:
		r.handleLeave(userID)

	case protocol.CodeChange:
		r.handleCodeChange(user, e)

	case protocol.CursorMove:
		r.state = engine.MoveCursor(r.state, userID, e.Position, time.Now())
		if cur, ok := r.state.Cursors[userID]; ok {
			r.broadcastExcept(userID, protocol.CursorChanged{UserID: userID, Cursor: cur})
		}

	case protocol.SelectionChange:
		r.state = engine.ChangeSelection(r.state, userID, e.Range, time.Now())
		if sel, ok := r.state.Selections[userID]; ok {
			r.broadcastExcept(userID, protocol.SelectionsSync{UserID: userID, Selection: sel})
		}

	case protocol.LanguageChange:
		if !user.Permission.CanEdit() {
			r.deny(userID)
			return
		}
		r.state = engine.ReplaceDocument(r.state, userID, e.Language, e.Code)
		r.broadcastExcept(userID, protocol.CodeSync{
			Code: r.state.Code, Language: r.state.Language,
			Version: r.state.Version, Reason: "language-change",
		})

	case protocol.ChatMessage:
		now := time.Now()
		r.state = engine.AppendActivity(r.state, engine.ActivityEntry{
			UserID: userID, Kind: engine.ActivityChat, Text: e.Text, At: now,
		})
		r.broadcast(protocol.ChatBroadcast{
			UserID: userID, Name: user.Name, Text: e.Text, At: now.UnixMilli(),
		})

	case protocol.BattleReady:
		if !user.Permission.CanEdit() {
			r.deny(userID)
			return
		}
		ns, err := engine.SetReady(r.state, userID, e.Ready)
		if err != nil {
			r.direct(userID, protocol.ErrorEvent{Message: err.Error()})
			return
		}
		r.state = ns
		r.broadcast(protocol.BattleLobbyUpdate{Ready: readyMap(r.state.Battle)})

	case protocol.StartBattle:
		r.handleStartBattle(userID)

	case protocol.BattleSubmitCode:
		r.handleBattleSubmit(user, e)

	case protocol.EndBattle:
		r.handleAdminEnd(userID)

	case protocol.ExecuteCode:
		if !user.Permission.CanEdit() {
			r.deny(userID)
			return
		}
		r.enqueueExecution(userID, e)

	case protocol.Ping:
		now := time.Now()
		rtt := now.Sub(time.UnixMilli(e.SentAt))
		if rtt < 0 {
			rtt = 0
		}
		r.state = engine.RecordPing(r.state, userID, rtt, now)
		r.direct(userID, protocol.Pong{
			SentAt:     e.SentAt,
			ServerTime: now.UnixMilli(),
			Quality:    r.state.Users[userID].Quality,
		})

	case protocol.StartFollowing:
		ns, err := engine.Follow(r.state, userID, e.TargetUserID)
		if err != nil {
			r.direct(userID, protocol.ErrorEvent{Message: err.Error()})
			return
		}
		r.state = ns
		r.direct(userID, protocol.FollowStarted{TargetUserID: e.TargetUserID})
		r.direct(e.TargetUserID, protocol.UserFollowing{UserID: userID, Following: true})

	case protocol.StopFollowing:
		ns, target := engine.Unfollow(r.state, userID)
		r.state = ns
		if target == "" {
			return
		}
		r.direct(userID, protocol.FollowStopped{TargetUserID: target})
		r.direct(target, protocol.UserFollowing{UserID: userID, Following: false})

	case protocol.ViewportSync:
		update := protocol.ViewportUpdate{
			UserID: userID, ScrollTop: e.ScrollTop,
			ScrollLeft: e.ScrollLeft, VisibleRange: e.VisibleRange,
		}
		for _, follower := range r.state.FollowersOf(userID) {
			r.direct(follower, update)
		}

	default:
		r.direct(userID, protocol.ErrorEvent{Message: "unsupported event"})
	}
}

func (r *Room) handleCodeChange(user engine.UserInfo, e protocol.CodeChange) {
	if !user.Permission.CanEdit() {
		r.deny(user.ID)
		return
	}
	ns, err := engine.ApplyDiff(r.state, user.ID, e.Diff, e.Version)
	switch {
	case errors.Is(err, engine.ErrVersionMismatch):
		// Stale client: no partial merge, no state change. Push exactly
		// one full resync to the sender.
		r.direct(user.ID, protocol.CodeSync{
			Code: r.state.Code, Language: r.state.Language,
			Version: r.state.Version, Reason: "version-mismatch",
		})
		return
	case err != nil:
		r.direct(user.ID, protocol.ErrorEvent{Message: err.Error()})
		return
	}
	r.state = engine.MarkInput(ns, user.ID, time.Now())
	r.broadcastExcept(user.ID, protocol.CodeChanged{
		UserID: user.ID, Diff: e.Diff, Version: r.state.Version,
	})
	r.markTyping(user.ID)
}

func (r *Room) markTyping(userID string) {
	if !r.state.Users[userID].Typing {
		r.state = engine.SetTyping(r.state, userID, true)
		r.broadcastExcept(userID, protocol.TypingUpdate{UserID: userID, Typing: true})
	}
	r.typingGen[userID]++
	r.after(r.cfg.TypingQuiet, typingExpired{userID: userID, gen: r.typingGen[userID]})
}

func (r *Room) handleTypingExpired(userID string, gen uint64) {
	if gen != r.typingGen[userID] {
		return // a newer edit re-armed the quiet window
	}
	if !r.state.Users[userID].Typing {
		return
	}
	r.state = engine.SetTyping(r.state, userID, false)
	r.broadcastExcept(userID, protocol.TypingUpdate{UserID: userID, Typing: false})
}

func (r *Room) deny(userID string) {
	r.direct(userID, protocol.ErrorEvent{Message: engine.ErrPermissionDenied.Error()})
}

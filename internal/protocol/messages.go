// Package protocol defines the wire events exchanged with clients over the
// websocket. Each direction is a closed set of typed payloads carried in a
// {"type": ..., "payload": ...} envelope, so dispatch is an exhaustive type
// switch rather than string-keyed branching on loose maps.
package protocol

import (
	"github.com/kretes-dev/codearena-backend/internal/engine"
)

// ClientEvent is an inbound event from a connected participant.
type ClientEvent interface{ isClientEvent() }

type JoinRoom struct {
	RoomID string      `json:"roomId"`
	Mode   engine.Mode `json:"mode,omitempty"`
}

type LeaveRoom struct{}

type CodeChange struct {
	Diff    engine.Diff `json:"diff"`
	Version int64       `json:"version"`
}

type CursorMove struct {
	Position engine.Position `json:"position"`
}

type SelectionChange struct {
	Range engine.Range `json:"range"`
}

type LanguageChange struct {
	Language string `json:"language"`
	Code     string `json:"code"`
}

type ChatMessage struct {
	Text string `json:"text"`
}

type BattleReady struct {
	Ready bool `json:"ready"`
}

type StartBattle struct{}

type BattleSubmitCode struct {
	Code string `json:"code"`
}

// EndBattle is the host's explicit early-end signal for an active battle.
type EndBattle struct{}

type ExecuteCode struct {
	Language string `json:"language"`
	Code     string `json:"code"`
	Input    string `json:"input"`
}

type Ping struct {
	SentAt int64 `json:"sentAt"` // client clock, unix milliseconds
}

type StartFollowing struct {
	TargetUserID string `json:"targetUserId"`
}

type StopFollowing struct{}

type ViewportSync struct {
	ScrollTop    float64      `json:"scrollTop"`
	ScrollLeft   float64      `json:"scrollLeft"`
	VisibleRange engine.Range `json:"visibleRange"`
}

func (JoinRoom) isClientEvent()         {}
func (LeaveRoom) isClientEvent()        {}
func (CodeChange) isClientEvent()       {}
func (CursorMove) isClientEvent()       {}
func (SelectionChange) isClientEvent()  {}
func (LanguageChange) isClientEvent()   {}
func (ChatMessage) isClientEvent()      {}
func (BattleReady) isClientEvent()      {}
func (StartBattle) isClientEvent()      {}
func (BattleSubmitCode) isClientEvent() {}
func (EndBattle) isClientEvent()        {}
func (ExecuteCode) isClientEvent()      {}
func (Ping) isClientEvent()             {}
func (StartFollowing) isClientEvent()   {}
func (StopFollowing) isClientEvent()    {}
func (ViewportSync) isClientEvent()     {}

// ServerEvent is an outbound event. Type() is the envelope discriminator.
type ServerEvent interface{ Type() string }

// CodeChanged relays an accepted diff to every other participant.
type CodeChanged struct {
	UserID  string      `json:"userId"`
	Diff    engine.Diff `json:"diff"`
	Version int64       `json:"version"`
}

// CodeSync is the full-buffer resync: sent to a single client on version
// mismatch, to a joiner, or broadcast after a language change.
type CodeSync struct {
	Code     string `json:"code"`
	Language string `json:"language"`
	Version  int64  `json:"version"`
	Reason   string `json:"reason,omitempty"` // "version-mismatch" | "join" | "language-change" | "resync"
}

type CursorChanged struct {
	UserID string            `json:"userId"`
	Cursor engine.CursorInfo `json:"cursor"`
}

type SelectionsSync struct {
	UserID    string               `json:"userId"`
	Selection engine.SelectionInfo `json:"selection"`
}

type UsersInRoom struct {
	Users []engine.UserInfo `json:"users"`
}

type TypingUpdate struct {
	UserID string `json:"userId"`
	Typing bool   `json:"typing"`
}

type ChatBroadcast struct {
	UserID string `json:"userId"`
	Name   string `json:"name"`
	Text   string `json:"text"`
	At     int64  `json:"at"` // unix milliseconds
}

type BattleLobbyUpdate struct {
	Ready map[string]bool `json:"ready"`
}

type BattleCountdown struct {
	Remaining int `json:"remaining"` // seconds
}

type BattleStarted struct {
	StartedAt   int64 `json:"startedAt"` // unix milliseconds
	DurationSec int   `json:"durationSec"`
}

type BattleTick struct {
	Remaining int `json:"remaining"` // seconds
}

type BattleSubmission struct {
	UserID  string `json:"userId"`
	Score   int    `json:"score"`
	Passed  int    `json:"passed"`
	Total   int    `json:"total"`
	Elapsed int64  `json:"elapsedMs"`
}

type BattleEnded struct {
	EndedAt  int64                `json:"endedAt"` // unix milliseconds
	Rankings []engine.RankedEntry `json:"rankings"`
}

type ExecutionQueued struct {
	ExecutionID string `json:"executionId"`
	UserID      string `json:"userId"`
	Position    int    `json:"position"`
}

type ExecutionStarted struct {
	ExecutionID string `json:"executionId"`
	UserID      string `json:"userId"`
}

type ExecutionCompleted struct {
	ExecutionID string `json:"executionId"`
	UserID      string `json:"userId"`
	Stdout      string `json:"stdout"`
	Stderr      string `json:"stderr"`
	ExitCode    int    `json:"exitCode"`
	DurationMs  int64  `json:"durationMs"`
}

type ExecutionFailed struct {
	ExecutionID string `json:"executionId"`
	UserID      string `json:"userId"`
	Error       string `json:"error"`
}

type FollowStarted struct {
	TargetUserID string `json:"targetUserId"`
}

type FollowStopped struct {
	TargetUserID string `json:"targetUserId"`
}

// UserFollowing tells a target that someone started or stopped following
// their viewport.
type UserFollowing struct {
	UserID    string `json:"userId"`
	Following bool   `json:"following"`
}

type ViewportUpdate struct {
	UserID       string       `json:"userId"`
	ScrollTop    float64      `json:"scrollTop"`
	ScrollLeft   float64      `json:"scrollLeft"`
	VisibleRange engine.Range `json:"visibleRange"`
}

type Pong struct {
	SentAt     int64          `json:"sentAt"`
	ServerTime int64          `json:"serverTime"`
	Quality    engine.Quality `json:"quality"`
}

type ErrorEvent struct {
	Message string `json:"message"`
}

func (CodeChanged) Type() string        { return "code-change" }
func (CodeSync) Type() string           { return "code-sync" }
func (CursorChanged) Type() string      { return "cursor-change" }
func (SelectionsSync) Type() string     { return "selections-sync" }
func (UsersInRoom) Type() string        { return "users-in-room" }
func (TypingUpdate) Type() string       { return "typing-update" }
func (ChatBroadcast) Type() string      { return "chat-message" }
func (BattleLobbyUpdate) Type() string  { return "battle-lobby-update" }
func (BattleCountdown) Type() string    { return "battle-countdown" }
func (BattleStarted) Type() string      { return "battle-started" }
func (BattleTick) Type() string         { return "battle-tick" }
func (BattleSubmission) Type() string   { return "battle-submission" }
func (BattleEnded) Type() string        { return "battle-ended" }
func (ExecutionQueued) Type() string    { return "execution-queued" }
func (ExecutionStarted) Type() string   { return "execution-started" }
func (ExecutionCompleted) Type() string { return "execution-completed" }
func (ExecutionFailed) Type() string    { return "execution-failed" }
func (FollowStarted) Type() string      { return "follow-started" }
func (FollowStopped) Type() string      { return "follow-stopped" }
func (UserFollowing) Type() string      { return "user-following" }
func (ViewportUpdate) Type() string     { return "viewport-update" }
func (Pong) Type() string               { return "pong" }
func (ErrorEvent) Type() string         { return "error" }

package engine

import (
	"slices"
	"strings"
	"time"
)

type Mode string

const (
	ModeCollaborative Mode = "collaborative"
	ModeBattle        Mode = "battle"
)

type Role string

const (
	RoleHost        Role = "host"
	RoleParticipant Role = "participant"
)

type Permission string

const (
	PermViewOnly   Permission = "view-only"
	PermEditCode   Permission = "edit-code"
	PermFullAccess Permission = "full-access"
)

// CanEdit reports whether the permission level allows mutating events.
func (p Permission) CanEdit() bool {
	return p == PermEditCode || p == PermFullAccess
}

// UserInfo is the registry's projection of a connected participant.
type UserInfo struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Color      string     `json:"color"`
	Role       Role       `json:"role"`
	Permission Permission `json:"permission"`
	Idle       bool       `json:"idle"`
	Typing     bool       `json:"typing"`
	Quality    Quality    `json:"quality,omitempty"`
}

type Position struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

type Range struct {
	Start Position `json:"start"`
	End   Position `json:"end"`
}

// CursorInfo is last-write-wins per user; no history is kept.
type CursorInfo struct {
	Position  Position  `json:"position"`
	Color     string    `json:"color"`
	Name      string    `json:"name"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type SelectionInfo struct {
	Range     Range     `json:"range"`
	Color     string    `json:"color"`
	Name      string    `json:"name"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type Quality string

const (
	QualityGood Quality = "good"
	QualityFair Quality = "fair"
	QualityPoor Quality = "poor"
)

// ConnStats holds a sliding window of round-trip samples for one user.
type ConnStats struct {
	SamplesMs []int64
	Quality   Quality
}

type ActivityKind string

const (
	ActivityJoin   ActivityKind = "join"
	ActivityLeave  ActivityKind = "leave"
	ActivityChat   ActivityKind = "chat"
	ActivityBattle ActivityKind = "battle"
	ActivitySystem ActivityKind = "system"
)

type ActivityEntry struct {
	UserID string       `json:"userId,omitempty"`
	Kind   ActivityKind `json:"kind"`
	Text   string       `json:"text"`
	At     time.Time    `json:"at"`
}

// activityCap bounds the in-memory chat/activity log per room.
const activityCap = 100

// SessionState is the ephemeral, in-memory view of a live room. One
// instance per room, owned exclusively by that room's loop, and replaced
// wholesale on every accepted mutation so readers never see a half-updated
// value.
type SessionState struct {
	RoomID         string
	Mode           Mode
	Code           string
	Language       string
	Version        int64
	LastModifiedBy string

	Users      map[string]UserInfo
	Cursors    map[string]CursorInfo
	Selections map[string]SelectionInfo
	LastInput  map[string]time.Time
	Conn       map[string]ConnStats
	Following  map[string]string // follower id -> target id

	Activity []ActivityEntry
	IsActive bool
	Battle   *BattleState
}

func NewSessionState(roomID string, mode Mode, language string) SessionState {
	return SessionState{
		RoomID:     roomID,
		Mode:       mode,
		Language:   language,
		Version:    0,
		Users:      map[string]UserInfo{},
		Cursors:    map[string]CursorInfo{},
		Selections: map[string]SelectionInfo{},
		LastInput:  map[string]time.Time{},
		Conn:       map[string]ConnStats{},
		Following:  map[string]string{},
		IsActive:   true,
	}
}

var cursorPalette = []string{
	"#e06c75", "#61afef", "#98c379", "#c678dd",
	"#d19a66", "#56b6c2", "#be5046", "#7f848e",
}

// ColorFor deterministically assigns a display color to a user id, so the
// same user renders the same color on every client and across rejoins.
func ColorFor(userID string) string {
	var h uint32
	for i := 0; i < len(userID); i++ {
		h = h*31 + uint32(userID[i])
	}
	return cursorPalette[h%uint32(len(cursorPalette))]
}

// clone copies the state deeply enough that mutating the copy never leaks
// into a value already handed to a reader.
func (s SessionState) clone() SessionState {
	ns := s
	ns.Users = make(map[string]UserInfo, len(s.Users))
	for k, v := range s.Users {
		ns.Users[k] = v
	}
	ns.Cursors = make(map[string]CursorInfo, len(s.Cursors))
	for k, v := range s.Cursors {
		ns.Cursors[k] = v
	}
	ns.Selections = make(map[string]SelectionInfo, len(s.Selections))
	for k, v := range s.Selections {
		ns.Selections[k] = v
	}
	ns.LastInput = make(map[string]time.Time, len(s.LastInput))
	for k, v := range s.LastInput {
		ns.LastInput[k] = v
	}
	ns.Conn = make(map[string]ConnStats, len(s.Conn))
	for k, v := range s.Conn {
		cp := v
		cp.SamplesMs = append([]int64(nil), v.SamplesMs...)
		ns.Conn[k] = cp
	}
	ns.Following = make(map[string]string, len(s.Following))
	for k, v := range s.Following {
		ns.Following[k] = v
	}
	ns.Activity = append([]ActivityEntry(nil), s.Activity...)
	if s.Battle != nil {
		b := s.Battle.clone()
		ns.Battle = &b
	}
	return ns
}

// Snapshot returns an independent copy safe to hand across the room loop
// boundary.
func (s SessionState) Snapshot() SessionState { return s.clone() }

// AddUser registers a participant in the live state. Battle rooms cap at
// two editing seats; extra joins are admitted as view-only spectators.
func AddUser(s SessionState, u UserInfo) (SessionState, error) {
	ns := s.clone()
	if s.Mode == ModeBattle && u.Permission.CanEdit() {
		seats := 0
		for id, existing := range s.Users {
			if id != u.ID && existing.Permission.CanEdit() {
				seats++
			}
		}
		if seats >= 2 {
			u.Permission = PermViewOnly
		}
	}
	ns.Users[u.ID] = u
	ns.LastInput[u.ID] = time.Now()
	return ns, nil
}

// RemoveUser drops a participant and all presence attributed to them.
func RemoveUser(s SessionState, userID string) SessionState {
	ns := s.clone()
	delete(ns.Users, userID)
	delete(ns.Cursors, userID)
	delete(ns.Selections, userID)
	delete(ns.LastInput, userID)
	delete(ns.Conn, userID)
	delete(ns.Following, userID)
	for follower, target := range ns.Following {
		if target == userID {
			delete(ns.Following, follower)
		}
	}
	return ns
}

// AppendActivity records a chat/system entry, dropping the oldest once the
// log is full.
func AppendActivity(s SessionState, e ActivityEntry) SessionState {
	ns := s.clone()
	ns.Activity = append(ns.Activity, e)
	if len(ns.Activity) > activityCap {
		ns.Activity = ns.Activity[len(ns.Activity)-activityCap:]
	}
	return ns
}

// UserList returns users in a stable order for broadcast payloads.
func (s SessionState) UserList() []UserInfo {
	out := make([]UserInfo, 0, len(s.Users))
	for _, u := range s.Users {
		out = append(out, u)
	}
	slices.SortFunc(out, func(a, b UserInfo) int {
		return strings.Compare(a.ID, b.ID)
	})
	return out
}

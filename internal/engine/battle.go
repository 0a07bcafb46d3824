package engine

import (
	"slices"
	"strings"
	"time"
)

type BattlePhase string

const (
	PhaseWaiting   BattlePhase = "waiting"
	PhaseCountdown BattlePhase = "countdown"
	PhaseActive    BattlePhase = "active"
	PhaseEnded     BattlePhase = "ended"
)

// Submission is the latest scored attempt by one user. A later submission
// overwrites the earlier one; no history is kept.
type Submission struct {
	CodeLen     int           `json:"codeLen"`
	Score       int           `json:"score"`
	Passed      int           `json:"passed"`
	Total       int           `json:"total"`
	Elapsed     time.Duration `json:"elapsedMs"`
	SubmittedAt time.Time     `json:"submittedAt"`
}

// BattleState lives only in memory, embedded in a SessionState whose room
// mode is battle. Losing it on cache eviction is accepted; reconciliation
// rebuilds a conservative not-started one.
type BattleState struct {
	ProblemID  string
	Difficulty string
	HostID     string
	Duration   time.Duration
	Phase      BattlePhase
	StartedAt  time.Time
	EndedAt    time.Time

	Ready       map[string]bool
	Submissions map[string]Submission
}

func NewBattleState(problemID, difficulty, hostID string, duration time.Duration) *BattleState {
	return &BattleState{
		ProblemID:   problemID,
		Difficulty:  difficulty,
		HostID:      hostID,
		Duration:    duration,
		Phase:       PhaseWaiting,
		Ready:       map[string]bool{},
		Submissions: map[string]Submission{},
	}
}

func (b BattleState) clone() BattleState {
	nb := b
	nb.Ready = make(map[string]bool, len(b.Ready))
	for k, v := range b.Ready {
		nb.Ready[k] = v
	}
	nb.Submissions = make(map[string]Submission, len(b.Submissions))
	for k, v := range b.Submissions {
		nb.Submissions[k] = v
	}
	return nb
}

func (b *BattleState) Started() bool { return b.Phase == PhaseActive || b.Phase == PhaseEnded }
func (b *BattleState) Ended() bool   { return b.Phase == PhaseEnded }

// Remaining reports time left on the battle clock at the given instant.
func (b *BattleState) Remaining(now time.Time) time.Duration {
	if b.Phase != PhaseActive {
		return 0
	}
	left := b.Duration - now.Sub(b.StartedAt)
	if left < 0 {
		return 0
	}
	return left
}

// SetReady records a lobby ready flag. Only meaningful in waiting phase.
func SetReady(s SessionState, userID string, ready bool) (SessionState, error) {
	if s.Battle == nil {
		return s, ErrInvalidTransition
	}
	if s.Battle.Phase != PhaseWaiting {
		return s, ErrInvalidTransition
	}
	if _, ok := s.Users[userID]; !ok {
		return s, ErrUnknownUser
	}
	ns := s.clone()
	ns.Battle.Ready[userID] = ready
	return ns, nil
}

// StartCountdown is the host-triggered waiting -> countdown transition. It
// requires at least two participants and everyone ready.
func StartCountdown(s SessionState, userID string) (SessionState, error) {
	b := s.Battle
	if b == nil || b.Phase != PhaseWaiting {
		return s, ErrInvalidTransition
	}
	if userID != b.HostID {
		return s, ErrNotHost
	}
	if len(s.Users) < 2 {
		return s, ErrNotAllReady
	}
	for id := range s.Users {
		if !b.Ready[id] {
			return s, ErrNotAllReady
		}
	}
	ns := s.clone()
	ns.Battle.Phase = PhaseCountdown
	return ns, nil
}

// ActivateBattle is the automatic countdown -> active transition once the
// countdown hits zero. StartedAt is stamped server-side.
func ActivateBattle(s SessionState, now time.Time) (SessionState, error) {
	b := s.Battle
	if b == nil || b.Phase != PhaseCountdown {
		return s, ErrInvalidTransition
	}
	ns := s.clone()
	ns.Battle.Phase = PhaseActive
	ns.Battle.StartedAt = now
	return ns, nil
}

// EndBattle moves active -> ended, whether by timer expiry or an explicit
// host end signal. Ended is terminal; no submissions are accepted after.
func EndBattle(s SessionState, now time.Time) (SessionState, error) {
	b := s.Battle
	if b == nil || b.Phase != PhaseActive {
		return s, ErrInvalidTransition
	}
	ns := s.clone()
	ns.Battle.Phase = PhaseEnded
	ns.Battle.EndedAt = now
	return ns, nil
}

// RecordSubmission stores a scored attempt, overwriting any earlier one
// from the same user. Rejected outside the active phase.
func RecordSubmission(s SessionState, userID string, sub Submission) (SessionState, error) {
	b := s.Battle
	if b == nil || b.Phase != PhaseActive {
		return s, ErrBattleNotActive
	}
	if _, ok := s.Users[userID]; !ok {
		return s, ErrUnknownUser
	}
	ns := s.clone()
	ns.Battle.Submissions[userID] = sub
	return ns, nil
}

// RankedEntry is one row of the final standings.
type RankedEntry struct {
	UserID  string        `json:"userId"`
	Score   int           `json:"score"`
	Passed  int           `json:"passed"`
	Total   int           `json:"total"`
	Elapsed time.Duration `json:"elapsedMs"`
}

// Rank orders submissions by score descending, then elapsed time ascending.
func Rank(b *BattleState) []RankedEntry {
	if b == nil {
		return nil
	}
	out := make([]RankedEntry, 0, len(b.Submissions))
	for id, sub := range b.Submissions {
		out = append(out, RankedEntry{
			UserID:  id,
			Score:   sub.Score,
			Passed:  sub.Passed,
			Total:   sub.Total,
			Elapsed: sub.Elapsed,
		})
	}
	slices.SortFunc(out, func(a, c RankedEntry) int {
		if a.Score != c.Score {
			if a.Score > c.Score {
				return -1
			}
			return 1
		}
		if a.Elapsed != c.Elapsed {
			if a.Elapsed < c.Elapsed {
				return -1
			}
			return 1
		}
		return strings.Compare(a.UserID, c.UserID)
	})
	return out
}

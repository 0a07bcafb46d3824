package engine

import "time"

// Presence is advisory only: it never blocks or reorders code sync. All
// per-user presence fields are last-write-wins.

const (
	// TypingQuiet is how long after the last edit the typing flag clears.
	TypingQuiet = 2 * time.Second
	// IdleAfter marks a participant idle once no input arrives for this long.
	IdleAfter = 60 * time.Second
	// pingWindow is the sliding-window size for round-trip samples.
	pingWindow = 5
)

// MoveCursor records the latest cursor position for a user.
func MoveCursor(s SessionState, userID string, pos Position, at time.Time) SessionState {
	u, ok := s.Users[userID]
	if !ok {
		return s
	}
	ns := s.clone()
	ns.Cursors[userID] = CursorInfo{Position: pos, Color: u.Color, Name: u.Name, UpdatedAt: at}
	ns.LastInput[userID] = at
	return markActive(ns, userID)
}

// ChangeSelection records the latest selection range for a user.
func ChangeSelection(s SessionState, userID string, r Range, at time.Time) SessionState {
	u, ok := s.Users[userID]
	if !ok {
		return s
	}
	ns := s.clone()
	ns.Selections[userID] = SelectionInfo{Range: r, Color: u.Color, Name: u.Name, UpdatedAt: at}
	ns.LastInput[userID] = at
	return markActive(ns, userID)
}

// SetTyping flips the typing indicator; it is set on every accepted edit
// and cleared by the room loop after a quiet window.
func SetTyping(s SessionState, userID string, typing bool) SessionState {
	u, ok := s.Users[userID]
	if !ok || u.Typing == typing {
		return s
	}
	ns := s.clone()
	u.Typing = typing
	ns.Users[userID] = u
	return ns
}

// MarkInput records that the user produced an input event, for idle
// detection.
func MarkInput(s SessionState, userID string, at time.Time) SessionState {
	if _, ok := s.Users[userID]; !ok {
		return s
	}
	ns := s.clone()
	ns.LastInput[userID] = at
	return markActive(ns, userID)
}

func markActive(s SessionState, userID string) SessionState {
	u := s.Users[userID]
	if u.Idle {
		u.Idle = false
		s.Users[userID] = u
	}
	return s
}

// SweepIdle flips the idle flag for users whose last input is older than
// IdleAfter. It runs on a periodic tick rather than per event. The second
// return is the set of users whose flag changed.
func SweepIdle(s SessionState, now time.Time) (SessionState, []string) {
	var changed []string
	ns := s
	cloned := false
	for id, u := range s.Users {
		last, ok := s.LastInput[id]
		idle := ok && now.Sub(last) >= IdleAfter
		if idle == u.Idle {
			continue
		}
		if !cloned {
			ns = s.clone()
			cloned = true
		}
		nu := ns.Users[id]
		nu.Idle = idle
		ns.Users[id] = nu
		changed = append(changed, id)
	}
	return ns, changed
}

// RecordPing folds a round-trip sample into the user's sliding window and
// rebuckets their connection quality.
func RecordPing(s SessionState, userID string, rtt time.Duration, at time.Time) SessionState {
	if _, ok := s.Users[userID]; !ok {
		return s
	}
	ns := s.clone()
	st := ns.Conn[userID]
	st.SamplesMs = append(st.SamplesMs, rtt.Milliseconds())
	if len(st.SamplesMs) > pingWindow {
		st.SamplesMs = st.SamplesMs[len(st.SamplesMs)-pingWindow:]
	}
	st.Quality = bucketQuality(st.SamplesMs)
	ns.Conn[userID] = st
	u := ns.Users[userID]
	u.Quality = st.Quality
	ns.Users[userID] = u
	ns.LastInput[userID] = at
	return ns
}

func bucketQuality(samples []int64) Quality {
	if len(samples) == 0 {
		return QualityGood
	}
	var sum int64
	for _, ms := range samples {
		sum += ms
	}
	switch avg := sum / int64(len(samples)); {
	case avg < 100:
		return QualityGood
	case avg < 300:
		return QualityFair
	default:
		return QualityPoor
	}
}

// Follow points a follower's viewport at a target user.
func Follow(s SessionState, follower, target string) (SessionState, error) {
	if _, ok := s.Users[follower]; !ok {
		return s, ErrUnknownUser
	}
	if _, ok := s.Users[target]; !ok {
		return s, ErrUnknownUser
	}
	ns := s.clone()
	ns.Following[follower] = target
	return ns, nil
}

// Unfollow clears a follower's target, reporting who was being followed.
func Unfollow(s SessionState, follower string) (SessionState, string) {
	target, ok := s.Following[follower]
	if !ok {
		return s, ""
	}
	ns := s.clone()
	delete(ns.Following, follower)
	return ns, target
}

// FollowersOf lists users currently following the target.
func (s SessionState) FollowersOf(target string) []string {
	var out []string
	for follower, t := range s.Following {
		if t == target {
			out = append(out, follower)
		}
	}
	return out
}

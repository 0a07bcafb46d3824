package engine

import (
	"strings"
	"unicode/utf8"
)

// Diff is a range-replacement edit: everything between Start and End
// (inclusive start, exclusive end, zero-based line/column in runes) is
// replaced by Text.
type Diff struct {
	Start Position `json:"start"`
	End   Position `json:"end"`
	Text  string   `json:"text"`
}

// ApplyDiff applies a client edit against the current state. The client's
// version must equal the server's; a stale version leaves the state
// untouched and returns ErrVersionMismatch so the caller can push a full
// resync to that client only. On success the version is bumped by one.
func ApplyDiff(s SessionState, userID string, d Diff, clientVersion int64) (SessionState, error) {
	if clientVersion != s.Version {
		return s, ErrVersionMismatch
	}
	code, err := spliceRange(s.Code, d)
	if err != nil {
		return s, err
	}
	ns := s.clone()
	ns.Code = code
	ns.Version++
	ns.LastModifiedBy = userID
	return ns, nil
}

// ReplaceDocument is the heavyweight full-buffer sync used on language
// change or an explicit resync. It resets the version counter; recipients
// must replace their local buffer unconditionally.
func ReplaceDocument(s SessionState, userID, language, code string) SessionState {
	ns := s.clone()
	ns.Code = code
	if language != "" {
		ns.Language = language
	}
	ns.Version = 0
	ns.LastModifiedBy = userID
	return ns
}

// spliceRange replaces the rune range addressed by the diff's line/column
// coordinates. Columns past the end of a line clamp to the line length,
// since editors routinely report end-of-line positions that way.
func spliceRange(code string, d Diff) (string, error) {
	lines := strings.Split(code, "\n")
	start, ok := runeOffset(lines, d.Start)
	if !ok {
		return "", ErrBadRange
	}
	end, ok := runeOffset(lines, d.End)
	if !ok || end < start {
		return "", ErrBadRange
	}
	runes := []rune(code)
	var b strings.Builder
	b.Grow(len(code) + len(d.Text))
	b.WriteString(string(runes[:start]))
	b.WriteString(d.Text)
	b.WriteString(string(runes[end:]))
	return b.String(), nil
}

func runeOffset(lines []string, p Position) (int, bool) {
	if p.Line < 0 || p.Line >= len(lines) || p.Column < 0 {
		return 0, false
	}
	n := 0
	for i := 0; i < p.Line; i++ {
		n += utf8.RuneCountInString(lines[i]) + 1 // +1 for the newline
	}
	col := p.Column
	if max := utf8.RuneCountInString(lines[p.Line]); col > max {
		col = max
	}
	return n + col, true
}

// Package transcript turns cumulative transcription deltas into turn-based entries.
package transcript

import (
	"strings"
	"time"

	"callguard/pkg/analysis"
)

// Assembler holds the transcript of one session. It is not safe for
// concurrent use; the session controller serializes access.
type Assembler struct {
	now     func() time.Time
	open    bool
	buffer  string
	entries []analysis.TranscriptEntry
}

// NewAssembler creates an empty assembler. A nil clock uses time.Now.
func NewAssembler(now func() time.Time) *Assembler {
	if now == nil {
		now = time.Now
	}
	return &Assembler{now: now}
}

// Delta folds a transcription fragment into the current turn. Fragments are
// either incremental pieces, which are appended to the turn buffer, or a
// restatement of the turn so far, which replaces it. Incremental pieces carry
// their own leading space, so only a fragment that begins with the buffered
// text itself counts as a restatement. While a turn is open the
// trailing entry is overwritten with the buffer rather than appended to.
// Reports whether the transcript changed.
func (a *Assembler) Delta(speaker analysis.Speaker, fragment string) bool {
	if prior := strings.TrimSpace(a.buffer); prior != "" && strings.HasPrefix(fragment, prior) {
		a.buffer = fragment
	} else {
		a.buffer += fragment
	}
	text := strings.TrimSpace(a.buffer)
	if text == "" {
		return false
	}

	if a.open {
		if last := len(a.entries) - 1; last >= 0 && a.entries[last].Speaker == speaker {
			a.entries[last].Text = text
			return true
		}
	}

	a.open = true
	a.entries = append(a.entries, analysis.TranscriptEntry{
		Timestamp: a.now().Format(analysis.ClockFormat),
		Text:      text,
		Speaker:   speaker,
	})
	return true
}

// TurnComplete closes the current turn unconditionally
func (a *Assembler) TurnComplete() {
	a.open = false
	a.buffer = ""
}

// Open reports whether a turn is in progress
func (a *Assembler) Open() bool {
	return a.open
}

// Entries returns a copy of the transcript
func (a *Assembler) Entries() []analysis.TranscriptEntry {
	out := make([]analysis.TranscriptEntry, len(a.entries))
	copy(out, a.entries)
	return out
}

// Len returns the number of entries
func (a *Assembler) Len() int {
	return len(a.entries)
}

// Reset clears the transcript for a new session
func (a *Assembler) Reset() {
	a.TurnComplete()
	a.entries = nil
}

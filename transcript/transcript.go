package transcript

import (
	"time"

	"github.com/mrsingh-rishi/pitch-client/model"
)

// Transcript is an ordered, append-only log of conversation entries.
// It is owned by a single goroutine and is not safe for concurrent use.
type Transcript struct {
	entries []model.Entry
	now     func() time.Time
}

// New creates and returns an empty Transcript.
func New() *Transcript {
	return &Transcript{entries: []model.Entry{}, now: time.Now}
}

// Append adds an entry to the end of the transcript and returns it.
func (t *Transcript) Append(speaker model.Speaker, text string) model.Entry {
	e := model.Entry{Speaker: speaker, Text: text, At: t.now()}
	t.entries = append(t.entries, e)
	return e
}

// Entries returns a copy of the entries in arrival order.
func (t *Transcript) Entries() []model.Entry {
	out := make([]model.Entry, len(t.entries))
	copy(out, t.entries)
	return out
}

// Last returns the most recent entry.
// The boolean is false if the transcript is empty.
func (t *Transcript) Last() (model.Entry, bool) {
	if len(t.entries) == 0 {
		return model.Entry{}, false
	}
	return t.entries[len(t.entries)-1], true
}

// Clear drops every entry.
func (t *Transcript) Clear() {
	t.entries = t.entries[:0]
}

// Len returns the number of entries.
func (t *Transcript) Len() int {
	return len(t.entries)
}

// IsEmpty returns true if the transcript has no entries.
func (t *Transcript) IsEmpty() bool {
	return len(t.entries) == 0
}

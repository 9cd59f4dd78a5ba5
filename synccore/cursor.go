package synccore

import (
	"github.com/sirupsen/logrus"

	"github.com/0k-sync/relay-core/wire"
)

// MaxTrackedGaps caps the number of outstanding gap spans a CursorTracker
// will remember, guarding against pathological memory growth from an
// adversarial or corrupt cursor stream (spec.md §4.3: "capped (e.g.,
// 10,000) to prevent pathological memory expansion").
const MaxTrackedGaps = 10000

// Gap is a span of cursors this tracker has not yet observed, inclusive
// at both ends: [From, To].
type Gap struct {
	From wire.Cursor
	To   wire.Cursor
}

// CursorTracker records the highest cursor a client has seen for one
// relay/group pairing and the gaps below it left behind when cursors
// arrive out of order (spec.md §4.3). It never does I/O; the client
// engine decides whether and when to issue a closing Pull for a gap.
type CursorTracker struct {
	last wire.Cursor
	gaps []Gap
}

// NewCursorTracker constructs a tracker starting at wire.NoCursor.
func NewCursorTracker() *CursorTracker {
	return &CursorTracker{last: wire.NoCursor}
}

// Last returns the highest cursor observed so far; unobserved cursors
// below it are reported by Gaps.
func (t *CursorTracker) Last() wire.Cursor { return t.last }

// Gaps returns the currently outstanding gap spans, oldest first.
func (t *CursorTracker) Gaps() []Gap {
	out := make([]Gap, len(t.gaps))
	copy(out, t.gaps)
	return out
}

// Observe records a newly-seen cursor c. If c is exactly one past the
// previous high-water mark, the mark advances and the recorded gaps, all
// of which lie below the old mark, are kept. If c is further ahead, the
// span between the old mark and c is recorded as a gap and the mark moves
// to c. Observing a cursor at or below the current mark that falls inside
// an already-recorded gap closes that portion of the gap.
func (t *CursorTracker) Observe(c wire.Cursor) {
	switch {
	case c <= t.last:
		t.closeWithinGaps(c)
	case c == t.last+1:
		t.last = c
	default:
		t.recordGap(t.last+1, c-1)
		t.last = c
	}
}

func (t *CursorTracker) recordGap(from, to wire.Cursor) {
	if len(t.gaps) >= MaxTrackedGaps {
		logrus.WithFields(logrus.Fields{
			"package":  "synccore",
			"gap_from": uint64(from),
			"gap_to":   uint64(to),
			"tracked":  len(t.gaps),
			"cap":      MaxTrackedGaps,
		}).Warn("discarding cursor gap: tracker at capacity")
		return
	}
	t.gaps = append(t.gaps, Gap{From: from, To: to})
}

// closeWithinGaps marks cursor c as observed if it falls inside any
// tracked gap, splitting or shrinking that gap as needed.
func (t *CursorTracker) closeWithinGaps(c wire.Cursor) {
	out := t.gaps[:0]
	for _, g := range t.gaps {
		switch {
		case c < g.From || c > g.To:
			out = append(out, g)
		case g.From == g.To:
			// fully closed, drop it
		case c == g.From:
			out = append(out, Gap{From: g.From + 1, To: g.To})
		case c == g.To:
			out = append(out, Gap{From: g.From, To: g.To - 1})
		default:
			out = append(out, Gap{From: g.From, To: c - 1}, Gap{From: c + 1, To: g.To})
		}
	}
	t.gaps = out
}

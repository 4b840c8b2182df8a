package engine

import (
	"golang.org/x/crypto/blake2b"

	"mindtype/internal/protocol"
)

// snapshot is one entry of the edit history.
type snapshot struct {
	sum       [blake2b.Size256]byte
	runes     int
	commit    int
	timestamp int64
}

// session is the state that persists across Process calls on one handle.
// It is replaced wholesale after every successful call, never mutated in
// place, so a failed call leaves the previous state intact.
type session struct {
	prev    []rune
	hasPrev bool
	commit  int
	history []snapshot // oldest first
	depth   int
}

func newSession(depth int) *session {
	return &session{depth: max(depth, 1)}
}

func fingerprint(text string) [blake2b.Size256]byte {
	return blake2b.Sum256([]byte(text))
}

func (s *session) last() (snapshot, bool) {
	if len(s.history) == 0 {
		return snapshot{}, false
	}
	return s.history[len(s.history)-1], true
}

// lookup finds the most recent snapshot of identical text.
func (s *session) lookup(sum [blake2b.Size256]byte, runes int) (snapshot, bool) {
	for i := len(s.history) - 1; i >= 0; i-- {
		if h := s.history[i]; h.sum == sum && h.runes == runes {
			return h, true
		}
	}
	return snapshot{}, false
}

// stepInput is one snapshot as seen by the session.
type stepInput struct {
	raw         string
	text        []rune
	cursor      int
	lo          int // start of the examined window
	commitWords int
	edits       []protocol.EditEvent
	timestamp   int64
}

// step returns the session after observing in. The receiver is unchanged.
func (s *session) step(in stepInput) *session {
	sum := fingerprint(in.raw)
	n := len(in.text)

	next := &session{
		prev:    in.text,
		hasPrev: true,
		commit:  s.commit,
		depth:   s.depth,
	}

	if last, ok := s.last(); ok && s.hasPrev && last.sum == sum && last.runes == n {
		next.history = s.history
		next.commit = min(s.commit, n)
		return next
	}

	p := commonPrefix(s.prev, in.text)
	boundary := min(s.commit, p)
	if e, ok := s.firstEdit(in.edits); ok {
		boundary = min(boundary, e)
	}

	switch {
	case boundary < s.commit:
		// Committed text changed: reopen from the first changed word, unless
		// this exact text was seen before, in which case its boundary holds.
		boundary = chunkStart(in.text, min(boundary, n), 0)
		if h, ok := s.lookup(sum, n); ok {
			boundary = min(h.commit, n)
		}
	case s.hasPrev:
		// Only text already seen unchanged in the previous call can commit.
		limit := chunkStart(in.text, min(p, n), 0)
		if c, ok := commitCandidate(in.text, in.cursor, in.commitWords, in.lo); ok && c > boundary {
			boundary = max(boundary, min(c, limit))
		}
	}
	next.commit = min(boundary, n)

	hist := make([]snapshot, 0, s.depth)
	if len(s.history) >= s.depth {
		hist = append(hist, s.history[len(s.history)-s.depth+1:]...)
	} else {
		hist = append(hist, s.history...)
	}
	next.history = append(hist, snapshot{
		sum:       sum,
		runes:     n,
		commit:    next.commit,
		timestamp: in.timestamp,
	})
	return next
}

// firstEdit returns the leftmost offset touched by the reported edits that
// apply to the previous snapshot. Events stamped at or before that
// snapshot were already seen, events outside it are ignored, and an event
// that rewrites a span with identical text touches nothing.
func (s *session) firstEdit(edits []protocol.EditEvent) (int, bool) {
	last, hasLast := s.last()
	first, found := 0, false
	for _, ev := range edits {
		if ev.Start < 0 || ev.End < ev.Start || ev.End > len(s.prev) {
			continue
		}
		if hasLast && ev.Timestamp != 0 && last.timestamp != 0 && ev.Timestamp <= last.timestamp {
			continue
		}
		if string(s.prev[ev.Start:ev.End]) == ev.Inserted {
			continue
		}
		if !found || ev.Start < first {
			first, found = ev.Start, true
		}
	}
	return first, found
}

// commitCandidate returns the start of the earliest word that is still
// open: the commitWords-th complete word left of the cursor, provided at
// least one complete word precedes it. The word touching the cursor is not
// complete.
func commitCandidate(text []rune, cursor, commitWords, lo int) (int, bool) {
	if commitWords < 1 {
		commitWords = 1
	}
	i := chunkStart(text, cursor, lo)

	var starts []int // nearest first
	for len(starts) <= commitWords {
		for i > lo && isSpace(text[i-1]) {
			i--
		}
		if i == lo {
			break
		}
		i = chunkStart(text, i, lo)
		starts = append(starts, i)
	}
	if len(starts) <= commitWords {
		return 0, false
	}
	return starts[commitWords-1], true
}

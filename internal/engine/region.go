package engine

import "mindtype/internal/protocol"

// regionInput carries what the active region depends on.
type regionInput struct {
	text     []rune
	cursor   int
	lo       int // start of the examined window
	commit   int
	maxChars int
	maxWords int
}

// activeRegion computes the span open for correction: it ends at the
// cursor, looks back maxChars runes (widened to a word start, optionally
// narrowed to the last maxWords words) and never reaches into committed
// text.
func activeRegion(in regionInput) protocol.ActiveRegion {
	end := in.cursor

	start := max(in.lo, end-in.maxChars)
	if splitsChunk(in.text, start) {
		start = chunkStart(in.text, start, in.lo)
	}

	if in.maxWords > 0 {
		cs := chunks(in.text, start, end)
		if len(cs) > in.maxWords {
			start = cs[len(cs)-in.maxWords].start
		}
	}

	start = max(start, in.commit)
	start = min(start, end)
	return protocol.ActiveRegion{Start: start, End: end}
}

// candidateWords returns the chunks of the region that may be corrected:
// whole words that do not touch the cursor, and do not begin at a window
// edge that cut them. count is the number of words in the region.
func candidateWords(text []rune, region protocol.ActiveRegion, cursor int) (candidates []chunk, count int) {
	for _, c := range chunks(text, region.Start, region.End) {
		if !c.hasWord() {
			continue
		}
		count++
		if c.end >= cursor {
			continue
		}
		if c.start == region.Start && splitsChunk(text, c.start) {
			continue
		}
		candidates = append(candidates, c)
	}
	return candidates, count
}

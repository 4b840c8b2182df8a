package engine

import "unicode"

// chunk is a maximal run of non-space runes. [wordStart, wordEnd) is the
// chunk with surrounding punctuation trimmed; it is empty for chunks that
// hold only punctuation.
type chunk struct {
	start, end         int
	wordStart, wordEnd int
}

func (c chunk) hasWord() bool {
	return c.wordEnd > c.wordStart
}

func isSpace(r rune) bool {
	return unicode.IsSpace(r)
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsMark(r)
}

// chunkStart returns the start of the chunk that contains or ends at p,
// never moving left of lo. If p follows a space it is returned unchanged.
func chunkStart(text []rune, p, lo int) int {
	for p > lo && !isSpace(text[p-1]) {
		p--
	}
	return p
}

// splitsChunk reports whether offset p falls strictly inside a chunk.
func splitsChunk(text []rune, p int) bool {
	return p > 0 && p < len(text) && !isSpace(text[p-1]) && !isSpace(text[p])
}

// chunks tokenizes text[lo:hi).
func chunks(text []rune, lo, hi int) []chunk {
	var out []chunk
	i := lo
	for i < hi {
		for i < hi && isSpace(text[i]) {
			i++
		}
		if i == hi {
			break
		}
		c := chunk{start: i}
		for i < hi && !isSpace(text[i]) {
			i++
		}
		c.end = i

		ws, we := c.start, c.end
		for ws < we && !isWordRune(text[ws]) {
			ws++
		}
		for we > ws && !isWordRune(text[we-1]) {
			we--
		}
		c.wordStart, c.wordEnd = ws, we
		out = append(out, c)
	}
	return out
}

// commonPrefix returns the number of leading runes a and b share.
func commonPrefix(a, b []rune) int {
	n := min(len(a), len(b))
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return i
		}
	}
	return n
}

// window picks the span of at most limit runes that is examined for a text
// of n runes with the cursor at cursor. The span ends no earlier than the
// cursor.
func window(n, cursor, limit int) (lo, hi int) {
	if limit <= 0 || n <= limit {
		return 0, n
	}
	lo = max(0, cursor-limit)
	hi = min(n, lo+limit)
	return lo, hi
}

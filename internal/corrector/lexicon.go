package corrector

import (
	"bufio"
	_ "embed"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/agext/levenshtein"
	lru "github.com/hashicorp/golang-lru/v2"
)

// ModelLexiconEN is the embedded English lexicon model.
const ModelLexiconEN = "lexicon-en"

var (
	//go:embed data/words_en.txt
	wordsEN string

	//go:embed data/misspellings_en.txt
	misspellingsEN string
)

// Confidence scores.
const (
	knownConfidence   = 0.95
	fuzzyBase         = 0.9
	fuzzyDistanceCost = 0.25
	fuzzyRankCost     = 0.1
)

// minFuzzyLength is the shortest word (in runes) searched by edit
// distance. Shorter words only match the misspelling table.
const minFuzzyLength = 4

type cached struct {
	s  Suggestion
	ok bool
}

// Lexicon corrects words against a frequency-ranked word list and a table
// of known misspellings.
type Lexicon struct {
	words    []string       // by frequency rank
	rank     map[string]int // word -> rank
	byLength map[int][]int  // rune length -> ranks
	known    map[string]string
	maxDist  int
	cache    *lru.Cache[string, cached]
}

// NewLexiconEN builds the embedded English lexicon.
func NewLexiconEN(opts Options) (*Lexicon, error) {
	return NewLexicon(wordsEN, misspellingsEN, opts)
}

// NewLexicon builds a lexicon from a word list (one word per line, most
// frequent first) and a misspelling table (misspelling TAB replacement).
// Lines starting with '#' are ignored in both.
func NewLexicon(words, misspellings string, opts Options) (*Lexicon, error) {
	l := &Lexicon{
		rank:     make(map[string]int),
		byLength: make(map[int][]int),
		known:    make(map[string]string),
		maxDist:  opts.MaxEditDistance,
	}

	for _, line := range lines(words) {
		w := lower(line)
		if _, dup := l.rank[w]; dup {
			continue
		}
		r := len(l.words)
		l.words = append(l.words, w)
		l.rank[w] = r
		n := utf8.RuneCountInString(w)
		l.byLength[n] = append(l.byLength[n], r)
	}
	if len(l.words) == 0 {
		return nil, fmt.Errorf("lexicon has no words")
	}

	for i, line := range lines(misspellings) {
		from, to, ok := strings.Cut(line, "\t")
		if !ok || from == "" || to == "" {
			return nil, fmt.Errorf("misspelling table line %d: want <word>\\t<replacement>", i+1)
		}
		l.known[lower(from)] = to
	}

	if opts.CacheSize > 0 {
		c, err := lru.New[string, cached](opts.CacheSize)
		if err != nil {
			return nil, fmt.Errorf("create suggestion cache: %w", err)
		}
		l.cache = c
	}
	return l, nil
}

func lines(s string) []string {
	var out []string
	sc := bufio.NewScanner(strings.NewReader(s))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	return out
}

// Size returns the number of dictionary words.
func (l *Lexicon) Size() int {
	return len(l.words)
}

// Contains reports whether word is a dictionary word, ignoring case.
func (l *Lexicon) Contains(word string) bool {
	_, ok := l.rank[lower(word)]
	return ok
}

// Suggest implements Corrector.
func (l *Lexicon) Suggest(word string) (Suggestion, bool) {
	if l.cache != nil {
		if c, ok := l.cache.Get(word); ok {
			return c.s, c.ok
		}
	}
	s, ok := l.suggest(word)
	if l.cache != nil {
		l.cache.Add(word, cached{s: s, ok: ok})
	}
	return s, ok
}

func (l *Lexicon) suggest(word string) (Suggestion, bool) {
	if skip(word) {
		return Suggestion{}, false
	}
	pattern := classify(word)
	if pattern == caseMixed {
		return Suggestion{}, false
	}
	key := lower(word)

	if repl, ok := l.known[key]; ok {
		return Suggestion{
			Replacement: restoreCase(pattern, repl),
			Distance:    levenshtein.Distance(key, lower(repl), nil),
			Confidence:  knownConfidence,
		}, true
	}
	if _, ok := l.rank[key]; ok {
		return Suggestion{}, false
	}

	n := utf8.RuneCountInString(key)
	if n < minFuzzyLength {
		return Suggestion{}, false
	}
	maxDist := min(l.maxDist, (n-1)/2)
	if maxDist <= 0 {
		return Suggestion{}, false
	}

	best, bestDist := -1, maxDist+1
	params := levenshtein.NewParams().MaxCost(maxDist)
	for length := n - maxDist; length <= n+maxDist; length++ {
		for _, r := range l.byLength[length] {
			d := levenshtein.Distance(key, l.words[r], params)
			if d > maxDist {
				continue
			}
			// Ranks are unique, so equal distances resolve by frequency.
			if d < bestDist || d == bestDist && r < best {
				best, bestDist = r, d
			}
		}
	}
	if best < 0 {
		return Suggestion{}, false
	}

	conf := fuzzyBase - fuzzyDistanceCost*float64(bestDist) - fuzzyRankCost*float64(best)/float64(len(l.words))
	return Suggestion{
		Replacement: restoreCase(pattern, l.words[best]),
		Distance:    bestDist,
		Confidence:  conf,
	}, true
}

// skip reports words the model never touches: short words, words with
// digits, and anything that looks like a URL, address or path.
func skip(word string) bool {
	if utf8.RuneCountInString(word) < 2 {
		return true
	}
	if strings.Contains(word, "://") || strings.HasPrefix(strings.ToLower(word), "www.") {
		return true
	}
	for _, r := range word {
		switch {
		case unicode.IsLetter(r), r == '\'', r == '’', r == '-':
		default:
			return true
		}
	}
	return false
}

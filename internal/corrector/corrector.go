// Package corrector provides the word-level correction models used by the
// engine.
package corrector

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrUnknownModel is returned by New for an unregistered model id.
var ErrUnknownModel = errors.New("unknown correction model")

// Suggestion is a proposed replacement for one word.
type Suggestion struct {
	Replacement string
	Distance    int
	Confidence  float64
}

// Corrector proposes a replacement for a single word. Implementations must
// be deterministic: the same word always yields the same answer.
type Corrector interface {
	Suggest(word string) (Suggestion, bool)
}

// Options tune a model.
type Options struct {
	// MaxEditDistance bounds dictionary matches. Zero disables fuzzy matching.
	MaxEditDistance int

	// CacheSize is the number of memoized suggestions. Zero disables the cache.
	CacheSize int
}

// Factory builds a model.
type Factory func(Options) (Corrector, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

// Register makes a model available under id, replacing any previous entry.
func Register(id string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[id] = f
}

// Models returns the registered model ids, sorted.
func Models() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	ids := make([]string, 0, len(registry))
	for id := range registry {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// New builds the model registered as id.
func New(id string, opts Options) (Corrector, error) {
	registryMu.RLock()
	f, ok := registry[id]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownModel, id)
	}
	c, err := f(opts)
	if err != nil {
		return nil, fmt.Errorf("build model %q: %w", id, err)
	}
	return c, nil
}

// ModelNone never proposes a correction.
const ModelNone = "none"

type nopCorrector struct{}

func (nopCorrector) Suggest(string) (Suggestion, bool) { return Suggestion{}, false }

func init() {
	Register(ModelNone, func(Options) (Corrector, error) { return nopCorrector{}, nil })
	Register(ModelLexiconEN, func(opts Options) (Corrector, error) { return NewLexiconEN(opts) })
}

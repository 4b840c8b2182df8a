// Package engine implements the correction engine behind the C boundary.
//
// An Engine is an explicit handle: it owns its configuration, its model and
// the session state that persists across calls. Calls on one handle are
// serialized; independent handles share nothing.
package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"mindtype/internal/config"
	"mindtype/internal/corrector"
	"mindtype/internal/logging"
	"mindtype/internal/protocol"
)

// State is the lifecycle state of an Engine.
type State int32

const (
	StateUninitialized State = iota
	StateReady
	StateProcessing
	StateDisposed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateReady:
		return "ready"
	case StateProcessing:
		return "processing"
	case StateDisposed:
		return "disposed"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Observer receives per-call measurements. Implementations must not block.
type Observer interface {
	ObserveInitialize(ok bool, warnings int)
	ObserveProcess(kind string, latency time.Duration, corrections int, truncated, partial bool)
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger. Without it the engine logs to stderr
// using the log section of its config.
func WithLogger(l *logging.Logger) Option {
	return func(e *Engine) {
		e.log = l
		e.ownLogger = false
	}
}

// WithObserver attaches an Observer.
func WithObserver(o Observer) Option {
	return func(e *Engine) { e.observer = o }
}

// WithClock replaces time.Now for latency measurement.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// Engine is a correction engine handle.
type Engine struct {
	mu    sync.Mutex
	state atomic.Int32

	cfg      config.Config
	model    corrector.Corrector
	sess     *session
	warnings error

	log       *logging.Logger
	ownLogger bool
	observer  Observer
	now       func() time.Time
}

// New returns an uninitialized engine.
func New(opts ...Option) *Engine {
	e := &Engine{
		ownLogger: true,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.log == nil {
		e.log = logging.Default().WithComponent("engine")
	}
	return e
}

// State returns the current lifecycle state.
func (e *Engine) State() State {
	return State(e.state.Load())
}

func (e *Engine) setState(s State) {
	e.state.Store(int32(s))
}

// Config returns a copy of the active configuration.
func (e *Engine) Config() config.Config {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg
}

// Warnings returns the configuration problems that the last lenient
// Initialize replaced with defaults, or nil.
func (e *Engine) Warnings() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.warnings
}

// Initialize configures the engine from a JSON blob. Problems in the blob
// never fail initialization: offending keys keep their defaults and are
// reported by Warnings. The only error is ErrDisposed.
func (e *Engine) Initialize(blob []byte) error {
	cfg, perr := config.Parse(blob)
	return e.install(cfg, perr, false)
}

// InitializeStrict is Initialize without the fallback: any configuration
// problem is returned as a ConfigInvalid error and the engine is left as it
// was.
func (e *Engine) InitializeStrict(blob []byte) error {
	cfg, err := config.ParseStrict(blob)
	if err != nil {
		e.observeInit(false, 0)
		return newError(ConfigInvalid, err)
	}
	return e.install(cfg, nil, true)
}

// InitializeConfig installs an already decoded configuration, as loaded
// from a file by the CLI. It must pass Validate.
func (e *Engine) InitializeConfig(cfg config.Config) error {
	if err := cfg.Validate(); err != nil {
		e.observeInit(false, 0)
		return newError(ConfigInvalid, err)
	}
	return e.install(cfg, nil, true)
}

func (e *Engine) install(cfg config.Config, warnings error, strict bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.State() == StateDisposed {
		e.observeInit(false, 0)
		return ErrDisposed
	}

	opts := corrector.Options{MaxEditDistance: cfg.MaxEditDistance, CacheSize: cfg.CacheSize}
	model, err := corrector.New(cfg.Model, opts)
	if err != nil {
		if strict || !errors.Is(err, corrector.ErrUnknownModel) {
			e.observeInit(false, 0)
			return newError(ConfigInvalid, err)
		}
		warnings = errors.Join(warnings, &config.ValidationError{
			Field:   "model",
			Message: fmt.Sprintf("unknown model %q; using %s", cfg.Model, config.DefaultModel),
		})
		cfg.Model = config.DefaultModel
		if model, err = corrector.New(cfg.Model, opts); err != nil {
			e.observeInit(false, 0)
			return newError(InternalFailure, err)
		}
	}

	if e.ownLogger {
		e.log = buildLogger(cfg.Log)
	}

	e.cfg = cfg
	e.model = model
	e.sess = newSession(cfg.HistoryDepth)
	e.warnings = nil
	count := 0
	if warnings != nil {
		e.warnings = newError(ConfigInvalid, warnings)
		count = warningCount(warnings)
		e.log.Warn("configuration problems replaced with defaults", "error", warnings.Error())
	}
	e.setState(StateReady)
	e.observeInit(true, count)

	e.log.Debug("engine initialized",
		"model", cfg.Model,
		"preset", cfg.Preset,
		"max_text_length", cfg.MaxTextLength,
		"latency_budget_ms", cfg.LatencyBudgetMs,
	)
	return nil
}

func warningCount(err error) int {
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		n := 0
		for _, e := range joined.Unwrap() {
			n += warningCount(e)
		}
		return n
	}
	var verrs config.ValidationErrors
	if errors.As(err, &verrs) {
		return len(verrs)
	}
	return 1
}

func buildLogger(lc config.LogConfig) *logging.Logger {
	cfg := logging.DefaultConfig()
	cfg.Component = "engine"
	if lvl, err := logging.ParseLevel(lc.Level); err == nil {
		cfg.Level = lvl
	}
	if f, err := logging.ParseFormat(lc.Format); err == nil {
		cfg.Format = f
	}
	cfg.Writer = os.Stderr
	l, err := logging.New(cfg)
	if err != nil {
		return logging.Default().WithComponent("engine")
	}
	return l
}

// Dispose tears the engine down. Later calls fail with EngineDisposed.
// Dispose is idempotent.
func (e *Engine) Dispose() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.setState(StateDisposed)
	e.model = nil
	e.sess = nil
}

// Process runs one correction request against the session.
func (e *Engine) Process(req protocol.Request) (out Outcome) {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.State() {
	case StateUninitialized:
		return e.fail(newError(EngineNotReady, nil))
	case StateDisposed:
		e.log.Error("process called on a disposed engine")
		return e.fail(newError(EngineDisposed, nil))
	}

	start := e.now()
	e.setState(StateProcessing)
	defer e.setState(StateReady)

	defer func() {
		if r := recover(); r != nil {
			e.log.LogPanic(logging.CapturePanic("engine.Process", r))
			out = e.fail(newError(InternalFailure, fmt.Errorf("panic: %v", r)))
		}
	}()

	if !utf8.ValidString(req.Text) {
		return e.fail(newError(MalformedRequest, fmt.Errorf("text is not valid UTF-8")))
	}
	text := []rune(req.Text)
	if req.CursorPosition < 0 || req.CursorPosition > len(text) {
		return e.fail(newError(MalformedRequest,
			fmt.Errorf("cursorPosition %d outside [0,%d]", req.CursorPosition, len(text))))
	}

	res := e.run(req, text, start)
	res.Latency = e.now().Sub(start)

	if e.observer != nil {
		e.observer.ObserveProcess("", res.Latency, len(res.Corrections), res.Truncated, res.Partial)
	}
	if res.Partial {
		e.log.Debug("latency budget exhausted", "latency_ms", res.LatencyMs())
	}
	return Succeeded(res)
}

func (e *Engine) fail(err *Error) Outcome {
	if e.observer != nil {
		e.observer.ObserveProcess(err.Kind.String(), 0, 0, false, false)
	}
	return Failed(err)
}

func (e *Engine) observeInit(ok bool, warnings int) {
	if e.observer != nil {
		e.observer.ObserveInitialize(ok, warnings)
	}
}

// scored is a correction before ranking.
type scored struct {
	correction protocol.Correction
	confidence float64
}

func (e *Engine) run(req protocol.Request, text []rune, start time.Time) Result {
	cfg := e.cfg
	cursor := req.CursorPosition
	lo, hi := window(len(text), cursor, cfg.MaxTextLength)

	next := e.sess.step(stepInput{
		raw:         req.Text,
		text:        text,
		cursor:      cursor,
		lo:          lo,
		commitWords: cfg.CommitWords,
		edits:       req.EditHistory,
		timestamp:   req.Timestamp,
	})

	maxWords := cfg.ActiveRegionWords
	if req.ActiveRegionWords != nil {
		maxWords = *req.ActiveRegionWords
	}
	threshold := cfg.ConfidenceThreshold
	if req.ConfidenceThreshold != nil {
		threshold = *req.ConfidenceThreshold
	}

	region := activeRegion(regionInput{
		text:     text,
		cursor:   cursor,
		lo:       lo,
		commit:   next.commit,
		maxChars: cfg.ActiveRegionChars,
		maxWords: maxWords,
	})

	res := Result{
		ActiveRegion: region,
		Truncated:    hi-lo < len(text),
	}

	candidates, count := candidateWords(text, region, cursor)
	if count < cfg.MinWords {
		candidates = nil
	}

	budget := time.Duration(cfg.LatencyBudgetMs) * time.Millisecond
	var found []scored
	for _, c := range candidates {
		if e.now().Sub(start) >= budget {
			res.Partial = true
			break
		}
		word := string(text[c.wordStart:c.wordEnd])
		s, ok := e.model.Suggest(word)
		if !ok || s.Replacement == word || s.Confidence < threshold {
			continue
		}
		found = append(found, scored{
			correction: protocol.Correction{
				Range:       protocol.Range{c.wordStart, c.wordEnd},
				Replacement: s.Replacement,
			},
			confidence: s.Confidence,
		})
	}

	res.Corrections, res.Confidences = rank(found, cfg.MaxCorrections)

	// Commit only once the call has fully succeeded.
	e.sess = next

	if res.Truncated {
		e.log.Debug("text windowed", slog.Int("runes", len(text)), slog.Int("window_start", lo), slog.Int("window_end", hi))
	}
	return res
}

// rank orders corrections by confidence, then position, and drops any
// that overlap a higher-priority one.
func rank(found []scored, limit int) ([]protocol.Correction, []float64) {
	sort.SliceStable(found, func(i, j int) bool {
		if found[i].confidence != found[j].confidence {
			return found[i].confidence > found[j].confidence
		}
		return found[i].correction.Range.Start() < found[j].correction.Range.Start()
	})

	corrections := make([]protocol.Correction, 0, min(len(found), limit))
	confidences := make([]float64, 0, cap(corrections))
	for _, f := range found {
		if len(corrections) == limit {
			break
		}
		overlaps := false
		for _, kept := range corrections {
			if kept.Range.Overlaps(f.correction.Range) {
				overlaps = true
				break
			}
		}
		if overlaps {
			continue
		}
		corrections = append(corrections, f.correction)
		confidences = append(confidences, f.confidence)
	}
	return corrections, confidences
}

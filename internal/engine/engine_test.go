package engine

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mindtype/internal/corrector"
	"mindtype/internal/logging"
	"mindtype/internal/protocol"
)

func quietLogger(t *testing.T) *logging.Logger {
	t.Helper()
	cfg := logging.DefaultConfig()
	cfg.Writer = &strings.Builder{}
	l, err := logging.New(cfg)
	require.NoError(t, err)
	return l
}

func newReady(t *testing.T, blob string, opts ...Option) *Engine {
	t.Helper()
	e := New(append([]Option{WithLogger(quietLogger(t))}, opts...)...)
	require.NoError(t, e.Initialize([]byte(blob)))
	require.Equal(t, StateReady, e.State())
	return e
}

func process(t *testing.T, e *Engine, text string, cursor int) Result {
	t.Helper()
	out := e.Process(protocol.Request{Text: text, CursorPosition: cursor})
	require.True(t, out.Ok(), "unexpected error: %v", out.Err())
	return out.Result()
}

func TestScenarioHeloWrld(t *testing.T) {
	e := newReady(t, "{}")

	resp := e.ProcessRecord([]byte(`{"text":"helo wrld","cursorPosition":9}`))

	var got protocol.Response
	require.NoError(t, json.Unmarshal(resp, &got))
	require.Nil(t, got.Error)
	require.NotEmpty(t, got.Corrections)
	assert.Equal(t, protocol.Correction{Range: protocol.Range{0, 4}, Replacement: "hello"}, got.Corrections[0])
	assert.Equal(t, protocol.ActiveRegion{Start: 0, End: 9}, got.ActiveRegion)
	assert.GreaterOrEqual(t, got.LatencyMs, int64(0))
	require.NoError(t, protocol.ValidateResponse(resp))
}

func TestToneTargetDoesNotChangeCorrections(t *testing.T) {
	plain := newReady(t, "{}")
	toned := newReady(t, "{}")

	want := plain.ProcessRaw([]byte(`{"text":"helo wrld ","cursorPosition":10}`)).Response()
	got := toned.ProcessRaw([]byte(`{"text":"helo wrld ","cursorPosition":10,"toneTarget":"Professional"}`)).Response()
	require.Nil(t, got.Error)
	assert.Equal(t, want.Corrections, got.Corrections)
	assert.Equal(t, want.ActiveRegion, got.ActiveRegion)
}

func TestWordAtCursorIsNotCorrected(t *testing.T) {
	e := newReady(t, "{}")

	res := process(t, e, "helo wrld", 9)
	for _, c := range res.Corrections {
		assert.NotEqual(t, protocol.Range{5, 9}, c.Range)
	}

	res = process(t, e, "helo wrld ", 10)
	require.Len(t, res.Corrections, 2)
	assert.ElementsMatch(t,
		[]protocol.Correction{
			{Range: protocol.Range{0, 4}, Replacement: "hello"},
			{Range: protocol.Range{5, 9}, Replacement: "world"},
		},
		res.Corrections)
}

func TestNotReady(t *testing.T) {
	e := New(WithLogger(quietLogger(t)))

	for _, record := range []string{
		`{"text":"helo wrld","cursorPosition":9}`,
		`not even json`,
	} {
		resp := e.ProcessRecord([]byte(record))
		assert.JSONEq(t, `{"corrections":[],"activeRegion":{"start":0,"end":0},"latencyMs":0,"error":"EngineNotReady"}`, string(resp))
	}

	out := e.Process(protocol.Request{Text: "x", CursorPosition: 1})
	assert.ErrorIs(t, out.Err(), ErrNotReady)
	assert.Equal(t, EngineNotReady, out.Kind())
}

func TestMalformedRequests(t *testing.T) {
	e := newReady(t, "{}")

	records := [][]byte{
		nil,
		[]byte(""),
		[]byte("{"),
		[]byte(`{"cursorPosition":1}`),
		[]byte(`{"text":"abc"}`),
		[]byte(`{"text":"abc","cursorPosition":-1}`),
		[]byte(`{"text":"abc","cursorPosition":4}`),
		[]byte(`{"text":"abc","cursorPosition":"2"}`),
		{'{', '"', 't', 'e', 'x', 't', '"', ':', '"', 0xc3, 0x28, '"', ',', '"', 'c', 'a', 'r', 'e', 't', '"', ':', '0', '}'},
	}
	for i, record := range records {
		resp := e.ProcessRecord(record)
		assert.JSONEq(t, `{"corrections":[],"activeRegion":{"start":0,"end":0},"latencyMs":0,"error":"MalformedRequest"}`, string(resp), "record %d", i)
	}
	assert.Equal(t, StateReady, e.State(), "malformed requests do not disturb the session")

	out := e.Process(protocol.Request{Text: "abc", CursorPosition: 7})
	assert.ErrorIs(t, out.Err(), ErrMalformed)
	out = e.Process(protocol.Request{Text: "a\xffb", CursorPosition: 0})
	assert.ErrorIs(t, out.Err(), ErrMalformed)
}

func TestDispose(t *testing.T) {
	e := newReady(t, "{}")
	e.Dispose()
	e.Dispose()

	assert.Equal(t, StateDisposed, e.State())
	out := e.Process(protocol.Request{Text: "helo", CursorPosition: 4})
	assert.ErrorIs(t, out.Err(), ErrDisposed)

	resp := e.ProcessRecord([]byte(`{"text":"helo","cursorPosition":4}`))
	assert.JSONEq(t, `{"corrections":[],"activeRegion":{"start":0,"end":0},"latencyMs":0,"error":"EngineDisposed"}`, string(resp))

	assert.ErrorIs(t, e.Initialize([]byte("{}")), ErrDisposed)
	assert.ErrorIs(t, e.InitializeStrict([]byte("{}")), ErrDisposed)
}

func TestLenientInitialize(t *testing.T) {
	tests := map[string]string{
		"not json":      `this is not json`,
		"array":         `[1,2,3]`,
		"bad types":     `{"maxCorrections":"many","latencyBudgetMs":-5}`,
		"unknown model": `{"model":"does-not-exist"}`,
	}

	for name, blob := range tests {
		t.Run(name, func(t *testing.T) {
			e := New(WithLogger(quietLogger(t)))
			require.NoError(t, e.Initialize([]byte(blob)))
			assert.Equal(t, StateReady, e.State())

			warn := e.Warnings()
			require.Error(t, warn)
			assert.ErrorIs(t, warn, ErrConfigInvalid)

			cfg := e.Config()
			assert.Equal(t, "lexicon-en", cfg.Model)
			assert.Equal(t, 8, cfg.MaxCorrections)
			assert.Equal(t, 20, cfg.LatencyBudgetMs)

			res := process(t, e, "helo wrld", 9)
			assert.NotEmpty(t, res.Corrections)
		})
	}
}

func TestInitializeWithoutWarnings(t *testing.T) {
	e := newReady(t, `{"maxCorrections":2,"unknownKey":true}`)
	assert.NoError(t, e.Warnings())
	assert.Equal(t, 2, e.Config().MaxCorrections)
}

func TestInitializeStrict(t *testing.T) {
	e := New(WithLogger(quietLogger(t)))

	err := e.InitializeStrict([]byte(`{"maxCorrections":0}`))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConfigInvalid)
	assert.Equal(t, StateUninitialized, e.State())

	err = e.InitializeStrict([]byte(`{"model":"nope"}`))
	assert.ErrorIs(t, err, ErrConfigInvalid)
	assert.Equal(t, StateUninitialized, e.State())

	require.NoError(t, e.InitializeStrict([]byte(`{"preset":"strict"}`)))
	assert.Equal(t, StateReady, e.State())
	assert.InDelta(t, 0.7, e.Config().ConfidenceThreshold, 1e-9)
}

func TestReinitializeResetsSession(t *testing.T) {
	e := newReady(t, "{}")
	process(t, e, "teh cat sat on the mat ", 23)

	require.NoError(t, e.Initialize([]byte(`{"maxCorrections":1}`)))
	res := process(t, e, "teh cat", 7)
	assert.Equal(t, 0, res.ActiveRegion.Start)
	require.Len(t, res.Corrections, 1)
	assert.Equal(t, "the", res.Corrections[0].Replacement)
}

func TestDeterminism(t *testing.T) {
	e := newReady(t, "{}")

	req := protocol.Request{Text: "teh quik brown fox jumpd ovr", CursorPosition: 28}
	first := e.Process(req)
	second := e.Process(req)
	require.True(t, first.Ok())
	require.True(t, second.Ok())
	assert.Equal(t, first.Result().Corrections, second.Result().Corrections)
	assert.Equal(t, first.Result().ActiveRegion, second.Result().ActiveRegion)

	other := newReady(t, "{}")
	third := other.Process(req)
	third = other.Process(req)
	assert.Equal(t, first.Result().Corrections, third.Result().Corrections)
}

func TestCommitBoundaryAdvances(t *testing.T) {
	e := newReady(t, "{}")

	res := process(t, e, "teh cat", 7)
	assert.Equal(t, 0, res.ActiveRegion.Start)
	require.Len(t, res.Corrections, 1)
	assert.Equal(t, protocol.Range{0, 3}, res.Corrections[0].Range)

	// Only "teh " was seen unchanged before; "cat" was still being typed.
	text := "teh cat sat on the mat "
	res = process(t, e, text, len(text))
	assert.Equal(t, 4, res.ActiveRegion.Start)
	assert.Equal(t, len(text), res.ActiveRegion.End)
	assert.Empty(t, res.Corrections, "committed typo is no longer corrected")

	// An identical snapshot does not move the boundary.
	again := process(t, e, text, len(text))
	assert.Equal(t, res.ActiveRegion, again.ActiveRegion)

	// Everything before the third complete word from the cursor has now
	// been seen unchanged, so it commits.
	text += "and"
	res = process(t, e, text, len(text))
	assert.Equal(t, 12, res.ActiveRegion.Start)
}

func TestCommitBoundaryOnlyCoversSeenText(t *testing.T) {
	text := "teh cat sat on the mat "

	e := newReady(t, "{}")
	res := process(t, e, text, len(text))
	assert.Equal(t, 0, res.ActiveRegion.Start, "a first snapshot commits nothing")
	require.NotEmpty(t, res.Corrections)
	assert.Equal(t, protocol.Correction{Range: protocol.Range{0, 3}, Replacement: "the"}, res.Corrections[0])

	e = newReady(t, "{}")
	process(t, e, "teh", 3)
	res = process(t, e, text, len(text))
	assert.Equal(t, 0, res.ActiveRegion.Start, "the shared prefix ends inside the first word")
	require.NotEmpty(t, res.Corrections)
	assert.Equal(t, protocol.Range{0, 3}, res.Corrections[0].Range)
}

// committed returns an engine whose boundary sits at 15, before "the", after
// seeing "teh cat sat on the mat " and then "teh cat sat on the mat and ".
func committed(t *testing.T) (*Engine, string) {
	t.Helper()
	e := newReady(t, "{}")
	text := "teh cat sat on the mat "
	process(t, e, text, len(text))
	out := e.Process(protocol.Request{Text: text + "and ", CursorPosition: len(text) + 4, Timestamp: 100})
	require.True(t, out.Ok())
	require.Equal(t, 15, out.Result().ActiveRegion.Start)
	return e, text + "and "
}

func TestCommitBoundaryRewindsOnEdit(t *testing.T) {
	e, _ := committed(t)

	edited := "tehh cat sat on the mat and "
	res := process(t, e, edited, len(edited))
	assert.Equal(t, 0, res.ActiveRegion.Start, "boundary rewinds to the first changed word")
}

func TestCommitBoundaryClampedWhenTextShrinks(t *testing.T) {
	e, _ := committed(t)

	res := process(t, e, "teh", 3)
	assert.Equal(t, 0, res.ActiveRegion.Start)
	assert.Equal(t, 3, res.ActiveRegion.End)
}

func TestCommitBoundaryRewindsOnReportedEdit(t *testing.T) {
	tests := []struct {
		name  string
		event protocol.EditEvent
		start int
	}{
		{"replacement", protocol.EditEvent{Start: 1, End: 2, Inserted: "a"}, 0},
		{"rewrite with identical text", protocol.EditEvent{Start: 1, End: 2, Inserted: "e"}, 15},
		{"already seen", protocol.EditEvent{Start: 1, End: 2, Inserted: "a", Timestamp: 90}, 15},
		{"outside the previous text", protocol.EditEvent{Start: 1, End: 400}, 15},
		{"inverted span", protocol.EditEvent{Start: 2, End: 1}, 15},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, text := committed(t)
			out := e.Process(protocol.Request{
				Text:           text + "x",
				CursorPosition: len(text) + 1,
				EditHistory:    []protocol.EditEvent{tt.event},
				Timestamp:      110,
			})
			require.True(t, out.Ok())
			assert.Equal(t, tt.start, out.Result().ActiveRegion.Start)
		})
	}
}

func TestActiveRegionLookBack(t *testing.T) {
	e := newReady(t, `{"activeRegionChars":10,"commitWords":64}`)

	text := "alpha bravo charlie delta"
	res := process(t, e, text, len(text))
	// 25-10 = 15 splits "charlie"; the region widens to its start.
	assert.Equal(t, 12, res.ActiveRegion.Start)
}

func TestActiveRegionWordsOverride(t *testing.T) {
	e := newReady(t, `{"commitWords":64}`)

	words := 2
	out := e.Process(protocol.Request{Text: "helo wrld teh ", CursorPosition: 14, ActiveRegionWords: &words})
	require.True(t, out.Ok())
	res := out.Result()
	assert.Equal(t, 5, res.ActiveRegion.Start)
	for _, c := range res.Corrections {
		assert.GreaterOrEqual(t, c.Range.Start(), 5)
	}
}

func TestConfidenceThresholdOverride(t *testing.T) {
	e := newReady(t, "{}")

	strict := 1.0
	out := e.Process(protocol.Request{Text: "helo wrld ", CursorPosition: 10, ConfidenceThreshold: &strict})
	require.True(t, out.Ok())
	assert.Empty(t, out.Result().Corrections)
}

func TestMinWords(t *testing.T) {
	e := newReady(t, `{"minWords":3}`)
	res := process(t, e, "helo wrld", 9)
	assert.Empty(t, res.Corrections)

	res = process(t, e, "helo wrld teh", 13)
	assert.NotEmpty(t, res.Corrections)
}

func TestMaxCorrectionsAndPriority(t *testing.T) {
	e := newReady(t, `{"maxCorrections":2,"preset":"lenient","commitWords":64}`)

	text := "watr helo teh wrld "
	res := process(t, e, text, len(text))
	require.Len(t, res.Corrections, 2)
	require.Len(t, res.Confidences, 2)
	assert.GreaterOrEqual(t, res.Confidences[0], res.Confidences[1])
	// Known misspellings outrank fuzzy matches; ties go left to right.
	assert.Equal(t, protocol.Range{5, 9}, res.Corrections[0].Range)
	assert.Equal(t, protocol.Range{10, 13}, res.Corrections[1].Range)
}

func TestTruncationKeepsAbsoluteOffsets(t *testing.T) {
	e := newReady(t, `{"maxTextLength":100}`)

	text := strings.Repeat("word ", 100) + "helo there"
	res := process(t, e, text, len([]rune(text)))
	assert.True(t, res.Truncated)
	require.Len(t, res.Corrections, 1)
	assert.Equal(t, protocol.Correction{Range: protocol.Range{500, 504}, Replacement: "hello"}, res.Corrections[0])
	assert.LessOrEqual(t, res.ActiveRegion.Start, 500)
	assert.Equal(t, 510, res.ActiveRegion.End)
}

func TestRuneOffsets(t *testing.T) {
	e := newReady(t, "{}")

	text := "café helo wrld"
	res := process(t, e, text, 14)
	require.NotEmpty(t, res.Corrections)
	assert.Equal(t, protocol.Correction{Range: protocol.Range{5, 9}, Replacement: "hello"}, res.Corrections[0])
}

// stepClock advances by step on every reading.
type stepClock struct {
	t    time.Time
	step time.Duration
}

func (c *stepClock) now() time.Time {
	c.t = c.t.Add(c.step)
	return c.t
}

func TestLatencyBudgetReturnsPartialResult(t *testing.T) {
	clock := &stepClock{t: time.Unix(0, 0), step: 15 * time.Millisecond}
	e := newReady(t, `{"latencyBudgetMs":20}`, WithClock(clock.now))

	res := process(t, e, "helo wrld teh ", 14)
	assert.True(t, res.Partial)
	require.Len(t, res.Corrections, 1)
	assert.Equal(t, protocol.Range{0, 4}, res.Corrections[0].Range)
	assert.Equal(t, int64(45), res.LatencyMs())
}

func TestLatencyMsRoundsUp(t *testing.T) {
	assert.Equal(t, int64(0), Result{}.LatencyMs())
	assert.Equal(t, int64(1), Result{Latency: time.Microsecond}.LatencyMs())
	assert.Equal(t, int64(1), Result{Latency: time.Millisecond}.LatencyMs())
	assert.Equal(t, int64(2), Result{Latency: 1500 * time.Microsecond}.LatencyMs())
}

type panicModel struct{}

func (panicModel) Suggest(string) (corrector.Suggestion, bool) {
	panic("model exploded")
}

func TestPanicBecomesInternalFailure(t *testing.T) {
	corrector.Register("panic-test", func(corrector.Options) (corrector.Corrector, error) {
		return panicModel{}, nil
	})
	e := newReady(t, `{"model":"panic-test"}`)

	resp := e.ProcessRecord([]byte(`{"text":"helo wrld","cursorPosition":9}`))
	assert.JSONEq(t, `{"corrections":[],"activeRegion":{"start":0,"end":0},"latencyMs":0,"error":"InternalFailure"}`, string(resp))
	assert.Equal(t, StateReady, e.State())

	out := e.Process(protocol.Request{Text: "", CursorPosition: 0})
	assert.True(t, out.Ok(), "no words, no model call")
}

type countingObserver struct {
	mu    sync.Mutex
	inits int
	kinds map[string]int
}

func (o *countingObserver) ObserveInitialize(ok bool, warnings int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.inits++
}

func (o *countingObserver) ObserveProcess(kind string, _ time.Duration, _ int, _, _ bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.kinds == nil {
		o.kinds = map[string]int{}
	}
	o.kinds[kind]++
}

func TestObserver(t *testing.T) {
	obs := &countingObserver{}
	e := New(WithLogger(quietLogger(t)), WithObserver(obs))

	e.ProcessRecord([]byte(`{}`))
	require.NoError(t, e.Initialize([]byte("{}")))
	e.ProcessRecord([]byte(`{"text":"a","cursorPosition":1}`))
	e.ProcessRecord([]byte(`garbage`))

	assert.Equal(t, 1, obs.inits)
	assert.Equal(t, 1, obs.kinds["EngineNotReady"])
	assert.Equal(t, 1, obs.kinds[""])
	assert.Equal(t, 1, obs.kinds["MalformedRequest"])
}

func TestConcurrentCallsAreSerialized(t *testing.T) {
	e := newReady(t, "{}")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				text := fmt.Sprintf("helo wrld %d teh", i)
				out := e.Process(protocol.Request{Text: text, CursorPosition: len(text)})
				assert.True(t, out.Ok())
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, StateReady, e.State())
}

func TestErrorKinds(t *testing.T) {
	err := newError(MalformedRequest, errors.New("bad"))
	assert.ErrorIs(t, err, ErrMalformed)
	assert.NotErrorIs(t, err, ErrInternal)
	assert.Equal(t, "MalformedRequest: bad", err.Error())

	wrapped := fmt.Errorf("shim: %w", err)
	assert.ErrorIs(t, wrapped, ErrMalformed)

	assert.Equal(t, "EngineDisposed", EngineDisposed.String())
	assert.Equal(t, "Kind(42)", Kind(42).String())
}

// TestResponseInvariants drives random edit sequences and checks the
// bounds and non-overlap laws on every response.
func TestResponseInvariants(t *testing.T) {
	vocab := []string{"helo", "wrld", "teh", "the", "cat", "watr", "qestin", "é", "日本", "don't", "x1", "", ",", "  "}
	rng := rand.New(rand.NewSource(7))

	for run := 0; run < 20; run++ {
		e := newReady(t, fmt.Sprintf(`{"activeRegionChars":%d,"commitWords":%d,"maxTextLength":%d,"preset":"lenient"}`,
			1+rng.Intn(60), 1+rng.Intn(4), 20+rng.Intn(200)))

		var text []rune
		for step := 0; step < 60; step++ {
			switch rng.Intn(4) {
			case 0, 1:
				text = append(text, []rune(vocab[rng.Intn(len(vocab))]+" ")...)
			case 2:
				if len(text) > 0 {
					cut := rng.Intn(len(text))
					text = append(text[:cut:cut], text[min(len(text), cut+1+rng.Intn(5)):]...)
				}
			case 3:
				pos := rng.Intn(len(text) + 1)
				ins := []rune(vocab[rng.Intn(len(vocab))])
				text = append(text[:pos:pos], append(ins, text[pos:]...)...)
			}

			cursor := len(text)
			if rng.Intn(3) == 0 {
				cursor = rng.Intn(len(text) + 1)
			}
			out := e.Process(protocol.Request{Text: string(text), CursorPosition: cursor})
			require.True(t, out.Ok(), "run %d step %d: %v", run, step, out.Err())
			res := out.Result()

			n := len(text)
			r := res.ActiveRegion
			require.True(t, 0 <= r.Start && r.Start <= r.End && r.End <= n, "region %v for n=%d", r, n)
			assert.Equal(t, cursor, r.End)

			for i, c := range res.Corrections {
				require.True(t, 0 <= c.Range.Start() && c.Range.Start() <= c.Range.End() && c.Range.End() <= n,
					"correction %v for n=%d", c.Range, n)
				for _, d := range res.Corrections[i+1:] {
					require.False(t, c.Range.Overlaps(d.Range), "%v overlaps %v", c.Range, d.Range)
				}
				if i > 0 {
					require.GreaterOrEqual(t, res.Confidences[i-1], res.Confidences[i])
				}
			}

			again := e.Process(protocol.Request{Text: string(text), CursorPosition: cursor})
			require.Equal(t, res.Corrections, again.Result().Corrections, "determinism")
		}
	}
}

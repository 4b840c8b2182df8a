package engine

import (
	"time"

	"mindtype/internal/protocol"
)

// Result is a successful Process call.
type Result struct {
	// Corrections in priority order, highest confidence first.
	Corrections []protocol.Correction

	// Confidences parallels Corrections.
	Confidences []float64

	ActiveRegion protocol.ActiveRegion
	Latency      time.Duration

	// Truncated is set when the text exceeded maxTextLength and only a
	// window around the cursor was examined.
	Truncated bool

	// Partial is set when the latency budget ran out before every
	// candidate word was checked.
	Partial bool
}

// LatencyMs returns the latency rounded up to whole milliseconds.
func (r Result) LatencyMs() int64 {
	if r.Latency <= 0 {
		return 0
	}
	return int64((r.Latency + time.Millisecond - 1) / time.Millisecond)
}

// Outcome is either a Result or an *Error, never both.
type Outcome struct {
	result Result
	err    *Error
}

// Succeeded wraps a result.
func Succeeded(r Result) Outcome {
	return Outcome{result: r}
}

// Failed wraps an error.
func Failed(err *Error) Outcome {
	if err == nil {
		err = newError(InternalFailure, nil)
	}
	return Outcome{err: err}
}

// Ok reports whether the outcome is a result.
func (o Outcome) Ok() bool {
	return o.err == nil
}

// Result returns the result. It is the zero Result when !Ok().
func (o Outcome) Result() Result {
	return o.result
}

// Err returns the failure, or nil.
func (o Outcome) Err() error {
	if o.err == nil {
		return nil
	}
	return o.err
}

// Kind returns the failure kind, or 0 on success.
func (o Outcome) Kind() Kind {
	if o.err == nil {
		return 0
	}
	return o.err.Kind
}

// Response collapses the outcome to the wire shape.
func (o Outcome) Response() protocol.Response {
	if o.err != nil {
		return protocol.Degraded(o.err.Kind.String())
	}
	corrections := o.result.Corrections
	if corrections == nil {
		corrections = []protocol.Correction{}
	}
	return protocol.Response{
		Corrections:  corrections,
		ActiveRegion: o.result.ActiveRegion,
		LatencyMs:    o.result.LatencyMs(),
	}
}

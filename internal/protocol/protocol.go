// Package protocol implements the request/response records exchanged with
// the host across the C boundary.
//
// Records are UTF-8 JSON. A trailing NUL terminator is tolerated on
// input. All offsets are Unicode code point (rune) offsets into the
// submitted text.
package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"unicode/utf8"
)

// Error tags carried in the response "error" field.
const (
	KindConfigInvalid    = "ConfigInvalid"
	KindEngineNotReady   = "EngineNotReady"
	KindMalformedRequest = "MalformedRequest"
	KindInternalFailure  = "InternalFailure"
	KindEngineDisposed   = "EngineDisposed"
)

// EditEvent is one host-reported edit since the previous snapshot.
// Start and End are rune offsets into the previous snapshot; Inserted
// replaced that span. Timestamp uses the same clock as Request.Timestamp.
type EditEvent struct {
	Start     int    `json:"start"`
	End       int    `json:"end"`
	Inserted  string `json:"inserted,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

// Request is a decoded correction request.
type Request struct {
	Text           string
	CursorPosition int
	EditHistory    []EditEvent

	// Per-request overrides. Nil means use the engine config.
	ActiveRegionWords   *int
	ConfidenceThreshold *float64

	// ToneTarget is decoded and round-tripped for hosts that send it. No
	// corrector acts on it yet.
	ToneTarget string
	Timestamp  int64
}

// RuneLen returns the length of the text in runes.
func (r Request) RuneLen() int {
	return utf8.RuneCountInString(r.Text)
}

type wireRequest struct {
	Text                *string     `json:"text"`
	CursorPosition      *int        `json:"cursorPosition"`
	Caret               *int        `json:"caret,omitempty"`
	EditHistory         []EditEvent `json:"editHistory,omitempty"`
	ActiveRegionWords   *int        `json:"activeRegionWords,omitempty"`
	ConfidenceThreshold *float64    `json:"confidenceThreshold,omitempty"`
	ToneTarget          string      `json:"toneTarget,omitempty"`
	Timestamp           int64       `json:"timestamp,omitempty"`
}

// DecodeError reports why a request could not be decoded.
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed request: %s: %v", e.Reason, e.Err)
	}
	return "malformed request: " + e.Reason
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

func malformed(reason string, err error) error {
	return &DecodeError{Reason: reason, Err: err}
}

// Decode parses a request record. Unknown fields are ignored. The legacy
// "caret" key is accepted when "cursorPosition" is absent.
func Decode(data []byte) (Request, error) {
	data = bytes.TrimRight(data, "\x00")
	if len(bytes.TrimSpace(data)) == 0 {
		return Request{}, malformed("empty record", nil)
	}
	if !utf8.Valid(data) {
		return Request{}, malformed("invalid UTF-8", nil)
	}

	var w wireRequest
	if err := json.Unmarshal(data, &w); err != nil {
		return Request{}, malformed("invalid JSON", err)
	}
	if w.Text == nil {
		return Request{}, malformed("missing text", nil)
	}

	cursor := w.CursorPosition
	if cursor == nil {
		cursor = w.Caret
	}
	if cursor == nil {
		return Request{}, malformed("missing cursorPosition", nil)
	}

	req := Request{
		Text:                *w.Text,
		CursorPosition:      *cursor,
		EditHistory:         w.EditHistory,
		ActiveRegionWords:   w.ActiveRegionWords,
		ConfidenceThreshold: w.ConfidenceThreshold,
		ToneTarget:          w.ToneTarget,
		Timestamp:           w.Timestamp,
	}

	if n := req.RuneLen(); req.CursorPosition < 0 || req.CursorPosition > n {
		return Request{}, malformed(fmt.Sprintf("cursorPosition %d outside [0,%d]", req.CursorPosition, n), nil)
	}
	if req.ActiveRegionWords != nil && *req.ActiveRegionWords < 0 {
		return Request{}, malformed("activeRegionWords must be non-negative", nil)
	}
	if t := req.ConfidenceThreshold; t != nil && (*t < 0 || *t > 1) {
		return Request{}, malformed("confidenceThreshold must be within [0,1]", nil)
	}
	return req, nil
}

// Range is a half-open [start, end) rune span, encoded as a two element array.
type Range [2]int

// Start returns the first offset.
func (r Range) Start() int { return r[0] }

// End returns the offset one past the span.
func (r Range) End() int { return r[1] }

// Overlaps reports whether two ranges share a position. An empty range
// overlaps a range strictly containing its offset, and itself.
func (r Range) Overlaps(o Range) bool {
	return r == o || r[0] < o[1] && o[0] < r[1]
}

// Correction replaces Range with Replacement.
type Correction struct {
	Range       Range  `json:"range"`
	Replacement string `json:"replacement"`
}

// ActiveRegion is the span still open for correction.
type ActiveRegion struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Response is the record returned to the host.
type Response struct {
	Corrections  []Correction `json:"corrections"`
	ActiveRegion ActiveRegion `json:"activeRegion"`
	LatencyMs    int64        `json:"latencyMs"`
	Error        *string      `json:"error"`
}

// Degraded returns the canonical empty response carrying kind.
func Degraded(kind string) Response {
	return Response{
		Corrections: []Correction{},
		Error:       &kind,
	}
}

// ErrorKind returns the error tag, or "" for a successful response.
func (r Response) ErrorKind() string {
	if r.Error == nil {
		return ""
	}
	return *r.Error
}

// fallbackRecord is returned if encoding itself fails.
var fallbackRecord = []byte(`{"corrections":[],"activeRegion":{"start":0,"end":0},"latencyMs":0,"error":"InternalFailure"}`)

// Encode serializes a response. The result is always a valid record;
// corrections is never null.
func Encode(resp Response) []byte {
	if resp.Corrections == nil {
		resp.Corrections = []Correction{}
	}
	if resp.LatencyMs < 0 {
		resp.LatencyMs = 0
	}
	data, err := json.Marshal(resp)
	if err != nil {
		return append([]byte(nil), fallbackRecord...)
	}
	return data
}

// DecodeResponse parses a response record. Used by the CLI replay and tests.
func DecodeResponse(data []byte) (Response, error) {
	var resp Response
	if err := json.Unmarshal(bytes.TrimRight(data, "\x00"), &resp); err != nil {
		return Response{}, fmt.Errorf("decode response: %w", err)
	}
	if resp.Corrections == nil {
		resp.Corrections = []Correction{}
	}
	return resp, nil
}

// EncodeRequest serializes a request using the canonical field names.
func EncodeRequest(req Request) ([]byte, error) {
	w := wireRequest{
		Text:                &req.Text,
		CursorPosition:      &req.CursorPosition,
		EditHistory:         req.EditHistory,
		ActiveRegionWords:   req.ActiveRegionWords,
		ConfidenceThreshold: req.ConfidenceThreshold,
		ToneTarget:          req.ToneTarget,
		Timestamp:           req.Timestamp,
	}
	data, err := json.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	return data, nil
}

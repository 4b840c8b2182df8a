package engine

import (
	"mindtype/internal/protocol"
)

// ProcessRecord decodes a raw request record, processes it and encodes the
// response. It never fails: every problem is reported in the response's
// error field. A handle that is not ready answers before decoding.
func (e *Engine) ProcessRecord(data []byte) []byte {
	return protocol.Encode(e.ProcessRaw(data).Response())
}

// ProcessRaw is ProcessRecord without the final encoding.
func (e *Engine) ProcessRaw(data []byte) Outcome {
	switch e.State() {
	case StateUninitialized:
		return e.guard(newError(EngineNotReady, nil))
	case StateDisposed:
		return e.guard(newError(EngineDisposed, nil))
	}

	req, err := protocol.Decode(data)
	if err != nil {
		e.log.Debug("rejected request", "error", err.Error())
		return e.guard(newError(MalformedRequest, err))
	}
	return e.Process(req)
}

func (e *Engine) guard(err *Error) Outcome {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.fail(err)
}

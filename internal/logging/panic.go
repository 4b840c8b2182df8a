package logging

import (
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"
)

// PanicReport describes a recovered panic.
type PanicReport struct {
	Timestamp time.Time
	Component string
	Value     string
	Stack     string
}

// CapturePanic builds a report for a value obtained from recover().
// Call it from the deferred function that recovered.
func CapturePanic(component string, v any) PanicReport {
	return PanicReport{
		Timestamp: time.Now(),
		Component: component,
		Value:     fmt.Sprint(v),
		Stack:     string(debug.Stack()),
	}
}

// LogPanic records a recovered panic at error level.
func (l *Logger) LogPanic(r PanicReport) {
	l.Error("recovered panic",
		slog.String("where", r.Component),
		slog.String("panic", r.Value),
		slog.String("stack", r.Stack),
	)
}

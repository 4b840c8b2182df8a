// Package boundary manages memory handed across the C boundary.
//
// Every buffer given to the host is allocated by an Allocator and recorded
// in a Ledger. The host gives it back exactly once; a pointer the ledger
// does not know is reported and ignored rather than freed.
package boundary

import (
	"errors"
	"fmt"
	"sync"
	"unsafe"
)

var (
	// ErrNilPointer is returned when releasing a nil pointer.
	ErrNilPointer = errors.New("release of nil pointer")

	// ErrNotOwned is returned when releasing a pointer that is not live:
	// never exported, or already released.
	ErrNotOwned = errors.New("release of pointer not owned by ledger")
)

// Allocator provides memory the host can read. Alloc returns a copy of data
// followed by a NUL byte.
type Allocator interface {
	Alloc(data []byte) (unsafe.Pointer, error)
	Free(p unsafe.Pointer)
}

// Observer is told the number of outstanding buffers after each change.
type Observer interface {
	ObserveOutstanding(n int)
}

// Stats summarizes a ledger's history.
type Stats struct {
	Exported    uint64
	Released    uint64
	Rejected    uint64
	Outstanding int
}

// Ledger tracks live buffers.
type Ledger struct {
	alloc    Allocator
	observer Observer

	mu    sync.Mutex
	live  map[unsafe.Pointer]int
	stats Stats
}

// NewLedger returns a ledger that allocates with a.
func NewLedger(a Allocator) *Ledger {
	return &Ledger{
		alloc: a,
		live:  make(map[unsafe.Pointer]int),
	}
}

// SetObserver attaches o. Pass nil to detach.
func (l *Ledger) SetObserver(o Observer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.observer = o
}

// Export allocates a NUL-terminated copy of data and records it as live.
func (l *Ledger) Export(data []byte) (unsafe.Pointer, error) {
	p, err := l.alloc.Alloc(data)
	if err != nil {
		return nil, fmt.Errorf("allocate %d bytes: %w", len(data)+1, err)
	}
	if p == nil {
		return nil, fmt.Errorf("allocate %d bytes: allocator returned nil", len(data)+1)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.live[p] = len(data) + 1
	l.stats.Exported++
	l.notify()
	return p, nil
}

// Release frees a live buffer. Unknown and already released pointers are
// not freed; they return ErrNotOwned.
func (l *Ledger) Release(p unsafe.Pointer) error {
	if p == nil {
		return ErrNilPointer
	}

	l.mu.Lock()
	if _, ok := l.live[p]; !ok {
		l.stats.Rejected++
		l.mu.Unlock()
		return fmt.Errorf("%w: %p", ErrNotOwned, p)
	}
	delete(l.live, p)
	l.stats.Released++
	l.notify()
	l.mu.Unlock()

	l.alloc.Free(p)
	return nil
}

// Outstanding returns the number of live buffers.
func (l *Ledger) Outstanding() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.live)
}

// OutstandingBytes returns the bytes held by live buffers.
func (l *Ledger) OutstandingBytes() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, size := range l.live {
		n += size
	}
	return n
}

// Stats returns a snapshot of the counters.
func (l *Ledger) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	s := l.stats
	s.Outstanding = len(l.live)
	return s
}

// notify must be called with mu held.
func (l *Ledger) notify() {
	if l.observer != nil {
		l.observer.ObserveOutstanding(len(l.live))
	}
}

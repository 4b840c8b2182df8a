package boundary

import "unsafe"

// Buffer is a scoped exported allocation. Release it with defer; call
// Detach to hand ownership to the host instead.
//
//	buf, err := ledger.NewBuffer(data)
//	if err != nil { ... }
//	defer buf.Release()
//	...
//	return buf.Detach()
type Buffer struct {
	ledger   *Ledger
	ptr      unsafe.Pointer
	size     int
	detached bool
	released bool
}

// NewBuffer exports data and wraps it in a Buffer.
func (l *Ledger) NewBuffer(data []byte) (*Buffer, error) {
	p, err := l.Export(data)
	if err != nil {
		return nil, err
	}
	return &Buffer{ledger: l, ptr: p, size: len(data)}, nil
}

// Pointer returns the address of the first byte.
func (b *Buffer) Pointer() unsafe.Pointer {
	return b.ptr
}

// Len returns the payload length, excluding the NUL terminator.
func (b *Buffer) Len() int {
	return b.size
}

// Bytes returns a view of the payload. It is valid until Release.
func (b *Buffer) Bytes() []byte {
	if b.released || b.ptr == nil {
		return nil
	}
	return unsafe.Slice((*byte)(b.ptr), b.size)
}

// Detach transfers ownership to the caller, who must return the pointer to
// Ledger.Release. Release becomes a no-op.
func (b *Buffer) Detach() unsafe.Pointer {
	if b.released {
		return nil
	}
	b.detached = true
	return b.ptr
}

// Release frees the buffer unless it was detached. It is safe to call more
// than once.
func (b *Buffer) Release() {
	if b.detached || b.released {
		return
	}
	b.released = true
	_ = b.ledger.Release(b.ptr)
}

package boundary

import (
	"sync"
	"unsafe"
)

// GoAllocator allocates from the Go heap and pins each block in a map
// until it is freed. It backs tests and the CLI, which never hand memory
// to C.
type GoAllocator struct {
	mu     sync.Mutex
	blocks map[unsafe.Pointer][]byte
}

// NewGoAllocator returns an empty GoAllocator.
func NewGoAllocator() *GoAllocator {
	return &GoAllocator{blocks: make(map[unsafe.Pointer][]byte)}
}

// Alloc implements Allocator.
func (a *GoAllocator) Alloc(data []byte) (unsafe.Pointer, error) {
	block := make([]byte, len(data)+1)
	copy(block, data)
	p := unsafe.Pointer(&block[0])

	a.mu.Lock()
	defer a.mu.Unlock()
	a.blocks[p] = block
	return p, nil
}

// Free implements Allocator.
func (a *GoAllocator) Free(p unsafe.Pointer) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if block, ok := a.blocks[p]; ok {
		clear(block)
		delete(a.blocks, p)
	}
}

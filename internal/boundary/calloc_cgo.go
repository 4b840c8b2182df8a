//go:build cgo

package boundary

/*
#include <stdlib.h>
*/
import "C"

import (
	"errors"
	"unsafe"
)

var errOutOfMemory = errors.New("malloc failed")

// CAllocator allocates with the C heap so the host can hold the memory
// after the call returns.
type CAllocator struct{}

// Alloc implements Allocator.
func (CAllocator) Alloc(data []byte) (unsafe.Pointer, error) {
	p := C.malloc(C.size_t(len(data) + 1))
	if p == nil {
		return nil, errOutOfMemory
	}
	dst := unsafe.Slice((*byte)(p), len(data)+1)
	copy(dst, data)
	dst[len(data)] = 0
	return p, nil
}

// Free implements Allocator.
func (CAllocator) Free(p unsafe.Pointer) {
	C.free(p)
}

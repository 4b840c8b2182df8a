// libmindtype is the mindtype engine built as a C shared library.
//
// It exports exactly three functions:
//
//	bool  mindtype_init_engine(const char *config);
//	char *mindtype_process_text(const char *request);
//	void  mindtype_free_string(char *s);
//
// Every string returned by mindtype_process_text must be released with
// mindtype_free_string, once.
//
// Build:
//
//	go build -buildmode=c-shared -o libmindtype.so ./cmd/libmindtype
package main

/*
#include <stdbool.h>
#include <stdlib.h>
*/
import "C"

import (
	"unsafe"

	"mindtype/internal/boundary"
	"mindtype/internal/engine"
	"mindtype/internal/logging"
	"mindtype/internal/protocol"
)

// The ABI carries no handle, so the library owns one.
var (
	handle = engine.New()
	ledger = boundary.NewLedger(boundary.CAllocator{})
	log    = logging.Default().WithComponent("libmindtype")
)

//export mindtype_init_engine
func mindtype_init_engine(config *C.char) C.bool {
	return C.bool(initEngine(unsafe.Pointer(config)))
}

//export mindtype_process_text
func mindtype_process_text(request *C.char) *C.char {
	return (*C.char)(processText(unsafe.Pointer(request)))
}

//export mindtype_free_string
func mindtype_free_string(s *C.char) {
	freeString(unsafe.Pointer(s))
}

// cString copies a NUL-terminated string; nil yields nil.
func cString(p unsafe.Pointer) []byte {
	if p == nil {
		return nil
	}
	return []byte(C.GoString((*C.char)(p)))
}

func initEngine(config unsafe.Pointer) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			log.LogPanic(logging.CapturePanic("mindtype_init_engine", r))
			ok = false
		}
	}()

	if err := handle.Initialize(cString(config)); err != nil {
		log.Error("initialize failed", "error", err.Error())
		return false
	}
	return true
}

func processText(request unsafe.Pointer) (out unsafe.Pointer) {
	defer func() {
		if r := recover(); r != nil {
			log.LogPanic(logging.CapturePanic("mindtype_process_text", r))
			out = export(protocol.Encode(protocol.Degraded(protocol.KindInternalFailure)))
		}
	}()

	outcome := handle.ProcessRaw(cString(request))
	if outcome.Kind() == engine.EngineDisposed {
		log.Error("mindtype_process_text called after teardown")
	}
	return export(protocol.Encode(outcome.Response()))
}

// export copies data into C memory owned by the host.
func export(data []byte) unsafe.Pointer {
	buf, err := ledger.NewBuffer(data)
	if err != nil {
		log.Error("allocate response", "error", err.Error())
		return nil
	}
	defer buf.Release()
	return buf.Detach()
}

// freeString releases a response. Unknown pointers and double frees are
// logged and ignored.
func freeString(s unsafe.Pointer) {
	if s == nil {
		return
	}
	if err := ledger.Release(s); err != nil {
		log.Error("ignored free of unknown pointer", "error", err.Error(),
			"outstanding", ledger.Outstanding(), "outstanding_bytes", ledger.OutstandingBytes())
	}
}

func main() {}

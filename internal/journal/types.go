// Package journal records engine sessions and their request/response
// records in SQLite so a run can be replayed and checked.
package journal

import (
	"time"

	"golang.org/x/crypto/blake2b"
)

// HashSize is the size of entry chain hashes.
const HashSize = blake2b.Size256

// Session is one engine lifetime: an initialize followed by requests.
type Session struct {
	ID        int64
	StartedAt time.Time
	Model     string
	Config    []byte // the initialize blob, verbatim
}

// Entry is one processed request.
type Entry struct {
	ID        int64
	SessionID int64
	Seq       int64
	At        time.Time
	Request   []byte
	Response  []byte
	ErrorKind string
	LatencyMs int64

	// Hash chains the entry to its predecessor in the session.
	Hash [HashSize]byte
}

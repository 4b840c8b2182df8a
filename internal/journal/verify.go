package journal

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

// chainHash binds an entry to its predecessor's hash.
func chainHash(prev [HashSize]byte, e *Entry) [HashSize]byte {
	h, _ := blake2b.New256(nil)
	h.Write(prev[:])

	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(e.SessionID))
	h.Write(buf[:])
	binary.BigEndian.PutUint64(buf[:], uint64(e.Seq))
	h.Write(buf[:])

	writeField := func(b []byte) {
		binary.BigEndian.PutUint64(buf[:], uint64(len(b)))
		h.Write(buf[:])
		h.Write(b)
	}
	writeField(e.Request)
	writeField(e.Response)

	var sum [HashSize]byte
	copy(sum[:], h.Sum(nil))
	return sum
}

// Verify recomputes the hash chain of a session and returns the sequence
// numbers of entries that do not match.
func (j *Journal) Verify(session int64) ([]int64, error) {
	entries, err := j.Entries(session)
	if err != nil {
		return nil, fmt.Errorf("load entries: %w", err)
	}

	var (
		bad  []int64
		prev [HashSize]byte
	)
	for i := range entries {
		e := &entries[i]
		if want := chainHash(prev, e); want != e.Hash {
			bad = append(bad, e.Seq)
		}
		prev = e.Hash
	}
	return bad, nil
}

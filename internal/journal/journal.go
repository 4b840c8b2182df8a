package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned when a session does not exist.
var ErrNotFound = errors.New("not found")

// Journal is a SQLite request journal.
type Journal struct {
	db *sql.DB

	mu   sync.Mutex
	last map[int64]lastEntry // per session, for appends
}

type lastEntry struct {
	seq  int64
	hash [HashSize]byte
}

// Open opens or creates the journal at path.
func Open(path string) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create journal directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Journal{db: db, last: make(map[int64]lastEntry)}, nil
}

// Close closes the database.
func (j *Journal) Close() error {
	if j.db != nil {
		return j.db.Close()
	}
	return nil
}

// Ping checks that the database is reachable.
func (j *Journal) Ping(ctx context.Context) error {
	return j.db.PingContext(ctx)
}

// SchemaVersion returns the applied schema version.
func (j *Journal) SchemaVersion() (int, error) {
	return schemaVersion(j.db)
}

// BeginSession records an initialize and returns the new session id.
func (j *Journal) BeginSession(model string, config []byte) (int64, error) {
	if config == nil {
		config = []byte{}
	}
	res, err := j.db.Exec(
		"INSERT INTO sessions (started_ns, model, config) VALUES (?, ?, ?)",
		time.Now().UnixNano(), model, config,
	)
	if err != nil {
		return 0, fmt.Errorf("insert session: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("get session id: %w", err)
	}
	return id, nil
}

// Append records a processed request in session. Seq, At and Hash are
// filled in.
func (j *Journal) Append(session int64, e *Entry) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	prev, ok := j.last[session]
	if !ok {
		var err error
		if prev, err = j.tail(session); err != nil {
			return err
		}
	}

	if e.Request == nil {
		e.Request = []byte{}
	}
	if e.Response == nil {
		e.Response = []byte{}
	}
	e.SessionID = session
	e.Seq = prev.seq + 1
	if e.At.IsZero() {
		e.At = time.Now()
	}
	e.Hash = chainHash(prev.hash, e)

	res, err := j.db.Exec(`
		INSERT INTO entries (session_id, seq, at_ns, request, response, error_kind, latency_ms, hash)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		session, e.Seq, e.At.UnixNano(), e.Request, e.Response, e.ErrorKind, e.LatencyMs, e.Hash[:],
	)
	if err != nil {
		return fmt.Errorf("insert entry: %w", err)
	}
	if e.ID, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("get entry id: %w", err)
	}

	j.last[session] = lastEntry{seq: e.Seq, hash: e.Hash}
	return nil
}

// tail loads the last entry of a session.
func (j *Journal) tail(session int64) (lastEntry, error) {
	var (
		le   lastEntry
		hash []byte
	)
	err := j.db.QueryRow(
		"SELECT seq, hash FROM entries WHERE session_id = ? ORDER BY seq DESC LIMIT 1", session,
	).Scan(&le.seq, &hash)
	if errors.Is(err, sql.ErrNoRows) {
		return lastEntry{}, nil
	}
	if err != nil {
		return lastEntry{}, fmt.Errorf("query last entry: %w", err)
	}
	copy(le.hash[:], hash)
	return le, nil
}

// Session returns a session by id.
func (j *Journal) Session(id int64) (*Session, error) {
	var (
		s  Session
		ns int64
	)
	err := j.db.QueryRow(
		"SELECT id, started_ns, model, config FROM sessions WHERE id = ?", id,
	).Scan(&s.ID, &ns, &s.Model, &s.Config)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query session: %w", err)
	}
	s.StartedAt = time.Unix(0, ns)
	return &s, nil
}

// LatestSession returns the most recently started session.
func (j *Journal) LatestSession() (*Session, error) {
	var id int64
	err := j.db.QueryRow("SELECT id FROM sessions ORDER BY id DESC LIMIT 1").Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("latest session: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query latest session: %w", err)
	}
	return j.Session(id)
}

// Sessions lists all sessions, oldest first.
func (j *Journal) Sessions() ([]Session, error) {
	rows, err := j.db.Query("SELECT id, started_ns, model, config FROM sessions ORDER BY id ASC")
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		var (
			s  Session
			ns int64
		)
		if err := rows.Scan(&s.ID, &ns, &s.Model, &s.Config); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		s.StartedAt = time.Unix(0, ns)
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return out, nil
}

// Entries returns the entries of a session in order.
func (j *Journal) Entries(session int64) ([]Entry, error) {
	rows, err := j.db.Query(`
		SELECT id, session_id, seq, at_ns, request, response, error_kind, latency_ms, hash
		FROM entries
		WHERE session_id = ?
		ORDER BY seq ASC`, session)
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e    Entry
			ns   int64
			hash []byte
		)
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Seq, &ns, &e.Request, &e.Response, &e.ErrorKind, &e.LatencyMs, &hash); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		e.At = time.Unix(0, ns)
		copy(e.Hash[:], hash)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entries: %w", err)
	}
	return out, nil
}

// CountByError returns the number of entries per error kind in a session.
// Successful entries are counted under "".
func (j *Journal) CountByError(session int64) (map[string]int, error) {
	rows, err := j.db.Query(
		"SELECT error_kind, COUNT(*) FROM entries WHERE session_id = ? GROUP BY error_kind", session)
	if err != nil {
		return nil, fmt.Errorf("count entries: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var (
			kind string
			n    int
		)
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		out[kind] = n
	}
	return out, rows.Err()
}

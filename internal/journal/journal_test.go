package journal

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTemp(t *testing.T) (*Journal, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "nested", "journal.db")
	j, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	return j, path
}

func TestOpenAppliesMigrations(t *testing.T) {
	j, path := openTemp(t)

	v, err := j.SchemaVersion()
	require.NoError(t, err)
	assert.Equal(t, len(migrations), v)
	require.NoError(t, j.Ping(context.Background()))
	require.NoError(t, j.Close())
	assert.Error(t, j.Ping(context.Background()))

	again, err := Open(path)
	require.NoError(t, err)
	defer again.Close()
	v, err = again.SchemaVersion()
	require.NoError(t, err)
	assert.Equal(t, len(migrations), v, "reopening is a no-op")
}

func TestCloseNilDB(t *testing.T) {
	j := &Journal{}
	assert.NoError(t, j.Close())
}

func TestSessionsAndEntries(t *testing.T) {
	j, _ := openTemp(t)

	id, err := j.BeginSession("lexicon-en", []byte(`{"preset":"strict"}`))
	require.NoError(t, err)

	records := []Entry{
		{Request: []byte(`{"text":"helo","cursorPosition":4}`), Response: []byte(`{"corrections":[]}`), LatencyMs: 1},
		{Request: []byte(`garbage`), Response: []byte(`{"error":"MalformedRequest"}`), ErrorKind: "MalformedRequest"},
		{Request: []byte(`{"text":"helo ","cursorPosition":5}`), Response: []byte(`{"corrections":[1]}`), LatencyMs: 2},
	}
	for i := range records {
		require.NoError(t, j.Append(id, &records[i]))
		assert.Equal(t, int64(i+1), records[i].Seq)
	}

	s, err := j.Session(id)
	require.NoError(t, err)
	assert.Equal(t, "lexicon-en", s.Model)
	assert.Equal(t, `{"preset":"strict"}`, string(s.Config))

	entries, err := j.Entries(id)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	for i, e := range entries {
		assert.Equal(t, records[i].Request, e.Request)
		assert.Equal(t, records[i].Response, e.Response)
		assert.Equal(t, records[i].Hash, e.Hash)
		assert.Equal(t, int64(i+1), e.Seq)
	}

	counts, err := j.CountByError(id)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"": 2, "MalformedRequest": 1}, counts)
}

func TestLatestSession(t *testing.T) {
	j, _ := openTemp(t)

	_, err := j.LatestSession()
	assert.True(t, errors.Is(err, ErrNotFound))

	first, err := j.BeginSession("lexicon-en", nil)
	require.NoError(t, err)
	second, err := j.BeginSession("none", []byte("{}"))
	require.NoError(t, err)

	latest, err := j.LatestSession()
	require.NoError(t, err)
	assert.Equal(t, second, latest.ID)

	all, err := j.Sessions()
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, first, all[0].ID)

	_, err = j.Session(999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAppendContinuesAfterReopen(t *testing.T) {
	j, path := openTemp(t)
	id, err := j.BeginSession("lexicon-en", nil)
	require.NoError(t, err)
	require.NoError(t, j.Append(id, &Entry{Request: []byte("a"), Response: []byte("b")}))
	require.NoError(t, j.Close())

	again, err := Open(path)
	require.NoError(t, err)
	defer again.Close()

	e := &Entry{Request: []byte("c"), Response: []byte("d")}
	require.NoError(t, again.Append(id, e))
	assert.Equal(t, int64(2), e.Seq)

	bad, err := again.Verify(id)
	require.NoError(t, err)
	assert.Empty(t, bad)
}

func TestVerifyDetectsTampering(t *testing.T) {
	j, _ := openTemp(t)
	id, err := j.BeginSession("lexicon-en", nil)
	require.NoError(t, err)
	for i := 0; i < 4; i++ {
		require.NoError(t, j.Append(id, &Entry{Request: []byte{byte('a' + i)}, Response: []byte("{}")}))
	}

	_, err = j.db.Exec("UPDATE entries SET response = ? WHERE session_id = ? AND seq = 2", []byte(`{"forged":true}`), id)
	require.NoError(t, err)

	bad, err := j.Verify(id)
	require.NoError(t, err)
	assert.Equal(t, []int64{2}, bad)
}

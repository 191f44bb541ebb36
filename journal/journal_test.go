package journal_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/certward/journal"
)

func openJournal(t *testing.T) (*journal.Journal, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "journal.db")
	j, err := journal.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	return j, path
}

func entryAt(name string, at time.Time) journal.Entry {
	return journal.Entry{
		RunID:   "run-1",
		Time:    at,
		Kind:    journal.KindLeaf,
		Name:    name,
		Outcome: "regenerated",
	}
}

func TestAppendRecent(t *testing.T) {
	j, _ := openJournal(t)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, j.Append(entryAt("first", base)))
	require.NoError(t, j.Append(entryAt("second", base.Add(time.Second))))
	require.NoError(t, j.Append(entryAt("third", base.Add(2*time.Second))))

	entries, err := j.Recent(2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "third", entries[0].Name)
	assert.Equal(t, "second", entries[1].Name)

	all, err := j.Recent(10)
	require.NoError(t, err)
	assert.Len(t, all, 3)
	assert.Equal(t, "first", all[2].Name)
}

func TestRecent_Empty(t *testing.T) {
	j, _ := openJournal(t)

	entries, err := j.Recent(5)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestAppend_FillsIDAndTime(t *testing.T) {
	j, _ := openJournal(t)

	require.NoError(t, j.Append(journal.Entry{
		RunID:   "run-1",
		Kind:    journal.KindAuthority,
		Name:    "root_ca",
		Outcome: "reused",
	}))

	entries, err := j.Recent(1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.NotEmpty(t, entries[0].ID)
	assert.WithinDuration(t, time.Now().UTC(), entries[0].Time, time.Minute)
}

func TestPersistence(t *testing.T) {
	j, path := openJournal(t)

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, j.Append(entryAt("srv.example.net", at)))
	require.NoError(t, j.Close())

	reopened, err := journal.Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	entries, err := reopened.Recent(5)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "srv.example.net", entries[0].Name)
	assert.Equal(t, journal.KindLeaf, entries[0].Kind)
	assert.True(t, entries[0].Time.Equal(at))
}

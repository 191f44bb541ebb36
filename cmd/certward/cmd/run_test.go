package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/certward/journal"
	"github.com/jmcleod/certward/storage"
	"github.com/jmcleod/certward/storage/filesystem"
)

// writeRunConfig lays out a journaled configuration whose single site is
// pre-seeded with a broken artifact, so a run records a rejection.
func writeRunConfig(t *testing.T, dir string) (cfgPath, journalPath string) {
	t.Helper()

	outDir := filepath.Join(dir, "out")
	journalPath = filepath.Join(dir, "journal.db")
	cfgPath = filepath.Join(dir, "certward.yaml")

	cfg := fmt.Sprintf(`network:
  name: Example Labs
  email: ops@example.net
sites:
  srv.example.net: {}
output_dir: %s
journal: %s
log:
  level: error
  pretty: false
`, outDir, journalPath)
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfg), 0o644))

	store, err := filesystem.New(outDir)
	require.NoError(t, err)
	require.NoError(t, store.Save("srv.example.net", &storage.Artifact{
		CertPEM: []byte("not a certificate"),
		KeyPEM:  []byte("not a key"),
	}))
	return cfgPath, journalPath
}

func TestRunReconcile_FailedRunClosesJournal(t *testing.T) {
	cfgPath, journalPath := writeRunConfig(t, t.TempDir())

	prev := cfgFile
	cfgFile = cfgPath
	t.Cleanup(func() { cfgFile = prev })
	runCmd.SetContext(context.Background())

	err := runReconcile(runCmd, nil)
	require.ErrorIs(t, err, errRunFailed)

	// The journal handle must have been released: bbolt holds an
	// exclusive file lock while the database is open.
	jnl, err := journal.Open(journalPath)
	require.NoError(t, err)
	defer jnl.Close()

	entries, err := jnl.Recent(10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "rejected", entries[0].Outcome)
	assert.Equal(t, "srv.example.net", entries[0].Name)
	assert.Equal(t, "regenerated", entries[1].Outcome)
}

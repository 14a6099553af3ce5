package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/beads-db/kernel/internal/config"
	"github.com/beads-db/kernel/internal/txn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsResolveToStrict2PL(t *testing.T) {
	d := config.Defaults()
	assert.Equal(t, txn.ModeLocks, d.Mode())
	assert.Equal(t, txn.ReadCommitted, d.Isolation())
}

func TestLoadOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("default_mode: MVCC\nmax_memory_row_count: 50\n"), 0o644))

	cfg, err := config.NewLoader(path).Load()
	require.NoError(t, err)
	assert.Equal(t, txn.ModeMVCC, cfg.Mode())
	assert.Equal(t, 50, cfg.MaxMemoryRowCount)
	assert.Equal(t, "READ_COMMITTED", cfg.DefaultIsolation)
}

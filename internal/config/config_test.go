package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, "domain: relay.example\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "relay.example", cfg.Domain)
	require.Equal(t, 8080, cfg.Port)
	require.Equal(t, DatabaseSqlite, cfg.DatabaseType)
	require.Equal(t, CacheDatabase, cfg.CacheType)
	require.Equal(t, "relay.sqlite3", cfg.SqlitePath)
}

func TestLoadMissingDomain(t *testing.T) {
	path := writeConfig(t, "listen: 0.0.0.0\n")

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadPostgresRequiresFields(t *testing.T) {
	path := writeConfig(t, "domain: relay.example\ndatabase_type: postgres\n")

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadRedisPrefixRejectsColon(t *testing.T) {
	path := writeConfig(t, `
domain: relay.example
cache_type: redis
redis:
  host: 127.0.0.1
  prefix: "bad:prefix"
`)

	_, err := Load(path)
	require.Error(t, err)
}

func TestSqliteAbsPathRelativeToConfigDir(t *testing.T) {
	path := writeConfig(t, "domain: relay.example\nsqlite_path: data/relay.sqlite3\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(filepath.Dir(path), "data/relay.sqlite3"), cfg.SqliteAbsPath())
}

func TestWorkerCountDefaultsToCPU(t *testing.T) {
	cfg := &Config{}
	require.Equal(t, 4, cfg.WorkerCount(4))

	cfg.Workers = 2
	require.Equal(t, 2, cfg.WorkerCount(4))
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "entrysync.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestDefaultNeedsStorages(t *testing.T) {
	err := Default().Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "storages")
}

func TestLoadOverlaysDefaults(t *testing.T) {
	p := writeConfig(t, `
log:
  backend: logrus
  level: debug
lock:
  kind: redis
  ttl: 15s
cache:
  provider: redis
  codec: msgpack
  ttl: 2m
episodes:
  retryDelay: 25ms
  workers: 4
storages:
  storage0: /srv/storage0
`)
	cfg, err := Load(p)
	require.NoError(t, err)

	assert.Equal(t, "logrus", cfg.Log.Backend)
	assert.Equal(t, "redis", cfg.Lock.Kind)
	assert.Equal(t, 15*time.Second, cfg.Lock.TTL)
	assert.Equal(t, 5*time.Millisecond, cfg.Lock.Poll, "unset fields keep defaults")
	assert.Equal(t, "msgpack", cfg.Cache.Codec)
	assert.Equal(t, 2*time.Minute, cfg.Cache.TTL)
	assert.Equal(t, 10, cfg.Episodes.MaxAttempts)
	assert.Equal(t, 25*time.Millisecond, cfg.Episodes.RetryDelay)
	assert.Equal(t, 4, cfg.Episodes.Workers)
	assert.Equal(t, "/srv/storage0", cfg.Storages["storage0"])
	assert.Len(t, cfg.Handlers, 3)
}

func TestValidateReportsAllProblems(t *testing.T) {
	cfg := Default()
	cfg.Log.Backend = "printf"
	cfg.Store.Kind = "postgres"
	cfg.Episodes.MaxAttempts = 0
	cfg.Handlers = []string{"artifact.deleted", "artifact.moved"}

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{"log.backend", "store.kind", "maxAttempts", `"artifact.deleted"`, `"artifact.moved"`} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestDownloadOnlyNeedsNoStorages(t *testing.T) {
	cfg := Default()
	cfg.Handlers = []string{"artifact.downloaded"}
	assert.NoError(t, cfg.Validate())
}

func TestLocalLockWithSharedConsumers(t *testing.T) {
	cfg := Default()
	cfg.Storages = map[string]string{"s": "/srv"}
	cfg.Cache.Provider = "redis"
	cfg.NATS.Queue = "entrysync"
	assert.ErrorContains(t, cfg.Validate(), "use lock.kind redis")
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "read config")

	_, err = Load(writeConfig(t, "log: [unclosed"))
	assert.ErrorContains(t, err, "parse config")
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeYAML(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestDefault(t *testing.T) {
	c, err := Default()
	require.NoError(t, err)
	require.Equal(t, ":8080", c.Server.Addr)
	require.Equal(t, "memory", c.Store.Driver)
	require.Equal(t, "none", c.Cache.Kind)
	require.Equal(t, 2*time.Minute, c.CacheTTL())
	require.Equal(t, 3, c.Resolver.MaxRetries)
	require.Equal(t, 200*time.Millisecond, c.RetryBackoff())
	require.Equal(t, 4, c.Resolver.MaxDepth)
	require.Equal(t, 4, c.Resolver.Prefetch)
	require.Equal(t, "sha256", c.Signing.Hash)
	require.Equal(t, 0, c.RateLimit.Max)
	require.Equal(t, time.Minute, c.RateLimitWindow())
}

func TestLoad_YAMLAndRelativeRoot(t *testing.T) {
	p := writeYAML(t, `
app:
  app_env: prod
store:
  driver: fs
  fs_root: data/keys
cache:
  kind: memory
  ttl: 30s
resolver:
  max_depth: 6
`)
	c, err := Load(p)
	require.NoError(t, err)
	require.True(t, c.IsProd())
	require.Equal(t, filepath.Join(filepath.Dir(p), "data", "keys"), c.Store.FSRoot)
	require.Equal(t, 30*time.Second, c.CacheTTL())
	require.Equal(t, 6, c.Resolver.MaxDepth)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("STORE_DRIVER", "postgres")
	t.Setenv("STORE_POSTGRES_DSN", "postgres://localhost/keytrust")
	t.Setenv("CACHE_KIND", "redis")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("REDIS_DB", "2")
	t.Setenv("RESOLVER_MAX_RETRIES", "5")
	t.Setenv("RESOLVER_RETRY_BACKOFF", "1s")
	t.Setenv("SIGNING_HASH", "SHA1")
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("RATE_LIMIT_MAX", "100")
	t.Setenv("RATE_LIMIT_WINDOW", "10s")

	c, err := Load(writeYAML(t, "server:\n  addr: \":9000\"\n"))
	require.NoError(t, err)
	require.Equal(t, ":9000", c.Server.Addr)
	require.Equal(t, "postgres", c.Store.Driver)
	require.Equal(t, "redis", c.Cache.Kind)
	require.Equal(t, 2, c.Cache.Redis.DB)
	require.Equal(t, 5, c.Resolver.MaxRetries)
	require.Equal(t, time.Second, c.RetryBackoff())
	require.Equal(t, "sha1", c.Signing.Hash)
	require.Equal(t, "debug", c.Log.Level)
	require.Equal(t, 100, c.RateLimit.Max)
	require.Equal(t, 10*time.Second, c.RateLimitWindow())
}

func TestValidate_Rejects(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"unknown driver", map[string]string{"STORE_DRIVER": "mysql"}},
		{"fs without root", map[string]string{"STORE_DRIVER": "fs"}},
		{"postgres without dsn", map[string]string{"STORE_DRIVER": "postgres"}},
		{"couchdb without url", map[string]string{"STORE_DRIVER": "couchdb"}},
		{"redis without addr", map[string]string{"CACHE_KIND": "redis"}},
		{"bad cache kind", map[string]string{"CACHE_KIND": "memcached"}},
		{"bad ttl", map[string]string{"CACHE_TTL": "soon"}},
		{"bad backoff", map[string]string{"RESOLVER_RETRY_BACKOFF": "x"}},
		{"bad rate window", map[string]string{"RATE_LIMIT_WINDOW": "0s"}},
		{"negative rate max", map[string]string{"RATE_LIMIT_MAX": "-1"}},
		{"bad hash", map[string]string{"SIGNING_HASH": "md5"}},
		{"bad env", map[string]string{"APP_ENV": "qa"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Default()
			require.Error(t, err)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

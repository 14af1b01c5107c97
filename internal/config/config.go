package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

type Config struct {
	// Bloque app (opcional en YAML). Si no está, queda vacío.
	App struct {
		// dev | staging | prod
		Env string `yaml:"app_env" validate:"omitempty,oneof=dev staging prod production"`
	} `yaml:"app"`

	Log struct {
		Level string `yaml:"level" validate:"omitempty,oneof=debug info warn warning error"`
	} `yaml:"log"`

	Server struct {
		Addr string `yaml:"addr" validate:"required"`
	} `yaml:"server"`

	Store struct {
		Driver   string `yaml:"driver" validate:"oneof=memory fs postgres couchdb"`
		FSRoot   string `yaml:"fs_root" validate:"required_if=Driver fs"`
		Postgres struct {
			DSN      string `yaml:"dsn"`
			MaxConns int    `yaml:"max_conns" validate:"gte=0"`
		} `yaml:"postgres"`
		CouchDB struct {
			URL      string `yaml:"url"`
			Database string `yaml:"database"`
		} `yaml:"couchdb"`
	} `yaml:"store"`

	Cache struct {
		Kind  string `yaml:"kind" validate:"oneof=none memory redis"`
		TTL   string `yaml:"ttl"`
		Redis struct {
			Addr     string `yaml:"addr"`
			Password string `yaml:"password"`
			DB       int    `yaml:"db" validate:"gte=0"`
			Prefix   string `yaml:"prefix"`
		} `yaml:"redis"`
	} `yaml:"cache"`

	// RateLimit por IP sobre la API /v1. max 0 = desactivado.
	// Usa Redis si cache.kind=redis, si no un contador en memoria.
	RateLimit struct {
		Max    int    `yaml:"max" validate:"gte=0"`
		Window string `yaml:"window"`
	} `yaml:"rate_limit"`

	Resolver struct {
		MaxRetries   int    `yaml:"max_retries" validate:"gte=0"`
		RetryBackoff string `yaml:"retry_backoff"`
		MaxDepth     int    `yaml:"max_depth" validate:"gte=1"`
		Prefetch     int    `yaml:"prefetch" validate:"gte=1"`
	} `yaml:"resolver"`

	Signing struct {
		// sha256 | sha1 (clientes legacy)
		Hash string `yaml:"hash" validate:"oneof=sha256 sha1"`
	} `yaml:"signing"`
}

// Default devuelve la configuración con defaults y overrides de entorno, sin YAML.
func Default() (*Config, error) {
	var c Config
	return c.finish("")
}

func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, err
	}
	return c.finish(path)
}

func (c *Config) finish(path string) (*Config, error) {
	c.applyDefaults()

	// Overrides por env
	c.applyEnvOverrides()

	if err := c.Validate(); err != nil {
		return nil, err
	}

	// Normalizar fs_root (si relativa) respecto al directorio del YAML
	if p := strings.TrimSpace(c.Store.FSRoot); p != "" && path != "" && !filepath.IsAbs(p) {
		c.Store.FSRoot = filepath.Clean(filepath.Join(filepath.Dir(path), p))
	}
	return c, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Store.Driver == "" {
		c.Store.Driver = "memory"
	}
	if c.Store.CouchDB.Database == "" {
		c.Store.CouchDB.Database = "keytrust"
	}
	if c.Cache.Kind == "" {
		c.Cache.Kind = "none"
	}
	if c.Cache.TTL == "" {
		c.Cache.TTL = "2m"
	}
	if c.RateLimit.Window == "" {
		c.RateLimit.Window = "1m"
	}
	if c.Resolver.MaxRetries == 0 {
		c.Resolver.MaxRetries = 3
	}
	if c.Resolver.RetryBackoff == "" {
		c.Resolver.RetryBackoff = "200ms"
	}
	if c.Resolver.MaxDepth == 0 {
		c.Resolver.MaxDepth = 4
	}
	if c.Resolver.Prefetch == 0 {
		c.Resolver.Prefetch = 4
	}
	if c.Signing.Hash == "" {
		c.Signing.Hash = "sha256"
	}
}

// CacheTTL devuelve cache.ttl ya parseado.
func (c *Config) CacheTTL() time.Duration {
	d, _ := time.ParseDuration(c.Cache.TTL)
	return d
}

// RetryBackoff devuelve resolver.retry_backoff ya parseado.
func (c *Config) RetryBackoff() time.Duration {
	d, _ := time.ParseDuration(c.Resolver.RetryBackoff)
	return d
}

// RateLimitWindow devuelve rate_limit.window ya parseado.
func (c *Config) RateLimitWindow() time.Duration {
	d, _ := time.ParseDuration(c.RateLimit.Window)
	return d
}

// IsProd reporta app_env prod/production.
func (c *Config) IsProd() bool {
	return strings.EqualFold(c.App.Env, "prod") || strings.EqualFold(c.App.Env, "production")
}

// ---- Helpers env ----

func getEnvStr(key string) (string, bool) {
	v := os.Getenv(key)
	return v, v != ""
}
func getEnvInt(key string) (int, bool) {
	if s, ok := getEnvStr(key); ok {
		if i, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
			return i, true
		}
	}
	return 0, false
}

// applyEnvOverrides: pisa config.yaml con variables de entorno.
func (c *Config) applyEnvOverrides() {
	// APP
	if v, ok := getEnvStr("APP_ENV"); ok {
		c.App.Env = strings.ToLower(v)
	}
	if v, ok := getEnvStr("LOG_LEVEL"); ok {
		c.Log.Level = strings.ToLower(v)
	}

	// SERVER
	if v, ok := getEnvStr("SERVER_ADDR"); ok {
		c.Server.Addr = v
	}

	// STORE
	if v, ok := getEnvStr("STORE_DRIVER"); ok {
		c.Store.Driver = v
	}
	if v, ok := getEnvStr("STORE_FS_ROOT"); ok {
		c.Store.FSRoot = v
	}
	if v, ok := getEnvStr("STORE_POSTGRES_DSN"); ok {
		c.Store.Postgres.DSN = v
	}
	if v, ok := getEnvInt("STORE_POSTGRES_MAX_CONNS"); ok {
		c.Store.Postgres.MaxConns = v
	}
	if v, ok := getEnvStr("STORE_COUCHDB_URL"); ok {
		c.Store.CouchDB.URL = v
	}
	if v, ok := getEnvStr("STORE_COUCHDB_DB"); ok {
		c.Store.CouchDB.Database = v
	}

	// CACHE
	if v, ok := getEnvStr("CACHE_KIND"); ok {
		c.Cache.Kind = v
	}
	if v, ok := getEnvStr("CACHE_TTL"); ok {
		c.Cache.TTL = v
	}
	if v, ok := getEnvStr("REDIS_ADDR"); ok {
		c.Cache.Redis.Addr = v
	}
	if v, ok := getEnvStr("REDIS_PASSWORD"); ok {
		c.Cache.Redis.Password = v
	}
	if v, ok := getEnvInt("REDIS_DB"); ok {
		c.Cache.Redis.DB = v
	}
	if v, ok := getEnvStr("REDIS_PREFIX"); ok {
		c.Cache.Redis.Prefix = v
	}

	// RATE LIMIT
	if v, ok := getEnvInt("RATE_LIMIT_MAX"); ok {
		c.RateLimit.Max = v
	}
	if v, ok := getEnvStr("RATE_LIMIT_WINDOW"); ok {
		c.RateLimit.Window = v
	}

	// RESOLVER
	if v, ok := getEnvInt("RESOLVER_MAX_RETRIES"); ok {
		c.Resolver.MaxRetries = v
	}
	if v, ok := getEnvStr("RESOLVER_RETRY_BACKOFF"); ok {
		c.Resolver.RetryBackoff = v
	}
	if v, ok := getEnvInt("RESOLVER_MAX_DEPTH"); ok {
		c.Resolver.MaxDepth = v
	}
	if v, ok := getEnvInt("RESOLVER_PREFETCH"); ok {
		c.Resolver.Prefetch = v
	}

	// SIGNING
	if v, ok := getEnvStr("SIGNING_HASH"); ok {
		c.Signing.Hash = strings.ToLower(v)
	}
}

var validate = validator.New()

// Validate aplica las reglas de los tags y chequea las duraciones y los
// parámetros requeridos por cada driver.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if _, err := time.ParseDuration(c.Cache.TTL); err != nil {
		return fmt.Errorf("config: cache.ttl: %w", err)
	}
	if _, err := time.ParseDuration(c.Resolver.RetryBackoff); err != nil {
		return fmt.Errorf("config: resolver.retry_backoff: %w", err)
	}
	if d, err := time.ParseDuration(c.RateLimit.Window); err != nil || d <= 0 {
		return fmt.Errorf("config: rate_limit.window: invalid duration %q", c.RateLimit.Window)
	}
	switch {
	case c.Store.Driver == "postgres" && strings.TrimSpace(c.Store.Postgres.DSN) == "":
		return errors.New("config: store.postgres.dsn is required for the postgres driver")
	case c.Store.Driver == "couchdb" && strings.TrimSpace(c.Store.CouchDB.URL) == "":
		return errors.New("config: store.couchdb.url is required for the couchdb driver")
	case c.Cache.Kind == "redis" && strings.TrimSpace(c.Cache.Redis.Addr) == "":
		return errors.New("config: cache.redis.addr is required for the redis cache")
	}
	return nil
}

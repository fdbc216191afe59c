// Package config loads the entrysync binary configuration from YAML.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/unkn0wn-root/entrysync"
)

type Config struct {
	Log      Log               `yaml:"log"`
	Lock     Lock              `yaml:"lock"`
	Redis    Redis             `yaml:"redis"`
	Cache    Cache             `yaml:"cache"`
	Store    Store             `yaml:"store"`
	NATS     NATS              `yaml:"nats"`
	Episodes Episodes          `yaml:"episodes"`
	Metrics  Metrics           `yaml:"metrics"`
	Storages map[string]string `yaml:"storages"` // storage id -> root directory
	Handlers []string          `yaml:"handlers"` // event kinds to handle
}

type Log struct {
	Backend string `yaml:"backend"` // zap | logrus | slog | none
	Level   string `yaml:"level"`
	// Hooks logs conflicts, evictions and failed episodes through slog.
	Hooks bool `yaml:"hooks"`
}

type Lock struct {
	Kind string        `yaml:"kind"` // local | redis
	TTL  time.Duration `yaml:"ttl"`
	Poll time.Duration `yaml:"poll"`
}

type Redis struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type Cache struct {
	Provider    string        `yaml:"provider"`    // ristretto | bigcache | redis
	Generations string        `yaml:"generations"` // local | redis
	Codec       string        `yaml:"codec"`       // json | msgpack | cbor
	MaxDecode   int           `yaml:"maxDecode"`
	TTL         time.Duration `yaml:"ttl"`
	MaxCost     int64         `yaml:"maxCost"` // ristretto bytes
	SizeMB      int           `yaml:"sizeMB"`  // bigcache hard limit
}

type Store struct {
	Kind   string `yaml:"kind"` // sqlite | natskv
	Path   string `yaml:"path"`
	Bucket string `yaml:"bucket"`
}

type NATS struct {
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
	Queue   string `yaml:"queue"`
}

type Episodes struct {
	MaxAttempts int           `yaml:"maxAttempts"`
	RetryDelay  time.Duration `yaml:"retryDelay"`
	// Workers > 0 runs episodes on a fixed pool instead of a goroutine each.
	Workers int `yaml:"workers"`
	Queue   int `yaml:"queue"`
}

type Metrics struct {
	Addr      string `yaml:"addr"` // "" disables the /metrics listener
	Namespace string `yaml:"namespace"`
}

func Default() Config {
	return Config{
		Log:   Log{Backend: "zap", Level: "info"},
		Lock:  Lock{Kind: "local", TTL: 30 * time.Second, Poll: 5 * time.Millisecond},
		Redis: Redis{Addr: "127.0.0.1:6379"},
		Cache: Cache{
			Provider:    "ristretto",
			Generations: "local",
			Codec:       "json",
			MaxDecode:   1 << 20,
			TTL:         10 * time.Minute,
			MaxCost:     64 << 20,
			SizeMB:      64,
		},
		Store: Store{Kind: "sqlite", Path: "entrysync.db", Bucket: "artifact_entries"},
		NATS:  NATS{URL: "nats://127.0.0.1:4222", Subject: "entrysync.events"},
		Episodes: Episodes{
			MaxAttempts: entrysync.DefaultMaxAttempts,
			RetryDelay:  entrysync.DefaultRetryDelay,
			Queue:       64,
		},
		Metrics: Metrics{Namespace: "entrysync"},
		Handlers: []string{
			string(entrysync.ArtifactStored),
			string(entrysync.ArtifactUpdated),
			string(entrysync.ArtifactDownloaded),
		},
	}
}

// Load reads path over Default and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func oneOf(field, v string, allowed ...string) error {
	for _, a := range allowed {
		if v == a {
			return nil
		}
	}
	return fmt.Errorf("%s: %q is not one of %v", field, v, allowed)
}

// Validate reports every problem at once.
func (c Config) Validate() error {
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	add(oneOf("log.backend", c.Log.Backend, "zap", "logrus", "slog", "none"))
	add(oneOf("lock.kind", c.Lock.Kind, "local", "redis"))
	add(oneOf("cache.provider", c.Cache.Provider, "ristretto", "bigcache", "redis"))
	add(oneOf("cache.generations", c.Cache.Generations, "local", "redis"))
	add(oneOf("cache.codec", c.Cache.Codec, "json", "msgpack", "cbor"))
	add(oneOf("store.kind", c.Store.Kind, "sqlite", "natskv"))

	if c.Store.Kind == "sqlite" && c.Store.Path == "" {
		add(errors.New("store.path is required for sqlite"))
	}
	if c.Lock.Kind == "redis" && c.Lock.TTL <= 0 {
		add(errors.New("lock.ttl must be positive"))
	}
	if c.Episodes.MaxAttempts < 1 {
		add(errors.New("episodes.maxAttempts must be at least 1"))
	}
	if c.Episodes.RetryDelay < 0 {
		add(errors.New("episodes.retryDelay cannot be negative"))
	}
	if c.Episodes.Workers < 0 || c.Episodes.Queue < 0 {
		add(errors.New("episodes.workers and episodes.queue cannot be negative"))
	}
	// a local lock cannot keep replicas sharing a cache apart
	if c.Lock.Kind == "local" && c.Cache.Provider == "redis" && c.NATS.Queue != "" {
		add(errors.New("lock.kind local with a shared cache and a NATS queue group; use lock.kind redis"))
	}

	if len(c.Handlers) == 0 {
		add(errors.New("handlers: at least one event kind is required"))
	}
	for _, h := range c.Handlers {
		k := entrysync.EventKind(h)
		if !k.Valid() || k == entrysync.ArtifactDeleted {
			add(fmt.Errorf("handlers: no producer for %q", h))
		}
	}
	if needsFiles(c.Handlers) && len(c.Storages) == 0 {
		add(errors.New("storages: at least one storage root is required"))
	}
	for id, root := range c.Storages {
		if root == "" {
			add(fmt.Errorf("storages.%s: root is empty", id))
		}
	}
	return errors.Join(errs...)
}

func needsFiles(kinds []string) bool {
	for _, k := range kinds {
		if k == string(entrysync.ArtifactStored) || k == string(entrysync.ArtifactUpdated) {
			return true
		}
	}
	return false
}

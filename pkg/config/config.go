package config

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aretw0/arbor"
	"github.com/aretw0/arbor/internal/logging"
	"github.com/aretw0/arbor/pkg/domain"
	"github.com/aretw0/arbor/pkg/persistence/middleware"
	"github.com/google/uuid"
	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

// Config is the file-level configuration of an Arbor host.
type Config struct {
	LogLevel        string        `mapstructure:"log_level"`
	HistoryMaxCount int           `mapstructure:"history_max_count"`
	MaxCascadeDepth int           `mapstructure:"max_cascade_depth"`
	AsyncInitialize bool          `mapstructure:"async_initialize"`
	TickInterval    time.Duration `mapstructure:"tick_interval"`
	Authority       Authority     `mapstructure:"authority"`
	// Redirects maps retired state or transition GUIDs to their replacements.
	Redirects map[string]string `mapstructure:"redirects"`
	Redis     Redis             `mapstructure:"redis"`
	HTTP      HTTP              `mapstructure:"http"`
	Snapshots Snapshots         `mapstructure:"snapshots"`
}

// Snapshots configures how checkpoints are persisted.
type Snapshots struct {
	// EncryptionKey is a hex encoded AES-256 key. Empty stores snapshots in the clear.
	EncryptionKey string `mapstructure:"encryption_key"`
	// FallbackKeys are older hex keys still accepted when loading.
	FallbackKeys []string `mapstructure:"fallback_keys"`
	// MaxHistory bounds the persisted history. Negative keeps everything.
	MaxHistory int `mapstructure:"max_history"`
}

// Authority selects the replication role of the instances.
type Authority struct {
	EvaluateLocally bool `mapstructure:"evaluate_locally"`
	TakeLocally     bool `mapstructure:"take_locally"`
}

// Redis configures the snapshot store, locker and replicator. An empty Addr disables Redis.
type Redis struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Prefix   string        `mapstructure:"prefix"`
	Channel  string        `mapstructure:"channel"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// HTTP configures the inspection server.
type HTTP struct {
	Addr string `mapstructure:"addr"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		LogLevel:        "info",
		HistoryMaxCount: arbor.DefaultHistoryMaxCount,
		MaxCascadeDepth: arbor.DefaultMaxCascadeDepth,
		TickInterval:    arbor.DefaultTickInterval,
		Authority:       Authority{EvaluateLocally: true, TakeLocally: true},
		Redis: Redis{
			Prefix:  "arbor:",
			Channel: "arbor:transitions",
		},
		HTTP:      HTTP{Addr: ":8080"},
		Snapshots: Snapshots{MaxHistory: -1},
	}
}

// Load reads a YAML or JSON file (chosen by extension) over the defaults.
// A missing file yields the defaults, treating it as "nothing configured".
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}

	raw := map[string]any{}
	if strings.ToLower(filepath.Ext(path)) == ".json" {
		if err := json.Unmarshal(data, &raw); err != nil {
			return cfg, fmt.Errorf("failed to parse %s: %w", filepath.Base(path), err)
		}
	} else {
		// Default to YAML
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return cfg, fmt.Errorf("failed to parse %s: %w", filepath.Base(path), err)
		}
	}

	if err := Decode(raw, &cfg); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// Decode applies a generic map (from a file, flags or an API payload) onto cfg.
// Durations accept strings such as "250ms"; scalars are weakly typed.
func Decode(raw map[string]any, cfg *Config) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
		),
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           cfg,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(raw); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Validate reports the first out-of-range setting.
func (c Config) Validate() error {
	if c.HistoryMaxCount < domain.HistoryUnbounded {
		return fmt.Errorf("invalid config: history_max_count must be >= %d", domain.HistoryUnbounded)
	}
	if c.MaxCascadeDepth <= 0 {
		return errors.New("invalid config: max_cascade_depth must be positive")
	}
	if c.TickInterval <= 0 {
		return errors.New("invalid config: tick_interval must be positive")
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if _, err := c.redirects(); err != nil {
		return err
	}
	_, err := c.StoreMiddleware()
	return err
}

// StoreMiddleware builds the snapshot store wrappers selected by the snapshots section,
// outermost first.
func (c Config) StoreMiddleware() ([]middleware.Middleware, error) {
	var mws []middleware.Middleware
	if c.Snapshots.MaxHistory >= 0 {
		mws = append(mws, middleware.NewRetentionMiddleware(c.Snapshots.MaxHistory))
	}
	if c.Snapshots.EncryptionKey == "" {
		return mws, nil
	}
	active, err := decodeKey(c.Snapshots.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("invalid config: snapshots.encryption_key: %w", err)
	}
	enc := middleware.EncryptionConfig{ActiveKey: active}
	for i, k := range c.Snapshots.FallbackKeys {
		key, err := decodeKey(k)
		if err != nil {
			return nil, fmt.Errorf("invalid config: snapshots.fallback_keys[%d]: %w", i, err)
		}
		enc.FallbackKeys = append(enc.FallbackKeys, key)
	}
	return append(mws, middleware.NewEncryptionMiddleware(enc)), nil
}

func decodeKey(s string) ([]byte, error) {
	key, err := hex.DecodeString(s)
	if err != nil {
		return nil, err
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("key must be 32 bytes, got %d", len(key))
	}
	return key, nil
}

// Level is the parsed log level. Invalid names fall back to Info.
func (c Config) Level() slog.Level {
	level, _ := logging.ParseLevel(c.LogLevel)
	return level
}

func (c Config) redirects() (map[uuid.UUID]uuid.UUID, error) {
	if len(c.Redirects) == 0 {
		return nil, nil
	}
	out := make(map[uuid.UUID]uuid.UUID, len(c.Redirects))
	for from, to := range c.Redirects {
		f, err := uuid.Parse(from)
		if err != nil {
			return nil, fmt.Errorf("invalid config: redirect key %q: %w", from, err)
		}
		t, err := uuid.Parse(to)
		if err != nil {
			return nil, fmt.Errorf("invalid config: redirect target %q: %w", to, err)
		}
		out[f] = t
	}
	return out, nil
}

// Options translates the instance settings into arbor options.
func (c Config) Options() ([]arbor.Option, error) {
	redirects, err := c.redirects()
	if err != nil {
		return nil, err
	}
	opts := []arbor.Option{
		arbor.WithHistoryMaxCount(c.HistoryMaxCount),
		arbor.WithMaxCascadeDepth(c.MaxCascadeDepth),
		arbor.WithAuthority(c.Authority.EvaluateLocally, c.Authority.TakeLocally),
	}
	if redirects != nil {
		opts = append(opts, arbor.WithGUIDRedirects(redirects))
	}
	return opts, nil
}

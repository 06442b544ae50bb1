// Package config loads ubind runtime settings from TOML.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/ubind/internal/remote"
	"github.com/danmuck/ubind/internal/signature"
)

var ErrInvalid = errors.New("config: invalid")

type Config struct {
	ContextID          string
	Dialect            signature.Dialect
	Workers            int
	SyncTimeout        time.Duration
	LegacyBlockingSync bool
	LocalClock         bool
	Remote             RemoteConfig
	Admin              AdminConfig
}

// RemoteConfig describes the link to the remote runtime.
type RemoteConfig struct {
	Address            string
	DialTimeout        time.Duration
	MaxConnectAttempts int
	MaxPayloadBytes    uint32
	TLS                remote.TLSConfig
}

// AdminConfig controls the metrics and health listener. Empty Address
// disables it; a non-empty Token requires "Authorization: Bearer <token>".
type AdminConfig struct {
	Address string
	Token   string
}

func Default() Config {
	return Config{
		ContextID:   "ubind.local",
		Dialect:     signature.DialectTyped,
		Workers:     8,
		SyncTimeout: 2 * time.Second,
		Remote: RemoteConfig{
			Address:         "127.0.0.1:54000",
			DialTimeout:     5 * time.Second,
			MaxPayloadBytes: 8 * 1024 * 1024,
		},
	}
}

type fileConfig struct {
	ContextID          string     `toml:"context_id"`
	Dialect            string     `toml:"dialect"`
	Workers            int        `toml:"workers"`
	SyncTimeout        string     `toml:"sync_timeout"`
	SyncTimeoutMS      int64      `toml:"sync_timeout_ms"`
	LegacyBlockingSync bool       `toml:"legacy_blocking_sync"`
	LocalClock         bool       `toml:"local_clock"`
	Remote             fileRemote `toml:"remote"`
	Admin              fileAdmin  `toml:"admin"`
}

type fileRemote struct {
	Address            string  `toml:"address"`
	DialTimeout        string  `toml:"dial_timeout"`
	MaxConnectAttempts int     `toml:"max_connect_attempts"`
	MaxPayloadBytes    int64   `toml:"max_payload_bytes"`
	TLS                fileTLS `toml:"tls"`
}

type fileTLS struct {
	Enabled            bool   `toml:"enabled"`
	Mutual             bool   `toml:"mutual"`
	CAFile             string `toml:"ca_file"`
	CertFile           string `toml:"cert_file"`
	KeyFile            string `toml:"key_file"`
	ServerName         string `toml:"server_name"`
	InsecureSkipVerify bool   `toml:"insecure_skip_verify"`
}

type fileAdmin struct {
	Address string `toml:"address"`
	Token   string `toml:"token"`
}

// Load reads path and applies every defined key over Default().
func Load(path string) (Config, error) {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("load ubind config: %w", err)
	}
	return apply(raw, meta)
}

// Parse is Load for an in-memory document.
func Parse(doc string) (Config, error) {
	var raw fileConfig
	meta, err := toml.Decode(doc, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("parse ubind config: %w", err)
	}
	return apply(raw, meta)
}

func apply(raw fileConfig, meta toml.MetaData) (Config, error) {
	cfg := Default()

	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return Config{}, fmt.Errorf("%w: unknown keys %s", ErrInvalid, strings.Join(keys, ", "))
	}

	if meta.IsDefined("context_id") {
		if id := strings.TrimSpace(raw.ContextID); id != "" {
			cfg.ContextID = id
		}
	}

	if meta.IsDefined("dialect") {
		d, ok := signature.ParseDialect(strings.ToLower(strings.TrimSpace(raw.Dialect)))
		if !ok {
			return Config{}, fmt.Errorf("%w: dialect %q", ErrInvalid, raw.Dialect)
		}
		cfg.Dialect = d
	}

	if meta.IsDefined("workers") {
		cfg.Workers = raw.Workers
	}

	if meta.IsDefined("sync_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.SyncTimeout))
		if err != nil {
			return Config{}, fmt.Errorf("parse sync_timeout: %w", err)
		}
		cfg.SyncTimeout = d
	}

	if meta.IsDefined("sync_timeout_ms") {
		cfg.SyncTimeout = time.Duration(raw.SyncTimeoutMS) * time.Millisecond
	}

	if meta.IsDefined("legacy_blocking_sync") {
		cfg.LegacyBlockingSync = raw.LegacyBlockingSync
	}

	if meta.IsDefined("local_clock") {
		cfg.LocalClock = raw.LocalClock
	}

	if meta.IsDefined("remote", "address") {
		cfg.Remote.Address = strings.TrimSpace(raw.Remote.Address)
	}

	if meta.IsDefined("remote", "dial_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.Remote.DialTimeout))
		if err != nil {
			return Config{}, fmt.Errorf("parse remote.dial_timeout: %w", err)
		}
		cfg.Remote.DialTimeout = d
	}

	if meta.IsDefined("remote", "max_connect_attempts") {
		cfg.Remote.MaxConnectAttempts = raw.Remote.MaxConnectAttempts
	}

	if meta.IsDefined("remote", "max_payload_bytes") {
		n := raw.Remote.MaxPayloadBytes
		if n <= 0 || n > int64(^uint32(0)) {
			return Config{}, fmt.Errorf("%w: remote.max_payload_bytes %d", ErrInvalid, n)
		}
		cfg.Remote.MaxPayloadBytes = uint32(n)
	}

	if meta.IsDefined("remote", "tls") {
		t := raw.Remote.TLS
		cfg.Remote.TLS = remote.TLSConfig{
			Enabled:            t.Enabled,
			Mutual:             t.Mutual,
			CAFile:             strings.TrimSpace(t.CAFile),
			CertFile:           strings.TrimSpace(t.CertFile),
			KeyFile:            strings.TrimSpace(t.KeyFile),
			ServerName:         strings.TrimSpace(t.ServerName),
			InsecureSkipVerify: t.InsecureSkipVerify,
		}
	}

	if meta.IsDefined("admin", "address") {
		cfg.Admin.Address = strings.TrimSpace(raw.Admin.Address)
	}

	if meta.IsDefined("admin", "token") {
		cfg.Admin.Token = strings.TrimSpace(raw.Admin.Token)
	}

	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func Validate(cfg Config) error {
	if strings.TrimSpace(cfg.ContextID) == "" {
		return fmt.Errorf("%w: context_id is required", ErrInvalid)
	}
	if cfg.Workers <= 0 {
		return fmt.Errorf("%w: workers must be positive, got %d", ErrInvalid, cfg.Workers)
	}
	if cfg.SyncTimeout < 0 {
		return fmt.Errorf("%w: sync_timeout must not be negative", ErrInvalid)
	}
	if cfg.SyncTimeout == 0 && !cfg.LegacyBlockingSync {
		return fmt.Errorf("%w: sync_timeout of zero requires legacy_blocking_sync", ErrInvalid)
	}
	if cfg.Remote.MaxConnectAttempts < 0 {
		return fmt.Errorf("%w: remote.max_connect_attempts must not be negative", ErrInvalid)
	}
	if err := cfg.Remote.TLS.Validate(); err != nil {
		return fmt.Errorf("%w: remote.tls: %w", ErrInvalid, err)
	}
	return nil
}

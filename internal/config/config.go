package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Config represents the main configuration for hubsync.
type Config struct {
	BaseDir    string           `toml:"base_dir"`
	Actor      ActorConfig      `toml:"actor"`
	Store      StoreConfig      `toml:"store"`
	Vault      VaultConfig      `toml:"vault"`
	Encryption EncryptionConfig `toml:"encryption"`
	Realtime   RealtimeConfig   `toml:"realtime"`
	Retry      RetryConfig      `toml:"retry"`
	Refresh    RefreshConfig    `toml:"refresh"`
	Log        LogConfig        `toml:"log"`
}

// ActorConfig identifies the user every store call is made as.
type ActorConfig struct {
	UserID      string `toml:"user_id"`
	AccessToken string `toml:"access_token,omitempty"`
}

// StoreConfig selects the relational store.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type StoreConfig struct {
	Type string `toml:"type"` // "sqlite", "memory" or "remote"

	// sqlite
	Path string `toml:"path,omitempty"`

	// remote
	URL     string `toml:"url,omitempty"`
	APIKey  string `toml:"api_key,omitempty"`
	Timeout int    `toml:"timeout_seconds,omitempty"`
}

// VaultConfig represents configuration for a snapshot vault backend.
type VaultConfig struct {
	Type string `toml:"type"` // "memory", "s3", or "filesystem"
	Name string `toml:"name"`

	// S3-specific fields (only used when Type == "s3")
	S3Bucket   string `toml:"s3_bucket,omitempty"`
	S3Prefix   string `toml:"s3_prefix,omitempty"`
	S3Region   string `toml:"s3_region,omitempty"`
	S3Endpoint string `toml:"s3_endpoint,omitempty"` // for S3-compatible services

	// Static credentials; when empty the default AWS credential chain is used.
	S3AccessKeyID     string `toml:"s3_access_key_id,omitempty"`
	S3SecretAccessKey string `toml:"s3_secret_access_key,omitempty"`

	// FileSystem-specific fields (only used when Type == "filesystem")
	FSVaultRoot string `toml:"fs_vault_root,omitempty"`
}

// EncryptionConfig holds paths to the age key pair used to encrypt snapshots.
type EncryptionConfig struct {
	Type           string `toml:"type"` // "age" (default), "none" or "test"
	PublicKeyPath  string `toml:"public_key_path"`
	PrivateKeyPath string `toml:"private_key_path"`
}

// RealtimeConfig controls the change-feed subscription.
type RealtimeConfig struct {
	Enabled bool   `toml:"enabled"`
	URL     string `toml:"url,omitempty"` // defaults to the store URL
}

// RetryConfig tunes the retry policy for transient store failures.
type RetryConfig struct {
	Attempts    int `toml:"attempts"`
	BaseDelayMS int `toml:"base_delay_ms"`
	MaxDelayMS  int `toml:"max_delay_ms"`
}

func (c RetryConfig) BaseDelay() time.Duration {
	return time.Duration(c.BaseDelayMS) * time.Millisecond
}

func (c RetryConfig) MaxDelay() time.Duration {
	return time.Duration(c.MaxDelayMS) * time.Millisecond
}

// RefreshConfig tunes the periodic refresh of open views.
type RefreshConfig struct {
	PeriodSeconds      int `toml:"period_seconds"`
	InitialDelayMS     int `toml:"initial_delay_ms"`
	ResubscribeDelayMS int `toml:"resubscribe_delay_ms"`
}

func (c RefreshConfig) Period() time.Duration {
	return time.Duration(c.PeriodSeconds) * time.Second
}

func (c RefreshConfig) InitialDelay() time.Duration {
	return time.Duration(c.InitialDelayMS) * time.Millisecond
}

func (c RefreshConfig) ResubscribeDelay() time.Duration {
	return time.Duration(c.ResubscribeDelayMS) * time.Millisecond
}

// LogConfig controls the log file and its rotation.
type LogConfig struct {
	Dir        string `toml:"dir"`
	Level      string `toml:"level"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
}

// NewConfig creates a new Config rooted at baseDir with default settings.
func NewConfig(actorID, baseDir string) *Config {
	return &Config{
		BaseDir: baseDir,
		Actor:   ActorConfig{UserID: actorID},
		Store: StoreConfig{
			Type: "sqlite",
			Path: filepath.Join(baseDir, "hub.db"),
		},
		Vault: VaultConfig{
			Type:        "filesystem",
			Name:        "local",
			FSVaultRoot: filepath.Join(baseDir, "vault"),
		},
		Encryption: EncryptionConfig{
			Type:           "age",
			PublicKeyPath:  filepath.Join(baseDir, "keys", "hubsync.pub"),
			PrivateKeyPath: filepath.Join(baseDir, "keys", "hubsync.key"),
		},
		Realtime: RealtimeConfig{Enabled: true},
		Retry:    RetryConfig{Attempts: 3, BaseDelayMS: 300, MaxDelayMS: 3000},
		Refresh:  RefreshConfig{PeriodSeconds: 60, InitialDelayMS: 2000, ResubscribeDelayMS: 5000},
		Log: LogConfig{
			Dir:        filepath.Join(baseDir, "log"),
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 5,
			MaxAgeDays: 30,
		},
	}
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads a Config from the specified file path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

func writeToFile(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// The file can hold an API key and access token.
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init initializes a new config file at the specified path with the provided Config.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}

// Environment variables that override file values.
const (
	EnvConfigPath  = "HUBSYNC_CONFIG_PATH"
	EnvHome        = "HUBSYNC_HOME"
	EnvStoreURL    = "HUBSYNC_STORE_URL"
	EnvAPIKey      = "HUBSYNC_API_KEY"
	EnvAccessToken = "HUBSYNC_ACCESS_TOKEN"
	EnvActorID     = "HUBSYNC_ACTOR_ID"
)

// LoadDotEnv loads envFile into the process environment if it exists.
// Variables already set are left alone.
func LoadDotEnv(envFile string) error {
	if envFile == "" {
		envFile = ".env"
	}
	if _, err := os.Stat(envFile); err != nil {
		return nil
	}
	if err := godotenv.Load(envFile); err != nil {
		return fmt.Errorf("loading %s: %w", envFile, err)
	}
	return nil
}

// ApplyEnv overrides cfg with any HUBSYNC_* variables found by getenv.
// Setting a store URL switches the store to remote.
func ApplyEnv(cfg *Config, getenv func(string) string) {
	if getenv == nil {
		getenv = os.Getenv
	}
	if v := strings.TrimSpace(getenv(EnvStoreURL)); v != "" {
		cfg.Store.Type = "remote"
		cfg.Store.URL = v
	}
	if v := strings.TrimSpace(getenv(EnvAPIKey)); v != "" {
		cfg.Store.APIKey = v
	}
	if v := strings.TrimSpace(getenv(EnvAccessToken)); v != "" {
		cfg.Actor.AccessToken = v
	}
	if v := strings.TrimSpace(getenv(EnvActorID)); v != "" {
		cfg.Actor.UserID = v
	}
}

package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Config represents the main configuration for rolectl.
type Config struct {
	ScopeID     string            `toml:"scope_id" yaml:"scope_id"` // server whose roles are edited
	BaseDir     string            `toml:"base_dir" yaml:"base_dir"`
	LogDir      string            `toml:"log_dir" yaml:"log_dir"`
	Database    DatabaseConfig    `toml:"database" yaml:"database"`
	Permissions PermissionsConfig `toml:"permissions" yaml:"permissions"`
	Watch       WatchConfig       `toml:"watch" yaml:"watch"`
	Archive     ArchiveConfig     `toml:"archive" yaml:"archive"`
	Encryption  EncryptionConfig  `toml:"encryption" yaml:"encryption"`
}

// DatabaseConfig represents configuration for the role database.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type DatabaseConfig struct {
	Type string `toml:"type" yaml:"type"` // "sqlite", "memory", "postgres" or "redis"

	// SQLite-specific fields (only used when Type == "sqlite")
	DataDir string `toml:"data_dir,omitempty" yaml:"data_dir,omitempty"`

	// PostgreSQL-specific fields (only used when Type == "postgres")
	PostgresDSN string `toml:"postgres_dsn,omitempty" yaml:"postgres_dsn,omitempty"`

	// Redis-specific fields (only used when Type == "redis")
	RedisAddr     string `toml:"redis_addr,omitempty" yaml:"redis_addr,omitempty"`
	RedisPassword string `toml:"redis_password,omitempty" yaml:"redis_password,omitempty"`
	RedisDB       int    `toml:"redis_db,omitempty" yaml:"redis_db,omitempty"`
}

// PermissionsConfig selects the permission set roles are edited against.
type PermissionsConfig struct {
	Scope string `toml:"scope" yaml:"scope"` // "role" (default) or "channel"
}

// WatchConfig controls following changes made by other processes.
type WatchConfig struct {
	Enabled    bool `toml:"enabled" yaml:"enabled"`
	DebounceMS int  `toml:"debounce_ms" yaml:"debounce_ms"` // file events closer together are coalesced
}

// ArchiveConfig represents configuration for the change archive.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type ArchiveConfig struct {
	Type      string `toml:"type" yaml:"type"` // "none", "memory", "filesystem" or "s3"
	Name      string `toml:"name" yaml:"name"`
	Encrypted bool   `toml:"encrypted" yaml:"encrypted"`

	// FileSystem-specific fields (only used when Type == "filesystem")
	Root string `toml:"root,omitempty" yaml:"root,omitempty"`

	// S3-specific fields (only used when Type == "s3")
	Bucket          string `toml:"bucket,omitempty" yaml:"bucket,omitempty"`
	Prefix          string `toml:"prefix,omitempty" yaml:"prefix,omitempty"`
	Region          string `toml:"region,omitempty" yaml:"region,omitempty"`
	Endpoint        string `toml:"endpoint,omitempty" yaml:"endpoint,omitempty"` // for S3-compatible stores
	AccessKeyID     string `toml:"access_key_id,omitempty" yaml:"access_key_id,omitempty"`
	SecretAccessKey string `toml:"secret_access_key,omitempty" yaml:"secret_access_key,omitempty"`
	UsePathStyle    bool   `toml:"use_path_style,omitempty" yaml:"use_path_style,omitempty"`
}

// EncryptionConfig holds paths to the age key pair used for encryption.
type EncryptionConfig struct {
	Type           string `toml:"type" yaml:"type"` // "age" (default) or "test"
	PublicKeyPath  string `toml:"public_key_path" yaml:"public_key_path"`
	PrivateKeyPath string `toml:"private_key_path" yaml:"private_key_path"`
}

// NewConfig creates a new Config with the provided values and defaults
// rooted at baseDir.
func NewConfig(scopeID, baseDir string) *Config {
	return &Config{
		ScopeID: scopeID,
		BaseDir: baseDir,
		LogDir:  filepath.Join(baseDir, "log"),
		Database: DatabaseConfig{
			Type:    "sqlite",
			DataDir: filepath.Join(baseDir, "db"),
		},
		Permissions: PermissionsConfig{Scope: "role"},
		Watch:       WatchConfig{Enabled: true, DebounceMS: 200},
		Archive: ArchiveConfig{
			Type: "filesystem",
			Name: "local",
			Root: filepath.Join(baseDir, "archive"),
		},
		Encryption: EncryptionConfig{
			Type:           "age",
			PublicKeyPath:  filepath.Join(baseDir, "keys", "rolectl.pub"),
			PrivateKeyPath: filepath.Join(baseDir, "keys", "rolectl.key"),
		},
	}
}

// Format is a config file encoding.
type Format string

const (
	FormatTOML Format = "toml"
	FormatYAML Format = "yaml"
)

// FormatForPath picks YAML for .yaml and .yml files and TOML otherwise.
func FormatForPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatTOML
	}
}

// Manager handles reading and writing configuration.
type Manager struct {
	Format Format // zero value means TOML
}

// Read decodes a Config from the provided reader.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	switch m.Format {
	case FormatYAML:
		if err := yaml.NewDecoder(r).Decode(&cfg); err != nil {
			return nil, fmt.Errorf("failed to decode config: %w", err)
		}
	default:
		if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
			return nil, fmt.Errorf("failed to decode config: %w", err)
		}
	}
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	switch m.Format {
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(cfg); err != nil {
			return fmt.Errorf("failed to encode config: %w", err)
		}
		if err := enc.Close(); err != nil {
			return fmt.Errorf("failed to encode config: %w", err)
		}
	default:
		if err := toml.NewEncoder(w).Encode(cfg); err != nil {
			return fmt.Errorf("failed to encode config: %w", err)
		}
	}
	return nil
}

// Validate checks the tagged unions for unknown types and missing fields.
func (c *Config) Validate() error {
	if c.ScopeID == "" {
		return fmt.Errorf("scope_id is required")
	}
	switch c.Database.Type {
	case "sqlite":
		if c.Database.DataDir == "" {
			return fmt.Errorf("database: data_dir required for sqlite")
		}
	case "memory":
	case "postgres":
		if c.Database.PostgresDSN == "" {
			return fmt.Errorf("database: postgres_dsn required for postgres")
		}
	case "redis":
		if c.Database.RedisAddr == "" {
			return fmt.Errorf("database: redis_addr required for redis")
		}
	default:
		return fmt.Errorf("database: unknown type %q", c.Database.Type)
	}
	switch c.Permissions.Scope {
	case "", "role", "channel":
	default:
		return fmt.Errorf("permissions: unknown scope %q", c.Permissions.Scope)
	}
	switch c.Archive.Type {
	case "", "none", "memory":
	case "filesystem":
		if c.Archive.Root == "" {
			return fmt.Errorf("archive: root required for filesystem")
		}
	case "s3":
		if c.Archive.Bucket == "" {
			return fmt.Errorf("archive: bucket required for s3")
		}
	default:
		return fmt.Errorf("archive: unknown type %q", c.Archive.Type)
	}
	if c.Watch.DebounceMS < 0 {
		return fmt.Errorf("watch: debounce_ms must not be negative")
	}
	return nil
}

// ReadFromFile reads a Config from the specified file path. The format
// follows the file extension.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{Format: FormatForPath(path)}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

// writeToFile writes a Config to the specified file path.
func writeToFile(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{Format: FormatForPath(path)}
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

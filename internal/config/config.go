// Package config loads habitgarden settings from a YAML or TOML file.
// ${VAR} references are expanded from the environment before parsing.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/julianstephens/habitgarden/internal/constants"
	"github.com/julianstephens/habitgarden/internal/keyring"
	"github.com/julianstephens/habitgarden/internal/remote"
	"github.com/julianstephens/habitgarden/internal/utils"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverFile     = "file"
	DriverMemory   = "memory"
)

// ErrNotFound is returned by Load when the config file does not exist
var ErrNotFound = errors.New("config file not found")

type Config struct {
	UserID   string `yaml:"user_id" toml:"user_id"`
	Timezone string `yaml:"timezone" toml:"timezone"`

	Remote  RemoteConfig  `yaml:"remote" toml:"remote"`
	Cache   CacheConfig   `yaml:"cache" toml:"cache"`
	Sync    SyncConfig    `yaml:"sync" toml:"sync"`
	Logging LoggingConfig `yaml:"logging" toml:"logging"`
	Metrics MetricsConfig `yaml:"metrics" toml:"metrics"`

	// Dir is the directory the config was loaded from; relative paths resolve against it
	Dir string `yaml:"-" toml:"-"`
}

// RemoteConfig selects the authoritative store
type RemoteConfig struct {
	Driver string `yaml:"driver" toml:"driver"`
	// DSN is the PostgreSQL connection string; it must not contain a password
	DSN string `yaml:"dsn" toml:"dsn"`
	// Path is the database file for the sqlite driver
	Path string `yaml:"path" toml:"path"`
}

// CacheConfig selects the local persistence substrate
type CacheConfig struct {
	Driver string `yaml:"driver" toml:"driver"`
	Path   string `yaml:"path" toml:"path"`
}

type SyncConfig struct {
	ReconcileInterval time.Duration `yaml:"-" toml:"-"`
	DrainInterval     time.Duration `yaml:"-" toml:"-"`
	ProbeInterval     time.Duration `yaml:"-" toml:"-"`

	// Raw string values for unmarshaling
	ReconcileIntervalRaw string `yaml:"reconcile_interval" toml:"reconcile_interval"`
	DrainIntervalRaw     string `yaml:"drain_interval" toml:"drain_interval"`
	ProbeIntervalRaw     string `yaml:"probe_interval" toml:"probe_interval"`
}

type LoggingConfig struct {
	Debug bool `yaml:"debug" toml:"debug"`
}

type MetricsConfig struct {
	// Addr enables the /metrics endpoint of the daemon when set, e.g. "127.0.0.1:9464"
	Addr string `yaml:"addr" toml:"addr"`
}

// Default returns the configuration used for keys a file leaves out
func Default(dir string) *Config {
	return &Config{
		Timezone: "Local",
		Remote: RemoteConfig{
			Driver: DriverSQLite,
			Path:   "remote.db",
		},
		Cache: CacheConfig{
			Driver: DriverSQLite,
			Path:   "cache.db",
		},
		Sync: SyncConfig{
			ReconcileInterval: constants.DefaultReconcileInterval,
			DrainInterval:     constants.DefaultDrainInterval,
			ProbeInterval:     constants.DefaultProbeInterval,
		},
		Dir: dir,
	}
}

// Load reads the file at path. Files ending in .toml are parsed as TOML,
// everything else as YAML. Missing keys keep their Default values.
func Load(path string) (*Config, error) {
	path = ExpandHome(path)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default(filepath.Dir(path))
	if err := decode(path, []byte(expandEnvVars(string(data))), cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func isTOML(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".toml")
}

func decode(path string, data []byte, cfg *Config) error {
	if isTOML(path) {
		_, err := toml.Decode(string(data), cfg)
		return err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	return yaml.Unmarshal(data, cfg)
}

// Save writes cfg to path in the format implied by its extension
func Save(path string, cfg *Config) error {
	path = ExpandHome(path)
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	out := *cfg
	out.Sync.ReconcileIntervalRaw = cfg.Sync.ReconcileInterval.String()
	out.Sync.DrainIntervalRaw = cfg.Sync.DrainInterval.String()
	out.Sync.ProbeIntervalRaw = cfg.Sync.ProbeInterval.String()

	var buf bytes.Buffer
	if isTOML(path) {
		if err := toml.NewEncoder(&buf).Encode(out); err != nil {
			return fmt.Errorf("encoding config: %w", err)
		}
	} else {
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(out); err != nil {
			return fmt.Errorf("encoding config: %w", err)
		}
		enc.Close()
	}

	return os.WriteFile(path, buf.Bytes(), 0600)
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// Unset variables expand to an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(re.FindStringSubmatch(match)[1])
	})
}

func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"sync.reconcile_interval", cfg.Sync.ReconcileIntervalRaw, &cfg.Sync.ReconcileInterval},
		{"sync.drain_interval", cfg.Sync.DrainIntervalRaw, &cfg.Sync.DrainInterval},
		{"sync.probe_interval", cfg.Sync.ProbeIntervalRaw, &cfg.Sync.ProbeInterval},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}
	return nil
}

// Validate checks required fields and value ranges. Returns an error
// describing the first failure encountered.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.UserID) == "" {
		return fmt.Errorf("user_id is required (run `habitgarden init`)")
	}
	if !utils.ValidateTimezone(c.Timezone) {
		return fmt.Errorf("timezone %q is not a valid IANA timezone", c.Timezone)
	}

	switch c.Remote.Driver {
	case DriverSQLite:
		if c.Remote.Path == "" {
			return fmt.Errorf("remote.path is required for the sqlite driver")
		}
	case DriverPostgres:
		// An empty DSN falls back to the environment or the keyring
		if c.Remote.DSN != "" {
			if err := remote.ValidateConnString(c.Remote.DSN); err != nil {
				return fmt.Errorf("remote.dsn: %w", err)
			}
		}
	default:
		return fmt.Errorf("remote.driver must be %q or %q, got %q", DriverSQLite, DriverPostgres, c.Remote.Driver)
	}

	switch c.Cache.Driver {
	case DriverSQLite, DriverFile:
		if c.Cache.Path == "" {
			return fmt.Errorf("cache.path is required for the %s driver", c.Cache.Driver)
		}
	case DriverMemory:
	default:
		return fmt.Errorf("cache.driver must be %q, %q or %q, got %q", DriverSQLite, DriverFile, DriverMemory, c.Cache.Driver)
	}

	if c.Sync.ReconcileInterval <= 0 || c.Sync.DrainInterval <= 0 {
		return fmt.Errorf("sync intervals must be positive")
	}
	if c.Sync.ProbeInterval < 0 {
		return fmt.Errorf("sync.probe_interval must not be negative")
	}
	return nil
}

// Location returns the configured timezone
func (c *Config) Location() (*time.Location, error) {
	return utils.LoadLocation(c.Timezone)
}

// ResolvePath makes p absolute relative to the config directory
func (c *Config) ResolvePath(p string) string {
	p = ExpandHome(p)
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.Dir, p)
}

// RemoteDSN returns the PostgreSQL connection string, looking in the config
// file, then $HABITGARDEN_REMOTE_DSN, then the OS keyring.
func (c *Config) RemoteDSN() (string, error) {
	if c.Remote.DSN != "" {
		return c.Remote.DSN, nil
	}
	if dsn := os.Getenv(constants.EnvRemoteDSN); dsn != "" {
		return dsn, nil
	}
	dsn, err := keyring.GetRemoteDSN()
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return "", fmt.Errorf("no remote connection string: set remote.dsn, $%s or run `habitgarden secret set`", constants.EnvRemoteDSN)
		}
		return "", err
	}
	return dsn, nil
}

// ExpandHome replaces a leading ~ with the user's home directory
func ExpandHome(p string) string {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~"))
}

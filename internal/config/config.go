// Package config loads and validates the migration configuration from a
// YAML file, applying defaults and environment-variable overrides.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/pgmove/pgmove/internal/notify"
	"gopkg.in/yaml.v3"
)

// Env var names for credential overrides. These win over the YAML values so
// config files can be committed without secrets.
const (
	EnvSourceURL        = "PGMOVE_SOURCE_URL"
	EnvTargetURL        = "PGMOVE_TARGET_URL"
	EnvSourcePassword   = "PGMOVE_SOURCE_PASSWORD"
	EnvTargetPassword   = "PGMOVE_TARGET_PASSWORD"
	EnvStorageSourceKey = "PGMOVE_STORAGE_SOURCE_KEY"
	EnvStorageTargetKey = "PGMOVE_STORAGE_TARGET_KEY"
)

// Config is the root configuration for a migration run.
type Config struct {
	Source    ConnConfig          `yaml:"source"`
	Target    ConnConfig          `yaml:"target"`
	Migration MigrationConfig     `yaml:"migration"`
	Storage   StorageConfig       `yaml:"storage"`
	Slack     *notify.SlackConfig `yaml:"slack"`
	LogLevel  string              `yaml:"log_level"`
	LogFormat string              `yaml:"log_format"`
}

// ConnConfig holds connection settings for one database side.
// URL, when set, wins over the individual fields.
type ConnConfig struct {
	URL      string `yaml:"url"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`

	// Candidates are alternate hosts tried in order when the primary host
	// does not answer (regional endpoints of the same instance). Each entry
	// is either a bare host or a full connection URL.
	Candidates []string `yaml:"candidates"`

	// ProbeTimeoutSeconds bounds each individual connection attempt during
	// candidate probing.
	ProbeTimeoutSeconds int `yaml:"probe_timeout_seconds"`
}

// MigrationConfig holds the core engine settings.
type MigrationConfig struct {
	// Schemas is the allow-list of schemas to migrate.
	Schemas []string `yaml:"schemas"`

	// ExcludeTables lists table names skipped in every stage.
	ExcludeTables []string `yaml:"exclude_tables"`

	// PageSize is the number of rows fetched and inserted per batch.
	PageSize int `yaml:"page_size"`

	// Stages selects which migration stages run. Empty means all.
	Stages []string `yaml:"stages"`
}

// StorageConfig holds object-storage endpoints and service keys.
// Empty keys disable the storage stage.
type StorageConfig struct {
	SourceURL string `yaml:"source_url"`
	SourceKey string `yaml:"source_key"`
	TargetURL string `yaml:"target_url"`
	TargetKey string `yaml:"target_key"`
}

// Load reads the configuration file at path, applies defaults and
// environment overrides, and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyDefaults()
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	for _, conn := range []*ConnConfig{&c.Source, &c.Target} {
		if conn.Port == 0 {
			conn.Port = 5432
		}
		if conn.SSLMode == "" {
			conn.SSLMode = "require"
		}
		if conn.ProbeTimeoutSeconds == 0 {
			conn.ProbeTimeoutSeconds = 5
		}
	}
	if len(c.Migration.Schemas) == 0 {
		c.Migration.Schemas = []string{"public"}
	}
	if c.Migration.PageSize == 0 {
		c.Migration.PageSize = 1000
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = "text"
	}
}

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvSourceURL); v != "" {
		c.Source.URL = v
	}
	if v := os.Getenv(EnvTargetURL); v != "" {
		c.Target.URL = v
	}
	if v := os.Getenv(EnvSourcePassword); v != "" {
		c.Source.Password = v
	}
	if v := os.Getenv(EnvTargetPassword); v != "" {
		c.Target.Password = v
	}
	if v := os.Getenv(EnvStorageSourceKey); v != "" {
		c.Storage.SourceKey = v
	}
	if v := os.Getenv(EnvStorageTargetKey); v != "" {
		c.Storage.TargetKey = v
	}
}

// Validate checks that both connection sides are usable.
func (c *Config) Validate() error {
	if err := c.Source.validate("source"); err != nil {
		return err
	}
	if err := c.Target.validate("target"); err != nil {
		return err
	}
	if c.Migration.PageSize < 1 {
		return fmt.Errorf("migration.page_size must be positive, got %d", c.Migration.PageSize)
	}
	return nil
}

func (c *ConnConfig) validate(side string) error {
	if c.URL != "" {
		return nil
	}
	if c.Host == "" {
		return fmt.Errorf("%s: host or url is required", side)
	}
	if c.Database == "" {
		return fmt.Errorf("%s: database is required", side)
	}
	if c.User == "" {
		return fmt.Errorf("%s: user is required", side)
	}
	return nil
}

// DSN returns the primary connection string, URL-escaping credentials.
func (c *ConnConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return c.buildDSN(c.Host)
}

func (c *ConnConfig) buildDSN(host string) string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		url.QueryEscape(c.User),
		url.QueryEscape(c.Password),
		host, c.Port,
		url.QueryEscape(c.Database),
		c.SSLMode)
}

// CandidateDSNs returns the ordered list of connection strings to probe:
// the primary DSN first, then each configured candidate. Candidate entries
// containing "://" are taken as complete URLs; anything else is treated as
// an alternate host for the same credentials.
func (c *ConnConfig) CandidateDSNs() []string {
	dsns := []string{c.DSN()}
	for _, cand := range c.Candidates {
		if strings.Contains(cand, "://") {
			dsns = append(dsns, cand)
		} else {
			dsns = append(dsns, c.buildDSN(cand))
		}
	}
	return dsns
}

// Redacted returns the DSN with the password stripped, safe for logging.
func (c *ConnConfig) Redacted() string {
	u, err := url.Parse(c.DSN())
	if err != nil {
		return "(unparseable dsn)"
	}
	u.User = url.User(u.User.Username())
	return u.String()
}

// StorageConfigured reports whether both storage sides have credentials.
func (c *Config) StorageConfigured() bool {
	return c.Storage.SourceURL != "" && c.Storage.SourceKey != "" &&
		c.Storage.TargetURL != "" && c.Storage.TargetKey != ""
}

// IsExcluded reports whether a table name is on the deny-list.
func (m *MigrationConfig) IsExcluded(table string) bool {
	for _, ex := range m.ExcludeTables {
		if strings.EqualFold(ex, table) {
			return true
		}
	}
	return false
}

package config

import (
	"fmt"
	"net/url"
	"os"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for labmesh-engine.
// Configuration can come from YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (site passwords) must only come from environment variables.
type Config struct {
	// Server configuration
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"3050"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	Version  string `yaml:"-"` // Set at load time, not from config

	// Health monitor configuration
	Health HealthConfig `yaml:"health"`

	// Per-site pool sizing
	Pool PoolConfig `yaml:"pool"`

	// Sites is the static topology: three data sites plus the global
	// routing site. Partition-to-site assignment lives in the site_routing
	// table at the global site, not here.
	Sites SitesConfig `yaml:"sites"`

	// MigrationsPath is the directory holding global-site bootstrap migrations.
	MigrationsPath string `yaml:"migrations_path" env:"MIGRATIONS_PATH" env-default:"migrations"`

	// Site passwords. The data sites share engine credentials the way the
	// reference deployment does: one SA password for the SQL Server
	// instances, one password for the PostgreSQL instance.
	MSSQLPassword    string `yaml:"-" env:"MSSQL_SA_PASSWORD"`
	PostgresPassword string `yaml:"-" env:"POSTGRES_PASSWORD"`
}

// HealthConfig holds health monitor settings.
type HealthConfig struct {
	// IntervalSeconds is how often every site is probed.
	IntervalSeconds int `yaml:"interval_seconds" env:"HEALTH_INTERVAL_SECONDS" env-default:"30"`
	// ProbeTimeoutSeconds bounds a single liveness probe so a wedged site
	// cannot starve the next probe cycle.
	ProbeTimeoutSeconds int `yaml:"probe_timeout_seconds" env:"HEALTH_PROBE_TIMEOUT_SECONDS" env-default:"5"`
}

// PoolConfig holds connection pool sizing applied to every site.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" env:"POOL_MAX_CONNS" env-default:"10"`
	MinConns int32 `yaml:"min_conns" env:"POOL_MIN_CONNS" env-default:"1"`
}

// SitesConfig lists connection settings for each site.
type SitesConfig struct {
	SiteA  SiteConfig `yaml:"site_a"`
	SiteB  SiteConfig `yaml:"site_b"`
	SiteC  SiteConfig `yaml:"site_c"`
	Global SiteConfig `yaml:"global"`
}

// SiteConfig holds connection settings for one database site.
type SiteConfig struct {
	Dialect  string `yaml:"dialect"` // "postgres" or "sqlserver"
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Database string `yaml:"database"`

	// SQL Server options
	Encrypt                bool `yaml:"encrypt"`
	TrustServerCertificate bool `yaml:"trust_server_certificate"`

	// PostgreSQL options
	SSLMode string `yaml:"ssl_mode"`
}

// ConnString builds the driver connection string for this site using the
// dialect-appropriate password from cfg.
func (s SiteConfig) ConnString(cfg *Config) string {
	switch s.Dialect {
	case "postgres":
		u := url.URL{
			Scheme: "postgres",
			User:   url.UserPassword(s.User, cfg.PostgresPassword),
			Host:   fmt.Sprintf("%s:%d", s.Host, s.Port),
			Path:   s.Database,
		}
		q := url.Values{}
		sslMode := s.SSLMode
		if sslMode == "" {
			sslMode = "disable"
		}
		q.Set("sslmode", sslMode)
		u.RawQuery = q.Encode()
		return u.String()
	default: // sqlserver
		u := url.URL{
			Scheme: "sqlserver",
			User:   url.UserPassword(s.User, cfg.MSSQLPassword),
			Host:   fmt.Sprintf("%s:%d", s.Host, s.Port),
		}
		q := url.Values{}
		q.Set("database", s.Database)
		q.Set("encrypt", fmt.Sprintf("%t", s.Encrypt))
		q.Set("trustservercertificate", fmt.Sprintf("%t", s.TrustServerCertificate))
		u.RawQuery = q.Encode()
		return u.String()
	}
}

// defaultSites mirrors the reference deployment: two SQL Server data sites,
// one PostgreSQL data site, and a SQL Server global site holding only the
// routing table.
func defaultSites() SitesConfig {
	mssql := func(host string) SiteConfig {
		return SiteConfig{
			Dialect:                "sqlserver",
			Host:                   host,
			Port:                   1433,
			User:                   "sa",
			Database:               "ResearchManagement",
			Encrypt:                true,
			TrustServerCertificate: true,
		}
	}
	return SitesConfig{
		SiteA: mssql("mssql-site-a"),
		SiteB: mssql("mssql-site-b"),
		SiteC: SiteConfig{
			Dialect:  "postgres",
			Host:     "postgres-site-c",
			Port:     5432,
			User:     "postgres",
			Database: "ResearchManagement",
		},
		Global: mssql("mssql-global"),
	}
}

// Load reads configuration from config.yaml with environment variable
// overrides. The version parameter is injected at build time and set on the
// returned Config. Missing config.yaml is not an error; defaults plus
// environment variables are enough to run.
func Load(version string) (*Config, error) {
	cfg := &Config{
		Version: version,
		Sites:   defaultSites(),
	}

	if _, err := os.Stat("config.yaml"); err == nil {
		if err := cleanenv.ReadConfig("config.yaml", cfg); err != nil {
			return nil, fmt.Errorf("failed to read config.yaml: %w", err)
		}
	} else {
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("failed to read environment: %w", err)
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	for name, site := range map[string]SiteConfig{
		"site_a": c.Sites.SiteA,
		"site_b": c.Sites.SiteB,
		"site_c": c.Sites.SiteC,
		"global": c.Sites.Global,
	} {
		switch site.Dialect {
		case "postgres", "sqlserver":
		default:
			return fmt.Errorf("site %s: unsupported dialect %q", name, site.Dialect)
		}
		if site.Host == "" {
			return fmt.Errorf("site %s: host must be set", name)
		}
	}
	if c.Health.IntervalSeconds <= 0 {
		return fmt.Errorf("health interval must be positive, got %d", c.Health.IntervalSeconds)
	}
	return nil
}

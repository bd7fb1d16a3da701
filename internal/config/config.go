package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Default configuration values.
const (
	DefaultListenAddr        = ":8080"
	DefaultCrawlMaxServers   = 500
	DefaultCrawlPageSize     = 50
	DefaultHealthTimeoutSec  = 10
	DefaultHealthConcurrency = 20
	DefaultScoreConcurrency  = 8
	DefaultAdminTokenExpiry  = 12 * time.Hour
)

// DefaultSearchQueries are the GitHub search terms used to discover MCP
// servers when the config file does not override them.
var DefaultSearchQueries = []string{
	"topic:mcp-server",
	"topic:model-context-protocol",
	"mcp server in:name,description",
	"model context protocol server in:name,description",
	"mcp-server in:name",
}

// Config is the root application configuration.
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Server   ServerConfig   `yaml:"server"`
	Logging  LoggingConfig  `yaml:"logging"`
	GitHub   GitHubConfig   `yaml:"github"`
	Health   HealthConfig   `yaml:"health"`
	Scoring  ScoringConfig  `yaml:"scoring"`
	Schedule ScheduleConfig `yaml:"schedule"`
	Admin    AdminConfig    `yaml:"admin"`
	Redis    RedisConfig    `yaml:"redis"`
}

// DatabaseConfig holds registry store connection settings.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// LoggingConfig holds logrus and rotation settings.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max-size-mb"`
	MaxBackups int    `yaml:"max-backups"`
	MaxAgeDays int    `yaml:"max-age-days"`
}

// GitHubConfig holds discovery crawler settings.
type GitHubConfig struct {
	// Tokens are rotated across search requests. The GH_TOKENS environment
	// variable (comma separated) takes precedence over the file.
	Tokens        []string `yaml:"tokens"`
	APIURL        string   `yaml:"api-url"`
	SearchQueries []string `yaml:"search-queries"`
	MaxServers    int      `yaml:"max-servers"`
	PageSize      int      `yaml:"page-size"`
	// BudgetFloor is the remaining-request threshold below which the
	// crawler halves its page size instead of failing outright.
	BudgetFloor int `yaml:"budget-floor"`
}

// HealthConfig holds prober settings.
type HealthConfig struct {
	TimeoutSec  int `yaml:"timeout-sec"`
	Concurrency int `yaml:"concurrency"`
}

// ScoringConfig holds scorer settings.
type ScoringConfig struct {
	Concurrency int `yaml:"concurrency"`
}

// ScheduleConfig holds cron expressions (UTC, standard 5-field) for the
// periodic jobs. An empty expression disables the job.
type ScheduleConfig struct {
	CrawlCron  string `yaml:"crawl-cron"`
	HealthCron string `yaml:"health-cron"`
	ScoreCron  string `yaml:"score-cron"`
}

// AdminConfig holds admin authentication settings.
type AdminConfig struct {
	Username     string `yaml:"username"`
	PasswordHash string `yaml:"password-hash"`
	JWTSecret    string `yaml:"jwt-secret"`
}

// RedisConfig holds optional response-cache settings. The cache is
// disabled when Addr is empty.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	TTLSec   int    `yaml:"ttl-sec"`
}

// Load reads the YAML config at path and applies defaults and environment
// overrides. A missing file yields defaults plus environment values.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if strings.TrimSpace(path) != "" {
		data, errRead := os.ReadFile(path)
		switch {
		case errRead == nil:
			if errUnmarshal := yaml.Unmarshal(data, cfg); errUnmarshal != nil {
				return nil, fmt.Errorf("config: parse %s: %w", path, errUnmarshal)
			}
		case os.IsNotExist(errRead):
		default:
			return nil, fmt.Errorf("config: read %s: %w", path, errRead)
		}
	}
	cfg.applyEnv()
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyEnv() {
	if dsn := strings.TrimSpace(os.Getenv("MCPHUB_DATABASE_DSN")); dsn != "" {
		c.Database.DSN = dsn
	}
	if tokens := strings.TrimSpace(os.Getenv("GH_TOKENS")); tokens != "" {
		c.GitHub.Tokens = splitTokens(tokens)
	}
	if secret := strings.TrimSpace(os.Getenv("MCPHUB_ADMIN_JWT_SECRET")); secret != "" {
		c.Admin.JWTSecret = secret
	}
	if hash := strings.TrimSpace(os.Getenv("MCPHUB_ADMIN_PASSWORD_HASH")); hash != "" {
		c.Admin.PasswordHash = hash
	}
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.Server.Addr) == "" {
		c.Server.Addr = DefaultListenAddr
	}
	if strings.TrimSpace(c.Logging.Level) == "" {
		c.Logging.Level = "info"
	}
	if strings.TrimSpace(c.GitHub.APIURL) == "" {
		c.GitHub.APIURL = "https://api.github.com/graphql"
	}
	if len(c.GitHub.SearchQueries) == 0 {
		c.GitHub.SearchQueries = append([]string(nil), DefaultSearchQueries...)
	}
	if c.GitHub.MaxServers <= 0 {
		c.GitHub.MaxServers = DefaultCrawlMaxServers
	}
	if c.GitHub.PageSize <= 0 || c.GitHub.PageSize > 100 {
		c.GitHub.PageSize = DefaultCrawlPageSize
	}
	if c.GitHub.BudgetFloor <= 0 {
		c.GitHub.BudgetFloor = 50
	}
	if c.Health.TimeoutSec <= 0 {
		c.Health.TimeoutSec = DefaultHealthTimeoutSec
	}
	if c.Health.Concurrency <= 0 {
		c.Health.Concurrency = DefaultHealthConcurrency
	}
	if c.Scoring.Concurrency <= 0 {
		c.Scoring.Concurrency = DefaultScoreConcurrency
	}
	if strings.TrimSpace(c.Admin.Username) == "" {
		c.Admin.Username = "admin"
	}
	if c.Redis.TTLSec <= 0 {
		c.Redis.TTLSec = 60
	}
}

// HealthTimeout returns the probe timeout as a duration.
func (c *Config) HealthTimeout() time.Duration {
	return time.Duration(c.Health.TimeoutSec) * time.Second
}

// RedisTTL returns the cache TTL as a duration.
func (c *Config) RedisTTL() time.Duration {
	return time.Duration(c.Redis.TTLSec) * time.Second
}

func splitTokens(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

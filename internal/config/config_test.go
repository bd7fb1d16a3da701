package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	cfg, errLoad := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if errLoad != nil {
		t.Fatalf("load: %v", errLoad)
	}
	if cfg.Server.Addr != DefaultListenAddr {
		t.Fatalf("expected default addr, got %s", cfg.Server.Addr)
	}
	if cfg.GitHub.MaxServers != DefaultCrawlMaxServers {
		t.Fatalf("expected default max servers, got %d", cfg.GitHub.MaxServers)
	}
	if len(cfg.GitHub.SearchQueries) != len(DefaultSearchQueries) {
		t.Fatalf("expected default search queries")
	}
	if cfg.Health.Concurrency != DefaultHealthConcurrency {
		t.Fatalf("expected default prober concurrency, got %d", cfg.Health.Concurrency)
	}
}

func TestLoadParsesFileAndKeepsOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := []byte(`
database:
  dsn: file:directory.db
server:
  addr: ":9090"
github:
  max-servers: 25
  search-queries:
    - "topic:mcp-server"
schedule:
  crawl-cron: "0 */6 * * *"
`)
	if errWrite := os.WriteFile(path, content, 0644); errWrite != nil {
		t.Fatalf("write config: %v", errWrite)
	}

	cfg, errLoad := Load(path)
	if errLoad != nil {
		t.Fatalf("load: %v", errLoad)
	}
	if cfg.Database.DSN != "file:directory.db" {
		t.Fatalf("dsn not read: %s", cfg.Database.DSN)
	}
	if cfg.Server.Addr != ":9090" {
		t.Fatalf("addr not read: %s", cfg.Server.Addr)
	}
	if cfg.GitHub.MaxServers != 25 {
		t.Fatalf("max servers not read: %d", cfg.GitHub.MaxServers)
	}
	if len(cfg.GitHub.SearchQueries) != 1 {
		t.Fatalf("search queries not read: %v", cfg.GitHub.SearchQueries)
	}
	if cfg.Schedule.CrawlCron != "0 */6 * * *" {
		t.Fatalf("cron not read: %s", cfg.Schedule.CrawlCron)
	}
	// Unset fields still fall back.
	if cfg.GitHub.PageSize != DefaultCrawlPageSize {
		t.Fatalf("expected default page size, got %d", cfg.GitHub.PageSize)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("MCPHUB_DATABASE_DSN", "file:env.db")
	t.Setenv("GH_TOKENS", "tok-a, tok-b ,")
	t.Setenv("MCPHUB_ADMIN_JWT_SECRET", "env-secret")

	cfg, errLoad := Load("")
	if errLoad != nil {
		t.Fatalf("load: %v", errLoad)
	}
	if cfg.Database.DSN != "file:env.db" {
		t.Fatalf("env dsn not applied: %s", cfg.Database.DSN)
	}
	if len(cfg.GitHub.Tokens) != 2 || cfg.GitHub.Tokens[1] != "tok-b" {
		t.Fatalf("env tokens not split: %v", cfg.GitHub.Tokens)
	}
	if cfg.Admin.JWTSecret != "env-secret" {
		t.Fatalf("env secret not applied")
	}
}

package config

import (
	"path/filepath"
	"testing"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.IndexName != "Index" {
		t.Errorf("default index name = %q, want %q", cfg.IndexName, "Index")
	}
	if cfg.Subdirectories || cfg.UnixEOL || cfg.ReadOnly {
		t.Error("boolean options should default to off")
	}
	if cfg.LogLevel != "INFO" || cfg.LogFormat != "text" {
		t.Errorf("default logging = %q/%q", cfg.LogLevel, cfg.LogFormat)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("REPOSITORY", "/tmp/pages")
	t.Setenv("READ_ONLY", "yes")
	t.Setenv("PAGES_PREFIX", "docs")
	t.Setenv("PAGE_EXTENSION", ".wiki")
	t.Setenv("SUBDIRECTORIES", "true")
	t.Setenv("INDEX_NAME", "Start")
	t.Setenv("UNIX_EOL", "1")

	cfg := Load()
	if cfg.Repository != "/tmp/pages" {
		t.Errorf("repository = %q", cfg.Repository)
	}
	if !cfg.ReadOnly {
		t.Error("READ_ONLY=yes not honored")
	}
	if cfg.PagesPrefix != "docs" || cfg.PageExtension != ".wiki" {
		t.Errorf("layout = %q/%q", cfg.PagesPrefix, cfg.PageExtension)
	}
	if !cfg.Subdirectories || !cfg.UnixEOL {
		t.Error("boolean env settings not honored")
	}
	if cfg.IndexName != "Start" {
		t.Errorf("index name = %q, want %q", cfg.IndexName, "Start")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"missing repository", func(c *Config) { c.Repository = "" }, true},
		{"absolute prefix", func(c *Config) { c.PagesPrefix = "/abs" }, true},
		{"escaping prefix", func(c *Config) { c.PagesPrefix = "../up" }, true},
		{"extension without dot", func(c *Config) { c.PageExtension = "wiki" }, true},
		{"empty index with subdirectories", func(c *Config) {
			c.Subdirectories = true
			c.IndexName = ""
		}, true},
		{"index with slash", func(c *Config) { c.IndexName = "a/b" }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Repository = "/tmp/repo"
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr && err == nil {
				t.Error("expected validation to fail")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected validation error: %v", err)
			}
		})
	}
}

func TestDefaultIndexDB(t *testing.T) {
	cfg := Default()
	cfg.Repository = "/srv/pages"
	want := filepath.Join("/srv/pages", ".git", "pagestore", "index.sqlite3")
	if got := cfg.DefaultIndexDB(); got != want {
		t.Errorf("DefaultIndexDB = %q, want %q", got, want)
	}
}

// Package config provides configuration management for the page store.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Config holds all settings for a page store instance.
type Config struct {
	// Core settings
	Repository string
	ReadOnly   bool
	LogLevel   string
	LogFormat  string

	// Page layout settings
	PagesPrefix    string
	PageExtension  string
	Subdirectories bool
	IndexName      string
	UnixEOL        bool

	// Search index settings
	IndexDB string
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Repository:     "",
		ReadOnly:       false,
		LogLevel:       "INFO",
		LogFormat:      "text",
		PagesPrefix:    "",
		PageExtension:  "",
		Subdirectories: false,
		IndexName:      "Index",
		UnixEOL:        false,
		IndexDB:        "",
	}
}

// LoadFromEnv loads configuration from environment variables.
func (c *Config) LoadFromEnv() {
	getEnv := func(key, fallback string) string {
		if v := os.Getenv(key); v != "" {
			return v
		}
		return fallback
	}

	getEnvBool := func(key string, fallback bool) bool {
		v := os.Getenv(key)
		if v == "" {
			return fallback
		}
		v = strings.ToLower(v)
		return v == "true" || v == "yes" || v == "on" || v == "1"
	}

	c.Repository = getEnv("REPOSITORY", c.Repository)
	c.ReadOnly = getEnvBool("READ_ONLY", c.ReadOnly)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.LogFormat = getEnv("LOG_FORMAT", c.LogFormat)
	c.PagesPrefix = getEnv("PAGES_PREFIX", c.PagesPrefix)
	c.PageExtension = getEnv("PAGE_EXTENSION", c.PageExtension)
	c.Subdirectories = getEnvBool("SUBDIRECTORIES", c.Subdirectories)
	c.IndexName = getEnv("INDEX_NAME", c.IndexName)
	c.UnixEOL = getEnvBool("UNIX_EOL", c.UnixEOL)
	c.IndexDB = getEnv("INDEX_DB", c.IndexDB)
}

// Validate checks that required configuration is set and consistent.
func (c *Config) Validate() error {
	if c.Repository == "" {
		return fmt.Errorf("please configure a REPOSITORY path")
	}
	if strings.HasPrefix(c.PagesPrefix, "/") || strings.Contains(c.PagesPrefix, "..") {
		return fmt.Errorf("PAGES_PREFIX must be a relative path inside the repository")
	}
	if c.PageExtension != "" && !strings.HasPrefix(c.PageExtension, ".") {
		return fmt.Errorf("PAGE_EXTENSION must start with a dot, got %q", c.PageExtension)
	}
	if c.Subdirectories && c.IndexName == "" {
		return fmt.Errorf("INDEX_NAME must not be empty when SUBDIRECTORIES is enabled")
	}
	if c.IndexName != "" && strings.Contains(c.IndexName, "/") {
		return fmt.Errorf("INDEX_NAME must be a single path segment, got %q", c.IndexName)
	}
	return nil
}

// DefaultIndexDB returns the search index location for a repository, used
// when INDEX_DB is not configured. It lives under the repository's .git
// directory so it never shows up as a page.
func (c *Config) DefaultIndexDB() string {
	return filepath.Join(c.Repository, ".git", "pagestore", "index.sqlite3")
}

// Load creates a new Config with defaults and loads from environment.
func Load() *Config {
	cfg := Default()
	cfg.LoadFromEnv()
	return cfg
}

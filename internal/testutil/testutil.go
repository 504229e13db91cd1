// Package testutil provides common test setup helpers.
package testutil

import (
	"path/filepath"
	"testing"

	"github.com/sa/pagestore/internal/backend"
	"github.com/sa/pagestore/internal/config"
	"github.com/sa/pagestore/internal/store"
)

// TestEnv bundles a fully wired store over a fresh repository.
type TestEnv struct {
	Config  *config.Config
	Backend *backend.GitBackend
	Store   *store.Store
	RepoDir string
}

// SetupTestEnv creates a temporary repository and a store over it. The
// repository lives in a test temp dir and is cleaned up automatically.
func SetupTestEnv(t *testing.T) *TestEnv {
	t.Helper()
	return SetupTestEnvWith(t, config.Default())
}

// SetupTestEnvWith is SetupTestEnv with a caller-supplied configuration;
// the repository path is filled in.
func SetupTestEnvWith(t *testing.T, cfg *config.Config) *TestEnv {
	t.Helper()

	repoDir := filepath.Join(t.TempDir(), "repo")
	cfg.Repository = repoDir
	if err := cfg.Validate(); err != nil {
		t.Fatalf("invalid test config: %v", err)
	}

	b, err := backend.Open(repoDir, true)
	if err != nil {
		t.Fatalf("failed to open test repository: %v", err)
	}

	return &TestEnv{
		Config:  cfg,
		Backend: b,
		Store:   store.New(cfg, b),
		RepoDir: repoDir,
	}
}

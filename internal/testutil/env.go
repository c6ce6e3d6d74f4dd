// Package testutil provides utilities for testing the installer in isolation.
package testutil

import (
	"os"
	"path/filepath"
	"testing"
)

// Env holds the isolated directories created by SetupTestEnv.
type Env struct {
	Root       string
	ConfigPath string
	StateDir   string
	CacheDir   string
}

// SetupTestEnv creates isolated test directories for each test and points
// the GALAH_* environment variables at them, so tests never read or write a
// real installation.
//
// The cleanup function is automatically handled by t.TempDir(),
// so callers don't need to manually clean up.
func SetupTestEnv(t *testing.T) Env {
	t.Helper()

	// Create temp directory (auto-cleaned by testing framework)
	tmpDir := t.TempDir()

	env := Env{
		Root:       tmpDir,
		ConfigPath: filepath.Join(tmpDir, "config", "galah.lua"),
		StateDir:   filepath.Join(tmpDir, "state"),
		CacheDir:   filepath.Join(tmpDir, "cache"),
	}

	t.Setenv("GALAH_CONFIG", env.ConfigPath)
	t.Setenv("GALAH_STATE_DIR", env.StateDir)
	t.Setenv("GALAH_CACHE_DIR", env.CacheDir)

	// Mark as test mode
	t.Setenv("GALAH_TEST_MODE", "1")

	for _, dir := range []string{filepath.Dir(env.ConfigPath), env.StateDir, env.CacheDir} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			t.Fatalf("failed to create test directory %s: %v", dir, err)
		}
	}

	return env
}

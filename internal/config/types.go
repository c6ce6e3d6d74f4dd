package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/galah-group/galah-installer/internal/planner"
)

// Config is the installer configuration.
type Config struct {
	// Server is the update server as host[:port].
	Server string `json:"server" yaml:"server"`

	// PublicKey is the path of the release verification key. Relative
	// paths are resolved against the directory of the config file.
	PublicKey string `json:"public_key" yaml:"public_key"`

	// Timeout bounds connecting and every individual socket read or write.
	Timeout time.Duration `json:"timeout" yaml:"timeout"`

	MaxIndexSize    int64 `json:"max_index_size" yaml:"max_index_size"`
	MaxArtifactSize int64 `json:"max_artifact_size" yaml:"max_artifact_size"`

	// Workers is the number of concurrent artifact downloads.
	Workers int `json:"workers" yaml:"workers"`

	StateDir string `json:"state_dir" yaml:"state_dir"`
	CacheDir string `json:"cache_dir" yaml:"cache_dir"`

	// Packages is the desired state: package name to target version.
	Packages planner.Desired `json:"packages" yaml:"packages"`
}

// Default returns a Config with every optional field set. The state and
// cache directories honour GALAH_STATE_DIR and GALAH_CACHE_DIR.
func Default() *Config {
	return &Config{
		Timeout:         DefaultTimeout,
		MaxIndexSize:    DefaultMaxIndexSize,
		MaxArtifactSize: DefaultMaxArtifactSize,
		Workers:         DefaultWorkers,
		StateDir:        envOr(EnvStateDir, DefaultStateDir),
		CacheDir:        envOr(EnvCacheDir, DefaultCacheDir),
		Packages:        planner.Desired{},
	}
}

// DefaultPath returns $GALAH_CONFIG, or galah/galah.lua under the user
// config directory.
func DefaultPath() (string, error) {
	if p := os.Getenv(EnvConfig); p != "" {
		return p, nil
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine config directory: %w", err)
	}
	return filepath.Join(dir, "galah", "galah.lua"), nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// Validate checks c for values the installer cannot work with.
func (c *Config) Validate() error {
	if err := validateServer(c.Server); err != nil {
		return &ValidationError{Field: luaFieldServer, Message: err.Error()}
	}
	if c.PublicKey == "" {
		return &ValidationError{Field: luaFieldPublicKey, Message: "is required"}
	}
	if c.Timeout <= 0 {
		return &ValidationError{Field: luaFieldTimeout, Message: "must be positive"}
	}
	if c.MaxIndexSize <= 0 {
		return &ValidationError{Field: luaFieldMaxIndexSize, Message: "must be positive"}
	}
	if c.MaxArtifactSize <= 0 {
		return &ValidationError{Field: luaFieldMaxArtifactSize, Message: "must be positive"}
	}
	if c.Workers < 1 || c.Workers > MaxWorkers {
		return &ValidationError{
			Field:   luaFieldWorkers,
			Message: fmt.Sprintf("must be between 1 and %d (got %d)", MaxWorkers, c.Workers),
		}
	}
	if c.StateDir == "" {
		return &ValidationError{Field: luaFieldStateDir, Message: "cannot be empty"}
	}
	if c.CacheDir == "" {
		return &ValidationError{Field: luaFieldCacheDir, Message: "cannot be empty"}
	}

	if len(c.Packages) > MaxPackageCount {
		return &ValidationError{
			Field:   luaFieldPackages,
			Message: fmt.Sprintf("too many packages (%d), maximum is %d", len(c.Packages), MaxPackageCount),
		}
	}
	for name, version := range c.Packages {
		field := fmt.Sprintf("%s[%q]", luaFieldPackages, name)
		if strings.TrimSpace(name) == "" {
			return &ValidationError{Field: field, Message: "package name cannot be empty"}
		}
		if strings.TrimSpace(version) == "" {
			return &ValidationError{Field: field, Message: "version cannot be empty"}
		}
		if version == planner.Unmanaged {
			return &ValidationError{Field: field, Message: planner.Unmanaged + " is not a valid target version"}
		}
	}

	return nil
}

// validateServer accepts host or host:port, without a scheme or path.
func validateServer(server string) error {
	if server == "" {
		return fmt.Errorf("is required")
	}
	if strings.Contains(server, "://") || strings.ContainsAny(server, "/ ") {
		return fmt.Errorf("must be host[:port], got %q", server)
	}

	host := server
	if h, port, err := net.SplitHostPort(server); err == nil {
		n, err := strconv.Atoi(port)
		if err != nil || n < 1 || n > 65535 {
			return fmt.Errorf("invalid port %q", port)
		}
		host = h
	} else if strings.Count(server, ":") == 1 {
		return fmt.Errorf("must be host[:port], got %q", server)
	}
	if host == "" {
		return fmt.Errorf("missing host in %q", server)
	}
	return nil
}

// ValidationError represents a config validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return "config validation failed for " + e.Field + ": " + e.Message
	}
	return "config validation failed: " + e.Message
}

package config

import "time"

// Lua schema field names and globals.
const (
	luaGlobalGalah          = "galah"
	luaFieldServer          = "server"
	luaFieldPublicKey       = "public_key"
	luaFieldTimeout         = "timeout"
	luaFieldMaxIndexSize    = "max_index_size"
	luaFieldMaxArtifactSize = "max_artifact_size"
	luaFieldWorkers         = "workers"
	luaFieldStateDir        = "state_dir"
	luaFieldCacheDir        = "cache_dir"
	luaFieldPackages        = "packages"
)

// Environment variables consulted for defaults.
const (
	EnvConfig   = "GALAH_CONFIG"
	EnvStateDir = "GALAH_STATE_DIR"
	EnvCacheDir = "GALAH_CACHE_DIR"
)

// Defaults applied to fields the file leaves unset.
const (
	DefaultTimeout         = 30 * time.Second
	DefaultMaxIndexSize    = 1 << 20
	DefaultMaxArtifactSize = 512 << 20
	DefaultWorkers         = 2
	DefaultStateDir        = "/var/lib/galah"
	DefaultCacheDir        = "/var/cache/galah"
)

// Limits enforced during validation.
const (
	MaxConfigFileSize = 1 << 20
	MaxWorkers        = 16
	MaxPackageCount   = 1000
)

package relay

import "time"

// Config enumerates the relay's tunable options (spec.md §6).
type Config struct {
	BindAddress string

	// DatabasePath is the blob-store path; store.InMemoryPath selects a
	// private, non-persistent database.
	DatabasePath string

	MaxBlobSize           uint64
	MaxGroupStorage       uint64
	MaxMessageSize        uint32
	MaxConcurrentSessions int
	HelloTimeout          time.Duration

	RateLimits RateLimitConfig

	BlobTTL         time.Duration
	CleanupInterval time.Duration

	// ShutdownDrain bounds how long Server.Shutdown waits for the
	// background maintenance task to exit. Shutdown does not wait for or
	// close running sessions (a supplemented field; spec.md §4.5 names a
	// "bounded drain interval" without naming the config field).
	ShutdownDrain time.Duration
}

// RateLimitConfig holds the two-tier rate limiting parameters spec.md
// §4.5/§6 requires.
type RateLimitConfig struct {
	ConnectionPerSec   float64
	MessagePerSec      float64
	GlobalRequestsPerSec float64
}

// DefaultConfig returns reasonable defaults for all options not supplied
// by the caller's configuration source (file/env parsing is an external
// collaborator; this package only defines the shape and its defaults).
func DefaultConfig() Config {
	return Config{
		BindAddress:           ":8443",
		DatabasePath:          "relay.db",
		MaxBlobSize:           256 * 1024,
		MaxGroupStorage:       64 * 1024 * 1024,
		MaxMessageSize:        1024 * 1024,
		MaxConcurrentSessions: 10000,
		HelloTimeout:          10 * time.Second,
		RateLimits: RateLimitConfig{
			ConnectionPerSec:     20,
			MessagePerSec:        50,
			GlobalRequestsPerSec: 5000,
		},
		BlobTTL:         14 * 24 * time.Hour,
		CleanupInterval: 5 * time.Minute,
		ShutdownDrain:   5 * time.Second,
	}
}

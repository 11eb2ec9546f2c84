package reservd

import (
	"fmt"
	"strings"
	"time"

	"pkt.systems/pslog"

	"pkt.systems/reservd/internal/clock"
	"pkt.systems/reservd/internal/core"
)

const (
	// DefaultStore keeps everything in process memory when no store is
	// configured. Fine for tests, useless across restarts.
	DefaultStore = "mem://"
	// DefaultLogLevel is applied when no level is configured.
	DefaultLogLevel = "info"
	// DefaultGuardRetention mirrors core.DefaultGuardRetention for callers
	// configuring the engine from flags.
	DefaultGuardRetention = core.DefaultGuardRetention
)

// Config describes one engine instance. The zero value plus a Store URL is
// a working configuration.
type Config struct {
	// Store selects the ledger backend by URL:
	//
	//	mem://
	//	disk:///var/lib/reservd
	//	sqlite:///var/lib/reservd/ledger.db
	//	s3://bucket/prefix
	Store string

	// Logger receives structured events. Nil means silent.
	Logger pslog.Logger

	// Clock abstracts time for the retry loop and record stamps. Nil means
	// wall clock.
	Clock clock.Clock

	// Retry bounds the conflict-retry loop. Zero fields take defaults.
	Retry core.RetryPolicy

	// GuardRetention is how long idempotency records survive before the
	// sweep may evict them. Zero means DefaultGuardRetention.
	GuardRetention time.Duration

	// S3 credentials and endpoint knobs, used only by s3:// stores.
	S3Endpoint       string
	S3Region         string
	S3Insecure       bool
	S3ForcePathStyle bool

	// DiskFsyncDisabled skips fsync on disk:// stores. Tests only.
	DiskFsyncDisabled bool
}

func (cfg Config) withDefaults() Config {
	if strings.TrimSpace(cfg.Store) == "" {
		cfg.Store = DefaultStore
	}
	return cfg
}

// Validate checks the parts of the configuration that can fail before any
// store is opened.
func (cfg Config) Validate() error {
	cfg = cfg.withDefaults()
	if _, _, err := splitStoreURL(cfg.Store); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if cfg.Retry.Jitter < 0 || cfg.Retry.Jitter >= 1 {
		if cfg.Retry.Jitter != 0 {
			return fmt.Errorf("config: retry jitter %v outside [0,1)", cfg.Retry.Jitter)
		}
	}
	if cfg.GuardRetention < 0 {
		return fmt.Errorf("config: guard retention must not be negative")
	}
	return nil
}

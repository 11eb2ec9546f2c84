package reservd

import (
	"fmt"
	"net/url"
	"strings"

	"pkt.systems/reservd/internal/ledger"
	"pkt.systems/reservd/internal/ledger/disk"
	"pkt.systems/reservd/internal/ledger/memory"
	"pkt.systems/reservd/internal/ledger/s3"
	"pkt.systems/reservd/internal/ledger/sqlite"
)

// splitStoreURL validates the store URL and returns its scheme and the
// scheme-specific remainder (path for disk and sqlite, bucket/prefix for s3).
func splitStoreURL(raw string) (scheme, rest string, err error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", fmt.Errorf("parse store URL %q: %w", raw, err)
	}
	switch u.Scheme {
	case "", "mem", "memory":
		return "mem", "", nil
	case "disk", "sqlite":
		path := u.Host + u.Path
		if u.Opaque != "" {
			path = u.Opaque
		}
		if path == "" {
			return "", "", fmt.Errorf("store URL %q: missing path", raw)
		}
		return u.Scheme, path, nil
	case "s3":
		if u.Host == "" {
			return "", "", fmt.Errorf("store URL %q: missing bucket", raw)
		}
		return "s3", u.Host + u.Path, nil
	default:
		return "", "", fmt.Errorf("store URL %q: unsupported scheme %q", raw, u.Scheme)
	}
}

func openStore(cfg Config) (ledger.Store, error) {
	scheme, rest, err := splitStoreURL(cfg.Store)
	if err != nil {
		return nil, err
	}
	switch scheme {
	case "mem":
		return memory.New(), nil
	case "disk":
		return disk.New(disk.Config{
			Root:          rest,
			FsyncDisabled: cfg.DiskFsyncDisabled,
		})
	case "sqlite":
		return sqlite.New(sqlite.Config{Path: rest})
	case "s3":
		bucket, prefix, _ := strings.Cut(rest, "/")
		return s3.New(s3.Config{
			Endpoint:       cfg.S3Endpoint,
			Region:         cfg.S3Region,
			Bucket:         bucket,
			Prefix:         strings.Trim(prefix, "/"),
			Insecure:       cfg.S3Insecure,
			ForcePathStyle: cfg.S3ForcePathStyle,
		})
	default:
		return nil, fmt.Errorf("store URL %q: unsupported scheme %q", cfg.Store, scheme)
	}
}

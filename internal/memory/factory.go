package memory

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// Options selects and configures a Store implementation.
type Options struct {
	// Driver is auto, memory, sqlite or postgres.
	Driver      string
	DatabaseURL string
	SQLitePath  string
	Logger      *slog.Logger
}

// NewStore creates a postgres-backed store when configured, a SQLite log store
// when a path is given, otherwise in-memory.
func NewStore(ctx context.Context, opts Options) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(opts.Driver))
	if driver == "" || driver == "auto" {
		switch {
		case strings.TrimSpace(opts.DatabaseURL) != "":
			driver = "postgres"
		case strings.TrimSpace(opts.SQLitePath) != "":
			driver = "sqlite"
		default:
			driver = "memory"
		}
	}

	switch driver {
	case "memory":
		return NewInMemoryStore(), nil
	case "sqlite":
		return NewSQLiteStore(opts.SQLitePath, opts.Logger)
	case "postgres":
		return NewPostgresStore(ctx, opts.DatabaseURL)
	default:
		return nil, fmt.Errorf("unsupported memory store driver %q", opts.Driver)
	}
}

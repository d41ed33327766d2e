package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"
)

// Health summarizes database diagnostics.
type Health struct {
	Path           string
	Exists         bool
	Readable       bool
	TablesPresent  []string
	MissingTables  []string
	IntegrityCheck bool
	Error          string
}

var expectedTables = []string{"schema_version", "devices", "launch_queue"}

// CheckHealth returns diagnostic information about the database.
func (s *DB) CheckHealth(ctx context.Context) (Health, error) {
	health := Health{Path: s.path}
	if s.path == "" {
		return health, errors.New("database path is unknown")
	}

	info, err := os.Stat(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return health, nil
		}
		return health, fmt.Errorf("stat database: %w", err)
	}
	if info.IsDir() {
		return health, fmt.Errorf("database path %q is a directory", s.path)
	}
	health.Exists = true

	connCtx, cancel := context.WithTimeout(ensureContext(ctx), 2*time.Second)
	defer cancel()

	if err := s.db.PingContext(connCtx); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("ping database: %w", err)
	}
	health.Readable = true

	for _, table := range expectedTables {
		var name string
		err := s.QueryRow(connCtx, "SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?", table).Scan(&name)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			health.MissingTables = append(health.MissingTables, table)
		case err != nil:
			health.Error = err.Error()
			return health, fmt.Errorf("query table %s: %w", table, err)
		default:
			health.TablesPresent = append(health.TablesPresent, name)
		}
	}

	var integrity string
	if err := s.QueryRow(connCtx, "PRAGMA integrity_check").Scan(&integrity); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("integrity check: %w", err)
	}
	health.IntegrityCheck = integrity == "ok"
	if !health.IntegrityCheck {
		health.Error = integrity
	}
	return health, nil
}

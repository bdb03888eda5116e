// Package sqlite provides a local SQLite record store for pipelines and runs.
package sqlite

import (
	"context"
	"log/slog"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/kbforge/kbforge/pkg/persistence/sqlbase"
)

// Persistence implements the persistence layer on a SQLite file.
type Persistence struct {
	*sqlbase.Persistence
}

// NewPersistence opens (creating when missing) the database at a path or
// sqlite:// URL.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (*Persistence, error) {
	path := strings.TrimPrefix(databaseURL, "sqlite://")

	base, err := sqlbase.Open(ctx, logger, "sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL", sqlbase.SQLite)
	if err != nil {
		return nil, err
	}

	// SQLite allows a single writer.
	base.DB().SetMaxOpenConns(1)

	return &Persistence{Persistence: base}, nil
}

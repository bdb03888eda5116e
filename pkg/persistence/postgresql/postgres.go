// Package postgresql provides PostgreSQL persistence for pipelines and runs.
package postgresql

import (
	"context"
	"log/slog"

	_ "github.com/lib/pq"

	"github.com/kbforge/kbforge/pkg/persistence/sqlbase"
)

// Persistence implements the persistence layer for PostgreSQL.
type Persistence struct {
	*sqlbase.Persistence
}

// NewPersistence connects to databaseURL and migrates the schema.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (*Persistence, error) {
	base, err := sqlbase.Open(ctx, logger, "postgres", databaseURL, sqlbase.Postgres)
	if err != nil {
		return nil, err
	}

	return &Persistence{Persistence: base}, nil
}

package sqlbase

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDialect_Rebind(t *testing.T) {
	query := "SELECT document FROM pipelines WHERE id = ? AND status = ?"

	assert.Equal(t, "SELECT document FROM pipelines WHERE id = $1 AND status = $2", Postgres.Rebind(query))
	assert.Equal(t, query, SQLite.Rebind(query))
}

func TestMigrations_UseDialectJSONType(t *testing.T) {
	assert.Contains(t, Migrations(Postgres)[1], "document JSONB NOT NULL")
	assert.Contains(t, Migrations(SQLite)[2], "document TEXT NOT NULL")
}

package postgresql_test

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/kbforge/kbforge/pkg/models"
	"github.com/kbforge/kbforge/pkg/persistence"
	"github.com/kbforge/kbforge/pkg/persistence/postgresql"
	"github.com/kbforge/kbforge/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

var postgresContainer *postgres.PostgresContainer

func dropTables(ctx context.Context, t *testing.T, store *postgresql.Persistence) {
	t.Helper()

	for _, table := range []string{"pipeline_runs", "pipelines", "schema_migrations"} {
		_, err := store.DB().ExecContext(ctx, "DROP TABLE IF EXISTS "+table+" CASCADE")
		require.NoError(t, err)
	}
}

func setupTestDB(t *testing.T) (*postgresql.Persistence, context.Context) {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping postgres integration test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)

	if postgresContainer == nil || !postgresContainer.IsRunning() {
		var err error

		postgresContainer, err = postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase("kbforge_test"),
			postgres.WithUsername("kbforge"),
			postgres.WithPassword("kbforge"),
			postgres.BasicWaitStrategies(),
		)
		require.NoError(t, err)
	}

	databaseURL, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	store, err := postgresql.NewPersistence(ctx, logger, databaseURL)
	require.NoError(t, err)

	t.Cleanup(func() {
		dropTables(ctx, t, store)

		require.NoError(t, store.Close(ctx))

		cancel()
	})

	return store, ctx
}

func TestPostgres_Pipelines(t *testing.T) {
	store, ctx := setupTestDB(t)
	repo := store.PipelineRepository()

	require.NoError(t, store.HealthCheck(ctx))

	pipeline := testutil.CreateLinearPipeline(models.StepTypeFetch, models.StepTypeParse)
	require.NoError(t, repo.Save(ctx, pipeline))

	pipeline.Description = "updated"
	require.NoError(t, repo.Save(ctx, pipeline))

	loaded, err := repo.GetByID(ctx, pipeline.ID)
	require.NoError(t, err)
	assert.Equal(t, "updated", loaded.Description)
	assert.Len(t, loaded.Spec.Steps, 2)

	all, err := repo.GetAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	require.NoError(t, repo.Delete(ctx, pipeline.ID))

	_, err = repo.GetByID(ctx, pipeline.ID)
	assert.True(t, persistence.IsPipelineNotFound(err))
}

func TestPostgres_Runs(t *testing.T) {
	store, ctx := setupTestDB(t)
	repo := store.RunRepository()

	run := testutil.CreateTestRun("p-1", models.RunStatusCompleted, time.Now().UTC())
	require.NoError(t, repo.Save(ctx, run))

	loaded, err := repo.GetByID(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusCompleted, loaded.Status)

	runs, err := repo.List(ctx, "p-1")
	require.NoError(t, err)
	assert.Len(t, runs, 1)

	runs, err = repo.List(ctx, "p-2")
	require.NoError(t, err)
	assert.Empty(t, runs)
}

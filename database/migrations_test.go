package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Column names referenced by the statements in internal/store/postgres.go.
// Kept in lockstep so a drift between the queries and the schema fails here
// instead of at runtime against a migrated database.
var storeColumns = map[string][]string{
	"jobs": {
		"external_id", "title", "company", "description", "department",
		"location", "employment_type", "experience_level", "remote",
		"salary", "salary_min", "salary_max", "requirements", "benefits",
		"expires_at", "content_hash", "status", "last_synced_at",
		"updated_at",
	},
	"taxonomy_terms": {"kind", "slug", "name"},
	"job_terms":      {"job_id", "term_id"},
	"import_runs": {
		"trigger_kind", "mode", "status", "created", "updated", "expired",
		"skipped", "errored", "errors", "started_at", "finished_at",
	},
	"sync_locks": {"name", "holder_run_id", "acquired_at"},
}

func TestInitialSchemaCoversStoreColumns(t *testing.T) {
	t.Parallel()

	schema, err := fs.ReadFile("migrations/000001_init.up.sql")
	require.NoError(t, err)

	for table, columns := range storeColumns {
		assert.Regexp(t, `(?m)^CREATE TABLE `+table+` \($`, string(schema))
		for _, column := range columns {
			assert.Regexp(t, `(?m)^\s+`+column+`\s`, string(schema),
				"table %s is missing column %s", table, column)
		}
	}
}

func TestMigrationSourceLoads(t *testing.T) {
	t.Parallel()

	d := migrationsFromSource()
	first, err := d.First()
	require.NoError(t, err)
	assert.Equal(t, uint(1), first)
}

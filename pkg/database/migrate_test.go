package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrationNamesAreOrdered(t *testing.T) {
	names, err := migrationNames()
	require.NoError(t, err)
	require.NotEmpty(t, names)
	assert.Equal(t, "001_videos.sql", names[0])
	assert.IsNonDecreasing(t, names)
}

func TestVideosMigrationDefinesRunColumns(t *testing.T) {
	sql, err := migrationsFS.ReadFile("migrations/001_videos.sql")
	require.NoError(t, err)
	for _, col := range []string{"storyboard ", "dirty_scenes", "run_token", "run_started_at", "encoded_path"} {
		assert.Contains(t, string(sql), col)
	}
}

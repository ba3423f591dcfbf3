package database

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrationFilesOrder(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{
		"000002_b.up.sql", "000001_a.up.sql", "000001_a.down.sql", "000002_b.down.sql", "README.md",
	} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("SELECT 1;"), 0o644))
	}

	up, err := MigrationFiles(dir, Up)
	require.NoError(t, err)
	assert.Equal(t, []string{"000001_a.up.sql", "000002_b.up.sql"}, up)

	down, err := MigrationFiles(dir, Down)
	require.NoError(t, err)
	assert.Equal(t, []string{"000002_b.down.sql", "000001_a.down.sql"}, down)
}

func TestMigrationFilesRepository(t *testing.T) {
	up, err := MigrationFiles("../../migrations", Up)
	require.NoError(t, err)
	require.NotEmpty(t, up)

	down, err := MigrationFiles("../../migrations", Down)
	require.NoError(t, err)
	assert.Len(t, down, len(up))
}

func TestMigrateRejectsUnknownDirection(t *testing.T) {
	_, err := Migrate(context.Background(), nil, t.TempDir(), Direction("sideways"), nil)
	require.Error(t, err)
}

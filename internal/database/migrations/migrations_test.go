package migrations

import (
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMigrationsSortsAndPairs(t *testing.T) {
	fsys := fstest.MapFS{
		"2_media.up.sql":   {Data: []byte("CREATE TABLE b (id INTEGER);")},
		"2_media.down.sql": {Data: []byte("DROP TABLE b;")},
		"1_init.up.sql":    {Data: []byte("CREATE TABLE a (id INTEGER);")},
		"notes.txt":        {Data: []byte("ignored")},
		"bogus.sql":        {Data: []byte("ignored")},
	}

	got, err := LoadMigrations(fsys)
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, 1, got[0].Version)
	assert.Equal(t, "init", got[0].Name)
	assert.Empty(t, got[0].Down)
	assert.Equal(t, 2, got[1].Version)
	assert.Equal(t, "DROP TABLE b;", got[1].Down)
}

func TestLoadMigrationsRequiresUp(t *testing.T) {
	_, err := LoadMigrations(fstest.MapFS{
		"3_x.down.sql": {Data: []byte("DROP TABLE x;")},
	})
	assert.Error(t, err)
}

func TestEmbeddedMigrations(t *testing.T) {
	got, err := LoadMigrations(Files)
	require.NoError(t, err)
	require.NotEmpty(t, got)
	assert.Contains(t, got[0].Up, "CREATE TABLE IF NOT EXISTS articles")
	assert.Contains(t, got[0].Down, "DROP TABLE IF EXISTS articles")
}

func TestRunAndRollbackMigrations(t *testing.T) {
	db, err := sqlx.Open("sqlite3", filepath.Join(t.TempDir(), "m.db"))
	require.NoError(t, err)
	defer db.Close()

	ms, err := LoadMigrations(fstest.MapFS{
		"1_a.up.sql":   {Data: []byte("CREATE TABLE a (id INTEGER);")},
		"1_a.down.sql": {Data: []byte("DROP TABLE a;")},
		"2_b.up.sql":   {Data: []byte("CREATE TABLE b (id INTEGER);")},
	})
	require.NoError(t, err)

	require.NoError(t, RunMigrations(db, ms))
	require.NoError(t, RunMigrations(db, ms))
	applied, err := AppliedVersions(db)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 1}, applied)

	// 2 has no down script and stays applied.
	require.NoError(t, RollbackMigrations(db, ms, 5))
	applied, err = AppliedVersions(db)
	require.NoError(t, err)
	assert.Equal(t, []int{2}, applied)

	var tables []string
	require.NoError(t, db.Select(&tables, `SELECT name FROM sqlite_master WHERE type = 'table' AND name IN ('a', 'b') ORDER BY name`))
	assert.Equal(t, []string{"b"}, tables)
}

func TestFailedMigrationIsNotRecorded(t *testing.T) {
	db, err := sqlx.Open("sqlite3", filepath.Join(t.TempDir(), "m.db"))
	require.NoError(t, err)
	defer db.Close()

	err = RunMigrations(db, []Migration{{Version: 1, Name: "broken", Up: "CREATE TABL nope;"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken")

	applied, err := AppliedVersions(db)
	require.NoError(t, err)
	assert.Empty(t, applied)
}

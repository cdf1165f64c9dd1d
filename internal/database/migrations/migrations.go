package migrations

import (
	"embed"
	"fmt"
	"io/fs"
	"regexp"
	"sort"
	"strconv"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"
)

// Files holds the schema migrations shipped with the binary.
//
//go:embed *.sql
var Files embed.FS

const versionTable = "schema_migrations"

var fileName = regexp.MustCompile(`^(\d+)_([A-Za-z0-9_]+)\.(up|down)\.sql$`)

// Migration is one schema version with its forward and reverse scripts.
type Migration struct {
	Version int
	Name    string
	Up      string
	Down    string
}

// LoadMigrations reads <version>_<name>.{up,down}.sql files at the root of
// fsys, sorted by version. Other files are ignored.
func LoadMigrations(fsys fs.FS) ([]Migration, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations: %w", err)
	}

	byVersion := make(map[int]*Migration)
	for _, entry := range entries {
		m := fileName.FindStringSubmatch(entry.Name())
		if entry.IsDir() || m == nil {
			if !entry.IsDir() {
				log.Debug().Str("file", entry.Name()).Msg("Ignoring non-migration file")
			}
			continue
		}

		version, _ := strconv.Atoi(m[1])
		script, err := fs.ReadFile(fsys, entry.Name())
		if err != nil {
			return nil, fmt.Errorf("failed to read migration file %s: %w", entry.Name(), err)
		}

		mig, ok := byVersion[version]
		if !ok {
			mig = &Migration{Version: version, Name: m[2]}
			byVersion[version] = mig
		}
		if m[3] == "up" {
			mig.Up = string(script)
		} else {
			mig.Down = string(script)
		}
	}

	out := make([]Migration, 0, len(byVersion))
	for _, mig := range byVersion {
		if mig.Up == "" {
			return nil, fmt.Errorf("migration %d (%s) has no up script", mig.Version, mig.Name)
		}
		out = append(out, *mig)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

// AppliedVersions lists recorded versions, newest first.
func AppliedVersions(db *sqlx.DB) ([]int, error) {
	if err := ensureVersionTable(db); err != nil {
		return nil, err
	}
	var versions []int
	if err := db.Select(&versions, "SELECT version FROM "+versionTable+" ORDER BY version DESC"); err != nil {
		return nil, fmt.Errorf("failed to query applied migrations: %w", err)
	}
	return versions, nil
}

// RunMigrations applies every migration not yet recorded, oldest first,
// each in its own transaction.
func RunMigrations(db *sqlx.DB, migrations []Migration) error {
	applied, err := AppliedVersions(db)
	if err != nil {
		return err
	}
	done := make(map[int]bool, len(applied))
	for _, v := range applied {
		done[v] = true
	}

	for _, mig := range migrations {
		if done[mig.Version] {
			continue
		}
		err := step(db, mig.Up, "INSERT INTO "+versionTable+" (version) VALUES (?)", mig.Version)
		if err != nil {
			return fmt.Errorf("migration %d (%s): %w", mig.Version, mig.Name, err)
		}
		log.Info().Int("version", mig.Version).Str("name", mig.Name).Msg("Applied migration")
	}
	return nil
}

// RollbackMigrations reverts the newest n applied migrations. Versions
// without a down script stay applied and are logged.
func RollbackMigrations(db *sqlx.DB, migrations []Migration, n int) error {
	applied, err := AppliedVersions(db)
	if err != nil {
		return err
	}
	if n < len(applied) {
		applied = applied[:n]
	}

	known := make(map[int]Migration, len(migrations))
	for _, mig := range migrations {
		known[mig.Version] = mig
	}

	for _, version := range applied {
		mig, ok := known[version]
		if !ok || mig.Down == "" {
			log.Warn().Int("version", version).Msg("No down script for applied migration, leaving it in place")
			continue
		}
		err := step(db, mig.Down, "DELETE FROM "+versionTable+" WHERE version = ?", version)
		if err != nil {
			return fmt.Errorf("rollback of migration %d (%s): %w", version, mig.Name, err)
		}
		log.Info().Int("version", version).Str("name", mig.Name).Msg("Rolled back migration")
	}
	return nil
}

func ensureVersionTable(db *sqlx.DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS ` + versionTable + ` (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", versionTable, err)
	}
	return nil
}

// step runs script and its bookkeeping statement atomically.
func step(db *sqlx.DB, script, record string, version int) error {
	tx, err := db.Beginx()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(script); err != nil {
		return err
	}
	if _, err := tx.Exec(record, version); err != nil {
		return fmt.Errorf("failed to update %s: %w", versionTable, err)
	}
	return tx.Commit()
}

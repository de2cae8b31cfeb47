// Package migrations holds the embedded catalog schema.
package migrations

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed files/*.sql
var files embed.FS

var (
	ErrNoSchema     = errors.New("catalog has no schema version")
	ErrDirty        = errors.New("catalog schema is dirty")
	ErrSchemaBehind = errors.New("catalog schema is behind this binary")
	ErrSchemaAhead  = errors.New("catalog schema is newer than this binary")
)

// State is the applied schema version of a catalog.
type State struct {
	Version uint
	Dirty   bool
	Latest  uint // highest version embedded in this binary
}

// Up applies every pending migration.
func Up(db *sql.DB) error {
	m, err := open(db)
	if err != nil {
		return err
	}
	// m is not closed: that would close db, which the caller owns.
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrating catalog: %w", err)
	}
	return nil
}

// Inspect reads the applied version. A catalog that was never migrated
// returns ErrNoSchema.
func Inspect(db *sql.DB) (State, error) {
	latest, err := Latest()
	if err != nil {
		return State{}, err
	}
	m, err := open(db)
	if err != nil {
		return State{}, err
	}
	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return State{Latest: latest}, ErrNoSchema
	}
	if err != nil {
		return State{}, fmt.Errorf("reading schema version: %w", err)
	}
	return State{Version: version, Dirty: dirty, Latest: latest}, nil
}

// Check returns nil when the catalog is at exactly the embedded version.
func Check(db *sql.DB) error {
	st, err := Inspect(db)
	if err != nil {
		return err
	}
	switch {
	case st.Dirty:
		return fmt.Errorf("%w at version %d", ErrDirty, st.Version)
	case st.Version < st.Latest:
		return fmt.Errorf("%w: at %d, want %d", ErrSchemaBehind, st.Version, st.Latest)
	case st.Version > st.Latest:
		return fmt.Errorf("%w: at %d, want %d", ErrSchemaAhead, st.Version, st.Latest)
	}
	return nil
}

// Latest returns the highest embedded migration version.
func Latest() (uint, error) {
	src, err := iofs.New(files, "files")
	if err != nil {
		return 0, fmt.Errorf("reading migrations: %w", err)
	}
	defer src.Close()

	v, err := src.First()
	if err != nil {
		return 0, fmt.Errorf("reading migrations: %w", err)
	}
	for {
		next, err := src.Next(v)
		if errors.Is(err, fs.ErrNotExist) {
			return v, nil
		}
		if err != nil {
			return 0, fmt.Errorf("reading migrations: %w", err)
		}
		v = next
	}
}

func open(db *sql.DB) (*migrate.Migrate, error) {
	src, err := iofs.New(files, "files")
	if err != nil {
		return nil, fmt.Errorf("reading migrations: %w", err)
	}
	drv, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		src.Close()
		return nil, fmt.Errorf("opening migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", drv)
	if err != nil {
		src.Close()
		return nil, fmt.Errorf("opening migrations: %w", err)
	}
	return m, nil
}

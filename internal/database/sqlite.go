package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"fbagent/internal/agent"
	"fbagent/internal/database/migrations"
	"fbagent/internal/model"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteRepository implements agent.Repository using SQLite. Timestamps are
// stored as Unix nanoseconds so that comparisons are exact.
type SQLiteRepository struct {
	db   *sql.DB
	path string
}

// NewSQLiteRepository opens the database at path and applies pending migrations.
// path can be a file path or ":memory:" for in-memory database.
func NewSQLiteRepository(path string) (*SQLiteRepository, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}
	if err := migrations.Up(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating database: %w", err)
	}
	return &SQLiteRepository{db: db, path: path}, nil
}

// NewSQLiteRepositoryFromDB wraps an existing database connection.
// The caller is responsible for ensuring the connection is properly configured.
func NewSQLiteRepositoryFromDB(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// OpenConnection opens and configures a SQLite database connection with appropriate PRAGMAs.
// The pool is limited to one connection: writers are serialized and every
// connection to ":memory:" would otherwise see its own empty database.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	if path != ":memory:" {
		pragmas = append(pragmas, "PRAGMA journal_mode = WAL", "PRAGMA synchronous = NORMAL")
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}

	return db, nil
}

func toNanos(t time.Time) int64 { return t.UnixNano() }

func fromNanos(n int64) time.Time { return time.Unix(0, n).UTC() }

func fromNullNanos(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromNanos(n.Int64)
	return &t
}

// withTx runs fn in a transaction and commits when it returns nil.
func (s *SQLiteRepository) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// Directory operations

func (s *SQLiteRepository) ListDirectories(ctx context.Context) ([]*model.Directory, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, path, on_removed, created_at FROM directories ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("listing directories: %w", err)
	}
	defer rows.Close()

	var out []*model.Directory
	for rows.Next() {
		var d model.Directory
		var onRemoved string
		var created int64
		if err := rows.Scan(&d.ID, &d.Name, &d.Path, &onRemoved, &created); err != nil {
			return nil, fmt.Errorf("scanning directory: %w", err)
		}
		d.OnRemoved = model.RemovedRule(onRemoved)
		d.CreatedAt = fromNanos(created)
		out = append(out, &d)
	}
	return out, rows.Err()
}

func (s *SQLiteRepository) CreateDirectory(ctx context.Context, dir *model.Directory) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO directories (id, name, path, on_removed, created_at) VALUES (?, ?, ?, ?, ?)`,
		dir.ID, dir.Name, dir.Path, string(removedOrDefault(dir.OnRemoved)), toNanos(dir.CreatedAt))
	if err != nil {
		return fmt.Errorf("inserting directory: %w", err)
	}
	return nil
}

func (s *SQLiteRepository) UpdateDirectory(ctx context.Context, dir *model.Directory) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE directories SET path = ?, on_removed = ? WHERE id = ?`,
		dir.Path, string(removedOrDefault(dir.OnRemoved)), dir.ID)
	if err != nil {
		return fmt.Errorf("updating directory: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("directory not found: %s", dir.ID)
	}
	return nil
}

func (s *SQLiteRepository) DeleteDirectory(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM directories WHERE id = ?`, id); err != nil {
		return fmt.Errorf("deleting directory: %w", err)
	}
	return nil
}

func removedOrDefault(r model.RemovedRule) model.RemovedRule {
	if r == "" {
		return model.RemovedFail
	}
	return r
}

// File operations

const fileColumns = `f.id, f.directory_id, f.path, f.last_version`

func scanFile(row interface{ Scan(...any) error }) (*model.File, error) {
	var f model.File
	if err := row.Scan(&f.ID, &f.DirectoryID, &f.Path, &f.LastVersion); err != nil {
		return nil, err
	}
	return &f, nil
}

func (s *SQLiteRepository) FindFile(ctx context.Context, directoryID, path string) (*model.File, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+fileColumns+` FROM files f WHERE f.directory_id = ? AND f.path = ?`, directoryID, path)
	f, err := scanFile(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("finding file: %w", err)
	}
	return f, nil
}

func (s *SQLiteRepository) queryFiles(ctx context.Context, query string, args ...any) ([]*model.File, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing files: %w", err)
	}
	defer rows.Close()

	var out []*model.File
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning file: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (s *SQLiteRepository) ListFiles(ctx context.Context, directoryID string) ([]*model.File, error) {
	return s.queryFiles(ctx,
		`SELECT `+fileColumns+` FROM files f WHERE f.directory_id = ? ORDER BY f.path`, directoryID)
}

func (s *SQLiteRepository) ListLiveFiles(ctx context.Context, directoryID string) ([]*model.File, error) {
	return s.queryFiles(ctx, `
		SELECT `+fileColumns+`
		FROM files f
		JOIN file_versions v ON v.file_id = f.id
		WHERE f.directory_id = ?
		  AND v.version = (SELECT MAX(version) FROM file_versions WHERE file_id = f.id)
		  AND v.deleted = 0
		ORDER BY f.path`, directoryID)
}

func (s *SQLiteRepository) DeleteFile(ctx context.Context, fileID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM files WHERE id = ?`, fileID); err != nil {
		return fmt.Errorf("deleting file: %w", err)
	}
	return nil
}

// Version operations

const versionColumns = `file_id, version, modified_at, deleted, state, claimed_at, finished_at`

func scanVersion(row interface{ Scan(...any) error }) (*model.FileVersion, error) {
	var v model.FileVersion
	var modified int64
	var state string
	var claimed, finished sql.NullInt64
	if err := row.Scan(&v.FileID, &v.Version, &modified, &v.Deleted, &state, &claimed, &finished); err != nil {
		return nil, err
	}
	v.ModifiedAt = fromNanos(modified)
	v.State = model.UploadState(state)
	v.ClaimedAt = fromNullNanos(claimed)
	v.FinishedAt = fromNullNanos(finished)
	return &v, nil
}

func insertVersion(ctx context.Context, tx *sql.Tx, v *model.FileVersion) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO file_versions (file_id, version, modified_at, deleted, state) VALUES (?, ?, ?, ?, ?)`,
		v.FileID, v.Version, toNanos(v.ModifiedAt), v.Deleted, string(v.State))
	if err != nil {
		return fmt.Errorf("inserting version: %w", err)
	}
	return nil
}

func (s *SQLiteRepository) CreateFile(ctx context.Context, file *model.File, modifiedAt time.Time) (*model.FileVersion, error) {
	v := &model.FileVersion{FileID: file.ID, Version: 0, ModifiedAt: modifiedAt, State: model.StatePending}
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO files (id, directory_id, path, last_version) VALUES (?, ?, ?, 0)`,
			file.ID, file.DirectoryID, file.Path)
		if err != nil {
			return fmt.Errorf("inserting file: %w", err)
		}
		return insertVersion(ctx, tx, v)
	})
	if err != nil {
		return nil, err
	}
	file.LastVersion = 0
	return v, nil
}

func (s *SQLiteRepository) AddVersion(ctx context.Context, fileID string, modifiedAt time.Time, deleted bool) (*model.FileVersion, error) {
	v := &model.FileVersion{FileID: fileID, ModifiedAt: modifiedAt, Deleted: deleted, State: model.StatePending}
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx,
			`UPDATE files SET last_version = last_version + 1 WHERE id = ? RETURNING last_version`, fileID).Scan(&v.Version)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("file not found: %s", fileID)
			}
			return fmt.Errorf("advancing version: %w", err)
		}
		return insertVersion(ctx, tx, v)
	})
	if err != nil {
		return nil, err
	}
	return v, nil
}

func (s *SQLiteRepository) LatestVersion(ctx context.Context, fileID string) (*model.FileVersion, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+versionColumns+` FROM file_versions WHERE file_id = ? ORDER BY version DESC LIMIT 1`, fileID)
	v, err := scanVersion(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("finding latest version: %w", err)
	}
	return v, nil
}

func (s *SQLiteRepository) ListVersions(ctx context.Context, fileID string) ([]*model.FileVersion, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+versionColumns+` FROM file_versions WHERE file_id = ? ORDER BY version`, fileID)
	if err != nil {
		return nil, fmt.Errorf("listing versions: %w", err)
	}
	defer rows.Close()

	var out []*model.FileVersion
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning version: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *SQLiteRepository) DeleteVersions(ctx context.Context, fileID string, versions []int64) error {
	if len(versions) == 0 {
		return nil
	}
	args := make([]any, 0, len(versions)+1)
	args = append(args, fileID)
	for _, v := range versions {
		args = append(args, v)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(versions)), ",")

	_, err := s.db.ExecContext(ctx,
		`DELETE FROM file_versions WHERE file_id = ? AND version IN (`+placeholders+`)`, args...)
	if err != nil {
		return fmt.Errorf("deleting versions: %w", err)
	}
	return nil
}

// Claiming

func (s *SQLiteRepository) ResetClaimed(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE file_versions SET state = ?, claimed_at = NULL WHERE state = ?`,
		string(model.StatePending), string(model.StateClaimed))
	if err != nil {
		return 0, fmt.Errorf("resetting claimed versions: %w", err)
	}
	return res.RowsAffected()
}

func (s *SQLiteRepository) ResetFailed(ctx context.Context, directoryID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE file_versions SET state = ?, claimed_at = NULL, finished_at = NULL
		WHERE state = ? AND file_id IN (SELECT id FROM files WHERE directory_id = ?)`,
		string(model.StatePending), string(model.StateFailed), directoryID)
	if err != nil {
		return 0, fmt.Errorf("resetting failed versions: %w", err)
	}
	return res.RowsAffected()
}

// SupersedePending settles PENDING versions that are no longer the latest
// version of their file. Their content is gone from disk, so they are marked
// FINISHED without a finish time instead of being delivered.
func (s *SQLiteRepository) SupersedePending(ctx context.Context, directoryID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE file_versions SET state = ?, claimed_at = NULL, finished_at = NULL
		WHERE state = ? AND file_id IN (SELECT id FROM files WHERE directory_id = ?)
		  AND version < (SELECT last_version FROM files WHERE files.id = file_versions.file_id)`,
		string(model.StateFinished), string(model.StatePending), directoryID)
	if err != nil {
		return 0, fmt.Errorf("superseding pending versions: %w", err)
	}
	return res.RowsAffected()
}

func (s *SQLiteRepository) ClaimNextPending(ctx context.Context, directoryID string, now time.Time) (*model.Claim, error) {
	var claim *model.Claim
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `
			SELECT `+fileColumns+`, v.version
			FROM file_versions v
			JOIN files f ON f.id = v.file_id
			WHERE f.directory_id = ? AND v.state = ? AND v.version = f.last_version
			ORDER BY v.modified_at, f.path, v.version
			LIMIT 1`, directoryID, string(model.StatePending))

		var f model.File
		var version int64
		if err := row.Scan(&f.ID, &f.DirectoryID, &f.Path, &f.LastVersion, &version); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil
			}
			return fmt.Errorf("selecting pending version: %w", err)
		}

		_, err := tx.ExecContext(ctx,
			`UPDATE file_versions SET state = ?, claimed_at = ? WHERE file_id = ? AND version = ? AND state = ?`,
			string(model.StateClaimed), toNanos(now), f.ID, version, string(model.StatePending))
		if err != nil {
			return fmt.Errorf("claiming version: %w", err)
		}

		v, err := scanVersion(tx.QueryRowContext(ctx,
			`SELECT `+versionColumns+` FROM file_versions WHERE file_id = ? AND version = ?`, f.ID, version))
		if err != nil {
			return fmt.Errorf("reading claimed version: %w", err)
		}
		claim = &model.Claim{File: f, Version: *v}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claim, nil
}

func (s *SQLiteRepository) FinishVersion(ctx context.Context, fileID string, version int64, state model.UploadState, now time.Time) error {
	if state != model.StateFinished && state != model.StateFailed {
		return fmt.Errorf("invalid final state %q", state)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE file_versions SET state = ?, finished_at = ? WHERE file_id = ? AND version = ? AND state = ?`,
		string(state), toNanos(now), fileID, version, string(model.StateClaimed))
	if err != nil {
		return fmt.Errorf("finishing version: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("version %s/%d is not claimed", fileID, version)
	}
	return nil
}

// Cycle operations

func (s *SQLiteRepository) CreateCycle(ctx context.Context, startedAt time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO cycles (started_at, status) VALUES (?, ?)`, toNanos(startedAt), model.CycleRunning)
	if err != nil {
		return 0, fmt.Errorf("creating cycle: %w", err)
	}
	return res.LastInsertId()
}

func (s *SQLiteRepository) FinishCycle(ctx context.Context, id int64, status, summary string, finishedAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE cycles SET status = ?, summary = ?, finished_at = ? WHERE id = ?`,
		status, summary, toNanos(finishedAt), id)
	if err != nil {
		return fmt.Errorf("finishing cycle: %w", err)
	}
	return nil
}

func scanCycle(row interface{ Scan(...any) error }) (*model.Cycle, error) {
	var c model.Cycle
	var started int64
	var finished sql.NullInt64
	if err := row.Scan(&c.ID, &started, &finished, &c.Status, &c.Summary); err != nil {
		return nil, err
	}
	c.StartedAt = fromNanos(started)
	c.FinishedAt = fromNullNanos(finished)
	return &c, nil
}

func (s *SQLiteRepository) ListCycles(ctx context.Context, limit int) ([]*model.Cycle, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, started_at, finished_at, status, summary FROM cycles ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing cycles: %w", err)
	}
	defer rows.Close()

	var out []*model.Cycle
	for rows.Next() {
		c, err := scanCycle(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning cycle: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *SQLiteRepository) LastSuccessfulCycle(ctx context.Context) (*model.Cycle, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, started_at, finished_at, status, summary FROM cycles
		WHERE status = ? ORDER BY id DESC LIMIT 1`, model.CycleSuccess)
	c, err := scanCycle(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("finding last successful cycle: %w", err)
	}
	return c, nil
}

// Path returns the database file path.
func (s *SQLiteRepository) Path() string {
	return s.path
}

// CheckMigrations verifies that the database schema is up-to-date.
func (s *SQLiteRepository) CheckMigrations() error {
	return migrations.Check(s.db)
}

// BackupTo writes a consistent copy of the database to destPath.
func (s *SQLiteRepository) BackupTo(destPath string) error {
	_, err := s.db.Exec("VACUUM INTO ?", destPath)
	if err != nil {
		return fmt.Errorf("backing up database: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteRepository) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Compile-time check that SQLiteRepository implements agent.Repository interface
var _ agent.Repository = (*SQLiteRepository)(nil)

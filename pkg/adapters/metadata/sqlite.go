package metadata

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"github.com/pressly/goose/v3"

	"github.com/YusukeImai797/Gitnote/pkg/core"
)

//go:embed migrations/*.sql
var migrations embed.FS

// goose keeps its configuration in package globals.
var migrateMu sync.Mutex

// RunMigrations applies the embedded schema migrations to db.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	migrateMu.Lock()
	defer migrateMu.Unlock()

	goose.SetBaseFS(migrations)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// SQLiteStore is a core.MetadataStore persisted in a SQLite database.
type SQLiteStore struct {
	db   *sql.DB
	path string
	opts Options
}

var _ core.MetadataStore = (*SQLiteStore)(nil)

// OpenSQLite opens (creating if needed) the database at path and migrates it.
func OpenSQLite(ctx context.Context, path string, opts Options) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// Format for embedded mode: file:path, pragmas apply to every connection.
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(wal)&_txlock=immediate", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	// One writer at a time keeps the read-check-write of Save serialized.
	db.SetMaxOpenConns(1)

	if err := RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &SQLiteStore{db: db, path: path, opts: opts.withDefaults()}, nil
}

// Close releases the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Path returns the database file location.
func (s *SQLiteStore) Path() string {
	return s.path
}

const selectRecord = `SELECT id, title, body, tags, folder_id, path, revision, word_count, created_at, updated_at FROM notes`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (core.MetadataRecord, error) {
	var (
		rec       core.MetadataRecord
		tags      string
		createdAt int64
		updatedAt int64
	)
	if err := row.Scan(&rec.ID, &rec.Title, &rec.Body, &tags, &rec.FolderID, &rec.Path, &rec.Revision, &rec.WordCount, &createdAt, &updatedAt); err != nil {
		return core.MetadataRecord{}, err
	}
	if err := json.Unmarshal([]byte(tags), &rec.Tags); err != nil {
		return core.MetadataRecord{}, fmt.Errorf("invalid tags for note %s: %w", rec.ID, err)
	}
	rec.CreatedAt = time.UnixMilli(createdAt)
	rec.UpdatedAt = time.UnixMilli(updatedAt)
	return rec, nil
}

func classify(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return core.E(core.KindNetwork, op, err)
	}
	return core.E(core.KindInternal, op, err)
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (core.MetadataRecord, error) {
	rec, err := scanRecord(s.db.QueryRowContext(ctx, selectRecord+` WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return core.MetadataRecord{}, core.Errorf(core.KindNotFound, "metadata.get", "note %s not found", id)
	}
	if err != nil {
		return core.MetadataRecord{}, classify("metadata.get", err)
	}
	return rec, nil
}

func (s *SQLiteStore) Save(ctx context.Context, rec core.MetadataRecord, expected time.Time) (core.MetadataRecord, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return core.MetadataRecord{}, classify("metadata.save", err)
	}
	defer tx.Rollback()

	var stored *core.MetadataRecord
	cur, err := scanRecord(tx.QueryRowContext(ctx, selectRecord+` WHERE id = ?`, rec.ID))
	switch {
	case err == nil:
		stored = &cur
	case errors.Is(err, sql.ErrNoRows):
	default:
		return core.MetadataRecord{}, classify("metadata.save", err)
	}

	next, err := resolveSave(stored, rec, expected, s.opts)
	if err != nil {
		return core.MetadataRecord{}, err
	}

	tags, err := json.Marshal(next.Tags)
	if err != nil {
		return core.MetadataRecord{}, core.E(core.KindValidation, "metadata.save", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO notes (id, title, body, tags, folder_id, path, revision, word_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			body = excluded.body,
			tags = excluded.tags,
			folder_id = excluded.folder_id,
			path = excluded.path,
			revision = excluded.revision,
			word_count = excluded.word_count,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at`,
		next.ID, next.Title, next.Body, string(tags), next.FolderID, next.Path, next.Revision,
		next.WordCount, next.CreatedAt.UnixMilli(), next.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		return core.MetadataRecord{}, classify("metadata.save", err)
	}
	if err := tx.Commit(); err != nil {
		return core.MetadataRecord{}, classify("metadata.save", err)
	}
	return next, nil
}

func (s *SQLiteStore) SetLocation(ctx context.Context, id, path, revision string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE notes SET path = ?, revision = ? WHERE id = ?`, path, revision, id)
	if err != nil {
		return classify("metadata.set_location", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return core.Errorf(core.KindNotFound, "metadata.set_location", "note %s not found", id)
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM notes WHERE id = ?`, id); err != nil {
		return classify("metadata.delete", err)
	}
	return nil
}

func (s *SQLiteStore) List(ctx context.Context) ([]core.MetadataRecord, error) {
	rows, err := s.db.QueryContext(ctx, selectRecord+` ORDER BY updated_at DESC, id`)
	if err != nil {
		return nil, classify("metadata.list", err)
	}
	defer rows.Close()

	var out []core.MetadataRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, classify("metadata.list", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("metadata.list", err)
	}
	return out, nil
}

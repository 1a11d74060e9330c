// Package sqlite stores ledger documents in a single SQLite table using the
// pure Go modernc driver. Schema changes are applied with golang-migrate
// from embedded SQL files.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"

	"budgetplanner/internal/storage"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store is a storage.Store backed by SQLite.
type Store struct {
	db *sql.DB
}

var _ storage.Store = (*Store)(nil)

func dsn(dbPath string) string {
	return dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_txlock=immediate"
}

// Open creates the database directory if needed, opens the database and
// brings the schema up to date.
func Open(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dsn(dbPath))
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// One writer at a time; commits serialize here instead of on SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	slog.Info("SQLite document store ready", "path", dbPath)
	return &Store{db: db}, nil
}

// RunMigrations applies every pending migration on a separate connection.
func RunMigrations(dbPath string) error {
	migrateDB, err := sql.Open("sqlite", dsn(dbPath))
	if err != nil {
		return fmt.Errorf("open migration database: %w", err)
	}
	defer migrateDB.Close()

	driver, err := migratesqlite.WithInstance(migrateDB, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("create sqlite driver: %w", err)
	}

	d, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create iofs source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", d, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *Store) GetAll(ctx context.Context, paths []string) ([]storage.Snapshot, error) {
	for _, p := range paths {
		if err := storage.ValidatePath(p); err != nil {
			return nil, err
		}
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin read: %w", err)
	}
	defer tx.Rollback()

	out := make([]storage.Snapshot, len(paths))
	for i, p := range paths {
		snap, err := readDoc(ctx, tx, p)
		if err != nil {
			return nil, err
		}
		out[i] = snap
	}
	return out, tx.Commit()
}

func (s *Store) List(ctx context.Context, collection string) ([]storage.Snapshot, error) {
	if err := storage.ValidatePath(collection); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT path, data, version FROM documents WHERE parent = ? ORDER BY path`, collection)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", collection, err)
	}
	defer rows.Close()

	var out []storage.Snapshot
	for rows.Next() {
		var snap storage.Snapshot
		if err := rows.Scan(&snap.Path, &snap.Data, &snap.Version); err != nil {
			return nil, fmt.Errorf("scan %s: %w", collection, err)
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}

func (s *Store) Commit(ctx context.Context, conds []storage.Precondition, writes []storage.Write) error {
	payloads := make([][]byte, len(writes))
	for i, w := range writes {
		data, err := w.Encode()
		if err != nil {
			return err
		}
		payloads[i] = data
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin commit: %w", err)
	}
	defer tx.Rollback()

	for _, c := range conds {
		snap, err := readDoc(ctx, tx, c.Path)
		if err != nil {
			return err
		}
		if snap.Version != c.Version {
			return storage.ErrConflict
		}
	}

	var version int64
	if err := tx.QueryRowContext(ctx,
		`UPDATE sequence SET value = value + 1 WHERE id = 1 RETURNING value`).Scan(&version); err != nil {
		return fmt.Errorf("next version: %w", err)
	}

	for i, w := range writes {
		switch w.Kind {
		case storage.WriteCreate:
			snap, err := readDoc(ctx, tx, w.Path)
			if err != nil {
				return err
			}
			if snap.Exists() {
				return storage.ErrConflict
			}
			fallthrough
		case storage.WriteSet:
			_, err = tx.ExecContext(ctx,
				`INSERT INTO documents (path, parent, data, version) VALUES (?, ?, ?, ?)
				 ON CONFLICT(path) DO UPDATE SET data = excluded.data, version = excluded.version`,
				w.Path, storage.Parent(w.Path), payloads[i], version)
		case storage.WriteDelete:
			_, err = tx.ExecContext(ctx, `DELETE FROM documents WHERE path = ?`, w.Path)
		default:
			err = fmt.Errorf("unknown write kind %s", w.Kind)
		}
		if err != nil {
			return fmt.Errorf("%s %s: %w", w.Kind, w.Path, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func readDoc(ctx context.Context, tx *sql.Tx, path string) (storage.Snapshot, error) {
	snap := storage.Snapshot{Path: path}
	err := tx.QueryRowContext(ctx,
		`SELECT data, version FROM documents WHERE path = ?`, path).Scan(&snap.Data, &snap.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.Snapshot{Path: path}, nil
	}
	if err != nil {
		return storage.Snapshot{}, fmt.Errorf("read %s: %w", path, err)
	}
	return snap, nil
}

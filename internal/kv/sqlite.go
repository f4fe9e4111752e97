package kv

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"sync"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"

	"github.com/sweeney/trip-computer/internal/monitoring"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLite is a Storage backed by a single SQLite file.
type SQLite struct {
	db *sql.DB

	mu     sync.Mutex
	staged map[string]value
}

// OpenSQLite opens (creating if needed) the database at path and migrates it
// to the latest schema.
func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	// One connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=FULL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	if err := migrateUp(db); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLite{db: db, staged: make(map[string]value)}, nil
}

func migrateUp(db *sql.DB) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to load migrations: %w", err)
	}
	driver, err := sqlite.WithInstance(db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create sqlite driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	m.Log = migrateLogger{}

	// m is not closed: that would close db.
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

type migrateLogger struct{}

func (migrateLogger) Printf(format string, v ...interface{}) {
	monitoring.Logf("kv: [migrate] "+format, v...)
}

func (migrateLogger) Verbose() bool { return false }

func (s *SQLite) get(key string) (value, error) {
	var (
		v value
		f sql.NullFloat64
		i sql.NullInt64
	)
	err := s.db.QueryRow(`SELECT kind, value_float, value_int FROM settings WHERE key = ?`, key).Scan(&v.kind, &f, &i)
	if errors.Is(err, sql.ErrNoRows) {
		return v, ErrNotFound
	}
	if err != nil {
		return v, fmt.Errorf("get %s: %w", key, err)
	}
	v.f, v.i = f.Float64, i.Int64
	return v, nil
}

// GetFloat returns the committed float value of key.
func (s *SQLite) GetFloat(key string) (float64, error) {
	v, err := s.get(key)
	if err != nil {
		return 0, err
	}
	if v.kind != kindFloat {
		return 0, fmt.Errorf("get %s: %w", key, ErrKind)
	}
	return v.f, nil
}

// GetInt returns the committed integer value of key.
func (s *SQLite) GetInt(key string) (int64, error) {
	v, err := s.get(key)
	if err != nil {
		return 0, err
	}
	if v.kind != kindInt {
		return 0, fmt.Errorf("get %s: %w", key, ErrKind)
	}
	return v.i, nil
}

// SetFloat stages a float value for the next Commit.
func (s *SQLite) SetFloat(key string, f float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.staged[key] = value{kind: kindFloat, f: f}
	return nil
}

// SetInt stages an integer value for the next Commit.
func (s *SQLite) SetInt(key string, i int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.staged[key] = value{kind: kindInt, i: i}
	return nil
}

// Commit writes every staged value in one transaction. Staged values are
// kept when the transaction fails.
func (s *SQLite) Commit() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.staged) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	stmt, err := tx.Prepare(`INSERT INTO settings (key, kind, value_float, value_int, updated_at)
		VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET
			kind = excluded.kind,
			value_float = excluded.value_float,
			value_int = excluded.value_int,
			updated_at = excluded.updated_at`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for key, v := range s.staged {
		var f, i interface{}
		if v.kind == kindFloat {
			f = v.f
		} else {
			i = v.i
		}
		if _, err := stmt.Exec(key, v.kind, f, i); err != nil {
			tx.Rollback()
			return fmt.Errorf("write %s: %w", key, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	s.staged = make(map[string]value)
	return nil
}

// Erase deletes every stored key and drops staged values.
func (s *SQLite) Erase() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.Exec(`DELETE FROM settings`); err != nil {
		return fmt.Errorf("erase: %w", err)
	}
	s.staged = make(map[string]value)
	return nil
}

// Close closes the database. Staged values are discarded.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// Package migrate applies the embedded goose migrations of the Postgres audit store.
package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sync"

	"github.com/pressly/goose/v3"
	"github.com/sirupsen/logrus"

	"certledger.org/internal/obs"
	"certledger.org/internal/store/pg/migrations"
)

const dialect = "pgx"

// seams for tests
var (
	gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
		return goose.UpContext(ctx, db, dir, opts...)
	}
	gooseDownContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
		return goose.DownContext(ctx, db, dir, opts...)
	}
	gooseVersion = func(ctx context.Context, db *sql.DB) (int64, error) {
		return goose.GetDBVersionContext(ctx, db)
	}
)

// goose keeps its base FS and dialect in package globals.
var gooseMu sync.Mutex

// Migration is one embedded migration and whether it has been applied.
type Migration struct {
	Version int64  `json:"version"`
	Name    string `json:"name"`
	Applied bool   `json:"applied"`
}

// Manager executes the embedded SQL migrations.
type Manager struct {
	db   *sql.DB
	fsys fs.FS
	log  logrus.FieldLogger
}

// Option configures Manager.
type Option func(*Manager)

// WithFS overrides the embedded migration set.
func WithFS(fsys fs.FS) Option {
	return func(m *Manager) {
		if fsys != nil {
			m.fsys = fsys
		}
	}
}

// WithLogger overrides the shared logger.
func WithLogger(log logrus.FieldLogger) Option {
	return func(m *Manager) {
		if log != nil {
			m.log = log
		}
	}
}

// NewManager constructs a Manager.
func NewManager(db *sql.DB, opts ...Option) *Manager {
	m := &Manager{db: db, fsys: migrations.FS, log: obs.Logger()}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) prepare() error {
	goose.SetBaseFS(m.fsys)
	goose.SetLogger(goose.NopLogger())
	return goose.SetDialect(dialect)
}

// Up applies all pending migrations.
func (m *Manager) Up(ctx context.Context) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()
	if err := m.prepare(); err != nil {
		return err
	}
	if err := gooseUpContext(ctx, m.db, "."); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	m.log.Info("migrations applied")
	return nil
}

// Down rolls back the most recent applied migration.
func (m *Manager) Down(ctx context.Context) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()
	if err := m.prepare(); err != nil {
		return err
	}
	current, err := gooseVersion(ctx, m.db)
	if err != nil {
		return err
	}
	if current == 0 {
		return errors.New("no migrations applied")
	}
	if err := gooseDownContext(ctx, m.db, "."); err != nil {
		return fmt.Errorf("rollback migration %d: %w", current, err)
	}
	m.log.WithField("version", current).Info("migration rolled back")
	return nil
}

// Status lists embedded migrations in order, marking those at or below the database version.
func (m *Manager) Status(ctx context.Context) ([]Migration, error) {
	gooseMu.Lock()
	defer gooseMu.Unlock()
	if err := m.prepare(); err != nil {
		return nil, err
	}
	current, err := gooseVersion(ctx, m.db)
	if err != nil {
		return nil, err
	}
	names, err := fs.Glob(m.fsys, "*.sql")
	if err != nil {
		return nil, err
	}
	var out []Migration
	for _, name := range names {
		version, err := goose.NumericComponent(name)
		if err != nil {
			return nil, fmt.Errorf("migration %s: %w", name, err)
		}
		out = append(out, Migration{Version: version, Name: path.Base(name), Applied: version <= current})
	}
	return out, nil
}

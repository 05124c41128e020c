package migrate

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"testing"
	"testing/fstest"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/pressly/goose/v3"
	"github.com/sirupsen/logrus"
)

func newManager(t *testing.T, opts ...Option) *Manager {
	t.Helper()
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	log := logrus.New()
	log.SetOutput(io.Discard)
	return NewManager(db, append([]Option{WithLogger(log)}, opts...)...)
}

func stubGoose(t *testing.T, version int64, upErr, downErr error) (ups, downs *int) {
	t.Helper()
	origUp, origDown, origVersion := gooseUpContext, gooseDownContext, gooseVersion
	t.Cleanup(func() {
		gooseUpContext, gooseDownContext, gooseVersion = origUp, origDown, origVersion
	})
	ups, downs = new(int), new(int)
	gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
		if dir != "." {
			return errors.New("unexpected dir")
		}
		*ups++
		return upErr
	}
	gooseDownContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
		*downs++
		return downErr
	}
	gooseVersion = func(ctx context.Context, db *sql.DB) (int64, error) {
		return version, nil
	}
	return ups, downs
}

func TestUp(t *testing.T) {
	ups, _ := stubGoose(t, 0, nil, nil)
	if err := newManager(t).Up(context.Background()); err != nil {
		t.Fatalf("Up: %v", err)
	}
	if *ups != 1 {
		t.Fatalf("expected one goose up, got %d", *ups)
	}
}

func TestUpError(t *testing.T) {
	stubGoose(t, 0, errors.New("boom"), nil)
	if err := newManager(t).Up(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

func TestDownRequiresAppliedMigration(t *testing.T) {
	_, downs := stubGoose(t, 0, nil, nil)
	if err := newManager(t).Down(context.Background()); err == nil {
		t.Fatal("expected error with nothing applied")
	}
	if *downs != 0 {
		t.Fatalf("goose down must not run, ran %d", *downs)
	}
}

func TestDown(t *testing.T) {
	_, downs := stubGoose(t, 2, nil, nil)
	if err := newManager(t).Down(context.Background()); err != nil {
		t.Fatalf("Down: %v", err)
	}
	if *downs != 1 {
		t.Fatalf("expected one goose down, got %d", *downs)
	}
}

func TestStatusMarksApplied(t *testing.T) {
	stubGoose(t, 1, nil, nil)
	fsys := fstest.MapFS{
		"00001_init.sql":  {Data: []byte("-- +goose Up\nselect 1;\n")},
		"00002_extra.sql": {Data: []byte("-- +goose Up\nselect 2;\n")},
		"README.md":       {Data: []byte("ignored")},
	}
	got, err := newManager(t, WithFS(fsys)).Status(context.Background())
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 migrations, got %+v", got)
	}
	if !got[0].Applied || got[0].Version != 1 || got[0].Name != "00001_init.sql" {
		t.Fatalf("unexpected first: %+v", got[0])
	}
	if got[1].Applied || got[1].Version != 2 {
		t.Fatalf("unexpected second: %+v", got[1])
	}
}

func TestEmbeddedMigrationsPresent(t *testing.T) {
	stubGoose(t, 0, nil, nil)
	got, err := newManager(t).Status(context.Background())
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if len(got) == 0 || got[0].Name != "00001_certificate_transactions.sql" {
		t.Fatalf("unexpected embedded migrations: %+v", got)
	}
}

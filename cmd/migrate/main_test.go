package main

import (
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/golang-migrate/migrate/v4"
	migratedb "github.com/golang-migrate/migrate/v4/database"
)

type fakeMigrator struct {
	upCalls    int
	downCalls  int
	stepsCalls []int
	forceCalls []int
	version    uint
	dirty      bool
	versionErr error
}

func (f *fakeMigrator) Up() error                    { f.upCalls++; return nil }
func (f *fakeMigrator) Down() error                  { f.downCalls++; return nil }
func (f *fakeMigrator) Steps(n int) error            { f.stepsCalls = append(f.stepsCalls, n); return nil }
func (f *fakeMigrator) Force(v int) error            { f.forceCalls = append(f.forceCalls, v); return nil }
func (f *fakeMigrator) Version() (uint, bool, error) { return f.version, f.dirty, f.versionErr }

// useFakeMigrator swaps the factories for the duration of the test and
// records the source URL the command asked for.
func useFakeMigrator(t *testing.T, fm *fakeMigrator) *string {
	t.Helper()
	prevWith, prevNew := withPostgresInstance, newMigrateWithDB
	t.Cleanup(func() { withPostgresInstance, newMigrateWithDB = prevWith, prevNew })

	var source string
	withPostgresInstance = func(*sql.DB) (migratedb.Driver, error) { return nil, nil }
	newMigrateWithDB = func(src, _ string, _ migratedb.Driver) (migrator, error) {
		source = src
		return fm, nil
	}
	return &source
}

func testDeps(t *testing.T, env map[string]string) deps {
	t.Helper()
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return deps{
		loadEnv: func(...string) error { return nil },
		getenv:  func(k string) string { return env[k] },
		openDB:  func(string, string) (*sql.DB, error) { return db, nil },
		apply:   applyCommand,
	}
}

var withURL = map[string]string{"DATABASE_URL": "postgres://example"}

func TestParseArgs(t *testing.T) {
	c, err := parseArgs(nil, nil)
	if err != nil {
		t.Fatalf("parseArgs: %v", err)
	}
	if c.name != "up" || c.steps != 0 || c.source != defaultSource || c.forceDirty {
		t.Fatalf("unexpected defaults %+v", c)
	}

	c, err = parseArgs([]string{"force", "12"}, nil)
	if err != nil || c.name != "force" || c.version != 12 {
		t.Fatalf("expected force 12, got %+v %v", c, err)
	}

	c, err = parseArgs([]string{"down"}, func(k string) string {
		if k == "MIGRATIONS_SOURCE" {
			return "file:///srv/migrations"
		}
		return ""
	})
	if err != nil || c.source != "file:///srv/migrations" {
		t.Fatalf("expected env source, got %+v %v", c, err)
	}

	bad := [][]string{
		{"sideways"},
		{"force"},
		{"force", "x"},
		{"up", "extra"},
		{"-steps", "-1", "up"},
	}
	for _, args := range bad {
		if _, err := parseArgs(args, nil); err == nil {
			t.Fatalf("expected error for %v", args)
		}
	}
}

func TestRun_MissingDatabaseURL(t *testing.T) {
	d := testDeps(t, nil)
	d.openDB = func(string, string) (*sql.DB, error) {
		t.Fatalf("openDB should not be called")
		return nil, nil
	}
	if _, err := run(nil, d); err == nil {
		t.Fatalf("expected error")
	}
}

func TestRun_UpAll(t *testing.T) {
	fm := &fakeMigrator{}
	source := useFakeMigrator(t, fm)

	msg, err := run([]string{"-source", "file:///tmp/m", "up"}, testDeps(t, withURL))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if fm.upCalls != 1 || msg != "migrate up completed" {
		t.Fatalf("unexpected result up=%d msg=%q", fm.upCalls, msg)
	}
	if *source != "file:///tmp/m" {
		t.Fatalf("expected custom source, got %q", *source)
	}
}

func TestRun_NoChange(t *testing.T) {
	useFakeMigrator(t, &fakeMigrator{})
	d := testDeps(t, withURL)
	d.apply = func(migrator, command) error { return migrate.ErrNoChange }

	msg, err := run([]string{"up"}, d)
	if err != nil || msg != "no migrations to apply" {
		t.Fatalf("expected no-change, got %q %v", msg, err)
	}
}

func TestRun_StepsDown(t *testing.T) {
	fm := &fakeMigrator{}
	useFakeMigrator(t, fm)

	msg, err := run([]string{"-steps", "2", "down"}, testDeps(t, withURL))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(fm.stepsCalls) != 1 || fm.stepsCalls[0] != -2 || msg != "migrate down completed" {
		t.Fatalf("expected Steps(-2), got %#v %q", fm.stepsCalls, msg)
	}
}

func TestRun_ApplyError(t *testing.T) {
	useFakeMigrator(t, &fakeMigrator{})
	d := testDeps(t, withURL)
	d.apply = func(migrator, command) error { return sql.ErrTxDone }
	if _, err := run(nil, d); !errors.Is(err, sql.ErrTxDone) {
		t.Fatalf("expected wrapped apply error, got %v", err)
	}
}

func TestRun_OpenDBError(t *testing.T) {
	d := testDeps(t, withURL)
	d.openDB = func(string, string) (*sql.DB, error) { return nil, sql.ErrConnDone }
	if _, err := run(nil, d); err == nil {
		t.Fatalf("expected error")
	}
}

func TestRun_Version(t *testing.T) {
	fm := &fakeMigrator{version: 3, dirty: true}
	useFakeMigrator(t, fm)
	msg, err := run([]string{"version"}, testDeps(t, withURL))
	if err != nil || msg != "version 3 (dirty)" {
		t.Fatalf("unexpected version output %q %v", msg, err)
	}

	fm.versionErr = migrate.ErrNilVersion
	msg, err = run([]string{"version"}, testDeps(t, withURL))
	if err != nil || msg != "no migrations applied" {
		t.Fatalf("unexpected empty output %q %v", msg, err)
	}
	if fm.upCalls != 0 || len(fm.forceCalls) != 0 {
		t.Fatalf("version must not change the schema")
	}
}

func TestRun_Force(t *testing.T) {
	fm := &fakeMigrator{}
	useFakeMigrator(t, fm)
	msg, err := run([]string{"force", "1"}, testDeps(t, withURL))
	if err != nil || msg != "forced version 1" {
		t.Fatalf("unexpected force output %q %v", msg, err)
	}
	if len(fm.forceCalls) != 1 || fm.forceCalls[0] != 1 {
		t.Fatalf("expected Force(1), got %#v", fm.forceCalls)
	}
}

func TestRun_ForceDirty(t *testing.T) {
	clean := &fakeMigrator{version: 1}
	useFakeMigrator(t, clean)
	msg, err := run([]string{"-force-dirty", "version"}, testDeps(t, withURL))
	if err != nil || msg != "schema at version 1 is clean" || len(clean.forceCalls) != 0 {
		t.Fatalf("clean schema must not be forced: %q %v %#v", msg, err, clean.forceCalls)
	}

	dirty := &fakeMigrator{version: 1, dirty: true}
	useFakeMigrator(t, dirty)
	msg, err = run([]string{"-force-dirty", "version"}, testDeps(t, withURL))
	if err != nil || msg != "marked dirty version 1 clean" || len(dirty.forceCalls) != 1 {
		t.Fatalf("dirty schema should be forced: %q %v %#v", msg, err, dirty.forceCalls)
	}
}

func TestApplyCommand(t *testing.T) {
	fm := &fakeMigrator{}
	if err := applyCommand(fm, command{name: "down"}); err != nil || fm.downCalls != 1 {
		t.Fatalf("expected Down, got %v %d", err, fm.downCalls)
	}
	if err := applyCommand(fm, command{name: "up", steps: 2}); err != nil || fm.stepsCalls[0] != 2 {
		t.Fatalf("expected Steps(2), got %v %#v", err, fm.stepsCalls)
	}
	if err := applyCommand(fm, command{name: "version"}); err == nil {
		t.Fatalf("expected error for non-apply command")
	}
}

func TestNewMigrator_FactoryErrors(t *testing.T) {
	prevWith, prevNew := withPostgresInstance, newMigrateWithDB
	defer func() { withPostgresInstance, newMigrateWithDB = prevWith, prevNew }()

	withPostgresInstance = func(*sql.DB) (migratedb.Driver, error) { return nil, sql.ErrConnDone }
	if _, err := newMigrator(nil, defaultSource); err == nil {
		t.Fatalf("expected driver error")
	}

	withPostgresInstance = func(*sql.DB) (migratedb.Driver, error) { return nil, nil }
	newMigrateWithDB = func(string, string, migratedb.Driver) (migrator, error) { return nil, sql.ErrConnDone }
	if _, err := newMigrator(nil, defaultSource); err == nil {
		t.Fatalf("expected migrate error")
	}
}

func TestDefaultDeps_NonNil(t *testing.T) {
	d := defaultDeps()
	if d.loadEnv == nil || d.getenv == nil || d.openDB == nil || d.apply == nil {
		t.Fatalf("expected default deps to be populated: %#v", d)
	}
}

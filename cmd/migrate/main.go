// Command migrate applies or rolls back the documents schema.
//
//	migrate [-steps N] [-source URL] up|down
//	migrate version
//	migrate force VERSION
//	migrate -force-dirty version
package main

import (
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	migratedb "github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
)

const defaultSource = "file://db/migrations"

func main() {
	msg, err := run(os.Args[1:], defaultDeps())
	if err != nil {
		log.Fatalf("[Migrate] %v", err)
	}
	fmt.Println(msg)
}

type deps struct {
	loadEnv func(...string) error
	getenv  func(string) string
	openDB  func(driverName, dataSourceName string) (*sql.DB, error)
	apply   func(m migrator, cmd command) error
}

func defaultDeps() deps {
	return deps{
		loadEnv: godotenv.Load,
		getenv:  os.Getenv,
		openDB:  sql.Open,
		apply:   applyCommand,
	}
}

type migrator interface {
	Up() error
	Down() error
	Steps(n int) error
	Force(version int) error
	Version() (version uint, dirty bool, err error)
}

// Swapped in tests so no Postgres is needed.
var withPostgresInstance = func(db *sql.DB) (migratedb.Driver, error) {
	return postgres.WithInstance(db, &postgres.Config{})
}

var newMigrateWithDB = func(sourceURL, databaseName string, driver migratedb.Driver) (migrator, error) {
	return migrate.NewWithDatabaseInstance(sourceURL, databaseName, driver)
}

func newMigrator(db *sql.DB, source string) (migrator, error) {
	driver, err := withPostgresInstance(db)
	if err != nil {
		return nil, fmt.Errorf("migration driver: %w", err)
	}
	m, err := newMigrateWithDB(source, "postgres", driver)
	if err != nil {
		return nil, fmt.Errorf("open migrations %s: %w", source, err)
	}
	return m, nil
}

type command struct {
	name       string // up, down, version, force
	steps      int
	version    int
	source     string
	forceDirty bool
}

func parseArgs(args []string, getenv func(string) string) (command, error) {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	var c command
	fs.IntVar(&c.steps, "steps", 0, "number of migrations to apply or roll back (0 = all)")
	fs.StringVar(&c.source, "source", "", "migration source URL (default $MIGRATIONS_SOURCE or "+defaultSource+")")
	fs.BoolVar(&c.forceDirty, "force-dirty", false, "if the schema is dirty, mark the current version clean and exit")
	if err := fs.Parse(args); err != nil {
		return command{}, err
	}
	if c.steps < 0 {
		return command{}, fmt.Errorf("-steps must be >= 0, got %d", c.steps)
	}
	if c.source == "" && getenv != nil {
		c.source = strings.TrimSpace(getenv("MIGRATIONS_SOURCE"))
	}
	if c.source == "" {
		c.source = defaultSource
	}

	rest := fs.Args()
	c.name = "up"
	if len(rest) > 0 {
		c.name = rest[0]
	}
	switch c.name {
	case "up", "down", "version":
		if len(rest) > 1 {
			return command{}, fmt.Errorf("%s takes no arguments", c.name)
		}
	case "force":
		if len(rest) != 2 {
			return command{}, errors.New("force needs exactly one VERSION argument")
		}
		v, err := strconv.Atoi(rest[1])
		if err != nil || v < -1 {
			return command{}, fmt.Errorf("invalid version %q", rest[1])
		}
		c.version = v
	default:
		return command{}, fmt.Errorf("unknown command %q (want up, down, version or force)", c.name)
	}
	return c, nil
}

func run(args []string, d deps) (string, error) {
	if d.loadEnv != nil {
		_ = d.loadEnv()
	}
	c, err := parseArgs(args, d.getenv)
	if err != nil {
		return "", err
	}

	databaseURL := ""
	if d.getenv != nil {
		databaseURL = strings.TrimSpace(d.getenv("DATABASE_URL"))
	}
	if databaseURL == "" {
		return "", errors.New("DATABASE_URL is required")
	}
	if d.openDB == nil {
		return "", errors.New("openDB dependency is required")
	}
	if d.apply == nil {
		return "", errors.New("apply dependency is required")
	}
	db, err := d.openDB("postgres", databaseURL)
	if err != nil {
		return "", fmt.Errorf("connect: %w", err)
	}
	defer db.Close()

	m, err := newMigrator(db, c.source)
	if err != nil {
		return "", err
	}

	if c.forceDirty {
		v, dirty, err := m.Version()
		if err != nil {
			return "", fmt.Errorf("read version: %w", err)
		}
		if !dirty {
			return fmt.Sprintf("schema at version %d is clean", v), nil
		}
		if err := m.Force(int(v)); err != nil {
			return "", fmt.Errorf("force version %d: %w", v, err)
		}
		return fmt.Sprintf("marked dirty version %d clean", v), nil
	}

	switch c.name {
	case "version":
		v, dirty, err := m.Version()
		if errors.Is(err, migrate.ErrNilVersion) {
			return "no migrations applied", nil
		}
		if err != nil {
			return "", fmt.Errorf("read version: %w", err)
		}
		if dirty {
			return fmt.Sprintf("version %d (dirty)", v), nil
		}
		return fmt.Sprintf("version %d", v), nil
	case "force":
		if err := m.Force(c.version); err != nil {
			return "", fmt.Errorf("force version %d: %w", c.version, err)
		}
		return fmt.Sprintf("forced version %d", c.version), nil
	}

	err = d.apply(m, c)
	if errors.Is(err, migrate.ErrNoChange) {
		return "no migrations to apply", nil
	}
	if err != nil {
		return "", fmt.Errorf("migrate %s: %w", c.name, err)
	}
	return fmt.Sprintf("migrate %s completed", c.name), nil
}

func applyCommand(m migrator, c command) error {
	switch c.name {
	case "up":
		if c.steps > 0 {
			return m.Steps(c.steps)
		}
		return m.Up()
	case "down":
		if c.steps > 0 {
			return m.Steps(-c.steps)
		}
		return m.Down()
	default:
		return fmt.Errorf("cannot apply %q", c.name)
	}
}

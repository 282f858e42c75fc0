package migration

import (
	"database/sql"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/file"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/zap"
)

// migrationsTable keeps the schema version apart from other services
// sharing the database
const migrationsTable = "marketsync_schema_migrations"

// ErrDirtySchema is returned by Up while a failed migration is unresolved
var ErrDirtySchema = errors.New("schema is dirty; fix the failed migration and run force <version>")

// Migrator applies the catalog schema with golang-migrate
type Migrator struct {
	m   *migrate.Migrate
	log *zap.Logger
}

// New reads *.sql migrations from a directory
func New(db *sql.DB, dir string, log *zap.Logger) (*Migrator, error) {
	src, err := (&file.File{}).Open("file://" + dir)
	if err != nil {
		return nil, fmt.Errorf("open migrations in %s: %w", dir, err)
	}
	return open(db, "file", src, log)
}

// NewEmbedded reads migrations from files, typically an embed.FS compiled
// into the server binary
func NewEmbedded(db *sql.DB, files fs.FS, log *zap.Logger) (*Migrator, error) {
	src, err := iofs.New(files, ".")
	if err != nil {
		return nil, fmt.Errorf("open embedded migrations: %w", err)
	}
	return open(db, "iofs", src, log)
}

func open(db *sql.DB, sourceName string, src source.Driver, log *zap.Logger) (*Migrator, error) {
	target, err := postgres.WithInstance(db, &postgres.Config{MigrationsTable: migrationsTable})
	if err != nil {
		_ = src.Close()
		return nil, fmt.Errorf("postgres migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance(sourceName, src, "postgres", target)
	if err != nil {
		return nil, fmt.Errorf("migrator: %w", err)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Migrator{m: m, log: log.Named("migrate")}, nil
}

// Up applies every pending migration. It refuses to start on a dirty schema.
func (mg *Migrator) Up() error {
	_, dirty, err := mg.Version()
	if err != nil {
		return err
	}
	if dirty {
		return ErrDirtySchema
	}
	return mg.apply("up", mg.m.Up)
}

// Down reverts every applied migration
func (mg *Migrator) Down() error {
	return mg.apply("down", mg.m.Down)
}

// Steps moves n migrations forward, or back when n is negative
func (mg *Migrator) Steps(n int) error {
	return mg.apply(fmt.Sprintf("step %+d", n), func() error { return mg.m.Steps(n) })
}

// GoTo moves the schema to version, in either direction
func (mg *Migrator) GoTo(version uint) error {
	return mg.apply(fmt.Sprintf("goto %d", version), func() error { return mg.m.Migrate(version) })
}

func (mg *Migrator) apply(op string, run func() error) error {
	mg.log.Info("Migrating", zap.String("op", op))
	err := run()
	if errors.Is(err, migrate.ErrNoChange) {
		mg.log.Info("Nothing to migrate", zap.String("op", op))
		return nil
	}
	if err != nil {
		return fmt.Errorf("migrate %s: %w", op, err)
	}
	version, dirty, err := mg.Version()
	if err != nil {
		return err
	}
	mg.log.Info("Migrated",
		zap.String("op", op),
		zap.Uint("version", version),
		zap.Bool("dirty", dirty),
	)
	return nil
}

// Version reports the applied version and whether the last migration failed
// half way. An empty schema is version 0.
func (mg *Migrator) Version() (uint, bool, error) {
	version, dirty, err := mg.m.Version()
	switch {
	case errors.Is(err, migrate.ErrNilVersion):
		return 0, false, nil
	case err != nil:
		return 0, false, fmt.Errorf("read schema version: %w", err)
	}
	return version, dirty, nil
}

// Force records version as applied and clears the dirty flag. No SQL runs.
func (mg *Migrator) Force(version int) error {
	mg.log.Warn("Forcing schema version", zap.Int("version", version))
	if err := mg.m.Force(version); err != nil {
		return fmt.Errorf("force version %d: %w", version, err)
	}
	return nil
}

// Drop removes every table in the schema, migrations table included
func (mg *Migrator) Drop() error {
	mg.log.Warn("Dropping all tables")
	if err := mg.m.Drop(); err != nil {
		return fmt.Errorf("drop schema: %w", err)
	}
	return nil
}

// Close releases the source and the *sql.DB the Migrator was opened on
func (mg *Migrator) Close() error {
	srcErr, dbErr := mg.m.Close()
	return errors.Join(srcErr, dbErr)
}

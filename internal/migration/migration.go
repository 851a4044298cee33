// Package migration applies the embedded SQL migrations and guards
// processes against running on an unmigrated database.
package migration

import (
	"context"
	"database/sql"
	"io/fs"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/zap"
)

const migrateTimeout = 2 * time.Minute

// Run applies all embedded migrations under the migration lock and records
// the resulting schema state.
func Run(ctx context.Context, db *sql.DB, log *zap.Logger) error {
	if db == nil {
		return errors.New("migration database handle is required")
	}
	log = log.Named("migration")

	ctx, cancel := context.WithTimeout(ctx, migrateTimeout)
	defer cancel()

	unlock, err := acquireMigrationLock(ctx, db)
	if err != nil {
		return err
	}
	defer func() {
		if err := unlock(context.Background()); err != nil {
			log.Warn("release migration lock failed", zap.Error(err))
		}
	}()

	manifest, err := EmbeddedManifest()
	if err != nil {
		return err
	}

	migrator, err := newMigrator(db)
	if err != nil {
		return err
	}

	before, err := cleanVersion(migrator)
	if err != nil {
		return err
	}
	if err := migrator.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return errors.Wrap(err, "apply migrations")
	}
	after, err := cleanVersion(migrator)
	if err != nil {
		return err
	}
	if after != manifest.Version {
		return errors.Newf("schema version mismatch after migrate: got %d want %d", after, manifest.Version)
	}

	if err := recordSchemaState(ctx, db, manifest, time.Now()); err != nil {
		return err
	}
	log.Info("migrations applied",
		zap.Uint("from_version", before),
		zap.Uint("to_version", after),
		zap.String("checksum", manifest.Checksum),
	)
	return nil
}

func newMigrator(db *sql.DB) (*migrate.Migrate, error) {
	sub, err := fs.Sub(embeddedMigrations, migrationsDir)
	if err != nil {
		return nil, errors.Wrap(err, "open migrations")
	}
	source, err := iofs.New(sub, ".")
	if err != nil {
		return nil, errors.Wrap(err, "create migration source")
	}
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return nil, errors.Wrap(err, "create migration driver")
	}
	migrator, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return nil, errors.Wrap(err, "create migrator")
	}
	return migrator, nil
}

// cleanVersion returns the applied version, failing when a previous run
// left the database dirty.
func cleanVersion(migrator *migrate.Migrate) (uint, error) {
	version, dirty, err := migrator.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, nil
	}
	if err != nil {
		return 0, errors.Wrap(err, "read migration version")
	}
	if dirty {
		return 0, errors.Newf("database migrations are dirty at version %d", version)
	}
	return version, nil
}

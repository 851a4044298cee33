package migration

import (
	"context"
	"database/sql"

	"github.com/cockroachdb/errors"
)

// migrationLockKey is shared by every process that may run migrations
// against the same database.
const migrationLockKey int64 = 7_310_442_518

var ErrMigrationLocked = errors.New("another process is running migrations")

type unlockFunc func(ctx context.Context) error

// acquireMigrationLock takes a session level advisory lock on a pinned
// connection. The returned func releases the lock and the connection.
func acquireMigrationLock(ctx context.Context, db *sql.DB) (unlockFunc, error) {
	if db == nil {
		return nil, errors.New("migration lock requires a database handle")
	}
	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "pin connection for migration lock")
	}

	var locked bool
	if err := conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", migrationLockKey).Scan(&locked); err != nil {
		_ = conn.Close()
		return nil, errors.Wrap(err, "acquire migration lock")
	}
	if !locked {
		_ = conn.Close()
		return nil, ErrMigrationLocked
	}

	return func(ctx context.Context) error {
		defer conn.Close()
		var released bool
		if err := conn.QueryRowContext(ctx, "SELECT pg_advisory_unlock($1)", migrationLockKey).Scan(&released); err != nil {
			return errors.Wrap(err, "release migration lock")
		}
		if !released {
			return errors.New("migration lock was not held by this session")
		}
		return nil
	}, nil
}

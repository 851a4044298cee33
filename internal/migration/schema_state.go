package migration

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"io/fs"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

// ErrSchemaOutdated is returned when the database was migrated from a
// different set of migrations than the ones built into this binary.
var ErrSchemaOutdated = errors.New("database schema does not match this build, run migrate")

// Manifest identifies the embedded migration set.
type Manifest struct {
	Version  uint
	Checksum string
}

// VersionString renders the version the way it is stored in schema_state.
func (m Manifest) VersionString() string {
	return strconv.FormatUint(uint64(m.Version), 10)
}

// EmbeddedManifest returns the latest version and a checksum over every
// up migration compiled into the binary.
func EmbeddedManifest() (Manifest, error) {
	entries, err := fs.ReadDir(embeddedMigrations, migrationsDir)
	if err != nil {
		return Manifest{}, errors.Wrap(err, "list migrations")
	}

	var names []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".up.sql") {
			names = append(names, entry.Name())
		}
	}
	slices.Sort(names)

	var m Manifest
	hasher := sha256.New()
	for _, name := range names {
		version, ok := parseMigrationVersion(name)
		if !ok {
			return Manifest{}, errors.Newf("invalid migration filename: %s", name)
		}
		m.Version = max(m.Version, version)

		content, err := embeddedMigrations.ReadFile(migrationsDir + "/" + name)
		if err != nil {
			return Manifest{}, errors.Wrapf(err, "read migration %s", name)
		}
		_, _ = hasher.Write([]byte(name))
		_, _ = hasher.Write([]byte{0})
		_, _ = hasher.Write(content)
		_, _ = hasher.Write([]byte{0})
	}
	if m.Version == 0 {
		return Manifest{}, errors.New("no embedded migrations found")
	}
	m.Checksum = hex.EncodeToString(hasher.Sum(nil))
	return m, nil
}

func parseMigrationVersion(name string) (uint, bool) {
	prefix, _, found := strings.Cut(name, "_")
	if !found || prefix == "" {
		return 0, false
	}
	parsed, err := strconv.ParseUint(prefix, 10, 64)
	if err != nil || parsed == 0 {
		return 0, false
	}
	return uint(parsed), true
}

func recordSchemaState(ctx context.Context, db *sql.DB, m Manifest, now time.Time) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO schema_state (id, version, checksum, applied_at)
		VALUES (TRUE, $1, $2, $3)
		ON CONFLICT (id) DO UPDATE
		SET version = EXCLUDED.version,
		    checksum = EXCLUDED.checksum,
		    applied_at = EXCLUDED.applied_at
	`, m.VersionString(), m.Checksum, now.UTC())
	if err != nil {
		return errors.Wrap(err, "record schema state")
	}
	return nil
}

// VerifySchema refuses to start a server or worker against a database that
// has not been migrated with this build's migrations.
func VerifySchema(ctx context.Context, db *sql.DB) error {
	want, err := EmbeddedManifest()
	if err != nil {
		return err
	}

	var version, checksum string
	err = db.QueryRowContext(ctx, `SELECT version, checksum FROM schema_state WHERE id = TRUE`).Scan(&version, &checksum)
	if errors.Is(err, sql.ErrNoRows) {
		return errors.Wrap(ErrSchemaOutdated, "no schema state recorded")
	}
	if err != nil {
		return errors.Wrap(err, "read schema state")
	}
	if version != want.VersionString() || checksum != want.Checksum {
		return errors.Wrapf(ErrSchemaOutdated, "database at version %s, build expects %s", version, want.VersionString())
	}
	return nil
}

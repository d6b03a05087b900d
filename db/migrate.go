package db

import (
	"context"
	"fmt"
	"io/fs"
	"net/http"
	"time"

	migrate "github.com/rubenv/sql-migrate"

	"github.com/sellerledger/marketplace-reconciler-backend/db/migrations"
	"github.com/sellerledger/marketplace-reconciler-backend/internal/utils"
)

// MigrationsTableName is where sql-migrate records which migrations have been applied.
const MigrationsTableName = "reconciler_migrations"

// Migrate applies up to count migrations in the given direction, using the
// embedded migration files. A count of 0 applies all of them.
func Migrate(dbURL string, dir migrate.MigrationDirection, count int) (int, error) {
	dbConnectionPool, err := OpenDBConnectionPool(dbURL)
	if err != nil {
		return 0, fmt.Errorf("database URL '%s': %w", utils.TruncateString(dbURL, len(dbURL)/4), err)
	}
	defer dbConnectionPool.Close()

	ms := migrate.MigrationSet{
		TableName: MigrationsTableName,
	}

	m := migrate.HttpFileSystemMigrationSource{FileSystem: http.FS(migrations.FS)}
	ctx := context.Background()
	db, err := dbConnectionPool.SqlDB(ctx)
	if err != nil {
		return 0, fmt.Errorf("fetching sql.DB: %w", err)
	}
	return ms.ExecMax(db, dbConnectionPool.DriverName(), m, dir, count)
}

// MigrationStatus pairs one embedded migration file with its applied
// timestamp. AppliedAt is nil while the migration is still pending.
type MigrationStatus struct {
	ID        string
	AppliedAt *time.Time
}

// MigrationsStatus lists every embedded migration in lexical order together
// with whether, and when, it was applied to the database at dbURL.
func MigrationsStatus(dbURL string) ([]MigrationStatus, error) {
	dbConnectionPool, err := OpenDBConnectionPool(dbURL)
	if err != nil {
		return nil, fmt.Errorf("database URL '%s': %w", utils.TruncateString(dbURL, len(dbURL)/4), err)
	}
	defer dbConnectionPool.Close()

	ctx := context.Background()
	db, err := dbConnectionPool.SqlDB(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetching sql.DB: %w", err)
	}

	ms := migrate.MigrationSet{
		TableName: MigrationsTableName,
	}
	records, err := ms.GetMigrationRecords(db, dbConnectionPool.DriverName())
	if err != nil {
		return nil, fmt.Errorf("fetching migration records: %w", err)
	}
	appliedAt := make(map[string]time.Time, len(records))
	for _, record := range records {
		appliedAt[record.Id] = record.AppliedAt
	}

	entries, err := fs.ReadDir(migrations.FS, ".")
	if err != nil {
		return nil, fmt.Errorf("reading embedded migrations: %w", err)
	}

	statuses := make([]MigrationStatus, 0, len(entries))
	for _, entry := range entries {
		status := MigrationStatus{ID: entry.Name()}
		if t, ok := appliedAt[entry.Name()]; ok {
			applied := t
			status.AppliedAt = &applied
		}
		statuses = append(statuses, status)
	}
	return statuses, nil
}

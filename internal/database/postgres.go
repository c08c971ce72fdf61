package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver

	"cvc-go/internal/cvc"
	"cvc-go/internal/database/migrations"
)

// uniqueViolation is the SQLSTATE for unique_violation.
const uniqueViolation = "23505"

// PostgresDatabase implements cvc.Database on a shared Postgres server, for
// deployments where several processes write the same commit forests.
type PostgresDatabase struct {
	*sqlStore
	url string
}

type postgresDialect struct{}

func (postgresDialect) isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// NewPostgresDatabase connects to databaseURL and verifies the connection.
func NewPostgresDatabase(ctx context.Context, databaseURL string) (*PostgresDatabase, error) {
	db, err := OpenPostgres(ctx, databaseURL)
	if err != nil {
		return nil, err
	}
	return &PostgresDatabase{
		sqlStore: newSQLStore(db, "pgx", postgresDialect{}),
		url:      databaseURL,
	}, nil
}

// OpenPostgres opens a pooled connection through the pgx stdlib driver.
func OpenPostgres(ctx context.Context, databaseURL string) (*sql.DB, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetConnMaxIdleTime(5 * time.Minute)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetMaxIdleConns(10)
	db.SetMaxOpenConns(20)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return db, nil
}

// MigrateUp applies pending schema migrations.
func (p *PostgresDatabase) MigrateUp() error {
	return migrations.MigratePostgresUp(p.url)
}

// CheckMigrations verifies the database schema is up-to-date.
func (p *PostgresDatabase) CheckMigrations() error {
	return migrations.CheckPostgresMigrationStatus(p.url)
}

// BackupTo is not supported; Postgres deployments use server-side backups.
func (p *PostgresDatabase) BackupTo(string) error {
	return cvc.ErrSnapshotUnsupported
}

func (p *PostgresDatabase) Close() error {
	if p.db != nil {
		return p.db.Close()
	}
	return nil
}

var _ cvc.Database = (*PostgresDatabase)(nil)

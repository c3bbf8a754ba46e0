package migration

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	auditdomain "github.com/smallbiznis/payflow/internal/audit/domain"
	batchdomain "github.com/smallbiznis/payflow/internal/batch/domain"
	documentdomain "github.com/smallbiznis/payflow/internal/document/domain"
	sequencedomain "github.com/smallbiznis/payflow/internal/sequence/domain"
	"gorm.io/gorm"
)

const migrationsDir = "sql"

//go:embed sql/*.sql
var embeddedMigrations embed.FS

// RunMigrations applies the embedded PostgreSQL schema migrations.
func RunMigrations(db *sql.DB) error {
	if db == nil {
		return errors.New("migration database handle is required")
	}

	sub, err := fs.Sub(embeddedMigrations, migrationsDir)
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}

	source, err := iofs.New(sub, ".")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}

	migrator, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	upErr := migrator.Up()
	if upErr != nil && !errors.Is(upErr, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", upErr)
	}
	// Do not call migrator.Close here because it would close the shared *sql.DB.

	return nil
}

// Models lists every persistent model of the engine.
func Models() []any {
	return []any{
		&sequencedomain.Counter{},
		&documentdomain.Voucher{},
		&documentdomain.Form{},
		&documentdomain.Comment{},
		&auditdomain.ApprovalHistoryEntry{},
		&auditdomain.AuditLog{},
		&batchdomain.SignatureBatch{},
		&batchdomain.BatchMember{},
	}
}

// AutoMigrate creates the schema from the models. Used for dialects the SQL
// migrations do not target.
func AutoMigrate(conn *gorm.DB) error {
	return conn.AutoMigrate(Models()...)
}

package migration

import (
	"database/sql"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"gorm.io/gorm"

	auditdomain "github.com/tracklane/tracklane/internal/audit/domain"
	boarddomain "github.com/tracklane/tracklane/internal/board/domain"
	boardeventdomain "github.com/tracklane/tracklane/internal/boardevent/domain"
	commentdomain "github.com/tracklane/tracklane/internal/comment/domain"
	itemdomain "github.com/tracklane/tracklane/internal/item/domain"
	organizationdomain "github.com/tracklane/tracklane/internal/organization/domain"
	projectdomain "github.com/tracklane/tracklane/internal/project/domain"
)

// This migration package keeps Tracklane usable out of the box for local and
// self-hosted environments. All board tables are created automatically on
// startup.
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

// RunDevMigrations builds the schema through gorm for non-postgres dialects,
// where the embedded migrations do not apply.
func RunDevMigrations(conn *gorm.DB) error {
	if conn == nil {
		return errors.New("migration database handle is required")
	}
	if err := conn.AutoMigrate(
		&organizationdomain.User{},
		&organizationdomain.Organization{},
		&organizationdomain.OrganizationMember{},
		&projectdomain.Project{},
		&boarddomain.Board{},
		&boarddomain.Column{},
		&itemdomain.Item{},
		&auditdomain.Entry{},
		&commentdomain.Comment{},
		&boardeventdomain.BoardEvent{},
	); err != nil {
		return err
	}

	// AutoMigrate cannot express the partial index that keeps order keys
	// unique among live tasks.
	return conn.Exec(
		`CREATE UNIQUE INDEX IF NOT EXISTS ux_tasks_column_order ON tasks (column_id, order_key) WHERE archived = false`,
	).Error
}

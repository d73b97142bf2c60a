package rls

import (
	"fmt"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// WithTenant pins the active organization on the current transaction so
// row level security policies can enforce isolation below the repositories.
// Only PostgreSQL understands SET LOCAL, other dialects are a no-op.
func WithTenant(tx *gorm.DB, orgID snowflake.ID) error {
	if tx.Dialector.Name() != "postgres" {
		return nil
	}
	return tx.Exec(
		"SET LOCAL app.current_org_id = ?",
		fmt.Sprintf("%d", orgID),
	).Error
}

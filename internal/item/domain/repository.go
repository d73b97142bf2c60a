package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// ColumnInfo is what the item service needs to know about a target column.
type ColumnInfo struct {
	ID        snowflake.ID
	BoardID   snowflake.ID
	ProjectID snowflake.ID
	Name      string
	WIPLimit  *int
}

// Placement is a task's spot within a column.
type Placement struct {
	ID       snowflake.ID
	OrderKey float64
}

type Repository interface {
	WithTx(tx *gorm.DB) Repository

	Insert(ctx context.Context, item *Item) error
	Get(ctx context.Context, orgID, itemID snowflake.ID) (*Item, error)
	GetForUpdate(ctx context.Context, orgID, itemID snowflake.ID) (*Item, error)
	UpdateFields(ctx context.Context, item *Item) error
	MovePlacement(ctx context.Context, orgID, itemID, fromColumnID snowflake.ID, fromKey float64, toColumnID snowflake.ID, toKey float64) (bool, error)
	SetArchived(ctx context.Context, orgID, itemID snowflake.ID, archived bool) error
	RestorePlacement(ctx context.Context, orgID, itemID snowflake.ID, orderKey float64) error
	Delete(ctx context.Context, orgID, itemID snowflake.ID) error
	DeleteItemTrail(ctx context.Context, itemID snowflake.ID) error

	ColumnInProject(ctx context.Context, orgID, projectID, columnID snowflake.ID) (*ColumnInfo, error)
	ColumnName(ctx context.Context, orgID, columnID snowflake.ID) (string, error)
	ProjectKey(ctx context.Context, orgID, projectID snowflake.ID) (string, error)
	OrgMemberExists(ctx context.Context, orgID, userID snowflake.ID) (bool, error)

	GetPlacement(ctx context.Context, orgID, columnID, itemID snowflake.ID) (*Placement, error)
	TailKey(ctx context.Context, orgID, columnID snowflake.ID) (float64, bool, error)
	CountActive(ctx context.Context, orgID, columnID snowflake.ID) (int64, error)
	CountKeysBetween(ctx context.Context, orgID, columnID, excludeItemID snowflake.ID, low, high float64) (int64, error)
	CountKeysAbove(ctx context.Context, orgID, columnID, excludeItemID snowflake.ID, key float64) (int64, error)
	CountKeysBelow(ctx context.Context, orgID, columnID, excludeItemID snowflake.ID, key float64) (int64, error)

	LockColumnItems(ctx context.Context, orgID, columnID snowflake.ID) ([]Placement, error)
	SetOrderKey(ctx context.Context, itemID snowflake.ID, key float64) error
}

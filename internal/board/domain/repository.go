package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// ItemPlacement is the slice of a task needed to relocate it when its column
// goes away.
type ItemPlacement struct {
	ID       snowflake.ID
	OrderKey float64
}

type Repository interface {
	WithTx(tx *gorm.DB) Repository

	InsertBoard(ctx context.Context, board *Board) error
	GetBoard(ctx context.Context, orgID, boardID snowflake.ID) (*Board, error)
	GetBoardByProject(ctx context.Context, orgID, projectID snowflake.ID) (*Board, error)
	LockBoard(ctx context.Context, boardID snowflake.ID) error
	ProjectExists(ctx context.Context, orgID, projectID snowflake.ID) (bool, error)

	InsertColumn(ctx context.Context, column *Column) error
	GetColumn(ctx context.Context, orgID, columnID snowflake.ID) (*Column, error)
	ColumnsByBoard(ctx context.Context, orgID, boardID snowflake.ID) ([]Column, error)
	UpdateColumnFields(ctx context.Context, column *Column) error
	MoveColumnKey(ctx context.Context, columnID snowflake.ID, fromKey, toKey float64) (bool, error)
	SetColumnKey(ctx context.Context, columnID snowflake.ID, key float64) error
	DeleteColumn(ctx context.Context, columnID snowflake.ID) error

	ItemsInColumn(ctx context.Context, orgID, columnID snowflake.ID) ([]ItemPlacement, error)
	MaxItemKey(ctx context.Context, orgID, columnID snowflake.ID) (float64, error)
	RelocateItem(ctx context.Context, orgID, itemID, toColumnID snowflake.ID, orderKey float64) error
}

package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Insert(ctx context.Context, project Project) error
	GetByKey(ctx context.Context, orgID snowflake.ID, key string) (*Project, error)
	List(ctx context.Context, orgID snowflake.ID) ([]Project, error)
}

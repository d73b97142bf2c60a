package repository

import (
	"context"

	"github.com/tracklane/tracklane/pkg/db/option"
	"gorm.io/gorm"
)

// Repository is a generic gorm-backed read store. Feature packages keep their
// writes in hand-written SQL repositories; this covers filtered list and
// lookup queries where composing option.QueryOption values beats another
// bespoke query method.
type Repository[T any] interface {
	// WithTx rebinds the store onto an open transaction.
	WithTx(tx *gorm.DB) Repository[T]
	Find(ctx context.Context, filter *T, opts ...option.QueryOption) ([]*T, error)
	// FindOne returns (nil, nil) when no row matches.
	FindOne(ctx context.Context, filter *T, opts ...option.QueryOption) (*T, error)
	Count(ctx context.Context, filter *T, opts ...option.QueryOption) (int64, error)
}

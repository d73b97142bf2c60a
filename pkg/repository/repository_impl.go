package repository

import (
	"context"
	"errors"

	"github.com/tracklane/tracklane/pkg/db/option"
	"gorm.io/gorm"
)

type queryStore[T any] struct {
	db *gorm.DB
}

func ProvideStore[T any](db *gorm.DB) Repository[T] {
	return &queryStore[T]{db: db}
}

func (s *queryStore[T]) WithTx(tx *gorm.DB) Repository[T] {
	return &queryStore[T]{db: tx}
}

func (s *queryStore[T]) Find(ctx context.Context, filter *T, opts ...option.QueryOption) ([]*T, error) {
	var rows []*T
	if err := s.buildQuery(ctx, filter, opts...).Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *queryStore[T]) FindOne(ctx context.Context, filter *T, opts ...option.QueryOption) (*T, error) {
	var row T
	err := s.buildQuery(ctx, filter, opts...).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (s *queryStore[T]) Count(ctx context.Context, filter *T, opts ...option.QueryOption) (int64, error) {
	var count int64
	err := s.buildQuery(ctx, filter, opts...).Count(&count).Error
	return count, err
}

// buildQuery anchors the statement on the row type so option clauses and
// Count run against the right table. gorm drops zero-valued struct fields
// from Where(filter); callers filter on false or empty values through
// option.WithFilter instead.
func (s *queryStore[T]) buildQuery(ctx context.Context, filter *T, opts ...option.QueryOption) *gorm.DB {
	stmt := s.db.WithContext(ctx).Model(new(T)).Where(filter)
	for _, opt := range opts {
		stmt = opt.Apply(stmt)
	}
	return stmt
}

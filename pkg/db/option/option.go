package option

import (
	"fmt"
	"strings"
	"time"

	"github.com/tracklane/tracklane/pkg/db/pagination"
	"gorm.io/gorm"
)

// QueryOption mutates a gorm statement before execution.
type QueryOption interface {
	Apply(stmt *gorm.DB) *gorm.DB
}

type queryOptionFunc func(*gorm.DB) *gorm.DB

func (f queryOptionFunc) Apply(stmt *gorm.DB) *gorm.DB {
	return f(stmt)
}

// ApplyPagination decodes the page token into a keyset cursor and over-fetches
// by one row so callers can detect another page.
func ApplyPagination(page pagination.Pagination) QueryOption {
	return queryOptionFunc(func(stmt *gorm.DB) *gorm.DB {
		size := page.PageSize
		if size <= 0 {
			size = 10
		}
		if size > 250 {
			size = 250
		}

		if token := strings.TrimSpace(page.PageToken); token != "" {
			cursor, err := pagination.DecodeCursor(token)
			if err == nil && cursor != nil {
				// Compare as time.Time so every dialect formats the
				// bound value itself.
				createdAt, timeErr := time.Parse(time.RFC3339Nano, cursor.CreatedAt)
				switch {
				case timeErr == nil && cursor.ID != "":
					stmt = stmt.Where(
						"created_at < ? OR (created_at = ? AND id < ?)",
						createdAt, createdAt, cursor.ID,
					)
				case cursor.ID != "":
					stmt = stmt.Where("id < ?", cursor.ID)
				}
			}
		}

		return stmt.Limit(size + 1)
	})
}

// WithFilter adds a raw where clause. gorm struct queries drop zero values,
// so filters on false/empty columns go through here.
func WithFilter(query string, args ...any) QueryOption {
	return queryOptionFunc(func(stmt *gorm.DB) *gorm.DB {
		return stmt.Where(query, args...)
	})
}

// WithLimit caps the result set without cursor handling.
func WithLimit(limit int) QueryOption {
	return queryOptionFunc(func(stmt *gorm.DB) *gorm.DB {
		if limit <= 0 {
			return stmt
		}
		return stmt.Limit(limit)
	})
}

// WithOrder applies a raw order expression for sorts WithSortBy cannot
// express, like a CASE ranking.
func WithOrder(expr string) QueryOption {
	return queryOptionFunc(func(stmt *gorm.DB) *gorm.DB {
		if strings.TrimSpace(expr) == "" {
			return stmt
		}
		return stmt.Order(expr)
	})
}

type QuerySortBy struct {
	Field string
	Desc  bool
	Allow map[string]bool
}

// WithSortBy orders by the requested field when the allowlist permits it,
// falling back to newest-first.
func WithSortBy(sort QuerySortBy) QueryOption {
	return queryOptionFunc(func(stmt *gorm.DB) *gorm.DB {
		field := strings.TrimSpace(sort.Field)
		if field == "" || !sort.Allow[field] {
			return stmt.Order("created_at desc, id desc")
		}
		direction := "asc"
		if sort.Desc {
			direction = "desc"
		}
		return stmt.Order(fmt.Sprintf("%s %s, id desc", field, direction))
	})
}

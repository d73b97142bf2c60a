package domain

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/tracklane/tracklane/internal/tenant"
	"github.com/tracklane/tracklane/pkg/db/pagination"
	"gorm.io/gorm"
)

const (
	SortAsc  = "asc"
	SortDesc = "desc"

	FormatNDJSON = "ndjson"
	FormatCSV    = "csv"
	FormatPDF    = "pdf"
)

type ListActivityRequest struct {
	pagination.Pagination
	ItemID snowflake.ID
	Sort   string
	Action string
}

type ListProjectActivityRequest struct {
	pagination.Pagination
	ProjectID snowflake.ID
	Action    string
}

type ActivityActor struct {
	ID          string `json:"id,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
	Type        string `json:"type"`
}

type ActivityEntry struct {
	ID        string         `json:"id"`
	TaskID    string         `json:"task_id"`
	Actor     ActivityActor  `json:"actor"`
	Action    Action         `json:"action"`
	Field     string         `json:"field,omitempty"`
	OldValue  *string        `json:"old_value,omitempty"`
	NewValue  *string        `json:"new_value,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

type ListActivityResponse struct {
	pagination.PageInfo
	Entries []ActivityEntry `json:"entries"`
}

type ExportActivityRequest struct {
	ItemID snowflake.ID
	Format string
}

// Service records and reads the per-task activity trail. The Record methods
// take the caller's open transaction so an entry can never outlive a rolled
// back mutation, and a committed mutation can never lack its entries.
type Service interface {
	RecordCreated(ctx context.Context, tx *gorm.DB, actor tenant.Context, item ItemRef, metadata map[string]any) error
	RecordUpdated(ctx context.Context, tx *gorm.DB, actor tenant.Context, item ItemRef, changes []FieldChange) error
	RecordMoved(ctx context.Context, tx *gorm.DB, actor tenant.Context, item ItemRef, change MovedChange) error
	RecordArchived(ctx context.Context, tx *gorm.DB, actor tenant.Context, item ItemRef, restored bool) error
	RecordCommented(ctx context.Context, tx *gorm.DB, actor tenant.Context, item ItemRef, commentID snowflake.ID) error

	List(ctx context.Context, actor tenant.Context, req ListActivityRequest) (*ListActivityResponse, error)
	ListByProject(ctx context.Context, actor tenant.Context, req ListProjectActivityRequest) (*ListActivityResponse, error)
	Export(ctx context.Context, actor tenant.Context, req ExportActivityRequest, w io.Writer) error
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, entries ...*Entry) error
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]*Entry, error)
	ItemSummary(ctx context.Context, db *gorm.DB, itemID snowflake.ID) (*ItemSummary, error)
	ActorNames(ctx context.Context, db *gorm.DB, ids []snowflake.ID) (map[snowflake.ID]string, error)
}

var (
	ErrItemNotFound     = errors.New("task_not_found")
	ErrInvalidPageToken = errors.New("invalid_page_token")
	ErrInvalidSort      = errors.New("invalid_sort")
	ErrInvalidFormat    = errors.New("invalid_format")
	ErrInvalidAction    = errors.New("invalid_action")
	ErrForbidden        = errors.New("forbidden")
)

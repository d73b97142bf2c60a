package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/tracklane/tracklane/internal/tenant"
	"github.com/tracklane/tracklane/pkg/db/pagination"
)

const (
	MaxTitleLen       = 200
	MaxDescriptionLen = 1000
	MaxCategoryLen    = 50
	MaxTags           = 20
	MaxTagLen         = 50
)

type Service interface {
	Create(ctx context.Context, actor tenant.Context, req CreateTaskRequest) (*TaskResponse, error)
	Get(ctx context.Context, actor tenant.Context, taskID string) (*TaskResponse, error)
	List(ctx context.Context, actor tenant.Context, req ListTasksRequest) (*ListTasksResponse, error)
	Update(ctx context.Context, actor tenant.Context, req UpdateTaskRequest) (*TaskResponse, error)
	Move(ctx context.Context, actor tenant.Context, req MoveTaskRequest) (*TaskResponse, error)
	Archive(ctx context.Context, actor tenant.Context, taskID string) (*TaskResponse, error)
	Unarchive(ctx context.Context, actor tenant.Context, taskID string) (*TaskResponse, error)
	Delete(ctx context.Context, actor tenant.Context, taskID string) error
}

type CreateTaskRequest struct {
	ColumnID    string     `json:"column_id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Priority    string     `json:"priority"`
	Category    string     `json:"category"`
	Tags        []string   `json:"tags"`
	AssigneeID  *string    `json:"assignee_id"`
	DueDate     *time.Time `json:"due_date"`
}

// UpdateTaskRequest applies only the fields that are present. The Clear
// flags exist because a nil pointer means "leave alone", not "remove".
type UpdateTaskRequest struct {
	TaskID        string
	Title         *string    `json:"title"`
	Description   *string    `json:"description"`
	Priority      *string    `json:"priority"`
	Category      *string    `json:"category"`
	Tags          *[]string  `json:"tags"`
	AssigneeID    *string    `json:"assignee_id"`
	ClearAssignee bool       `json:"clear_assignee"`
	DueDate       *time.Time `json:"due_date"`
	ClearDueDate  bool       `json:"clear_due_date"`
}

// MoveTaskRequest names the insertion point in the target column through its
// current neighbors: BeforeTaskID sits before the gap, AfterTaskID after it.
// A single-sided request is only valid at the column's ends.
type MoveTaskRequest struct {
	TaskID       string
	ColumnID     string  `json:"column_id"`
	BeforeTaskID *string `json:"before_task_id"`
	AfterTaskID  *string `json:"after_task_id"`
}

type ListTasksRequest struct {
	pagination.Pagination
	ProjectID  snowflake.ID
	ColumnID   string
	AssigneeID string
	Priority   string
	Archived   *bool
	Query      string
	Tag        string
	Category   string
	OrderBy    string
	Sort       string
}

type TaskResponse struct {
	ID             string     `json:"id"`
	DisplayID      string     `json:"display_id"`
	ProjectID      string     `json:"project_id"`
	ColumnID       string     `json:"column_id"`
	SequenceNumber int64      `json:"sequence_number"`
	OrderKey       float64    `json:"order_key"`
	Title          string     `json:"title"`
	Description    string     `json:"description,omitempty"`
	Priority       Priority   `json:"priority"`
	Category       string     `json:"category,omitempty"`
	Tags           []string   `json:"tags,omitempty"`
	AssigneeID     string     `json:"assignee_id,omitempty"`
	DueDate        *time.Time `json:"due_date,omitempty"`
	Archived       bool       `json:"archived"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

type ListTasksResponse struct {
	pagination.PageInfo
	Tasks []TaskResponse `json:"tasks"`
}

var (
	ErrTaskNotFound       = errors.New("task_not_found")
	ErrColumnNotFound     = errors.New("column_not_found")
	ErrInvalidTitle       = errors.New("invalid_title")
	ErrInvalidDescription = errors.New("invalid_description")
	ErrInvalidPriority    = errors.New("invalid_priority")
	ErrInvalidCategory    = errors.New("invalid_category")
	ErrInvalidTags        = errors.New("invalid_tags")
	ErrInvalidAssignee    = errors.New("invalid_assignee")
	ErrTaskArchived       = errors.New("task_archived")
	ErrMoveConflict       = errors.New("move_conflict")
	ErrWIPLimitExceeded   = errors.New("wip_limit_exceeded")
	ErrForbidden          = errors.New("forbidden")
)

package domain

import (
	"context"
	"errors"
	"regexp"

	"github.com/bwmarrin/snowflake"
	"github.com/tracklane/tracklane/internal/tenant"
)

// MaxColumns bounds how many columns a board may hold.
const MaxColumns = 20

// ColorPattern accepts #RRGGBB colors.
var ColorPattern = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)

type Service interface {
	Create(ctx context.Context, actor tenant.Context, req CreateBoardRequest) (*BoardResponse, error)
	GetByProject(ctx context.Context, actor tenant.Context, projectID snowflake.ID) (*BoardResponse, error)
	AddColumn(ctx context.Context, actor tenant.Context, req AddColumnRequest) (*ColumnResponse, error)
	UpdateColumn(ctx context.Context, actor tenant.Context, req UpdateColumnRequest) (*ColumnResponse, error)
	MoveColumn(ctx context.Context, actor tenant.Context, req MoveColumnRequest) (*ColumnResponse, error)
	DeleteColumn(ctx context.Context, actor tenant.Context, columnID string) error
}

type CreateBoardRequest struct {
	ProjectID snowflake.ID
	Name      string
	Template  string
}

type AddColumnRequest struct {
	BoardID  string
	Name     string
	Color    string
	WIPLimit *int
}

type UpdateColumnRequest struct {
	ColumnID string
	Name     *string
	Color    *string
	WIPLimit *int
	ClearWIP bool
}

// MoveColumnRequest names the neighbors around the insertion point. A nil
// BeforeColumnID means head placement, a nil AfterColumnID means tail.
type MoveColumnRequest struct {
	ColumnID       string
	BeforeColumnID *string
	AfterColumnID  *string
}

type BoardResponse struct {
	ID        string           `json:"id"`
	ProjectID string           `json:"project_id"`
	Name      string           `json:"name"`
	Columns   []ColumnResponse `json:"columns"`
}

type ColumnResponse struct {
	ID       string  `json:"id"`
	BoardID  string  `json:"board_id"`
	Name     string  `json:"name"`
	Color    string  `json:"color,omitempty"`
	WIPLimit *int    `json:"wip_limit,omitempty"`
	OrderKey float64 `json:"order_key"`
}

var (
	ErrBoardNotFound    = errors.New("board_not_found")
	ErrColumnNotFound   = errors.New("column_not_found")
	ErrInvalidName      = errors.New("invalid_name")
	ErrInvalidColor     = errors.New("invalid_color")
	ErrInvalidWIPLimit  = errors.New("invalid_wip_limit")
	ErrTemplateNotFound = errors.New("template_not_found")
	ErrTooManyColumns   = errors.New("too_many_columns")
	ErrLastColumn       = errors.New("last_column")
	ErrMoveConflict     = errors.New("move_conflict")
	ErrForbidden        = errors.New("forbidden")
)

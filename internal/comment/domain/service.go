package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/tracklane/tracklane/internal/tenant"
	"github.com/tracklane/tracklane/pkg/db/pagination"
	"gorm.io/gorm"
)

const MaxBodyLen = 2000

type Service interface {
	Create(ctx context.Context, actor tenant.Context, req CreateCommentRequest) (*CommentResponse, error)
	List(ctx context.Context, actor tenant.Context, req ListCommentsRequest) (*ListCommentsResponse, error)
}

type CreateCommentRequest struct {
	TaskID string
	Body   string `json:"body"`
}

type ListCommentsRequest struct {
	pagination.Pagination
	TaskID string
}

type CommentResponse struct {
	ID         string    `json:"id"`
	TaskID     string    `json:"task_id"`
	AuthorID   string    `json:"author_id"`
	AuthorName string    `json:"author_name,omitempty"`
	Body       string    `json:"body"`
	CreatedAt  time.Time `json:"created_at"`
}

type ListCommentsResponse struct {
	pagination.PageInfo
	Comments []CommentResponse `json:"comments"`
}

type Repository interface {
	WithTx(tx *gorm.DB) Repository

	Insert(ctx context.Context, comment *Comment) error
	TaskRef(ctx context.Context, orgID, taskID snowflake.ID) (*TaskRef, error)
	AuthorNames(ctx context.Context, ids []snowflake.ID) (map[snowflake.ID]string, error)
}

var (
	ErrTaskNotFound = errors.New("task_not_found")
	ErrInvalidBody  = errors.New("invalid_comment_body")
	ErrForbidden    = errors.New("forbidden")
)

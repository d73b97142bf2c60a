package domain

import (
	"context"
	"errors"
	"regexp"

	"github.com/bwmarrin/snowflake"
	"github.com/tracklane/tracklane/internal/tenant"
	"gorm.io/gorm"
)

// KeyPattern constrains project keys: uppercase, alphanumeric, 2 to 10
// characters, starting with a letter. Keys become the prefix of every task
// display id (WEB-42) and are immutable after creation.
var KeyPattern = regexp.MustCompile(`^[A-Z][A-Z0-9]{1,9}$`)

type Service interface {
	Create(ctx context.Context, actor tenant.Context, req CreateProjectRequest) (*ProjectResponse, error)
	GetByKey(ctx context.Context, orgID snowflake.ID, key string) (*Project, error)
	List(ctx context.Context, orgID snowflake.ID) ([]ProjectResponse, error)

	// NextSequence reserves the next task number for the project inside the
	// caller's transaction. The increment commits or rolls back with the
	// caller, so an aborted transaction returns its number to the pool and
	// committed numbers are never duplicated.
	NextSequence(ctx context.Context, tx *gorm.DB, projectID snowflake.ID) (int64, error)
}

type CreateProjectRequest struct {
	Key         string
	Name        string
	Description string
}

type ProjectResponse struct {
	ID          string `json:"id"`
	Key         string `json:"key"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

var (
	ErrInvalidKey       = errors.New("invalid_key")
	ErrInvalidName      = errors.New("invalid_name")
	ErrKeyTaken         = errors.New("key_taken")
	ErrProjectNotFound  = errors.New("project_not_found")
	ErrSequenceConflict = errors.New("sequence_conflict")
	ErrForbidden        = errors.New("forbidden")
)

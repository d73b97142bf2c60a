package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/tracklane/tracklane/internal/tenant"
)

type Service interface {
	CreateUser(ctx context.Context, req CreateUserRequest) (*UserResponse, error)
	Create(ctx context.Context, userID snowflake.ID, req CreateOrganizationRequest) (*OrganizationResponse, error)
	GetByID(ctx context.Context, id string) (*OrganizationResponse, error)
	ListByUser(ctx context.Context, userID snowflake.ID) ([]OrganizationListResponseItem, error)
	AddMember(ctx context.Context, actor tenant.Context, req AddMemberRequest) error
	MemberRole(ctx context.Context, orgID, userID snowflake.ID) (tenant.Role, error)
}

type CreateUserRequest struct {
	Email       string
	DisplayName string
}

type CreateOrganizationRequest struct {
	Name string
}

type AddMemberRequest struct {
	UserID string
	Role   string
}

type UserResponse struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
}

type OrganizationResponse struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Slug string `json:"slug"`
}

type OrganizationListResponseItem struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

var (
	ErrInvalidName         = errors.New("invalid_name")
	ErrInvalidEmail        = errors.New("invalid_email")
	ErrInvalidUser         = errors.New("invalid_user")
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrInvalidRole         = errors.New("invalid_role")
	ErrSlugTaken           = errors.New("slug_taken")
	ErrEmailTaken          = errors.New("email_taken")
	ErrNotMember           = errors.New("not_member")
	ErrAlreadyMember       = errors.New("already_member")
	ErrForbidden           = errors.New("forbidden")
)

package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"github.com/tracklane/tracklane/internal/events"
	"github.com/tracklane/tracklane/internal/organization/domain"
	"github.com/tracklane/tracklane/internal/tenant"
	"github.com/tracklane/tracklane/pkg/db"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type service struct {
	db        *gorm.DB
	repo      domain.Repository
	genID     *snowflake.Node
	publisher events.Publisher
}

func NewService(dbConn *gorm.DB, repo domain.Repository, genID *snowflake.Node, publisher events.Publisher) domain.Service {
	return &service{
		db:        dbConn,
		repo:      repo,
		genID:     genID,
		publisher: publisher,
	}
}

func (s *service) CreateUser(ctx context.Context, req domain.CreateUserRequest) (*domain.UserResponse, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, domain.ErrInvalidEmail
	}
	displayName := strings.TrimSpace(req.DisplayName)
	if displayName == "" {
		displayName = email
	}

	now := time.Now().UTC()
	user := domain.User{
		ID:          s.genID.Generate(),
		Email:       email,
		DisplayName: displayName,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.CreateUser(ctx, user); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, domain.ErrEmailTaken
		}
		return nil, err
	}

	return &domain.UserResponse{
		ID:          user.ID.String(),
		Email:       user.Email,
		DisplayName: user.DisplayName,
	}, nil
}

func (s *service) Create(ctx context.Context, userID snowflake.ID, req domain.CreateOrganizationRequest) (*domain.OrganizationResponse, error) {
	if userID == 0 {
		return nil, domain.ErrInvalidUser
	}

	name := strings.TrimSpace(req.Name)
	if name == "" || len(name) > 100 {
		return nil, domain.ErrInvalidName
	}

	now := time.Now().UTC()
	orgID := s.genID.Generate()
	org := domain.Organization{
		ID:        orgID,
		Name:      name,
		Slug:      slug.Make(name),
		CreatedAt: now,
		UpdatedAt: now,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if err := repo.CreateOrganization(ctx, org); err != nil {
			if db.IsDuplicateKeyErr(err) {
				return domain.ErrSlugTaken
			}
			return err
		}

		member := domain.OrganizationMember{
			ID:        s.genID.Generate(),
			OrgID:     orgID,
			UserID:    userID,
			Role:      string(tenant.RoleOwner),
			CreatedAt: now,
		}
		if err := repo.AddMember(ctx, member); err != nil {
			return err
		}

		return s.publisher.WithTx(tx).Publish(ctx, events.Event{
			OrgID: orgID,
			Type:  events.EventOrganizationCreated,
			Payload: events.OrganizationCreatedPayload{
				OrganizationID: orgID.String(),
				Slug:           org.Slug,
				OwnerUserID:    userID.String(),
			}.ToMap(),
			DedupeKey: "org-created-" + orgID.String(),
		})
	})
	if err != nil {
		return nil, err
	}

	zap.L().Info("organization created",
		zap.String("org_id", orgID.String()),
		zap.String("slug", org.Slug),
	)

	return &domain.OrganizationResponse{
		ID:   orgID.String(),
		Name: name,
		Slug: org.Slug,
	}, nil
}

func (s *service) GetByID(ctx context.Context, id string) (*domain.OrganizationResponse, error) {
	raw := strings.TrimSpace(id)
	if raw == "" {
		return nil, domain.ErrInvalidOrganization
	}
	orgID, err := snowflake.ParseString(raw)
	if err != nil {
		return nil, domain.ErrInvalidOrganization
	}

	org, err := s.repo.GetOrganizationByID(ctx, orgID)
	if err != nil {
		return nil, err
	}
	if org == nil {
		return nil, domain.ErrInvalidOrganization
	}

	return &domain.OrganizationResponse{
		ID:   org.ID.String(),
		Name: org.Name,
		Slug: org.Slug,
	}, nil
}

func (s *service) ListByUser(ctx context.Context, userID snowflake.ID) ([]domain.OrganizationListResponseItem, error) {
	if userID == 0 {
		return nil, domain.ErrInvalidUser
	}

	items, err := s.repo.ListOrganizationsByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	resp := make([]domain.OrganizationListResponseItem, 0, len(items))
	for _, item := range items {
		resp = append(resp, domain.OrganizationListResponseItem{
			ID:        item.ID.String(),
			Name:      item.Name,
			Role:      item.Role,
			CreatedAt: item.CreatedAt,
		})
	}

	return resp, nil
}

func (s *service) AddMember(ctx context.Context, actor tenant.Context, req domain.AddMemberRequest) error {
	if !actor.Role.Elevated() {
		return domain.ErrForbidden
	}

	userID, err := snowflake.ParseString(strings.TrimSpace(req.UserID))
	if err != nil || userID == 0 {
		return domain.ErrInvalidUser
	}

	role := tenant.Role(strings.ToLower(strings.TrimSpace(req.Role)))
	if !role.Valid() || role == tenant.RoleOwner {
		return domain.ErrInvalidRole
	}

	user, err := s.repo.GetUserByID(ctx, userID)
	if err != nil {
		return err
	}
	if user == nil {
		return domain.ErrInvalidUser
	}

	member := domain.OrganizationMember{
		ID:        s.genID.Generate(),
		OrgID:     actor.OrgID,
		UserID:    userID,
		Role:      string(role),
		CreatedAt: time.Now().UTC(),
	}
	if err := s.repo.AddMember(ctx, member); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return domain.ErrAlreadyMember
		}
		return err
	}
	return nil
}

func (s *service) MemberRole(ctx context.Context, orgID, userID snowflake.ID) (tenant.Role, error) {
	if orgID == 0 || userID == 0 {
		return "", domain.ErrNotMember
	}

	raw, err := s.repo.MemberRole(ctx, orgID, userID)
	if err != nil {
		return "", err
	}

	role := tenant.Role(strings.ToLower(strings.TrimSpace(raw)))
	if !role.Valid() {
		return "", domain.ErrNotMember
	}
	return role, nil
}

package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/tracklane/tracklane/internal/cache"
	"github.com/tracklane/tracklane/internal/events"
	"github.com/tracklane/tracklane/internal/project/domain"
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
	resolver  cache.ProjectResolverCache
	log       *zap.Logger
}

func NewService(dbConn *gorm.DB, repo domain.Repository, genID *snowflake.Node, publisher events.Publisher, resolver cache.ProjectResolverCache, log *zap.Logger) domain.Service {
	return &service{
		db:        dbConn,
		repo:      repo,
		genID:     genID,
		publisher: publisher,
		resolver:  resolver,
		log:       log.Named("project.service"),
	}
}

func (s *service) Create(ctx context.Context, actor tenant.Context, req domain.CreateProjectRequest) (*domain.ProjectResponse, error) {
	if !actor.Role.Elevated() {
		return nil, domain.ErrForbidden
	}

	key := strings.ToUpper(strings.TrimSpace(req.Key))
	if !domain.KeyPattern.MatchString(key) {
		return nil, domain.ErrInvalidKey
	}
	name := strings.TrimSpace(req.Name)
	if name == "" || len(name) > 100 {
		return nil, domain.ErrInvalidName
	}

	now := time.Now().UTC()
	project := domain.Project{
		ID:           s.genID.Generate(),
		OrgID:        actor.OrgID,
		Key:          key,
		Name:         name,
		Description:  strings.TrimSpace(req.Description),
		NextSequence: 1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.WithTx(tx).Insert(ctx, project); err != nil {
			if db.IsDuplicateKeyErr(err) {
				return domain.ErrKeyTaken
			}
			return err
		}

		return s.publisher.WithTx(tx).Publish(ctx, events.Event{
			OrgID: actor.OrgID,
			Type:  events.EventProjectCreated,
			Payload: events.ProjectCreatedPayload{
				ProjectID: project.ID.String(),
				OrgID:     actor.OrgID.String(),
				Key:       key,
				ActorID:   actor.UserID.String(),
			}.ToMap(),
			DedupeKey: "project-created-" + project.ID.String(),
		})
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("project created",
		zap.String("org_id", actor.OrgID.String()),
		zap.String("project_key", key),
	)

	return &domain.ProjectResponse{
		ID:          project.ID.String(),
		Key:         key,
		Name:        name,
		Description: project.Description,
	}, nil
}

func (s *service) GetByKey(ctx context.Context, orgID snowflake.ID, key string) (*domain.Project, error) {
	key = strings.ToUpper(strings.TrimSpace(key))
	if key == "" {
		return nil, domain.ErrProjectNotFound
	}

	if s.resolver != nil {
		if cached, ok := s.resolver.GetProject(orgID, key); ok {
			return cached, nil
		}
	}

	project, err := s.repo.GetByKey(ctx, orgID, key)
	if err != nil {
		return nil, err
	}
	if project == nil {
		return nil, domain.ErrProjectNotFound
	}
	if s.resolver != nil {
		s.resolver.SetProject(orgID, key, project)
	}
	return project, nil
}

func (s *service) List(ctx context.Context, orgID snowflake.ID) ([]domain.ProjectResponse, error) {
	projects, err := s.repo.List(ctx, orgID)
	if err != nil {
		return nil, err
	}

	resp := make([]domain.ProjectResponse, 0, len(projects))
	for _, project := range projects {
		resp = append(resp, domain.ProjectResponse{
			ID:          project.ID.String(),
			Key:         project.Key,
			Name:        project.Name,
			Description: project.Description,
		})
	}
	return resp, nil
}

// NextSequence locks the project row, reads the counter and advances it with
// a compare and set. The bounded claim context keeps lock waits from piling
// up behind a slow writer.
func (s *service) NextSequence(ctx context.Context, tx *gorm.DB, projectID snowflake.ID) (int64, error) {
	claimCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	var next int64
	err := tx.WithContext(claimCtx).Raw(
		`SELECT next_sequence
		 FROM projects
		 WHERE id = ?
		 FOR UPDATE`,
		projectID,
	).Scan(&next).Error
	if err != nil {
		if db.IsLockContention(err) || db.IsSerializationFailure(err) {
			return 0, domain.ErrSequenceConflict
		}
		return 0, err
	}
	if next == 0 {
		return 0, domain.ErrProjectNotFound
	}

	result := tx.WithContext(claimCtx).Exec(
		`UPDATE projects
		 SET next_sequence = next_sequence + 1, updated_at = ?
		 WHERE id = ? AND next_sequence = ?`,
		time.Now().UTC(),
		projectID,
		next,
	)
	if result.Error != nil {
		if db.IsLockContention(result.Error) || db.IsSerializationFailure(result.Error) {
			return 0, domain.ErrSequenceConflict
		}
		return 0, result.Error
	}
	if result.RowsAffected == 0 {
		return 0, domain.ErrSequenceConflict
	}

	return next, nil
}

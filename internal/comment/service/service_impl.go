package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/tracklane/tracklane/internal/audit/domain"
	"github.com/tracklane/tracklane/internal/comment/domain"
	"github.com/tracklane/tracklane/internal/events"
	"github.com/tracklane/tracklane/internal/tenant"
	"github.com/tracklane/tracklane/pkg/db/option"
	"github.com/tracklane/tracklane/pkg/db/pagination"
	pkgrepo "github.com/tracklane/tracklane/pkg/repository"
	"github.com/tracklane/tracklane/pkg/rls"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	GenID     *snowflake.Node
	Repo      domain.Repository
	Audit     auditdomain.Service
	Publisher events.Publisher
}

type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	genID     *snowflake.Node
	repo      domain.Repository
	store     pkgrepo.Repository[domain.Comment]
	audit     auditdomain.Service
	publisher events.Publisher
}

func NewService(p Params) domain.Service {
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("comment.service"),
		genID:     p.GenID,
		repo:      p.Repo,
		store:     pkgrepo.ProvideStore[domain.Comment](p.DB),
		audit:     p.Audit,
		publisher: p.Publisher,
	}
}

func (s *Service) Create(ctx context.Context, actor tenant.Context, req domain.CreateCommentRequest) (*domain.CommentResponse, error) {
	if !actor.Role.CanWrite() {
		return nil, domain.ErrForbidden
	}
	taskID, err := snowflake.ParseString(strings.TrimSpace(req.TaskID))
	if err != nil || taskID == 0 {
		return nil, domain.ErrTaskNotFound
	}
	body := strings.TrimSpace(req.Body)
	if body == "" || len(body) > domain.MaxBodyLen {
		return nil, domain.ErrInvalidBody
	}

	comment := &domain.Comment{
		ID:        s.genID.Generate(),
		OrgID:     actor.OrgID,
		TaskID:    taskID,
		AuthorID:  actor.UserID,
		Body:      body,
		CreatedAt: time.Now().UTC(),
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := rls.WithTenant(tx, actor.OrgID); err != nil {
			return err
		}
		repo := s.repo.WithTx(tx)

		ref, err := repo.TaskRef(ctx, actor.OrgID, taskID)
		if err != nil {
			return err
		}
		if ref == nil {
			return domain.ErrTaskNotFound
		}
		if actor.ProjectID != 0 && ref.ProjectID != actor.ProjectID {
			return domain.ErrTaskNotFound
		}

		if err := repo.Insert(ctx, comment); err != nil {
			return err
		}

		err = s.audit.RecordCommented(ctx, tx, actor,
			auditdomain.ItemRef{ID: taskID, ProjectID: ref.ProjectID}, comment.ID)
		if err != nil {
			return err
		}

		return s.publisher.WithTx(tx).Publish(ctx, events.Event{
			OrgID: actor.OrgID,
			Type:  events.EventCommentCreated,
			Payload: events.CommentEventPayload{
				CommentID: comment.ID.String(),
				TaskID:    taskID.String(),
				OrgID:     actor.OrgID.String(),
				ActorID:   actor.UserID.String(),
			}.ToMap(),
		})
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("comment created",
		zap.String("comment_id", comment.ID.String()),
		zap.String("task_id", taskID.String()),
	)

	resp := toCommentResponse(comment, "")
	if names, err := s.repo.AuthorNames(ctx, []snowflake.ID{comment.AuthorID}); err == nil {
		resp.AuthorName = names[comment.AuthorID]
	}
	return resp, nil
}

func (s *Service) List(ctx context.Context, actor tenant.Context, req domain.ListCommentsRequest) (*domain.ListCommentsResponse, error) {
	taskID, err := snowflake.ParseString(strings.TrimSpace(req.TaskID))
	if err != nil || taskID == 0 {
		return nil, domain.ErrTaskNotFound
	}

	ref, err := s.repo.TaskRef(ctx, actor.OrgID, taskID)
	if err != nil {
		return nil, err
	}
	if ref == nil {
		return nil, domain.ErrTaskNotFound
	}
	if actor.ProjectID != 0 && ref.ProjectID != actor.ProjectID {
		return nil, domain.ErrTaskNotFound
	}

	rows, err := s.store.Find(ctx, &domain.Comment{},
		option.WithFilter("org_id = ?", actor.OrgID),
		option.WithFilter("task_id = ?", taskID),
		option.WithSortBy(option.QuerySortBy{}),
		option.ApplyPagination(req.Pagination),
	)
	if err != nil {
		return nil, err
	}

	size := req.PageSize
	if size <= 0 {
		size = 10
	}
	if size > 250 {
		size = 250
	}

	resp := &domain.ListCommentsResponse{}
	pageInfo := pagination.BuildCursorPageInfo(rows, int32(size), func(comment *domain.Comment) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        comment.ID.String(),
			CreatedAt: comment.CreatedAt.Format(time.RFC3339Nano),
		})
		if err != nil {
			return ""
		}
		return token
	})
	if pageInfo != nil {
		resp.PageInfo = *pageInfo
		if pageInfo.HasMore && len(rows) > size {
			rows = rows[:size]
		}
	}

	authorIDs := make([]snowflake.ID, 0, len(rows))
	seen := make(map[snowflake.ID]bool, len(rows))
	for _, comment := range rows {
		if comment == nil || seen[comment.AuthorID] {
			continue
		}
		seen[comment.AuthorID] = true
		authorIDs = append(authorIDs, comment.AuthorID)
	}
	names, err := s.repo.AuthorNames(ctx, authorIDs)
	if err != nil {
		return nil, err
	}

	resp.Comments = make([]domain.CommentResponse, 0, len(rows))
	for _, comment := range rows {
		if comment == nil {
			continue
		}
		resp.Comments = append(resp.Comments, *toCommentResponse(comment, names[comment.AuthorID]))
	}
	return resp, nil
}

func toCommentResponse(comment *domain.Comment, authorName string) *domain.CommentResponse {
	return &domain.CommentResponse{
		ID:         comment.ID.String(),
		TaskID:     comment.TaskID.String(),
		AuthorID:   comment.AuthorID.String(),
		AuthorName: authorName,
		Body:       comment.Body,
		CreatedAt:  comment.CreatedAt,
	}
}

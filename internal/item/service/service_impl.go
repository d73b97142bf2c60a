package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/tracklane/tracklane/internal/audit/domain"
	"github.com/tracklane/tracklane/internal/events"
	"github.com/tracklane/tracklane/internal/item/domain"
	"github.com/tracklane/tracklane/internal/item/position"
	projectdomain "github.com/tracklane/tracklane/internal/project/domain"
	"github.com/tracklane/tracklane/internal/tenant"
	"github.com/tracklane/tracklane/internal/usagestats"
	"github.com/tracklane/tracklane/pkg/db"
	"github.com/tracklane/tracklane/pkg/db/option"
	"github.com/tracklane/tracklane/pkg/db/pagination"
	pkgrepo "github.com/tracklane/tracklane/pkg/repository"
	"github.com/tracklane/tracklane/pkg/rls"
	"github.com/tracklane/tracklane/pkg/telemetry"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// claimTimeout bounds how long an operation waits on a contended row before
// surfacing a retryable conflict.
const claimTimeout = 2 * time.Second

const columnPageSize = 500

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	GenID     *snowflake.Node
	Repo      domain.Repository
	Projects  projectdomain.Service
	Audit     auditdomain.Service
	Publisher events.Publisher
	Metrics   *telemetry.Metrics `optional:"true"`
	Usage     *usagestats.Stats  `optional:"true"`
}

type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	genID     *snowflake.Node
	repo      domain.Repository
	store     pkgrepo.Repository[domain.Item]
	projects  projectdomain.Service
	audit     auditdomain.Service
	publisher events.Publisher
	metrics   *telemetry.Metrics
	usage     *usagestats.Stats
}

func NewService(p Params) domain.Service {
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("item.service"),
		genID:     p.GenID,
		repo:      p.Repo,
		store:     pkgrepo.ProvideStore[domain.Item](p.DB),
		projects:  p.Projects,
		audit:     p.Audit,
		publisher: p.Publisher,
		metrics:   p.Metrics,
		usage:     p.Usage,
	}
}

func (s *Service) Create(ctx context.Context, actor tenant.Context, req domain.CreateTaskRequest) (*domain.TaskResponse, error) {
	if !actor.Role.CanWrite() {
		return nil, domain.ErrForbidden
	}
	if actor.ProjectID == 0 {
		return nil, domain.ErrColumnNotFound
	}
	columnID, ok := parseID(req.ColumnID)
	if !ok {
		return nil, domain.ErrColumnNotFound
	}

	title := strings.TrimSpace(req.Title)
	if title == "" || len(title) > domain.MaxTitleLen {
		return nil, domain.ErrInvalidTitle
	}
	description := strings.TrimSpace(req.Description)
	if len(description) > domain.MaxDescriptionLen {
		return nil, domain.ErrInvalidDescription
	}
	priority := domain.Priority(strings.ToLower(strings.TrimSpace(req.Priority)))
	if priority == "" {
		priority = domain.PriorityMedium
	}
	if !priority.Valid() {
		return nil, domain.ErrInvalidPriority
	}
	category := strings.TrimSpace(req.Category)
	if len(category) > domain.MaxCategoryLen {
		return nil, domain.ErrInvalidCategory
	}
	tags, err := normalizeTags(req.Tags)
	if err != nil {
		return nil, err
	}

	var assigneeID *snowflake.ID
	if req.AssigneeID != nil && strings.TrimSpace(*req.AssigneeID) != "" {
		id, ok := parseID(*req.AssigneeID)
		if !ok {
			return nil, domain.ErrInvalidAssignee
		}
		assigneeID = &id
	}

	now := time.Now().UTC()
	item := &domain.Item{
		ID:          s.genID.Generate(),
		OrgID:       actor.OrgID,
		ProjectID:   actor.ProjectID,
		ColumnID:    columnID,
		Title:       title,
		Description: description,
		Priority:    priority,
		Category:    category,
		Tags:        tags,
		AssigneeID:  assigneeID,
		DueDate:     req.DueDate,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	var projectKey string
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := rls.WithTenant(tx, actor.OrgID); err != nil {
			return err
		}
		repo := s.repo.WithTx(tx)

		column, err := repo.ColumnInProject(ctx, actor.OrgID, actor.ProjectID, columnID)
		if err != nil {
			return err
		}
		if column == nil {
			return domain.ErrColumnNotFound
		}
		if err := checkWIP(ctx, repo, actor.OrgID, column); err != nil {
			return err
		}
		if assigneeID != nil {
			member, err := repo.OrgMemberExists(ctx, actor.OrgID, *assigneeID)
			if err != nil {
				return err
			}
			if !member {
				return domain.ErrInvalidAssignee
			}
		}

		// New tasks append to the column tail.
		tail, found, err := repo.TailKey(ctx, actor.OrgID, columnID)
		if err != nil {
			return err
		}
		if found {
			item.OrderKey = position.Tail(tail)
		} else {
			item.OrderKey = position.Initial()
		}

		seq, err := s.projects.NextSequence(ctx, tx, actor.ProjectID)
		if err != nil {
			return err
		}
		item.SequenceNumber = seq

		if err := repo.Insert(ctx, item); err != nil {
			if db.IsDuplicateKeyErr(err) {
				return domain.ErrMoveConflict
			}
			return err
		}

		projectKey, err = repo.ProjectKey(ctx, actor.OrgID, actor.ProjectID)
		if err != nil {
			return err
		}

		err = s.audit.RecordCreated(ctx, tx, actor,
			auditdomain.ItemRef{ID: item.ID, ProjectID: item.ProjectID},
			map[string]any{"column_id": columnID.String()})
		if err != nil {
			return err
		}

		return s.publisher.WithTx(tx).Publish(ctx, events.Event{
			OrgID: actor.OrgID,
			Type:  events.EventTaskCreated,
			Payload: events.TaskEventPayload{
				TaskID:    item.ID.String(),
				DisplayID: displayID(projectKey, item.SequenceNumber),
				OrgID:     actor.OrgID.String(),
				ProjectID: item.ProjectID.String(),
				ColumnID:  columnID.String(),
				ActorID:   actor.UserID.String(),
				Title:     item.Title,
			}.ToMap(),
			DedupeKey: "task-created-" + item.ID.String(),
		})
	})
	if err != nil {
		if errors.Is(err, projectdomain.ErrSequenceConflict) {
			s.metrics.RecordSequenceConflict()
		}
		return nil, err
	}

	s.usage.IncTaskCreated(actor.OrgID.String())
	s.log.Info("task created",
		zap.String("task_id", item.ID.String()),
		zap.String("display_id", displayID(projectKey, item.SequenceNumber)),
	)
	return toTaskResponse(item, projectKey), nil
}

func (s *Service) Get(ctx context.Context, actor tenant.Context, taskID string) (*domain.TaskResponse, error) {
	itemID, ok := parseID(taskID)
	if !ok {
		return nil, domain.ErrTaskNotFound
	}

	item, err := s.repo.Get(ctx, actor.OrgID, itemID)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, domain.ErrTaskNotFound
	}
	if actor.ProjectID != 0 && item.ProjectID != actor.ProjectID {
		return nil, domain.ErrTaskNotFound
	}

	projectKey, err := s.repo.ProjectKey(ctx, actor.OrgID, item.ProjectID)
	if err != nil {
		return nil, err
	}
	return toTaskResponse(item, projectKey), nil
}

func (s *Service) List(ctx context.Context, actor tenant.Context, req domain.ListTasksRequest) (*domain.ListTasksResponse, error) {
	if req.ProjectID == 0 {
		return nil, domain.ErrTaskNotFound
	}
	projectKey, err := s.repo.ProjectKey(ctx, actor.OrgID, req.ProjectID)
	if err != nil {
		return nil, err
	}
	if projectKey == "" {
		return nil, domain.ErrTaskNotFound
	}

	opts := []option.QueryOption{
		option.WithFilter("org_id = ?", actor.OrgID),
		option.WithFilter("project_id = ?", req.ProjectID),
	}

	archived := false
	if req.Archived != nil {
		archived = *req.Archived
	}
	opts = append(opts, option.WithFilter("archived = ?", archived))

	columnScoped := false
	if strings.TrimSpace(req.ColumnID) != "" {
		columnID, ok := parseID(req.ColumnID)
		if !ok {
			return nil, domain.ErrColumnNotFound
		}
		columnScoped = true
		opts = append(opts, option.WithFilter("column_id = ?", columnID))
	}
	if strings.TrimSpace(req.AssigneeID) != "" {
		assigneeID, ok := parseID(req.AssigneeID)
		if !ok {
			return nil, domain.ErrInvalidAssignee
		}
		opts = append(opts, option.WithFilter("assignee_id = ?", assigneeID))
	}
	if strings.TrimSpace(req.Priority) != "" {
		priority := domain.Priority(strings.ToLower(strings.TrimSpace(req.Priority)))
		if !priority.Valid() {
			return nil, domain.ErrInvalidPriority
		}
		opts = append(opts, option.WithFilter("priority = ?", priority))
	}
	if category := strings.TrimSpace(req.Category); category != "" {
		opts = append(opts, option.WithFilter("category = ?", category))
	}
	if tag := strings.TrimSpace(req.Tag); tag != "" {
		// Tags live as a JSON array; the quoted match holds on every
		// dialect we run on.
		opts = append(opts, option.WithFilter("tags LIKE ?", `%"`+escapeLike(tag)+`"%`))
	}
	if q := strings.TrimSpace(req.Query); q != "" {
		needle := "%" + escapeLike(strings.ToLower(q)) + "%"
		opts = append(opts, option.WithFilter("(LOWER(title) LIKE ? OR LOWER(description) LIKE ?)", needle, needle))
	}

	orderBy := strings.ToLower(strings.TrimSpace(req.OrderBy))
	desc := !strings.EqualFold(strings.TrimSpace(req.Sort), "asc")

	// Cursor pagination follows creation order; other sorts return a single
	// bounded page, and a column scope returns the whole column in board
	// order.
	paged := false
	switch {
	case columnScoped && orderBy == "":
		opts = append(opts, option.WithOrder("order_key asc"), option.WithLimit(columnPageSize))
	case orderBy == "" || orderBy == "created_at":
		paged = true
		opts = append(opts,
			option.WithSortBy(option.QuerySortBy{}),
			option.ApplyPagination(req.Pagination),
		)
	case orderBy == "priority":
		direction := "desc"
		if !desc {
			direction = "asc"
		}
		opts = append(opts,
			option.WithOrder("CASE priority WHEN 'high' THEN 3 WHEN 'medium' THEN 2 ELSE 1 END "+direction+", id desc"),
			option.WithLimit(pageSize(req.PageSize)),
		)
	case orderBy == "sequence" || orderBy == "due_date":
		field := "sequence_number"
		if orderBy == "due_date" {
			field = "due_date"
		}
		opts = append(opts,
			option.WithSortBy(option.QuerySortBy{
				Field: field,
				Desc:  desc,
				Allow: map[string]bool{"sequence_number": true, "due_date": true},
			}),
			option.WithLimit(pageSize(req.PageSize)),
		)
	default:
		return nil, domain.ErrTaskNotFound
	}

	rows, err := s.store.Find(ctx, &domain.Item{}, opts...)
	if err != nil {
		return nil, err
	}

	resp := &domain.ListTasksResponse{}
	if paged {
		size := pageSize(req.PageSize)
		pageInfo := pagination.BuildCursorPageInfo(rows, int32(size), func(item *domain.Item) string {
			token, err := pagination.EncodeCursor(pagination.Cursor{
				ID:        item.ID.String(),
				CreatedAt: item.CreatedAt.Format(time.RFC3339Nano),
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
	}

	resp.Tasks = make([]domain.TaskResponse, 0, len(rows))
	for _, item := range rows {
		if item == nil {
			continue
		}
		resp.Tasks = append(resp.Tasks, *toTaskResponse(item, projectKey))
	}
	return resp, nil
}

func (s *Service) Update(ctx context.Context, actor tenant.Context, req domain.UpdateTaskRequest) (*domain.TaskResponse, error) {
	if !actor.Role.CanWrite() {
		return nil, domain.ErrForbidden
	}
	itemID, ok := parseID(req.TaskID)
	if !ok {
		return nil, domain.ErrTaskNotFound
	}
	if err := validateUpdate(req); err != nil {
		return nil, err
	}

	var (
		item       *domain.Item
		projectKey string
		changed    []string
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := rls.WithTenant(tx, actor.OrgID); err != nil {
			return err
		}
		repo := s.repo.WithTx(tx)

		loaded, err := s.loadForUpdate(ctx, repo, actor, itemID)
		if err != nil {
			return err
		}
		item = loaded

		projectKey, err = repo.ProjectKey(ctx, actor.OrgID, item.ProjectID)
		if err != nil {
			return err
		}

		changes, err := s.applyUpdate(ctx, repo, actor, item, req)
		if err != nil {
			return err
		}
		if len(changes) == 0 {
			// Nothing changed, nothing to write.
			return nil
		}

		item.UpdatedAt = time.Now().UTC()
		if err := repo.UpdateFields(ctx, item); err != nil {
			return err
		}

		err = s.audit.RecordUpdated(ctx, tx, actor,
			auditdomain.ItemRef{ID: item.ID, ProjectID: item.ProjectID}, changes)
		if err != nil {
			return err
		}

		for _, change := range changes {
			changed = append(changed, change.Field)
		}
		payload := events.TaskEventPayload{
			TaskID:    item.ID.String(),
			DisplayID: displayID(projectKey, item.SequenceNumber),
			OrgID:     actor.OrgID.String(),
			ProjectID: item.ProjectID.String(),
			ActorID:   actor.UserID.String(),
		}.ToMap()
		payload["fields"] = changed

		return s.publisher.WithTx(tx).Publish(ctx, events.Event{
			OrgID:   actor.OrgID,
			Type:    events.EventTaskUpdated,
			Payload: payload,
		})
	})
	if err != nil {
		return nil, err
	}

	if len(changed) > 0 {
		s.log.Info("task updated",
			zap.String("task_id", item.ID.String()),
			zap.Strings("fields", changed),
		)
	}
	return toTaskResponse(item, projectKey), nil
}

func (s *Service) Move(ctx context.Context, actor tenant.Context, req domain.MoveTaskRequest) (*domain.TaskResponse, error) {
	if !actor.Role.CanWrite() {
		return nil, domain.ErrForbidden
	}
	itemID, ok := parseID(req.TaskID)
	if !ok {
		return nil, domain.ErrTaskNotFound
	}
	columnID, ok := parseID(req.ColumnID)
	if !ok {
		return nil, domain.ErrColumnNotFound
	}
	beforeID, ok := parseOptionalID(req.BeforeTaskID)
	if !ok {
		return nil, domain.ErrMoveConflict
	}
	afterID, ok := parseOptionalID(req.AfterTaskID)
	if !ok {
		return nil, domain.ErrMoveConflict
	}
	if beforeID == itemID || afterID == itemID {
		return nil, domain.ErrMoveConflict
	}

	var (
		item       *domain.Item
		projectKey string
		rebalanced bool
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := rls.WithTenant(tx, actor.OrgID); err != nil {
			return err
		}
		repo := s.repo.WithTx(tx)

		loaded, err := s.loadForUpdate(ctx, repo, actor, itemID)
		if err != nil {
			return err
		}
		item = loaded
		if item.Archived {
			return domain.ErrTaskArchived
		}

		projectKey, err = repo.ProjectKey(ctx, actor.OrgID, item.ProjectID)
		if err != nil {
			return err
		}

		target, err := repo.ColumnInProject(ctx, actor.OrgID, item.ProjectID, columnID)
		if err != nil {
			return err
		}
		if target == nil {
			return domain.ErrColumnNotFound
		}

		fromColumnID := item.ColumnID
		if target.ID != fromColumnID {
			if err := checkWIP(ctx, repo, actor.OrgID, target); err != nil {
				return err
			}
		}

		key, err := resolveItemKey(ctx, repo, actor.OrgID, target.ID, item, beforeID, afterID)
		if errors.Is(err, position.ErrGapExhausted) {
			// Spread the column back out, then place exactly once more.
			if err := s.rebalanceColumn(ctx, repo, actor.OrgID, target.ID); err != nil {
				return err
			}
			rebalanced = true

			refreshed, err := repo.Get(ctx, actor.OrgID, item.ID)
			if err != nil {
				return err
			}
			if refreshed == nil {
				return domain.ErrTaskNotFound
			}
			item = refreshed

			key, err = resolveItemKey(ctx, repo, actor.OrgID, target.ID, item, beforeID, afterID)
			if errors.Is(err, position.ErrGapExhausted) {
				return domain.ErrMoveConflict
			}
			if err != nil {
				return err
			}
		} else if err != nil {
			return err
		}

		if target.ID == item.ColumnID && key == item.OrderKey {
			return nil
		}

		fromKey := item.OrderKey
		moved, err := repo.MovePlacement(ctx, actor.OrgID, item.ID, item.ColumnID, fromKey, target.ID, key)
		if err != nil {
			if db.IsDuplicateKeyErr(err) {
				return domain.ErrMoveConflict
			}
			return err
		}
		if !moved {
			return domain.ErrMoveConflict
		}

		fromName, err := repo.ColumnName(ctx, actor.OrgID, fromColumnID)
		if err != nil {
			return err
		}

		err = s.audit.RecordMoved(ctx, tx, actor,
			auditdomain.ItemRef{ID: item.ID, ProjectID: item.ProjectID},
			auditdomain.MovedChange{
				FromColumnID: fromColumnID,
				ToColumnID:   target.ID,
				FromColumn:   fromName,
				ToColumn:     target.Name,
				OldOrderKey:  fromKey,
				NewOrderKey:  key,
			})
		if err != nil {
			return err
		}

		item.ColumnID = target.ID
		item.OrderKey = key

		return s.publisher.WithTx(tx).Publish(ctx, events.Event{
			OrgID: actor.OrgID,
			Type:  events.EventTaskMoved,
			Payload: events.TaskEventPayload{
				TaskID:     item.ID.String(),
				DisplayID:  displayID(projectKey, item.SequenceNumber),
				OrgID:      actor.OrgID.String(),
				ProjectID:  item.ProjectID.String(),
				ActorID:    actor.UserID.String(),
				FromColumn: fromColumnID.String(),
				ToColumn:   target.ID.String(),
			}.ToMap(),
		})
	})
	if err != nil {
		return nil, err
	}

	if rebalanced {
		s.metrics.RecordRebalance("column")
		s.usage.IncRebalance(actor.OrgID.String(), "column")
		s.log.Info("column rebalanced",
			zap.String("column_id", item.ColumnID.String()),
			zap.String("task_id", item.ID.String()),
		)
	}
	s.usage.IncTaskMove(actor.OrgID.String())
	return toTaskResponse(item, projectKey), nil
}

func (s *Service) Archive(ctx context.Context, actor tenant.Context, taskID string) (*domain.TaskResponse, error) {
	if !actor.Role.CanWrite() {
		return nil, domain.ErrForbidden
	}
	itemID, ok := parseID(taskID)
	if !ok {
		return nil, domain.ErrTaskNotFound
	}

	var (
		item       *domain.Item
		projectKey string
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := rls.WithTenant(tx, actor.OrgID); err != nil {
			return err
		}
		repo := s.repo.WithTx(tx)

		loaded, err := s.loadForUpdate(ctx, repo, actor, itemID)
		if err != nil {
			return err
		}
		item = loaded

		projectKey, err = repo.ProjectKey(ctx, actor.OrgID, item.ProjectID)
		if err != nil {
			return err
		}
		if item.Archived {
			return nil
		}

		if err := repo.SetArchived(ctx, actor.OrgID, item.ID, true); err != nil {
			return err
		}
		item.Archived = true

		err = s.audit.RecordArchived(ctx, tx, actor,
			auditdomain.ItemRef{ID: item.ID, ProjectID: item.ProjectID}, false)
		if err != nil {
			return err
		}

		return s.publisher.WithTx(tx).Publish(ctx, events.Event{
			OrgID: actor.OrgID,
			Type:  events.EventTaskArchived,
			Payload: events.TaskEventPayload{
				TaskID:    item.ID.String(),
				DisplayID: displayID(projectKey, item.SequenceNumber),
				OrgID:     actor.OrgID.String(),
				ProjectID: item.ProjectID.String(),
				ActorID:   actor.UserID.String(),
			}.ToMap(),
		})
	})
	if err != nil {
		return nil, err
	}
	return toTaskResponse(item, projectKey), nil
}

func (s *Service) Unarchive(ctx context.Context, actor tenant.Context, taskID string) (*domain.TaskResponse, error) {
	if !actor.Role.CanWrite() {
		return nil, domain.ErrForbidden
	}
	itemID, ok := parseID(taskID)
	if !ok {
		return nil, domain.ErrTaskNotFound
	}

	var (
		item       *domain.Item
		projectKey string
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := rls.WithTenant(tx, actor.OrgID); err != nil {
			return err
		}
		repo := s.repo.WithTx(tx)

		loaded, err := s.loadForUpdate(ctx, repo, actor, itemID)
		if err != nil {
			return err
		}
		item = loaded

		projectKey, err = repo.ProjectKey(ctx, actor.OrgID, item.ProjectID)
		if err != nil {
			return err
		}
		if !item.Archived {
			return nil
		}

		// The old slot may be occupied by now, so restore to the tail.
		tail, found, err := repo.TailKey(ctx, actor.OrgID, item.ColumnID)
		if err != nil {
			return err
		}
		key := position.Initial()
		if found {
			key = position.Tail(tail)
		}
		if err := repo.RestorePlacement(ctx, actor.OrgID, item.ID, key); err != nil {
			return err
		}
		item.Archived = false
		item.OrderKey = key

		err = s.audit.RecordArchived(ctx, tx, actor,
			auditdomain.ItemRef{ID: item.ID, ProjectID: item.ProjectID}, true)
		if err != nil {
			return err
		}

		return s.publisher.WithTx(tx).Publish(ctx, events.Event{
			OrgID: actor.OrgID,
			Type:  events.EventTaskUnarchived,
			Payload: events.TaskEventPayload{
				TaskID:    item.ID.String(),
				DisplayID: displayID(projectKey, item.SequenceNumber),
				OrgID:     actor.OrgID.String(),
				ProjectID: item.ProjectID.String(),
				ColumnID:  item.ColumnID.String(),
				ActorID:   actor.UserID.String(),
			}.ToMap(),
		})
	})
	if err != nil {
		return nil, err
	}
	return toTaskResponse(item, projectKey), nil
}

func (s *Service) Delete(ctx context.Context, actor tenant.Context, taskID string) error {
	if !actor.Role.Elevated() {
		return domain.ErrForbidden
	}
	itemID, ok := parseID(taskID)
	if !ok {
		return domain.ErrTaskNotFound
	}

	var display string
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := rls.WithTenant(tx, actor.OrgID); err != nil {
			return err
		}
		repo := s.repo.WithTx(tx)

		item, err := s.loadForUpdate(ctx, repo, actor, itemID)
		if err != nil {
			return err
		}

		projectKey, err := repo.ProjectKey(ctx, actor.OrgID, item.ProjectID)
		if err != nil {
			return err
		}
		display = displayID(projectKey, item.SequenceNumber)

		// History goes with the task.
		if err := repo.DeleteItemTrail(ctx, item.ID); err != nil {
			return err
		}
		if err := repo.Delete(ctx, actor.OrgID, item.ID); err != nil {
			return err
		}

		return s.publisher.WithTx(tx).Publish(ctx, events.Event{
			OrgID: actor.OrgID,
			Type:  events.EventTaskDeleted,
			Payload: events.TaskEventPayload{
				TaskID:    item.ID.String(),
				DisplayID: display,
				OrgID:     actor.OrgID.String(),
				ProjectID: item.ProjectID.String(),
				ActorID:   actor.UserID.String(),
			}.ToMap(),
		})
	})
	if err != nil {
		return err
	}

	s.log.Info("task deleted",
		zap.String("task_id", itemID.String()),
		zap.String("display_id", display),
	)
	return nil
}

// loadForUpdate claims the task row for the rest of the transaction. A
// bounded wait keeps a stuck peer from pinning the request.
func (s *Service) loadForUpdate(ctx context.Context, repo domain.Repository, actor tenant.Context, itemID snowflake.ID) (*domain.Item, error) {
	claimCtx, cancel := context.WithTimeout(ctx, claimTimeout)
	defer cancel()

	item, err := repo.GetForUpdate(claimCtx, actor.OrgID, itemID)
	if err != nil {
		if db.IsLockContention(err) || db.IsSerializationFailure(err) {
			return nil, domain.ErrMoveConflict
		}
		return nil, err
	}
	if item == nil {
		return nil, domain.ErrTaskNotFound
	}
	if actor.ProjectID != 0 && item.ProjectID != actor.ProjectID {
		return nil, domain.ErrTaskNotFound
	}
	return item, nil
}

func (s *Service) applyUpdate(ctx context.Context, repo domain.Repository, actor tenant.Context, item *domain.Item, req domain.UpdateTaskRequest) ([]auditdomain.FieldChange, error) {
	var changes []auditdomain.FieldChange

	if req.Title != nil {
		title := strings.TrimSpace(*req.Title)
		if title != item.Title {
			changes = append(changes, fieldChange(auditdomain.FieldTitle, item.Title, title))
			item.Title = title
		}
	}
	if req.Description != nil {
		description := strings.TrimSpace(*req.Description)
		if description != item.Description {
			changes = append(changes, fieldChange(auditdomain.FieldDescription, item.Description, description))
			item.Description = description
		}
	}
	if req.Priority != nil {
		priority := domain.Priority(strings.ToLower(strings.TrimSpace(*req.Priority)))
		if priority != item.Priority {
			changes = append(changes, fieldChange(auditdomain.FieldPriority, string(item.Priority), string(priority)))
			item.Priority = priority
		}
	}
	if req.Category != nil {
		category := strings.TrimSpace(*req.Category)
		if category != item.Category {
			changes = append(changes, fieldChange(auditdomain.FieldCategory, item.Category, category))
			item.Category = category
		}
	}
	if req.Tags != nil {
		tags, err := normalizeTags(*req.Tags)
		if err != nil {
			return nil, err
		}
		if tagsText(item.Tags) != tagsText(tags) {
			changes = append(changes, fieldChange(auditdomain.FieldTags, tagsText(item.Tags), tagsText(tags)))
			item.Tags = tags
		}
	}

	switch {
	case req.ClearAssignee:
		if item.AssigneeID != nil {
			changes = append(changes, fieldChange(auditdomain.FieldAssignee, item.AssigneeID.String(), ""))
			item.AssigneeID = nil
		}
	case req.AssigneeID != nil && strings.TrimSpace(*req.AssigneeID) != "":
		id, ok := parseID(*req.AssigneeID)
		if !ok {
			return nil, domain.ErrInvalidAssignee
		}
		member, err := repo.OrgMemberExists(ctx, actor.OrgID, id)
		if err != nil {
			return nil, err
		}
		if !member {
			return nil, domain.ErrInvalidAssignee
		}
		if item.AssigneeID == nil || *item.AssigneeID != id {
			old := ""
			if item.AssigneeID != nil {
				old = item.AssigneeID.String()
			}
			changes = append(changes, fieldChange(auditdomain.FieldAssignee, old, id.String()))
			item.AssigneeID = &id
		}
	}

	switch {
	case req.ClearDueDate:
		if item.DueDate != nil {
			changes = append(changes, fieldChange(auditdomain.FieldDueDate, dueDateText(item.DueDate), ""))
			item.DueDate = nil
		}
	case req.DueDate != nil:
		due := req.DueDate.UTC()
		if item.DueDate == nil || !item.DueDate.Equal(due) {
			changes = append(changes, fieldChange(auditdomain.FieldDueDate, dueDateText(item.DueDate), dueDateText(&due)))
			item.DueDate = &due
		}
	}

	return changes, nil
}

// rebalanceColumn rewrites the column's live keys to the default spacing in
// current order. The first pass parks keys below the occupied range because
// the ordering index checks each row as it lands.
func (s *Service) rebalanceColumn(ctx context.Context, repo domain.Repository, orgID, columnID snowflake.ID) error {
	claimCtx, cancel := context.WithTimeout(ctx, claimTimeout)
	defer cancel()

	placements, err := repo.LockColumnItems(claimCtx, orgID, columnID)
	if err != nil {
		if db.IsLockContention(err) || db.IsSerializationFailure(err) {
			return domain.ErrMoveConflict
		}
		return err
	}
	if len(placements) == 0 {
		return nil
	}

	parkBase := placements[0].OrderKey
	for i := range placements {
		if err := repo.SetOrderKey(ctx, placements[i].ID, parkBase-float64(i+1)*position.DefaultGap); err != nil {
			return err
		}
	}

	keys := position.Rebalance(len(placements))
	for i := range placements {
		if err := repo.SetOrderKey(ctx, placements[i].ID, keys[i]); err != nil {
			return err
		}
	}
	return nil
}

// resolveItemKey validates the requested neighbors against the target
// column's live order and returns the key for the insertion point. A stale
// or foreign neighbor is a conflict, never silently corrected.
func resolveItemKey(ctx context.Context, repo domain.Repository, orgID, targetColumnID snowflake.ID, moving *domain.Item, beforeID, afterID snowflake.ID) (float64, error) {
	switch {
	case beforeID == 0 && afterID == 0:
		count, err := repo.CountActive(ctx, orgID, targetColumnID)
		if err != nil {
			return 0, err
		}
		if moving.ColumnID == targetColumnID && !moving.Archived {
			count--
		}
		if count > 0 {
			return 0, domain.ErrMoveConflict
		}
		return position.Initial(), nil

	case beforeID != 0 && afterID == 0:
		before, err := repo.GetPlacement(ctx, orgID, targetColumnID, beforeID)
		if err != nil {
			return 0, err
		}
		if before == nil {
			return 0, domain.ErrMoveConflict
		}
		above, err := repo.CountKeysAbove(ctx, orgID, targetColumnID, moving.ID, before.OrderKey)
		if err != nil {
			return 0, err
		}
		if above > 0 {
			return 0, domain.ErrMoveConflict
		}
		return position.Tail(before.OrderKey), nil

	case beforeID == 0:
		after, err := repo.GetPlacement(ctx, orgID, targetColumnID, afterID)
		if err != nil {
			return 0, err
		}
		if after == nil {
			return 0, domain.ErrMoveConflict
		}
		below, err := repo.CountKeysBelow(ctx, orgID, targetColumnID, moving.ID, after.OrderKey)
		if err != nil {
			return 0, err
		}
		if below > 0 {
			return 0, domain.ErrMoveConflict
		}
		return position.Head(after.OrderKey), nil

	default:
		before, err := repo.GetPlacement(ctx, orgID, targetColumnID, beforeID)
		if err != nil {
			return 0, err
		}
		after, err := repo.GetPlacement(ctx, orgID, targetColumnID, afterID)
		if err != nil {
			return 0, err
		}
		if before == nil || after == nil || before.OrderKey >= after.OrderKey {
			return 0, domain.ErrMoveConflict
		}
		between, err := repo.CountKeysBetween(ctx, orgID, targetColumnID, moving.ID, before.OrderKey, after.OrderKey)
		if err != nil {
			return 0, err
		}
		if between > 0 {
			return 0, domain.ErrMoveConflict
		}
		return position.Between(before.OrderKey, after.OrderKey)
	}
}

func checkWIP(ctx context.Context, repo domain.Repository, orgID snowflake.ID, column *domain.ColumnInfo) error {
	if column.WIPLimit == nil {
		return nil
	}
	count, err := repo.CountActive(ctx, orgID, column.ID)
	if err != nil {
		return err
	}
	if count >= int64(*column.WIPLimit) {
		return domain.ErrWIPLimitExceeded
	}
	return nil
}

func validateUpdate(req domain.UpdateTaskRequest) error {
	if req.Title != nil {
		title := strings.TrimSpace(*req.Title)
		if title == "" || len(title) > domain.MaxTitleLen {
			return domain.ErrInvalidTitle
		}
	}
	if req.Description != nil && len(strings.TrimSpace(*req.Description)) > domain.MaxDescriptionLen {
		return domain.ErrInvalidDescription
	}
	if req.Priority != nil {
		priority := domain.Priority(strings.ToLower(strings.TrimSpace(*req.Priority)))
		if !priority.Valid() {
			return domain.ErrInvalidPriority
		}
	}
	if req.Category != nil && len(strings.TrimSpace(*req.Category)) > domain.MaxCategoryLen {
		return domain.ErrInvalidCategory
	}
	return nil
}

func normalizeTags(tags []string) (datatypes.JSON, error) {
	if len(tags) == 0 {
		return nil, nil
	}
	if len(tags) > domain.MaxTags {
		return nil, domain.ErrInvalidTags
	}

	cleaned := make([]string, 0, len(tags))
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			continue
		}
		if len(tag) > domain.MaxTagLen {
			return nil, domain.ErrInvalidTags
		}
		cleaned = append(cleaned, tag)
	}
	if len(cleaned) == 0 {
		return nil, nil
	}

	raw, err := json.Marshal(cleaned)
	if err != nil {
		return nil, domain.ErrInvalidTags
	}
	return datatypes.JSON(raw), nil
}

func tagsText(tags datatypes.JSON) string {
	if len(tags) == 0 {
		return ""
	}
	return string(tags)
}

func dueDateText(due *time.Time) string {
	if due == nil {
		return ""
	}
	return due.UTC().Format(time.RFC3339)
}

func fieldChange(field, old, new string) auditdomain.FieldChange {
	change := auditdomain.FieldChange{Field: field}
	if old != "" {
		change.Old = &old
	}
	if new != "" {
		change.New = &new
	}
	return change
}

func toTaskResponse(item *domain.Item, projectKey string) *domain.TaskResponse {
	resp := &domain.TaskResponse{
		ID:             item.ID.String(),
		DisplayID:      displayID(projectKey, item.SequenceNumber),
		ProjectID:      item.ProjectID.String(),
		ColumnID:       item.ColumnID.String(),
		SequenceNumber: item.SequenceNumber,
		OrderKey:       item.OrderKey,
		Title:          item.Title,
		Description:    item.Description,
		Priority:       item.Priority,
		Category:       item.Category,
		DueDate:        item.DueDate,
		Archived:       item.Archived,
		CreatedAt:      item.CreatedAt,
		UpdatedAt:      item.UpdatedAt,
	}
	if item.AssigneeID != nil {
		resp.AssigneeID = item.AssigneeID.String()
	}
	if len(item.Tags) > 0 {
		var tags []string
		if err := json.Unmarshal(item.Tags, &tags); err == nil {
			resp.Tags = tags
		}
	}
	return resp
}

func displayID(projectKey string, seq int64) string {
	return fmt.Sprintf("%s-%d", projectKey, seq)
}

// pageSize mirrors the bounds ApplyPagination enforces so the trim after
// BuildCursorPageInfo agrees with the query limit.
func pageSize(size int) int {
	if size <= 0 {
		return 10
	}
	if size > 250 {
		return 250
	}
	return size
}

func parseID(raw string) (snowflake.ID, bool) {
	id, err := snowflake.ParseString(strings.TrimSpace(raw))
	if err != nil || id == 0 {
		return 0, false
	}
	return id, true
}

func parseOptionalID(raw *string) (snowflake.ID, bool) {
	if raw == nil || strings.TrimSpace(*raw) == "" {
		return 0, true
	}
	return parseID(*raw)
}

func escapeLike(value string) string {
	value = strings.ReplaceAll(value, `\`, `\\`)
	value = strings.ReplaceAll(value, "%", `\%`)
	return strings.ReplaceAll(value, "_", `\_`)
}

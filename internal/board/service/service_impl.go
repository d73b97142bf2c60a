package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/tracklane/tracklane/internal/audit/domain"
	"github.com/tracklane/tracklane/internal/board/domain"
	"github.com/tracklane/tracklane/internal/config"
	"github.com/tracklane/tracklane/internal/events"
	"github.com/tracklane/tracklane/internal/item/position"
	"github.com/tracklane/tracklane/internal/tenant"
	"github.com/tracklane/tracklane/internal/usagestats"
	"github.com/tracklane/tracklane/pkg/db"
	"github.com/tracklane/tracklane/pkg/rls"
	"github.com/tracklane/tracklane/pkg/telemetry"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const defaultTemplate = "kanban"

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	GenID     *snowflake.Node
	Repo      domain.Repository
	Templates *config.BoardTemplatesHolder
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
	templates *config.BoardTemplatesHolder
	audit     auditdomain.Service
	publisher events.Publisher
	metrics   *telemetry.Metrics
	usage     *usagestats.Stats
}

func NewService(p Params) domain.Service {
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("board.service"),
		genID:     p.GenID,
		repo:      p.Repo,
		templates: p.Templates,
		audit:     p.Audit,
		publisher: p.Publisher,
		metrics:   p.Metrics,
		usage:     p.Usage,
	}
}

func (s *Service) Create(ctx context.Context, actor tenant.Context, req domain.CreateBoardRequest) (*domain.BoardResponse, error) {
	if !actor.Role.Elevated() {
		return nil, domain.ErrForbidden
	}
	if req.ProjectID == 0 {
		return nil, domain.ErrBoardNotFound
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = "Board"
	}
	if len(name) > 100 {
		return nil, domain.ErrInvalidName
	}

	templateName := strings.ToLower(strings.TrimSpace(req.Template))
	if templateName == "" {
		templateName = defaultTemplate
	}
	template, ok := s.templates.Find(templateName)
	if !ok {
		return nil, domain.ErrTemplateNotFound
	}

	now := time.Now().UTC()
	board := &domain.Board{
		ID:        s.genID.Generate(),
		OrgID:     actor.OrgID,
		ProjectID: req.ProjectID,
		Name:      name,
		CreatedAt: now,
		UpdatedAt: now,
	}

	keys := position.Rebalance(len(template.Columns))
	columns := make([]domain.Column, 0, len(template.Columns))
	for i, tc := range template.Columns {
		columns = append(columns, domain.Column{
			ID:        s.genID.Generate(),
			OrgID:     actor.OrgID,
			BoardID:   board.ID,
			Name:      tc.Name,
			Color:     tc.Color,
			OrderKey:  keys[i],
			CreatedAt: now,
			UpdatedAt: now,
		})
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := rls.WithTenant(tx, actor.OrgID); err != nil {
			return err
		}
		repo := s.repo.WithTx(tx)

		exists, err := repo.ProjectExists(ctx, actor.OrgID, req.ProjectID)
		if err != nil {
			return err
		}
		if !exists {
			return domain.ErrBoardNotFound
		}

		if err := repo.InsertBoard(ctx, board); err != nil {
			return err
		}
		for i := range columns {
			if err := repo.InsertColumn(ctx, &columns[i]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("board created",
		zap.String("board_id", board.ID.String()),
		zap.String("project_id", req.ProjectID.String()),
		zap.String("template", templateName),
	)
	return toBoardResponse(board, columns), nil
}

func (s *Service) GetByProject(ctx context.Context, actor tenant.Context, projectID snowflake.ID) (*domain.BoardResponse, error) {
	if projectID == 0 {
		return nil, domain.ErrBoardNotFound
	}

	board, err := s.repo.GetBoardByProject(ctx, actor.OrgID, projectID)
	if err != nil {
		return nil, err
	}
	if board == nil {
		return nil, domain.ErrBoardNotFound
	}

	columns, err := s.repo.ColumnsByBoard(ctx, actor.OrgID, board.ID)
	if err != nil {
		return nil, err
	}
	return toBoardResponse(board, columns), nil
}

func (s *Service) AddColumn(ctx context.Context, actor tenant.Context, req domain.AddColumnRequest) (*domain.ColumnResponse, error) {
	if !actor.Role.Elevated() {
		return nil, domain.ErrForbidden
	}
	boardID, ok := parseID(req.BoardID)
	if !ok {
		return nil, domain.ErrBoardNotFound
	}

	name := strings.TrimSpace(req.Name)
	if name == "" || len(name) > 50 {
		return nil, domain.ErrInvalidName
	}
	color := strings.TrimSpace(req.Color)
	if color != "" && !domain.ColorPattern.MatchString(color) {
		return nil, domain.ErrInvalidColor
	}
	if req.WIPLimit != nil && *req.WIPLimit < 1 {
		return nil, domain.ErrInvalidWIPLimit
	}

	now := time.Now().UTC()
	column := &domain.Column{
		ID:        s.genID.Generate(),
		OrgID:     actor.OrgID,
		Name:      name,
		Color:     color,
		WIPLimit:  req.WIPLimit,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := rls.WithTenant(tx, actor.OrgID); err != nil {
			return err
		}
		repo := s.repo.WithTx(tx)

		board, err := repo.GetBoard(ctx, actor.OrgID, boardID)
		if err != nil {
			return err
		}
		if board == nil {
			return domain.ErrBoardNotFound
		}
		if err := repo.LockBoard(ctx, board.ID); err != nil {
			return err
		}

		columns, err := repo.ColumnsByBoard(ctx, actor.OrgID, board.ID)
		if err != nil {
			return err
		}
		if len(columns) >= domain.MaxColumns {
			return domain.ErrTooManyColumns
		}

		column.BoardID = board.ID
		if len(columns) == 0 {
			column.OrderKey = position.Initial()
		} else {
			column.OrderKey = position.Tail(columns[len(columns)-1].OrderKey)
		}

		if err := repo.InsertColumn(ctx, column); err != nil {
			if db.IsDuplicateKeyErr(err) {
				return domain.ErrMoveConflict
			}
			return err
		}

		return s.publisher.WithTx(tx).Publish(ctx, events.Event{
			OrgID: actor.OrgID,
			Type:  events.EventColumnCreated,
			Payload: events.ColumnEventPayload{
				ColumnID: column.ID.String(),
				BoardID:  board.ID.String(),
				OrgID:    actor.OrgID.String(),
				ActorID:  actor.UserID.String(),
				Name:     column.Name,
			}.ToMap(),
		})
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("column added",
		zap.String("column_id", column.ID.String()),
		zap.String("board_id", column.BoardID.String()),
	)
	resp := toColumnResponse(*column)
	return &resp, nil
}

func (s *Service) UpdateColumn(ctx context.Context, actor tenant.Context, req domain.UpdateColumnRequest) (*domain.ColumnResponse, error) {
	if !actor.Role.Elevated() {
		return nil, domain.ErrForbidden
	}
	columnID, ok := parseID(req.ColumnID)
	if !ok {
		return nil, domain.ErrColumnNotFound
	}
	if req.ClearWIP && req.WIPLimit != nil {
		return nil, domain.ErrInvalidWIPLimit
	}

	var column *domain.Column
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := rls.WithTenant(tx, actor.OrgID); err != nil {
			return err
		}
		repo := s.repo.WithTx(tx)

		loaded, err := repo.GetColumn(ctx, actor.OrgID, columnID)
		if err != nil {
			return err
		}
		if loaded == nil {
			return domain.ErrColumnNotFound
		}
		column = loaded

		if req.Name != nil {
			name := strings.TrimSpace(*req.Name)
			if name == "" || len(name) > 50 {
				return domain.ErrInvalidName
			}
			column.Name = name
		}
		if req.Color != nil {
			color := strings.TrimSpace(*req.Color)
			if color != "" && !domain.ColorPattern.MatchString(color) {
				return domain.ErrInvalidColor
			}
			column.Color = color
		}
		if req.WIPLimit != nil {
			if *req.WIPLimit < 1 {
				return domain.ErrInvalidWIPLimit
			}
			column.WIPLimit = req.WIPLimit
		}
		if req.ClearWIP {
			column.WIPLimit = nil
		}

		column.UpdatedAt = time.Now().UTC()
		return repo.UpdateColumnFields(ctx, column)
	})
	if err != nil {
		return nil, err
	}

	resp := toColumnResponse(*column)
	return &resp, nil
}

func (s *Service) MoveColumn(ctx context.Context, actor tenant.Context, req domain.MoveColumnRequest) (*domain.ColumnResponse, error) {
	if !actor.Role.Elevated() {
		return nil, domain.ErrForbidden
	}
	columnID, ok := parseID(req.ColumnID)
	if !ok {
		return nil, domain.ErrColumnNotFound
	}
	beforeID, ok := parseOptionalID(req.BeforeColumnID)
	if !ok {
		return nil, domain.ErrMoveConflict
	}
	afterID, ok := parseOptionalID(req.AfterColumnID)
	if !ok {
		return nil, domain.ErrMoveConflict
	}

	var column *domain.Column
	rebalanced := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := rls.WithTenant(tx, actor.OrgID); err != nil {
			return err
		}
		repo := s.repo.WithTx(tx)

		loaded, err := repo.GetColumn(ctx, actor.OrgID, columnID)
		if err != nil {
			return err
		}
		if loaded == nil {
			return domain.ErrColumnNotFound
		}
		column = loaded

		if err := repo.LockBoard(ctx, column.BoardID); err != nil {
			return err
		}

		columns, err := repo.ColumnsByBoard(ctx, actor.OrgID, column.BoardID)
		if err != nil {
			return err
		}

		key, err := resolveColumnKey(column.ID, column.OrderKey, columns, beforeID, afterID)
		if errors.Is(err, position.ErrGapExhausted) {
			// Spread the board back out and place once more.
			columns, err = s.rebalanceColumns(ctx, repo, columns)
			if err != nil {
				return err
			}
			rebalanced = true
			for i := range columns {
				if columns[i].ID == column.ID {
					column.OrderKey = columns[i].OrderKey
				}
			}
			key, err = resolveColumnKey(column.ID, column.OrderKey, columns, beforeID, afterID)
			if errors.Is(err, position.ErrGapExhausted) {
				return domain.ErrMoveConflict
			}
		}
		if err != nil {
			return err
		}

		if key == column.OrderKey {
			return nil
		}

		moved, err := repo.MoveColumnKey(ctx, column.ID, column.OrderKey, key)
		if err != nil {
			if db.IsDuplicateKeyErr(err) {
				return domain.ErrMoveConflict
			}
			return err
		}
		if !moved {
			return domain.ErrMoveConflict
		}
		column.OrderKey = key

		return s.publisher.WithTx(tx).Publish(ctx, events.Event{
			OrgID: actor.OrgID,
			Type:  events.EventColumnMoved,
			Payload: events.ColumnEventPayload{
				ColumnID: column.ID.String(),
				BoardID:  column.BoardID.String(),
				OrgID:    actor.OrgID.String(),
				ActorID:  actor.UserID.String(),
			}.ToMap(),
		})
	})
	if err != nil {
		return nil, err
	}

	if rebalanced {
		s.metrics.RecordRebalance("board")
		s.usage.IncRebalance(actor.OrgID.String(), "board")
		s.log.Info("board rebalanced", zap.String("board_id", column.BoardID.String()))
	}

	resp := toColumnResponse(*column)
	return &resp, nil
}

func (s *Service) DeleteColumn(ctx context.Context, actor tenant.Context, rawColumnID string) error {
	if !actor.Role.Elevated() {
		return domain.ErrForbidden
	}
	columnID, ok := parseID(rawColumnID)
	if !ok {
		return domain.ErrColumnNotFound
	}

	var movedTasks int
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := rls.WithTenant(tx, actor.OrgID); err != nil {
			return err
		}
		repo := s.repo.WithTx(tx)

		column, err := repo.GetColumn(ctx, actor.OrgID, columnID)
		if err != nil {
			return err
		}
		if column == nil {
			return domain.ErrColumnNotFound
		}

		board, err := repo.GetBoard(ctx, actor.OrgID, column.BoardID)
		if err != nil {
			return err
		}
		if board == nil {
			return domain.ErrColumnNotFound
		}
		if err := repo.LockBoard(ctx, board.ID); err != nil {
			return err
		}

		columns, err := repo.ColumnsByBoard(ctx, actor.OrgID, board.ID)
		if err != nil {
			return err
		}
		if len(columns) <= 1 {
			return domain.ErrLastColumn
		}

		// Orphaned tasks land at the tail of the first remaining column.
		var target *domain.Column
		for i := range columns {
			if columns[i].ID != column.ID {
				target = &columns[i]
				break
			}
		}
		if target == nil {
			return domain.ErrLastColumn
		}

		items, err := repo.ItemsInColumn(ctx, actor.OrgID, column.ID)
		if err != nil {
			return err
		}
		maxKey, err := repo.MaxItemKey(ctx, actor.OrgID, target.ID)
		if err != nil {
			return err
		}

		for i, item := range items {
			newKey := maxKey + float64(i+1)*position.DefaultGap
			if err := repo.RelocateItem(ctx, actor.OrgID, item.ID, target.ID, newKey); err != nil {
				return err
			}
			err := s.audit.RecordMoved(ctx, tx, actor,
				auditdomain.ItemRef{ID: item.ID, ProjectID: board.ProjectID},
				auditdomain.MovedChange{
					FromColumnID: column.ID,
					ToColumnID:   target.ID,
					FromColumn:   column.Name,
					ToColumn:     target.Name,
					OldOrderKey:  item.OrderKey,
					NewOrderKey:  newKey,
				})
			if err != nil {
				return err
			}
		}
		movedTasks = len(items)

		if err := repo.DeleteColumn(ctx, column.ID); err != nil {
			return err
		}

		payload := events.ColumnEventPayload{
			ColumnID: column.ID.String(),
			BoardID:  board.ID.String(),
			OrgID:    actor.OrgID.String(),
			ActorID:  actor.UserID.String(),
			Name:     column.Name,
		}.ToMap()
		payload["moved_tasks"] = movedTasks

		return s.publisher.WithTx(tx).Publish(ctx, events.Event{
			OrgID:   actor.OrgID,
			Type:    events.EventColumnDeleted,
			Payload: payload,
		})
	})
	if err != nil {
		return err
	}

	s.log.Info("column deleted",
		zap.String("column_id", columnID.String()),
		zap.Int("moved_tasks", movedTasks),
	)
	return nil
}

// rebalanceColumns rewrites every key to the default spacing in current
// order. Keys are first parked below the occupied range because the unique
// index checks each row as it lands.
func (s *Service) rebalanceColumns(ctx context.Context, repo domain.Repository, columns []domain.Column) ([]domain.Column, error) {
	if len(columns) == 0 {
		return columns, nil
	}

	parkBase := columns[0].OrderKey
	for i := range columns {
		if err := repo.SetColumnKey(ctx, columns[i].ID, parkBase-float64(i+1)*position.DefaultGap); err != nil {
			return nil, err
		}
	}

	keys := position.Rebalance(len(columns))
	for i := range columns {
		if err := repo.SetColumnKey(ctx, columns[i].ID, keys[i]); err != nil {
			return nil, err
		}
		columns[i].OrderKey = keys[i]
	}
	return columns, nil
}

// resolveColumnKey validates the requested neighbors against the current
// board order and returns the key for the insertion point. Neighbors that
// are stale, foreign, or not where the caller believes they are surface as
// a conflict rather than being silently corrected.
func resolveColumnKey(movingID snowflake.ID, currentKey float64, columns []domain.Column, beforeID, afterID snowflake.ID) (float64, error) {
	others := make([]domain.Column, 0, len(columns))
	for _, col := range columns {
		if col.ID != movingID {
			others = append(others, col)
		}
	}

	find := func(id snowflake.ID) int {
		for i := range others {
			if others[i].ID == id {
				return i
			}
		}
		return -1
	}

	switch {
	case beforeID == 0 && afterID == 0:
		if len(others) == 0 {
			return currentKey, nil
		}
		return 0, domain.ErrMoveConflict

	case beforeID != 0 && afterID == 0:
		i := find(beforeID)
		if i < 0 || i != len(others)-1 {
			return 0, domain.ErrMoveConflict
		}
		return position.Tail(others[i].OrderKey), nil

	case beforeID == 0:
		i := find(afterID)
		if i != 0 {
			return 0, domain.ErrMoveConflict
		}
		return position.Head(others[i].OrderKey), nil

	default:
		i := find(beforeID)
		if i < 0 || i+1 >= len(others) || others[i+1].ID != afterID {
			return 0, domain.ErrMoveConflict
		}
		return position.Between(others[i].OrderKey, others[i+1].OrderKey)
	}
}

func toBoardResponse(board *domain.Board, columns []domain.Column) *domain.BoardResponse {
	resp := &domain.BoardResponse{
		ID:        board.ID.String(),
		ProjectID: board.ProjectID.String(),
		Name:      board.Name,
		Columns:   make([]domain.ColumnResponse, 0, len(columns)),
	}
	for _, col := range columns {
		resp.Columns = append(resp.Columns, toColumnResponse(col))
	}
	return resp
}

func toColumnResponse(col domain.Column) domain.ColumnResponse {
	return domain.ColumnResponse{
		ID:       col.ID.String(),
		BoardID:  col.BoardID.String(),
		Name:     col.Name,
		Color:    col.Color,
		WIPLimit: col.WIPLimit,
		OrderKey: col.OrderKey,
	}
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

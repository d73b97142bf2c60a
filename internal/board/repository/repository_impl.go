package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/tracklane/tracklane/internal/board/domain"
	"gorm.io/gorm"
)

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) domain.Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) domain.Repository {
	return &repository{db: tx}
}

func (r *repository) InsertBoard(ctx context.Context, board *domain.Board) error {
	return r.db.WithContext(ctx).Exec(
		`INSERT INTO boards (id, org_id, project_id, name, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		board.ID,
		board.OrgID,
		board.ProjectID,
		board.Name,
		board.CreatedAt,
		board.UpdatedAt,
	).Error
}

func (r *repository) GetBoard(ctx context.Context, orgID, boardID snowflake.ID) (*domain.Board, error) {
	var board domain.Board
	err := r.db.WithContext(ctx).Raw(
		`SELECT id, org_id, project_id, name, created_at, updated_at
		 FROM boards WHERE org_id = ? AND id = ?`,
		orgID,
		boardID,
	).Scan(&board).Error
	if err != nil {
		return nil, err
	}
	if board.ID == 0 {
		return nil, nil
	}
	return &board, nil
}

func (r *repository) GetBoardByProject(ctx context.Context, orgID, projectID snowflake.ID) (*domain.Board, error) {
	var board domain.Board
	err := r.db.WithContext(ctx).Raw(
		`SELECT id, org_id, project_id, name, created_at, updated_at
		 FROM boards WHERE org_id = ? AND project_id = ?
		 ORDER BY created_at ASC, id ASC
		 LIMIT 1`,
		orgID,
		projectID,
	).Scan(&board).Error
	if err != nil {
		return nil, err
	}
	if board.ID == 0 {
		return nil, nil
	}
	return &board, nil
}

// LockBoard serializes structural changes on one board. Cross-board work is
// never blocked.
func (r *repository) LockBoard(ctx context.Context, boardID snowflake.ID) error {
	var locked struct{ ID snowflake.ID }
	return r.db.WithContext(ctx).Raw(
		`SELECT id FROM boards WHERE id = ? FOR UPDATE`,
		boardID,
	).Scan(&locked).Error
}

func (r *repository) ProjectExists(ctx context.Context, orgID, projectID snowflake.ID) (bool, error) {
	var row struct{ ID snowflake.ID }
	err := r.db.WithContext(ctx).Raw(
		`SELECT id FROM projects WHERE org_id = ? AND id = ?`,
		orgID,
		projectID,
	).Scan(&row).Error
	if err != nil {
		return false, err
	}
	return row.ID != 0, nil
}

func (r *repository) InsertColumn(ctx context.Context, column *domain.Column) error {
	return r.db.WithContext(ctx).Exec(
		`INSERT INTO board_columns (id, org_id, board_id, name, color, wip_limit, order_key, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		column.ID,
		column.OrgID,
		column.BoardID,
		column.Name,
		column.Color,
		column.WIPLimit,
		column.OrderKey,
		column.CreatedAt,
		column.UpdatedAt,
	).Error
}

func (r *repository) GetColumn(ctx context.Context, orgID, columnID snowflake.ID) (*domain.Column, error) {
	var column domain.Column
	err := r.db.WithContext(ctx).Raw(
		`SELECT id, org_id, board_id, name, color, wip_limit, order_key, created_at, updated_at
		 FROM board_columns WHERE org_id = ? AND id = ?`,
		orgID,
		columnID,
	).Scan(&column).Error
	if err != nil {
		return nil, err
	}
	if column.ID == 0 {
		return nil, nil
	}
	return &column, nil
}

func (r *repository) ColumnsByBoard(ctx context.Context, orgID, boardID snowflake.ID) ([]domain.Column, error) {
	var columns []domain.Column
	err := r.db.WithContext(ctx).Raw(
		`SELECT id, org_id, board_id, name, color, wip_limit, order_key, created_at, updated_at
		 FROM board_columns WHERE org_id = ? AND board_id = ?
		 ORDER BY order_key ASC`,
		orgID,
		boardID,
	).Scan(&columns).Error
	if err != nil {
		return nil, err
	}
	return columns, nil
}

func (r *repository) UpdateColumnFields(ctx context.Context, column *domain.Column) error {
	return r.db.WithContext(ctx).Exec(
		`UPDATE board_columns SET name = ?, color = ?, wip_limit = ?, updated_at = ?
		 WHERE id = ? AND org_id = ?`,
		column.Name,
		column.Color,
		column.WIPLimit,
		column.UpdatedAt,
		column.ID,
		column.OrgID,
	).Error
}

// MoveColumnKey only lands when the column still sits where the caller saw
// it, so a stale reorder surfaces instead of clobbering a concurrent one.
func (r *repository) MoveColumnKey(ctx context.Context, columnID snowflake.ID, fromKey, toKey float64) (bool, error) {
	res := r.db.WithContext(ctx).Exec(
		`UPDATE board_columns SET order_key = ?, updated_at = ?
		 WHERE id = ? AND order_key = ?`,
		toKey,
		time.Now().UTC(),
		columnID,
		fromKey,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repository) SetColumnKey(ctx context.Context, columnID snowflake.ID, key float64) error {
	return r.db.WithContext(ctx).Exec(
		`UPDATE board_columns SET order_key = ?, updated_at = ? WHERE id = ?`,
		key,
		time.Now().UTC(),
		columnID,
	).Error
}

func (r *repository) DeleteColumn(ctx context.Context, columnID snowflake.ID) error {
	return r.db.WithContext(ctx).Exec(
		`DELETE FROM board_columns WHERE id = ?`,
		columnID,
	).Error
}

func (r *repository) ItemsInColumn(ctx context.Context, orgID, columnID snowflake.ID) ([]domain.ItemPlacement, error) {
	var items []domain.ItemPlacement
	err := r.db.WithContext(ctx).Raw(
		`SELECT id, order_key FROM tasks
		 WHERE org_id = ? AND column_id = ?
		 ORDER BY order_key ASC`,
		orgID,
		columnID,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repository) MaxItemKey(ctx context.Context, orgID, columnID snowflake.ID) (float64, error) {
	var row struct{ MaxKey *float64 }
	err := r.db.WithContext(ctx).Raw(
		`SELECT MAX(order_key) AS max_key FROM tasks WHERE org_id = ? AND column_id = ?`,
		orgID,
		columnID,
	).Scan(&row).Error
	if err != nil {
		return 0, err
	}
	if row.MaxKey == nil {
		return 0, nil
	}
	return *row.MaxKey, nil
}

func (r *repository) RelocateItem(ctx context.Context, orgID, itemID, toColumnID snowflake.ID, orderKey float64) error {
	return r.db.WithContext(ctx).Exec(
		`UPDATE tasks SET column_id = ?, order_key = ?, updated_at = ?
		 WHERE id = ? AND org_id = ?`,
		toColumnID,
		orderKey,
		time.Now().UTC(),
		itemID,
		orgID,
	).Error
}

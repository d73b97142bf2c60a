package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/tracklane/tracklane/internal/item/domain"
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

const itemColumns = `id, org_id, project_id, column_id, sequence_number, order_key,
	title, description, priority, category, tags, assignee_id, due_date,
	archived, created_at, updated_at`

func (r *repository) Insert(ctx context.Context, item *domain.Item) error {
	return r.db.WithContext(ctx).Exec(
		`INSERT INTO tasks (`+itemColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		item.ID,
		item.OrgID,
		item.ProjectID,
		item.ColumnID,
		item.SequenceNumber,
		item.OrderKey,
		item.Title,
		item.Description,
		item.Priority,
		item.Category,
		item.Tags,
		item.AssigneeID,
		item.DueDate,
		item.Archived,
		item.CreatedAt,
		item.UpdatedAt,
	).Error
}

func (r *repository) Get(ctx context.Context, orgID, itemID snowflake.ID) (*domain.Item, error) {
	return r.get(ctx, orgID, itemID, false)
}

func (r *repository) GetForUpdate(ctx context.Context, orgID, itemID snowflake.ID) (*domain.Item, error) {
	return r.get(ctx, orgID, itemID, true)
}

func (r *repository) get(ctx context.Context, orgID, itemID snowflake.ID, forUpdate bool) (*domain.Item, error) {
	query := `SELECT ` + itemColumns + ` FROM tasks WHERE org_id = ? AND id = ?`
	if forUpdate {
		query += " FOR UPDATE"
	}

	var item domain.Item
	err := r.db.WithContext(ctx).Raw(query, orgID, itemID).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repository) UpdateFields(ctx context.Context, item *domain.Item) error {
	return r.db.WithContext(ctx).Exec(
		`UPDATE tasks SET title = ?, description = ?, priority = ?, category = ?,
			tags = ?, assignee_id = ?, due_date = ?, updated_at = ?
		 WHERE id = ? AND org_id = ?`,
		item.Title,
		item.Description,
		item.Priority,
		item.Category,
		item.Tags,
		item.AssigneeID,
		item.DueDate,
		item.UpdatedAt,
		item.ID,
		item.OrgID,
	).Error
}

// MovePlacement lands only when the task still sits exactly where the caller
// read it, so concurrent moves of the same task surface as conflicts.
func (r *repository) MovePlacement(ctx context.Context, orgID, itemID, fromColumnID snowflake.ID, fromKey float64, toColumnID snowflake.ID, toKey float64) (bool, error) {
	res := r.db.WithContext(ctx).Exec(
		`UPDATE tasks SET column_id = ?, order_key = ?, updated_at = ?
		 WHERE id = ? AND org_id = ? AND column_id = ? AND order_key = ?`,
		toColumnID,
		toKey,
		time.Now().UTC(),
		itemID,
		orgID,
		fromColumnID,
		fromKey,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repository) SetArchived(ctx context.Context, orgID, itemID snowflake.ID, archived bool) error {
	return r.db.WithContext(ctx).Exec(
		`UPDATE tasks SET archived = ?, updated_at = ? WHERE id = ? AND org_id = ?`,
		archived,
		time.Now().UTC(),
		itemID,
		orgID,
	).Error
}

// RestorePlacement reactivates an archived task at a fresh key. Its old
// neighbors may be long gone.
func (r *repository) RestorePlacement(ctx context.Context, orgID, itemID snowflake.ID, orderKey float64) error {
	return r.db.WithContext(ctx).Exec(
		`UPDATE tasks SET archived = ?, order_key = ?, updated_at = ? WHERE id = ? AND org_id = ?`,
		false,
		orderKey,
		time.Now().UTC(),
		itemID,
		orgID,
	).Error
}

func (r *repository) Delete(ctx context.Context, orgID, itemID snowflake.ID) error {
	return r.db.WithContext(ctx).Exec(
		`DELETE FROM tasks WHERE id = ? AND org_id = ?`,
		itemID,
		orgID,
	).Error
}

// DeleteItemTrail removes dependent rows explicitly so the behavior holds on
// engines where the FK cascade is not in place.
func (r *repository) DeleteItemTrail(ctx context.Context, itemID snowflake.ID) error {
	if err := r.db.WithContext(ctx).Exec(`DELETE FROM audit_entries WHERE item_id = ?`, itemID).Error; err != nil {
		return err
	}
	return r.db.WithContext(ctx).Exec(`DELETE FROM comments WHERE item_id = ?`, itemID).Error
}

func (r *repository) ColumnInProject(ctx context.Context, orgID, projectID, columnID snowflake.ID) (*domain.ColumnInfo, error) {
	var info domain.ColumnInfo
	err := r.db.WithContext(ctx).Raw(
		`SELECT c.id, c.board_id, b.project_id, c.name, c.wip_limit
		 FROM board_columns c
		 JOIN boards b ON b.id = c.board_id
		 WHERE c.org_id = ? AND b.project_id = ? AND c.id = ?`,
		orgID,
		projectID,
		columnID,
	).Scan(&info).Error
	if err != nil {
		return nil, err
	}
	if info.ID == 0 {
		return nil, nil
	}
	return &info, nil
}

func (r *repository) ColumnName(ctx context.Context, orgID, columnID snowflake.ID) (string, error) {
	var row struct{ Name string }
	err := r.db.WithContext(ctx).Raw(
		`SELECT name FROM board_columns WHERE org_id = ? AND id = ?`,
		orgID,
		columnID,
	).Scan(&row).Error
	if err != nil {
		return "", err
	}
	return row.Name, nil
}

func (r *repository) ProjectKey(ctx context.Context, orgID, projectID snowflake.ID) (string, error) {
	var row struct{ Key string }
	err := r.db.WithContext(ctx).Raw(
		`SELECT key FROM projects WHERE org_id = ? AND id = ?`,
		orgID,
		projectID,
	).Scan(&row).Error
	if err != nil {
		return "", err
	}
	return row.Key, nil
}

func (r *repository) OrgMemberExists(ctx context.Context, orgID, userID snowflake.ID) (bool, error) {
	var row struct{ ID snowflake.ID }
	err := r.db.WithContext(ctx).Raw(
		`SELECT id FROM organization_members WHERE org_id = ? AND user_id = ?`,
		orgID,
		userID,
	).Scan(&row).Error
	if err != nil {
		return false, err
	}
	return row.ID != 0, nil
}

func (r *repository) GetPlacement(ctx context.Context, orgID, columnID, itemID snowflake.ID) (*domain.Placement, error) {
	var placement domain.Placement
	err := r.db.WithContext(ctx).Raw(
		`SELECT id, order_key FROM tasks
		 WHERE org_id = ? AND column_id = ? AND id = ? AND archived = ?`,
		orgID,
		columnID,
		itemID,
		false,
	).Scan(&placement).Error
	if err != nil {
		return nil, err
	}
	if placement.ID == 0 {
		return nil, nil
	}
	return &placement, nil
}

func (r *repository) TailKey(ctx context.Context, orgID, columnID snowflake.ID) (float64, bool, error) {
	var row struct{ MaxKey *float64 }
	err := r.db.WithContext(ctx).Raw(
		`SELECT MAX(order_key) AS max_key FROM tasks
		 WHERE org_id = ? AND column_id = ? AND archived = ?`,
		orgID,
		columnID,
		false,
	).Scan(&row).Error
	if err != nil {
		return 0, false, err
	}
	if row.MaxKey == nil {
		return 0, false, nil
	}
	return *row.MaxKey, true, nil
}

func (r *repository) CountActive(ctx context.Context, orgID, columnID snowflake.ID) (int64, error) {
	var row struct{ Count int64 }
	err := r.db.WithContext(ctx).Raw(
		`SELECT COUNT(*) AS count FROM tasks
		 WHERE org_id = ? AND column_id = ? AND archived = ?`,
		orgID,
		columnID,
		false,
	).Scan(&row).Error
	if err != nil {
		return 0, err
	}
	return row.Count, nil
}

func (r *repository) CountKeysBetween(ctx context.Context, orgID, columnID, excludeItemID snowflake.ID, low, high float64) (int64, error) {
	var row struct{ Count int64 }
	err := r.db.WithContext(ctx).Raw(
		`SELECT COUNT(*) AS count FROM tasks
		 WHERE org_id = ? AND column_id = ? AND archived = ? AND id <> ?
		   AND order_key > ? AND order_key < ?`,
		orgID,
		columnID,
		false,
		excludeItemID,
		low,
		high,
	).Scan(&row).Error
	if err != nil {
		return 0, err
	}
	return row.Count, nil
}

func (r *repository) CountKeysAbove(ctx context.Context, orgID, columnID, excludeItemID snowflake.ID, key float64) (int64, error) {
	var row struct{ Count int64 }
	err := r.db.WithContext(ctx).Raw(
		`SELECT COUNT(*) AS count FROM tasks
		 WHERE org_id = ? AND column_id = ? AND archived = ? AND id <> ?
		   AND order_key > ?`,
		orgID,
		columnID,
		false,
		excludeItemID,
		key,
	).Scan(&row).Error
	if err != nil {
		return 0, err
	}
	return row.Count, nil
}

func (r *repository) CountKeysBelow(ctx context.Context, orgID, columnID, excludeItemID snowflake.ID, key float64) (int64, error) {
	var row struct{ Count int64 }
	err := r.db.WithContext(ctx).Raw(
		`SELECT COUNT(*) AS count FROM tasks
		 WHERE org_id = ? AND column_id = ? AND archived = ? AND id <> ?
		   AND order_key < ?`,
		orgID,
		columnID,
		false,
		excludeItemID,
		key,
	).Scan(&row).Error
	if err != nil {
		return 0, err
	}
	return row.Count, nil
}

// LockColumnItems claims the column's live tasks so a rebalance cannot
// interleave with a concurrent move.
func (r *repository) LockColumnItems(ctx context.Context, orgID, columnID snowflake.ID) ([]domain.Placement, error) {
	var placements []domain.Placement
	err := r.db.WithContext(ctx).Raw(
		`SELECT id, order_key FROM tasks
		 WHERE org_id = ? AND column_id = ? AND archived = ?
		 ORDER BY order_key ASC
		 FOR UPDATE`,
		orgID,
		columnID,
		false,
	).Scan(&placements).Error
	if err != nil {
		return nil, err
	}
	return placements, nil
}

func (r *repository) SetOrderKey(ctx context.Context, itemID snowflake.ID, key float64) error {
	return r.db.WithContext(ctx).Exec(
		`UPDATE tasks SET order_key = ?, updated_at = ? WHERE id = ?`,
		key,
		time.Now().UTC(),
		itemID,
	).Error
}

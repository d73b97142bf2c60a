package repository

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/tracklane/tracklane/internal/audit/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, entries ...*domain.Entry) error {
	for _, entry := range entries {
		if entry == nil {
			continue
		}
		err := db.WithContext(ctx).Exec(
			`INSERT INTO audit_entries (
				id, org_id, project_id, item_id, actor_type, actor_id,
				action, field, old_value, new_value, metadata, created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			entry.ID,
			entry.OrgID,
			entry.ProjectID,
			entry.ItemID,
			entry.ActorType,
			entry.ActorID,
			entry.Action,
			entry.Field,
			entry.OldValue,
			entry.NewValue,
			entry.Metadata,
			entry.CreatedAt,
		).Error
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter) ([]*domain.Entry, error) {
	var entries []*domain.Entry
	stmt := db.WithContext(ctx).Model(&domain.Entry{}).
		Where("org_id = ?", filter.OrgID)

	if filter.ItemID != 0 {
		stmt = stmt.Where("item_id = ?", filter.ItemID)
	}
	if filter.ProjectID != 0 {
		stmt = stmt.Where("project_id = ?", filter.ProjectID)
	}
	if action := strings.TrimSpace(filter.Action); action != "" {
		stmt = stmt.Where("action = ?", action)
	}

	if filter.Ascending {
		if filter.Cursor != nil {
			stmt = stmt.Where("(created_at > ?) OR (created_at = ? AND id > ?)",
				filter.Cursor.CreatedAt,
				filter.Cursor.CreatedAt,
				filter.Cursor.ID,
			)
		}
		stmt = stmt.Order("created_at asc, id asc")
	} else {
		if filter.Cursor != nil {
			stmt = stmt.Where("(created_at < ?) OR (created_at = ? AND id < ?)",
				filter.Cursor.CreatedAt,
				filter.Cursor.CreatedAt,
				filter.Cursor.ID,
			)
		}
		stmt = stmt.Order("created_at desc, id desc")
	}

	if filter.Limit > 0 {
		stmt = stmt.Limit(filter.Limit + 1)
	}

	if err := stmt.Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *repo) ItemSummary(ctx context.Context, db *gorm.DB, itemID snowflake.ID) (*domain.ItemSummary, error) {
	var summary domain.ItemSummary
	err := db.WithContext(ctx).Raw(
		`SELECT t.org_id, t.project_id, t.title, t.sequence_number, p.key AS project_key, o.name AS org_name
		FROM tasks t
		JOIN projects p ON p.id = t.project_id
		JOIN organizations o ON o.id = t.org_id
		WHERE t.id = ?`,
		itemID,
	).Scan(&summary).Error
	if err != nil {
		return nil, err
	}
	if summary.OrgID == 0 {
		return nil, nil
	}
	return &summary, nil
}

func (r *repo) ActorNames(ctx context.Context, db *gorm.DB, ids []snowflake.ID) (map[snowflake.ID]string, error) {
	names := make(map[snowflake.ID]string, len(ids))
	if len(ids) == 0 {
		return names, nil
	}

	var rows []struct {
		ID          snowflake.ID
		DisplayName string
	}
	err := db.WithContext(ctx).
		Raw(`SELECT id, display_name FROM users WHERE id IN ?`, ids).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	for _, row := range rows {
		names[row.ID] = row.DisplayName
	}
	return names, nil
}

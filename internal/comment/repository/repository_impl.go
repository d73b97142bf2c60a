package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/tracklane/tracklane/internal/comment/domain"
	"gorm.io/gorm"
)

type repo struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) domain.Repository {
	return &repo{db: db}
}

func (r *repo) WithTx(tx *gorm.DB) domain.Repository {
	return &repo{db: tx}
}

func (r *repo) Insert(ctx context.Context, comment *domain.Comment) error {
	return r.db.WithContext(ctx).Exec(`
		INSERT INTO comments (id, org_id, task_id, author_id, body, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, comment.ID, comment.OrgID, comment.TaskID, comment.AuthorID, comment.Body, comment.CreatedAt).Error
}

func (r *repo) TaskRef(ctx context.Context, orgID, taskID snowflake.ID) (*domain.TaskRef, error) {
	var ref domain.TaskRef
	err := r.db.WithContext(ctx).Raw(`
		SELECT id, project_id, archived
		FROM tasks
		WHERE id = ? AND org_id = ?
	`, taskID, orgID).Scan(&ref).Error
	if err != nil {
		return nil, err
	}
	if ref.ID == 0 {
		return nil, nil
	}
	return &ref, nil
}

func (r *repo) AuthorNames(ctx context.Context, ids []snowflake.ID) (map[snowflake.ID]string, error) {
	names := make(map[snowflake.ID]string, len(ids))
	if len(ids) == 0 {
		return names, nil
	}

	var rows []struct {
		ID          snowflake.ID
		DisplayName string
	}
	err := r.db.WithContext(ctx).Raw(`
		SELECT id, display_name FROM users WHERE id IN ?
	`, ids).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		names[row.ID] = row.DisplayName
	}
	return names, nil
}

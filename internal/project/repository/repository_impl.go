package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/tracklane/tracklane/internal/project/domain"
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

func (r *repository) Insert(ctx context.Context, project domain.Project) error {
	return r.db.WithContext(ctx).Exec(
		`INSERT INTO projects (id, org_id, key, name, description, next_sequence, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		project.ID,
		project.OrgID,
		project.Key,
		project.Name,
		project.Description,
		project.NextSequence,
		project.CreatedAt,
		project.UpdatedAt,
	).Error
}

func (r *repository) GetByKey(ctx context.Context, orgID snowflake.ID, key string) (*domain.Project, error) {
	var project domain.Project
	err := r.db.WithContext(ctx).Raw(
		`SELECT id, org_id, key, name, description, next_sequence, created_at, updated_at
		 FROM projects WHERE org_id = ? AND key = ?`,
		orgID,
		key,
	).Scan(&project).Error
	if err != nil {
		return nil, err
	}
	if project.ID == 0 {
		return nil, nil
	}
	return &project, nil
}

func (r *repository) List(ctx context.Context, orgID snowflake.ID) ([]domain.Project, error) {
	var projects []domain.Project
	err := r.db.WithContext(ctx).Raw(
		`SELECT id, org_id, key, name, description, created_at, updated_at
		 FROM projects WHERE org_id = ?
		 ORDER BY created_at ASC, id ASC`,
		orgID,
	).Scan(&projects).Error
	if err != nil {
		return nil, err
	}
	return projects, nil
}

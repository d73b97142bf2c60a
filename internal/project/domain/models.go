// Package domain contains persistence models for the project service.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Project scopes boards and tasks inside an organization. NextSequence is
// the monotonic counter behind task display ids and is only touched under a
// row lock.
type Project struct {
	ID           snowflake.ID `gorm:"primaryKey" json:"id"`
	OrgID        snowflake.ID `gorm:"not null;index;uniqueIndex:ux_projects_org_key,priority:1" json:"org_id"`
	Key          string       `gorm:"type:text;not null;uniqueIndex:ux_projects_org_key,priority:2" json:"key"`
	Name         string       `gorm:"type:text;not null" json:"name"`
	Description  string       `gorm:"type:text" json:"description"`
	NextSequence int64        `gorm:"not null;default:1" json:"-"`
	CreatedAt    time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt    time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Project) TableName() string { return "projects" }

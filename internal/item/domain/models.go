// Package domain contains the task model and service contract. Tasks are
// the unit of numbering (per project) and of ordering (per column).
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

// Item is a task on a board. SequenceNumber never changes once assigned and
// stays unique within the project even across deletes, so display ids are
// stable. OrderKey is only unique among the column's live tasks; an archived
// task keeps its last key purely as a hint and gets a fresh one on restore.
type Item struct {
	ID             snowflake.ID   `gorm:"primaryKey" json:"id"`
	OrgID          snowflake.ID   `gorm:"not null;index" json:"org_id"`
	ProjectID      snowflake.ID   `gorm:"not null;uniqueIndex:ux_tasks_project_seq,priority:1" json:"project_id"`
	ColumnID       snowflake.ID   `gorm:"not null;index:idx_tasks_column_order,priority:1" json:"column_id"`
	SequenceNumber int64          `gorm:"not null;uniqueIndex:ux_tasks_project_seq,priority:2" json:"sequence_number"`
	OrderKey       float64        `gorm:"not null;index:idx_tasks_column_order,priority:2" json:"order_key"`
	Title          string         `gorm:"type:text;not null" json:"title"`
	Description    string         `gorm:"type:text" json:"description"`
	Priority       Priority       `gorm:"type:text;not null;default:medium" json:"priority"`
	Category       string         `gorm:"type:text" json:"category"`
	Tags           datatypes.JSON `gorm:"type:jsonb" json:"tags,omitempty"`
	AssigneeID     *snowflake.ID  `json:"assignee_id,omitempty"`
	DueDate        *time.Time     `json:"due_date,omitempty"`
	Archived       bool           `gorm:"not null;default:false" json:"archived"`
	CreatedAt      time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt      time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Item) TableName() string { return "tasks" }

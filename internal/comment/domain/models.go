package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Comment is a note on a task. Comments are append-only; editing history
// lives in the task's activity log, not here.
type Comment struct {
	ID        snowflake.ID `gorm:"primaryKey" json:"id"`
	OrgID     snowflake.ID `gorm:"index;not null" json:"org_id"`
	TaskID    snowflake.ID `gorm:"index:idx_comments_task_created,priority:1;not null" json:"task_id"`
	AuthorID  snowflake.ID `gorm:"not null" json:"author_id"`
	Body      string       `gorm:"type:text;not null" json:"body"`
	CreatedAt time.Time    `gorm:"index:idx_comments_task_created,priority:2" json:"created_at"`
}

func (Comment) TableName() string {
	return "comments"
}

// TaskRef is the slice of the task row comment operations need.
type TaskRef struct {
	ID        snowflake.ID
	ProjectID snowflake.ID
	Archived  bool
}

package domain

import (
	"strconv"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Action is the closed set of things the activity log can describe. The log
// is append-only: entries are never updated or deleted while the task lives,
// and they cascade away only when the task itself is hard-deleted.
type Action string

const (
	ActionCreated   Action = "created"
	ActionUpdated   Action = "updated"
	ActionMoved     Action = "moved"
	ActionArchived  Action = "archived"
	ActionCommented Action = "commented"
)

func (a Action) Valid() bool {
	switch a {
	case ActionCreated, ActionUpdated, ActionMoved, ActionArchived, ActionCommented:
		return true
	}
	return false
}

const (
	ActorTypeUser   = "user"
	ActorTypeSystem = "system"
)

// Tracked task fields. The differ walks this list explicitly instead of
// reflecting over the model, so adding a field is a deliberate change here
// and in the item service comparator table.
const (
	FieldTitle       = "title"
	FieldDescription = "description"
	FieldPriority    = "priority"
	FieldAssignee    = "assignee"
	FieldDueDate     = "due_date"
	FieldTags        = "tags"
	FieldCategory    = "category"

	// Placement deltas, reported alongside the structural moved entry.
	FieldColumn   = "column"
	FieldOrderKey = "order_key"
)

type Entry struct {
	ID        snowflake.ID      `gorm:"primaryKey" json:"id"`
	OrgID     snowflake.ID      `gorm:"index" json:"org_id"`
	ProjectID snowflake.ID      `gorm:"index" json:"project_id"`
	ItemID    snowflake.ID      `gorm:"index:idx_audit_item_created,priority:1" json:"task_id"`
	ActorType string            `json:"actor_type"`
	ActorID   snowflake.ID      `json:"actor_id"`
	Action    Action            `json:"action"`
	Field     string            `json:"field,omitempty"`
	OldValue  *string           `gorm:"type:text" json:"old_value,omitempty"`
	NewValue  *string           `gorm:"type:text" json:"new_value,omitempty"`
	Metadata  datatypes.JSONMap `gorm:"type:jsonb" json:"metadata,omitempty"`
	CreatedAt time.Time         `gorm:"index:idx_audit_item_created,priority:2" json:"created_at"`
}

func (Entry) TableName() string {
	return "audit_entries"
}

// FieldChange is one before/after pair produced by the item differ.
type FieldChange struct {
	Field string
	Old   *string
	New   *string
}

// MovedChange carries both sides of a placement change.
type MovedChange struct {
	FromColumnID snowflake.ID
	ToColumnID   snowflake.ID
	FromColumn   string
	ToColumn     string
	OldOrderKey  float64
	NewOrderKey  float64
}

// ItemRef identifies the task an entry belongs to. The item service already
// holds the loaded row, so callers pass the ids along instead of the recorder
// re-reading them.
type ItemRef struct {
	ID        snowflake.ID
	ProjectID snowflake.ID
}

// ItemSummary is the projection used to authorize reads and to head exports.
type ItemSummary struct {
	OrgID          snowflake.ID
	ProjectID      snowflake.ID
	Title          string
	SequenceNumber int64
	ProjectKey     string
	OrgName        string
}

func (s ItemSummary) DisplayID() string {
	if s.ProjectKey == "" {
		return ""
	}
	return s.ProjectKey + "-" + strconv.FormatInt(s.SequenceNumber, 10)
}

type Cursor struct {
	ID        snowflake.ID
	CreatedAt time.Time
}

type ListFilter struct {
	OrgID     snowflake.ID
	ItemID    snowflake.ID
	ProjectID snowflake.ID
	Action    string
	Ascending bool
	Cursor    *Cursor
	Limit     int
}

package events

import "github.com/bwmarrin/snowflake"

const (
	EventTaskCreated    = "task.created"
	EventTaskUpdated    = "task.updated"
	EventTaskMoved      = "task.moved"
	EventTaskArchived   = "task.archived"
	EventTaskUnarchived = "task.unarchived"
	EventTaskDeleted    = "task.deleted"

	EventCommentCreated = "comment.created"

	EventColumnCreated = "column.created"
	EventColumnMoved   = "column.moved"
	EventColumnDeleted = "column.deleted"

	EventOrganizationCreated = "organization.created"
	EventProjectCreated      = "project.created"
)

// Event is the unit handed to the outbox. DedupeKey is optional; when set,
// conflicting inserts for the same org are dropped silently.
type Event struct {
	OrgID     snowflake.ID
	Type      string
	Payload   map[string]any
	DedupeKey string
}

// TaskEventPayload is the wire payload for task.* events.
type TaskEventPayload struct {
	TaskID     string `json:"task_id"`
	DisplayID  string `json:"display_id"`
	OrgID      string `json:"org_id"`
	ProjectID  string `json:"project_id"`
	ColumnID   string `json:"column_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Title      string `json:"title,omitempty"`
	FromColumn string `json:"from_column,omitempty"`
	ToColumn   string `json:"to_column,omitempty"`
}

func (p TaskEventPayload) ToMap() map[string]any {
	out := map[string]any{
		"task_id":    p.TaskID,
		"display_id": p.DisplayID,
		"org_id":     p.OrgID,
		"project_id": p.ProjectID,
		"actor_id":   p.ActorID,
	}
	if p.ColumnID != "" {
		out["column_id"] = p.ColumnID
	}
	if p.Title != "" {
		out["title"] = p.Title
	}
	if p.FromColumn != "" {
		out["from_column"] = p.FromColumn
	}
	if p.ToColumn != "" {
		out["to_column"] = p.ToColumn
	}
	return out
}

// CommentEventPayload is the wire payload for comment.created.
type CommentEventPayload struct {
	CommentID string `json:"comment_id"`
	TaskID    string `json:"task_id"`
	OrgID     string `json:"org_id"`
	ActorID   string `json:"actor_id"`
}

func (p CommentEventPayload) ToMap() map[string]any {
	return map[string]any{
		"comment_id": p.CommentID,
		"task_id":    p.TaskID,
		"org_id":     p.OrgID,
		"actor_id":   p.ActorID,
	}
}

// ColumnEventPayload is the wire payload for column.* events.
type ColumnEventPayload struct {
	ColumnID string `json:"column_id"`
	BoardID  string `json:"board_id"`
	OrgID    string `json:"org_id"`
	ActorID  string `json:"actor_id"`
	Name     string `json:"name,omitempty"`
}

func (p ColumnEventPayload) ToMap() map[string]any {
	out := map[string]any{
		"column_id": p.ColumnID,
		"board_id":  p.BoardID,
		"org_id":    p.OrgID,
		"actor_id":  p.ActorID,
	}
	if p.Name != "" {
		out["name"] = p.Name
	}
	return out
}

// OrganizationCreatedPayload is the wire payload for organization.created.
type OrganizationCreatedPayload struct {
	OrganizationID string `json:"organization_id"`
	Slug           string `json:"slug"`
	OwnerUserID    string `json:"owner_user_id"`
}

func (p OrganizationCreatedPayload) ToMap() map[string]any {
	return map[string]any{
		"organization_id": p.OrganizationID,
		"slug":            p.Slug,
		"owner_user_id":   p.OwnerUserID,
	}
}

// ProjectCreatedPayload is the wire payload for project.created.
type ProjectCreatedPayload struct {
	ProjectID string `json:"project_id"`
	OrgID     string `json:"org_id"`
	Key       string `json:"key"`
	ActorID   string `json:"actor_id"`
}

func (p ProjectCreatedPayload) ToMap() map[string]any {
	return map[string]any{
		"project_id": p.ProjectID,
		"org_id":     p.OrgID,
		"key":        p.Key,
		"actor_id":   p.ActorID,
	}
}

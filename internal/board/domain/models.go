// Package domain contains persistence models for boards and columns.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Board groups the ordered columns of a project.
type Board struct {
	ID        snowflake.ID `gorm:"primaryKey" json:"id"`
	OrgID     snowflake.ID `gorm:"not null;index" json:"org_id"`
	ProjectID snowflake.ID `gorm:"not null;index" json:"project_id"`
	Name      string       `gorm:"type:text;not null" json:"name"`
	CreatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Board) TableName() string { return "boards" }

// Column is an ordered bucket of tasks. OrderKey establishes column order
// within the board and stays unique per board.
type Column struct {
	ID        snowflake.ID `gorm:"primaryKey" json:"id"`
	OrgID     snowflake.ID `gorm:"not null;index" json:"org_id"`
	BoardID   snowflake.ID `gorm:"not null;index;uniqueIndex:ux_columns_board_order,priority:1" json:"board_id"`
	Name      string       `gorm:"type:text;not null" json:"name"`
	Color     string       `gorm:"type:text" json:"color"`
	WIPLimit  *int         `gorm:"column:wip_limit" json:"wip_limit,omitempty"`
	OrderKey  float64      `gorm:"not null;uniqueIndex:ux_columns_board_order,priority:2" json:"order_key"`
	CreatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Column) TableName() string { return "board_columns" }

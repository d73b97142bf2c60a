// Package seed installs demo fixtures for local development. It never runs
// in cloud mode and backs off entirely once the demo organization exists.
package seed

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	auditdomain "github.com/tracklane/tracklane/internal/audit/domain"
	boarddomain "github.com/tracklane/tracklane/internal/board/domain"
	itemdomain "github.com/tracklane/tracklane/internal/item/domain"
	"github.com/tracklane/tracklane/internal/item/position"
	organizationdomain "github.com/tracklane/tracklane/internal/organization/domain"
	projectdomain "github.com/tracklane/tracklane/internal/project/domain"
	"github.com/tracklane/tracklane/internal/tenant"
)

const (
	demoOrgName     = "Demo Workspace"
	demoOrgSlug     = "demo"
	demoProjectKey  = "WEB"
	demoProjectName = "Website Relaunch"
	demoBoardName   = "Delivery"
)

type demoTask struct {
	Title    string
	Column   int
	Priority itemdomain.Priority
	Category string
	Tags     string
	Assignee int
}

var demoTasks = []demoTask{
	{Title: "Draft landing page copy", Column: 0, Priority: itemdomain.PriorityMedium, Assignee: 0},
	{Title: "Wire up signup form", Column: 0, Priority: itemdomain.PriorityHigh, Tags: `["frontend"]`, Assignee: 1},
	{Title: "Set up CI pipeline", Column: 1, Priority: itemdomain.PriorityMedium, Category: "infra", Assignee: -1},
	{Title: "Pick a color palette", Column: 2, Priority: itemdomain.PriorityLow, Assignee: -1},
}

// EnsureDemoWorkspace seeds a demo organization with two users, one project
// and a populated board. Safe to call on every startup.
func EnsureDemoWorkspace(db *gorm.DB) error {
	if db == nil {
		return errors.New("seed database handle is required")
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		return err
	}

	ctx := context.Background()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing organizationdomain.Organization
		err := tx.WithContext(ctx).Where("slug = ?", demoOrgSlug).First(&existing).Error
		if err == nil {
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		now := time.Now().UTC()
		org := organizationdomain.Organization{
			ID:        node.Generate(),
			Name:      demoOrgName,
			Slug:      demoOrgSlug,
			Metadata:  datatypes.JSONMap{"seeded": true},
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := tx.WithContext(ctx).Create(&org).Error; err != nil {
			return err
		}

		users, err := seedUsers(ctx, tx, node, org.ID, now)
		if err != nil {
			return err
		}

		project := projectdomain.Project{
			ID:           node.Generate(),
			OrgID:        org.ID,
			Key:          demoProjectKey,
			Name:         demoProjectName,
			NextSequence: int64(len(demoTasks)) + 1,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := tx.WithContext(ctx).Create(&project).Error; err != nil {
			return err
		}

		columns, err := seedBoard(ctx, tx, node, org.ID, project.ID, now)
		if err != nil {
			return err
		}

		return seedTasks(ctx, tx, node, org.ID, project, columns, users, now)
	})
}

func seedUsers(ctx context.Context, tx *gorm.DB, node *snowflake.Node, orgID snowflake.ID, now time.Time) ([]organizationdomain.User, error) {
	users := []organizationdomain.User{
		{ID: node.Generate(), Email: "alex@demo.local", DisplayName: "Alex Rivera", Metadata: datatypes.JSONMap{}, CreatedAt: now, UpdatedAt: now},
		{ID: node.Generate(), Email: "sam@demo.local", DisplayName: "Sam Tran", Metadata: datatypes.JSONMap{}, CreatedAt: now, UpdatedAt: now},
	}
	roles := []tenant.Role{tenant.RoleOwner, tenant.RoleMember}
	for i := range users {
		if err := tx.WithContext(ctx).Create(&users[i]).Error; err != nil {
			return nil, err
		}
		member := organizationdomain.OrganizationMember{
			ID:        node.Generate(),
			OrgID:     orgID,
			UserID:    users[i].ID,
			Role:      string(roles[i]),
			CreatedAt: now,
		}
		if err := tx.WithContext(ctx).Create(&member).Error; err != nil {
			return nil, err
		}
	}
	return users, nil
}

func seedBoard(ctx context.Context, tx *gorm.DB, node *snowflake.Node, orgID, projectID snowflake.ID, now time.Time) ([]boarddomain.Column, error) {
	board := boarddomain.Board{
		ID:        node.Generate(),
		OrgID:     orgID,
		ProjectID: projectID,
		Name:      demoBoardName,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := tx.WithContext(ctx).Create(&board).Error; err != nil {
		return nil, err
	}

	specs := []struct {
		Name  string
		Color string
	}{
		{"To Do", "#6b7280"},
		{"In Progress", "#3b82f6"},
		{"Done", "#22c55e"},
	}
	columns := make([]boarddomain.Column, 0, len(specs))
	for i, spec := range specs {
		column := boarddomain.Column{
			ID:        node.Generate(),
			OrgID:     orgID,
			BoardID:   board.ID,
			Name:      spec.Name,
			Color:     spec.Color,
			OrderKey:  float64(i+1) * position.DefaultGap,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := tx.WithContext(ctx).Create(&column).Error; err != nil {
			return nil, err
		}
		columns = append(columns, column)
	}
	return columns, nil
}

func seedTasks(
	ctx context.Context,
	tx *gorm.DB,
	node *snowflake.Node,
	orgID snowflake.ID,
	project projectdomain.Project,
	columns []boarddomain.Column,
	users []organizationdomain.User,
	now time.Time,
) error {
	owner := users[0]
	perColumn := make(map[snowflake.ID]int)

	for i, spec := range demoTasks {
		column := columns[spec.Column]
		perColumn[column.ID]++

		item := itemdomain.Item{
			ID:             node.Generate(),
			OrgID:          orgID,
			ProjectID:      project.ID,
			ColumnID:       column.ID,
			SequenceNumber: int64(i) + 1,
			OrderKey:       float64(perColumn[column.ID]) * position.DefaultGap,
			Title:          spec.Title,
			Priority:       spec.Priority,
			Category:       spec.Category,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if spec.Tags != "" {
			item.Tags = datatypes.JSON([]byte(spec.Tags))
		}
		if spec.Assignee >= 0 {
			assigneeID := users[spec.Assignee].ID
			item.AssigneeID = &assigneeID
		}
		if err := tx.WithContext(ctx).Create(&item).Error; err != nil {
			return err
		}

		entry := auditdomain.Entry{
			ID:        node.Generate(),
			OrgID:     orgID,
			ProjectID: project.ID,
			ItemID:    item.ID,
			ActorType: string(auditdomain.ActorTypeUser),
			ActorID:   owner.ID,
			Action:    auditdomain.ActionCreated,
			Metadata:  datatypes.JSONMap{"column_id": column.ID.String()},
			CreatedAt: now,
		}
		if err := tx.WithContext(ctx).Create(&entry).Error; err != nil {
			return err
		}
	}
	return nil
}

package service

import (
	"context"
	"fmt"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	auditdomain "github.com/tracklane/tracklane/internal/audit/domain"
	auditrepository "github.com/tracklane/tracklane/internal/audit/repository"
	auditservice "github.com/tracklane/tracklane/internal/audit/service"
	"github.com/tracklane/tracklane/internal/board/domain"
	"github.com/tracklane/tracklane/internal/board/repository"
	boardevent "github.com/tracklane/tracklane/internal/boardevent/domain"
	"github.com/tracklane/tracklane/internal/cache"
	"github.com/tracklane/tracklane/internal/config"
	"github.com/tracklane/tracklane/internal/events"
	itemdomain "github.com/tracklane/tracklane/internal/item/domain"
	"github.com/tracklane/tracklane/internal/item/position"
	orgdomain "github.com/tracklane/tracklane/internal/organization/domain"
	"github.com/tracklane/tracklane/internal/providers/pdf"
	projectdomain "github.com/tracklane/tracklane/internal/project/domain"
	projectrepository "github.com/tracklane/tracklane/internal/project/repository"
	projectservice "github.com/tracklane/tracklane/internal/project/service"
	"github.com/tracklane/tracklane/internal/tenant"
	dbpkg "github.com/tracklane/tracklane/pkg/db"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type boardFixture struct {
	t       *testing.T
	db      *gorm.DB
	node    *snowflake.Node
	svc     domain.Service
	actor   tenant.Context
	project snowflake.ID
}

func setupBoardService(t *testing.T) *boardFixture {
	t.Helper()

	dbConn, err := dbpkg.NewTest()
	require.NoError(t, err)
	require.NoError(t, dbConn.AutoMigrate(
		&orgdomain.Organization{}, &orgdomain.User{}, &orgdomain.OrganizationMember{},
		&projectdomain.Project{}, &domain.Board{}, &domain.Column{},
		&itemdomain.Item{}, &auditdomain.Entry{}, &boardevent.BoardEvent{},
	))

	node, err := snowflake.NewNode(3)
	require.NoError(t, err)

	publisher := events.NewOutboxPublisher(dbConn, node)
	auditSvc := auditservice.NewService(auditservice.Params{
		DB:    dbConn,
		Log:   zap.NewNop(),
		GenID: node,
		Repo:  auditrepository.Provide(),
		PDF:   &pdf.NoOpProvider{},
	})
	projectSvc := projectservice.NewService(dbConn, projectrepository.NewRepository(dbConn), node, publisher, cache.NewProjectResolverCache(), zap.NewNop())

	templates, err := config.NewBoardTemplatesHolder()
	require.NoError(t, err)

	f := &boardFixture{t: t, db: dbConn, node: node}

	orgID := node.Generate()
	userID := node.Generate()
	require.NoError(t, dbConn.Create(&orgdomain.Organization{
		ID: orgID, Name: "Acme", Slug: "acme", Metadata: datatypes.JSONMap{},
	}).Error)
	require.NoError(t, dbConn.Create(&orgdomain.User{
		ID: userID, Email: "alice@acme.test", DisplayName: "Alice", Metadata: datatypes.JSONMap{},
	}).Error)
	require.NoError(t, dbConn.Create(&orgdomain.OrganizationMember{
		ID: node.Generate(), OrgID: orgID, UserID: userID, Role: "admin",
	}).Error)
	f.actor = tenant.Context{OrgID: orgID, UserID: userID, Role: tenant.RoleAdmin}

	proj, err := projectSvc.Create(context.Background(), f.actor, projectdomain.CreateProjectRequest{Key: "OPS", Name: "Operations"})
	require.NoError(t, err)
	f.project, err = snowflake.ParseString(proj.ID)
	require.NoError(t, err)
	f.actor.ProjectID = f.project

	f.svc = NewService(Params{
		DB:        dbConn,
		Log:       zap.NewNop(),
		GenID:     node,
		Repo:      repository.NewRepository(dbConn),
		Templates: templates,
		Audit:     auditSvc,
		Publisher: publisher,
	})
	return f
}

func (f *boardFixture) createBoard(template string) *domain.BoardResponse {
	f.t.Helper()
	resp, err := f.svc.Create(context.Background(), f.actor, domain.CreateBoardRequest{
		ProjectID: f.project,
		Name:      "Delivery",
		Template:  template,
	})
	require.NoError(f.t, err)
	return resp
}

func (f *boardFixture) seedTask(columnID string, seq int64, key float64, title string) snowflake.ID {
	f.t.Helper()
	colID, err := snowflake.ParseString(columnID)
	require.NoError(f.t, err)

	id := f.node.Generate()
	require.NoError(f.t, f.db.Create(&itemdomain.Item{
		ID:             id,
		OrgID:          f.actor.OrgID,
		ProjectID:      f.project,
		ColumnID:       colID,
		SequenceNumber: seq,
		OrderKey:       key,
		Title:          title,
		Priority:       itemdomain.PriorityMedium,
	}).Error)
	return id
}

func (f *boardFixture) boardColumns(boardID string) []domain.ColumnResponse {
	f.t.Helper()
	resp, err := f.svc.GetByProject(context.Background(), f.actor, f.project)
	require.NoError(f.t, err)
	require.Equal(f.t, boardID, resp.ID)
	return resp.Columns
}

func colptr(s string) *string { return &s }

func TestCreateBoardFromTemplate(t *testing.T) {
	f := setupBoardService(t)

	board := f.createBoard("kanban")
	require.Len(t, board.Columns, 3)
	assert.Equal(t, "To Do", board.Columns[0].Name)
	assert.Equal(t, "In Progress", board.Columns[1].Name)
	assert.Equal(t, "Done", board.Columns[2].Name)
	for i, col := range board.Columns {
		assert.Equal(t, float64(i+1)*position.DefaultGap, col.OrderKey)
	}

	sprint, err := f.svc.Create(context.Background(), f.actor, domain.CreateBoardRequest{
		ProjectID: f.project, Template: "sprint",
	})
	require.NoError(t, err)
	assert.Len(t, sprint.Columns, 5)
	assert.Equal(t, "Board", sprint.Name, "blank name falls back")

	_, err = f.svc.Create(context.Background(), f.actor, domain.CreateBoardRequest{
		ProjectID: f.project, Template: "scrumfall",
	})
	assert.ErrorIs(t, err, domain.ErrTemplateNotFound)

	_, err = f.svc.Create(context.Background(), f.actor, domain.CreateBoardRequest{
		ProjectID: f.node.Generate(),
	})
	assert.ErrorIs(t, err, domain.ErrBoardNotFound)

	member := f.actor
	member.Role = tenant.RoleMember
	_, err = f.svc.Create(context.Background(), member, domain.CreateBoardRequest{ProjectID: f.project})
	assert.ErrorIs(t, err, domain.ErrForbidden)
}

func TestGetByProjectReturnsFirstBoard(t *testing.T) {
	f := setupBoardService(t)

	first := f.createBoard("kanban")
	f.createBoard("sprint")

	got, err := f.svc.GetByProject(context.Background(), f.actor, f.project)
	require.NoError(t, err)
	assert.Equal(t, first.ID, got.ID)
	assert.Len(t, got.Columns, 3)

	_, err = f.svc.GetByProject(context.Background(), f.actor, f.node.Generate())
	assert.ErrorIs(t, err, domain.ErrBoardNotFound)
}

func TestAddColumnValidatesAndAppends(t *testing.T) {
	f := setupBoardService(t)
	board := f.createBoard("kanban")
	wip := 3

	col, err := f.svc.AddColumn(context.Background(), f.actor, domain.AddColumnRequest{
		BoardID:  board.ID,
		Name:     "Review",
		Color:    "#f59e0b",
		WIPLimit: &wip,
	})
	require.NoError(t, err)
	assert.Equal(t, position.Tail(board.Columns[2].OrderKey), col.OrderKey)
	assert.Equal(t, "#f59e0b", col.Color)
	require.NotNil(t, col.WIPLimit)
	assert.Equal(t, 3, *col.WIPLimit)

	cases := []struct {
		name string
		req  domain.AddColumnRequest
		want error
	}{
		{"blank name", domain.AddColumnRequest{BoardID: board.ID, Name: "  "}, domain.ErrInvalidName},
		{"bad color", domain.AddColumnRequest{BoardID: board.ID, Name: "QA", Color: "red"}, domain.ErrInvalidColor},
		{"zero wip", domain.AddColumnRequest{BoardID: board.ID, Name: "QA", WIPLimit: new(int)}, domain.ErrInvalidWIPLimit},
		{"unknown board", domain.AddColumnRequest{BoardID: f.node.Generate().String(), Name: "QA"}, domain.ErrBoardNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.AddColumn(context.Background(), f.actor, tc.req)
			assert.ErrorIs(t, err, tc.want)
		})
	}

	member := f.actor
	member.Role = tenant.RoleMember
	_, err = f.svc.AddColumn(context.Background(), member, domain.AddColumnRequest{BoardID: board.ID, Name: "QA"})
	assert.ErrorIs(t, err, domain.ErrForbidden)
}

func TestAddColumnEnforcesCap(t *testing.T) {
	f := setupBoardService(t)
	board := f.createBoard("kanban")

	for i := len(board.Columns); i < domain.MaxColumns; i++ {
		_, err := f.svc.AddColumn(context.Background(), f.actor, domain.AddColumnRequest{
			BoardID: board.ID,
			Name:    fmt.Sprintf("Stage %d", i),
		})
		require.NoError(t, err)
	}

	_, err := f.svc.AddColumn(context.Background(), f.actor, domain.AddColumnRequest{
		BoardID: board.ID,
		Name:    "One too many",
	})
	assert.ErrorIs(t, err, domain.ErrTooManyColumns)
}

func TestMoveColumnBetweenNeighbors(t *testing.T) {
	f := setupBoardService(t)
	board := f.createBoard("kanban")
	todo, doing, done := board.Columns[0], board.Columns[1], board.Columns[2]

	moved, err := f.svc.MoveColumn(context.Background(), f.actor, domain.MoveColumnRequest{
		ColumnID:       done.ID,
		BeforeColumnID: colptr(todo.ID),
		AfterColumnID:  colptr(doing.ID),
	})
	require.NoError(t, err)
	assert.Equal(t, (todo.OrderKey+doing.OrderKey)/2, moved.OrderKey)

	columns := f.boardColumns(board.ID)
	require.Len(t, columns, 3)
	assert.Equal(t, []string{todo.ID, done.ID, doing.ID},
		[]string{columns[0].ID, columns[1].ID, columns[2].ID})

	// Head and tail placements through a single-sided request.
	moved, err = f.svc.MoveColumn(context.Background(), f.actor, domain.MoveColumnRequest{
		ColumnID:      done.ID,
		AfterColumnID: colptr(todo.ID),
	})
	require.NoError(t, err)
	assert.Less(t, moved.OrderKey, todo.OrderKey)

	moved, err = f.svc.MoveColumn(context.Background(), f.actor, domain.MoveColumnRequest{
		ColumnID:       done.ID,
		BeforeColumnID: colptr(doing.ID),
	})
	require.NoError(t, err)
	assert.Greater(t, moved.OrderKey, doing.OrderKey)

	// Stale neighbors surface as conflicts. A fourth column makes the
	// non-adjacent cases possible.
	review, err := f.svc.AddColumn(context.Background(), f.actor, domain.AddColumnRequest{
		BoardID: board.ID,
		Name:    "Review",
	})
	require.NoError(t, err)

	conflicts := []domain.MoveColumnRequest{
		{ColumnID: review.ID, BeforeColumnID: colptr(todo.ID), AfterColumnID: colptr(done.ID)},
		{ColumnID: review.ID, BeforeColumnID: colptr(todo.ID)},
		{ColumnID: review.ID, AfterColumnID: colptr(done.ID)},
		{ColumnID: review.ID, BeforeColumnID: colptr(review.ID)},
	}
	for _, req := range conflicts {
		_, err = f.svc.MoveColumn(context.Background(), f.actor, req)
		assert.ErrorIs(t, err, domain.ErrMoveConflict)
	}
}

func TestMoveColumnRebalancesOnExhaustedGap(t *testing.T) {
	f := setupBoardService(t)
	board := f.createBoard("kanban")
	todo, doing, done := board.Columns[0], board.Columns[1], board.Columns[2]

	// Collapse the first gap so the midpoint cannot produce a distinct key.
	require.NoError(t, f.db.Exec(
		`UPDATE board_columns SET order_key = ? WHERE id = ?`,
		todo.OrderKey+position.Epsilon/2, doing.ID,
	).Error)

	moved, err := f.svc.MoveColumn(context.Background(), f.actor, domain.MoveColumnRequest{
		ColumnID:       done.ID,
		BeforeColumnID: colptr(todo.ID),
		AfterColumnID:  colptr(doing.ID),
	})
	require.NoError(t, err)

	columns := f.boardColumns(board.ID)
	require.Len(t, columns, 3)
	assert.Equal(t, []string{todo.ID, done.ID, doing.ID},
		[]string{columns[0].ID, columns[1].ID, columns[2].ID})

	// The rebalance re-spaced the survivors before the retry placed the
	// moving column between them.
	assert.Equal(t, position.DefaultGap, columns[0].OrderKey)
	assert.Equal(t, 1.5*position.DefaultGap, moved.OrderKey)
	assert.Equal(t, 2*position.DefaultGap, columns[2].OrderKey)
}

func TestDeleteColumnRelocatesTasks(t *testing.T) {
	f := setupBoardService(t)
	board := f.createBoard("kanban")
	todo, doing, done := board.Columns[0], board.Columns[1], board.Columns[2]

	f.seedTask(todo.ID, 1, 1000, "Keep me")
	moved1 := f.seedTask(doing.ID, 2, 1000, "Orphan one")
	moved2 := f.seedTask(doing.ID, 3, 2000, "Orphan two")

	member := f.actor
	member.Role = tenant.RoleMember
	assert.ErrorIs(t, f.svc.DeleteColumn(context.Background(), member, doing.ID), domain.ErrForbidden)

	require.NoError(t, f.svc.DeleteColumn(context.Background(), f.actor, doing.ID))

	var relocated []itemdomain.Item
	require.NoError(t, f.db.Where("id IN ?", []snowflake.ID{moved1, moved2}).Order("order_key asc").Find(&relocated).Error)
	require.Len(t, relocated, 2)
	todoID, err := snowflake.ParseString(todo.ID)
	require.NoError(t, err)
	for _, item := range relocated {
		assert.Equal(t, todoID, item.ColumnID)
		assert.Greater(t, item.OrderKey, float64(1000), "relocated tasks land after the existing tail")
	}
	assert.Equal(t, moved1, relocated[0].ID, "relative order survives the relocation")

	// Each displaced task gets a move trail.
	var movedEntries int64
	require.NoError(t, f.db.Model(&auditdomain.Entry{}).
		Where("action = ?", auditdomain.ActionMoved).Count(&movedEntries).Error)
	assert.Equal(t, int64(6), movedEntries, "structural plus two field entries per task")

	var evts []boardevent.BoardEvent
	require.NoError(t, f.db.Where("event_type = ?", events.EventColumnDeleted).Find(&evts).Error)
	assert.Len(t, evts, 1)

	// The board cannot lose its last column.
	require.NoError(t, f.svc.DeleteColumn(context.Background(), f.actor, done.ID))
	assert.ErrorIs(t, f.svc.DeleteColumn(context.Background(), f.actor, todo.ID), domain.ErrLastColumn)
}

func TestUpdateColumnPartialAndClearWIP(t *testing.T) {
	f := setupBoardService(t)
	board := f.createBoard("kanban")
	col := board.Columns[1]
	wip := 4

	updated, err := f.svc.UpdateColumn(context.Background(), f.actor, domain.UpdateColumnRequest{
		ColumnID: col.ID,
		Name:     colptr("Doing"),
		Color:    colptr("#123abc"),
		WIPLimit: &wip,
	})
	require.NoError(t, err)
	assert.Equal(t, "Doing", updated.Name)
	assert.Equal(t, "#123abc", updated.Color)
	require.NotNil(t, updated.WIPLimit)
	assert.Equal(t, 4, *updated.WIPLimit)
	assert.Equal(t, col.OrderKey, updated.OrderKey, "update never touches placement")

	_, err = f.svc.UpdateColumn(context.Background(), f.actor, domain.UpdateColumnRequest{
		ColumnID: col.ID,
		WIPLimit: &wip,
		ClearWIP: true,
	})
	assert.ErrorIs(t, err, domain.ErrInvalidWIPLimit)

	cleared, err := f.svc.UpdateColumn(context.Background(), f.actor, domain.UpdateColumnRequest{
		ColumnID: col.ID,
		ClearWIP: true,
	})
	require.NoError(t, err)
	assert.Nil(t, cleared.WIPLimit)

	_, err = f.svc.UpdateColumn(context.Background(), f.actor, domain.UpdateColumnRequest{
		ColumnID: col.ID,
		Name:     colptr("   "),
	})
	assert.ErrorIs(t, err, domain.ErrInvalidName)
}

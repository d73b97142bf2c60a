package service

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"strings"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tracklane/tracklane/internal/audit/domain"
	"github.com/tracklane/tracklane/internal/audit/repository"
	itemdomain "github.com/tracklane/tracklane/internal/item/domain"
	orgdomain "github.com/tracklane/tracklane/internal/organization/domain"
	"github.com/tracklane/tracklane/internal/providers/pdf"
	projectdomain "github.com/tracklane/tracklane/internal/project/domain"
	"github.com/tracklane/tracklane/internal/tenant"
	dbpkg "github.com/tracklane/tracklane/pkg/db"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type auditFixture struct {
	t       *testing.T
	db      *gorm.DB
	node    *snowflake.Node
	svc     domain.Service
	actor   tenant.Context
	project snowflake.ID
	item    domain.ItemRef
}

func setupAuditService(t *testing.T) *auditFixture {
	t.Helper()

	dbConn, err := dbpkg.NewTest()
	require.NoError(t, err)
	require.NoError(t, dbConn.AutoMigrate(
		&orgdomain.Organization{}, &orgdomain.User{},
		&projectdomain.Project{}, &itemdomain.Item{}, &domain.Entry{},
	))

	node, err := snowflake.NewNode(4)
	require.NoError(t, err)

	svc := NewService(Params{
		DB:    dbConn,
		Log:   zap.NewNop(),
		GenID: node,
		Repo:  repository.Provide(),
		PDF:   &pdf.NoOpProvider{},
	})

	f := &auditFixture{t: t, db: dbConn, node: node, svc: svc}

	orgID := node.Generate()
	userID := node.Generate()
	require.NoError(t, dbConn.Create(&orgdomain.Organization{
		ID: orgID, Name: "Acme", Slug: "acme", Metadata: datatypes.JSONMap{},
	}).Error)
	require.NoError(t, dbConn.Create(&orgdomain.User{
		ID: userID, Email: "alice@acme.test", DisplayName: "Alice", Metadata: datatypes.JSONMap{},
	}).Error)

	f.project = node.Generate()
	require.NoError(t, dbConn.Create(&projectdomain.Project{
		ID: f.project, OrgID: orgID, Key: "WEB", Name: "Website", NextSequence: 2,
	}).Error)

	taskID := node.Generate()
	require.NoError(t, dbConn.Create(&itemdomain.Item{
		ID:             taskID,
		OrgID:          orgID,
		ProjectID:      f.project,
		ColumnID:       node.Generate(),
		SequenceNumber: 1,
		OrderKey:       1000,
		Title:          "Checkout flow",
		Priority:       itemdomain.PriorityMedium,
	}).Error)

	f.actor = tenant.Context{OrgID: orgID, ProjectID: f.project, UserID: userID, Role: tenant.RoleAdmin}
	f.item = domain.ItemRef{ID: taskID, ProjectID: f.project}
	return f
}

func (f *auditFixture) record(fn func(tx *gorm.DB) error) {
	f.t.Helper()
	require.NoError(f.t, f.db.Transaction(fn))
}

// seedTrail writes a created entry, one title update, and a move.
func (f *auditFixture) seedTrail() {
	f.t.Helper()
	ctx := context.Background()

	f.record(func(tx *gorm.DB) error {
		return f.svc.RecordCreated(ctx, tx, f.actor, f.item, map[string]any{"column_id": "1"})
	})
	f.record(func(tx *gorm.DB) error {
		before := "Checkout flow"
		after := "Checkout flow v2"
		return f.svc.RecordUpdated(ctx, tx, f.actor, f.item, []domain.FieldChange{
			{Field: domain.FieldTitle, Old: &before, New: &after},
		})
	})
	f.record(func(tx *gorm.DB) error {
		return f.svc.RecordMoved(ctx, tx, f.actor, f.item, domain.MovedChange{
			FromColumnID: 1, ToColumnID: 2,
			FromColumn: "To Do", ToColumn: "In Progress",
			OldOrderKey: 1000, NewOrderKey: 2000,
		})
	})
}

func TestRecordUpdatedWritesOneEntryPerField(t *testing.T) {
	f := setupAuditService(t)
	old1, new1 := "a", "b"
	old2, new2 := "low", "high"

	f.record(func(tx *gorm.DB) error {
		return f.svc.RecordUpdated(context.Background(), tx, f.actor, f.item, []domain.FieldChange{
			{Field: domain.FieldTitle, Old: &old1, New: &new1},
			{Field: domain.FieldPriority, Old: &old2, New: &new2},
		})
	})

	var entries []domain.Entry
	require.NoError(t, f.db.Where("item_id = ?", f.item.ID).Find(&entries).Error)
	require.Len(t, entries, 2)
	assert.Equal(t, entries[0].CreatedAt, entries[1].CreatedAt)
	for _, entry := range entries {
		assert.Equal(t, domain.ActionUpdated, entry.Action)
		assert.Equal(t, f.actor.OrgID, entry.OrgID)
		assert.Equal(t, f.project, entry.ProjectID)
		assert.Equal(t, domain.ActorTypeUser, entry.ActorType)
	}

	// No changes, no rows.
	f.record(func(tx *gorm.DB) error {
		return f.svc.RecordUpdated(context.Background(), tx, f.actor, f.item, nil)
	})
	require.NoError(t, f.db.Where("item_id = ?", f.item.ID).Find(&entries).Error)
	assert.Len(t, entries, 2)
}

func TestListPagesNewestFirst(t *testing.T) {
	f := setupAuditService(t)
	f.seedTrail()

	req := domain.ListActivityRequest{ItemID: f.item.ID}
	req.PageSize = 2

	page, err := f.svc.List(context.Background(), f.actor, req)
	require.NoError(t, err)
	require.Len(t, page.Entries, 2)
	assert.True(t, page.HasMore)
	require.NotEmpty(t, page.NextPageToken)

	// The move wrote last, so its entries come back first.
	assert.Equal(t, domain.ActionMoved, page.Entries[0].Action)
	assert.Equal(t, "Alice", page.Entries[0].Actor.DisplayName)

	req.PageToken = page.NextPageToken
	rest, err := f.svc.List(context.Background(), f.actor, req)
	require.NoError(t, err)
	require.NotEmpty(t, rest.Entries)

	// Ascending starts at creation.
	asc, err := f.svc.List(context.Background(), f.actor, domain.ListActivityRequest{
		ItemID: f.item.ID,
		Sort:   domain.SortAsc,
	})
	require.NoError(t, err)
	require.NotEmpty(t, asc.Entries)
	assert.Equal(t, domain.ActionCreated, asc.Entries[0].Action)

	// Action filter narrows the trail.
	updates, err := f.svc.List(context.Background(), f.actor, domain.ListActivityRequest{
		ItemID: f.item.ID,
		Action: string(domain.ActionUpdated),
	})
	require.NoError(t, err)
	require.Len(t, updates.Entries, 1)
	assert.Equal(t, domain.FieldTitle, updates.Entries[0].Field)
}

func TestListRejectsBadArguments(t *testing.T) {
	f := setupAuditService(t)
	f.seedTrail()

	_, err := f.svc.List(context.Background(), f.actor, domain.ListActivityRequest{
		ItemID: f.item.ID, Sort: "sideways",
	})
	assert.ErrorIs(t, err, domain.ErrInvalidSort)

	_, err = f.svc.List(context.Background(), f.actor, domain.ListActivityRequest{
		ItemID: f.item.ID, Action: "exploded",
	})
	assert.ErrorIs(t, err, domain.ErrInvalidAction)

	req := domain.ListActivityRequest{ItemID: f.item.ID}
	req.PageToken = "not-base64!"
	_, err = f.svc.List(context.Background(), f.actor, req)
	assert.ErrorIs(t, err, domain.ErrInvalidPageToken)
}

func TestListHidesForeignItems(t *testing.T) {
	f := setupAuditService(t)
	f.seedTrail()

	outsider := tenant.Context{OrgID: f.node.Generate(), UserID: f.node.Generate(), Role: tenant.RoleAdmin}

	_, errForeign := f.svc.List(context.Background(), outsider, domain.ListActivityRequest{ItemID: f.item.ID})
	_, errMissing := f.svc.List(context.Background(), outsider, domain.ListActivityRequest{ItemID: f.node.Generate()})
	assert.ErrorIs(t, errForeign, domain.ErrItemNotFound)
	assert.Equal(t, errMissing, errForeign)
}

func TestListByProjectRequiresElevatedRole(t *testing.T) {
	f := setupAuditService(t)
	f.seedTrail()

	member := f.actor
	member.Role = tenant.RoleMember
	_, err := f.svc.ListByProject(context.Background(), member, domain.ListProjectActivityRequest{ProjectID: f.project})
	assert.ErrorIs(t, err, domain.ErrForbidden)

	feed, err := f.svc.ListByProject(context.Background(), f.actor, domain.ListProjectActivityRequest{ProjectID: f.project})
	require.NoError(t, err)
	assert.Len(t, feed.Entries, 5, "created + update + three move entries")
}

func TestExportNDJSONStreamsOldestFirst(t *testing.T) {
	f := setupAuditService(t)
	f.seedTrail()

	var buf bytes.Buffer
	err := f.svc.Export(context.Background(), f.actor, domain.ExportActivityRequest{ItemID: f.item.ID}, &buf)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 5)

	var first map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, string(domain.ActionCreated), first["action"])
	assert.Equal(t, "Alice", first["user"])
	assert.Contains(t, first, "timestamp")

	var last map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[4]), &last))
	assert.Equal(t, string(domain.ActionMoved), last["action"])
}

func TestExportCSVHasHeaderAndRows(t *testing.T) {
	f := setupAuditService(t)
	f.seedTrail()

	var buf bytes.Buffer
	err := f.svc.Export(context.Background(), f.actor, domain.ExportActivityRequest{
		ItemID: f.item.ID,
		Format: domain.FormatCSV,
	}, &buf)
	require.NoError(t, err)

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 6, "header plus five entries")
	assert.Equal(t, []string{"timestamp", "user", "action", "field", "old_value", "new_value"}, records[0])
	assert.Equal(t, string(domain.ActionUpdated), records[2][2])
	assert.Equal(t, "Checkout flow v2", records[2][5])
}

func TestExportRejectsUnknownFormatAndForeignItem(t *testing.T) {
	f := setupAuditService(t)
	f.seedTrail()

	var buf bytes.Buffer
	err := f.svc.Export(context.Background(), f.actor, domain.ExportActivityRequest{
		ItemID: f.item.ID,
		Format: "xlsx",
	}, &buf)
	assert.ErrorIs(t, err, domain.ErrInvalidFormat)

	outsider := tenant.Context{OrgID: f.node.Generate(), UserID: f.node.Generate(), Role: tenant.RoleAdmin}
	err = f.svc.Export(context.Background(), outsider, domain.ExportActivityRequest{ItemID: f.item.ID}, &buf)
	assert.ErrorIs(t, err, domain.ErrItemNotFound)
}

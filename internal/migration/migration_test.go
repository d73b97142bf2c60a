package migration

import (
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	itemdomain "github.com/tracklane/tracklane/internal/item/domain"
	"github.com/tracklane/tracklane/internal/seed"
	dbpkg "github.com/tracklane/tracklane/pkg/db"
)

func setupSchema(t *testing.T) (*gorm.DB, *snowflake.Node) {
	t.Helper()
	db, err := dbpkg.NewTest()
	require.NoError(t, err)
	require.NoError(t, RunDevMigrations(db))
	node, err := snowflake.NewNode(7)
	require.NoError(t, err)
	return db, node
}

func insertTask(t *testing.T, db *gorm.DB, node *snowflake.Node, columnID snowflake.ID, seq int64, key float64, archived bool) error {
	t.Helper()
	task := itemdomain.Item{
		ID:             node.Generate(),
		OrgID:          1,
		ProjectID:      2,
		ColumnID:       columnID,
		SequenceNumber: seq,
		OrderKey:       key,
		Title:          "task",
		Priority:       itemdomain.PriorityMedium,
		Archived:       archived,
		CreatedAt:      time.Now().UTC(),
		UpdatedAt:      time.Now().UTC(),
	}
	return db.Create(&task).Error
}

func TestDevMigrationsAreRepeatable(t *testing.T) {
	db, _ := setupSchema(t)
	require.NoError(t, RunDevMigrations(db))
}

func TestLiveOrderKeysStayUniquePerColumn(t *testing.T) {
	db, node := setupSchema(t)
	columnID := node.Generate()

	require.NoError(t, insertTask(t, db, node, columnID, 1, 1000, false))

	err := insertTask(t, db, node, columnID, 2, 1000, false)
	require.Error(t, err)
	assert.True(t, dbpkg.IsDuplicateKeyErr(err))

	// archived rows sit outside the index
	require.NoError(t, insertTask(t, db, node, columnID, 3, 1000, true))
	require.NoError(t, insertTask(t, db, node, columnID, 4, 1000, true))

	// other columns are free to reuse the key
	require.NoError(t, insertTask(t, db, node, node.Generate(), 5, 1000, false))
}

func TestSequenceNumbersStayUniquePerProject(t *testing.T) {
	db, node := setupSchema(t)

	require.NoError(t, insertTask(t, db, node, node.Generate(), 1, 1000, false))
	err := insertTask(t, db, node, node.Generate(), 1, 2000, false)
	require.Error(t, err)
	assert.True(t, dbpkg.IsDuplicateKeyErr(err))
}

func TestSeedDemoWorkspaceIsIdempotent(t *testing.T) {
	db, _ := setupSchema(t)

	require.NoError(t, seed.EnsureDemoWorkspace(db))
	require.NoError(t, seed.EnsureDemoWorkspace(db))

	var orgs, tasks, columns, entries int64
	require.NoError(t, db.Raw(`SELECT COUNT(1) FROM organizations`).Scan(&orgs).Error)
	require.NoError(t, db.Raw(`SELECT COUNT(1) FROM tasks`).Scan(&tasks).Error)
	require.NoError(t, db.Raw(`SELECT COUNT(1) FROM board_columns`).Scan(&columns).Error)
	require.NoError(t, db.Raw(`SELECT COUNT(1) FROM audit_entries`).Scan(&entries).Error)
	assert.Equal(t, int64(1), orgs)
	assert.Equal(t, int64(4), tasks)
	assert.Equal(t, int64(3), columns)
	assert.Equal(t, int64(4), entries)

	var nextSeq int64
	require.NoError(t, db.Raw(`SELECT next_sequence FROM projects WHERE key = 'WEB'`).Scan(&nextSeq).Error)
	assert.Equal(t, int64(5), nextSeq)
}

package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tracklane/tracklane/internal/boardevent/domain"
	"github.com/tracklane/tracklane/internal/clock"
	"github.com/tracklane/tracklane/internal/events"
	dbpkg "github.com/tracklane/tracklane/pkg/db"
	"github.com/tracklane/tracklane/pkg/telemetry/correlation"
	"gorm.io/gorm"
)

type captureSink struct {
	delivered    []PendingEvent
	correlations []string
	failTypes    map[string]int
}

func (s *captureSink) Deliver(ctx context.Context, event PendingEvent) error {
	if remaining, ok := s.failTypes[event.EventType]; ok && remaining > 0 {
		s.failTypes[event.EventType] = remaining - 1
		return errors.New("sink unavailable")
	}
	s.delivered = append(s.delivered, event)
	s.correlations = append(s.correlations, correlation.ExtractCorrelationID(ctx))
	return nil
}

type dispatcherFixture struct {
	t         *testing.T
	db        *gorm.DB
	node      *snowflake.Node
	publisher events.Publisher
	sink      *captureSink
	disp      *Dispatcher
	orgID     snowflake.ID
}

func setupDispatcher(t *testing.T) *dispatcherFixture {
	t.Helper()

	db, err := dbpkg.NewTest()
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&domain.BoardEvent{}))

	node, err := snowflake.NewNode(4)
	require.NoError(t, err)

	sink := &captureSink{failTypes: map[string]int{}}
	disp, err := New(Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clock.NewFakeClock(time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)),
		Sink:  sink,
		Config: Config{
			BatchSize: 2,
		},
	})
	require.NoError(t, err)

	return &dispatcherFixture{
		t:         t,
		db:        db,
		node:      node,
		publisher: events.NewOutboxPublisher(db, node),
		sink:      sink,
		disp:      disp,
		orgID:     node.Generate(),
	}
}

func (f *dispatcherFixture) publish(eventType, dedupe string) {
	f.t.Helper()
	err := f.publisher.Publish(context.Background(), events.Event{
		OrgID:     f.orgID,
		Type:      eventType,
		Payload:   map[string]any{"task_id": "42"},
		DedupeKey: dedupe,
	})
	require.NoError(f.t, err)
}

func (f *dispatcherFixture) pendingCount() int64 {
	f.t.Helper()
	var count int64
	err := f.db.Raw(`SELECT COUNT(1) FROM board_events WHERE published = false`).Scan(&count).Error
	require.NoError(f.t, err)
	return count
}

func TestRunOnceDrainsOutboxInOrder(t *testing.T) {
	f := setupDispatcher(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		f.publish("task.created", fmt.Sprintf("task-created-%d", i))
	}

	require.NoError(t, f.disp.RunOnce(ctx))

	// batch size 2 forces three claim passes
	require.Len(t, f.sink.delivered, 5)
	for i := 1; i < len(f.sink.delivered); i++ {
		assert.Greater(t, int64(f.sink.delivered[i].ID), int64(f.sink.delivered[i-1].ID))
	}
	assert.Equal(t, int64(0), f.pendingCount())

	var stamped int64
	err := f.db.Raw(`SELECT COUNT(1) FROM board_events WHERE published = true AND published_at IS NOT NULL`).Scan(&stamped).Error
	require.NoError(t, err)
	assert.Equal(t, int64(5), stamped)
}

func TestRunOnceIsIdempotentWhenDrained(t *testing.T) {
	f := setupDispatcher(t)
	ctx := context.Background()

	f.publish("task.moved", "task-moved-1")
	require.NoError(t, f.disp.RunOnce(ctx))
	require.Len(t, f.sink.delivered, 1)

	require.NoError(t, f.disp.RunOnce(ctx))
	assert.Len(t, f.sink.delivered, 1)
}

func TestFailedDeliveryStaysPendingAndRetries(t *testing.T) {
	f := setupDispatcher(t)
	ctx := context.Background()

	f.publish("task.created", "task-created-1")
	f.publish("column.deleted", "column-deleted-1")
	f.sink.failTypes["column.deleted"] = 100

	err := f.disp.RunOnce(ctx)
	require.Error(t, err)
	assert.Len(t, f.sink.delivered, 1)
	assert.Equal(t, "task.created", f.sink.delivered[0].EventType)
	assert.Equal(t, int64(1), f.pendingCount())

	// sink recovered, next run picks the leftover up
	delete(f.sink.failTypes, "column.deleted")
	require.NoError(t, f.disp.RunOnce(ctx))
	require.Len(t, f.sink.delivered, 2)
	assert.Equal(t, "column.deleted", f.sink.delivered[1].EventType)
	assert.Equal(t, int64(0), f.pendingCount())
}

func TestDedupeKeyCollapsesDuplicateEvents(t *testing.T) {
	f := setupDispatcher(t)
	ctx := context.Background()

	f.publish("task.archived", "task-archived-7")
	f.publish("task.archived", "task-archived-7")

	var rows int64
	err := f.db.Raw(`SELECT COUNT(1) FROM board_events`).Scan(&rows).Error
	require.NoError(t, err)
	assert.Equal(t, int64(1), rows)

	require.NoError(t, f.disp.RunOnce(ctx))
	assert.Len(t, f.sink.delivered, 1)
}

func TestDeliveryContextCarriesPublishCorrelation(t *testing.T) {
	f := setupDispatcher(t)

	pubCtx := correlation.ContextWithCorrelationID(context.Background(), "corr-move-123")
	err := f.publisher.Publish(pubCtx, events.Event{
		OrgID:   f.orgID,
		Type:    "task.moved",
		Payload: map[string]any{"task_id": "42"},
	})
	require.NoError(t, err)

	require.NoError(t, f.disp.RunOnce(context.Background()))
	require.Len(t, f.sink.correlations, 1)
	assert.Equal(t, "corr-move-123", f.sink.correlations[0])
}

func TestEventsWithoutDedupeKeyAllDispatch(t *testing.T) {
	f := setupDispatcher(t)
	ctx := context.Background()

	f.publish("task.updated", "")
	f.publish("task.updated", "")

	require.NoError(t, f.disp.RunOnce(ctx))
	assert.Len(t, f.sink.delivered, 2)
	for _, event := range f.sink.delivered {
		assert.Nil(t, event.DedupeKey)
		assert.Equal(t, f.orgID, event.OrgID)
	}
}

package dispatcher

import (
	"context"
	"encoding/json"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/tracklane/tracklane/pkg/log/ctxlogger"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

// PendingEvent is one claimed outbox row.
type PendingEvent struct {
	ID        snowflake.ID
	OrgID     snowflake.ID
	EventType string
	Payload   datatypes.JSON
	DedupeKey *string
	CreatedAt time.Time
}

// correlationID reads the correlation stamped into the payload at publish time.
func (e PendingEvent) correlationID() string {
	var envelope struct {
		CorrelationID string `json:"correlation_id"`
	}
	if err := json.Unmarshal(e.Payload, &envelope); err != nil {
		return ""
	}
	return envelope.CorrelationID
}

// Sink receives claimed events. Delivery must be idempotent: a row whose
// batch fails to commit will be claimed again on the next run.
type Sink interface {
	Deliver(ctx context.Context, event PendingEvent) error
}

type logSink struct {
	log *zap.Logger
}

// NewLogSink returns a Sink that emits each event as a structured log line.
// Broker delivery plugs in behind the same interface.
func NewLogSink(log *zap.Logger) Sink {
	return &logSink{log: log.Named("dispatcher.sink")}
}

func (s *logSink) Deliver(ctx context.Context, event PendingEvent) error {
	ctxlogger.WithContext(ctx, s.log).Info("event.dispatched",
		zap.String("event_id", event.ID.String()),
		zap.String("org_id", event.OrgID.String()),
		zap.String("event_type", event.EventType),
		zap.Any("payload", json.RawMessage(event.Payload)),
		zap.Time("created_at", event.CreatedAt),
	)
	return nil
}

package events

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/tracklane/tracklane/pkg/telemetry/correlation"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Publisher writes events to the board_events outbox. WithTx joins the
// caller's transaction so the event commits or rolls back with the mutation
// that produced it.
type Publisher interface {
	WithTx(tx *gorm.DB) Publisher
	Publish(ctx context.Context, event Event) error
}

type outboxPublisher struct {
	db    *gorm.DB
	genID *snowflake.Node
}

func NewOutboxPublisher(db *gorm.DB, genID *snowflake.Node) Publisher {
	return &outboxPublisher{db: db, genID: genID}
}

func (p *outboxPublisher) WithTx(tx *gorm.DB) Publisher {
	return &outboxPublisher{db: tx, genID: p.genID}
}

func (p *outboxPublisher) Publish(ctx context.Context, event Event) error {
	if event.OrgID == 0 {
		return errors.New("missing org_id")
	}
	eventType := strings.TrimSpace(event.Type)
	if eventType == "" {
		return errors.New("missing event_type")
	}

	payload := correlation.AnnotateEventMetadata(ctx, event.Payload)
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	var dedupe *string
	if key := strings.TrimSpace(event.DedupeKey); key != "" {
		dedupe = &key
	}

	query := `INSERT INTO board_events (id, org_id, event_type, payload, dedupe_key, published, created_at)
		 VALUES (?, ?, ?, ?, ?, false, ?)`
	if dedupe != nil {
		query += " ON CONFLICT (org_id, dedupe_key) DO NOTHING"
	}

	return p.db.WithContext(ctx).Exec(
		query,
		p.genID.Generate(),
		event.OrgID,
		eventType,
		datatypes.JSON(raw),
		dedupe,
		time.Now().UTC(),
	).Error
}

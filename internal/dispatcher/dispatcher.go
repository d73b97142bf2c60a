package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/tracklane/tracklane/internal/clock"
	"github.com/tracklane/tracklane/pkg/log/ctxlogger"
	"github.com/tracklane/tracklane/pkg/telemetry"
	"github.com/tracklane/tracklane/pkg/telemetry/correlation"
	"go.uber.org/fx"
)

var ErrMissingDependencies = errors.New("dispatcher missing dependencies")

const claimTimeout = 2 * time.Second

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Sink  Sink

	Metrics *telemetry.Metrics `optional:"true"`
	Config  Config             `optional:"true"`
}

// Dispatcher drains the board_events outbox. Rows are claimed with
// FOR UPDATE SKIP LOCKED so multiple workers can run side by side; a row is
// marked published only after the sink accepted it, in the same transaction
// that holds the claim.
type Dispatcher struct {
	db      *gorm.DB
	log     *zap.Logger
	cfg     Config
	genID   *snowflake.Node
	clock   clock.Clock
	sink    Sink
	metrics *telemetry.Metrics
}

func New(p Params) (*Dispatcher, error) {
	if p.DB == nil || p.Log == nil || p.GenID == nil || p.Clock == nil || p.Sink == nil {
		return nil, ErrMissingDependencies
	}
	return &Dispatcher{
		db:      p.DB,
		log:     p.Log.Named("dispatcher"),
		cfg:     p.Config.withDefaults(),
		genID:   p.GenID,
		clock:   p.Clock,
		sink:    p.Sink,
		metrics: p.Metrics,
	}, nil
}

type runStats struct {
	runID     string
	startedAt time.Time
	published int
	errors    int
}

// RunOnce drains the outbox until a pass publishes nothing, then refreshes
// the backlog gauge. Events that fail delivery stay pending for the next run.
func (d *Dispatcher) RunOnce(parent context.Context) error {
	ctx, cancel := context.WithTimeout(parent, d.cfg.DrainTimeout)
	defer cancel()

	run := &runStats{
		runID:     d.genID.Generate().String(),
		startedAt: time.Now(),
	}
	log := d.log.With(zap.String("run_id", run.runID))

	var runErr error
	for {
		if ctx.Err() != nil {
			runErr = errors.Join(runErr, ctx.Err())
			break
		}
		published, batchErr := d.dispatchBatch(ctx)
		run.published += published
		if batchErr != nil {
			run.errors++
			runErr = errors.Join(runErr, batchErr)
		}
		if published == 0 {
			break
		}
	}

	if err := d.refreshBacklog(ctx); err != nil {
		runErr = errors.Join(runErr, err)
	}

	fields := []zap.Field{
		zap.Int64("duration_ms", time.Since(run.startedAt).Milliseconds()),
		zap.Int("published_count", run.published),
		zap.Int("error_count", run.errors),
	}
	if run.errors > 0 {
		log.Warn("dispatcher.run.finish", fields...)
	} else if run.published > 0 {
		log.Info("dispatcher.run.finish", fields...)
	}

	if runErr != nil {
		return fmt.Errorf("dispatch: %w", runErr)
	}
	return nil
}

// RunForever drains on a fixed interval until the context is canceled.
func (d *Dispatcher) RunForever(ctx context.Context) {
	ticker := time.NewTicker(d.cfg.RunInterval)
	defer ticker.Stop()

	for {
		if err := d.RunOnce(ctx); err != nil && ctx.Err() == nil {
			d.log.Warn("dispatcher run failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (d *Dispatcher) dispatchBatch(ctx context.Context) (int, error) {
	start := d.clock.Now()
	var (
		delivered []snowflake.ID
		attempted int
		deliverErr error
	)

	txErr := d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		events, err := d.claimPending(ctx, tx, d.cfg.BatchSize)
		if err != nil {
			return err
		}
		attempted = len(events)
		if attempted == 0 {
			return nil
		}

		for _, event := range events {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			evCtx := eventContext(ctx, event)
			if err := d.sink.Deliver(evCtx, event); err != nil {
				deliverErr = errors.Join(deliverErr, fmt.Errorf("deliver %s: %w", event.ID, err))
				ctxlogger.WithContext(evCtx, d.log).Warn("event delivery failed",
					zap.String("event_id", event.ID.String()),
					zap.String("event_type", event.EventType),
					zap.Error(err),
				)
				continue
			}
			delivered = append(delivered, event.ID)
		}

		if len(delivered) == 0 {
			return nil
		}
		return d.markPublished(ctx, tx, delivered, d.clock.Now())
	})
	if txErr != nil {
		d.metrics.RecordOutboxBatch("error", attempted, time.Since(start))
		return 0, txErr
	}
	if attempted == 0 {
		return 0, nil
	}

	status := "ok"
	if deliverErr != nil {
		status = "error"
	}
	d.metrics.RecordOutboxBatch(status, len(delivered), time.Since(start))
	return len(delivered), deliverErr
}

// eventContext carries the event subject and the correlation ID recorded at
// publish time, so delivery logs line up with the request that produced the event.
func eventContext(parent context.Context, event PendingEvent) context.Context {
	ctx := ctxlogger.ContextWithEventSubject(parent, event.EventType)
	if cid := event.correlationID(); cid != "" {
		ctx = correlation.ContextWithCorrelationID(ctx, cid)
	}
	return ctx
}

func (d *Dispatcher) claimPending(ctx context.Context, tx *gorm.DB, limit int) ([]PendingEvent, error) {
	claimCtx, cancel := context.WithTimeout(ctx, claimTimeout)
	defer cancel()

	var events []PendingEvent
	err := tx.WithContext(claimCtx).Raw(
		`SELECT id, org_id, event_type, payload, dedupe_key, created_at
		 FROM board_events
		 WHERE published = false
		 ORDER BY id
		 LIMIT ?
		 FOR UPDATE SKIP LOCKED`,
		limit,
	).Scan(&events).Error
	if err != nil {
		return nil, err
	}
	return events, nil
}

func (d *Dispatcher) markPublished(ctx context.Context, tx *gorm.DB, ids []snowflake.ID, now time.Time) error {
	return tx.WithContext(ctx).Exec(
		`UPDATE board_events
		 SET published = true, published_at = ?
		 WHERE id IN ?`,
		now,
		ids,
	).Error
}

func (d *Dispatcher) refreshBacklog(ctx context.Context) error {
	var pending int64
	if err := d.db.WithContext(ctx).Raw(
		`SELECT COUNT(1) FROM board_events WHERE published = false`,
	).Scan(&pending).Error; err != nil {
		return err
	}
	d.metrics.SetOutboxBacklog(float64(pending))
	return nil
}

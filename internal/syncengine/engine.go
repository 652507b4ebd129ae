package syncengine

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/tillpoint/terminald/internal/orders"
	"github.com/tillpoint/terminald/pkg/config"
	"github.com/tillpoint/terminald/pkg/db/models"
	"github.com/tillpoint/terminald/pkg/enums"
	pkgerrors "github.com/tillpoint/terminald/pkg/errors"
	"github.com/tillpoint/terminald/pkg/logger"
	"github.com/tillpoint/terminald/pkg/metrics"
)

const (
	defaultBatchSize    = 25
	defaultPollInterval = 15 * time.Second
	defaultRetryDelay   = 30 * time.Second
	defaultMaxAttempts  = 10
	maxBackoff          = 5 * time.Minute
	jitterWindow        = 250 * time.Millisecond

	// TriggerTimer and TriggerKick label which signal started a pass.
	TriggerTimer = "timer"
	TriggerKick  = "kick"
)

var jitterSource = rand.New(rand.NewSource(time.Now().UnixNano()))

type dbClient interface {
	WithTx(context.Context, func(tx *gorm.DB) error) error
}

type queueRepository interface {
	FetchDrainable(ctx context.Context, tenantID string, now time.Time, baseDelay time.Duration, limit int) ([]models.PendingOrder, error)
	MarkSyncingTx(tx *gorm.DB, tempID string, now time.Time) error
	MarkSyncedTx(tx *gorm.DB, tempID string, now time.Time) error
	MarkRetryTx(tx *gorm.DB, tempID string, cause error, now time.Time) error
	MarkTerminalTx(tx *gorm.DB, tempID string, cause error, now time.Time) error
	ReleaseSyncingTx(tx *gorm.DB, tenantID string) (int64, error)
	PurgeSyncedBefore(ctx context.Context, cutoff time.Time) (int64, error)
	CountByStatus(ctx context.Context, tenantID string) (map[enums.OrderSyncStatus]int64, error)
}

type orderSubmitter interface {
	SubmitRawOrder(ctx context.Context, orderData []byte) error
}

// EngineParams configure the background sync engine.
type EngineParams struct {
	TenantID string
	Sync     config.SyncConfig
	Backend  orderSubmitter
	Repo     queueRepository
	DB       dbClient
	Logger   *logger.Logger
	Metrics  *metrics.SyncMetrics
	Now      func() time.Time
}

// Engine drains the pending-order queue against the backend. One drain pass
// runs at a time; a trigger arriving mid-pass is skipped, not queued, so the
// same item is never posted twice concurrently.
type Engine struct {
	tenantID     string
	pollInterval time.Duration
	baseDelay    time.Duration
	maxAttempts  int
	batchSize    int
	retention    time.Duration
	backend      orderSubmitter
	repo         queueRepository
	db           dbClient
	logg         *logger.Logger
	metrics      *metrics.SyncMetrics
	now          func() time.Time

	inFlight sync.Mutex
	kick     chan struct{}
}

// NewEngine builds a sync engine.
func NewEngine(params EngineParams) (*Engine, error) {
	if params.TenantID == "" {
		return nil, errors.New("tenant id required")
	}
	if params.Backend == nil {
		return nil, errors.New("backend client required")
	}
	if params.Repo == nil {
		return nil, errors.New("queue repository required")
	}
	if params.DB == nil {
		return nil, errors.New("db client required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger required")
	}

	poll := params.Sync.PollInterval
	if poll <= 0 {
		poll = defaultPollInterval
	}
	baseDelay := params.Sync.BaseRetryDelay
	if baseDelay <= 0 {
		baseDelay = defaultRetryDelay
	}
	maxAttempts := params.Sync.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	batch := params.Sync.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}

	return &Engine{
		tenantID:     params.TenantID,
		pollInterval: poll,
		baseDelay:    baseDelay,
		maxAttempts:  maxAttempts,
		batchSize:    batch,
		retention:    params.Sync.SyncedRetention,
		backend:      params.Backend,
		repo:         params.Repo,
		db:           params.DB,
		logg:         params.Logger,
		metrics:      params.Metrics,
		now:          now,
		kick:         make(chan struct{}, 1),
	}, nil
}

// Kick signals that connectivity was regained. Non-blocking; kicks arriving
// while one is already buffered coalesce into a single pass.
func (e *Engine) Kick() {
	select {
	case e.kick <- struct{}{}:
	default:
	}
}

// Run drives the drain loop until the context is canceled. A failed pass
// widens the polling sleep up to a cap; a clean pass resets it.
func (e *Engine) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	wait := e.pollInterval
	timer := time.NewTimer(withJitter(wait))
	defer timer.Stop()

	for {
		trigger := TriggerTimer
		select {
		case <-ctx.Done():
			e.logg.Info(ctx, "sync engine context canceled")
			return ctx.Err()
		case <-timer.C:
		case <-e.kick:
			trigger = TriggerKick
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		}

		if err := e.DrainOnce(ctx, trigger); err != nil {
			e.logg.Error(ctx, "sync pass failed", err)
			wait = nextBackoff(wait, e.pollInterval, maxBackoff)
		} else {
			wait = e.pollInterval
		}
		timer.Reset(withJitter(wait))
	}
}

// DrainOnce runs a single drain pass. An overlapping call returns
// immediately; the in-flight pass will pick up whatever it missed.
func (e *Engine) DrainOnce(ctx context.Context, trigger string) error {
	if !e.inFlight.TryLock() {
		e.metrics.IncSkipped()
		e.logg.Debug(ctx, "sync pass already in flight, skipping trigger")
		return nil
	}
	defer e.inFlight.Unlock()

	e.releaseStranded(ctx)

	started := e.now()
	err := e.drain(ctx)
	e.metrics.ObservePass(trigger, e.now().Sub(started))

	e.purgeSynced(ctx)
	e.publishQueueDepth(ctx)
	return err
}

// releaseStranded puts rows left in syncing by an earlier process death
// back into rotation. It runs under the in-flight lock, so no submit can
// be holding a syncing row while it sweeps.
func (e *Engine) releaseStranded(ctx context.Context) {
	var released int64
	err := e.db.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		released, err = e.repo.ReleaseSyncingTx(tx, e.tenantID)
		return err
	})
	if err != nil {
		e.logg.Error(ctx, "releasing stranded syncing orders", err)
		return
	}
	if released > 0 {
		e.logg.Warn(e.logg.WithField(ctx, "released", released), "recovered orders stranded mid-sync")
	}
}

func (e *Engine) drain(ctx context.Context) error {
	now := e.now()
	items, err := e.repo.FetchDrainable(ctx, e.tenantID, now, e.baseDelay, e.batchSize)
	if err != nil {
		return fmt.Errorf("fetching drainable orders: %w", err)
	}

	var passErr error
	for _, item := range items {
		select {
		case <-ctx.Done():
			return multierr.Append(passErr, ctx.Err())
		default:
		}
		if err := e.drainItem(ctx, item); err != nil {
			passErr = multierr.Append(passErr, err)
		}
	}
	return passErr
}

// drainItem walks one queue item through syncing and into its outcome
// state. Each status move is its own transaction so a crash mid-item never
// leaves a half-written record, and the syncing guard keeps a second writer
// from taking the same row.
func (e *Engine) drainItem(ctx context.Context, item models.PendingOrder) error {
	ctx = e.logg.WithTempID(ctx, item.TempID)

	err := e.db.WithTx(ctx, func(tx *gorm.DB) error {
		return e.repo.MarkSyncingTx(tx, item.TempID, e.now())
	})
	if err != nil {
		// Another writer already took the row. Not a pass failure.
		if errors.Is(err, orders.ErrStatusConflict) {
			return nil
		}
		return fmt.Errorf("mark syncing %s: %w", item.TempID, err)
	}

	submitErr := e.backend.SubmitRawOrder(ctx, item.OrderData)
	if submitErr == nil || pkgerrors.IsDuplicateAccepted(submitErr) {
		if err := e.db.WithTx(ctx, func(tx *gorm.DB) error {
			return e.repo.MarkSyncedTx(tx, item.TempID, e.now())
		}); err != nil {
			return fmt.Errorf("mark synced %s: %w", item.TempID, err)
		}
		e.metrics.IncOutcome("synced")
		e.logg.Info(ctx, "queued order synced")
		return nil
	}

	switch pkgerrors.CodeOf(submitErr) {
	case pkgerrors.CodeRejected, pkgerrors.CodeValidation:
		if err := e.markTerminal(ctx, item, submitErr); err != nil {
			return err
		}
		return nil
	}

	// Transient. The attempt that just failed counts toward the cap.
	if item.Attempts+1 >= e.maxAttempts {
		capErr := fmt.Errorf("max sync attempts reached: %w", submitErr)
		if err := e.markTerminal(ctx, item, capErr); err != nil {
			return err
		}
		return nil
	}

	if err := e.db.WithTx(ctx, func(tx *gorm.DB) error {
		return e.repo.MarkRetryTx(tx, item.TempID, submitErr, e.now())
	}); err != nil {
		return fmt.Errorf("mark retry %s: %w", item.TempID, err)
	}
	e.metrics.IncOutcome("retried")
	e.logg.Warn(e.logg.WithField(ctx, "error", submitErr.Error()), "queued order sync failed, will retry")
	return fmt.Errorf("submit %s: %w", item.TempID, submitErr)
}

func (e *Engine) markTerminal(ctx context.Context, item models.PendingOrder, cause error) error {
	if err := e.db.WithTx(ctx, func(tx *gorm.DB) error {
		return e.repo.MarkTerminalTx(tx, item.TempID, cause, e.now())
	}); err != nil {
		return fmt.Errorf("mark terminal %s: %w", item.TempID, err)
	}
	e.metrics.IncOutcome("terminal")
	e.logg.Warn(e.logg.WithField(ctx, "error", cause.Error()), "queued order will not be retried")
	return nil
}

func (e *Engine) purgeSynced(ctx context.Context) {
	if e.retention <= 0 {
		return
	}
	purged, err := e.repo.PurgeSyncedBefore(ctx, e.now().Add(-e.retention))
	if err != nil {
		e.logg.Error(ctx, "purging synced orders", err)
		return
	}
	if purged > 0 {
		e.logg.Info(e.logg.WithField(ctx, "purged", purged), "purged synced orders past retention")
	}
}

func (e *Engine) publishQueueDepth(ctx context.Context) {
	counts, err := e.repo.CountByStatus(ctx, e.tenantID)
	if err != nil {
		e.logg.Error(ctx, "counting queue depth", err)
		return
	}
	for _, status := range []enums.OrderSyncStatus{
		enums.OrderSyncStatusPending,
		enums.OrderSyncStatusSyncing,
		enums.OrderSyncStatusSynced,
		enums.OrderSyncStatusFailed,
	} {
		e.metrics.SetQueueDepth(string(status), counts[status])
	}
}

func nextBackoff(current, base, max time.Duration) time.Duration {
	if current <= 0 {
		current = base
	}
	next := current * 2
	if next > max {
		return max
	}
	return next
}

func withJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	jitter := time.Duration(jitterSource.Int63n(int64(jitterWindow)))
	return d + jitter
}

package syncengine

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/tillpoint/terminald/internal/orders"
	"github.com/tillpoint/terminald/pkg/config"
	"github.com/tillpoint/terminald/pkg/db"
	"github.com/tillpoint/terminald/pkg/db/models"
	"github.com/tillpoint/terminald/pkg/enums"
	pkgerrors "github.com/tillpoint/terminald/pkg/errors"
	"github.com/tillpoint/terminald/pkg/logger"
)

type fakeOrderSubmitter struct {
	mu       sync.Mutex
	err      error
	payloads [][]byte
}

func (f *fakeOrderSubmitter) SubmitRawOrder(ctx context.Context, orderData []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payloads = append(f.payloads, orderData)
	return f.err
}

func (f *fakeOrderSubmitter) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.payloads)
}

func setupEngineTestDB(t *testing.T) *db.Client {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	ddl := `
CREATE TABLE IF NOT EXISTS pending_orders (
  temp_id TEXT PRIMARY KEY,
  tenant_id TEXT NOT NULL,
  order_data TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'pending',
  attempts INTEGER NOT NULL DEFAULT 0,
  last_error TEXT,
  created_at DATETIME,
  last_attempt_at DATETIME,
  synced_at DATETIME
);`
	require.NoError(t, conn.Exec(ddl).Error)
	return db.NewWithConn(conn)
}

func newEngine(t *testing.T, client *db.Client, sub *fakeOrderSubmitter, opts ...func(*EngineParams)) *Engine {
	t.Helper()
	params := EngineParams{
		TenantID: "tenant-1",
		Sync: config.SyncConfig{
			PollInterval:   10 * time.Millisecond,
			BaseRetryDelay: time.Nanosecond,
			MaxAttempts:    10,
			BatchSize:      25,
		},
		Backend: sub,
		Repo:    orders.NewRepository(client.DB()),
		DB:      client,
		Logger:  logger.New(logger.Options{ServiceName: "syncengine-test"}),
	}
	for _, opt := range opts {
		opt(&params)
	}
	engine, err := NewEngine(params)
	require.NoError(t, err)
	return engine
}

func enqueueOrder(t *testing.T, client *db.Client, tempID string, createdAt time.Time) *models.PendingOrder {
	t.Helper()
	payload, err := json.Marshal(map[string]any{"temp_id": tempID, "total_amount": "12.50"})
	require.NoError(t, err)

	order := &models.PendingOrder{
		TempID:    tempID,
		TenantID:  "tenant-1",
		OrderData: payload,
		Status:    enums.OrderSyncStatusPending,
		CreatedAt: createdAt,
	}
	repo := orders.NewRepository(client.DB())
	require.NoError(t, client.DB().Transaction(func(tx *gorm.DB) error {
		return repo.InsertTx(tx, order)
	}))
	return order
}

func TestDrainOnceSyncsPendingOrders(t *testing.T) {
	client := setupEngineTestDB(t)
	sub := &fakeOrderSubmitter{}
	engine := newEngine(t, client, sub)
	order := enqueueOrder(t, client, "temp_1_a", time.Now().Add(-time.Minute))

	require.NoError(t, engine.DrainOnce(context.Background(), TriggerTimer))

	require.Equal(t, 1, sub.calls())
	// The posted bytes are the frozen payload, untouched.
	assert.Equal(t, []byte(order.OrderData), sub.payloads[0])

	row, err := orders.NewRepository(client.DB()).GetByTempID(context.Background(), order.TempID)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderSyncStatusSynced, row.Status)
	assert.NotNil(t, row.SyncedAt)

	// The queue is drained; the next pass finds nothing to post.
	require.NoError(t, engine.DrainOnce(context.Background(), TriggerTimer))
	assert.Equal(t, 1, sub.calls())
}

func TestDrainOnceKeepsItemPendingOnTransientFailure(t *testing.T) {
	client := setupEngineTestDB(t)
	sub := &fakeOrderSubmitter{err: pkgerrors.New(pkgerrors.CodeTransient, "bad gateway")}
	engine := newEngine(t, client, sub)
	order := enqueueOrder(t, client, "temp_1_a", time.Now().Add(-time.Minute))

	err := engine.DrainOnce(context.Background(), TriggerTimer)
	require.Error(t, err)

	row, getErr := orders.NewRepository(client.DB()).GetByTempID(context.Background(), order.TempID)
	require.NoError(t, getErr)
	assert.Equal(t, enums.OrderSyncStatusPending, row.Status)
	assert.Equal(t, 1, row.Attempts)
	require.NotNil(t, row.LastError)
	assert.Contains(t, *row.LastError, "bad gateway")
}

func TestDrainOnceAttemptsIncrementOncePerPass(t *testing.T) {
	client := setupEngineTestDB(t)
	sub := &fakeOrderSubmitter{err: pkgerrors.New(pkgerrors.CodeTransient, "timeout")}
	engine := newEngine(t, client, sub)
	order := enqueueOrder(t, client, "temp_1_a", time.Now().Add(-time.Minute))

	for pass := 1; pass <= 3; pass++ {
		require.Error(t, engine.DrainOnce(context.Background(), TriggerTimer))
		row, err := orders.NewRepository(client.DB()).GetByTempID(context.Background(), order.TempID)
		require.NoError(t, err)
		assert.Equal(t, pass, row.Attempts)
	}
}

func TestDrainOnceMarksRejectionTerminal(t *testing.T) {
	client := setupEngineTestDB(t)
	sub := &fakeOrderSubmitter{err: pkgerrors.New(pkgerrors.CodeRejected, "validation failed")}
	engine := newEngine(t, client, sub)
	order := enqueueOrder(t, client, "temp_1_a", time.Now().Add(-time.Minute))

	require.NoError(t, engine.DrainOnce(context.Background(), TriggerTimer))

	row, err := orders.NewRepository(client.DB()).GetByTempID(context.Background(), order.TempID)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderSyncStatusFailed, row.Status)

	// Terminal items never re-enter rotation.
	require.NoError(t, engine.DrainOnce(context.Background(), TriggerTimer))
	assert.Equal(t, 1, sub.calls())
}

func TestDrainOnceTreatsDuplicateAcceptedAsSynced(t *testing.T) {
	client := setupEngineTestDB(t)
	sub := &fakeOrderSubmitter{err: pkgerrors.New(pkgerrors.CodeDuplicateAccepted, "temp_id already applied")}
	engine := newEngine(t, client, sub)
	order := enqueueOrder(t, client, "temp_1_a", time.Now().Add(-time.Minute))

	require.NoError(t, engine.DrainOnce(context.Background(), TriggerTimer))

	row, err := orders.NewRepository(client.DB()).GetByTempID(context.Background(), order.TempID)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderSyncStatusSynced, row.Status)
}

func TestDrainOnceExhaustedAttemptsGoTerminal(t *testing.T) {
	client := setupEngineTestDB(t)
	sub := &fakeOrderSubmitter{err: pkgerrors.New(pkgerrors.CodeTransient, "still down")}
	engine := newEngine(t, client, sub, func(p *EngineParams) {
		p.Sync.MaxAttempts = 3
	})
	order := enqueueOrder(t, client, "temp_1_a", time.Now().Add(-time.Minute))

	// Pre-position the item one attempt short of the cap.
	require.NoError(t, client.DB().Model(&models.PendingOrder{}).
		Where("temp_id = ?", order.TempID).
		Update("attempts", 2).Error)

	require.NoError(t, engine.DrainOnce(context.Background(), TriggerTimer))

	row, err := orders.NewRepository(client.DB()).GetByTempID(context.Background(), order.TempID)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderSyncStatusFailed, row.Status)
	require.NotNil(t, row.LastError)
	assert.Contains(t, *row.LastError, "max sync attempts")
}

func TestDrainOnceRecoversOrderStrandedMidSync(t *testing.T) {
	client := setupEngineTestDB(t)
	sub := &fakeOrderSubmitter{}
	order := enqueueOrder(t, client, "temp_1_a", time.Now().Add(-time.Minute))

	// The process died between marking the row syncing and recording an
	// outcome: the row is stuck in syncing with its attempt on the books.
	require.NoError(t, client.DB().Model(&models.PendingOrder{}).
		Where("temp_id = ?", order.TempID).
		Updates(map[string]any{
			"status":          enums.OrderSyncStatusSyncing,
			"attempts":        1,
			"last_attempt_at": time.Now(),
		}).Error)

	engine := newEngine(t, client, sub)
	require.NoError(t, engine.DrainOnce(context.Background(), TriggerTimer))

	require.Equal(t, 1, sub.calls())
	row, err := orders.NewRepository(client.DB()).GetByTempID(context.Background(), order.TempID)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderSyncStatusSynced, row.Status)
}

func TestDrainOnceSkipsWhenPassInFlight(t *testing.T) {
	client := setupEngineTestDB(t)
	sub := &fakeOrderSubmitter{}
	engine := newEngine(t, client, sub)
	enqueueOrder(t, client, "temp_1_a", time.Now().Add(-time.Minute))

	engine.inFlight.Lock()
	require.NoError(t, engine.DrainOnce(context.Background(), TriggerKick))
	engine.inFlight.Unlock()

	// The overlapping trigger posted nothing.
	assert.Equal(t, 0, sub.calls())

	require.NoError(t, engine.DrainOnce(context.Background(), TriggerTimer))
	assert.Equal(t, 1, sub.calls())
}

func TestKickCoalesces(t *testing.T) {
	client := setupEngineTestDB(t)
	engine := newEngine(t, client, &fakeOrderSubmitter{})

	engine.Kick()
	engine.Kick()
	engine.Kick()
	assert.Len(t, engine.kick, 1)
}

func TestRunDrainsOnKickAndStopsOnCancel(t *testing.T) {
	client := setupEngineTestDB(t)
	sub := &fakeOrderSubmitter{}
	engine := newEngine(t, client, sub, func(p *EngineParams) {
		p.Sync.PollInterval = time.Hour
	})
	enqueueOrder(t, client, "temp_1_a", time.Now().Add(-time.Minute))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- engine.Run(ctx) }()

	engine.Kick()
	require.Eventually(t, func() bool {
		return sub.calls() == 1
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("engine did not stop on cancel")
	}
}

func TestRunDrainsBufferedKickAtStartup(t *testing.T) {
	client := setupEngineTestDB(t)
	sub := &fakeOrderSubmitter{}
	engine := newEngine(t, client, sub, func(p *EngineParams) {
		p.Sync.PollInterval = time.Hour
	})
	enqueueOrder(t, client, "temp_1_a", time.Now().Add(-time.Minute))

	// A kick buffered before the loop starts is consumed immediately
	// instead of waiting out the first poll interval.
	engine.Kick()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- engine.Run(ctx) }()

	require.Eventually(t, func() bool {
		return sub.calls() == 1
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("engine did not stop on cancel")
	}
}

func TestDrainOnceEndToEndReconnect(t *testing.T) {
	client := setupEngineTestDB(t)
	sub := &fakeOrderSubmitter{err: pkgerrors.New(pkgerrors.CodeTransient, "offline")}
	engine := newEngine(t, client, sub)
	order := enqueueOrder(t, client, "temp_1_a", time.Now().Add(-time.Minute))

	// Offline pass leaves the order pending.
	require.Error(t, engine.DrainOnce(context.Background(), TriggerTimer))

	// Connectivity returns.
	sub.mu.Lock()
	sub.err = nil
	sub.mu.Unlock()
	require.NoError(t, engine.DrainOnce(context.Background(), TriggerKick))

	repo := orders.NewRepository(client.DB())
	row, err := repo.GetByTempID(context.Background(), order.TempID)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderSyncStatusSynced, row.Status)

	pending, err := repo.ListByStatus(context.Background(), "tenant-1", enums.OrderSyncStatusPending)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

package checkout

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/tillpoint/terminald/internal/backend"
	"github.com/tillpoint/terminald/internal/orders"
	"github.com/tillpoint/terminald/pkg/config"
	"github.com/tillpoint/terminald/pkg/db"
	"github.com/tillpoint/terminald/pkg/db/models"
	"github.com/tillpoint/terminald/pkg/enums"
	pkgerrors "github.com/tillpoint/terminald/pkg/errors"
	"github.com/tillpoint/terminald/pkg/logger"
)

type fakeSubmitter struct {
	err      error
	payloads []backend.OrderPayload
}

func (f *fakeSubmitter) SubmitOrder(ctx context.Context, payload backend.OrderPayload) error {
	f.payloads = append(f.payloads, payload)
	return f.err
}

func setupCheckoutTestDB(t *testing.T) *db.Client {
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

func newCheckoutService(t *testing.T, client *db.Client, sub *fakeSubmitter) *Service {
	t.Helper()
	service, err := NewService(ServiceParams{
		Terminal: config.TerminalConfig{TenantID: "tenant-1", StoreID: "store-1", StaffID: "staff-1"},
		Backend:  sub,
		Queue:    orders.NewRepository(client.DB()),
		DB:       client,
		Logger:   logger.New(logger.Options{ServiceName: "checkout-test"}),
	})
	require.NoError(t, err)
	return service
}

func sampleCart() CartSnapshot {
	return CartSnapshot{
		TaxRate: decimal.NewFromFloat(0.10),
		Lines: []CartLine{
			{ProductID: "p1", Quantity: 2, UnitPrice: decimal.NewFromFloat(4.00)},
			{ProductID: "p2", VariantID: "v1", Quantity: 1, UnitPrice: decimal.NewFromFloat(3.00)},
		},
		Payments: []CartPayment{
			{Method: enums.PaymentMethodCash, Amount: decimal.NewFromFloat(12.10)},
		},
	}
}

func TestSubmitConfirmsAndPersistsNothing(t *testing.T) {
	client := setupCheckoutTestDB(t)
	sub := &fakeSubmitter{}
	service := newCheckoutService(t, client, sub)

	result, err := service.Submit(context.Background(), sampleCart())
	require.NoError(t, err)
	assert.Equal(t, StateConfirmed, result.State)
	assert.NotEmpty(t, result.TempID)
	require.Len(t, sub.payloads, 1)

	rows, err := orders.NewRepository(client.DB()).ListByStatus(context.Background(), "tenant-1", enums.OrderSyncStatusPending)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestSubmitComputesAndFreezesPricing(t *testing.T) {
	client := setupCheckoutTestDB(t)
	sub := &fakeSubmitter{}
	service := newCheckoutService(t, client, sub)

	// 2 x 4.00 + 1 x 3.00 = 11.00 subtotal; 10% tax = 1.10; total 12.10.
	result, err := service.Submit(context.Background(), sampleCart())
	require.NoError(t, err)
	assert.True(t, result.TotalAmount.Equal(decimal.NewFromFloat(12.10)),
		"total %s", result.TotalAmount)
	assert.True(t, result.TaxAmount.Equal(decimal.NewFromFloat(1.10)),
		"tax %s", result.TaxAmount)

	payload := sub.payloads[0]
	assert.True(t, payload.Lines[0].TaxAmount.Equal(decimal.NewFromFloat(0.80)))
	assert.True(t, payload.Lines[1].TaxAmount.Equal(decimal.NewFromFloat(0.30)))
}

func TestSubmitAppliesCartDiscount(t *testing.T) {
	client := setupCheckoutTestDB(t)
	sub := &fakeSubmitter{}
	service := newCheckoutService(t, client, sub)

	cart := sampleCart()
	discount := decimal.NewFromFloat(2.10)
	cart.Discount = &discount

	result, err := service.Submit(context.Background(), cart)
	require.NoError(t, err)
	assert.True(t, result.TotalAmount.Equal(decimal.NewFromFloat(10.00)),
		"total %s", result.TotalAmount)
}

func TestSubmitQueuesOnTransientFailure(t *testing.T) {
	client := setupCheckoutTestDB(t)
	sub := &fakeSubmitter{err: pkgerrors.New(pkgerrors.CodeTransient, "backend unreachable")}
	service := newCheckoutService(t, client, sub)

	cart := CartSnapshot{
		TaxRate: decimal.Zero,
		Lines: []CartLine{
			{ProductID: "p1", Quantity: 1, UnitPrice: decimal.NewFromFloat(12.50)},
		},
		Payments: []CartPayment{
			{Method: enums.PaymentMethodCard, Amount: decimal.NewFromFloat(12.50)},
		},
	}
	result, err := service.Submit(context.Background(), cart)
	require.NoError(t, err)
	assert.Equal(t, StateQueued, result.State)

	rows, err := orders.NewRepository(client.DB()).ListByStatus(context.Background(), "tenant-1", enums.OrderSyncStatusPending)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, result.TempID, rows[0].TempID)

	// The frozen payload carries the same temp_id as the row and the
	// total the customer saw.
	var frozen backend.OrderPayload
	require.NoError(t, json.Unmarshal(rows[0].OrderData, &frozen))
	assert.Equal(t, rows[0].TempID, frozen.TempID)
	assert.True(t, frozen.TotalAmount.Equal(decimal.NewFromFloat(12.50)),
		"frozen total %s", frozen.TotalAmount)
}

func TestSubmitSingleCheckoutQueuesExactlyOneOrder(t *testing.T) {
	client := setupCheckoutTestDB(t)
	sub := &fakeSubmitter{err: pkgerrors.New(pkgerrors.CodeTransient, "timeout")}
	service := newCheckoutService(t, client, sub)

	_, err := service.Submit(context.Background(), sampleCart())
	require.NoError(t, err)

	rows, err := orders.NewRepository(client.DB()).ListByStatus(context.Background(), "tenant-1", enums.OrderSyncStatusPending)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestSubmitTreatsDuplicateAcceptedAsConfirmed(t *testing.T) {
	client := setupCheckoutTestDB(t)
	sub := &fakeSubmitter{err: pkgerrors.New(pkgerrors.CodeDuplicateAccepted, "temp_id already applied")}
	service := newCheckoutService(t, client, sub)

	result, err := service.Submit(context.Background(), sampleCart())
	require.NoError(t, err)
	assert.Equal(t, StateConfirmed, result.State)
}

func TestSubmitSurfacesRejectionWithoutQueuing(t *testing.T) {
	client := setupCheckoutTestDB(t)
	sub := &fakeSubmitter{err: pkgerrors.New(pkgerrors.CodeRejected, "malformed payload")}
	service := newCheckoutService(t, client, sub)

	result, err := service.Submit(context.Background(), sampleCart())
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeRejected, pkgerrors.CodeOf(err))
	require.NotNil(t, result)
	assert.Equal(t, StateRejected, result.State)

	rows, err := orders.NewRepository(client.DB()).ListByStatus(context.Background(), "tenant-1", enums.OrderSyncStatusPending)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestSubmitRejectsEmptyCart(t *testing.T) {
	client := setupCheckoutTestDB(t)
	service := newCheckoutService(t, client, &fakeSubmitter{})

	_, err := service.Submit(context.Background(), CartSnapshot{})
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.CodeOf(err))
}

func TestSubmitSurfacesNonRetryableSubmitError(t *testing.T) {
	client := setupCheckoutTestDB(t)
	sub := &fakeSubmitter{err: pkgerrors.New(pkgerrors.CodeInternal, "encoding request body")}
	service := newCheckoutService(t, client, sub)

	_, err := service.Submit(context.Background(), sampleCart())
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeInternal, pkgerrors.CodeOf(err))

	// An error that would fail identically on every retry never reaches
	// the queue.
	var count int64
	require.NoError(t, client.DB().Model(&models.PendingOrder{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestSubmitRejectsUnknownPaymentMethod(t *testing.T) {
	client := setupCheckoutTestDB(t)
	sub := &fakeSubmitter{}
	service := newCheckoutService(t, client, sub)

	cart := sampleCart()
	cart.Payments[0].Method = "barter"

	_, err := service.Submit(context.Background(), cart)
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.CodeOf(err))
	assert.Empty(t, sub.payloads)
}

func TestSubmitSurfacesStoreFailureLoudly(t *testing.T) {
	client := setupCheckoutTestDB(t)
	sub := &fakeSubmitter{err: pkgerrors.New(pkgerrors.CodeTransient, "backend unreachable")}
	service := newCheckoutService(t, client, sub)

	// Dropping the queue table models a corrupt or unavailable store.
	require.NoError(t, client.DB().Exec("DROP TABLE pending_orders").Error)

	_, err := service.Submit(context.Background(), sampleCart())
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeLocalStorage, pkgerrors.CodeOf(err))
}

func TestMintTempIDFormat(t *testing.T) {
	now := time.UnixMilli(1700000000000)
	id := mintTempID(now)
	assert.Regexp(t, `^temp_1700000000000_[0-9a-f]{8}$`, id)
}

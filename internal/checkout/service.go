package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
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

// submitter is the slice of the backend client checkout needs.
type submitter interface {
	SubmitOrder(ctx context.Context, payload backend.OrderPayload) error
}

// ServiceParams configure the order submission pipeline.
type ServiceParams struct {
	Terminal config.TerminalConfig
	Backend  submitter
	Queue    *orders.Repository
	DB       *db.Client
	Logger   *logger.Logger
	// TerminalID resolves the registered terminal id for the payload.
	// Optional; an unregistered terminal still takes orders.
	TerminalID func(ctx context.Context) (string, error)
	Now        func() time.Time
}

// Service is the order submission pipeline: the single place order totals
// are computed and frozen. Neither the queue nor the sync engine ever
// recomputes pricing, so a retried order always carries the receipt the
// customer saw.
type Service struct {
	terminal   config.TerminalConfig
	backend    submitter
	queue      *orders.Repository
	db         *db.Client
	logg       *logger.Logger
	terminalID func(ctx context.Context) (string, error)
	now        func() time.Time
}

// NewService builds a checkout service.
func NewService(params ServiceParams) (*Service, error) {
	if params.Backend == nil {
		return nil, errors.New("backend client required")
	}
	if params.Queue == nil {
		return nil, errors.New("queue repository required")
	}
	if params.DB == nil {
		return nil, errors.New("db client required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		terminal:   params.Terminal,
		backend:    params.Backend,
		queue:      params.Queue,
		db:         params.DB,
		logg:       params.Logger,
		terminalID: params.TerminalID,
		now:        now,
	}, nil
}

// Submit prices the cart once, mints the order's temp_id, and attempts an
// immediate POST. Confirmed means the backend holds the order and nothing
// is persisted locally. Queued means the frozen payload is durably in the
// local queue. Rejected means the backend definitively refused it; nothing
// is queued because retrying a structurally invalid payload cannot succeed.
func (s *Service) Submit(ctx context.Context, cart CartSnapshot) (*Result, error) {
	if err := validateCart(cart); err != nil {
		return nil, err
	}

	payload := s.buildPayload(ctx, cart)
	ctx = s.logg.WithTempID(ctx, payload.TempID)

	err := s.backend.SubmitOrder(ctx, payload)
	if err == nil || pkgerrors.IsDuplicateAccepted(err) {
		s.logg.Info(ctx, "order confirmed")
		return &Result{
			State:       StateConfirmed,
			TempID:      payload.TempID,
			TotalAmount: payload.TotalAmount,
			TaxAmount:   payload.TaxAmount,
		}, nil
	}

	switch pkgerrors.CodeOf(err) {
	case pkgerrors.CodeRejected, pkgerrors.CodeValidation:
		s.logg.Warn(ctx, "order rejected by backend")
		return &Result{
			State:       StateRejected,
			TempID:      payload.TempID,
			TotalAmount: payload.TotalAmount,
			TaxAmount:   payload.TaxAmount,
		}, err
	}

	// Only connectivity-shaped failures go to the queue. Anything else
	// (a payload that cannot encode, an unexpected internal error) would
	// fail identically on every retry, so it surfaces now.
	if !pkgerrors.IsTransient(err) {
		s.logg.Error(ctx, "order submit failed", err)
		return nil, err
	}

	// Transient failure: capture the frozen payload durably. The operator
	// hears "queued, will sync", never "failed".
	if queueErr := s.enqueue(ctx, payload); queueErr != nil {
		return nil, queueErr
	}
	s.logg.Info(ctx, "order queued for sync")
	return &Result{
		State:       StateQueued,
		TempID:      payload.TempID,
		TotalAmount: payload.TotalAmount,
		TaxAmount:   payload.TaxAmount,
	}, nil
}

func (s *Service) buildPayload(ctx context.Context, cart CartSnapshot) backend.OrderPayload {
	now := s.now()

	lines := make([]backend.OrderLine, 0, len(cart.Lines))
	subtotal := decimal.Zero
	taxTotal := decimal.Zero
	for _, line := range cart.Lines {
		lineSubtotal := line.UnitPrice.Mul(decimal.NewFromInt(int64(line.Quantity)))
		lineTax := lineSubtotal.Mul(cart.TaxRate).Round(2)
		subtotal = subtotal.Add(lineSubtotal)
		taxTotal = taxTotal.Add(lineTax)
		lines = append(lines, backend.OrderLine{
			ProductID: line.ProductID,
			VariantID: line.VariantID,
			Quantity:  line.Quantity,
			UnitPrice: line.UnitPrice,
			TaxAmount: lineTax,
		})
	}

	total := subtotal.Add(taxTotal)
	if cart.Discount != nil {
		total = total.Sub(*cart.Discount)
	}

	payments := make([]backend.PaymentEntry, 0, len(cart.Payments))
	for _, p := range cart.Payments {
		payments = append(payments, backend.PaymentEntry{Method: p.Method, Amount: p.Amount})
	}

	payload := backend.OrderPayload{
		TempID:         mintTempID(now),
		TenantID:       s.terminal.TenantID,
		StoreID:        s.terminal.StoreID,
		StaffID:        s.terminal.StaffID,
		CustomerID:     cart.CustomerID,
		VoucherID:      cart.VoucherID,
		Lines:          lines,
		DiscountAmount: cart.Discount,
		TaxAmount:      taxTotal,
		TotalAmount:    total,
		Payments:       payments,
		CreatedAt:      now,
	}
	if s.terminalID != nil {
		if id, err := s.terminalID(ctx); err == nil {
			payload.TerminalID = id
		}
	}
	return payload
}

func (s *Service) enqueue(ctx context.Context, payload backend.OrderPayload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "marshaling order payload")
	}
	order := &models.PendingOrder{
		TempID:    payload.TempID,
		TenantID:  payload.TenantID,
		OrderData: data,
		Status:    enums.OrderSyncStatusPending,
		CreatedAt: payload.CreatedAt,
	}
	err = s.db.WithTx(ctx, func(tx *gorm.DB) error {
		return s.queue.InsertTx(tx, order)
	})
	if err != nil {
		// Durability is gone; masking this could lose the sale entirely.
		return pkgerrors.Wrap(pkgerrors.CodeLocalStorage, err, "queuing order")
	}
	return nil
}

// mintTempID builds the backend idempotency key. The millisecond prefix
// keeps queue order sortable by creation time; the uuid fragment makes it
// collision-resistant without server coordination.
func mintTempID(now time.Time) string {
	return fmt.Sprintf("temp_%d_%s", now.UnixMilli(), uuid.NewString()[:8])
}

func validateCart(cart CartSnapshot) error {
	if len(cart.Lines) == 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "cart has no lines")
	}
	for _, line := range cart.Lines {
		if line.ProductID == "" {
			return pkgerrors.New(pkgerrors.CodeValidation, "cart line missing product id")
		}
		if line.Quantity <= 0 {
			return pkgerrors.New(pkgerrors.CodeValidation, "cart line quantity must be positive")
		}
		if line.UnitPrice.IsNegative() {
			return pkgerrors.New(pkgerrors.CodeValidation, "cart line unit price must not be negative")
		}
	}
	if len(cart.Payments) == 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "cart has no payments")
	}
	for _, payment := range cart.Payments {
		if !payment.Method.IsValid() {
			return pkgerrors.New(pkgerrors.CodeValidation,
				fmt.Sprintf("unknown payment method %q", payment.Method))
		}
	}
	return nil
}

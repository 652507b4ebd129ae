package identity

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"gorm.io/gorm"

	"github.com/tillpoint/terminald/internal/backend"
	"github.com/tillpoint/terminald/pkg/config"
	"github.com/tillpoint/terminald/pkg/db"
	"github.com/tillpoint/terminald/pkg/db/models"
	"github.com/tillpoint/terminald/pkg/enums"
	pkgerrors "github.com/tillpoint/terminald/pkg/errors"
	"github.com/tillpoint/terminald/pkg/logger"
	"github.com/tillpoint/terminald/pkg/metrics"
)

// registrar is the slice of the backend client the identity service needs.
type registrar interface {
	RegisterTerminal(ctx context.Context, req backend.RegisterRequest) (*backend.RegisterResponse, error)
	Heartbeat(ctx context.Context, req backend.HeartbeatRequest) error
}

// ServiceParams configure the terminal identity service.
type ServiceParams struct {
	Terminal  config.TerminalConfig
	Heartbeat config.HeartbeatConfig
	// RefreshMargin re-registers when the stored token expires within it.
	RefreshMargin time.Duration
	Backend       registrar
	Repo          *Repository
	DB            *db.Client
	Logger        *logger.Logger
	Metrics       *metrics.HeartbeatMetrics
	Now           func() time.Time
}

// Service obtains and persists the terminal's stable identity and keeps the
// backend's liveness view current. State machine:
// unregistered -> registering -> registered.
type Service struct {
	terminal      config.TerminalConfig
	interval      time.Duration
	refreshMargin time.Duration
	backend       registrar
	repo          *Repository
	db            *db.Client
	logg          *logger.Logger
	metrics       *metrics.HeartbeatMetrics
	now           func() time.Time

	mu    sync.Mutex
	state enums.TerminalState
	cred  *models.TerminalCredential
}

// NewService builds a terminal identity service.
func NewService(params ServiceParams) (*Service, error) {
	if params.Backend == nil {
		return nil, errors.New("backend client required")
	}
	if params.Repo == nil {
		return nil, errors.New("repository required")
	}
	if params.DB == nil {
		return nil, errors.New("db client required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger required")
	}
	interval := params.Heartbeat.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		terminal:      params.Terminal,
		interval:      interval,
		refreshMargin: params.RefreshMargin,
		backend:       params.Backend,
		repo:          params.Repo,
		db:            params.DB,
		logg:          params.Logger,
		metrics:       params.Metrics,
		now:           now,
		state:         enums.TerminalStateUnregistered,
	}, nil
}

// State reports the registration state machine's current position.
func (s *Service) State() enums.TerminalState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Ensure returns the terminal's stable credential, registering with the
// backend when none is stored or the stored token is about to expire.
// Re-registration sends the persisted terminal id so the backend treats it
// as a refresh, never as a new terminal.
func (s *Service) Ensure(ctx context.Context) (*models.TerminalCredential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cred == nil {
		stored, err := s.repo.Get(ctx)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeLocalStorage, err, "loading terminal credential")
		}
		s.cred = stored
	}

	if s.cred != nil && !s.tokenNeedsRefresh(s.cred.Token) {
		s.state = enums.TerminalStateRegistered
		return s.cred, nil
	}

	s.state = enums.TerminalStateRegistering
	req := backend.RegisterRequest{
		TenantID: s.terminal.TenantID,
		StoreID:  s.terminal.StoreID,
	}
	if s.cred != nil {
		req.TerminalID = s.cred.TerminalID
	}

	resp, err := s.backend.RegisterTerminal(ctx, req)
	if err != nil {
		if s.cred != nil && pkgerrors.IsTransient(err) {
			// Offline with a stored identity: keep using it. The token
			// refresh happens on the next successful registration.
			s.state = enums.TerminalStateRegistered
			return s.cred, nil
		}
		s.state = enums.TerminalStateUnregistered
		return nil, err
	}

	cred := &models.TerminalCredential{
		TerminalID:   resp.TerminalID,
		TenantID:     s.terminal.TenantID,
		StoreID:      s.terminal.StoreID,
		Token:        resp.Token,
		RegisteredAt: s.now(),
	}
	if s.cred != nil {
		cred.RegisteredAt = s.cred.RegisteredAt
	}
	if err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		return s.repo.SaveTx(tx, cred)
	}); err != nil {
		s.state = enums.TerminalStateUnregistered
		return nil, pkgerrors.Wrap(pkgerrors.CodeLocalStorage, err, "persisting terminal credential")
	}

	s.cred = cred
	s.state = enums.TerminalStateRegistered
	ctx = s.logg.WithTerminalID(ctx, cred.TerminalID)
	s.logg.Info(ctx, "terminal registered")
	return cred, nil
}

// Token implements backend.TokenSource from the stored credential.
func (s *Service) Token(ctx context.Context) (string, error) {
	cred, err := s.Ensure(ctx)
	if err != nil {
		return "", err
	}
	return cred.Token, nil
}

// StartHeartbeat launches the liveness loop and returns its stop handle.
// Stopping cancels the underlying ticker, so no further signal fires even
// if one is already scheduled. A failed heartbeat is logged and left for
// the next tick; the backend's liveness window absorbs one missed beat.
func (s *Service) StartHeartbeat(ctx context.Context) (stop func(), err error) {
	cred, err := s.Ensure(ctx)
	if err != nil {
		return nil, err
	}

	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.beat(loopCtx, cred)
		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				s.beat(loopCtx, cred)
			}
		}
	}()

	return func() {
		cancel()
		<-done
	}, nil
}

func (s *Service) beat(ctx context.Context, cred *models.TerminalCredential) {
	err := s.backend.Heartbeat(ctx, backend.HeartbeatRequest{
		TerminalID: cred.TerminalID,
		TenantID:   cred.TenantID,
		Timestamp:  s.now(),
	})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		s.metrics.IncFailure()
		s.logg.Warn(s.logg.WithTerminalID(ctx, cred.TerminalID), "heartbeat failed: "+err.Error())
		return
	}
	s.metrics.IncSuccess()
}

func (s *Service) tokenNeedsRefresh(token string) bool {
	if token == "" || s.refreshMargin <= 0 {
		return false
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		// Opaque tokens carry no expiry the client can inspect.
		return false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return s.now().Add(s.refreshMargin).After(exp.Time)
}

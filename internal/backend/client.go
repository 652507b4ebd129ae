package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/tillpoint/terminald/pkg/config"
	pkgerrors "github.com/tillpoint/terminald/pkg/errors"
	"github.com/tillpoint/terminald/pkg/logger"
)

const (
	tenantHeader       = "X-Tenant-Id"
	catalogRetryBase   = 250 * time.Millisecond
	maxErrorBodyLength = 2048
)

// TokenSource supplies the bearer token issued at terminal registration.
// Registration itself runs unauthenticated, so an empty token is valid.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Client is the REST client for the POS backend. Every call carries a
// bounded timeout; a timeout classifies as transient, identical to a
// connection failure.
type Client struct {
	baseURL     string
	tenantID    string
	http        *http.Client
	logg        *logger.Logger
	tokens      TokenSource
	retryBudget time.Duration
}

// NewClient builds a backend client from config.
func NewClient(cfg config.BackendConfig, tenantID string, logg *logger.Logger) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("backend base URL is required")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("invalid backend base URL: %w", err)
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:     base,
		tenantID:    tenantID,
		http:        &http.Client{Timeout: timeout},
		logg:        logg,
		retryBudget: cfg.CatalogRetryBudget,
	}, nil
}

// SetTokenSource wires the credential source once the identity service
// exists. Calls made before this carry no bearer token.
func (c *Client) SetTokenSource(tokens TokenSource) {
	c.tokens = tokens
}

// SubmitOrder posts the payload to the idempotent orders endpoint. It never
// retries internally: the pending queue owns retry policy for orders.
func (c *Client) SubmitOrder(ctx context.Context, payload OrderPayload) error {
	return c.post(ctx, "/orders", payload, nil)
}

// SubmitRawOrder posts previously frozen order_data bytes unchanged. The
// sync engine uses this so a retried payload is byte-for-byte the original.
func (c *Client) SubmitRawOrder(ctx context.Context, orderData []byte) error {
	return c.do(ctx, http.MethodPost, "/orders", bytes.NewReader(orderData), nil)
}

// FetchProducts returns the tenant's catalog. Transient failures retry on a
// fibonacci schedule inside the configured budget; reads are idempotent so
// this is safe.
func (c *Client) FetchProducts(ctx context.Context) ([]ProductRecord, error) {
	var products []ProductRecord
	err := c.getWithRetry(ctx, "/products", &products)
	if err != nil {
		return nil, err
	}
	return products, nil
}

// FetchVariants returns the variants of one product.
func (c *Client) FetchVariants(ctx context.Context, productID string) ([]VariantRecord, error) {
	var variants []VariantRecord
	path := fmt.Sprintf("/products/%s/variants", url.PathEscape(productID))
	if err := c.getWithRetry(ctx, path, &variants); err != nil {
		return nil, err
	}
	return variants, nil
}

// RegisterTerminal registers (or idempotently re-registers) this terminal.
func (c *Client) RegisterTerminal(ctx context.Context, req RegisterRequest) (*RegisterResponse, error) {
	var resp RegisterResponse
	if err := c.post(ctx, "/terminals/register", req, &resp); err != nil {
		return nil, err
	}
	if resp.TerminalID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeRejected, "register response missing terminal_id")
	}
	return &resp, nil
}

// Heartbeat posts a liveness signal. Failures are returned as-is; the
// caller logs and waits for the next tick rather than retrying.
func (c *Client) Heartbeat(ctx context.Context, req HeartbeatRequest) error {
	path := fmt.Sprintf("/terminals/%s/heartbeat", url.PathEscape(req.TerminalID))
	return c.post(ctx, path, req, nil)
}

func (c *Client) getWithRetry(ctx context.Context, path string, dest any) error {
	budget := c.retryBudget
	if budget <= 0 {
		return c.do(ctx, http.MethodGet, path, nil, dest)
	}
	backoff := retry.WithMaxDuration(budget, retry.NewFibonacci(catalogRetryBase))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := c.do(ctx, http.MethodGet, path, nil, dest)
		if pkgerrors.IsTransient(err) {
			return retry.RetryableError(err)
		}
		return err
	})
}

func (c *Client) post(ctx context.Context, path string, body, dest any) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encoding request body")
	}
	return c.do(ctx, http.MethodPost, path, bytes.NewReader(encoded), dest)
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, dest any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "building request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(tenantHeader, c.tenantID)
	if c.tokens != nil {
		token, err := c.tokens.Token(ctx)
		if err == nil && token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		// Timeouts and refused connections look identical from the
		// register's point of view: the backend is unreachable.
		return pkgerrors.Wrap(pkgerrors.CodeTransient, err, fmt.Sprintf("%s %s", method, path))
	}
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	if err := classifyStatus(resp, method, path); err != nil {
		return err
	}

	if dest != nil {
		if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeTransient, err, "decoding response body")
		}
	}
	return nil
}

func classifyStatus(resp *http.Response, method, path string) error {
	status := resp.StatusCode
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusConflict:
		// The orders endpoint reports an already-applied temp_id as a
		// conflict. That proves delivery succeeded.
		return pkgerrors.New(pkgerrors.CodeDuplicateAccepted, "temp_id already applied")
	case status >= 400 && status < 500:
		return pkgerrors.New(pkgerrors.CodeRejected,
			fmt.Sprintf("%s %s: backend rejected request (%d)", method, path, status)).
			WithDetails(map[string]any{"status": status, "body": readErrorBody(resp)})
	default:
		return pkgerrors.New(pkgerrors.CodeTransient,
			fmt.Sprintf("%s %s: backend returned %d", method, path, status))
	}
}

func readErrorBody(resp *http.Response) string {
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyLength))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(raw))
}

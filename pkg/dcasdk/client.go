// Package dcasdk is a Go client for the DCA engine's HTTP API.
//
//	client := dcasdk.NewClient("https://dca.internal", os.Getenv("DCA_API_TOKEN"))
//	order, err := client.GetOrder(ctx, id)
package dcasdk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/archon-research/dca/internal/pkg/httpclient"
)

// Error codes returned by the API besides execution error codes.
const (
	CodeNotFound          = "not_found"
	CodeNotOwner          = "not_owner"
	CodeInvalidRequest    = "invalid_request"
	CodeConflict          = "conflict"
	CodeUnauthorized      = "unauthorized"
	CodeInternal          = "internal"
	CodeCredentialExpired = "credential_expired"
	CodeCredentialScope   = "credential_scope"
)

// APIError is a 4xx response from the API.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("dca api: %s (HTTP %d, %s)", e.Message, e.StatusCode, e.Code)
}

// IsNotFound reports whether err is a 404 from the API.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// Option configures a Client.
type Option func(*options)

type options struct {
	timeout time.Duration
	logger  *slog.Logger
}

// WithTimeout sets the per-request timeout. Default 30s.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// WithLogger sets the logger used for transport warnings.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// Client is the main entry point for the SDK.
type Client struct {
	baseURL string
	token   string
	http    *httpclient.Client
}

// NewClient creates a client for the API at baseURL. token is sent as a
// bearer token on every request.
func NewClient(baseURL, token string, opts ...Option) *Client {
	o := options{timeout: 30 * time.Second, logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	// Mutations are not idempotent, so the transport never retries.
	cfg := httpclient.Config{Timeout: o.timeout}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    httpclient.NewClient(cfg, o.logger.With("component", "dcasdk"), parseError),
	}
}

func parseError(statusCode int, body []byte) error {
	if statusCode < 400 {
		return nil
	}
	var resp ErrorResponse
	if err := json.Unmarshal(body, &resp); err != nil || resp.Error == "" {
		return nil
	}
	return &APIError{StatusCode: statusCode, Code: resp.Code, Message: resp.Error}
}

func (c *Client) do(ctx context.Context, method, path string, body, result any) error {
	req := httpclient.RequestConfig{
		Method: method,
		URL:    c.baseURL + path,
		Body:   body,
	}
	if c.token != "" {
		req.Headers = map[string]string{"Authorization": "Bearer " + c.token}
	}
	return c.http.DoRequest(ctx, req, result)
}

// CreateOrder creates a recurring order.
func (c *Client) CreateOrder(ctx context.Context, req CreateOrderRequest) (*Order, error) {
	var order Order
	if err := c.do(ctx, http.MethodPost, "/v1/orders", req, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrder fetches one order.
func (c *Client) GetOrder(ctx context.Context, id string) (*Order, error) {
	var order Order
	if err := c.do(ctx, http.MethodGet, "/v1/orders/"+url.PathEscape(id), nil, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

// ListOrders returns all orders of owner.
func (c *Client) ListOrders(ctx context.Context, owner string) ([]Order, error) {
	var orders []Order
	if err := c.do(ctx, http.MethodGet, "/v1/owners/"+url.PathEscape(owner)+"/orders", nil, &orders); err != nil {
		return nil, err
	}
	return orders, nil
}

// ListExecutions returns the execution log of an order, oldest first.
func (c *Client) ListExecutions(ctx context.Context, id string) ([]Execution, error) {
	var executions []Execution
	if err := c.do(ctx, http.MethodGet, "/v1/orders/"+url.PathEscape(id)+"/executions", nil, &executions); err != nil {
		return nil, err
	}
	return executions, nil
}

// CancelOrder cancels an order.
func (c *Client) CancelOrder(ctx context.Context, id string, req CancelRequest) (*CancelResponse, error) {
	var resp CancelResponse
	if err := c.do(ctx, http.MethodPost, "/v1/orders/"+url.PathEscape(id)+"/cancel", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// PauseOrder stops an order from being scheduled until it is resumed.
func (c *Client) PauseOrder(ctx context.Context, id, owner string) (*Order, error) {
	return c.control(ctx, id, "pause", OwnerRequest{Owner: owner})
}

// ResumeOrder clears a pause or a repeated-revert stall.
func (c *Client) ResumeOrder(ctx context.Context, id, owner string) (*Order, error) {
	return c.control(ctx, id, "resume", OwnerRequest{Owner: owner})
}

// ReauthorizeOrder replaces the order's credential and clears a credential stall.
func (c *Client) ReauthorizeOrder(ctx context.Context, id string, req ReauthorizeRequest) (*Order, error) {
	var order Order
	if err := c.do(ctx, http.MethodPut, "/v1/orders/"+url.PathEscape(id)+"/credential", req, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

func (c *Client) control(ctx context.Context, id, action string, body any) (*Order, error) {
	var order Order
	if err := c.do(ctx, http.MethodPost, "/v1/orders/"+url.PathEscape(id)+"/"+action, body, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

// Sweep runs one authenticated scheduler sweep and waits for it to finish.
func (c *Client) Sweep(ctx context.Context) (*SweepResult, error) {
	var result SweepResult
	if err := c.do(ctx, http.MethodPost, "/v1/sweep", nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ManualSweep runs a sweep through the testing entrypoint, as of at when set.
func (c *Client) ManualSweep(ctx context.Context, at *time.Time) (*SweepResult, error) {
	var result SweepResult
	if err := c.do(ctx, http.MethodPost, "/v1/sweep/manual", ManualSweepRequest{At: at}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

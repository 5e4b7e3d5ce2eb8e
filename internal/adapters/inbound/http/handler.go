// handler.go exposes the order API and the scheduler trigger over HTTP:
//   - POST /v1/sweep                      authenticated scheduler trigger
//   - POST /v1/sweep/manual               unauthenticated testing trigger, when enabled
//   - POST /v1/orders                     create
//   - GET  /v1/orders/{id}                fetch
//   - GET  /v1/orders/{id}/executions     execution log
//   - GET  /v1/owners/{owner}/orders      orders by owner
//   - POST /v1/orders/{id}/cancel|pause|resume
//   - PUT  /v1/orders/{id}/credential     re-authorize
package http

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/archon-research/dca/internal/domain/entity"
	"github.com/archon-research/dca/internal/ports/inbound"
	"github.com/archon-research/dca/pkg/dcasdk"
)

const maxBodyBytes = 1 << 20

// HandlerConfig configures the API handler.
type HandlerConfig struct {
	// Token is the bearer secret required on every /v1 route except the
	// manual sweep. An empty token rejects all authenticated requests.
	Token string

	// ManualSweepEnabled exposes POST /v1/sweep/manual.
	ManualSweepEnabled bool

	// SweepTimeout bounds a synchronous sweep. Default 5m.
	SweepTimeout time.Duration
}

// Handler implements the HTTP API.
type Handler struct {
	orders  inbound.OrderService
	sweeper inbound.Sweeper
	config  HandlerConfig
	clock   func() time.Time
	logger  *slog.Logger
}

// NewHandler creates the API handler. orders or sweeper may be nil, in which
// case their routes are not registered.
func NewHandler(orders inbound.OrderService, sweeper inbound.Sweeper, config HandlerConfig, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if config.SweepTimeout == 0 {
		config.SweepTimeout = 5 * time.Minute
	}
	return &Handler{
		orders:  orders,
		sweeper: sweeper,
		config:  config,
		clock:   time.Now,
		logger:  logger.With("component", "api"),
	}
}

// RegisterRoutes registers the API routes with the given mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	if h.sweeper != nil {
		mux.Handle("POST /v1/sweep", h.authenticated(h.Sweep))
		if h.config.ManualSweepEnabled {
			mux.HandleFunc("POST /v1/sweep/manual", h.ManualSweep)
		}
	}
	if h.orders != nil {
		mux.Handle("POST /v1/orders", h.authenticated(h.CreateOrder))
		mux.Handle("GET /v1/orders/{id}", h.authenticated(h.GetOrder))
		mux.Handle("GET /v1/orders/{id}/executions", h.authenticated(h.ListExecutions))
		mux.Handle("GET /v1/owners/{owner}/orders", h.authenticated(h.ListOrders))
		mux.Handle("POST /v1/orders/{id}/cancel", h.authenticated(h.CancelOrder))
		mux.Handle("POST /v1/orders/{id}/pause", h.authenticated(h.PauseOrder))
		mux.Handle("POST /v1/orders/{id}/resume", h.authenticated(h.ResumeOrder))
		mux.Handle("PUT /v1/orders/{id}/credential", h.authenticated(h.ReauthorizeOrder))
	}
}

func (h *Handler) authenticated(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || h.config.Token == "" || subtle.ConstantTimeCompare([]byte(token), []byte(h.config.Token)) != 1 {
			h.respondError(w, http.StatusUnauthorized, dcasdk.CodeUnauthorized, "missing or invalid bearer token")
			return
		}
		next(w, r)
	})
}

// Sweep runs one sweep as of now and returns its summary.
func (h *Handler) Sweep(w http.ResponseWriter, r *http.Request) {
	h.runSweep(w, r, h.clock())
}

// ManualSweep runs one sweep, optionally as of a caller-supplied time.
func (h *Handler) ManualSweep(w http.ResponseWriter, r *http.Request) {
	at := h.clock()
	if r.ContentLength != 0 {
		var req dcasdk.ManualSweepRequest
		if !h.decode(w, r, &req) {
			return
		}
		if req.At != nil {
			at = *req.At
		}
	}
	h.runSweep(w, r, at)
}

func (h *Handler) runSweep(w http.ResponseWriter, r *http.Request, at time.Time) {
	ctx, cancel := context.WithTimeout(r.Context(), h.config.SweepTimeout)
	defer cancel()

	result, err := h.sweeper.Sweep(ctx, at)
	if err != nil {
		h.logger.Error("sweep failed", "error", err)
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, fromSweepResult(result))
}

// CreateOrder creates a recurring order.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var body dcasdk.CreateOrderRequest
	if !h.decode(w, r, &body) {
		return
	}
	req, err := toCreateRequest(body)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	order, err := h.orders.CreateOrder(r.Context(), req)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.logger.Info("order created", "orderId", order.ID, "owner", order.Owner.Hex())
	h.respondJSON(w, http.StatusCreated, fromOrder(order))
}

// GetOrder returns one order.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := h.orderID(w, r)
	if !ok {
		return
	}
	order, err := h.orders.GetOrder(r.Context(), id)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, fromOrder(order))
}

// ListExecutions returns an order's execution log.
func (h *Handler) ListExecutions(w http.ResponseWriter, r *http.Request) {
	id, ok := h.orderID(w, r)
	if !ok {
		return
	}
	executions, err := h.orders.ListExecutions(r.Context(), id)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, fromExecutions(executions))
}

// ListOrders returns the orders of one owner.
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	owner, err := parseAddress("owner", r.PathValue("owner"))
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	orders, err := h.orders.ListOrders(r.Context(), owner)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, fromOrders(orders))
}

// CancelOrder cancels an order and optionally sweeps its unspent funds.
func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := h.orderID(w, r)
	if !ok {
		return
	}
	var body dcasdk.CancelRequest
	if !h.decode(w, r, &body) {
		return
	}
	owner, err := parseAddress("owner", body.Owner)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	result, err := h.orders.CancelOrder(r.Context(), id, owner, body.SweepRemainingFunds)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, dcasdk.CancelResponse{
		Order:      fromOrder(result.Order),
		SweepTxRef: result.SweepTxRef,
		SweepError: result.SweepError,
	})
}

// PauseOrder stalls an order on owner request.
func (h *Handler) PauseOrder(w http.ResponseWriter, r *http.Request) {
	h.control(w, r, h.orders.PauseOrder)
}

// ResumeOrder clears an owner pause or a repeated-revert stall.
func (h *Handler) ResumeOrder(w http.ResponseWriter, r *http.Request) {
	h.control(w, r, h.orders.ResumeOrder)
}

func (h *Handler) control(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, id uuid.UUID, owner common.Address) (*entity.Order, error)) {
	id, ok := h.orderID(w, r)
	if !ok {
		return
	}
	var body dcasdk.OwnerRequest
	if !h.decode(w, r, &body) {
		return
	}
	owner, err := parseAddress("owner", body.Owner)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	order, err := op(r.Context(), id, owner)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, fromOrder(order))
}

// ReauthorizeOrder replaces an order's credential.
func (h *Handler) ReauthorizeOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := h.orderID(w, r)
	if !ok {
		return
	}
	var body dcasdk.ReauthorizeRequest
	if !h.decode(w, r, &body) {
		return
	}
	owner, err := parseAddress("owner", body.Owner)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	cred, err := toCredential(body.Credential)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	order, err := h.orders.ReauthorizeOrder(r.Context(), id, owner, cred)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, fromOrder(order))
}

func (h *Handler) orderID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		h.respondError(w, http.StatusBadRequest, dcasdk.CodeInvalidRequest, fmt.Sprintf("invalid order id %q", r.PathValue("id")))
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		h.respondError(w, http.StatusBadRequest, dcasdk.CodeInvalidRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

// statusFor maps service errors onto HTTP status and API code.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, entity.ErrOrderNotFound):
		return http.StatusNotFound, dcasdk.CodeNotFound
	case errors.Is(err, entity.ErrNotOwner):
		return http.StatusForbidden, dcasdk.CodeNotOwner
	case errors.Is(err, entity.ErrIllegalTransition), errors.Is(err, entity.ErrClaimLost),
		errors.Is(err, entity.ErrConcurrentUpdate):
		return http.StatusConflict, dcasdk.CodeConflict
	case errors.Is(err, entity.ErrCredentialExpired):
		return http.StatusUnprocessableEntity, dcasdk.CodeCredentialExpired
	case errors.Is(err, entity.ErrCredentialScope):
		return http.StatusUnprocessableEntity, dcasdk.CodeCredentialScope
	case errors.Is(err, entity.ErrInvalidOrder):
		return http.StatusBadRequest, dcasdk.CodeInvalidRequest
	default:
		return http.StatusInternalServerError, dcasdk.CodeInternal
	}
}

func (h *Handler) respondServiceError(w http.ResponseWriter, err error) {
	status, code := statusFor(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", "error", err)
		message = "internal error"
	}
	h.respondError(w, status, code, message)
}

func (h *Handler) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode JSON response", "error", err)
	}
}

func (h *Handler) respondError(w http.ResponseWriter, status int, code, message string) {
	h.respondJSON(w, status, dcasdk.ErrorResponse{Error: message, Code: code})
}

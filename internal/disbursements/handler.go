package disbursements

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/advance-ops/backoffice/internal/gateway"
	"github.com/advance-ops/backoffice/internal/platform/httpx"
	"github.com/advance-ops/backoffice/internal/shared"
)

const idempotencyModule = "disbursements"

// IdempotencyStore records client request keys.
type IdempotencyStore interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// Handler exposes the disbursement endpoint.
type Handler struct {
	service *Service
	keys    IdempotencyStore
	logger  *slog.Logger
}

// NewHandler builds a Handler. A nil store disables Idempotency-Key handling.
func NewHandler(service *Service, keys IdempotencyStore, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{service: service, keys: keys, logger: logger}
}

// MountRoutes registers disbursement routes. Authentication is applied by the
// caller's router group.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/disbursements", h.handleCreate)
}

type createRequest struct {
	PartnerID   string           `json:"partnerId"`
	Amount      int64            `json:"amount"`
	Currency    string           `json:"currency"`
	Description string           `json:"description"`
	Reference   string           `json:"reference"`
	EmployeeID  string           `json:"employeeId"`
	Employees   []EmployeeAmount `json:"employees"`
}

type createResponse struct {
	ReimbursementID      string    `json:"reimbursementId"`
	GatewayTransactionID string    `json:"gatewayTransactionId"`
	PaymentURL           string    `json:"paymentUrl"`
	Amount               int64     `json:"amount"`
	Currency             string    `json:"currency"`
	ExpiresAt            time.Time `json:"expiresAt"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err, nil)
		return
	}

	key := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if key != "" && h.keys != nil {
		if err := h.keys.CheckAndInsert(r.Context(), key, idempotencyModule); err != nil {
			httpx.RespondError(w, err, nil)
			return
		}
	}

	var (
		res *Result
		err error
	)
	if req.Employees != nil {
		res, err = h.service.DisburseBulk(r.Context(), BulkRequest{
			PartnerID: req.PartnerID,
			Employees: req.Employees,
			Currency:  req.Currency,
			Reference: req.Reference,
		})
	} else {
		res, err = h.service.Disburse(r.Context(), SingleRequest{
			PartnerID:   req.PartnerID,
			Amount:      req.Amount,
			Currency:    req.Currency,
			Description: req.Description,
			Reference:   req.Reference,
			EmployeeID:  req.EmployeeID,
		})
	}
	if err != nil {
		h.release(r.Context(), key, err)
		var extra map[string]any
		if gateway.IsGatewayError(err) {
			extra = map[string]any{"guidance": gateway.Guidance(err)}
		}
		caller, _ := shared.CallerFromContext(r.Context())
		h.logger.Warn("disbursement failed",
			slog.String("partner_id", req.PartnerID),
			slog.String("caller", caller.KeyID),
			slog.Any("error", err))
		httpx.RespondError(w, err, extra)
		return
	}

	httpx.OK(w, http.StatusCreated, createResponse{
		ReimbursementID:      res.Reimbursement.ID,
		GatewayTransactionID: res.Reimbursement.GatewayTransactionID,
		PaymentURL:           res.PaymentURL,
		Amount:               res.Reimbursement.AmountRequested,
		Currency:             res.Reimbursement.Currency,
		ExpiresAt:            res.ExpiresAt,
	})
}

// release frees the idempotency key when no payment was opened, so the client
// can retry with the same key.
func (h *Handler) release(ctx context.Context, key string, cause error) {
	if key == "" || h.keys == nil {
		return
	}
	var unrecorded *UnrecordedError
	if errors.As(cause, &unrecorded) {
		return
	}
	if err := h.keys.Delete(context.WithoutCancel(ctx), key); err != nil {
		h.logger.Warn("release idempotency key", slog.Any("error", err))
	}
}

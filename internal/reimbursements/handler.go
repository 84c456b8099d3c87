package reimbursements

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/advance-ops/backoffice/internal/platform/httpx"
	"github.com/advance-ops/backoffice/internal/shared"
)

// Handler exposes the ledger read and manual-payment endpoints.
type Handler struct {
	service *Service
	logger  *slog.Logger
}

// NewHandler builds a Handler.
func NewHandler(service *Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{service: service, logger: logger}
}

// MountRoutes registers ledger routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/reimbursements/overdue", h.handleOverdue)
	r.Post("/reimbursements/{id}/manual-payment", h.handleManualPayment)
	r.Get("/partners/{id}/reimbursements", h.handleListByPartner)
}

type rowView struct {
	ID                   string     `json:"id"`
	PartnerID            string     `json:"partnerId"`
	EmployeeID           string     `json:"employeeId,omitempty"`
	AmountRequested      int64      `json:"amountRequested"`
	AmountToReimburse    int64      `json:"amountToReimburse"`
	ServiceFee           int64      `json:"serviceFee"`
	Currency             string     `json:"currency"`
	Method               Method     `json:"method"`
	GatewayTransactionID string     `json:"gatewayTransactionId"`
	PaymentReference     string     `json:"paymentReference,omitempty"`
	Status               Status     `json:"status"`
	EffectiveStatus      Status     `json:"effectiveStatus"`
	DueDate              time.Time  `json:"dueDate"`
	PaidAt               *time.Time `json:"paidAt,omitempty"`
	ReceptionNumber      string     `json:"receptionNumber,omitempty"`
	Comment              string     `json:"comment,omitempty"`
	Metadata             Metadata   `json:"metadata"`
	CreatedAt            time.Time  `json:"createdAt"`
}

func (h *Handler) view(r Reimbursement) rowView {
	return rowView{
		ID:                   r.ID,
		PartnerID:            r.PartnerID,
		EmployeeID:           r.EmployeeID,
		AmountRequested:      r.AmountRequested,
		AmountToReimburse:    r.AmountToReimburse,
		ServiceFee:           r.ServiceFee,
		Currency:             r.Currency,
		Method:               r.Method,
		GatewayTransactionID: r.GatewayTransactionID,
		PaymentReference:     r.PaymentReference,
		Status:               r.Status,
		EffectiveStatus:      r.EffectiveStatus(h.service.now()),
		DueDate:              r.DueDate,
		PaidAt:               r.PaidAt,
		ReceptionNumber:      r.ReceptionNumber,
		Comment:              r.Comment,
		Metadata:             r.Metadata,
		CreatedAt:            r.CreatedAt,
	}
}

func (h *Handler) views(rows []Reimbursement) []rowView {
	out := make([]rowView, len(rows))
	for i, r := range rows {
		out[i] = h.view(r)
	}
	return out
}

func (h *Handler) handleListByPartner(w http.ResponseWriter, r *http.Request) {
	var filter *Status
	if raw := r.URL.Query().Get("status"); raw != "" {
		status, ok := ParseStatus(raw)
		if !ok {
			httpx.RespondError(w, shared.Invalid("status", "unknown status "+raw), nil)
			return
		}
		filter = &status
	}
	rows, err := h.service.ListByPartner(r.Context(), chi.URLParam(r, "id"), filter)
	if err != nil {
		httpx.RespondError(w, err, nil)
		return
	}
	httpx.OK(w, http.StatusOK, h.views(rows))
}

func (h *Handler) handleOverdue(w http.ResponseWriter, r *http.Request) {
	rows, err := h.service.ListOverdue(r.Context())
	if err != nil {
		httpx.RespondError(w, err, nil)
		return
	}
	httpx.OK(w, http.StatusOK, h.views(rows))
}

type manualPaymentRequest struct {
	Method          string `json:"method"`
	ReceptionNumber string `json:"receptionNumber"`
	Comment         string `json:"comment"`
}

func (h *Handler) handleManualPayment(w http.ResponseWriter, r *http.Request) {
	var req manualPaymentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err, nil)
		return
	}
	caller, _ := shared.CallerFromContext(r.Context())
	row, err := h.service.MarkPaidManually(r.Context(), chi.URLParam(r, "id"), ManualPayment{
		Method:          Method(strings.ToUpper(strings.TrimSpace(req.Method))),
		ReceptionNumber: strings.TrimSpace(req.ReceptionNumber),
		Comment:         strings.TrimSpace(req.Comment),
		Actor:           caller.KeyID,
	})
	if err != nil {
		httpx.RespondError(w, err, nil)
		return
	}
	h.logger.Info("reimbursement marked paid manually",
		slog.String("reimbursement_id", row.ID), slog.String("method", string(row.Method)), slog.String("caller", caller.KeyID))
	httpx.OK(w, http.StatusOK, h.view(*row))
}

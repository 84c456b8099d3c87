package callbacks

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/advance-ops/backoffice/internal/platform/httpx"
	"github.com/advance-ops/backoffice/internal/reimbursements"
	"github.com/advance-ops/backoffice/internal/shared"
)

// Handler exposes the gateway webhook.
type Handler struct {
	reconciler *Reconciler
	logger     *slog.Logger
}

// NewHandler builds a Handler.
func NewHandler(reconciler *Reconciler, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{reconciler: reconciler, logger: logger}
}

// MountRoutes registers the webhook route.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/callback", h.handleCallback)
}

type ackResponse struct {
	Success         bool   `json:"success"`
	Message         string `json:"message"`
	ReimbursementID string `json:"reimbursement_id"`
	Statut          string `json:"statut"`
}

func (h *Handler) handleCallback(w http.ResponseWriter, r *http.Request) {
	var payload Payload
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.RespondError(w, err, map[string]any{"code": "MissingField"})
		return
	}
	res, err := h.reconciler.Reconcile(r.Context(), payload)
	if err != nil {
		httpx.RespondError(w, err, map[string]any{"code": errorCode(err)})
		return
	}
	httpx.JSON(w, http.StatusOK, ackResponse{
		Success:         true,
		Message:         ackMessage(res),
		ReimbursementID: res.Reimbursement.ID,
		Statut:          string(res.Reimbursement.Status),
	})
}

func ackMessage(res Result) string {
	switch {
	case res.Outcome == reimbursements.OutcomeApplied:
		return "status updated"
	case res.Outcome == reimbursements.OutcomeRejected:
		return "reimbursement already final"
	case res.Reimbursement.Status == reimbursements.StatusPending:
		return "callback recorded"
	default:
		return "callback already processed"
	}
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, shared.ErrValidation):
		return "MissingField"
	case errors.Is(err, shared.ErrNotFound):
		return "NotFound"
	default:
		return "StorageFailure"
	}
}

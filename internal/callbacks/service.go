// Package callbacks reconciles asynchronous payment gateway webhooks with the
// reimbursement ledger.
package callbacks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/advance-ops/backoffice/internal/notify"
	"github.com/advance-ops/backoffice/internal/partners"
	"github.com/advance-ops/backoffice/internal/reimbursements"
	"github.com/advance-ops/backoffice/internal/shared"
)

// Amount accepts a JSON number or a numeric string. Anything else is kept in
// Raw and left unset, so a garbled amount never blocks the status update.
type Amount struct {
	Value decimal.Decimal
	Set   bool
	Raw   string
}

// UnmarshalJSON implements json.Unmarshaler.
func (a *Amount) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		*a = Amount{}
		return nil
	}
	raw := string(data)
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			*a = Amount{Raw: raw}
			return nil
		}
		raw = strings.TrimSpace(s)
		if raw == "" {
			*a = Amount{}
			return nil
		}
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		*a = Amount{Raw: raw}
		return nil
	}
	*a = Amount{Value: d, Set: true}
	return nil
}

// Payload is the webhook body sent by the gateway.
type Payload struct {
	PayID   string `json:"pay_id"`
	Status  string `json:"status"`
	Amount  Amount `json:"amount"`
	Message string `json:"message"`
	// Client is the payer reference, used as the reception number when present.
	Client string `json:"Client"`
}

// SideEffect records a best-effort action taken after a transition. A failed
// side effect never fails the callback.
type SideEffect struct {
	Attempted bool
	Err       error
}

// Result summarises a reconciled callback.
type Result struct {
	Reimbursement reimbursements.Reimbursement
	Outcome       reimbursements.Outcome
	Notification  SideEffect
}

// Ledger is the ledger surface used by the reconciler.
type Ledger interface {
	GetByGatewayID(ctx context.Context, gatewayTransactionID string) (*reimbursements.Reimbursement, error)
	Transition(ctx context.Context, gatewayTransactionID string, requested reimbursements.Status, tc reimbursements.TransitionContext) (reimbursements.TransitionResult, error)
}

// PartnerLookup resolves the partner to notify.
type PartnerLookup interface {
	GetPartner(ctx context.Context, id string) (*partners.Partner, error)
}

// Recorder receives one observation per reconciled callback.
type Recorder interface {
	ObserveCallback(status, outcome string)
}

// Config collects the reconciler's collaborators.
type Config struct {
	Ledger   Ledger
	Partners PartnerLookup
	Notifier notify.Notifier
	Logger   *slog.Logger
	Recorder Recorder
}

// Reconciler maps gateway statuses onto ledger transitions.
type Reconciler struct {
	ledger   Ledger
	partners PartnerLookup
	notifier notify.Notifier
	logger   *slog.Logger
	recorder Recorder
}

// NewReconciler builds a Reconciler.
func NewReconciler(cfg Config) *Reconciler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		ledger:   cfg.Ledger,
		partners: cfg.Partners,
		notifier: cfg.Notifier,
		logger:   logger,
		recorder: cfg.Recorder,
	}
}

// MapStatus translates a gateway status. Unknown statuses map to PENDING and
// report known=false.
func MapStatus(gatewayStatus string) (status reimbursements.Status, known bool) {
	switch strings.ToUpper(strings.TrimSpace(gatewayStatus)) {
	case "SUCCESS":
		return reimbursements.StatusPaid, true
	case "FAILED":
		return reimbursements.StatusFailed, true
	case "CANCELLED":
		return reimbursements.StatusFailed, true
	case "PENDING":
		return reimbursements.StatusPending, true
	default:
		return reimbursements.StatusPending, false
	}
}

// Reconcile applies one webhook delivery. Repeated deliveries are safe: the
// ledger reports them as no-ops and no notification is sent again.
func (r *Reconciler) Reconcile(ctx context.Context, p Payload) (Result, error) {
	p.PayID = strings.TrimSpace(p.PayID)
	p.Status = strings.TrimSpace(p.Status)
	switch {
	case p.PayID == "":
		return Result{}, shared.Invalid("pay_id", "is required")
	case p.Status == "":
		return Result{}, shared.Invalid("status", "is required")
	}
	logger := r.logger.With(slog.String("pay_id", p.PayID), slog.String("gateway_status", p.Status))

	row, err := r.ledger.GetByGatewayID(ctx, p.PayID)
	if err != nil {
		logger.Warn("callback for unknown transaction", slog.Any("error", err))
		r.observe(p.Status, "not_found")
		return Result{}, err
	}

	requested, known := MapStatus(p.Status)
	tc := reimbursements.TransitionContext{Actor: "gateway", Comment: comment(p, requested, known)}
	if requested == reimbursements.StatusPaid {
		tc.ReceptionNumber = p.PayID
		if client := strings.TrimSpace(p.Client); client != "" {
			tc.ReceptionNumber = client
		}
	}
	if mismatch := amountMismatch(p.Amount, row.AmountRequested); mismatch != "" {
		logger.Warn("callback amount not reconciled", slog.String("detail", mismatch))
		tc.Comment = joinComment(tc.Comment, mismatch)
	}
	if !known {
		logger.Warn("unknown gateway status, row left pending")
	}

	res, err := r.ledger.Transition(ctx, p.PayID, requested, tc)
	if err != nil {
		logger.Error("callback transition failed", slog.Any("error", err))
		r.observe(p.Status, "error")
		return Result{}, fmt.Errorf("callbacks: transition %s: %w", p.PayID, err)
	}
	out := Result{Reimbursement: res.Reimbursement, Outcome: res.Outcome}
	r.observe(p.Status, string(res.Outcome))
	logger.Info("callback reconciled",
		slog.String("reimbursement_id", res.Reimbursement.ID),
		slog.String("status", string(res.Reimbursement.Status)),
		slog.String("outcome", string(res.Outcome)))

	if res.Changed() && res.Reimbursement.Status == reimbursements.StatusPaid {
		out.Notification = r.notifyPaid(ctx, res.Reimbursement)
		if out.Notification.Err != nil {
			logger.Warn("paid notification not queued", slog.Any("error", out.Notification.Err))
		}
	}
	return out, nil
}

func (r *Reconciler) notifyPaid(ctx context.Context, row reimbursements.Reimbursement) SideEffect {
	if r.notifier == nil || r.partners == nil {
		return SideEffect{}
	}
	partner, err := r.partners.GetPartner(ctx, row.PartnerID)
	if err != nil {
		return SideEffect{Attempted: true, Err: fmt.Errorf("load partner: %w", err)}
	}
	if strings.TrimSpace(partner.Email) == "" {
		return SideEffect{}
	}
	notice := notify.PaidNotice{
		ReimbursementID: row.ID,
		PartnerName:     partner.Name,
		Recipient:       partner.Email,
		Amount:          row.AmountRequested,
		Currency:        row.Currency,
		ReceptionNumber: row.ReceptionNumber,
	}
	if row.PaidAt != nil {
		notice.PaidAt = *row.PaidAt
	}
	return SideEffect{Attempted: true, Err: r.notifier.NotifyReimbursementPaid(ctx, notice)}
}

func (r *Reconciler) observe(status, outcome string) {
	if r.recorder == nil {
		return
	}
	r.recorder.ObserveCallback(strings.ToUpper(status), outcome)
}

func comment(p Payload, requested reimbursements.Status, known bool) string {
	message := strings.TrimSpace(p.Message)
	switch {
	case !known, requested == reimbursements.StatusPending:
		return joinComment("gateway reported status "+p.Status, message)
	case strings.EqualFold(p.Status, "CANCELLED"):
		return joinComment("cancelled at gateway", message)
	case requested == reimbursements.StatusFailed:
		return joinComment("payment failed at gateway", message)
	default:
		return message
	}
}

func amountMismatch(got Amount, want int64) string {
	if !got.Set {
		if got.Raw != "" {
			return fmt.Sprintf("callback amount %q is not a number", got.Raw)
		}
		return ""
	}
	if got.Value.Equal(decimal.NewFromInt(want)) {
		return ""
	}
	return fmt.Sprintf("callback amount %s differs from requested %d", got.Value.String(), want)
}

func joinComment(parts ...string) string {
	kept := parts[:0:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, "; ")
}

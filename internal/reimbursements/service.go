package reimbursements

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/advance-ops/backoffice/internal/shared"
)

// RepositoryPort defines data access methods for the ledger.
type RepositoryPort interface {
	Insert(ctx context.Context, r Reimbursement) error
	Get(ctx context.Context, id string) (*Reimbursement, error)
	GetByGatewayID(ctx context.Context, gatewayTransactionID string) (*Reimbursement, error)
	// ApplyStatus moves a PENDING row to status. It reports false, without error,
	// when the row is no longer PENDING.
	ApplyStatus(ctx context.Context, id string, status Status, upd StatusUpdate) (*Reimbursement, bool, error)
	// UpdateComment changes the comment of a PENDING row.
	UpdateComment(ctx context.Context, id, comment string) error
	ListByPartner(ctx context.Context, partnerID string, status *Status) ([]Reimbursement, error)
	ListPendingDueBefore(ctx context.Context, t time.Time) ([]Reimbursement, error)
}

// ServiceConfig collects the collaborators of Service.
type ServiceConfig struct {
	Repo   RepositoryPort
	Audit  shared.AuditRecorder
	Logger *slog.Logger
	// DueIn is the default repayment window when CreateInput has no due date.
	DueIn time.Duration
	Now   func() time.Time
}

// Service is the reimbursement ledger: the only writer of reimbursement rows
// and the guard of their status machine.
type Service struct {
	repo   RepositoryPort
	audit  shared.AuditRecorder
	logger *slog.Logger
	dueIn  time.Duration
	now    func() time.Time
}

// NewService builds Service instance.
func NewService(cfg ServiceConfig) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	dueIn := cfg.DueIn
	if dueIn <= 0 {
		dueIn = 30 * 24 * time.Hour
	}
	return &Service{repo: cfg.Repo, audit: cfg.Audit, logger: logger, dueIn: dueIn, now: now}
}

// Create inserts a PENDING row. It refuses a gateway transaction id that is
// already recorded.
func (s *Service) Create(ctx context.Context, in CreateInput) (*Reimbursement, error) {
	if err := validateCreate(in); err != nil {
		return nil, err
	}
	existing, err := s.repo.GetByGatewayID(ctx, in.GatewayTransactionID)
	switch {
	case err == nil && existing != nil:
		return nil, fmt.Errorf("reimbursements: %s: %w", in.GatewayTransactionID, shared.ErrDuplicateTransaction)
	case err != nil && !errors.Is(err, shared.ErrNotFound):
		return nil, fmt.Errorf("reimbursements: lookup transaction: %w", err)
	}

	now := s.now().UTC()
	due := in.DueDate
	if due.IsZero() {
		due = now.Add(s.dueIn)
	}
	method := in.Method
	if method == "" {
		method = MethodMobileMoney
	}
	row := Reimbursement{
		ID:                   uuid.NewString(),
		PartnerID:            in.PartnerID,
		EmployeeID:           in.EmployeeID,
		AmountRequested:      in.AmountRequested,
		AmountToReimburse:    in.AmountRequested - in.ServiceFee,
		ServiceFee:           in.ServiceFee,
		Currency:             strings.ToUpper(in.Currency),
		Method:               method,
		GatewayTransactionID: in.GatewayTransactionID,
		PaymentReference:     in.PaymentReference,
		Status:               StatusPending,
		DueDate:              due,
		Comment:              in.Comment,
		Metadata:             in.Metadata,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if err := s.repo.Insert(ctx, row); err != nil {
		return nil, err
	}
	s.record(ctx, "reimbursement.created", "", row, nil)
	return &row, nil
}

func validateCreate(in CreateInput) error {
	switch {
	case strings.TrimSpace(in.PartnerID) == "":
		return shared.Invalid("partnerId", "is required")
	case strings.TrimSpace(in.GatewayTransactionID) == "":
		return shared.Invalid("gatewayTransactionId", "is required")
	case strings.TrimSpace(in.Currency) == "":
		return shared.Invalid("currency", "is required")
	case in.AmountRequested <= 0:
		return shared.Invalid("amountRequested", "must be positive")
	case in.ServiceFee < 0:
		return shared.Invalid("serviceFee", "must not be negative")
	case in.ServiceFee > in.AmountRequested:
		return shared.Invalid("serviceFee", "must not exceed the requested amount")
	case in.Method != "" && !in.Method.Valid():
		return shared.Invalid("method", "is not a known payment method")
	}
	return nil
}

// Transition applies a status change keyed by the gateway transaction id.
// Replays and attempts to leave a terminal state leave the row untouched and
// are reported through the result's Outcome, not as errors.
func (s *Service) Transition(ctx context.Context, gatewayTransactionID string, requested Status, tc TransitionContext) (TransitionResult, error) {
	row, err := s.repo.GetByGatewayID(ctx, gatewayTransactionID)
	if err != nil {
		return TransitionResult{}, err
	}
	next, outcome := NextStatus(row.Status, requested)
	if outcome != OutcomeApplied {
		if requested == StatusPending && row.Status == StatusPending && tc.Comment != "" {
			if err := s.repo.UpdateComment(ctx, row.ID, tc.Comment); err != nil {
				return TransitionResult{}, fmt.Errorf("reimbursements: annotate: %w", err)
			}
			row.Comment = tc.Comment
		}
		if outcome == OutcomeRejected {
			s.logger.Warn("transition out of terminal state refused",
				slog.String("reimbursement_id", row.ID),
				slog.String("status", string(row.Status)),
				slog.String("requested", string(requested)))
		}
		return TransitionResult{Reimbursement: *row, Previous: row.Status, Outcome: outcome}, nil
	}

	upd := StatusUpdate{}
	if tc.Comment != "" {
		upd.Comment = &tc.Comment
	}
	if next == StatusPaid {
		paidAt := s.now().UTC()
		upd.PaidAt = &paidAt
		reception := tc.ReceptionNumber
		upd.ReceptionNumber = &reception
	}
	return s.apply(ctx, *row, requested, next, upd, tc.Actor)
}

func (s *Service) apply(ctx context.Context, row Reimbursement, requested, next Status, upd StatusUpdate, actor string) (TransitionResult, error) {
	updated, applied, err := s.repo.ApplyStatus(ctx, row.ID, next, upd)
	if err != nil {
		return TransitionResult{}, fmt.Errorf("reimbursements: apply %s: %w", next, err)
	}
	if !applied {
		// Another delivery won the race; report against the row it left behind.
		current, err := s.repo.Get(ctx, row.ID)
		if err != nil {
			return TransitionResult{}, err
		}
		_, outcome := NextStatus(current.Status, requested)
		if outcome == OutcomeApplied {
			outcome = OutcomeNoOp
		}
		return TransitionResult{Reimbursement: *current, Previous: current.Status, Outcome: outcome}, nil
	}
	s.record(ctx, "reimbursement.transitioned", actor, *updated, map[string]any{"from": row.Status, "to": next})
	return TransitionResult{Reimbursement: *updated, Previous: row.Status, Outcome: OutcomeApplied}, nil
}

// Annotate replaces the comment of a PENDING row.
func (s *Service) Annotate(ctx context.Context, gatewayTransactionID, comment string) error {
	_, err := s.Transition(ctx, gatewayTransactionID, StatusPending, TransitionContext{Comment: comment})
	return err
}

// MarkPaidManually settles a PENDING row outside the gateway, e.g. cash handed
// in at the office or a salary deduction. A row that is already PAID is
// returned unchanged; a FAILED row yields ErrTransitionRejected.
func (s *Service) MarkPaidManually(ctx context.Context, id string, mp ManualPayment) (*Reimbursement, error) {
	if !mp.Method.Valid() {
		return nil, shared.Invalid("method", "is not a known payment method")
	}
	row, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, outcome := NextStatus(row.Status, StatusPaid); outcome != OutcomeApplied {
		return settledResult(TransitionResult{Reimbursement: *row, Previous: row.Status, Outcome: outcome})
	}
	paidAt := s.now().UTC()
	upd := StatusUpdate{PaidAt: &paidAt, ReceptionNumber: &mp.ReceptionNumber, Method: &mp.Method}
	if mp.Comment != "" {
		upd.Comment = &mp.Comment
	}
	res, err := s.apply(ctx, *row, StatusPaid, StatusPaid, upd, mp.Actor)
	if err != nil {
		return nil, err
	}
	if !res.Changed() {
		return settledResult(res)
	}
	return &res.Reimbursement, nil
}

func settledResult(res TransitionResult) (*Reimbursement, error) {
	if res.Outcome == OutcomeRejected {
		return nil, fmt.Errorf("reimbursements: %s is %s: %w", res.Reimbursement.ID, res.Reimbursement.Status, shared.ErrTransitionRejected)
	}
	return &res.Reimbursement, nil
}

// Get returns the row with id.
func (s *Service) Get(ctx context.Context, id string) (*Reimbursement, error) {
	return s.repo.Get(ctx, id)
}

// GetByGatewayID returns the row recorded for a gateway transaction.
func (s *Service) GetByGatewayID(ctx context.Context, gatewayTransactionID string) (*Reimbursement, error) {
	return s.repo.GetByGatewayID(ctx, gatewayTransactionID)
}

// ListByPartner returns the partner's rows, optionally filtered by status.
// The OVERDUE filter selects pending rows past their due date.
func (s *Service) ListByPartner(ctx context.Context, partnerID string, status *Status) ([]Reimbursement, error) {
	if strings.TrimSpace(partnerID) == "" {
		return nil, shared.Invalid("partnerId", "is required")
	}
	if status == nil || *status != StatusOverdue {
		return s.repo.ListByPartner(ctx, partnerID, status)
	}
	pending := StatusPending
	rows, err := s.repo.ListByPartner(ctx, partnerID, &pending)
	if err != nil {
		return nil, err
	}
	now := s.now()
	out := rows[:0]
	for _, r := range rows {
		if r.EffectiveStatus(now) == StatusOverdue {
			out = append(out, r)
		}
	}
	return out, nil
}

// ListOverdue returns every pending row whose due date has passed.
func (s *Service) ListOverdue(ctx context.Context) ([]Reimbursement, error) {
	return s.repo.ListPendingDueBefore(ctx, s.now())
}

func (s *Service) record(ctx context.Context, action, actor string, r Reimbursement, extra map[string]any) {
	if s.audit == nil {
		return
	}
	meta := map[string]any{
		"gateway_transaction_id": r.GatewayTransactionID,
		"status":                 r.Status,
		"amount_to_reimburse":    r.AmountToReimburse,
	}
	for k, v := range extra {
		meta[k] = v
	}
	if err := s.audit.Record(ctx, shared.AuditLog{Actor: actor, Action: action, Entity: "reimbursements", EntityID: r.ID, Meta: meta}); err != nil {
		s.logger.Warn("audit record failed", slog.String("action", action), slog.Any("error", err))
	}
}

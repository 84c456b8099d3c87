// Package disbursements pays salary advances out through the payment gateway
// and records what each partner owes back.
package disbursements

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/advance-ops/backoffice/internal/gateway"
	"github.com/advance-ops/backoffice/internal/partners"
	"github.com/advance-ops/backoffice/internal/reimbursements"
	"github.com/advance-ops/backoffice/internal/shared"
)

// PartnerDirectory reads partners and their rosters.
type PartnerDirectory interface {
	GetPartner(ctx context.Context, id string) (*partners.Partner, error)
	ListEmployeesByIDs(ctx context.Context, partnerID string, ids []string) ([]partners.Employee, error)
}

// Gateway opens payments.
type Gateway interface {
	Initiate(ctx context.Context, req gateway.Request) (gateway.Success, error)
}

// Ledger records what is owed.
type Ledger interface {
	Create(ctx context.Context, in reimbursements.CreateInput) (*reimbursements.Reimbursement, error)
}

// Limits bound the amount of a single gateway call.
type Limits struct {
	Min  int64
	Max  int64
	Step int64
}

// Check validates amount against the limits.
func (l Limits) Check(amount int64) error {
	switch {
	case l.Min > 0 && amount < l.Min:
		return shared.Invalid("amount", fmt.Sprintf("must be at least %d", l.Min))
	case l.Max > 0 && amount > l.Max:
		return shared.Invalid("amount", fmt.Sprintf("must not exceed %d", l.Max))
	case l.Step > 1 && amount%l.Step != 0:
		return shared.Invalid("amount", fmt.Sprintf("must be a multiple of %d", l.Step))
	}
	return nil
}

// Config collects the orchestrator's collaborators and settings.
type Config struct {
	Partners        PartnerDirectory
	Gateway         Gateway
	Ledger          Ledger
	Logger          *slog.Logger
	Limits          Limits
	DefaultCurrency string
	FeeRate         decimal.Decimal
	DueIn           time.Duration
	PaymentURLTTL   time.Duration
	CallbackURL     string
	// ReturnURL renders the browser return URL for a payment reference.
	ReturnURL func(reference string) string
	Now       func() time.Time
}

// EmployeeAmount is one line of a bulk request.
type EmployeeAmount struct {
	EmployeeID  string `json:"employeeId"`
	Amount      int64  `json:"amount"`
	Description string `json:"description,omitempty"`
}

// BulkRequest disburses to several employees of one partner in one payment.
type BulkRequest struct {
	PartnerID string
	Employees []EmployeeAmount
	Currency  string
	Reference string
}

// SingleRequest disburses one amount.
type SingleRequest struct {
	PartnerID   string
	Amount      int64
	Currency    string
	Description string
	Reference   string
	EmployeeID  string
}

// Result is a recorded disbursement with its payment link.
type Result struct {
	Reimbursement reimbursements.Reimbursement
	PaymentURL    string
	// ExpiresAt is advisory; the gateway does not report link expiry.
	ExpiresAt time.Time
}

// UnrecordedError reports a payment the gateway accepted but the ledger could
// not record.
type UnrecordedError struct {
	TransactionID string
	Err           error
}

func (e *UnrecordedError) Error() string {
	return fmt.Sprintf("disbursements: payment %s accepted but not recorded: %v", e.TransactionID, e.Err)
}

func (e *UnrecordedError) Unwrap() error { return e.Err }

// Service orchestrates disbursements.
type Service struct {
	partners        PartnerDirectory
	gateway         Gateway
	ledger          Ledger
	logger          *slog.Logger
	limits          Limits
	defaultCurrency string
	feeRate         decimal.Decimal
	dueIn           time.Duration
	urlTTL          time.Duration
	callbackURL     string
	returnURL       func(string) string
	now             func() time.Time
}

// NewService builds Service instance.
func NewService(cfg Config) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	returnURL := cfg.ReturnURL
	if returnURL == nil {
		returnURL = func(string) string { return "" }
	}
	ttl := cfg.PaymentURLTTL
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	currency := strings.ToUpper(strings.TrimSpace(cfg.DefaultCurrency))
	if currency == "" {
		currency = "GNF"
	}
	return &Service{
		partners:        cfg.Partners,
		gateway:         cfg.Gateway,
		ledger:          cfg.Ledger,
		logger:          logger,
		limits:          cfg.Limits,
		defaultCurrency: currency,
		feeRate:         cfg.FeeRate,
		dueIn:           cfg.DueIn,
		urlTTL:          ttl,
		callbackURL:     cfg.CallbackURL,
		returnURL:       returnURL,
		now:             now,
	}
}

// DisburseBulk validates the request against the partner's roster, opens one
// payment for the total and records one ledger row carrying the breakdown.
// Nothing external is called before validation passes, and nothing is recorded
// unless the gateway accepted the payment.
func (s *Service) DisburseBulk(ctx context.Context, req BulkRequest) (*Result, error) {
	total, err := validateBulk(req, s.limits)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(req.Employees))
	for i, e := range req.Employees {
		ids[i] = e.EmployeeID
	}

	partner, employees, err := s.loadRoster(ctx, req.PartnerID, ids)
	if err != nil {
		return nil, err
	}
	if len(employees) != len(ids) {
		return nil, fmt.Errorf("disbursements: %d of %d employees belong to partner %s: %w",
			len(employees), len(ids), partner.ID, shared.ErrMembershipMismatch)
	}
	if err := s.limits.Check(total); err != nil {
		return nil, err
	}

	breakdown := make([]reimbursements.EmployeeShare, len(req.Employees))
	for i, e := range req.Employees {
		breakdown[i] = reimbursements.EmployeeShare{EmployeeID: e.EmployeeID, Amount: e.Amount, Description: e.Description}
	}
	return s.disburse(ctx, disbursement{
		partnerID: partner.ID,
		amount:    total,
		currency:  req.Currency,
		reference: req.Reference,
		metadata: reimbursements.Metadata{
			IsBulk:            true,
			EmployeeCount:     len(req.Employees),
			EmployeeBreakdown: breakdown,
		},
	})
}

// Disburse opens one payment for a single amount. When an employee is named it
// must belong to the partner.
func (s *Service) Disburse(ctx context.Context, req SingleRequest) (*Result, error) {
	req.PartnerID = strings.TrimSpace(req.PartnerID)
	req.EmployeeID = strings.TrimSpace(req.EmployeeID)
	switch {
	case req.PartnerID == "":
		return nil, shared.Invalid("partnerId", "is required")
	case req.Amount <= 0:
		return nil, shared.Invalid("amount", "must be positive")
	}

	var ids []string
	if req.EmployeeID != "" {
		ids = []string{req.EmployeeID}
	}
	partner, employees, err := s.loadRoster(ctx, req.PartnerID, ids)
	if err != nil {
		return nil, err
	}
	if len(employees) != len(ids) {
		return nil, fmt.Errorf("disbursements: employee %s does not belong to partner %s: %w",
			req.EmployeeID, partner.ID, shared.ErrMembershipMismatch)
	}
	if err := s.limits.Check(req.Amount); err != nil {
		return nil, err
	}

	meta := reimbursements.Metadata{EmployeeCount: len(ids)}
	if req.EmployeeID != "" {
		meta.EmployeeBreakdown = []reimbursements.EmployeeShare{{EmployeeID: req.EmployeeID, Amount: req.Amount, Description: req.Description}}
	}
	return s.disburse(ctx, disbursement{
		partnerID:  partner.ID,
		employeeID: req.EmployeeID,
		amount:     req.Amount,
		currency:   req.Currency,
		reference:  req.Reference,
		comment:    req.Description,
		metadata:   meta,
	})
}

// validateBulk checks the request shape and returns the exact sum of the
// per-employee amounts.
func validateBulk(req BulkRequest, limits Limits) (int64, error) {
	if strings.TrimSpace(req.PartnerID) == "" {
		return 0, shared.Invalid("partnerId", "is required")
	}
	if len(req.Employees) == 0 {
		return 0, shared.Invalid("employees", "must not be empty")
	}
	seen := make(map[string]struct{}, len(req.Employees))
	var total int64
	for i, e := range req.Employees {
		field := fmt.Sprintf("employees[%d]", i)
		if strings.TrimSpace(e.EmployeeID) == "" {
			return 0, shared.Invalid(field+".employeeId", "is required")
		}
		if e.Amount <= 0 {
			return 0, shared.Invalid(field+".amount", "must be positive")
		}
		if limits.Max > 0 && e.Amount > limits.Max {
			return 0, shared.Invalid(field+".amount", fmt.Sprintf("must not exceed %d", limits.Max))
		}
		if _, dup := seen[e.EmployeeID]; dup {
			return 0, shared.Invalid(field+".employeeId", "is listed more than once")
		}
		seen[e.EmployeeID] = struct{}{}
		if total > math.MaxInt64-e.Amount {
			return 0, shared.Invalid("employees", "total amount is too large")
		}
		total += e.Amount
	}
	return total, nil
}

// loadRoster fetches the partner and the requested employees concurrently.
func (s *Service) loadRoster(ctx context.Context, partnerID string, ids []string) (*partners.Partner, []partners.Employee, error) {
	var (
		partner   *partners.Partner
		employees []partners.Employee
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		p, err := s.partners.GetPartner(gctx, partnerID)
		if err != nil {
			return err
		}
		partner = p
		return nil
	})
	if len(ids) > 0 {
		g.Go(func() error {
			list, err := s.partners.ListEmployeesByIDs(gctx, partnerID, ids)
			if err != nil {
				return err
			}
			employees = list
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	if !partner.Active {
		return nil, nil, shared.Invalid("partnerId", "partner is not active")
	}
	return partner, employees, nil
}

type disbursement struct {
	partnerID  string
	employeeID string
	amount     int64
	currency   string
	reference  string
	comment    string
	metadata   reimbursements.Metadata
}

func (s *Service) disburse(ctx context.Context, d disbursement) (*Result, error) {
	currency := strings.ToUpper(strings.TrimSpace(d.currency))
	if currency == "" {
		currency = s.defaultCurrency
	}
	reference := strings.TrimSpace(d.reference)
	if reference == "" {
		reference = "ADV-" + strings.ToUpper(uuid.NewString()[:8])
	}
	logger := s.logger.With(slog.String("partner_id", d.partnerID), slog.String("reference", reference))

	payment, err := s.gateway.Initiate(ctx, gateway.Request{
		Amount:      d.amount,
		Currency:    currency,
		CallbackURL: s.callbackURL,
		ReturnURL:   s.returnURL(reference),
	})
	if err != nil {
		logger.Warn("gateway refused disbursement", slog.Int64("amount", d.amount), slog.Any("error", err))
		return nil, err
	}

	now := s.now().UTC()
	var due time.Time
	if s.dueIn > 0 {
		due = now.Add(s.dueIn)
	}
	row, err := s.ledger.Create(ctx, reimbursements.CreateInput{
		PartnerID:            d.partnerID,
		EmployeeID:           d.employeeID,
		AmountRequested:      d.amount,
		ServiceFee:           s.fee(d.amount),
		Currency:             currency,
		Method:               reimbursements.MethodMobileMoney,
		GatewayTransactionID: payment.TransactionID,
		PaymentReference:     reference,
		DueDate:              due,
		Comment:              d.comment,
		Metadata:             d.metadata,
	})
	if err != nil {
		// The payment exists at the gateway without a ledger row; operators
		// reconcile it from this log line.
		logger.Error("ledger write failed after gateway accepted payment",
			slog.String("pay_id", payment.TransactionID), slog.Int64("amount", d.amount), slog.Any("error", err))
		if errors.Is(err, shared.ErrDuplicateTransaction) {
			err = fmt.Errorf("%w: gateway reused transaction id", shared.ErrGatewayProtocol)
		}
		return nil, &UnrecordedError{TransactionID: payment.TransactionID, Err: err}
	}

	logger.Info("disbursement opened",
		slog.String("reimbursement_id", row.ID),
		slog.String("pay_id", payment.TransactionID),
		slog.Int64("amount", d.amount),
		slog.Bool("bulk", d.metadata.IsBulk))
	return &Result{Reimbursement: *row, PaymentURL: payment.PaymentURL, ExpiresAt: now.Add(s.urlTTL)}, nil
}

// fee is round(amount × rate), half away from zero, in whole currency units.
func (s *Service) fee(amount int64) int64 {
	if s.feeRate.IsZero() {
		return 0
	}
	fee := decimal.NewFromInt(amount).Mul(s.feeRate).Round(0).IntPart()
	if fee < 0 {
		return 0
	}
	if fee > amount {
		return amount
	}
	return fee
}

package reimbursements

import (
	"strings"
	"time"
)

// Status enumerates stored reimbursement statuses.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusPaid      Status = "PAID"
	StatusCancelled Status = "CANCELLED"
	StatusFailed    Status = "FAILED"
	// StatusOverdue is derived from the due date and never stored.
	StatusOverdue Status = "OVERDUE"
)

// Terminal reports whether no further transition is allowed from s.
func (s Status) Terminal() bool {
	return s == StatusPaid || s == StatusCancelled || s == StatusFailed
}

// ParseStatus normalises a status filter. OVERDUE is accepted.
func ParseStatus(raw string) (Status, bool) {
	switch s := Status(strings.ToUpper(strings.TrimSpace(raw))); s {
	case StatusPending, StatusPaid, StatusCancelled, StatusFailed, StatusOverdue:
		return s, true
	default:
		return "", false
	}
}

// Method enumerates how a reimbursement is settled.
type Method string

const (
	MethodMobileMoney     Method = "MOBILE_MONEY"
	MethodBankTransfer    Method = "BANK_TRANSFER"
	MethodCash            Method = "CASH"
	MethodCheck           Method = "CHECK"
	MethodSalaryDeduction Method = "SALARY_DEDUCTION"
	MethodAdvanceOffset   Method = "ADVANCE_OFFSET"
)

// Valid reports whether m is a known method.
func (m Method) Valid() bool {
	switch m {
	case MethodMobileMoney, MethodBankTransfer, MethodCash, MethodCheck, MethodSalaryDeduction, MethodAdvanceOffset:
		return true
	}
	return false
}

// EmployeeShare is one employee's part of a bulk reimbursement.
type EmployeeShare struct {
	EmployeeID  string `json:"employeeId"`
	Amount      int64  `json:"amount"`
	Description string `json:"description,omitempty"`
}

// Metadata annotates how the row was produced.
type Metadata struct {
	IsBulk            bool            `json:"isBulk"`
	EmployeeCount     int             `json:"employeeCount"`
	EmployeeBreakdown []EmployeeShare `json:"employeeBreakdown,omitempty"`
}

// Reimbursement is a ledger row: money owed back to the platform.
type Reimbursement struct {
	ID                   string
	PartnerID            string
	EmployeeID           string
	AmountRequested      int64
	AmountToReimburse    int64
	ServiceFee           int64
	Currency             string
	Method               Method
	GatewayTransactionID string
	PaymentReference     string
	Status               Status
	DueDate              time.Time
	PaidAt               *time.Time
	ReceptionNumber      string
	Comment              string
	Metadata             Metadata
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// EffectiveStatus returns OVERDUE for a pending row past its due date.
func (r Reimbursement) EffectiveStatus(now time.Time) Status {
	if r.Status == StatusPending && now.After(r.DueDate) {
		return StatusOverdue
	}
	return r.Status
}

// Outcome describes what a transition request did.
type Outcome string

const (
	// OutcomeApplied means the row moved to the requested status.
	OutcomeApplied Outcome = "applied"
	// OutcomeNoOp means the row already was in the requested status.
	OutcomeNoOp Outcome = "noop"
	// OutcomeRejected means the row is terminal in a different status and was left untouched.
	OutcomeRejected Outcome = "rejected"
)

// NextStatus is the transition function of the ledger. It depends only on the
// current and requested statuses.
func NextStatus(current, requested Status) (Status, Outcome) {
	switch {
	case current == requested:
		return current, OutcomeNoOp
	case current.Terminal():
		return current, OutcomeRejected
	case current == StatusPending && requested.Terminal():
		return requested, OutcomeApplied
	default:
		return current, OutcomeRejected
	}
}

// CreateInput carries the fields of a new ledger row.
type CreateInput struct {
	PartnerID            string
	EmployeeID           string
	AmountRequested      int64
	ServiceFee           int64
	Currency             string
	Method               Method
	GatewayTransactionID string
	PaymentReference     string
	DueDate              time.Time
	Comment              string
	Metadata             Metadata
}

// TransitionContext carries the data stamped alongside a status change.
type TransitionContext struct {
	ReceptionNumber string
	Comment         string
	Actor           string
}

// TransitionResult reports the row after a transition request.
type TransitionResult struct {
	Reimbursement Reimbursement
	Previous      Status
	Outcome       Outcome
}

// Changed reports whether the request mutated the status.
func (r TransitionResult) Changed() bool {
	return r.Outcome == OutcomeApplied
}

// StatusUpdate is applied by the repository together with a status change.
type StatusUpdate struct {
	PaidAt          *time.Time
	ReceptionNumber *string
	Comment         *string
	Method          *Method
}

// ManualPayment records a reimbursement settled outside the gateway.
type ManualPayment struct {
	Method          Method
	ReceptionNumber string
	Comment         string
	Actor           string
}

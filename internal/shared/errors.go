package shared

import "errors"

// Error taxonomy shared by the provisioning, ledger and disbursement modules.
// Packages wrap these with context using fmt.Errorf("...: %w", err).
var (
	// ErrValidation indicates bad input.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound indicates a partner, employee, account or reimbursement is absent.
	ErrNotFound = errors.New("not found")
	// ErrDuplicateEmail indicates a profile row or identity account already uses the email.
	ErrDuplicateEmail = errors.New("email already registered")
	// ErrMembershipMismatch indicates an employee reference outside the partner roster.
	ErrMembershipMismatch = errors.New("employee membership mismatch")
	// ErrTransitionRejected indicates a terminal row was asked to move to a different status.
	ErrTransitionRejected = errors.New("reimbursement already settled")
	// ErrDuplicateTransaction indicates the gateway transaction id is already recorded.
	ErrDuplicateTransaction = errors.New("gateway transaction already recorded")
	// ErrGatewayUnreachable indicates a transport failure talking to the gateway. Retryable.
	ErrGatewayUnreachable = errors.New("payment gateway unreachable")
	// ErrGatewayRejected indicates the gateway refused the request with a JSON error body.
	ErrGatewayRejected = errors.New("payment gateway rejected request")
	// ErrGatewayProtocol indicates an unexpected gateway response shape.
	ErrGatewayProtocol = errors.New("payment gateway protocol error")
	// ErrAccountCreationFailed indicates provisioning failed after rollback.
	ErrAccountCreationFailed = errors.New("account creation failed")
	// ErrUnauthorized indicates a missing credential.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrForbidden indicates a credential or origin that is not allowed.
	ErrForbidden = errors.New("forbidden")
)

// FieldError reports a validation failure on one input field.
type FieldError struct {
	Field   string
	Message string
}

func (e *FieldError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

// Unwrap lets errors.Is match ErrValidation.
func (e *FieldError) Unwrap() error { return ErrValidation }

// Invalid builds a FieldError.
func Invalid(field, message string) error {
	return &FieldError{Field: field, Message: message}
}

// Package gateway is the client for the mobile-money payment gateway. It
// translates a disbursement intent into one HTTP call and decodes the reply
// exactly once into a tagged outcome.
package gateway

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/advance-ops/backoffice/internal/shared"
)

// Request is a disbursement intent. Amount is already in the gateway's integer
// unit; business limits are checked by the caller.
type Request struct {
	Amount      int64
	Currency    string
	CallbackURL string
	ReturnURL   string
}

// Outcome is one of Success, Rejected or Malformed.
type Outcome interface {
	outcome()
}

// Success means the gateway accepted the payment and issued a transaction id.
type Success struct {
	TransactionID string
	PaymentURL    string
}

// Rejected is a well-formed JSON error from the gateway.
type Rejected struct {
	StatusCode int
	Code       string
	Message    string
}

// Malformed is any reply that is not the JSON the gateway documents: HTML error
// pages, proxy errors, truncated bodies.
type Malformed struct {
	StatusCode  int
	ContentType string
	RawBody     string
}

func (Success) outcome()   {}
func (Rejected) outcome()  {}
func (Malformed) outcome() {}

// RejectedError is returned by Initiate for a Rejected outcome. Retrying with
// the same parameters will not help.
type RejectedError struct {
	Rejected
}

func (e *RejectedError) Error() string {
	reason := e.Message
	if reason == "" {
		reason = e.Code
	}
	if reason == "" {
		reason = http.StatusText(e.StatusCode)
	}
	return fmt.Sprintf("%s: %s", shared.ErrGatewayRejected, reason)
}

// Unwrap exposes the taxonomy sentinel.
func (e *RejectedError) Unwrap() error { return shared.ErrGatewayRejected }

// HTTPStatus passes 4xx gateway statuses through to API callers.
func (e *RejectedError) HTTPStatus() int {
	if e.StatusCode >= 400 && e.StatusCode < 500 {
		return e.StatusCode
	}
	return http.StatusUnprocessableEntity
}

// ProtocolError is returned by Initiate for a Malformed outcome.
type ProtocolError struct {
	Malformed
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("%s: status %d, content-type %q, body %q", shared.ErrGatewayProtocol, e.StatusCode, e.ContentType, truncate(e.RawBody, 200))
}

// Unwrap exposes the taxonomy sentinel.
func (e *ProtocolError) Unwrap() error { return shared.ErrGatewayProtocol }

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// UnreachableError is a transport failure or timeout. The caller may retry the
// whole disbursement with a fresh gateway call.
type UnreachableError struct {
	Err     error
	Timeout bool
}

func (e *UnreachableError) Error() string {
	return fmt.Sprintf("%s: %v", shared.ErrGatewayUnreachable, e.Err)
}

// Unwrap exposes both the taxonomy sentinel and the transport error.
func (e *UnreachableError) Unwrap() []error { return []error{shared.ErrGatewayUnreachable, e.Err} }

// HTTPStatus maps timeouts to 504 and other transport failures to 502.
func (e *UnreachableError) HTTPStatus() int {
	if e.Timeout {
		return http.StatusGatewayTimeout
	}
	return http.StatusBadGateway
}

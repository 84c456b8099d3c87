package gateway

import (
	"errors"
	"strings"

	"github.com/advance-ops/backoffice/internal/shared"
)

// GenericGuidance is shown when a gateway error matches no known pattern.
const GenericGuidance = "The payment provider refused the operation. Contact support with the error details."

var guidancePatterns = []struct {
	needles []string
	message string
}{
	{[]string{"insufficient", "solde insuffisant", "balance"}, "Insufficient balance on the payment account. Top up the merchant wallet and retry."},
	{[]string{"phone", "msisdn", "numéro", "numero"}, "Invalid phone number format. Check the mobile-money number (country code, 9 digits)."},
	{[]string{"minimum", "maximum", "limit", "plafond", "amount"}, "The amount is outside the provider's limits. Adjust the amount and retry."},
	{[]string{"license", "licence", "unauthorized", "forbidden", "api key", "websiteid", "site"}, "The payment provider rejected our credentials. Check the API key and site id configuration."},
	{[]string{"currency", "devise"}, "The currency is not supported by the payment provider."},
	{[]string{"duplicate", "already exists", "existe déjà"}, "The provider reports a duplicate payment. Check the reimbursement list before retrying."},
}

// Guidance turns a gateway error into operator-facing advice. Unknown gateway
// errors fall back to a generic message followed by the raw error.
func Guidance(err error) string {
	if err == nil {
		return ""
	}
	var ue *UnreachableError
	if errors.As(err, &ue) {
		if ue.Timeout {
			return "The payment provider did not answer in time. Retry the disbursement; no payment was recorded."
		}
		return "The payment provider is unreachable. Retry later; no payment was recorded."
	}
	if errors.Is(err, shared.ErrGatewayProtocol) {
		return "The payment provider returned an unexpected response (possible outage). Retry later or contact support."
	}
	raw := err.Error()
	lower := strings.ToLower(raw)
	for _, p := range guidancePatterns {
		for _, needle := range p.needles {
			if strings.Contains(lower, needle) {
				return p.message
			}
		}
	}
	return GenericGuidance + " (" + raw + ")"
}

// IsGatewayError reports whether err originates from a gateway call.
func IsGatewayError(err error) bool {
	return errors.Is(err, shared.ErrGatewayUnreachable) ||
		errors.Is(err, shared.ErrGatewayRejected) ||
		errors.Is(err, shared.ErrGatewayProtocol)
}

package shared

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// NewValidator returns the validator used for inbound payloads.
func NewValidator() *validator.Validate {
	return validator.New(validator.WithRequiredStructEnabled())
}

// ValidationError converts validator failures into a FieldError on the first
// failing field. Other errors are wrapped as validation failures.
func ValidationError(err error) error {
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		field := strings.ToLower(fe.Field())
		switch fe.Tag() {
		case "required":
			return Invalid(field, "is required")
		case "email":
			return Invalid(field, "is not a valid email address")
		case "oneof":
			return Invalid(field, "must be one of "+fe.Param())
		case "gt", "gte", "min":
			return Invalid(field, "must be at least "+fe.Param())
		default:
			return Invalid(field, "failed "+fe.Tag()+" check")
		}
	}
	return fmt.Errorf("%w: %v", ErrValidation, err)
}

package accounts

import "time"

// Role is the profile role stored in admin_users.
type Role string

const (
	RoleAdmin       Role = "admin"
	RoleRH          Role = "rh"
	RoleResponsable Role = "responsable"
	RoleUser        Role = "user"
)

// Kind is the payload kind submitted by the admin screens.
type Kind string

const (
	KindAdmin          Kind = "admin"
	KindRH             Kind = "rh"
	KindRepresentative Kind = "representative"
	KindEmployee       Kind = "employee"
)

// RoleFor maps a payload kind onto its profile role.
func RoleFor(kind Kind) (Role, bool) {
	switch kind {
	case KindAdmin:
		return RoleAdmin, true
	case KindRH:
		return RoleRH, true
	case KindRepresentative:
		return RoleResponsable, true
	case KindEmployee:
		return RoleUser, true
	default:
		return "", false
	}
}

// Mode selects how the identity provider is used.
type Mode string

const (
	// ModeAuthoritative creates real identity accounts and cross-checks emails
	// against the provider.
	ModeAuthoritative Mode = "authoritative"
	// ModeDegraded never touches the identity provider and returns synthetic ids.
	ModeDegraded Mode = "degraded"
)

// Profile is the business-facing row linked one-to-one with an identity account.
type Profile struct {
	ID          string
	Email       string
	DisplayName string
	Role        Role
	OwnerOrgID  string
	Active      bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ProvisionInput is the payload for creating an account pair.
type ProvisionInput struct {
	Email       string `validate:"required,email"`
	DisplayName string `validate:"required,max=120"`
	Kind        Kind   `validate:"required,oneof=admin rh representative employee"`
	OwnerOrgID  string `validate:"max=64"`
}

// Provisioned is returned once; Password is never stored or re-derived.
type Provisioned struct {
	AccountID string
	Password  string
	Role      Role
	// Simulated is true when the identity provider was bypassed (degraded mode).
	Simulated bool
}

// ProfileUpdate carries optional profile changes.
type ProfileUpdate struct {
	DisplayName *string
	Active      *bool
}

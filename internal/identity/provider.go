// Package identity adapts identity/credential providers behind one capability:
// create, delete and list authentication accounts.
package identity

import (
	"context"
	"strings"
)

// Metadata travels with an identity account.
type Metadata struct {
	DisplayName string `json:"display_name"`
	Role        string `json:"role"`
	OwnerOrgID  string `json:"owner_org_id,omitempty"`
}

// Account is an authentication principal owned by the provider.
type Account struct {
	ID       string
	Email    string
	Metadata Metadata
}

// CreateParams describes a new account.
type CreateParams struct {
	Email    string
	Password string
	Metadata Metadata
}

// Provider is the identity capability used by account provisioning.
type Provider interface {
	CreateAccount(ctx context.Context, params CreateParams) (Account, error)
	DeleteAccount(ctx context.Context, id string) error
	ListAccounts(ctx context.Context) ([]Account, error)
	UpdatePassword(ctx context.Context, id, password string) error
}

// FindByEmail scans the provider's accounts for email, case-insensitively.
func FindByEmail(ctx context.Context, p Provider, email string) (*Account, error) {
	accounts, err := p.ListAccounts(ctx)
	if err != nil {
		return nil, err
	}
	for i := range accounts {
		if strings.EqualFold(accounts[i].Email, email) {
			return &accounts[i], nil
		}
	}
	return nil, nil
}

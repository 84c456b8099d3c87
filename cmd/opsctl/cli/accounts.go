package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/advance-ops/backoffice/internal/accounts"
	"github.com/advance-ops/backoffice/internal/notify"
	"github.com/advance-ops/backoffice/internal/shared"
)

// AccountService is the subset of *accounts.Service driven from the CLI.
type AccountService interface {
	Provision(ctx context.Context, in accounts.ProvisionInput) (*accounts.Provisioned, error)
	UpdateProfile(ctx context.Context, id string, upd accounts.ProfileUpdate) (*accounts.Profile, error)
	Deprovision(ctx context.Context, id string) error
	ResetPassword(ctx context.Context, id string) (string, error)
}

// AccountsCLI provisions and removes back-office accounts.
type AccountsCLI struct {
	service AccountService
	mailer  notify.Sender
}

// NewAccountsCLI wires the CLI. mailer may be nil when credentials are only
// printed.
func NewAccountsCLI(service AccountService, mailer notify.Sender) (*AccountsCLI, error) {
	if service == nil {
		return nil, errors.New("accounts cli: service is required")
	}
	return &AccountsCLI{service: service, mailer: mailer}, nil
}

// ProvisionOptions defines the flags of the provision command.
type ProvisionOptions struct {
	Email       string
	DisplayName string
	Kind        string
	OwnerOrgID  string
	// Notify mails the credentials instead of printing the password.
	Notify     bool
	JSONOutput bool
	Stdout     io.Writer
	Stderr     io.Writer
}

// ProvisionSummary is the JSON output of the provision command.
type ProvisionSummary struct {
	AccountID string `json:"account_id"`
	Role      string `json:"role"`
	Password  string `json:"password,omitempty"`
	Mailed    bool   `json:"mailed"`
	Simulated bool   `json:"simulated"`
}

// ProvisionCommand creates an account pair and hands the one-time password to
// the operator or to the account owner by mail.
func (c *AccountsCLI) ProvisionCommand(ctx context.Context, opts ProvisionOptions) int {
	opts.Stdout, opts.Stderr = streams(opts.Stdout, opts.Stderr)
	if opts.Notify && c.mailer == nil {
		_, _ = fmt.Fprintln(opts.Stderr, "provision: --notify requires SMTP settings")
		return 1
	}
	res, err := c.service.Provision(ctx, accounts.ProvisionInput{
		Email:       opts.Email,
		DisplayName: opts.DisplayName,
		Kind:        accounts.Kind(strings.ToLower(strings.TrimSpace(opts.Kind))),
		OwnerOrgID:  strings.TrimSpace(opts.OwnerOrgID),
	})
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "provision: %v\n", err)
		return exitCodeFor(err)
	}

	summary := ProvisionSummary{
		AccountID: res.AccountID,
		Role:      string(res.Role),
		Password:  res.Password,
		Simulated: res.Simulated,
	}
	if opts.Notify {
		subject, body := notify.RenderCredentials(opts.DisplayName, opts.Email, res.Password)
		if err := c.mailer.Send(ctx, opts.Email, subject, body); err != nil {
			// The account exists; fall back to printing so the password is not lost.
			_, _ = fmt.Fprintf(opts.Stderr, "provision: mail credentials: %v\n", err)
		} else {
			summary.Mailed = true
			summary.Password = ""
		}
	}

	if opts.JSONOutput {
		if err := json.NewEncoder(opts.Stdout).Encode(summary); err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "provision: encode json: %v\n", err)
			return 1
		}
		return 0
	}
	_, _ = fmt.Fprintf(opts.Stdout, "account %s created with role %s\n", summary.AccountID, summary.Role)
	if summary.Simulated {
		_, _ = fmt.Fprintln(opts.Stdout, "warning: identity provider bypassed, the account cannot sign in")
	}
	if summary.Mailed {
		_, _ = fmt.Fprintf(opts.Stdout, "credentials mailed to %s\n", opts.Email)
	} else {
		_, _ = fmt.Fprintf(opts.Stdout, "password (shown once): %s\n", summary.Password)
	}
	return 0
}

// UpdateProfileOptions defines the flags of the update-profile command. Nil
// fields are left unchanged.
type UpdateProfileOptions struct {
	ID          string
	DisplayName *string
	Active      *bool
	Stdout      io.Writer
	Stderr      io.Writer
}

// UpdateProfileCommand edits profile fields; the identity account is untouched.
func (c *AccountsCLI) UpdateProfileCommand(ctx context.Context, opts UpdateProfileOptions) int {
	opts.Stdout, opts.Stderr = streams(opts.Stdout, opts.Stderr)
	id := strings.TrimSpace(opts.ID)
	if id == "" {
		_, _ = fmt.Fprintln(opts.Stderr, "update-profile: --id is required")
		return 1
	}
	if opts.DisplayName == nil && opts.Active == nil {
		_, _ = fmt.Fprintln(opts.Stderr, "update-profile: nothing to change, pass --name or --active")
		return 1
	}
	p, err := c.service.UpdateProfile(ctx, id, accounts.ProfileUpdate{DisplayName: opts.DisplayName, Active: opts.Active})
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "update-profile: %v\n", err)
		return exitCodeFor(err)
	}
	_, _ = fmt.Fprintf(opts.Stdout, "account %s: name=%q active=%t\n", p.ID, p.DisplayName, p.Active)
	return 0
}

// DeprovisionCommand removes the identity account and the profile row.
func (c *AccountsCLI) DeprovisionCommand(ctx context.Context, id string, stdout, stderr io.Writer) int {
	stdout, stderr = streams(stdout, stderr)
	id = strings.TrimSpace(id)
	if id == "" {
		_, _ = fmt.Fprintln(stderr, "deprovision: --id is required")
		return 1
	}
	if err := c.service.Deprovision(ctx, id); err != nil {
		_, _ = fmt.Fprintf(stderr, "deprovision: %v\n", err)
		return exitCodeFor(err)
	}
	_, _ = fmt.Fprintf(stdout, "account %s removed\n", id)
	return 0
}

// ResetPasswordCommand prints a fresh one-time password.
func (c *AccountsCLI) ResetPasswordCommand(ctx context.Context, id string, stdout, stderr io.Writer) int {
	stdout, stderr = streams(stdout, stderr)
	id = strings.TrimSpace(id)
	if id == "" {
		_, _ = fmt.Fprintln(stderr, "reset-password: --id is required")
		return 1
	}
	password, err := c.service.ResetPassword(ctx, id)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "reset-password: %v\n", err)
		return exitCodeFor(err)
	}
	_, _ = fmt.Fprintf(stdout, "password (shown once): %s\n", password)
	return 0
}

// exitCodeFor separates operator mistakes (2) from runtime failures (1).
func exitCodeFor(err error) int {
	switch {
	case errors.Is(err, shared.ErrValidation),
		errors.Is(err, shared.ErrDuplicateEmail),
		errors.Is(err, shared.ErrNotFound):
		return 2
	default:
		return 1
	}
}

func streams(stdout, stderr io.Writer) (io.Writer, io.Writer) {
	if stdout == nil {
		stdout = os.Stdout
	}
	if stderr == nil {
		stderr = os.Stderr
	}
	return stdout, stderr
}

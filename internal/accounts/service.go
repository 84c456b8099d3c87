package accounts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/advance-ops/backoffice/internal/credentials"
	"github.com/advance-ops/backoffice/internal/identity"
	"github.com/advance-ops/backoffice/internal/shared"
)

// RepositoryPort defines data access methods for profile rows.
type RepositoryPort interface {
	FindByEmail(ctx context.Context, email string) (*Profile, error)
	Get(ctx context.Context, id string) (*Profile, error)
	Insert(ctx context.Context, p Profile) error
	Update(ctx context.Context, id string, upd ProfileUpdate) (*Profile, error)
	Delete(ctx context.Context, id string) error
}

const compensationTimeout = 10 * time.Second

// ServiceConfig collects the collaborators of Service.
type ServiceConfig struct {
	Repo     RepositoryPort
	Identity identity.Provider
	Mode     Mode
	Logger   *slog.Logger
	Audit    shared.AuditRecorder
	// Generate overrides the password generator in tests.
	Generate func(length int) string
}

// Service provisions identity account + profile row pairs.
type Service struct {
	repo     RepositoryPort
	identity identity.Provider
	mode     Mode
	logger   *slog.Logger
	audit    shared.AuditRecorder
	validate *validator.Validate
	generate func(length int) string
}

// NewService builds Service instance. A nil identity provider forces degraded mode.
func NewService(cfg ServiceConfig) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	mode := cfg.Mode
	if mode == "" {
		mode = ModeAuthoritative
	}
	if cfg.Identity == nil && mode == ModeAuthoritative {
		logger.Warn("no identity provider configured, provisioning runs in degraded mode")
		mode = ModeDegraded
	}
	generate := cfg.Generate
	if generate == nil {
		generate = credentials.Generate
	}
	return &Service{
		repo:     cfg.Repo,
		identity: cfg.Identity,
		mode:     mode,
		logger:   logger,
		audit:    cfg.Audit,
		validate: shared.NewValidator(),
		generate: generate,
	}
}

// Mode reports the effective identity mode.
func (s *Service) Mode() Mode {
	return s.mode
}

// Provision creates the identity account and its profile row so that both exist
// or neither does. The returned password is the only copy.
func (s *Service) Provision(ctx context.Context, in ProvisionInput) (*Provisioned, error) {
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	in.DisplayName = strings.TrimSpace(in.DisplayName)
	if err := s.validate.Struct(in); err != nil {
		return nil, shared.ValidationError(err)
	}
	role, _ := RoleFor(in.Kind)

	if err := s.ensureEmailFree(ctx, in.Email); err != nil {
		return nil, err
	}

	password := s.generate(credentials.DefaultLength)
	profile := Profile{
		Email:       in.Email,
		DisplayName: in.DisplayName,
		Role:        role,
		OwnerOrgID:  in.OwnerOrgID,
		Active:      true,
	}

	if s.mode == ModeDegraded {
		profile.ID = uuid.NewString()
		s.logger.Warn("simulated identity account, provider not contacted",
			slog.String("account_id", profile.ID), slog.String("role", string(role)))
		if err := s.repo.Insert(ctx, profile); err != nil {
			return nil, fmt.Errorf("%w: %w", shared.ErrAccountCreationFailed, err)
		}
		s.record(ctx, "account.provisioned", profile, true)
		return &Provisioned{AccountID: profile.ID, Password: password, Role: role, Simulated: true}, nil
	}

	acc, err := s.identity.CreateAccount(ctx, identity.CreateParams{
		Email:    in.Email,
		Password: password,
		Metadata: identity.Metadata{DisplayName: in.DisplayName, Role: string(role), OwnerOrgID: in.OwnerOrgID},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", shared.ErrAccountCreationFailed, err)
	}

	profile.ID = acc.ID
	if err := s.repo.Insert(ctx, profile); err != nil {
		failure := fmt.Errorf("%w: %w", shared.ErrAccountCreationFailed, err)
		if cerr := s.compensate(ctx, acc.ID); cerr != nil {
			return nil, errors.Join(failure, cerr)
		}
		return nil, failure
	}

	s.record(ctx, "account.provisioned", profile, false)
	s.logger.Info("account provisioned", slog.String("account_id", acc.ID), slog.String("role", string(role)))
	return &Provisioned{AccountID: acc.ID, Password: password, Role: role}, nil
}

func (s *Service) ensureEmailFree(ctx context.Context, email string) error {
	existing, err := s.repo.FindByEmail(ctx, email)
	switch {
	case err == nil && existing != nil:
		return fmt.Errorf("accounts: %s: %w", email, shared.ErrDuplicateEmail)
	case err != nil && !errors.Is(err, shared.ErrNotFound):
		return fmt.Errorf("accounts: lookup profile: %w", err)
	}
	if s.mode != ModeAuthoritative {
		return nil
	}
	acc, err := identity.FindByEmail(ctx, s.identity, email)
	if err != nil {
		return fmt.Errorf("accounts: lookup identity: %w", err)
	}
	if acc != nil {
		s.logger.Warn("identity account without profile row", slog.String("account_id", acc.ID))
		return fmt.Errorf("accounts: %s: %w", email, shared.ErrDuplicateEmail)
	}
	return nil
}

// compensate deletes an identity account whose profile row could not be
// written. It outlives the caller's cancellation so a dropped request does not
// leave the account behind.
func (s *Service) compensate(ctx context.Context, accountID string) error {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensationTimeout)
	defer cancel()
	if err := s.identity.DeleteAccount(cctx, accountID); err != nil {
		s.logger.Error("rollback of identity account failed, orphan left behind",
			slog.String("account_id", accountID), slog.Any("error", err))
		return fmt.Errorf("accounts: rollback identity account %s: %w", accountID, err)
	}
	s.logger.Warn("identity account rolled back", slog.String("account_id", accountID))
	return nil
}

// UpdateProfile changes profile fields only; the identity account is untouched.
func (s *Service) UpdateProfile(ctx context.Context, id string, upd ProfileUpdate) (*Profile, error) {
	if upd.DisplayName != nil {
		name := strings.TrimSpace(*upd.DisplayName)
		if name == "" {
			return nil, shared.Invalid("displayname", "is required")
		}
		upd.DisplayName = &name
	}
	return s.repo.Update(ctx, id, upd)
}

// Deprovision removes the identity account and then the profile row. The
// profile goes last so a failure in between leaves a row to retry from; the
// retry tolerates the already missing identity account.
func (s *Service) Deprovision(ctx context.Context, id string) error {
	profile, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if s.mode == ModeAuthoritative {
		if err := s.identity.DeleteAccount(ctx, id); err != nil && !errors.Is(err, shared.ErrNotFound) {
			return fmt.Errorf("accounts: delete identity account: %w", err)
		}
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return fmt.Errorf("accounts: delete profile %s, retry deprovision: %w", id, err)
	}
	s.record(ctx, "account.deprovisioned", *profile, s.mode == ModeDegraded)
	return nil
}

// ResetPassword issues a fresh password for an existing account.
func (s *Service) ResetPassword(ctx context.Context, id string) (string, error) {
	if s.mode != ModeAuthoritative {
		return "", shared.Invalid("mode", "password reset requires an authoritative identity provider")
	}
	profile, err := s.repo.Get(ctx, id)
	if err != nil {
		return "", err
	}
	password := s.generate(credentials.DefaultLength)
	if err := s.identity.UpdatePassword(ctx, id, password); err != nil {
		return "", fmt.Errorf("accounts: reset password: %w", err)
	}
	s.record(ctx, "account.password_reset", *profile, false)
	return password, nil
}

func (s *Service) record(ctx context.Context, action string, p Profile, simulated bool) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		Action:   action,
		Entity:   "admin_users",
		EntityID: p.ID,
		Meta:     map[string]any{"email": p.Email, "role": p.Role, "owner_org_id": p.OwnerOrgID, "simulated": simulated},
	})
	if err != nil {
		s.logger.Warn("audit record failed", slog.String("action", action), slog.Any("error", err))
	}
}

package accounts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/advance-ops/backoffice/internal/identity"
	"github.com/advance-ops/backoffice/internal/shared"
)

type memoryProfiles struct {
	mu        sync.Mutex
	rows      map[string]Profile
	insertErr error
	deleteErr error
}

func newMemoryProfiles() *memoryProfiles {
	return &memoryProfiles{rows: make(map[string]Profile)}
}

func (m *memoryProfiles) FindByEmail(ctx context.Context, email string) (*Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.rows {
		if strings.EqualFold(p.Email, email) {
			cp := p
			return &cp, nil
		}
	}
	return nil, shared.ErrNotFound
}

func (m *memoryProfiles) Get(ctx context.Context, id string) (*Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.rows[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return &p, nil
}

func (m *memoryProfiles) Insert(ctx context.Context, p Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.insertErr != nil {
		return m.insertErr
	}
	p.CreatedAt = time.Now()
	p.UpdatedAt = p.CreatedAt
	m.rows[p.ID] = p
	return nil
}

func (m *memoryProfiles) Update(ctx context.Context, id string, upd ProfileUpdate) (*Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.rows[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	if upd.DisplayName != nil {
		p.DisplayName = *upd.DisplayName
	}
	if upd.Active != nil {
		p.Active = *upd.Active
	}
	m.rows[id] = p
	return &p, nil
}

func (m *memoryProfiles) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deleteErr != nil {
		return m.deleteErr
	}
	if _, ok := m.rows[id]; !ok {
		return shared.ErrNotFound
	}
	delete(m.rows, id)
	return nil
}

type memoryIdentity struct {
	mu        sync.Mutex
	accounts  map[string]identity.Account
	passwords map[string]string
	next      int
	creates   int
	deleteErr error
}

func newMemoryIdentity() *memoryIdentity {
	return &memoryIdentity{accounts: map[string]identity.Account{}, passwords: map[string]string{}}
}

func (m *memoryIdentity) CreateAccount(ctx context.Context, params identity.CreateParams) (identity.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.next++
	m.creates++
	acc := identity.Account{ID: fmt.Sprintf("acc-%d", m.next), Email: params.Email, Metadata: params.Metadata}
	m.accounts[acc.ID] = acc
	m.passwords[acc.ID] = params.Password
	return acc, nil
}

func (m *memoryIdentity) DeleteAccount(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deleteErr != nil {
		return m.deleteErr
	}
	if _, ok := m.accounts[id]; !ok {
		return shared.ErrNotFound
	}
	delete(m.accounts, id)
	return nil
}

func (m *memoryIdentity) ListAccounts(ctx context.Context) ([]identity.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]identity.Account, 0, len(m.accounts))
	for _, a := range m.accounts {
		out = append(out, a)
	}
	return out, nil
}

func (m *memoryIdentity) UpdatePassword(ctx context.Context, id, password string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.accounts[id]; !ok {
		return shared.ErrNotFound
	}
	m.passwords[id] = password
	return nil
}

type recordingAudit struct {
	actions []string
}

func (r *recordingAudit) Record(ctx context.Context, log shared.AuditLog) error {
	r.actions = append(r.actions, log.Action)
	return nil
}

func newTestService(repo *memoryProfiles, idp *memoryIdentity, mode Mode) (*Service, *recordingAudit) {
	audit := &recordingAudit{}
	var provider identity.Provider
	if idp != nil {
		provider = idp
	}
	return NewService(ServiceConfig{Repo: repo, Identity: provider, Mode: mode, Audit: audit}), audit
}

func TestProvisionCreatesPair(t *testing.T) {
	repo, idp := newMemoryProfiles(), newMemoryIdentity()
	svc, audit := newTestService(repo, idp, ModeAuthoritative)

	res, err := svc.Provision(context.Background(), ProvisionInput{
		Email: " Jane@X.com ", DisplayName: "Jane Doe", Kind: KindRepresentative, OwnerOrgID: "P1",
	})
	require.NoError(t, err)
	require.False(t, res.Simulated)
	require.Equal(t, RoleResponsable, res.Role)
	require.Len(t, res.Password, 8)

	profile, err := repo.Get(context.Background(), res.AccountID)
	require.NoError(t, err)
	require.Equal(t, "jane@x.com", profile.Email)
	require.Equal(t, "P1", profile.OwnerOrgID)
	require.True(t, profile.Active)

	acc, ok := idp.accounts[res.AccountID]
	require.True(t, ok)
	require.Equal(t, "responsable", acc.Metadata.Role)
	require.Equal(t, res.Password, idp.passwords[res.AccountID])
	require.Equal(t, []string{"account.provisioned"}, audit.actions)
}

func TestProvisionRejectsInvalidEmail(t *testing.T) {
	idp := newMemoryIdentity()
	svc, _ := newTestService(newMemoryProfiles(), idp, ModeAuthoritative)

	_, err := svc.Provision(context.Background(), ProvisionInput{Email: "not-an-email", DisplayName: "X", Kind: KindEmployee})
	require.ErrorIs(t, err, shared.ErrValidation)
	require.Zero(t, idp.creates)
}

func TestProvisionRejectsUnknownKind(t *testing.T) {
	svc, _ := newTestService(newMemoryProfiles(), newMemoryIdentity(), ModeAuthoritative)

	_, err := svc.Provision(context.Background(), ProvisionInput{Email: "a@b.co", DisplayName: "X", Kind: "boss"})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestProvisionDuplicateEmailInProfiles(t *testing.T) {
	repo, idp := newMemoryProfiles(), newMemoryIdentity()
	require.NoError(t, repo.Insert(context.Background(), Profile{ID: "existing", Email: "jane@x.com", Role: RoleRH, Active: true}))
	svc, _ := newTestService(repo, idp, ModeAuthoritative)

	_, err := svc.Provision(context.Background(), ProvisionInput{Email: "jane@x.com", DisplayName: "Jane", Kind: KindRH})
	require.ErrorIs(t, err, shared.ErrDuplicateEmail)
	require.Zero(t, idp.creates)
	require.Empty(t, idp.accounts)
}

func TestProvisionDuplicateEmailInIdentityProvider(t *testing.T) {
	repo, idp := newMemoryProfiles(), newMemoryIdentity()
	_, err := idp.CreateAccount(context.Background(), identity.CreateParams{Email: "drift@x.com"})
	require.NoError(t, err)
	svc, _ := newTestService(repo, idp, ModeAuthoritative)

	_, err = svc.Provision(context.Background(), ProvisionInput{Email: "DRIFT@x.com", DisplayName: "Drift", Kind: KindEmployee})
	require.ErrorIs(t, err, shared.ErrDuplicateEmail)
	require.Equal(t, 1, idp.creates)
}

func TestProvisionRollsBackIdentityWhenProfileInsertFails(t *testing.T) {
	repo, idp := newMemoryProfiles(), newMemoryIdentity()
	repo.insertErr = errors.New("connection reset")
	svc, audit := newTestService(repo, idp, ModeAuthoritative)

	_, err := svc.Provision(context.Background(), ProvisionInput{Email: "orphan@x.com", DisplayName: "O", Kind: KindEmployee})
	require.ErrorIs(t, err, shared.ErrAccountCreationFailed)

	found, err := identity.FindByEmail(context.Background(), idp, "orphan@x.com")
	require.NoError(t, err)
	require.Nil(t, found, "identity account must be rolled back")
	require.Empty(t, repo.rows)
	require.Empty(t, audit.actions)
}

func TestProvisionRollbackSurvivesCancelledRequest(t *testing.T) {
	repo, idp := newMemoryProfiles(), newMemoryIdentity()
	repo.insertErr = context.Canceled
	svc, _ := newTestService(repo, idp, ModeAuthoritative)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc.repo = cancellingRepo{memoryProfiles: repo, cancel: cancel}

	_, err := svc.Provision(ctx, ProvisionInput{Email: "cancel@x.com", DisplayName: "C", Kind: KindEmployee})
	require.ErrorIs(t, err, shared.ErrAccountCreationFailed)
	require.Empty(t, idp.accounts)
}

type cancellingRepo struct {
	*memoryProfiles
	cancel context.CancelFunc
}

func (c cancellingRepo) Insert(ctx context.Context, p Profile) error {
	c.cancel()
	return c.memoryProfiles.Insert(ctx, p)
}

func TestProvisionReportsFailedRollback(t *testing.T) {
	repo, idp := newMemoryProfiles(), newMemoryIdentity()
	repo.insertErr = errors.New("disk full")
	idp.deleteErr = errors.New("identity provider down")
	svc, _ := newTestService(repo, idp, ModeAuthoritative)

	_, err := svc.Provision(context.Background(), ProvisionInput{Email: "stuck@x.com", DisplayName: "S", Kind: KindEmployee})
	require.ErrorIs(t, err, shared.ErrAccountCreationFailed)
	require.Contains(t, err.Error(), "rollback identity account")
}

func TestProvisionDegradedModeIsExplicit(t *testing.T) {
	repo := newMemoryProfiles()
	svc, _ := newTestService(repo, nil, ModeAuthoritative)
	require.Equal(t, ModeDegraded, svc.Mode())

	res, err := svc.Provision(context.Background(), ProvisionInput{Email: "sim@x.com", DisplayName: "Sim", Kind: KindRH})
	require.NoError(t, err)
	require.True(t, res.Simulated)
	require.NotEmpty(t, res.AccountID)
	_, err = repo.Get(context.Background(), res.AccountID)
	require.NoError(t, err)

	_, err = svc.ResetPassword(context.Background(), res.AccountID)
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestProvisionDegradedModeNeverTouchesProvider(t *testing.T) {
	idp := newMemoryIdentity()
	idp.deleteErr = errors.New("identity backend must not be called")
	repo := newMemoryProfiles()
	svc, _ := newTestService(repo, idp, ModeDegraded)

	res, err := svc.Provision(context.Background(), ProvisionInput{Email: "sim@x.com", DisplayName: "Sim", Kind: KindEmployee})
	require.NoError(t, err)
	require.True(t, res.Simulated)
	require.Zero(t, idp.creates)

	require.NoError(t, svc.Deprovision(context.Background(), res.AccountID))
	require.Empty(t, repo.rows)
}

func TestUpdateProfileLeavesIdentityUntouched(t *testing.T) {
	repo, idp := newMemoryProfiles(), newMemoryIdentity()
	svc, _ := newTestService(repo, idp, ModeAuthoritative)
	res, err := svc.Provision(context.Background(), ProvisionInput{Email: "u@x.com", DisplayName: "Old", Kind: KindEmployee})
	require.NoError(t, err)

	name, active := "New", false
	p, err := svc.UpdateProfile(context.Background(), res.AccountID, ProfileUpdate{DisplayName: &name, Active: &active})
	require.NoError(t, err)
	require.Equal(t, "New", p.DisplayName)
	require.False(t, p.Active)
	require.Equal(t, "Old", idp.accounts[res.AccountID].Metadata.DisplayName)

	blank := "  "
	_, err = svc.UpdateProfile(context.Background(), res.AccountID, ProfileUpdate{DisplayName: &blank})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestDeprovisionRemovesBothHalves(t *testing.T) {
	repo, idp := newMemoryProfiles(), newMemoryIdentity()
	svc, _ := newTestService(repo, idp, ModeAuthoritative)
	res, err := svc.Provision(context.Background(), ProvisionInput{Email: "d@x.com", DisplayName: "D", Kind: KindRH})
	require.NoError(t, err)

	require.NoError(t, svc.Deprovision(context.Background(), res.AccountID))
	require.Empty(t, repo.rows)
	require.Empty(t, idp.accounts)

	require.ErrorIs(t, svc.Deprovision(context.Background(), res.AccountID), shared.ErrNotFound)
}

func TestDeprovisionToleratesMissingIdentity(t *testing.T) {
	repo, idp := newMemoryProfiles(), newMemoryIdentity()
	require.NoError(t, repo.Insert(context.Background(), Profile{ID: "half", Email: "half@x.com", Role: RoleUser}))
	svc, _ := newTestService(repo, idp, ModeAuthoritative)

	require.NoError(t, svc.Deprovision(context.Background(), "half"))
	require.Empty(t, repo.rows)
}

func TestDeprovisionInterruptedAfterIdentityCanBeRetried(t *testing.T) {
	repo, idp := newMemoryProfiles(), newMemoryIdentity()
	svc, _ := newTestService(repo, idp, ModeAuthoritative)
	res, err := svc.Provision(context.Background(), ProvisionInput{Email: "i@x.com", DisplayName: "I", Kind: KindEmployee})
	require.NoError(t, err)

	repo.deleteErr = errors.New("connection reset")
	err = svc.Deprovision(context.Background(), res.AccountID)
	require.Error(t, err)
	require.Empty(t, idp.accounts)
	require.Contains(t, repo.rows, res.AccountID)

	repo.deleteErr = nil
	require.NoError(t, svc.Deprovision(context.Background(), res.AccountID))
	require.Empty(t, repo.rows)
}

func TestResetPasswordIssuesFreshPassword(t *testing.T) {
	repo, idp := newMemoryProfiles(), newMemoryIdentity()
	svc, audit := newTestService(repo, idp, ModeAuthoritative)
	res, err := svc.Provision(context.Background(), ProvisionInput{Email: "r@x.com", DisplayName: "R", Kind: KindEmployee})
	require.NoError(t, err)

	pw, err := svc.ResetPassword(context.Background(), res.AccountID)
	require.NoError(t, err)
	require.Len(t, pw, 8)
	require.Equal(t, pw, idp.passwords[res.AccountID])
	require.Contains(t, audit.actions, "account.password_reset")
}

package accounts

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/advance-ops/backoffice/internal/platform/db"
	"github.com/advance-ops/backoffice/internal/shared"
)

// Repository provides PostgreSQL backed persistence for admin_users.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const profileColumns = `id, email, display_name, role, owner_org_id, active, created_at, updated_at`

func scanProfile(row pgx.Row) (*Profile, error) {
	var (
		p     Profile
		role  string
		owner *string
	)
	if err := row.Scan(&p.ID, &p.Email, &p.DisplayName, &role, &owner, &p.Active, &p.CreatedAt, &p.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	p.Role = Role(role)
	if owner != nil {
		p.OwnerOrgID = *owner
	}
	return &p, nil
}

// FindByEmail returns the profile using email, or shared.ErrNotFound.
func (r *Repository) FindByEmail(ctx context.Context, email string) (*Profile, error) {
	return scanProfile(r.pool.QueryRow(ctx, `SELECT `+profileColumns+` FROM admin_users WHERE lower(email) = lower($1)`, email))
}

// Get returns the profile with id, or shared.ErrNotFound.
func (r *Repository) Get(ctx context.Context, id string) (*Profile, error) {
	return scanProfile(r.pool.QueryRow(ctx, `SELECT `+profileColumns+` FROM admin_users WHERE id = $1`, id))
}

// Insert stores a new profile row. A unique violation on email surfaces as
// shared.ErrDuplicateEmail.
func (r *Repository) Insert(ctx context.Context, p Profile) error {
	var owner *string
	if p.OwnerOrgID != "" {
		owner = &p.OwnerOrgID
	}
	_, err := r.pool.Exec(ctx, `INSERT INTO admin_users (id, email, display_name, role, owner_org_id, active, created_at, updated_at)
		VALUES ($1, lower($2), $3, $4, $5, $6, NOW(), NOW())`, p.ID, p.Email, p.DisplayName, string(p.Role), owner, p.Active)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return fmt.Errorf("accounts: insert profile: %w", shared.ErrDuplicateEmail)
		}
		return fmt.Errorf("accounts: insert profile: %w", err)
	}
	return nil
}

// Update applies the non-nil fields of upd.
func (r *Repository) Update(ctx context.Context, id string, upd ProfileUpdate) (*Profile, error) {
	return scanProfile(r.pool.QueryRow(ctx, `UPDATE admin_users
		SET display_name = COALESCE($2, display_name), active = COALESCE($3, active), updated_at = NOW()
		WHERE id = $1 RETURNING `+profileColumns, id, upd.DisplayName, upd.Active))
}

// Delete removes the profile row.
func (r *Repository) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM admin_users WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("accounts: delete profile: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

var _ RepositoryPort = (*Repository)(nil)

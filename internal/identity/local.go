package identity

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"

	"github.com/advance-ops/backoffice/internal/shared"
)

// LocalProvider keeps identity accounts in the auth_accounts table with bcrypt
// password hashes. It runs as a separate store from admin_users; no foreign key
// links the two.
type LocalProvider struct {
	pool *pgxpool.Pool
}

// NewLocalProvider constructs a PostgreSQL backed provider.
func NewLocalProvider(pool *pgxpool.Pool) *LocalProvider {
	return &LocalProvider{pool: pool}
}

// CreateAccount hashes the password and inserts the account.
func (p *LocalProvider) CreateAccount(ctx context.Context, params CreateParams) (Account, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(params.Password), bcrypt.DefaultCost)
	if err != nil {
		return Account{}, fmt.Errorf("identity: hash password: %w", err)
	}
	meta, err := json.Marshal(params.Metadata)
	if err != nil {
		return Account{}, err
	}
	id := uuid.NewString()
	_, err = p.pool.Exec(ctx, `INSERT INTO auth_accounts (id, email, password_hash, metadata, created_at) VALUES ($1, lower($2), $3, $4, NOW())`, id, params.Email, string(hash), meta)
	if err != nil {
		return Account{}, fmt.Errorf("identity: create account: %w", err)
	}
	return Account{ID: id, Email: params.Email, Metadata: params.Metadata}, nil
}

// DeleteAccount removes the account.
func (p *LocalProvider) DeleteAccount(ctx context.Context, id string) error {
	tag, err := p.pool.Exec(ctx, `DELETE FROM auth_accounts WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("identity: delete account %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// ListAccounts returns every account.
func (p *LocalProvider) ListAccounts(ctx context.Context) ([]Account, error) {
	rows, err := p.pool.Query(ctx, `SELECT id, email, metadata FROM auth_accounts ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("identity: list accounts: %w", err)
	}
	defer rows.Close()
	var out []Account
	for rows.Next() {
		var (
			acc  Account
			meta []byte
		)
		if err := rows.Scan(&acc.ID, &acc.Email, &meta); err != nil {
			return nil, err
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &acc.Metadata); err != nil {
				return nil, err
			}
		}
		out = append(out, acc)
	}
	return out, rows.Err()
}

// UpdatePassword stores a new hash for the account.
func (p *LocalProvider) UpdatePassword(ctx context.Context, id, password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("identity: hash password: %w", err)
	}
	tag, err := p.pool.Exec(ctx, `UPDATE auth_accounts SET password_hash = $2 WHERE id = $1`, id, string(hash))
	if err != nil {
		return fmt.Errorf("identity: update password %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

var _ Provider = (*LocalProvider)(nil)

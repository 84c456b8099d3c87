package partners

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/advance-ops/backoffice/internal/shared"
)

// Repository provides PostgreSQL backed access to partners and employees.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetPartner returns the partner with id, or shared.ErrNotFound.
func (r *Repository) GetPartner(ctx context.Context, id string) (*Partner, error) {
	var (
		p            Partner
		email, phone *string
	)
	err := r.pool.QueryRow(ctx, `SELECT id, name, email, phone, active FROM partners WHERE id = $1`, id).
		Scan(&p.ID, &p.Name, &email, &phone, &p.Active)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("partner %s: %w", id, shared.ErrNotFound)
		}
		return nil, fmt.Errorf("partners: get partner: %w", err)
	}
	if email != nil {
		p.Email = *email
	}
	if phone != nil {
		p.Phone = *phone
	}
	return &p, nil
}

// ListEmployeesByIDs returns the employees of partnerID whose id is in ids.
// Ids belonging to another partner are silently absent from the result.
func (r *Repository) ListEmployeesByIDs(ctx context.Context, partnerID string, ids []string) ([]Employee, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, partner_id, first_name, last_name, COALESCE(email, ''), COALESCE(phone, ''), active
		FROM employees WHERE partner_id = $1 AND id = ANY($2) ORDER BY id`, partnerID, ids)
	if err != nil {
		return nil, fmt.Errorf("partners: list employees: %w", err)
	}
	defer rows.Close()
	var out []Employee
	for rows.Next() {
		var e Employee
		if err := rows.Scan(&e.ID, &e.PartnerID, &e.FirstName, &e.LastName, &e.Email, &e.Phone, &e.Active); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

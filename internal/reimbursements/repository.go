package reimbursements

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/advance-ops/backoffice/internal/platform/db"
	"github.com/advance-ops/backoffice/internal/shared"
)

// Repository provides PostgreSQL backed persistence for reimbursements.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const columns = `id, partner_id, employee_id, amount_requested, amount_to_reimburse, service_fee,
	currency, method, gateway_transaction_id, payment_reference, status, due_date, paid_at,
	reception_number, comment, metadata, created_at, updated_at`

func scan(row pgx.Row) (*Reimbursement, error) {
	var (
		r         Reimbursement
		employee  *string
		reference *string
		reception *string
		comment   *string
		method    string
		status    string
		rawMeta   []byte
	)
	err := row.Scan(&r.ID, &r.PartnerID, &employee, &r.AmountRequested, &r.AmountToReimburse, &r.ServiceFee,
		&r.Currency, &method, &r.GatewayTransactionID, &reference, &status, &r.DueDate, &r.PaidAt,
		&reception, &comment, &rawMeta, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	r.Method = Method(method)
	r.Status = Status(status)
	r.EmployeeID = deref(employee)
	r.PaymentReference = deref(reference)
	r.ReceptionNumber = deref(reception)
	r.Comment = deref(comment)
	if len(rawMeta) > 0 {
		if err := json.Unmarshal(rawMeta, &r.Metadata); err != nil {
			return nil, fmt.Errorf("reimbursements: decode metadata: %w", err)
		}
	}
	return &r, nil
}

func collect(rows pgx.Rows) ([]Reimbursement, error) {
	defer rows.Close()
	var out []Reimbursement
	for rows.Next() {
		r, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Insert stores a new row. A reused gateway transaction id surfaces as
// shared.ErrDuplicateTransaction.
func (r *Repository) Insert(ctx context.Context, row Reimbursement) error {
	meta, err := json.Marshal(row.Metadata)
	if err != nil {
		return fmt.Errorf("reimbursements: encode metadata: %w", err)
	}
	_, err = r.pool.Exec(ctx, `INSERT INTO reimbursements (
		id, partner_id, employee_id, amount_requested, amount_to_reimburse, service_fee,
		currency, method, gateway_transaction_id, payment_reference, status, due_date,
		comment, metadata, created_at, updated_at)
	VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$15)`,
		row.ID, row.PartnerID, nullable(row.EmployeeID), row.AmountRequested, row.AmountToReimburse, row.ServiceFee,
		row.Currency, string(row.Method), row.GatewayTransactionID, nullable(row.PaymentReference), string(row.Status), row.DueDate,
		nullable(row.Comment), meta, row.CreatedAt)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return fmt.Errorf("reimbursements: insert %s: %w", row.GatewayTransactionID, shared.ErrDuplicateTransaction)
		}
		return fmt.Errorf("reimbursements: insert: %w", err)
	}
	return nil
}

// Get returns the row with id, or shared.ErrNotFound.
func (r *Repository) Get(ctx context.Context, id string) (*Reimbursement, error) {
	return scan(r.pool.QueryRow(ctx, `SELECT `+columns+` FROM reimbursements WHERE id = $1`, id))
}

// GetByGatewayID returns the row for a gateway transaction, or shared.ErrNotFound.
func (r *Repository) GetByGatewayID(ctx context.Context, gatewayTransactionID string) (*Reimbursement, error) {
	return scan(r.pool.QueryRow(ctx, `SELECT `+columns+` FROM reimbursements WHERE gateway_transaction_id = $1`, gatewayTransactionID))
}

// ApplyStatus moves a PENDING row to status in a single conditional update, so
// two concurrent deliveries cannot both apply.
func (r *Repository) ApplyStatus(ctx context.Context, id string, status Status, upd StatusUpdate) (*Reimbursement, bool, error) {
	var method *string
	if upd.Method != nil {
		m := string(*upd.Method)
		method = &m
	}
	row, err := scan(r.pool.QueryRow(ctx, `UPDATE reimbursements SET
			status = $2,
			paid_at = COALESCE($3, paid_at),
			reception_number = COALESCE($4, reception_number),
			comment = COALESCE($5, comment),
			method = COALESCE($6, method),
			updated_at = NOW()
		WHERE id = $1 AND status = 'PENDING'
		RETURNING `+columns,
		id, string(status), upd.PaidAt, upd.ReceptionNumber, upd.Comment, method))
	if errors.Is(err, shared.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return row, true, nil
}

// UpdateComment changes the comment of a PENDING row.
func (r *Repository) UpdateComment(ctx context.Context, id, comment string) error {
	_, err := r.pool.Exec(ctx, `UPDATE reimbursements SET comment = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'PENDING'`, id, comment)
	return err
}

// ListByPartner returns the partner's rows, newest first.
func (r *Repository) ListByPartner(ctx context.Context, partnerID string, status *Status) ([]Reimbursement, error) {
	var filter *string
	if status != nil {
		s := string(*status)
		filter = &s
	}
	rows, err := r.pool.Query(ctx, `SELECT `+columns+` FROM reimbursements
		WHERE partner_id = $1 AND ($2::text IS NULL OR status = $2)
		ORDER BY created_at DESC`, partnerID, filter)
	if err != nil {
		return nil, err
	}
	return collect(rows)
}

// ListPendingDueBefore returns pending rows whose due date is before t.
func (r *Repository) ListPendingDueBefore(ctx context.Context, t time.Time) ([]Reimbursement, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+columns+` FROM reimbursements
		WHERE status = 'PENDING' AND due_date < $1
		ORDER BY due_date ASC`, t)
	if err != nil {
		return nil, err
	}
	return collect(rows)
}

var _ RepositoryPort = (*Repository)(nil)

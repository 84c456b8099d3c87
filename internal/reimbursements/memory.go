package reimbursements

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/advance-ops/backoffice/internal/shared"
)

// MemoryRepository is an in-process RepositoryPort with the same conditional
// update semantics as Repository. Tests of the ledger's consumers use it.
type MemoryRepository struct {
	mu   sync.Mutex
	rows map[string]Reimbursement
	// ApplyErr, when set, fails every ApplyStatus call.
	ApplyErr error
}

// NewMemoryRepository returns an empty store.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{rows: make(map[string]Reimbursement)}
}

func (m *MemoryRepository) Insert(ctx context.Context, r Reimbursement) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.rows {
		if existing.GatewayTransactionID == r.GatewayTransactionID {
			return fmt.Errorf("reimbursements: insert %s: %w", r.GatewayTransactionID, shared.ErrDuplicateTransaction)
		}
	}
	m.rows[r.ID] = r
	return nil
}

func (m *MemoryRepository) Get(ctx context.Context, id string) (*Reimbursement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return &r, nil
}

func (m *MemoryRepository) GetByGatewayID(ctx context.Context, gatewayTransactionID string) (*Reimbursement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rows {
		if r.GatewayTransactionID == gatewayTransactionID {
			return &r, nil
		}
	}
	return nil, shared.ErrNotFound
}

func (m *MemoryRepository) ApplyStatus(ctx context.Context, id string, status Status, upd StatusUpdate) (*Reimbursement, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ApplyErr != nil {
		return nil, false, m.ApplyErr
	}
	r, ok := m.rows[id]
	if !ok || r.Status != StatusPending {
		return nil, false, nil
	}
	r.Status = status
	if upd.PaidAt != nil {
		r.PaidAt = upd.PaidAt
	}
	if upd.ReceptionNumber != nil {
		r.ReceptionNumber = *upd.ReceptionNumber
	}
	if upd.Comment != nil {
		r.Comment = *upd.Comment
	}
	if upd.Method != nil {
		r.Method = *upd.Method
	}
	r.UpdatedAt = time.Now().UTC()
	m.rows[id] = r
	return &r, true, nil
}

func (m *MemoryRepository) UpdateComment(ctx context.Context, id, comment string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[id]
	if !ok || r.Status != StatusPending {
		return nil
	}
	r.Comment = comment
	m.rows[id] = r
	return nil
}

func (m *MemoryRepository) ListByPartner(ctx context.Context, partnerID string, status *Status) ([]Reimbursement, error) {
	return m.filter(func(r Reimbursement) bool {
		return r.PartnerID == partnerID && (status == nil || r.Status == *status)
	}), nil
}

func (m *MemoryRepository) ListPendingDueBefore(ctx context.Context, t time.Time) ([]Reimbursement, error) {
	return m.filter(func(r Reimbursement) bool {
		return r.Status == StatusPending && r.DueDate.Before(t)
	}), nil
}

// All returns every stored row ordered by creation time.
func (m *MemoryRepository) All() []Reimbursement {
	return m.filter(func(Reimbursement) bool { return true })
}

func (m *MemoryRepository) filter(keep func(Reimbursement) bool) []Reimbursement {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Reimbursement
	for _, r := range m.rows {
		if keep(r) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].GatewayTransactionID < out[j].GatewayTransactionID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

var _ RepositoryPort = (*MemoryRepository)(nil)

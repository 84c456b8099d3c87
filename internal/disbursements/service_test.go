package disbursements

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/advance-ops/backoffice/internal/gateway"
	"github.com/advance-ops/backoffice/internal/partners"
	"github.com/advance-ops/backoffice/internal/platform/httpx"
	"github.com/advance-ops/backoffice/internal/reimbursements"
	"github.com/advance-ops/backoffice/internal/shared"
)

var fixedNow = time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)

type directory struct {
	partners  map[string]partners.Partner
	employees []partners.Employee
}

func (d *directory) GetPartner(ctx context.Context, id string) (*partners.Partner, error) {
	p, ok := d.partners[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return &p, nil
}

func (d *directory) ListEmployeesByIDs(ctx context.Context, partnerID string, ids []string) ([]partners.Employee, error) {
	var out []partners.Employee
	for _, e := range d.employees {
		if e.PartnerID != partnerID {
			continue
		}
		for _, id := range ids {
			if e.ID == id {
				out = append(out, e)
			}
		}
	}
	return out, nil
}

type fakeGateway struct {
	mu       sync.Mutex
	requests []gateway.Request
	success  gateway.Success
	err      error
}

func (g *fakeGateway) Initiate(ctx context.Context, req gateway.Request) (gateway.Success, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.requests = append(g.requests, req)
	if g.err != nil {
		return gateway.Success{}, g.err
	}
	return g.success, nil
}

type fixture struct {
	service *Service
	gateway *fakeGateway
	repo    *reimbursements.MemoryRepository
}

func newFixture(t *testing.T, mutate func(*Config)) *fixture {
	t.Helper()
	dir := &directory{
		partners: map[string]partners.Partner{
			"acme":    {ID: "acme", Name: "Acme", Email: "finance@acme.test", Active: true},
			"dormant": {ID: "dormant", Name: "Dormant", Active: false},
		},
		employees: []partners.Employee{
			{ID: "e1", PartnerID: "acme", FirstName: "Awa", Active: true},
			{ID: "e2", PartnerID: "acme", FirstName: "Moussa", Active: true},
			{ID: "e3", PartnerID: "acme", FirstName: "Fanta", Active: true},
			{ID: "x1", PartnerID: "other", FirstName: "Outsider", Active: true},
		},
	}
	gw := &fakeGateway{success: gateway.Success{TransactionID: "abc123", PaymentURL: "https://pay.example/abc123"}}
	repo := reimbursements.NewMemoryRepository()
	ledger := reimbursements.NewService(reimbursements.ServiceConfig{Repo: repo, Now: func() time.Time { return fixedNow }})
	cfg := Config{
		Partners:        dir,
		Gateway:         gw,
		Ledger:          ledger,
		Limits:          Limits{Min: 1000, Max: 10000000, Step: 500},
		DefaultCurrency: "GNF",
		DueIn:           30 * 24 * time.Hour,
		PaymentURLTTL:   30 * time.Minute,
		CallbackURL:     "https://bo.example/api/v1/gateway/callback",
		ReturnURL:       func(ref string) string { return "https://bo.example/return/" + ref },
		Now:             func() time.Time { return fixedNow },
	}
	if mutate != nil {
		mutate(&cfg)
	}
	return &fixture{service: NewService(cfg), gateway: gw, repo: repo}
}

func TestDisburseHappyPath(t *testing.T) {
	f := newFixture(t, nil)

	res, err := f.service.Disburse(context.Background(), SingleRequest{PartnerID: "acme", Amount: 50000, Reference: "REF-1"})
	require.NoError(t, err)
	require.Equal(t, "abc123", res.Reimbursement.GatewayTransactionID)
	require.Equal(t, "https://pay.example/abc123", res.PaymentURL)
	require.Equal(t, reimbursements.StatusPending, res.Reimbursement.Status)
	require.EqualValues(t, 50000, res.Reimbursement.AmountRequested)
	require.Equal(t, "GNF", res.Reimbursement.Currency)
	require.Equal(t, fixedNow.Add(30*time.Minute), res.ExpiresAt)
	require.Equal(t, fixedNow.Add(30*24*time.Hour), res.Reimbursement.DueDate)

	require.Len(t, f.gateway.requests, 1)
	sent := f.gateway.requests[0]
	require.EqualValues(t, 50000, sent.Amount)
	require.Equal(t, "GNF", sent.Currency)
	require.Equal(t, "https://bo.example/return/REF-1", sent.ReturnURL)
	require.Len(t, f.repo.All(), 1)
}

func TestDisburseBulkConservesAmounts(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.FeeRate = decimal.RequireFromString("0.015") })

	res, err := f.service.DisburseBulk(context.Background(), BulkRequest{
		PartnerID: "acme",
		Currency:  "gnf",
		Employees: []EmployeeAmount{
			{EmployeeID: "e1", Amount: 100000, Description: "march advance"},
			{EmployeeID: "e2", Amount: 250000},
			{EmployeeID: "e3", Amount: 50500},
		},
	})
	require.NoError(t, err)

	row := res.Reimbursement
	require.EqualValues(t, 400500, row.AmountRequested)
	require.EqualValues(t, 6008, row.ServiceFee)
	require.Equal(t, row.AmountRequested-row.ServiceFee, row.AmountToReimburse)
	require.True(t, row.Metadata.IsBulk)
	require.Equal(t, 3, row.Metadata.EmployeeCount)

	var sum int64
	for _, share := range row.Metadata.EmployeeBreakdown {
		sum += share.Amount
	}
	require.Equal(t, row.AmountRequested, sum)
	require.Equal(t, "march advance", row.Metadata.EmployeeBreakdown[0].Description)

	require.Len(t, f.gateway.requests, 1)
	require.EqualValues(t, 400500, f.gateway.requests[0].Amount)
	require.Equal(t, "GNF", f.gateway.requests[0].Currency)
}

func TestDisburseBulkMembershipMismatch(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.service.DisburseBulk(context.Background(), BulkRequest{
		PartnerID: "acme",
		Employees: []EmployeeAmount{{EmployeeID: "e1", Amount: 5000}, {EmployeeID: "x1", Amount: 5000}},
	})
	require.ErrorIs(t, err, shared.ErrMembershipMismatch)
	require.Empty(t, f.gateway.requests)
	require.Empty(t, f.repo.All())
}

func TestDisburseBulkValidation(t *testing.T) {
	f := newFixture(t, nil)
	cases := map[string]BulkRequest{
		"no partner":  {Employees: []EmployeeAmount{{EmployeeID: "e1", Amount: 5000}}},
		"empty list":  {PartnerID: "acme", Employees: []EmployeeAmount{}},
		"zero amount": {PartnerID: "acme", Employees: []EmployeeAmount{{EmployeeID: "e1", Amount: 0}}},
		"negative":    {PartnerID: "acme", Employees: []EmployeeAmount{{EmployeeID: "e1", Amount: -5}}},
		"duplicate":   {PartnerID: "acme", Employees: []EmployeeAmount{{EmployeeID: "e1", Amount: 5000}, {EmployeeID: "e1", Amount: 5000}}},
		"below min":   {PartnerID: "acme", Employees: []EmployeeAmount{{EmployeeID: "e1", Amount: 500}}},
		"off step":    {PartnerID: "acme", Employees: []EmployeeAmount{{EmployeeID: "e1", Amount: 1200}}},
		"inactive":    {PartnerID: "dormant", Employees: []EmployeeAmount{{EmployeeID: "e1", Amount: 5000}}},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.service.DisburseBulk(context.Background(), req)
			require.ErrorIs(t, err, shared.ErrValidation)
		})
	}
	require.Empty(t, f.gateway.requests)
}

func TestDisburseBulkRejectsOverflowingTotal(t *testing.T) {
	req := BulkRequest{PartnerID: "acme", Employees: []EmployeeAmount{
		{EmployeeID: "e1", Amount: math.MaxInt64},
		{EmployeeID: "e2", Amount: math.MaxInt64},
		{EmployeeID: "e3", Amount: 10002},
	}}

	capped := newFixture(t, nil)
	_, err := capped.service.DisburseBulk(context.Background(), req)
	require.ErrorIs(t, err, shared.ErrValidation)
	require.Contains(t, err.Error(), "employees[0].amount")

	uncapped := newFixture(t, func(c *Config) { c.Limits = Limits{Min: 1000, Step: 2} })
	_, err = uncapped.service.DisburseBulk(context.Background(), req)
	require.ErrorIs(t, err, shared.ErrValidation)
	require.Contains(t, err.Error(), "total amount is too large")

	require.Empty(t, capped.gateway.requests)
	require.Empty(t, uncapped.gateway.requests)
	require.Empty(t, capped.repo.All())
	require.Empty(t, uncapped.repo.All())
}

func TestValidateBulkReturnsExactTotal(t *testing.T) {
	total, err := validateBulk(BulkRequest{PartnerID: "acme", Employees: []EmployeeAmount{
		{EmployeeID: "e1", Amount: math.MaxInt64 - 10},
		{EmployeeID: "e2", Amount: 10},
	}}, Limits{})
	require.NoError(t, err)
	require.EqualValues(t, int64(math.MaxInt64), total)

	_, err = validateBulk(BulkRequest{PartnerID: "acme", Employees: []EmployeeAmount{
		{EmployeeID: "e1", Amount: math.MaxInt64 - 10},
		{EmployeeID: "e2", Amount: 11},
	}}, Limits{})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestDisburseUnknownPartner(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.service.Disburse(context.Background(), SingleRequest{PartnerID: "ghost", Amount: 5000})
	require.ErrorIs(t, err, shared.ErrNotFound)
	require.Empty(t, f.gateway.requests)
}

func TestDisburseForeignEmployee(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.service.Disburse(context.Background(), SingleRequest{PartnerID: "acme", EmployeeID: "x1", Amount: 5000})
	require.ErrorIs(t, err, shared.ErrMembershipMismatch)
	require.Empty(t, f.gateway.requests)
}

func TestDisburseGatewayFailureRecordsNothing(t *testing.T) {
	f := newFixture(t, nil)
	f.gateway.err = &gateway.ProtocolError{Malformed: gateway.Malformed{StatusCode: 502, ContentType: "text/html", RawBody: "<html>"}}

	_, err := f.service.Disburse(context.Background(), SingleRequest{PartnerID: "acme", Amount: 50000})
	require.ErrorIs(t, err, shared.ErrGatewayProtocol)
	require.Empty(t, f.repo.All())
}

func TestDisburseReusedTransactionIsUnrecorded(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.service.Disburse(context.Background(), SingleRequest{PartnerID: "acme", Amount: 50000})
	require.NoError(t, err)

	_, err = f.service.Disburse(context.Background(), SingleRequest{PartnerID: "acme", Amount: 60000})
	var unrecorded *UnrecordedError
	require.ErrorAs(t, err, &unrecorded)
	require.Equal(t, "abc123", unrecorded.TransactionID)
	require.ErrorIs(t, err, shared.ErrGatewayProtocol)
	require.Len(t, f.repo.All(), 1)
}

func TestFeeRounding(t *testing.T) {
	s := NewService(Config{FeeRate: decimal.RequireFromString("0.025")})
	require.EqualValues(t, 1250, s.fee(50000))
	require.EqualValues(t, 3, s.fee(100))
	require.EqualValues(t, 0, NewService(Config{}).fee(50000))
}

type memoryKeys struct {
	mu   sync.Mutex
	keys map[string]bool
}

func (m *memoryKeys) CheckAndInsert(ctx context.Context, key, module string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.keys[key] {
		return shared.ErrIdempotencyConflict
	}
	m.keys[key] = true
	return nil
}

func (m *memoryKeys) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.keys, key)
	return nil
}

func newRouter(f *fixture, keys IdempotencyStore) http.Handler {
	r := chi.NewRouter()
	r.Use(httpx.RestrictOrigins([]string{"https://admin.example.com"}))
	r.Use(httpx.RequireAPIKey([]string{"secret-key"}))
	NewHandler(f.service, keys, nil).MountRoutes(r)
	return r
}

func post(h http.Handler, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/disbursements", strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestHandlerCreatesDisbursement(t *testing.T) {
	f := newFixture(t, nil)
	rr := post(newRouter(f, nil), `{"partnerId":"acme","amount":50000}`, map[string]string{"Authorization": "Bearer secret-key"})
	require.Equal(t, http.StatusCreated, rr.Code)

	var body struct {
		Success bool `json:"success"`
		Data    struct {
			ReimbursementID      string    `json:"reimbursementId"`
			GatewayTransactionID string    `json:"gatewayTransactionId"`
			PaymentURL           string    `json:"paymentUrl"`
			Amount               int64     `json:"amount"`
			Currency             string    `json:"currency"`
			ExpiresAt            time.Time `json:"expiresAt"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.True(t, body.Success)
	require.Equal(t, "abc123", body.Data.GatewayTransactionID)
	require.Equal(t, "https://pay.example/abc123", body.Data.PaymentURL)
	require.EqualValues(t, 50000, body.Data.Amount)
	require.Equal(t, "GNF", body.Data.Currency)
	require.NotEmpty(t, body.Data.ReimbursementID)
}

func TestHandlerAuthAndOrigin(t *testing.T) {
	f := newFixture(t, nil)
	h := newRouter(f, nil)
	body := `{"partnerId":"acme","amount":50000}`

	require.Equal(t, http.StatusUnauthorized, post(h, body, nil).Code)
	require.Equal(t, http.StatusForbidden, post(h, body, map[string]string{"Authorization": "Bearer wrong"}).Code)
	require.Equal(t, http.StatusForbidden, post(h, body, map[string]string{"Authorization": "Bearer secret-key", "Origin": "https://evil.test"}).Code)
	require.Equal(t, http.StatusCreated, post(h, body, map[string]string{"Authorization": "Bearer secret-key", "Origin": "https://admin.example.com"}).Code)
	require.Len(t, f.gateway.requests, 1)
}

func TestHandlerBulkMismatchIs403(t *testing.T) {
	f := newFixture(t, nil)
	rr := post(newRouter(f, nil), `{"partnerId":"acme","employees":[{"employeeId":"e1","amount":5000},{"employeeId":"x1","amount":5000}]}`,
		map[string]string{"Authorization": "Bearer secret-key"})
	require.Equal(t, http.StatusForbidden, rr.Code)
	require.NotContains(t, rr.Body.String(), "guidance")
	require.Empty(t, f.gateway.requests)
}

func TestHandlerGatewayErrorCarriesGuidance(t *testing.T) {
	f := newFixture(t, nil)
	f.gateway.err = &gateway.RejectedError{Rejected: gateway.Rejected{StatusCode: 400, Message: "Solde insuffisant"}}

	rr := post(newRouter(f, nil), `{"partnerId":"acme","amount":50000}`, map[string]string{"Authorization": "Bearer secret-key"})
	require.Equal(t, http.StatusBadRequest, rr.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Equal(t, false, body["success"])
	require.Contains(t, body["guidance"], "Insufficient balance")
}

func TestHandlerIdempotencyKey(t *testing.T) {
	f := newFixture(t, nil)
	keys := &memoryKeys{keys: map[string]bool{}}
	h := newRouter(f, keys)
	headers := map[string]string{"Authorization": "Bearer secret-key", "Idempotency-Key": "req-1"}

	f.gateway.err = errors.New("boom")
	require.Equal(t, http.StatusInternalServerError, post(h, `{"partnerId":"acme","amount":50000}`, headers).Code)
	require.Empty(t, keys.keys, "failed attempt must release the key")

	f.gateway.err = nil
	require.Equal(t, http.StatusCreated, post(h, `{"partnerId":"acme","amount":50000}`, headers).Code)
	require.Equal(t, http.StatusConflict, post(h, `{"partnerId":"acme","amount":50000}`, headers).Code)
	require.Len(t, f.gateway.requests, 2)
}

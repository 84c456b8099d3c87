package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/advance-ops/backoffice/internal/callbacks"
	"github.com/advance-ops/backoffice/internal/observability"
	"github.com/advance-ops/backoffice/internal/platform/cache"
	"github.com/advance-ops/backoffice/internal/reimbursements"
	"github.com/advance-ops/backoffice/jobs"
)

func testConfig() *Config {
	return &Config{
		AppEnv:             "test",
		APIKeys:            []string{"secret-key"},
		AllowedOrigins:     []string{"https://admin.example.com"},
		RateLimitPerMinute: 60,
	}
}

func newTestRouter(t *testing.T, checks ...HealthCheck) http.Handler {
	t.Helper()
	t.Setenv(TestModeEnv, "1")
	return buildRouter(testConfig(), checks...)
}

func buildRouter(cfg *Config, checks ...HealthCheck) http.Handler {
	ledger := reimbursements.NewService(reimbursements.ServiceConfig{Repo: reimbursements.NewMemoryRepository()})
	reconciler := callbacks.NewReconciler(callbacks.Config{Ledger: ledger})
	return NewRouter(RouterParams{
		Config:               cfg,
		Metrics:              observability.NewMetrics(),
		HealthChecks:         checks,
		ReimbursementHandler: reimbursements.NewHandler(ledger, nil),
		CallbackHandler:      callbacks.NewHandler(reconciler, nil),
		JobHandler:           jobs.NewHandler(nil, nil),
	})
}

func do(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestHealthzReportsBackingServices(t *testing.T) {
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	h := newTestRouter(t,
		HealthCheck{Name: "redis", Check: cache.Ping(client)},
		HealthCheck{Name: "postgres", Check: func(context.Context) error { return nil }},
	)

	rr := do(h, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.JSONEq(t, `{"status":"ok","checks":{"redis":"up","postgres":"up"}}`, rr.Body.String())

	srv.Close()
	rr = do(h, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
	require.JSONEq(t, `{"status":"degraded","checks":{"redis":"down","postgres":"up"}}`, rr.Body.String())
}

func TestHealthzWithoutChecks(t *testing.T) {
	rr := do(newTestRouter(t), httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.JSONEq(t, `{"status":"ok"}`, rr.Body.String())
}

func TestAPIRequiresBearerKey(t *testing.T) {
	h := newTestRouter(t)

	rr := do(h, httptest.NewRequest(http.MethodGet, "/api/v1/reimbursements/overdue", nil))
	require.Equal(t, http.StatusUnauthorized, rr.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/reimbursements/overdue", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	require.Equal(t, http.StatusForbidden, do(h, req).Code)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/reimbursements/overdue", nil)
	req.Header.Set("Authorization", "Bearer secret-key")
	rr = do(h, req)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))
}

func TestAPIRejectsForeignOrigin(t *testing.T) {
	h := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/reimbursements/overdue", nil)
	req.Header.Set("Authorization", "Bearer secret-key")
	req.Header.Set("Origin", "https://evil.example.com")
	require.Equal(t, http.StatusForbidden, do(h, req).Code)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/reimbursements/overdue", nil)
	req.Header.Set("Authorization", "Bearer secret-key")
	req.Header.Set("Origin", "https://admin.example.com")
	rr := do(h, req)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "https://admin.example.com", rr.Header().Get("Access-Control-Allow-Origin"))
}

func TestAPIRateLimitOutsideTestMode(t *testing.T) {
	t.Setenv(TestModeEnv, "")
	require.False(t, InTestMode())
	cfg := testConfig()
	cfg.RateLimitPerMinute = 2
	h := buildRouter(cfg)

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/reimbursements/overdue", nil)
		req.Header.Set("Authorization", "Bearer secret-key")
		codes = append(codes, do(h, req).Code)
	}
	require.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}

func TestGatewayCallbackSkipsAPIKey(t *testing.T) {
	h := newTestRouter(t)

	rr := do(h, httptest.NewRequest(http.MethodPost, "/api/v1/gateway/callback", strings.NewReader(`{"status":"SUCCESS"}`)))
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(h, httptest.NewRequest(http.MethodPost, "/api/v1/gateway/callback", strings.NewReader(`{"pay_id":"nope","status":"SUCCESS"}`)))
	require.Equal(t, http.StatusNotFound, rr.Code)
}

func TestJobsHealthBehindAPIKey(t *testing.T) {
	h := newTestRouter(t)
	require.Equal(t, http.StatusUnauthorized, do(h, httptest.NewRequest(http.MethodGet, "/api/v1/jobs/health", nil)).Code)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/health", nil)
	req.Header.Set("Authorization", "Bearer secret-key")
	rr := do(h, req)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), `"queue":"default"`)
}

func TestMetricsEndpointCountsRoutes(t *testing.T) {
	h := newTestRouter(t)
	_ = do(h, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	rr := do(h, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), `backoffice_http_requests_total{code="200",route="/healthz"} 1`)
}

func TestConfigValidate(t *testing.T) {
	base := func() Config {
		return Config{
			AppEnv:          "development",
			APIKeys:         []string{"k"},
			AmountMin:       1000,
			AmountMax:       5000,
			AmountStep:      500,
			IdentityMode:    IdentityModeDegraded,
			IdentityBackend: IdentityBackendPostgres,
		}
	}

	cfg := base()
	require.NoError(t, cfg.Validate())

	cases := map[string]func(c *Config){
		"no keys":              func(c *Config) { c.APIKeys = nil },
		"max below min":        func(c *Config) { c.AmountMax = 10 },
		"zero step":            func(c *Config) { c.AmountStep = 0 },
		"degraded in prod":     func(c *Config) { c.AppEnv = "production" },
		"unknown mode":         func(c *Config) { c.IdentityMode = "sometimes" },
		"unknown backend":      func(c *Config) { c.IdentityBackend = "ldap" },
		"gotrue without creds": func(c *Config) { c.IdentityMode = IdentityModeAuthoritative; c.IdentityBackend = IdentityBackendGoTrue },
		"fee rate not decimal": func(c *Config) { c.ServiceFeeRate = "1.5%" },
		"fee rate too high":    func(c *Config) { c.ServiceFeeRate = "1" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := base()
			mutate(&cfg)
			require.Error(t, cfg.Validate())
		})
	}
}

func TestFeeRate(t *testing.T) {
	cfg := Config{ServiceFeeRate: " 0.015 "}
	rate, err := cfg.FeeRate()
	require.NoError(t, err)
	require.Equal(t, "0.015", rate.String())

	cfg.ServiceFeeRate = ""
	rate, err = cfg.FeeRate()
	require.NoError(t, err)
	require.True(t, rate.IsZero())
}

func TestReturnURLFor(t *testing.T) {
	cfg := Config{GatewayReturnURL: "https://app.example.com/r/{reference}"}
	require.Equal(t, "https://app.example.com/r/ADV-1", cfg.ReturnURLFor("ADV-1"))
}

func TestLoggerLevel(t *testing.T) {
	var sb strings.Builder
	logger := newLogger(&Config{LogFormat: "json", LogLevel: "warn", AppEnv: "test"}, &sb)
	logger.Info("hidden")
	logger.Warn("shown")
	require.NotContains(t, sb.String(), "hidden")
	require.Contains(t, sb.String(), `"env":"test"`)
}

package app

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/advance-ops/backoffice/internal/audit"
	"github.com/advance-ops/backoffice/internal/callbacks"
	"github.com/advance-ops/backoffice/internal/disbursements"
	"github.com/advance-ops/backoffice/internal/observability"
	"github.com/advance-ops/backoffice/internal/platform/httpx"
	"github.com/advance-ops/backoffice/internal/reimbursements"
	"github.com/advance-ops/backoffice/jobs"
)

// HealthCheck probes one backing service for /healthz.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger               *slog.Logger
	Config               *Config
	Metrics              *observability.Metrics
	HealthChecks         []HealthCheck
	DisbursementHandler  *disbursements.Handler
	ReimbursementHandler *reimbursements.Handler
	CallbackHandler      *callbacks.Handler
	AuditHandler         *audit.Handler
	JobHandler           *jobs.Handler
}

// NewRouter constructs the chi.Router for the back-office API.
func NewRouter(params RouterParams) http.Handler {
	if params.Logger == nil {
		params.Logger = slog.Default()
	}
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Get("/healthz", healthHandler(params.HealthChecks, params.Logger))
	if params.Metrics != nil {
		r.Handle("/metrics", params.Metrics.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		// The gateway authenticates at the network edge, not with our API keys.
		if params.CallbackHandler != nil {
			r.Route("/gateway", params.CallbackHandler.MountRoutes)
		}

		r.Group(func(r chi.Router) {
			for _, mw := range APIStack(params.Config) {
				r.Use(mw)
			}
			if params.DisbursementHandler != nil {
				params.DisbursementHandler.MountRoutes(r)
			}
			if params.ReimbursementHandler != nil {
				params.ReimbursementHandler.MountRoutes(r)
			}
			if params.AuditHandler != nil {
				params.AuditHandler.MountRoutes(r)
			}
			if params.JobHandler != nil {
				r.Route("/jobs", params.JobHandler.MountRoutes)
			}
		})
	})

	return r
}

type healthReport struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func healthHandler(checks []HealthCheck, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		report := healthReport{Status: "ok"}
		if len(checks) > 0 {
			report.Checks = make(map[string]string, len(checks))
		}
		for _, c := range checks {
			if err := c.Check(ctx); err != nil {
				logger.Warn("health check failed", slog.String("check", c.Name), slog.Any("error", err))
				report.Status = "degraded"
				report.Checks[c.Name] = "down"
				continue
			}
			report.Checks[c.Name] = "up"
		}
		status := http.StatusOK
		if report.Status != "ok" {
			status = http.StatusServiceUnavailable
		}
		httpx.JSON(w, status, report)
	}
}

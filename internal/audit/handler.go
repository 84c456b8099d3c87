package audit

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/advance-ops/backoffice/internal/platform/httpx"
	"github.com/advance-ops/backoffice/internal/shared"
)

const (
	dateLayout       = "2006-01-02"
	defaultDateRange = 7 * 24 * time.Hour
	maxDateRange     = 90 * 24 * time.Hour
)

// TimelineService is the read contract behind the audit endpoints.
type TimelineService interface {
	Timeline(ctx context.Context, filters TimelineFilters) (Result, error)
}

// Handler serves the audit timeline.
type Handler struct {
	logger  *slog.Logger
	service TimelineService
	now     func() time.Time
}

// NewHandler builds an audit handler.
func NewHandler(logger *slog.Logger, service TimelineService) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, now: time.Now}
}

// MountRoutes registers the timeline.
func (h *Handler) MountRoutes(r chi.Router) {
	if h == nil {
		return
	}
	r.Get("/audit", h.handleTimeline)
}

func (h *Handler) handleTimeline(w http.ResponseWriter, r *http.Request) {
	filters, err := h.parseFilters(r)
	if err != nil {
		httpx.RespondError(w, err, nil)
		return
	}
	res, err := h.service.Timeline(r.Context(), filters)
	if err != nil {
		h.logger.Error("audit timeline", slog.Any("error", err))
		httpx.RespondError(w, err, nil)
		return
	}
	httpx.OK(w, http.StatusOK, res)
}

// parseFilters reads the query string. Without an entity id and without dates
// the window defaults to the last seven days; dates are whole UTC days.
func (h *Handler) parseFilters(r *http.Request) (TimelineFilters, error) {
	q := r.URL.Query()
	filters := TimelineFilters{
		Actor:    q.Get("actor"),
		Entity:   q.Get("entity"),
		EntityID: q.Get("entityId"),
		Action:   q.Get("action"),
	}

	fromStr := strings.TrimSpace(q.Get("from"))
	toStr := strings.TrimSpace(q.Get("to"))
	if fromStr != "" || toStr != "" || strings.TrimSpace(filters.EntityID) == "" {
		now := h.now().UTC()
		if toStr == "" {
			toStr = now.Format(dateLayout)
		}
		to, err := time.Parse(dateLayout, toStr)
		if err != nil {
			return TimelineFilters{}, shared.Invalid("to", "expected YYYY-MM-DD")
		}
		if fromStr == "" {
			fromStr = to.Add(-defaultDateRange).Format(dateLayout)
		}
		from, err := time.Parse(dateLayout, fromStr)
		if err != nil {
			return TimelineFilters{}, shared.Invalid("from", "expected YYYY-MM-DD")
		}
		if from.After(to) || to.Sub(from) > maxDateRange {
			return TimelineFilters{}, shared.Invalid("range", "from must precede to by at most 90 days")
		}
		filters.From = from
		filters.To = to.Add(24 * time.Hour)
	}

	if v := strings.TrimSpace(q.Get("page")); v != "" {
		page, err := strconv.Atoi(v)
		if err != nil || page <= 0 {
			return TimelineFilters{}, shared.Invalid("page", "must be a positive integer")
		}
		filters.Page = page
	}
	if v := strings.TrimSpace(q.Get("pageSize")); v != "" {
		size, err := strconv.Atoi(v)
		if err != nil || size <= 0 {
			return TimelineFilters{}, shared.Invalid("pageSize", "must be a positive integer")
		}
		filters.PageSize = size
	}
	return filters, nil
}

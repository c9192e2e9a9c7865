package handlers

import (
	"net/http"

	"github.com/pratik-mahalle/wsaudit/internal/domain/alert"
	"github.com/pratik-mahalle/wsaudit/internal/pkg/errors"
	"github.com/pratik-mahalle/wsaudit/internal/pkg/logger"
	"github.com/pratik-mahalle/wsaudit/internal/pkg/utils"
)

// AlertHandler serves alert history
type AlertHandler struct {
	alerts alert.Repository
	logger *logger.Logger
}

func NewAlertHandler(alerts alert.Repository, log *logger.Logger) *AlertHandler {
	return &AlertHandler{alerts: alerts, logger: log}
}

// List returns stored alerts with pagination and filtering by severity,
// category or run.
func (h *AlertHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	if runID := q.Get("run_id"); runID != "" {
		records, err := h.alerts.ListByRun(r.Context(), runID)
		if err != nil {
			utils.WriteAnyError(w, err)
			return
		}
		utils.WriteSuccess(w, http.StatusOK, records)
		return
	}

	var filter alert.Filter
	if s := q.Get("severity"); s != "" {
		sev, err := alert.ParseSeverity(s)
		if err != nil {
			utils.WriteError(w, errors.BadRequest(err.Error()))
			return
		}
		filter.Severity = sev
	}
	filter.Category = alert.Category(q.Get("category"))

	p := utils.ParsePaginationParams(r)
	records, total, err := h.alerts.ListWithPagination(r.Context(), filter, p.PageSize, p.Offset)
	if err != nil {
		h.logger.ErrorWithErr(err, "Failed to list alerts")
		utils.WriteAnyError(w, err)
		return
	}

	utils.WriteSuccess(w, http.StatusOK, utils.NewPaginatedResponse(records, p.Page, p.PageSize, total))
}

// Summary returns stored alert counts per severity
func (h *AlertHandler) Summary(w http.ResponseWriter, r *http.Request) {
	counts, err := h.alerts.CountBySeverity(r.Context())
	if err != nil {
		utils.WriteAnyError(w, err)
		return
	}

	total := 0
	for _, n := range counts {
		total += n
	}

	utils.WriteSuccess(w, http.StatusOK, map[string]interface{}{
		"total":       total,
		"by_severity": counts,
	})
}

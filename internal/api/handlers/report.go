package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pratik-mahalle/wsaudit/internal/domain/report"
	"github.com/pratik-mahalle/wsaudit/internal/pkg/logger"
	"github.com/pratik-mahalle/wsaudit/internal/pkg/utils"
)

// ReportHandler serves stored run reports
type ReportHandler struct {
	reports report.Repository
	logger  *logger.Logger
}

func NewReportHandler(reports report.Repository, log *logger.Logger) *ReportHandler {
	return &ReportHandler{reports: reports, logger: log}
}

// List returns report headers, newest first
func (h *ReportHandler) List(w http.ResponseWriter, r *http.Request) {
	p := utils.ParsePaginationParams(r)

	headers, total, err := h.reports.ListWithPagination(r.Context(), p.PageSize, p.Offset)
	if err != nil {
		h.logger.ErrorWithErr(err, "Failed to list run reports")
		utils.WriteAnyError(w, err)
		return
	}

	utils.WriteSuccess(w, http.StatusOK, utils.NewPaginatedResponse(headers, p.Page, p.PageSize, total))
}

// Get returns one full report
func (h *ReportHandler) Get(w http.ResponseWriter, r *http.Request) {
	rep, err := h.reports.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		utils.WriteAnyError(w, err)
		return
	}

	utils.WriteSuccess(w, http.StatusOK, rep)
}

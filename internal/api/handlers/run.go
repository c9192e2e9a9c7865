package handlers

import (
	"context"
	"io"
	"net/http"

	"github.com/pratik-mahalle/wsaudit/internal/domain/alert"
	"github.com/pratik-mahalle/wsaudit/internal/domain/report"
	"github.com/pratik-mahalle/wsaudit/internal/domain/snapshot"
	"github.com/pratik-mahalle/wsaudit/internal/pkg/errors"
	"github.com/pratik-mahalle/wsaudit/internal/pkg/logger"
	"github.com/pratik-mahalle/wsaudit/internal/pkg/utils"
)

// maxSnapshotBody caps uploaded snapshot documents.
const maxSnapshotBody = 32 << 20

// Runner executes pipeline passes.
type Runner interface {
	RunTriggered(ctx context.Context, trigger string, current *snapshot.Snapshot) (*report.RunReport, error)
	Rules() *alert.RuleSet
}

// RunHandler triggers audits on demand
type RunHandler struct {
	runner    Runner
	collector snapshot.Collector
	logger    *logger.Logger
}

// NewRunHandler creates a run handler. collector supplies the snapshot when
// the request has no body and may be nil.
func NewRunHandler(runner Runner, collector snapshot.Collector, log *logger.Logger) *RunHandler {
	return &RunHandler{runner: runner, collector: collector, logger: log}
}

// Trigger audits the snapshot in the request body, or the newest collected
// snapshot when the body is empty.
func (h *RunHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxSnapshotBody+1))
	if err != nil {
		utils.WriteError(w, errors.BadRequest("Failed to read request body"))
		return
	}
	if len(body) > maxSnapshotBody {
		utils.WriteError(w, errors.BadRequest("Snapshot document too large"))
		return
	}

	var current *snapshot.Snapshot
	switch {
	case len(body) > 0:
		current, err = snapshot.Decode(body)
	case h.collector != nil:
		current, err = h.collector.Collect(r.Context())
	default:
		err = errors.BadRequest("Request body must contain a snapshot")
	}
	if err != nil {
		utils.WriteAnyError(w, err)
		return
	}

	rep, err := h.runner.RunTriggered(r.Context(), report.TriggerAPI, current)
	if err != nil {
		h.logger.ErrorWithErr(err, "Triggered audit failed")
		utils.WriteAnyError(w, err)
		return
	}

	utils.WriteSuccess(w, http.StatusCreated, rep)
}

// Rules returns the active rule set
func (h *RunHandler) Rules(w http.ResponseWriter, r *http.Request) {
	utils.WriteSuccess(w, http.StatusOK, h.runner.Rules().Rules())
}

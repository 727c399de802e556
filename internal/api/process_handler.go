package api

import (
	"log/slog"
	"net/http"

	"github.com/verbatimhq/verbatim-api/internal/api/shared"
	"github.com/verbatimhq/verbatim-api/internal/platform/logger"
	"github.com/verbatimhq/verbatim-api/internal/processing"
)

// ProcessHandler exposes the batch processing trigger.
type ProcessHandler struct {
	orchestrator *processing.Orchestrator
	logger       *slog.Logger
}

// NewProcessHandler creates a new ProcessHandler.
func NewProcessHandler(orchestrator *processing.Orchestrator, logger *slog.Logger) *ProcessHandler {
	if logger == nil {
		// ALLOW-PANIC: Constructor enforcing required dependency
		panic("logger cannot be nil for ProcessHandler")
	}
	if orchestrator == nil {
		// ALLOW-PANIC: Constructor enforcing required dependency
		panic("orchestrator cannot be nil for ProcessHandler")
	}

	return &ProcessHandler{
		orchestrator: orchestrator,
		logger:       logger.With(slog.String("component", "process_handler")),
	}
}

// RunBatch handles POST /api/process/run. It runs one orchestration pass
// synchronously and returns the batch summary. The call is idempotent:
// concurrent invocations coordinate through durable locks, so notes are
// never processed twice.
func (h *ProcessHandler) RunBatch(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	log.Info("batch processing triggered via API")

	summary, err := h.orchestrator.ProcessBatch(r.Context())
	if err != nil {
		shared.RespondWithErrorAndLog(w, r,
			MapErrorToStatusCode(err),
			"Failed to run processing batch",
			err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, summary)
}

package httpapi

import (
	"net/http"

	"github.com/cockroachdb/errors"

	"github.com/riskibarqy/arena-matchmaking/internal/usecase"
)

// RunCleanupJob is the job-queue callback for the abandonment sweep.
func (h *Handler) RunCleanupJob(w http.ResponseWriter, r *http.Request) {
	ctx, span := startSpan(r.Context(), "httpapi.Handler.RunCleanupJob")
	defer span.End()

	var req internalCleanupRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(ctx, w, err)
		return
	}

	threshold := usecase.DefaultAbandonThresholdMinutes
	if req.ThresholdMinutes != nil {
		threshold = *req.ThresholdMinutes
	}

	result, err := h.matchService.CleanupAbandoned(ctx, usecase.CleanupAbandonedInput{ThresholdMinutes: threshold})
	h.markJobCompleted(r, req.DispatchID, usecase.JobPathCleanupAbandoned, err)
	if err != nil {
		h.logger.WarnContext(ctx, "run cleanup job failed",
			"dispatch_id", req.DispatchID,
			"threshold_minutes", threshold,
			"error", err,
		)
		writeError(ctx, w, err)
		return
	}

	writeSuccess(ctx, w, http.StatusOK, cleanupDTO{
		Count:                result.Count,
		QueueEntriesReleased: result.QueueEntriesReleased,
		QueueEntriesExpired:  result.QueueEntriesExpired,
	})
}

func (h *Handler) RunFormMatchesJob(w http.ResponseWriter, r *http.Request) {
	ctx, span := startSpan(r.Context(), "httpapi.Handler.RunFormMatchesJob")
	defer span.End()

	if h.formationService == nil {
		writeError(ctx, w, errors.Wrap(usecase.ErrDependencyUnavailable, "match formation is not configured"))
		return
	}

	var req internalJobRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(ctx, w, err)
		return
	}

	result, err := h.formationService.FormMatches(ctx)
	h.markJobCompleted(r, req.DispatchID, usecase.JobPathFormMatches, err)
	if err != nil {
		h.logger.WarnContext(ctx, "run form matches job failed", "dispatch_id", req.DispatchID, "error", err)
		writeError(ctx, w, err)
		return
	}

	matchIDs := result.MatchIDs
	if matchIDs == nil {
		matchIDs = []string{}
	}
	writeSuccess(ctx, w, http.StatusOK, formMatchesDTO{
		MatchesFormed:  result.MatchesFormed,
		PlayersMatched: result.PlayersMatched,
		MatchIDs:       matchIDs,
	})
}

func (h *Handler) markJobCompleted(r *http.Request, dispatchID, path string, jobErr error) {
	if h.jobOrchestrator == nil {
		return
	}
	h.jobOrchestrator.MarkCompleted(r.Context(), dispatchID, path, jobErr)
}

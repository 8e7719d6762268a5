package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/riskibarqy/arena-matchmaking/internal/domain/match"
	"github.com/riskibarqy/arena-matchmaking/internal/usecase"
)

func (h *Handler) GetMatch(w http.ResponseWriter, r *http.Request) {
	ctx, span := startSpan(r.Context(), "httpapi.Handler.GetMatch")
	defer span.End()

	if _, err := callerFromContext(ctx); err != nil {
		writeError(ctx, w, err)
		return
	}

	item, err := h.matchService.GetMatch(ctx, r.PathValue("matchID"))
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	writeSuccess(ctx, w, http.StatusOK, matchToDTO(item))
}

func (h *Handler) SubmitReady(w http.ResponseWriter, r *http.Request) {
	ctx, span := startSpan(r.Context(), "httpapi.Handler.SubmitReady")
	defer span.End()

	principal, err := callerFromContext(ctx)
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	var req submitReadyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(ctx, w, err)
		return
	}
	if err := h.validateRequest(ctx, req); err != nil {
		writeError(ctx, w, err)
		return
	}
	if req.UserID != "" && req.UserID != principal.UserID {
		writeError(ctx, w, errors.Wrap(usecase.ErrForbidden, "cannot submit readiness for another user"))
		return
	}

	matchID := r.PathValue("matchID")
	result, err := h.matchService.SubmitReady(ctx, usecase.SubmitReadyInput{
		MatchID: matchID,
		UserID:  principal.UserID,
		IsReady: *req.IsReady,
	})
	if err != nil {
		h.logger.WarnContext(ctx, "submit ready failed", "match_id", matchID, "user_id", principal.UserID, "error", err)
		writeError(ctx, w, err)
		return
	}

	writeSuccess(ctx, w, http.StatusOK, submitReadyDTO{
		AllPlayersReady: result.AllPlayersReady,
		Match:           matchToDTO(result.Match),
	})
}

// StartMatch lets a participant start their match. Admins may start any match.
func (h *Handler) StartMatch(w http.ResponseWriter, r *http.Request) {
	ctx, span := startSpan(r.Context(), "httpapi.Handler.StartMatch")
	defer span.End()

	principal, err := callerFromContext(ctx)
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	var req startMatchRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(ctx, w, err)
		return
	}
	if err := h.validateRequest(ctx, req); err != nil {
		writeError(ctx, w, err)
		return
	}
	if req.UserID != "" && req.UserID != principal.UserID {
		writeError(ctx, w, errors.Wrap(usecase.ErrForbidden, "cannot start a match on behalf of another user"))
		return
	}

	triggeredBy := principal.UserID
	if principal.IsAdmin() {
		triggeredBy = ""
	}

	matchID := r.PathValue("matchID")
	result, err := h.matchService.StartMatch(ctx, usecase.StartMatchInput{
		MatchID:     matchID,
		TriggeredBy: triggeredBy,
	})
	if err != nil {
		h.logger.WarnContext(ctx, "start match failed", "match_id", matchID, "user_id", principal.UserID, "error", err)
		writeError(ctx, w, err)
		return
	}

	writeSuccess(ctx, w, http.StatusOK, startMatchDTO{
		PlayersJoined:           result.PlayersJoined,
		PlayersRemovedFromQueue: result.PlayersRemovedFromQueue,
	})
}

func (h *Handler) FinishMatch(w http.ResponseWriter, r *http.Request) {
	h.terminateMatch(w, r, "httpapi.Handler.FinishMatch", h.matchService.FinishMatch)
}

func (h *Handler) CancelMatch(w http.ResponseWriter, r *http.Request) {
	h.terminateMatch(w, r, "httpapi.Handler.CancelMatch", h.matchService.CancelMatch)
}

func (h *Handler) terminateMatch(
	w http.ResponseWriter,
	r *http.Request,
	spanName string,
	terminate func(ctx context.Context, matchID string) (match.Match, error),
) {
	ctx, span := startSpan(r.Context(), spanName)
	defer span.End()

	matchID := r.PathValue("matchID")
	item, err := terminate(ctx, matchID)
	if err != nil {
		h.logger.WarnContext(ctx, "terminate match failed", "match_id", matchID, "op", spanName, "error", err)
		writeError(ctx, w, err)
		return
	}

	writeSuccess(ctx, w, http.StatusOK, matchToDTO(item))
}

// CleanupAbandoned is the admin-facing sweep. The threshold defaults to ten minutes.
func (h *Handler) CleanupAbandoned(w http.ResponseWriter, r *http.Request) {
	ctx, span := startSpan(r.Context(), "httpapi.Handler.CleanupAbandoned")
	defer span.End()

	threshold := usecase.DefaultAbandonThresholdMinutes
	if raw := strings.TrimSpace(r.URL.Query().Get("thresholdMinutes")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeError(ctx, w, errors.Wrapf(usecase.ErrInvalidInput, "thresholdMinutes must be an integer: %q", raw))
			return
		}
		threshold = parsed
	}

	result, err := h.matchService.CleanupAbandoned(ctx, usecase.CleanupAbandonedInput{ThresholdMinutes: threshold})
	if err != nil {
		h.logger.WarnContext(ctx, "cleanup abandoned matches failed", "threshold_minutes", threshold, "error", err)
		writeError(ctx, w, err)
		return
	}

	writeSuccess(ctx, w, http.StatusOK, cleanupDTO{
		Count:                result.Count,
		QueueEntriesReleased: result.QueueEntriesReleased,
		QueueEntriesExpired:  result.QueueEntriesExpired,
	})
}

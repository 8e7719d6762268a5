package httpapi

import (
	"net/http"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/riskibarqy/arena-matchmaking/internal/domain/queue"
	"github.com/riskibarqy/arena-matchmaking/internal/usecase"
)

func (h *Handler) JoinQueue(w http.ResponseWriter, r *http.Request) {
	ctx, span := startSpan(r.Context(), "httpapi.Handler.JoinQueue")
	defer span.End()

	principal, err := callerFromContext(ctx)
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	var req joinQueueRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(ctx, w, err)
		return
	}
	if err := h.validateRequest(ctx, req); err != nil {
		writeError(ctx, w, err)
		return
	}

	var party queue.PartyInfo
	if req.PartyInfo != nil {
		party = queue.PartyInfo{
			LobbyID:      req.PartyInfo.LobbyID,
			GroupMembers: req.PartyInfo.GroupMembers,
		}
	}

	result, err := h.matchmakingService.JoinQueue(ctx, usecase.JoinQueueInput{
		UserID: principal.UserID,
		Party:  party,
	})
	if err != nil {
		h.logger.WarnContext(ctx, "join queue failed", "user_id", principal.UserID, "error", err)
		writeError(ctx, w, err)
		return
	}

	writeSuccess(ctx, w, http.StatusOK, joinQueueDTO{WaitingID: result.WaitingID})
}

func (h *Handler) CancelQueue(w http.ResponseWriter, r *http.Request) {
	ctx, span := startSpan(r.Context(), "httpapi.Handler.CancelQueue")
	defer span.End()

	principal, err := callerFromContext(ctx)
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	var req cancelQueueRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(ctx, w, err)
		return
	}
	if err := h.validateRequest(ctx, req); err != nil {
		writeError(ctx, w, err)
		return
	}

	removed, err := h.matchmakingService.CancelQueue(ctx, usecase.CancelQueueInput{
		UserID:    principal.UserID,
		WaitingID: req.WaitingID,
	})
	if err != nil {
		h.logger.WarnContext(ctx, "cancel queue failed", "user_id", principal.UserID, "error", err)
		writeError(ctx, w, err)
		return
	}
	if !removed {
		writeError(ctx, w, errors.Wrapf(usecase.ErrNotQueued, "user=%s", principal.UserID))
		return
	}

	writeSuccess(ctx, w, http.StatusOK, okDTO{OK: true})
}

func (h *Handler) PollStatus(w http.ResponseWriter, r *http.Request) {
	ctx, span := startSpan(r.Context(), "httpapi.Handler.PollStatus")
	defer span.End()

	principal, err := callerFromContext(ctx)
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	query := r.URL.Query()
	userID := strings.TrimSpace(query.Get("userId"))
	waitingID := strings.TrimSpace(query.Get("waitingId"))
	if userID == "" || waitingID == "" {
		writeError(ctx, w, errors.Wrap(usecase.ErrInvalidInput, "userId and waitingId query parameters are required"))
		return
	}
	if userID != principal.UserID {
		writeError(ctx, w, errors.Wrap(usecase.ErrForbidden, "cannot poll another user's queue status"))
		return
	}

	result, err := h.matchmakingService.PollStatus(ctx, usecase.PollStatusInput{
		UserID:    userID,
		WaitingID: waitingID,
	})
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	if result.MatchFound && result.Match != nil {
		dto := matchToDTO(*result.Match)
		writeSuccess(ctx, w, http.StatusOK, pollStatusDTO{MatchFound: true, Match: &dto})
		return
	}
	waiting := result.WaitingSeconds
	writeSuccess(ctx, w, http.StatusOK, pollStatusDTO{MatchFound: false, WaitingTime: &waiting})
}

package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/riskibarqy/arena-matchmaking/internal/domain/notification"
	"github.com/riskibarqy/arena-matchmaking/internal/usecase"
)

func (h *Handler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	ctx, span := startSpan(r.Context(), "httpapi.Handler.ListNotifications")
	defer span.End()

	principal, err := callerFromContext(ctx)
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	query := r.URL.Query()
	filter := notification.ListFilter{}
	if raw := strings.TrimSpace(query.Get("unread")); raw != "" {
		unread, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(ctx, w, errors.Wrapf(usecase.ErrInvalidInput, "unread must be a boolean: %q", raw))
			return
		}
		filter.UnreadOnly = unread
	}
	if raw := strings.TrimSpace(query.Get("limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			writeError(ctx, w, errors.Wrapf(usecase.ErrInvalidInput, "limit must be a non-negative integer: %q", raw))
			return
		}
		filter.Limit = limit
	}

	items, err := h.notificationService.List(ctx, principal.UserID, filter)
	if err != nil {
		h.logger.WarnContext(ctx, "list notifications failed", "user_id", principal.UserID, "error", err)
		writeError(ctx, w, err)
		return
	}

	out := make([]notificationDTO, 0, len(items))
	for _, item := range items {
		out = append(out, notificationToDTO(item))
	}
	writeSuccess(ctx, w, http.StatusOK, out)
}

func (h *Handler) MarkNotificationRead(w http.ResponseWriter, r *http.Request) {
	ctx, span := startSpan(r.Context(), "httpapi.Handler.MarkNotificationRead")
	defer span.End()

	principal, err := callerFromContext(ctx)
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	notificationID := strings.TrimSpace(r.PathValue("notificationID"))
	if err := h.notificationService.MarkRead(ctx, principal.UserID, notificationID); err != nil {
		writeError(ctx, w, err)
		return
	}

	writeSuccess(ctx, w, http.StatusOK, okDTO{OK: true})
}

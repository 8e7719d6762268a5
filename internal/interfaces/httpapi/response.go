package httpapi

import (
	"context"
	"net/http"

	sonic "github.com/bytedance/sonic"
	"github.com/cockroachdb/errors"

	"github.com/riskibarqy/arena-matchmaking/internal/domain/match"
	"github.com/riskibarqy/arena-matchmaking/internal/domain/notification"
	"github.com/riskibarqy/arena-matchmaking/internal/domain/queue"
	"github.com/riskibarqy/arena-matchmaking/internal/usecase"
)

const (
	googleAPIVersion = "2.0"
	errorDomain      = "arena-matchmaking"
)

type googleResponseEnvelope struct {
	APIVersion string           `json:"apiVersion"`
	Data       any              `json:"data,omitempty"`
	Error      *googleErrorBody `json:"error,omitempty"`
}

type googleErrorBody struct {
	Code    int               `json:"code"`
	Message string            `json:"message"`
	Status  string            `json:"status"`
	Errors  []googleErrorItem `json:"errors,omitempty"`
}

type googleErrorItem struct {
	Domain  string `json:"domain"`
	Reason  string `json:"reason"`
	Message string `json:"message"`
}

type mappedError struct {
	HTTPStatus int
	Reason     string
	Status     string
}

func writeJSON(ctx context.Context, w http.ResponseWriter, status int, payload any) {
	ctx, span := startSpan(ctx, "httpapi.writeJSON")
	defer span.End()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = sonic.ConfigDefault.NewEncoder(w).Encode(payload)
}

func writeSuccess(ctx context.Context, w http.ResponseWriter, status int, data any) {
	ctx, span := startSpan(ctx, "httpapi.writeSuccess")
	defer span.End()

	writeJSON(ctx, w, status, googleResponseEnvelope{
		APIVersion: googleAPIVersion,
		Data:       data,
	})
}

// writeError renders err in the error envelope. Internal failures get a
// generic body so driver details never reach the client.
func writeError(ctx context.Context, w http.ResponseWriter, err error) {
	ctx, span := startSpan(ctx, "httpapi.writeError")
	defer span.End()

	mapped := mapError(ctx, err)
	if mapped.HTTPStatus == http.StatusInternalServerError {
		writeInternalError(ctx, w)
		return
	}

	writeJSON(ctx, w, mapped.HTTPStatus, googleResponseEnvelope{
		APIVersion: googleAPIVersion,
		Error: &googleErrorBody{
			Code:    mapped.HTTPStatus,
			Message: err.Error(),
			Status:  mapped.Status,
			Errors: []googleErrorItem{
				{
					Domain:  errorDomain,
					Reason:  mapped.Reason,
					Message: err.Error(),
				},
			},
		},
	})
}

func writeInternalError(ctx context.Context, w http.ResponseWriter) {
	ctx, span := startSpan(ctx, "httpapi.writeInternalError")
	defer span.End()

	const msg = "internal server error"

	writeJSON(ctx, w, http.StatusInternalServerError, googleResponseEnvelope{
		APIVersion: googleAPIVersion,
		Error: &googleErrorBody{
			Code:    http.StatusInternalServerError,
			Message: msg,
			Status:  "INTERNAL",
			Errors: []googleErrorItem{
				{
					Domain:  errorDomain,
					Reason:  "internalError",
					Message: msg,
				},
			},
		},
	})
}

func mapError(ctx context.Context, err error) mappedError {
	ctx, span := startSpan(ctx, "httpapi.mapError")
	defer span.End()

	switch {
	case errors.Is(err, usecase.ErrStoreUnavailable):
		return mappedError{HTTPStatus: http.StatusInternalServerError, Reason: "storeUnavailable", Status: "INTERNAL"}
	case errors.Is(err, usecase.ErrInvalidInput), errors.Is(err, queue.ErrInvalidEntry):
		return mappedError{HTTPStatus: http.StatusBadRequest, Reason: "invalidInput", Status: "INVALID_ARGUMENT"}
	case errors.Is(err, usecase.ErrUnauthorized):
		return mappedError{HTTPStatus: http.StatusUnauthorized, Reason: "unauthorized", Status: "UNAUTHENTICATED"}
	case errors.Is(err, usecase.ErrForbidden):
		return mappedError{HTTPStatus: http.StatusForbidden, Reason: "forbidden", Status: "PERMISSION_DENIED"}
	case errors.Is(err, queue.ErrAlreadyQueued):
		return mappedError{HTTPStatus: http.StatusConflict, Reason: "alreadyQueued", Status: "ALREADY_EXISTS"}
	case errors.Is(err, usecase.ErrAlreadyInMatch):
		return mappedError{HTTPStatus: http.StatusConflict, Reason: "alreadyInMatch", Status: "ALREADY_EXISTS"}
	case errors.Is(err, match.ErrInvalidTransition):
		return mappedError{HTTPStatus: http.StatusConflict, Reason: "invalidTransition", Status: "ABORTED"}
	case errors.Is(err, usecase.ErrNotQueued):
		return mappedError{HTTPStatus: http.StatusNotFound, Reason: "notQueued", Status: "NOT_FOUND"}
	case errors.Is(err, usecase.ErrNoLongerQueued):
		return mappedError{HTTPStatus: http.StatusNotFound, Reason: "noLongerQueued", Status: "NOT_FOUND"}
	case errors.Is(err, match.ErrNotFound):
		return mappedError{HTTPStatus: http.StatusNotFound, Reason: "matchNotFound", Status: "NOT_FOUND"}
	case errors.Is(err, match.ErrPlayerNotInMatch):
		return mappedError{HTTPStatus: http.StatusNotFound, Reason: "playerNotInMatch", Status: "NOT_FOUND"}
	case errors.Is(err, notification.ErrNotFound), errors.Is(err, usecase.ErrNotFound):
		return mappedError{HTTPStatus: http.StatusNotFound, Reason: "notFound", Status: "NOT_FOUND"}
	case errors.Is(err, usecase.ErrDependencyUnavailable):
		return mappedError{HTTPStatus: http.StatusServiceUnavailable, Reason: "dependencyUnavailable", Status: "UNAVAILABLE"}
	default:
		return mappedError{HTTPStatus: http.StatusInternalServerError, Reason: "internalError", Status: "INTERNAL"}
	}
}

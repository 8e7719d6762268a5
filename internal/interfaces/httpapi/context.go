package httpapi

import (
	"context"

	"github.com/cockroachdb/errors"

	"github.com/riskibarqy/arena-matchmaking/internal/domain/user"
	"github.com/riskibarqy/arena-matchmaking/internal/usecase"
)

type contextKey string

const principalContextKey contextKey = "auth_principal"

func withPrincipal(ctx context.Context, p user.Principal) context.Context {
	return context.WithValue(ctx, principalContextKey, p)
}

func principalFromContext(ctx context.Context) (user.Principal, bool) {
	p, ok := ctx.Value(principalContextKey).(user.Principal)
	return p, ok
}

// callerFromContext returns the authenticated principal or an unauthorized error.
func callerFromContext(ctx context.Context) (user.Principal, error) {
	p, ok := principalFromContext(ctx)
	if !ok || p.UserID == "" {
		return user.Principal{}, errors.Wrap(usecase.ErrUnauthorized, "principal is missing from request context")
	}
	return p, nil
}

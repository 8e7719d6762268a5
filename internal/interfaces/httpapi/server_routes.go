package httpapi

import "net/http"

func registerSystemRoutes(mux *http.ServeMux, handler *Handler, metricsHandler http.Handler) {
	mux.HandleFunc("GET /healthz", handler.Healthz)
	if metricsHandler != nil {
		mux.Handle("GET /metrics", metricsHandler)
	}
}

func registerMatchmakingRoutes(mux *http.ServeMux, handler *Handler, verifier TokenVerifier) {
	mux.Handle("POST /v1/matchmaking/join", RequireAuth(verifier, http.HandlerFunc(handler.JoinQueue)))
	mux.Handle("POST /v1/matchmaking/cancel", RequireAuth(verifier, http.HandlerFunc(handler.CancelQueue)))
	mux.Handle("GET /v1/matchmaking/status", RequireAuth(verifier, http.HandlerFunc(handler.PollStatus)))
	mux.Handle("GET /v1/matchmaking/cleanup", RequireAuth(verifier, RequireAdmin(http.HandlerFunc(handler.CleanupAbandoned))))
}

func registerMatchRoutes(mux *http.ServeMux, handler *Handler, verifier TokenVerifier) {
	mux.Handle("GET /v1/matches/{matchID}", RequireAuth(verifier, http.HandlerFunc(handler.GetMatch)))
	mux.Handle("POST /v1/matches/{matchID}/ready", RequireAuth(verifier, http.HandlerFunc(handler.SubmitReady)))
	mux.Handle("POST /v1/matches/{matchID}/start", RequireAuth(verifier, http.HandlerFunc(handler.StartMatch)))
	mux.Handle("POST /v1/matches/{matchID}/finish", RequireAuth(verifier, RequireAdmin(http.HandlerFunc(handler.FinishMatch))))
	mux.Handle("POST /v1/matches/{matchID}/cancel", RequireAuth(verifier, RequireAdmin(http.HandlerFunc(handler.CancelMatch))))
}

func registerNotificationRoutes(mux *http.ServeMux, handler *Handler, verifier TokenVerifier) {
	mux.Handle("GET /v1/notifications", RequireAuth(verifier, http.HandlerFunc(handler.ListNotifications)))
	mux.Handle("POST /v1/notifications/{notificationID}/read", RequireAuth(verifier, http.HandlerFunc(handler.MarkNotificationRead)))
}

func registerInternalJobRoutes(mux *http.ServeMux, handler *Handler, internalJobToken string) {
	mux.Handle("POST /v1/matchmaking/cleanup", RequireInternalJobToken(internalJobToken, http.HandlerFunc(handler.RunCleanupJob)))
	mux.Handle("POST /v1/internal/jobs/form-matches", RequireInternalJobToken(internalJobToken, http.HandlerFunc(handler.RunFormMatchesJob)))
}

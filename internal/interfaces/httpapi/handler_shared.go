package httpapi

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"

	sonic "github.com/bytedance/sonic"
	"github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"

	"github.com/riskibarqy/arena-matchmaking/internal/domain/match"
	"github.com/riskibarqy/arena-matchmaking/internal/domain/notification"
	"github.com/riskibarqy/arena-matchmaking/internal/platform/logging"
	"github.com/riskibarqy/arena-matchmaking/internal/usecase"
)

const maxRequestBodyBytes = 1 << 20

type Handler struct {
	matchmakingService  *usecase.MatchmakingService
	matchService        *usecase.MatchService
	formationService    *usecase.MatchFormationService
	notificationService *usecase.NotificationService
	jobOrchestrator     *usecase.JobOrchestratorService
	logger              *logging.Logger
	validator           *validator.Validate
}

func NewHandler(
	matchmakingService *usecase.MatchmakingService,
	matchService *usecase.MatchService,
	formationService *usecase.MatchFormationService,
	notificationService *usecase.NotificationService,
	jobOrchestrator *usecase.JobOrchestratorService,
	logger *logging.Logger,
) *Handler {
	if logger == nil {
		logger = logging.Default()
	}

	return &Handler{
		matchmakingService:  matchmakingService,
		matchService:        matchService,
		formationService:    formationService,
		notificationService: notificationService,
		jobOrchestrator:     jobOrchestrator,
		logger:              logger,
		validator:           validator.New(),
	}
}

func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	ctx, span := startSpan(r.Context(), "httpapi.Handler.Healthz")
	defer span.End()

	writeSuccess(ctx, w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) validateRequest(ctx context.Context, payload any) error {
	ctx, span := startSpan(ctx, "httpapi.Handler.validateRequest")
	defer span.End()

	if err := h.validator.StructCtx(ctx, payload); err != nil {
		return errors.Wrapf(usecase.ErrInvalidInput, "validation failed: %v", err)
	}

	return nil
}

// decodeJSON reads an optional JSON body into dst. An empty body leaves dst untouched.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBodyBytes))
	if err != nil {
		return errors.Wrapf(usecase.ErrInvalidInput, "read request body: %v", err)
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil
	}

	decoder := sonic.ConfigDefault.NewDecoder(bytes.NewReader(raw))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return errors.Wrapf(usecase.ErrInvalidInput, "invalid JSON payload: %v", err)
	}
	return nil
}

type partyInfoRequest struct {
	LobbyID      string   `json:"lobbyId" validate:"omitempty,max=128"`
	GroupMembers []string `json:"groupMembers" validate:"omitempty,dive,max=128"`
}

type joinQueueRequest struct {
	PartyInfo *partyInfoRequest `json:"partyInfo" validate:"omitempty"`
}

type cancelQueueRequest struct {
	WaitingID string `json:"waitingId" validate:"omitempty,max=128"`
}

type submitReadyRequest struct {
	UserID  string `json:"userId" validate:"omitempty,max=128"`
	IsReady *bool  `json:"isReady" validate:"required"`
}

type startMatchRequest struct {
	UserID string `json:"userId" validate:"omitempty,max=128"`
}

type internalCleanupRequest struct {
	ThresholdMinutes *int   `json:"thresholdMinutes"`
	DispatchID       string `json:"dispatch_id"`
}

type internalJobRequest struct {
	DispatchID string `json:"dispatch_id"`
}

type joinQueueDTO struct {
	WaitingID string `json:"waitingId"`
}

type okDTO struct {
	OK bool `json:"ok"`
}

type pollStatusDTO struct {
	MatchFound  bool      `json:"matchFound"`
	Match       *matchDTO `json:"match,omitempty"`
	WaitingTime *int64    `json:"waitingTime,omitempty"`
}

type submitReadyDTO struct {
	AllPlayersReady bool     `json:"allPlayersReady"`
	Match           matchDTO `json:"match"`
}

type startMatchDTO struct {
	PlayersJoined           []string `json:"playersJoined"`
	PlayersRemovedFromQueue int      `json:"playersRemovedFromQueue"`
}

type cleanupDTO struct {
	Count                int `json:"count"`
	QueueEntriesReleased int `json:"queueEntriesReleased"`
	QueueEntriesExpired  int `json:"queueEntriesExpired"`
}

type formMatchesDTO struct {
	MatchesFormed  int      `json:"matchesFormed"`
	PlayersMatched int      `json:"playersMatched"`
	MatchIDs       []string `json:"matchIds"`
}

type matchPlayerDTO struct {
	ID      string `json:"id"`
	IsReady bool   `json:"isReady"`
}

type matchTeamDTO struct {
	Players []matchPlayerDTO `json:"players"`
}

type matchMetadataDTO struct {
	LobbyID string `json:"lobbyId,omitempty"`
	Mode    string `json:"mode,omitempty"`
}

type matchDTO struct {
	ID             string           `json:"id"`
	Status         string           `json:"status"`
	Teams          []matchTeamDTO   `json:"teams"`
	Metadata       matchMetadataDTO `json:"metadata"`
	CreatedAt      string           `json:"createdAt"`
	UpdatedAt      string           `json:"updatedAt"`
	StartedAt      string           `json:"startedAt,omitempty"`
	FinishedAt     string           `json:"finishedAt,omitempty"`
	TimerExpiresAt string           `json:"timerExpiresAt,omitempty"`
}

type notificationDTO struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Read      bool           `json:"read"`
	Data      map[string]any `json:"data,omitempty"`
	CreatedAt string         `json:"createdAt"`
}

func matchToDTO(m match.Match) matchDTO {
	teams := make([]matchTeamDTO, 0, len(m.Teams))
	for _, team := range m.Teams {
		players := make([]matchPlayerDTO, 0, len(team.Players))
		for _, p := range team.Players {
			players = append(players, matchPlayerDTO{ID: p.ID, IsReady: p.IsReady})
		}
		teams = append(teams, matchTeamDTO{Players: players})
	}

	return matchDTO{
		ID:     m.ID,
		Status: string(m.Status),
		Teams:  teams,
		Metadata: matchMetadataDTO{
			LobbyID: m.Metadata.LobbyID,
			Mode:    m.Metadata.Mode,
		},
		CreatedAt:      formatTime(m.CreatedAt),
		UpdatedAt:      formatTime(m.UpdatedAt),
		StartedAt:      formatOptionalTime(m.StartedAt),
		FinishedAt:     formatOptionalTime(m.FinishedAt),
		TimerExpiresAt: formatOptionalTime(m.TimerExpiresAt),
	}
}

func notificationToDTO(n notification.Notification) notificationDTO {
	return notificationDTO{
		ID:        n.ID,
		Type:      string(n.Type),
		Read:      n.Read,
		Data:      n.Data,
		CreatedAt: formatTime(n.CreatedAt),
	}
}

func formatTime(v time.Time) string {
	if v.IsZero() {
		return ""
	}
	return v.UTC().Format(time.RFC3339)
}

func formatOptionalTime(v *time.Time) string {
	if v == nil {
		return ""
	}
	return formatTime(*v)
}

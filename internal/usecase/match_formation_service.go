package usecase

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/riskibarqy/arena-matchmaking/internal/domain/match"
	"github.com/riskibarqy/arena-matchmaking/internal/domain/notification"
	"github.com/riskibarqy/arena-matchmaking/internal/domain/queue"
	"github.com/riskibarqy/arena-matchmaking/internal/platform/id"
	"github.com/riskibarqy/arena-matchmaking/internal/platform/logging"
)

type MatchFormationConfig struct {
	TeamCount    int
	TeamSize     int
	ReadyTimeout time.Duration
	BatchSize    int
	Mode         string
}

type FormMatchesResult struct {
	MatchesFormed  int
	PlayersMatched int
	MatchIDs       []string
}

// MatchFormationService groups queued users into matches, oldest first.
// Queue entries are left in place; they are released when the match starts.
type MatchFormationService struct {
	queueRepo queue.Repository
	matchRepo match.Repository
	idGen     id.Generator
	notifier  *MatchNotifier
	metrics   MetricsRecorder
	cfg       MatchFormationConfig
	mu        sync.Mutex
	logger    *logging.Logger
	now       func() time.Time
}

func NewMatchFormationService(
	queueRepo queue.Repository,
	matchRepo match.Repository,
	idGen id.Generator,
	notifier *MatchNotifier,
	metrics MetricsRecorder,
	cfg MatchFormationConfig,
	logger *logging.Logger,
) *MatchFormationService {
	if metrics == nil {
		metrics = NewNoopMetrics()
	}
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.TeamCount < 1 {
		cfg.TeamCount = 2
	}
	if cfg.TeamSize < 1 {
		cfg.TeamSize = 1
	}
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = DefaultAbandonThresholdMinutes * time.Minute
	}
	if cfg.BatchSize < cfg.TeamCount*cfg.TeamSize {
		cfg.BatchSize = 200
	}

	return &MatchFormationService{
		queueRepo: queueRepo,
		matchRepo: matchRepo,
		idGen:     idGen,
		notifier:  notifier,
		metrics:   metrics,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
	}
}

// Run forms matches on every tick until ctx is done.
func (s *MatchFormationService) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.FormMatches(ctx); err != nil && ctx.Err() == nil {
				s.logger.WarnContext(ctx, "form matches tick failed", "error", err)
			}
		}
	}
}

type formationUnit struct {
	entry   queue.Entry
	members []string
}

func (s *MatchFormationService) FormMatches(ctx context.Context) (FormMatchesResult, error) {
	ctx, span := startUsecaseSpan(ctx, "usecase.MatchFormationService.FormMatches")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	units, scanned, err := s.collectUnits(ctx)
	if err != nil {
		return FormMatchesResult{}, err
	}

	result := FormMatchesResult{}
	for {
		teams, rest, ok := packTeams(units, s.cfg.TeamCount, s.cfg.TeamSize)
		if !ok {
			break
		}
		units = rest

		created, err := s.createMatch(ctx, teams)
		if err != nil {
			return result, err
		}
		result.MatchesFormed++
		result.PlayersMatched += created.PlayerCount()
		result.MatchIDs = append(result.MatchIDs, created.ID)
	}

	if result.MatchesFormed > 0 {
		s.logger.InfoContext(ctx, "matches formed",
			"matches", result.MatchesFormed,
			"players", result.PlayersMatched,
			"queued_scanned", scanned,
		)
	}
	return result, nil
}

// collectUnits pages through the queue oldest first until BatchSize eligible
// units are gathered or the queue is exhausted. Entries whose members already
// play in an active match, are claimed by an older entry, or cannot fit in a
// single team are skipped, so they never hide players queued behind them.
func (s *MatchFormationService) collectUnits(ctx context.Context) ([]formationUnit, int, error) {
	claimed := make(map[string]struct{})
	units := make([]formationUnit, 0, s.cfg.BatchSize)
	scanned := 0

	for len(units) < s.cfg.BatchSize {
		entries, err := s.queueRepo.ListOldest(ctx, scanned, s.cfg.BatchSize)
		if err != nil {
			return nil, scanned, storeErr(err, "list queued users")
		}
		scanned += len(entries)

		for _, entry := range entries {
			unit, ok, err := s.eligibleUnit(ctx, entry, claimed)
			if err != nil {
				return nil, scanned, err
			}
			if ok {
				units = append(units, unit)
			}
		}
		if len(entries) < s.cfg.BatchSize {
			break
		}
	}

	return units, scanned, nil
}

func (s *MatchFormationService) eligibleUnit(ctx context.Context, entry queue.Entry, claimed map[string]struct{}) (formationUnit, bool, error) {
	members := entry.Members()
	if len(members) == 0 || len(members) > s.cfg.TeamSize {
		return formationUnit{}, false, nil
	}

	for _, member := range members {
		if _, taken := claimed[member]; taken {
			return formationUnit{}, false, nil
		}
		_, active, err := s.matchRepo.FindActiveForUser(ctx, member)
		if err != nil {
			return formationUnit{}, false, storeErr(err, "find active match for queued user")
		}
		if active {
			return formationUnit{}, false, nil
		}
	}

	for _, member := range members {
		claimed[member] = struct{}{}
	}
	return formationUnit{entry: entry, members: members}, true, nil
}

// packTeams fills teamCount teams of teamSize from units in order, keeping each
// unit on one team. Units that do not fit are kept for the next match.
func packTeams(units []formationUnit, teamCount, teamSize int) ([][]formationUnit, []formationUnit, bool) {
	teams := make([][]formationUnit, teamCount)
	filled := make([]int, teamCount)
	rest := make([]formationUnit, 0, len(units))
	full := 0

	for i, unit := range units {
		if full == teamCount {
			rest = append(rest, units[i:]...)
			break
		}

		placed := false
		for t := range teams {
			if filled[t]+len(unit.members) > teamSize {
				continue
			}
			teams[t] = append(teams[t], unit)
			filled[t] += len(unit.members)
			if filled[t] == teamSize {
				full++
			}
			placed = true
			break
		}
		if !placed {
			rest = append(rest, unit)
		}
	}

	if full < teamCount {
		return nil, units, false
	}
	return teams, rest, true
}

func (s *MatchFormationService) createMatch(ctx context.Context, teams [][]formationUnit) (match.Match, error) {
	matchID, err := s.idGen.NewID()
	if err != nil {
		return match.Match{}, errors.Wrap(err, "generate match id")
	}

	now := s.now().UTC()
	expiresAt := now.Add(s.cfg.ReadyTimeout)
	item := match.Match{
		ID:             matchID,
		Teams:          make([]match.Team, 0, len(teams)),
		Status:         match.StatusWaitingPlayers,
		Metadata:       match.Metadata{Mode: s.cfg.Mode},
		CreatedAt:      now,
		UpdatedAt:      now,
		TimerExpiresAt: &expiresAt,
	}
	lobbies := make(map[string]struct{})
	for _, units := range teams {
		team := match.Team{}
		for _, unit := range units {
			for _, member := range unit.members {
				team.Players = append(team.Players, match.Player{ID: member})
			}
			if unit.entry.LobbyID != "" {
				lobbies[unit.entry.LobbyID] = struct{}{}
			}
		}
		item.Teams = append(item.Teams, team)
	}
	if len(lobbies) == 1 {
		for lobbyID := range lobbies {
			item.Metadata.LobbyID = lobbyID
		}
	}

	if err := s.matchRepo.Create(ctx, item); err != nil {
		return match.Match{}, storeErr(err, "create match")
	}

	s.metrics.MatchFormed(item.PlayerCount())
	s.notifier.NotifyPlayers(ctx, item, notification.TypeMatchFound)
	return item, nil
}

package app

import (
	"context"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/sourcegraph/conc"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/riskibarqy/arena-matchmaking/internal/config"
	"github.com/riskibarqy/arena-matchmaking/internal/infrastructure/account/anubis"
	"github.com/riskibarqy/arena-matchmaking/internal/infrastructure/jobqueue"
	"github.com/riskibarqy/arena-matchmaking/internal/infrastructure/metrics"
	"github.com/riskibarqy/arena-matchmaking/internal/interfaces/httpapi"
	"github.com/riskibarqy/arena-matchmaking/internal/platform/id"
	"github.com/riskibarqy/arena-matchmaking/internal/platform/logging"
	"github.com/riskibarqy/arena-matchmaking/internal/platform/resilience"
	"github.com/riskibarqy/arena-matchmaking/internal/usecase"
)

// App owns the HTTP server, the background schedulers and the store connections.
type App struct {
	Server *http.Server

	cfg          config.Config
	stores       *stores
	orchestrator *usecase.JobOrchestratorService
	formation    *usecase.MatchFormationService
	logger       *logging.Logger

	cancel context.CancelFunc
	wg     conc.WaitGroup
}

func New(ctx context.Context, cfg config.Config, logger *logging.Logger) (*App, error) {
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.HTTPAddr == "" {
		return nil, errors.New("http server addr cannot be empty")
	}

	st, err := openStores(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	var (
		recorder       usecase.MetricsRecorder
		metricsHandler http.Handler
	)
	if cfg.MetricsEnabled {
		promRecorder := metrics.NewRecorder()
		if err := promRecorder.Register(metrics.NewStoreCollector(st.queue, st.matches, logger)); err != nil {
			_ = st.close()
			return nil, errors.Wrap(err, "register store collector")
		}
		recorder = promRecorder
		metricsHandler = promRecorder.Handler()
	}

	ids := id.NewUUIDGenerator()
	notifier := usecase.NewMatchNotifier(st.notifications, ids, logger)
	matchmakingSvc := usecase.NewMatchmakingService(st.queue, st.matches, ids, recorder, logger)
	matchSvc := usecase.NewMatchService(st.matches, st.queue, notifier, recorder, usecase.MatchServiceConfig{
		CleanupWorkers:    cfg.CleanupWorkers,
		QueueHeartbeatTTL: cfg.QueueHeartbeatTTL,
	}, logger)
	formationSvc := usecase.NewMatchFormationService(st.queue, st.matches, ids, notifier, recorder, usecase.MatchFormationConfig{
		TeamCount:    cfg.MatchTeamCount,
		TeamSize:     cfg.MatchTeamSize,
		ReadyTimeout: cfg.MatchReadyTimeout,
		BatchSize:    cfg.MatchFormationBatchSize,
	}, logger)

	var jobQueue usecase.JobQueue
	orchestratorCfg := usecase.JobOrchestratorConfig{
		CleanupInterval:  cfg.CleanupInterval,
		AbandonThreshold: cfg.MatchAbandonThreshold,
		Remote:           cfg.QStashEnabled,
	}
	if cfg.QStashEnabled {
		jobQueue = jobqueue.NewQStashPublisher(jobqueue.QStashPublisherConfig{
			BaseURL:          cfg.QStashBaseURL,
			Token:            cfg.QStashToken,
			TargetBaseURL:    cfg.QStashTargetBaseURL,
			Retries:          cfg.QStashRetries,
			InternalJobToken: cfg.InternalJobToken,
			Timeout:          cfg.QStashTimeout,
			CircuitBreaker: resilience.CircuitBreakerConfig{
				Name:             "qstash",
				OnStateChange:    logBreakerChange(logger),
				Enabled:          cfg.QStashCircuitEnabled,
				FailureThreshold: cfg.QStashCircuitFailureCount,
				OpenTimeout:      cfg.QStashCircuitOpenTimeout,
				HalfOpenMaxReq:   cfg.QStashCircuitHalfOpenMaxReq,
			},
		}, logger)
		// Formation ticks are published too, so the callback runs on whichever instance QStash reaches.
		orchestratorCfg.FormationInterval = cfg.MatchFormationInterval
	}
	orchestrator := usecase.NewJobOrchestratorService(matchSvc, formationSvc, jobQueue, st.dispatches, orchestratorCfg, logger)

	accountClient := anubis.NewClient(
		&http.Client{
			Timeout:   cfg.AnubisTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		anubis.Config{
			BaseURL:         cfg.AnubisBaseURL,
			IntrospectPath:  cfg.AnubisIntrospectURL,
			AdminKey:        cfg.AnubisAdminKey,
			CacheTTL:        cfg.AnubisCacheTTL,
			CacheMaxEntries: cfg.AnubisCacheMaxEntries,
			Circuit: resilience.CircuitBreakerConfig{
				Name:             "anubis",
				OnStateChange:    logBreakerChange(logger),
				Enabled:          cfg.AnubisCircuitEnabled,
				FailureThreshold: cfg.AnubisCircuitFailureCount,
				OpenTimeout:      cfg.AnubisCircuitOpenTimeout,
				HalfOpenMaxReq:   cfg.AnubisCircuitHalfOpenMaxReq,
			},
		},
		logger,
	)

	handler := httpapi.NewHandler(
		matchmakingSvc,
		matchSvc,
		formationSvc,
		usecase.NewNotificationService(st.notifications),
		orchestrator,
		logger,
	)
	router := httpapi.NewRouter(handler, accountClient, metricsHandler, logger, cfg.CORSAllowedOrigins, cfg.InternalJobToken)

	return &App{
		Server: &http.Server{
			Addr:              cfg.HTTPAddr,
			Handler:           router,
			ReadTimeout:       cfg.ReadTimeout,
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      cfg.WriteTimeout,
		},
		cfg:          cfg,
		stores:       st,
		orchestrator: orchestrator,
		formation:    formationSvc,
		logger:       logger,
	}, nil
}

// StartBackground launches the cleanup scheduler and, when matches are formed
// in-process, the formation loop.
func (a *App) StartBackground(ctx context.Context) {
	ctx, a.cancel = context.WithCancel(ctx)

	a.wg.Go(func() {
		a.orchestrator.Run(ctx)
	})
	if !a.cfg.QStashEnabled && a.cfg.MatchFormationInterval > 0 {
		a.wg.Go(func() {
			a.formation.Run(ctx, a.cfg.MatchFormationInterval)
		})
	}

	a.logger.InfoContext(ctx, "background jobs started",
		"cleanup_interval", a.cfg.CleanupInterval.String(),
		"formation_interval", a.cfg.MatchFormationInterval.String(),
		"remote_jobs", a.cfg.QStashEnabled,
	)
}

// Shutdown drains HTTP traffic, stops background jobs and closes the stores.
func (a *App) Shutdown(ctx context.Context) error {
	err := a.Server.Shutdown(ctx)
	if a.cancel != nil {
		a.cancel()
	}
	a.wg.Wait()
	return errors.CombineErrors(err, a.stores.close())
}

func logBreakerChange(logger *logging.Logger) func(string, resilience.CircuitState, resilience.CircuitState) {
	return func(name string, from, to resilience.CircuitState) {
		if to == resilience.CircuitStateOpen {
			logger.Warn("circuit breaker opened", "dependency", name, "from", string(from))
			return
		}
		logger.Info("circuit breaker state changed", "dependency", name, "from", string(from), "to", string(to))
	}
}

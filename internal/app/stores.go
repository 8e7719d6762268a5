package app

import (
	"context"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"github.com/uptrace/opentelemetry-go-extra/otelsql"
	"github.com/uptrace/opentelemetry-go-extra/otelsqlx"

	"github.com/riskibarqy/arena-matchmaking/internal/config"
	"github.com/riskibarqy/arena-matchmaking/internal/domain/jobscheduler"
	"github.com/riskibarqy/arena-matchmaking/internal/domain/match"
	"github.com/riskibarqy/arena-matchmaking/internal/domain/notification"
	"github.com/riskibarqy/arena-matchmaking/internal/domain/queue"
	"github.com/riskibarqy/arena-matchmaking/internal/infrastructure/repository/dynamorepo"
	"github.com/riskibarqy/arena-matchmaking/internal/infrastructure/repository/memory"
	"github.com/riskibarqy/arena-matchmaking/internal/infrastructure/repository/postgres"
	"github.com/riskibarqy/arena-matchmaking/internal/infrastructure/repository/redisrepo"
	"github.com/riskibarqy/arena-matchmaking/internal/platform/logging"
)

const storePingTimeout = 5 * time.Second

type stores struct {
	queue         queue.Repository
	matches       match.Repository
	notifications notification.Repository
	dispatches    jobscheduler.Repository
	closers       []func() error
}

func (s *stores) close() error {
	var errs error
	for i := len(s.closers) - 1; i >= 0; i-- {
		errs = errors.CombineErrors(errs, s.closers[i]())
	}
	return errs
}

// openStores builds the repositories selected by STORE_DRIVER, then swaps in
// the Redis queue when QUEUE_DRIVER=redis.
func openStores(ctx context.Context, cfg config.Config, logger *logging.Logger) (*stores, error) {
	s := &stores{}

	switch cfg.StoreDriver {
	case config.StoreDriverPostgres:
		db, err := openPostgres(ctx, cfg)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, db.Close)
		s.queue = postgres.NewQueueRepository(db)
		s.matches = postgres.NewMatchRepository(db)
		s.notifications = postgres.NewNotificationRepository(db)
		s.dispatches = postgres.NewJobDispatchRepository(db)
	case config.StoreDriverDynamo:
		client, err := dynamorepo.NewClient(ctx, dynamorepo.ClientConfig{
			Region:   cfg.DynamoRegion,
			Endpoint: cfg.DynamoEndpoint,
		})
		if err != nil {
			return nil, errors.Wrap(err, "open dynamodb client")
		}
		s.queue = dynamorepo.NewQueueRepository(client, cfg.DynamoQueueTable)
		s.matches = dynamorepo.NewMatchRepository(client, cfg.DynamoMatchTable, cfg.DynamoMatchPlayerTable)
		s.notifications = dynamorepo.NewNotificationRepository(client, cfg.DynamoNotificationTable)
		s.dispatches = memory.NewJobDispatchRepository()
	default:
		s.queue = memory.NewQueueRepository()
		s.matches = memory.NewMatchRepository()
		s.notifications = memory.NewNotificationRepository()
		s.dispatches = memory.NewJobDispatchRepository()
	}

	if cfg.QueueDriver == config.QueueDriverRedis {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, storePingTimeout)
		err := client.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			_ = client.Close()
			_ = s.close()
			return nil, errors.Wrapf(err, "ping redis addr=%s", cfg.RedisAddr)
		}
		s.closers = append(s.closers, client.Close)
		s.queue = redisrepo.NewQueueRepository(client, cfg.RedisKeyPrefix)
	}

	logger.Info("stores opened",
		"store_driver", cfg.StoreDriver,
		"queue_driver", cfg.QueueDriver,
	)
	return s, nil
}

func openPostgres(ctx context.Context, cfg config.Config) (*sqlx.DB, error) {
	dsn := normalizeDBURL(strings.TrimSpace(cfg.DBURL), cfg.DBDisablePreparedBinary)
	db, err := otelsqlx.Open("postgres", dsn,
		otelsql.WithDBSystem("postgresql"),
		otelsql.WithDBName(dbNameFromURL(dsn)),
		otelsql.WithQueryFormatter(formatDBQueryForTrace),
	)
	if err != nil {
		return nil, errors.Wrap(err, "open postgres")
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, storePingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "ping postgres")
	}
	return db, nil
}

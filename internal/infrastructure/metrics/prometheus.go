package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/riskibarqy/arena-matchmaking/internal/domain/match"
	"github.com/riskibarqy/arena-matchmaking/internal/domain/queue"
	"github.com/riskibarqy/arena-matchmaking/internal/platform/logging"
)

const namespace = "mm"

// Recorder counts lifecycle events and satisfies usecase.MetricsRecorder.
type Recorder struct {
	registry          *prometheus.Registry
	queueJoined       prometheus.Counter
	queueLeft         *prometheus.CounterVec
	matchesFormed     prometheus.Counter
	playersMatched    prometheus.Counter
	matchTransitioned *prometheus.CounterVec
}

func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		queueJoined: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_joined_total",
			Help:      "Users admitted to the matchmaking queue.",
		}),
		queueLeft: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_left_total",
			Help:      "Queue entries removed, by reason.",
		}, []string{"reason"}),
		matchesFormed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "matches_total",
			Help:      "Matches formed.",
		}),
		playersMatched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "players_matched_total",
			Help:      "Players placed into formed matches.",
		}),
		matchTransitioned: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "match_transitions_total",
			Help:      "Match status transitions, by target status.",
		}, []string{"status"}),
	}
	r.registry.MustRegister(
		r.queueJoined,
		r.queueLeft,
		r.matchesFormed,
		r.playersMatched,
		r.matchTransitioned,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

func (r *Recorder) QueueJoined() {
	r.queueJoined.Inc()
}

func (r *Recorder) QueueLeft(reason string, count int) {
	if count <= 0 {
		return
	}
	r.queueLeft.WithLabelValues(reason).Add(float64(count))
}

func (r *Recorder) MatchFormed(players int) {
	r.matchesFormed.Inc()
	r.playersMatched.Add(float64(players))
}

func (r *Recorder) MatchTransitioned(to match.Status) {
	r.matchTransitioned.WithLabelValues(string(to)).Inc()
}

// Register adds extra collectors, such as a StoreCollector, to the recorder's registry.
func (r *Recorder) Register(cs ...prometheus.Collector) error {
	for _, c := range cs {
		if err := r.registry.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// StoreCollector reads queue size and match counts from the store on every scrape.
type StoreCollector struct {
	queueRepo queue.Repository
	matchRepo match.Repository
	timeout   time.Duration
	logger    *logging.Logger

	queueSize       *prometheus.Desc
	matchesByStatus *prometheus.Desc
}

func NewStoreCollector(queueRepo queue.Repository, matchRepo match.Repository, logger *logging.Logger) *StoreCollector {
	if logger == nil {
		logger = logging.Default()
	}
	return &StoreCollector{
		queueRepo: queueRepo,
		matchRepo: matchRepo,
		timeout:   2 * time.Second,
		logger:    logger,
		queueSize: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "queue_size"),
			"Current number of queued users.",
			nil, nil,
		),
		matchesByStatus: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "matches"),
			"Stored matches, by status.",
			[]string{"status"}, nil,
		),
	}
}

func (c *StoreCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.queueSize
	ch <- c.matchesByStatus
}

func (c *StoreCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	if size, err := c.queueRepo.Count(ctx); err != nil {
		c.logger.WarnContext(ctx, "collect queue size failed", "error", err)
	} else {
		ch <- prometheus.MustNewConstMetric(c.queueSize, prometheus.GaugeValue, float64(size))
	}

	counts, err := c.matchRepo.CountByStatus(ctx)
	if err != nil {
		c.logger.WarnContext(ctx, "collect match counts failed", "error", err)
		return
	}
	for status, count := range counts {
		ch <- prometheus.MustNewConstMetric(c.matchesByStatus, prometheus.GaugeValue, float64(count), string(status))
	}
}

package usecase

import "github.com/riskibarqy/arena-matchmaking/internal/domain/match"

// MetricsRecorder receives lifecycle events for instrumentation.
type MetricsRecorder interface {
	QueueJoined()
	QueueLeft(reason string, count int)
	MatchFormed(players int)
	MatchTransitioned(to match.Status)
}

type noopMetrics struct{}

func (noopMetrics) QueueJoined()                   {}
func (noopMetrics) QueueLeft(string, int)          {}
func (noopMetrics) MatchFormed(int)                {}
func (noopMetrics) MatchTransitioned(match.Status) {}

func NewNoopMetrics() MetricsRecorder {
	return noopMetrics{}
}

const (
	queueLeftCancelled = "cancelled"
	queueLeftStarted   = "match_started"
	queueLeftExpired   = "heartbeat_expired"
	queueLeftUnready   = "abandoned_unready"
)

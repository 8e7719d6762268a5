package logging

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()

	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]any
		require.NoError(t, sonic.UnmarshalString(line, &entry))
		out = append(out, entry)
	}
	return out
}

func TestLogger_JSONFields(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Options{Level: LevelInfo, Service: "arena-matchmaking", Version: "1.2.0", Output: &buf})

	logger.With("match_id", "m-1").Info("match formed",
		"players", []string{"a", "b"},
		"ready_timeout", 10*time.Minute,
		"error", errors.New("notify failed"),
		"dangling",
	)
	logger.Debug("hidden below level")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	entry := lines[0]
	require.Equal(t, "INFO", entry["level"])
	require.Equal(t, "match formed", entry["msg"])
	require.Equal(t, "arena-matchmaking", entry["service"])
	require.Equal(t, "1.2.0", entry["version"])
	require.Equal(t, "m-1", entry["match_id"])
	require.Equal(t, []any{"a", "b"}, entry["players"])
	require.Equal(t, "10m0s", entry["ready_timeout"])
	require.Equal(t, "notify failed", entry["error"])
	require.Contains(t, entry, "dangling")
	require.Contains(t, entry["caller"], "logger_test.go")
}

func TestLogger_ContextAddsTraceIDs(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Options{Level: LevelDebug, Output: &buf})

	spanCtx := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16},
		SpanID:     trace.SpanID{1, 2, 3, 4, 5, 6, 7, 8},
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), spanCtx)

	logger.WarnContext(ctx, "queue heartbeat late", "user_id", "u1")
	logger.InfoContext(context.Background(), "no span")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 2)
	require.Equal(t, spanCtx.TraceID().String(), lines[0]["trace_id"])
	require.Equal(t, spanCtx.SpanID().String(), lines[0]["span_id"])
	require.NotContains(t, lines[1], "trace_id")
}

func TestLogger_NilFallsBackToDefault(t *testing.T) {
	var buf bytes.Buffer
	previous := Default()
	SetDefault(New(Options{Level: LevelInfo, Output: &buf}))
	t.Cleanup(func() { SetDefault(previous) })

	var logger *Logger
	logger.Info("from nil logger", "count", 3)
	logger.With("user_id", "u1").Info("child of nil")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 2)
	require.EqualValues(t, 3, lines[0]["count"])
	require.Equal(t, "u1", lines[1]["user_id"])
	require.NoError(t, logger.Sync())
}

func TestLogger_ConsoleFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Options{Level: LevelInfo, Format: " Console ", Output: &buf})

	logger.Info("match started", "match_id", "m-9")

	out := buf.String()
	require.Contains(t, out, "match started")
	require.Contains(t, out, `"match_id": "m-9"`)
	require.False(t, strings.HasPrefix(strings.TrimSpace(out), "{"))
}

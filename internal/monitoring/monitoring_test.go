package monitoring

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compresr/shrinker/internal/pipeline"
)

func summary(done, failed, already int, in, out int64, d time.Duration) *pipeline.BatchSummary {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return &pipeline.BatchSummary{
		Started:          start,
		Finished:         start.Add(d),
		Duration:         d,
		Files:            done + failed,
		Done:             done,
		Failed:           failed,
		AlreadyOptimized: already,
		BytesIn:          in,
		BytesOut:         out,
	}
}

// =============================================================================
// LOGGER
// =============================================================================

func TestLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(LoggerConfig{Level: "warn", Format: "json"}, &buf)

	l.Info().Msg("hidden")
	l.Warn().Msg("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}

func TestLogger_EmptyLevelDefaultsToInfo(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(LoggerConfig{}, &buf)

	l.Debug().Msg("hidden")
	l.Info().Msg("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, RequestIDFromContext(ctx))
	assert.Empty(t, SessionIDFromContext(ctx))

	ctx = WithRequestIDContext(ctx, "req-1")
	ctx = WithSessionIDContext(ctx, "sess-1")
	assert.Equal(t, "req-1", RequestIDFromContext(ctx))
	assert.Equal(t, "sess-1", SessionIDFromContext(ctx))
}

// =============================================================================
// ALERTS
// =============================================================================

func TestAlertManager_Listener(t *testing.T) {
	var buf bytes.Buffer
	am := NewAlertManager(NewWithWriter(LoggerConfig{Level: "debug"}, &buf), AlertConfig{SlowBatchThreshold: time.Second})
	listen := am.Listener("sess")

	f := pipeline.File{ID: "f1", Name: "a.png", Status: pipeline.StatusError, Error: "boom"}
	listen(pipeline.Event{Kind: pipeline.EventFileFailed, FileID: f.ID, File: &f, Error: f.Error})
	listen(pipeline.Event{Kind: pipeline.EventBatchCompleted, Summary: summary(1, 0, 0, 10, 5, 2*time.Second)})
	listen(pipeline.Event{Kind: pipeline.EventFileUpdated, FileID: f.ID, File: &f})

	out := buf.String()
	assert.Contains(t, out, `"message":"compression_failed"`)
	assert.Contains(t, out, `"reason":"boom"`)
	assert.Contains(t, out, `"message":"slow_batch"`)
	assert.Equal(t, 2, bytes.Count(buf.Bytes(), []byte("\n")), "progress updates are not logged")
}

func TestAlertManager_FastBatchIsQuiet(t *testing.T) {
	var buf bytes.Buffer
	am := NewAlertManager(NewWithWriter(LoggerConfig{Level: "debug"}, &buf), AlertConfig{})

	am.FlagSlowBatch("sess", *summary(1, 0, 0, 10, 5, time.Second))
	assert.Empty(t, buf.String())
}

// =============================================================================
// METRICS
// =============================================================================

func TestMetrics_ListenerUsesBatchSummary(t *testing.T) {
	mc := NewMetricsCollector()
	listen := mc.Listener()

	listen(pipeline.Event{Kind: pipeline.EventBatchStarted})
	assert.Equal(t, 1.0, testutil.ToFloat64(mc.ActiveBatches))

	// configuration change on a Done file must not count as an outcome
	done := pipeline.File{ID: "f1", Status: pipeline.StatusDone, SourceSize: 100, OutputSize: 40}
	listen(pipeline.Event{Kind: pipeline.EventFileUpdated, File: &done})

	listen(pipeline.Event{Kind: pipeline.EventBatchCompleted, Summary: summary(2, 1, 1, 300, 150, time.Second)})
	listen(pipeline.Event{Kind: pipeline.EventSuggestionReady})

	assert.Equal(t, 0.0, testutil.ToFloat64(mc.ActiveBatches))
	assert.Equal(t, 1.0, testutil.ToFloat64(mc.BatchesTotal))
	assert.Equal(t, 2.0, testutil.ToFloat64(mc.FileOutcomes.WithLabelValues("done")))
	assert.Equal(t, 1.0, testutil.ToFloat64(mc.FileOutcomes.WithLabelValues("error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(mc.FileOutcomes.WithLabelValues("already_optimized")))
	assert.Equal(t, 300.0, testutil.ToFloat64(mc.BytesIn))
	assert.Equal(t, 150.0, testutil.ToFloat64(mc.BytesOut))
	assert.Equal(t, 1.0, testutil.ToFloat64(mc.Suggestions))
}

func TestMetrics_Handler(t *testing.T) {
	mc := NewMetricsCollector()
	mc.RecordAdmitted(3)
	mc.RecordRejection("file too large")
	mc.RecordRequest("POST /api/files", 201, 10*time.Millisecond)

	rec := httptest.NewRecorder()
	mc.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body := rec.Body.String()
	assert.Contains(t, body, "shrinker_files_admitted_total 3")
	assert.Contains(t, body, `shrinker_intake_rejections_total{reason="file too large"} 1`)
	assert.Contains(t, body, `shrinker_http_requests_total{code="201",route="POST /api/files"} 1`)
}

func TestMetrics_CollectorsAreIndependent(t *testing.T) {
	a := NewMetricsCollector()
	b := NewMetricsCollector()
	a.RecordAdmitted(1)
	assert.Equal(t, 0.0, testutil.ToFloat64(b.FilesAdmitted))
}

// =============================================================================
// TELEMETRY
// =============================================================================

func TestTracker_WritesBatchLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "batches.jsonl")
	tr, err := NewTracker(TelemetryConfig{Enabled: true, LogPath: path})
	require.NoError(t, err)
	_, err = os.Stat(path)
	require.NoError(t, err, "file is created up front")

	listen := tr.Listener("session-1")
	listen(pipeline.Event{Kind: pipeline.EventBatchStarted})
	listen(pipeline.Event{Kind: pipeline.EventBatchCompleted, Summary: summary(2, 0, 0, 200, 50, 1500*time.Millisecond)})
	listen(pipeline.Event{Kind: pipeline.EventBatchCompleted, Summary: summary(1, 1, 0, 100, 100, time.Second)})
	require.NoError(t, tr.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var recs []BatchRecord
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var r BatchRecord
		require.NoError(t, json.Unmarshal(sc.Bytes(), &r))
		recs = append(recs, r)
	}
	require.Len(t, recs, 2)
	assert.Equal(t, "session-1", recs[0].Session)
	assert.Equal(t, int64(1500), recs[0].DurationMs)
	assert.Equal(t, 75.0, recs[0].SavedPercent)
	assert.Equal(t, 1, recs[1].Failed)
}

func TestTracker_DisabledWritesNothing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "batches.jsonl")
	tr, err := NewTracker(TelemetryConfig{Enabled: false, LogPath: path})
	require.NoError(t, err)

	tr.RecordBatch(NewBatchRecord("s", *summary(1, 0, 0, 10, 5, time.Second)))

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

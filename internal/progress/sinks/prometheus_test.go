package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/gearshed/camsync/internal/progress"
)

// TestPrometheusSinkRecordsMetrics ensures counters and histograms are incremented from events.
func TestPrometheusSinkRecordsMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	cycleID := [16]byte(uuid.New())
	batch := []progress.Event{
		{CycleID: cycleID, Job: "sync", TS: time.Now(), Stage: progress.StageCycleStart},
		{
			CycleID: cycleID,
			Job:     "sync",
			TS:      time.Now().Add(5 * time.Second),
			Stage:   progress.StageSourceDone,
			Source:  "presswire",
			Created: 3,
			Updated: 2,
			Skipped: 1,
			Dur:     4 * time.Second,
		},
		{
			CycleID: cycleID,
			Job:     "sync",
			TS:      time.Now().Add(6 * time.Second),
			Stage:   progress.StageSourceError,
			Source:  "retailfeed",
			Note:    "source unavailable",
		},
		{CycleID: cycleID, Job: "sync", TS: time.Now().Add(10 * time.Second), Stage: progress.StageCycleDone, Dur: 10 * time.Second},
	}

	require.NoError(t, sink.Consume(context.Background(), batch))

	require.Equal(t, 1.0, testutil.ToFloat64(sink.cyclesStarted))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.cyclesCompleted.WithLabelValues("success")))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.cyclesCompleted.WithLabelValues("error")))

	require.InDelta(t, 3.0, testutil.ToFloat64(sink.records.WithLabelValues("presswire", "created")), 1e-9)
	require.InDelta(t, 2.0, testutil.ToFloat64(sink.records.WithLabelValues("presswire", "updated")), 1e-9)
	require.InDelta(t, 1.0, testutil.ToFloat64(sink.records.WithLabelValues("presswire", "skipped")), 1e-9)
	require.InDelta(t, 1.0, testutil.ToFloat64(sink.sourceErrors.WithLabelValues("retailfeed")), 1e-9)
	require.Equal(t, 1, testutil.CollectAndCount(sink.cycleRuntime, "camsync_cycle_runtime_seconds"))
}

func TestPrometheusSinkCountsAuxiliaryRuns(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	cycleID := [16]byte(uuid.New())
	now := time.Now()
	batch := []progress.Event{
		{CycleID: cycleID, Job: "sync", TS: now, Stage: progress.StageEnrichDone},
		{CycleID: cycleID, Job: "sync", TS: now, Stage: progress.StageEnrichError},
		{CycleID: cycleID, Job: "backup", TS: now, Stage: progress.StageBackupDone},
		{CycleID: cycleID, Job: "sync", TS: now, Stage: progress.StageTriggerCoalesced},
	}

	require.NoError(t, sink.Consume(context.Background(), batch))

	require.Equal(t, 1.0, testutil.ToFloat64(sink.enrichRuns.WithLabelValues("success")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.enrichRuns.WithLabelValues("error")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.backupRuns.WithLabelValues("success")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.coalescedRuns.WithLabelValues("sync")))
}

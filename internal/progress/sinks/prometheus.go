package sinks

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/gearshed/camsync/internal/progress"
)

// PrometheusSink exports sync progress metrics. It owns the collectors for
// cycle lifecycle, per-source record outcomes, enrichment, and backups.
type PrometheusSink struct {
	cyclesStarted   prometheus.Counter
	cyclesCompleted *prometheus.CounterVec
	cycleRuntime    *prometheus.HistogramVec

	records       *prometheus.CounterVec
	sourceErrors  *prometheus.CounterVec
	enrichRuns    *prometheus.CounterVec
	backupRuns    *prometheus.CounterVec
	coalescedRuns *prometheus.CounterVec
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		cyclesStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "camsync_cycles_started_total",
			Help: "Total sync cycles that have started.",
		}),
		cyclesCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "camsync_cycles_completed_total",
			Help: "Total sync cycles completed partitioned by result.",
		}, []string{"result"}),
		cycleRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "camsync_cycle_runtime_seconds",
			Help:    "Wall time per completed sync cycle.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"result"}),
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "camsync_records_total",
			Help: "Record outcomes partitioned by source and result.",
		}, []string{"source", "result"}),
		sourceErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "camsync_source_errors_total",
			Help: "Source fetch or normalize failures per source.",
		}, []string{"source"}),
		enrichRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "camsync_enrichment_runs_total",
			Help: "Image enrichment passes partitioned by result.",
		}, []string{"result"}),
		backupRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "camsync_backup_runs_total",
			Help: "Backup snapshots partitioned by result.",
		}, []string{"result"}),
		coalescedRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "camsync_triggers_coalesced_total",
			Help: "Manual or scheduled triggers skipped because a run was in flight.",
		}, []string{"job"}),
	}
	for _, collector := range []prometheus.Collector{
		s.cyclesStarted,
		s.cyclesCompleted,
		s.cycleRuntime,
		s.records,
		s.sourceErrors,
		s.enrichRuns,
		s.backupRuns,
		s.coalescedRuns,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors using the provided batch. Safe for
// concurrent use.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageCycleStart:
		s.cyclesStarted.Inc()
	case progress.StageCycleDone:
		s.cyclesCompleted.WithLabelValues("success").Inc()
		s.observeRuntime(evt, "success")
	case progress.StageCycleError:
		s.cyclesCompleted.WithLabelValues("error").Inc()
		s.observeRuntime(evt, "error")
	case progress.StageSourceDone:
		s.countRecords(evt)
	case progress.StageSourceError:
		s.sourceErrors.WithLabelValues(sourceLabel(evt)).Inc()
	case progress.StageRecordSkipped:
		s.records.WithLabelValues(sourceLabel(evt), "skipped").Inc()
	case progress.StageEnrichDone:
		s.enrichRuns.WithLabelValues("success").Inc()
	case progress.StageEnrichError:
		s.enrichRuns.WithLabelValues("error").Inc()
	case progress.StageBackupDone:
		s.backupRuns.WithLabelValues("success").Inc()
	case progress.StageBackupError:
		s.backupRuns.WithLabelValues("error").Inc()
	case progress.StageTriggerCoalesced:
		s.coalescedRuns.WithLabelValues(jobLabel(evt)).Inc()
	}
}

func (s *PrometheusSink) countRecords(evt progress.Event) {
	source := sourceLabel(evt)
	if evt.Created > 0 {
		s.records.WithLabelValues(source, "created").Add(float64(evt.Created))
	}
	if evt.Updated > 0 {
		s.records.WithLabelValues(source, "updated").Add(float64(evt.Updated))
	}
	if evt.Skipped > 0 {
		s.records.WithLabelValues(source, "skipped").Add(float64(evt.Skipped))
	}
	if evt.Failed > 0 {
		s.records.WithLabelValues(source, "failed").Add(float64(evt.Failed))
	}
}

func (s *PrometheusSink) observeRuntime(evt progress.Event, label string) {
	if evt.Dur > 0 {
		s.cycleRuntime.WithLabelValues(label).Observe(evt.Dur.Seconds())
	}
}

func sourceLabel(evt progress.Event) string {
	if evt.Source == "" {
		return "unknown"
	}
	return evt.Source
}

func jobLabel(evt progress.Event) string {
	if evt.Job == "" {
		return "unknown"
	}
	return evt.Job
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

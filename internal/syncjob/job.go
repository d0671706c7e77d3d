// Package syncjob runs discovery cycles: fetch every configured source,
// normalize and merge the records, then enrich cameras that still lack a
// cached image.
package syncjob

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/gearshed/camsync/internal/catalog"
	"github.com/gearshed/camsync/internal/progress"
)

// Config tunes a discovery cycle.
type Config struct {
	// MaxUpsertRetries bounds store write retries per record (default 2).
	MaxUpsertRetries int
	// UpsertRetryDelay separates store write retries (default 250ms).
	UpsertRetryDelay time.Duration
	// EnrichBatchSize caps how many image-less cameras one cycle enriches
	// (default 50).
	EnrichBatchSize int
	// EnrichWorkers bounds concurrent image acquisitions (default 4).
	EnrichWorkers int
	// ChangeTopic names the downstream topic for change events. Empty
	// disables publishing.
	ChangeTopic string
}

// Job executes one discovery cycle at a time over a fixed source list.
type Job struct {
	cfg        Config
	sources    []catalog.Source
	store      catalog.Store
	fetcher    catalog.Fetcher
	normalizer catalog.Normalizer
	assets     catalog.AssetCache
	publisher  catalog.Publisher
	emitter    progress.Emitter
	clock      catalog.Clock
	ids        catalog.IDGenerator
	logger     *zap.Logger
}

// Options carries the collaborators for New. Publisher and Emitter are
// optional; everything else is required.
type Options struct {
	Sources    []catalog.Source
	Store      catalog.Store
	Fetcher    catalog.Fetcher
	Normalizer catalog.Normalizer
	Assets     catalog.AssetCache
	Publisher  catalog.Publisher
	Emitter    progress.Emitter
	Clock      catalog.Clock
	IDs        catalog.IDGenerator
	Logger     *zap.Logger
}

// New validates opts and builds a Job.
func New(cfg Config, opts Options) (*Job, error) {
	switch {
	case opts.Store == nil:
		return nil, fmt.Errorf("store is required")
	case opts.Fetcher == nil:
		return nil, fmt.Errorf("fetcher is required")
	case opts.Normalizer == nil:
		return nil, fmt.Errorf("normalizer is required")
	case opts.Assets == nil:
		return nil, fmt.Errorf("asset cache is required")
	case opts.Clock == nil:
		return nil, fmt.Errorf("clock is required")
	case opts.IDs == nil:
		return nil, fmt.Errorf("id generator is required")
	}
	if cfg.MaxUpsertRetries <= 0 {
		cfg.MaxUpsertRetries = 2
	}
	if cfg.UpsertRetryDelay <= 0 {
		cfg.UpsertRetryDelay = 250 * time.Millisecond
	}
	if cfg.EnrichBatchSize <= 0 {
		cfg.EnrichBatchSize = 50
	}
	if cfg.EnrichWorkers <= 0 {
		cfg.EnrichWorkers = 4
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Job{
		cfg:        cfg,
		sources:    append([]catalog.Source(nil), opts.Sources...),
		store:      opts.Store,
		fetcher:    opts.Fetcher,
		normalizer: opts.Normalizer,
		assets:     opts.Assets,
		publisher:  opts.Publisher,
		emitter:    opts.Emitter,
		clock:      opts.Clock,
		ids:        opts.IDs,
		logger:     logger.Named("syncjob"),
	}, nil
}

// Run executes one full cycle. A failing source never aborts the cycle; the
// returned summary reports what each phase accomplished. Run returns an error
// only when every configured source failed or ctx was canceled.
func (j *Job) Run(ctx context.Context) (catalog.CycleSummary, error) {
	cycleID, err := j.ids.NewID()
	if err != nil {
		return catalog.CycleSummary{}, fmt.Errorf("generate cycle id: %w", err)
	}
	started := j.clock.Now()
	summary := catalog.CycleSummary{CycleID: cycleID, Started: started}

	j.emit(progress.Event{
		CycleID: progress.CycleIDFromString(cycleID),
		Job:     "sync",
		TS:      started,
		Stage:   progress.StageCycleStart,
	})
	j.logger.Info("discovery cycle started",
		zap.String("cycle_id", cycleID),
		zap.Int("sources", len(j.sources)))

	for _, src := range j.sources {
		if err := ctx.Err(); err != nil {
			j.finish(&summary, err)
			return summary, fmt.Errorf("discovery cycle interrupted: %w", err)
		}
		j.runSource(ctx, src, &summary)
	}

	j.enrich(ctx, &summary)

	if len(j.sources) > 0 && summary.SourcesFailed == len(j.sources) {
		err := fmt.Errorf("all %d sources failed: %w", len(j.sources), catalog.ErrSourceUnavailable)
		j.finish(&summary, err)
		return summary, err
	}
	j.finish(&summary, nil)
	return summary, nil
}

func (j *Job) runSource(ctx context.Context, src catalog.Source, summary *catalog.CycleSummary) {
	sourceStart := j.clock.Now()
	raws, err := j.fetcher.FetchSource(ctx, src)
	if err != nil {
		summary.SourcesFailed++
		j.logger.Warn("source fetch failed",
			zap.String("cycle_id", summary.CycleID),
			zap.String("source", src.Name),
			zap.Error(err))
		j.emit(progress.Event{
			CycleID: progress.CycleIDFromString(summary.CycleID),
			Job:     "sync",
			TS:      j.clock.Now(),
			Stage:   progress.StageSourceError,
			Source:  src.Name,
			Note:    err.Error(),
		})
		return
	}
	summary.Fetched += len(raws)

	var created, updated, skipped, lost int
	for _, raw := range raws {
		rec, err := j.normalizer.Normalize(raw, src)
		if err != nil {
			if catalog.IsSkip(err) {
				skipped++
				j.emit(progress.Event{
					CycleID: progress.CycleIDFromString(summary.CycleID),
					Job:     "sync",
					TS:      j.clock.Now(),
					Stage:   progress.StageRecordSkipped,
					Source:  src.Name,
					Skipped: 1,
					Note:    err.Error(),
				})
				continue
			}
			lost++
			j.logger.Warn("record normalization failed",
				zap.String("source", src.Name),
				zap.Error(err))
			continue
		}

		outcome, err := j.upsertWithRetry(ctx, rec)
		if err != nil {
			lost++
			j.logger.Error("record lost after store retries",
				zap.String("camera_id", rec.ID),
				zap.String("source", src.Name),
				zap.Error(err))
			continue
		}
		switch outcome {
		case catalog.UpsertCreated:
			created++
		case catalog.UpsertUpdated:
			updated++
		}
		j.publishChange(ctx, rec, outcome, summary.CycleID)
	}

	summary.Created += created
	summary.Updated += updated
	summary.Skipped += skipped
	summary.Lost += lost

	j.emit(progress.Event{
		CycleID: progress.CycleIDFromString(summary.CycleID),
		Job:     "sync",
		TS:      j.clock.Now(),
		Stage:   progress.StageSourceDone,
		Source:  src.Name,
		Created: int64(created),
		Updated: int64(updated),
		Skipped: int64(skipped),
		Failed:  int64(lost),
		Dur:     j.clock.Now().Sub(sourceStart),
	})
	j.logger.Info("source synced",
		zap.String("cycle_id", summary.CycleID),
		zap.String("source", src.Name),
		zap.Int("fetched", len(raws)),
		zap.Int("created", created),
		zap.Int("updated", updated),
		zap.Int("skipped", skipped),
		zap.Int("lost", lost))
}

// upsertWithRetry retries transient store failures; context cancellation and
// non-store errors surface immediately.
func (j *Job) upsertWithRetry(ctx context.Context, rec catalog.CameraRecord) (catalog.UpsertOutcome, error) {
	var lastErr error
	for attempt := 0; attempt <= j.cfg.MaxUpsertRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(j.cfg.UpsertRetryDelay):
			}
		}
		outcome, err := j.store.Upsert(ctx, rec)
		if err == nil {
			return outcome, nil
		}
		lastErr = err
		if !errors.Is(err, catalog.ErrStoreWrite) || ctx.Err() != nil {
			return "", err
		}
	}
	return "", lastErr
}

func (j *Job) publishChange(ctx context.Context, rec catalog.CameraRecord, outcome catalog.UpsertOutcome, cycleID string) {
	if j.publisher == nil || j.cfg.ChangeTopic == "" {
		return
	}
	evt := catalog.ChangeEvent{
		CameraID:  rec.ID,
		FullName:  rec.FullName,
		Outcome:   outcome,
		CycleID:   cycleID,
		Timestamp: j.clock.Now(),
	}
	if _, err := j.publisher.Publish(ctx, j.cfg.ChangeTopic, evt); err != nil {
		// Downstream notification is best effort.
		j.logger.Warn("change event publish failed",
			zap.String("camera_id", rec.ID),
			zap.Error(err))
	}
}

// enrich acquires images for cameras that still lack one, bounded by the
// configured batch size and worker count.
func (j *Job) enrich(ctx context.Context, summary *catalog.CycleSummary) {
	if ctx.Err() != nil {
		return
	}
	cams, err := j.store.ScanMissingImages(ctx, j.cfg.EnrichBatchSize)
	if err != nil {
		summary.EnrichFailed++
		j.logger.Warn("enrichment scan failed", zap.Error(err))
		j.emit(progress.Event{
			CycleID: progress.CycleIDFromString(summary.CycleID),
			Job:     "sync",
			TS:      j.clock.Now(),
			Stage:   progress.StageEnrichError,
			Note:    err.Error(),
		})
		return
	}
	if len(cams) == 0 {
		return
	}

	var enriched, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(j.cfg.EnrichWorkers)
	for _, cam := range cams {
		cam := cam
		g.Go(func() error {
			err := j.assets.Acquire(gctx, cam)
			switch {
			case err == nil:
				enriched.Add(1)
			case catalog.IsSkip(err):
				j.logger.Debug("enrichment skipped",
					zap.String("camera_id", cam.ID),
					zap.String("reason", err.Error()))
			default:
				failed.Add(1)
				j.logger.Warn("image acquisition failed",
					zap.String("camera_id", cam.ID),
					zap.Error(err))
			}
			// Acquisition failures never abort the batch.
			return nil
		})
	}
	_ = g.Wait()

	summary.Enriched += int(enriched.Load())
	summary.EnrichFailed += int(failed.Load())

	stage := progress.StageEnrichDone
	if failed.Load() > 0 {
		stage = progress.StageEnrichError
	}
	j.emit(progress.Event{
		CycleID: progress.CycleIDFromString(summary.CycleID),
		Job:     "sync",
		TS:      j.clock.Now(),
		Stage:   stage,
		Created: enriched.Load(),
		Failed:  failed.Load(),
	})
}

func (j *Job) finish(summary *catalog.CycleSummary, runErr error) {
	summary.Duration = j.clock.Now().Sub(summary.Started)

	stage := progress.StageCycleDone
	note := ""
	if runErr != nil {
		stage = progress.StageCycleError
		note = runErr.Error()
	}
	j.emit(progress.Event{
		CycleID: progress.CycleIDFromString(summary.CycleID),
		Job:     "sync",
		TS:      j.clock.Now(),
		Stage:   stage,
		Created: int64(summary.Created),
		Updated: int64(summary.Updated),
		Skipped: int64(summary.Skipped),
		Failed:  int64(summary.Lost),
		Dur:     summary.Duration,
		Note:    note,
	})
	j.logger.Info("discovery cycle finished",
		zap.String("cycle_id", summary.CycleID),
		zap.Duration("duration", summary.Duration),
		zap.Int("fetched", summary.Fetched),
		zap.Int("created", summary.Created),
		zap.Int("updated", summary.Updated),
		zap.Int("skipped", summary.Skipped),
		zap.Int("lost", summary.Lost),
		zap.Int("sources_failed", summary.SourcesFailed),
		zap.Int("enriched", summary.Enriched),
		zap.Int("enrich_failed", summary.EnrichFailed))
}

func (j *Job) emit(evt progress.Event) {
	if j.emitter == nil {
		return
	}
	j.emitter.Emit(evt)
}

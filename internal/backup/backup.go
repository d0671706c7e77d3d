// Package backup snapshots the catalog to timestamped JSON artifacts and
// enforces a retention count over prior snapshots.
package backup

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gearshed/camsync/internal/catalog"
	"github.com/gearshed/camsync/internal/progress"
)

const (
	snapshotPrefix = "catalog-"
	snapshotSuffix = ".json"
	timestampForm  = "20060102T150405Z"
)

// Exporter is the read surface the backup job needs from the catalog store.
type Exporter interface {
	AllCameras(ctx context.Context) ([]catalog.CameraRecord, error)
	AllAttributions(ctx context.Context) ([]catalog.ImageAttributionRecord, error)
}

// Uploader mirrors a finished snapshot to remote storage.
type Uploader interface {
	Upload(ctx context.Context, name string, data []byte) (string, error)
}

// Config controls the backup job.
type Config struct {
	// Dir is the local snapshot directory.
	Dir string
	// RetentionCount keeps the N most recent snapshots (default 5).
	RetentionCount int
}

// Snapshot is the serialized artifact layout.
type Snapshot struct {
	CreatedAt    time.Time                        `json:"created_at"`
	Cameras      []catalog.CameraRecord           `json:"cameras"`
	Attributions []catalog.ImageAttributionRecord `json:"attributions"`
}

// Job writes catalog snapshots and prunes expired ones. An Uploader is
// optional; upload failures never fail the run.
type Job struct {
	cfg      Config
	store    Exporter
	uploader Uploader
	emitter  progress.Emitter
	clock    catalog.Clock
	logger   *zap.Logger
}

// New validates the configuration and creates the snapshot directory.
func New(cfg Config, store Exporter, uploader Uploader, emitter progress.Emitter, clock catalog.Clock, logger *zap.Logger) (*Job, error) {
	if strings.TrimSpace(cfg.Dir) == "" {
		return nil, fmt.Errorf("backup directory is required")
	}
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if clock == nil {
		return nil, fmt.Errorf("clock is required")
	}
	if cfg.RetentionCount <= 0 {
		cfg.RetentionCount = 5
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(cfg.Dir, 0o750); err != nil {
		return nil, fmt.Errorf("create backup directory: %w", err)
	}
	return &Job{
		cfg:      cfg,
		store:    store,
		uploader: uploader,
		emitter:  emitter,
		clock:    clock,
		logger:   logger.Named("backup"),
	}, nil
}

// Run writes one snapshot and prunes beyond the retention count.
func (j *Job) Run(ctx context.Context) error {
	start := j.clock.Now()
	runID := [16]byte(uuid.New())

	path, err := j.writeSnapshot(ctx, start)
	if err != nil {
		j.emit(runID, progress.StageBackupError, j.clock.Now().Sub(start), err.Error())
		return fmt.Errorf("%w: %v", catalog.ErrBackup, err)
	}

	pruned, err := j.prune()
	if err != nil {
		// The snapshot itself succeeded; stale artifacts stick around until
		// the next run.
		j.logger.Warn("snapshot retention prune failed", zap.Error(err))
	}

	if j.uploader != nil {
		j.mirror(ctx, path)
	}

	dur := j.clock.Now().Sub(start)
	j.emit(runID, progress.StageBackupDone, dur, "")
	j.logger.Info("catalog snapshot written",
		zap.String("path", path),
		zap.Int("pruned", pruned),
		zap.Duration("dur", dur))
	return nil
}

func (j *Job) writeSnapshot(ctx context.Context, now time.Time) (string, error) {
	cameras, err := j.store.AllCameras(ctx)
	if err != nil {
		return "", fmt.Errorf("export cameras: %w", err)
	}
	attrs, err := j.store.AllAttributions(ctx)
	if err != nil {
		return "", fmt.Errorf("export attributions: %w", err)
	}

	data, err := json.MarshalIndent(Snapshot{
		CreatedAt:    now.UTC(),
		Cameras:      cameras,
		Attributions: attrs,
	}, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal snapshot: %w", err)
	}

	name := snapshotPrefix + now.UTC().Format(timestampForm) + snapshotSuffix
	finalPath := filepath.Join(j.cfg.Dir, name)

	tmp, err := os.CreateTemp(j.cfg.Dir, name+".*.part")
	if err != nil {
		return "", fmt.Errorf("create temp snapshot: %w", err)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck // no-op after rename

	_, err = tmp.Write(data)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return "", fmt.Errorf("write snapshot: %w", err)
	}
	if err := os.Rename(tmp.Name(), finalPath); err != nil {
		return "", fmt.Errorf("store snapshot: %w", err)
	}
	return finalPath, nil
}

// prune deletes the oldest snapshots beyond the retention count. Timestamped
// names sort lexicographically in time order.
func (j *Job) prune() (int, error) {
	names, err := j.snapshotNames()
	if err != nil {
		return 0, err
	}
	if len(names) <= j.cfg.RetentionCount {
		return 0, nil
	}
	sort.Sort(sort.Reverse(sort.StringSlice(names)))

	pruned := 0
	for _, name := range names[j.cfg.RetentionCount:] {
		if err := os.Remove(filepath.Join(j.cfg.Dir, name)); err != nil {
			return pruned, fmt.Errorf("remove expired snapshot %s: %w", name, err)
		}
		pruned++
	}
	return pruned, nil
}

func (j *Job) snapshotNames() ([]string, error) {
	entries, err := os.ReadDir(j.cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("list snapshot directory: %w", err)
	}
	var names []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, snapshotPrefix) || !strings.HasSuffix(name, snapshotSuffix) {
			continue
		}
		names = append(names, name)
	}
	return names, nil
}

// mirror pushes the snapshot to remote storage, best effort.
func (j *Job) mirror(ctx context.Context, path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		j.logger.Warn("snapshot mirror read failed", zap.Error(err))
		return
	}
	uri, err := j.uploader.Upload(ctx, filepath.Base(path), data)
	if err != nil {
		j.logger.Warn("snapshot mirror upload failed", zap.Error(err))
		return
	}
	j.logger.Info("snapshot mirrored", zap.String("uri", uri))
}

func (j *Job) emit(runID [16]byte, stage progress.Stage, dur time.Duration, note string) {
	if j.emitter == nil {
		return
	}
	j.emitter.Emit(progress.Event{
		CycleID: runID,
		Job:     "backup",
		TS:      j.clock.Now(),
		Stage:   stage,
		Dur:     dur,
		Note:    note,
	})
}

// Restore reads a snapshot artifact back into memory, for operator tooling.
func Restore(path string) (Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Snapshot{}, fmt.Errorf("read snapshot: %w", err)
	}
	var snap Snapshot
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&snap); err != nil {
		return Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return snap, nil
}

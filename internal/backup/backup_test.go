package backup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gearshed/camsync/internal/catalog"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fakeExporter struct {
	cameras   []catalog.CameraRecord
	attrs     []catalog.ImageAttributionRecord
	exportErr error
}

func (e *fakeExporter) AllCameras(context.Context) ([]catalog.CameraRecord, error) {
	if e.exportErr != nil {
		return nil, e.exportErr
	}
	return e.cameras, nil
}

func (e *fakeExporter) AllAttributions(context.Context) ([]catalog.ImageAttributionRecord, error) {
	return e.attrs, nil
}

type fakeUploader struct {
	mu      sync.Mutex
	objects map[string][]byte
	err     error
}

func (u *fakeUploader) Upload(_ context.Context, name string, data []byte) (string, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.err != nil {
		return "", u.err
	}
	if u.objects == nil {
		u.objects = make(map[string][]byte)
	}
	u.objects[name] = data
	return "gs://test-bucket/" + name, nil
}

func snapshotFiles(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names
}

func TestRunWritesSnapshot(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	clock := &fakeClock{t: time.Date(2026, 8, 28, 3, 30, 0, 0, time.UTC)}
	local := "data/images/sony-a7-iv-2021.jpg"
	store := &fakeExporter{
		cameras: []catalog.CameraRecord{{
			ID:             "sony-a7-iv-2021",
			Brand:          "Sony",
			Model:          "A7 IV",
			FullName:       "Sony A7 IV",
			Status:         catalog.StatusVerified,
			LocalImagePath: &local,
			LastUpdated:    clock.t,
		}},
		attrs: []catalog.ImageAttributionRecord{{
			ID:        1,
			CameraID:  "sony-a7-iv-2021",
			ImageURL:  "https://img.example.com/a7iv.jpg",
			LocalPath: local,
			CreatedAt: clock.t,
		}},
	}

	job, err := New(Config{Dir: dir, RetentionCount: 5}, store, nil, nil, clock, nil)
	require.NoError(t, err)
	require.NoError(t, job.Run(context.Background()))

	names := snapshotFiles(t, dir)
	require.Equal(t, []string{"catalog-20260828T033000Z.json"}, names)

	snap, err := Restore(filepath.Join(dir, names[0]))
	require.NoError(t, err)
	require.Len(t, snap.Cameras, 1)
	require.Len(t, snap.Attributions, 1)
	require.Equal(t, "sony-a7-iv-2021", snap.Cameras[0].ID)
	require.Equal(t, local, snap.Attributions[0].LocalPath)
}

func TestRunPrunesBeyondRetention(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	clock := &fakeClock{t: time.Date(2026, 8, 20, 3, 30, 0, 0, time.UTC)}
	job, err := New(Config{Dir: dir, RetentionCount: 5}, &fakeExporter{}, nil, nil, clock, nil)
	require.NoError(t, err)

	for i := 0; i < 7; i++ {
		require.NoError(t, job.Run(context.Background()))
		clock.advance(24 * time.Hour)
	}

	names := snapshotFiles(t, dir)
	require.Len(t, names, 5)
	// The two oldest runs are gone.
	require.Equal(t, "catalog-20260822T033000Z.json", names[0])
	require.Equal(t, "catalog-20260826T033000Z.json", names[4])
}

func TestRunIgnoresForeignFilesWhenPruning(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	clock := &fakeClock{t: time.Date(2026, 8, 20, 3, 30, 0, 0, time.UTC)}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.txt"), []byte("keep"), 0o600))

	job, err := New(Config{Dir: dir, RetentionCount: 1}, &fakeExporter{}, nil, nil, clock, nil)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		require.NoError(t, job.Run(context.Background()))
		clock.advance(24 * time.Hour)
	}

	names := snapshotFiles(t, dir)
	require.Equal(t, []string{"README.txt", "catalog-20260822T033000Z.json"}, names)
}

func TestRunFailsWhenExportFails(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{t: time.Unix(1700000000, 0).UTC()}
	store := &fakeExporter{exportErr: fmt.Errorf("connection reset")}

	job, err := New(Config{Dir: t.TempDir()}, store, nil, nil, clock, nil)
	require.NoError(t, err)

	err = job.Run(context.Background())
	require.ErrorIs(t, err, catalog.ErrBackup)
}

func TestRunMirrorsSnapshot(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{t: time.Date(2026, 8, 28, 3, 30, 0, 0, time.UTC)}
	uploader := &fakeUploader{}

	job, err := New(Config{Dir: t.TempDir()}, &fakeExporter{}, uploader, nil, clock, nil)
	require.NoError(t, err)
	require.NoError(t, job.Run(context.Background()))

	uploader.mu.Lock()
	defer uploader.mu.Unlock()
	require.Contains(t, uploader.objects, "catalog-20260828T033000Z.json")
}

func TestRunSurvivesUploadFailure(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	clock := &fakeClock{t: time.Date(2026, 8, 28, 3, 30, 0, 0, time.UTC)}
	uploader := &fakeUploader{err: fmt.Errorf("bucket unreachable")}

	job, err := New(Config{Dir: dir}, &fakeExporter{}, uploader, nil, clock, nil)
	require.NoError(t, err)

	// A failing mirror never fails the backup itself.
	require.NoError(t, job.Run(context.Background()))
	require.Len(t, snapshotFiles(t, dir), 1)
}

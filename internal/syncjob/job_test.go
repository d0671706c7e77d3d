package syncjob

import (
	"context"
	"fmt"
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
	c.t = c.t.Add(time.Millisecond)
	return c.t
}

type fakeIDs struct{}

func (fakeIDs) NewID() (string, error) { return "0190a1b2-0000-7000-8000-000000000001", nil }

type fakeFetcher struct {
	payloads map[string][]catalog.RawRecord
	errs     map[string]error
}

func (f *fakeFetcher) FetchSource(_ context.Context, src catalog.Source) ([]catalog.RawRecord, error) {
	if err, ok := f.errs[src.Name]; ok {
		return nil, err
	}
	return f.payloads[src.Name], nil
}

type fakeNormalizer struct{}

func (fakeNormalizer) Normalize(raw catalog.RawRecord, src catalog.Source) (catalog.CameraRecord, error) {
	id, _ := raw.Fields["id"].(string)
	if id == "" {
		return catalog.CameraRecord{}, catalog.Skip("record from %s has no id", raw.Source)
	}
	status := catalog.StatusRumor
	if src.Trust == catalog.TrustVerified {
		status = catalog.StatusVerified
	}
	return catalog.CameraRecord{ID: id, Brand: "Test", Model: id, FullName: "Test " + id, Status: status}, nil
}

type fakeStore struct {
	mu          sync.Mutex
	upserts     map[string]int
	failWrites  map[string]int // id -> remaining transient failures
	missing     []catalog.CameraRecord
	scanErr     error
	knownIDs    map[string]bool
	assetWrites int
}

func newStoreFake() *fakeStore {
	return &fakeStore{
		upserts:    make(map[string]int),
		failWrites: make(map[string]int),
		knownIDs:   make(map[string]bool),
	}
}

func (s *fakeStore) Upsert(_ context.Context, rec catalog.CameraRecord) (catalog.UpsertOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n := s.failWrites[rec.ID]; n > 0 {
		s.failWrites[rec.ID] = n - 1
		return "", fmt.Errorf("%w: simulated outage", catalog.ErrStoreWrite)
	}
	s.upserts[rec.ID]++
	if s.knownIDs[rec.ID] {
		return catalog.UpsertUpdated, nil
	}
	s.knownIDs[rec.ID] = true
	return catalog.UpsertCreated, nil
}

func (s *fakeStore) Lookup(_ context.Context, id string) (catalog.CameraRecord, error) {
	return catalog.CameraRecord{}, catalog.ErrNotFound
}

func (s *fakeStore) ScanMissingImages(context.Context, int) ([]catalog.CameraRecord, error) {
	if s.scanErr != nil {
		return nil, s.scanErr
	}
	return s.missing, nil
}

func (s *fakeStore) AggregateStats(context.Context) (catalog.Stats, error) {
	return catalog.Stats{}, nil
}

func (s *fakeStore) SetImageAssets(context.Context, string, string, catalog.ImageAttributionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assetWrites++
	return nil
}

func (s *fakeStore) AttributionsForCamera(context.Context, string) ([]catalog.ImageAttributionRecord, error) {
	return nil, nil
}

type fakeAssets struct {
	mu       sync.Mutex
	acquired []string
	errs     map[string]error
}

func (a *fakeAssets) Acquire(_ context.Context, cam catalog.CameraRecord) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err, ok := a.errs[cam.ID]; ok {
		return err
	}
	a.acquired = append(a.acquired, cam.ID)
	return nil
}

type fakePublisher struct {
	mu     sync.Mutex
	topics []string
	events []catalog.ChangeEvent
}

func (p *fakePublisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
	if evt, ok := payload.(catalog.ChangeEvent); ok {
		p.events = append(p.events, evt)
	}
	return "msg-1", nil
}

func rawRecord(source, id string) catalog.RawRecord {
	return catalog.RawRecord{Source: source, Fields: map[string]any{"id": id}}
}

func newTestJob(t *testing.T, cfg Config, opts Options) *Job {
	t.Helper()
	if opts.Store == nil {
		opts.Store = newStoreFake()
	}
	if opts.Fetcher == nil {
		opts.Fetcher = &fakeFetcher{}
	}
	if opts.Normalizer == nil {
		opts.Normalizer = fakeNormalizer{}
	}
	if opts.Assets == nil {
		opts.Assets = &fakeAssets{}
	}
	if opts.Clock == nil {
		opts.Clock = &fakeClock{t: time.Unix(1700000000, 0).UTC()}
	}
	if opts.IDs == nil {
		opts.IDs = fakeIDs{}
	}
	if cfg.UpsertRetryDelay == 0 {
		cfg.UpsertRetryDelay = time.Millisecond
	}
	job, err := New(cfg, opts)
	require.NoError(t, err)
	return job
}

func TestRunSyncsAllSources(t *testing.T) {
	t.Parallel()

	store := newStoreFake()
	store.knownIDs["sony-a7-iv-2021"] = true
	fetcher := &fakeFetcher{payloads: map[string][]catalog.RawRecord{
		"presswire":  {rawRecord("presswire", "sony-a7-iv-2021"), rawRecord("presswire", "canon-r5-2020")},
		"retailfeed": {rawRecord("retailfeed", "nikon-z8-2023")},
	}}
	pub := &fakePublisher{}

	job := newTestJob(t, Config{ChangeTopic: "camera-changes"}, Options{
		Sources: []catalog.Source{
			{Name: "presswire", Trust: catalog.TrustVerified},
			{Name: "retailfeed", Trust: catalog.TrustRumor},
		},
		Store:     store,
		Fetcher:   fetcher,
		Publisher: pub,
	})

	summary, err := job.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, summary.Fetched)
	require.Equal(t, 2, summary.Created)
	require.Equal(t, 1, summary.Updated)
	require.Zero(t, summary.Skipped)
	require.Zero(t, summary.Lost)
	require.Zero(t, summary.SourcesFailed)

	require.Len(t, pub.events, 3)
	require.Equal(t, []string{"camera-changes", "camera-changes", "camera-changes"}, pub.topics)
	require.Equal(t, summary.CycleID, pub.events[0].CycleID)
}

func TestRunIsolatesFailingSource(t *testing.T) {
	t.Parallel()

	store := newStoreFake()
	fetcher := &fakeFetcher{
		payloads: map[string][]catalog.RawRecord{
			"presswire": {rawRecord("presswire", "fuji-x-t5-2022")},
		},
		errs: map[string]error{
			"retailfeed": fmt.Errorf("fetch: %w", catalog.ErrSourceUnavailable),
		},
	}

	job := newTestJob(t, Config{}, Options{
		Sources: []catalog.Source{
			{Name: "retailfeed"},
			{Name: "presswire"},
		},
		Store:   store,
		Fetcher: fetcher,
	})

	summary, err := job.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, summary.SourcesFailed)
	require.Equal(t, 1, summary.Created)
	require.Equal(t, 1, store.upserts["fuji-x-t5-2022"])
}

func TestRunFailsWhenEverySourceFails(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{errs: map[string]error{
		"a": catalog.ErrSourceUnavailable,
		"b": catalog.ErrSourceUnavailable,
	}}

	job := newTestJob(t, Config{}, Options{
		Sources: []catalog.Source{{Name: "a"}, {Name: "b"}},
		Fetcher: fetcher,
	})

	summary, err := job.Run(context.Background())
	require.ErrorIs(t, err, catalog.ErrSourceUnavailable)
	require.Equal(t, 2, summary.SourcesFailed)
}

func TestRunCountsSkippedRecords(t *testing.T) {
	t.Parallel()

	store := newStoreFake()
	fetcher := &fakeFetcher{payloads: map[string][]catalog.RawRecord{
		"presswire": {
			rawRecord("presswire", "leica-q3-2023"),
			{Source: "presswire", Fields: map[string]any{"noise": true}},
			{Source: "presswire", Fields: map[string]any{}},
		},
	}}

	job := newTestJob(t, Config{}, Options{
		Sources: []catalog.Source{{Name: "presswire"}},
		Store:   store,
		Fetcher: fetcher,
	})

	summary, err := job.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, summary.Fetched)
	require.Equal(t, 1, summary.Created)
	require.Equal(t, 2, summary.Skipped)
}

func TestRunRetriesTransientStoreFailures(t *testing.T) {
	t.Parallel()

	store := newStoreFake()
	store.failWrites["om-om1-2022"] = 2
	fetcher := &fakeFetcher{payloads: map[string][]catalog.RawRecord{
		"presswire": {rawRecord("presswire", "om-om1-2022")},
	}}

	job := newTestJob(t, Config{MaxUpsertRetries: 2}, Options{
		Sources: []catalog.Source{{Name: "presswire"}},
		Store:   store,
		Fetcher: fetcher,
	})

	summary, err := job.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, summary.Created)
	require.Zero(t, summary.Lost)
	require.Equal(t, 1, store.upserts["om-om1-2022"])
}

func TestRunCountsRecordLostAfterRetries(t *testing.T) {
	t.Parallel()

	store := newStoreFake()
	store.failWrites["ghost-cam"] = 10
	fetcher := &fakeFetcher{payloads: map[string][]catalog.RawRecord{
		"presswire": {rawRecord("presswire", "ghost-cam"), rawRecord("presswire", "real-cam")},
	}}

	job := newTestJob(t, Config{MaxUpsertRetries: 1}, Options{
		Sources: []catalog.Source{{Name: "presswire"}},
		Store:   store,
		Fetcher: fetcher,
	})

	summary, err := job.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, summary.Lost)
	require.Equal(t, 1, summary.Created)
}

func TestRunEnrichesMissingImages(t *testing.T) {
	t.Parallel()

	img := "https://img.example.com/x.jpg"
	store := newStoreFake()
	store.missing = []catalog.CameraRecord{
		{ID: "cam-1", ImageURL: &img},
		{ID: "cam-2", ImageURL: &img},
		{ID: "cam-3", ImageURL: &img},
	}
	assets := &fakeAssets{errs: map[string]error{
		"cam-2": catalog.Skip("license not allowed"),
		"cam-3": fmt.Errorf("download: %w", catalog.ErrAssetAcquisition),
	}}

	job := newTestJob(t, Config{EnrichWorkers: 2}, Options{
		Store:  store,
		Assets: assets,
	})

	summary, err := job.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, summary.Enriched)
	require.Equal(t, 1, summary.EnrichFailed)
	require.Equal(t, []string{"cam-1"}, assets.acquired)
}

func TestRunSurvivesEnrichmentScanFailure(t *testing.T) {
	t.Parallel()

	store := newStoreFake()
	store.scanErr = fmt.Errorf("scan: %w", catalog.ErrStoreWrite)

	job := newTestJob(t, Config{}, Options{Store: store})

	summary, err := job.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, summary.EnrichFailed)
}

func TestRunStopsOnCanceledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	job := newTestJob(t, Config{}, Options{
		Sources: []catalog.Source{{Name: "presswire"}},
	})

	_, err := job.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestRunIsIdempotentAcrossCycles(t *testing.T) {
	t.Parallel()

	store := newStoreFake()
	fetcher := &fakeFetcher{payloads: map[string][]catalog.RawRecord{
		"presswire": {rawRecord("presswire", "pentax-k3-2021")},
	}}

	job := newTestJob(t, Config{}, Options{
		Sources: []catalog.Source{{Name: "presswire"}},
		Store:   store,
		Fetcher: fetcher,
	})

	first, err := job.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, first.Created)

	second, err := job.Run(context.Background())
	require.NoError(t, err)
	require.Zero(t, second.Created)
	require.Equal(t, 1, second.Updated)
}

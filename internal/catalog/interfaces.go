package catalog

import (
	"context"
	"time"
)

// Store persists camera rows and image attributions.
type Store interface {
	// Upsert transactionally merges rec into the store. Fields that are nil
	// on rec never erase previously stored values.
	Upsert(ctx context.Context, rec CameraRecord) (UpsertOutcome, error)
	// Lookup returns the row for id, or ErrNotFound.
	Lookup(ctx context.Context, id string) (CameraRecord, error)
	// ScanMissingImages lists cameras that have a source image candidate but
	// no cached local image yet, oldest first.
	ScanMissingImages(ctx context.Context, limit int) ([]CameraRecord, error)
	// AggregateStats computes the operator-facing aggregate counters.
	AggregateStats(ctx context.Context) (Stats, error)
	// SetImageAssets records a completed acquisition: the attribution row and
	// the camera's image columns change in one transaction.
	SetImageAssets(ctx context.Context, cameraID, thumbnailPath string, attr ImageAttributionRecord) error
	// AttributionsForCamera lists attribution rows for one camera.
	AttributionsForCamera(ctx context.Context, cameraID string) ([]ImageAttributionRecord, error)
}

// Fetcher retrieves the raw records of one source.
type Fetcher interface {
	FetchSource(ctx context.Context, src Source) ([]RawRecord, error)
}

// Normalizer maps one raw record onto the canonical schema, or rejects it
// with a SkipError.
type Normalizer interface {
	Normalize(raw RawRecord, src Source) (CameraRecord, error)
}

// AssetCache downloads and caches a camera's source image.
type AssetCache interface {
	Acquire(ctx context.Context, cam CameraRecord) error
}

// Publisher pushes change notifications to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces cycle IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}

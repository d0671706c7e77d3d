// Package postgres provides the Postgres-backed catalog store.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gearshed/camsync/internal/catalog"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type dbPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
	Close()
}

// CatalogStore persists camera rows and image attributions in Postgres.
// Every mutation is a single transaction, so a crash mid-write never leaves
// a row with inconsistent last_updated vs field state.
type CatalogStore struct {
	pool  dbPool
	clock catalog.Clock
}

// New connects a CatalogStore and verifies the connection is alive.
func New(ctx context.Context, cfg Config, clock catalog.Clock) (*CatalogStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &CatalogStore{pool: pool, clock: clock}, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(pool dbPool, clock catalog.Clock) (*CatalogStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &CatalogStore{pool: pool, clock: clock}, nil
}

// Close releases the underlying pool resources.
func (s *CatalogStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Ping verifies database connectivity.
func (s *CatalogStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// EnsureSchema creates the catalog tables when they do not exist yet.
func (s *CatalogStore) EnsureSchema(ctx context.Context) error {
	for _, ddl := range []string{camerasDDL, attributionsDDL, attributionsIndexDDL} {
		if _, err := s.pool.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

const cameraColumns = `id, brand, model, full_name, status, category, release_year,
	msrp, current_price, sensor, processor, mount, manual_url, key_features,
	specs, image_url, image_author, image_license, local_image_path,
	thumbnail_path, image_attribution, last_updated`

// upsertQuery merges the incoming row field-by-field. Optional columns only
// overwrite when the incoming value is non-null; the image trio is never
// erased by a payload that omits it; a rumor observation never downgrades a
// verified row. xmax = 0 only holds for freshly inserted tuples.
const upsertQuery = `
INSERT INTO cameras (` + cameraColumns + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22)
ON CONFLICT (id) DO UPDATE SET
	brand             = EXCLUDED.brand,
	model             = EXCLUDED.model,
	full_name         = EXCLUDED.full_name,
	status            = CASE WHEN EXCLUDED.status = 'verified' THEN EXCLUDED.status ELSE cameras.status END,
	category          = COALESCE(EXCLUDED.category, cameras.category),
	release_year      = COALESCE(EXCLUDED.release_year, cameras.release_year),
	msrp              = COALESCE(EXCLUDED.msrp, cameras.msrp),
	current_price     = COALESCE(EXCLUDED.current_price, cameras.current_price),
	sensor            = COALESCE(EXCLUDED.sensor, cameras.sensor),
	processor         = COALESCE(EXCLUDED.processor, cameras.processor),
	mount             = COALESCE(EXCLUDED.mount, cameras.mount),
	manual_url        = COALESCE(EXCLUDED.manual_url, cameras.manual_url),
	key_features      = COALESCE(EXCLUDED.key_features, cameras.key_features),
	specs             = COALESCE(EXCLUDED.specs, cameras.specs),
	image_url         = COALESCE(EXCLUDED.image_url, cameras.image_url),
	image_author      = COALESCE(EXCLUDED.image_author, cameras.image_author),
	image_license     = COALESCE(EXCLUDED.image_license, cameras.image_license),
	local_image_path  = COALESCE(EXCLUDED.local_image_path, cameras.local_image_path),
	thumbnail_path    = COALESCE(EXCLUDED.thumbnail_path, cameras.thumbnail_path),
	image_attribution = COALESCE(EXCLUDED.image_attribution, cameras.image_attribution),
	last_updated      = EXCLUDED.last_updated
RETURNING (xmax = 0)`

// Upsert transactionally merges rec into the store and stamps last_updated.
func (s *CatalogStore) Upsert(ctx context.Context, rec catalog.CameraRecord) (catalog.UpsertOutcome, error) {
	if rec.ID == "" {
		return "", fmt.Errorf("%w: record id is required", catalog.ErrStoreWrite)
	}
	features, err := marshalJSONB(rec.KeyFeatures)
	if err != nil {
		return "", fmt.Errorf("%w: marshal key features: %v", catalog.ErrStoreWrite, err)
	}
	specs, err := marshalJSONB(rec.Specs)
	if err != nil {
		return "", fmt.Errorf("%w: marshal specs: %v", catalog.ErrStoreWrite, err)
	}

	var created bool
	err = s.pool.QueryRow(ctx, upsertQuery,
		rec.ID,
		rec.Brand,
		rec.Model,
		rec.FullName,
		string(rec.Status),
		rec.Category,
		rec.ReleaseYear,
		rec.MSRP,
		rec.CurrentPrice,
		rec.Sensor,
		rec.Processor,
		rec.Mount,
		rec.ManualURL,
		features,
		specs,
		rec.ImageURL,
		rec.ImageAuthor,
		rec.ImageLicense,
		rec.LocalImagePath,
		rec.ThumbnailPath,
		rec.ImageAttribution,
		s.clock.Now(),
	).Scan(&created)
	if err != nil {
		return "", fmt.Errorf("%w: upsert %s: %v", catalog.ErrStoreWrite, rec.ID, err)
	}
	if created {
		return catalog.UpsertCreated, nil
	}
	return catalog.UpsertUpdated, nil
}

// Lookup returns the row for id, or catalog.ErrNotFound.
func (s *CatalogStore) Lookup(ctx context.Context, id string) (catalog.CameraRecord, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+cameraColumns+` FROM cameras WHERE id = $1`, id)
	rec, err := scanCamera(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return catalog.CameraRecord{}, catalog.ErrNotFound
		}
		return catalog.CameraRecord{}, fmt.Errorf("lookup %s: %w", id, err)
	}
	return rec, nil
}

// ScanMissingImages lists cameras with a source image candidate but no cached
// local image, oldest first.
func (s *CatalogStore) ScanMissingImages(ctx context.Context, limit int) ([]catalog.CameraRecord, error) {
	rows, err := s.pool.Query(ctx, `
SELECT `+cameraColumns+`
FROM cameras
WHERE local_image_path IS NULL AND image_url IS NOT NULL
ORDER BY last_updated ASC
LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("scan missing images: %w", err)
	}
	defer rows.Close()

	var out []catalog.CameraRecord
	for rows.Next() {
		rec, err := scanCamera(rows)
		if err != nil {
			return nil, fmt.Errorf("scan missing images row: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("scan missing images rows: %w", err)
	}
	return out, nil
}

// AggregateStats computes the operator-facing aggregate counters.
func (s *CatalogStore) AggregateStats(ctx context.Context) (catalog.Stats, error) {
	var stats catalog.Stats
	err := s.pool.QueryRow(ctx, `
SELECT
	COUNT(*),
	COUNT(*) FILTER (WHERE status = 'verified'),
	COUNT(*) FILTER (WHERE status = 'rumor'),
	COUNT(*) FILTER (WHERE local_image_path IS NOT NULL)
FROM cameras`).Scan(&stats.Total, &stats.Verified, &stats.Rumors, &stats.WithImages)
	if err != nil {
		return catalog.Stats{}, fmt.Errorf("aggregate stats: %w", err)
	}
	if stats.Total > 0 {
		stats.CoveragePercent = math.Round(float64(stats.WithImages)/float64(stats.Total)*1000) / 10
	}
	return stats, nil
}

// SetImageAssets records a completed acquisition: the attribution row and the
// camera's image columns change in one transaction.
func (s *CatalogStore) SetImageAssets(ctx context.Context, cameraID, thumbnailPath string, attr catalog.ImageAttributionRecord) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: begin: %v", catalog.ErrStoreWrite, err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	now := s.clock.Now()
	var attrID int64
	err = tx.QueryRow(ctx, `
INSERT INTO image_attributions (camera_id, image_url, local_path, source, author, license, attribution_text, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
RETURNING id`,
		cameraID, attr.ImageURL, attr.LocalPath, attr.Source, attr.Author, attr.License, attr.AttributionText, now,
	).Scan(&attrID)
	if err != nil {
		return fmt.Errorf("%w: insert attribution for %s: %v", catalog.ErrStoreWrite, cameraID, err)
	}

	tag, err := tx.Exec(ctx, `
UPDATE cameras
SET local_image_path = $1, thumbnail_path = NULLIF($2, ''), image_attribution = $3, last_updated = $4
WHERE id = $5`,
		attr.LocalPath, thumbnailPath, attr.AttributionText, now, cameraID)
	if err != nil {
		return fmt.Errorf("%w: set image assets for %s: %v", catalog.ErrStoreWrite, cameraID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("set image assets for %s: %w", cameraID, catalog.ErrNotFound)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: commit image assets for %s: %v", catalog.ErrStoreWrite, cameraID, err)
	}
	return nil
}

// AttributionsForCamera lists attribution rows for one camera, newest first.
func (s *CatalogStore) AttributionsForCamera(ctx context.Context, cameraID string) ([]catalog.ImageAttributionRecord, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id, camera_id, image_url, local_path, source, author, license, attribution_text, created_at
FROM image_attributions
WHERE camera_id = $1
ORDER BY created_at DESC`, cameraID)
	if err != nil {
		return nil, fmt.Errorf("attributions for %s: %w", cameraID, err)
	}
	defer rows.Close()
	return collectAttributions(rows)
}

// AllCameras reads the full cameras table for snapshotting.
func (s *CatalogStore) AllCameras(ctx context.Context) ([]catalog.CameraRecord, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+cameraColumns+` FROM cameras ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("all cameras: %w", err)
	}
	defer rows.Close()

	var out []catalog.CameraRecord
	for rows.Next() {
		rec, err := scanCamera(rows)
		if err != nil {
			return nil, fmt.Errorf("all cameras row: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("all cameras rows: %w", err)
	}
	return out, nil
}

// AllAttributions reads the full attribution table for snapshotting.
func (s *CatalogStore) AllAttributions(ctx context.Context) ([]catalog.ImageAttributionRecord, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id, camera_id, image_url, local_path, source, author, license, attribution_text, created_at
FROM image_attributions
ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("all attributions: %w", err)
	}
	defer rows.Close()
	return collectAttributions(rows)
}

func collectAttributions(rows pgx.Rows) ([]catalog.ImageAttributionRecord, error) {
	var out []catalog.ImageAttributionRecord
	for rows.Next() {
		var attr catalog.ImageAttributionRecord
		var source, author, license, text *string
		if err := rows.Scan(
			&attr.ID,
			&attr.CameraID,
			&attr.ImageURL,
			&attr.LocalPath,
			&source,
			&author,
			&license,
			&text,
			&attr.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan attribution row: %w", err)
		}
		attr.Source = deref(source)
		attr.Author = deref(author)
		attr.License = deref(license)
		attr.AttributionText = deref(text)
		out = append(out, attr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("attribution rows: %w", err)
	}
	return out, nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanCamera(row scannable) (catalog.CameraRecord, error) {
	var rec catalog.CameraRecord
	var status string
	var features, specs []byte
	if err := row.Scan(
		&rec.ID,
		&rec.Brand,
		&rec.Model,
		&rec.FullName,
		&status,
		&rec.Category,
		&rec.ReleaseYear,
		&rec.MSRP,
		&rec.CurrentPrice,
		&rec.Sensor,
		&rec.Processor,
		&rec.Mount,
		&rec.ManualURL,
		&features,
		&specs,
		&rec.ImageURL,
		&rec.ImageAuthor,
		&rec.ImageLicense,
		&rec.LocalImagePath,
		&rec.ThumbnailPath,
		&rec.ImageAttribution,
		&rec.LastUpdated,
	); err != nil {
		return catalog.CameraRecord{}, err
	}
	rec.Status = catalog.Status(status)
	if len(features) > 0 {
		if err := json.Unmarshal(features, &rec.KeyFeatures); err != nil {
			return catalog.CameraRecord{}, fmt.Errorf("unmarshal key features: %w", err)
		}
	}
	if len(specs) > 0 {
		if err := json.Unmarshal(specs, &rec.Specs); err != nil {
			return catalog.CameraRecord{}, fmt.Errorf("unmarshal specs: %w", err)
		}
	}
	return rec, nil
}

func marshalJSONB(v any) ([]byte, error) {
	switch t := v.(type) {
	case []string:
		if t == nil {
			return nil, nil
		}
	case map[string]any:
		if t == nil {
			return nil, nil
		}
	}
	return json.Marshal(v)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

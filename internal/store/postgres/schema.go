package postgres

// DDL executed at startup. The engine cannot run without the catalog tables,
// so schema failures are fatal to process start.
const (
	camerasDDL = `
CREATE TABLE IF NOT EXISTS cameras (
	id                TEXT PRIMARY KEY,
	brand             TEXT NOT NULL,
	model             TEXT NOT NULL,
	full_name         TEXT NOT NULL,
	status            TEXT NOT NULL DEFAULT 'rumor',
	category          TEXT,
	release_year      INTEGER,
	msrp              DOUBLE PRECISION,
	current_price     DOUBLE PRECISION,
	sensor            TEXT,
	processor         TEXT,
	mount             TEXT,
	manual_url        TEXT,
	key_features      JSONB,
	specs             JSONB,
	image_url         TEXT,
	image_author      TEXT,
	image_license     TEXT,
	local_image_path  TEXT,
	thumbnail_path    TEXT,
	image_attribution TEXT,
	last_updated      TIMESTAMPTZ NOT NULL
)`

	attributionsDDL = `
CREATE TABLE IF NOT EXISTS image_attributions (
	id               BIGSERIAL PRIMARY KEY,
	camera_id        TEXT NOT NULL REFERENCES cameras(id),
	image_url        TEXT NOT NULL,
	local_path       TEXT NOT NULL,
	source           TEXT,
	author           TEXT,
	license          TEXT,
	attribution_text TEXT,
	created_at       TIMESTAMPTZ NOT NULL
)`

	attributionsIndexDDL = `
CREATE INDEX IF NOT EXISTS idx_image_attributions_camera_id
	ON image_attributions (camera_id)`
)

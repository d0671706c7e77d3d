// Package catalog defines core types shared across subsystems.
package catalog

import "time"

// Status classifies how much the catalog trusts a camera record.
type Status string

// Status values persisted on camera rows.
const (
	StatusVerified Status = "verified"
	StatusRumor    Status = "rumor"
)

// Trust ranks a source's reliability. The normalizer maps it onto the
// record status of everything the source reports.
type Trust string

// Trust levels assignable to a source descriptor.
const (
	TrustVerified Trust = "verified"
	TrustRumor    Trust = "rumor"
)

// Source describes one external product feed to discover cameras from.
type Source struct {
	Name  string  `json:"name" mapstructure:"name"`
	URL   string  `json:"url" mapstructure:"url"`
	Shape string  `json:"shape" mapstructure:"shape"`
	Trust Trust   `json:"trust" mapstructure:"trust"`
	RPS   float64 `json:"rps" mapstructure:"rps"`
}

// RawRecord is a single source record before normalization.
type RawRecord struct {
	Source string
	Fields map[string]any
}

// CameraRecord is the canonical catalog entity. Optional attributes are
// pointers so the store merge can tell "absent" apart from a zero value.
type CameraRecord struct {
	ID       string `json:"id"`
	Brand    string `json:"brand"`
	Model    string `json:"model"`
	FullName string `json:"full_name"`
	Status   Status `json:"status"`

	Category     *string  `json:"category,omitempty"`
	ReleaseYear  *int     `json:"release_year,omitempty"`
	MSRP         *float64 `json:"msrp,omitempty"`
	CurrentPrice *float64 `json:"current_price,omitempty"`
	Sensor       *string  `json:"sensor,omitempty"`
	Processor    *string  `json:"processor,omitempty"`
	Mount        *string  `json:"mount,omitempty"`
	ManualURL    *string  `json:"manual_url,omitempty"`

	KeyFeatures []string       `json:"key_features,omitempty"`
	Specs       map[string]any `json:"specs,omitempty"`

	// Image candidate reported by the source; consumed by the asset cache.
	ImageURL     *string `json:"image_url,omitempty"`
	ImageAuthor  *string `json:"image_author,omitempty"`
	ImageLicense *string `json:"image_license,omitempty"`

	// Populated only after a successful asset acquisition.
	LocalImagePath   *string `json:"local_image_path,omitempty"`
	ThumbnailPath    *string `json:"thumbnail_path,omitempty"`
	ImageAttribution *string `json:"image_attribution,omitempty"`

	LastUpdated time.Time `json:"last_updated"`
}

// HasImage reports whether the record carries a cached local image.
func (c CameraRecord) HasImage() bool {
	return c.LocalImagePath != nil && *c.LocalImagePath != ""
}

// ImageAttributionRecord captures the provenance of one cached image.
type ImageAttributionRecord struct {
	ID              int64     `json:"id"`
	CameraID        string    `json:"camera_id"`
	ImageURL        string    `json:"image_url"`
	LocalPath       string    `json:"local_path"`
	Source          string    `json:"source"`
	Author          string    `json:"author"`
	License         string    `json:"license"`
	AttributionText string    `json:"attribution_text"`
	CreatedAt       time.Time `json:"created_at"`
}

// UpsertOutcome distinguishes inserts from merges for metrics.
type UpsertOutcome string

// Upsert outcomes returned by the catalog store.
const (
	UpsertCreated UpsertOutcome = "created"
	UpsertUpdated UpsertOutcome = "updated"
)

// Stats is the aggregate read surface consumed by the monitor and API layer.
type Stats struct {
	Total           int64   `json:"total"`
	Verified        int64   `json:"verified"`
	Rumors          int64   `json:"rumors"`
	WithImages      int64   `json:"withImages"`
	CoveragePercent float64 `json:"coveragePercent"`
}

// CycleSummary is the outcome of one discovery cycle.
type CycleSummary struct {
	CycleID       string        `json:"cycle_id"`
	Started       time.Time     `json:"started_at"`
	Duration      time.Duration `json:"duration"`
	Fetched       int           `json:"fetched"`
	Skipped       int           `json:"skipped"`
	Created       int           `json:"created"`
	Updated       int           `json:"updated"`
	Lost          int           `json:"lost"`
	SourcesFailed int           `json:"sources_failed"`
	Enriched      int           `json:"enriched"`
	EnrichFailed  int           `json:"enrich_failed"`
}

// ChangeEvent is published downstream on every accepted upsert.
type ChangeEvent struct {
	CameraID  string        `json:"camera_id"`
	FullName  string        `json:"full_name"`
	Outcome   UpsertOutcome `json:"outcome"`
	CycleID   string        `json:"cycle_id"`
	Timestamp time.Time     `json:"timestamp"`
}

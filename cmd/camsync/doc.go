// Package main hosts the camera catalog sync service entrypoint.
//
// Architecture overview:
//   - Scheduler: internal/scheduler drives three named jobs: discovery on a
//     fixed interval (optionally fired at startup), backup at a daily wall-clock
//     time, monitor on a short interval. Overlapping triggers of the same job
//     are coalesced, never queued.
//   - Discovery pipeline: internal/syncjob processes each configured source
//     sequentially: the Colly-based fetcher retrieves and decodes the feed with
//     retry/backoff and per-source rate limiting, the normalizer maps raw fields
//     onto the canonical camera schema and computes the dedup key, and the
//     Postgres store merges rows transactionally. A failing source is skipped
//     for the cycle; the rest proceed.
//   - Enrichment: after the sources, a bounded errgroup pool downloads missing
//     product images into the local cache, renders thumbnails, and records
//     attribution rows in the same transaction as the camera's image columns.
//   - Backup: internal/backup snapshots the catalog to timestamped JSON
//     artifacts, prunes beyond the retention count, and optionally mirrors each
//     snapshot to GCS.
//   - Fanout: accepted upserts optionally publish change events to Pub/Sub;
//     progress events are batched through internal/progress and delivered to
//     zap and Prometheus sinks.
//   - Operator surface: a chi server exposes /healthz, /readyz, /stats,
//     /metrics, and read-only camera lookups.
//
// Operational notes:
//   - Configure via CAMSYNC_-prefixed env vars or a YAML file:
//     go run ./cmd/camsync -config config.yaml. The db.dsn option is required;
//     a store that cannot be reached at startup aborts the process.
//   - SIGINT/SIGTERM initiate a graceful drain: the scheduler stops issuing
//     triggers, in-flight jobs get a grace period to reach a safe checkpoint,
//     then their contexts are canceled.
package main

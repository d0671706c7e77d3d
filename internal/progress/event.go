// Package progress defines the event stream emitted by sync, enrichment, and
// backup runs, and the hub that fans it out to sinks.
package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the type of milestone an Event represents.
type Stage string

// Supported progress stages.
const (
	StageCycleStart       Stage = "CYCLE_START"
	StageCycleDone        Stage = "CYCLE_DONE"
	StageCycleError       Stage = "CYCLE_ERROR"
	StageSourceDone       Stage = "SOURCE_DONE"
	StageSourceError      Stage = "SOURCE_ERROR"
	StageRecordSkipped    Stage = "RECORD_SKIPPED"
	StageEnrichDone       Stage = "ENRICH_DONE"
	StageEnrichError      Stage = "ENRICH_ERROR"
	StageBackupDone       Stage = "BACKUP_DONE"
	StageBackupError      Stage = "BACKUP_ERROR"
	StageTriggerCoalesced Stage = "TRIGGER_COALESCED"
)

// Event captures a single milestone of a sync, enrichment, or backup run.
type Event struct {
	// CycleID identifies the run this event belongs to, in 16-byte UUID form.
	CycleID [16]byte
	// Job names the emitting job (sync, backup, monitor).
	Job string
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which milestone occurred.
	Stage Stage
	// Source scopes per-source events to the catalog source name.
	Source string
	// Created, Updated, Skipped, and Failed are counter deltas for the
	// milestone; cycle-level stages carry run totals.
	Created int64
	Updated int64
	Skipped int64
	Failed  int64
	// Dur captures execution latency for completed stages.
	Dur time.Duration
	// Note attaches low-volume context such as error or skip text.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.CycleID == [16]byte{} {
		return errors.New("cycle id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageCycleStart, StageCycleDone, StageCycleError,
		StageEnrichDone, StageEnrichError,
		StageBackupDone, StageBackupError,
		StageTriggerCoalesced:
	case StageSourceDone, StageSourceError, StageRecordSkipped:
		if e.Source == "" {
			return fmt.Errorf("stage %s requires a source", e.Stage)
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// CycleUUID converts the binary cycle ID to uuid.UUID for logging.
func (e Event) CycleUUID() uuid.UUID {
	return uuid.UUID(e.CycleID)
}

// CycleIDFromString parses a UUID string into the Event form. Unparseable
// input yields the zero ID.
func CycleIDFromString(s string) [16]byte {
	id, err := uuid.Parse(s)
	if err != nil {
		return [16]byte{}
	}
	return [16]byte(id)
}

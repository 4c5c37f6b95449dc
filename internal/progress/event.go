package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageRunStart Stage = "RUN_START"
	StageRunHB    Stage = "RUN_HEARTBEAT"
	StageRunDone  Stage = "RUN_DONE"
	StageRunError Stage = "RUN_ERROR"
	StageUnitDone Stage = "UNIT_DONE"
)

// RunBoundary reports whether s starts or ends a run.
func (s Stage) RunBoundary() bool {
	return s == StageRunStart || s.EndsRun()
}

// EndsRun reports whether s is the last event of a run.
func (s Stage) EndsRun() bool {
	return s == StageRunDone || s == StageRunError
}

// Event captures a single step of run progress.
type Event struct {
	// RunID uniquely identifies a run using the 16-byte UUID form.
	RunID [16]byte
	// TS is the UTC timestamp recorded by the emitter.
	TS    time.Time
	Stage Stage
	// Worker is the index of the emitting session worker, -1 for run events.
	Worker int
	// Unit is the WorkUnit ID for unit events.
	Unit     string
	District string
	Taluka   string
	Village  string
	Success  bool
	// ErrorClass carries the failure classification of a unit.
	ErrorClass      string
	CaptchaAttempts int
	ArtifactID      string
	// Status is the final run status on RUN_DONE.
	Status string
	// Total is the scope size on RUN_START and the processed count otherwise.
	Total int64
	Dur   time.Duration
	// Note lets emitters attach low-volume context (e.g. error text).
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == [16]byte{} {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart, StageRunHB, StageRunDone, StageRunError:
	case StageUnitDone:
		if e.Unit == "" {
			return errors.New("unit done requires unit")
		}
		if !e.Success && e.ErrorClass == "" {
			return errors.New("failed unit requires error class")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// RunUUID converts the binary run ID to uuid.UUID for repositories.
func (e Event) RunUUID() uuid.UUID {
	return uuid.UUID(e.RunID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}

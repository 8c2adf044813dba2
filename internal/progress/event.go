package progress

import (
	"errors"
	"fmt"
	"time"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageJobStart Stage = "JOB_START"
	StageJobDone  Stage = "JOB_DONE"
	StageJobError Stage = "JOB_ERROR"
	// StageActivity is one history activity recorded by a connector.
	StageActivity Stage = "ACTIVITY"
	// StageDocument is the outcome of processing one document.
	StageDocument Stage = "DOCUMENT"
)

// Document outcomes carried by StageDocument events.
const (
	OutcomeIngested  = "ingested"
	OutcomeDeleted   = "deleted"
	OutcomeUnchanged = "unchanged"
	OutcomeSkipped   = "skipped"
)

// Event captures a single component of job progress.
type Event struct {
	JobID      string
	Connection string
	// TS is the UTC time the event was emitted. For activities it is the
	// activity end time.
	TS    time.Time
	Stage Stage

	// Activity fields.
	ActivityType      string
	Start             time.Time
	ResultCode        string
	ResultDescription string

	// Entity is the document or activity subject.
	Entity  string
	Outcome string
	Bytes   int64
	// Dur is the job runtime on JOB_DONE and JOB_ERROR.
	Dur  time.Duration
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.JobID == "" {
		return errors.New("job id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageJobStart, StageJobDone, StageJobError:
	case StageActivity:
		if e.Connection == "" || e.ActivityType == "" {
			return errors.New("activity requires connection and activity type")
		}
	case StageDocument:
		if e.Entity == "" || e.Outcome == "" {
			return errors.New("document event requires entity and outcome")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

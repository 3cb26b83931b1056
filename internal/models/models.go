package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Measurement identifies which family of input fields a set carries.
// Exactly one family is populated per exercise type.
type Measurement string

const (
	// MeasurementWeighted is weight plus a single rep count.
	MeasurementWeighted Measurement = "weighted"
	// MeasurementUnilateral is weight plus independent left/right rep counts.
	MeasurementUnilateral Measurement = "unilateral"
	// MeasurementTimed is a duration in seconds.
	MeasurementTimed Measurement = "timed"
)

// ExerciseDefinition describes an exercise as resolved from the template
// catalog (an external collaborator).
type ExerciseDefinition struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Measurement Measurement `json:"measurement"`
	IsBonus     bool        `json:"is_bonus"`
}

// WorkoutSession is one workout attempt. A session row exists only after
// the first set with real user input was saved; StartedAt is the time of
// that first input, not of workout selection.
type WorkoutSession struct {
	ID            uuid.UUID  `json:"id"`
	UserID        int        `json:"user_id"`
	TemplateID    *string    `json:"template_id,omitempty"`
	StartedAt     time.Time  `json:"started_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	DurationLabel string     `json:"duration_label,omitempty"`
}

// DurationLabel renders the elapsed time between start and end the way
// the session summary displays it.
func DurationLabel(start, end time.Time) string {
	mins := int(end.Sub(start).Round(time.Minute) / time.Minute)
	if mins < 1 {
		mins = 1
	}
	return fmt.Sprintf("%d min", mins)
}

// SetKey addresses one set within a session. The pair is the stable unit
// of identity for a draft: it exists before any remote id does and never
// changes for the life of the set.
type SetKey struct {
	ExerciseID string `json:"exercise_id"`
	SetIndex   int    `json:"set_index"`
}

func (k SetKey) String() string {
	return fmt.Sprintf("%s/%d", k.ExerciseID, k.SetIndex)
}

// SetDraft is one set's working data, held locally and possibly not yet
// synced. SessionID is nil while the session is still provisional.
// RemoteID is assigned at first save and stays attached to the key.
type SetDraft struct {
	Key            SetKey     `json:"key"`
	SessionID      *uuid.UUID `json:"session_id,omitempty"`
	RemoteID       *uuid.UUID `json:"remote_id,omitempty"`
	Weight         float64    `json:"weight,omitempty"`
	Reps           int        `json:"reps,omitempty"`
	LeftReps       int        `json:"left_reps,omitempty"`
	RightReps      int        `json:"right_reps,omitempty"`
	DurationSec    int        `json:"duration_sec,omitempty"`
	Saved          bool       `json:"saved"`
	PersonalRecord bool       `json:"personal_record"`
}

// HasInput reports whether the draft carries any real user input for the
// given measurement family. Empty seeded slots return false.
func (d SetDraft) HasInput(m Measurement) bool {
	switch m {
	case MeasurementWeighted:
		return d.Weight != 0 || d.Reps != 0
	case MeasurementUnilateral:
		return d.Weight != 0 || d.LeftReps != 0 || d.RightReps != 0
	case MeasurementTimed:
		return d.DurationSec != 0
	}
	return false
}

// RosterEntry is one exercise placed into the active session. The roster
// is rebuilt each session and never persisted beyond it except through
// its child drafts.
type RosterEntry struct {
	Exercise     ExerciseDefinition `json:"exercise"`
	DisplayOrder int                `json:"display_order"`
	Completed    bool               `json:"completed"`
}

// PersonalRecord is the per (user, exercise) best achievement. Weighted
// and unilateral exercises track volume; timed exercises track duration.
type PersonalRecord struct {
	UserID          int       `json:"user_id"`
	ExerciseID      string    `json:"exercise_id"`
	BestVolume      float64   `json:"best_volume"`
	BestDurationSec int       `json:"best_duration_sec"`
	LastAchievedAt  time.Time `json:"last_achieved_at"`
}

// Operation is the kind of remote mutation an outbox entry carries.
type Operation string

const (
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// Entity types understood by the remote store.
const (
	EntityWorkoutSession = "workout_session"
	EntitySetLog         = "set_log"
	EntityPersonalRecord = "personal_record"
)

// OutboxEntry is one pending remote mutation. Payload is a full snapshot
// of the target record keyed by a stable record id, so replaying an
// entry is safe. Lineage groups a session's entries so the session
// create is delivered before its dependent set logs.
type OutboxEntry struct {
	ID         int64           `json:"id"`
	Operation  Operation       `json:"operation"`
	EntityType string          `json:"entity_type"`
	RecordID   string          `json:"record_id"`
	Lineage    string          `json:"lineage"`
	Payload    json.RawMessage `json:"payload"`
	RetryCount int             `json:"retry_count"`
	CreatedAt  time.Time       `json:"created_at"`
}

// SetLog is the remote-store representation of a saved set, used as the
// outbox payload for set mutations.
type SetLog struct {
	ID             uuid.UUID `json:"id"`
	SessionID      uuid.UUID `json:"session_id"`
	UserID         int       `json:"user_id"`
	ExerciseID     string    `json:"exercise_id"`
	SetIndex       int       `json:"set_index"`
	Weight         float64   `json:"weight"`
	Reps           int       `json:"reps"`
	LeftReps       int       `json:"left_reps"`
	RightReps      int       `json:"right_reps"`
	DurationSec    int       `json:"duration_sec"`
	PersonalRecord bool      `json:"personal_record"`
	LoggedAt       time.Time `json:"logged_at"`
}

// Package records evaluates candidate sets against a user's best-known
// value for an exercise.
package records

import (
	"github.com/claude/liftlog/internal/models"
)

// Result is the outcome of evaluating one candidate set.
type Result struct {
	IsNewRecord bool
	UpdatedBest float64
}

// Metric reduces a set draft to the single comparable value for its
// exercise's measurement family. Unilateral exercises sum left and right
// reps against the one weight, matching how the records were historically
// computed.
func Metric(d models.SetDraft, m models.Measurement) float64 {
	switch m {
	case models.MeasurementWeighted:
		return d.Weight * float64(d.Reps)
	case models.MeasurementUnilateral:
		return d.Weight * float64(d.LeftReps+d.RightReps)
	case models.MeasurementTimed:
		return float64(d.DurationSec)
	}
	return 0
}

// Evaluate compares a candidate metric against the current best. Ties
// are not records. A missing prior best is expressed as zero, so the
// first valid set of a never-performed exercise is always a record.
func Evaluate(candidate, currentBest float64) Result {
	if candidate > currentBest {
		return Result{IsNewRecord: true, UpdatedBest: candidate}
	}
	return Result{IsNewRecord: false, UpdatedBest: currentBest}
}

// Tracker threads the running best across a sequence of evaluations, so
// that within one batch a later set competes against records established
// earlier in the same batch.
type Tracker struct {
	best float64
}

// NewTracker starts a tracker from the best known prior to the batch.
func NewTracker(priorBest float64) *Tracker {
	return &Tracker{best: priorBest}
}

// Evaluate scores one candidate against the running best and advances it.
func (t *Tracker) Evaluate(candidate float64) Result {
	r := Evaluate(candidate, t.best)
	t.best = r.UpdatedBest
	return r
}

// Best returns the current running best.
func (t *Tracker) Best() float64 {
	return t.best
}

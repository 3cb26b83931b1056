package engine

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/claude/liftlog/internal/draft"
	"github.com/claude/liftlog/internal/models"
)

// AddExercise inserts an exercise into the session roster and seeds its
// default empty set slots. Adding an exercise that is already present is
// a no-op signalled to the caller via ErrExerciseAlreadyAdded.
func (e *Engine) AddExercise(def models.ExerciseDefinition) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != StateProvisional && e.state != StateIdentified {
		return ErrNoActiveSession
	}
	if _, ok := e.rosterEntryLocked(def.ID); ok {
		return fmt.Errorf("%w: %s", ErrExerciseAlreadyAdded, def.ID)
	}

	order := e.nextDisplayOrderLocked()
	if err := e.seedExerciseLocked(def, order); err != nil {
		return err
	}
	e.roster = append(e.roster, models.RosterEntry{Exercise: def, DisplayOrder: order})
	return nil
}

// RemoveExercise takes an exercise out of the roster and purges its
// drafts, clearing any completed marking with it.
func (e *Engine) RemoveExercise(exerciseID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != StateProvisional && e.state != StateIdentified {
		return ErrNoActiveSession
	}
	if _, ok := e.rosterEntryLocked(exerciseID); !ok {
		return fmt.Errorf("%w: %s", ErrExerciseNotInSession, exerciseID)
	}
	return e.removeExerciseLocked(exerciseID)
}

// SubstituteExercise atomically replaces one exercise with another at
// the same roster position: the old exercise's drafts are purged (saved
// ones included) and the replacement gets fresh empty slots. Swapping in
// an exercise that is already on the roster is rejected.
func (e *Engine) SubstituteExercise(oldID string, def models.ExerciseDefinition) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != StateProvisional && e.state != StateIdentified {
		return ErrNoActiveSession
	}
	if _, ok := e.rosterEntryLocked(def.ID); ok {
		return fmt.Errorf("%w: %s", ErrExerciseAlreadyAdded, def.ID)
	}
	idx := -1
	for i, entry := range e.roster {
		if entry.Exercise.ID == oldID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("%w: %s", ErrExerciseNotInSession, oldID)
	}

	order := e.roster[idx].DisplayOrder
	if err := e.drafts.PurgeExercise(e.sessionID, oldID); err != nil {
		return fmt.Errorf("purging replaced drafts: %w", err)
	}
	for key := range e.sets {
		if key.ExerciseID == oldID {
			delete(e.sets, key)
		}
	}
	if err := e.seedExerciseLocked(def, order); err != nil {
		return err
	}
	e.roster[idx] = models.RosterEntry{Exercise: def, DisplayOrder: order}
	return nil
}

// SyncTemplate re-resolves the session's template and, if its exercise
// id set no longer matches the roster, rebuilds roster and drafts from
// the template of record. In-progress sets and completion flags for the
// session are dropped in that case; staying consistent with the edited
// template wins over preserving mid-session state.
func (e *Engine) SyncTemplate(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != StateProvisional && e.state != StateIdentified {
		return ErrNoActiveSession
	}
	if e.templateID == nil {
		return nil
	}

	defs, err := e.templates.ActiveTemplateExercises(ctx, *e.templateID, e.equipmentContext)
	if err != nil {
		return fmt.Errorf("resolving template %s: %w", *e.templateID, err)
	}
	if sameExerciseSet(e.roster, defs) {
		return nil
	}

	e.log.Info("template changed underneath session, rebuilding roster",
		"template", *e.templateID,
		"exercises", len(defs),
	)

	if e.sessionID != nil {
		if err := e.drafts.PurgeSession(*e.sessionID); err != nil {
			return fmt.Errorf("purging stale drafts: %w", err)
		}
	}
	if err := e.drafts.PurgePending(); err != nil {
		return fmt.Errorf("purging stale drafts: %w", err)
	}

	e.roster = nil
	e.sets = make(map[models.SetKey]draft.Row)
	for i, def := range defs {
		if err := e.seedExerciseLocked(def, i); err != nil {
			return err
		}
		e.roster = append(e.roster, models.RosterEntry{Exercise: def, DisplayOrder: i})
	}
	return nil
}

// --- observable state ---

// ExerciseState is the per-exercise view exposed to the UI layer.
type ExerciseState struct {
	Exercise          models.ExerciseDefinition `json:"exercise"`
	Completed         bool                      `json:"completed"`
	HasPersonalRecord bool                      `json:"has_personal_record"`
	Sets              []models.SetDraft         `json:"sets"`
}

// Snapshot is the engine's observable state. The UI reads only this,
// never the remote store.
type Snapshot struct {
	State             string          `json:"state"`
	Identified        bool            `json:"identified"`
	SessionID         *uuid.UUID      `json:"session_id,omitempty"`
	TemplateID        *string         `json:"template_id,omitempty"`
	StartedAt         string          `json:"started_at,omitempty"`
	HasUnsavedChanges bool            `json:"has_unsaved_changes"`
	Exercises         []ExerciseState `json:"exercises"`
}

// Snapshot returns the current observable state.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	snap := Snapshot{
		State:      e.state.String(),
		Identified: e.state == StateIdentified,
		SessionID:  e.sessionID,
		TemplateID: e.templateID,
	}
	if !e.startedAt.IsZero() {
		snap.StartedAt = e.startedAt.Format("2006-01-02T15:04:05Z07:00")
	}

	for _, entry := range e.roster {
		ex := ExerciseState{Exercise: entry.Exercise, Completed: entry.Completed}
		for _, row := range e.setsForExerciseLocked(entry.Exercise.ID) {
			ex.Sets = append(ex.Sets, row.SetDraft)
			if row.Saved && row.PersonalRecord {
				ex.HasPersonalRecord = true
			}
			if !row.Saved && row.HasInput(entry.Exercise.Measurement) {
				snap.HasUnsavedChanges = true
			}
		}
		snap.Exercises = append(snap.Exercises, ex)
	}
	return snap
}

// State returns the current lifecycle phase.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// --- roster internals (callers hold the lock) ---

func (e *Engine) rosterEntryLocked(exerciseID string) (models.RosterEntry, bool) {
	for _, entry := range e.roster {
		if entry.Exercise.ID == exerciseID {
			return entry, true
		}
	}
	return models.RosterEntry{}, false
}

func (e *Engine) removeExerciseLocked(exerciseID string) error {
	if err := e.drafts.PurgeExercise(e.sessionID, exerciseID); err != nil {
		return fmt.Errorf("purging exercise drafts: %w", err)
	}
	for key := range e.sets {
		if key.ExerciseID == exerciseID {
			delete(e.sets, key)
		}
	}
	kept := e.roster[:0]
	for _, entry := range e.roster {
		if entry.Exercise.ID != exerciseID {
			kept = append(kept, entry)
		}
	}
	e.roster = kept
	return nil
}

// seedExerciseLocked creates the default empty set slots for an exercise
// entering the session, keyed to the current session id (nil while
// provisional).
func (e *Engine) seedExerciseLocked(def models.ExerciseDefinition, order int) error {
	for i := range DefaultSetCount {
		row := e.newRowLocked(def, order, i)
		if err := e.drafts.Put(row); err != nil {
			return fmt.Errorf("seeding drafts for %s: %w", def.ID, err)
		}
		e.sets[row.Key] = row
	}
	return nil
}

func (e *Engine) newRowLocked(def models.ExerciseDefinition, order, setIndex int) draft.Row {
	return draft.Row{
		SetDraft: models.SetDraft{
			Key:       models.SetKey{ExerciseID: def.ID, SetIndex: setIndex},
			SessionID: e.sessionID,
		},
		ExerciseName: def.Name,
		Measurement:  def.Measurement,
		DisplayOrder: order,
		IsBonus:      def.IsBonus,
	}
}

func (e *Engine) nextDisplayOrderLocked() int {
	next := 0
	for _, entry := range e.roster {
		if entry.DisplayOrder >= next {
			next = entry.DisplayOrder + 1
		}
	}
	return next
}

func (e *Engine) setsForExerciseLocked(exerciseID string) []draft.Row {
	var rows []draft.Row
	for key, row := range e.sets {
		if key.ExerciseID == exerciseID {
			rows = append(rows, row)
		}
	}
	sort.Slice(rows, func(i, j int) bool {
		return rows[i].Key.SetIndex < rows[j].Key.SetIndex
	})
	return rows
}

func (e *Engine) markCompletedLocked(exerciseID string, completed bool) {
	for i, entry := range e.roster {
		if entry.Exercise.ID == exerciseID {
			e.roster[i].Completed = completed
			return
		}
	}
}

func sameExerciseSet(roster []models.RosterEntry, defs []models.ExerciseDefinition) bool {
	if len(roster) != len(defs) {
		return false
	}
	have := make(map[string]bool, len(roster))
	for _, entry := range roster {
		have[entry.Exercise.ID] = true
	}
	for _, def := range defs {
		if !have[def.ID] {
			return false
		}
	}
	return true
}

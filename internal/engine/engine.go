// Package engine drives the lifecycle of one active workout session:
// selection, deferred identity assignment, set saves with
// personal-record evaluation, completion, and crash recovery. All local
// commits happen first; remote propagation goes through the outbox and
// never blocks or fails a save.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/claude/liftlog/internal/draft"
	"github.com/claude/liftlog/internal/models"
	"github.com/claude/liftlog/internal/outbox"
	"github.com/claude/liftlog/internal/records"
)

// DefaultSetCount is the number of empty set slots seeded when an
// exercise enters the session.
const DefaultSetCount = 3

// Deadlines on the engine's two remote touchpoints. Saves and finishes
// are local-first; neither may stall behind a slow network.
const (
	priorLookupTimeout = 3 * time.Second
	achievementTimeout = time.Minute
)

// State is the session lifecycle phase.
type State int

const (
	// StateInactive means no workout is selected.
	StateInactive State = iota
	// StateSelecting is the transient phase while a template resolves.
	StateSelecting
	// StateProvisional means a workout is active but no set has real
	// input yet, so no durable session id exists.
	StateProvisional
	// StateIdentified means the session has a durable id and a start time.
	StateIdentified
	// StateFinishing is the transient phase while a session completes.
	StateFinishing
)

func (s State) String() string {
	switch s {
	case StateInactive:
		return "inactive"
	case StateSelecting:
		return "selecting"
	case StateProvisional:
		return "provisional"
	case StateIdentified:
		return "identified"
	case StateFinishing:
		return "finishing"
	}
	return "unknown"
}

// TemplateSource resolves a template's exercise list for the user's
// active equipment context.
type TemplateSource interface {
	ActiveTemplateExercises(ctx context.Context, templateID, equipmentContext string) ([]models.ExerciseDefinition, error)
}

// RecordSource looks up the user's prior best for an exercise.
type RecordSource interface {
	PersonalRecord(ctx context.Context, userID int, exerciseID string) (models.PersonalRecord, error)
}

// AchievementNotifier is the fire-and-forget achievement trigger invoked
// on session completion. Failures are logged, never fatal.
type AchievementNotifier interface {
	NotifySessionCompleted(ctx context.Context, userID int, sessionID uuid.UUID) error
}

// Kicker nudges the outbox drainer after a local commit.
type Kicker interface {
	Kick()
}

// SetInput is the raw values of one set edit.
type SetInput struct {
	Weight      float64 `json:"weight"`
	Reps        int     `json:"reps"`
	LeftReps    int     `json:"left_reps"`
	RightReps   int     `json:"right_reps"`
	DurationSec int     `json:"duration_sec"`
}

// Engine is the workout-session state machine. All operations run on one
// logical stream guarded by the mutex; local durable writes and outbox
// appends happen before any remote propagation is attempted.
type Engine struct {
	mu sync.Mutex

	drafts       *draft.Store
	queue        *outbox.Queue
	drainer      Kicker
	templates    TemplateSource
	prior        RecordSource
	achievements AchievementNotifier
	log          *slog.Logger

	userID           int
	equipmentContext string

	state        State
	sessionID    *uuid.UUID
	templateID   *string
	startedAt    time.Time
	roster       []models.RosterEntry
	sets         map[models.SetKey]draft.Row
	sessionBests map[string]float64
	bestsKnown   map[string]bool
}

// New creates an engine for one user. The drainer may be nil (drains
// then happen only on the periodic schedule).
func New(drafts *draft.Store, queue *outbox.Queue, drainer Kicker,
	templates TemplateSource, prior RecordSource, achievements AchievementNotifier,
	userID int, equipmentContext string, log *slog.Logger) *Engine {
	return &Engine{
		drafts:           drafts,
		queue:            queue,
		drainer:          drainer,
		templates:        templates,
		prior:            prior,
		achievements:     achievements,
		log:              log,
		userID:           userID,
		equipmentContext: equipmentContext,
		state:            StateInactive,
		sets:             make(map[models.SetKey]draft.Row),
		sessionBests:     make(map[string]float64),
		bestsKnown:       make(map[string]bool),
	}
}

// SelectWorkout starts a new session from a template, or ad hoc when
// templateID is nil. Any previous session's drafts and in-memory state
// are cleared first. The session stays provisional (no durable id) until
// the first set with real input is saved.
func (e *Engine) SelectWorkout(ctx context.Context, templateID *string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.clearLocalLocked(); err != nil {
		return err
	}
	e.state = StateSelecting

	var defs []models.ExerciseDefinition
	if templateID != nil {
		var err error
		defs, err = e.templates.ActiveTemplateExercises(ctx, *templateID, e.equipmentContext)
		if err != nil {
			e.state = StateInactive
			return fmt.Errorf("resolving template %s: %w", *templateID, err)
		}
	}

	e.templateID = templateID
	for i, def := range defs {
		if err := e.seedExerciseLocked(def, i); err != nil {
			e.state = StateInactive
			return err
		}
		e.roster = append(e.roster, models.RosterEntry{Exercise: def, DisplayOrder: i})
	}

	if err := e.drafts.SaveMeta(draft.SessionMeta{TemplateID: templateID}); err != nil {
		e.state = StateInactive
		return fmt.Errorf("saving session record: %w", err)
	}
	e.state = StateProvisional
	return nil
}

// EditSet records one set edit into the draft store. Edits are durable
// immediately but not committed: the set shows as unsaved until SaveSet
// or CompleteExercise.
func (e *Engine) EditSet(exerciseID string, setIndex int, input SetInput) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != StateProvisional && e.state != StateIdentified {
		return ErrNoActiveSession
	}
	entry, ok := e.rosterEntryLocked(exerciseID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrExerciseNotInSession, exerciseID)
	}
	if setIndex < 0 {
		return &ValidationError{Field: "set_index", Reason: "must not be negative"}
	}

	key := models.SetKey{ExerciseID: exerciseID, SetIndex: setIndex}
	row, ok := e.sets[key]
	if !ok {
		// A set slot beyond the seeded ones: the user added a set.
		row = e.newRowLocked(entry.Exercise, entry.DisplayOrder, setIndex)
	}
	row.Weight = input.Weight
	row.Reps = input.Reps
	row.LeftReps = input.LeftReps
	row.RightReps = input.RightReps
	row.DurationSec = input.DurationSec
	row.Saved = false

	if err := e.drafts.Put(row); err != nil {
		return fmt.Errorf("saving draft: %w", err)
	}
	e.sets[key] = row
	return nil
}

// SaveSet commits the current draft values of one set: validates them,
// assigns the session id if this is the first real input, evaluates
// personal-record status, and queues the remote mutation. The returned
// draft carries the updated saved/record flags.
func (e *Engine) SaveSet(ctx context.Context, exerciseID string, setIndex int) (models.SetDraft, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != StateProvisional && e.state != StateIdentified {
		return models.SetDraft{}, ErrNoActiveSession
	}
	entry, ok := e.rosterEntryLocked(exerciseID)
	if !ok {
		return models.SetDraft{}, fmt.Errorf("%w: %s", ErrExerciseNotInSession, exerciseID)
	}
	key := models.SetKey{ExerciseID: exerciseID, SetIndex: setIndex}
	row, ok := e.sets[key]
	if !ok {
		return models.SetDraft{}, fmt.Errorf("%w: %s", ErrSetNotFound, key)
	}

	if err := validateInput(row.SetDraft, entry.Exercise.Measurement); err != nil {
		return models.SetDraft{}, err
	}

	tracker, err := e.trackerLocked(ctx, entry.Exercise)
	if err != nil {
		return models.SetDraft{}, err
	}
	saved, err := e.commitSetLocked(ctx, entry.Exercise, row, tracker)
	if err != nil {
		return models.SetDraft{}, err
	}
	e.kickLocked()
	return saved.SetDraft, nil
}

// ExerciseCompletion summarizes a completed exercise.
type ExerciseCompletion struct {
	ExerciseID        string            `json:"exercise_id"`
	SavedSets         []models.SetDraft `json:"saved_sets"`
	HasPersonalRecord bool              `json:"has_personal_record"`
}

// CompleteExercise saves every not-yet-saved set of the exercise that
// has real input, strictly in set-index order so a record set early in
// the batch raises the bar for the sets after it, then marks the
// exercise completed. Sets already saved keep their flags; a previously
// flagged record still counts toward the exercise's record indicator.
func (e *Engine) CompleteExercise(ctx context.Context, exerciseID string) (ExerciseCompletion, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != StateProvisional && e.state != StateIdentified {
		return ExerciseCompletion{}, ErrNoActiveSession
	}
	entry, ok := e.rosterEntryLocked(exerciseID)
	if !ok {
		return ExerciseCompletion{}, fmt.Errorf("%w: %s", ErrExerciseNotInSession, exerciseID)
	}

	// Validate the whole batch before committing any part of it.
	pending := e.pendingSetsLocked(entry)
	for _, row := range pending {
		if err := validateInput(row.SetDraft, entry.Exercise.Measurement); err != nil {
			return ExerciseCompletion{}, fmt.Errorf("set %d: %w", row.Key.SetIndex, err)
		}
	}

	completion := ExerciseCompletion{ExerciseID: exerciseID}
	if len(pending) > 0 {
		tracker, err := e.trackerLocked(ctx, entry.Exercise)
		if err != nil {
			return ExerciseCompletion{}, err
		}
		for _, row := range pending {
			saved, err := e.commitSetLocked(ctx, entry.Exercise, row, tracker)
			if err != nil {
				return completion, err
			}
			completion.SavedSets = append(completion.SavedSets, saved.SetDraft)
		}
	}

	for _, row := range e.setsForExerciseLocked(exerciseID) {
		if row.Saved && row.PersonalRecord {
			completion.HasPersonalRecord = true
		}
	}

	e.markCompletedLocked(exerciseID, true)
	e.kickLocked()
	return completion, nil
}

// FinishSession completes the identified session: stamps completion
// time and duration, queues the session update, purges the session's
// drafts, and triggers the achievement pass (best effort). Returns the
// finished session id. Calling it with no input ever recorded is a
// no-op failure: nothing was created, so there is nothing to finish.
func (e *Engine) FinishSession(ctx context.Context) (uuid.UUID, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != StateIdentified || e.sessionID == nil || e.startedAt.IsZero() {
		return uuid.UUID{}, ErrSessionNotIdentified
	}
	e.state = StateFinishing
	sessionID := *e.sessionID

	completedAt := time.Now()
	session := models.WorkoutSession{
		ID:            sessionID,
		UserID:        e.userID,
		TemplateID:    e.templateID,
		StartedAt:     e.startedAt,
		CompletedAt:   &completedAt,
		DurationLabel: models.DurationLabel(e.startedAt, completedAt),
	}
	if err := e.queue.Enqueue(models.OpUpdate, models.EntityWorkoutSession,
		sessionID.String(), sessionID.String(), session); err != nil {
		e.state = StateIdentified
		return uuid.UUID{}, fmt.Errorf("queueing session update: %w", err)
	}

	if err := e.drafts.PurgeSession(sessionID); err != nil {
		e.log.Warn("purging finished session drafts failed", "session", sessionID, "error", err)
	}
	if err := e.drafts.ClearMeta(); err != nil {
		e.log.Warn("clearing session record failed", "error", err)
	}

	e.resetMemoryLocked()
	e.kickLocked()

	// Fire and forget, off the engine's lock: the notifier retries with
	// backoff and must never stall other operations. Detached from the
	// caller's context so the pass outlives the finishing request.
	go func() {
		nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), achievementTimeout)
		defer cancel()
		if err := e.achievements.NotifySessionCompleted(nctx, e.userID, sessionID); err != nil {
			e.log.Warn("achievement pass failed", "session", sessionID, "error", err)
		}
	}()
	return sessionID, nil
}

// ResetSession abandons the current session from any state: in-memory
// roster, drafts, and session id are discarded without touching the
// network. Outbox entries for already-saved sets stay queued and still
// drain; only unsaved local edits are lost.
func (e *Engine) ResetSession() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.clearLocalLocked(); err != nil {
		return err
	}
	e.resetMemoryLocked()
	return nil
}

// Restore rebuilds the in-memory session from the draft store after a
// process restart. The draft store, not the remote store, is the
// authoritative recovery source: a provisional session comes back with
// its null-session drafts intact and stays provisional.
func (e *Engine) Restore(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	meta, ok, err := e.drafts.LoadMeta()
	if err != nil {
		return fmt.Errorf("loading session record: %w", err)
	}
	if !ok {
		e.resetMemoryLocked()
		return nil
	}

	rows, err := e.drafts.ListForSession(meta.SessionID)
	if err != nil {
		return fmt.Errorf("loading drafts: %w", err)
	}

	e.resetMemoryLocked()
	e.templateID = meta.TemplateID
	e.sessionID = meta.SessionID
	e.startedAt = meta.StartedAt

	seen := make(map[string]bool)
	for _, row := range rows {
		e.sets[row.Key] = row
		if !seen[row.Key.ExerciseID] {
			seen[row.Key.ExerciseID] = true
			e.roster = append(e.roster, models.RosterEntry{
				Exercise: models.ExerciseDefinition{
					ID:          row.Key.ExerciseID,
					Name:        row.ExerciseName,
					Measurement: row.Measurement,
					IsBonus:     row.IsBonus,
				},
				DisplayOrder: row.DisplayOrder,
			})
		}
		// Records already achieved this session must stay the bar to
		// beat: the remote best may not have drained yet.
		if row.Saved {
			if m := records.Metric(row.SetDraft, row.Measurement); m > e.sessionBests[row.Key.ExerciseID] {
				e.sessionBests[row.Key.ExerciseID] = m
			}
		}
	}

	if meta.SessionID != nil {
		e.state = StateIdentified
	} else {
		e.state = StateProvisional
	}
	e.log.Info("session restored",
		"state", e.state.String(),
		"exercises", len(e.roster),
		"drafts", len(rows),
	)
	return nil
}

// --- internals ---

// ensureIdentifiedLocked performs the deferred-identity transition on
// the first qualifying save: generates the durable session id, stamps
// the start time, backfills every null-session draft, and queues the
// session create ahead of any set mutations in the same lineage.
func (e *Engine) ensureIdentifiedLocked(ctx context.Context) error {
	if e.state == StateIdentified {
		return nil
	}
	if e.state != StateProvisional {
		return ErrNoActiveSession
	}

	id := uuid.New()
	now := time.Now()

	if _, err := e.drafts.BackfillSessionID(id); err != nil {
		return fmt.Errorf("backfilling drafts: %w", err)
	}
	if err := e.drafts.SaveMeta(draft.SessionMeta{
		SessionID:  &id,
		TemplateID: e.templateID,
		StartedAt:  now,
	}); err != nil {
		return fmt.Errorf("saving session record: %w", err)
	}

	session := models.WorkoutSession{
		ID:         id,
		UserID:     e.userID,
		TemplateID: e.templateID,
		StartedAt:  now,
	}
	if err := e.queue.Enqueue(models.OpCreate, models.EntityWorkoutSession,
		id.String(), id.String(), session); err != nil {
		return fmt.Errorf("queueing session create: %w", err)
	}

	e.sessionID = &id
	e.startedAt = now
	for key, row := range e.sets {
		row.SessionID = &id
		e.sets[key] = row
	}
	e.state = StateIdentified
	e.log.Info("session identified", "session", id, "started_at", now)
	return nil
}

// trackerLocked builds a record tracker seeded with the best known for
// the exercise: the remote prior best, raised by any record already set
// in this session. A failed prior-best lookup degrades to the local
// knowledge and is logged; saves never block on the network.
func (e *Engine) trackerLocked(ctx context.Context, def models.ExerciseDefinition) (*records.Tracker, error) {
	if !e.bestsKnown[def.ID] {
		best := 0.0
		lookupCtx, cancel := context.WithTimeout(ctx, priorLookupTimeout)
		pr, err := e.prior.PersonalRecord(lookupCtx, e.userID, def.ID)
		cancel()
		if err != nil {
			e.log.Warn("prior best lookup failed, using local best", "exercise", def.ID, "error", err)
		} else if def.Measurement == models.MeasurementTimed {
			best = float64(pr.BestDurationSec)
		} else {
			best = pr.BestVolume
		}
		if best > e.sessionBests[def.ID] {
			e.sessionBests[def.ID] = best
		}
		e.bestsKnown[def.ID] = true
	}
	return records.NewTracker(e.sessionBests[def.ID]), nil
}

// commitSetLocked durably saves one validated set and queues its remote
// mutation. The caller holds the lock and has already validated input.
func (e *Engine) commitSetLocked(ctx context.Context, def models.ExerciseDefinition, row draft.Row, tracker *records.Tracker) (draft.Row, error) {
	if err := e.ensureIdentifiedLocked(ctx); err != nil {
		return draft.Row{}, err
	}

	res := tracker.Evaluate(records.Metric(row.SetDraft, def.Measurement))

	op := models.OpUpdate
	if row.RemoteID == nil {
		remoteID := uuid.New()
		row.RemoteID = &remoteID
		op = models.OpCreate
	}
	row.SessionID = e.sessionID
	row.Saved = true
	row.PersonalRecord = res.IsNewRecord

	if err := e.drafts.Put(row); err != nil {
		return draft.Row{}, fmt.Errorf("saving draft: %w", err)
	}
	e.sets[row.Key] = row

	setLog := models.SetLog{
		ID:             *row.RemoteID,
		SessionID:      *e.sessionID,
		UserID:         e.userID,
		ExerciseID:     row.Key.ExerciseID,
		SetIndex:       row.Key.SetIndex,
		Weight:         row.Weight,
		Reps:           row.Reps,
		LeftReps:       row.LeftReps,
		RightReps:      row.RightReps,
		DurationSec:    row.DurationSec,
		PersonalRecord: row.PersonalRecord,
		LoggedAt:       time.Now(),
	}
	if err := e.queue.Enqueue(op, models.EntitySetLog,
		row.RemoteID.String(), e.sessionID.String(), setLog); err != nil {
		e.revertSetLocked(row)
		return draft.Row{}, fmt.Errorf("queueing set log: %w", err)
	}

	if res.IsNewRecord {
		pr := models.PersonalRecord{
			UserID:         e.userID,
			ExerciseID:     def.ID,
			LastAchievedAt: time.Now(),
		}
		if def.Measurement == models.MeasurementTimed {
			pr.BestDurationSec = int(res.UpdatedBest)
		} else {
			pr.BestVolume = res.UpdatedBest
		}
		if err := e.queue.Enqueue(models.OpUpdate, models.EntityPersonalRecord,
			e.recordID(def.ID), e.sessionID.String(), pr); err != nil {
			e.revertSetLocked(row)
			return draft.Row{}, fmt.Errorf("queueing personal record: %w", err)
		}
	}
	e.sessionBests[def.ID] = tracker.Best()
	return row, nil
}

// revertSetLocked walks back a durable save whose outbox enqueue
// failed, so the operation as a whole reads as not having happened. The
// assigned remote id is kept; a retried save reuses it instead of
// minting a duplicate remote record.
func (e *Engine) revertSetLocked(row draft.Row) {
	row.Saved = false
	row.PersonalRecord = false
	if err := e.drafts.Put(row); err != nil {
		e.log.Warn("reverting draft after enqueue failure", "set", row.Key, "error", err)
	}
	e.sets[row.Key] = row
}

func (e *Engine) recordID(exerciseID string) string {
	return fmt.Sprintf("%d/%s", e.userID, exerciseID)
}

// pendingSetsLocked returns the exercise's unsaved sets that carry real
// input, in set-index order.
func (e *Engine) pendingSetsLocked(entry models.RosterEntry) []draft.Row {
	var pending []draft.Row
	for _, row := range e.setsForExerciseLocked(entry.Exercise.ID) {
		if !row.Saved && row.HasInput(entry.Exercise.Measurement) {
			pending = append(pending, row)
		}
	}
	return pending
}

// clearLocalLocked removes the previous session's local state: drafts
// (both pending and identified) and the active-session record. Queued
// outbox entries are deliberately left alone.
func (e *Engine) clearLocalLocked() error {
	if e.sessionID != nil {
		if err := e.drafts.PurgeSession(*e.sessionID); err != nil {
			return fmt.Errorf("clearing session drafts: %w", err)
		}
	}
	if err := e.drafts.PurgePending(); err != nil {
		return fmt.Errorf("clearing pending drafts: %w", err)
	}
	if err := e.drafts.ClearMeta(); err != nil {
		return fmt.Errorf("clearing session record: %w", err)
	}
	return nil
}

func (e *Engine) resetMemoryLocked() {
	e.state = StateInactive
	e.sessionID = nil
	e.templateID = nil
	e.startedAt = time.Time{}
	e.roster = nil
	e.sets = make(map[models.SetKey]draft.Row)
	e.sessionBests = make(map[string]float64)
	e.bestsKnown = make(map[string]bool)
}

func (e *Engine) kickLocked() {
	if e.drainer != nil {
		e.drainer.Kick()
	}
}

// validateInput rejects a set whose values cannot be committed for its
// measurement family. Rejection happens before any local write.
func validateInput(d models.SetDraft, m models.Measurement) error {
	switch m {
	case models.MeasurementWeighted:
		if d.Weight <= 0 {
			return &ValidationError{Field: "weight", Reason: "must be greater than zero"}
		}
		if d.Reps <= 0 {
			return &ValidationError{Field: "reps", Reason: "must be greater than zero"}
		}
	case models.MeasurementUnilateral:
		if d.Weight <= 0 {
			return &ValidationError{Field: "weight", Reason: "must be greater than zero"}
		}
		if d.LeftReps < 0 || d.RightReps < 0 {
			return &ValidationError{Field: "reps", Reason: "must not be negative"}
		}
		if d.LeftReps+d.RightReps <= 0 {
			return &ValidationError{Field: "reps", Reason: "at least one side must have reps"}
		}
	case models.MeasurementTimed:
		if d.DurationSec <= 0 {
			return &ValidationError{Field: "duration", Reason: "must be greater than zero"}
		}
	default:
		return &ValidationError{Field: "measurement", Reason: "unknown measurement type"}
	}
	return nil
}

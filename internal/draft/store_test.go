package draft

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/claude/liftlog/internal/models"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir(), 1)
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testRow(exerciseID string, setIndex int) Row {
	return Row{
		SetDraft: models.SetDraft{
			Key:    models.SetKey{ExerciseID: exerciseID, SetIndex: setIndex},
			Weight: 50,
			Reps:   10,
		},
		ExerciseName: "Bench Press",
		Measurement:  models.MeasurementWeighted,
	}
}

// TestPutGetRoundtrip verifies that a draft survives storage with all
// fields intact, addressable by its composite key.
func TestPutGetRoundtrip(t *testing.T) {
	s := openTestStore(t)

	row := testRow("bench-press", 0)
	row.LeftReps = 3
	row.RightReps = 4
	row.DurationSec = 0
	row.Saved = true
	row.PersonalRecord = true
	row.DisplayOrder = 2
	row.IsBonus = true
	if err := s.Put(row); err != nil {
		t.Fatalf("put: %v", err)
	}

	got, ok, err := s.Get("bench-press", 0)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !ok {
		t.Fatal("expected draft to exist")
	}
	if got.Weight != 50 || got.Reps != 10 || got.LeftReps != 3 || got.RightReps != 4 {
		t.Errorf("measurement fields not preserved: %+v", got.SetDraft)
	}
	if !got.Saved || !got.PersonalRecord {
		t.Errorf("flags not preserved: saved=%v pr=%v", got.Saved, got.PersonalRecord)
	}
	if got.ExerciseName != "Bench Press" || got.Measurement != models.MeasurementWeighted {
		t.Errorf("roster fields not preserved: %+v", got)
	}
	if got.DisplayOrder != 2 || !got.IsBonus {
		t.Errorf("ordering fields not preserved: order=%d bonus=%v", got.DisplayOrder, got.IsBonus)
	}
	if got.SessionID != nil {
		t.Errorf("session id = %v, want nil for provisional draft", got.SessionID)
	}
}

// TestGetMissing verifies that a missing key reports not-found rather
// than an error.
func TestGetMissing(t *testing.T) {
	s := openTestStore(t)

	_, ok, err := s.Get("squat", 0)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if ok {
		t.Error("expected no draft")
	}
}

// TestPutUpsertsByCompositeKey verifies that a second put for the same
// (exercise, set index) replaces the row instead of duplicating it.
func TestPutUpsertsByCompositeKey(t *testing.T) {
	s := openTestStore(t)

	row := testRow("bench-press", 1)
	if err := s.Put(row); err != nil {
		t.Fatal(err)
	}
	row.Weight = 55
	if err := s.Put(row); err != nil {
		t.Fatal(err)
	}

	rows, err := s.ListForSession(nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 {
		t.Fatalf("got %d rows, want 1", len(rows))
	}
	if rows[0].Weight != 55 {
		t.Errorf("weight = %v, want 55", rows[0].Weight)
	}
}

// TestListForSessionSeparatesProvisional verifies that null-session
// drafts and identified-session drafts are listed separately.
func TestListForSessionSeparatesProvisional(t *testing.T) {
	s := openTestStore(t)
	sessionID := uuid.New()

	pending := testRow("bench-press", 0)
	if err := s.Put(pending); err != nil {
		t.Fatal(err)
	}
	identified := testRow("squat", 0)
	identified.SessionID = &sessionID
	if err := s.Put(identified); err != nil {
		t.Fatal(err)
	}

	nullRows, err := s.ListForSession(nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(nullRows) != 1 || nullRows[0].Key.ExerciseID != "bench-press" {
		t.Errorf("null-session rows = %+v, want just bench-press", nullRows)
	}

	sessRows, err := s.ListForSession(&sessionID)
	if err != nil {
		t.Fatal(err)
	}
	if len(sessRows) != 1 || sessRows[0].Key.ExerciseID != "squat" {
		t.Errorf("session rows = %+v, want just squat", sessRows)
	}
}

// TestBackfillIdempotent verifies the core backfill property: running
// the backfill twice with the same id leaves the store in the same
// state as running it once, and values are untouched.
func TestBackfillIdempotent(t *testing.T) {
	s := openTestStore(t)
	sessionID := uuid.New()

	row := testRow("bench-press", 0)
	row.Saved = true
	if err := s.Put(row); err != nil {
		t.Fatal(err)
	}
	if err := s.Put(testRow("bench-press", 1)); err != nil {
		t.Fatal(err)
	}

	n, err := s.BackfillSessionID(sessionID)
	if err != nil {
		t.Fatalf("backfill: %v", err)
	}
	if n != 2 {
		t.Errorf("first backfill rewrote %d rows, want 2", n)
	}

	n, err = s.BackfillSessionID(sessionID)
	if err != nil {
		t.Fatalf("second backfill: %v", err)
	}
	if n != 0 {
		t.Errorf("second backfill rewrote %d rows, want 0", n)
	}

	rows, err := s.ListForSession(&sessionID)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 {
		t.Fatalf("got %d rows for session, want 2", len(rows))
	}
	for _, r := range rows {
		if r.SessionID == nil || *r.SessionID != sessionID {
			t.Errorf("row %s session id = %v, want %s", r.Key, r.SessionID, sessionID)
		}
	}
	// Values and flags must be untouched by the rewrite.
	got, _, err := s.Get("bench-press", 0)
	if err != nil {
		t.Fatal(err)
	}
	if got.Weight != 50 || !got.Saved {
		t.Errorf("backfill disturbed values: weight=%v saved=%v", got.Weight, got.Saved)
	}
}

// TestPurgeSession verifies that finishing a session removes exactly its
// drafts.
func TestPurgeSession(t *testing.T) {
	s := openTestStore(t)
	sessionID := uuid.New()
	other := uuid.New()

	mine := testRow("bench-press", 0)
	mine.SessionID = &sessionID
	if err := s.Put(mine); err != nil {
		t.Fatal(err)
	}
	theirs := testRow("squat", 0)
	theirs.SessionID = &other
	if err := s.Put(theirs); err != nil {
		t.Fatal(err)
	}

	if err := s.PurgeSession(sessionID); err != nil {
		t.Fatal(err)
	}

	if rows, _ := s.ListForSession(&sessionID); len(rows) != 0 {
		t.Errorf("purged session still has %d rows", len(rows))
	}
	if rows, _ := s.ListForSession(&other); len(rows) != 1 {
		t.Errorf("other session rows = %d, want 1", len(rows))
	}
}

// TestPurgeExercise verifies substitution cleanup: all of one
// exercise's drafts in the session scope go, saved or not, while rows
// of the same exercise under another session id stay untouched.
func TestPurgeExercise(t *testing.T) {
	s := openTestStore(t)

	saved := testRow("bench-press", 0)
	saved.Saved = true
	if err := s.Put(saved); err != nil {
		t.Fatal(err)
	}
	if err := s.Put(testRow("bench-press", 1)); err != nil {
		t.Fatal(err)
	}
	if err := s.Put(testRow("squat", 0)); err != nil {
		t.Fatal(err)
	}

	otherSession := uuid.New()
	other := testRow("bench-press", 2)
	other.SessionID = &otherSession
	if err := s.Put(other); err != nil {
		t.Fatal(err)
	}

	if err := s.PurgeExercise(nil, "bench-press"); err != nil {
		t.Fatal(err)
	}

	rows, err := s.ListForSession(nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 || rows[0].Key.ExerciseID != "squat" {
		t.Errorf("rows after purge = %+v, want just squat", rows)
	}
	kept, err := s.ListForSession(&otherSession)
	if err != nil {
		t.Fatal(err)
	}
	if len(kept) != 1 {
		t.Errorf("other session's rows after purge = %d, want 1", len(kept))
	}
}

// TestSessionMetaRoundtrip verifies the active-session record used for
// crash recovery.
func TestSessionMetaRoundtrip(t *testing.T) {
	s := openTestStore(t)

	// No meta yet.
	_, ok, err := s.LoadMeta()
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected no session record")
	}

	// Provisional: template but no id.
	templateID := "push-day"
	if err := s.SaveMeta(SessionMeta{TemplateID: &templateID}); err != nil {
		t.Fatal(err)
	}
	meta, ok, err := s.LoadMeta()
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected session record")
	}
	if meta.SessionID != nil {
		t.Errorf("session id = %v, want nil", meta.SessionID)
	}
	if meta.TemplateID == nil || *meta.TemplateID != "push-day" {
		t.Errorf("template id = %v, want push-day", meta.TemplateID)
	}
	if !meta.StartedAt.IsZero() {
		t.Errorf("started at = %v, want zero", meta.StartedAt)
	}

	// Identified: id and start time.
	sessionID := uuid.New()
	startedAt := time.Now().Truncate(time.Second)
	if err := s.SaveMeta(SessionMeta{SessionID: &sessionID, TemplateID: &templateID, StartedAt: startedAt}); err != nil {
		t.Fatal(err)
	}
	meta, ok, err = s.LoadMeta()
	if err != nil {
		t.Fatal(err)
	}
	if !ok || meta.SessionID == nil || *meta.SessionID != sessionID {
		t.Fatalf("session id = %v, want %s", meta.SessionID, sessionID)
	}
	if !meta.StartedAt.Equal(startedAt) {
		t.Errorf("started at = %v, want %v", meta.StartedAt, startedAt)
	}

	if err := s.ClearMeta(); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := s.LoadMeta(); ok {
		t.Error("session record survived clear")
	}
}

// TestClearAll verifies sign-out clearing: drafts and session record
// both go.
func TestClearAll(t *testing.T) {
	s := openTestStore(t)

	if err := s.Put(testRow("bench-press", 0)); err != nil {
		t.Fatal(err)
	}
	templateID := "push-day"
	if err := s.SaveMeta(SessionMeta{TemplateID: &templateID}); err != nil {
		t.Fatal(err)
	}

	if err := s.ClearAll(); err != nil {
		t.Fatal(err)
	}

	if rows, _ := s.ListForSession(nil); len(rows) != 0 {
		t.Error("drafts survived clear")
	}
	if _, ok, _ := s.LoadMeta(); ok {
		t.Error("session record survived clear")
	}
}

// TestReopenPreservesDrafts verifies that drafts survive closing and
// reopening the database, the restart scenario recovery depends on.
func TestReopenPreservesDrafts(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, 1)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Put(testRow("bench-press", 0)); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	s2, err := Open(dir, 1)
	if err != nil {
		t.Fatal(err)
	}
	defer s2.Close()

	got, ok, err := s2.Get("bench-press", 0)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("draft lost across reopen")
	}
	if got.Weight != 50 {
		t.Errorf("weight = %v, want 50", got.Weight)
	}
}

// Package draft is the durable local record of in-progress set inputs.
// Every edit is persisted immediately, independent of whether the
// session has a durable id yet, so the store is the authoritative
// recovery source after a process restart.
package draft

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/claude/liftlog/internal/models"
)

// Row is one stored draft plus the roster fields needed to rebuild the
// in-memory exercise list from local state alone.
type Row struct {
	models.SetDraft
	ExerciseName string
	Measurement  models.Measurement
	DisplayOrder int
	IsBonus      bool
}

// SessionMeta is the single active-session record for a user. A row
// exists from workout selection until finish or reset; SessionID stays
// nil while the session is provisional.
type SessionMeta struct {
	SessionID  *uuid.UUID
	TemplateID *string
	StartedAt  time.Time
}

// Store is a user-scoped SQLite store of set drafts.
type Store struct {
	db     *sql.DB
	userID int
}

// Open opens (or creates) the draft database at dir/drafts.db, scoped to
// the given user.
func Open(dir string, userID int) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating draft dir %s: %w", dir, err)
	}

	dbPath := filepath.Join(dir, "drafts.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening draft db: %w", err)
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS set_drafts (
		user_id       INTEGER NOT NULL,
		exercise_id   TEXT NOT NULL,
		set_index     INTEGER NOT NULL,
		session_id    TEXT,
		remote_id     TEXT,
		weight        REAL NOT NULL DEFAULT 0,
		reps          INTEGER NOT NULL DEFAULT 0,
		left_reps     INTEGER NOT NULL DEFAULT 0,
		right_reps    INTEGER NOT NULL DEFAULT 0,
		duration_sec  INTEGER NOT NULL DEFAULT 0,
		is_saved      INTEGER NOT NULL DEFAULT 0,
		is_pr         INTEGER NOT NULL DEFAULT 0,
		exercise_name TEXT NOT NULL DEFAULT '',
		measurement   TEXT NOT NULL DEFAULT 'weighted',
		display_order INTEGER NOT NULL DEFAULT 0,
		is_bonus      INTEGER NOT NULL DEFAULT 0,
		updated_at    TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (user_id, exercise_id, set_index)
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating set_drafts table: %w", err)
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS active_session (
		user_id     INTEGER PRIMARY KEY,
		session_id  TEXT,
		template_id TEXT,
		started_at  INTEGER NOT NULL DEFAULT 0
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating active_session table: %w", err)
	}

	return &Store{db: db, userID: userID}, nil
}

// Put upserts a draft by its composite key.
func (s *Store) Put(row Row) error {
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO set_drafts
		 (user_id, exercise_id, set_index, session_id, remote_id,
		  weight, reps, left_reps, right_reps, duration_sec,
		  is_saved, is_pr, exercise_name, measurement, display_order, is_bonus)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.userID, row.Key.ExerciseID, row.Key.SetIndex,
		uuidOrNil(row.SessionID), uuidOrNil(row.RemoteID),
		row.Weight, row.Reps, row.LeftReps, row.RightReps, row.DurationSec,
		row.Saved, row.PersonalRecord,
		row.ExerciseName, string(row.Measurement), row.DisplayOrder, row.IsBonus,
	)
	if err != nil {
		return fmt.Errorf("putting draft %s: %w", row.Key, err)
	}
	return nil
}

// Get retrieves one draft by composite key. The second return value is
// false if no draft exists for the key.
func (s *Store) Get(exerciseID string, setIndex int) (Row, bool, error) {
	row := s.db.QueryRow(
		selectDrafts+` WHERE user_id = ? AND exercise_id = ? AND set_index = ?`,
		s.userID, exerciseID, setIndex,
	)
	r, err := scanDraft(row)
	if err == sql.ErrNoRows {
		return Row{}, false, nil
	}
	if err != nil {
		return Row{}, false, fmt.Errorf("getting draft %s/%d: %w", exerciseID, setIndex, err)
	}
	return r, true, nil
}

// ListForSession returns all drafts for a session id, ordered by display
// order then set index. A nil session id lists the provisional drafts
// that have not yet been backfilled.
func (s *Store) ListForSession(sessionID *uuid.UUID) ([]Row, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if sessionID == nil {
		rows, err = s.db.Query(
			selectDrafts+` WHERE user_id = ? AND session_id IS NULL
			 ORDER BY display_order ASC, set_index ASC`,
			s.userID,
		)
	} else {
		rows, err = s.db.Query(
			selectDrafts+` WHERE user_id = ? AND session_id = ?
			 ORDER BY display_order ASC, set_index ASC`,
			s.userID, sessionID.String(),
		)
	}
	if err != nil {
		return nil, fmt.Errorf("listing drafts: %w", err)
	}
	defer rows.Close()

	var result []Row
	for rows.Next() {
		r, err := scanDraft(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning draft: %w", err)
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

// BackfillSessionID rewrites every draft with a null session id to the
// given id, leaving all other fields untouched. Calling it again with
// the same id is a no-op, since no null-session rows remain.
func (s *Store) BackfillSessionID(sessionID uuid.UUID) (int64, error) {
	res, err := s.db.Exec(
		`UPDATE set_drafts SET session_id = ? WHERE user_id = ? AND session_id IS NULL`,
		sessionID.String(), s.userID,
	)
	if err != nil {
		return 0, fmt.Errorf("backfilling session id: %w", err)
	}
	return res.RowsAffected()
}

// PurgeSession deletes all drafts belonging to the session.
func (s *Store) PurgeSession(sessionID uuid.UUID) error {
	_, err := s.db.Exec(
		`DELETE FROM set_drafts WHERE user_id = ? AND session_id = ?`,
		s.userID, sessionID.String(),
	)
	if err != nil {
		return fmt.Errorf("purging session drafts: %w", err)
	}
	return nil
}

// PurgePending deletes all drafts that never got a session id.
func (s *Store) PurgePending() error {
	_, err := s.db.Exec(
		`DELETE FROM set_drafts WHERE user_id = ? AND session_id IS NULL`,
		s.userID,
	)
	if err != nil {
		return fmt.Errorf("purging pending drafts: %w", err)
	}
	return nil
}

// PurgeExercise deletes the drafts of one exercise within one session
// scope. A nil session id targets the provisional drafts; rows left
// behind by another session are not touched.
func (s *Store) PurgeExercise(sessionID *uuid.UUID, exerciseID string) error {
	var err error
	if sessionID == nil {
		_, err = s.db.Exec(
			`DELETE FROM set_drafts WHERE user_id = ? AND exercise_id = ? AND session_id IS NULL`,
			s.userID, exerciseID,
		)
	} else {
		_, err = s.db.Exec(
			`DELETE FROM set_drafts WHERE user_id = ? AND exercise_id = ? AND session_id = ?`,
			s.userID, exerciseID, sessionID.String(),
		)
	}
	if err != nil {
		return fmt.Errorf("purging exercise drafts: %w", err)
	}
	return nil
}

// SaveMeta upserts the active-session record for the user.
func (s *Store) SaveMeta(meta SessionMeta) error {
	var startedAt int64
	if !meta.StartedAt.IsZero() {
		startedAt = meta.StartedAt.Unix()
	}
	var templateID any
	if meta.TemplateID != nil {
		templateID = *meta.TemplateID
	}
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO active_session (user_id, session_id, template_id, started_at)
		 VALUES (?, ?, ?, ?)`,
		s.userID, uuidOrNil(meta.SessionID), templateID, startedAt,
	)
	if err != nil {
		return fmt.Errorf("saving session meta: %w", err)
	}
	return nil
}

// LoadMeta returns the active-session record, if any.
func (s *Store) LoadMeta() (SessionMeta, bool, error) {
	var (
		sessionID  sql.NullString
		templateID sql.NullString
		startedAt  int64
	)
	err := s.db.QueryRow(
		`SELECT session_id, template_id, started_at FROM active_session WHERE user_id = ?`,
		s.userID,
	).Scan(&sessionID, &templateID, &startedAt)
	if err == sql.ErrNoRows {
		return SessionMeta{}, false, nil
	}
	if err != nil {
		return SessionMeta{}, false, fmt.Errorf("loading session meta: %w", err)
	}

	meta := SessionMeta{}
	if sessionID.Valid {
		id, err := uuid.Parse(sessionID.String)
		if err != nil {
			return SessionMeta{}, false, fmt.Errorf("parsing stored session id: %w", err)
		}
		meta.SessionID = &id
	}
	if templateID.Valid {
		meta.TemplateID = &templateID.String
	}
	if startedAt > 0 {
		meta.StartedAt = time.Unix(startedAt, 0)
	}
	return meta, true, nil
}

// ClearMeta removes the active-session record.
func (s *Store) ClearMeta() error {
	_, err := s.db.Exec(`DELETE FROM active_session WHERE user_id = ?`, s.userID)
	if err != nil {
		return fmt.Errorf("clearing session meta: %w", err)
	}
	return nil
}

// ClearAll wipes every draft and the session record for the user. Called
// by the auth collaborator on sign-out or account switch.
func (s *Store) ClearAll() error {
	if _, err := s.db.Exec(`DELETE FROM set_drafts WHERE user_id = ?`, s.userID); err != nil {
		return fmt.Errorf("clearing drafts: %w", err)
	}
	return s.ClearMeta()
}

// Close closes the draft database.
func (s *Store) Close() error {
	return s.db.Close()
}

const selectDrafts = `SELECT exercise_id, set_index, session_id, remote_id,
	weight, reps, left_reps, right_reps, duration_sec, is_saved, is_pr,
	exercise_name, measurement, display_order, is_bonus
	FROM set_drafts`

func scanDraft(row interface{ Scan(dest ...any) error }) (Row, error) {
	var (
		r         Row
		sessionID sql.NullString
		remoteID  sql.NullString
	)
	err := row.Scan(
		&r.Key.ExerciseID, &r.Key.SetIndex, &sessionID, &remoteID,
		&r.Weight, &r.Reps, &r.LeftReps, &r.RightReps, &r.DurationSec,
		&r.Saved, &r.PersonalRecord,
		&r.ExerciseName, (*string)(&r.Measurement), &r.DisplayOrder, &r.IsBonus,
	)
	if err != nil {
		return Row{}, err
	}
	if sessionID.Valid {
		id, err := uuid.Parse(sessionID.String)
		if err != nil {
			return Row{}, fmt.Errorf("parsing session id: %w", err)
		}
		r.SessionID = &id
	}
	if remoteID.Valid {
		id, err := uuid.Parse(remoteID.String)
		if err != nil {
			return Row{}, fmt.Errorf("parsing remote id: %w", err)
		}
		r.RemoteID = &id
	}
	return r, nil
}

func uuidOrNil(id *uuid.UUID) any {
	if id == nil {
		return nil
	}
	return id.String()
}

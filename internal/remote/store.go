// Package remote is the Postgres side of the sync pipeline: the target
// the outbox drains into, plus the read paths the engine consults
// (prior bests, template resolution). Every apply is an upsert keyed by
// the record id, so replaying a delivered entry is harmless.
package remote

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/claude/liftlog/internal/models"
)

// Store wraps a pgxpool.Pool and provides the remote mutation and
// lookup methods.
type Store struct {
	Pool *pgxpool.Pool
}

// New creates a new Store with a connection pool.
func New(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("creating pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return &Store{Pool: pool}, nil
}

// Close closes the connection pool.
func (s *Store) Close() {
	s.Pool.Close()
}

// RunMigrations applies all pending migrations from the given directory.
func RunMigrations(dsn, migrationsPath string) error {
	m, err := migrate.New("file://"+migrationsPath, dsn)
	if err != nil {
		return fmt.Errorf("creating migrator: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("running migrations: %w", err)
	}
	return nil
}

// Apply executes one drained outbox mutation. Creates and updates share
// the same upsert path; a replayed create lands as a no-op update.
func (s *Store) Apply(ctx context.Context, op models.Operation, entityType string, payload json.RawMessage) error {
	switch entityType {
	case models.EntityWorkoutSession:
		return s.applySession(ctx, op, payload)
	case models.EntitySetLog:
		return s.applySetLog(ctx, op, payload)
	case models.EntityPersonalRecord:
		return s.applyPersonalRecord(ctx, op, payload)
	}
	return fmt.Errorf("unknown entity type %q", entityType)
}

func (s *Store) applySession(ctx context.Context, op models.Operation, payload json.RawMessage) error {
	var row models.WorkoutSession
	if err := json.Unmarshal(payload, &row); err != nil {
		return fmt.Errorf("decoding session payload: %w", err)
	}

	if op == models.OpDelete {
		_, err := s.Pool.Exec(ctx, `DELETE FROM workout_sessions WHERE id = $1`, row.ID)
		if err != nil {
			return fmt.Errorf("deleting session: %w", err)
		}
		return nil
	}

	_, err := s.Pool.Exec(ctx,
		`INSERT INTO workout_sessions (id, user_id, template_id, started_at, completed_at, duration_label)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (id) DO UPDATE SET
		   completed_at = EXCLUDED.completed_at,
		   duration_label = EXCLUDED.duration_label`,
		row.ID, row.UserID, row.TemplateID, row.StartedAt, row.CompletedAt, row.DurationLabel)
	if err != nil {
		return fmt.Errorf("upserting session: %w", err)
	}
	return nil
}

func (s *Store) applySetLog(ctx context.Context, op models.Operation, payload json.RawMessage) error {
	var row models.SetLog
	if err := json.Unmarshal(payload, &row); err != nil {
		return fmt.Errorf("decoding set log payload: %w", err)
	}

	if op == models.OpDelete {
		_, err := s.Pool.Exec(ctx, `DELETE FROM set_logs WHERE id = $1`, row.ID)
		if err != nil {
			return fmt.Errorf("deleting set log: %w", err)
		}
		return nil
	}

	_, err := s.Pool.Exec(ctx,
		`INSERT INTO set_logs (id, session_id, user_id, exercise_id, set_index,
		   weight, reps, left_reps, right_reps, duration_sec, is_personal_record, logged_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		 ON CONFLICT (id) DO UPDATE SET
		   weight = EXCLUDED.weight,
		   reps = EXCLUDED.reps,
		   left_reps = EXCLUDED.left_reps,
		   right_reps = EXCLUDED.right_reps,
		   duration_sec = EXCLUDED.duration_sec,
		   is_personal_record = EXCLUDED.is_personal_record,
		   logged_at = EXCLUDED.logged_at`,
		row.ID, row.SessionID, row.UserID, row.ExerciseID, row.SetIndex,
		row.Weight, row.Reps, row.LeftReps, row.RightReps, row.DurationSec,
		row.PersonalRecord, row.LoggedAt)
	if err != nil {
		return fmt.Errorf("upserting set log: %w", err)
	}
	return nil
}

// applyPersonalRecord upserts a best. GREATEST keeps the row monotonic
// even if entries arrive out of order after a long offline stretch.
func (s *Store) applyPersonalRecord(ctx context.Context, op models.Operation, payload json.RawMessage) error {
	var row models.PersonalRecord
	if err := json.Unmarshal(payload, &row); err != nil {
		return fmt.Errorf("decoding personal record payload: %w", err)
	}

	if op == models.OpDelete {
		_, err := s.Pool.Exec(ctx,
			`DELETE FROM personal_records WHERE user_id = $1 AND exercise_id = $2`,
			row.UserID, row.ExerciseID)
		if err != nil {
			return fmt.Errorf("deleting personal record: %w", err)
		}
		return nil
	}

	_, err := s.Pool.Exec(ctx,
		`INSERT INTO personal_records (user_id, exercise_id, best_volume, best_duration_sec, last_achieved_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (user_id, exercise_id) DO UPDATE SET
		   best_volume = GREATEST(personal_records.best_volume, EXCLUDED.best_volume),
		   best_duration_sec = GREATEST(personal_records.best_duration_sec, EXCLUDED.best_duration_sec),
		   last_achieved_at = EXCLUDED.last_achieved_at`,
		row.UserID, row.ExerciseID, row.BestVolume, row.BestDurationSec, row.LastAchievedAt)
	if err != nil {
		return fmt.Errorf("upserting personal record: %w", err)
	}
	return nil
}

// PersonalRecord returns the user's best for an exercise. A user who has
// never performed the exercise gets a zero-value record, not an error.
func (s *Store) PersonalRecord(ctx context.Context, userID int, exerciseID string) (models.PersonalRecord, error) {
	row := s.Pool.QueryRow(ctx,
		`SELECT user_id, exercise_id, best_volume, best_duration_sec, last_achieved_at
		 FROM personal_records
		 WHERE user_id = $1 AND exercise_id = $2`,
		userID, exerciseID)

	var pr models.PersonalRecord
	err := row.Scan(&pr.UserID, &pr.ExerciseID, &pr.BestVolume, &pr.BestDurationSec, &pr.LastAchievedAt)
	if err == pgx.ErrNoRows {
		return models.PersonalRecord{UserID: userID, ExerciseID: exerciseID}, nil
	}
	if err != nil {
		return models.PersonalRecord{}, fmt.Errorf("querying personal record: %w", err)
	}
	return pr, nil
}

// ActiveTemplateExercises resolves a template's exercise list filtered
// by the user's active equipment context. Exercises with no equipment
// requirement always match.
func (s *Store) ActiveTemplateExercises(ctx context.Context, templateID, equipmentContext string) ([]models.ExerciseDefinition, error) {
	rows, err := s.Pool.Query(ctx,
		`SELECT e.id, e.name, e.measurement, te.is_bonus
		 FROM template_exercises te
		 JOIN exercises e ON e.id = te.exercise_id
		 WHERE te.template_id = $1 AND (e.equipment = '' OR e.equipment = $2)
		 ORDER BY te.display_order ASC`,
		templateID, equipmentContext)
	if err != nil {
		return nil, fmt.Errorf("querying template exercises: %w", err)
	}
	defer rows.Close()

	var result []models.ExerciseDefinition
	for rows.Next() {
		var def models.ExerciseDefinition
		if err := rows.Scan(&def.ID, &def.Name, (*string)(&def.Measurement), &def.IsBonus); err != nil {
			return nil, fmt.Errorf("scanning template exercise: %w", err)
		}
		result = append(result, def)
	}
	return result, rows.Err()
}

package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/claude/liftlog/internal/engine"
	"github.com/claude/liftlog/internal/models"
)

func (s *Server) handleSessionState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Snapshot())
}

func (s *Server) handleSelectWorkout(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TemplateID *string `json:"template_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON: " + err.Error()})
		return
	}

	if err := s.engine.SelectWorkout(r.Context(), req.TemplateID); err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.engine.Snapshot())
}

func (s *Server) handleFinishSession(w http.ResponseWriter, r *http.Request) {
	sessionID, err := s.engine.FinishSession(r.Context())
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"session_id": sessionID.String()})
}

func (s *Server) handleResetSession(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.ResetSession(); err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.engine.Snapshot())
}

func (s *Server) handleSyncTemplate(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.SyncTemplate(r.Context()); err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.engine.Snapshot())
}

func (s *Server) handleAddExercise(w http.ResponseWriter, r *http.Request) {
	var def models.ExerciseDefinition
	if err := json.NewDecoder(r.Body).Decode(&def); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON: " + err.Error()})
		return
	}
	if def.ID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "exercise id required"})
		return
	}

	if err := s.engine.AddExercise(def); err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.engine.Snapshot())
}

func (s *Server) handleRemoveExercise(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.RemoveExercise(chi.URLParam(r, "id")); err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.engine.Snapshot())
}

func (s *Server) handleSubstituteExercise(w http.ResponseWriter, r *http.Request) {
	var def models.ExerciseDefinition
	if err := json.NewDecoder(r.Body).Decode(&def); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON: " + err.Error()})
		return
	}

	if err := s.engine.SubstituteExercise(chi.URLParam(r, "id"), def); err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.engine.Snapshot())
}

func (s *Server) handleCompleteExercise(w http.ResponseWriter, r *http.Request) {
	completion, err := s.engine.CompleteExercise(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, completion)
}

func (s *Server) handleEditSet(w http.ResponseWriter, r *http.Request) {
	exerciseID, setIndex, ok := setParams(w, r)
	if !ok {
		return
	}

	var input engine.SetInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON: " + err.Error()})
		return
	}

	if err := s.engine.EditSet(exerciseID, setIndex, input); err != nil {
		s.writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSaveSet(w http.ResponseWriter, r *http.Request) {
	exerciseID, setIndex, ok := setParams(w, r)
	if !ok {
		return
	}

	saved, err := s.engine.SaveSet(r.Context(), exerciseID, setIndex)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

func (s *Server) handleSyncStatus(w http.ResponseWriter, r *http.Request) {
	pending, err := s.queue.Len()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"pending": pending})
}

// writeEngineError maps engine errors onto HTTP statuses: validation and
// caller errors are the client's problem, everything else is a local
// persistence failure. Sync errors never surface here; the outbox
// absorbs them.
func (s *Server) writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case engine.IsValidation(err):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, engine.ErrExerciseNotInSession), errors.Is(err, engine.ErrSetNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	case errors.Is(err, engine.ErrExerciseAlreadyAdded),
		errors.Is(err, engine.ErrNoActiveSession),
		errors.Is(err, engine.ErrSessionNotIdentified):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	default:
		s.log.Error("engine error", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "could not save"})
	}
}

func setParams(w http.ResponseWriter, r *http.Request) (string, int, bool) {
	exerciseID := chi.URLParam(r, "id")
	setIndex, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid set index"})
		return "", 0, false
	}
	return exerciseID, setIndex, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

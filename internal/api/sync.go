package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/insightlabs/observatory/internal/storage"
	"github.com/insightlabs/observatory/internal/umasync"
)

func (s *Server) handleSyncStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"task":    s.scheduler.GetSyncTaskStatus(),
		"syncing": s.engine.SyncingCount(),
	})
}

func (s *Server) handleSyncStart(w http.ResponseWriter, r *http.Request) {
	s.scheduler.Start()
	writeJSON(w, http.StatusOK, s.scheduler.GetSyncTaskStatus())
}

func (s *Server) handleSyncStop(w http.ResponseWriter, r *http.Request) {
	s.scheduler.Stop()
	writeJSON(w, http.StatusOK, s.scheduler.GetSyncTaskStatus())
}

// handleSyncInstance runs one synchronous sync pass. Concurrent calls
// for the same instance collapse into the in-flight one.
func (s *Server) handleSyncInstance(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["instanceId"]
	inst, err := s.store.GetInstance(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "instance not found: "+id)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if err := s.engine.EnsureSynced(r.Context(), inst); err != nil {
		status := http.StatusBadGateway
		if umasync.ClassOf(err) == umasync.ClassContractNotFound {
			status = http.StatusUnprocessableEntity
		}
		writeError(w, status, err.Error())
		return
	}

	state, err := s.store.GetSyncState(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, state)
}

type replayRequest struct {
	InstanceID string `json:"instanceId"`
	From       uint64 `json:"from"`
	To         uint64 `json:"to"`
}

func (s *Server) handleSyncReplay(w http.ResponseWriter, r *http.Request) {
	var req replayRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.InstanceID == "" || req.To < req.From {
		writeError(w, http.StatusBadRequest, "instanceId required and to >= from")
		return
	}

	inst, err := s.store.GetInstance(r.Context(), req.InstanceID)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "instance not found: "+req.InstanceID)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if err := s.engine.ReplayEventsRange(r.Context(), inst, req.From, req.To); err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"instanceId": req.InstanceID,
		"from":       req.From,
		"to":         req.To,
		"status":     "replayed",
	})
}

package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
)

type detectRequest struct {
	Metric    string   `json:"metric"`
	Value     float64  `json:"value"`
	Timestamp *int64   `json:"timestamp,omitempty"` // ms since epoch
}

func (s *Server) handleAnomalyDetect(w http.ResponseWriter, r *http.Request) {
	var req detectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Metric == "" {
		writeError(w, http.StatusBadRequest, "metric required")
		return
	}

	var at time.Time
	if req.Timestamp != nil {
		at = time.UnixMilli(*req.Timestamp)
	}
	det := s.detector.Detect(req.Metric, req.Value, at)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"detection": det, // null when the point is normal
	})
}

func (s *Server) handleAnomalyProfile(w http.ResponseWriter, r *http.Request) {
	metric := mux.Vars(r)["metric"]
	p := s.detector.GetProfile(metric)
	if p == nil {
		writeError(w, http.StatusNotFound, "no profile for metric: "+metric)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleAnomalyPrediction(w http.ResponseWriter, r *http.Request) {
	metric := mux.Vars(r)["metric"]
	p := s.detector.GetPrediction(metric)
	if p == nil {
		writeError(w, http.StatusNotFound, "no prediction for metric: "+metric)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleAnomalyReset(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Metric string `json:"metric"` // empty resets everything
	}
	if r.Body != nil {
		// Body is optional for a full reset.
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	s.detector.Reset(req.Metric)
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset", "metric": req.Metric})
}

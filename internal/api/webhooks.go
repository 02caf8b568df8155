package api

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/insightlabs/observatory/internal/webhooks"
)

type webhookRequest struct {
	URL        string   `json:"url"`
	EventTypes []string `json:"eventTypes,omitempty"`
	Secret     string   `json:"secret,omitempty"`
}

func (s *Server) handleRegisterWebhook(w http.ResponseWriter, r *http.Request) {
	var req webhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	sub := &webhooks.Subscription{
		URL:        req.URL,
		EventTypes: req.EventTypes,
		Secret:     req.Secret,
	}
	if err := s.hooks.Register(sub); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, sub)
}

func (s *Server) handleListWebhooks(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"webhooks": s.hooks.List()})
}

func (s *Server) handleUnregisterWebhook(w http.ResponseWriter, r *http.Request) {
	if err := s.hooks.Unregister(mux.Vars(r)["id"]); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "unregistered"})
}

package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/insightlabs/observatory/internal/core"
	"github.com/insightlabs/observatory/internal/storage"
)

func pageFrom(r *http.Request) storage.Page {
	var p storage.Page
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 {
		p.Limit = v
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil && v > 0 {
		p.Offset = v
	}
	return p
}

func listResponse(w http.ResponseWriter, rows interface{}, total int, p storage.Page) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"rows":   rows,
		"total":  total,
		"limit":  p.Limit,
		"offset": p.Offset,
	})
}

func (s *Server) handleListAssertions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := storage.AssertionFilter{
		Chain:      q.Get("chain"),
		Status:     core.AssertionStatus(q.Get("status")),
		Identifier: q.Get("identifier"),
	}
	p := pageFrom(r)
	rows, total, err := s.store.ListAssertions(r.Context(), f, p)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	listResponse(w, rows, total, p)
}

func (s *Server) handleGetAssertion(w http.ResponseWriter, r *http.Request) {
	a, err := s.store.GetAssertion(r.Context(), mux.Vars(r)["id"])
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "assertion not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) handleListDisputes(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := storage.DisputeFilter{
		Chain:       q.Get("chain"),
		Status:      core.DisputeStatus(q.Get("status")),
		AssertionID: q.Get("assertionId"),
	}
	p := pageFrom(r)
	rows, total, err := s.store.ListDisputes(r.Context(), f, p)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	listResponse(w, rows, total, p)
}

func (s *Server) handleListVotes(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := storage.VoteFilter{
		Chain:       q.Get("chain"),
		AssertionID: q.Get("assertionId"),
		Voter:       q.Get("voter"),
	}
	p := pageFrom(r)
	rows, total, err := s.store.ListVotes(r.Context(), f, p)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	listResponse(w, rows, total, p)
}

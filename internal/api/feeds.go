package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/insightlabs/observatory/internal/core"
	"github.com/insightlabs/observatory/internal/oracle"
)

// pathSymbol maps the URL form to the canonical pair: "ETH-USD" and
// "eth-usd" both become "ETH/USD".
func pathSymbol(raw string) string {
	return oracle.NormalizeSymbol(strings.ReplaceAll(raw, "-", "/"))
}

func (s *Server) handleAllFeeds(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	client, ok := s.client(vars["protocol"], vars["chain"])
	if !ok {
		writeError(w, http.StatusNotFound, "no client for "+vars["protocol"]+"/"+vars["chain"])
		return
	}

	feeds := client.FetchAllFeeds(r.Context())
	// Cache writes are best-effort.
	_ = s.cache.PutFeeds(r.Context(), feeds)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"feeds": feeds,
		"count": len(feeds),
	})
}

func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	symbol := pathSymbol(vars["symbol"])

	client, ok := s.client(vars["protocol"], vars["chain"])
	if !ok {
		writeError(w, http.StatusNotFound, "no client for "+vars["protocol"]+"/"+vars["chain"])
		return
	}

	feed, err := client.FetchPrice(r.Context(), symbol)
	if err != nil {
		// Serve the last cached record when the source errors.
		if cached, hit, cacheErr := s.cache.GetFeed(r.Context(), core.Protocol(vars["protocol"]), vars["chain"], symbol); cacheErr == nil && hit {
			writeJSON(w, http.StatusOK, cached)
			return
		}
		var pfe *oracle.PriceFetchError
		if errors.As(err, &pfe) {
			writeError(w, http.StatusBadGateway, pfe.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if feed == nil {
		writeError(w, http.StatusNotFound, "symbol not supported: "+symbol)
		return
	}

	_ = s.cache.PutFeed(r.Context(), feed)
	writeJSON(w, http.StatusOK, feed)
}

func (s *Server) handleFeedHealth(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	client, ok := s.client(vars["protocol"], vars["chain"])
	if !ok {
		writeError(w, http.StatusNotFound, "no client for "+vars["protocol"]+"/"+vars["chain"])
		return
	}
	writeJSON(w, http.StatusOK, client.CheckHealth(r.Context()))
}

func (s *Server) handleCapabilities(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	client, ok := s.client(vars["protocol"], vars["chain"])
	if !ok {
		writeError(w, http.StatusNotFound, "no client for "+vars["protocol"]+"/"+vars["chain"])
		return
	}
	writeJSON(w, http.StatusOK, client.Capabilities())
}

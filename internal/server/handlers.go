package server

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/trickstertwo/xstream/internal/store"
)

const maxMessageBytes = 1 << 20

// handleLoadData stores numberOfItems generated rows and answers "OK".
func (s *Server) handleLoadData(w http.ResponseWriter, r *http.Request) {
	n, err := strconv.Atoi(r.URL.Query().Get("numberOfItems"))
	if err != nil || n < 0 {
		http.Error(w, "numberOfItems must be a non-negative integer", http.StatusBadRequest)
		return
	}

	for i := 0; i < n; i++ {
		if _, err := s.deps.Store.Save(r.Context(), &store.Something{Name: s.deps.Facts.Fact()}); err != nil {
			AddError(r.Context(), err)
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}
	AddLogField(r.Context(), "items", strconv.Itoa(n))
	_, _ = io.WriteString(w, "OK")
}

func (s *Server) handleLoadCache(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	key := q.Get("key")
	if key == "" || !q.Has("value") {
		http.Error(w, "key and value are required", http.StatusBadRequest)
		return
	}
	if err := s.deps.Cache.Set(r.Context(), key, q.Get("value")); err != nil {
		AddError(r.Context(), err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

// handleGetCache writes the cached value, or an empty body for a missing key.
func (s *Server) handleGetCache(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("key")
	if key == "" {
		http.Error(w, "key is required", http.StatusBadRequest)
		return
	}
	v, _, err := s.deps.Cache.Get(r.Context(), key)
	if err != nil {
		AddError(r.Context(), err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, v)
}

// handleSendMessage publishes the raw body and waits for the chain. Any
// subscriber failure surfaces as a 500 carrying the aggregated error.
func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxMessageBytes))
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}
	if err := s.deps.Gateway.SendForProcessing(r.Context(), string(body)); err != nil {
		AddError(r.Context(), err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.Health == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	h := s.deps.Health.Health(r.Context())
	w.Header().Set("Content-Type", "application/json")
	if h.Status == "unhealthy" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(h)
}

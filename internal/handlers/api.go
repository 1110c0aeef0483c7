package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"projecttree/backend/internal/auth"
	"projecttree/backend/internal/presence"
	"projecttree/backend/internal/store"
	"projecttree/backend/internal/tree"
	"projecttree/backend/internal/ws"
)

// API carries the dependencies shared by the HTTP handlers.
type API struct {
	Store    store.Store
	Presence *presence.Tracker
	Exporter *tree.Exporter
	Hub      *ws.Hub
	Verifier *auth.Verifier
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func urlUUID(r *http.Request, param string) (uuid.UUID, error) {
	return uuid.Parse(chi.URLParam(r, param))
}

// Healthz pings storage and reports hub occupancy.
func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	rooms, clients := a.Hub.Stats()
	if err := a.Store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status": "unavailable",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"rooms":   rooms,
		"clients": clients,
	})
}

package handlers

import (
	"log/slog"
	"net/http"

	"projecttree/backend/internal/middleware"
)

// GetFileUsers lists who has the file open.
func (a *API) GetFileUsers(w http.ResponseWriter, r *http.Request) {
	fileID, err := urlUUID(r, "fileId")
	if err != nil {
		http.Error(w, "Invalid file ID", http.StatusBadRequest)
		return
	}

	users, err := a.Presence.GetUsersFor(r.Context(), fileID)
	if err != nil {
		slog.Error("load file users", "file", fileID, "error", err)
		http.Error(w, "Failed to retrieve presence", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

// RestoreTabs returns the caller's open tabs in the project and marks them live.
func (a *API) RestoreTabs(w http.ResponseWriter, r *http.Request) {
	projectID, _ := middleware.Project(r.Context())
	_, username, _ := middleware.User(r.Context())

	tabs, err := a.Presence.RestoreTabs(r.Context(), username, projectID)
	if err != nil {
		slog.Error("restore tabs", "project", projectID, "user", username, "error", err)
		http.Error(w, "Failed to restore tabs", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, tabs)
}

func (a *API) GetMyPresence(w http.ResponseWriter, r *http.Request) {
	_, username, _ := middleware.User(r.Context())

	rows, err := a.Presence.ForUser(r.Context(), username)
	if err != nil {
		slog.Error("load presence", "user", username, "error", err)
		http.Error(w, "Failed to retrieve presence", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

// MarkAllLive flips every presence row of the caller to live.
func (a *API) MarkAllLive(w http.ResponseWriter, r *http.Request) {
	_, username, _ := middleware.User(r.Context())

	n, err := a.Presence.MarkAllLive(r.Context(), username)
	if err != nil {
		slog.Error("mark live", "user", username, "error", err)
		http.Error(w, "Failed to update presence", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"updated": n})
}

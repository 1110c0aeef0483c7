package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"projecttree/backend/internal/middleware"
	"projecttree/backend/internal/store"
)

// GetUserRoleForProject reports the caller's role as resolved by ProjectMemberAuth.
func (a *API) GetUserRoleForProject(w http.ResponseWriter, r *http.Request) {
	role := middleware.Role(r.Context())
	if role == "" {
		http.Error(w, "Could not find role for user in project", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"role": role})
}

// CreateProjectRoot creates the root folder of a newly created project.
// The project service calls it once per project.
func (a *API) CreateProjectRoot(w http.ResponseWriter, r *http.Request) {
	projectID, _ := middleware.Project(r.Context())

	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		http.Error(w, "Project name cannot be empty", http.StatusBadRequest)
		return
	}

	root, err := a.Store.CreateRoot(r.Context(), projectID, req.Name)
	if err != nil {
		if errors.Is(err, store.ErrRootExists) {
			http.Error(w, "Project already has a root folder", http.StatusConflict)
			return
		}
		slog.Error("create project root", "project", projectID, "error", err)
		http.Error(w, "Failed to create project root", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, root)
}

package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"projecttree/backend/internal/middleware"
	"projecttree/backend/internal/store"
	"projecttree/backend/internal/tree"
)

// GetFiles returns the project's flat rows, each marked with the caller's
// expand state.
func (a *API) GetFiles(w http.ResponseWriter, r *http.Request) {
	projectID, _ := middleware.Project(r.Context())
	userID, _, _ := middleware.User(r.Context())

	rows, err := a.Store.GetSubtree(r.Context(), projectID)
	if err != nil {
		slog.Error("load tree", "project", projectID, "error", err)
		http.Error(w, "Failed to retrieve file structure", http.StatusInternalServerError)
		return
	}
	expanded, err := a.Store.GetExpandedSet(r.Context(), userID, projectID)
	if err != nil {
		slog.Error("load expand state", "project", projectID, "error", err)
		http.Error(w, "Failed to retrieve file structure", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, tree.Annotate(rows, expanded))
}

// GetFileTree handles fetching all files and folders for a project and structuring them as a tree.
func (a *API) GetFileTree(w http.ResponseWriter, r *http.Request) {
	projectID, _ := middleware.Project(r.Context())
	userID, _, _ := middleware.User(r.Context())

	rows, err := a.Store.GetSubtree(r.Context(), projectID)
	if err != nil {
		slog.Error("load tree", "project", projectID, "error", err)
		http.Error(w, "Failed to retrieve file structure", http.StatusInternalServerError)
		return
	}
	expanded, err := a.Store.GetExpandedSet(r.Context(), userID, projectID)
	if err != nil {
		slog.Error("load expand state", "project", projectID, "error", err)
		http.Error(w, "Failed to retrieve file structure", http.StatusInternalServerError)
		return
	}

	t := tree.Assemble(rows, expanded)
	if len(t.Orphans) > 0 {
		slog.Warn("tree has unreachable rows", "project", projectID, "orphans", len(t.Orphans))
	}
	writeJSON(w, http.StatusOK, t)
}

// SetExpand records whether the caller has a folder open.
func (a *API) SetExpand(w http.ResponseWriter, r *http.Request) {
	projectID, _ := middleware.Project(r.Context())
	userID, _, _ := middleware.User(r.Context())

	var req struct {
		NodeID uuid.UUID `json:"nodeId"`
		Expand bool      `json:"expand"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	node, err := a.Store.GetNode(r.Context(), req.NodeID)
	if err != nil || node.ProjectID != projectID {
		if err == nil || errors.Is(err, store.ErrNotFound) {
			http.Error(w, "Node not found", http.StatusNotFound)
			return
		}
		slog.Error("load node", "node", req.NodeID, "error", err)
		http.Error(w, "Failed to update expand state", http.StatusInternalServerError)
		return
	}

	if req.Expand {
		err = a.Store.SetExpanded(r.Context(), userID, req.NodeID)
	} else {
		err = a.Store.SetCollapsed(r.Context(), userID, req.NodeID)
	}
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "Node not found", http.StatusNotFound)
			return
		}
		slog.Error("save expand state", "node", req.NodeID, "error", err)
		http.Error(w, "Failed to update expand state", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

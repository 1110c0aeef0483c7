package handlers

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"projecttree/backend/internal/middleware"
	"projecttree/backend/internal/tree"
)

// ExportProject streams the project as a zip download.
func (a *API) ExportProject(w http.ResponseWriter, r *http.Request) {
	projectID, _ := middleware.Project(r.Context())

	data, err := a.Exporter.Export(r.Context(), projectID)
	if err != nil {
		slog.Error("export project", "project", projectID, "error", err)
		http.Error(w, "Failed to export project", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="project-%s.zip"`, projectID))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// PublishExport uploads the archive and returns a temporary download link.
func (a *API) PublishExport(w http.ResponseWriter, r *http.Request) {
	projectID, _ := middleware.Project(r.Context())

	url, err := a.Exporter.Publish(r.Context(), projectID)
	if err != nil {
		if errors.Is(err, tree.ErrPublishingDisabled) {
			http.Error(w, "Export publishing is not configured", http.StatusServiceUnavailable)
			return
		}
		slog.Error("publish export", "project", projectID, "error", err)
		http.Error(w, "Failed to publish export", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}

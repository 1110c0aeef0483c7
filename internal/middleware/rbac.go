package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"slices"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"projecttree/backend/internal/models"
	"projecttree/backend/internal/store"
)

// NodeLookup resolves a file or folder to its project.
type NodeLookup interface {
	GetNode(ctx context.Context, nodeID uuid.UUID) (*models.FileNode, error)
}

// ProjectMemberAuth checks that the caller is a member of the project named by
// the {projectId} URL param, or owning the {fileId} node, with one of the
// required roles. The project and role are added to the request context.
func ProjectMemberAuth(access store.ProjectAccess, nodes NodeLookup, requiredRoles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, _, ok := User(r.Context())
			if !ok {
				http.Error(w, "Could not retrieve user ID from context", http.StatusInternalServerError)
				return
			}

			var projectID uuid.UUID
			var err error

			if projectIDStr := chi.URLParam(r, "projectId"); projectIDStr != "" {
				projectID, err = uuid.Parse(projectIDStr)
				if err != nil {
					http.Error(w, "Invalid project ID format", http.StatusBadRequest)
					return
				}
			} else if fileIDStr := chi.URLParam(r, "fileId"); fileIDStr != "" {
				fileID, err := uuid.Parse(fileIDStr)
				if err != nil {
					http.Error(w, "Invalid file ID format", http.StatusBadRequest)
					return
				}
				node, err := nodes.GetNode(r.Context(), fileID)
				if err != nil {
					if errors.Is(err, store.ErrNotFound) {
						http.Error(w, "File not found", http.StatusNotFound)
						return
					}
					slog.Error("resolve file project", "file", fileID, "error", err)
					http.Error(w, "Failed to determine project from file", http.StatusInternalServerError)
					return
				}
				projectID = node.ProjectID
			} else {
				http.Error(w, "Could not determine project context from URL", http.StatusBadRequest)
				return
			}

			member, err := access.Member(r.Context(), projectID, userID)
			if err != nil {
				if errors.Is(err, store.ErrNotMember) {
					http.Error(w, "Forbidden: You are not a member of this project", http.StatusForbidden)
					return
				}
				slog.Error("verify membership", "project", projectID, "user", userID, "error", err)
				http.Error(w, "Failed to verify project membership", http.StatusInternalServerError)
				return
			}

			if len(requiredRoles) > 0 && !slices.Contains(requiredRoles, member.Role) {
				http.Error(w, "Forbidden: You do not have the required permissions for this action", http.StatusForbidden)
				return
			}

			ctx := context.WithValue(r.Context(), ProjectKey, projectID)
			ctx = context.WithValue(ctx, RoleKey, member.Role)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"projecttree/backend/internal/middleware"
	"projecttree/backend/internal/models"
)

// NewRouter wires every route behind the shared middleware stack.
func NewRouter(a *API, corsOrigins []string) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogging)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link", "Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/healthz", a.Healthz)
	r.Get("/ws/{projectId}", a.ServeWs)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(a.Verifier))

		r.Get("/presence", a.GetMyPresence)
		r.Post("/presence/live", a.MarkAllLive)

		// Group for routes requiring OWNER role
		r.Group(func(r chi.Router) {
			r.Use(middleware.ProjectMemberAuth(a.Store, a.Store, models.RoleOwner))
			r.Post("/project/{projectId}/root", a.CreateProjectRoot)
		})

		// Group for routes requiring EDITOR or OWNER roles
		r.Group(func(r chi.Router) {
			r.Use(middleware.ProjectMemberAuth(a.Store, a.Store, models.RoleOwner, models.RoleEditor))
			r.Post("/project/{projectId}/export", a.PublishExport)
		})

		// Group for routes requiring ANY member role (VIEWER, EDITOR, or OWNER)
		r.Group(func(r chi.Router) {
			r.Use(middleware.ProjectMemberAuth(a.Store, a.Store, models.RoleOwner, models.RoleEditor, models.RoleViewer))
			r.Get("/project/{projectId}/files", a.GetFiles)
			r.Get("/project/{projectId}/tree", a.GetFileTree)
			r.Post("/project/{projectId}/expand", a.SetExpand)
			r.Get("/project/{projectId}/tabs", a.RestoreTabs)
			r.Get("/project/{projectId}/export", a.ExportProject)
			r.Get("/project/{projectId}/role", a.GetUserRoleForProject)
			r.Get("/file/{fileId}/users", a.GetFileUsers)
		})
	})

	return r
}

package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"projecttree/backend/internal/store"
	"projecttree/backend/internal/ws"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// ServeWs authenticates via the auth_token query param, checks membership and
// attaches the connection to the project's room.
func (a *API) ServeWs(w http.ResponseWriter, r *http.Request) {
	projectID, err := urlUUID(r, "projectId")
	if err != nil {
		http.Error(w, "Invalid Project ID format", http.StatusBadRequest)
		return
	}

	tokenStr := r.URL.Query().Get("auth_token")
	if tokenStr == "" {
		http.Error(w, "Missing auth_token query parameter", http.StatusUnauthorized)
		return
	}
	claims, err := a.Verifier.ValidateJWTAndGetClaims(tokenStr)
	if err != nil {
		http.Error(w, "Invalid auth token", http.StatusUnauthorized)
		return
	}
	userID, err := uuid.Parse(claims.UserID)
	if err != nil {
		http.Error(w, "Invalid User ID format in token", http.StatusUnauthorized)
		return
	}

	member, err := a.Store.Member(r.Context(), projectID, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotMember) {
			slog.Info("websocket denied, not a member", "user", claims.Username, "project", projectID)
			http.Error(w, "Forbidden: You are not a member of this project", http.StatusForbidden)
			return
		}
		slog.Error("verify membership", "user", claims.Username, "project", projectID, "error", err)
		http.Error(w, "Failed to verify project membership", http.StatusInternalServerError)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "error", err)
		return
	}

	client := ws.NewClient(a.Hub, conn, projectID, userID, claims.Username, member.Role)
	if err := client.Serve(); err != nil {
		slog.Warn("websocket rejected", "project", projectID, "error", err)
	}
}

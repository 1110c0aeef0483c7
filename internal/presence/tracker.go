package presence

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"projecttree/backend/internal/models"
	"projecttree/backend/internal/store"
)

// Tracker maintains per-(file, user) presence. Liveness follows the
// connection lifecycle through Connect and Disconnect.
type Tracker struct {
	store    store.PresenceStore
	sessions SessionCounter
}

func NewTracker(ps store.PresenceStore, sessions SessionCounter) *Tracker {
	if sessions == nil {
		sessions = NewMemorySessions()
	}
	return &Tracker{store: ps, sessions: sessions}
}

// Connect records a new session and marks the user's rows in the project live.
// On error no session is held and Disconnect must not be called.
func (t *Tracker) Connect(ctx context.Context, projectID uuid.UUID, username string) error {
	n, err := t.sessions.Acquire(ctx, projectID, username)
	if err != nil {
		return err
	}
	if _, err := t.store.SetLiveForProject(ctx, username, projectID, true); err != nil {
		if _, relErr := t.sessions.Release(ctx, projectID, username); relErr != nil {
			slog.Warn("release session after failed connect", "project", projectID, "user", username, "error", relErr)
		}
		return fmt.Errorf("mark live: %w", err)
	}
	slog.Debug("presence connect", "project", projectID, "user", username, "sessions", n)
	return nil
}

// Disconnect releases a session. The user's rows go not-live only when the
// last session for the project closes; offline reports whether that happened.
func (t *Tracker) Disconnect(ctx context.Context, projectID uuid.UUID, username string) (offline bool, err error) {
	n, err := t.sessions.Release(ctx, projectID, username)
	if err != nil {
		return false, err
	}
	if n > 0 {
		return false, nil
	}
	if _, err := t.store.SetLiveForProject(ctx, username, projectID, false); err != nil {
		return false, fmt.Errorf("mark not live: %w", err)
	}
	slog.Debug("presence offline", "project", projectID, "user", username)
	return true, nil
}

// MarkAllLive sets isLive on every row the user has, in any project.
func (t *Tracker) MarkAllLive(ctx context.Context, username string) (int64, error) {
	return t.store.SetLiveForUser(ctx, username, true)
}

func (t *Tracker) MarkProjectLive(ctx context.Context, username string, projectID uuid.UUID) (int64, error) {
	return t.store.SetLiveForProject(ctx, username, projectID, true)
}

// SetActiveTab upserts the row for (file, user). Absent files and folders
// yield store.ErrNotFound.
func (t *Tracker) SetActiveTab(ctx context.Context, fileID uuid.UUID, username string, active bool) (*models.PresenceRecord, error) {
	return t.store.UpsertActiveTab(ctx, fileID, username, active)
}

func (t *Tracker) GetUsersFor(ctx context.Context, fileID uuid.UUID) ([]models.UserPresence, error) {
	return t.store.UsersForFile(ctx, fileID)
}

// RestoreTabs marks the user live in the project and returns the tabs they
// had open there, most recent first.
func (t *Tracker) RestoreTabs(ctx context.Context, username string, projectID uuid.UUID) ([]models.PresenceRecord, error) {
	if _, err := t.store.SetLiveForProject(ctx, username, projectID, true); err != nil {
		return nil, err
	}
	return t.store.PresenceForUser(ctx, username, &projectID)
}

// ForUser lists every presence row the user has.
func (t *Tracker) ForUser(ctx context.Context, username string) ([]models.PresenceRecord, error) {
	return t.store.PresenceForUser(ctx, username, nil)
}

// ProjectPresence groups the project's presence by file, images included.
func (t *Tracker) ProjectPresence(ctx context.Context, projectID uuid.UUID) (map[uuid.UUID][]models.UserPresence, error) {
	return t.store.UsersForProject(ctx, projectID)
}

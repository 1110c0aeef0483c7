package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"projecttree/backend/internal/models"
)

var (
	ErrInvalidParent  = errors.New("invalid parent")
	ErrNotFound       = errors.New("not found")
	ErrRootExists     = errors.New("project already has a root")
	ErrRootDelete     = errors.New("project root cannot be deleted")
	ErrNotMember      = errors.New("not a project member")
	ErrStorageFailure = errors.New("storage failure")
)

// TreeStore owns node and file content identity and lifecycle.
// Every mutating call is a durability boundary.
type TreeStore interface {
	CreateRoot(ctx context.Context, projectID uuid.UUID, name string) (*models.FileNode, error)
	CreateNode(ctx context.Context, projectID, parentID uuid.UUID, name string, isFolder bool, extension string) (*models.FileNode, error)
	// DeleteNode removes the node, its descendants and every dependent
	// presence, expand and content row. The returned IDs are the removed nodes;
	// an absent node yields an empty slice and no error.
	DeleteNode(ctx context.Context, projectID, nodeID uuid.UUID) ([]uuid.UUID, error)
	GetSubtree(ctx context.Context, projectID uuid.UUID) ([]models.FileNode, error)
	// GetSubtreeWithContents returns the project's rows and the content of
	// every file among them, both taken from one consistent read.
	GetSubtreeWithContents(ctx context.Context, projectID uuid.UUID) ([]models.FileNode, map[uuid.UUID]models.FileContent, error)
	GetNode(ctx context.Context, nodeID uuid.UUID) (*models.FileNode, error)
	GetContent(ctx context.Context, nodeID uuid.UUID) (*models.FileContent, error)
	SaveContent(ctx context.Context, nodeID uuid.UUID, content string) error
}

// ExpandStore persists per-user folder expand state. Both writes are idempotent.
type ExpandStore interface {
	SetExpanded(ctx context.Context, userID, nodeID uuid.UUID) error
	SetCollapsed(ctx context.Context, userID, nodeID uuid.UUID) error
	GetExpandedSet(ctx context.Context, userID, projectID uuid.UUID) (map[uuid.UUID]struct{}, error)
}

// PresenceStore persists per-(file, user) presence rows.
type PresenceStore interface {
	// UpsertActiveTab creates the row on first open. The file must exist and
	// must not be a folder, otherwise ErrNotFound.
	UpsertActiveTab(ctx context.Context, fileID uuid.UUID, username string, active bool) (*models.PresenceRecord, error)
	SetLiveForUser(ctx context.Context, username string, live bool) (int64, error)
	SetLiveForProject(ctx context.Context, username string, projectID uuid.UUID, live bool) (int64, error)
	UsersForFile(ctx context.Context, fileID uuid.UUID) ([]models.UserPresence, error)
	// PresenceForUser lists the user's rows, optionally narrowed to one project.
	PresenceForUser(ctx context.Context, username string, projectID *uuid.UUID) ([]models.PresenceRecord, error)
	// UsersForProject groups the project's presence by file, in the shape
	// UsersForFile returns.
	UsersForProject(ctx context.Context, projectID uuid.UUID) (map[uuid.UUID][]models.UserPresence, error)
}

// ProjectAccess is the boundary to the external project service.
type ProjectAccess interface {
	Member(ctx context.Context, projectID, userID uuid.UUID) (*models.ProjectMember, error)
}

// Store is the full persistence surface used by the server.
type Store interface {
	TreeStore
	ExpandStore
	PresenceStore
	ProjectAccess
	Ping(ctx context.Context) error
	Close()
}

// IsValidation reports whether err is a client-side validation failure, as
// opposed to a storage failure worth retrying.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidParent) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrRootExists) ||
		errors.Is(err, ErrRootDelete) ||
		errors.Is(err, ErrNotMember)
}

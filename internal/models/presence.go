package models

import (
	"time"

	"github.com/google/uuid"
)

// PresenceRecord tracks one user's liveness and tab focus for one file.
type PresenceRecord struct {
	FileID        uuid.UUID `json:"fileId"`
	ProjectID     uuid.UUID `json:"projectId"`
	Username      string    `json:"username"`
	IsLive        bool      `json:"isLive"`
	IsActiveInTab bool      `json:"isActiveInTab"`
	LastUpdated   time.Time `json:"lastUpdated"`
}

// UserPresence is the collaborator indicator rendered next to a file.
type UserPresence struct {
	Username      string    `json:"username"`
	IsLive        bool      `json:"isLive"`
	IsActiveInTab bool      `json:"isActiveInTab"`
	Image         string    `json:"image"`
	LastUpdated   time.Time `json:"lastUpdated"`
}

// ExpandState marks a folder as expanded for one user. Absence means collapsed.
type ExpandState struct {
	UserID uuid.UUID `json:"userId"`
	NodeID uuid.UUID `json:"nodeId"`
}

package models

import (
	"github.com/google/uuid"
)

const (
	RoleOwner  = "owner"
	RoleEditor = "editor"
	RoleViewer = "viewer"
)

// ProjectMember is a user's membership in a project, owned by the project service.
type ProjectMember struct {
	ProjectID uuid.UUID `json:"projectId"`
	UserID    uuid.UUID `json:"userId"`
	Role      string    `json:"role"`
}

// CanEdit reports whether the role may change the project tree.
func (m ProjectMember) CanEdit() bool {
	return m.Role == RoleOwner || m.Role == RoleEditor
}

package models

import (
	"time"

	"github.com/google/uuid"
)

// FileNode represents a file or a folder in the project tree.
type FileNode struct {
	ID        uuid.UUID  `json:"id"`
	ProjectID uuid.UUID  `json:"projectId"`
	ParentID  *uuid.UUID `json:"parentId"` // nil only for the project root
	IsFolder  bool       `json:"isFolder"`
	Name      string     `json:"name"`
	CreatedAt time.Time  `json:"createdAt"`
}

// IsRoot reports whether the node is the project root.
func (n *FileNode) IsRoot() bool {
	return n.ParentID == nil
}

// ContentData is the stored wrapper around a file's text.
type ContentData struct {
	Content string `json:"content"`
}

// FileContent is the payload of a non-folder node, keyed by the node's ID.
type FileContent struct {
	NodeID    uuid.UUID   `json:"nodeId"`
	Extension string      `json:"extension"`
	Data      ContentData `json:"data"`
	UpdatedAt time.Time   `json:"updatedAt"`
}

// TreeRow is a flat tree row decorated with the caller's expand flag.
type TreeRow struct {
	FileNode
	Expanded bool `json:"expanded"`
}

package ws

import (
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"projecttree/backend/internal/models"
	"projecttree/backend/internal/store"
)

type WsMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

const (
	TypeInsertNode     = "insert-node"
	TypeDeleteNode     = "delete-node"
	TypeSetActiveTab   = "set-active-tab"
	TypeSnapshot       = "snapshot"
	TypePresenceUpdate = "presence-update"
	TypeError          = "error"
)

// Wire error codes.
const (
	CodeInvalidParent    = "invalid_parent"
	CodeMalformedCommand = "malformed_command"
	CodeStorageFailure   = "storage_failure"
	CodeForbidden        = "forbidden"
	CodeNotFound         = "not_found"
	CodeRootDelete       = "root_delete"
)

var (
	ErrMalformedCommand = errors.New("malformed command")
	ErrForbidden        = errors.New("role may not modify the tree")
	ErrHubClosed        = errors.New("hub is shutting down")
)

type InsertNodeCommand struct {
	ParentID  string `json:"parentId"`
	Name      string `json:"name"`
	IsFolder  bool   `json:"isFolder"`
	Extension string `json:"extension,omitempty"`
	RequestID string `json:"requestId,omitempty"`
}

type DeleteNodeCommand struct {
	NodeID    string `json:"nodeId"`
	RequestID string `json:"requestId,omitempty"`
}

type SetActiveTabCommand struct {
	FileID    string `json:"fileId"`
	Active    bool   `json:"active"`
	RequestID string `json:"requestId,omitempty"`
}

// NodeInserted is broadcast to every member, the originator included.
type NodeInserted struct {
	models.FileNode
	Extension string `json:"extension,omitempty"`
	RequestID string `json:"requestId,omitempty"`
}

type NodeDeleted struct {
	NodeID     uuid.UUID   `json:"nodeId"`
	RemovedIDs []uuid.UUID `json:"removedIds"`
	RequestID  string      `json:"requestId,omitempty"`
}

// PresenceUpdate reports a liveness change (FileID nil) or a tab change.
type PresenceUpdate struct {
	Username      string     `json:"username"`
	IsLive        bool       `json:"isLive"`
	FileID        *uuid.UUID `json:"fileId,omitempty"`
	IsActiveInTab *bool      `json:"isActiveInTab,omitempty"`
}

// Snapshot is the first message on every connection.
type Snapshot struct {
	ProjectID    uuid.UUID                           `json:"projectId"`
	ConnectionID string                              `json:"connectionId"`
	Nodes        []models.TreeRow                    `json:"nodes"`
	Presence     map[uuid.UUID][]models.UserPresence `json:"presence"`
}

type ErrorPayload struct {
	RequestID string `json:"requestId,omitempty"`
	Type      string `json:"type"`
	Code      string `json:"code"`
	Message   string `json:"message"`
}

func encode(msgType string, payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(WsMessage{Type: msgType, Payload: raw})
}

// errorCode maps a command failure to its wire code.
func errorCode(err error) string {
	switch {
	case errors.Is(err, ErrMalformedCommand):
		return CodeMalformedCommand
	case errors.Is(err, ErrForbidden):
		return CodeForbidden
	case errors.Is(err, store.ErrInvalidParent):
		return CodeInvalidParent
	case errors.Is(err, store.ErrRootDelete):
		return CodeRootDelete
	case errors.Is(err, store.ErrNotFound):
		return CodeNotFound
	default:
		return CodeStorageFailure
	}
}

package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"projecttree/backend/internal/models"
	"projecttree/backend/internal/store"
	"projecttree/backend/internal/tree"
)

const maxNameLength = 255

// Room serializes everything that touches one project's membership and tree.
// Only the run goroutine reads or writes members and client send channels.
type Room struct {
	hub       *Hub
	projectID uuid.UUID
	ops       chan func()
	members   map[*Client]struct{}
	closing   bool

	relay     Relay
	remote    <-chan []byte
	stopRelay func()

	refs int // guarded by hub.mu
}

func newRoom(h *Hub, projectID uuid.UUID) *Room {
	return &Room{
		hub:       h,
		projectID: projectID,
		ops:       make(chan func()),
		members:   make(map[*Client]struct{}),
	}
}

func (r *Room) run() {
	defer r.hub.wg.Done()
	for {
		select {
		case fn, ok := <-r.ops:
			if !ok {
				return
			}
			fn()
		case msg, ok := <-r.remote:
			if !ok {
				// stopped by release, ops closes next
				r.remote = nil
				continue
			}
			r.fanout(msg)
		}
	}
}

// do runs fn on the room goroutine and waits for it to finish.
func (r *Room) do(fn func()) {
	done := make(chan struct{})
	r.ops <- func() {
		defer close(done)
		fn()
	}
	<-done
}

func (r *Room) opContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.hub.ctx, r.hub.opts.OpTimeout)
}

// retry runs fn again once if it failed with a storage failure.
func (r *Room) retry(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	err := fn(ctx)
	if err == nil || !errors.Is(err, store.ErrStorageFailure) {
		return err
	}
	slog.Warn("storage failure, retrying", "op", op, "project", r.projectID, "error", err)
	select {
	case <-time.After(r.hub.opts.RetryDelay):
	case <-ctx.Done():
		return err
	}
	return fn(ctx)
}

// join rejects the client once the room has been told to disconnect everyone.
func (r *Room) join(c *Client) error {
	if r.closing {
		c.closeSend()
		return ErrHubClosed
	}

	ctx, cancel := r.opContext()
	defer cancel()

	if r.hub.presence != nil {
		if err := r.hub.presence.Connect(ctx, r.projectID, c.Username); err != nil {
			slog.Warn("presence connect failed", "project", r.projectID, "user", c.Username, "error", err)
		} else {
			c.sessionHeld = true
		}
	}
	c.joined = true

	var snap *Snapshot
	err := r.retry(ctx, "snapshot", func(ctx context.Context) error {
		var err error
		snap, err = r.snapshot(ctx, c)
		return err
	})
	if err != nil {
		slog.Error("snapshot failed", "project", r.projectID, "user", c.Username, "error", err)
		r.replyError(c, "", TypeSnapshot, err)
		c.closeSend()
		return nil
	}

	msg, err := encode(TypeSnapshot, snap)
	if err != nil {
		slog.Error("encode snapshot", "error", err)
		c.closeSend()
		return nil
	}
	// fresh buffer, cannot block
	c.Send <- msg
	r.members[c] = struct{}{}

	slog.Info("client joined", "project", r.projectID, "user", c.Username, "conn", c.ID.String(), "members", len(r.members))
	r.broadcastPresence(PresenceUpdate{Username: c.Username, IsLive: true})
	return nil
}

func (r *Room) snapshot(ctx context.Context, c *Client) (*Snapshot, error) {
	rows, err := r.hub.tree.GetSubtree(ctx, r.projectID)
	if err != nil {
		return nil, err
	}
	expanded, err := r.hub.expand.GetExpandedSet(ctx, c.UserID, r.projectID)
	if err != nil {
		return nil, err
	}
	snap := &Snapshot{
		ProjectID:    r.projectID,
		ConnectionID: c.ID.String(),
		Nodes:        tree.Annotate(rows, expanded),
		Presence:     map[uuid.UUID][]models.UserPresence{},
	}
	if r.hub.presence != nil {
		snap.Presence, err = r.hub.presence.ProjectPresence(ctx, r.projectID)
		if err != nil {
			return nil, err
		}
	}
	return snap, nil
}

func (r *Room) leave(c *Client) {
	delete(r.members, c)
	c.closeSend()
	if !c.joined {
		return
	}
	c.joined = false

	slog.Info("client left", "project", r.projectID, "user", c.Username, "conn", c.ID.String(), "members", len(r.members))
	if !c.sessionHeld {
		return
	}
	c.sessionHeld = false
	ctx, cancel := r.opContext()
	defer cancel()
	offline, err := r.hub.presence.Disconnect(ctx, r.projectID, c.Username)
	if err != nil {
		slog.Warn("presence disconnect failed", "project", r.projectID, "user", c.Username, "error", err)
		return
	}
	if offline {
		r.broadcastPresence(PresenceUpdate{Username: c.Username, IsLive: false})
	}
}

func (r *Room) disconnectAll() {
	r.closing = true
	for c := range r.members {
		c.Conn.Close()
	}
}

// handle applies one inbound frame from c.
func (r *Room) handle(c *Client, data []byte) {
	var msg WsMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		r.replyError(c, "", "", fmt.Errorf("%w: %v", ErrMalformedCommand, err))
		return
	}

	var err error
	var requestID string
	switch msg.Type {
	case TypeInsertNode:
		requestID, err = r.insertNode(c, msg.Payload)
	case TypeDeleteNode:
		requestID, err = r.deleteNode(c, msg.Payload)
	case TypeSetActiveTab:
		requestID, err = r.setActiveTab(c, msg.Payload)
	default:
		err = fmt.Errorf("%w: unknown type %q", ErrMalformedCommand, msg.Type)
	}
	if err != nil {
		if errorCode(err) == CodeStorageFailure {
			slog.Error("command failed", "type", msg.Type, "project", r.projectID, "user", c.Username, "error", err)
		}
		r.replyError(c, requestID, msg.Type, err)
	}
}

func decodePayload(raw json.RawMessage, v interface{}) error {
	if len(raw) == 0 {
		return fmt.Errorf("%w: missing payload", ErrMalformedCommand)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedCommand, err)
	}
	return nil
}

func (r *Room) insertNode(c *Client, raw json.RawMessage) (string, error) {
	var cmd InsertNodeCommand
	if err := decodePayload(raw, &cmd); err != nil {
		return "", err
	}
	parentID, err := uuid.Parse(cmd.ParentID)
	if err != nil {
		return cmd.RequestID, fmt.Errorf("%w: parentId", ErrMalformedCommand)
	}
	name := strings.TrimSpace(cmd.Name)
	if name == "" || len(name) > maxNameLength {
		return cmd.RequestID, fmt.Errorf("%w: name", ErrMalformedCommand)
	}
	if !c.CanEdit() {
		return cmd.RequestID, ErrForbidden
	}

	ext := cmd.Extension
	if !cmd.IsFolder && ext == "" {
		ext = strings.TrimPrefix(path.Ext(name), ".")
	}
	if cmd.IsFolder {
		ext = ""
	}

	ctx, cancel := r.opContext()
	defer cancel()

	var node *models.FileNode
	err = r.retry(ctx, TypeInsertNode, func(ctx context.Context) error {
		var err error
		node, err = r.hub.tree.CreateNode(ctx, r.projectID, parentID, name, cmd.IsFolder, ext)
		return err
	})
	if err != nil {
		return cmd.RequestID, err
	}

	r.broadcast(TypeInsertNode, NodeInserted{FileNode: *node, Extension: ext, RequestID: cmd.RequestID})
	return cmd.RequestID, nil
}

func (r *Room) deleteNode(c *Client, raw json.RawMessage) (string, error) {
	var cmd DeleteNodeCommand
	if err := decodePayload(raw, &cmd); err != nil {
		return "", err
	}
	nodeID, err := uuid.Parse(cmd.NodeID)
	if err != nil {
		return cmd.RequestID, fmt.Errorf("%w: nodeId", ErrMalformedCommand)
	}
	if !c.CanEdit() {
		return cmd.RequestID, ErrForbidden
	}

	ctx, cancel := r.opContext()
	defer cancel()

	var removed []uuid.UUID
	err = r.retry(ctx, TypeDeleteNode, func(ctx context.Context) error {
		var err error
		removed, err = r.hub.tree.DeleteNode(ctx, r.projectID, nodeID)
		return err
	})
	if err != nil {
		return cmd.RequestID, err
	}
	if removed == nil {
		removed = []uuid.UUID{}
	}

	r.broadcast(TypeDeleteNode, NodeDeleted{NodeID: nodeID, RemovedIDs: removed, RequestID: cmd.RequestID})
	return cmd.RequestID, nil
}

func (r *Room) setActiveTab(c *Client, raw json.RawMessage) (string, error) {
	var cmd SetActiveTabCommand
	if err := decodePayload(raw, &cmd); err != nil {
		return "", err
	}
	fileID, err := uuid.Parse(cmd.FileID)
	if err != nil {
		return cmd.RequestID, fmt.Errorf("%w: fileId", ErrMalformedCommand)
	}
	if r.hub.presence == nil {
		return cmd.RequestID, nil
	}

	ctx, cancel := r.opContext()
	defer cancel()

	// a file from another project is reported as absent
	node, err := r.hub.tree.GetNode(ctx, fileID)
	if err != nil {
		return cmd.RequestID, err
	}
	if node.ProjectID != r.projectID {
		return cmd.RequestID, store.ErrNotFound
	}

	var rec *models.PresenceRecord
	err = r.retry(ctx, TypeSetActiveTab, func(ctx context.Context) error {
		var err error
		rec, err = r.hub.presence.SetActiveTab(ctx, fileID, c.Username, cmd.Active)
		return err
	})
	if err != nil {
		return cmd.RequestID, err
	}

	active := rec.IsActiveInTab
	r.broadcastPresence(PresenceUpdate{
		Username:      rec.Username,
		IsLive:        rec.IsLive,
		FileID:        &rec.FileID,
		IsActiveInTab: &active,
	})
	return cmd.RequestID, nil
}

func (r *Room) broadcastPresence(u PresenceUpdate) {
	r.broadcast(TypePresenceUpdate, u)
}

// broadcast goes through the relay when there is one, so local members get
// the message in relay order along with every other instance.
func (r *Room) broadcast(msgType string, payload interface{}) {
	msg, err := encode(msgType, payload)
	if err != nil {
		slog.Error("encode broadcast", "type", msgType, "error", err)
		return
	}
	if r.relay != nil {
		ctx, cancel := r.opContext()
		err := r.relay.Publish(ctx, r.projectID, msg)
		cancel()
		if err == nil {
			return
		}
		slog.Error("relay publish failed, delivering locally", "type", msgType, "project", r.projectID, "error", err)
	}
	r.fanout(msg)
}

// fanout delivers to local members without blocking. A member whose buffer
// is full is dropped.
func (r *Room) fanout(msg []byte) {
	for c := range r.members {
		select {
		case c.Send <- msg:
		default:
			slog.Warn("dropping slow client", "project", r.projectID, "user", c.Username, "conn", c.ID.String())
			delete(r.members, c)
			c.closeSend()
		}
	}
}

// replyError goes to the originator only.
func (r *Room) replyError(c *Client, requestID, msgType string, err error) {
	if c.sendClosed {
		return
	}
	code := errorCode(err)
	text := err.Error()
	if code == CodeStorageFailure {
		text = "storage unavailable, try again"
	}
	msg, encErr := encode(TypeError, ErrorPayload{
		RequestID: requestID,
		Type:      msgType,
		Code:      code,
		Message:   text,
	})
	if encErr != nil {
		return
	}
	select {
	case c.Send <- msg:
	default:
		delete(r.members, c)
		c.closeSend()
	}
}

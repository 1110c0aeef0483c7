package ws

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"projecttree/backend/internal/presence"
	"projecttree/backend/internal/store"
)

type Options struct {
	SendBuffer int
	WriteWait  time.Duration
	PongWait   time.Duration
	OpTimeout  time.Duration
	RetryDelay time.Duration
	// Relay shares broadcasts with other instances. Nil keeps them local.
	Relay Relay
}

func (o Options) withDefaults() Options {
	if o.SendBuffer <= 0 {
		o.SendBuffer = 256
	}
	if o.WriteWait <= 0 {
		o.WriteWait = 10 * time.Second
	}
	if o.PongWait <= 0 {
		o.PongWait = 60 * time.Second
	}
	if o.OpTimeout <= 0 {
		o.OpTimeout = 10 * time.Second
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = 50 * time.Millisecond
	}
	return o
}

func (o Options) pingPeriod() time.Duration {
	return (o.PongWait * 9) / 10
}

// Hub owns one Room per project with at least one connected client.
type Hub struct {
	tree     store.TreeStore
	expand   store.ExpandStore
	presence *presence.Tracker
	opts     Options

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	rooms  map[uuid.UUID]*Room
	closed bool
}

func NewHub(tree store.TreeStore, expand store.ExpandStore, tracker *presence.Tracker, opts Options) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		tree:     tree,
		expand:   expand,
		presence: tracker,
		opts:     opts.withDefaults(),
		ctx:      ctx,
		cancel:   cancel,
		rooms:    make(map[uuid.UUID]*Room),
	}
}

// acquire returns the project's room, starting it on first use.
func (h *Hub) acquire(projectID uuid.UUID) (*Room, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, ErrHubClosed
	}
	room, ok := h.rooms[projectID]
	if !ok {
		room = newRoom(h, projectID)
		if h.opts.Relay != nil {
			ctx, cancel := context.WithTimeout(h.ctx, h.opts.OpTimeout)
			msgs, stop, err := h.opts.Relay.Subscribe(ctx, projectID)
			cancel()
			if err != nil {
				return nil, err
			}
			room.relay, room.remote, room.stopRelay = h.opts.Relay, msgs, stop
		}
		h.rooms[projectID] = room
		h.wg.Add(1)
		go room.run()
		slog.Debug("room opened", "project", projectID)
	}
	room.refs++
	return room, nil
}

// release drops a reference and stops the room when nobody holds it.
func (h *Hub) release(room *Room) {
	h.mu.Lock()
	defer h.mu.Unlock()

	room.refs--
	if room.refs > 0 {
		return
	}
	delete(h.rooms, room.projectID)
	close(room.ops)
	if room.stopRelay != nil {
		room.stopRelay()
	}
	slog.Debug("room closed", "project", room.projectID)
}

// Register joins the client to its project's room. When it returns, the
// snapshot is queued on client.Send and the client receives every broadcast
// that follows.
func (h *Hub) Register(c *Client) error {
	room, err := h.acquire(c.ProjectID)
	if err != nil {
		return err
	}
	room.do(func() { err = room.join(c) })
	if err != nil {
		h.release(room)
		return err
	}
	c.room = room
	return nil
}

// Unregister removes the client from its room. Safe to call once per
// registered client.
func (h *Hub) Unregister(c *Client) {
	room := c.room
	if room == nil {
		return
	}
	room.do(func() { room.leave(c) })
	h.release(room)
}

// Stats reports open rooms and connected clients.
func (h *Hub) Stats() (rooms, clients int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, r := range h.rooms {
		clients += r.refs
	}
	return len(h.rooms), clients
}

// Shutdown refuses new clients, disconnects existing ones and waits for every
// room to drain.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	h.closed = true
	for _, room := range h.rooms {
		r := room
		r.do(r.disconnectAll)
	}
	h.mu.Unlock()

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.cancel()
		return nil
	case <-ctx.Done():
		h.cancel()
		return ctx.Err()
	}
}

package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"projecttree/backend/internal/models"
)

type presenceKey struct {
	fileID   uuid.UUID
	username string
}

type memberKey struct {
	projectID uuid.UUID
	userID    uuid.UUID
}

// Memory implements Store with in-process maps guarded by one lock, so a
// cascading delete is never observed half applied.
type Memory struct {
	mu sync.RWMutex

	nodes     map[uuid.UUID]*models.FileNode
	children  map[uuid.UUID][]uuid.UUID // parentID -> child IDs
	byProject map[uuid.UUID][]uuid.UUID // projectID -> node IDs in creation order
	roots     map[uuid.UUID]uuid.UUID   // projectID -> root ID
	contents  map[uuid.UUID]*models.FileContent
	presence  map[presenceKey]*models.PresenceRecord
	expanded  map[models.ExpandState]struct{}
	members   map[memberKey]string
	images    map[string]string // username -> profile image

	openAccess bool
}

var _ Store = (*Memory)(nil)

type MemoryOption func(*Memory)

// WithOpenAccess makes every authenticated user an editor of every project and
// gives each project a root on first access. Intended for local development.
func WithOpenAccess() MemoryOption {
	return func(m *Memory) {
		m.openAccess = true
	}
}

func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		nodes:     make(map[uuid.UUID]*models.FileNode),
		children:  make(map[uuid.UUID][]uuid.UUID),
		byProject: make(map[uuid.UUID][]uuid.UUID),
		roots:     make(map[uuid.UUID]uuid.UUID),
		contents:  make(map[uuid.UUID]*models.FileContent),
		presence:  make(map[presenceKey]*models.PresenceRecord),
		expanded:  make(map[models.ExpandState]struct{}),
		members:   make(map[memberKey]string),
		images:    make(map[string]string),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (s *Memory) Ping(ctx context.Context) error { return nil }

func (s *Memory) Close() {}

// AddMember registers a project membership, standing in for the project service.
func (s *Memory) AddMember(projectID, userID uuid.UUID, role string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.members[memberKey{projectID, userID}] = role
}

// SetUserImage records a profile image, standing in for the auth service.
func (s *Memory) SetUserImage(username, image string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.images[username] = image
}

func (s *Memory) Member(ctx context.Context, projectID, userID uuid.UUID) (*models.ProjectMember, error) {
	if s.openAccess {
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, ok := s.roots[projectID]; !ok {
			s.createRootLocked(projectID, "project")
		}
		return &models.ProjectMember{ProjectID: projectID, UserID: userID, Role: models.RoleEditor}, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	role, ok := s.members[memberKey{projectID, userID}]
	if !ok {
		return nil, ErrNotMember
	}
	return &models.ProjectMember{ProjectID: projectID, UserID: userID, Role: role}, nil
}

func (s *Memory) createRootLocked(projectID uuid.UUID, name string) *models.FileNode {
	node := &models.FileNode{
		ID:        uuid.New(),
		ProjectID: projectID,
		IsFolder:  true,
		Name:      name,
		CreatedAt: time.Now().UTC(),
	}
	s.nodes[node.ID] = node
	s.roots[projectID] = node.ID
	s.byProject[projectID] = append(s.byProject[projectID], node.ID)
	return node
}

func (s *Memory) CreateRoot(ctx context.Context, projectID uuid.UUID, name string) (*models.FileNode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.roots[projectID]; ok {
		return nil, ErrRootExists
	}
	node := s.createRootLocked(projectID, name)
	out := *node
	return &out, nil
}

func (s *Memory) CreateNode(ctx context.Context, projectID, parentID uuid.UUID, name string, isFolder bool, extension string) (*models.FileNode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	parent, ok := s.nodes[parentID]
	if !ok || parent.ProjectID != projectID || !parent.IsFolder {
		return nil, ErrInvalidParent
	}

	pid := parentID
	node := &models.FileNode{
		ID:        uuid.New(),
		ProjectID: projectID,
		ParentID:  &pid,
		IsFolder:  isFolder,
		Name:      name,
		CreatedAt: time.Now().UTC(),
	}
	s.nodes[node.ID] = node
	s.children[parentID] = append(s.children[parentID], node.ID)
	s.byProject[projectID] = append(s.byProject[projectID], node.ID)
	if !isFolder {
		s.contents[node.ID] = &models.FileContent{
			NodeID:    node.ID,
			Extension: extension,
			UpdatedAt: node.CreatedAt,
		}
	}

	out := *node
	return &out, nil
}

func (s *Memory) DeleteNode(ctx context.Context, projectID, nodeID uuid.UUID) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	node, ok := s.nodes[nodeID]
	if !ok {
		return []uuid.UUID{}, nil
	}
	if node.ProjectID != projectID {
		return nil, ErrInvalidParent
	}
	if node.IsRoot() {
		return nil, ErrRootDelete
	}

	// breadth-first over the parent index
	removed := []uuid.UUID{nodeID}
	for i := 0; i < len(removed); i++ {
		removed = append(removed, s.children[removed[i]]...)
	}

	gone := make(map[uuid.UUID]struct{}, len(removed))
	for _, id := range removed {
		gone[id] = struct{}{}
	}

	for key := range s.expanded {
		if _, ok := gone[key.NodeID]; ok {
			delete(s.expanded, key)
		}
	}
	for key := range s.presence {
		if _, ok := gone[key.fileID]; ok {
			delete(s.presence, key)
		}
	}
	for _, id := range removed {
		delete(s.contents, id)
		delete(s.children, id)
		delete(s.nodes, id)
	}

	siblings := s.children[*node.ParentID]
	for i, id := range siblings {
		if id == nodeID {
			s.children[*node.ParentID] = append(siblings[:i:i], siblings[i+1:]...)
			break
		}
	}

	kept := s.byProject[projectID][:0:0]
	for _, id := range s.byProject[projectID] {
		if _, ok := gone[id]; !ok {
			kept = append(kept, id)
		}
	}
	s.byProject[projectID] = kept

	return removed, nil
}

func (s *Memory) GetSubtree(ctx context.Context, projectID uuid.UUID) ([]models.FileNode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.byProject[projectID]
	nodes := make([]models.FileNode, 0, len(ids))
	for _, id := range ids {
		nodes = append(nodes, *s.nodes[id])
	}
	return nodes, nil
}

// GetSubtreeWithContents holds the read lock across both reads, so a delete
// is either fully visible or not at all.
func (s *Memory) GetSubtreeWithContents(ctx context.Context, projectID uuid.UUID) ([]models.FileNode, map[uuid.UUID]models.FileContent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.byProject[projectID]
	nodes := make([]models.FileNode, 0, len(ids))
	contents := make(map[uuid.UUID]models.FileContent)
	for _, id := range ids {
		nodes = append(nodes, *s.nodes[id])
		if c, ok := s.contents[id]; ok {
			contents[id] = *c
		}
	}
	return nodes, contents, nil
}

func (s *Memory) GetNode(ctx context.Context, nodeID uuid.UUID) (*models.FileNode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	node, ok := s.nodes[nodeID]
	if !ok {
		return nil, ErrNotFound
	}
	out := *node
	return &out, nil
}

func (s *Memory) GetContent(ctx context.Context, nodeID uuid.UUID) (*models.FileContent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.contents[nodeID]
	if !ok {
		return nil, ErrNotFound
	}
	out := *c
	return &out, nil
}

func (s *Memory) SaveContent(ctx context.Context, nodeID uuid.UUID, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.contents[nodeID]
	if !ok {
		return ErrNotFound
	}
	c.Data = models.ContentData{Content: content}
	c.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Memory) SetExpanded(ctx context.Context, userID, nodeID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.nodes[nodeID]; !ok {
		return ErrNotFound
	}
	s.expanded[models.ExpandState{UserID: userID, NodeID: nodeID}] = struct{}{}
	return nil
}

func (s *Memory) SetCollapsed(ctx context.Context, userID, nodeID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.expanded, models.ExpandState{UserID: userID, NodeID: nodeID})
	return nil
}

func (s *Memory) GetExpandedSet(ctx context.Context, userID, projectID uuid.UUID) (map[uuid.UUID]struct{}, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[uuid.UUID]struct{})
	for key := range s.expanded {
		if key.UserID != userID {
			continue
		}
		if node, ok := s.nodes[key.NodeID]; ok && node.ProjectID == projectID {
			out[key.NodeID] = struct{}{}
		}
	}
	return out, nil
}

func (s *Memory) UpsertActiveTab(ctx context.Context, fileID uuid.UUID, username string, active bool) (*models.PresenceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	node, ok := s.nodes[fileID]
	if !ok || node.IsFolder {
		return nil, ErrNotFound
	}

	key := presenceKey{fileID, username}
	rec, ok := s.presence[key]
	if !ok {
		rec = &models.PresenceRecord{FileID: fileID, ProjectID: node.ProjectID, Username: username}
		s.presence[key] = rec
	}
	rec.IsLive = true
	rec.IsActiveInTab = active
	rec.LastUpdated = time.Now().UTC()

	out := *rec
	return &out, nil
}

func (s *Memory) setLive(match func(*models.PresenceRecord) bool, live bool) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	now := time.Now().UTC()
	for _, rec := range s.presence {
		if match(rec) {
			rec.IsLive = live
			rec.LastUpdated = now
			n++
		}
	}
	return n
}

func (s *Memory) SetLiveForUser(ctx context.Context, username string, live bool) (int64, error) {
	return s.setLive(func(r *models.PresenceRecord) bool {
		return r.Username == username
	}, live), nil
}

func (s *Memory) SetLiveForProject(ctx context.Context, username string, projectID uuid.UUID, live bool) (int64, error) {
	return s.setLive(func(r *models.PresenceRecord) bool {
		return r.Username == username && r.ProjectID == projectID
	}, live), nil
}

func (s *Memory) UsersForFile(ctx context.Context, fileID uuid.UUID) ([]models.UserPresence, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]models.UserPresence, 0)
	for key, rec := range s.presence {
		if key.fileID != fileID {
			continue
		}
		users = append(users, models.UserPresence{
			Username:      rec.Username,
			IsLive:        rec.IsLive,
			IsActiveInTab: rec.IsActiveInTab,
			Image:         s.images[rec.Username],
			LastUpdated:   rec.LastUpdated,
		})
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Username < users[j].Username })
	return users, nil
}

func (s *Memory) PresenceForUser(ctx context.Context, username string, projectID *uuid.UUID) ([]models.PresenceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.PresenceRecord, 0)
	for _, rec := range s.presence {
		if rec.Username == username && (projectID == nil || rec.ProjectID == *projectID) {
			out = append(out, *rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastUpdated.After(out[j].LastUpdated) })
	return out, nil
}

func (s *Memory) UsersForProject(ctx context.Context, projectID uuid.UUID) (map[uuid.UUID][]models.UserPresence, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[uuid.UUID][]models.UserPresence)
	for _, rec := range s.presence {
		if rec.ProjectID != projectID {
			continue
		}
		out[rec.FileID] = append(out[rec.FileID], models.UserPresence{
			Username:      rec.Username,
			IsLive:        rec.IsLive,
			IsActiveInTab: rec.IsActiveInTab,
			Image:         s.images[rec.Username],
			LastUpdated:   rec.LastUpdated,
		})
	}
	for _, users := range out {
		sort.Slice(users, func(i, j int) bool { return users[i].Username < users[j].Username })
	}
	return out, nil
}

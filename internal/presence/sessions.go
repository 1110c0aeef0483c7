package presence

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// SessionCounter counts open connections per (project, user). A user stays
// live in a project until the count drops back to zero.
type SessionCounter interface {
	Acquire(ctx context.Context, projectID uuid.UUID, username string) (int64, error)
	Release(ctx context.Context, projectID uuid.UUID, username string) (int64, error)
}

// sessionTTL bounds how long a counter survives a server that died without
// releasing its sessions.
const sessionTTL = 24 * time.Hour

var releaseScript = redis.NewScript(`
local n = redis.call('DECR', KEYS[1])
if n <= 0 then
	redis.call('DEL', KEYS[1])
	return 0
end
return n
`)

// RedisSessions shares the counter between server instances.
type RedisSessions struct {
	rdb       redis.UniversalClient
	keyPrefix string
}

func NewRedisSessions(rdb redis.UniversalClient, keyPrefix string) *RedisSessions {
	return &RedisSessions{rdb: rdb, keyPrefix: keyPrefix}
}

func (s *RedisSessions) key(projectID uuid.UUID, username string) string {
	parts := []string{"presence", "sessions", projectID.String(), username}
	if s.keyPrefix != "" {
		parts = append([]string{s.keyPrefix}, parts...)
	}
	return strings.Join(parts, ":")
}

func (s *RedisSessions) Acquire(ctx context.Context, projectID uuid.UUID, username string) (int64, error) {
	key := s.key(projectID, username)
	pipe := s.rdb.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, sessionTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("acquire session: %w", err)
	}
	return incr.Val(), nil
}

func (s *RedisSessions) Release(ctx context.Context, projectID uuid.UUID, username string) (int64, error) {
	n, err := releaseScript.Run(ctx, s.rdb, []string{s.key(projectID, username)}).Int64()
	if err != nil {
		return 0, fmt.Errorf("release session: %w", err)
	}
	return n, nil
}

type sessionKey struct {
	projectID uuid.UUID
	username  string
}

// MemorySessions is the single-instance counter.
type MemorySessions struct {
	mu     sync.Mutex
	counts map[sessionKey]int64
}

func NewMemorySessions() *MemorySessions {
	return &MemorySessions{counts: make(map[sessionKey]int64)}
}

func (s *MemorySessions) Acquire(ctx context.Context, projectID uuid.UUID, username string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := sessionKey{projectID, username}
	s.counts[k]++
	return s.counts[k], nil
}

func (s *MemorySessions) Release(ctx context.Context, projectID uuid.UUID, username string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := sessionKey{projectID, username}
	n := s.counts[k] - 1
	if n <= 0 {
		delete(s.counts, k)
		return 0, nil
	}
	s.counts[k] = n
	return n, nil
}

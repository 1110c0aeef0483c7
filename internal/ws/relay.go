package ws

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Relay carries room broadcasts between server instances. Every instance
// delivers a project's broadcasts in the order the relay hands them out, so
// all members of the project see one order whichever instance they are on.
type Relay interface {
	Publish(ctx context.Context, projectID uuid.UUID, msg []byte) error
	// Subscribe starts delivery for the project. The returned channel is
	// closed once stop has been called.
	Subscribe(ctx context.Context, projectID uuid.UUID) (msgs <-chan []byte, stop func(), err error)
}

// RedisRelay fans broadcasts out through one pub/sub channel per project.
type RedisRelay struct {
	rdb       redis.UniversalClient
	keyPrefix string
}

func NewRedisRelay(rdb redis.UniversalClient, keyPrefix string) *RedisRelay {
	return &RedisRelay{rdb: rdb, keyPrefix: keyPrefix}
}

func (r *RedisRelay) channel(projectID uuid.UUID) string {
	parts := []string{"room", projectID.String()}
	if r.keyPrefix != "" {
		parts = append([]string{r.keyPrefix}, parts...)
	}
	return strings.Join(parts, ":")
}

func (r *RedisRelay) Publish(ctx context.Context, projectID uuid.UUID, msg []byte) error {
	if err := r.rdb.Publish(ctx, r.channel(projectID), msg).Err(); err != nil {
		return fmt.Errorf("publish room message: %w", err)
	}
	return nil
}

func (r *RedisRelay) Subscribe(ctx context.Context, projectID uuid.UUID) (<-chan []byte, func(), error) {
	ps := r.rdb.Subscribe(ctx, r.channel(projectID))
	// wait for the subscription so nothing published after this returns is missed
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, nil, fmt.Errorf("subscribe room: %w", err)
	}

	out := make(chan []byte)
	done := make(chan struct{})
	go func() {
		defer close(out)
		in := ps.Channel()
		for {
			select {
			case m, ok := <-in:
				if !ok {
					return
				}
				select {
				case out <- []byte(m.Payload):
				case <-done:
					return
				}
			case <-done:
				return
			}
		}
	}()

	stop := func() {
		close(done)
		ps.Close()
	}
	return out, stop, nil
}

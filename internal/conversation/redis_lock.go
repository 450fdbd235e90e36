package conversation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	defaultLockTTL   = 30 * time.Second
	lockPollInterval = 25 * time.Millisecond
)

// ErrLockTimeout means another instance held the conversation for the
// whole wait.
var ErrLockTimeout = errors.New("conversation: timed out waiting for conversation lock")

// Locker serializes work on one conversation across processes. The engine
// still takes its in-process lock first.
type Locker interface {
	Acquire(ctx context.Context, id string) (release func(), err error)
}

// releaseScript deletes the lock only if this holder still owns it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker is a SET NX lock per conversation id. The TTL bounds how long
// a crashed holder can block others and how long Acquire waits.
type RedisLocker struct {
	redis *redis.Client
	ttl   time.Duration
}

func NewRedisLocker(client *redis.Client, ttl time.Duration) *RedisLocker {
	if client == nil {
		panic("conversation: redis client cannot be nil")
	}
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	return &RedisLocker{redis: client, ttl: ttl}
}

func (l *RedisLocker) Acquire(ctx context.Context, id string) (func(), error) {
	key := lockKey(id)
	token := uuid.NewString()
	deadline := time.NewTimer(l.ttl)
	defer deadline.Stop()

	for {
		ok, err := l.redis.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("conversation: acquire lock: %w", err)
		}
		if ok {
			return func() {
				// Release on a fresh context so a cancelled request still unlocks.
				releaseCtx, cancel := context.WithTimeout(context.Background(), time.Second)
				defer cancel()
				_ = releaseScript.Run(releaseCtx, l.redis, []string{key}, token).Err()
			}, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return nil, ErrLockTimeout
		case <-time.After(lockPollInterval):
		}
	}
}

func lockKey(id string) string {
	return fmt.Sprintf("conversation-lock:%s", id)
}

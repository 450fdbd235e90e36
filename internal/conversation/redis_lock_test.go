package conversation

import (
	"context"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/dental-frontdesk/internal/policy"
	"github.com/wolfman30/dental-frontdesk/internal/tasks"
	"github.com/wolfman30/dental-frontdesk/pkg/logging"
)

func newTestLocker(t *testing.T, ttl time.Duration) (*RedisLocker, *miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisLocker(client, ttl), mr, client
}

func TestRedisLocker_ExcludesSecondHolder(t *testing.T) {
	locker, mr, _ := newTestLocker(t, 5*time.Second)

	release, err := locker.Acquire(context.Background(), "c1")
	require.NoError(t, err)
	assert.True(t, mr.Exists("conversation-lock:c1"))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err = locker.Acquire(ctx, "c1")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	release()
	assert.False(t, mr.Exists("conversation-lock:c1"))

	release, err = locker.Acquire(context.Background(), "c1")
	require.NoError(t, err)
	release()
}

func TestRedisLocker_GivesUpAfterTTL(t *testing.T) {
	locker, _, _ := newTestLocker(t, 80*time.Millisecond)

	release, err := locker.Acquire(context.Background(), "c2")
	require.NoError(t, err)
	defer release()

	_, err = locker.Acquire(context.Background(), "c2")
	assert.ErrorIs(t, err, ErrLockTimeout)
}

func TestRedisLocker_StaleReleaseKeepsNewHolder(t *testing.T) {
	locker, mr, client := newTestLocker(t, time.Second)

	stale, err := locker.Acquire(context.Background(), "c3")
	require.NoError(t, err)
	mr.FastForward(2 * time.Second)

	current, err := locker.Acquire(context.Background(), "c3")
	require.NoError(t, err)
	token, err := client.Get(context.Background(), "conversation-lock:c3").Result()
	require.NoError(t, err)

	stale()
	got, err := client.Get(context.Background(), "conversation-lock:c3").Result()
	require.NoError(t, err)
	assert.Equal(t, token, got)

	current()
	assert.False(t, mr.Exists("conversation-lock:c3"))
}

func TestEngine_ReplicasSharingRedisDoNotLoseTurns(t *testing.T) {
	mr := miniredis.RunT(t)
	newReplica := func() *Engine {
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = client.Close() })
		e, err := NewEngine(EngineConfig{
			Policy:    policy.DefaultPolicy(),
			Store:     NewRedisStore(client, time.Hour, nil),
			Locker:    NewRedisLocker(client, 5*time.Second),
			TaskStore: tasks.NewMemoryStore(),
			Logger:    logging.Discard(),
		})
		require.NoError(t, err)
		return e
	}
	replicas := []*Engine{newReplica(), newReplica()}

	const perReplica = 10
	var wg sync.WaitGroup
	for _, e := range replicas {
		for i := 0; i < perReplica; i++ {
			wg.Add(1)
			go func(e *Engine) {
				defer wg.Done()
				_, err := e.Handle(context.Background(), Inbound{ConversationID: "shared", Text: "What are your hours?"})
				assert.NoError(t, err)
			}(e)
		}
	}
	wg.Wait()

	conv, err := replicas[0].Get(context.Background(), "shared")
	require.NoError(t, err)
	assert.Len(t, conv.Turns, 2*perReplica*len(replicas))
	assert.False(t, mr.Exists("conversation-lock:shared"))
}

package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/wolfman30/dental-frontdesk/internal/policy"
)

const defaultConversationTTL = 24 * time.Hour

// RedisStore keeps each conversation as one JSON value with a sliding TTL.
type RedisStore struct {
	redis  *redis.Client
	ttl    time.Duration
	tracer trace.Tracer
}

func NewRedisStore(client *redis.Client, ttl time.Duration, tracer trace.Tracer) *RedisStore {
	if client == nil {
		panic("conversation: redis client cannot be nil")
	}
	if ttl <= 0 {
		ttl = defaultConversationTTL
	}
	if tracer == nil {
		tracer = otel.Tracer("frontdesk.internal.conversation.store")
	}
	return &RedisStore{redis: client, ttl: ttl, tracer: tracer}
}

func (s *RedisStore) Save(ctx context.Context, conv *policy.Conversation) error {
	ctx, span := s.tracer.Start(ctx, "conversation.save")
	defer span.End()
	span.SetAttributes(attribute.String("conversation.id", conv.ID), attribute.String("conversation.state", string(conv.State)))

	data, err := json.Marshal(conv)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("conversation: failed to marshal conversation: %w", err)
	}
	if err := s.redis.Set(ctx, conversationKey(conv.ID), data, s.ttl).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("conversation: failed to persist conversation: %w", err)
	}
	return nil
}

func (s *RedisStore) Load(ctx context.Context, id string) (*policy.Conversation, error) {
	ctx, span := s.tracer.Start(ctx, "conversation.load")
	defer span.End()
	span.SetAttributes(attribute.String("conversation.id", id))

	data, err := s.redis.Get(ctx, conversationKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrConversationNotFound
	}
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("conversation: failed to load conversation: %w", err)
	}

	var conv policy.Conversation
	if err := json.Unmarshal(data, &conv); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("conversation: failed to decode conversation: %w", err)
	}
	return &conv, nil
}

func conversationKey(id string) string {
	return fmt.Sprintf("conversation:%s", id)
}

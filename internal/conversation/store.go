package conversation

import (
	"context"
	"errors"
	"sync"

	"github.com/wolfman30/dental-frontdesk/internal/policy"
)

var ErrConversationNotFound = errors.New("conversation: not found")

// Store persists conversations between turns. Load returns
// ErrConversationNotFound for unknown ids.
type Store interface {
	Load(ctx context.Context, id string) (*policy.Conversation, error)
	Save(ctx context.Context, conv *policy.Conversation) error
}

// MemoryStore keeps conversations in process. It hands out copies so a
// caller's mutations never leak into stored state.
type MemoryStore struct {
	mu    sync.RWMutex
	convs map[string]*policy.Conversation
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{convs: make(map[string]*policy.Conversation)}
}

func (s *MemoryStore) Load(_ context.Context, id string) (*policy.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.convs[id]
	if !ok {
		return nil, ErrConversationNotFound
	}
	return cloneConversation(conv), nil
}

func (s *MemoryStore) Save(_ context.Context, conv *policy.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.convs[conv.ID] = cloneConversation(conv)
	return nil
}

func cloneConversation(c *policy.Conversation) *policy.Conversation {
	out := *c
	out.Turns = append([]policy.Turn(nil), c.Turns...)
	out.Slots = c.Slots.Clone()
	out.Retries = make(map[policy.Slot]int, len(c.Retries))
	for k, v := range c.Retries {
		out.Retries[k] = v
	}
	if c.Escalation != nil {
		snap := *c.Escalation
		snap.Slots = c.Escalation.Slots.Clone()
		out.Escalation = &snap
	}
	return &out
}

package tasks

import (
	"context"
	"fmt"
	"sync"

	"github.com/wolfman30/dental-frontdesk/internal/policy"
)

// MemoryStore keeps tasks in process. Ids are sequential (T-0001, T-0002...).
type MemoryStore struct {
	mu             sync.RWMutex
	tasks          []policy.CallbackTask
	byID           map[string]int
	byConversation map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:           make(map[string]int),
		byConversation: make(map[string]string),
	}
}

func (s *MemoryStore) Append(_ context.Context, task policy.CallbackTask) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.byConversation[task.ConversationID]; ok {
		return id, nil
	}
	task.ID = fmt.Sprintf("T-%04d", len(s.tasks)+1)
	task.Slots = task.Slots.Clone()
	s.byID[task.ID] = len(s.tasks)
	s.byConversation[task.ConversationID] = task.ID
	s.tasks = append(s.tasks, task)
	return task.ID, nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (policy.CallbackTask, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx, ok := s.byID[id]
	if !ok {
		return policy.CallbackTask{}, ErrNotFound
	}
	return copyTask(s.tasks[idx]), nil
}

func (s *MemoryStore) List(_ context.Context, limit int) ([]policy.CallbackTask, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	limit = clampLimit(limit)
	out := make([]policy.CallbackTask, 0, min(limit, len(s.tasks)))
	for i := len(s.tasks) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, copyTask(s.tasks[i]))
	}
	return out, nil
}

func copyTask(t policy.CallbackTask) policy.CallbackTask {
	t.Slots = t.Slots.Clone()
	return t
}

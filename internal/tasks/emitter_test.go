package tasks

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/dental-frontdesk/internal/policy"
	"github.com/wolfman30/dental-frontdesk/pkg/logging"
)

type countingStore struct {
	*MemoryStore
	appends int
	fail    error
}

func (s *countingStore) Append(ctx context.Context, task policy.CallbackTask) (string, error) {
	s.appends++
	if s.fail != nil {
		return "", s.fail
	}
	return s.MemoryStore.Append(ctx, task)
}

func readyConversation(t *testing.T, m *policy.StateMachine) *policy.Conversation {
	t.Helper()
	c := policy.NewConversation("c1", time.Now())
	_, err := m.Apply(c, policy.Event{
		Kind:   policy.EventTurn,
		Text:   "Should I take antibiotics for my tooth?",
		Safety: policy.ClassificationResult{Label: policy.LabelBlocked, Confidence: 0.95},
	})
	require.NoError(t, err)
	require.Equal(t, policy.StateReadyToEscalate, c.State)
	return c
}

func TestEmitterEmitsExactlyOnce(t *testing.T) {
	m := policy.NewStateMachine(policy.DefaultPolicy())
	store := &countingStore{MemoryStore: NewMemoryStore()}
	e := NewEmitter(store, m, "Example Dental Clinic", logging.Discard())
	c := readyConversation(t, m)

	id, err := e.Emit(context.Background(), c)
	require.NoError(t, err)
	assert.Equal(t, "T-0001", id)
	assert.Equal(t, policy.StateEscalated, c.State)
	assert.Equal(t, id, c.TaskID)

	again, err := e.Emit(context.Background(), c)
	require.NoError(t, err)
	assert.Equal(t, id, again)
	assert.Equal(t, 1, store.appends)

	task, err := store.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, policy.ReasonMedicalAdviceBlock, task.Reason)
	assert.Equal(t, "Example Dental Clinic", task.PracticeName)
}

func TestEmitterStoreFailureKeepsReadyToEscalate(t *testing.T) {
	m := policy.NewStateMachine(policy.DefaultPolicy())
	store := &countingStore{MemoryStore: NewMemoryStore(), fail: errors.New("db down")}
	e := NewEmitter(store, m, "", logging.Discard())
	c := readyConversation(t, m)

	_, err := e.Emit(context.Background(), c)
	assert.ErrorIs(t, err, ErrTaskStoreUnavailable)
	assert.Equal(t, policy.StateReadyToEscalate, c.State)
	assert.Empty(t, c.TaskID)

	store.fail = nil
	id, err := e.Emit(context.Background(), c)
	require.NoError(t, err)
	assert.Equal(t, policy.StateEscalated, c.State)
	assert.Equal(t, id, c.TaskID)
}

func TestEmitterRejectsOpenConversation(t *testing.T) {
	m := policy.NewStateMachine(policy.DefaultPolicy())
	store := &countingStore{MemoryStore: NewMemoryStore()}
	e := NewEmitter(store, m, "", logging.Discard())

	_, err := e.Emit(context.Background(), policy.NewConversation("c1", time.Now()))
	assert.ErrorIs(t, err, policy.ErrNotReadyToEscalate)
	assert.Zero(t, store.appends)
}

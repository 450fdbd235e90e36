// Package tasks stores callback tasks and emits them for escalated
// conversations. Stores are append-only: a task is never updated.
package tasks

import (
	"context"
	"errors"

	"github.com/wolfman30/dental-frontdesk/internal/policy"
)

var (
	ErrNotFound = errors.New("tasks: task not found")
	// ErrTaskStoreUnavailable marks a failed append. The caller may retry.
	ErrTaskStoreUnavailable = errors.New("tasks: task store unavailable")
)

const defaultListLimit = 50

// Store persists callback tasks. Append is idempotent per conversation:
// a second append for the same conversation returns the first task's id.
type Store interface {
	Append(ctx context.Context, task policy.CallbackTask) (string, error)
	Get(ctx context.Context, id string) (policy.CallbackTask, error)
	// List returns the newest tasks first.
	List(ctx context.Context, limit int) ([]policy.CallbackTask, error)
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > 500 {
		return defaultListLimit
	}
	return limit
}

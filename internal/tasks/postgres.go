package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wolfman30/dental-frontdesk/internal/policy"
)

type pgQuerier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore persists tasks in the callback_tasks table.
type PostgresStore struct {
	db pgQuerier
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	if pool == nil {
		panic("tasks: pgx pool required")
	}
	return &PostgresStore{db: pool}
}

func newPostgresStoreWithQuerier(db pgQuerier) *PostgresStore {
	if db == nil {
		panic("tasks: querier required")
	}
	return &PostgresStore{db: db}
}

const taskColumns = `id, conversation_id, reason, slots, summary, practice_name, created_at`

// Append inserts the task. The no-op update on conflict makes RETURNING
// yield the existing id for a conversation that already has a task.
func (s *PostgresStore) Append(ctx context.Context, task policy.CallbackTask) (string, error) {
	slots, err := json.Marshal(task.Slots)
	if err != nil {
		return "", fmt.Errorf("tasks: marshal slots: %w", err)
	}
	query := `
		INSERT INTO callback_tasks (` + taskColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (conversation_id) DO UPDATE SET conversation_id = EXCLUDED.conversation_id
		RETURNING id
	`
	var id string
	err = s.db.QueryRow(ctx, query,
		uuid.NewString(), task.ConversationID, string(task.Reason), slots,
		task.Summary, task.PracticeName, task.CreatedAt,
	).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("tasks: insert task: %w", err)
	}
	return id, nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (policy.CallbackTask, error) {
	query := `SELECT ` + taskColumns + ` FROM callback_tasks WHERE id = $1`
	task, err := scanTask(s.db.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return policy.CallbackTask{}, ErrNotFound
	}
	if err != nil {
		return policy.CallbackTask{}, fmt.Errorf("tasks: get task: %w", err)
	}
	return task, nil
}

func (s *PostgresStore) List(ctx context.Context, limit int) ([]policy.CallbackTask, error) {
	query := `SELECT ` + taskColumns + ` FROM callback_tasks ORDER BY created_at DESC, id DESC LIMIT $1`
	rows, err := s.db.Query(ctx, query, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("tasks: list tasks: %w", err)
	}
	defer rows.Close()

	var out []policy.CallbackTask
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("tasks: scan task: %w", err)
		}
		out = append(out, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("tasks: list tasks: %w", err)
	}
	return out, nil
}

func scanTask(row pgx.Row) (policy.CallbackTask, error) {
	var (
		task   policy.CallbackTask
		reason string
		slots  []byte
	)
	if err := row.Scan(&task.ID, &task.ConversationID, &reason, &slots, &task.Summary, &task.PracticeName, &task.CreatedAt); err != nil {
		return policy.CallbackTask{}, err
	}
	task.Reason = policy.EscalationReason(reason)
	task.Slots = policy.Slots{}
	if len(slots) > 0 {
		if err := json.Unmarshal(slots, &task.Slots); err != nil {
			return policy.CallbackTask{}, fmt.Errorf("decode slots: %w", err)
		}
	}
	return task, nil
}

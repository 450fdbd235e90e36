package tasks

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/dental-frontdesk/internal/policy"
	"github.com/wolfman30/dental-frontdesk/pkg/logging"
)

var emitTracer = otel.Tracer("frontdesk.internal.tasks.emit")

// Emitter turns a ReadyToEscalate conversation into exactly one stored
// task. It holds no locks; callers serialize per conversation.
type Emitter struct {
	store        Store
	machine      *policy.StateMachine
	practiceName string
	logger       *logging.Logger
	now          func() time.Time
}

func NewEmitter(store Store, machine *policy.StateMachine, practiceName string, logger *logging.Logger) *Emitter {
	if store == nil {
		panic("tasks: store cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Emitter{
		store:        store,
		machine:      machine,
		practiceName: practiceName,
		logger:       logger,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// Emit stores the task and marks the conversation Escalated. An already
// escalated conversation returns its task id without touching the store.
// On a store failure the conversation is left in ReadyToEscalate and the
// error wraps ErrTaskStoreUnavailable.
func (e *Emitter) Emit(ctx context.Context, conv *policy.Conversation) (string, error) {
	if conv.State == policy.StateEscalated {
		return conv.TaskID, nil
	}

	ctx, span := emitTracer.Start(ctx, "tasks.emit")
	defer span.End()
	span.SetAttributes(attribute.String("conversation.id", conv.ID))

	task, err := policy.NewCallbackTask(conv, e.practiceName, e.now())
	if err != nil {
		span.RecordError(err)
		return "", err
	}
	span.SetAttributes(attribute.String("task.reason", string(task.Reason)))

	id, err := e.store.Append(ctx, task)
	if err != nil {
		span.RecordError(err)
		e.logger.Error("callback task append failed", "conversation_id", conv.ID, "reason", task.Reason, "error", err)
		return "", fmt.Errorf("%w: %w", ErrTaskStoreUnavailable, err)
	}
	if err := e.machine.MarkEscalated(conv, id, task.CreatedAt); err != nil {
		span.RecordError(err)
		return "", err
	}
	span.SetAttributes(attribute.String("task.id", id))
	e.logger.Info("callback task emitted", "conversation_id", conv.ID, "task_id", id, "reason", task.Reason)
	return id, nil
}

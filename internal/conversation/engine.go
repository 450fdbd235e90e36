package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/wolfman30/dental-frontdesk/internal/observability/metrics"
	"github.com/wolfman30/dental-frontdesk/internal/policy"
	"github.com/wolfman30/dental-frontdesk/internal/tasks"
	"github.com/wolfman30/dental-frontdesk/pkg/logging"
)

// ErrMissingConversationID is returned when an inbound message has no id.
var ErrMissingConversationID = errors.New("conversation: conversation id is required")

// Inbound is one patient message as received from a channel.
type Inbound struct {
	ConversationID string
	Text           string
	At             time.Time
	Channel        string
}

// Reply is what the patient sees plus enough state for a client to render it.
type Reply struct {
	ConversationID string       `json:"conversation_id"`
	Text           string       `json:"reply"`
	Kind           ReplyKind    `json:"kind"`
	State          policy.State `json:"state,omitempty"`
	PromptSlot     policy.Slot  `json:"prompt_slot,omitempty"`
	TaskID         string       `json:"ticket,omitempty"`
	Blocked        bool         `json:"blocked,omitempty"`
}

// Auditor records compliance events. AuditService satisfies it.
type Auditor interface {
	LogMedicalAdviceRefused(ctx context.Context, conversationID, userMessage string, matched []string, confidence float64) error
	LogClassifierFailure(ctx context.Context, conversationID, userMessage string, cause error) error
	LogCallbackEscalated(ctx context.Context, conversationID, taskID, reason string) error
}

type EngineConfig struct {
	Policy       policy.Policy
	PracticeName string
	Store        Store
	Locker       Locker
	TaskStore    tasks.Store
	Safety       policy.SafetyClassifier
	Intents      policy.IntentClassifier
	Slots        policy.SlotExtractor
	Answerer     Answerer
	Auditor      Auditor
	Metrics      *metrics.PolicyMetrics
	Logger       *logging.Logger
	Now          func() time.Time
}

// Engine runs one patient turn at a time per conversation through the
// normalizer, classifiers, extractor and state machine, and emits the
// callback task when the machine asks for one.
type Engine struct {
	store      Store
	normalizer *policy.Normalizer
	maxLength  int
	safety     policy.SafetyClassifier
	intents    policy.IntentClassifier
	slots      policy.SlotExtractor
	machine    *policy.StateMachine
	emitter    *tasks.Emitter
	answerer   Answerer
	auditor    Auditor
	metrics    *metrics.PolicyMetrics
	logger     *logging.Logger
	replies    replyWriter
	locks      *keyedMutex
	remote     Locker
	now        func() time.Time
}

func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.Store == nil {
		return nil, errors.New("conversation: store is required")
	}
	if cfg.TaskStore == nil {
		return nil, errors.New("conversation: task store is required")
	}
	if err := cfg.Policy.Validate(); err != nil {
		return nil, err
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	if strings.TrimSpace(cfg.PracticeName) == "" {
		cfg.PracticeName = "Example Dental Clinic"
	}
	if cfg.Safety == nil {
		rules, err := policy.NewRuleSafetyClassifier(cfg.Policy.SafetyRules)
		if err != nil {
			return nil, fmt.Errorf("conversation: safety rules: %w", err)
		}
		cfg.Safety = rules
	}
	if cfg.Intents == nil {
		cfg.Intents = policy.NewIntentClassifier()
	}
	if cfg.Slots == nil {
		cfg.Slots = policy.NewSlotExtractor()
	}
	if cfg.Answerer == nil {
		cfg.Answerer = NewStaticAnswerer(cfg.PracticeName)
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}

	machine := policy.NewStateMachine(cfg.Policy)
	return &Engine{
		store:      cfg.Store,
		normalizer: policy.NewNormalizer(cfg.Policy.MaxMessageLength),
		maxLength:  cfg.Policy.MaxMessageLength,
		safety:     cfg.Safety,
		intents:    cfg.Intents,
		slots:      cfg.Slots,
		machine:    machine,
		emitter:    tasks.NewEmitter(cfg.TaskStore, machine, cfg.PracticeName, cfg.Logger),
		answerer:   cfg.Answerer,
		auditor:    cfg.Auditor,
		metrics:    cfg.Metrics,
		logger:     cfg.Logger,
		replies:    replyWriter{practice: cfg.PracticeName},
		locks:      newKeyedMutex(),
		remote:     cfg.Locker,
		now:        cfg.Now,
	}, nil
}

// Handle processes one patient message. Input errors come back with a
// rephrase reply and leave the conversation untouched. A task store
// failure comes back as a pending reply wrapping
// tasks.ErrTaskStoreUnavailable; the next turn retries the emission.
func (e *Engine) Handle(ctx context.Context, in Inbound) (Reply, error) {
	start := time.Now()
	id := strings.TrimSpace(in.ConversationID)
	if id == "" {
		return Reply{}, ErrMissingConversationID
	}

	text, err := e.normalizer.Normalize(in.Text)
	if err != nil {
		e.metrics.ObserveTurn(string(KindRephrase), time.Since(start).Seconds())
		return Reply{ConversationID: id, Kind: KindRephrase, Text: e.replies.rephrase(err)}, err
	}

	at := in.At
	if at.IsZero() {
		at = e.now()
	}

	unlock, err := e.lock(ctx, id)
	if err != nil {
		return Reply{}, err
	}
	defer unlock()

	conv, err := e.loadOrCreate(ctx, id, at)
	if err != nil {
		return Reply{}, err
	}
	if conv.State.Terminal() {
		return e.closedReply(conv), policy.ErrConversationClosed
	}
	if conv.Channel == "" {
		conv.Channel = in.Channel
	}

	prior := conv.PatientTurns()
	conv.AppendTurn(policy.RolePatient, text, at)

	ev := policy.Event{Kind: policy.EventTurn, Text: text, At: at}
	// Safety runs on every turn so the latch also catches messages sent
	// while a task emission is pending. The snapshot is already frozen then.
	ev.Safety = e.classifySafety(ctx, conv, text, prior)
	if conv.State != policy.StateReadyToEscalate && !ev.Safety.Blocked() && !conv.Blocked {
		ev.Intent = e.intents.Classify(text)
		intent := conv.ActiveIntent
		if intent == "" {
			intent = policy.Intent(ev.Intent.Label)
		}
		ev.Extracted, ev.ExtractErr = e.slots.Extract(policy.ExtractRequest{
			Text:     text,
			Intent:   intent,
			Awaiting: conv.Awaiting,
		})
	}

	decision, err := e.machine.Apply(conv, ev)
	if err != nil {
		return Reply{}, err
	}
	e.metrics.ObserveTransition(string(decision.From), string(decision.To))

	reply, handleErr := e.respond(ctx, conv, decision, text)
	conv.AppendTurn(policy.RoleSystem, reply.Text, e.now())
	if err := e.store.Save(ctx, conv); err != nil {
		return Reply{}, fmt.Errorf("conversation: save %s: %w", id, err)
	}

	e.metrics.ObserveTurn(string(reply.Kind), time.Since(start).Seconds())
	e.logger.Debug("turn handled",
		"conversation_id", id,
		"kind", reply.Kind,
		"from", decision.From,
		"to", decision.To,
	)
	return reply, handleErr
}

// EndSession closes an open or collecting conversation. A conversation
// already waiting on its task gets one more emission attempt instead.
func (e *Engine) EndSession(ctx context.Context, id string) (Reply, error) {
	unlock, err := e.lock(ctx, id)
	if err != nil {
		return Reply{}, err
	}
	defer unlock()

	conv, err := e.store.Load(ctx, id)
	if err != nil {
		return Reply{}, err
	}
	if conv.State.Terminal() {
		return e.closedReply(conv), policy.ErrConversationClosed
	}
	decision, err := e.machine.Apply(conv, policy.Event{Kind: policy.EventSessionEnd, At: e.now()})
	if err != nil {
		return Reply{}, err
	}
	e.metrics.ObserveTransition(string(decision.From), string(decision.To))

	reply, handleErr := e.respond(ctx, conv, decision, "")
	if decision.Action == policy.ActionClose {
		conv.AppendTurn(policy.RoleSystem, reply.Text, e.now())
	}
	if err := e.store.Save(ctx, conv); err != nil {
		return Reply{}, fmt.Errorf("conversation: save %s: %w", id, err)
	}
	return reply, handleErr
}

// RetryEscalation re-attempts the task emission for a conversation left in
// ReadyToEscalate by a store failure.
func (e *Engine) RetryEscalation(ctx context.Context, id string) (Reply, error) {
	unlock, err := e.lock(ctx, id)
	if err != nil {
		return Reply{}, err
	}
	defer unlock()

	conv, err := e.store.Load(ctx, id)
	if err != nil {
		return Reply{}, err
	}
	switch conv.State {
	case policy.StateEscalated:
		return e.closedReply(conv), nil
	case policy.StateReadyToEscalate:
	default:
		return Reply{ConversationID: id, State: conv.State}, policy.ErrNotReadyToEscalate
	}

	decision := policy.Decision{Action: policy.ActionEscalate, From: conv.State, To: conv.State, Reason: conv.Escalation.Reason}
	reply, handleErr := e.respond(ctx, conv, decision, "")
	if handleErr == nil {
		conv.AppendTurn(policy.RoleSystem, reply.Text, e.now())
	}
	if err := e.store.Save(ctx, conv); err != nil {
		return Reply{}, fmt.Errorf("conversation: save %s: %w", id, err)
	}
	return reply, handleErr
}

// lock takes the in-process lock, then the cross-process one when configured.
func (e *Engine) lock(ctx context.Context, id string) (func(), error) {
	unlock := e.locks.Lock(id)
	if e.remote == nil {
		return unlock, nil
	}
	release, err := e.remote.Acquire(ctx, id)
	if err != nil {
		unlock()
		return nil, fmt.Errorf("conversation: lock %s: %w", id, err)
	}
	return func() {
		release()
		unlock()
	}, nil
}

// MaxMessageLength is the configured limit on normalized message runes.
func (e *Engine) MaxMessageLength() int {
	return e.maxLength
}

// Get returns a snapshot of the conversation.
func (e *Engine) Get(ctx context.Context, id string) (*policy.Conversation, error) {
	unlock := e.locks.Lock(id)
	defer unlock()
	return e.store.Load(ctx, id)
}

func (e *Engine) loadOrCreate(ctx context.Context, id string, at time.Time) (*policy.Conversation, error) {
	conv, err := e.store.Load(ctx, id)
	if errors.Is(err, ErrConversationNotFound) {
		return policy.NewConversation(id, at), nil
	}
	if err != nil {
		return nil, fmt.Errorf("conversation: load %s: %w", id, err)
	}
	return conv, nil
}

// classifySafety never lets a classifier error through as safe.
func (e *Engine) classifySafety(ctx context.Context, conv *policy.Conversation, text string, prior []policy.Turn) policy.ClassificationResult {
	result, err := e.safety.Classify(ctx, text, prior)
	if err != nil {
		e.logger.Warn("safety classifier failed, treating message as blocked", "conversation_id", conv.ID, "error", err)
		e.metrics.ObserveSafety(policy.LabelBlocked, "failsafe")
		e.audit(func(a Auditor) error { return a.LogClassifierFailure(ctx, conv.ID, text, err) })
		return policy.ClassificationResult{Label: policy.LabelBlocked, Confidence: 1, Matched: []string{"classifier-failure"}}
	}
	e.metrics.ObserveSafety(result.Label, "classifier")
	if result.Blocked() {
		e.audit(func(a Auditor) error {
			return a.LogMedicalAdviceRefused(ctx, conv.ID, text, result.Matched, result.Confidence)
		})
	}
	return result
}

func (e *Engine) respond(ctx context.Context, conv *policy.Conversation, d policy.Decision, text string) (Reply, error) {
	reply := Reply{ConversationID: conv.ID, Blocked: conv.Blocked}

	switch d.Action {
	case policy.ActionAnswer:
		answer, err := e.answerer.Answer(ctx, conv, text)
		if err != nil || strings.TrimSpace(answer) == "" {
			e.logger.Warn("answerer failed, offering clarification", "conversation_id", conv.ID, "error", err)
			reply.Kind, reply.Text = KindClarify, e.replies.clarify()
			break
		}
		reply.Kind, reply.Text = KindAnswer, answer
	case policy.ActionClarify:
		reply.Kind, reply.Text = KindClarify, e.replies.clarify()
	case policy.ActionPrompt:
		reply.Kind, reply.PromptSlot = KindPrompt, d.PromptSlot
		reply.Text = e.replies.prompt(d.PromptSlot, conv.Slots, d.Malformed)
	case policy.ActionClose:
		reply.Kind, reply.Text = KindClosed, e.replies.ended()
	case policy.ActionEscalate:
		taskID, err := e.emitter.Emit(ctx, conv)
		if err != nil {
			e.metrics.ObserveTaskStoreFailure()
			reply.Kind, reply.Text = KindPending, e.replies.pending()
			reply.State = conv.State
			return reply, err
		}
		reason := conv.Escalation.Reason
		e.metrics.ObserveTaskEmitted(string(reason))
		e.audit(func(a Auditor) error { return a.LogCallbackEscalated(ctx, conv.ID, taskID, string(reason)) })
		reply.Kind, reply.TaskID = KindEscalated, taskID
		reply.Text = e.replies.escalated(reason, conv.Escalation.Slots)
	}
	reply.State = conv.State
	return reply, nil
}

func (e *Engine) closedReply(conv *policy.Conversation) Reply {
	return Reply{
		ConversationID: conv.ID,
		Kind:           KindClosed,
		State:          conv.State,
		TaskID:         conv.TaskID,
		Blocked:        conv.Blocked,
		Text:           e.replies.afterClose(conv.State),
	}
}

// audit failures are logged and never change the reply.
func (e *Engine) audit(fn func(Auditor) error) {
	if e.auditor == nil {
		return
	}
	if err := fn(e.auditor); err != nil {
		e.logger.Error("compliance audit write failed", "error", err)
	}
}

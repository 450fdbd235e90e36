// Package compliance keeps an append-only audit trail of safety refusals
// and escalations.
package compliance

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

type AuditEventType string

const (
	// EventMedicalAdviceRefused is logged when a message is blocked by the safety classifier.
	EventMedicalAdviceRefused AuditEventType = "compliance.medical_advice_refused"
	// EventClassifierFailure is logged when the safety classifier errored and the turn was treated as blocked.
	EventClassifierFailure AuditEventType = "compliance.classifier_failure"
	// EventCallbackEscalated is logged when a callback task is stored.
	EventCallbackEscalated AuditEventType = "compliance.callback_escalated"
)

// AuditEvent is an immutable audit record.
type AuditEvent struct {
	ID             string          `json:"id"`
	EventType      AuditEventType  `json:"event_type"`
	ConversationID string          `json:"conversation_id"`
	UserMessage    string          `json:"user_message,omitempty"`
	MatchedRules   []string        `json:"matched_rules,omitempty"`
	Details        json.RawMessage `json:"details,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

type AuditDetails struct {
	Confidence float64 `json:"confidence,omitempty"`
	Error      string  `json:"error,omitempty"`
	TaskID     string  `json:"task_id,omitempty"`
	Reason     string  `json:"reason,omitempty"`
}

// AuditService writes audit events to compliance_audit_events.
type AuditService struct {
	db *sql.DB
}

func NewAuditService(db *sql.DB) *AuditService {
	return &AuditService{db: db}
}

// LogEvent records a compliance audit event.
func (s *AuditService) LogEvent(ctx context.Context, event AuditEvent) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	details := event.Details
	if len(details) == 0 {
		details = json.RawMessage(`{}`)
	}

	query := `
		INSERT INTO compliance_audit_events (
			id, event_type, conversation_id, user_message, matched_rules, details, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := s.db.ExecContext(ctx, query,
		event.ID,
		string(event.EventType),
		event.ConversationID,
		nullString(event.UserMessage),
		pq.Array(event.MatchedRules),
		[]byte(details),
		event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("compliance: failed to log audit event: %w", err)
	}
	return nil
}

// LogMedicalAdviceRefused records a blocked message and the rules that matched.
func (s *AuditService) LogMedicalAdviceRefused(ctx context.Context, conversationID, userMessage string, matched []string, confidence float64) error {
	details, _ := json.Marshal(AuditDetails{Confidence: confidence})
	return s.LogEvent(ctx, AuditEvent{
		EventType:      EventMedicalAdviceRefused,
		ConversationID: conversationID,
		UserMessage:    userMessage,
		MatchedRules:   matched,
		Details:        details,
	})
}

// LogClassifierFailure records a fail-safe block. The message is kept so
// staff can review what the classifier could not judge.
func (s *AuditService) LogClassifierFailure(ctx context.Context, conversationID, userMessage string, cause error) error {
	details, _ := json.Marshal(AuditDetails{Error: cause.Error()})
	return s.LogEvent(ctx, AuditEvent{
		EventType:      EventClassifierFailure,
		ConversationID: conversationID,
		UserMessage:    userMessage,
		Details:        details,
	})
}

func (s *AuditService) LogCallbackEscalated(ctx context.Context, conversationID, taskID, reason string) error {
	details, _ := json.Marshal(AuditDetails{TaskID: taskID, Reason: reason})
	return s.LogEvent(ctx, AuditEvent{
		EventType:      EventCallbackEscalated,
		ConversationID: conversationID,
		Details:        details,
	})
}

// AuditFilter specifies criteria for querying audit events.
type AuditFilter struct {
	ConversationID string
	EventType      AuditEventType
	Since          time.Time
	Limit          int
}

// QueryEvents returns matching events, newest first.
func (s *AuditService) QueryEvents(ctx context.Context, filter AuditFilter) ([]AuditEvent, error) {
	query := `
		SELECT id, event_type, conversation_id, user_message, matched_rules, details, created_at
		FROM compliance_audit_events
		WHERE 1 = 1
	`
	var args []any
	if filter.ConversationID != "" {
		args = append(args, filter.ConversationID)
		query += fmt.Sprintf(" AND conversation_id = $%d", len(args))
	}
	if filter.EventType != "" {
		args = append(args, string(filter.EventType))
		query += fmt.Sprintf(" AND event_type = $%d", len(args))
	}
	if !filter.Since.IsZero() {
		args = append(args, filter.Since)
		query += fmt.Sprintf(" AND created_at >= $%d", len(args))
	}
	query += " ORDER BY created_at DESC"
	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query += fmt.Sprintf(" LIMIT %d", limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("compliance: failed to query audit events: %w", err)
	}
	defer rows.Close()

	var events []AuditEvent
	for rows.Next() {
		var (
			e       AuditEvent
			userMsg sql.NullString
			details []byte
		)
		if err := rows.Scan(&e.ID, &e.EventType, &e.ConversationID, &userMsg, pq.Array(&e.MatchedRules), &details, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("compliance: failed to scan audit event: %w", err)
		}
		e.UserMessage = userMsg.String
		e.Details = json.RawMessage(details)
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("compliance: failed to read audit events: %w", err)
	}
	return events, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

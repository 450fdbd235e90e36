package tasks

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"github.com/wolfman30/dental-frontdesk/internal/policy"
	"github.com/wolfman30/dental-frontdesk/pkg/logging"
)

// taskNamespace derives task ids from conversation ids so a repeated put
// for one conversation hits the same key.
var taskNamespace = uuid.MustParse("6f1c2f3e-8f52-4f4e-9a55-2d4b8f0e7c11")

type dynamoAPI interface {
	PutItem(context.Context, *dynamodb.PutItemInput, ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(context.Context, *dynamodb.GetItemInput, ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	Scan(context.Context, *dynamodb.ScanInput, ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

type taskRecord struct {
	TaskID         string            `dynamodbav:"taskId"`
	ConversationID string            `dynamodbav:"conversationId"`
	Reason         string            `dynamodbav:"reason"`
	Slots          map[string]string `dynamodbav:"slots"`
	Summary        string            `dynamodbav:"summary"`
	PracticeName   string            `dynamodbav:"practiceName,omitempty"`
	CreatedAt      string            `dynamodbav:"createdAt"`
}

// DynamoStore persists tasks to a DynamoDB table keyed by taskId.
type DynamoStore struct {
	client    dynamoAPI
	tableName string
	logger    *logging.Logger
}

func NewDynamoStore(client dynamoAPI, tableName string, logger *logging.Logger) *DynamoStore {
	if client == nil {
		panic("tasks: dynamodb client cannot be nil")
	}
	if tableName == "" {
		panic("tasks: table name cannot be empty")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &DynamoStore{client: client, tableName: tableName, logger: logger}
}

func (s *DynamoStore) Append(ctx context.Context, task policy.CallbackTask) (string, error) {
	id := uuid.NewSHA1(taskNamespace, []byte(task.ConversationID)).String()
	rec := taskRecord{
		TaskID:         id,
		ConversationID: task.ConversationID,
		Reason:         string(task.Reason),
		Slots:          make(map[string]string, len(task.Slots)),
		Summary:        task.Summary,
		PracticeName:   task.PracticeName,
		CreatedAt:      task.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	for k, v := range task.Slots {
		rec.Slots[string(k)] = v
	}
	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return "", fmt.Errorf("tasks: marshal task: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(taskId)"),
	})
	var conditional *types.ConditionalCheckFailedException
	if errors.As(err, &conditional) {
		s.logger.Info("callback task already stored", "conversation_id", task.ConversationID, "task_id", id)
		return id, nil
	}
	if err != nil {
		return "", fmt.Errorf("tasks: put task: %w", err)
	}
	return id, nil
}

func (s *DynamoStore) Get(ctx context.Context, id string) (policy.CallbackTask, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.tableName),
		Key:            map[string]types.AttributeValue{"taskId": &types.AttributeValueMemberS{Value: id}},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return policy.CallbackTask{}, fmt.Errorf("tasks: get task: %w", err)
	}
	if len(out.Item) == 0 {
		return policy.CallbackTask{}, ErrNotFound
	}
	var rec taskRecord
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return policy.CallbackTask{}, fmt.Errorf("tasks: unmarshal task: %w", err)
	}
	return rec.toTask(), nil
}

// List scans the table. It is meant for the staff inbox on small tables.
func (s *DynamoStore) List(ctx context.Context, limit int) ([]policy.CallbackTask, error) {
	limit = clampLimit(limit)
	var (
		out   []policy.CallbackTask
		start map[string]types.AttributeValue
	)
	for {
		page, err := s.client.Scan(ctx, &dynamodb.ScanInput{
			TableName:         aws.String(s.tableName),
			ExclusiveStartKey: start,
		})
		if err != nil {
			return nil, fmt.Errorf("tasks: scan tasks: %w", err)
		}
		var recs []taskRecord
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &recs); err != nil {
			return nil, fmt.Errorf("tasks: unmarshal tasks: %w", err)
		}
		for _, rec := range recs {
			out = append(out, rec.toTask())
		}
		if len(page.LastEvaluatedKey) == 0 {
			break
		}
		start = page.LastEvaluatedKey
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r taskRecord) toTask() policy.CallbackTask {
	created, _ := time.Parse(time.RFC3339Nano, r.CreatedAt)
	slots := make(policy.Slots, len(r.Slots))
	for k, v := range r.Slots {
		slots[policy.Slot(k)] = v
	}
	return policy.CallbackTask{
		ID:             r.TaskID,
		ConversationID: r.ConversationID,
		Slots:          slots,
		Reason:         policy.EscalationReason(r.Reason),
		Summary:        r.Summary,
		PracticeName:   r.PracticeName,
		CreatedAt:      created,
	}
}

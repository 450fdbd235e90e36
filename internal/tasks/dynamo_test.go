package tasks

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/dental-frontdesk/internal/policy"
	"github.com/wolfman30/dental-frontdesk/pkg/logging"
)

type fakeDynamo struct {
	items  map[string]map[string]types.AttributeValue
	putErr error
	puts   int
}

func newFakeDynamo() *fakeDynamo {
	return &fakeDynamo{items: map[string]map[string]types.AttributeValue{}}
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.puts++
	if f.putErr != nil {
		return nil, f.putErr
	}
	key := in.Item["taskId"].(*types.AttributeValueMemberS).Value
	if _, exists := f.items[key]; exists && aws.ToString(in.ConditionExpression) != "" {
		return nil, &types.ConditionalCheckFailedException{Message: aws.String("exists")}
	}
	f.items[key] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	key := in.Key["taskId"].(*types.AttributeValueMemberS).Value
	return &dynamodb.GetItemOutput{Item: f.items[key]}, nil
}

func (f *fakeDynamo) Scan(context.Context, *dynamodb.ScanInput, ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	out := &dynamodb.ScanOutput{}
	for _, item := range f.items {
		out.Items = append(out.Items, item)
	}
	return out, nil
}

func TestDynamoStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	fake := newFakeDynamo()
	store := NewDynamoStore(fake, "callback_tasks", logging.Discard())

	task := sampleTask("c1")
	id, err := store.Append(ctx, task)
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	again, err := store.Append(ctx, task)
	require.NoError(t, err)
	assert.Equal(t, id, again, "same conversation maps to the same task")
	assert.Len(t, fake.items, 1)

	got, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "c1", got.ConversationID)
	assert.Equal(t, policy.ReasonExplicitCallbackRequest, got.Reason)
	assert.Equal(t, "+15551234567", got.Slots[policy.SlotPhone])
	assert.True(t, got.CreatedAt.Equal(task.CreatedAt))

	_, err = store.Get(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDynamoStoreListNewestFirst(t *testing.T) {
	ctx := context.Background()
	store := NewDynamoStore(newFakeDynamo(), "callback_tasks", logging.Discard())

	older := sampleTask("c1")
	newer := sampleTask("c2")
	newer.CreatedAt = older.CreatedAt.Add(time.Minute)
	_, _ = store.Append(ctx, older)
	_, _ = store.Append(ctx, newer)

	list, err := store.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "c2", list[0].ConversationID)
}

func TestDynamoStorePutFailure(t *testing.T) {
	fake := newFakeDynamo()
	fake.putErr = errors.New("throttled")
	store := NewDynamoStore(fake, "callback_tasks", logging.Discard())

	_, err := store.Append(context.Background(), sampleTask("c1"))
	assert.ErrorContains(t, err, "throttled")
}

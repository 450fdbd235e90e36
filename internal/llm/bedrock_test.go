package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubConverse struct {
	input *bedrockruntime.ConverseInput
	out   *bedrockruntime.ConverseOutput
	err   error
}

func (s *stubConverse) Converse(_ context.Context, params *bedrockruntime.ConverseInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error) {
	s.input = params
	return s.out, s.err
}

func textOutput(text string) *bedrockruntime.ConverseOutput {
	return &bedrockruntime.ConverseOutput{
		Output: &brtypes.ConverseOutputMemberMessage{Value: brtypes.Message{
			Role:    brtypes.ConversationRoleAssistant,
			Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: text}},
		}},
		StopReason: brtypes.StopReasonEndTurn,
		Usage:      &brtypes.TokenUsage{InputTokens: aws.Int32(12), OutputTokens: aws.Int32(1), TotalTokens: aws.Int32(13)},
	}
}

func TestBedrockCompleteBuildsConverseInput(t *testing.T) {
	api := &stubConverse{out: textOutput("  SAFE \n")}
	client := NewBedrockClient(api)

	resp, err := client.Complete(context.Background(), Request{
		Model:  "anthropic.test",
		System: []string{"classify", " "},
		Messages: []Message{
			{Role: RoleSystem, Content: "extra rule"},
			{Role: RoleUser, Content: "hello"},
			{Role: RoleAssistant, Content: ""},
		},
		MaxTokens:   5,
		Temperature: 0,
	})
	require.NoError(t, err)
	assert.Equal(t, "SAFE", resp.Text)
	assert.Equal(t, "end_turn", resp.StopReason)
	assert.Equal(t, int32(13), resp.Usage.TotalTokens)

	require.NotNil(t, api.input)
	assert.Equal(t, "anthropic.test", aws.ToString(api.input.ModelId))
	assert.Len(t, api.input.System, 2)
	assert.Len(t, api.input.Messages, 1)
	require.NotNil(t, api.input.InferenceConfig)
	assert.Equal(t, int32(5), aws.ToInt32(api.input.InferenceConfig.MaxTokens))
}

func TestBedrockCompleteErrors(t *testing.T) {
	_, err := NewBedrockClient(&stubConverse{}).Complete(context.Background(), Request{})
	assert.Error(t, err, "model id is required")

	api := &stubConverse{err: errors.New("throttled")}
	_, err = NewBedrockClient(api).Complete(context.Background(), Request{Model: "m", Messages: []Message{{Role: RoleUser, Content: "x"}}})
	assert.ErrorContains(t, err, "throttled")

	_, err = NewBedrockClient(&stubConverse{}).Complete(context.Background(), Request{Model: "m", Messages: []Message{{Role: "tool", Content: "x"}}})
	assert.ErrorContains(t, err, "unsupported role")

	api = &stubConverse{out: &bedrockruntime.ConverseOutput{}}
	_, err = NewBedrockClient(api).Complete(context.Background(), Request{Model: "m", Messages: []Message{{Role: RoleUser, Content: "x"}}})
	assert.ErrorContains(t, err, "message output")
}

func TestInferenceConfigOmittedWhenUnset(t *testing.T) {
	assert.Nil(t, inferenceConfig(Request{Temperature: -1}))
}

func TestGeminiTurnsSplitsHistory(t *testing.T) {
	history, last, err := geminiTurns([]Message{
		{Role: RoleSystem, Content: "ignored"},
		{Role: RoleUser, Content: "first"},
		{Role: RoleAssistant, Content: "reply"},
		{Role: RoleUser, Content: "latest"},
	})
	require.NoError(t, err)
	assert.Equal(t, "latest", last)
	require.Len(t, history, 2)
	assert.Equal(t, "model", history[1].Role)

	_, _, err = geminiTurns(nil)
	assert.Error(t, err)
}

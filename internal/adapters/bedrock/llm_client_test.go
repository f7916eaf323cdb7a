package bedrock

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/mikey/mail-trust/internal/core"
	"github.com/mikey/mail-trust/internal/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeRuntime struct {
	response []byte
	err      error
	input    *bedrockruntime.InvokeModelInput
}

func (f *fakeRuntime) InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error) {
	f.input = params
	if f.err != nil {
		return nil, f.err
	}
	return &bedrockruntime.InvokeModelOutput{Body: f.response}, nil
}

func newClient(rt InvokeModelAPI, modelID string) *BedrockClient {
	return NewBedrockClient(rt, Options{ModelID: modelID, MaxTokens: 300, MaxBodySize: 2048}, zap.NewNop(), utils.NewTextProcessor(zap.NewNop()))
}

func TestBedrockModelFamilies(t *testing.T) {
	answer := `{"category":"work","confidence":0.81}`

	tests := []struct {
		name     string
		modelID  string
		response any
		checkReq func(t *testing.T, req map[string]any)
	}{
		{
			name:     "anthropic messages",
			modelID:  "anthropic.claude-3-haiku-20240307-v1:0",
			response: map[string]any{"content": []map[string]any{{"type": "text", "text": "Sure. " + answer}}},
			checkReq: func(t *testing.T, req map[string]any) {
				assert.Equal(t, anthropicVersion, req["anthropic_version"])
				assert.NotEmpty(t, req["messages"])
				assert.EqualValues(t, 300, req["max_tokens"])
			},
		},
		{
			name:     "cross region anthropic profile",
			modelID:  "us.anthropic.claude-3-5-sonnet-20240620-v1:0",
			response: map[string]any{"content": []map[string]any{{"type": "text", "text": answer}}},
			checkReq: func(t *testing.T, req map[string]any) {
				assert.Equal(t, anthropicVersion, req["anthropic_version"])
			},
		},
		{
			name:     "titan",
			modelID:  "amazon.titan-text-express-v1",
			response: map[string]any{"results": []map[string]any{{"outputText": answer}}},
			checkReq: func(t *testing.T, req map[string]any) {
				assert.Contains(t, req["inputText"], "Subject: Standup notes")
			},
		},
		{
			name:     "generic",
			modelID:  "meta.llama3-8b-instruct-v1:0",
			response: map[string]any{"generation": answer},
			checkReq: func(t *testing.T, req map[string]any) {
				assert.Contains(t, req["prompt"], "Subject: Standup notes")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, err := json.Marshal(tt.response)
			require.NoError(t, err)
			rt := &fakeRuntime{response: body}

			result, err := newClient(rt, tt.modelID).Classify(context.Background(), &core.Email{Subject: "Standup notes", Body: "Notes from today"})
			require.NoError(t, err)
			assert.Equal(t, core.CategoryWork, result.Category)
			assert.Equal(t, tt.modelID, result.ModelUsed)

			require.NotNil(t, rt.input)
			assert.Equal(t, tt.modelID, *rt.input.ModelId)
			var req map[string]any
			require.NoError(t, json.Unmarshal(rt.input.Body, &req))
			tt.checkReq(t, req)
		})
	}
}

func TestBedrockErrors(t *testing.T) {
	_, err := newClient(&fakeRuntime{err: errors.New("throttled")}, "anthropic.claude-v2").Classify(context.Background(), &core.Email{})
	assert.ErrorContains(t, err, "throttled")

	_, err = newClient(&fakeRuntime{response: []byte(`{"results":[]}`)}, "amazon.titan-text-lite-v1").Classify(context.Background(), &core.Email{})
	assert.ErrorContains(t, err, "empty response")

	_, err = newClient(&fakeRuntime{response: []byte(`{"content":[]}`)}, "anthropic.claude-v2").Classify(context.Background(), &core.Email{})
	assert.ErrorContains(t, err, "empty response")
}

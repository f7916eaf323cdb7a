package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mikey/mail-trust/internal/core"
	"github.com/mikey/mail-trust/internal/oracle"
	"github.com/mikey/mail-trust/internal/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestClient(t *testing.T, content string, captured *map[string]any) *OpenAIClient {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if captured != nil {
			assert.NoError(t, json.NewDecoder(r.Body).Decode(captured))
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":     "chatcmpl-1",
			"object": "chat.completion",
			"model":  "gpt-4o-mini",
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": content},
			}},
		})
	}))
	t.Cleanup(srv.Close)

	return NewOpenAIClient(Options{
		APIKey:      "test",
		BaseURL:     srv.URL + "/v1",
		ModelName:   "gpt-4o-mini",
		MaxTokens:   200,
		MaxBodySize: 64,
	}, zap.NewNop(), utils.NewTextProcessor(zap.NewNop()))
}

func TestOpenAIClassify(t *testing.T) {
	var req map[string]any
	client := newTestClient(t, `{"category":"transaction","confidence":0.88,"summary":"Order shipped"}`, &req)

	result, err := client.Classify(context.Background(), &core.Email{
		From:     "orders@shop.example",
		Subject:  "Your order has shipped",
		HTMLBody: "<p>Your <b>order</b> is on its way</p>",
	})
	require.NoError(t, err)
	assert.Equal(t, core.CategoryTransaction, result.Category)
	assert.InDelta(t, 0.88, result.Confidence, 1e-9)
	assert.Equal(t, "gpt-4o-mini", result.ModelUsed)
	assert.Equal(t, "chatcmpl-1", result.ProcessingID)

	assert.Equal(t, "gpt-4o-mini", req["model"])
	format, ok := req["response_format"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "json_object", format["type"])
	messages, ok := req["messages"].([]any)
	require.True(t, ok)
	require.Len(t, messages, 2)
	user := messages[1].(map[string]any)["content"].(string)
	assert.Contains(t, user, "Your order is on its way")
}

func TestOpenAIClassifyRejectsInvalidCategory(t *testing.T) {
	client := newTestClient(t, `{"category":"important","confidence":0.9}`, nil)

	_, err := client.Classify(context.Background(), &core.Email{Subject: "hi"})
	assert.ErrorIs(t, err, oracle.ErrInvalidResponse)
}

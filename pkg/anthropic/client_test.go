package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func messageBody(text string) map[string]any {
	return map[string]any{
		"id":   "msg_test_001",
		"type": "message",
		"role": "assistant",
		"content": []map[string]any{
			{"type": "text", "text": text},
		},
		"model":       "claude-sonnet-4-5-20250929",
		"stop_reason": "end_turn",
		"usage": map[string]any{
			"input_tokens":                10,
			"output_tokens":               5,
			"cache_creation_input_tokens": 100,
			"cache_read_input_tokens":     7,
		},
	}
}

func TestSDKClient_CreateMessage(t *testing.T) {
	var got map[string]any
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Contains(t, r.URL.Path, "/messages")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(messageBody(`{"facts": []}`)) //nolint:errcheck
	}))
	defer ts.Close()

	client := NewClient("test-key", WithBaseURL(ts.URL))
	resp, err := client.CreateMessage(context.Background(), MessageRequest{
		Model:     "claude-sonnet-4-5-20250929",
		MaxTokens: 1024,
		System:    BuildCachedSystemBlocks("You extract facts.", "1h"),
		Messages:  []Message{{Role: "user", Content: "Hello"}, {Role: "assistant", Content: "{"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "msg_test_001", resp.ID)
	assert.Equal(t, "end_turn", resp.StopReason)
	assert.Equal(t, `{"facts": []}`, resp.Text())
	assert.Equal(t, TokenUsage{InputTokens: 10, OutputTokens: 5, CacheCreationInputTokens: 100, CacheReadInputTokens: 7}, resp.Usage)

	assert.Equal(t, float64(1024), got["max_tokens"])
	msgs, ok := got["messages"].([]any)
	require.True(t, ok)
	require.Len(t, msgs, 2)
	assert.Equal(t, "assistant", msgs[1].(map[string]any)["role"])
	system, ok := got["system"].([]any)
	require.True(t, ok)
	block := system[0].(map[string]any)
	assert.Equal(t, "You extract facts.", block["text"])
	assert.Equal(t, "1h", block["cache_control"].(map[string]any)["ttl"])
}

func TestSDKClient_StatusErrorCarriesRetryAfter(t *testing.T) {
	calls := 0
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Retry-After", "12")
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(map[string]any{ //nolint:errcheck
			"type":  "error",
			"error": map[string]any{"type": "rate_limit_error", "message": "slow down"},
		})
	}))
	defer ts.Close()

	client := NewClient("test-key", WithBaseURL(ts.URL))
	_, err := client.CreateMessage(context.Background(), MessageRequest{
		Model:     "claude-haiku-4-5-20251001",
		MaxTokens: 16,
		Messages:  []Message{{Role: "user", Content: "hi"}},
	})
	require.Error(t, err)

	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusTooManyRequests, se.StatusCode)
	assert.Equal(t, "12", se.RetryAfter)
	assert.Equal(t, 1, calls, "SDK retries must be disabled")
}

func TestFromSDKMessage_TextOnly(t *testing.T) {
	msg := &sdk.Message{
		ID:    "msg_1",
		Model: "claude-opus-4-6",
		Content: []sdk.ContentBlockUnion{
			{Type: "thinking"},
			{Type: "text", Text: "a"},
			{Type: "text", Text: "b"},
		},
	}
	resp := fromSDKMessage(msg)
	assert.Equal(t, "ab", resp.Text())
	assert.Len(t, resp.Content, 3)
}

func TestBuildCachedSystemBlocks(t *testing.T) {
	assert.Nil(t, BuildCachedSystemBlocks("", "1h"))

	blocks := BuildCachedSystemBlocks("prompt", "5m")
	require.Len(t, blocks, 1)
	assert.Equal(t, "5m", blocks[0].CacheControl.TTL)

	sdkBlocks := toSDKSystemBlocks(blocks)
	assert.Equal(t, "prompt", sdkBlocks[0].Text)
	assert.Equal(t, sdk.CacheControlEphemeralTTL("5m"), sdkBlocks[0].CacheControl.TTL)
}

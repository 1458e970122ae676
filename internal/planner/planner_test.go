package planner

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

type ratingResult struct {
	Rating string `json:"rating"`
}

func TestAnthropicGenerateObjectDecodesToolInput(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		resp := map[string]any{
			"id":   "msg_1",
			"type": "message",
			"role": "assistant",
			"model": "claude-sonnet-4-5",
			"stop_reason": "tool_use",
			"content": []map[string]any{
				{"type": "tool_use", "id": "call_1", "name": "emit_result", "input": map[string]any{"rating": "good"}},
			},
			"usage": map[string]any{"input_tokens": 10, "output_tokens": 5},
		}
		b, _ := json.Marshal(resp)
		_, _ = w.Write(b)
	}))
	defer srv.Close()

	client := NewAnthropic("test-key", srv.URL, "claude-sonnet-4-5", srv.Client())
	var out ratingResult
	schema := map[string]any{"properties": map[string]any{"rating": map[string]any{"type": "string"}}, "required": []string{"rating"}}
	err := client.GenerateObject(context.Background(), "sys", "user", schema, &out)
	require.NoError(t, err)
	require.Equal(t, "good", out.Rating)
}

func TestAnthropicGenerateObjectErrorsWithoutToolUse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		resp := map[string]any{
			"id": "msg_1", "type": "message", "role": "assistant", "model": "claude-sonnet-4-5",
			"stop_reason": "end_turn",
			"content":     []map[string]any{{"type": "text", "text": "no tool call"}},
			"usage":       map[string]any{"input_tokens": 10, "output_tokens": 5},
		}
		b, _ := json.Marshal(resp)
		_, _ = w.Write(b)
	}))
	defer srv.Close()

	client := NewAnthropic("test-key", srv.URL, "claude-sonnet-4-5", srv.Client())
	var out ratingResult
	err := client.GenerateObject(context.Background(), "sys", "user", map[string]any{}, &out)
	require.Error(t, err)
}

func TestOpenAIGenerateObjectDecodesContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		resp := map[string]any{
			"id": "chatcmpl_1", "object": "chat.completion", "model": "gpt-4o-mini",
			"choices": []map[string]any{
				{"index": 0, "finish_reason": "stop", "message": map[string]any{"role": "assistant", "content": `{"rating":"good"}`}},
			},
		}
		b, _ := json.Marshal(resp)
		_, _ = w.Write(b)
	}))
	defer srv.Close()

	client := NewOpenAI("test-key", srv.URL, "gpt-4o-mini", srv.Client())
	var out ratingResult
	schema := map[string]any{"properties": map[string]any{"rating": map[string]any{"type": "string"}}, "required": []string{"rating"}}
	err := client.GenerateObject(context.Background(), "sys", "user", schema, &out)
	require.NoError(t, err)
	require.Equal(t, "good", out.Rating)
}

func TestEnsureStrictJSONSchemaForcesAdditionalPropertiesFalse(t *testing.T) {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"nested": map[string]any{"type": "object", "properties": map[string]any{"x": map[string]any{"type": "string"}}},
		},
	}
	out := ensureStrictJSONSchema(schema).(map[string]any)
	require.Equal(t, false, out["additionalProperties"])
	nested := out["properties"].(map[string]any)["nested"].(map[string]any)
	require.Equal(t, false, nested["additionalProperties"])
}

package planner

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	sdk "github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"memoryd/internal/core/errs"
)

// OpenAI is a ports.Planner backed by Chat Completions' strict json_schema
// response format, following the teacher's internal/llm/openai client's
// ensureStrictJSONSchema treatment of tool/response schemas.
type OpenAI struct {
	sdk   sdk.Client
	model string
}

func NewOpenAI(apiKey, baseURL, model string, httpClient *http.Client) *OpenAI {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	opts := []option.RequestOption{
		option.WithAPIKey(strings.TrimSpace(apiKey)),
		option.WithHTTPClient(httpClient),
	}
	if base := strings.TrimSpace(baseURL); base != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimSuffix(base, "/")))
	}
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &OpenAI{sdk: sdk.NewClient(opts...), model: model}
}

// ensureStrictJSONSchema forces additionalProperties:false on every object
// schema, required by the json_schema response format's strict mode.
func ensureStrictJSONSchema(in any) any {
	switch v := in.(type) {
	case map[string]any:
		if v["type"] == "object" || v["properties"] != nil || v["required"] != nil {
			v["additionalProperties"] = false
			if _, hasType := v["type"]; !hasType && v["properties"] != nil {
				v["type"] = "object"
			}
		}
		if props, ok := v["properties"].(map[string]any); ok {
			for k, child := range props {
				props[k] = ensureStrictJSONSchema(child)
			}
			v["properties"] = props
		}
		if items, ok := v["items"]; ok {
			v["items"] = ensureStrictJSONSchema(items)
		}
		if anyOf, ok := v["anyOf"].([]any); ok {
			for i, child := range anyOf {
				anyOf[i] = ensureStrictJSONSchema(child)
			}
			v["anyOf"] = anyOf
		}
		return v
	case []any:
		for i, child := range v {
			v[i] = ensureStrictJSONSchema(child)
		}
		return v
	default:
		return in
	}
}

func (o *OpenAI) GenerateObject(ctx context.Context, systemPrompt, userPrompt string, schema map[string]any, result any) error {
	strict := ensureStrictJSONSchema(schema).(map[string]any)
	params := sdk.ChatCompletionNewParams{
		Model: sdk.ChatModel(o.model),
		Messages: []sdk.ChatCompletionMessageParamUnion{
			sdk.SystemMessage(systemPrompt),
			sdk.UserMessage(userPrompt),
		},
		ResponseFormat: sdk.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &sdk.ResponseFormatJSONSchemaParam{
				JSONSchema: sdk.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:   "emit_result",
					Schema: strict,
					Strict: sdk.Bool(true),
				},
			},
		},
	}
	comp, err := o.sdk.Chat.Completions.New(ctx, params)
	if err != nil {
		return errs.Wrap(errs.UpstreamLLM, "openai generate object", err)
	}
	if len(comp.Choices) == 0 {
		return errs.New(errs.UpstreamLLM, "openai response contained no choices")
	}
	content := comp.Choices[0].Message.Content
	if strings.TrimSpace(content) == "" {
		return errs.New(errs.UpstreamLLM, "openai response had empty content")
	}
	if err := json.Unmarshal([]byte(content), result); err != nil {
		return errs.Wrap(errs.UpstreamLLM, "decode openai json_schema response", err)
	}
	return nil
}

func (o *OpenAI) GenerateText(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	params := sdk.ChatCompletionNewParams{
		Model: sdk.ChatModel(o.model),
		Messages: []sdk.ChatCompletionMessageParamUnion{
			sdk.SystemMessage(systemPrompt),
			sdk.UserMessage(userPrompt),
		},
	}
	comp, err := o.sdk.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", errs.Wrap(errs.UpstreamLLM, "openai generate text", err)
	}
	if len(comp.Choices) == 0 {
		return "", errs.New(errs.UpstreamLLM, "openai response contained no choices")
	}
	return comp.Choices[0].Message.Content, nil
}

// Package planner adapts internal/core/ports.Planner to the Anthropic and
// OpenAI SDKs, following the teacher's internal/llm/anthropic and
// internal/llm/openai clients: a thin wrapper around the SDK client with a
// configurable model and base URL override for testing.
package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/shared/constant"

	"memoryd/internal/core/errs"
)

const defaultMaxTokens int64 = 4096

// Anthropic is a ports.Planner backed by Claude's tool-use mode: forcing a
// single tool whose input_schema is the caller's schema is Anthropic's
// closest analog to OpenAI's strict json_schema response format.
type Anthropic struct {
	sdk   anthropic.Client
	model string
}

func NewAnthropic(apiKey, baseURL, model string, httpClient *http.Client) *Anthropic {
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
		model = string(anthropic.ModelClaudeSonnet4_5)
	}
	return &Anthropic{sdk: anthropic.NewClient(opts...), model: model}
}

// GenerateObject forces the model to call a single synthetic tool whose
// input schema is the caller's schema, then decodes that tool call's input
// into result.
func (a *Anthropic) GenerateObject(ctx context.Context, systemPrompt, userPrompt string, schema map[string]any, result any) error {
	const toolName = "emit_result"
	inputSchema := anthropic.ToolInputSchemaParam{Type: constant.ValueOf[constant.Object]()}
	props := map[string]any{}
	var required []string
	if p, ok := schema["properties"].(map[string]any); ok {
		props = p
	}
	if r, ok := schema["required"].([]string); ok {
		required = r
	} else if r, ok := schema["required"].([]any); ok {
		for _, v := range r {
			if s, ok := v.(string); ok {
				required = append(required, s)
			}
		}
	}
	inputSchema.Properties = props
	inputSchema.Required = required

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		MaxTokens: defaultMaxTokens,
		System:    []anthropic.TextBlockParam{{Text: systemPrompt}},
		Messages:  []anthropic.MessageParam{anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt))},
		Tools: []anthropic.ToolUnionParam{{OfTool: &anthropic.ToolParam{
			Name:        toolName,
			InputSchema: inputSchema,
		}}},
		ToolChoice: anthropic.ToolChoiceUnionParam{OfTool: &anthropic.ToolChoiceToolParam{Name: toolName}},
	}

	resp, err := a.sdk.Messages.New(ctx, params)
	if err != nil {
		return errs.Wrap(errs.UpstreamLLM, "anthropic generate object", err)
	}
	for _, block := range resp.Content {
		if tu, ok := block.AsAny().(anthropic.ToolUseBlock); ok && tu.Name == toolName {
			if err := json.Unmarshal(tu.Input, result); err != nil {
				return errs.Wrap(errs.UpstreamLLM, "decode anthropic tool input", err)
			}
			return nil
		}
	}
	return errs.New(errs.UpstreamLLM, "anthropic response contained no emit_result tool call")
}

func (a *Anthropic) GenerateText(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		MaxTokens: defaultMaxTokens,
		System:    []anthropic.TextBlockParam{{Text: systemPrompt}},
		Messages:  []anthropic.MessageParam{anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt))},
	}
	resp, err := a.sdk.Messages.New(ctx, params)
	if err != nil {
		return "", errs.Wrap(errs.UpstreamLLM, "anthropic generate text", err)
	}
	var sb strings.Builder
	for _, block := range resp.Content {
		if tb, ok := block.AsAny().(anthropic.TextBlock); ok {
			sb.WriteString(tb.Text)
		}
	}
	if sb.Len() == 0 {
		return "", errs.New(errs.UpstreamLLM, fmt.Sprintf("anthropic response had no text content (stop_reason=%s)", resp.StopReason))
	}
	return sb.String(), nil
}

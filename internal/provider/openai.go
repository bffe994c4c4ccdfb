package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/conduitlabs/conduit/internal/wire"
)

// OpenAI streams completions from an OpenAI-compatible chat endpoint.
type OpenAI struct {
	apiURL string
	apiKey string
	model  string
	client *http.Client
}

// OpenAIConfig configures an OpenAI-compatible adapter.
type OpenAIConfig struct {
	BaseURL string // default https://api.openai.com/v1
	APIKey  string
	Model   string // default model when the request names none
}

// NewOpenAI creates an OpenAI-compatible streaming adapter.
func NewOpenAI(cfg OpenAIConfig) *OpenAI {
	baseURL := strings.TrimSuffix(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	model := cfg.Model
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &OpenAI{
		apiURL: baseURL,
		apiKey: cfg.APIKey,
		model:  model,
		client: &http.Client{Timeout: 5 * time.Minute},
	}
}

// Name identifies the adapter.
func (o *OpenAI) Name() string { return "openai" }

// Open sends a streaming chat completion request and returns the raw SSE
// body plus the OpenAI payload decoder. Non-2xx responses become a typed
// *ProviderError.
func (o *OpenAI) Open(ctx context.Context, req Request) (*Stream, error) {
	model := o.model
	if req.Model != "" {
		model = ResolveModel(req.Model)
	}

	body := map[string]any{
		"model":    model,
		"messages": o.buildMessages(req),
		"stream":   true,
	}
	if len(req.Tools) > 0 {
		body["tools"] = o.buildTools(req.Tools)
		body["tool_choice"] = "auto"
	}
	if req.MaxTokens > 0 {
		body["max_tokens"] = req.MaxTokens
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		o.apiURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if o.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+o.apiKey)
	}

	resp, err := o.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("open stream: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, parseProviderError(resp.StatusCode, data)
	}

	return &Stream{Body: resp.Body, Decode: decodeOpenAIChunk}, nil
}

// buildMessages projects provider-agnostic history into the OpenAI shape.
// The system prompt becomes the leading system message; tool results keep
// their tool_call_id correlation.
func (o *OpenAI) buildMessages(req Request) []oaiMessage {
	out := make([]oaiMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		out = append(out, oaiMessage{Role: "system", Content: req.System})
	}
	for _, m := range req.Messages {
		// A tool message fans out into one wire message per answered call,
		// since this dialect correlates results by tool_call_id.
		if m.Role == RoleTool && len(m.Results) > 0 {
			for _, res := range m.Results {
				out = append(out, oaiMessage{
					Role:       "tool",
					Content:    res.Content,
					ToolCallID: res.ID,
				})
			}
			continue
		}
		msg := oaiMessage{Role: m.Role, Content: m.Content, ToolCallID: m.ToolCallID}
		for _, tc := range m.ToolCalls {
			args := tc.Arguments
			if args == "" {
				args = "{}"
			}
			msg.ToolCalls = append(msg.ToolCalls, oaiToolCall{
				ID:   tc.ID,
				Type: "function",
				Function: oaiFunctionCall{
					Name:      tc.Name,
					Arguments: args,
				},
			})
		}
		out = append(out, msg)
	}
	return out
}

func (o *OpenAI) buildTools(tools []ToolDefinition) []oaiTool {
	out := make([]oaiTool, 0, len(tools))
	for _, t := range tools {
		out = append(out, oaiTool{
			Type: "function",
			Function: oaiFunction{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}
	return out
}

// decodeOpenAIChunk maps one streamed chat.completion.chunk payload to
// normalized events.
func decodeOpenAIChunk(payload []byte, emit func(wire.Event)) error {
	var chunk oaiStreamChunk
	if err := json.Unmarshal(payload, &chunk); err != nil {
		return fmt.Errorf("unmarshal chunk: %w", err)
	}

	for _, choice := range chunk.Choices {
		if choice.Delta != nil {
			if choice.Delta.Content != "" {
				emit(wire.Event{Type: wire.TextDelta, Content: choice.Delta.Content})
			}
			for _, tc := range choice.Delta.ToolCalls {
				if tc.ID != "" || tc.Function.Name != "" {
					emit(wire.Event{
						Type:  wire.ToolCallStart,
						Index: tc.Index,
						ID:    tc.ID,
						Name:  tc.Function.Name,
					})
				}
				if tc.Function.Arguments != "" {
					emit(wire.Event{
						Type:     wire.ToolCallArgDelta,
						Index:    tc.Index,
						Fragment: tc.Function.Arguments,
					})
				}
			}
		}
		// OpenAI signals block completion with a finish reason rather
		// than per-block stop events; close every open call.
		if choice.FinishReason == "tool_calls" || choice.FinishReason == "stop" {
			emit(wire.Event{Type: wire.ToolCallEnd, Index: -1})
		}
	}
	return nil
}

// OpenAI wire types.

type oaiMessage struct {
	Role       string        `json:"role"`
	Content    string        `json:"content,omitempty"`
	ToolCalls  []oaiToolCall `json:"tool_calls,omitempty"`
	ToolCallID string        `json:"tool_call_id,omitempty"`
}

type oaiTool struct {
	Type     string      `json:"type"`
	Function oaiFunction `json:"function"`
}

type oaiFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

type oaiToolCall struct {
	ID       string          `json:"id,omitempty"`
	Type     string          `json:"type,omitempty"`
	Function oaiFunctionCall `json:"function"`
}

type oaiFunctionCall struct {
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

type oaiStreamChunk struct {
	Choices []oaiStreamChoice `json:"choices"`
}

type oaiStreamChoice struct {
	Delta        *oaiStreamDelta `json:"delta,omitempty"`
	FinishReason string          `json:"finish_reason,omitempty"`
}

type oaiStreamDelta struct {
	Content   string               `json:"content,omitempty"`
	ToolCalls []oaiStreamToolDelta `json:"tool_calls,omitempty"`
}

type oaiStreamToolDelta struct {
	Index    int             `json:"index"`
	ID       string          `json:"id,omitempty"`
	Type     string          `json:"type,omitempty"`
	Function oaiFunctionCall `json:"function"`
}

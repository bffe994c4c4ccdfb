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

const anthropicVersion = "2023-06-01"

// Anthropic streams completions from the Anthropic messages API.
type Anthropic struct {
	apiURL string
	apiKey string
	model  string
	client *http.Client
}

// AnthropicConfig configures the Anthropic adapter.
type AnthropicConfig struct {
	BaseURL string // default https://api.anthropic.com
	APIKey  string
	Model   string
}

// NewAnthropic creates an Anthropic streaming adapter.
func NewAnthropic(cfg AnthropicConfig) *Anthropic {
	baseURL := strings.TrimSuffix(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.anthropic.com"
	}
	model := cfg.Model
	if model == "" {
		model = "claude-haiku-4-5"
	}
	return &Anthropic{
		apiURL: baseURL,
		apiKey: cfg.APIKey,
		model:  model,
		client: &http.Client{Timeout: 5 * time.Minute},
	}
}

// Name identifies the adapter.
func (a *Anthropic) Name() string { return "anthropic" }

// Open sends a streaming messages request and returns the raw SSE body
// plus the Anthropic payload decoder.
func (a *Anthropic) Open(ctx context.Context, req Request) (*Stream, error) {
	model := a.model
	if req.Model != "" {
		model = ResolveModel(req.Model)
	}
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = 4096
	}

	body := map[string]any{
		"model":      model,
		"max_tokens": maxTokens,
		"messages":   buildAnthropicMessages(req.Messages),
		"stream":     true,
	}
	if req.System != "" {
		// The messages API takes the system prompt as a block list; the
		// cache hint on the final block lets the vendor reuse the prefix
		// across iterations.
		body["system"] = []map[string]any{
			{
				"type":          "text",
				"text":          req.System,
				"cache_control": map[string]string{"type": "ephemeral"},
			},
		}
	}
	if len(req.Tools) > 0 {
		tools := make([]map[string]any, 0, len(req.Tools))
		for _, t := range req.Tools {
			tools = append(tools, map[string]any{
				"name":         t.Name,
				"description":  t.Description,
				"input_schema": t.Parameters,
			})
		}
		body["tools"] = tools
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		a.apiURL+"/v1/messages", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", a.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("open stream: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, parseProviderError(resp.StatusCode, data)
	}

	return &Stream{Body: resp.Body, Decode: decodeAnthropicEvent}, nil
}

// buildAnthropicMessages projects provider-agnostic history into message
// content blocks. Tool results become user messages with tool_result
// blocks correlated by tool_use_id.
func buildAnthropicMessages(messages []Message) []map[string]any {
	out := make([]map[string]any, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case RoleAssistant:
			if len(m.ToolCalls) == 0 {
				out = append(out, map[string]any{"role": "assistant", "content": m.Content})
				continue
			}
			blocks := make([]map[string]any, 0, len(m.ToolCalls)+1)
			if m.Content != "" {
				blocks = append(blocks, map[string]any{"type": "text", "text": m.Content})
			}
			for _, tc := range m.ToolCalls {
				input := tc.Args
				if input == nil {
					input = map[string]any{}
				}
				blocks = append(blocks, map[string]any{
					"type":  "tool_use",
					"id":    tc.ID,
					"name":  tc.Name,
					"input": input,
				})
			}
			out = append(out, map[string]any{"role": "assistant", "content": blocks})
		case RoleTool:
			var blocks []map[string]any
			for _, res := range m.Results {
				blocks = append(blocks, map[string]any{
					"type":        "tool_result",
					"tool_use_id": res.ID,
					"content":     res.Content,
				})
			}
			if len(blocks) == 0 {
				blocks = append(blocks, map[string]any{
					"type":        "tool_result",
					"tool_use_id": m.ToolCallID,
					"content":     m.Content,
				})
			}
			out = append(out, map[string]any{"role": "user", "content": blocks})
		default:
			out = append(out, map[string]any{"role": "user", "content": m.Content})
		}
	}
	return out
}

// decodeAnthropicEvent maps one streamed messages-API event payload to
// normalized events.
func decodeAnthropicEvent(payload []byte, emit func(wire.Event)) error {
	var ev anthropicStreamEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return fmt.Errorf("unmarshal event: %w", err)
	}

	switch ev.Type {
	case "content_block_start":
		if ev.ContentBlock != nil && ev.ContentBlock.Type == "tool_use" {
			emit(wire.Event{
				Type:  wire.ToolCallStart,
				Index: ev.Index,
				ID:    ev.ContentBlock.ID,
				Name:  ev.ContentBlock.Name,
			})
		}
	case "content_block_delta":
		if ev.Delta == nil {
			return nil
		}
		switch ev.Delta.Type {
		case "text_delta":
			if ev.Delta.Text != "" {
				emit(wire.Event{Type: wire.TextDelta, Content: ev.Delta.Text})
			}
		case "input_json_delta":
			emit(wire.Event{
				Type:     wire.ToolCallArgDelta,
				Index:    ev.Index,
				Fragment: ev.Delta.PartialJSON,
			})
		}
	case "content_block_stop":
		emit(wire.Event{Type: wire.ToolCallEnd, Index: ev.Index})
	}
	// message_start, message_delta, message_stop, ping: nothing to emit.
	return nil
}

// Anthropic wire types.

type anthropicStreamEvent struct {
	Type         string               `json:"type"`
	Index        int                  `json:"index"`
	ContentBlock *anthropicBlock      `json:"content_block,omitempty"`
	Delta        *anthropicBlockDelta `json:"delta,omitempty"`
}

type anthropicBlock struct {
	Type string `json:"type"`
	ID   string `json:"id,omitempty"`
	Name string `json:"name,omitempty"`
}

type anthropicBlockDelta struct {
	Type        string `json:"type"`
	Text        string `json:"text,omitempty"`
	PartialJSON string `json:"partial_json,omitempty"`
}

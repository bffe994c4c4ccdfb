// Package provider adapts LLM vendor wire protocols to one streaming
// contract: open a completion stream, hand back raw bytes plus a decoder
// that maps vendor payloads to normalized wire events.
package provider

import (
	"context"
	"io"

	"github.com/conduitlabs/conduit/internal/wire"
)

// Message roles used in conversation history.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one turn in a conversation. History is append-only; a tool
// message always immediately follows the assistant message whose tool
// calls it answers. A tool message carries one CallResult per answered
// call — each adapter projects those into its vendor's correlation shape.
type Message struct {
	Role       string       `json:"role"`
	Content    string       `json:"content"`
	ToolCalls  []ToolCall   `json:"tool_calls,omitempty"`
	ToolCallID string       `json:"tool_call_id,omitempty"`
	Results    []CallResult `json:"results,omitempty"`
}

// CallResult is one serialized tool outcome inside a tool message.
// Results are plain text copies, not live object graphs: providers replay
// conversational content only.
type CallResult struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Content string `json:"content"`
}

// ToolCall is a model-issued request to invoke a tool within one turn.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments string         `json:"arguments,omitempty"` // raw JSON
	Args      map[string]any `json:"-"`
}

// ToolDefinition is the declarative tool schema handed to adapters.
// Each adapter projects it into its vendor's function/tool format.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"` // JSON Schema object
}

// Request is one model turn: the full history plus the out-of-band system
// prompt (never inlined into history).
type Request struct {
	Messages  []Message
	System    string
	Model     string
	Tools     []ToolDefinition
	MaxTokens int
}

// Stream is an open completion stream: the raw byte body plus the decoder
// that understands its payload dialect. The caller must close Body.
type Stream struct {
	Body   io.ReadCloser
	Decode wire.DecodeFunc
}

// Close closes the underlying byte stream.
func (s *Stream) Close() error { return s.Body.Close() }

// Provider is the interface for LLM backends.
type Provider interface {
	Name() string
	Open(ctx context.Context, req Request) (*Stream, error)
}

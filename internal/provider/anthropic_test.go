package provider

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestAnthropicStreamTextAndToolCall(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.Header.Get("x-api-key"); got != "test-key" {
			t.Errorf("x-api-key = %q", got)
		}
		if got := r.Header.Get("anthropic-version"); got != anthropicVersion {
			t.Errorf("anthropic-version = %q", got)
		}

		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if body["max_tokens"] == nil {
			t.Error("max_tokens missing")
		}
		if body["system"] == nil {
			t.Error("system blocks missing")
		}

		w.Header().Set("Content-Type", "text/event-stream")
		frames := []string{
			`{"type":"message_start"}`,
			`{"type":"content_block_start","index":0,"content_block":{"type":"text"}}`,
			`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Checking"}}`,
			`{"type":"content_block_stop","index":0}`,
			`{"type":"content_block_start","index":1,"content_block":{"type":"tool_use","id":"toolu_1","name":"kb_search"}}`,
			`{"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":"{\"query\":"}}`,
			`{"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":"\"revenue\"}"}}`,
			`{"type":"content_block_stop","index":1}`,
			`{"type":"message_stop"}`,
		}
		for _, f := range frames {
			io.WriteString(w, "event: ignored\ndata: "+f+"\n\n")
		}
	}))
	defer server.Close()

	p := NewAnthropic(AnthropicConfig{BaseURL: server.URL, APIKey: "test-key"})
	stream, err := p.Open(context.Background(), Request{
		System:   "be terse",
		Messages: []Message{{Role: RoleUser, Content: "q"}},
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	text, calls := drainStream(t, stream)
	if text != "Checking" {
		t.Errorf("text = %q", text)
	}
	if len(calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(calls))
	}
	if calls[0].ID != "toolu_1" || calls[0].Name != "kb_search" {
		t.Errorf("identity = %q/%q", calls[0].ID, calls[0].Name)
	}
	if calls[0].Args["query"] != "revenue" {
		t.Errorf("args = %v", calls[0].Args)
	}
}

func TestAnthropicOverloadedError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		io.WriteString(w, `{"error":{"message":"Overloaded"}}`)
	}))
	defer server.Close()

	p := NewAnthropic(AnthropicConfig{BaseURL: server.URL, APIKey: "k"})
	_, err := p.Open(context.Background(), Request{Messages: []Message{{Role: RoleUser, Content: "x"}}})

	var pe *ProviderError
	if !errors.As(err, &pe) {
		t.Fatalf("error type = %T", err)
	}
	if !pe.IsServerError() || !IsTransient(err) {
		t.Errorf("503 should be transient server error: %+v", pe)
	}
}

func TestBuildAnthropicMessages(t *testing.T) {
	msgs := buildAnthropicMessages([]Message{
		{Role: RoleUser, Content: "go"},
		{Role: RoleAssistant, Content: "using tools", ToolCalls: []ToolCall{
			{ID: "t1", Name: "run_query", Args: map[string]any{"query": "a"}},
			{ID: "t2", Name: "kb_search"},
		}},
		{Role: RoleTool, Results: []CallResult{
			{ID: "t1", Content: "rows"},
			{ID: "t2", Content: "hits"},
		}},
	})

	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(msgs))
	}

	blocks := msgs[1]["content"].([]map[string]any)
	if len(blocks) != 3 {
		t.Fatalf("assistant blocks = %d, want text + 2 tool_use", len(blocks))
	}
	if blocks[0]["type"] != "text" || blocks[1]["type"] != "tool_use" {
		t.Errorf("block types = %v, %v", blocks[0]["type"], blocks[1]["type"])
	}
	// nil Args must become an empty object, not null.
	if input, ok := blocks[2]["input"].(map[string]any); !ok || input == nil {
		t.Errorf("tool_use input = %v", blocks[2]["input"])
	}

	// One history tool message becomes one user message with a
	// tool_result block per answered call.
	if msgs[2]["role"] != "user" {
		t.Errorf("tool message role = %v", msgs[2]["role"])
	}
	results := msgs[2]["content"].([]map[string]any)
	if len(results) != 2 || results[0]["tool_use_id"] != "t1" || results[1]["tool_use_id"] != "t2" {
		t.Errorf("tool_result blocks = %+v", results)
	}
}

package store

import (
	"context"
	"strings"
	"testing"

	"github.com/conduitlabs/conduit/internal/provider"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCreateOrGetConversation(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	id, err := s.CreateOrGetConversation(ctx, "", "user-1", "openai")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if id == "" {
		t.Fatal("empty id")
	}

	// Existing id resolves to itself, no duplicate insert.
	got, err := s.CreateOrGetConversation(ctx, id, "user-1", "openai")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != id {
		t.Errorf("got %q, want %q", got, id)
	}

	// A caller-chosen id that does not exist yet is created as given.
	chosen, err := s.CreateOrGetConversation(ctx, "conv-custom", "user-2", "anthropic")
	if err != nil {
		t.Fatalf("create chosen: %v", err)
	}
	if chosen != "conv-custom" {
		t.Errorf("chosen id = %q", chosen)
	}
}

func TestSaveAndListMessages(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	id, _ := s.CreateOrGetConversation(ctx, "", "u", "openai")

	if err := s.SaveMessage(ctx, id, provider.RoleUser, "how many rows", nil); err != nil {
		t.Fatalf("save user: %v", err)
	}
	calls := []provider.ToolCall{{ID: "c1", Name: "run_query"}}
	if err := s.SaveMessage(ctx, id, provider.RoleAssistant, "42 rows", calls); err != nil {
		t.Fatalf("save assistant: %v", err)
	}

	msgs, err := s.Messages(ctx, id)
	if err != nil {
		t.Fatalf("Messages: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("got %d messages", len(msgs))
	}
	if msgs[0].Role != provider.RoleUser || msgs[0].Content != "how many rows" {
		t.Errorf("first = %+v", msgs[0])
	}
	if msgs[0].ToolCalls != "" {
		t.Errorf("user message has tool calls: %q", msgs[0].ToolCalls)
	}
	if !strings.Contains(msgs[1].ToolCalls, `"run_query"`) {
		t.Errorf("audit record = %q", msgs[1].ToolCalls)
	}
}

func TestMessagesUnknownConversationEmpty(t *testing.T) {
	s := openTestStore(t)
	msgs, err := s.Messages(context.Background(), "nope")
	if err != nil {
		t.Fatalf("Messages: %v", err)
	}
	if len(msgs) != 0 {
		t.Errorf("got %d messages", len(msgs))
	}
}

func TestSearchDocuments(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	docs := []struct{ id, title, body string }{
		{"d1", "Revenue reporting", "Monthly revenue is aggregated from the orders table."},
		{"d2", "Churn analysis", "Churn is measured against active subscriptions."},
		{"d3", "Revenue recognition", "Deferred revenue is recognized over the contract term."},
	}
	for _, d := range docs {
		if err := s.AddDocument(ctx, d.id, d.title, d.body); err != nil {
			t.Fatalf("AddDocument: %v", err)
		}
	}

	hits, err := s.SearchDocuments(ctx, "REVENUE", 10)
	if err != nil {
		t.Fatalf("SearchDocuments: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("got %d hits", len(hits))
	}
	for _, h := range hits {
		if h.ID != "d1" && h.ID != "d3" {
			t.Errorf("unexpected hit %q", h.ID)
		}
		if h.Snippet == "" {
			t.Errorf("hit %q has no snippet", h.ID)
		}
	}

	none, err := s.SearchDocuments(ctx, "kubernetes", 10)
	if err != nil {
		t.Fatalf("SearchDocuments: %v", err)
	}
	if len(none) != 0 {
		t.Errorf("got %d hits for absent term", len(none))
	}
}

func TestSearchDocumentsLimit(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	for i := 0; i < 8; i++ {
		s.AddDocument(ctx, "", "metric doc", "a document about metrics")
	}

	hits, err := s.SearchDocuments(ctx, "metric", 3)
	if err != nil {
		t.Fatalf("SearchDocuments: %v", err)
	}
	if len(hits) != 3 {
		t.Errorf("got %d hits, want limit 3", len(hits))
	}
}

func TestSnippetWindow(t *testing.T) {
	body := strings.Repeat("x", 300) + " churn rate " + strings.Repeat("y", 300)
	snip := snippet(body, "churn")
	if !strings.Contains(snip, "churn rate") {
		t.Errorf("snippet missed the match: %q", snip)
	}
	if len(snip) > 200 {
		t.Errorf("snippet too long: %d", len(snip))
	}
}

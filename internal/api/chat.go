package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/conduitlabs/conduit/internal/agent"
	"github.com/conduitlabs/conduit/internal/bus"
	"github.com/conduitlabs/conduit/internal/provider"
	"github.com/conduitlabs/conduit/internal/toolreg"
	"github.com/conduitlabs/conduit/internal/tools"
)

// ChatRequest is the POST /chat body.
type ChatRequest struct {
	Prompt         string             `json:"prompt,omitempty"`
	Messages       []provider.Message `json:"messages,omitempty"`
	Provider       string             `json:"provider,omitempty"`
	Model          string             `json:"model,omitempty"`
	ConversationID string             `json:"conversationId,omitempty"`
	UserID         string             `json:"userId,omitempty"`
	EnableLoop     *bool              `json:"enableLoop,omitempty"`
	MaxIterations  int                `json:"maxIterations,omitempty"`
}

// handleChat validates the request, then streams the conversation loop's
// output as SSE frames: data: {"type": ...}\n\n. Validation failures are
// plain JSON errors before any provider traffic; once streaming starts,
// errors travel in-band and the stream always ends with a done frame.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if req.Prompt == "" && len(req.Messages) == 0 {
		writeError(w, http.StatusBadRequest, "prompt or messages is required")
		return
	}

	p, status, err := s.selectProvider(req.Provider)
	if err != nil {
		writeError(w, status, err.Error())
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	ctx := r.Context()

	conversationID := req.ConversationID
	if s.deps.Store != nil {
		conversationID, err = s.deps.Store.CreateOrGetConversation(ctx, req.ConversationID, req.UserID, p.Name())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}

	history := s.buildHistory(ctx, conversationID, req)
	if s.deps.Store != nil && req.Prompt != "" {
		if err := s.deps.Store.SaveMessage(ctx, conversationID, provider.RoleUser, req.Prompt, nil); err != nil {
			slog.Error("persist user message failed", slog.Any("error", err))
		}
	}

	registry := s.buildRegistry(req)
	loop := agent.NewLoop(p, registry, s.deps.Store, s.metrics,
		agent.BuildSystemPrompt(s.cfg.Workspace),
		agent.Config{
			Model:         req.Model,
			MaxIterations: s.maxIterations(req),
			TextBudget:    s.cfg.TextBudget,
		})

	if s.metrics != nil {
		s.metrics.Requests.WithLabelValues(p.Name()).Inc()
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	sink := bus.New(64)
	go func() {
		defer sink.Close()
		if _, err := loop.Run(ctx, conversationID, history, sink); err != nil {
			slog.Error("conversation loop failed",
				slog.String("conversation", conversationID), slog.Any("error", err))
		}
	}()

	s.writeFrame(w, flusher, bus.Event{Type: bus.TypeConversationID, ConversationID: conversationID})
	for ev := range sink.Events() {
		select {
		case <-ctx.Done():
			// Client went away; the loop sees the same cancellation and
			// winds down. Nothing further may be written.
			slog.Info("client disconnected", slog.String("conversation", conversationID))
			for range sink.Events() {
				// drain so the loop goroutine can finish publishing
			}
			return
		default:
		}
		s.writeFrame(w, flusher, ev)
	}
}

// buildHistory seeds the outbound message list: prior persisted turns for
// a continued conversation, then the new user prompt or the caller's own
// message list.
func (s *Server) buildHistory(ctx context.Context, conversationID string, req ChatRequest) []provider.Message {
	var history []provider.Message

	if s.deps.Store != nil && req.ConversationID != "" {
		stored, err := s.deps.Store.Messages(ctx, conversationID)
		if err != nil {
			slog.Warn("load conversation history failed",
				slog.String("conversation", conversationID), slog.Any("error", err))
		}
		for _, m := range stored {
			if m.Role == provider.RoleUser || m.Role == provider.RoleAssistant {
				history = append(history, provider.Message{Role: m.Role, Content: m.Content})
			}
		}
	}

	if len(req.Messages) > 0 {
		history = append(history, req.Messages...)
	} else if req.Prompt != "" {
		history = append(history, provider.Message{Role: provider.RoleUser, Content: req.Prompt})
	}
	return history
}

func (s *Server) buildRegistry(req ChatRequest) *toolreg.Registry {
	if req.EnableLoop != nil && !*req.EnableLoop {
		// Loop disabled: plain completion with no tools on offer, so the
		// model answers in one turn.
		return toolreg.NewRegistry()
	}
	return tools.BuildRegistry(s.deps)
}

func (s *Server) maxIterations(req ChatRequest) int {
	if req.MaxIterations > 0 {
		return req.MaxIterations
	}
	return s.cfg.MaxIterations
}

func (s *Server) writeFrame(w http.ResponseWriter, flusher http.Flusher, ev bus.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		slog.Error("marshal SSE frame failed", slog.Any("error", err))
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", data)
	flusher.Flush()
}

// Package bus carries loop output events to the transport. It is the
// side-channel between one request's conversation loop and its SSE
// writer; it is never shared across requests.
package bus

import "sync"

// Event types streamed to the client.
const (
	TypeConversationID = "conversation_id"
	TypeText           = "text"
	TypeToolResult     = "tool_result"
	TypeToolError      = "tool_error"
	TypeIteration      = "iteration"
	TypeError          = "error"
	TypeDone           = "done"
)

// Event is one frame streamed to the client.
type Event struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id,omitempty"`
	Text           string `json:"text,omitempty"`
	Iteration      int    `json:"iteration,omitempty"`
	Tool           string `json:"tool,omitempty"`
	CallID         string `json:"call_id,omitempty"`
	Result         any    `json:"result,omitempty"`
	Error          string `json:"error,omitempty"`
	Reason         string `json:"reason,omitempty"`
}

// Stream is a bounded, close-once event channel. The loop owns the
// publishing side and must call Close only after every publisher has
// returned; the transport drains Events until it is closed.
type Stream struct {
	events chan Event
	closed chan struct{}
	once   sync.Once
}

// New creates a Stream with the given buffer size.
func New(buffer int) *Stream {
	return &Stream{
		events: make(chan Event, buffer),
		closed: make(chan struct{}),
	}
}

// Publish sends an event unless the stream is closed.
func (s *Stream) Publish(ev Event) {
	select {
	case <-s.closed:
		return
	default:
		select {
		case s.events <- ev:
		case <-s.closed:
		}
	}
}

// Events returns the receive side. It is drained by the transport writer
// until Close.
func (s *Stream) Events() <-chan Event { return s.events }

// Close shuts down the stream. Safe to call more than once.
func (s *Stream) Close() {
	s.once.Do(func() {
		close(s.closed)
		close(s.events)
	})
}

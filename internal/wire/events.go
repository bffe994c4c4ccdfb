// Package wire normalizes provider byte streams into a vendor-agnostic
// event sequence: text deltas and tool-call start/arg/end markers.
package wire

// EventType identifies a normalized stream event.
type EventType int

const (
	// TextDelta carries one fragment of assistant text.
	TextDelta EventType = iota
	// ToolCallStart announces a new tool-use block.
	ToolCallStart
	// ToolCallArgDelta carries one fragment of a tool call's JSON arguments.
	ToolCallArgDelta
	// ToolCallEnd closes a tool-use block. Index -1 closes every open call
	// (some vendors signal completion with a single finish reason rather
	// than per-block stop events).
	ToolCallEnd
)

// Event is a single normalized stream event.
type Event struct {
	Type     EventType
	Content  string // TextDelta
	Index    int    // tool call slot within the turn
	ID       string // ToolCallStart
	Name     string // ToolCallStart
	Fragment string // ToolCallArgDelta
}

// DecodeFunc maps one vendor JSON payload (a complete SSE data line or a
// bare JSON-lines object) to zero or more normalized events. Errors are
// advisory: the normalizer logs and skips the payload.
type DecodeFunc func(payload []byte, emit func(Event)) error

package wire

import (
	"encoding/json"
	"log/slog"
	"sort"
)

// Call is one fully accumulated tool call for a turn.
type Call struct {
	Index     int
	ID        string
	Name      string
	Arguments string         // raw accumulated JSON
	Args      map[string]any // parsed; empty map on parse failure
}

// CallBuilder accumulates tool calls from normalized events. A call is
// created on ToolCallStart, its argument buffer grows on each
// ToolCallArgDelta, and it is frozen and parsed on ToolCallEnd. Calls still
// open when the stream closes are finalized with whatever had accumulated.
type CallBuilder struct {
	calls map[int]*Call
	open  map[int]bool
	order []int
}

// NewCallBuilder creates an empty CallBuilder.
func NewCallBuilder() *CallBuilder {
	return &CallBuilder{calls: make(map[int]*Call), open: make(map[int]bool)}
}

// Handle consumes one normalized event. Non-tool events are ignored.
func (b *CallBuilder) Handle(ev Event) {
	switch ev.Type {
	case ToolCallStart:
		c, ok := b.calls[ev.Index]
		if !ok {
			c = &Call{Index: ev.Index}
			b.calls[ev.Index] = c
			b.open[ev.Index] = true
			b.order = append(b.order, ev.Index)
		}
		if ev.ID != "" {
			c.ID = ev.ID
		}
		if ev.Name != "" {
			c.Name = ev.Name
		}
	case ToolCallArgDelta:
		c, ok := b.calls[ev.Index]
		if !ok || !b.open[ev.Index] {
			return
		}
		// Some vendors emit an explicit "null" argument string; it must
		// reset the buffer, never be concatenated as text.
		if ev.Fragment == "null" {
			c.Arguments = "{}"
			return
		}
		c.Arguments += ev.Fragment
	case ToolCallEnd:
		if ev.Index < 0 {
			for idx := range b.open {
				b.finalize(idx)
			}
			return
		}
		b.finalize(ev.Index)
	}
}

// Finish finalizes any calls left open at stream close and returns all
// accumulated calls in arrival order.
func (b *CallBuilder) Finish() []Call {
	for idx := range b.open {
		b.finalize(idx)
	}
	sort.Ints(b.order)
	out := make([]Call, 0, len(b.order))
	for _, idx := range b.order {
		out = append(out, *b.calls[idx])
	}
	return out
}

func (b *CallBuilder) finalize(idx int) {
	c, ok := b.calls[idx]
	if !ok || !b.open[idx] {
		return
	}
	delete(b.open, idx)
	c.Args = parseArguments(c.Name, c.Arguments)
}

// parseArguments parses an accumulated argument buffer. A parse failure is
// logged and yields empty arguments; it never aborts the call.
func parseArguments(name, raw string) map[string]any {
	switch raw {
	case "", "{}", "null":
		return map[string]any{}
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		slog.Warn("tool call arguments did not parse, using empty object",
			slog.String("tool", name), slog.Any("error", err))
		return map[string]any{}
	}
	if args == nil {
		return map[string]any{}
	}
	return args
}

package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/conduitlabs/conduit/internal/bus"
	"github.com/conduitlabs/conduit/internal/provider"
	"github.com/conduitlabs/conduit/internal/toolreg"
	"github.com/conduitlabs/conduit/internal/trunc"
)

// Outcome pairs one tool call with its truncated result. Unknown marks a
// call whose name resolved to no registered tool.
type Outcome struct {
	Call    provider.ToolCall
	Result  *toolreg.Result
	Unknown bool
}

// executeCalls runs every call and returns one outcome per call in input
// order. It never short-circuits: a failing call occupies its slot as an
// error outcome while its siblings proceed. Calls run concurrently under
// their own timeout classes; each outcome is published to the sink as it
// resolves, so the client sees results progressively even though the
// authoritative order is restored before history is updated.
func (l *Loop) executeCalls(ctx context.Context, calls []provider.ToolCall, sink *bus.Stream) []Outcome {
	outcomes := make([]Outcome, len(calls))
	var wg sync.WaitGroup

	for i, call := range calls {
		outcomes[i].Call = call

		tool, ok := l.registry.Get(call.Name)
		if !ok {
			outcomes[i].Unknown = true
			outcomes[i].Result = toolreg.Errorf("Tool not found: %s", call.Name)
			l.publishOutcome(sink, outcomes[i])
			l.countToolRun(call.Name, false)
			continue
		}

		wg.Add(1)
		go func(slot int, t toolreg.Tool, call provider.ToolCall) {
			defer wg.Done()

			slog.Info("executing tool",
				slog.String("tool", call.Name),
				slog.String("call_id", call.ID))

			start := time.Now()
			res := toolreg.RunWithTimeout(ctx, t, call.Args)
			l.observeToolDuration(call.Name, time.Since(start))

			trunc.Apply(res, call.ID, l.cfg.TextBudget)
			outcomes[slot].Result = res
			l.countToolRun(call.Name, res.Success)
			l.publishOutcome(sink, outcomes[slot])
		}(i, tool, call)
	}

	wg.Wait()
	return outcomes
}

func (l *Loop) publishOutcome(sink *bus.Stream, out Outcome) {
	ev := bus.Event{
		Tool:   out.Call.Name,
		CallID: out.Call.ID,
	}
	if out.Result.Success {
		ev.Type = bus.TypeToolResult
		ev.Result = out.Result
	} else {
		ev.Type = bus.TypeToolError
		ev.Error = out.Result.Error
	}
	sink.Publish(ev)
}

func (l *Loop) countToolRun(name string, success bool) {
	if l.metrics == nil {
		return
	}
	outcome := "error"
	if success {
		outcome = "ok"
	}
	l.metrics.ToolRuns.WithLabelValues(name, outcome).Inc()
}

func (l *Loop) observeToolDuration(name string, d time.Duration) {
	if l.metrics == nil {
		return
	}
	l.metrics.ToolDuration.WithLabelValues(name).Observe(d.Seconds())
}

// formatOutcomes renders per-call-labeled outcomes into the single tool
// message appended to history, plus the structured per-call results the
// adapters project into their wire formats.
func formatOutcomes(outcomes []Outcome) (string, []provider.CallResult) {
	var b []byte
	results := make([]provider.CallResult, 0, len(outcomes))
	for i, out := range outcomes {
		content := renderResult(out.Result)
		if i > 0 {
			b = append(b, '\n')
		}
		b = append(b, fmt.Sprintf("[%s] %s", out.Call.Name, content)...)
		results = append(results, provider.CallResult{
			ID:      out.Call.ID,
			Name:    out.Call.Name,
			Content: content,
		})
	}
	return string(b), results
}

// renderResult serializes one result as plain text for conversation
// history: providers replay conversational content, not object graphs.
func renderResult(res *toolreg.Result) string {
	if res == nil {
		return "Error: tool returned no result"
	}
	if !res.Success {
		return "Error: " + res.Error
	}
	body, err := json.Marshal(res.Data)
	if err != nil {
		return fmt.Sprintf("%v", res.Data)
	}
	text := string(body)
	if res.Truncated && res.ContextSummary != "" {
		text += "\n(" + res.ContextSummary + ")"
	}
	return text
}

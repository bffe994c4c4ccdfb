// Package agent drives the tool-calling conversation loop: it opens
// provider streams, normalizes them into events, executes tool calls,
// and appends results back into history until the model stops asking for
// tools or a bound is hit.
package agent

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/conduitlabs/conduit/internal/bus"
	"github.com/conduitlabs/conduit/internal/metrics"
	"github.com/conduitlabs/conduit/internal/provider"
	"github.com/conduitlabs/conduit/internal/toolreg"
	"github.com/conduitlabs/conduit/internal/wire"
)

// Reason records why a loop terminated.
type Reason string

const (
	// ReasonNoTools is the ordinary successful exit: the model answered
	// in plain text without requesting tools.
	ReasonNoTools Reason = "model-no-tools"
	// ReasonComplete means the turn carried a terminal tool call
	// (completion or approval hand-off). It is also reported when a turn
	// ran only tools that produce no new information, where the loop
	// stops on the model's behalf.
	ReasonComplete Reason = "explicit-complete"
	// ReasonMaxIterations means the iteration cap was hit. Not an error.
	// The repeated-failure breaker reports this reason too; the warn log
	// carries the distinction.
	ReasonMaxIterations Reason = "max-iterations"
	// ReasonStreamError means the provider stream could not be opened.
	ReasonStreamError Reason = "stream-error"
)

// maxRepeatFails bounds identical tool failures before the loop stops
// iterating on them.
const maxRepeatFails = 2

type failKey struct{ tool, err string }

// Policy holds the tool-set membership driving the continue/stop
// decision. Membership is configuration, never derived from prompt text.
type Policy struct {
	Analysis map[string]bool // tools that produce information worth another turn
	Terminal map[string]bool // tools that end the loop
	Continue map[string]bool // tools that force another turn
}

// PolicyFromRegistry derives the default policy from each registered
// tool's kind. Callers can override individual sets from configuration.
func PolicyFromRegistry(reg *toolreg.Registry) Policy {
	p := Policy{
		Analysis: make(map[string]bool),
		Terminal: make(map[string]bool),
		Continue: make(map[string]bool),
	}
	for _, name := range reg.NamesByKind(toolreg.KindAnalysis) {
		p.Analysis[name] = true
	}
	for _, name := range reg.NamesByKind(toolreg.KindTerminal) {
		p.Terminal[name] = true
	}
	for _, name := range reg.NamesByKind(toolreg.KindControl) {
		p.Continue[name] = true
	}
	return p
}

// Saver is the conversation persistence collaborator. The loop calls
// SaveMessage exactly once per request, on the final answer.
type Saver interface {
	SaveMessage(ctx context.Context, conversationID, role, content string, toolCalls any) error
}

// Config bounds one loop run.
type Config struct {
	Model         string
	MaxIterations int // default 10
	TextBudget    int // truncation character budget, 0 = default
	Policy        Policy
}

// Loop orchestrates the conversation for one request.
type Loop struct {
	provider     provider.Provider
	registry     *toolreg.Registry
	saver        Saver
	metrics      *metrics.Metrics
	systemPrompt string
	cfg          Config
}

// NewLoop creates a loop. saver and m may be nil.
func NewLoop(p provider.Provider, reg *toolreg.Registry, saver Saver, m *metrics.Metrics, systemPrompt string, cfg Config) *Loop {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = 10
	}
	if cfg.Policy.Analysis == nil && cfg.Policy.Terminal == nil && cfg.Policy.Continue == nil {
		cfg.Policy = PolicyFromRegistry(reg)
	}
	return &Loop{
		provider:     p,
		registry:     reg,
		saver:        saver,
		metrics:      m,
		systemPrompt: systemPrompt,
		cfg:          cfg,
	}
}

// RunResult is the loop's terminal state.
type RunResult struct {
	FullText   string
	Iterations int
	Reason     Reason
	ToolCalls  []provider.ToolCall // complete record across all iterations
}

// Run drives the loop until termination, publishing output events to
// sink. history is exclusively owned by this run. The returned error is
// non-nil only for stream-open failures; everything else is absorbed into
// per-call outcomes.
func (l *Loop) Run(ctx context.Context, conversationID string, history []provider.Message, sink *bus.Stream) (*RunResult, error) {
	result := &RunResult{}
	failCounts := make(map[failKey]int)
	var texts []string

	defer func() {
		result.FullText = strings.Join(texts, "\n\n")
		l.finish(ctx, conversationID, result, sink)
	}()

	for iteration := 1; iteration <= l.cfg.MaxIterations; iteration++ {
		result.Iterations = iteration
		sink.Publish(bus.Event{Type: bus.TypeIteration, Iteration: iteration})

		if err := ctx.Err(); err != nil {
			result.Reason = ReasonStreamError
			return result, err
		}

		stream, err := l.provider.Open(ctx, provider.Request{
			Messages: history,
			System:   l.systemPrompt,
			Model:    l.cfg.Model,
			Tools:    l.registry.Definitions(),
		})
		if err != nil {
			// Total stream-open failure is the one fatal case; whatever
			// text earlier iterations produced is still persisted.
			result.Reason = ReasonStreamError
			if l.metrics != nil {
				l.metrics.StreamErrors.Inc()
			}
			sink.Publish(bus.Event{Type: bus.TypeError, Error: err.Error()})
			return result, fmt.Errorf("open provider stream (iteration %d): %w", iteration, err)
		}

		iterText, calls := l.driveStream(ctx, stream, sink, iteration)
		if iterText != "" {
			texts = append(texts, iterText)
		}

		// Zero valid tool calls is the ordinary exit: the model chose to
		// answer in plain text.
		if len(calls) == 0 {
			result.Reason = ReasonNoTools
			return result, nil
		}
		result.ToolCalls = append(result.ToolCalls, calls...)

		outcomes := l.executeCalls(ctx, calls, sink)

		content, callResults := formatOutcomes(outcomes)
		history = append(history,
			provider.Message{Role: provider.RoleAssistant, Content: iterText, ToolCalls: calls},
			provider.Message{Role: provider.RoleTool, Content: content, Results: callResults},
		)

		if stop := l.bumpFailCounts(outcomes, failCounts); stop {
			slog.Warn("stopping early: repeated identical tool failure",
				slog.Int("iteration", iteration))
			result.Reason = ReasonMaxIterations
			return result, nil
		}

		switch l.decide(outcomes, iteration) {
		case decisionStop:
			result.Reason = ReasonComplete
			return result, nil
		case decisionExhausted:
			result.Reason = ReasonMaxIterations
			return result, nil
		}
	}

	result.Reason = ReasonMaxIterations
	return result, nil
}

type decision int

const (
	decisionContinue decision = iota
	decisionStop
	decisionExhausted
)

// decide applies the continuation policy for one turn: an explicit
// terminal call stops, an explicit continue call continues, and otherwise
// another turn is taken only while under the cap with at least one
// analysis tool executed — tools that produce no new information are not
// worth iterating on. A call to an unregistered name also earns another
// turn: the not-found error must reach the model so it can correct
// itself, bounded by the cap and the repeated-failure breaker.
func (l *Loop) decide(outcomes []Outcome, iteration int) decision {
	var sawContinue, sawTerminal, sawAnalysis, sawUnknown bool
	for _, out := range outcomes {
		name := out.Call.Name
		switch {
		case out.Unknown:
			sawUnknown = true
		case l.cfg.Policy.Terminal[name]:
			sawTerminal = true
		case l.cfg.Policy.Continue[name]:
			sawContinue = true
		case l.cfg.Policy.Analysis[name]:
			sawAnalysis = true
		}
	}

	// Explicit signals override the default heuristic.
	if sawTerminal {
		return decisionStop
	}
	if iteration >= l.cfg.MaxIterations {
		return decisionExhausted
	}
	if sawContinue {
		return decisionContinue
	}
	if sawAnalysis || sawUnknown {
		return decisionContinue
	}
	return decisionStop
}

// driveStream reads the provider byte stream through the normalizer,
// forwarding text deltas to the sink as they arrive and accumulating tool
// calls. Calls still open at stream close are finalized with whatever
// argument buffer had accumulated.
func (l *Loop) driveStream(ctx context.Context, stream *provider.Stream, sink *bus.Stream, iteration int) (string, []provider.ToolCall) {
	defer stream.Close()

	var text strings.Builder
	builder := wire.NewCallBuilder()
	norm := wire.NewNormalizer(stream.Decode, func(ev wire.Event) {
		if ev.Type == wire.TextDelta {
			text.WriteString(ev.Content)
			sink.Publish(bus.Event{Type: bus.TypeText, Text: ev.Content, Iteration: iteration})
			return
		}
		builder.Handle(ev)
	})

	buf := make([]byte, 4096)
	for {
		if ctx.Err() != nil {
			break
		}
		n, err := stream.Body.Read(buf)
		if n > 0 {
			norm.Feed(buf[:n])
		}
		if err != nil {
			if err != io.EOF {
				slog.Warn("provider stream read ended", slog.Any("error", err))
			}
			break
		}
	}
	norm.Close()

	var calls []provider.ToolCall
	for i, c := range builder.Finish() {
		if c.Name == "" {
			continue
		}
		id := c.ID
		if id == "" {
			id = fmt.Sprintf("call_%d_%d", iteration, i)
		}
		calls = append(calls, provider.ToolCall{
			ID:        id,
			Name:      c.Name,
			Arguments: c.Arguments,
			Args:      c.Args,
		})
	}
	return text.String(), calls
}

// bumpFailCounts tracks repeated identical tool failures; two identical
// failures in a row for the same tool are a strong infinite-loop signal.
func (l *Loop) bumpFailCounts(outcomes []Outcome, counts map[failKey]int) bool {
	stop := false
	for _, out := range outcomes {
		if out.Result == nil || out.Result.Success {
			continue
		}
		k := failKey{tool: out.Call.Name, err: out.Result.Error}
		counts[k]++
		if counts[k] > maxRepeatFails {
			stop = true
		}
	}
	return stop
}

// finish emits the terminal done event and persists the final answer
// exactly once.
func (l *Loop) finish(ctx context.Context, conversationID string, result *RunResult, sink *bus.Stream) {
	if l.metrics != nil {
		l.metrics.Iterations.Observe(float64(result.Iterations))
		l.metrics.Terminations.WithLabelValues(string(result.Reason)).Inc()
	}
	sink.Publish(bus.Event{Type: bus.TypeDone, Reason: string(result.Reason)})

	if l.saver == nil || conversationID == "" {
		return
	}
	var record any
	if len(result.ToolCalls) > 0 {
		record = result.ToolCalls
	}
	// Persistence must survive client disconnects; detach from the
	// request context.
	if err := l.saver.SaveMessage(context.WithoutCancel(ctx), conversationID,
		provider.RoleAssistant, result.FullText, record); err != nil {
		slog.Error("persist final answer failed",
			slog.String("conversation", conversationID), slog.Any("error", err))
	}
}

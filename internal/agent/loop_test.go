package agent

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/conduitlabs/conduit/internal/bus"
	"github.com/conduitlabs/conduit/internal/provider"
	"github.com/conduitlabs/conduit/internal/toolreg"
	"github.com/conduitlabs/conduit/internal/wire"
)

// ---- scripted provider ----

// testDecode understands the compact event payloads scripted streams use:
//
//	{"text":"..."}                             text delta
//	{"start":N,"id":"...","name":"..."}        tool call start
//	{"arg":N,"fragment":"..."}                 argument fragment
//	{"end":N}                                  tool call end (-1 closes all)
func testDecode(payload []byte, emit func(wire.Event)) error {
	var body struct {
		Text     string `json:"text"`
		Start    *int   `json:"start"`
		ID       string `json:"id"`
		Name     string `json:"name"`
		Arg      *int   `json:"arg"`
		Fragment string `json:"fragment"`
		End      *int   `json:"end"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return err
	}
	switch {
	case body.Text != "":
		emit(wire.Event{Type: wire.TextDelta, Content: body.Text})
	case body.Start != nil:
		emit(wire.Event{Type: wire.ToolCallStart, Index: *body.Start, ID: body.ID, Name: body.Name})
	case body.Arg != nil:
		emit(wire.Event{Type: wire.ToolCallArgDelta, Index: *body.Arg, Fragment: body.Fragment})
	case body.End != nil:
		emit(wire.Event{Type: wire.ToolCallEnd, Index: *body.End})
	}
	return nil
}

// streamScript is the raw body of one scripted model turn.
type streamScript struct {
	body string
	err  error // returned from Open instead of a stream
}

// scriptedProvider returns queued streams in order and records each
// request's history for assertions.
type scriptedProvider struct {
	scripts  []streamScript
	requests []provider.Request
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Open(_ context.Context, req provider.Request) (*provider.Stream, error) {
	p.requests = append(p.requests, req)
	if len(p.requests) > len(p.scripts) {
		return nil, errors.New("scriptedProvider: no more streams queued")
	}
	s := p.scripts[len(p.requests)-1]
	if s.err != nil {
		return nil, s.err
	}
	return &provider.Stream{
		Body:   io.NopCloser(strings.NewReader(s.body)),
		Decode: testDecode,
	}, nil
}

// textTurn scripts a plain-text answer with no tool calls.
func textTurn(text string) streamScript {
	return streamScript{body: `data: {"text":` + mustJSON(text) + "}\n"}
}

// callTurn scripts a turn issuing the given calls, arguments sent whole.
func callTurn(text string, calls ...[3]string) streamScript {
	var b strings.Builder
	if text != "" {
		b.WriteString(`data: {"text":` + mustJSON(text) + "}\n")
	}
	for i, c := range calls {
		b.WriteString(`data: {"start":` + itoa(i) + `,"id":` + mustJSON(c[0]) + `,"name":` + mustJSON(c[1]) + "}\n")
		if c[2] != "" {
			b.WriteString(`data: {"arg":` + itoa(i) + `,"fragment":` + mustJSON(c[2]) + "}\n")
		}
	}
	b.WriteString(`data: {"end":-1}` + "\n")
	return streamScript{body: b.String()}
}

func mustJSON(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

func itoa(i int) string {
	b, _ := json.Marshal(i)
	return string(b)
}

// ---- scripted tools ----

type scriptedTool struct {
	name    string
	kind    toolreg.Kind
	mu      sync.Mutex
	calls   []map[string]any
	results []*toolreg.Result
}

func (t *scriptedTool) Name() string               { return t.name }
func (t *scriptedTool) Description() string        { return "scripted " + t.name }
func (t *scriptedTool) Parameters() map[string]any { return map[string]any{"type": "object"} }
func (t *scriptedTool) Kind() toolreg.Kind         { return t.kind }
func (t *scriptedTool) Timeout() time.Duration     { return time.Second }

func (t *scriptedTool) Execute(_ context.Context, args map[string]any) (*toolreg.Result, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.calls = append(t.calls, args)
	if len(t.results) == 0 {
		return &toolreg.Result{Success: true, Data: "ok"}, nil
	}
	res := t.results[0]
	if len(t.results) > 1 {
		t.results = t.results[1:]
	}
	return res, nil
}

func (t *scriptedTool) callCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.calls)
}

// ---- recording saver ----

type recordingSaver struct {
	mu    sync.Mutex
	saves []string // content per SaveMessage call
}

func (s *recordingSaver) SaveMessage(_ context.Context, _, _, content string, _ any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves = append(s.saves, content)
	return nil
}

// ---- helpers ----

func registryWith(tools ...toolreg.Tool) *toolreg.Registry {
	r := toolreg.NewRegistry()
	for _, t := range tools {
		r.Register(t)
	}
	return r
}

// runLoop drives a loop to completion and returns its result plus every
// published event in order.
func runLoop(t *testing.T, l *Loop, history []provider.Message) (*RunResult, []bus.Event, error) {
	t.Helper()
	sink := bus.New(256)
	res, err := l.Run(context.Background(), "conv-1", history, sink)
	sink.Close()

	var events []bus.Event
	for ev := range sink.Events() {
		events = append(events, ev)
	}
	return res, events, err
}

func eventsOfType(events []bus.Event, typ string) []bus.Event {
	var out []bus.Event
	for _, ev := range events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

func userTurn(text string) []provider.Message {
	return []provider.Message{{Role: provider.RoleUser, Content: text}}
}

// ---- tests ----

func TestLoopPlainTextAnswer(t *testing.T) {
	p := &scriptedProvider{scripts: []streamScript{textTurn("The answer is 4.")}}
	saver := &recordingSaver{}
	l := NewLoop(p, toolreg.NewRegistry(), saver, nil, "system", Config{})

	res, events, err := runLoop(t, l, userTurn("what is 2+2"))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Reason != ReasonNoTools {
		t.Errorf("reason = %q", res.Reason)
	}
	if res.Iterations != 1 {
		t.Errorf("iterations = %d", res.Iterations)
	}
	if res.FullText != "The answer is 4." {
		t.Errorf("text = %q", res.FullText)
	}

	if got := eventsOfType(events, bus.TypeDone); len(got) != 1 || got[0].Reason != string(ReasonNoTools) {
		t.Errorf("done events = %+v", got)
	}
	if len(saver.saves) != 1 || saver.saves[0] != "The answer is 4." {
		t.Errorf("saves = %v", saver.saves)
	}
}

func TestLoopSingleToolRoundTrip(t *testing.T) {
	tool := &scriptedTool{name: "run_query", kind: toolreg.KindAnalysis}
	tool.results = []*toolreg.Result{{Success: true, Data: []toolreg.Row{{"total": 42}}}}

	p := &scriptedProvider{scripts: []streamScript{
		callTurn("Checking.", [3]string{"c1", "run_query", `{"query":"select count(*) from t"}`}),
		textTurn("There are 42 rows."),
	}}
	l := NewLoop(p, registryWith(tool), nil, nil, "system", Config{})

	res, events, err := runLoop(t, l, userTurn("how many rows"))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Reason != ReasonNoTools || res.Iterations != 2 {
		t.Errorf("reason/iterations = %q/%d", res.Reason, res.Iterations)
	}
	if tool.callCount() != 1 {
		t.Fatalf("tool ran %d times", tool.callCount())
	}
	if tool.calls[0]["query"] != "select count(*) from t" {
		t.Errorf("args = %v", tool.calls[0])
	}
	if res.FullText != "Checking.\n\nThere are 42 rows." {
		t.Errorf("text = %q", res.FullText)
	}

	// Second request must replay the assistant's calls and one tool
	// message carrying the per-call results.
	second := p.requests[1].Messages
	if len(second) != 3 {
		t.Fatalf("second request history = %d messages", len(second))
	}
	assistant, toolMsg := second[1], second[2]
	if assistant.Role != provider.RoleAssistant || len(assistant.ToolCalls) != 1 {
		t.Errorf("assistant turn = %+v", assistant)
	}
	if toolMsg.Role != provider.RoleTool || len(toolMsg.Results) != 1 {
		t.Errorf("tool turn = %+v", toolMsg)
	}
	if toolMsg.Results[0].ID != "c1" || !strings.Contains(toolMsg.Results[0].Content, "42") {
		t.Errorf("result = %+v", toolMsg.Results[0])
	}
	if !strings.HasPrefix(toolMsg.Content, "[run_query]") {
		t.Errorf("tool message content = %q", toolMsg.Content)
	}

	if got := eventsOfType(events, bus.TypeToolResult); len(got) != 1 || got[0].Tool != "run_query" {
		t.Errorf("tool_result events = %+v", got)
	}
}

// Five parallel calls with one failing slot must produce five outcomes in
// order and keep the loop going.
func TestLoopParallelCallsPartialFailure(t *testing.T) {
	good := &scriptedTool{name: "lookup", kind: toolreg.KindAnalysis}
	bad := &scriptedTool{name: "flaky", kind: toolreg.KindAnalysis}
	bad.results = []*toolreg.Result{{Success: false, Error: "backend down"}}

	p := &scriptedProvider{scripts: []streamScript{
		callTurn("",
			[3]string{"c0", "lookup", "{}"},
			[3]string{"c1", "lookup", "{}"},
			[3]string{"c2", "flaky", "{}"},
			[3]string{"c3", "lookup", "{}"},
			[3]string{"c4", "lookup", "{}"},
		),
		textTurn("done"),
	}}
	l := NewLoop(p, registryWith(good, bad), nil, nil, "", Config{})

	res, events, err := runLoop(t, l, userTurn("go"))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.ToolCalls) != 5 {
		t.Fatalf("recorded calls = %d", len(res.ToolCalls))
	}

	toolMsg := p.requests[1].Messages[2]
	if len(toolMsg.Results) != 5 {
		t.Fatalf("results = %d", len(toolMsg.Results))
	}
	for i, want := range []string{"c0", "c1", "c2", "c3", "c4"} {
		if toolMsg.Results[i].ID != want {
			t.Errorf("slot %d id = %q, want %q", i, toolMsg.Results[i].ID, want)
		}
	}
	if !strings.Contains(toolMsg.Results[2].Content, "Error: backend down") {
		t.Errorf("failed slot content = %q", toolMsg.Results[2].Content)
	}

	if got := eventsOfType(events, bus.TypeToolError); len(got) != 1 || got[0].Error != "backend down" {
		t.Errorf("tool_error events = %+v", got)
	}
	if got := eventsOfType(events, bus.TypeToolResult); len(got) != 4 {
		t.Errorf("tool_result events = %d", len(got))
	}
}

func TestLoopUnknownToolBecomesErrorOutcome(t *testing.T) {
	p := &scriptedProvider{scripts: []streamScript{
		callTurn("", [3]string{"c1", "ghost", "{}"}),
		textTurn("ok"),
	}}
	l := NewLoop(p, toolreg.NewRegistry(), nil, nil, "", Config{})

	res, events, err := runLoop(t, l, userTurn("go"))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	got := eventsOfType(events, bus.TypeToolError)
	if len(got) != 1 || !strings.Contains(got[0].Error, "Tool not found") {
		t.Errorf("events = %+v", got)
	}

	// The not-found error earns a second turn so the model can correct
	// itself, and the loop only stops once that turn comes back clean.
	if res.Iterations != 2 || res.Reason != ReasonNoTools {
		t.Errorf("iterations = %d, reason = %q", res.Iterations, res.Reason)
	}
	toolMsg := p.requests[1].Messages[2]
	if !strings.Contains(toolMsg.Content, "Tool not found: ghost") {
		t.Errorf("tool message = %q", toolMsg.Content)
	}
}

func TestLoopTerminalToolStops(t *testing.T) {
	complete := &scriptedTool{name: "complete", kind: toolreg.KindTerminal}
	query := &scriptedTool{name: "run_query", kind: toolreg.KindAnalysis}

	p := &scriptedProvider{scripts: []streamScript{
		callTurn("wrapping up",
			[3]string{"c1", "run_query", "{}"},
			[3]string{"c2", "complete", "{}"},
		),
	}}
	l := NewLoop(p, registryWith(query, complete), nil, nil, "", Config{})

	res, _, err := runLoop(t, l, userTurn("go"))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	// The terminal call wins even though an analysis tool also ran.
	if res.Reason != ReasonComplete {
		t.Errorf("reason = %q", res.Reason)
	}
	if res.Iterations != 1 {
		t.Errorf("iterations = %d", res.Iterations)
	}
	if len(p.requests) != 1 {
		t.Errorf("provider opened %d times", len(p.requests))
	}
}

func TestLoopIterationCap(t *testing.T) {
	tool := &scriptedTool{name: "dig", kind: toolreg.KindAnalysis}
	p := &scriptedProvider{scripts: []streamScript{
		callTurn("", [3]string{"c1", "dig", "{}"}),
		callTurn("", [3]string{"c2", "dig", "{}"}),
		callTurn("", [3]string{"c3", "dig", "{}"}),
		callTurn("", [3]string{"c4", "dig", "{}"}), // never reached
	}}
	l := NewLoop(p, registryWith(tool), nil, nil, "", Config{MaxIterations: 3})

	res, events, err := runLoop(t, l, userTurn("go"))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Reason != ReasonMaxIterations {
		t.Errorf("reason = %q", res.Reason)
	}
	if res.Iterations != 3 || len(p.requests) != 3 {
		t.Errorf("iterations = %d, opens = %d", res.Iterations, len(p.requests))
	}
	if got := eventsOfType(events, bus.TypeIteration); len(got) != 3 {
		t.Errorf("iteration events = %d", len(got))
	}
}

func TestLoopNonAnalysisToolsStop(t *testing.T) {
	// A turn that only produced a non-analysis, non-terminal outcome has
	// no new information to iterate on.
	opaque := &scriptedTool{name: "noop", kind: toolreg.KindAnalysis}
	p := &scriptedProvider{scripts: []streamScript{
		callTurn("", [3]string{"c1", "noop", "{}"}),
	}}
	l := NewLoop(p, registryWith(opaque), nil, nil, "", Config{
		Policy: Policy{Analysis: map[string]bool{}, Terminal: map[string]bool{}, Continue: map[string]bool{}},
	})

	res, _, err := runLoop(t, l, userTurn("go"))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Reason != ReasonComplete || res.Iterations != 1 {
		t.Errorf("reason/iterations = %q/%d", res.Reason, res.Iterations)
	}
}

func TestLoopRepeatedIdenticalFailureStopsEarly(t *testing.T) {
	tool := &scriptedTool{name: "broken", kind: toolreg.KindAnalysis}
	tool.results = []*toolreg.Result{{Success: false, Error: "no such table: orders"}}

	p := &scriptedProvider{scripts: []streamScript{
		callTurn("", [3]string{"c1", "broken", "{}"}),
		callTurn("", [3]string{"c2", "broken", "{}"}),
		callTurn("", [3]string{"c3", "broken", "{}"}),
		callTurn("", [3]string{"c4", "broken", "{}"}),
	}}
	l := NewLoop(p, registryWith(tool), nil, nil, "", Config{MaxIterations: 10})

	res, _, err := runLoop(t, l, userTurn("go"))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Reason != ReasonMaxIterations {
		t.Errorf("reason = %q", res.Reason)
	}
	if res.Iterations >= 10 {
		t.Errorf("breaker did not stop early, iterations = %d", res.Iterations)
	}
}

func TestLoopStreamOpenFailure(t *testing.T) {
	p := &scriptedProvider{scripts: []streamScript{
		{err: &provider.ProviderError{StatusCode: 500, Message: "boom"}},
	}}
	saver := &recordingSaver{}
	l := NewLoop(p, toolreg.NewRegistry(), saver, nil, "", Config{})

	res, events, err := runLoop(t, l, userTurn("go"))
	if err == nil {
		t.Fatal("expected error")
	}
	if res.Reason != ReasonStreamError {
		t.Errorf("reason = %q", res.Reason)
	}
	if got := eventsOfType(events, bus.TypeError); len(got) != 1 {
		t.Errorf("error events = %+v", got)
	}
	// done still fires, and the (empty) answer is still persisted.
	if got := eventsOfType(events, bus.TypeDone); len(got) != 1 || got[0].Reason != string(ReasonStreamError) {
		t.Errorf("done events = %+v", got)
	}
	if len(saver.saves) != 1 {
		t.Errorf("saves = %d", len(saver.saves))
	}
}

func TestLoopSavesExactlyOnce(t *testing.T) {
	tool := &scriptedTool{name: "dig", kind: toolreg.KindAnalysis}
	p := &scriptedProvider{scripts: []streamScript{
		callTurn("first", [3]string{"c1", "dig", "{}"}),
		callTurn("second", [3]string{"c2", "dig", "{}"}),
		textTurn("final"),
	}}
	saver := &recordingSaver{}
	l := NewLoop(p, registryWith(tool), saver, nil, "", Config{})

	res, _, err := runLoop(t, l, userTurn("go"))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(saver.saves) != 1 {
		t.Fatalf("SaveMessage called %d times", len(saver.saves))
	}
	if saver.saves[0] != "first\n\nsecond\n\nfinal" {
		t.Errorf("saved = %q", saver.saves[0])
	}
	if res.FullText != saver.saves[0] {
		t.Errorf("FullText = %q", res.FullText)
	}
}

func TestLoopFallbackCallIDWhenProviderOmitsIt(t *testing.T) {
	tool := &scriptedTool{name: "dig", kind: toolreg.KindAnalysis}
	p := &scriptedProvider{scripts: []streamScript{
		callTurn("", [3]string{"", "dig", "{}"}),
		textTurn("ok"),
	}}
	l := NewLoop(p, registryWith(tool), nil, nil, "", Config{})

	res, _, err := runLoop(t, l, userTurn("go"))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.ToolCalls) != 1 || res.ToolCalls[0].ID == "" {
		t.Errorf("calls = %+v", res.ToolCalls)
	}
}

func TestPolicyFromRegistry(t *testing.T) {
	reg := registryWith(
		&scriptedTool{name: "run_query", kind: toolreg.KindAnalysis},
		&scriptedTool{name: "continue_analysis", kind: toolreg.KindControl},
		&scriptedTool{name: "complete", kind: toolreg.KindTerminal},
	)
	p := PolicyFromRegistry(reg)
	if !p.Analysis["run_query"] || !p.Continue["continue_analysis"] || !p.Terminal["complete"] {
		t.Errorf("policy = %+v", p)
	}
}

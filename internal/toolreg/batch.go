package toolreg

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// BatchToolName is the composite tool's registered name.
const BatchToolName = "batch"

// BatchInvocation is one entry in a batch request.
type BatchInvocation struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// BatchEntry is one entry in a batch result, in input order.
type BatchEntry struct {
	Name   string  `json:"name"`
	Result *Result `json:"result"`
}

// BatchReport aggregates a batch execution.
type BatchReport struct {
	Total      int          `json:"total"`
	Successful int          `json:"successful"`
	Results    []BatchEntry `json:"results"`
}

// batchTool fans out an ordered list of invocations concurrently against
// the registry it was built from. Sub-invocations run genuinely in
// parallel and are joined under the batch deadline; each keeps its own
// tool-class timeout. One failing or timed-out invocation never fails the
// batch — its slot carries the error.
type batchTool struct {
	reg *Registry
}

// NewBatchTool creates the batch composite tool over reg.
func NewBatchTool(reg *Registry) Tool {
	return &batchTool{reg: reg}
}

func (b *batchTool) Name() string { return BatchToolName }

func (b *batchTool) Description() string {
	return "Run several tools in one call. Takes an ordered list of {name, arguments} invocations, executes them concurrently, and returns their results in input order with total/successful counts."
}

func (b *batchTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"invocations": map[string]any{
				"type":        "array",
				"description": "Tool invocations to run concurrently",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"name":      map[string]any{"type": "string", "description": "Registered tool name"},
						"arguments": map[string]any{"type": "object", "description": "Arguments for the tool"},
					},
					"required": []string{"name"},
				},
			},
		},
		"required": []string{"invocations"},
	}
}

func (b *batchTool) Kind() Kind { return KindAnalysis }

func (b *batchTool) Timeout() time.Duration { return BatchTimeout }

func (b *batchTool) Execute(ctx context.Context, args map[string]any) (*Result, error) {
	invocations, err := parseInvocations(args)
	if err != nil {
		return Errorf("%v", err), nil
	}
	if len(invocations) == 0 {
		return Errorf("batch requires at least one invocation"), nil
	}

	ctx, cancel := context.WithTimeout(ctx, BatchTimeout)
	defer cancel()

	entries := make([]BatchEntry, len(invocations))
	var wg sync.WaitGroup
	for i, inv := range invocations {
		entries[i].Name = inv.Name

		// Recursive batches are rejected for this slot only.
		if inv.Name == BatchToolName {
			entries[i].Result = Errorf("nested batch invocations are not allowed")
			continue
		}
		tool, ok := b.reg.Get(inv.Name)
		if !ok {
			entries[i].Result = Errorf("Tool not found: %s", inv.Name)
			continue
		}

		wg.Add(1)
		go func(slot int, t Tool, a map[string]any) {
			defer wg.Done()
			entries[slot].Result = RunWithTimeout(ctx, t, a)
		}(i, tool, inv.Arguments)
	}
	wg.Wait()

	report := BatchReport{Total: len(entries), Results: entries}
	for _, e := range entries {
		if e.Result != nil && e.Result.Success {
			report.Successful++
		}
	}
	if report.Successful == 0 {
		return &Result{Success: false, Data: report, Error: "every batch invocation failed"}, nil
	}
	return &Result{Success: true, Data: report}, nil
}

// RunWithTimeout invokes one tool under its own timeout class, converting
// panics, errors, and deadline hits into failed results.
func RunWithTimeout(ctx context.Context, t Tool, args map[string]any) *Result {
	timeout := t.Timeout()
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if args == nil {
		args = map[string]any{}
	}

	type outcome struct {
		res *Result
		err error
	}
	ch := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- outcome{err: fmt.Errorf("tool panicked: %v", r)}
			}
		}()
		res, err := t.Execute(ctx, args)
		ch <- outcome{res: res, err: err}
	}()

	select {
	case out := <-ch:
		if out.err != nil {
			return Errorf("%v", out.err)
		}
		if out.res == nil {
			return Errorf("tool returned no result")
		}
		return out.res
	case <-ctx.Done():
		return Errorf("timed out after %dms", timeout.Milliseconds())
	}
}

func parseInvocations(args map[string]any) ([]BatchInvocation, error) {
	raw, ok := args["invocations"]
	if !ok {
		return nil, fmt.Errorf("missing required argument: invocations")
	}
	list, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("invocations must be an array")
	}
	out := make([]BatchInvocation, 0, len(list))
	for i, item := range list {
		entry, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("invocation %d is not an object", i)
		}
		name, _ := entry["name"].(string)
		if name == "" {
			return nil, fmt.Errorf("invocation %d has no tool name", i)
		}
		inv := BatchInvocation{Name: name}
		if a, ok := entry["arguments"].(map[string]any); ok {
			inv.Arguments = a
		}
		out = append(out, inv)
	}
	return out, nil
}

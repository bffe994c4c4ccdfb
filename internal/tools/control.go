package tools

import (
	"context"
	"time"

	"github.com/conduitlabs/conduit/internal/approvals"
	"github.com/conduitlabs/conduit/internal/toolreg"
)

// Control and terminal tools carry no payload of their own; the loop's
// continuation policy reads their presence in a turn.

type continueTool struct{}

func (t *continueTool) Name() string { return "continue_analysis" }

func (t *continueTool) Description() string {
	return "Signal that you need another turn to keep working. Call this alongside other tools when the current results are not enough to answer."
}

func (t *continueTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"reason": map[string]any{
				"type":        "string",
				"description": "Why another turn is needed",
			},
		},
	}
}

func (t *continueTool) Kind() toolreg.Kind { return toolreg.KindControl }

func (t *continueTool) Timeout() time.Duration { return toolreg.DefaultTimeout }

func (t *continueTool) Execute(_ context.Context, args map[string]any) (*toolreg.Result, error) {
	return &toolreg.Result{Success: true, Data: "continuing: " + getString(args, "reason")}, nil
}

type completeTool struct{}

func (t *completeTool) Name() string { return "complete" }

func (t *completeTool) Description() string {
	return "Signal that the task is finished and no further turns are needed."
}

func (t *completeTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"summary": map[string]any{
				"type":        "string",
				"description": "One-line summary of the outcome",
			},
		},
	}
}

func (t *completeTool) Kind() toolreg.Kind { return toolreg.KindTerminal }

func (t *completeTool) Timeout() time.Duration { return toolreg.DefaultTimeout }

func (t *completeTool) Execute(_ context.Context, args map[string]any) (*toolreg.Result, error) {
	return &toolreg.Result{Success: true, Data: "completed: " + getString(args, "summary")}, nil
}

// approvalTool parks the conversation pending a human decision. The
// pending request is tracked by the approvals manager and resolved
// out-of-band via the HTTP surface.
type approvalTool struct {
	mgr *approvals.Manager
}

func (t *approvalTool) Name() string { return "request_approval" }

func (t *approvalTool) Description() string {
	return "Stop and ask a human to approve a proposed action before going further. Terminal for this conversation turn."
}

func (t *approvalTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"action": map[string]any{
				"type":        "string",
				"description": "The action awaiting approval",
			},
		},
		"required": []string{"action"},
	}
}

func (t *approvalTool) Kind() toolreg.Kind { return toolreg.KindTerminal }

func (t *approvalTool) Timeout() time.Duration { return toolreg.DefaultTimeout }

func (t *approvalTool) Execute(_ context.Context, args map[string]any) (*toolreg.Result, error) {
	action := getString(args, "action")
	if action == "" {
		return toolreg.Errorf("missing required argument: action"), nil
	}
	req := t.mgr.Create(action)
	return &toolreg.Result{
		Success: true,
		Data:    toolreg.Row{"approval_id": req.ID, "status": "pending", "action": action},
	}, nil
}

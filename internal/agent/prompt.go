package agent

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// bootstrapFiles are loaded from the workspace in this order.
var bootstrapFiles = []string{"SYSTEM.md", "CONTEXT.md"}

// BuildSystemPrompt constructs the system prompt from workspace files,
// falling back to the built-in identity when none exist.
func BuildSystemPrompt(workspacePath string) string {
	var parts []string
	for _, name := range bootstrapFiles {
		content := loadBootstrapFile(workspacePath, name)
		if content != "" {
			parts = append(parts, content)
		}
	}
	if len(parts) == 0 {
		parts = append(parts, fallbackIdentity)
	}
	return strings.Join(parts, "\n\n")
}

func loadBootstrapFile(workspace, name string) string {
	if workspace == "" {
		return ""
	}
	path := filepath.Join(workspace, name)
	data, err := os.ReadFile(path)
	if err != nil {
		slog.Debug("bootstrap file not found", slog.String("file", path))
		return ""
	}
	return strings.TrimSpace(string(data))
}

const fallbackIdentity = `You are Conduit, a data analysis assistant with access to tools.

Rules:
- Prefer tools over guessing: run_query for warehouse data, kb_search for domain context, evaluate_expression for arithmetic.
- Use the batch tool when several independent lookups are needed at once.
- Call complete when the task is finished; call request_approval before any action that needs human sign-off.
- Be concise and technical in your answers.`

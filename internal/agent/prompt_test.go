package agent

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestBuildSystemPromptFallback(t *testing.T) {
	got := BuildSystemPrompt("")
	if !strings.Contains(got, "Conduit") {
		t.Errorf("fallback identity missing: %q", got)
	}
}

func TestBuildSystemPromptFromWorkspace(t *testing.T) {
	dir := t.TempDir()
	write := func(name, content string) {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	write("SYSTEM.md", "You are the analytics agent.\n")
	write("CONTEXT.md", "The warehouse lives in Postgres.")

	got := BuildSystemPrompt(dir)
	if !strings.HasPrefix(got, "You are the analytics agent.") {
		t.Errorf("SYSTEM.md not first: %q", got)
	}
	if !strings.Contains(got, "Postgres") {
		t.Errorf("CONTEXT.md missing: %q", got)
	}
	if strings.Contains(got, "Conduit, a data analysis assistant") {
		t.Error("fallback used despite workspace files")
	}
}

func TestBuildSystemPromptPartialWorkspace(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "CONTEXT.md"), []byte("context only"), 0o644); err != nil {
		t.Fatal(err)
	}

	got := BuildSystemPrompt(dir)
	if got != "context only" {
		t.Errorf("got %q", got)
	}
}

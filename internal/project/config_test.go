package project

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/ChamsBouzaiene/cofounder/internal/prompts"
)

func TestLoadContext_NotExists(t *testing.T) {
	tempDir := t.TempDir()

	if ContextExists(tempDir) {
		t.Error("ContextExists should return false when the file doesn't exist")
	}
	bc, err := LoadContext(tempDir)
	if err != nil {
		t.Errorf("LoadContext should not error when file doesn't exist: %v", err)
	}
	if bc != nil {
		t.Error("LoadContext should return nil when file doesn't exist")
	}
}

func TestSaveAndLoadContext(t *testing.T) {
	tempDir := t.TempDir()

	want := prompts.BusinessContext{
		ProjectName:  "ShiftSwap",
		ProblemBrief: "Nurses trade shifts by phone.",
		Interview:    []prompts.QA{{Question: "Who pays?", Answer: "Hospitals."}},
		MVPScope:     "Shift board and swap requests.",
	}
	if err := SaveContext(tempDir, want); err != nil {
		t.Fatalf("SaveContext failed: %v", err)
	}
	if !ContextExists(tempDir) {
		t.Fatal("ContextExists should return true after SaveContext")
	}

	got, err := LoadContext(tempDir)
	if err != nil {
		t.Fatalf("LoadContext failed: %v", err)
	}
	if !reflect.DeepEqual(*got, want) {
		t.Errorf("Expected %+v, got %+v", want, *got)
	}
}

func TestLoadContext_Corrupt(t *testing.T) {
	tempDir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(tempDir, Dir), 0o755); err != nil {
		t.Fatalf("Failed to create %s dir: %v", Dir, err)
	}
	if err := os.WriteFile(contextPath(tempDir), []byte("interview: {"), 0o644); err != nil {
		t.Fatalf("Failed to write context file: %v", err)
	}
	if _, err := LoadContext(tempDir); err == nil {
		t.Error("LoadContext should fail on invalid yaml")
	}
}

func TestLoadRules_NotExists(t *testing.T) {
	rules, err := LoadRules(t.TempDir())
	if err != nil {
		t.Errorf("LoadRules should not error when file doesn't exist: %v", err)
	}
	if rules != "" {
		t.Errorf("LoadRules should return empty string when file doesn't exist, got: %s", rules)
	}
}

func TestLoadRules(t *testing.T) {
	tempDir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(tempDir, Dir), 0o755); err != nil {
		t.Fatalf("Failed to create %s dir: %v", Dir, err)
	}

	expectedRules := "Use Postgres, not MongoDB.\nNo paid APIs."
	if err := os.WriteFile(rulesPath(tempDir), []byte(expectedRules+"\n"), 0o644); err != nil {
		t.Fatalf("Failed to write rules file: %v", err)
	}

	rules, err := LoadRules(tempDir)
	if err != nil {
		t.Fatalf("LoadRules failed: %v", err)
	}
	if rules != expectedRules {
		t.Errorf("Expected rules:\n%s\nGot:\n%s", expectedRules, rules)
	}
}

package tools

import (
	"os"
	"path/filepath"
	"testing"
)

func TestRegistry_ResolveChain(t *testing.T) {
	builtin := &fakeTool{name: "local"}
	r := NewRegistry(builtin)

	if got, ok := r.Resolve("local"); !ok || got != builtin {
		t.Fatal("expected builtin to resolve")
	}
	if _, ok := r.Resolve("missing"); ok {
		t.Fatal("expected unknown name to miss")
	}
}

func TestRegistry_Approved(t *testing.T) {
	r := NewRegistry()
	r.SetApproved([]string{"webSearch", "codebaseSearch"})

	if !r.IsApproved("webSearch") {
		t.Error("expected webSearch to be approved")
	}
	if r.IsApproved("readFile") {
		t.Error("readFile should not be approved")
	}
	if _, ok := r.Resolve("webSearch"); ok {
		t.Error("approved names must not resolve to an executable tool")
	}
}

func TestRegistry_ResolvePreview(t *testing.T) {
	r := NewRegistry(DefaultBuiltins(30)...)

	if _, ok := r.ResolvePreview(NameWriteToFile); !ok {
		t.Error("writeToFile should support previews")
	}
	if _, ok := r.ResolvePreview(NameReadFile); ok {
		t.Error("readFile should not support previews")
	}
}

func TestLoadApprovedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "approved.yaml")
	content := "tools:\n  - webSearch\n  - codebaseSearch\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	names, err := LoadApprovedFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(names) != 2 || names[0] != "webSearch" {
		t.Errorf("unexpected names: %v", names)
	}
}

func TestLoadApprovedFile_Missing(t *testing.T) {
	names, err := LoadApprovedFile(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("missing file should not error: %v", err)
	}
	if names != nil {
		t.Errorf("expected no names, got %v", names)
	}
}

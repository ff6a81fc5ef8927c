package serverctx

import (
	"path/filepath"
	"testing"
)

func TestNewFileContextCreatesFileWhenMissing(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "meta.json")

	fc, err := NewFileContext(path, map[string]string{"--log-path": dir})
	if err != nil {
		t.Fatalf("NewFileContext: %v", err)
	}

	if got := fc.Get("--log-path"); got != dir {
		t.Fatalf("Get(--log-path) = %q, want %q", got, dir)
	}

	addr, err := fc.StartingAddress()
	if err != nil || addr != 0 {
		t.Fatalf("StartingAddress() = (%d, %v), want (0, nil)", addr, err)
	}
}

func TestSetStartingAddressPersistsAcrossReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "meta.json")

	fc, err := NewFileContext(path, nil)
	if err != nil {
		t.Fatalf("NewFileContext: %v", err)
	}
	if err := fc.SetStartingAddress(42); err != nil {
		t.Fatalf("SetStartingAddress: %v", err)
	}
	if err := fc.SetTailSegment(3); err != nil {
		t.Fatalf("SetTailSegment: %v", err)
	}

	reloaded, err := NewFileContext(path, nil)
	if err != nil {
		t.Fatalf("reload NewFileContext: %v", err)
	}
	addr, err := reloaded.StartingAddress()
	if err != nil || addr != 42 {
		t.Fatalf("StartingAddress() after reload = (%d, %v), want (42, nil)", addr, err)
	}
	seg, err := reloaded.TailSegment()
	if err != nil || seg != 3 {
		t.Fatalf("TailSegment() after reload = (%d, %v), want (3, nil)", seg, err)
	}
}

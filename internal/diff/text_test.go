package diff

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestUnified(t *testing.T) {
	out := Unified("left/startup.py", "right/startup.py", []byte("a\nb\nc\n"), []byte("a\nB\nc\n"))

	for _, want := range []string{"--- left/startup.py", "+++ right/startup.py", "-b", "+B"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in diff:\n%s", want, out)
		}
	}
}

func TestUnifiedIdentical(t *testing.T) {
	if out := Unified("a", "b", []byte("same\n"), []byte("same\n")); out != "" {
		t.Errorf("expected empty diff, got %q", out)
	}
}

func TestUnifiedBinary(t *testing.T) {
	out := Unified("a.bin", "b.bin", []byte{0, 1, 2}, []byte{0, 1, 3})
	if !strings.HasPrefix(out, "Binary files") {
		t.Errorf("expected binary summary, got %q", out)
	}
}

func TestUnifiedFilesMissingSide(t *testing.T) {
	dir := t.TempDir()
	right := filepath.Join(dir, "right.py")
	if err := os.WriteFile(right, []byte("x\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	out, err := UnifiedFiles(filepath.Join(dir, "missing.py"), right)
	if err != nil {
		t.Fatalf("UnifiedFiles failed: %v", err)
	}
	if !strings.Contains(out, "+x") {
		t.Errorf("expected added line, got:\n%s", out)
	}
}

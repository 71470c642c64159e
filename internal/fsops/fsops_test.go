package fsops_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"

	"github.com/temirov/genbatch/internal/fsops"
)

func TestWriteFileAtomic_InMemory(t *testing.T) {
	mem := fsops.NewMem()
	ops := fsops.NewOps(mem)

	target := "/out/nested/result.yaml"
	if err := ops.WriteFileAtomic(target, []byte("first"), 0o644); err != nil {
		t.Fatalf("first write: %v", err)
	}
	if err := ops.WriteFileAtomic(target, []byte("second"), 0o644); err != nil {
		t.Fatalf("overwrite: %v", err)
	}

	data, err := mem.ReadFile(target)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != "second" {
		t.Fatalf("expected overwritten content, got %q", data)
	}

	entries, err := afero.ReadDir(mem.Fs, "/out/nested")
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected only the target file, found %d entries", len(entries))
	}
}

func TestWriteFileAtomic_OS(t *testing.T) {
	ops := fsops.NewOps(fsops.NewOS())
	target := filepath.Join(t.TempDir(), "a", "b.json")

	if err := ops.WriteFileAtomic(target, []byte(`{"ok":true}`), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if !ops.FileExists(target) {
		t.Fatalf("expected %s to exist", target)
	}
	info, err := os.Stat(target)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("unexpected permissions %v", info.Mode().Perm())
	}
}

func TestReadFileIfExists(t *testing.T) {
	mem := fsops.NewMem()
	ops := fsops.NewOps(mem)

	data, found, err := ops.ReadFileIfExists("/missing.json")
	if err != nil || found || data != nil {
		t.Fatalf("missing file: data=%q found=%v err=%v", data, found, err)
	}

	if err := mem.WriteFile("/present.json", []byte("{}"), 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}
	data, found, err = ops.ReadFileIfExists("/present.json")
	if err != nil || !found || string(data) != "{}" {
		t.Fatalf("present file: data=%q found=%v err=%v", data, found, err)
	}
}

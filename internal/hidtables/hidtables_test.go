package hidtables

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTempTables(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "hid_tables.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadResolvesKnownCodes(t *testing.T) {
	path := writeTempTables(t, "keyboard:\n  a: 0x04\nconsumer:\n  volume_up: 0x00E9\n")
	tbl, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if u, ok := tbl.KeyboardUsage("a"); !ok || u != 0x04 {
		t.Fatalf("got %v,%v want 0x04,true", u, ok)
	}
	if u, ok := tbl.ConsumerUsage("volume_up"); !ok || u != 0x00E9 {
		t.Fatalf("got %v,%v want 0x00E9,true", u, ok)
	}
}

func TestLoadUnknownCodeIsNotOk(t *testing.T) {
	path := writeTempTables(t, "keyboard:\n  a: 0x04\nconsumer:\n  volume_up: 0x00E9\n")
	tbl, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := tbl.KeyboardUsage("zzz"); ok {
		t.Fatal("expected unknown keyboard code to resolve false")
	}
	if _, ok := tbl.ConsumerUsage("zzz"); ok {
		t.Fatal("expected unknown consumer code to resolve false")
	}
}

func TestLoadRejectsMissingSection(t *testing.T) {
	path := writeTempTables(t, "keyboard:\n  a: 0x04\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for missing consumer table")
	}
}

func TestLoadRejectsUnreadablePath(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func TestNewRootCmd_hasSubcommands(t *testing.T) {
	root := NewRootCmd("test")
	if root == nil {
		t.Fatal("NewRootCmd returned nil")
	}
	names := make(map[string]bool)
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"init", "doctor", "watch", "stop", "status", "cycle", "ingest", "schedule", "mentions", "review", "task", "journal"} {
		if !names[want] {
			t.Errorf("expected subcommand %q", want)
		}
	}
}

func TestNewRootCmd_versionFlag(t *testing.T) {
	root := NewRootCmd("1.2.3")
	if root.Version != "1.2.3" {
		t.Errorf("Version: got %q", root.Version)
	}
}

func TestNewRootCmd_hasHomeFlag(t *testing.T) {
	root := NewRootCmd("")
	if root.PersistentFlags().Lookup("home") == nil {
		t.Fatal("expected --home persistent flag")
	}
}

func TestInit_writesScaffold(t *testing.T) {
	home := filepath.Join(t.TempDir(), "home")

	root := NewRootCmd("")
	var buf bytes.Buffer
	root.SetOut(&buf)
	root.SetArgs([]string{"init", "--home", home})
	if err := root.Execute(); err != nil {
		t.Fatalf("init: %v", err)
	}

	if _, err := os.Stat(filepath.Join(home, "config.yaml")); err != nil {
		t.Errorf("config scaffold missing: %v", err)
	}
	if _, err := os.Stat(filepath.Join(home, "protected", "db.sqlite")); err != nil {
		t.Errorf("state store missing: %v", err)
	}
}

func TestInit_idempotent(t *testing.T) {
	home := filepath.Join(t.TempDir(), "home")

	for i := 0; i < 2; i++ {
		root := NewRootCmd("")
		root.SetOut(&bytes.Buffer{})
		root.SetArgs([]string{"init", "--home", home})
		if err := root.Execute(); err != nil {
			t.Fatalf("init run %d: %v", i+1, err)
		}
	}
}

func TestStatus_notRunning(t *testing.T) {
	home := filepath.Join(t.TempDir(), "home")

	root := NewRootCmd("")
	var buf bytes.Buffer
	root.SetOut(&buf)
	root.SetArgs([]string{"status", "--home", home})
	if err := root.Execute(); err != nil {
		t.Fatalf("status: %v", err)
	}
	if !bytes.Contains(buf.Bytes(), []byte("not running")) {
		t.Errorf("status output: got %q", buf.String())
	}
}

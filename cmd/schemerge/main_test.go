package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/MarcoPoloResearchLab/schemerge/internal/config"
	"github.com/MarcoPoloResearchLab/schemerge/internal/schematic"
	"github.com/spf13/viper"
)

func TestModeForMapsConfiguredModes(t *testing.T) {
	tests := []struct {
		value string
		want  schematic.Mode
	}{
		{value: "view", want: schematic.ModeView},
		{value: " Diff ", want: schematic.ModeDiff},
		{value: "merge", want: schematic.ModeMerge},
		{value: "", want: schematic.ModeMerge},
	}
	for _, tt := range tests {
		if got := modeFor(tt.value); got != tt.want {
			t.Fatalf("modeFor(%q) = %d, want %d", tt.value, got, tt.want)
		}
	}
}

func TestWriteDiscardedTargets(t *testing.T) {
	var stdout bytes.Buffer
	if err := writeDiscarded(&stdout, "", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stdout.String() != "[]\n" {
		t.Fatalf("expected empty array, got %q", stdout.String())
	}

	path := filepath.Join(t.TempDir(), "discarded.json")
	if err := writeDiscarded(&stdout, path, []string{"c1", "s1"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	written, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read output: %v", err)
	}
	if string(written) != "[\"c1\",\"s1\"]\n" {
		t.Fatalf("unexpected file content %q", written)
	}
	if stdout.String() != "[]\n" {
		t.Fatalf("expected stdout untouched, got %q", stdout.String())
	}
}

func TestRootCommandRegistersSubcommands(t *testing.T) {
	root := newRootCommand()
	for _, name := range []string{"build", "serve", "shell"} {
		found, _, err := root.Find([]string{name})
		if err != nil || found.Name() != name {
			t.Fatalf("expected subcommand %s, got %v (%v)", name, found, err)
		}
	}
}

func TestApplicationCloseReleasesDatabase(t *testing.T) {
	config.ApplyDefaults(viper.GetViper())
	t.Setenv("SCHEMERGE_DATABASE_PATH", filepath.Join(t.TempDir(), "schemerge.db"))

	app, err := openApplication(false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sqlDB, err := app.db.DB()
	if err != nil {
		t.Fatalf("failed to access sql handle: %v", err)
	}
	if err := sqlDB.Ping(); err != nil {
		t.Fatalf("expected open database, got %v", err)
	}

	closeDatabase(app.db)
	if err := sqlDB.Ping(); err == nil {
		t.Fatalf("expected database to be closed")
	}
}

package main

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestProgressSteps(t *testing.T) {
	if got := progressSteps(0); len(got) != 0 {
		t.Fatalf("expected no steps, got %d", len(got))
	}

	def := progressSteps(2)
	if len(def) != 2 || def[0].Percent != 10 || def[1].Percent != 55 {
		t.Fatalf("expected default 10/55 progression, got %+v", def)
	}

	steps := progressSteps(4)
	if len(steps) != 4 {
		t.Fatalf("expected 4 steps, got %d", len(steps))
	}
	for i := 1; i < len(steps); i++ {
		if steps[i].Percent <= steps[i-1].Percent {
			t.Errorf("step %d: percent %.1f not increasing", i, steps[i].Percent)
		}
	}
	if steps[3].Percent >= 100 {
		t.Errorf("last step must stay below 100, got %.1f", steps[3].Percent)
	}
}

func TestBuildOptions(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	if _, err := buildOptions(-1, "", 8, 0, "", logger); err == nil {
		t.Error("expected error for negative steps")
	}
	if _, err := buildOptions(2, "", 11, 0, "", logger); err == nil {
		t.Error("expected error for out-of-range score")
	}
	if _, err := buildOptions(2, "", 8, 0, filepath.Join(t.TempDir(), "missing"), logger); err == nil {
		t.Error("expected error for missing fixture dir")
	}

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "generate-schema.json"), []byte(`{"detail":"x"}`), 0644); err != nil {
		t.Fatal(err)
	}
	opts, err := buildOptions(3, "synthesis timeout", 9, time.Millisecond, dir, logger)
	if err != nil {
		t.Fatalf("buildOptions: %v", err)
	}
	if len(opts) != 6 {
		t.Errorf("expected 6 options, got %d", len(opts))
	}
}

package main

import (
	"bytes"
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/c360studio/datafactory/bundle"
	"github.com/c360studio/datafactory/challenge"
	"github.com/c360studio/datafactory/mockbackend"
)

func writeConfig(t *testing.T, apiURL string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := "api:\n  base_url: " + apiURL + "\npoll:\n  interval: 5ms\nlogging:\n  level: error\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoadConfigFlagOverrides(t *testing.T) {
	path := writeConfig(t, "http://file/api")

	cfg, got, err := loadConfig(&globalFlags{
		configPath:   path,
		logLevel:     "debug",
		apiURL:       "http://flag/api",
		pollInterval: time.Second,
	})
	if err != nil {
		t.Fatalf("loadConfig failed: %v", err)
	}
	if got != path {
		t.Errorf("expected config path %s, got %s", path, got)
	}
	if cfg.API.BaseURL != "http://flag/api" {
		t.Errorf("expected flag api url, got %s", cfg.API.BaseURL)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("expected debug level, got %s", cfg.Logging.Level)
	}
	if cfg.Poll.Interval != time.Second {
		t.Errorf("expected 1s poll interval, got %v", cfg.Poll.Interval)
	}

	if _, _, err := loadConfig(&globalFlags{configPath: path, apiURL: "nope"}); err == nil {
		t.Error("expected invalid api url to be rejected")
	}
}

func TestGenerateOptionsSettings(t *testing.T) {
	opts := generateOptions{
		domain:     "Retail",
		function:   "Marketing",
		difficulty: "Difficult",
		structure:  "Denormalized",
	}
	s, err := opts.settings()
	if err != nil {
		t.Fatalf("settings failed: %v", err)
	}
	if s.DatasetSize != challenge.DifficultyDifficult.Profile().Rows {
		t.Errorf("expected difficulty row count, got %d", s.DatasetSize)
	}
	if s.DataStructure != challenge.StructureDenormalized {
		t.Errorf("expected denormalized, got %s", s.DataStructure)
	}

	opts.rows = 1234
	if s, _ = opts.settings(); s.DatasetSize != 1234 {
		t.Errorf("expected explicit rows, got %d", s.DatasetSize)
	}

	opts.difficulty = "Impossible"
	if _, err := opts.settings(); err == nil {
		t.Error("expected unknown difficulty to be rejected")
	}
}

func TestGenerateCommand(t *testing.T) {
	srv := httptest.NewServer(mockbackend.New().Handler())
	defer srv.Close()

	t.Setenv("HOME", t.TempDir())
	out := t.TempDir()
	path := writeConfig(t, srv.URL+mockbackend.APIPrefix)

	var stdout bytes.Buffer
	cmd := rootCmd()
	cmd.SetOut(&stdout)
	cmd.SetErr(&stdout)
	cmd.SetArgs([]string{
		"--config", path,
		"generate",
		"--domain", "Retail",
		"--function", "Marketing",
		"--difficulty", "Easy",
		"--output", out,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := cmd.ExecuteContext(ctx); err != nil {
		t.Fatalf("generate failed: %v\n%s", err, stdout.String())
	}

	text := stdout.String()
	for _, want := range []string{"ready_for_delivery", "QA score", "Bundle:"} {
		if !strings.Contains(text, want) {
			t.Errorf("output missing %q:\n%s", want, text)
		}
	}

	matches, err := filepath.Glob(filepath.Join(out, "codebasics_data_challenge_*.zip"))
	if err != nil || len(matches) != 1 {
		t.Fatalf("expected one bundle in %s, got %v (%v)", out, matches, err)
	}
	dir := strings.TrimSuffix(matches[0], ".zip")
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		t.Errorf("expected extracted directory %s", dir)
	}
}

func TestGenerateCommandJobFailure(t *testing.T) {
	srv := httptest.NewServer(mockbackend.New(mockbackend.WithJobFailure("worker crashed")).Handler())
	defer srv.Close()

	t.Setenv("HOME", t.TempDir())
	path := writeConfig(t, srv.URL+mockbackend.APIPrefix)

	var stdout bytes.Buffer
	cmd := rootCmd()
	cmd.SetOut(&stdout)
	cmd.SetErr(&stdout)
	cmd.SetArgs([]string{
		"--config", path,
		"generate",
		"--domain", "Retail",
		"--function", "Marketing",
		"--output", t.TempDir(),
	})

	err := cmd.ExecuteContext(context.Background())
	if err == nil {
		t.Fatal("expected generate to fail")
	}
	if !strings.Contains(err.Error(), "worker crashed") {
		t.Errorf("expected job error in %v", err)
	}
}

func TestGenerateRejectsBadPattern(t *testing.T) {
	path := writeConfig(t, "http://localhost:1/api")

	cmd := rootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{
		"--config", path,
		"generate",
		"--domain", "Retail",
		"--function", "Marketing",
		"--include", "data/[",
	})
	if err := cmd.Execute(); err == nil {
		t.Error("expected malformed include pattern to be rejected")
	}
}

func TestVersionCommand(t *testing.T) {
	var stdout bytes.Buffer
	cmd := rootCmd()
	cmd.SetOut(&stdout)
	cmd.SetArgs([]string{"version"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("version failed: %v", err)
	}
	if !strings.Contains(stdout.String(), Version) {
		t.Errorf("expected version in %q", stdout.String())
	}
}

func TestConfigShow(t *testing.T) {
	path := writeConfig(t, "http://shown/api")

	var stdout bytes.Buffer
	cmd := rootCmd()
	cmd.SetOut(&stdout)
	cmd.SetArgs([]string{"--config", path, "config", "show"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("config show failed: %v", err)
	}
	if !strings.Contains(stdout.String(), "http://shown/api") {
		t.Errorf("expected api url in output:\n%s", stdout.String())
	}
}

func TestBundleFileNameMatchesGlob(t *testing.T) {
	if ok, _ := filepath.Match("codebasics_data_challenge_*.zip", bundle.FileName("abc")); !ok {
		t.Errorf("unexpected bundle name %s", bundle.FileName("abc"))
	}
}

// Package main runs the in-memory challenge backend for local development
// and end-to-end runs of the datafactory client.
//
// Usage:
//
//	mock-backend -addr :8000 -steps 4 -fail-job "synthesis timeout"
//
// Every stage is served under /api with the same routes as the real
// backend. A fixture directory (-fixtures) overrides individual stages with
// canned responses: "generate-schema.json" answers every schema call,
// "generate-schema.1.json" answers only the first one.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/c360studio/datafactory/mockbackend"
)

func main() {
	addr := flag.String("addr", ":8000", "address to listen on")
	steps := flag.Int("steps", 2, "progress reports before the generation job finishes")
	failJob := flag.String("fail-job", "", "fail the generation job with this message")
	score := flag.Float64("qa-score", mockbackend.DefaultQAScore, "QA score reported on completion")
	latency := flag.Duration("latency", 0, "delay added to every response")
	fixtureDir := flag.String("fixtures", "", "directory containing per-stage fixture files")
	flag.Parse()

	if envDir := os.Getenv("MOCK_BACKEND_FIXTURES"); envDir != "" && *fixtureDir == "" {
		*fixtureDir = envDir
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	opts, err := buildOptions(*steps, *failJob, *score, *latency, *fixtureDir, logger)
	if err != nil {
		logger.Error("Invalid mock backend options", slog.String("error", err.Error()))
		os.Exit(1)
	}

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mockbackend.New(opts...).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("Mock backend listening", slog.String("addr", *addr), slog.String("api", mockbackend.APIPrefix))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func buildOptions(steps int, failJob string, score float64, latency time.Duration, fixtureDir string, logger *slog.Logger) ([]mockbackend.Option, error) {
	if steps < 0 {
		return nil, fmt.Errorf("steps must not be negative")
	}
	if score < 0 || score > 10 {
		return nil, fmt.Errorf("qa-score must be within 0..10")
	}

	opts := []mockbackend.Option{
		mockbackend.WithLogger(logger),
		mockbackend.WithSteps(progressSteps(steps)),
		mockbackend.WithQAScore(score),
		mockbackend.WithLatency(latency),
	}
	if failJob != "" {
		opts = append(opts, mockbackend.WithJobFailure(failJob))
	}
	if fixtureDir != "" {
		fixtures, err := mockbackend.LoadFixtures(fixtureDir)
		if err != nil {
			return nil, fmt.Errorf("load fixtures from %s: %w", fixtureDir, err)
		}
		for name, seq := range fixtures {
			logger.Info("Loaded fixtures", slog.String("stage", string(name)), slog.Int("count", len(seq)))
		}
		opts = append(opts, mockbackend.WithFixtures(fixtures))
	}
	return opts, nil
}

// progressSteps spreads n reports evenly below 100%. Two steps reproduce
// the default 10%/55% progression.
func progressSteps(n int) []mockbackend.Step {
	if n == 2 {
		return mockbackend.DefaultSteps()
	}
	labels := []string{"generating_data", "validating", "building_reports", "packaging"}
	steps := make([]mockbackend.Step, n)
	for i := range steps {
		label := labels[min(i*len(labels)/max(n, 1), len(labels)-1)]
		steps[i] = mockbackend.Step{
			Stage:   label,
			Percent: float64(100*(i+1)) / float64(n+1),
			Message: fmt.Sprintf("Step %d of %d: %s", i+1, n, label),
		}
	}
	return steps
}

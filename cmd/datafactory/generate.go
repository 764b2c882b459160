package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/c360studio/datafactory/bundle"
	"github.com/c360studio/datafactory/challenge"
	"github.com/c360studio/datafactory/workflow"
)

type generateOptions struct {
	domain     string
	function   string
	difficulty string
	structure  string
	rows       int
	context    string
	output     string
	include    []string
	noExtract  bool
}

func generateCmd(flags *globalFlags) *cobra.Command {
	var opts generateOptions

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Run every phase headlessly, approving each draft",
		Long: `Generate runs the whole workflow without the wizard. Each draft is
approved as soon as it arrives, the full dataset job is polled to
completion and the bundle is downloaded into --output.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			cfg, path, err := loadConfig(flags)
			if err != nil {
				return err
			}
			settings, err := opts.settings()
			if err != nil {
				return err
			}
			if err := bundle.ValidatePatterns(opts.include); err != nil {
				return err
			}

			app, err := NewApp(ctx, cfg, path, false)
			if err != nil {
				return err
			}
			defer app.Close()

			return runHeadless(ctx, app, settings, opts, cmd.OutOrStdout())
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.domain, "domain", "", "Business domain (e.g. Retail)")
	f.StringVar(&opts.function, "function", "", "Business function (e.g. Marketing)")
	f.StringVar(&opts.difficulty, "difficulty", string(challenge.DifficultyMedium), "Easy, Medium or Difficult")
	f.StringVar(&opts.structure, "structure", string(challenge.StructureNormalized), "Normalized or Denormalized")
	f.IntVar(&opts.rows, "rows", 0, "Dataset row count (default: the difficulty's row count)")
	f.StringVar(&opts.context, "context", "", "Business context brief (default: generated)")
	f.StringVarP(&opts.output, "output", "o", ".", "Directory for the downloaded bundle")
	f.StringSliceVar(&opts.include, "include", nil, "Only extract entries matching these glob patterns")
	f.BoolVar(&opts.noExtract, "no-extract", false, "Keep the bundle zipped")

	_ = cmd.MarkFlagRequired("domain")
	_ = cmd.MarkFlagRequired("function")
	return cmd
}

func (o generateOptions) settings() (challenge.Settings, error) {
	s := challenge.DefaultSettings()
	d, err := challenge.ParseDifficulty(o.difficulty)
	if err != nil {
		return s, err
	}
	s.SetDifficulty(d)
	ds, err := challenge.ParseDataStructure(o.structure)
	if err != nil {
		return s, err
	}
	s.DataStructure = ds
	s.Domain = o.domain
	s.Function = o.function
	s.Context = o.context
	if o.rows > 0 {
		s.DatasetSize = o.rows
	}
	return s, s.Validate()
}

// runHeadless drives the controller from idle to a downloaded bundle.
func runHeadless(ctx context.Context, app *App, settings challenge.Settings, opts generateOptions, out io.Writer) error {
	ctrl := app.ctrl

	done := make(chan struct{}, 1)
	ctrl.Subscribe(func(ev workflow.Event) {
		switch ev.Type {
		case workflow.EventTransition:
			fmt.Fprintf(out, "→ %s\n", ev.To)
		case workflow.EventProgress:
			if p := ev.Snapshot.Progress; p != nil {
				fmt.Fprintf(out, "  %5.1f%% %s\n", p.Percent, p.Message)
			}
		case workflow.EventCelebrate:
			if qa := ev.Snapshot.Drafts.QA; qa != nil {
				fmt.Fprintf(out, "QA score: %.1f\n", qa.OverallScore)
			}
		}
		s := ev.Snapshot
		if s.State.IsTerminal() && !s.Busy {
			select {
			case done <- struct{}{}:
			default:
			}
		}
	})

	if err := ctrl.UpdateSettings(func(s *challenge.Settings) { *s = settings }); err != nil {
		return err
	}
	if err := ctrl.Start(ctx); err != nil {
		return fmt.Errorf("research: %w", err)
	}
	if p := ctrl.Snapshot().Drafts.Problem; p != nil {
		fmt.Fprintf(out, "Problem: %s (%s)\n", p.Title, p.CompanyName)
	}

	for p := int(workflow.PhaseProblem); p <= int(workflow.PhasePreview); p++ {
		if err := ctrl.Approve(ctx); err != nil {
			return fmt.Errorf("approve %s: %w", workflow.Phase(p), err)
		}
	}

	if err := waitTerminal(ctx, ctrl, done); err != nil {
		return err
	}

	snap := ctrl.Snapshot()
	if snap.State == workflow.StateFailed {
		return fmt.Errorf("generation failed: %s", snap.Error)
	}
	if snap.Drafts.Delivery == nil {
		if err := ctrl.PrepareDelivery(ctx); err != nil {
			return fmt.Errorf("prepare delivery: %w", err)
		}
	}

	res, err := bundle.Fetch(ctx, app.client, snap.SessionID, opts.output, !opts.noExtract, opts.include, app.logger.Logger)
	if err != nil {
		return fmt.Errorf("download: %w", err)
	}
	fmt.Fprintf(out, "Bundle: %s (%d bytes)\n", res.Archive, res.Size)
	if res.Dir != "" {
		fmt.Fprintf(out, "Extracted %d files into %s\n", len(res.Extracted), res.Dir)
	}
	return nil
}

// waitTerminal blocks until the job reaches a terminal state and delivery
// is no longer in flight.
func waitTerminal(ctx context.Context, ctrl *workflow.Controller, done <-chan struct{}) error {
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	for {
		s := ctrl.Snapshot()
		if s.State.IsTerminal() && !s.Busy {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-done:
		case <-ticker.C:
		}
	}
}

// runWizard opens the interactive wizard.
func runWizard(ctx context.Context, flags globalFlags) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, path, err := loadConfig(&flags)
	if err != nil {
		return err
	}
	app, err := NewApp(ctx, cfg, path, true)
	if err != nil {
		return err
	}
	defer app.Close()

	err = runTUI(ctx, app)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	if err != nil {
		app.logger.Error("Wizard exited", slog.String("error", err.Error()))
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	return err
}

package main

import (
	"context"
	"os"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/c360studio/datafactory/bundle"
	"github.com/c360studio/datafactory/sources"
	"github.com/c360studio/datafactory/tui"
)

func runTUI(ctx context.Context, app *App) error {
	wd, err := os.Getwd()
	if err != nil {
		wd = "."
	}
	previewer := sources.NewPreviewer(app.cfg.Sources, sources.WithLogger(app.logger.With("component", "sources")))

	model := tui.New(ctx, app.ctrl,
		tui.WithLogger(app.logger.With("component", "tui")),
		tui.WithTranscript(app.chat.Transcript),
		tui.WithSourcePreview(previewer.PreviewSource),
		tui.WithDownloader(func(ctx context.Context, session string) (*bundle.Result, error) {
			return bundle.Fetch(ctx, app.client, session, wd, true, nil, app.logger.Logger)
		}))

	_, err = tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx)).Run()
	if ctx.Err() != nil {
		// Interrupted by a signal.
		return nil
	}
	return err
}

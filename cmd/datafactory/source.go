package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/c360studio/datafactory/sources"
)

func sourceCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "source <url>",
		Short: "Print a research source as markdown",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			cfg, _, err := loadConfig(flags)
			if err != nil {
				return err
			}
			p, err := sources.NewPreviewer(cfg.Sources).Preview(ctx, args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if p.Title != "" {
				fmt.Fprintf(out, "# %s\n\n", p.Title)
			}
			fmt.Fprintln(out, p.Markdown)
			return nil
		},
	}
}

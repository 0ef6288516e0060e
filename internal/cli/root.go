// Package cli implements aidctl, the operator command line.
package cli

import (
	"context"
	"fmt"
	"io"
	"slices"

	"github.com/spf13/cobra"

	"github.com/Guizzs26/go-aid-sync/internal/app"
	"github.com/Guizzs26/go-aid-sync/internal/config"
	"github.com/Guizzs26/go-aid-sync/pkg/infra"
)

// Builder assembles the pipeline a command runs against
type Builder func(ctx context.Context) (*app.App, error)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"

	build Builder
}

var ValidFormats = []string{"text", "json"}

// NewRootCommand wires aidctl against the environment configuration
func NewRootCommand() *cobra.Command {
	return newRootCommand(func(ctx context.Context) (*app.App, error) {
		cfg := config.Load()
		return app.Build(ctx, cfg, infra.SetupLogger(cfg, "aidctl"))
	})
}

func newRootCommand(build Builder) *cobra.Command {
	opts := &RootOptions{build: build}

	cmd := &cobra.Command{
		Use:   "aidctl",
		Short: "aidctl - operate the aid sync relay",
		Long:  "Run sync passes, inspect pending changes and settle duplicate needs and resources across platforms.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewSyncCommand(opts))
	cmd.AddCommand(NewStatusCommand(opts))
	cmd.AddCommand(NewDiffCommand(opts))
	cmd.AddCommand(NewConflictsCommand(opts))
	cmd.AddCommand(NewCreateCommand(opts))
	cmd.AddCommand(NewBumpCommand(opts))

	return cmd
}

// open builds the pipeline and primes the tracker
func (o *RootOptions) open(ctx context.Context) (*app.App, error) {
	a, err := o.build(ctx)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to build pipeline", err)
	}
	if err := a.Tracker.Prime(ctx); err != nil {
		a.Close()
		return nil, WrapExitError(ExitCommandError, "failed to read snapshot", err)
	}
	return a, nil
}

func (o *RootOptions) output(w io.Writer) *OutputFormatter {
	return &OutputFormatter{Format: o.Format, Writer: w}
}

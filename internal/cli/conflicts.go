package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/Guizzs26/go-aid-sync/internal/conflict"
	"github.com/Guizzs26/go-aid-sync/internal/models"
)

// ConflictView is the json shape of a pending conflict
type ConflictView struct {
	ID         string      `json:"id"`
	DetectedAt string      `json:"detected_at"`
	Candidates []Candidate `json:"candidates"`
}

type Candidate struct {
	GUID        string `json:"guid"`
	Origin      string `json:"origin"`
	UpdatedAt   string `json:"updated_at"`
	Description string `json:"description"`
}

func NewConflictsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "conflicts",
		Short: "Inspect and settle duplicate entities",
	}
	cmd.AddCommand(newConflictsListCommand(rootOpts))
	cmd.AddCommand(newConflictsResolveCommand(rootOpts))
	return cmd
}

func newConflictsListCommand(rootOpts *RootOptions) *cobra.Command {
	var detect bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List conflicts waiting for a manual decision",
		Long: `List conflicts waiting for a manual decision.

With --detect the current snapshot is scanned first and every duplicate
group found is queued, whatever the configured policy.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConflictsList(cmd.Context(), rootOpts, detect, cmd.OutOrStdout())
		},
	}
	cmd.Flags().BoolVar(&detect, "detect", false, "scan the snapshot and queue new conflicts first")
	return cmd
}

func runConflictsList(ctx context.Context, opts *RootOptions, detect bool, w io.Writer) error {
	a, err := opts.open(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if detect {
		snap, err := a.Tracker.Snapshot(ctx)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read snapshot", err)
		}
		for _, c := range conflict.NewDetector().Detect(snap) {
			if err := a.Queue.Enqueue(ctx, c); err != nil {
				return WrapExitError(ExitFailure, "failed to queue conflict", err)
			}
		}
	}

	pending, err := a.Queue.Pending(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list conflicts", err)
	}

	views := make([]ConflictView, 0, len(pending))
	for _, c := range pending {
		views = append(views, viewOf(c))
	}

	return opts.output(w).Emit(views, func(w io.Writer) {
		if len(views) == 0 {
			fmt.Fprintln(w, "No pending conflicts")
			return
		}
		for _, v := range views {
			fmt.Fprintf(w, "%s  detected %s\n", v.ID, v.DetectedAt)
			for _, c := range v.Candidates {
				fmt.Fprintf(w, "  %s  %-8s  %s  %s\n", c.GUID, c.Origin, c.UpdatedAt, c.Description)
			}
		}
	})
}

func newConflictsResolveCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <conflict-id> <winner-guid>",
		Short: "Keep one candidate of a queued conflict and merge the others into it",
		Long: `Resolve a queued conflict by naming the winning candidate.

The winner keeps its platform messages and takes over the losers' messages
on platforms it was missing from; the losers are removed and their
duplicate messages deleted.

Examples:
  aidctl conflicts resolve 6f1c... 1764412351278010368`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConflictsResolve(cmd.Context(), rootOpts, args[0], args[1], cmd.OutOrStdout())
		},
	}
}

func runConflictsResolve(ctx context.Context, opts *RootOptions, id, winner string, w io.Writer) error {
	a, err := opts.open(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := conflict.Complete(ctx, a.Queue, id, winner, time.Now())
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to resolve conflict", err)
	}
	if err := a.Orchestrator.ApplyResolution(ctx, res); err != nil {
		return WrapExitError(ExitFailure, "failed to apply resolution", err)
	}

	removed := make([]string, 0, len(res.Losers))
	for _, l := range res.Losers {
		removed = append(removed, l.GUID)
	}
	out := map[string]any{"conflict_id": id, "winner": winner, "removed": removed}
	return opts.output(w).Emit(out, func(w io.Writer) {
		fmt.Fprintf(w, "Conflict %s resolved: kept %s, removed %v\n", id, winner, removed)
	})
}

func viewOf(c models.Conflict) ConflictView {
	v := ConflictView{ID: c.ID, DetectedAt: models.FormatTime(c.DetectedAt)}
	for _, e := range c.Candidates {
		v.Candidates = append(v.Candidates, Candidate{
			GUID:        e.GUID,
			Origin:      string(e.OriginPlatform),
			UpdatedAt:   models.FormatTime(e.UpdatedAt),
			Description: e.Description,
		})
	}
	return v
}

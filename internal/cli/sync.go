package cli

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Guizzs26/go-aid-sync/internal/models"
)

// SyncResult is the json shape of one pass
type SyncResult struct {
	Processed int    `json:"processed"`
	Synced    int    `json:"synced"`
	Conflicts int    `json:"conflicts"`
	Errors    int    `json:"errors"`
	LastSync  string `json:"last_sync"`
}

func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Run one propagation pass now",
		Long: `Run a single sync pass against the configured store.

Every entity missing from an enabled platform is posted there and the
results are committed and audited like a timer-driven pass.

Examples:
  aidctl sync
  aidctl sync --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(cmd.Context(), rootOpts, cmd.OutOrStdout())
		},
	}
}

func runSync(ctx context.Context, opts *RootOptions, w io.Writer) error {
	a, err := opts.open(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	stats, _, err := a.Orchestrator.TriggerPass(ctx)
	if err != nil {
		return WrapExitError(ExitFailure, "sync pass aborted", err)
	}

	result := SyncResult{
		Processed: stats.Processed,
		Synced:    stats.Synced,
		Conflicts: stats.Conflicts,
		Errors:    stats.Errors,
		LastSync:  models.FormatTime(stats.LastSync),
	}
	if err := opts.output(w).Emit(result, func(w io.Writer) {
		fmt.Fprintf(w, "processed %d, synced %d, conflicts %d, errors %d\n",
			result.Processed, result.Synced, result.Conflicts, result.Errors)
	}); err != nil {
		return err
	}
	if stats.Errors > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d propagation errors", stats.Errors))
	}
	return nil
}

// EntityStatus is one row of the status listing
type EntityStatus struct {
	GUID        string   `json:"guid"`
	Kind        string   `json:"kind"`
	UserID      string   `json:"user_id"`
	Origin      string   `json:"origin"`
	Status      string   `json:"status"`
	Platforms   []string `json:"platforms"`
	Description string   `json:"description"`
}

func entityRow(userID string, e models.Entity) EntityStatus {
	platforms := make([]string, 0, len(e.Platforms))
	for p := range e.Platforms {
		platforms = append(platforms, string(p))
	}
	sort.Strings(platforms)
	return EntityStatus{
		GUID:        e.GUID,
		Kind:        string(e.Kind),
		UserID:      userID,
		Origin:      string(e.OriginPlatform),
		Status:      string(e.SyncStatus),
		Platforms:   platforms,
		Description: e.Description,
	}
}

func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	var onlyUnsynced bool

	cmd := &cobra.Command{
		Use:           "status",
		Short:         "List entities with their sync status",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd.Context(), rootOpts, onlyUnsynced, cmd.OutOrStdout())
		},
	}
	cmd.Flags().BoolVar(&onlyUnsynced, "unsynced", false, "only entities that are not fully synced")
	return cmd
}

func runStatus(ctx context.Context, opts *RootOptions, onlyUnsynced bool, w io.Writer) error {
	a, err := opts.open(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	snap, err := a.Tracker.Snapshot(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read snapshot", err)
	}

	rows := []EntityStatus{}
	snap.Each(func(u models.User, e models.Entity) {
		if onlyUnsynced && e.SyncStatus == models.StatusSynced {
			return
		}
		rows = append(rows, entityRow(u.ID, e))
	})

	return opts.output(w).Emit(rows, func(w io.Writer) {
		if len(rows) == 0 {
			fmt.Fprintln(w, "No entities")
			return
		}
		for _, r := range rows {
			fmt.Fprintf(w, "%s  %-8s  %-8s  %-9s  [%s]  %s\n",
				r.GUID, r.Kind, r.Origin, r.Status, strings.Join(r.Platforms, ","), r.Description)
		}
	})
}

package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/Guizzs26/go-aid-sync/internal/differ"
	"github.com/Guizzs26/go-aid-sync/internal/models"
)

// DiffOptions holds flags for the diff command.
type DiffOptions struct {
	*RootOptions
	Against string
}

// ChangeLine is the json shape of one change record
type ChangeLine struct {
	Operation string `json:"operation"`
	Entity    string `json:"entity"`
	UserID    string `json:"user_id"`
	GUID      string `json:"guid,omitempty"`
}

func NewDiffCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DiffOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "diff",
		Short: "Show the changes between a saved snapshot and the store",
		Long: `Compare a snapshot exported as JSON with the current store contents.

The output lists the change records an audit entry would carry for the
same transition. Volatile fields (updatedAt, syncStatus, syncAttemptedAt)
are ignored.

Examples:
  aidctl diff --against backup.json
  aidctl diff --against backup.json --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDiff(cmd.Context(), opts, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&opts.Against, "against", "", "path to a JSON snapshot (required)")
	_ = cmd.MarkFlagRequired("against")

	return cmd
}

func runDiff(ctx context.Context, opts *DiffOptions, w io.Writer) error {
	previous, err := readSnapshotFile(opts.Against)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read snapshot file", err)
	}

	a, err := opts.open(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	current, err := a.Tracker.Snapshot(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read snapshot", err)
	}

	lines := changeLines(differ.New().Diff(previous, current))
	return opts.output(w).Emit(lines, func(w io.Writer) {
		if len(lines) == 0 {
			fmt.Fprintln(w, "No changes")
			return
		}
		for i, l := range lines {
			fmt.Fprintf(w, "%d. %s %s (user: %s)", i+1, l.Operation, l.Entity, l.UserID)
			if l.GUID != "" {
				fmt.Fprintf(w, " guid=%s", l.GUID)
			}
			fmt.Fprintln(w)
		}
	})
}

func readSnapshotFile(path string) (models.Snapshot, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return models.Snapshot{}, err
	}
	s := models.NewSnapshot()
	if err := json.Unmarshal(raw, &s); err != nil {
		return models.Snapshot{}, fmt.Errorf("decode %s: %w", path, err)
	}
	if s.Users == nil {
		s.Users = map[string]models.User{}
	}
	return s, nil
}

func changeLines(changes []models.ChangeRecord) []ChangeLine {
	lines := make([]ChangeLine, 0, len(changes))
	for _, c := range changes {
		l := ChangeLine{Operation: string(c.Operation), Entity: c.Entity, UserID: c.UserID}
		if guid, ok := c.Data.Get("guid"); ok {
			l.GUID, _ = guid.(string)
		}
		lines = append(lines, l)
	}
	return lines
}

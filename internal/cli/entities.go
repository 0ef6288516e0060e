package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Guizzs26/go-aid-sync/internal/models"
	"github.com/Guizzs26/go-aid-sync/internal/service"
)

// EntityResult is the json shape of a create or bump
type EntityResult struct {
	EntityStatus
	Failures []string `json:"failures,omitempty"`
}

type createOptions struct {
	user   string
	kind   string
	origin string
}

func NewCreateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &createOptions{}

	cmd := &cobra.Command{
		Use:   "create <description>",
		Short: "Register a need or resource and cross-post it",
		Long: `Register a need or resource for a user and post it to every other
enabled platform right away.

Examples:
  aidctl create --user u1 "Need drinking water in Kharkiv"
  aidctl create --user u1 --kind resource --origin vk "Van with driver"`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCreate(cmd.Context(), rootOpts, opts, args[0], cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&opts.user, "user", "", "owning user id")
	cmd.Flags().StringVar(&opts.kind, "kind", string(models.KindNeed), "need|resource")
	cmd.Flags().StringVar(&opts.origin, "origin", "telegram", "platform the entity was posted on")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func runCreate(ctx context.Context, opts *RootOptions, c *createOptions, description string, w io.Writer) error {
	a, err := opts.open(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	origin := models.Platform(c.origin)
	if !slices.Contains(a.Orchestrator.Enabled(), origin) {
		return NewExitError(ExitCommandError, fmt.Sprintf("platform %q is not enabled", c.origin))
	}

	res, err := a.Entities.Create(ctx, service.NewEntity{
		UserID:         c.user,
		Kind:           models.EntityKind(c.kind),
		Description:    description,
		OriginPlatform: origin,
	})
	if err != nil {
		return entityError("failed to create entity", err)
	}
	return emitResult(opts, w, c.user, res, "Created")
}

func NewBumpCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "bump <guid>",
		Short: "Delete the propagated copies of an entity and post it again",
		Long: `Re-post an entity so it surfaces at the top of every platform feed.
The copies on other platforms are deleted first.

Examples:
  aidctl bump 1764412351278010368`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBump(cmd.Context(), rootOpts, args[0], cmd.OutOrStdout())
		},
	}
}

func runBump(ctx context.Context, opts *RootOptions, guid string, w io.Writer) error {
	a, err := opts.open(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.Entities.Bump(ctx, guid)
	if err != nil {
		return entityError("failed to bump entity", err)
	}
	return emitResult(opts, w, res.Entity.UserID, res, "Bumped")
}

func entityError(message string, err error) error {
	if errors.Is(err, service.ErrInvalidEntity) ||
		errors.Is(err, models.ErrUserNotFound) ||
		errors.Is(err, models.ErrEntityNotFound) {
		return WrapExitError(ExitCommandError, message, err)
	}
	return WrapExitError(ExitFailure, message, err)
}

// emitResult prints the entity; platform failures turn the exit code to 1
func emitResult(opts *RootOptions, w io.Writer, userID string, res service.Result, verb string) error {
	out := EntityResult{EntityStatus: entityRow(userID, res.Entity)}
	for _, f := range res.Failures {
		out.Failures = append(out.Failures, f.Error())
	}

	err := opts.output(w).Emit(out, func(w io.Writer) {
		fmt.Fprintf(w, "%s %s %s, status %s [%s]\n",
			verb, out.Kind, out.GUID, out.Status, strings.Join(out.Platforms, ","))
		for _, f := range out.Failures {
			fmt.Fprintf(w, "  failed: %s\n", f)
		}
	})
	if err != nil {
		return err
	}
	if len(res.Failures) > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d platform calls failed", len(res.Failures)))
	}
	return nil
}

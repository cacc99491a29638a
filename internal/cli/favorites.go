package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/five82/backdrop/internal/app"
	"github.com/five82/backdrop/internal/favorites"
)

// NewFavoriteCommand creates the favorites command group.
func NewFavoriteCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "favorites",
		Short: "List or toggle favorite wallpapers",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "Print favorite wallpaper ids in the order they were added",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLibrary(cmd, rootOpts, func(ctx context.Context, session *app.Session) error {
				ids := session.Favorites.Favorites()
				if rootOpts.Format == "json" {
					return writeJSON(cmd.OutOrStdout(), map[string]any{"favorites": ids})
				}
				for _, id := range ids {
					fmt.Fprintln(cmd.OutOrStdout(), id)
				}
				return nil
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "toggle <wallpaper-id>",
		Short: "Add or remove a favorite and wait for the write",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLibrary(cmd, rootOpts, func(ctx context.Context, session *app.Session) error {
				return toggleFavorite(ctx, cmd, rootOpts, session, args[0])
			})
		},
	})
	return cmd
}

// withLibrary opens a started session and waits for the first library
// snapshot so local state matches the store.
func withLibrary(cmd *cobra.Command, opts *RootOptions, fn func(context.Context, *app.Session) error) error {
	session, cleanup, err := openSession(cmd.Context(), opts, sessionNeeds{start: true})
	if err != nil {
		return err
	}
	defer cleanup()
	if err := requireUser(session); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), session.Config.FavoriteTimeout+5*time.Second)
	defer cancel()
	if err := waitFor(ctx, session, func() bool {
		_, ok := session.Library()
		return ok
	}); err != nil {
		return WrapExitError(ExitFailure, "load library", err)
	}
	return fn(ctx, session)
}

func toggleFavorite(ctx context.Context, cmd *cobra.Command, opts *RootOptions, session *app.Session, id string) error {
	want, err := session.Favorites.Toggle(id)
	if err != nil {
		return WrapExitError(GetExitCode(err), "toggle favorite", err)
	}
	if err := waitFor(ctx, session, func() bool { return session.Favorites.State(id) != favorites.Pending }); err != nil {
		return WrapExitError(ExitFailure, "wait for favorite write", err)
	}
	got := session.Favorites.IsFavorite(id)
	if got != want {
		return NewExitError(ExitFailure, fmt.Sprintf("favorite %s was not saved", id))
	}

	if opts.Format == "json" {
		return writeJSON(cmd.OutOrStdout(), map[string]any{"id": id, "favorite": got})
	}
	verb := "removed from"
	if got {
		verb = "added to"
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s favorites\n", id, verb)
	return nil
}

// waitFor blocks until done reports true, re-checking on every session
// change.
func waitFor(ctx context.Context, session *app.Session, done func() bool) error {
	for !done() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-session.Changes():
		}
	}
	return nil
}

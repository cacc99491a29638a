package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/five82/backdrop/internal/app"
	"github.com/five82/backdrop/internal/library"
)

// NewCollectionsCommand creates the collections command group.
func NewCollectionsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "collections",
		Aliases: []string{"col"},
		Short:   "Manage wallpaper collections",
		Long: `Create, change and delete collections owned by the configured user.

Creating and deleting a collection each take two writes. When the second
write fails the command exits with status 4 and prints the repair command:

  backdrop collections repair link <collection-id>
  backdrop collections repair purge <collection-id>`,
	}

	var description string
	create := &cobra.Command{
		Use:   "create <name>",
		Short: "Create an empty collection",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCollections(cmd, rootOpts, func(ctx context.Context, s *app.Session) error {
				id, err := s.Collections.Create(ctx, s.UserID, strings.Join(args, " "), description)
				if id != "" {
					fmt.Fprintln(cmd.OutOrStdout(), id)
				}
				return err
			})
		},
	}
	create.Flags().StringVarP(&description, "description", "d", "", "collection description")

	var renameDescription string
	rename := &cobra.Command{
		Use:   "rename <collection-id> <name>",
		Short: "Rename a collection",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCollections(cmd, rootOpts, func(ctx context.Context, s *app.Session) error {
				return s.Collections.Rename(ctx, s.UserID, args[0], strings.Join(args[1:], " "), renameDescription)
			})
		},
	}
	rename.Flags().StringVarP(&renameDescription, "description", "d", "", "new description")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List your collections",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withCollections(cmd, rootOpts, func(ctx context.Context, s *app.Session) error {
					list, err := s.Collections.List(ctx, s.UserID)
					if err != nil {
						return err
					}
					return writeCollections(cmd, rootOpts, list)
				})
			},
		},
		create,
		rename,
		&cobra.Command{
			Use:   "add <collection-id> <wallpaper-id>",
			Short: "Add a wallpaper to a collection",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withCollections(cmd, rootOpts, func(ctx context.Context, s *app.Session) error {
					return s.Collections.AddMember(ctx, s.UserID, args[0], args[1])
				})
			},
		},
		&cobra.Command{
			Use:   "remove <collection-id> <wallpaper-id>",
			Short: "Remove a wallpaper from a collection",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withCollections(cmd, rootOpts, func(ctx context.Context, s *app.Session) error {
					return s.Collections.RemoveMember(ctx, s.UserID, args[0], args[1])
				})
			},
		},
		&cobra.Command{
			Use:   "delete <collection-id>",
			Short: "Delete a collection",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withCollections(cmd, rootOpts, func(ctx context.Context, s *app.Session) error {
					return s.Collections.Delete(ctx, s.UserID, args[0])
				})
			},
		},
		newRepairCommand(rootOpts),
	)
	return cmd
}

func newRepairCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "repair",
		Short: "Finish a collection write that stopped halfway",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "link <collection-id>",
			Short: "Add a created collection to your library",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withCollections(cmd, rootOpts, func(ctx context.Context, s *app.Session) error {
					return s.Collections.LinkToOwner(ctx, s.UserID, args[0])
				})
			},
		},
		&cobra.Command{
			Use:   "purge <collection-id>",
			Short: "Delete a collection already removed from your library",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withCollections(cmd, rootOpts, func(ctx context.Context, s *app.Session) error {
					return s.Collections.PurgeCollection(ctx, s.UserID, args[0])
				})
			},
		},
	)
	return cmd
}

// withCollections runs fn against a session that needs no catalog or
// subscription, and turns a partial write into a repair hint.
func withCollections(cmd *cobra.Command, opts *RootOptions, fn func(context.Context, *app.Session) error) error {
	session, cleanup, err := openSession(cmd.Context(), opts, sessionNeeds{})
	if err != nil {
		return err
	}
	defer cleanup()
	if err := requireUser(session); err != nil {
		return err
	}
	err = fn(cmd.Context(), session)
	if err == nil {
		return nil
	}
	if hint := RepairHint(err); hint != "" {
		fmt.Fprintf(cmd.ErrOrStderr(), "to finish, run: %s\n", hint)
	}
	return WrapExitError(GetExitCode(err), cmd.CommandPath(), err)
}

type collectionOutput struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Members     []string `json:"members"`
}

func writeCollections(cmd *cobra.Command, opts *RootOptions, list []library.Collection) error {
	out := make([]collectionOutput, 0, len(list))
	for _, c := range list {
		members := c.Members
		if members == nil {
			members = []string{}
		}
		out = append(out, collectionOutput{ID: c.ID, Name: c.Name, Description: c.Description, Members: members})
	}
	if opts.Format == "json" {
		return writeJSON(cmd.OutOrStdout(), map[string]any{"collections": out})
	}
	for _, c := range out {
		fmt.Fprintf(cmd.OutOrStdout(), "%s  %s (%d)\n", c.ID, c.Name, len(c.Members))
	}
	return nil
}

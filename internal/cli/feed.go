package cli

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/five82/backdrop/internal/unsplash"
)

// FeedOptions holds flags for the feed command.
type FeedOptions struct {
	*RootOptions
	Query    string
	Category string
	Pages    int
}

// NewFeedCommand creates the feed command.
func NewFeedCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &FeedOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "feed",
		Short: "Print wallpapers from the catalog",
		Long: `Fetch one or more pages of the feed and print them.

Example:
  backdrop feed --category nature
  backdrop feed --query "foggy forest" --pages 2 --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFeed(cmd, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.Query, "query", "q", "", "search text")
	cmd.Flags().StringVar(&opts.Category, "category", unsplash.AllCategory, "category id")
	cmd.Flags().IntVar(&opts.Pages, "pages", 1, "number of pages to fetch")

	return cmd
}

type feedItem struct {
	ID          string `json:"id"`
	Author      string `json:"author"`
	Likes       int    `json:"likes"`
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	Description string `json:"description"`
	URL         string `json:"url,omitempty"`
}

type feedOutput struct {
	Query    string     `json:"query,omitempty"`
	Category string     `json:"category"`
	Count    int        `json:"count"`
	HasMore  bool       `json:"has_more"`
	Items    []feedItem `json:"items"`
}

func runFeed(cmd *cobra.Command, opts *FeedOptions) error {
	if opts.Pages < 1 {
		return NewExitError(ExitUsage, "--pages must be at least 1")
	}
	session, cleanup, err := openSession(cmd.Context(), opts.RootOptions, sessionNeeds{catalog: true})
	if err != nil {
		return err
	}
	defer cleanup()

	hasMore := true
	for page := 1; page <= opts.Pages && hasMore; page++ {
		result, err := session.Feed.RequestPage(cmd.Context(), opts.Query, opts.Category, page)
		if err != nil {
			return WrapExitError(GetExitCode(err), fmt.Sprintf("fetch page %d", page), err)
		}
		hasMore = result.HasMore
	}

	state := session.Feed.Snapshot()
	out := feedOutput{
		Query:    state.Query,
		Category: state.Category,
		Count:    len(state.Items),
		HasMore:  hasMore,
		Items:    make([]feedItem, 0, len(state.Items)),
	}
	for _, w := range state.Items {
		out.Items = append(out.Items, feedItem{
			ID:          w.ID,
			Author:      w.Author.Name,
			Likes:       w.Likes,
			Width:       w.Width,
			Height:      w.Height,
			Description: w.Description,
			URL:         w.URLs.Regular,
		})
	}

	if opts.Format == "json" {
		return writeJSON(cmd.OutOrStdout(), out)
	}
	return writeFeedTable(cmd.OutOrStdout(), out)
}

func writeFeedTable(w io.Writer, out feedOutput) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tAUTHOR\tLIKES\tSIZE\tDESCRIPTION")
	for _, item := range out.Items {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%dx%d\t%s\n", item.ID, item.Author, item.Likes, item.Width, item.Height, item.Description)
	}
	if err := tw.Flush(); err != nil {
		return fmt.Errorf("write table: %w", err)
	}
	more := "end of feed"
	if out.HasMore {
		more = "more available"
	}
	_, err := fmt.Fprintf(w, "\n%d wallpapers, %s\n", out.Count, more)
	return err
}

/*
Copyright © 2025 Katie Mulliken <katie@mulliken.net>
*/
package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/seckatie/marksync/internal/core/api"
)

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List your bookmarks, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := newClientEnv(cmd, "", nil)
		if err != nil {
			return err
		}
		defer env.ctx.Dispose()

		if err := env.signedIn(cmd); err != nil {
			return err
		}
		printBookmarks(cmd.OutOrStdout(), env.ctx.Bookmarks())
		return nil
	},
}

func printBookmarks(w io.Writer, bookmarks []api.Bookmark) {
	if len(bookmarks) == 0 {
		fmt.Fprintln(w, "No bookmarks yet.")
		return
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTITLE\tURL\tSAVED")
	for _, b := range bookmarks {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", b.ID, b.Title, b.URL, b.CreatedAt.Local().Format(time.DateTime))
	}
	tw.Flush()
}

func init() {
	rootCmd.AddCommand(listCmd)
}

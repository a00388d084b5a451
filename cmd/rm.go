/*
Copyright © 2025 Katie Mulliken <katie@mulliken.net>
*/
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var rmCmd = &cobra.Command{
	Use:   "rm <id>...",
	Short: "Remove bookmarks by id",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := newClientEnv(cmd, "", nil)
		if err != nil {
			return err
		}
		defer env.ctx.Dispose()

		if err := env.signedIn(cmd); err != nil {
			return err
		}
		for _, id := range args {
			if err := env.ctx.RemoveBookmark(cmd.Context(), id); err != nil {
				return err
			}
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Removed. You now have %d bookmark(s).\n", len(env.ctx.Bookmarks()))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(rmCmd)
}

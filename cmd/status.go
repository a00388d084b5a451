/*
Copyright © 2025 Katie Mulliken <katie@mulliken.net>
*/
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/seckatie/marksync/internal/client/session"
)

// statusCmd reports whether a session is active. A failed session check is
// shown separately from being signed out.
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the current session",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := newClientEnv(cmd, "", nil)
		if err != nil {
			return err
		}
		defer env.ctx.Dispose()

		if err := env.ctx.Init(cmd.Context()); err != nil {
			env.log.Debug().Err(err).Msg("sync did not fully start")
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Server:  %s\n", env.cfg.ServerURL)
		fmt.Fprintf(out, "Session: %s\n", env.ctx.SessionState())
		if u := env.ctx.User(); u != nil && env.ctx.SessionState() == session.Authenticated {
			fmt.Fprintf(out, "User:    %s (%s)\n", u.Email, u.ID)
			fmt.Fprintf(out, "Saved:   %d bookmark(s)\n", len(env.ctx.Bookmarks()))
		}
		if err := env.ctx.SessionErr(); err != nil {
			fmt.Fprintf(out, "Warning: could not reach the server to check the session: %v\n", err)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

/*
Copyright © 2025 Katie Mulliken <katie@mulliken.net>
*/
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Sign out and revoke the stored session",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := newClientEnv(cmd, "", nil)
		if err != nil {
			return err
		}
		defer env.ctx.Dispose()

		if err := env.ctx.Init(cmd.Context()); err != nil {
			env.log.Debug().Err(err).Msg("sync did not fully start")
		}
		if err := env.ctx.Logout(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Signed out.")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(logoutCmd)
}

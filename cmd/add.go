/*
Copyright © 2025 Katie Mulliken <katie@mulliken.net>
*/
package cmd

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/seckatie/marksync/internal/core"
)

// addCmd saves a bookmark. With --fetch-title an empty title is filled from
// the page's <title> before validation.
var addCmd = &cobra.Command{
	Use:   "add <url> [title]",
	Short: "Save a bookmark",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAdd(cmd, args)
	},
}

func runAdd(cmd *cobra.Command, args []string) error {
	fetchTitle, err := cmd.Flags().GetBool("fetch-title")
	if err != nil {
		return fmt.Errorf("failed to read --fetch-title: %w", err)
	}

	rawURL := args[0]
	title := ""
	if len(args) > 1 {
		title = args[1]
	}

	env, err := newClientEnv(cmd, "", nil)
	if err != nil {
		return err
	}
	defer env.ctx.Dispose()

	if err := env.signedIn(cmd); err != nil {
		return err
	}

	if strings.TrimSpace(title) == "" && fetchTitle {
		fetched, err := core.NewTitleFetcher().FetchTitle(cmd.Context(), rawURL)
		if err != nil {
			env.log.Warn().Err(err).Str("url", rawURL).Msg("could not fetch page title")
		} else {
			title = fetched
		}
	}

	err = env.ctx.AddBookmark(cmd.Context(), title, rawURL)
	var verr *core.ValidationError
	if errors.As(err, &verr) {
		printFieldErrors(cmd, env.ctx.ValidationErrors())
		return errors.New("bookmark not saved")
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Saved. You now have %d bookmark(s).\n", len(env.ctx.Bookmarks()))
	return nil
}

func printFieldErrors(cmd *cobra.Command, fields map[string]string) {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(cmd.ErrOrStderr(), "%s: %s\n", name, fields[name])
	}
}

func init() {
	rootCmd.AddCommand(addCmd)

	addCmd.Flags().Bool("fetch-title", false, "Use the page title when no title is given")
}

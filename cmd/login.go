/*
Copyright © 2025 Katie Mulliken <katie@mulliken.net>
*/
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/seckatie/marksync/internal/client/identity"
	"github.com/seckatie/marksync/internal/client/session"
	"github.com/seckatie/marksync/internal/logger"
)

// loginCmd signs in through the browser and stores the access token.
var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in with Google",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runLogin(cmd)
	},
}

func runLogin(cmd *cobra.Command) error {
	timeout, err := cmd.Flags().GetDuration("timeout")
	if err != nil {
		return fmt.Errorf("failed to read --timeout: %w", err)
	}

	cfg, err := clientConfig(cmd)
	if err != nil {
		return err
	}
	receiver, err := identity.NewReceiver(logger.SetupConsole(cmd.ErrOrStderr(), cfg.LogLevel))
	if err != nil {
		return err
	}
	defer receiver.Close()

	env, err := newClientEnv(cmd, receiver.RedirectURL(), nil)
	if err != nil {
		return err
	}
	defer env.ctx.Dispose()

	authURL, err := env.ctx.Login(cmd.Context())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Open this URL in your browser to sign in:")
	fmt.Fprintln(out)
	fmt.Fprintln(out, "  "+authURL)
	fmt.Fprintln(out)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	token, err := receiver.Wait(ctx)
	if err != nil {
		return fmt.Errorf("sign-in did not complete: %w", err)
	}
	if err := env.tokens.Save(token); err != nil {
		return err
	}

	if err := env.ctx.Refresh(cmd.Context()); err != nil {
		env.log.Debug().Err(err).Msg("initial sync after login failed")
	}
	if env.ctx.SessionState() != session.Authenticated {
		return errors.New("server rejected the new session")
	}

	fmt.Fprintf(out, "Signed in as %s\n", env.ctx.User().Email)
	return nil
}

func init() {
	rootCmd.AddCommand(loginCmd)

	loginCmd.Flags().Duration("timeout", 5*time.Minute, "How long to wait for the browser to finish")
}

/*
Copyright © 2025 Katie Mulliken <katie@mulliken.net>
*/
package cmd

import (
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/seckatie/marksync/internal/client"
	"github.com/seckatie/marksync/internal/client/feed"
	"github.com/seckatie/marksync/internal/client/identity"
	"github.com/seckatie/marksync/internal/client/session"
	"github.com/seckatie/marksync/internal/client/store"
	"github.com/seckatie/marksync/internal/config"
	"github.com/seckatie/marksync/internal/logger"
	"github.com/seckatie/marksync/internal/metrics"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "marksync",
	Short: "Personal bookmarks, synced live across sessions",
	Long: `marksync keeps a per-user list of bookmarks in a shared store and
pushes every change to all of the user's open sessions.

Run "marksync serve" to host the store, then "marksync login" and
"marksync add", "list", "rm" or "watch" from any machine.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	defaults := config.LoadClient()

	rootCmd.PersistentFlags().StringP("server", "s", defaults.ServerURL, "Base URL of the marksync server")
	rootCmd.PersistentFlags().String("session-file", defaults.SessionFile, "Where the access token is kept")
	rootCmd.PersistentFlags().String("log-level", defaults.LogLevel, "Log level (debug, info, warn, error)")
}

// clientConfig applies the persistent flags on top of the environment.
func clientConfig(cmd *cobra.Command) (*config.Client, error) {
	cfg := config.LoadClient()

	var err error
	if cfg.ServerURL, err = cmd.Flags().GetString("server"); err != nil {
		return nil, fmt.Errorf("failed to read --server: %w", err)
	}
	if cfg.SessionFile, err = cmd.Flags().GetString("session-file"); err != nil {
		return nil, fmt.Errorf("failed to read --session-file: %w", err)
	}
	if cfg.LogLevel, err = cmd.Flags().GetString("log-level"); err != nil {
		return nil, fmt.Errorf("failed to read --log-level: %w", err)
	}
	return cfg, nil
}

// clientEnv is everything an interactive command needs to talk to the server.
type clientEnv struct {
	cfg    *config.Client
	log    zerolog.Logger
	tokens *identity.FileTokenStore
	ctx    *client.Context
}

// newClientEnv builds a client.Context from the command's flags. redirectTo
// is only used by login; rec may be nil.
func newClientEnv(cmd *cobra.Command, redirectTo string, rec metrics.SyncRecorder) (*clientEnv, error) {
	cfg, err := clientConfig(cmd)
	if err != nil {
		return nil, err
	}

	log := logger.SetupConsole(cmd.ErrOrStderr(), cfg.LogLevel)
	tokens := identity.NewFileTokenStore(cfg.SessionFile)
	httpClient := &http.Client{Timeout: cfg.RequestTimeout}

	sub, err := feed.NewWebSocketSubscriber(cfg.ServerURL, tokens, log)
	if err != nil {
		return nil, err
	}

	ctx := client.New(client.Deps{
		Provider: identity.NewHTTPProvider(cfg.ServerURL, tokens, httpClient, log),
		Store:    store.NewHTTPStore(cfg.ServerURL, tokens, httpClient, log),
		Feed:     sub,
		Session:  session.DefaultConfig(redirectTo),
		Metrics:  rec,
		Logger:   log,
	})

	return &clientEnv{cfg: cfg, log: log, tokens: tokens, ctx: ctx}, nil
}

// signedIn initializes env and fails when there is no session.
func (e *clientEnv) signedIn(cmd *cobra.Command) error {
	if err := e.ctx.Init(cmd.Context()); err != nil {
		e.log.Warn().Err(err).Msg("sync did not fully start")
	}
	if e.ctx.SessionState() != session.Authenticated {
		if err := e.ctx.SessionErr(); err != nil {
			return fmt.Errorf("could not check session: %w", err)
		}
		return errNotSignedIn
	}
	return nil
}

var errNotSignedIn = errors.New("not signed in; run \"marksync login\" first")

/*
Copyright © 2025 Katie Mulliken <katie@mulliken.net>
*/
package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/seckatie/marksync/internal/metrics"
)

// watchCmd keeps the list on screen and redraws it on every change, local
// or from another session.
var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Show your bookmarks and follow changes live",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWatch(cmd)
	},
}

func runWatch(cmd *cobra.Command) error {
	metricsAddr, err := cmd.Flags().GetString("metrics-addr")
	if err != nil {
		return fmt.Errorf("failed to read --metrics-addr: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var rec metrics.SyncRecorder
	if metricsAddr != "" {
		reg := prometheus.NewRegistry()
		rec = metrics.NewCollector(reg)
		srv := &http.Server{
			Addr:              metricsAddr,
			Handler:           metrics.SetupMetricsRoute(reg),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				fmt.Fprintf(cmd.ErrOrStderr(), "metrics server failed: %v\n", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	env, err := newClientEnv(cmd, "", rec)
	if err != nil {
		return err
	}
	defer env.ctx.Dispose()

	if err := env.signedIn(cmd); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	render := func() {
		fmt.Fprintf(out, "\n-- %s  %s --\n", env.ctx.User().Email, time.Now().Format(time.TimeOnly))
		if err := env.ctx.FeedErr(); err != nil {
			fmt.Fprintf(out, "(live updates paused, reconnecting: %v)\n", err)
		}
		printBookmarks(out, env.ctx.Bookmarks())
	}
	select {
	case <-env.ctx.Changes():
	default:
	}
	render()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-env.ctx.Changes():
			if env.ctx.User() == nil {
				return errNotSignedIn
			}
			render()
		}
	}
}

func init() {
	rootCmd.AddCommand(watchCmd)

	watchCmd.Flags().String("metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9100)")
}

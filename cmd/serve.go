/*
Copyright © 2025 Katie Mulliken <katie@mulliken.net>
*/
package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/seckatie/marksync/internal/config"
	"github.com/seckatie/marksync/internal/core/db"
	"github.com/seckatie/marksync/internal/core/web"
	"github.com/seckatie/marksync/internal/logger"
	"github.com/seckatie/marksync/internal/metrics"
)

// serveCmd runs the store server: REST API, OAuth endpoints and change feed.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the bookmark store server",
	Long: `Run the bookmark store server.

OAuth credentials and the token signing secret come from the environment
(GOOGLE_CLIENT_ID, GOOGLE_CLIENT_SECRET, MARKSYNC_JWT_SECRET). Set
DATABASE_URL to a postgres:// URL to use PostgreSQL instead of SQLite.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd)
	},
}

func runServe(cmd *cobra.Command) error {
	cfg, err := config.LoadServer()
	if err != nil {
		return err
	}
	if err := applyServeFlags(cmd, cfg); err != nil {
		return err
	}

	log := logger.SetupDefault(os.Stdout, cfg.LogLevel)

	target := cfg.DBPath
	if cfg.DatabaseURL != "" {
		target = cfg.DatabaseURL
	}
	database, err := db.Open(target)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() {
		if err := database.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close database")
		}
	}()

	if err := database.Migrate(); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	log.Info().Msg("database migrated successfully")

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector(reg)

	google := web.NewGoogleProvider(web.GoogleConfig{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RedirectURL:  cfg.CallbackURL(),
	})

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return web.StartServer(ctx, cfg.Addr(), database, web.Options{
		PublicURL:  cfg.PublicURL,
		JWTSecret:  cfg.JWTSecret,
		SessionTTL: cfg.SessionTTL,
		RateLimit:  cfg.RateLimit,
		Providers:  []web.IdentityProvider{google},
		Metrics:    collector,
		Gatherer:   reg,
		Logger:     log,
	})
}

// applyServeFlags lets explicitly set flags win over the environment.
func applyServeFlags(cmd *cobra.Command, cfg *config.Server) error {
	flags := cmd.Flags()
	if flags.Changed("db") {
		v, err := flags.GetString("db")
		if err != nil {
			return fmt.Errorf("failed to read --db: %w", err)
		}
		cfg.DBPath = v
		cfg.DatabaseURL = ""
	}
	if flags.Changed("host") {
		v, err := flags.GetString("host")
		if err != nil {
			return fmt.Errorf("failed to read --host: %w", err)
		}
		cfg.Host = v
	}
	if flags.Changed("port") {
		v, err := flags.GetInt("port")
		if err != nil {
			return fmt.Errorf("failed to read --port: %w", err)
		}
		cfg.Port = v
	}
	if flags.Changed("log-level") {
		v, err := flags.GetString("log-level")
		if err != nil {
			return fmt.Errorf("failed to read --log-level: %w", err)
		}
		cfg.LogLevel = v
	}
	if os.Getenv("MARKSYNC_PUBLIC_URL") == "" {
		cfg.PublicURL = fmt.Sprintf("http://%s:%d", cfg.Host, cfg.Port)
	}
	return nil
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringP("db", "d", "marksync.db", "Path to the SQLite database file, or a postgres:// URL")
	serveCmd.Flags().IntP("port", "p", 8080, "Port to listen on")
	serveCmd.Flags().String("host", "localhost", "Host to listen on")
}

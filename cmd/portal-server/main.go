package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/careportal/portal/internal/config"
	"github.com/careportal/portal/internal/platform/db"
	"github.com/careportal/portal/internal/platform/endpoints"
	"github.com/careportal/portal/internal/platform/hipaa"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "portal-server",
		Short: "Care portal backend-for-frontend",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(endpointsCmd())
	rootCmd.AddCommand(auditCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the portal server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "check",
		Short: "Validate configuration and list missing settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			return checkConfig(cmd.OutOrStdout(), cfg)
		},
	})
	return cmd
}

func endpointsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "endpoints",
		Short: "Inspect the backend endpoint registry",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List endpoint keys, path templates and features",
		RunE: func(cmd *cobra.Command, args []string) error {
			file, _ := cmd.Flags().GetString("file")
			if file == "" {
				cfg, err := config.Load()
				if err != nil {
					return err
				}
				file = cfg.EndpointsFile
			}
			reg, err := endpoints.Load(file)
			if err != nil {
				return err
			}
			printEndpoints(cmd.OutOrStdout(), reg)
			return nil
		},
	}
	listCmd.Flags().String("file", "", "Endpoints YAML file (defaults to ENDPOINTS_FILE)")
	cmd.AddCommand(listCmd)
	return cmd
}

func auditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Query the access audit log",
	}

	recentCmd := &cobra.Command{
		Use:   "recent",
		Short: "Print the most recent access entries as JSON lines",
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, _ := cmd.Flags().GetString("user")
			limit, _ := cmd.Flags().GetInt("limit")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.DatabaseURL == "" {
				return fmt.Errorf("DATABASE_URL is required to read the audit log")
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			entries, err := hipaa.NewPGRecorder(pool).Recent(ctx, userID, limit)
			if err != nil {
				return fmt.Errorf("failed to read audit log: %w", err)
			}
			return writeEntries(cmd.OutOrStdout(), entries)
		},
	}
	recentCmd.Flags().String("user", "", "Only entries for this user ID")
	recentCmd.Flags().Int("limit", 50, "Maximum number of entries")
	cmd.AddCommand(recentCmd)
	return cmd
}

func checkConfig(w io.Writer, cfg *config.Config) error {
	for _, warning := range cfg.Warnings() {
		fmt.Fprintf(w, "WARNING: %s\n", warning)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	fmt.Fprintf(w, "Configuration OK (env=%s, api=%s)\n", cfg.Env, cfg.APIURL)
	return nil
}

func printEndpoints(w io.Writer, reg *endpoints.Registry) {
	fmt.Fprintf(w, "%-32s %s\n", "KEY", "PATH")
	for _, key := range reg.Keys() {
		tmpl, _ := reg.Template(key)
		fmt.Fprintf(w, "%-32s %s\n", key, tmpl)
	}

	features := reg.Features()
	names := make([]string, 0, len(features))
	for name := range features {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Fprintln(w)
	fmt.Fprintf(w, "%-32s %s\n", "FEATURE", "ENABLED")
	for _, name := range names {
		fmt.Fprintf(w, "%-32s %t\n", name, features[name])
	}
}

func writeEntries(w io.Writer, entries []hipaa.AccessEntry) error {
	enc := json.NewEncoder(w)
	for i := range entries {
		if err := enc.Encode(&entries[i]); err != nil {
			return err
		}
	}
	return nil
}

func newLogger(env string) zerolog.Logger {
	if env == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func runServer() error {
	// Config
	cfg, err := config.Load()
	logger := newLogger(os.Getenv("ENV"))
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	logger = newLogger(cfg.Env)
	for _, warning := range cfg.Warnings() {
		logger.Warn().Msg(warning)
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx := context.Background()
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize")
	}
	e := newServer(a)

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("api", a.api.BaseURL()).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
	}
	a.close(ctx)
	logger.Info().Msg("server stopped")
	return nil
}

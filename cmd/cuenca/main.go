// Package main provides the entry point for the Cuenca spectral-index service.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jobrunner/cuenca/internal/app"
	"github.com/jobrunner/cuenca/internal/config"
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

var (
	cfgFile string
	envFile string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "cuenca",
	Short: "Cuenca - Landsat spectral indices for the Río Chili watershed",
	Long: `Cuenca serves Landsat vegetation and water indices for the Río Chili
watershed (Arequipa, Perú).

Annual cloud-filtered composites are computed by Google Earth Engine and
exposed through a REST API and a web dashboard.

Features:
  - NDVI, SAVI, EVI, GNDVI, LSWI, NDWI and MNDWI over Landsat 5, 7, 8 and 9
  - Map tiles, regional statistics and annual series from 2000
  - Year comparison, period summaries and anomaly classification
  - CSV and PNG export of series
  - Study area from an Earth Engine asset, GeoJSON or GeoPackage
  - Hot-reload of local study-area files
  - TLS with automatic certificate management
  - Prometheus metrics`,
	RunE:          runServer,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(_ *cobra.Command, _ []string) {
		fmt.Printf("Cuenca %s\n", version)
		fmt.Printf("  Commit:     %s\n", commit)
		fmt.Printf("  Build Date: %s\n", buildDate)
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before the configuration")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "json", "log format (json, text, pretty)")
	rootCmd.PersistentFlags().String("project", "", "Earth Engine cloud project")

	// Server flags
	rootCmd.Flags().String("host", "0.0.0.0", "server host")
	rootCmd.Flags().Int("port", 8080, "server port")
	rootCmd.Flags().Bool("tls", false, "enable TLS")
	rootCmd.Flags().StringSlice("tls-domains", nil, "TLS domains")
	rootCmd.Flags().String("tls-email", "", "TLS email for Let's Encrypt")
	rootCmd.Flags().Bool("warmup", false, "precompute series and comparisons in the background")

	// Study area flags
	rootCmd.PersistentFlags().String("study-area-source", "asset", "study area source (asset, geojson, geopackage)")
	rootCmd.PersistentFlags().String("study-area-path", "", "study area file key in storage")

	// Storage flags
	rootCmd.PersistentFlags().String("storage-type", "local", "storage type (local, s3, azure, http)")
	rootCmd.PersistentFlags().String("storage-path", "./data", "local storage path")

	// CORS flags
	rootCmd.Flags().StringSlice("cors", nil, "allowed CORS origins (e.g., https://example.com,*.sub.domain.tld)")

	// Bind flags to viper
	_ = viper.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("logging.format", rootCmd.PersistentFlags().Lookup("log-format"))
	_ = viper.BindPFlag("earthengine.project", rootCmd.PersistentFlags().Lookup("project"))
	_ = viper.BindPFlag("study_area.source", rootCmd.PersistentFlags().Lookup("study-area-source"))
	_ = viper.BindPFlag("study_area.path", rootCmd.PersistentFlags().Lookup("study-area-path"))
	_ = viper.BindPFlag("storage.type", rootCmd.PersistentFlags().Lookup("storage-type"))
	_ = viper.BindPFlag("storage.local_path", rootCmd.PersistentFlags().Lookup("storage-path"))
	_ = viper.BindPFlag("server.host", rootCmd.Flags().Lookup("host"))
	_ = viper.BindPFlag("server.port", rootCmd.Flags().Lookup("port"))
	_ = viper.BindPFlag("server.cors.allowed_origins", rootCmd.Flags().Lookup("cors"))
	_ = viper.BindPFlag("tls.enabled", rootCmd.Flags().Lookup("tls"))
	_ = viper.BindPFlag("tls.domains", rootCmd.Flags().Lookup("tls-domains"))
	_ = viper.BindPFlag("tls.email", rootCmd.Flags().Lookup("tls-email"))
	_ = viper.BindPFlag("warmup.enabled", rootCmd.Flags().Lookup("warmup"))

	rootCmd.AddCommand(versionCmd)
	addQueryCommands(rootCmd)
}

func initConfig() {
	if err := config.LoadDotEnv(envFile); err != nil {
		fmt.Fprintln(os.Stderr, "warning:", err)
	}

	config.Defaults()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}
}

func runServer(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Setup logger
	logger := setupLogger(cfg.Logging, os.Stdout)
	slog.SetDefault(logger)

	logger.Info("starting Cuenca",
		"version", version,
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"project", cfg.EarthEngine.Project,
		"study_area_source", cfg.StudyArea.Source,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Setup signal handling
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Initialize application
	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}

	// Start server in background
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("server listening", "address", cfg.Server.Address())
		if err := application.Start(ctx); err != nil {
			serverErr <- err
		}
	}()

	// Wait for shutdown signal or server error
	select {
	case sig := <-sigChan:
		logger.Info("received shutdown signal", "signal", sig)
	case err := <-serverErr:
		logger.Error("server error", "error", err)
		cancel()
	case <-ctx.Done():
	}

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	logger.Info("shutting down server")
	if err := application.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
		return err
	}

	logger.Info("server stopped")
	return nil
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func setupLogger(cfg config.LoggingConfig, w io.Writer) *slog.Logger {
	level := parseLevel(cfg.Level)

	if cfg.Format == "pretty" {
		return slog.New(tint.NewHandler(w, &tint.Options{
			Level:      level,
			TimeFormat: time.Kitchen,
		}))
	}

	opts := &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				a.Value = slog.StringValue(a.Value.Time().UTC().Format(time.RFC3339))
			}
			return a
		},
	}

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}

	return slog.New(handler)
}

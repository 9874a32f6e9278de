package main

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/stratushq/entitlements/internal/api"
	"github.com/stratushq/entitlements/internal/config"
	"github.com/stratushq/entitlements/internal/feed"
	"github.com/stratushq/entitlements/internal/journal"
	"github.com/stratushq/entitlements/internal/logging"
	"github.com/stratushq/entitlements/pkg/entitlement"
)

// Version information (set at build time with -ldflags)
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

var osExit = os.Exit

var (
	configFile string
	envFile    string
)

var rootCmd = &cobra.Command{
	Use:     "entitlementd",
	Short:   "Stratus subscription entitlement service",
	Long:    `entitlementd derives subscription lifecycle states and plan facts from snapshots and serves them over HTTP.`,
	Version: Version,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer(cmd.Context())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "path to a YAML or JSON config file")
	rootCmd.Flags().StringVar(&envFile, "env-file", ".env", "env file watched for runtime overrides")
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(resolveCmd)
	rootCmd.AddCommand(plansCmd)
	rootCmd.AddCommand(hashTokenCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("entitlementd %s\n", Version)
		if BuildTime != "unknown" {
			fmt.Printf("Built: %s\n", BuildTime)
		}
		if GitCommit != "unknown" {
			fmt.Printf("Commit: %s\n", GitCommit)
		}
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		osExit(1)
	}
}

func runServer(ctx context.Context) error {
	// Baseline logger for startup messages before the config is read.
	logging.Init(logging.Config{
		Format:    "auto",
		Level:     "info",
		Component: "entitlementd",
	})
	defer logging.Shutdown()

	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	// Re-initialize logging with configuration-driven settings.
	logging.Init(logging.Config{
		Format:     cfg.LogFormat,
		Level:      cfg.LogLevel,
		Component:  "entitlementd",
		FilePath:   cfg.LogFile,
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxAgeDays: cfg.LogMaxAgeDays,
		Compress:   cfg.LogCompress,
	})

	log.Info().Str("version", Version).Msg("Starting entitlements service")

	verifyKey, err := loadVerifyKey(cfg.SnapshotKeyFile)
	if err != nil {
		return fmt.Errorf("load snapshot verification key: %w", err)
	}

	var jrnl *journal.Journal
	if cfg.JournalPath != "" {
		retention := time.Duration(cfg.JournalRetentionDays) * 24 * time.Hour
		jrnl, err = journal.Open(cfg.JournalPath, retention)
		if err != nil {
			return fmt.Errorf("open resolution journal: %w", err)
		}
		defer jrnl.Close()
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	hub := feed.NewHub(cfg.AllowedOrigins, catalogSnapshot)
	go hub.Run(ctx)

	resolver := &entitlement.Resolver{TrialReactivationLimit: cfg.TrialReactivationLimit}

	router := api.NewRouter(cfg, resolver, jrnl, hub, verifyKey, api.VersionInfo{
		Version:   Version,
		BuildTime: BuildTime,
		GitCommit: GitCommit,
		Runtime:   "go",
	})

	// ReadHeaderTimeout rather than ReadTimeout: a connection-level read
	// deadline would survive the WebSocket upgrade and kill feed clients.
	srv := &http.Server{
		Addr:              cfg.ListenAddr(),
		Handler:           router,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	startEnvWatcher(ctx, envFile)

	// Signal handling: SIGINT/SIGTERM shut down, SIGHUP re-reads the config
	// file and applies the log level.
	go func() {
		sigChan := make(chan os.Signal, 1)
		reloadChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		signal.Notify(reloadChan, syscall.SIGHUP)
		defer signal.Stop(sigChan)
		defer signal.Stop(reloadChan)

		for {
			select {
			case <-reloadChan:
				log.Info().Msg("Received SIGHUP, re-reading configuration")
				reloadRuntimeSettings()
			case <-sigChan:
				log.Info().Msg("Shutdown signal received")
				cancel()
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info().Str("addr", srv.Addr).Msg("API server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("api server shutdown: %w", err)
		}
		return nil
	})

	if addr := cfg.MetricsAddr(); addr != "" {
		g.Go(func() error {
			return runMetricsServer(gctx, addr)
		})
	}

	err = g.Wait()
	log.Info().Msg("Server stopped")
	return err
}

// catalogSnapshot is the payload new feed clients receive on connect.
func catalogSnapshot() any {
	return map[string]any{
		"plans":  entitlement.PlanTable(),
		"states": entitlement.StateTable(),
	}
}

// loadVerifyKey reads the base64 Ed25519 public key used to verify signed
// snapshot tokens. An empty path disables signed snapshots.
func loadVerifyKey(path string) (ed25519.PublicKey, error) {
	if path == "" {
		return nil, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read key file %s: %w", path, err)
	}
	key, err := entitlement.DecodeSnapshotPublicKey(strings.TrimSpace(string(raw)))
	if err != nil {
		return nil, fmt.Errorf("decode key file %s: %w", path, err)
	}
	return key, nil
}

// startEnvWatcher watches the env file, if one exists, and applies log
// level changes at runtime. Other keys require a restart and are logged.
func startEnvWatcher(ctx context.Context, path string) {
	if path == "" {
		return
	}
	if _, err := os.Stat(path); err != nil {
		log.Debug().Str("path", path).Msg("No env file present, skipping watcher")
		return
	}

	watcher := config.NewWatcher(path, func(values map[string]string) {
		if level, ok := values["ENTITLEMENTD_LOG_LEVEL"]; ok {
			logging.SetLevel(level)
			log.Info().Str("level", level).Msg("Applied log level from env file")
		}
	})
	if err := watcher.Start(); err != nil {
		log.Warn().Err(err).Msg("Failed to start env file watcher, env changes will require restart")
		return
	}

	go func() {
		<-ctx.Done()
		watcher.Stop()
	}()
}

// reloadRuntimeSettings re-reads the configuration and applies the subset
// that can change without a restart.
func reloadRuntimeSettings() {
	cfg, err := config.Load(configFile)
	if err != nil {
		log.Error().Err(err).Msg("Failed to reload configuration")
		return
	}
	logging.SetLevel(cfg.LogLevel)
	log.Info().Str("level", cfg.LogLevel).Msg("Runtime configuration reloaded, listener changes require a restart")
}

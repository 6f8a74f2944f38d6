// Package main is the entry point for the Reply Gateway.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/compresr/reply-gateway/internal/config"
	"github.com/compresr/reply-gateway/internal/gateway"
	"github.com/compresr/reply-gateway/internal/monitoring"
	"github.com/compresr/reply-gateway/internal/store"
)

// Version is set at build time via ldflags.
var Version = "v0.1.0"

// ANSI color codes
const (
	brandGreen = "\033[38;2;23;128;68m"
	bold       = "\033[1m"
	reset      = "\033[0m"
)

const banner = `
 ┬─┐┌─┐┌─┐┬  ┬ ┬   ┌─┐┌─┐┌┬┐┌─┐┬ ┬┌─┐┬ ┬
 ├┬┘├┤ ├─┘│  └┬┘───│ ┬├─┤ │ ├┤ │││├─┤└┬┘
 ┴└─└─┘┴  ┴─┘ ┴    └─┘┴ ┴ ┴ └─┘└┴┘┴ ┴ ┴
`

// shutdownTimeout bounds draining in-flight requests on SIGINT/SIGTERM.
const shutdownTimeout = 30 * time.Second

func printBanner() {
	fmt.Print(brandGreen + bold + banner + reset + "\n")
}

// loadEnvFiles loads .env from standard locations
func loadEnvFiles() {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		_ = godotenv.Load()
		return
	}

	// Try loading from ~/.config/reply-gateway/.env first
	configEnv := filepath.Join(homeDir, ".config", "reply-gateway", ".env")
	if _, err := os.Stat(configEnv); err == nil {
		_ = godotenv.Load(configEnv)
	}

	// Also load local .env (can override)
	_ = godotenv.Load()
}

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "reply-gateway",
		Short:         "Reply generation service for social feed posts",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(serveCmd(), checkCmd(), versionCmd())
	return root
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "reply-gateway %s\n", Version)
			fmt.Fprintf(cmd.OutOrStdout(), "Runtime: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	}
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "serve",
		Aliases: []string{"start"},
		Short:   "Start the reply gateway server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			configPath, _ := cmd.Flags().GetString("config")
			debug, _ := cmd.Flags().GetBool("debug")
			noBanner, _ := cmd.Flags().GetBool("no-banner")
			return runServer(configPath, debug, noBanner)
		},
	}
	cmd.Flags().StringP("config", "c", "", "path to config file or embedded preset name")
	cmd.Flags().BoolP("debug", "d", false, "enable debug logging")
	cmd.Flags().Bool("no-banner", false, "suppress startup banner")
	return cmd
}

func checkCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validate configuration and reach the storage backend",
		RunE: func(cmd *cobra.Command, _ []string) error {
			loadEnvFiles()
			configPath, _ := cmd.Flags().GetString("config")

			cfg, source, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("%s: %w", source, err)
			}

			backend, err := store.New(cfg.Store)
			if err != nil {
				return err
			}
			defer backend.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
			defer cancel()
			if err := backend.Ping(ctx); err != nil {
				return fmt.Errorf("store %s: %w", cfg.Store.Type, err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Configuration OK (%s)\n", source)
			fmt.Fprintf(out, "  store:     %s\n", cfg.Store.Type)
			fmt.Fprintf(out, "  generator: %s/%s\n", cfg.Generator.Provider, cfg.Generator.Model)
			fmt.Fprintf(out, "  port:      %d\n", cfg.Server.Port)
			return nil
		},
	}
	cmd.Flags().StringP("config", "c", "", "path to config file or embedded preset name")
	return cmd
}

// resolveServeConfig resolves the config for the serve command.
// Checks: user flag -> filesystem locations -> embedded configs.
// Returns raw bytes and source description.
func resolveServeConfig(userConfig string) ([]byte, string, error) {
	// A user-specified path wins; otherwise it may name an embedded preset.
	if userConfig != "" {
		if data, err := os.ReadFile(userConfig); err == nil {
			return data, userConfig, nil
		}
		if data, err := getEmbeddedConfig(userConfig); err == nil {
			return data, "(embedded) " + userConfig, nil
		}
		names, _ := listEmbeddedConfigs()
		return nil, "", fmt.Errorf("config file not found: %s (embedded presets: %s)", userConfig, strings.Join(names, ", "))
	}

	homeDir, _ := os.UserHomeDir()

	// Search filesystem in order of preference
	searchPaths := []string{}
	if homeDir != "" {
		searchPaths = append(searchPaths, filepath.Join(homeDir, ".config", "reply-gateway", "config.yaml"))
	}
	searchPaths = append(searchPaths, "configs/config.yaml", "config.yaml")

	for _, path := range searchPaths {
		if data, err := os.ReadFile(path); err == nil {
			return data, path, nil
		}
	}

	// Fall back to embedded config
	if data, err := getEmbeddedConfig("config"); err == nil {
		return data, "(embedded) config.yaml", nil
	}

	return nil, "", fmt.Errorf("no config file found. Specify --config path")
}

// loadConfig resolves and parses the configuration.
func loadConfig(userConfig string) (*config.Config, string, error) {
	data, source, err := resolveServeConfig(userConfig)
	if err != nil {
		return nil, "", err
	}
	cfg, err := config.LoadFromBytes(data)
	if err != nil {
		return nil, source, fmt.Errorf("%s: %w", source, err)
	}
	return cfg, source, nil
}

// runServer starts the gateway and blocks until it stops.
func runServer(configPath string, debug, noBanner bool) error {
	loadEnvFiles()

	if !noBanner {
		printBanner()
	}

	// Console logging until the configured logger takes over.
	setupLogging(debug)

	cfg, source, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if debug {
		cfg.Monitoring.LogLevel = "debug"
	}
	monitoring.Global(cfg.Monitoring.Logger())

	log.Info().
		Str("version", Version).
		Str("config", source).
		Msg("Reply Gateway starting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	gw, err := gateway.New(ctx, cfg)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() { errCh <- gw.Start() }()

	select {
	case err := <-errCh:
		_ = gw.Shutdown(context.Background())
		return err
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := gw.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("gateway shutdown error")
	}
	if err := <-errCh; err != nil {
		return err
	}

	log.Info().Msg("Reply Gateway stopped")
	return nil
}

// setupLogging configures zerolog for startup output.
func setupLogging(debug bool) {
	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}
	log.Logger = zerolog.New(zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}).Level(level).With().Timestamp().Logger()
}

package main

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/dokzlo13/huebridge/internal/app"
	"github.com/dokzlo13/huebridge/internal/config"
)

var (
	// Global flags
	configPath string

	// Set during PersistentPreRun
	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "huebridge",
	Short: "Emulated Hue bridges for custom lights and sensors",
	Long: `huebridge runs one or more emulated Hue bridges that expose custom lights
and sensors to Hue clients over the bridge REST API, with rules, schedules
and a daylight sensor evaluated locally.

Without a subcommand it behaves like "huebridge serve".`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Annotations["config"] == "none" {
			setupLogging("info", false, true)
			return nil
		}
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		setupLogging(cfg.Log.Level, cfg.Log.JSON, cfg.Log.Colors)
		return nil
	},
	RunE: runServe,
}

var resetState bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the configured bridges until interrupted",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	log.Info().Str("config", configPath).Msg("Starting huebridge")

	// Handle reset state flag before any bridge loads its state
	if resetState {
		log.Info().Msg("Clearing stored bridge state (--reset-state)")
		for i := range cfg.Bridges {
			if err := withDatastore(app.BridgeConfig(cfg, i).Network.MAC, clearState); err != nil {
				log.Warn().Err(err).Msg("Failed to clear bridge state")
			}
		}
	}

	// Create application
	application, err := app.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	// Serve until SIGINT or SIGTERM
	if err := application.Run(app.SignalContext()); err != nil {
		return fmt.Errorf("huebridge: %w", err)
	}
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "Path to configuration file")
	for _, c := range []*cobra.Command{rootCmd, serveCmd} {
		c.Flags().BoolVar(&resetState, "reset-state", false, "Clear stored bridge state on startup")
	}
	rootCmd.AddCommand(serveCmd)
}

func setupLogging(level string, useJSON bool, colors bool) {
	// ISO 8601 format with timezone
	zerolog.TimeFieldFormat = time.RFC3339

	if useJSON {
		// JSON output for production
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	} else {
		// Text output (with optional colors)
		log.Logger = log.Output(zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: "2006-01-02T15:04:05.000Z07:00",
			NoColor:    !colors,
		})
	}

	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

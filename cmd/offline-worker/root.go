package main

import (
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	// Global flags.
	configFilenameFlag string
	verbosityDebugFlag bool
	verbosityTraceFlag bool
	logFilenameFlag    string
	originFlag         string
	hostFlag           string
	dbFilenameFlag     string
)

var rootCmd = &cobra.Command{
	Use:   "offline-worker",
	Short: "Keep a web application usable without a network",
	Long: `offline-worker sits between a web application and its origin.

It pre-caches the application shell in versioned generations, answers
requests from the cache or the network depending on the strategy preset,
and keeps cached API data fresh in the background.

Examples:
  # Serve with a config file
  offline-worker serve --config worker.yaml

  # Pre-cache the shell and activate it
  offline-worker install --origin https://lern-oase.example --db cache.db

  # List the generations in the store
  offline-worker generations --db cache.db`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return setupLogging()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFilenameFlag, "config", "", "Path to config file")
	rootCmd.PersistentFlags().BoolVarP(&verbosityDebugFlag, "verbose", "v", false, "Verbosity: debug logging")
	rootCmd.PersistentFlags().BoolVar(&verbosityTraceFlag, "vv", false, "Verbosity: trace logging")
	rootCmd.PersistentFlags().StringVar(&logFilenameFlag, "log-file", "", "Log file to use (in addition to stdout)")
	rootCmd.PersistentFlags().StringVar(&originFlag, "origin", "", "Origin URL to proxy to (overrides config)")
	rootCmd.PersistentFlags().StringVar(&hostFlag, "host", "", "Hostname of origin (overrides config)")
	rootCmd.PersistentFlags().StringVar(&dbFilenameFlag, "db", "", "Cache DB file name, 'memory' for an in-memory db (overrides config)")
}

func setupLogging() error {
	logLevel := zerolog.InfoLevel
	if verbosityDebugFlag {
		logLevel = zerolog.DebugLevel
	}
	if verbosityTraceFlag {
		logLevel = zerolog.TraceLevel
	}

	// set up log output to stdout
	// also output to logfile if specified
	logOutputs := []io.Writer{zerolog.ConsoleWriter{Out: os.Stdout}}
	if logFilenameFlag != "" {
		logFileOutput, err := os.OpenFile(logFilenameFlag, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0644)
		if err != nil {
			return err
		}
		logOutputs = append(logOutputs, logFileOutput)
	}
	multiWriter := zerolog.MultiLevelWriter(logOutputs...)
	log.Logger = log.Level(logLevel).Output(multiWriter).
		With().Str("version", version).Logger()
	return nil
}

// loadConfig reads the config file if one was given and applies the flag overrides.
func loadConfig(cmd *cobra.Command) (Config, error) {
	config := defaultConfig()
	if configFilenameFlag != "" {
		var err error
		if config, err = readConfig(configFilenameFlag); err != nil {
			return config, err
		}
	}
	flags := cmd.Flags()
	if flags.Changed("origin") {
		config.Origin = originFlag
	}
	if flags.Changed("host") {
		config.Host = hostFlag
	}
	if flags.Changed("db") {
		config.DB = dbFilenameFlag
	}
	return config, config.validate()
}

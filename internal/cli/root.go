package cli

import (
	"github.com/spf13/cobra"

	"github.com/soyeahso/chatwidget/internal/config"
	"github.com/soyeahso/chatwidget/internal/logging"
)

var (
	cfgFile  string
	logLevel string

	// loaded at init time
	paths    config.Paths
	cfg      config.Config
	cfgErr   error
	log      *logging.Logger
	closeLog = func() error { return nil }
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chatwidget",
		Short: "chatwidget: embeddable chat client engine and hosts",
		Long: "chatwidget talks to a conversational backend on behalf of a user. It can be " +
			"driven from a terminal, served to web pages over WebSocket, or bridged into IRC.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			paths, err = config.ResolvePaths()
			if err != nil {
				return err
			}
			if cfgFile != "" {
				paths.Config = cfgFile
			}

			// A broken config file must not lock users out of `config set`;
			// commands that need it call loadConfig.
			cfg, cfgErr = config.Load(paths.Config)
			if cfgErr != nil {
				cfg = config.Defaults()
			}

			return openLogger(logLevel)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return closeLog()
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.chatwidget/config.yaml)")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (trace, debug, info, warn, error, fatal, silent)")

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newChatCmd())
	cmd.AddCommand(newMessageCmd())
	cmd.AddCommand(newGatewayCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newHistoryCmd())

	return cmd
}

// openLogger (re)creates the root logger. level overrides logging.level.
func openLogger(level string) error {
	if level == "" {
		level = cfg.Logging.Level
	}
	if level == "" {
		level = "info"
	}
	closeLog()

	l, closer, err := logging.Open(logging.Options{
		Level: level,
		Style: cfg.Logging.ConsoleStyle,
		File:  cfg.Logging.File,
	})
	if err != nil {
		return err
	}
	log, closeLog = l, closer
	return nil
}

// loadConfig returns the config loaded at startup, or the error that
// prevented loading it.
func loadConfig() (config.Config, error) {
	if cfgErr != nil {
		return config.Config{}, cfgErr
	}
	return cfg, nil
}

// Execute runs the root command.
func Execute() error {
	return newRootCmd().Execute()
}

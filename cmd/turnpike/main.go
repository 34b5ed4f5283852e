package main

import (
	"context"
	"os"

	"github.com/go-go-golems/turnpike/cmd/turnpike/cmds"
	"github.com/go-go-golems/turnpike/pkg/config"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "turnpike",
	Short: "turnpike runs conversational agent turns against an LLM backend",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// reinitialize the logger because we can now parse --log-level and co
		// from the command line flag
		return config.InitLoggerFromViper()
	},
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func init() {
	config.AddLoggingFlags(rootCmd)
	config.AddFlags(rootCmd)
	rootCmd.PersistentFlags().String("config", "", "Path to config file (default ~/.turnpike/config.yaml)")

	// parse the flags one time just to catch --config
	configFile := ""
	for idx, arg := range os.Args {
		if arg == "--config" && len(os.Args) > idx+1 {
			configFile = os.Args[idx+1]
		}
	}

	if err := config.InitViper(rootCmd, configFile); err != nil {
		log.Fatal().Err(err).Msg("could not load configuration")
	}
	// this still won't pick up on --verbose, but at least it configures
	// logging from the config file
	if err := config.InitLoggerFromViper(); err != nil {
		log.Fatal().Err(err).Msg("could not initialize logger")
	}

	rootCmd.AddCommand(
		cmds.NewChatCommand(),
		cmds.NewRunCommand(),
		cmds.NewTokensCommand(),
		cmds.NewCheckpointsCommand(),
		cmds.NewEmbedCommand(),
	)
}

package cli

import (
	"github.com/spf13/cobra"

	"github.com/neboloop/nexus/internal/config"
	"github.com/neboloop/nexus/internal/db/migrations"
	"github.com/neboloop/nexus/internal/handler"
	"github.com/neboloop/nexus/internal/logging"
)

// Shared CLI flags (used across multiple command files)
var (
	cfgFile string
	verbose bool
)

// ServerConfig holds the loaded configuration (set by main)
var ServerConfig *config.Config

// Version is the build version (set by main)
var Version = "dev"

// SetupRootCmd configures the root command with all subcommands and flags
func SetupRootCmd(c *config.Config) *cobra.Command {
	ServerConfig = c
	handler.Version = Version

	rootCmd := &cobra.Command{
		Use:   "nexus",
		Short: "Nexus - one front door for Gemini and friends",
		Long: `Nexus sends a question to the configured backend and returns one reply.

Backends: the Gemini web app (signed-in browser session, default),
the Gemini API, any OpenAI-compatible endpoint, or Anthropic.
Choose one with 'nexus config set provider <web|official|openai|anthropic>'.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logging.SetVerbose(verbose)
			migrations.QuietMode = !verbose
			if cfgFile != "" {
				return ServerConfig.MergeFile(cfgFile)
			}
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "extra config file layered over the defaults")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(AskCmd())
	rootCmd.AddCommand(ServeCmd())
	rootCmd.AddCommand(SessionCmd())
	rootCmd.AddCommand(ContextCmd())
	rootCmd.AddCommand(ConfigCmd())
	rootCmd.AddCommand(AccountsCmd())
	rootCmd.AddCommand(TokenCmd())
	rootCmd.AddCommand(ErrorsCmd())

	return rootCmd
}

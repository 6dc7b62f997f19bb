// Package cli implements the lspsync command line interface.
package cli

import (
	"github.com/spf13/cobra"

	"lspsync/src/internal/common"
)

const (
	CmdCheck   = "check"
	CmdConfig  = "config"
	CmdServers = "servers"
	FlagConfig = "config"
	FlagWait   = "wait"
)

var (
	configPath string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "lspsync",
	Short: "lspsync - editor-side LSP client and document synchronizer",
	Long: `lspsync keeps editor buffers synchronized with language servers over the
Language Server Protocol and collects the diagnostics they publish.

AVAILABLE COMMANDS:
  lspsync check <files...>    # Open files against their language servers and print diagnostics
  lspsync servers             # Show which configured language servers are installed
  lspsync config show         # Print the effective configuration
  lspsync config generate     # Write a default configuration file

SUPPORTED LANGUAGES:
  - Go (gopls)
  - Python (pylsp, jedi-language-server, pyright)
  - TypeScript/JavaScript (typescript-language-server)
  - Zig (zls)
  - Rust (rust-analyzer)

Use 'lspsync <command> --help' for detailed command information.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, FlagConfig, "", "path to configuration file")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "enable debug logging")

	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(serversCmd)
}

// Execute runs the root command.
func Execute() error {
	cobra.OnInitialize(func() {
		if verbose {
			common.LSPLogger.SetLevel(common.LogDebug)
			common.SyncLogger.SetLevel(common.LogDebug)
			common.CLILogger.SetLevel(common.LogDebug)
		}
	})
	return rootCmd.Execute()
}

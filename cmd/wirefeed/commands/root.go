// Package commands implements the CLI commands for wirefeed.
package commands

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jmylchreest/wirefeed/internal/logger"
)

var rootCmd = &cobra.Command{
	Use:   "wirefeed",
	Short: "Turn news listing pages into an RSS feed",
	Long: `Wirefeed reads news section pages, follows each new headline to its
article, extracts the body text and lead image, and appends the results
to an RSS 2.0 file that grows across runs.

Pages are fetched through FlareSolverr by default. A plain HTTP client,
a headless Chrome and a supervised BotBrowser are also available.

Examples:
  # Scrape every built-in source into feed.xml
  wirefeed scrape

  # Only Reuters World, through a local headless Chrome
  wirefeed scrape -s reuters-world --fetch-mode browser --stealth

  # Save one page for offline work, then turn its headlines into a feed
  wirefeed fetch https://www.reuters.com/world/ -o opinion.html
  wirefeed parse opinion.html --feed article.xml`,
	SilenceUsage:      true,
	PersistentPreRunE: setupLogging,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		closeDebugLog()
	},
}

var debugLog io.Closer

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().String("config", "", "config file (default $HOME/.wirefeed.yaml)")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolP("quiet", "q", false, "suppress progress output")
	rootCmd.PersistentFlags().Bool("json-log", false, "log as JSON")
	rootCmd.PersistentFlags().String("debug-log", "", "also write debug logs to this file")

	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	_ = viper.BindPFlag("quiet", rootCmd.PersistentFlags().Lookup("quiet"))
	_ = viper.BindPFlag("json-log", rootCmd.PersistentFlags().Lookup("json-log"))
	_ = viper.BindPFlag("debug-log", rootCmd.PersistentFlags().Lookup("debug-log"))
}

func initConfig() {
	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(home)
		}
		viper.AddConfigPath(".")
		viper.SetConfigName(".wirefeed")
		viper.SetConfigType("yaml")
	}

	// Environment variables, e.g. WIREFEED_FLARESOLVERR_URL
	viper.SetEnvPrefix("WIREFEED")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	// Read config file (ignore error if not found)
	_ = viper.ReadInConfig()
}

func setupLogging(cmd *cobra.Command, args []string) error {
	opts := logger.Options{
		Debug: viper.GetBool("debug"),
		Quiet: viper.GetBool("quiet"),
		JSON:  viper.GetBool("json-log"),
	}
	if path := viper.GetString("debug-log"); path != "" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644) //#nosec G304 -- user-specified log file
		if err != nil {
			return fmt.Errorf("failed to open debug log: %w", err)
		}
		debugLog = f
		opts.DebugFile = f
	}
	logger.Init(opts)

	if used := viper.ConfigFileUsed(); used != "" {
		logger.Debug("config file loaded", "path", used)
	}
	return nil
}

func closeDebugLog() {
	if debugLog != nil {
		_ = debugLog.Close()
		debugLog = nil
	}
}

// bindFlags binds a command's local flags to viper under their flag names,
// so each can also be set from the config file or environment. Binding
// happens when the command runs because several commands share flag names.
func bindFlags(cmd *cobra.Command, args []string) error {
	return viper.BindPFlags(cmd.Flags())
}

// Execute runs the root command.
func Execute() error {
	defer closeDebugLog()
	return rootCmd.Execute()
}

package commands

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	clifetcher "github.com/jmylchreest/wirefeed/cmd/wirefeed/fetcher"
	"github.com/jmylchreest/wirefeed/internal/botbrowser"
	"github.com/jmylchreest/wirefeed/internal/logger"
	"github.com/jmylchreest/wirefeed/pkg/fetcher"
)

// addFetchFlags registers the backend flags shared by scrape and fetch.
func addFetchFlags(cmd *cobra.Command) {
	defaults := clifetcher.DefaultConfig()
	bb := botbrowser.DefaultConfig()

	modes := make([]string, len(clifetcher.Modes))
	for i, m := range clifetcher.Modes {
		modes[i] = string(m)
	}

	flags := cmd.Flags()
	flags.StringP("fetch-mode", "f", string(clifetcher.ModeFlareSolverr), "fetch mode: "+strings.Join(modes, ", "))
	flags.Duration("timeout", defaults.Timeout, "page load timeout")
	flags.Int("retries", defaults.Retries, "attempts per page (1 disables retrying)")
	flags.Duration("retry-delay", defaults.RetryDelay, "delay between attempts")
	flags.String("user-agent", "", "override the user agent")
	flags.Bool("googlebot", false, "spoof Googlebot user-agent (browser mode)")
	flags.String("max-body-size", "", "max response size for static mode (e.g., 10MB, 0=default)")
	flags.String("wait-for", "", "CSS selector to wait for before reading the page (browser modes)")
	flags.Duration("wait", 0, "extra wait after the page loads (browser modes)")

	// FlareSolverr
	flags.String("flaresolverr-url", defaults.FlareSolverrURL, "FlareSolverr API URL")
	flags.Duration("flaresolverr-max-timeout", defaults.FlareSolverrMaxTimeout, "FlareSolverr challenge timeout")
	flags.Bool("flaresolverr-sessions", false, "reuse one FlareSolverr browser session per domain")

	// Headless Chrome
	flags.String("chrome-path", "", "Chrome executable (default: search common locations)")
	flags.Bool("stealth", false, "enable anti-bot detection evasion (browser mode)")
	flags.String("screenshot-dir", "", "save a screenshot here when a browser fetch fails")

	// BotBrowser
	flags.String("botbrowser-binary", "", "BotBrowser executable")
	flags.String("botbrowser-profile", "", "BotBrowser profile file")
	flags.String("botbrowser-user-data-dir", "", "BotBrowser user data directory")
	flags.Int("botbrowser-port", bb.Port, "BotBrowser remote debugging port")
	flags.Bool("botbrowser-headless", bb.Headless, "run BotBrowser headless")
	flags.StringSlice("botbrowser-arg", nil, "extra BotBrowser argument (can be repeated)")
	flags.Duration("botbrowser-startup-timeout", bb.StartupTimeout, "how long to wait for the debugging port")
	flags.Int("max-restarts", defaults.MaxRestarts, "browser restarts per page before giving up (botbrowser mode)")
	flags.Duration("wait-stable", defaults.WaitStable, "DOM quiet period before reading the page (botbrowser mode)")
}

// fetchConfig reads the backend flags from viper.
func fetchConfig() (clifetcher.Mode, clifetcher.Config, error) {
	mode, err := clifetcher.ParseMode(viper.GetString("fetch-mode"))
	if err != nil {
		return "", clifetcher.Config{}, err
	}

	cfg := clifetcher.DefaultConfig()
	cfg.Timeout = viper.GetDuration("timeout")
	cfg.Retries = viper.GetInt("retries")
	cfg.RetryDelay = viper.GetDuration("retry-delay")
	if ua := viper.GetString("user-agent"); ua != "" {
		cfg.UserAgent = ua
	}
	cfg.Googlebot = viper.GetBool("googlebot")

	if s := strings.TrimSpace(viper.GetString("max-body-size")); s != "" && s != "0" {
		n, err := humanize.ParseBytes(s)
		if err != nil {
			return "", cfg, fmt.Errorf("invalid max-body-size %q: %w", s, err)
		}
		cfg.MaxBodySize = int(n)
	}

	cfg.FlareSolverrURL = viper.GetString("flaresolverr-url")
	cfg.FlareSolverrMaxTimeout = viper.GetDuration("flaresolverr-max-timeout")
	cfg.FlareSolverrSessions = viper.GetBool("flaresolverr-sessions")

	cfg.ChromePath = viper.GetString("chrome-path")
	cfg.Stealth = viper.GetBool("stealth")
	cfg.ScreenshotDir = viper.GetString("screenshot-dir")

	cfg.BotBrowser.Binary = viper.GetString("botbrowser-binary")
	cfg.BotBrowser.ProfilePath = viper.GetString("botbrowser-profile")
	cfg.BotBrowser.UserDataDir = viper.GetString("botbrowser-user-data-dir")
	cfg.BotBrowser.Port = viper.GetInt("botbrowser-port")
	cfg.BotBrowser.Headless = viper.GetBool("botbrowser-headless")
	cfg.BotBrowser.ExtraArgs = viper.GetStringSlice("botbrowser-arg")
	cfg.BotBrowser.StartupTimeout = viper.GetDuration("botbrowser-startup-timeout")
	if viper.GetBool("debug") {
		cfg.BotBrowser.Stderr = logWriter{}
	}
	cfg.MaxRestarts = viper.GetInt("max-restarts")
	cfg.WaitStable = viper.GetDuration("wait-stable")

	return mode, cfg, nil
}

// fetchOptions builds the per-request options.
func fetchOptions(cfg clifetcher.Config) fetcher.Options {
	return fetcher.Options{
		Timeout:         cfg.Timeout,
		WaitForSelector: viper.GetString("wait-for"),
		WaitDuration:    viper.GetDuration("wait"),
	}
}

// newFetcher builds the configured backend.
func newFetcher(ctx context.Context) (fetcher.Fetcher, clifetcher.Config, error) {
	mode, cfg, err := fetchConfig()
	if err != nil {
		return nil, cfg, err
	}
	logger.Debug("fetch settings",
		"mode", mode,
		"timeout", cfg.Timeout,
		"retries", cfg.Retries,
		"max_body_size", humanize.Bytes(uint64(cfg.MaxBodySize)))

	started := time.Now()
	f, err := clifetcher.New(ctx, mode, cfg)
	if err != nil {
		return nil, cfg, fmt.Errorf("failed to create %s fetcher: %w", mode, err)
	}
	logger.Debug("fetcher created", "type", f.Type(), "took", time.Since(started))
	return f, cfg, nil
}

// logWriter forwards a child process's output lines to the debug log.
type logWriter struct{}

func (logWriter) Write(p []byte) (int, error) {
	for _, line := range strings.Split(strings.TrimRight(string(p), "\n"), "\n") {
		if line != "" {
			logger.Debug("botbrowser", "stderr", line)
		}
	}
	return len(p), nil
}

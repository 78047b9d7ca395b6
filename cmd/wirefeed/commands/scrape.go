package commands

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jmylchreest/wirefeed/internal/logger"
	"github.com/jmylchreest/wirefeed/internal/output"
	"github.com/jmylchreest/wirefeed/internal/pipeline"
	"github.com/jmylchreest/wirefeed/pkg/feed"
)

var scrapeCmd = &cobra.Command{
	Use:   "scrape",
	Short: "Scrape sources and update the feed",
	Long: `Fetch each source's listing page, follow every headline not yet in
the feed, extract the article and append it to the RSS file. The oldest
items are dropped once the feed holds more than --max-items.

A listing page that cannot be fetched skips its source. An article that
cannot be fetched is left out unless --require-description=false, in
which case it is added with an empty description.

Examples:
  # All enabled sources through FlareSolverr
  wirefeed scrape --feed pau.xml

  # Two sources, four pages at a time, at most one request per second
  wirefeed scrape -s reuters-world -s apnews-world -c 4 --delay 1s

  # Supervised BotBrowser, keeping listing snapshots for debugging
  wirefeed scrape -f botbrowser --botbrowser-binary /opt/botbrowser/chrome \
      --botbrowser-profile profile.enc --snapshot-dir snapshots`,
	PreRunE: bindFlags,
	RunE:    runScrape,
}

func init() {
	rootCmd.AddCommand(scrapeCmd)

	defaults := pipeline.DefaultConfig()
	flags := scrapeCmd.Flags()

	addSourceFlags(scrapeCmd)
	addFeedFlags(scrapeCmd)
	addFetchFlags(scrapeCmd)

	flags.Bool("require-description", defaults.RequireDescription, "skip articles whose text could not be extracted")
	flags.Bool("refetch-known", false, "fetch articles already in the feed (they are still not added twice)")
	flags.IntP("concurrency", "c", defaults.Concurrency, "concurrent article fetches")
	flags.Duration("delay", defaults.Delay, "minimum delay between article fetches")
	flags.String("snapshot-dir", "", "save each listing page here as <source>.html")
	flags.Bool("dry-run", false, "do everything except write the feed")

	flags.StringP("output", "o", "", "write the run report to this file (default: stdout)")
	flags.String("format", string(output.FormatTable), "report format: table, json, jsonl, yaml")
}

// addFeedFlags registers the feed file flags shared by scrape and parse.
func addFeedFlags(cmd *cobra.Command) {
	defaults := pipeline.DefaultConfig()
	flags := cmd.Flags()
	flags.String("feed", defaults.FeedPath, "RSS file to update")
	flags.Int("max-items", defaults.MaxItems, "items kept in the feed (0=unlimited)")
	flags.String("feed-title", feed.DefaultChannel.Title, "channel title for a new feed")
	flags.String("feed-link", feed.DefaultChannel.Link, "channel link for a new feed")
	flags.String("feed-description", feed.DefaultChannel.Description, "channel description for a new feed")
}

func channelInfo() feed.ChannelInfo {
	return feed.ChannelInfo{
		Title:       viper.GetString("feed-title"),
		Link:        viper.GetString("feed-link"),
		Description: viper.GetString("feed-description"),
	}
}

func runScrape(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger.Debug("scrape command starting")

	sources, err := selectedSources()
	if err != nil {
		logger.Error("failed to select sources", "error", err)
		return err
	}
	logger.Debug("sources selected", "count", len(sources))

	format, err := output.ParseFormat(viper.GetString("format"))
	if err != nil {
		return err
	}
	outPath := viper.GetString("output")
	if outPath != "" {
		format = output.FormatFromPath(outPath, format)
	}

	f, fetchCfg, err := newFetcher(ctx)
	if err != nil {
		logger.Error("failed to create fetcher", "error", err)
		return err
	}
	defer func() { _ = f.Close() }()

	cfg := pipeline.DefaultConfig()
	cfg.FeedPath = viper.GetString("feed")
	cfg.MaxItems = viper.GetInt("max-items")
	cfg.Channel = channelInfo()
	cfg.RequireDescription = viper.GetBool("require-description")
	cfg.SkipKnown = !viper.GetBool("refetch-known")
	cfg.Concurrency = viper.GetInt("concurrency")
	cfg.Delay = viper.GetDuration("delay")
	cfg.SnapshotDir = viper.GetString("snapshot-dir")
	cfg.DryRun = viper.GetBool("dry-run")
	cfg.Fetch = fetchOptions(fetchCfg)

	logger.Info("starting scrape",
		"sources", len(sources),
		"fetcher", f.Type(),
		"feed", cfg.FeedPath,
		"concurrency", cfg.Concurrency,
		"delay", cfg.Delay)

	report, err := pipeline.New(f, sources, cfg).Run(ctx)
	if err != nil {
		logger.Error("scrape failed", "error", err)
		return err
	}

	logger.Info("scrape complete",
		"added", report.Result.Added,
		"failed", report.Failed(),
		"items", report.Items,
		"elapsed", report.Elapsed)

	out, err := outputFile(outPath)
	if err != nil {
		return err
	}
	var w io.Writer = cmd.OutOrStdout()
	if out != nil {
		defer func() { _ = out.Close() }()
		w = out
	}
	return writeReport(w, format, report)
}

// writeReport prints the per-source and per-article tables, or the whole
// report for structured formats.
func writeReport(w io.Writer, format output.Format, report *pipeline.Report) error {
	if format != output.FormatTable {
		ow, err := output.NewWriter(w, format)
		if err != nil {
			return err
		}
		return output.WriteAll(ow, []*pipeline.Report{report})
	}

	if len(report.Sources) > 0 {
		if err := output.WriteAll(output.NewTableWriter(w), report.Sources); err != nil {
			return err
		}
	}
	if len(report.Articles) > 0 {
		if _, err := fmt.Fprintln(w); err != nil {
			return err
		}
		if err := output.WriteAll(output.NewTableWriter(w), report.Articles); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintf(w, "\nadded %d, duplicates %d, skipped %d, trimmed %d, %d items in %s\n",
		report.Result.Added, report.Result.Duplicates, report.Result.Skipped,
		report.Trimmed, report.Items, report.Feed)
	return err
}

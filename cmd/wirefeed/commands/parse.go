package commands

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jmylchreest/wirefeed/internal/logger"
	"github.com/jmylchreest/wirefeed/internal/pipeline"
	"github.com/jmylchreest/wirefeed/internal/source"
	"github.com/jmylchreest/wirefeed/pkg/feed"
)

var parseCmd = &cobra.Command{
	Use:   "parse FILE",
	Short: "Add the headlines of a saved listing page to the feed",
	Long: `Read a listing page saved with "wirefeed fetch" and add its headlines
to the feed without fetching any article. Items get an empty description
and the current time as publication date. The default rules keep only
Reuters headlines inside a Title block that carry a heading span.

Examples:
  wirefeed parse opinion.html --feed article.xml
  wirefeed parse ap.html -s apnews-world`,
	Args:    cobra.ExactArgs(1),
	PreRunE: bindFlags,
	RunE:    runParse,
}

func init() {
	rootCmd.AddCommand(parseCmd)

	addFeedFlags(parseCmd)
	parseCmd.Flags().String("sources-file", "", "YAML or JSON file with extra or replacement sources")
	parseCmd.Flags().StringP("source", "s", "reuters-headlines", "source whose listing rules apply")
	parseCmd.Flags().Bool("dry-run", false, "parse and report without writing the feed")
}

func runParse(cmd *cobra.Command, args []string) error {
	all, err := loadSources()
	if err != nil {
		return err
	}
	selected, err := source.Select(all, []string{viper.GetString("source")})
	if err != nil {
		return err
	}
	src := selected[0]

	articles, err := pipeline.ParseListingFile(args[0], src)
	if err != nil {
		logger.Error("failed to parse listing", "path", args[0], "error", err)
		return err
	}

	path := viper.GetString("feed")
	f, err := feed.Load(path, channelInfo())
	if err != nil {
		return err
	}

	entries := make([]feed.Entry, 0, len(articles))
	for _, a := range articles {
		entries = append(entries, a.Entry())
	}
	res := f.Add(entries, feed.AddOptions{})
	trimmed := f.Trim(viper.GetInt("max-items"))

	if !viper.GetBool("dry-run") {
		if err := f.Save(path); err != nil {
			logger.Error("failed to save feed", "path", path, "error", err)
			return err
		}
	}
	logger.Info("feed updated", "path", path, "added", res.Added, "duplicates", res.Duplicates, "trimmed", trimmed)

	_, err = fmt.Fprintf(cmd.OutOrStdout(), "added %d, duplicates %d, trimmed %d, %d items in %s\n",
		res.Added, res.Duplicates, trimmed, f.Len(), path)
	return err
}

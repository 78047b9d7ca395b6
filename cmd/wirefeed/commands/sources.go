package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jmylchreest/wirefeed/internal/logger"
	"github.com/jmylchreest/wirefeed/internal/output"
	"github.com/jmylchreest/wirefeed/internal/source"
)

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "List the configured news sources",
	Long: `List the sources a scrape would use: the built-in sites merged with
any sources file. Disabled sources are shown with --all.

Examples:
  wirefeed sources
  wirefeed sources --sources-file my-sites.yaml --format yaml`,
	PreRunE: bindFlags,
	RunE:    runSources,
}

func init() {
	rootCmd.AddCommand(sourcesCmd)

	flags := sourcesCmd.Flags()
	addSourceFlags(sourcesCmd)
	flags.Bool("all", false, "include disabled sources")
	flags.String("format", string(output.FormatTable), "output format: table, json, jsonl, yaml")
}

// addSourceFlags registers the flags that pick sources.
func addSourceFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.String("sources-file", "", "YAML or JSON file with extra or replacement sources")
	flags.StringSliceP("source", "s", nil, "source name to use (can be repeated, default: all enabled)")
}

// loadSources returns the built-in sources merged with the sources file.
func loadSources() ([]source.Source, error) {
	all := source.Builtin()
	if path := viper.GetString("sources-file"); path != "" {
		extra, err := source.LoadFile(path)
		if err != nil {
			return nil, err
		}
		all = source.Merge(all, extra)
		logger.Debug("sources file loaded", "path", path, "sources", len(extra))
	}
	return all, nil
}

// selectedSources applies --source to the effective source list.
func selectedSources() ([]source.Source, error) {
	all, err := loadSources()
	if err != nil {
		return nil, err
	}
	selected, err := source.Select(all, viper.GetStringSlice("source"))
	if err != nil {
		return nil, err
	}
	if len(selected) == 0 {
		return nil, fmt.Errorf("no sources selected")
	}
	return selected, nil
}

// sourceRow is one line of the sources listing.
type sourceRow struct {
	Name        string `json:"name" yaml:"name"`
	Title       string `json:"title" yaml:"title"`
	ListingURL  string `json:"listing_url" yaml:"listing_url"`
	MaxArticles int    `json:"max_articles,omitempty" yaml:"max_articles,omitempty"`
	Disabled    bool   `json:"disabled,omitempty" yaml:"disabled,omitempty"`
}

func (r sourceRow) Header() []string {
	return []string{"NAME", "TITLE", "LISTING", "MAX", "ENABLED"}
}

func (r sourceRow) Cells() []string {
	limit := "-"
	if r.MaxArticles > 0 {
		limit = strconv.Itoa(r.MaxArticles)
	}
	return []string{r.Name, r.Title, r.ListingURL, limit, strconv.FormatBool(!r.Disabled)}
}

func runSources(cmd *cobra.Command, args []string) error {
	all, err := loadSources()
	if err != nil {
		logger.Error("failed to load sources", "error", err)
		return err
	}

	var list []source.Source
	if names := viper.GetStringSlice("source"); len(names) > 0 {
		if list, err = source.Select(all, names); err != nil {
			return err
		}
	} else if viper.GetBool("all") {
		list = all
	} else {
		list, _ = source.Select(all, nil)
	}

	format, err := output.ParseFormat(viper.GetString("format"))
	if err != nil {
		return err
	}

	rows := make([]sourceRow, 0, len(list))
	for _, s := range list {
		rows = append(rows, sourceRow{
			Name:        s.Name,
			Title:       s.Label(),
			ListingURL:  s.ListingURL,
			MaxArticles: s.MaxArticles,
			Disabled:    s.Disabled,
		})
	}

	if format != output.FormatTable {
		// Structured formats get the full definitions.
		return writeRecords(cmd, format, list)
	}
	if len(rows) == 0 {
		fmt.Fprintln(os.Stderr, "no sources enabled")
		return nil
	}
	return writeRecords(cmd, format, rows)
}

// writeRecords renders records to the command's output.
func writeRecords[T any](cmd *cobra.Command, format output.Format, records []T) error {
	w, err := output.NewWriter(cmd.OutOrStdout(), format)
	if err != nil {
		return err
	}
	return output.WriteAll(w, records)
}

// outputFile opens path for writing, or returns nil for stdout.
func outputFile(path string) (*os.File, error) {
	if path == "" || path == "-" {
		return nil, nil
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create output directory: %w", err)
		}
	}
	f, err := os.Create(path) //#nosec G304 -- CLI tool writes to user-specified output file
	if err != nil {
		return nil, fmt.Errorf("failed to create output file: %w", err)
	}
	return f, nil
}

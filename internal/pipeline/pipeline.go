// Package pipeline runs a scrape: listing pages to candidates, candidates
// to articles, articles into the feed.
package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/sourcegraph/conc/pool"
	"golang.org/x/time/rate"

	"github.com/jmylchreest/wirefeed/internal/logger"
	"github.com/jmylchreest/wirefeed/internal/source"
	"github.com/jmylchreest/wirefeed/pkg/article"
	"github.com/jmylchreest/wirefeed/pkg/feed"
	"github.com/jmylchreest/wirefeed/pkg/fetcher"
	"github.com/jmylchreest/wirefeed/pkg/listing"
)

// Config holds pipeline configuration.
type Config struct {
	FeedPath string
	MaxItems int
	Channel  feed.ChannelInfo

	// RequireDescription drops articles whose body could not be extracted.
	RequireDescription bool
	// SkipKnown avoids fetching articles already in the feed.
	SkipKnown bool

	// Rate limiting
	Concurrency int           // max concurrent article fetches
	Delay       time.Duration // minimum gap between article fetch starts

	// SnapshotDir receives each listing page as <source>.html. Empty disables.
	SnapshotDir string

	// Fetch is the base set of options for every request.
	Fetch fetcher.Options

	// DryRun skips writing the feed.
	DryRun bool
}

// DefaultConfig returns sensible pipeline defaults.
func DefaultConfig() Config {
	return Config{
		FeedPath:           "feed.xml",
		MaxItems:           feed.DefaultMaxItems,
		Channel:            feed.DefaultChannel,
		RequireDescription: true,
		SkipKnown:          true,
		Concurrency:        1,
	}
}

// Article is one candidate after its page has been read.
type Article struct {
	Source      string    `json:"source" yaml:"source"`
	URL         string    `json:"url" yaml:"url"`
	Title       string    `json:"title" yaml:"title"`
	Description string    `json:"description,omitempty" yaml:"description,omitempty"`
	Image       string    `json:"image,omitempty" yaml:"image,omitempty"`
	Published   time.Time `json:"published,omitempty" yaml:"published,omitempty"`
	Method      string    `json:"method,omitempty" yaml:"method,omitempty"`
	Error       string    `json:"error,omitempty" yaml:"error,omitempty"`
	FetchTime   Duration  `json:"fetch_time,omitempty" yaml:"fetch_time,omitempty"`

	thumbnail string
	rules     article.Rules
}

// Header implements output.Row.
func (a Article) Header() []string {
	return []string{"SOURCE", "CHARS", "METHOD", "TITLE", "URL"}
}

// Cells implements output.Row.
func (a Article) Cells() []string {
	method := a.Method
	if a.Error != "" {
		method = "error"
	}
	return []string{a.Source, strconv.Itoa(len(a.Description)), method, truncate(a.Title, 60), a.URL}
}

// Entry converts the article for the feed.
func (a Article) Entry() feed.Entry {
	return feed.Entry{
		Title:       a.Title,
		Link:        a.URL,
		Description: a.Description,
		Image:       a.Image,
		Published:   a.Published,
	}
}

// SourceReport summarises one listing page.
type SourceReport struct {
	Name       string   `json:"name" yaml:"name"`
	URL        string   `json:"url" yaml:"url"`
	Candidates int      `json:"candidates" yaml:"candidates"`
	Queued     int      `json:"queued" yaml:"queued"`
	Error      string   `json:"error,omitempty" yaml:"error,omitempty"`
	FetchTime  Duration `json:"fetch_time,omitempty" yaml:"fetch_time,omitempty"`
}

// Header implements output.Row.
func (s SourceReport) Header() []string {
	return []string{"SOURCE", "CANDIDATES", "QUEUED", "FETCH", "ERROR"}
}

// Cells implements output.Row.
func (s SourceReport) Cells() []string {
	return []string{s.Name, strconv.Itoa(s.Candidates), strconv.Itoa(s.Queued), s.FetchTime.String(), s.Error}
}

// Runner executes the pipeline with one fetcher.
type Runner struct {
	fetcher fetcher.Fetcher
	sources []source.Source
	config  Config
	now     func() time.Time
}

// New creates a new Runner.
func New(f fetcher.Fetcher, sources []source.Source, cfg Config) *Runner {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	return &Runner{
		fetcher: f,
		sources: sources,
		config:  cfg,
		now:     time.Now,
	}
}

// Collect reads every listing page and then every new article. known holds
// links already in the feed. A failed listing skips its source; a failed
// article is kept with an empty description and the listing thumbnail.
// The only error returned is the context's.
func (r *Runner) Collect(ctx context.Context, known map[string]bool) ([]Article, []SourceReport, error) {
	logger.Debug("pipeline starting",
		"sources", len(r.sources),
		"fetcher", r.fetcher.Type(),
		"concurrency", r.config.Concurrency,
		"delay", r.config.Delay)

	var (
		queue   []Article
		reports []SourceReport
		seen    = make(map[string]bool)
	)

	for _, src := range r.sources {
		if err := ctx.Err(); err != nil {
			return nil, reports, err
		}

		rep, cands := r.readListing(ctx, src)
		for _, c := range cands {
			if seen[c.URL] {
				continue
			}
			seen[c.URL] = true
			if r.config.SkipKnown && known[c.URL] {
				logger.Debug("already in feed", "url", c.URL)
				continue
			}
			queue = append(queue, Article{
				Source:    src.Label(),
				URL:       c.URL,
				Title:     c.Title,
				thumbnail: c.Thumbnail,
				rules:     src.Article,
			})
			rep.Queued++
		}
		reports = append(reports, rep)
	}

	logger.Info("total unique articles", "count", len(queue))
	if len(queue) == 0 {
		return nil, reports, nil
	}

	r.readArticles(ctx, queue)
	return queue, reports, ctx.Err()
}

func (r *Runner) readListing(ctx context.Context, src source.Source) (SourceReport, []listing.Candidate) {
	rep := SourceReport{Name: src.Name, URL: src.ListingURL}
	log := logger.With("source", src.Label())
	log.Info("fetching listing", "url", src.ListingURL)

	opts := r.config.Fetch
	if src.WaitFor != "" {
		opts.WaitForSelector = src.WaitFor
	}

	start := r.now()
	content, err := r.fetcher.Fetch(ctx, src.ListingURL, opts)
	rep.FetchTime = Duration(r.now().Sub(start))
	if err != nil {
		log.Warn("failed to fetch listing, skipping source", "error", err)
		rep.Error = err.Error()
		return rep, nil
	}

	if r.config.SnapshotDir != "" {
		if err := r.snapshot(src.Name, content.HTML); err != nil {
			log.Warn("failed to write listing snapshot", "error", err)
		}
	}

	cands, err := listing.Parse(content.HTML, src.Base(), src.Listing)
	if err != nil {
		log.Warn("failed to parse listing, skipping source", "error", err)
		rep.Error = err.Error()
		return rep, nil
	}
	if src.MaxArticles > 0 && len(cands) > src.MaxArticles {
		cands = cands[:src.MaxArticles]
	}
	rep.Candidates = len(cands)
	log.Info("found articles", "count", len(cands))
	return rep, cands
}

func (r *Runner) snapshot(name, html string) error {
	if err := os.MkdirAll(r.config.SnapshotDir, 0o755); err != nil {
		return err
	}
	path := filepath.Join(r.config.SnapshotDir, name+".html")
	if err := os.WriteFile(path, []byte(html), 0o644); err != nil {
		return err
	}
	logger.Debug("listing snapshot written", "path", path, "size", len(html))
	return nil
}

// readArticles fills in each queued article in place. Results keep queue
// order whatever the concurrency.
func (r *Runner) readArticles(ctx context.Context, queue []Article) {
	var limiter *rate.Limiter
	if r.config.Delay > 0 {
		limiter = rate.NewLimiter(rate.Every(r.config.Delay), 1)
	}

	p := pool.New().WithMaxGoroutines(r.config.Concurrency)
	for i := range queue {
		if ctx.Err() != nil {
			break
		}
		a := &queue[i]
		n := i + 1
		p.Go(func() {
			if limiter != nil {
				if err := limiter.Wait(ctx); err != nil {
					a.Error = err.Error()
					a.Image = a.thumbnail
					return
				}
			}
			logger.Info("processing article",
				"source", a.Source,
				"n", n,
				"of", len(queue),
				"title", truncate(a.Title, 60))
			r.readArticle(ctx, a)
		})
	}
	p.Wait()
}

func (r *Runner) readArticle(ctx context.Context, a *Article) {
	start := r.now()
	content, err := r.fetcher.Fetch(ctx, a.URL, r.config.Fetch)
	a.FetchTime = Duration(r.now().Sub(start))
	if err != nil {
		logger.Warn("failed to fetch article", "url", a.URL, "error", err)
		a.Error = err.Error()
		a.Image = a.thumbnail
		return
	}

	res, err := article.Extract(content.HTML, a.URL, a.rules)
	if err != nil {
		logger.Warn("failed to extract article", "url", a.URL, "error", err)
		a.Error = err.Error()
		a.Image = a.thumbnail
		return
	}

	a.Description = res.Text
	a.Method = res.Method
	a.Published = res.Published
	a.Image = res.Image
	if a.Image == "" {
		a.Image = a.thumbnail
	}
	if a.Description == "" {
		logger.Debug("no article text found", "url", a.URL)
	}
}

// ParseListingFile reads a saved listing page and turns its candidates into
// articles without fetching them. Descriptions stay empty.
func ParseListingFile(path string, src source.Source) ([]Article, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read listing: %w", err)
	}
	cands, err := listing.Parse(string(data), src.Base(), src.Listing)
	if err != nil {
		return nil, err
	}
	if src.MaxArticles > 0 && len(cands) > src.MaxArticles {
		cands = cands[:src.MaxArticles]
	}

	out := make([]Article, 0, len(cands))
	for _, c := range cands {
		out = append(out, Article{
			Source: src.Label(),
			URL:    c.URL,
			Title:  c.Title,
			Image:  c.Thumbnail,
		})
	}
	logger.Info("parsed listing file", "path", path, "articles", len(out))
	return out, nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

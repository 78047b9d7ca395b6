package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/jmylchreest/wirefeed/internal/logger"
	"github.com/jmylchreest/wirefeed/pkg/feed"
)

// Duration prints as a rounded time.Duration in reports.
type Duration time.Duration

// String implements fmt.Stringer.
func (d Duration) String() string {
	if d == 0 {
		return "-"
	}
	return time.Duration(d).Round(time.Millisecond).String()
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).Round(time.Millisecond).String()), nil
}

// Report describes one run.
type Report struct {
	Feed      string         `json:"feed" yaml:"feed"`
	Fetcher   string         `json:"fetcher" yaml:"fetcher"`
	Sources   []SourceReport `json:"sources" yaml:"sources"`
	Articles  []Article      `json:"articles" yaml:"articles"`
	Result    feed.AddResult `json:"result" yaml:"result"`
	Trimmed   int            `json:"trimmed" yaml:"trimmed"`
	Items     int            `json:"items" yaml:"items"`
	Saved     bool           `json:"saved" yaml:"saved"`
	StartedAt time.Time      `json:"started_at" yaml:"started_at"`
	Elapsed   Duration       `json:"elapsed" yaml:"elapsed"`
}

// Failed counts articles whose fetch or extraction failed.
func (r Report) Failed() int {
	n := 0
	for _, a := range r.Articles {
		if a.Error != "" {
			n++
		}
	}
	return n
}

// Run loads the feed, collects new articles, appends them, trims the feed
// and writes it back. The feed is saved even when nothing was added so a
// new or recovered feed lands on disk.
func (r *Runner) Run(ctx context.Context) (*Report, error) {
	start := r.now()
	rep := &Report{
		Feed:      r.config.FeedPath,
		Fetcher:   r.fetcher.Type(),
		StartedAt: start,
	}

	f, err := feed.Load(r.config.FeedPath, r.config.Channel)
	if err != nil {
		return nil, err
	}
	logger.Debug("feed loaded", "path", r.config.FeedPath, "items", f.Len())

	articles, sources, err := r.Collect(ctx, f.Links())
	rep.Sources = sources
	rep.Articles = articles
	if err != nil {
		return rep, fmt.Errorf("scrape interrupted: %w", err)
	}

	entries := make([]feed.Entry, 0, len(articles))
	for _, a := range articles {
		entries = append(entries, a.Entry())
	}
	rep.Result = f.Add(entries, feed.AddOptions{
		RequireDescription: r.config.RequireDescription,
		Now:                r.now(),
	})
	rep.Trimmed = f.Trim(r.config.MaxItems)
	rep.Items = f.Len()

	logger.Info("feed updated",
		"added", rep.Result.Added,
		"duplicates", rep.Result.Duplicates,
		"skipped", rep.Result.Skipped,
		"trimmed", rep.Trimmed,
		"items", rep.Items)

	if r.config.DryRun {
		logger.Info("dry run, feed not written", "path", r.config.FeedPath)
	} else {
		if err := f.Save(r.config.FeedPath); err != nil {
			return rep, err
		}
		rep.Saved = true
		logger.Info("feed saved", "path", r.config.FeedPath)
	}

	rep.Elapsed = Duration(r.now().Sub(start))
	return rep, nil
}

package fetcher

import (
	"context"
	"fmt"

	"github.com/jmylchreest/wirefeed/internal/logger"
	"github.com/jmylchreest/wirefeed/pkg/fetcher"
)

// New builds the backend for mode. With cfg.Retries > 1 the backend is
// wrapped so failed fetches are retried.
func New(ctx context.Context, mode Mode, cfg Config) (fetcher.Fetcher, error) {
	var f fetcher.Fetcher
	switch mode {
	case ModeStatic:
		f = fetcher.NewStatic(fetcher.StaticConfig{
			UserAgent:   cfg.UserAgent,
			Timeout:     cfg.Timeout,
			MaxBodySize: cfg.MaxBodySize,
		})
	case ModeFlareSolverr:
		f = NewFlareSolverrFetcher(cfg)
	case ModeBrowser:
		f = NewBrowserFetcher(cfg)
	case ModeBotBrowser:
		bb := NewBotBrowserFetcher(cfg)
		// Start eagerly so a missing binary fails before any scraping.
		if _, _, err := bb.ensureBrowser(ctx); err != nil {
			_ = bb.Close()
			return nil, err
		}
		f = bb
	default:
		return nil, fmt.Errorf("unknown fetch mode %q", mode)
	}

	logger.Debug("fetcher ready", "mode", mode, "retries", cfg.Retries)
	if cfg.Retries > 1 {
		return fetcher.NewRetrying(f, cfg.Retries, cfg.RetryDelay), nil
	}
	return f, nil
}

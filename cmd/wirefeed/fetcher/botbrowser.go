package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/jmylchreest/wirefeed/internal/botbrowser"
	"github.com/jmylchreest/wirefeed/internal/logger"
	"github.com/jmylchreest/wirefeed/pkg/fetcher"
)

// supervisor is the part of botbrowser.Supervisor the fetcher needs.
type supervisor interface {
	Start(ctx context.Context) error
	Restart(ctx context.Context) error
	Stop()
	Running() bool
	DebugURL() string
}

// BotBrowserFetcher drives a BotBrowser process over CDP. When a fetch
// fails the browser is restarted and the fetch tried again, up to
// MaxRestarts times.
type BotBrowserFetcher struct {
	config Config
	sup    supervisor

	mu      sync.Mutex
	browser *rod.Browser
	// gen counts browser relaunches. A failed fetch only restarts the
	// browser generation it ran on.
	gen uint64

	// fetchPage loads one page in the connected browser.
	fetchPage func(ctx context.Context, b *rod.Browser, targetURL string, opts fetcher.Options) (fetcher.Content, error)
	connect   func(controlURL string) (*rod.Browser, error)
}

// NewBotBrowserFetcher creates a fetcher. The browser starts on first use.
func NewBotBrowserFetcher(cfg Config) *BotBrowserFetcher {
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	if cfg.MaxRestarts < 0 {
		cfg.MaxRestarts = 0
	}
	f := &BotBrowserFetcher{
		config:  cfg,
		sup:     botbrowser.NewSupervisor(cfg.BotBrowser),
		connect: connectRod,
	}
	f.fetchPage = f.loadPage
	return f
}

// Fetch loads targetURL, restarting the browser between failed attempts.
// Concurrent fetches share the browser: when one of them restarts it, the
// others retry on the new process instead of restarting it again.
func (f *BotBrowserFetcher) Fetch(ctx context.Context, targetURL string, opts fetcher.Options) (fetcher.Content, error) {
	var (
		lastErr error
		gen     uint64
	)
	for attempt := 0; attempt <= f.config.MaxRestarts; attempt++ {
		if attempt > 0 {
			restarted, err := f.restart(ctx, gen)
			if err != nil {
				return fetcher.Content{URL: targetURL}, err
			}
			if restarted {
				logger.Warn("botbrowser fetch failed, restarted browser",
					"url", targetURL,
					"restart", attempt,
					"max", f.config.MaxRestarts,
					"error", lastErr)
			} else {
				logger.Debug("botbrowser was restarted by another fetch, retrying",
					"url", targetURL,
					"error", lastErr)
			}
		}

		b, g, err := f.ensureBrowser(ctx)
		if err != nil {
			// Start already retried on its own.
			return fetcher.Content{URL: targetURL}, err
		}
		gen = g

		content, err := f.fetchPage(ctx, b, targetURL, opts)
		if err == nil {
			return content, nil
		}
		if ctx.Err() != nil {
			return content, ctx.Err()
		}
		lastErr = err
	}
	return fetcher.Content{URL: targetURL}, fmt.Errorf("giving up on %s after %d restarts: %w", targetURL, f.config.MaxRestarts, lastErr)
}

func (f *BotBrowserFetcher) ensureBrowser(ctx context.Context) (*rod.Browser, uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.browser != nil {
		if f.sup.Running() {
			return f.browser, f.gen, nil
		}
		logger.Warn("botbrowser process exited, relaunching")
		f.disconnect()
		f.gen++
	}
	if err := f.sup.Start(ctx); err != nil {
		return nil, f.gen, err
	}
	b, err := f.connect(f.sup.DebugURL())
	if err != nil {
		return nil, f.gen, fmt.Errorf("failed to connect to botbrowser: %w", err)
	}
	f.browser = b
	return b, f.gen, nil
}

// restart relaunches the browser if gen is still the current generation.
// It reports false when another fetch already did so.
func (f *BotBrowserFetcher) restart(ctx context.Context, gen uint64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if gen != f.gen {
		return false, nil
	}
	f.gen++
	f.disconnect()
	return true, f.sup.Restart(ctx)
}

// disconnect closes the browser over CDP and forgets the connection.
// Callers hold mu.
func (f *BotBrowserFetcher) disconnect() {
	if f.browser == nil {
		return
	}
	if err := f.browser.Close(); err != nil {
		logger.Debug("closing botbrowser connection", "error", err)
	}
	f.browser = nil
}

func connectRod(controlURL string) (*rod.Browser, error) {
	wsURL, err := launcher.ResolveURL(controlURL)
	if err != nil {
		return nil, err
	}
	b := rod.New().ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		return nil, err
	}
	return b, nil
}

func (f *BotBrowserFetcher) loadPage(ctx context.Context, b *rod.Browser, targetURL string, opts fetcher.Options) (fetcher.Content, error) {
	result := fetcher.Content{URL: targetURL, FetchedAt: time.Now()}

	timeout := opts.Timeout
	if timeout == 0 {
		timeout = f.config.Timeout
	}

	tab, err := stealth.Page(b)
	if err != nil {
		return result, fmt.Errorf("failed to open page: %w", err)
	}
	defer func() { _ = tab.Close() }()

	page := tab.Context(ctx).Timeout(timeout)

	if ua := coalesce(opts.UserAgent, f.config.UserAgent); ua != "" {
		if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: ua, AcceptLanguage: "en-US,en;q=0.9"}); err != nil {
			return result, fmt.Errorf("failed to set user agent: %w", err)
		}
	}
	if len(opts.Headers) > 0 {
		dict := make([]string, 0, 2*len(opts.Headers))
		for k, v := range opts.Headers {
			dict = append(dict, k, v)
		}
		cleanup, err := page.SetExtraHeaders(dict)
		if err != nil {
			return result, fmt.Errorf("failed to set headers: %w", err)
		}
		defer cleanup()
	}
	if len(opts.Cookies) > 0 {
		if err := page.SetCookies(rodCookies(targetURL, opts.Cookies)); err != nil {
			return result, fmt.Errorf("failed to set cookies: %w", err)
		}
	}

	if err := page.Navigate(targetURL); err != nil {
		return result, classifyBrowserError(targetURL, err)
	}
	if err := page.WaitLoad(); err != nil {
		return result, classifyBrowserError(targetURL, err)
	}
	if opts.WaitForSelector != "" {
		if _, err := page.Element(opts.WaitForSelector); err != nil {
			return result, classifyBrowserError(targetURL, err)
		}
	}
	if f.config.WaitStable > 0 {
		// A page that never settles is still worth reading.
		if err := page.WaitStable(f.config.WaitStable); err != nil && ctx.Err() == nil {
			logger.Debug("page did not settle", "url", targetURL, "error", err)
		}
	}
	if opts.WaitDuration > 0 {
		select {
		case <-ctx.Done():
			return result, ctx.Err()
		case <-time.After(opts.WaitDuration):
		}
	}

	html, err := page.HTML()
	if err != nil {
		return result, classifyBrowserError(targetURL, err)
	}
	result.HTML = html
	result.StatusCode = 200
	result.ContentType = "text/html"
	if info, err := page.Info(); err == nil {
		result.Title = info.Title
	}
	if result.Title == "" {
		result.Title = fetcher.PageTitle(html)
	}

	if challenge := DetectChallenge(result.Title, html); challenge != "" {
		logger.Warn("challenge page detected", "url", targetURL, "type", challenge)
		return result, fmt.Errorf("%w: %s", fetcher.ErrAntiBot, challenge)
	}
	if strings.TrimSpace(html) == "" {
		return result, fmt.Errorf("%w: %s", fetcher.ErrEmptyResponse, targetURL)
	}

	logger.Debug("botbrowser fetch complete", "url", targetURL, "title", result.Title, "size", len(html))
	return result, nil
}

func classifyBrowserError(targetURL string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		logger.Warn("browser timeout - possible anti-bot protection", "url", targetURL)
		return fmt.Errorf("%w: %v", fetcher.ErrChallengeTimeout, err)
	}
	return fmt.Errorf("botbrowser navigation failed: %w", err)
}

func rodCookies(targetURL string, cookies []fetcher.Cookie) []*proto.NetworkCookieParam {
	var host string
	secure := false
	if u, err := url.Parse(targetURL); err == nil {
		host = u.Hostname()
		secure = u.Scheme == "https"
	}
	out := make([]*proto.NetworkCookieParam, 0, len(cookies))
	for _, c := range cookies {
		out = append(out, &proto.NetworkCookieParam{
			Name:   c.Name,
			Value:  c.Value,
			Domain: coalesce(c.Domain, host),
			Path:   "/",
			Secure: secure,
		})
	}
	return out
}

// Close disconnects and stops the browser process.
func (f *BotBrowserFetcher) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnect()
	f.sup.Stop()
	return nil
}

// Type returns the fetcher type.
func (f *BotBrowserFetcher) Type() string {
	return string(ModeBotBrowser)
}

package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/jmylchreest/wirefeed/internal/logger"
	"github.com/jmylchreest/wirefeed/pkg/fetcher"
)

// BrowserFetcher renders pages in a local headless Chrome via chromedp.
type BrowserFetcher struct {
	config    Config
	allocCtx  context.Context
	cancelCtx context.CancelFunc
}

// NewBrowserFetcher starts a browser allocator. Chrome itself is launched
// lazily by the first fetch.
func NewBrowserFetcher(cfg Config) *BrowserFetcher {
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultConfig().UserAgent
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	if cfg.Googlebot {
		cfg.UserAgent = GooglebotUserAgent
	}

	opts := browserAllocatorOptions(cfg.Stealth)
	chromePath := cfg.ChromePath
	if chromePath == "" {
		chromePath = FindChromePath()
	}
	if chromePath != "" {
		opts = append(opts, chromedp.ExecPath(chromePath))
	}
	opts = append(opts, chromedp.UserAgent(cfg.UserAgent))

	allocCtx, cancel := chromedp.NewExecAllocator(context.Background(), opts...)

	logger.Debug("browser fetcher created",
		"stealth", cfg.Stealth,
		"googlebot", cfg.Googlebot,
		"chrome", chromePath,
		"timeout", cfg.Timeout)

	return &BrowserFetcher{config: cfg, allocCtx: allocCtx, cancelCtx: cancel}
}

// Fetch opens a fresh tab, navigates and returns the rendered document.
func (f *BrowserFetcher) Fetch(ctx context.Context, targetURL string, opts fetcher.Options) (fetcher.Content, error) {
	result := fetcher.Content{URL: targetURL, FetchedAt: time.Now()}

	tabCtx, cancelTab := chromedp.NewContext(f.allocCtx,
		chromedp.WithLogf(func(format string, args ...any) {
			logger.Debug("chromedp", "msg", fmt.Sprintf(format, args...))
		}),
	)
	defer cancelTab()

	// The tab lives under the allocator, so the caller's cancellation has
	// to be forwarded by hand.
	stop := context.AfterFunc(ctx, cancelTab)
	defer stop()

	timeout := opts.Timeout
	if timeout == 0 {
		timeout = f.config.Timeout
	}
	runCtx, cancelRun := context.WithTimeout(tabCtx, timeout)
	defer cancelRun()

	var html, title string
	var actions []chromedp.Action
	if len(opts.Headers) > 0 {
		headers := make(network.Headers, len(opts.Headers))
		for k, v := range opts.Headers {
			headers[k] = v
		}
		actions = append(actions, network.Enable(), network.SetExtraHTTPHeaders(headers))
	}
	if len(opts.Cookies) > 0 {
		actions = append(actions, setCookies(targetURL, opts.Cookies))
	}
	if f.config.Stealth {
		actions = append(actions, injectStealthScript())
	}

	waitFor := opts.WaitForSelector
	if waitFor == "" {
		waitFor = "body"
	}
	actions = append(actions,
		chromedp.Navigate(targetURL),
		chromedp.WaitReady(waitFor),
	)
	if opts.WaitDuration > 0 {
		actions = append(actions, chromedp.Sleep(opts.WaitDuration))
	}
	actions = append(actions,
		chromedp.OuterHTML("html", &html),
		chromedp.Title(&title),
	)

	logger.Debug("chromedp executing actions",
		"url", targetURL,
		"action_count", len(actions),
		"timeout", timeout,
		"wait_for", waitFor)

	if err := chromedp.Run(runCtx, actions...); err != nil {
		f.saveScreenshot(tabCtx, targetURL)
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) || runCtx.Err() != nil {
			logger.Warn("browser timeout - possible anti-bot protection", "url", targetURL)
			return result, fmt.Errorf("%w: %v", fetcher.ErrChallengeTimeout, err)
		}
		return result, fmt.Errorf("browser automation failed: %w", err)
	}

	result.HTML = html
	result.Title = title
	result.StatusCode = 200
	result.ContentType = "text/html"

	if challenge := DetectChallenge(title, html); challenge != "" {
		logger.Warn("challenge page detected", "url", targetURL, "type", challenge)
		return result, fmt.Errorf("%w: %s", fetcher.ErrAntiBot, challenge)
	}
	if html == "" {
		return result, fmt.Errorf("%w: %s", fetcher.ErrEmptyResponse, targetURL)
	}

	logger.Debug("browser fetch complete", "url", targetURL, "title", title, "size", len(html))
	return result, nil
}

// saveScreenshot writes a PNG of the tab to ScreenshotDir, when set.
func (f *BrowserFetcher) saveScreenshot(tabCtx context.Context, targetURL string) {
	if f.config.ScreenshotDir == "" {
		return
	}
	captureCtx, cancel := context.WithTimeout(tabCtx, 5*time.Second)
	defer cancel()

	var png []byte
	if err := chromedp.Run(captureCtx, chromedp.CaptureScreenshot(&png)); err != nil || len(png) == 0 {
		return
	}
	if err := os.MkdirAll(f.config.ScreenshotDir, 0o755); err != nil {
		logger.Debug("failed to create screenshot dir", "error", err)
		return
	}
	path := filepath.Join(f.config.ScreenshotDir, fmt.Sprintf("wirefeed-debug-%d.png", time.Now().UnixNano()))
	if err := os.WriteFile(path, png, 0o644); err != nil {
		logger.Debug("failed to save screenshot", "error", err)
		return
	}
	logger.Debug("debug screenshot saved", "url", targetURL, "path", path)
}

// Close shuts the browser down.
func (f *BrowserFetcher) Close() error {
	if f.cancelCtx != nil {
		f.cancelCtx()
	}
	return nil
}

// Type returns the fetcher type.
func (f *BrowserFetcher) Type() string {
	return string(ModeBrowser)
}

// setCookies returns a chromedp action that sets cookies before navigation.
func setCookies(targetURL string, cookies []fetcher.Cookie) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		u, err := url.Parse(targetURL)
		if err != nil {
			return fmt.Errorf("failed to parse URL for cookies: %w", err)
		}
		params := make([]*network.CookieParam, 0, len(cookies))
		for _, c := range cookies {
			params = append(params, &network.CookieParam{
				Name:   c.Name,
				Value:  c.Value,
				Domain: coalesce(c.Domain, u.Hostname()),
				Path:   "/",
				Secure: u.Scheme == "https",
			})
		}
		return network.SetCookies(params).Do(ctx)
	})
}

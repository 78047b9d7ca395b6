package fetcher

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jmylchreest/wirefeed/internal/logger"
	"github.com/jmylchreest/wirefeed/pkg/fetcher"
)

// FlareSolverrFetcher renders pages through FlareSolverr.
type FlareSolverrFetcher struct {
	client      *FlareSolverr
	useSessions bool

	// domain -> FlareSolverr session ID
	sessions   map[string]string
	sessionsMu sync.Mutex
}

// NewFlareSolverrFetcher creates a fetcher for the FlareSolverr instance in cfg.
func NewFlareSolverrFetcher(cfg Config) *FlareSolverrFetcher {
	baseURL := coalesce(cfg.FlareSolverrURL, DefaultFlareSolverrURL)
	logger.Debug("flaresolverr fetcher created",
		"url", baseURL,
		"sessions", cfg.FlareSolverrSessions,
		"max_timeout", cfg.FlareSolverrMaxTimeout)
	return &FlareSolverrFetcher{
		client:      NewFlareSolverr(baseURL, cfg.FlareSolverrMaxTimeout),
		useSessions: cfg.FlareSolverrSessions,
		sessions:    make(map[string]string),
	}
}

// Fetch renders targetURL. Options other than the URL are decided by
// FlareSolverr's own browser and are ignored.
func (f *FlareSolverrFetcher) Fetch(ctx context.Context, targetURL string, _ fetcher.Options) (fetcher.Content, error) {
	result := fetcher.Content{URL: targetURL, FetchedAt: time.Now()}

	u, err := url.Parse(targetURL)
	if err != nil || u.Host == "" {
		return result, fmt.Errorf("invalid URL %q", targetURL)
	}

	var sessionID string
	if f.useSessions {
		sessionID = f.session(ctx, u.Host)
	}

	sol, err := f.client.Get(ctx, targetURL, sessionID)
	if err != nil {
		return result, err
	}

	result.HTML = sol.HTML
	result.StatusCode = sol.Status
	result.Title = fetcher.PageTitle(sol.HTML)
	result.ContentType = "text/html"

	// The solver already waited out any title-only interstitial.
	if challenge := DetectChallenge("", result.HTML); challenge != "" {
		logger.Warn("challenge page detected in FlareSolverr response", "url", targetURL, "type", challenge)
		return result, fmt.Errorf("%w: %s", fetcher.ErrAntiBot, challenge)
	}

	logger.Debug("flaresolverr fetch complete",
		"url", targetURL,
		"session", sessionID,
		"title", result.Title,
		"size", len(result.HTML))
	return result, nil
}

// session returns the session for a domain, creating it on first use. A
// failed create falls back to a sessionless request.
func (f *FlareSolverrFetcher) session(ctx context.Context, domain string) string {
	f.sessionsMu.Lock()
	defer f.sessionsMu.Unlock()

	if id, ok := f.sessions[domain]; ok {
		return id
	}

	id := "wirefeed-" + strings.ReplaceAll(domain, ".", "-") + "-" + uuid.NewString()[:8]
	if err := f.client.CreateSession(ctx, id); err != nil {
		logger.Debug("FlareSolverr session creation failed, continuing without", "domain", domain, "error", err)
		id = ""
	}
	f.sessions[domain] = id
	return id
}

// Close destroys every session this fetcher created.
func (f *FlareSolverrFetcher) Close() error {
	f.sessionsMu.Lock()
	ids := make([]string, 0, len(f.sessions))
	for _, id := range f.sessions {
		if id != "" {
			ids = append(ids, id)
		}
	}
	f.sessions = make(map[string]string)
	f.sessionsMu.Unlock()

	if len(ids) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, id := range ids {
		f.client.DestroySession(ctx, id)
	}
	return nil
}

// Type returns the fetcher type.
func (f *FlareSolverrFetcher) Type() string {
	return string(ModeFlareSolverr)
}

// Package fetcher defines the interface for retrieving rendered pages.
// Backends range from a plain HTTP client to rendering proxies and
// supervised headless browsers; all of them return the page HTML or an error.
package fetcher

import (
	"context"
	"errors"
	"time"
)

// Fetcher abstracts page fetching strategies.
type Fetcher interface {
	// Fetch retrieves page content from a URL.
	Fetch(ctx context.Context, url string, opts Options) (Content, error)

	// Close releases any resources (browser instances, proxy sessions, etc.).
	Close() error

	// Type returns a string identifying the backend (e.g., "static", "flaresolverr").
	Type() string
}

// Options controls fetching behavior.
type Options struct {
	UserAgent       string
	Timeout         time.Duration
	WaitForSelector string        // CSS selector to wait for (browser backends)
	WaitDuration    time.Duration // Additional wait after load
	Headers         map[string]string
	Cookies         []Cookie
}

// Cookie represents an HTTP cookie.
type Cookie struct {
	Name   string
	Value  string
	Domain string
}

// Content represents a fetched page.
type Content struct {
	URL         string
	HTML        string
	Title       string
	StatusCode  int
	ContentType string
	FetchedAt   time.Time
}

// Error types for distinguishing failure reasons.
// Check with errors.Is(err, fetcher.ErrCaptchaChallenge).
var (
	// ErrCaptchaChallenge indicates the site has an interactive CAPTCHA.
	ErrCaptchaChallenge = errors.New("captcha challenge detected")
	// ErrAntiBot indicates the site's anti-bot protection blocked the request.
	ErrAntiBot = errors.New("anti-bot protection detected")
	// ErrChallengeTimeout indicates a timeout while waiting for challenge to resolve.
	ErrChallengeTimeout = errors.New("challenge timeout")
	// ErrEmptyResponse indicates the backend answered without any HTML.
	ErrEmptyResponse = errors.New("empty response body")
)

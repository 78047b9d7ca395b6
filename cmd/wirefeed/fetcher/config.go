// Package fetcher provides the rendering backends used by the CLI: a
// FlareSolverr client, a chromedp headless browser with stealth options,
// and a supervised BotBrowser driven through rod.
package fetcher

import (
	"fmt"
	"strings"
	"time"

	"github.com/jmylchreest/wirefeed/internal/botbrowser"
	pkgfetcher "github.com/jmylchreest/wirefeed/pkg/fetcher"
)

// Mode selects a backend.
type Mode string

const (
	ModeStatic       Mode = "static"
	ModeFlareSolverr Mode = "flaresolverr"
	ModeBrowser      Mode = "browser"
	ModeBotBrowser   Mode = "botbrowser"
)

// Modes lists every backend in help-text order.
var Modes = []Mode{ModeFlareSolverr, ModeStatic, ModeBrowser, ModeBotBrowser}

// ParseMode parses a backend name, case-insensitively.
func ParseMode(s string) (Mode, error) {
	m := Mode(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Modes {
		if m == known {
			return m, nil
		}
	}
	names := make([]string, len(Modes))
	for i, known := range Modes {
		names[i] = string(known)
	}
	return "", fmt.Errorf("unknown fetch mode %q (want one of %s)", s, strings.Join(names, ", "))
}

// Config holds configuration for every backend. Fields that do not apply
// to the selected mode are ignored.
type Config struct {
	UserAgent   string
	Timeout     time.Duration
	MaxBodySize int

	// Retries is the total number of attempts per URL; 1 disables retrying.
	Retries    int
	RetryDelay time.Duration

	FlareSolverrURL        string
	FlareSolverrMaxTimeout time.Duration
	FlareSolverrSessions   bool

	// Browser mode.
	ChromePath    string
	Stealth       bool
	Googlebot     bool
	ScreenshotDir string

	// BotBrowser mode.
	BotBrowser  botbrowser.Config
	MaxRestarts int
	WaitStable  time.Duration
}

// DefaultFlareSolverrURL is where FlareSolverr listens out of the box.
const DefaultFlareSolverrURL = "http://localhost:8191/v1"

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		UserAgent:              pkgfetcher.DefaultUserAgent,
		Timeout:                60 * time.Second,
		Retries:                1,
		RetryDelay:             5 * time.Second,
		FlareSolverrURL:        DefaultFlareSolverrURL,
		FlareSolverrMaxTimeout: 60 * time.Second,
		BotBrowser:             botbrowser.DefaultConfig(),
		MaxRestarts:            3,
		WaitStable:             time.Second,
	}
}

// GooglebotUserAgent is the mobile Googlebot user agent. Some publishers
// serve full article markup to it.
const GooglebotUserAgent = "Mozilla/5.0 (Linux; Android 6.0.1; Nexus 5X Build/MMB29P) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Mobile Safari/537.36 (compatible; Googlebot/2.1; +http://www.google.com/bot.html)"

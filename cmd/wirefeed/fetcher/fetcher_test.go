package fetcher

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-rod/rod"

	"github.com/jmylchreest/wirefeed/internal/botbrowser"
	"github.com/jmylchreest/wirefeed/pkg/fetcher"
)

const articleBody = `<article><p>Envoys from both sides agreed on Tuesday to a ceasefire that would take effect at midnight, officials said.</p></article>`

func TestDetectChallenge(t *testing.T) {
	tests := []struct {
		name  string
		title string
		html  string
		want  string
	}{
		{"normal_page", "World News | Reuters", "<p>Envoys agreed.</p>", ""},
		{"cloudflare_title", "Just a moment...", "", "cloudflare"},
		{"cloudflare_markup", "", `<script>window._cf_chl_opt={}</script>`, "cloudflare"},
		{"turnstile", "", `<div class="cf-turnstile"></div>`, "cloudflare-turnstile"},
		{"hcaptcha", "", `<script src="https://hcaptcha.com/1/api.js"></script>`, "hcaptcha"},
		{"recaptcha", "", `<div class="g-recaptcha"></div>`, "recaptcha"},
		{"access_denied", "Access Denied", "", "anti-bot"},
		{"robot_or_human", "", "<h1>Are you a Robot or Human?</h1>", "anti-bot"},
		{"access_denied_suffix", "Access Denied | Example", "", "anti-bot"},
		{"headline_mentions_blocked", "Court blocked Trump tariffs | Reuters", "<article><p>Short.</p></article>", ""},
		{"headline_mentions_access_denied", "Aid convoy access denied at border, UN says", "", ""},
		{"headline_mentions_moment", "A moment of calm: just a moment in Gaza", "", ""},
		{"newsletter_recaptcha", "Markets rally | Reuters", articleBody + `<form><div class="g-recaptcha"></div></form>`, ""},
		{"turnstile_on_article", "", articleBody + `<div class="cf-turnstile"></div>`, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DetectChallenge(tt.title, tt.html); got != tt.want {
				t.Errorf("DetectChallenge() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseMode(t *testing.T) {
	for _, in := range []string{"static", "FlareSolverr", " browser ", "botbrowser"} {
		if _, err := ParseMode(in); err != nil {
			t.Errorf("ParseMode(%q) error = %v", in, err)
		}
	}
	_, err := ParseMode("selenium")
	if err == nil || !strings.Contains(err.Error(), "flaresolverr, static, browser, botbrowser") {
		t.Errorf("ParseMode(selenium) error = %v", err)
	}
}

func TestNew(t *testing.T) {
	cfg := DefaultConfig()

	f, err := New(context.Background(), ModeStatic, cfg)
	if err != nil {
		t.Fatalf("New(static) error = %v", err)
	}
	if _, ok := f.(*fetcher.StaticFetcher); !ok {
		t.Errorf("New(static) = %T", f)
	}

	cfg.Retries = 3
	f, err = New(context.Background(), ModeFlareSolverr, cfg)
	if err != nil {
		t.Fatalf("New(flaresolverr) error = %v", err)
	}
	if _, ok := f.(*fetcher.Retrying); !ok {
		t.Errorf("New with retries = %T, want *fetcher.Retrying", f)
	}
	if f.Type() != "flaresolverr" {
		t.Errorf("Type() = %q", f.Type())
	}

	if _, err := New(context.Background(), Mode("carrier-pigeon"), cfg); err == nil {
		t.Error("expected error for unknown mode")
	}
}

func TestNew_BotBrowserWithoutBinary(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BotBrowser.Binary = ""
	if _, err := New(context.Background(), ModeBotBrowser, cfg); !errors.Is(err, botbrowser.ErrNoBinary) {
		t.Errorf("New(botbrowser) error = %v, want ErrNoBinary", err)
	}
}

// --- BotBrowser restart loop ---

type fakeSupervisor struct {
	mu                      sync.Mutex
	starts, restarts, stops int
	startErr                error
	// restarted is closed by the first Restart, when set.
	restarted chan struct{}
}

func (s *fakeSupervisor) Start(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.starts++
	return s.startErr
}

func (s *fakeSupervisor) Restart(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.restarts++
	if s.restarted != nil && s.restarts == 1 {
		close(s.restarted)
	}
	return s.startErr
}

func (s *fakeSupervisor) Stop()            { s.stops++ }
func (s *fakeSupervisor) Running() bool    { return true }
func (s *fakeSupervisor) DebugURL() string { return "http://127.0.0.1:9222" }

func (s *fakeSupervisor) generation() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.restarts
}

func newTestBotBrowser(maxRestarts int, pages func(attempt int) (fetcher.Content, error)) (*BotBrowserFetcher, *fakeSupervisor) {
	sup := &fakeSupervisor{}
	attempt := 0
	f := &BotBrowserFetcher{
		config: Config{MaxRestarts: maxRestarts},
		sup:    sup,
		// A nil browser makes every fetch go through Start again, which
		// the fake supervisor counts.
		connect: func(string) (*rod.Browser, error) { return nil, nil },
	}
	f.fetchPage = func(ctx context.Context, _ *rod.Browser, u string, _ fetcher.Options) (fetcher.Content, error) {
		attempt++
		return pages(attempt)
	}
	return f, sup
}

func TestBotBrowserFetcher_RecoversAfterRestart(t *testing.T) {
	f, sup := newTestBotBrowser(3, func(attempt int) (fetcher.Content, error) {
		if attempt < 3 {
			return fetcher.Content{}, errors.New("target crashed")
		}
		return fetcher.Content{HTML: "<html>ok</html>"}, nil
	})

	content, err := f.Fetch(context.Background(), "https://www.reuters.com/world/", fetcher.Options{})
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if content.HTML != "<html>ok</html>" {
		t.Errorf("HTML = %q", content.HTML)
	}
	if sup.restarts != 2 {
		t.Errorf("restarts = %d, want 2", sup.restarts)
	}
}

func TestBotBrowserFetcher_GivesUp(t *testing.T) {
	f, sup := newTestBotBrowser(2, func(int) (fetcher.Content, error) {
		return fetcher.Content{}, fetcher.ErrAntiBot
	})

	_, err := f.Fetch(context.Background(), "https://www.reuters.com/world/", fetcher.Options{})
	if !errors.Is(err, fetcher.ErrAntiBot) {
		t.Fatalf("Fetch() error = %v, want ErrAntiBot", err)
	}
	if !strings.Contains(err.Error(), "after 2 restarts") {
		t.Errorf("error = %v", err)
	}
	if sup.restarts != 2 {
		t.Errorf("restarts = %d, want 2", sup.restarts)
	}

	_ = f.Close()
	if sup.stops != 1 {
		t.Errorf("stops = %d, want 1", sup.stops)
	}
}

func TestBotBrowserFetcher_StartFailure(t *testing.T) {
	f, sup := newTestBotBrowser(3, func(int) (fetcher.Content, error) {
		t.Error("page fetched without a browser")
		return fetcher.Content{}, nil
	})
	sup.startErr = botbrowser.ErrStartFailed

	_, err := f.Fetch(context.Background(), "https://www.reuters.com/world/", fetcher.Options{})
	if !errors.Is(err, botbrowser.ErrStartFailed) {
		t.Errorf("Fetch() error = %v, want ErrStartFailed", err)
	}
	if sup.restarts != 0 {
		t.Errorf("restarts = %d, want 0", sup.restarts)
	}
}

func TestBotBrowserFetcher_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	f, sup := newTestBotBrowser(3, func(int) (fetcher.Content, error) {
		cancel()
		return fetcher.Content{}, errors.New("navigation aborted")
	})

	_, err := f.Fetch(ctx, "https://www.reuters.com/world/", fetcher.Options{})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Fetch() error = %v, want context.Canceled", err)
	}
	if sup.restarts != 0 {
		t.Errorf("restarts = %d, want 0", sup.restarts)
	}
}

func TestBotBrowserFetcher_ConcurrentFailureRestartsOnce(t *testing.T) {
	const workers = 4
	sup := &fakeSupervisor{restarted: make(chan struct{})}
	f := &BotBrowserFetcher{
		config:  Config{MaxRestarts: 3},
		sup:     sup,
		connect: func(string) (*rod.Browser, error) { return nil, nil },
	}

	var inFlight sync.WaitGroup
	inFlight.Add(workers)
	f.fetchPage = func(ctx context.Context, _ *rod.Browser, u string, _ fetcher.Options) (fetcher.Content, error) {
		if sup.generation() > 0 {
			return fetcher.Content{URL: u, HTML: "<html>ok</html>"}, nil
		}
		// Every page is open in the first browser before any of them fails.
		inFlight.Done()
		inFlight.Wait()
		if strings.HasSuffix(u, "/crash") {
			return fetcher.Content{}, errors.New("target crashed")
		}
		select {
		case <-sup.restarted:
			return fetcher.Content{}, errors.New("target closed")
		case <-time.After(5 * time.Second):
			return fetcher.Content{}, errors.New("browser never restarted")
		}
	}

	urls := []string{
		"https://www.reuters.com/world/crash",
		"https://www.reuters.com/world/a",
		"https://www.reuters.com/world/b",
		"https://www.reuters.com/world/c",
	}
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i, u := range urls {
		wg.Add(1)
		go func(i int, u string) {
			defer wg.Done()
			_, errs[i] = f.Fetch(context.Background(), u, fetcher.Options{})
		}(i, u)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("Fetch(%s) error = %v", urls[i], err)
		}
	}
	if got := sup.generation(); got != 1 {
		t.Errorf("restarts = %d, want 1", got)
	}
}

package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jmylchreest/wirefeed/pkg/fetcher"
)

const articleHTML = `<html><head><title>Envoys agree framework</title></head><body><p>GENEVA (Reuters) - Envoys agreed.</p></body></html>`

type flareStub struct {
	mu       sync.Mutex
	requests []flareRequest
	respond  func(req flareRequest) (int, string)
}

func (s *flareStub) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("unexpected request %s %s", r.Method, r.Header.Get("Content-Type"))
		}
		var req flareRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		s.mu.Lock()
		s.requests = append(s.requests, req)
		s.mu.Unlock()

		status, body := s.respond(req)
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}
}

func (s *flareStub) request(i int) flareRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[i]
}

func (s *flareStub) cmds() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, r := range s.requests {
		out = append(out, r.Cmd)
	}
	return out
}

func newFlareServer(t *testing.T, respond func(req flareRequest) (int, string)) (*httptest.Server, *flareStub) {
	t.Helper()
	stub := &flareStub{respond: respond}
	srv := httptest.NewServer(stub.handler(t))
	t.Cleanup(srv.Close)
	return srv, stub
}

func okSolution(response string) string {
	return `{"status":"ok","message":"Challenge not detected!","startTimestamp":1000,"endTimestamp":3500,
	"solution":{"url":"https://www.reuters.com/world/","status":200,"userAgent":"Mozilla/5.0",
	"cookies":[{"name":"cf_clearance","value":"abc","domain":".reuters.com"}],"response":` + response + `}}`
}

func TestFlareSolverr_Get(t *testing.T) {
	quoted, _ := json.Marshal(articleHTML)

	tests := []struct {
		name     string
		response string
	}{
		{"string_response", string(quoted)},
		{"object_data", `{"data":` + string(quoted) + `}`},
		{"object_body", `{"data":"","body":` + string(quoted) + `}`},
		{"object_html", `{"html":` + string(quoted) + `}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, stub := newFlareServer(t, func(flareRequest) (int, string) {
				return http.StatusOK, okSolution(tt.response)
			})

			sol, err := NewFlareSolverr(srv.URL, 0).Get(context.Background(), "https://www.reuters.com/world/", "")
			if err != nil {
				t.Fatalf("Get() error = %v", err)
			}
			if sol.HTML != articleHTML {
				t.Errorf("HTML = %q", sol.HTML)
			}
			if sol.Status != 200 || sol.UserAgent != "Mozilla/5.0" {
				t.Errorf("solution = %+v", sol)
			}
			if len(sol.Cookies) != 1 || sol.Cookies[0].Name != "cf_clearance" || sol.Cookies[0].Domain != ".reuters.com" {
				t.Errorf("Cookies = %+v", sol.Cookies)
			}

			req := stub.request(0)
			if req.Cmd != "request.get" || req.URL != "https://www.reuters.com/world/" || req.MaxTimeout != 60000 {
				t.Errorf("request = %+v", req)
			}
		})
	}
}

func TestFlareSolverr_GetErrors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantIs  error
		wantMsg string
	}{
		{"error_field", http.StatusOK, `{"error":"Timeout after 60.0 seconds."}`, fetcher.ErrChallengeTimeout, "Timeout after 60.0 seconds."},
		{"status_error_captcha", http.StatusInternalServerError, `{"status":"error","message":"Error: Captcha detected but no automatic solver is configured."}`, fetcher.ErrCaptchaChallenge, "Captcha detected"},
		{"status_error_blocked", http.StatusInternalServerError, `{"status":"error","message":"Access denied (403)"}`, fetcher.ErrAntiBot, "Access denied"},
		{"status_error_unknown", http.StatusOK, `{"status":"warning","message":"something odd"}`, fetcher.ErrAntiBot, "something odd"},
		{"missing_solution", http.StatusOK, `{"status":"ok"}`, fetcher.ErrAntiBot, "no solution"},
		{"empty_html", http.StatusOK, okSolution(`""`), fetcher.ErrEmptyResponse, ""},
		{"empty_object", http.StatusOK, okSolution(`{"data":"","body":null}`), fetcher.ErrEmptyResponse, ""},
		{"browser_crash", http.StatusInternalServerError, `{"status":"error","message":"Error: browser crashed"}`, nil, "FlareSolverr internal error"},
		{"http_error_ok_json", http.StatusBadGateway, `{"status":"ok","solution":{"response":"x"}}`, nil, "HTTP 502"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := newFlareServer(t, func(flareRequest) (int, string) { return tt.status, tt.body })

			_, err := NewFlareSolverr(srv.URL, 0).Get(context.Background(), "https://example.com/", "")
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.wantIs != nil && !errors.Is(err, tt.wantIs) {
				t.Errorf("error = %v, want %v", err, tt.wantIs)
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("error = %q, want it to contain %q", err, tt.wantMsg)
			}
		})
	}
}

func TestFlareSolverr_InvalidJSON(t *testing.T) {
	body := "<html>" + strings.Repeat("x", 1000) + "</html>"
	srv, _ := newFlareServer(t, func(flareRequest) (int, string) { return http.StatusServiceUnavailable, body })

	_, err := NewFlareSolverr(srv.URL, 0).Get(context.Background(), "https://example.com/", "")
	if err == nil {
		t.Fatal("expected error")
	}
	msg := err.Error()
	if !strings.Contains(msg, "HTTP 503") || !strings.Contains(msg, body[:400]) || strings.Contains(msg, body[:401]) {
		t.Errorf("error should carry status and a 400 character prefix: %q", msg)
	}
}

func TestFlareSolverr_Unavailable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewFlareSolverr(url, time.Second).Get(context.Background(), "https://example.com/", "")
	if !errors.Is(err, ErrFlareSolverrUnavailable) {
		t.Errorf("error = %v, want ErrFlareSolverrUnavailable", err)
	}
}

func TestFlareSolverr_CancelledContext(t *testing.T) {
	srv, _ := newFlareServer(t, func(flareRequest) (int, string) { return http.StatusOK, okSolution(`"x"`) })
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewFlareSolverr(srv.URL, 0).Get(ctx, "https://example.com/", "")
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}

// --- Fetcher Tests ---

func TestFlareSolverrFetcher_Sessions(t *testing.T) {
	quoted, _ := json.Marshal(articleHTML)
	var (
		mu       sync.Mutex
		sessions = map[string]bool{}
	)
	srv, stub := newFlareServer(t, func(req flareRequest) (int, string) {
		mu.Lock()
		defer mu.Unlock()
		switch req.Cmd {
		case "sessions.create":
			sessions[req.Session] = true
			return http.StatusOK, `{"status":"ok","session":"` + req.Session + `"}`
		case "sessions.destroy":
			delete(sessions, req.Session)
			return http.StatusOK, `{"status":"ok"}`
		default:
			if !sessions[req.Session] {
				t.Errorf("request used unknown session %q", req.Session)
			}
			return http.StatusOK, okSolution(string(quoted))
		}
	})

	cfg := DefaultConfig()
	cfg.FlareSolverrURL = srv.URL
	cfg.FlareSolverrSessions = true
	f := NewFlareSolverrFetcher(cfg)

	for _, u := range []string{
		"https://www.reuters.com/world/",
		"https://www.reuters.com/commentary/",
		"https://apnews.com/world-news",
	} {
		content, err := f.Fetch(context.Background(), u, fetcher.Options{})
		if err != nil {
			t.Fatalf("Fetch(%s) error = %v", u, err)
		}
		if content.Title != "Envoys agree framework" || content.StatusCode != 200 {
			t.Errorf("content = %+v", content)
		}
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}

	want := "sessions.create request.get request.get sessions.create request.get sessions.destroy sessions.destroy"
	if got := strings.Join(stub.cmds(), " "); got != want {
		t.Errorf("commands = %s\nwant       %s", got, want)
	}
	mu.Lock()
	if len(sessions) != 0 {
		t.Errorf("sessions left open: %v", sessions)
	}
	mu.Unlock()
	if f.Type() != "flaresolverr" {
		t.Errorf("Type() = %q", f.Type())
	}
}

func TestFlareSolverrFetcher_ChallengePage(t *testing.T) {
	page, _ := json.Marshal(`<html><head><title>Just a moment...</title></head><body><div id="cf-challenge-running"></div></body></html>`)
	srv, _ := newFlareServer(t, func(flareRequest) (int, string) { return http.StatusOK, okSolution(string(page)) })

	cfg := DefaultConfig()
	cfg.FlareSolverrURL = srv.URL
	_, err := NewFlareSolverrFetcher(cfg).Fetch(context.Background(), "https://www.reuters.com/world/", fetcher.Options{})
	if !errors.Is(err, fetcher.ErrAntiBot) || !strings.Contains(err.Error(), "cloudflare") {
		t.Errorf("error = %v, want ErrAntiBot cloudflare", err)
	}
}

func TestFlareSolverrFetcher_InvalidURL(t *testing.T) {
	f := NewFlareSolverrFetcher(DefaultConfig())
	if _, err := f.Fetch(context.Background(), "not a url", fetcher.Options{}); err == nil {
		t.Error("expected error for URL without host")
	}
}

func TestFlareSolverrFetcher_HeadlineIsNotChallenge(t *testing.T) {
	page, _ := json.Marshal(`<html><head><title>Court blocked Trump tariffs | Reuters</title></head><body>` + articleBody + `</body></html>`)
	srv, _ := newFlareServer(t, func(flareRequest) (int, string) { return http.StatusOK, okSolution(string(page)) })

	cfg := DefaultConfig()
	cfg.FlareSolverrURL = srv.URL
	got, err := NewFlareSolverrFetcher(cfg).Fetch(context.Background(), "https://www.reuters.com/world/court-blocked/", fetcher.Options{})
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if got.Title != "Court blocked Trump tariffs | Reuters" {
		t.Errorf("Title = %q", got.Title)
	}
}

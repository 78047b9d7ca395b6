package fetcher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/jmylchreest/wirefeed/internal/logger"
	"github.com/jmylchreest/wirefeed/pkg/fetcher"
)

// ErrFlareSolverrUnavailable indicates FlareSolverr service is not reachable.
var ErrFlareSolverrUnavailable = errors.New("FlareSolverr service unavailable")

// FlareSolverr is a client for the FlareSolverr API, a proxy that renders
// pages in a real browser and solves Cloudflare challenges on the way.
type FlareSolverr struct {
	baseURL    string
	httpClient *http.Client
	maxTimeout time.Duration
}

type flareRequest struct {
	Cmd        string `json:"cmd"`
	URL        string `json:"url,omitempty"`
	Session    string `json:"session,omitempty"`
	MaxTimeout int64  `json:"maxTimeout,omitempty"`
}

// Solution is a page rendered by FlareSolverr.
type Solution struct {
	URL       string
	Status    int
	HTML      string
	UserAgent string
	Cookies   []fetcher.Cookie
}

// NewFlareSolverr creates a client. maxTimeout bounds how long FlareSolverr
// may spend on one page; zero means 60 seconds.
func NewFlareSolverr(baseURL string, maxTimeout time.Duration) *FlareSolverr {
	if maxTimeout <= 0 {
		maxTimeout = 60 * time.Second
	}
	return &FlareSolverr{
		baseURL: baseURL,
		httpClient: &http.Client{
			// FlareSolverr answers only once the browser is done.
			Timeout: maxTimeout + 30*time.Second,
		},
		maxTimeout: maxTimeout,
	}
}

// Get renders targetURL. sessionID may be empty.
//
// FlareSolverr reports failures in several shapes: a top-level "error"
// field, a status other than "ok" with a message, or a solution without a
// body. Each is mapped to one of the fetcher error kinds.
func (f *FlareSolverr) Get(ctx context.Context, targetURL, sessionID string) (*Solution, error) {
	statusCode, body, err := f.call(ctx, flareRequest{
		Cmd:        "request.get",
		URL:        targetURL,
		Session:    sessionID,
		MaxTimeout: f.maxTimeout.Milliseconds(),
	})
	if err != nil {
		logger.Warn("FlareSolverr request failed", "url", targetURL, "error", err)
		return nil, err
	}

	// FlareSolverr answers 500 with a JSON body on errors, so the body is
	// inspected before the HTTP status.
	if !gjson.ValidBytes(body) {
		logger.Warn("FlareSolverr returned invalid response", "status_code", statusCode, "body", prefix(string(body), 400))
		return nil, fmt.Errorf("FlareSolverr returned HTTP %d with invalid JSON: %s", statusCode, prefix(string(body), 400))
	}
	res := gjson.ParseBytes(body)

	if e := res.Get("error"); e.Exists() {
		return nil, classifyError(targetURL, e.String())
	}
	if status := res.Get("status").String(); status != "ok" {
		msg := res.Get("message").String()
		if msg == "" {
			msg = fmt.Sprintf("status %q (HTTP %d)", status, statusCode)
		}
		logger.Debug("FlareSolverr returned error status",
			"url", targetURL,
			"status", status,
			"message", msg)
		return nil, classifyError(targetURL, msg)
	}
	if statusCode != http.StatusOK {
		return nil, fmt.Errorf("FlareSolverr returned HTTP %d: %s", statusCode, prefix(string(body), 400))
	}

	sol := res.Get("solution")
	if !sol.IsObject() {
		logger.Warn("FlareSolverr returned no solution", "url", targetURL)
		return nil, fmt.Errorf("%w: no solution returned", fetcher.ErrAntiBot)
	}

	solution := &Solution{
		URL:       sol.Get("url").String(),
		Status:    int(sol.Get("status").Int()),
		HTML:      responseHTML(sol.Get("response")),
		UserAgent: sol.Get("userAgent").String(),
	}
	sol.Get("cookies").ForEach(func(_, c gjson.Result) bool {
		solution.Cookies = append(solution.Cookies, fetcher.Cookie{
			Name:   c.Get("name").String(),
			Value:  c.Get("value").String(),
			Domain: c.Get("domain").String(),
		})
		return true
	})

	if strings.TrimSpace(solution.HTML) == "" {
		logger.Warn("FlareSolverr returned empty HTML", "url", targetURL)
		return nil, fmt.Errorf("%w: FlareSolverr solution for %s", fetcher.ErrEmptyResponse, targetURL)
	}

	duration := (res.Get("endTimestamp").Float() - res.Get("startTimestamp").Float()) / 1000
	logger.Debug("FlareSolverr solved",
		"url", targetURL,
		"session", sessionID,
		"status_code", solution.Status,
		"cookies", len(solution.Cookies),
		"response_size", len(solution.HTML),
		"duration_s", fmt.Sprintf("%.2f", duration))

	return solution, nil
}

// responseHTML accepts both shapes of solution.response: the HTML string
// itself, or an object carrying it under data, body or html.
func responseHTML(r gjson.Result) string {
	if !r.IsObject() {
		return r.String()
	}
	for _, key := range []string{"data", "body", "html"} {
		if v := r.Get(key).String(); v != "" {
			return v
		}
	}
	return ""
}

// CreateSession starts a persistent FlareSolverr browser. Requests that share
// a session reuse its cookies, so a solved challenge stays solved.
func (f *FlareSolverr) CreateSession(ctx context.Context, sessionID string) error {
	_, body, err := f.call(ctx, flareRequest{Cmd: "sessions.create", Session: sessionID})
	if err != nil {
		return err
	}
	res := gjson.ParseBytes(body)
	if res.Get("status").String() != "ok" {
		return fmt.Errorf("session create failed: %s", coalesce(res.Get("message").String(), prefix(string(body), 200)))
	}
	logger.Debug("FlareSolverr session created", "session", sessionID)
	return nil
}

// DestroySession closes a session. Failures are only logged.
func (f *FlareSolverr) DestroySession(ctx context.Context, sessionID string) {
	_, body, err := f.call(ctx, flareRequest{Cmd: "sessions.destroy", Session: sessionID})
	if err != nil {
		logger.Debug("FlareSolverr session destroy failed", "session", sessionID, "error", err)
		return
	}
	res := gjson.ParseBytes(body)
	if res.Get("status").String() == "ok" {
		logger.Debug("FlareSolverr session destroyed", "session", sessionID)
		return
	}
	logger.Debug("FlareSolverr session destroy returned error", "session", sessionID, "message", res.Get("message").String())
}

func (f *FlareSolverr) call(ctx context.Context, reqBody flareRequest) (int, []byte, error) {
	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to marshal FlareSolverr request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.baseURL, bytes.NewReader(jsonBody))
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create FlareSolverr request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return 0, nil, ctx.Err()
		}
		return 0, nil, fmt.Errorf("%w: %v", ErrFlareSolverrUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("failed to read FlareSolverr response: %w", err)
	}
	return resp.StatusCode, body, nil
}

// classifyError maps a FlareSolverr error message to a typed error.
func classifyError(url, message string) error {
	msg := strings.ToLower(message)
	has := func(subs ...string) bool {
		for _, s := range subs {
			if strings.Contains(msg, s) {
				return true
			}
		}
		return false
	}

	switch {
	case has("timeout", "timed out"):
		logger.Warn("FlareSolverr timed out", "url", url, "message", message)
		return fmt.Errorf("%w: %s", fetcher.ErrChallengeTimeout, message)
	case has("could not be solved", "unable to solve", "failed to solve",
		"captcha", "turnstile", "cloudflare", "cf-", "challenge"):
		logger.Warn("FlareSolverr could not solve challenge", "url", url, "message", message)
		return fmt.Errorf("%w: %s", fetcher.ErrCaptchaChallenge, message)
	case has("blocked", "denied", "forbidden", "403"):
		logger.Warn("FlareSolverr blocked by anti-bot", "url", url, "message", message)
		return fmt.Errorf("%w: %s", fetcher.ErrAntiBot, message)
	case has("browser", "crashed", "unable to process"):
		logger.Warn("FlareSolverr browser error", "url", url, "message", message)
		return fmt.Errorf("FlareSolverr internal error: %s", message)
	default:
		logger.Warn("FlareSolverr failed with unknown error", "url", url, "message", message)
		return fmt.Errorf("%w: %s", fetcher.ErrAntiBot, message)
	}
}

func prefix(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func coalesce(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

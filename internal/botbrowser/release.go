package botbrowser

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/jmylchreest/wirefeed/internal/logger"
	"github.com/jmylchreest/wirefeed/internal/version"
)

const (
	// DefaultRepo is the GitHub repository BotBrowser is published from.
	DefaultRepo = "botswin/BotBrowser"
	// DefaultAPIURL is the GitHub REST API root.
	DefaultAPIURL = "https://api.github.com"
)

// Asset is a downloadable file attached to a release.
type Asset struct {
	Name        string `json:"name" yaml:"name"`
	Size        int64  `json:"size" yaml:"size"`
	ContentType string `json:"content_type,omitempty" yaml:"content_type,omitempty"`
	DownloadURL string `json:"browser_download_url" yaml:"download_url"`
}

// Release is a GitHub release.
type Release struct {
	TagName     string    `json:"tag_name" yaml:"tag_name"`
	Name        string    `json:"name,omitempty" yaml:"name,omitempty"`
	HTMLURL     string    `json:"html_url,omitempty" yaml:"html_url,omitempty"`
	Prerelease  bool      `json:"prerelease,omitempty" yaml:"prerelease,omitempty"`
	PublishedAt time.Time `json:"published_at,omitempty" yaml:"published_at,omitempty"`
	Assets      []Asset   `json:"assets" yaml:"assets"`
}

// Asset returns the first asset whose name contains substr, ignoring case.
func (r *Release) Asset(substr string) (Asset, bool) {
	needle := strings.ToLower(substr)
	for _, a := range r.Assets {
		if strings.Contains(strings.ToLower(a.Name), needle) {
			return a, true
		}
	}
	return Asset{}, false
}

// ReleaseClient reads releases from the GitHub API.
type ReleaseClient struct {
	BaseURL    string
	Repo       string
	Token      string
	HTTPClient *http.Client
}

// NewReleaseClient returns a client for repo. An empty repo means DefaultRepo.
func NewReleaseClient(repo string) *ReleaseClient {
	if repo == "" {
		repo = DefaultRepo
	}
	return &ReleaseClient{
		BaseURL:    DefaultAPIURL,
		Repo:       repo,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Latest returns the newest release. When /releases/latest has no tag (no
// stable release yet, or an API error) the first entry of /releases is
// used instead. If neither works the API's own message is reported.
func (c *ReleaseClient) Latest(ctx context.Context) (*Release, error) {
	body, err := c.get(ctx, "/repos/"+c.Repo+"/releases/latest")
	if err != nil {
		return nil, err
	}
	if gjson.GetBytes(body, "tag_name").String() != "" {
		return decodeRelease(body)
	}
	logger.Debug("latest release has no tag, trying release list",
		"repo", c.Repo,
		"response", prefix(string(body), 300))

	list, err := c.get(ctx, "/repos/"+c.Repo+"/releases")
	if err != nil {
		return nil, err
	}
	if first := gjson.GetBytes(list, "0"); first.IsObject() && first.Get("tag_name").String() != "" {
		return decodeRelease([]byte(first.Raw))
	}
	if gjson.ParseBytes(list).IsArray() {
		logger.Debug("release list has no usable releases", "response", prefix(string(list), 200))
	}

	msg := gjson.GetBytes(body, "message").String()
	if msg == "" {
		msg = prefix(string(body), 200)
	}
	return nil, fmt.Errorf("tag_name not found for %s, API said: %s", c.Repo, msg)
}

func (c *ReleaseClient) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(c.BaseURL, "/")+path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("User-Agent", version.UserAgent())
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	client := c.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to query GitHub: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read GitHub response: %w", err)
	}
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("GitHub returned HTTP %d with invalid JSON: %s", resp.StatusCode, prefix(string(body), 200))
	}
	return body, nil
}

func decodeRelease(raw []byte) (*Release, error) {
	var r Release
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("failed to decode release: %w", err)
	}
	return &r, nil
}

func prefix(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

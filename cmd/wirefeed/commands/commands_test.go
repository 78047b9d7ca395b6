package commands

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/jmylchreest/wirefeed/internal/source"
	"github.com/jmylchreest/wirefeed/internal/version"
)

// execute runs the CLI with args and returns what it wrote to stdout.
// Flags of every command are reset first because the command tree is
// shared between tests.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetArgs(append([]string{"--quiet"}, args...))
	err := rootCmd.Execute()
	return out.String(), err
}

func resetFlags(cmd *cobra.Command) {
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			_ = sv.Replace(nil)
		} else {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	})
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version", "--short")
	if err != nil {
		t.Fatalf("version error = %v", err)
	}
	if out != version.String()+"\n" {
		t.Errorf("output = %q", out)
	}

	out, err = execute(t, "version", "--format", "json")
	if err != nil {
		t.Fatal(err)
	}
	var info version.Info
	if err := json.Unmarshal([]byte(out), &info); err != nil {
		t.Fatalf("invalid JSON %q: %v", out, err)
	}
	if info.Version != version.Version {
		t.Errorf("Version = %q", info.Version)
	}
}

func TestSources_JSON(t *testing.T) {
	out, err := execute(t, "sources", "--format", "json")
	if err != nil {
		t.Fatalf("sources error = %v", err)
	}
	var got []source.Source
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	enabled, _ := source.Select(source.Builtin(), nil)
	want := source.Names(enabled)
	if names := source.Names(got); strings.Join(names, ",") != strings.Join(want, ",") {
		t.Errorf("names = %v, want %v", names, want)
	}
}

func TestSources_TableWithSelection(t *testing.T) {
	out, err := execute(t, "sources", "-s", "apnews-world")
	if err != nil {
		t.Fatalf("sources error = %v", err)
	}
	if !strings.Contains(out, "NAME") || !strings.Contains(out, "apnews-world") {
		t.Errorf("output = %q", out)
	}
	if strings.Contains(out, "reuters-world") {
		t.Errorf("unselected source listed: %q", out)
	}
}

func TestSources_FileAndUnknown(t *testing.T) {
	path := filepath.Join(t.TempDir(), "extra.yaml")
	data := `sources:
  - name: local
    listing_url: https://local.example.com/news/
    disabled: true
    listing:
      link: a.story
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	out, err := execute(t, "sources", "--sources-file", path, "--all")
	if err != nil {
		t.Fatalf("sources error = %v", err)
	}
	if !strings.Contains(out, "local") || !strings.Contains(out, "false") {
		t.Errorf("disabled source missing: %q", out)
	}

	if _, err := execute(t, "sources", "-s", "nope"); err == nil || !strings.Contains(err.Error(), "unknown source") {
		t.Errorf("expected unknown source error, got %v", err)
	}
}

func TestParse_DefaultKeepsTitleBlockHeadlines(t *testing.T) {
	feedPath := filepath.Join(t.TempDir(), "article.xml")

	out, err := execute(t, "parse", filepath.Join("testdata", "reuters_headlines.html"), "--feed", feedPath)
	if err != nil {
		t.Fatalf("parse error = %v", err)
	}
	if !strings.HasPrefix(out, "added 1, duplicates 0") {
		t.Errorf("output = %q", out)
	}

	out, err = execute(t, "parse", filepath.Join("testdata", "reuters_headlines.html"), "--feed", feedPath, "-s", "reuters-world", "--dry-run")
	if err != nil {
		t.Fatalf("parse error = %v", err)
	}
	if !strings.HasPrefix(out, "added 2, duplicates 1") {
		t.Errorf("reuters-world output = %q", out)
	}
}

func TestParse(t *testing.T) {
	feedPath := filepath.Join(t.TempDir(), "article.xml")

	out, err := execute(t, "parse", filepath.Join("testdata", "reuters_listing.html"), "--feed", feedPath)
	if err != nil {
		t.Fatalf("parse error = %v", err)
	}
	if !strings.HasPrefix(out, "added 2, duplicates 0") {
		t.Errorf("output = %q", out)
	}

	data, err := os.ReadFile(feedPath)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{
		"https://www.reuters.com/world/europe/envoys-agree-framework-2026-10-18/",
		"https://www.reuters.com/world/asia-pacific/storm-makes-landfall-2026-10-18/",
		"<title>Reuters World Feed</title>",
	} {
		if !strings.Contains(string(data), want) {
			t.Errorf("feed missing %q", want)
		}
	}

	out, err = execute(t, "parse", filepath.Join("testdata", "reuters_listing.html"), "--feed", feedPath)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out, "added 0, duplicates 2") {
		t.Errorf("second run output = %q", out)
	}
}

func TestParse_DryRun(t *testing.T) {
	feedPath := filepath.Join(t.TempDir(), "article.xml")
	if _, err := execute(t, "parse", filepath.Join("testdata", "reuters_listing.html"), "--feed", feedPath, "--dry-run"); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(feedPath); !os.IsNotExist(err) {
		t.Errorf("feed written during dry run: %v", err)
	}
}

func TestFetch_BadMode(t *testing.T) {
	_, err := execute(t, "fetch", "https://example.com/", "--fetch-mode", "carrier-pigeon")
	if err == nil || !strings.Contains(err.Error(), "unknown fetch mode") {
		t.Errorf("expected fetch mode error, got %v", err)
	}
}

func TestFetch_Static(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = io.WriteString(w, "<html><head><title>Hello</title></head><body>hi</body></html>")
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "page.html")
	if _, err := execute(t, "fetch", srv.URL, "-f", "static", "-o", path); err != nil {
		t.Fatalf("fetch error = %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "<title>Hello</title>") {
		t.Errorf("page = %q", data)
	}
}

func releaseServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/repos/botswin/BotBrowser/releases/latest" {
			http.NotFound(w, r)
			return
		}
		_, _ = io.WriteString(w, `{
			"tag_name": "v142.0.7444.60",
			"assets": [
				{"name": "botbrowser_142_linux_x86_64.deb", "size": 152043520,
				 "browser_download_url": "https://github.com/botswin/BotBrowser/releases/download/v142.0.7444.60/botbrowser_142_linux_x86_64.deb"},
				{"name": "botbrowser_142_win_x86_64.7z", "size": 98566144,
				 "browser_download_url": "https://github.com/botswin/BotBrowser/releases/download/v142.0.7444.60/botbrowser_142_win_x86_64.7z"}
			]
		}`)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestBotbrowserRelease(t *testing.T) {
	srv := releaseServer(t)

	tests := []struct {
		name string
		args []string
		want []string
	}{
		{"tag", nil, []string{"v142.0.7444.60\n"}},
		{"match", []string{"--match", "LINUX"}, []string{"botbrowser_142_linux_x86_64.deb\n"}},
		{"assets", []string{"--assets"}, []string{
			"Available assets for v142.0.7444.60:",
			"botbrowser_142_win_x86_64.7z",
			"152 MB",
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append([]string{"botbrowser", "release", "--api-url", srv.URL}, tt.args...)
			out, err := execute(t, args...)
			if err != nil {
				t.Fatalf("release error = %v", err)
			}
			for _, w := range tt.want {
				if !strings.Contains(out, w) {
					t.Errorf("output %q missing %q", out, w)
				}
			}
		})
	}

	if _, err := execute(t, "botbrowser", "release", "--api-url", srv.URL, "--match", "macos"); err == nil {
		t.Error("expected error for unmatched asset")
	}
}

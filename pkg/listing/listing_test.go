package listing

import (
	"net/url"
	"os"
	"path/filepath"
	"testing"
)

func loadFixture(t *testing.T, name string) string {
	t.Helper()
	b, err := os.ReadFile(filepath.Join("testdata", name))
	if err != nil {
		t.Fatalf("read fixture: %v", err)
	}
	return string(b)
}

var worldRules = Rules{
	Link:  `a[data-testid="TitleLink"]`,
	Title: `span[data-testid="TitleHeading"]`,
}

// --- Parse Tests ---

func TestParse_ReutersWorld(t *testing.T) {
	got, err := Parse(loadFixture(t, "reuters_world.html"), "https://www.reuters.com", worldRules)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	want := []Candidate{
		{URL: "https://www.reuters.com/world/europe/talks-resume-2026-10-18/", Title: "Talks resume in Geneva as envoys meet"},
		{URL: "https://www.reuters.com/world/asia-pacific/floods-2026-10-18/", Title: "Floods displace thousands across the region"},
		{URL: "https://www.reuters.com/world/africa/election-2026-10-17/", Title: "Election results delayed again"},
	}
	if len(got) != len(want) {
		t.Fatalf("got %d candidates, want %d: %+v", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("candidate %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestParse_TitleRequired(t *testing.T) {
	rules := worldRules
	rules.TitleRequired = true

	got, err := Parse(loadFixture(t, "reuters_world.html"), "https://www.reuters.com", rules)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	// The election link has no heading span, so it is dropped.
	if len(got) != 2 {
		t.Fatalf("got %d candidates, want 2: %+v", len(got), got)
	}
	for _, c := range got {
		if c.URL == "https://www.reuters.com/world/africa/election-2026-10-17/" {
			t.Error("link without heading should be skipped when title is required")
		}
	}
}

func TestParse_CommentaryCards(t *testing.T) {
	rules := Rules{
		Card:      `[data-testid="StoryCard"]`,
		Link:      `[data-testid="TitleLink"]`,
		Title:     `[data-testid="TitleHeading"]`,
		Thumbnail: `[data-testid="MediaImageLink"] [data-testid="EagerImageContainer"] img[data-testid="EagerImage"]`,
	}
	got, err := Parse(loadFixture(t, "reuters_commentary.html"), "https://www.reuters.com", rules)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	want := []Candidate{
		{
			URL:       "https://www.reuters.com/commentary/breakingviews/markets-2026-10-18/",
			Title:     "Markets misread the central bank again",
			Thumbnail: "https://www.reuters.com/resizer/one.jpg",
		},
		{
			URL:       "https://www.reuters.com/commentary/columns/energy-2026-10-17/",
			Title:     "Energy transition needs cheaper capital",
			Thumbnail: "https://www.reuters.com/resizer/two.jpg",
		},
		{
			URL:   "https://www.reuters.com/commentary/no-image-2026-10-16/",
			Title: "No picture for this one",
		},
	}
	if len(got) != len(want) {
		t.Fatalf("got %d candidates, want %d: %+v", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("candidate %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestParse_XPath(t *testing.T) {
	rules := Rules{LinkXPath: `//a[@data-testid="TitleLink"]`}
	got, err := Parse(loadFixture(t, "reuters_world.html"), "https://www.reuters.com", rules)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d candidates, want 3: %+v", len(got), got)
	}
	if got[0].Title != "Talks resume in Geneva as envoys meet" {
		t.Errorf("title = %q", got[0].Title)
	}
}

func TestParse_InvalidXPath(t *testing.T) {
	_, err := Parse("<html></html>", "https://example.com", Rules{LinkXPath: "//a[@"})
	if err == nil {
		t.Fatal("expected error for invalid XPath")
	}
}

func TestParse_FallbackScan(t *testing.T) {
	rules := Rules{
		Link:            `a[data-testid="TitleLink"]`,
		FallbackPattern: `^https://www\.reuters\.com/world/.+-\d{4}-\d{2}-\d{2}/$`,
		MinTitleLength:  10,
	}
	got, err := Parse(loadFixture(t, "fallback.html"), "https://www.reuters.com", rules)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	want := []string{
		"https://www.reuters.com/world/americas/storm-makes-landfall-2026-10-18/",
		"https://www.reuters.com/world/middle-east/ceasefire-holds-2026-10-18/",
	}
	if len(got) != len(want) {
		t.Fatalf("got %d candidates, want %d: %+v", len(got), len(want), got)
	}
	for i, u := range want {
		if got[i].URL != u {
			t.Errorf("candidate %d URL = %q, want %q", i, got[i].URL, u)
		}
	}
	if got[0].Title != "Storm makes landfall on the Gulf coast" {
		t.Errorf("fallback title = %q", got[0].Title)
	}
}

func TestParse_FallbackNotUsedWhenPrimaryMatches(t *testing.T) {
	rules := worldRules
	rules.FallbackPattern = `.*`
	got, err := Parse(loadFixture(t, "reuters_world.html"), "https://www.reuters.com", rules)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(got) != 3 {
		t.Errorf("got %d candidates, want 3", len(got))
	}
}

func TestParse_FallbackOnly(t *testing.T) {
	rules := Rules{FallbackPattern: `ceasefire`}
	got, err := Parse(loadFixture(t, "fallback.html"), "https://www.reuters.com", rules)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(got) != 1 || got[0].Title != "Ceasefire holds for a third day" {
		t.Errorf("got %+v", got)
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name  string
		base  string
		rules Rules
	}{
		{"no_rules", "https://example.com", Rules{}},
		{"bad_pattern", "https://example.com", Rules{Link: "a", FallbackPattern: "("}},
		{"bad_base", "://bad", Rules{Link: "a"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse("<html></html>", tt.base, tt.rules); err == nil {
				t.Error("expected error")
			}
		})
	}
}

// --- Resolve Tests ---

func TestResolve(t *testing.T) {
	base, _ := url.Parse("https://apnews.com/hub/world-news")
	tests := []struct {
		href   string
		want   string
		wantOK bool
	}{
		{"https://apnews.com/article/abc", "https://apnews.com/article/abc", true},
		{"  /article/def#top ", "https://apnews.com/article/def", true},
		{"//cdn.example.com/img.jpg", "https://cdn.example.com/img.jpg", true},
		{"http://example.com/x", "http://example.com/x", true},
		{"article/relative", "", false},
		{"#section", "", false},
		{"javascript:void(0)", "", false},
		{"mailto:desk@example.com", "", false},
		{"httpfoo", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := Resolve(base, tt.href)
		if ok != tt.wantOK || got != tt.want {
			t.Errorf("Resolve(%q) = %q, %v; want %q, %v", tt.href, got, ok, tt.want, tt.wantOK)
		}
	}
}

package fetcher

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

type challengeRule struct {
	kind string
	// titles match the whole title, prefixes its start.
	titles   []string
	prefixes []string
	html     []string
}

// Checked in order; the first match wins.
var challengeRules = []challengeRule{
	{
		kind:     "cloudflare",
		prefixes: []string{"just a moment", "attention required! | cloudflare"},
		html:     []string{"cf-challenge", "cf_chl_opt"},
	},
	{
		kind: "cloudflare-turnstile",
		html: []string{"challenges.cloudflare.com/turnstile", "cf-turnstile"},
	},
	{
		kind: "hcaptcha",
		html: []string{"hcaptcha.com", "h-captcha"},
	},
	{
		kind: "recaptcha",
		html: []string{"google.com/recaptcha", "g-recaptcha"},
	},
	{
		kind:     "anti-bot",
		titles:   []string{"access denied", "bot detection"},
		prefixes: []string{"access denied |", "access denied -"},
		html:     []string{"robot or human", "px-captcha"},
	},
}

// minParagraph is the length of paragraph text that marks a page as real
// content. Widget markers on such a page are embedded forms, not a wall.
const minParagraph = 80

// DetectChallenge reports which kind of interstitial a page is, or "" for
// a normal page. Titles are compared whole or by prefix so headlines that
// merely mention a block are not mistaken for one.
func DetectChallenge(title, html string) string {
	title = strings.ToLower(strings.TrimSpace(title))
	for _, r := range challengeRules {
		if matchTitle(title, r) {
			return r.kind
		}
	}

	lower := strings.ToLower(html)
	for _, r := range challengeRules {
		if containsAny(lower, r.html) {
			if hasContent(html) {
				return ""
			}
			return r.kind
		}
	}
	return ""
}

func matchTitle(title string, r challengeRule) bool {
	if title == "" {
		return false
	}
	for _, t := range r.titles {
		if title == t {
			return true
		}
	}
	for _, p := range r.prefixes {
		if strings.HasPrefix(title, p) {
			return true
		}
	}
	return false
}

// hasContent reports whether the page carries at least one paragraph of
// readable text.
func hasContent(html string) bool {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return false
	}
	found := false
	doc.Find("p").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if len(strings.TrimSpace(s.Text())) >= minParagraph {
			found = true
			return false
		}
		return true
	})
	return found
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

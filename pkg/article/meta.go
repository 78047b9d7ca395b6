package article

import (
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/araddon/dateparse"
)

// Image returns a representative image URL for the page: og:image, then
// link rel=image_src, then the first <img> with a usable source. Relative
// URLs are resolved against base when it is set.
func Image(doc *goquery.Document, base *url.URL) string {
	if v, ok := doc.Find(`meta[property="og:image"]`).First().Attr("content"); ok && strings.TrimSpace(v) != "" {
		return absolute(base, v)
	}
	if v, ok := doc.Find(`link[rel~="image_src"]`).First().Attr("href"); ok && strings.TrimSpace(v) != "" {
		return absolute(base, v)
	}

	var src string
	doc.Find("img").EachWithBreak(func(_ int, img *goquery.Selection) bool {
		for _, attr := range []string{"src", "data-src", "data-lazy-src"} {
			if v, ok := img.Attr(attr); ok && strings.TrimSpace(v) != "" {
				src = v
				return false
			}
		}
		return true
	})
	if src == "" {
		return ""
	}
	return absolute(base, src)
}

// publishedSources are checked in order; the first parseable value wins.
var publishedSources = []struct {
	selector string
	attr     string
}{
	{`meta[property="article:published_time"]`, "content"},
	{`meta[property="og:published_time"]`, "content"},
	{`meta[itemprop="datePublished"]`, "content"},
	{`meta[name="pubdate"]`, "content"},
	{`meta[name="publish-date"]`, "content"},
	{`meta[name="date"]`, "content"},
	{`meta[name="dc.date"]`, "content"},
	{`meta[name="DC.date.issued"]`, "content"},
	{`time[datetime]`, "datetime"},
}

// Published returns the page's publication time in UTC, or the zero time.
func Published(doc *goquery.Document) time.Time {
	for _, src := range publishedSources {
		var found time.Time
		doc.Find(src.selector).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			v, ok := s.Attr(src.attr)
			if !ok {
				return true
			}
			t, err := dateparse.ParseIn(strings.TrimSpace(v), time.UTC)
			if err != nil {
				return true
			}
			found = t.UTC()
			return false
		})
		if !found.IsZero() {
			return found
		}
	}
	return time.Time{}
}

func absolute(base *url.URL, raw string) string {
	raw = strings.TrimSpace(raw)
	if base == nil {
		return raw
	}
	ref, err := url.Parse(raw)
	if err != nil || ref.IsAbs() {
		return raw
	}
	return base.ResolveReference(ref).String()
}

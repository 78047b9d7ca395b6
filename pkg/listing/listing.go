// Package listing turns a news section page into article candidates.
//
// Links are found with a CSS selector (optionally scoped to a card element)
// or an XPath expression. When the primary selectors find nothing, a loose
// scan over every anchor filtered by a URL pattern can take over, which keeps
// a feed alive through small markup changes on the site.
package listing

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"

	"github.com/jmylchreest/wirefeed/internal/htmltext"
	"github.com/jmylchreest/wirefeed/internal/logger"
)

// Rules describes where candidates live on a listing page.
type Rules struct {
	// Card scopes each candidate to a container element. Optional.
	Card string `yaml:"card,omitempty" json:"card,omitempty"`
	// Link selects the article anchor (inside Card when set).
	Link string `yaml:"link,omitempty" json:"link,omitempty" validate:"required_without_all=LinkXPath FallbackPattern"`
	// LinkXPath is used instead of Link when Link is empty.
	LinkXPath string `yaml:"link_xpath,omitempty" json:"link_xpath,omitempty"`
	// Title selects the headline inside the anchor. The anchor text is used
	// when it is empty or matches nothing, unless TitleRequired is set.
	Title         string `yaml:"title,omitempty" json:"title,omitempty"`
	TitleRequired bool   `yaml:"title_required,omitempty" json:"title_required,omitempty"`
	// Thumbnail selects an <img> inside the card.
	Thumbnail string `yaml:"thumbnail,omitempty" json:"thumbnail,omitempty"`
	// FallbackPattern filters anchors for the loose scan.
	FallbackPattern string `yaml:"fallback_pattern,omitempty" json:"fallback_pattern,omitempty"`
	MinTitleLength  int    `yaml:"min_title_length,omitempty" json:"min_title_length,omitempty" validate:"gte=0"`
}

// Candidate is an article found on a listing page.
type Candidate struct {
	URL       string `json:"url" yaml:"url"`
	Title     string `json:"title" yaml:"title"`
	Thumbnail string `json:"thumbnail,omitempty" yaml:"thumbnail,omitempty"`
}

// Parse extracts candidates from a listing page. baseURL resolves
// root-relative links. Candidates keep document order and are unique by URL.
func Parse(page, baseURL string, rules Rules) ([]Candidate, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL %q: %w", baseURL, err)
	}

	var fallback *regexp.Regexp
	if rules.FallbackPattern != "" {
		fallback, err = regexp.Compile(rules.FallbackPattern)
		if err != nil {
			return nil, fmt.Errorf("invalid fallback pattern: %w", err)
		}
	}

	c := &collector{base: base, seen: make(map[string]bool)}

	switch {
	case rules.Link != "":
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(page))
		if err != nil {
			return nil, fmt.Errorf("failed to parse listing: %w", err)
		}
		c.css(doc, rules)
		if len(c.out) == 0 && fallback != nil {
			c.scan(doc, fallback, rules.MinTitleLength)
		}
	case rules.LinkXPath != "":
		root, err := htmlquery.Parse(strings.NewReader(page))
		if err != nil {
			return nil, fmt.Errorf("failed to parse listing: %w", err)
		}
		if err := c.xpath(root, rules.LinkXPath); err != nil {
			return nil, err
		}
		if len(c.out) == 0 && fallback != nil {
			c.scan(goquery.NewDocumentFromNode(root), fallback, rules.MinTitleLength)
		}
	case fallback != nil:
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(page))
		if err != nil {
			return nil, fmt.Errorf("failed to parse listing: %w", err)
		}
		c.scan(doc, fallback, rules.MinTitleLength)
	default:
		return nil, fmt.Errorf("listing rules need a link selector, link XPath or fallback pattern")
	}

	return c.out, nil
}

type collector struct {
	base *url.URL
	seen map[string]bool
	out  []Candidate
}

func (c *collector) add(href, title, thumb string) bool {
	link, ok := Resolve(c.base, href)
	if !ok || title == "" || c.seen[link] {
		return false
	}
	c.seen[link] = true
	if thumb != "" {
		if abs, ok := Resolve(c.base, thumb); ok {
			thumb = abs
		}
	}
	c.out = append(c.out, Candidate{URL: link, Title: title, Thumbnail: thumb})
	return true
}

func (c *collector) css(doc *goquery.Document, rules Rules) {
	if rules.Card == "" {
		doc.Find(rules.Link).Each(func(_ int, a *goquery.Selection) {
			c.anchor(a, a, rules)
		})
		return
	}
	doc.Find(rules.Card).Each(func(_ int, card *goquery.Selection) {
		a := card.Find(rules.Link).First()
		if a.Length() == 0 {
			return
		}
		c.anchor(card, a, rules)
	})
}

func (c *collector) anchor(card, a *goquery.Selection, rules Rules) {
	href, _ := a.Attr("href")

	var title string
	if rules.Title != "" {
		if heading := a.Find(rules.Title).First(); heading.Length() > 0 {
			title = htmltext.Text(heading)
		} else if rules.TitleRequired {
			return
		}
	}
	if title == "" && !rules.TitleRequired {
		title = htmltext.Text(a)
	}

	var thumb string
	if rules.Thumbnail != "" {
		img := card.Find(rules.Thumbnail).First()
		thumb = strings.TrimSpace(attrOr(img, "src", "data-src"))
	}

	c.add(href, title, thumb)
}

func (c *collector) xpath(root *html.Node, expr string) error {
	nodes, err := htmlquery.QueryAll(root, expr)
	if err != nil {
		return fmt.Errorf("invalid link XPath %q: %w", expr, err)
	}
	for _, n := range nodes {
		title := htmltext.Node(n)
		c.add(htmlquery.SelectAttr(n, "href"), title, "")
	}
	return nil
}

// scan is the loose fallback: any anchor whose resolved URL matches the
// pattern and whose text is long enough to be a headline.
func (c *collector) scan(doc *goquery.Document, pattern *regexp.Regexp, minTitle int) {
	if minTitle < 1 {
		minTitle = 1
	}
	before := len(c.out)
	doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		link, ok := Resolve(c.base, href)
		if !ok || !pattern.MatchString(link) {
			return
		}
		title := htmltext.Text(a)
		if len([]rune(title)) < minTitle {
			return
		}
		c.add(href, title, "")
	})
	logger.Debug("listing fallback scan", "pattern", pattern.String(), "found", len(c.out)-before)
}

// Resolve turns an href into an absolute URL without fragment. Absolute
// http(s) links are kept, root-relative links are joined to base, and every
// other form (page-relative, javascript:, mailto:, fragments) is rejected.
func Resolve(base *url.URL, href string) (string, bool) {
	href = strings.TrimSpace(href)
	if href == "" {
		return "", false
	}

	var u *url.URL
	var err error
	switch {
	case strings.HasPrefix(href, "http"):
		u, err = url.Parse(href)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return "", false
		}
	case strings.HasPrefix(href, "/"):
		if base == nil {
			return "", false
		}
		ref, perr := url.Parse(href)
		if perr != nil {
			return "", false
		}
		u = base.ResolveReference(ref)
	default:
		return "", false
	}

	u.Fragment = ""
	return u.String(), true
}

func attrOr(s *goquery.Selection, names ...string) string {
	for _, name := range names {
		if v, ok := s.Attr(name); ok && strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

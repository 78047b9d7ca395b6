// Package article pulls the body text, lead image and publication date out
// of a rendered news article page.
//
// Text extraction is a cascade. Each stage runs only when the previous one
// produced nothing:
//
//  1. container: paragraphs inside a site-specific container element
//  2. body: the first generic body selector that yields text
//  3. readability: a Readability pass over the whole page
//  4. largest-block: the parent element holding the most paragraph text
package article

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"
	"time"

	readability "codeberg.org/readeck/go-readability/v2"
	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/jmylchreest/wirefeed/internal/htmltext"
	"github.com/jmylchreest/wirefeed/internal/logger"
)

// Extraction methods reported in Result.Method.
const (
	MethodContainer    = "container"
	MethodBody         = "body"
	MethodReadability  = "readability"
	MethodLargestBlock = "largest-block"
)

// DefaultMinBlockChars is the smallest text accepted from the readability
// and largest-block stages.
const DefaultMinBlockChars = 200

// paragraphSep joins paragraphs in Result.Text.
const paragraphSep = "\n\n"

// Rules describes where the article body lives.
type Rules struct {
	// Container is the preferred body element. Only the first match is used.
	Container string `yaml:"container,omitempty" json:"container,omitempty"`
	// Paragraphs selects paragraph elements inside Container. Defaults to
	// "[ParagraphAttr]" when ParagraphAttr is set, otherwise "p".
	Paragraphs string `yaml:"paragraphs,omitempty" json:"paragraphs,omitempty"`
	// ParagraphAttr and ParagraphMatch keep only paragraphs whose attribute
	// contains the match string, e.g. data-testid containing "paragraph-".
	ParagraphAttr  string `yaml:"paragraph_attr,omitempty" json:"paragraph_attr,omitempty"`
	ParagraphMatch string `yaml:"paragraph_match,omitempty" json:"paragraph_match,omitempty" validate:"required_with=ParagraphAttr"`
	// Body lists generic paragraph selectors tried in order.
	Body []string `yaml:"body,omitempty" json:"body,omitempty"`
	// Readability enables the Readability stage.
	Readability bool `yaml:"readability,omitempty" json:"readability,omitempty"`
	// MinBlockChars overrides DefaultMinBlockChars.
	MinBlockChars int `yaml:"min_block_chars,omitempty" json:"min_block_chars,omitempty" validate:"gte=0"`
}

// Result is what Extract found on a page. Empty fields mean nothing usable.
type Result struct {
	Text      string    `json:"text" yaml:"text"`
	Image     string    `json:"image,omitempty" yaml:"image,omitempty"`
	Published time.Time `json:"published,omitempty" yaml:"published,omitempty"`
	Title     string    `json:"title,omitempty" yaml:"title,omitempty"`
	Method    string    `json:"method,omitempty" yaml:"method,omitempty"`
}

// Extract runs the text cascade and the metadata lookups over page.
// pageURL resolves relative image links and may be empty.
func Extract(page, pageURL string, rules Rules) (Result, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page))
	if err != nil {
		return Result{}, fmt.Errorf("failed to parse article: %w", err)
	}

	var base *url.URL
	if pageURL != "" {
		base, _ = url.Parse(pageURL)
	}

	res := Result{
		Image:     Image(doc, base),
		Published: Published(doc),
		Title:     title(doc),
	}

	minChars := rules.MinBlockChars
	if minChars <= 0 {
		minChars = DefaultMinBlockChars
	}

	stages := []struct {
		method string
		run    func() []string
	}{
		{MethodContainer, func() []string { return fromContainer(doc, rules) }},
		{MethodBody, func() []string { return fromBody(doc, rules.Body) }},
		{MethodReadability, func() []string {
			if !rules.Readability {
				return nil
			}
			return fromReadability(page, base, minChars)
		}},
		{MethodLargestBlock, func() []string { return largestBlock(doc, minChars) }},
	}

	for _, stage := range stages {
		parts := stage.run()
		if len(parts) == 0 {
			continue
		}
		res.Text = strings.Join(parts, paragraphSep)
		res.Method = stage.method
		break
	}

	logger.Debug("article extracted",
		"url", pageURL,
		"method", res.Method,
		"chars", len(res.Text),
		"image", res.Image != "")

	return res, nil
}

func fromContainer(doc *goquery.Document, rules Rules) []string {
	if rules.Container == "" {
		return nil
	}
	container := doc.Find(rules.Container).First()
	if container.Length() == 0 {
		return nil
	}

	sel := rules.Paragraphs
	if sel == "" {
		sel = "p"
		if rules.ParagraphAttr != "" {
			sel = "[" + rules.ParagraphAttr + "]"
		}
	}

	var parts []string
	container.Find(sel).Each(func(_ int, s *goquery.Selection) {
		if rules.ParagraphAttr != "" {
			v, _ := s.Attr(rules.ParagraphAttr)
			if v == "" || !strings.Contains(v, rules.ParagraphMatch) {
				return
			}
		}
		if t := htmltext.Text(s); t != "" {
			parts = append(parts, t)
		}
	})
	return parts
}

func fromBody(doc *goquery.Document, selectors []string) []string {
	for _, sel := range selectors {
		parts := texts(doc.Find(sel))
		if len(parts) > 0 {
			return parts
		}
	}
	return nil
}

func fromReadability(page string, base *url.URL, minChars int) []string {
	parser := readability.NewParser()
	art, err := parser.Parse(strings.NewReader(page), base)
	if err != nil || art.Node == nil {
		logger.Debug("readability found nothing", "error", err)
		return nil
	}

	parts := texts(goquery.NewDocumentFromNode(art.Node).Find("p"))
	if len(parts) == 0 {
		var buf bytes.Buffer
		if err := art.RenderText(&buf); err != nil {
			return nil
		}
		parts = splitParagraphs(buf.String())
	}
	if totalLen(parts) < minChars {
		return nil
	}
	return parts
}

// largestBlock groups <p> elements by parent and keeps the parent with the
// most text.
func largestBlock(doc *goquery.Document, minChars int) []string {
	type block struct {
		parts []string
		size  int
	}
	blocks := make(map[*html.Node]*block)
	var order []*html.Node

	doc.Find("p").Each(func(_ int, s *goquery.Selection) {
		t := htmltext.Text(s)
		if t == "" {
			return
		}
		parent := s.Get(0).Parent
		b, ok := blocks[parent]
		if !ok {
			b = &block{}
			blocks[parent] = b
			order = append(order, parent)
		}
		b.parts = append(b.parts, t)
		b.size += len(t)
	})

	var best *block
	for _, n := range order {
		if b := blocks[n]; best == nil || b.size > best.size {
			best = b
		}
	}
	if best == nil || best.size < minChars {
		return nil
	}
	return best.parts
}

func texts(s *goquery.Selection) []string {
	var parts []string
	s.Each(func(_ int, p *goquery.Selection) {
		if t := htmltext.Text(p); t != "" {
			parts = append(parts, t)
		}
	})
	return parts
}

func splitParagraphs(text string) []string {
	var parts []string
	for _, line := range strings.Split(text, "\n") {
		if t := htmltext.Collapse(line); t != "" {
			parts = append(parts, t)
		}
	}
	return parts
}

func totalLen(parts []string) int {
	n := 0
	for _, p := range parts {
		n += len(p)
	}
	return n
}

func title(doc *goquery.Document) string {
	if v, ok := doc.Find(`meta[property="og:title"]`).Attr("content"); ok {
		if t := htmltext.Collapse(v); t != "" {
			return t
		}
	}
	return htmltext.Text(doc.Find("title").First())
}

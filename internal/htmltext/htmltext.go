// Package htmltext extracts readable text from parsed HTML.
package htmltext

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// Text returns the text of every node in the selection. Each text node is
// trimmed, empty ones are dropped, and the rest are joined by single spaces,
// so "<p>Hello<b>world</b></p>" reads "Hello world".
func Text(s *goquery.Selection) string {
	var parts []string
	for _, n := range s.Nodes {
		parts = appendText(parts, n)
	}
	return strings.Join(parts, " ")
}

// Node is Text for a single node.
func Node(n *html.Node) string {
	return strings.Join(appendText(nil, n), " ")
}

func appendText(parts []string, n *html.Node) []string {
	switch n.Type {
	case html.TextNode:
		if t := Collapse(n.Data); t != "" {
			parts = append(parts, t)
		}
		return parts
	case html.ElementNode:
		switch n.Data {
		case "script", "style", "noscript", "template":
			return parts
		}
	case html.CommentNode:
		return parts
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		parts = appendText(parts, c)
	}
	return parts
}

// Collapse folds runs of whitespace into single spaces and trims the ends.
func Collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

package htmltext

import (
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
)

func TestText(t *testing.T) {
	tests := []struct {
		name string
		html string
		sel  string
		want string
	}{
		{"nested", "<p>Hello<b>world</b></p>", "p", "Hello world"},
		{"whitespace", "<p>\n  Spread \t over\n lines </p>", "p", "Spread over lines"},
		{"skips_script", "<div>Story<script>var x = 1;</script><style>p{}</style></div>", "div", "Story"},
		{"multiple_nodes", "<p>One</p><p>Two</p>", "p", "One Two"},
		{"empty", "<p>  </p>", "p", ""},
		{"no_match", "<p>x</p>", "span", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, err := goquery.NewDocumentFromReader(strings.NewReader(tt.html))
			if err != nil {
				t.Fatal(err)
			}
			if got := Text(doc.Find(tt.sel)); got != tt.want {
				t.Errorf("Text() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNode(t *testing.T) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader("<h1>Breaking <em>news</em></h1>"))
	if err != nil {
		t.Fatal(err)
	}
	if got := Node(doc.Find("h1").Get(0)); got != "Breaking news" {
		t.Errorf("Node() = %q", got)
	}
}

package source

import (
	"github.com/jmylchreest/wirefeed/pkg/article"
	"github.com/jmylchreest/wirefeed/pkg/listing"
)

func reutersArticle() article.Rules {
	return article.Rules{
		Container:      "div.article-body-module__content__bnXL1",
		ParagraphAttr:  "data-testid",
		ParagraphMatch: "paragraph-",
		Body:           []string{`div[data-testid="Body"] p`, "article p"},
	}
}

// Builtin returns the sources wirefeed ships with, in scrape order.
// Each call returns fresh values.
func Builtin() []Source {
	return []Source{
		{
			Name:       "reuters-world",
			Title:      "Reuters World",
			ListingURL: "https://www.reuters.com/world/",
			BaseURL:    "https://www.reuters.com",
			WaitFor:    `a[data-testid="TitleLink"]`,
			Listing: listing.Rules{
				Link:            `a[data-testid="TitleLink"]`,
				Title:           `span[data-testid="TitleHeading"]`,
				FallbackPattern: `^https://www\.reuters\.com/world/[a-z-]+/.+-\d{4}-\d{2}-\d{2}/?$`,
				MinTitleLength:  20,
			},
			Article: reutersArticle(),
		},
		{
			Name:       "reuters-commentary",
			Title:      "Reuters Commentary",
			ListingURL: "https://www.reuters.com/commentary/",
			BaseURL:    "https://www.reuters.com",
			WaitFor:    `[data-testid="StoryCard"]`,
			Listing: listing.Rules{
				Card:      `[data-testid="StoryCard"]`,
				Link:      `[data-testid="TitleLink"]`,
				Title:     `[data-testid="TitleHeading"]`,
				Thumbnail: `[data-testid="MediaImageLink"] [data-testid="EagerImageContainer"] img[data-testid="EagerImage"]`,
			},
			Article: reutersArticle(),
		},
		{
			Name:       "apnews-world",
			Title:      "AP News World",
			ListingURL: "https://apnews.com/world-news",
			WaitFor:    "div.PagePromo",
			Listing: listing.Rules{
				Card:            "div.PagePromo",
				Link:            "h3.PagePromo-title a",
				Title:           "span.PagePromoContentIcons-text",
				Thumbnail:       "div.PagePromo-media img",
				FallbackPattern: `^https://apnews\.com/article/`,
				MinTitleLength:  20,
			},
			Article: article.Rules{
				Container:   "div.RichTextStoryBody",
				Body:        []string{"div.RichTextBody p", "article p"},
				Readability: true,
			},
		},
		{
			Name:       "france24-en",
			Title:      "France24",
			ListingURL: "https://www.france24.com/en/",
			WaitFor:    "div.m-item-list-article",
			Listing: listing.Rules{
				Card:            "div.m-item-list-article",
				Link:            "a[data-article-item-link]",
				Title:           ".article__title",
				Thumbnail:       "img",
				FallbackPattern: `^https://www\.france24\.com/en/[a-z-]+/\d{8}-`,
				MinTitleLength:  20,
			},
			Article: article.Rules{
				Container:   "div.t-content__body",
				Body:        []string{"article p"},
				Readability: true,
			},
		},
		{
			// Headlines only, for saved copies of the world page: an anchor
			// counts only inside a Title block and with its heading span.
			Name:       "reuters-headlines",
			Title:      "Reuters World Headlines",
			ListingURL: "https://www.reuters.com/world/",
			BaseURL:    "https://www.reuters.com",
			WaitFor:    `div[data-testid="Title"] a[data-testid="TitleLink"]`,
			Disabled:   true,
			Listing: listing.Rules{
				Link:          `div[data-testid="Title"] a[data-testid="TitleLink"]`,
				Title:         `span[data-testid="TitleHeading"]`,
				TitleRequired: true,
			},
			Article: reutersArticle(),
		},
	}
}

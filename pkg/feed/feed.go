// Package feed maintains an RSS 2.0 file that grows across runs.
//
// The document is kept in encoding/xml structs. Elements this package does
// not model are carried through Load and Save unchanged, so a feed edited by
// hand or by another tool keeps its extra markup.
package feed

import (
	"encoding/xml"
	"strings"
	"time"
)

// PubDateLayout is the RFC 1123 form written to <pubDate>, always in UTC.
const PubDateLayout = "Mon, 02 Jan 2006 15:04:05 +0000"

// DefaultMaxItems is how many items a feed keeps after trimming.
const DefaultMaxItems = 500

// Feed is an RSS 2.0 document.
type Feed struct {
	XMLName xml.Name   `xml:"rss"`
	Version string     `xml:"version,attr"`
	Attrs   []xml.Attr `xml:",any,attr"`
	Channel *Channel   `xml:"channel"`
}

// Channel is the single <channel> of a feed. Items are kept in file order,
// oldest first.
type Channel struct {
	Title       string `xml:"title"`
	Link        string `xml:"link"`
	Description string `xml:"description"`
	Extra       []Raw  `xml:",any"`
	Items       []Item `xml:"item"`
}

// Item is one <item>.
type Item struct {
	Title       Text       `xml:"title"`
	Link        string     `xml:"link"`
	Description Text       `xml:"description"`
	PubDate     string     `xml:"pubDate,omitempty"`
	Enclosure   *Enclosure `xml:"enclosure"`
	Extra       []Raw      `xml:",any"`
}

// UnmarshalXML decodes the RSS elements of a channel into their fields and
// keeps everything else, including namespaced elements such as atom:link
// that share a local name with an RSS element, in Extra.
func (c *Channel) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	return decodeChildren(d, start, func(el xml.StartElement) (bool, error) {
		switch el.Name.Local {
		case "title":
			return true, d.DecodeElement(&c.Title, &el)
		case "link":
			return true, d.DecodeElement(&c.Link, &el)
		case "description":
			return true, d.DecodeElement(&c.Description, &el)
		case "item":
			var it Item
			if err := d.DecodeElement(&it, &el); err != nil {
				return true, err
			}
			c.Items = append(c.Items, it)
			return true, nil
		}
		return false, nil
	}, &c.Extra)
}

// UnmarshalXML decodes an item the same way as Channel.UnmarshalXML.
func (it *Item) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	return decodeChildren(d, start, func(el xml.StartElement) (bool, error) {
		switch el.Name.Local {
		case "title":
			var s string
			err := d.DecodeElement(&s, &el)
			it.Title = Text(s)
			return true, err
		case "link":
			return true, d.DecodeElement(&it.Link, &el)
		case "description":
			var s string
			err := d.DecodeElement(&s, &el)
			it.Description = Text(s)
			return true, err
		case "pubDate":
			return true, d.DecodeElement(&it.PubDate, &el)
		case "enclosure":
			var enc Enclosure
			if err := d.DecodeElement(&enc, &el); err != nil {
				return true, err
			}
			it.Enclosure = &enc
			return true, nil
		}
		return false, nil
	}, &it.Extra)
}

// decodeChildren walks the children of start. Elements in the parent's
// namespace go to known first; the rest, and whatever known declines, are
// appended to extra verbatim.
func decodeChildren(d *xml.Decoder, start xml.StartElement, known func(xml.StartElement) (bool, error), extra *[]Raw) error {
	for {
		tok, err := d.Token()
		if err != nil {
			return err
		}
		switch el := tok.(type) {
		case xml.StartElement:
			if el.Name.Space == start.Name.Space {
				handled, err := known(el)
				if err != nil {
					return err
				}
				if handled {
					continue
				}
			}
			var r Raw
			if err := d.DecodeElement(&r, &el); err != nil {
				return err
			}
			*extra = append(*extra, r)
		case xml.EndElement:
			return nil
		}
	}
}

// Enclosure is the <enclosure> attached to an item, used for the lead image.
type Enclosure struct {
	URL    string `xml:"url,attr"`
	Type   string `xml:"type,attr,omitempty"`
	Length string `xml:"length,attr,omitempty"`
}

// Text is character data written with literal line breaks, so multi
// paragraph descriptions stay readable in the file.
type Text string

// MarshalXML implements xml.Marshaler.
func (t Text) MarshalXML(e *xml.Encoder, start xml.StartElement) error {
	if err := e.EncodeToken(start); err != nil {
		return err
	}
	if t != "" {
		if err := e.EncodeToken(xml.CharData(t)); err != nil {
			return err
		}
	}
	return e.EncodeToken(start.End())
}

// Raw is an element kept verbatim.
type Raw struct {
	XMLName xml.Name
	Attrs   []xml.Attr `xml:",any,attr"`
	Inner   string     `xml:",innerxml"`
}

// ChannelInfo is used when a channel has to be created.
type ChannelInfo struct {
	Title       string `yaml:"title" json:"title" mapstructure:"title"`
	Link        string `yaml:"link" json:"link" mapstructure:"link"`
	Description string `yaml:"description" json:"description" mapstructure:"description"`
}

// DefaultChannel describes the channel created for a brand new feed.
var DefaultChannel = ChannelInfo{
	Title:       "Reuters World Feed",
	Link:        "https://evilgodfahim.github.io/reur/",
	Description: "Scraped articles from Reuters World",
}

// New returns an empty feed with the given channel.
func New(info ChannelInfo) *Feed {
	return &Feed{
		Version: "2.0",
		Channel: newChannel(info),
	}
}

func newChannel(info ChannelInfo) *Channel {
	return &Channel{
		Title:       info.Title,
		Link:        info.Link,
		Description: info.Description,
	}
}

// Entry is an article to add to a feed.
type Entry struct {
	Title       string    `json:"title" yaml:"title"`
	Link        string    `json:"link" yaml:"link"`
	Description string    `json:"description" yaml:"description"`
	Image       string    `json:"image,omitempty" yaml:"image,omitempty"`
	Published   time.Time `json:"published,omitempty" yaml:"published,omitempty"`
}

// AddOptions controls Add.
type AddOptions struct {
	// RequireDescription skips entries whose description is blank.
	RequireDescription bool
	// Now stamps entries without a publication time. Zero means time.Now.
	Now time.Time
}

// AddResult counts what Add did with each entry.
type AddResult struct {
	Added      int `json:"added" yaml:"added"`
	Duplicates int `json:"duplicates" yaml:"duplicates"`
	Skipped    int `json:"skipped" yaml:"skipped"`
}

// Add appends entries whose link is not already in the feed. Links are
// compared after trimming whitespace, against existing items and against
// earlier entries of the same batch.
func (f *Feed) Add(entries []Entry, opts AddOptions) AddResult {
	f.ensureChannel(DefaultChannel)

	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}

	known := f.Links()
	var res AddResult
	for _, e := range entries {
		link := strings.TrimSpace(e.Link)
		if link == "" {
			res.Skipped++
			continue
		}
		if known[link] {
			res.Duplicates++
			continue
		}
		if opts.RequireDescription && strings.TrimSpace(e.Description) == "" {
			res.Skipped++
			continue
		}

		published := e.Published
		if published.IsZero() {
			published = now
		}

		item := Item{
			Title:       Text(e.Title),
			Link:        link,
			Description: Text(e.Description),
			PubDate:     FormatPubDate(published),
		}
		if img := strings.TrimSpace(e.Image); img != "" {
			item.Enclosure = &Enclosure{URL: img, Type: "image/jpeg"}
		}

		f.Channel.Items = append(f.Channel.Items, item)
		known[link] = true
		res.Added++
	}
	return res
}

// Trim drops the oldest items so at most max remain and returns how many
// were removed. max <= 0 keeps everything.
func (f *Feed) Trim(max int) int {
	if f.Channel == nil || max <= 0 || len(f.Channel.Items) <= max {
		return 0
	}
	drop := len(f.Channel.Items) - max
	kept := make([]Item, max)
	copy(kept, f.Channel.Items[drop:])
	f.Channel.Items = kept
	return drop
}

// Links returns the trimmed link of every item.
func (f *Feed) Links() map[string]bool {
	links := make(map[string]bool)
	if f.Channel == nil {
		return links
	}
	for _, it := range f.Channel.Items {
		if l := strings.TrimSpace(it.Link); l != "" {
			links[l] = true
		}
	}
	return links
}

// Len reports the number of items.
func (f *Feed) Len() int {
	if f.Channel == nil {
		return 0
	}
	return len(f.Channel.Items)
}

func (f *Feed) ensureChannel(info ChannelInfo) {
	if f.Version == "" {
		f.Version = "2.0"
	}
	if f.Channel == nil {
		f.Channel = newChannel(info)
	}
}

// FormatPubDate renders t for <pubDate>.
func FormatPubDate(t time.Time) string {
	return t.UTC().Format(PubDateLayout)
}

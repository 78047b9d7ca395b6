package feed

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/mmcdole/gofeed"

	"github.com/jmylchreest/wirefeed/internal/logger"
)

// Load reads the feed at path. A missing file yields a new feed. A file
// that does not parse as RSS is salvaged item by item with a lenient feed
// parser; when even that fails the feed starts over empty. info names the
// channel whenever one has to be created.
func Load(path string, info ChannelInfo) (*Feed, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		logger.Debug("feed file not found, starting new feed", "path", path)
		return New(info), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read feed: %w", err)
	}
	return Parse(data, info), nil
}

// Parse decodes an RSS document. It never fails: see Load.
func Parse(data []byte, info ChannelInfo) *Feed {
	var f Feed
	if err := xml.Unmarshal(data, &f); err != nil {
		logger.Warn("feed is not valid RSS, attempting recovery", "error", err)
		return recoverFeed(data, info)
	}
	f.Attrs = cleanAttrs(f.Attrs)
	f.ensureChannel(info)
	cleanRaw(f.Channel.Extra)
	for i := range f.Channel.Items {
		cleanRaw(f.Channel.Items[i].Extra)
	}
	return &f
}

// cleanAttrs rewrites decoded attributes so they encode back to what was
// read. Prefix declarations become literal xmlns:prefix attributes, which
// keeps verbatim child markup that uses them well-formed. Default namespace
// declarations are dropped because the element name already carries them.
func cleanAttrs(attrs []xml.Attr) []xml.Attr {
	var out []xml.Attr
	for _, a := range attrs {
		switch {
		case a.Name.Space == "xmlns":
			out = append(out, xml.Attr{Name: xml.Name{Local: "xmlns:" + a.Name.Local}, Value: a.Value})
		case a.Name.Space == "" && a.Name.Local == "xmlns":
		default:
			out = append(out, a)
		}
	}
	return out
}

func cleanRaw(elems []Raw) {
	for i := range elems {
		elems[i].Attrs = cleanAttrs(elems[i].Attrs)
	}
}

func recoverFeed(data []byte, info ChannelInfo) *Feed {
	parsed, err := gofeed.NewParser().ParseString(string(data))
	if err != nil {
		logger.Warn("feed recovery failed, starting new feed", "error", err)
		return New(info)
	}

	f := New(ChannelInfo{
		Title:       coalesce(parsed.Title, info.Title),
		Link:        coalesce(parsed.Link, info.Link),
		Description: coalesce(parsed.Description, info.Description),
	})
	for _, it := range parsed.Items {
		if it == nil || strings.TrimSpace(it.Link) == "" {
			continue
		}
		item := Item{
			Title:       Text(it.Title),
			Link:        strings.TrimSpace(it.Link),
			Description: Text(it.Description),
			PubDate:     it.Published,
		}
		if it.PublishedParsed != nil {
			item.PubDate = FormatPubDate(*it.PublishedParsed)
		}
		for _, enc := range it.Enclosures {
			if enc != nil && enc.URL != "" {
				item.Enclosure = &Enclosure{URL: enc.URL, Type: coalesce(enc.Type, "image/jpeg"), Length: enc.Length}
				break
			}
		}
		if item.Enclosure == nil && it.Image != nil && it.Image.URL != "" {
			item.Enclosure = &Enclosure{URL: it.Image.URL, Type: "image/jpeg"}
		}
		f.Channel.Items = append(f.Channel.Items, item)
	}
	logger.Info("recovered feed items", "count", len(f.Channel.Items))
	return f
}

// Marshal renders the feed with an XML declaration.
func (f *Feed) Marshal() ([]byte, error) {
	f.ensureChannel(DefaultChannel)
	body, err := xml.MarshalIndent(f, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode feed: %w", err)
	}
	var buf bytes.Buffer
	buf.Grow(len(xml.Header) + len(body) + 1)
	buf.WriteString(xml.Header)
	buf.Write(body)
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

// Save writes the feed to path through a temporary file in the same
// directory, so readers never see a partial document.
func (f *Feed) Save(path string) error {
	data, err := f.Marshal()
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create feed directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write feed: %w", err)
	}
	if err := tmp.Chmod(0o644); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to set feed permissions: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write feed: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to replace feed: %w", err)
	}
	return nil
}

func coalesce(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

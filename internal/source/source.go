// Package source defines the news sites wirefeed knows how to read.
package source

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/jmylchreest/wirefeed/pkg/article"
	"github.com/jmylchreest/wirefeed/pkg/listing"
)

// Source is one listing page plus the rules for reading it and its articles.
type Source struct {
	Name       string `json:"name" yaml:"name" validate:"required,excludesall= /"`
	Title      string `json:"title,omitempty" yaml:"title,omitempty"`
	ListingURL string `json:"listing_url" yaml:"listing_url" validate:"required,url"`
	// BaseURL resolves root-relative links. Defaults to the listing origin.
	BaseURL string `json:"base_url,omitempty" yaml:"base_url,omitempty" validate:"omitempty,url"`
	// WaitFor is a CSS selector browser backends wait for before reading
	// the listing.
	WaitFor     string        `json:"wait_for,omitempty" yaml:"wait_for,omitempty"`
	Listing     listing.Rules `json:"listing" yaml:"listing"`
	Article     article.Rules `json:"article" yaml:"article"`
	MaxArticles int           `json:"max_articles,omitempty" yaml:"max_articles,omitempty" validate:"gte=0"`
	Disabled    bool          `json:"disabled,omitempty" yaml:"disabled,omitempty"`
}

// Base returns the URL used to resolve root-relative links.
func (s Source) Base() string {
	if s.BaseURL != "" {
		return s.BaseURL
	}
	u, err := url.Parse(s.ListingURL)
	if err != nil || u.Host == "" {
		return s.ListingURL
	}
	return u.Scheme + "://" + u.Host
}

// Label is the human readable name used in logs.
func (s Source) Label() string {
	if s.Title != "" {
		return s.Title
	}
	return s.Name
}

// File is the on-disk shape of a sources file.
type File struct {
	Sources []Source `json:"sources" yaml:"sources"`
}

// LoadFile reads sources from a YAML or JSON file. The format follows the
// extension; unknown extensions are read as YAML.
func LoadFile(path string) ([]Source, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read sources file: %w", err)
	}

	var f File
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("failed to parse JSON sources: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("failed to parse YAML sources: %w", err)
		}
	}

	if err := Validate(f.Sources); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return f.Sources, nil
}

// Merge overlays overrides on base: a source with a known name replaces the
// base entry in place, new names are appended in override order.
func Merge(base, overrides []Source) []Source {
	out := make([]Source, len(base))
	copy(out, base)

	index := make(map[string]int, len(out))
	for i, s := range out {
		index[s.Name] = i
	}
	for _, o := range overrides {
		if i, ok := index[o.Name]; ok {
			out[i] = o
			continue
		}
		index[o.Name] = len(out)
		out = append(out, o)
	}
	return out
}

// Select picks sources by name, in the order given. With no names every
// enabled source is returned. Naming a disabled source selects it anyway.
func Select(all []Source, names []string) ([]Source, error) {
	if len(names) == 0 {
		var out []Source
		for _, s := range all {
			if !s.Disabled {
				out = append(out, s)
			}
		}
		return out, nil
	}

	byName := make(map[string]Source, len(all))
	for _, s := range all {
		byName[s.Name] = s
	}

	var (
		out     []Source
		unknown []string
		seen    = make(map[string]bool)
	)
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		s, ok := byName[n]
		if !ok {
			unknown = append(unknown, n)
			continue
		}
		out = append(out, s)
	}
	if len(unknown) > 0 {
		return nil, fmt.Errorf("unknown source(s): %s", strings.Join(unknown, ", "))
	}
	return out, nil
}

// Names lists source names in order.
func Names(sources []Source) []string {
	names := make([]string, len(sources))
	for i, s := range sources {
		names[i] = s.Name
	}
	return names
}

// FieldError describes one invalid field of one source.
type FieldError struct {
	Source  string
	Field   string
	Message string
}

func (e FieldError) Error() string {
	return fmt.Sprintf("source %q: %s %s", e.Source, e.Field, e.Message)
}

// ValidationErrors collects every problem found by Validate.
type ValidationErrors []FieldError

func (v ValidationErrors) Error() string {
	msgs := make([]string, len(v))
	for i, e := range v {
		msgs[i] = e.Error()
	}
	return "invalid sources: " + strings.Join(msgs, "; ")
}

var validate = validator.New()

// Validate checks every source and reports all problems at once.
func Validate(sources []Source) error {
	var errs ValidationErrors
	seen := make(map[string]bool)

	for i, s := range sources {
		name := s.Name
		if name == "" {
			name = fmt.Sprintf("#%d", i+1)
		}
		if s.Name != "" && seen[s.Name] {
			errs = append(errs, FieldError{Source: name, Field: "Name", Message: "is duplicated"})
		}
		seen[s.Name] = true

		err := validate.Struct(s)
		if err == nil {
			continue
		}
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("failed to validate source %s: %w", name, err)
		}
		for _, fe := range verrs {
			errs = append(errs, FieldError{
				Source:  name,
				Field:   strings.TrimPrefix(fe.Namespace(), "Source."),
				Message: formatValidationError(fe),
			})
		}
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func formatValidationError(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "is required"
	case "url":
		return "must be a valid URL"
	case "gte":
		return fmt.Sprintf("must be at least %s", e.Param())
	case "excludesall":
		return "must not contain spaces or slashes"
	case "required_without_all":
		return "is required unless " + strings.ReplaceAll(e.Param(), " ", " or ") + " is set"
	case "required_with":
		return "is required when " + e.Param() + " is set"
	default:
		return fmt.Sprintf("failed validation '%s'", e.Tag())
	}
}

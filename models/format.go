package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// FormatKind names one output representation of a scraped page.
type FormatKind string

const (
	FormatMarkdown       FormatKind = "markdown"
	FormatHTML           FormatKind = "html"
	FormatRawHTML        FormatKind = "rawHtml"
	FormatLinks          FormatKind = "links"
	FormatImages         FormatKind = "images"
	FormatSummary        FormatKind = "summary"
	FormatScreenshot     FormatKind = "screenshot"
	FormatJSON           FormatKind = "json"
	FormatChangeTracking FormatKind = "changeTracking"
	FormatBranding       FormatKind = "branding"
)

// screenshotFullPageTag is accepted as a bare-string shorthand.
const screenshotFullPageTag = "screenshot@fullPage"

var formatKinds = map[FormatKind]struct{}{
	FormatMarkdown:       {},
	FormatHTML:           {},
	FormatRawHTML:        {},
	FormatLinks:          {},
	FormatImages:         {},
	FormatSummary:        {},
	FormatScreenshot:     {},
	FormatJSON:           {},
	FormatChangeTracking: {},
	FormatBranding:       {},
}

// Viewport is a browser viewport size in CSS pixels.
type Viewport struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// ScreenshotOptions parameterizes the screenshot format and action.
type ScreenshotOptions struct {
	FullPage bool      `json:"fullPage,omitempty"`
	Quality  int       `json:"quality,omitempty"`
	Viewport *Viewport `json:"viewport,omitempty"`
}

// JSONOptions parameterizes LLM-backed structured extraction.
type JSONOptions struct {
	Prompt string          `json:"prompt,omitempty"`
	Schema json.RawMessage `json:"schema,omitempty"`
}

// Change tracking modes.
const (
	ChangeModeGitDiff = "git-diff"
	ChangeModeJSON    = "json"
)

// ChangeTrackingOptions parameterizes the changeTracking format.
type ChangeTrackingOptions struct {
	Modes  []string        `json:"modes,omitempty"`
	Prompt string          `json:"prompt,omitempty"`
	Schema json.RawMessage `json:"schema,omitempty"`
	Tag    string          `json:"tag,omitempty"`
}

// HasMode reports whether mode was requested.
func (o *ChangeTrackingOptions) HasMode(mode string) bool {
	if o == nil {
		return false
	}
	for _, m := range o.Modes {
		if m == mode {
			return true
		}
	}
	return false
}

// Format is one element of ScrapeRequest.Formats. On the wire it is either a
// bare string tag or an object with a "type" key; only the option field
// matching Kind is set.
type Format struct {
	Kind           FormatKind
	Screenshot     *ScreenshotOptions
	JSON           *JSONOptions
	ChangeTracking *ChangeTrackingOptions
}

// UnmarshalJSON decodes either form into the closed set of kinds.
func (f *Format) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var tag string
		if err := json.Unmarshal(b, &tag); err != nil {
			return err
		}
		if tag == screenshotFullPageTag {
			*f = Format{Kind: FormatScreenshot, Screenshot: &ScreenshotOptions{FullPage: true}}
			return nil
		}
		kind := FormatKind(tag)
		if _, ok := formatKinds[kind]; !ok {
			return fmt.Errorf("unknown format %q", tag)
		}
		*f = Format{Kind: kind}
		return nil
	}

	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(b, &head); err != nil {
		return fmt.Errorf("format must be a string or an object: %w", err)
	}
	kind := FormatKind(head.Type)
	if _, ok := formatKinds[kind]; !ok {
		return fmt.Errorf("unknown format %q", head.Type)
	}

	out := Format{Kind: kind}
	switch kind {
	case FormatScreenshot:
		out.Screenshot = &ScreenshotOptions{}
		if err := json.Unmarshal(b, out.Screenshot); err != nil {
			return fmt.Errorf("screenshot format: %w", err)
		}
	case FormatJSON:
		out.JSON = &JSONOptions{}
		if err := json.Unmarshal(b, out.JSON); err != nil {
			return fmt.Errorf("json format: %w", err)
		}
	case FormatChangeTracking:
		out.ChangeTracking = &ChangeTrackingOptions{}
		if err := json.Unmarshal(b, out.ChangeTracking); err != nil {
			return fmt.Errorf("changeTracking format: %w", err)
		}
	}
	*f = out
	return nil
}

// MarshalJSON emits the bare tag when the format carries no options.
func (f Format) MarshalJSON() ([]byte, error) {
	switch {
	case f.Screenshot != nil:
		return json.Marshal(struct {
			Type FormatKind `json:"type"`
			*ScreenshotOptions
		}{f.Kind, f.Screenshot})
	case f.JSON != nil:
		return json.Marshal(struct {
			Type FormatKind `json:"type"`
			*JSONOptions
		}{f.Kind, f.JSON})
	case f.ChangeTracking != nil:
		return json.Marshal(struct {
			Type FormatKind `json:"type"`
			*ChangeTrackingOptions
		}{f.Kind, f.ChangeTracking})
	default:
		return json.Marshal(string(f.Kind))
	}
}

// identity is a stable textual form used for cache keys.
func (f Format) identity() string {
	b, err := f.MarshalJSON()
	if err != nil {
		return string(f.Kind)
	}
	return string(b)
}

// FormatIdentity returns a canonical, order-independent description of the
// requested formats.
func FormatIdentity(formats []Format) string {
	parts := make([]string, 0, len(formats))
	for _, f := range formats {
		parts = append(parts, f.identity())
	}
	sort.Strings(parts)
	return strings.Join(parts, ",")
}

package models

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/andybalholm/cascadia"
)

// Tier is a proxy quality level.
type Tier string

const (
	TierBasic   Tier = "basic"
	TierStealth Tier = "stealth"
	TierAuto    Tier = "auto"
)

// ParserPDF is the only supported document parser.
const ParserPDF = "pdf"

const (
	DefaultMaxAgeMs  int64 = 172_800_000 // 2 days
	DefaultTimeoutMs       = 30_000
	DefaultCountry         = "US"
)

// Location selects the locale the page is requested with.
type Location struct {
	Country   string   `json:"country,omitempty"`
	Languages []string `json:"languages,omitempty"`
}

// AcceptLanguage renders the location as an Accept-Language header value.
func (l *Location) AcceptLanguage() string {
	if l == nil {
		return ""
	}
	langs := l.Languages
	if len(langs) == 0 && l.Country != "" {
		langs = []string{"en-" + strings.ToUpper(l.Country)}
	}
	parts := make([]string, 0, len(langs))
	for i, lang := range langs {
		if i == 0 {
			parts = append(parts, lang)
			continue
		}
		q := 1.0 - float64(i)*0.1
		if q < 0.1 {
			q = 0.1
		}
		parts = append(parts, fmt.Sprintf("%s;q=%.1f", lang, q))
	}
	return strings.Join(parts, ",")
}

// ScrapeRequest is the payload for POST /v1/scrape.
type ScrapeRequest struct {
	// URL is the target page to scrape. Required.
	URL string `json:"url"`

	// Formats lists the requested output representations.
	// Default: ["markdown"].
	Formats []Format `json:"formats,omitempty"`

	// OnlyMainContent strips navigation, headers, footers and other
	// boilerplate before deriving formats. Default: true.
	OnlyMainContent *bool `json:"onlyMainContent,omitempty"`

	// IncludeTags and ExcludeTags are CSS selectors filtering the page.
	IncludeTags []string `json:"includeTags,omitempty"`
	ExcludeTags []string `json:"excludeTags,omitempty"`

	// MaxAge is the oldest cached result, in milliseconds, the caller
	// accepts. 0 forces a fresh fetch. Default: 2 days.
	MaxAge *int64 `json:"maxAge,omitempty"`

	// Headers are sent with the page request. Their presence bypasses the cache.
	Headers map[string]string `json:"headers,omitempty"`

	// WaitFor is an extra delay in milliseconds after the page loaded.
	WaitFor int `json:"waitFor,omitempty"`

	Mobile              bool  `json:"mobile,omitempty"`
	SkipTLSVerification *bool `json:"skipTlsVerification,omitempty"`

	// Timeout bounds the whole scrape in milliseconds. Default: 30000.
	Timeout int `json:"timeout,omitempty"`

	// Parsers lists the document parsers to apply. Default: ["pdf"].
	// An explicit empty list returns documents unparsed.
	Parsers []string `json:"parsers"`

	// Actions is the browser script run before content capture.
	Actions []Action `json:"actions,omitempty"`

	Location           *Location `json:"location,omitempty"`
	RemoveBase64Images *bool     `json:"removeBase64Images,omitempty"`
	BlockAds           *bool     `json:"blockAds,omitempty"`

	// Proxy selects the proxy tier. Default: "auto".
	Proxy Tier `json:"proxy,omitempty"`

	// StoreInCache controls whether the result is written to the cache.
	// Default: true.
	StoreInCache *bool `json:"storeInCache,omitempty"`

	// ZeroDataRetention suppresses every form of persistence.
	ZeroDataRetention bool `json:"zeroDataRetention,omitempty"`
}

func boolPtr(b bool) *bool { return &b }

// Defaults applies default values to unset fields.
func (r *ScrapeRequest) Defaults() {
	if len(r.Formats) == 0 {
		r.Formats = []Format{{Kind: FormatMarkdown}}
	}
	if r.OnlyMainContent == nil {
		r.OnlyMainContent = boolPtr(true)
	}
	if r.MaxAge == nil {
		v := DefaultMaxAgeMs
		r.MaxAge = &v
	}
	if r.SkipTLSVerification == nil {
		r.SkipTLSVerification = boolPtr(true)
	}
	if r.Timeout == 0 {
		r.Timeout = DefaultTimeoutMs
	}
	if r.Parsers == nil {
		r.Parsers = []string{ParserPDF}
	}
	if r.RemoveBase64Images == nil {
		r.RemoveBase64Images = boolPtr(true)
	}
	if r.BlockAds == nil {
		r.BlockAds = boolPtr(true)
	}
	if r.Proxy == "" {
		r.Proxy = TierAuto
	}
	if r.StoreInCache == nil {
		r.StoreInCache = boolPtr(true)
	}
	if r.Location == nil {
		r.Location = &Location{Country: DefaultCountry}
	}
}

// Normalize applies the cache overrides implied by other fields and drops
// duplicate bare format tags. Call after Defaults.
func (r *ScrapeRequest) Normalize() {
	if r.ZeroDataRetention || len(r.Headers) > 0 || len(r.Actions) > 0 {
		r.StoreInCache = boolPtr(false)
	}
	seen := make(map[FormatKind]bool, len(r.Formats))
	out := r.Formats[:0]
	for _, f := range r.Formats {
		bare := f.Screenshot == nil && f.JSON == nil && f.ChangeTracking == nil
		if bare && seen[f.Kind] {
			continue
		}
		seen[f.Kind] = true
		out = append(out, f)
	}
	r.Formats = out
}

// Validate checks the request after Defaults and Normalize.
func (r *ScrapeRequest) Validate() error {
	if err := validateURL(r.URL); err != nil {
		return NewScrapeError(KindInvalidRequest, err.Error(), nil)
	}

	counts := make(map[FormatKind]int, len(r.Formats))
	for _, f := range r.Formats {
		counts[f.Kind]++
		if counts[f.Kind] > 1 {
			return NewScrapeError(KindInvalidRequest,
				fmt.Sprintf("format %q requested more than once", f.Kind), nil)
		}
		if err := validateFormat(f); err != nil {
			return NewScrapeError(KindInvalidRequest, err.Error(), nil)
		}
	}

	for _, sel := range append(append([]string{}, r.IncludeTags...), r.ExcludeTags...) {
		if err := ValidateSelector(sel); err != nil {
			return NewScrapeError(KindInvalidRequest, err.Error(), nil)
		}
	}

	for i, a := range r.Actions {
		if err := a.validate(); err != nil {
			return NewScrapeError(KindInvalidRequest, fmt.Sprintf("action %d: %v", i, err), nil)
		}
	}

	switch r.Proxy {
	case TierBasic, TierStealth, TierAuto:
	default:
		return NewScrapeError(KindInvalidRequest, fmt.Sprintf("unknown proxy tier %q", r.Proxy), nil)
	}

	for _, p := range r.Parsers {
		if p != ParserPDF {
			return NewScrapeError(KindInvalidRequest, fmt.Sprintf("unknown parser %q", p), nil)
		}
	}

	if r.Timeout < 0 || r.WaitFor < 0 || (r.MaxAge != nil && *r.MaxAge < 0) {
		return NewScrapeError(KindInvalidRequest, "timeout, waitFor and maxAge must not be negative", nil)
	}
	if r.WaitFor >= r.Timeout {
		return NewScrapeError(KindInvalidRequest, "waitFor must be shorter than timeout", nil)
	}
	if r.Location != nil && r.Location.Country != "" && len(r.Location.Country) != 2 {
		return NewScrapeError(KindInvalidRequest, "location.country must be an ISO 3166-1 alpha-2 code", nil)
	}
	return nil
}

func validateURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("url is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid url: %v", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("url scheme must be http or https")
	}
	if u.Hostname() == "" {
		return fmt.Errorf("url must have a host")
	}
	return nil
}

func validateFormat(f Format) error {
	switch f.Kind {
	case FormatMarkdown, FormatHTML, FormatRawHTML, FormatLinks, FormatImages,
		FormatSummary, FormatBranding, FormatChangeTracking:
	case FormatScreenshot:
		if f.Screenshot != nil && (f.Screenshot.Quality < 0 || f.Screenshot.Quality > 100) {
			return fmt.Errorf("screenshot quality must be between 0 and 100")
		}
	case FormatJSON:
		if f.JSON == nil || (f.JSON.Prompt == "" && len(f.JSON.Schema) == 0) {
			return fmt.Errorf("json format requires a prompt or a schema")
		}
	default:
		return fmt.Errorf("unknown format %q", f.Kind)
	}
	return nil
}

// ValidateSelector reports whether sel is a valid CSS selector group.
func ValidateSelector(sel string) error {
	if _, err := cascadia.ParseGroup(sel); err != nil {
		return fmt.Errorf("invalid css selector %q: %v", sel, err)
	}
	return nil
}

// Has reports whether a format of the given kind was requested.
func (r *ScrapeRequest) Has(kind FormatKind) bool {
	return r.Format(kind) != nil
}

// Format returns the requested format of the given kind, or nil.
func (r *ScrapeRequest) Format(kind FormatKind) *Format {
	for i := range r.Formats {
		if r.Formats[i].Kind == kind {
			return &r.Formats[i]
		}
	}
	return nil
}

// MainContentOnly reports the resolved onlyMainContent flag.
func (r *ScrapeRequest) MainContentOnly() bool {
	return r.OnlyMainContent == nil || *r.OnlyMainContent
}

// ShouldStore reports whether the result may be written to the cache.
func (r *ScrapeRequest) ShouldStore() bool {
	return !r.ZeroDataRetention && (r.StoreInCache == nil || *r.StoreInCache)
}

// CacheReadable reports whether a cached result may satisfy the request.
func (r *ScrapeRequest) CacheReadable() bool {
	return len(r.Headers) == 0 && len(r.Actions) == 0 && r.MaxAge != nil && *r.MaxAge > 0
}

// ParsesPDF reports whether PDF documents are parsed to text.
func (r *ScrapeRequest) ParsesPDF() bool {
	for _, p := range r.Parsers {
		if p == ParserPDF {
			return true
		}
	}
	return false
}

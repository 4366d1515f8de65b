package models

import "time"

// Cache states reported in metadata.
const (
	CacheHit    = "hit"
	CacheMiss   = "miss"
	CacheBypass = "bypass"
)

// ScrapeResult is the response envelope for POST /v1/scrape.
type ScrapeResult struct {
	// Success indicates whether the scrape completed without errors.
	Success bool `json:"success"`

	// Data holds the requested formats and page metadata.
	Data *Data `json:"data,omitempty"`

	// Warning reports degraded formats or cache write problems.
	Warning string `json:"warning,omitempty"`

	// Error is populated only when Success is false.
	Error *ErrorDetail `json:"error,omitempty"`
}

// Data contains only the formats that were requested. Pointer and
// omitzero fields keep unrequested formats out of the JSON.
type Data struct {
	Markdown       *string         `json:"markdown,omitempty"`
	Summary        *string         `json:"summary,omitempty"`
	HTML           *string         `json:"html,omitempty"`
	RawHTML        *string         `json:"rawHtml,omitempty"`
	Links          []string        `json:"links,omitzero"`
	Images         []string        `json:"images,omitzero"`
	Screenshot     *string         `json:"screenshot,omitempty"`
	JSON           any             `json:"json,omitempty"`
	Branding       map[string]any  `json:"branding,omitzero"`
	Actions        *ActionsOutput  `json:"actions,omitempty"`
	ChangeTracking *ChangeTracking `json:"changeTracking,omitempty"`
	Metadata       Metadata        `json:"metadata"`
}

// Metadata holds page-level information and scrape diagnostics.
type Metadata struct {
	Title             string   `json:"title,omitempty"`
	Description       string   `json:"description,omitempty"`
	Language          string   `json:"language,omitempty"`
	Keywords          string   `json:"keywords,omitempty"`
	Robots            string   `json:"robots,omitempty"`
	OGTitle           string   `json:"ogTitle,omitempty"`
	OGDescription     string   `json:"ogDescription,omitempty"`
	OGImage           string   `json:"ogImage,omitempty"`
	OGLocaleAlternate []string `json:"ogLocaleAlternate,omitempty"`
	SiteName          string   `json:"siteName,omitempty"`
	SourceURL         string   `json:"sourceURL"`
	URL               string   `json:"url"`
	StatusCode        int      `json:"statusCode"`
	Error             string   `json:"error,omitempty"`
	ContentType       string   `json:"contentType,omitempty"`
	NumPages          int      `json:"numPages,omitempty"`

	ScrapeID    string `json:"scrapeId,omitempty"`
	ProxyUsed   Tier   `json:"proxyUsed,omitempty"`
	CacheState  string `json:"cacheState,omitempty"`
	CachedAt    string `json:"cachedAt,omitempty"`
	CreditsUsed int    `json:"creditsUsed"`
	Timing      Timing `json:"timing"`
}

// Timing breaks down the time spent in each phase.
type Timing struct {
	TotalMs  int64 `json:"totalMs"`
	FetchMs  int64 `json:"fetchMs"`
	DeriveMs int64 `json:"deriveMs"`
}

// ActionsOutput collects what an action script produced.
type ActionsOutput struct {
	Screenshots       []string         `json:"screenshots"`
	Scrapes           []ScrapeSnapshot `json:"scrapes"`
	JavascriptReturns []JSReturn       `json:"javascriptReturns"`
	PDFs              []string         `json:"pdfs"`
}

// ScrapeSnapshot is the page state captured by a scrape action.
type ScrapeSnapshot struct {
	URL  string `json:"url"`
	HTML string `json:"html"`
}

// JSReturn is the value returned by an executeJavascript action.
type JSReturn struct {
	Type  string `json:"type"`
	Value any    `json:"value"`
}

// Change statuses.
const (
	ChangeNew     = "new"
	ChangeSame    = "same"
	ChangeChanged = "changed"
	ChangeRemoved = "removed"
)

// Visibility values.
const (
	Visible = "visible"
	Hidden  = "hidden"
)

// ChangeTracking describes how the page differs from its previous scrape.
type ChangeTracking struct {
	PreviousScrapeAt *time.Time            `json:"previousScrapeAt"`
	ChangeStatus     string                `json:"changeStatus"`
	Visibility       string                `json:"visibility"`
	Diff             *Diff                 `json:"diff,omitempty"`
	JSON             map[string]FieldDelta `json:"json,omitempty"`
}

// Diff is a textual unified diff plus an optional structured form.
type Diff struct {
	Text string    `json:"text"`
	JSON *DiffJSON `json:"json,omitempty"`
}

// DiffJSON is the structured form of a unified diff.
type DiffJSON struct {
	Files []DiffFile `json:"files"`
}

type DiffFile struct {
	From   string      `json:"from"`
	To     string      `json:"to"`
	Chunks []DiffChunk `json:"chunks"`
}

type DiffChunk struct {
	Content string       `json:"content"`
	Changes []DiffChange `json:"changes"`
}

type DiffChange struct {
	Type    string `json:"type"` // "add", "del" or "normal"
	Content string `json:"content"`
}

// FieldDelta is one changed field of a json-format output.
type FieldDelta struct {
	Previous any `json:"previous"`
	Current  any `json:"current"`
}

// HealthResponse is the response for GET /v1/health.
type HealthResponse struct {
	Status     string     `json:"status"` // "healthy" or "degraded"
	Uptime     string     `json:"uptime"`
	PoolStats  PoolStats  `json:"poolStats"`
	CacheStats CacheStats `json:"cacheStats"`
	Version    string     `json:"version"`
}

// PoolStats reports the state of the browser session pool.
type PoolStats struct {
	MaxPages    int `json:"maxPages"`
	ActivePages int `json:"activePages"`
}

// CacheStats reports freshness cache effectiveness.
type CacheStats struct {
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	Writes  int64   `json:"writes"`
	Entries int     `json:"entries"`
	HitRate float64 `json:"hitRate"`
}

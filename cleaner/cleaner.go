package cleaner

import (
	"log/slog"
	"strings"
	"sync"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/PuerkitoBio/goquery"
	"github.com/microcosm-cc/bluemonday"
)

// Cleaner turns rendered page HTML into the content representations a
// scrape can return. The converter and sanitizer policy are created once
// and reused across all requests (goroutine-safe).
type Cleaner struct {
	mdConverter *converter.Converter
	sanitizer   *bluemonday.Policy
}

// NewCleaner initialises the Cleaner with a pre-configured Markdown
// converter and HTML sanitization policy.
func NewCleaner() *Cleaner {
	return &Cleaner{
		mdConverter: newMarkdownConverter(),
		sanitizer:   newSanitizer(),
	}
}

// PrepareOptions selects the HTML transforms applied before derivation.
type PrepareOptions struct {
	IncludeTags     []string
	ExcludeTags     []string
	OnlyMainContent bool
}

// Prepare runs the base HTML preparation shared by every derived format.
//
// Flow:
//  1. Apply include/exclude tag filters (if provided).
//  2. When OnlyMainContent is set, strip boilerplate and extract the main
//     content (readability and pruning, best of both).
func (c *Cleaner) Prepare(rawHTML, sourceURL string, opts PrepareOptions) string {
	// ── 1. Content filtering (include/exclude tags) ────────────────
	html := FilterContent(rawHTML, opts.IncludeTags, opts.ExcludeTags)

	// ── 2. Main content extraction ─────────────────────────────────
	// Explicit include tags already chose the content.
	if opts.OnlyMainContent && len(opts.IncludeTags) == 0 {
		html = mainContent(StripBoilerplate(html), sourceURL)
	}
	return html
}

// Markdown converts prepared HTML to normalized Markdown.
func (c *Cleaner) Markdown(preparedHTML, sourceURL string, removeBase64Images bool) (string, error) {
	md, err := ToMarkdown(c.mdConverter, preparedHTML, sourceURL)
	if err != nil {
		return "", err
	}
	if removeBase64Images {
		md = ReplaceBase64Images(md)
	}
	return NormalizeMarkdown(md), nil
}

// SanitizedHTML returns prepared HTML with scripts, event handlers and
// unsafe URLs removed.
func (c *Cleaner) SanitizedHTML(preparedHTML string) string {
	return strings.TrimSpace(c.sanitizer.Sanitize(preparedHTML))
}

// newSanitizer allows user-generated-content markup plus the layout
// attributes useful to downstream readers.
func newSanitizer() *bluemonday.Policy {
	p := bluemonday.UGCPolicy()
	p.AllowAttrs("id").Globally()
	p.AllowAttrs("srcset", "loading").OnElements("img")
	p.AllowElements("picture", "source", "figure", "figcaption", "main", "article", "section")
	p.AllowAttrs("srcset", "type").OnElements("source")
	return p
}

// mainContent runs both Readability and Pruning concurrently, then picks the
// result that extracted more meaningful text content.
func mainContent(html, sourceURL string) string {
	var (
		readable   string
		readableOK bool
		pruned     string
		pruneErr   error
	)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		readable, readableOK = ExtractContent(html, sourceURL)
	}()
	go func() {
		defer wg.Done()
		pruned, pruneErr = contentScorer.Prune(html)
	}()
	wg.Wait()

	if pruneErr != nil {
		slog.Warn("pruning failed, using readability result", "url", sourceURL, "error", pruneErr)
		return readable
	}
	if !readableOK {
		return pruned
	}

	readableText := stripTags(readable)
	prunedText := stripTags(pruned)

	// Prefer the longer extraction unless it is an order of magnitude
	// longer than a still substantial shorter one (likely noise).
	useReadable := len(readableText) >= len(prunedText)
	if useReadable && len(prunedText) > minContentLength && len(readableText) > 10*len(prunedText) {
		useReadable = false
	} else if !useReadable && len(readableText) > minContentLength && len(prunedText) > 10*len(readableText) {
		useReadable = true
	}

	if useReadable {
		return readable
	}
	return pruned
}

// stripTags extracts visible text from an HTML fragment.
func stripTags(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return html
	}
	return strings.TrimSpace(doc.Text())
}

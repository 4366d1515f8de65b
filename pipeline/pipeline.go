// Package pipeline derives the requested output formats from a fetched page.
package pipeline

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/use-agent/skim/billing"
	"github.com/use-agent/skim/cleaner"
	"github.com/use-agent/skim/engine"
	"github.com/use-agent/skim/models"
	"github.com/use-agent/skim/scraper"
	"golang.org/x/sync/errgroup"
)

// LLM performs the model-backed derivations.
type LLM interface {
	Extract(ctx context.Context, content, prompt string, schema json.RawMessage) (any, error)
	Summarize(ctx context.Context, content string) (string, error)
}

// Pipeline turns a RawPage into the formats a request asked for.
type Pipeline struct {
	cleaner *cleaner.Cleaner
	llm     LLM
}

// New creates a Pipeline. llm may be nil, in which case summary and json
// degrade to warnings.
func New(c *cleaner.Cleaner, llm LLM) *Pipeline {
	return &Pipeline{cleaner: c, llm: llm}
}

// Result is the outcome of one derivation.
type Result struct {
	Data     *models.Data
	Warnings []string

	// Markdown is the normalized base content, computed whenever a format
	// or change tracking depends on it.
	Markdown string

	// TrackingJSON is the structured output compared by change tracking.
	TrackingJSON any

	// Usage feeds the billing calculator.
	Usage billing.ParserUsage
}

// content is the base representation every format is derived from.
type content struct {
	rawHTML  string // rawHtml payload
	prepared string // cleaned HTML
	markdown string // set directly for documents
	isDoc    bool
}

// Derive builds the requested formats. Per-format failures are reported as
// warnings and leave the format absent; an error is returned only when the
// request context ended.
func (p *Pipeline) Derive(ctx context.Context, page *engine.RawPage, req *models.ScrapeRequest) (*Result, error) {
	res := &Result{Data: &models.Data{}}
	finalURL := page.FinalURL
	if finalURL == "" {
		finalURL = page.URL
	}

	// ── 1. Base content ───────────────────────────────────────────────
	base, err := p.baseContent(page, req, finalURL, res)
	if err != nil {
		return nil, err
	}
	res.Data.Metadata = p.metadata(page, req, finalURL, base.isDoc)
	if base.isDoc {
		res.Data.Metadata.NumPages = res.Usage.Pages
	}

	var (
		mu   sync.Mutex
		data = res.Data
	)
	warn := func(format models.FormatKind, err error) {
		msg := err.Error()
		var se *models.ScrapeError
		if errors.As(err, &se) {
			msg = se.Message
		}
		slog.Warn("format derivation failed", "url", req.URL, "format", format, "error", err)
		mu.Lock()
		res.Warnings = append(res.Warnings, fmt.Sprintf("%s: %s", format, msg))
		mu.Unlock()
	}

	trackingOpts := trackingExtraction(req)
	// Stored results always carry markdown for later change tracking.
	needMarkdown := req.Has(models.FormatMarkdown) || req.Has(models.FormatSummary) ||
		req.Has(models.FormatJSON) || req.Has(models.FormatChangeTracking) || req.ShouldStore()

	// ── 2. Concurrent derivations ─────────────────────────────────────
	g, gctx := errgroup.WithContext(ctx)

	if needMarkdown {
		g.Go(func() error {
			md := base.markdown
			if !base.isDoc {
				var mdErr error
				md, mdErr = p.cleaner.Markdown(base.prepared, finalURL, req.RemoveBase64Images == nil || *req.RemoveBase64Images)
				if mdErr != nil {
					warn(models.FormatMarkdown, models.NewScrapeError(models.KindExtractionFailure, "markdown conversion failed", mdErr))
					return nil
				}
			}
			res.Markdown = md
			if req.Has(models.FormatMarkdown) {
				data.Markdown = &md
			}

			// Model-backed formats wait for markdown.
			if req.Has(models.FormatSummary) {
				g.Go(func() error {
					p.summary(gctx, md, data, warn)
					return nil
				})
			}
			if f := req.Format(models.FormatJSON); f != nil {
				g.Go(func() error {
					if out, ok := p.extract(gctx, md, f.JSON, models.FormatJSON, warn); ok {
						data.JSON = out
					}
					return nil
				})
			}
			if trackingOpts != nil {
				g.Go(func() error {
					if out, ok := p.extract(gctx, md, trackingOpts, models.FormatChangeTracking, warn); ok {
						res.TrackingJSON = out
					}
					return nil
				})
			}
			return nil
		})
	}

	if req.Has(models.FormatHTML) {
		g.Go(func() error {
			var out string
			if base.isDoc {
				out = base.prepared
			} else {
				out = p.cleaner.SanitizedHTML(base.prepared)
			}
			data.HTML = &out
			return nil
		})
	}
	if req.Has(models.FormatRawHTML) {
		raw := base.rawHTML
		data.RawHTML = &raw
	}
	if req.Has(models.FormatLinks) {
		g.Go(func() error {
			data.Links = []string{}
			if !base.isDoc {
				data.Links = cleaner.ExtractLinks(page.HTML, finalURL)
			}
			return nil
		})
	}
	if req.Has(models.FormatImages) {
		g.Go(func() error {
			data.Images = []string{}
			if !base.isDoc {
				data.Images = cleaner.ExtractImages(page.HTML, finalURL)
			}
			return nil
		})
	}
	if req.Has(models.FormatScreenshot) {
		if len(page.Screenshot) > 0 {
			uri := scraper.ImageDataURI(page.Screenshot)
			data.Screenshot = &uri
		} else {
			warn(models.FormatScreenshot, models.NewScrapeError(models.KindExtractionFailure, "no screenshot was captured", nil))
		}
	}
	if req.Has(models.FormatBranding) {
		g.Go(func() error {
			switch {
			case len(page.Branding) > 0:
				data.Branding = page.Branding
			case !base.isDoc:
				data.Branding = cleaner.StaticBranding(page.HTML, finalURL)
			default:
				warn(models.FormatBranding, models.NewScrapeError(models.KindExtractionFailure, "branding is not available for documents", nil))
			}
			return nil
		})
	}
	data.Actions = page.Actions

	_ = g.Wait()

	// ── 3. Tracking JSON falls back to the json format output ────────
	if trackingOpts == nil && req.Has(models.FormatChangeTracking) && data.JSON != nil {
		res.TrackingJSON = data.JSON
	}

	if err := ctx.Err(); err != nil {
		return nil, models.NewScrapeError(models.KindActionTimeout, "format derivation did not finish before the deadline", err)
	}
	return res, nil
}

// baseContent prepares the content shared by all formats. Documents are
// handled here so every format sees the same representation.
func (p *Pipeline) baseContent(page *engine.RawPage, req *models.ScrapeRequest, finalURL string, res *Result) (content, error) {
	if len(page.Document) == 0 {
		return content{
			rawHTML: page.HTML,
			prepared: p.cleaner.Prepare(page.HTML, finalURL, cleaner.PrepareOptions{
				IncludeTags:     req.IncludeTags,
				ExcludeTags:     req.ExcludeTags,
				OnlyMainContent: req.MainContentOnly(),
			}),
		}, nil
	}

	res.Usage = billing.ParserUsage{Parsers: req.Parsers, IsPDF: true}
	if !req.ParsesPDF() {
		// Unparsed documents are returned as-is.
		encoded := base64.StdEncoding.EncodeToString(page.Document)
		if n, err := pdfPageCount(page.Document); err == nil {
			res.Usage.Pages = n
		}
		return content{rawHTML: encoded, prepared: encoded, markdown: encoded, isDoc: true}, nil
	}

	doc, err := parsePDF(page.Document)
	if err != nil {
		return content{}, models.NewScrapeError(models.KindExtractionFailure, "failed to parse PDF document", err)
	}
	res.Usage.Pages = doc.PageCount

	var htmlBuf strings.Builder
	for i, text := range doc.Pages {
		fmt.Fprintf(&htmlBuf, "<section data-page=\"%d\"><p>%s</p></section>\n", i+1,
			strings.ReplaceAll(html.EscapeString(text), "\n", "<br>"))
	}
	return content{
		rawHTML:  htmlBuf.String(),
		prepared: htmlBuf.String(),
		markdown: cleaner.NormalizeMarkdown(strings.Join(doc.Pages, "\n\n")),
		isDoc:    true,
	}, nil
}

// metadata assembles page metadata plus the response fields.
func (p *Pipeline) metadata(page *engine.RawPage, req *models.ScrapeRequest, finalURL string, isDoc bool) models.Metadata {
	var md models.Metadata
	if !isDoc {
		md = cleaner.ExtractMetadata(page.HTML)
	}
	if md.Title == "" {
		md.Title = page.Title
	}
	md.SourceURL = req.URL
	md.URL = finalURL
	md.StatusCode = page.StatusCode
	md.ContentType = page.ContentType
	if page.StatusCode >= 400 || (page.StatusCode != 0 && page.StatusCode < 200) {
		md.Error = http.StatusText(page.StatusCode)
		if md.Error == "" {
			md.Error = fmt.Sprintf("HTTP %d", page.StatusCode)
		}
	}
	return md
}

func (p *Pipeline) summary(ctx context.Context, md string, data *models.Data, warn func(models.FormatKind, error)) {
	if p.llm == nil {
		warn(models.FormatSummary, models.NewScrapeError(models.KindExtractionFailure, "no LLM is configured", nil))
		return
	}
	out, err := p.llm.Summarize(ctx, md)
	if err != nil {
		warn(models.FormatSummary, err)
		return
	}
	data.Summary = &out
}

// extract runs a model extraction and validates it against the schema.
func (p *Pipeline) extract(ctx context.Context, md string, opts *models.JSONOptions, format models.FormatKind, warn func(models.FormatKind, error)) (any, bool) {
	if p.llm == nil {
		warn(format, models.NewScrapeError(models.KindExtractionFailure, "no LLM is configured", nil))
		return nil, false
	}
	if opts == nil {
		opts = &models.JSONOptions{}
	}
	out, err := p.llm.Extract(ctx, md, opts.Prompt, opts.Schema)
	if err != nil {
		warn(format, err)
		return nil, false
	}
	if len(opts.Schema) > 0 {
		if err := validateAgainst(opts.Schema, out); err != nil {
			warn(format, models.NewScrapeError(models.KindExtractionFailure, "extracted JSON does not match the schema: "+err.Error(), err))
			return nil, false
		}
	}
	return out, true
}

// trackingExtraction returns the extraction change tracking runs itself,
// or nil when it reuses the json format output.
func trackingExtraction(req *models.ScrapeRequest) *models.JSONOptions {
	f := req.Format(models.FormatChangeTracking)
	if f == nil || f.ChangeTracking == nil {
		return nil
	}
	ct := f.ChangeTracking
	if !ct.HasMode(models.ChangeModeJSON) && len(ct.Schema) == 0 {
		return nil
	}
	if ct.Prompt == "" && len(ct.Schema) == 0 {
		// json mode without its own options compares the json format.
		if jf := req.Format(models.FormatJSON); jf != nil {
			return nil
		}
	}
	return &models.JSONOptions{Prompt: ct.Prompt, Schema: ct.Schema}
}

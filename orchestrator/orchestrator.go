// Package orchestrator runs a single scrape end to end: cache lookup, fetch
// with proxy escalation, format derivation, change tracking, billing and
// write-through.
package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/use-agent/skim/billing"
	"github.com/use-agent/skim/cache"
	"github.com/use-agent/skim/changetrack"
	"github.com/use-agent/skim/engine"
	"github.com/use-agent/skim/models"
	"github.com/use-agent/skim/pipeline"
	"github.com/use-agent/skim/webhook"
)

// Fetcher loads a page, escalating proxy tiers as needed.
type Fetcher interface {
	FetchWithProxy(ctx context.Context, req *engine.FetchRequest, pref models.Tier) (*engine.RawPage, models.Tier, error)
}

// Deriver builds the requested formats from a page.
type Deriver interface {
	Derive(ctx context.Context, page *engine.RawPage, req *models.ScrapeRequest) (*pipeline.Result, error)
}

// Tracker compares a page against its history.
type Tracker interface {
	Track(ctx context.Context, urlKey string, cur changetrack.Snapshot) (*models.ChangeTracking, error)
}

// Notifier receives completed-scrape events.
type Notifier interface {
	Notify(event *webhook.Event)
}

// Options configures an Orchestrator.
type Options struct {
	// MaxTimeout caps the per-request timeout. Zero means no cap.
	MaxTimeout time.Duration

	// Notifier is optional.
	Notifier Notifier

	// Now defaults to time.Now.
	Now func() time.Time
}

// Orchestrator is safe for concurrent use; the cache store is the only
// state shared between requests.
type Orchestrator struct {
	fetcher  Fetcher
	deriver  Deriver
	tracker  Tracker
	store    cache.Store
	notifier Notifier

	maxTimeout time.Duration
	now        func() time.Time

	hits   atomic.Int64
	misses atomic.Int64
	writes atomic.Int64
}

// New creates an Orchestrator.
func New(fetcher Fetcher, deriver Deriver, tracker Tracker, store cache.Store, opts Options) *Orchestrator {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Orchestrator{
		fetcher:    fetcher,
		deriver:    deriver,
		tracker:    tracker,
		store:      store,
		notifier:   opts.Notifier,
		maxTimeout: opts.MaxTimeout,
		now:        now,
	}
}

// Scrape executes req. Request problems and fetch failures are returned as
// *models.ScrapeError; derivation problems degrade to result warnings.
func (o *Orchestrator) Scrape(ctx context.Context, req *models.ScrapeRequest) (*models.ScrapeResult, error) {
	start := o.now()
	scrapeID := uuid.NewString()

	// ── 1. Validate ───────────────────────────────────────────────────
	req.Defaults()
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}

	identity := cache.Identity(req)
	urlKey := cache.URLKey(req.URL, trackingTag(req))

	// ── 2. Cache lookup ───────────────────────────────────────────────
	cacheState := models.CacheBypass
	if req.CacheReadable() {
		cacheState = models.CacheMiss
		entry, err := o.store.Get(ctx, identity)
		switch {
		case err == nil && entry.Fresh(start, *req.MaxAge):
			o.hits.Add(1)
			return o.fromCache(ctx, req, entry, urlKey, scrapeID, start), nil
		case err != nil && !errors.Is(err, cache.ErrNotFound):
			slog.Warn("cache read failed", "url", req.URL, "error", err)
		}
		o.misses.Add(1)
	}

	// ── 3. Fetch with proxy escalation ────────────────────────────────
	timeout := time.Duration(req.Timeout) * time.Millisecond
	if o.maxTimeout > 0 && timeout > o.maxTimeout {
		timeout = o.maxTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	page, tier, err := o.fetcher.FetchWithProxy(ctx, fetchRequest(req), req.Proxy)
	if err != nil {
		return nil, err
	}
	fetchDone := o.now()

	// ── 4. Derive formats ─────────────────────────────────────────────
	derived, err := o.deriver.Derive(ctx, page, req)
	if err != nil {
		return nil, err
	}
	data := derived.Data
	warnings := derived.Warnings
	deriveDone := o.now()

	// ── 5. Change tracking ────────────────────────────────────────────
	var visibility string
	if f := req.Format(models.FormatChangeTracking); f != nil {
		ct, err := o.tracker.Track(ctx, urlKey, changetrack.Snapshot{
			URL:        req.URL,
			Markdown:   derived.Markdown,
			JSON:       derived.TrackingJSON,
			StatusCode: page.StatusCode,
			HTML:       page.HTML,
			Header:     page.Header,
			Options:    f.ChangeTracking,
		})
		if err != nil {
			slog.Warn("change tracking failed", "url", req.URL, "error", err)
			warnings = append(warnings, "changeTracking: "+models.AsScrapeError(err).Message)
		} else {
			data.ChangeTracking = ct
			visibility = ct.Visibility
		}
	}

	// ── 6. Billing ────────────────────────────────────────────────────
	credits := billing.Cost(tier, derived.Usage)

	data.Metadata.ScrapeID = scrapeID
	data.Metadata.ProxyUsed = tier
	data.Metadata.CacheState = cacheState
	data.Metadata.CreditsUsed = credits

	// ── 7. Write-through ──────────────────────────────────────────────
	if req.ShouldStore() {
		stored := *data
		stored.ChangeTracking = nil
		entry := &cache.Entry{
			Identity:    identity,
			URLKey:      urlKey,
			URL:         req.URL,
			Data:        stored,
			Markdown:    derived.Markdown,
			JSON:        derived.TrackingJSON,
			StatusCode:  page.StatusCode,
			Visibility:  visibility,
			Fingerprint: changetrack.Fingerprint(derived.Markdown),
			ProxyUsed:   tier,
			CreatedAt:   fetchDone,
		}
		if err := o.write(ctx, entry); err != nil {
			slog.Warn("cache write failed", "url", req.URL, "error", err)
			warnings = append(warnings, "cache: result could not be stored")
		}
	}

	// ── 8. Envelope ───────────────────────────────────────────────────
	data.Metadata.Timing = models.Timing{
		TotalMs:  o.now().Sub(start).Milliseconds(),
		FetchMs:  fetchDone.Sub(start).Milliseconds(),
		DeriveMs: deriveDone.Sub(fetchDone).Milliseconds(),
	}
	result := &models.ScrapeResult{Success: true, Data: data, Warning: strings.Join(warnings, "; ")}

	slog.Info("scrape completed",
		"url", req.URL,
		"scrape_id", scrapeID,
		"tier", tier,
		"status", page.StatusCode,
		"attempts", len(page.Attempts),
		"credits", credits,
		"cache", cacheState,
		"total_ms", data.Metadata.Timing.TotalMs,
	)
	o.notify(req, result)
	return result, nil
}

// fromCache synthesizes a result from a fresh cache entry.
func (o *Orchestrator) fromCache(ctx context.Context, req *models.ScrapeRequest, entry *cache.Entry, urlKey, scrapeID string, start time.Time) *models.ScrapeResult {
	data := entry.Data
	var warnings []string

	if f := req.Format(models.FormatChangeTracking); f != nil {
		ct, err := o.tracker.Track(ctx, urlKey, changetrack.Snapshot{
			URL:        req.URL,
			Markdown:   entry.Markdown,
			JSON:       entry.JSON,
			StatusCode: entry.StatusCode,
			Before:     entry.CreatedAt,
			Options:    f.ChangeTracking,
		})
		if err != nil {
			slog.Warn("change tracking failed", "url", req.URL, "error", err)
			warnings = append(warnings, "changeTracking: "+models.AsScrapeError(err).Message)
		} else {
			if entry.Visibility != "" {
				ct.Visibility = entry.Visibility
			}
			data.ChangeTracking = ct
		}
	}

	data.Metadata.ScrapeID = scrapeID
	data.Metadata.ProxyUsed = entry.ProxyUsed
	data.Metadata.CacheState = models.CacheHit
	data.Metadata.CachedAt = entry.CreatedAt.UTC().Format(time.RFC3339)
	data.Metadata.CreditsUsed = billing.CacheHitCost
	data.Metadata.Timing = models.Timing{TotalMs: o.now().Sub(start).Milliseconds()}

	slog.Info("scrape served from cache",
		"url", req.URL,
		"scrape_id", scrapeID,
		"cached_at", data.Metadata.CachedAt,
	)
	result := &models.ScrapeResult{Success: true, Data: &data, Warning: strings.Join(warnings, "; ")}
	o.notify(req, result)
	return result
}

// write stores the entry and its history record atomically.
func (o *Orchestrator) write(ctx context.Context, entry *cache.Entry) error {
	if err := o.store.Save(ctx, entry); err != nil {
		return err
	}
	o.writes.Add(1)
	return nil
}

func (o *Orchestrator) notify(req *models.ScrapeRequest, result *models.ScrapeResult) {
	if o.notifier == nil || req.ZeroDataRetention {
		return
	}
	o.notifier.Notify(&webhook.Event{
		Type:      webhook.EventScrapeCompleted,
		ScrapeID:  result.Data.Metadata.ScrapeID,
		Timestamp: o.now().Unix(),
		Data:      result.Data.Metadata,
	})
}

// CacheStats reports cache counters since start.
func (o *Orchestrator) CacheStats(ctx context.Context) models.CacheStats {
	stats := models.CacheStats{
		Hits:   o.hits.Load(),
		Misses: o.misses.Load(),
		Writes: o.writes.Load(),
	}
	if n, err := o.store.Len(ctx); err == nil {
		stats.Entries = n
	}
	if total := stats.Hits + stats.Misses; total > 0 {
		stats.HitRate = float64(stats.Hits) / float64(total)
	}
	return stats
}

// fetchRequest translates a scrape request into what a fetch attempt needs.
func fetchRequest(req *models.ScrapeRequest) *engine.FetchRequest {
	fr := &engine.FetchRequest{
		URL:                 req.URL,
		Headers:             req.Headers,
		Actions:             req.Actions,
		WaitFor:             time.Duration(req.WaitFor) * time.Millisecond,
		Mobile:              req.Mobile,
		SkipTLSVerification: req.SkipTLSVerification != nil && *req.SkipTLSVerification,
		BlockAds:            req.BlockAds != nil && *req.BlockAds,
		Branding:            req.Has(models.FormatBranding),
	}
	if req.Location != nil {
		fr.AcceptLanguage = req.Location.AcceptLanguage()
	}
	if f := req.Format(models.FormatScreenshot); f != nil {
		opts := models.ScreenshotOptions{}
		if f.Screenshot != nil {
			opts = *f.Screenshot
		}
		fr.Screenshot = &opts
	}
	return fr
}

func trackingTag(req *models.ScrapeRequest) string {
	if f := req.Format(models.FormatChangeTracking); f != nil && f.ChangeTracking != nil {
		return f.ChangeTracking.Tag
	}
	return ""
}

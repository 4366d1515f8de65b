package scraper

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/use-agent/skim/config"
	"github.com/use-agent/skim/engine"
	"github.com/use-agent/skim/models"
	"golang.org/x/sync/semaphore"
)

// Scraper manages the global browser lifecycle and fetches pages through
// isolated per-attempt browser contexts. It implements engine.Fetcher and is
// safe for concurrent use.
type Scraper struct {
	browser     *rod.Browser
	sessions    *semaphore.Weighted
	browserCfg  config.BrowserConfig
	proxyCfg    config.ProxyConfig
	scraperCfg  config.ScraperConfig
	documents   *engine.DocumentClient
	activePages atomic.Int32
	startTime   time.Time
}

var _ engine.Fetcher = (*Scraper)(nil)

// NewScraper launches a headless browser.
func NewScraper(browserCfg config.BrowserConfig, proxyCfg config.ProxyConfig, scraperCfg config.ScraperConfig) (*Scraper, error) {
	l := launcher.New().
		Headless(browserCfg.Headless).
		NoSandbox(browserCfg.NoSandbox)

	if browserCfg.BrowserBin != "" {
		l = l.Bin(browserCfg.BrowserBin)
	}

	// ── Stealth flags ────────────────────────────────────────────────
	l.Set(flags.Flag("disable-blink-features"), "AutomationControlled")
	l.Delete(flags.Flag("enable-automation"))
	l.Set(flags.Flag("disable-features"), "AudioServiceOutOfProcess,TranslateUI")
	l.Set(flags.Flag("disable-ipc-flooding-protection"))
	l.Set(flags.Flag("disable-popup-blocking"))
	l.Set(flags.Flag("disable-renderer-backgrounding"))
	l.Set(flags.Flag("disable-background-timer-throttling"))
	l.Set(flags.Flag("disable-backgrounding-occluded-windows"))
	l.Set(flags.Flag("disable-component-update"))
	l.Set(flags.Flag("disable-default-apps"))
	l.Set(flags.Flag("disable-dev-shm-usage"))
	l.Set(flags.Flag("disable-extensions"))
	l.Set(flags.Flag("no-first-run"))

	controlURL, err := l.Launch()
	if err != nil {
		return nil, models.NewScrapeError(models.KindInternalFailure, "failed to launch browser", err)
	}
	slog.Info("browser launched", "controlURL", controlURL)

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		return nil, models.NewScrapeError(models.KindInternalFailure, "failed to connect to browser", err)
	}

	maxPages := browserCfg.MaxPages
	if maxPages <= 0 {
		maxPages = 1
	}
	slog.Info("browser sessions bounded", "maxPages", maxPages)

	return &Scraper{
		browser:    browser,
		sessions:   semaphore.NewWeighted(int64(maxPages)),
		browserCfg: browserCfg,
		proxyCfg:   proxyCfg,
		scraperCfg: scraperCfg,
		documents:  engine.NewDocumentClient(scraperCfg.MaxDocumentBytes),
		startTime:  time.Now(),
	}, nil
}

// Fetch runs one attempt through tier. It blocks until a session slot is
// free or ctx is done.
func (s *Scraper) Fetch(ctx context.Context, req *engine.FetchRequest, tier models.Tier) (*engine.RawPage, error) {
	if err := s.sessions.Acquire(ctx, 1); err != nil {
		return nil, models.NewScrapeError(models.KindUpstreamOverload, "no browser session available before deadline", err)
	}
	defer s.sessions.Release(1)

	s.activePages.Add(1)
	defer s.activePages.Add(-1)

	return s.attempt(ctx, req, tier)
}

// proxyFor returns the upstream proxy of a tier.
func (s *Scraper) proxyFor(tier models.Tier) string {
	if tier == models.TierStealth {
		return s.proxyCfg.Stealth
	}
	return s.proxyCfg.Basic
}

// Stats returns a snapshot of the session pool's current state.
func (s *Scraper) Stats() models.PoolStats {
	return models.PoolStats{
		MaxPages:    s.browserCfg.MaxPages,
		ActivePages: int(s.activePages.Load()),
	}
}

// Uptime reports how long the browser has been running.
func (s *Scraper) Uptime() time.Duration {
	return time.Since(s.startTime)
}

// Close kills the browser process.
// Call this on graceful shutdown to prevent zombie Chrome processes.
func (s *Scraper) Close() {
	slog.Info("scraper shutting down: closing browser")
	if err := s.browser.Close(); err != nil {
		slog.Warn("closing browser failed", "error", err)
	}
	slog.Info("scraper shutdown complete")
}

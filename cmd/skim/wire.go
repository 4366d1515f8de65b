package main

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/use-agent/skim/cache"
	"github.com/use-agent/skim/changetrack"
	"github.com/use-agent/skim/cleaner"
	"github.com/use-agent/skim/config"
	"github.com/use-agent/skim/engine"
	"github.com/use-agent/skim/llm"
	"github.com/use-agent/skim/orchestrator"
	"github.com/use-agent/skim/pipeline"
	"github.com/use-agent/skim/scraper"
	"github.com/use-agent/skim/webhook"
)

// app holds the long-lived components shared by the serve and scrape commands.
type app struct {
	orch     *orchestrator.Orchestrator
	scraper  *scraper.Scraper
	store    cache.Store
	robots   *changetrack.RobotsCache
	notifier *webhook.Notifier
}

// openStore selects the cache backend named by cfg.Driver.
func openStore(cfg config.CacheConfig) (cache.Store, error) {
	switch cfg.Driver {
	case "", "memory":
		return cache.NewMemory(cfg.MaxEntries, cfg.HistoryLimit, cfg.Retention), nil
	case "sqlite":
		return cache.OpenSQLite(cfg.Path, cfg.MaxEntries, cfg.HistoryLimit)
	default:
		return nil, fmt.Errorf("unknown cache driver %q", cfg.Driver)
	}
}

// newApp launches the browser and wires the scrape engine.
func newApp(cfg *config.Config) (*app, error) {
	// ── 1. Cache and change history ─────────────────────────────────
	store, err := openStore(cfg.Cache)
	if err != nil {
		return nil, fmt.Errorf("open cache: %w", err)
	}
	slog.Info("cache ready", "driver", cfg.Cache.Driver, "maxEntries", cfg.Cache.MaxEntries)

	// ── 2. Browser ──────────────────────────────────────────────────
	sc, err := scraper.NewScraper(cfg.Browser, cfg.Proxy, cfg.Scraper)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("initialise scraper: %w", err)
	}

	// ── 3. Derivation pipeline ──────────────────────────────────────
	var model pipeline.LLM
	if cfg.LLM.APIKey != "" {
		model = llm.NewClient(nil, llm.Options{
			BaseURL:   cfg.LLM.BaseURL,
			APIKey:    cfg.LLM.APIKey,
			Model:     cfg.LLM.Model,
			Timeout:   cfg.LLM.Timeout,
			MaxTokens: cfg.LLM.MaxTokens,
		})
	} else {
		slog.Warn("no LLM API key configured: summary and json formats will be skipped")
	}
	derive := pipeline.New(cleaner.NewCleaner(), model)

	// ── 4. Change tracking ──────────────────────────────────────────
	robots := changetrack.NewRobotsCache(http.DefaultClient, cfg.Scraper.UserAgent, cfg.Scraper.RobotsTTL)
	tracker := changetrack.New(store, robots)

	a := &app{scraper: sc, store: store, robots: robots}

	// ── 5. Orchestrator ─────────────────────────────────────────────
	opts := orchestrator.Options{MaxTimeout: cfg.Scraper.MaxTimeout}
	if cfg.Webhook.URL != "" {
		a.notifier = webhook.NewNotifier(cfg.Webhook.URL, cfg.Webhook.Secret)
		opts.Notifier = a.notifier
		slog.Info("webhook notifications enabled", "url", cfg.Webhook.URL)
	}
	a.orch = orchestrator.New(engine.NewEscalator(sc), derive, tracker, store, opts)
	return a, nil
}

// Close flushes pending webhooks and releases the browser and cache.
func (a *app) Close() {
	if a.notifier != nil {
		a.notifier.Wait()
	}
	a.robots.Stop()
	a.scraper.Close()
	if err := a.store.Close(); err != nil {
		slog.Warn("closing cache failed", "error", err)
	}
}

package scraper

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/devices"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/use-agent/skim/engine"
	"github.com/use-agent/skim/models"
	"github.com/ysmood/gson"
)

// attempt loads one page through tier in a fresh incognito browser context.
//
// Lifecycle (numbered steps match the inline comments):
//
//  1. Browser context       – isolated cookies/cache, routed via the tier's proxy
//  2. DEFER: cleanup        – page closed and context disposed on every exit
//  3. Stealth injection     – stealth tier only, before navigation
//  4. Emulation & headers   – mobile, TLS errors, extra headers, locale
//  5. Hijack mount          – resource and ad blocking, before navigation
//  6. Navigate + wait       – DOM stable, then the caller's waitFor delay
//  7. Documents             – PDFs are downloaded instead of rendered
//  8. Actions               – the caller's script, sequentially
//  9. Capture               – HTML, title, final URL, screenshot, branding
//
// Cleanup uses the browser handle, not the request context, so it succeeds
// even when the deadline has already expired.
func (s *Scraper) attempt(ctx context.Context, req *engine.FetchRequest, tier models.Tier) (*engine.RawPage, error) {
	// ── 1. Isolated browser context ───────────────────────────────────
	bctx, err := proto.TargetCreateBrowserContext{
		DisposeOnDetach: true,
		ProxyServer:     proxyServer(s.proxyFor(tier)),
	}.Call(s.browser)
	if err != nil {
		return nil, models.NewScrapeError(models.KindInternalFailure, "failed to create browser context", err)
	}

	page, err := s.browser.Page(proto.TargetCreateTarget{
		URL:              "about:blank",
		BrowserContextID: bctx.BrowserContextID,
	})
	if err != nil {
		_ = proto.TargetDisposeBrowserContext{BrowserContextID: bctx.BrowserContextID}.Call(s.browser)
		return nil, models.NewScrapeError(models.KindInternalFailure, "failed to open page", err)
	}

	// ── 2. CRITICAL DEFER: release the session with the attempt ──────
	defer func() {
		if closeErr := page.Close(); closeErr != nil {
			slog.Debug("cleanup: page close failed", "error", closeErr)
		}
		if disposeErr := (proto.TargetDisposeBrowserContext{BrowserContextID: bctx.BrowserContextID}).Call(s.browser); disposeErr != nil {
			slog.Debug("cleanup: browser context dispose failed", "error", disposeErr)
		}
	}()

	// ── 3. Stealth injection ──────────────────────────────────────────
	if tier == models.TierStealth {
		if _, evalErr := page.EvalOnNewDocument(stealth.JS); evalErr != nil {
			slog.Warn("stealth injection failed, proceeding without stealth", "error", evalErr)
		}
	}

	// ── 4. Emulation and headers ──────────────────────────────────────
	if req.Mobile {
		if emuErr := page.Emulate(devices.IPhoneX); emuErr != nil {
			slog.Warn("mobile emulation failed", "error", emuErr)
		}
	}
	if req.SkipTLSVerification {
		_ = proto.SecuritySetIgnoreCertificateErrors{Ignore: true}.Call(page)
	}
	if headers := requestHeaders(req); len(headers) > 0 {
		_ = proto.NetworkSetExtraHTTPHeaders{Headers: toHeadersMap(headers)}.Call(page)
	}

	// ── 5. Mount hijack router ────────────────────────────────────────
	if router := setupHijack(page, newBlocker(s.scraperCfg.BlockedResourceTypes, req.BlockAds)); router != nil {
		defer func() { _ = router.Stop() }()
	}

	p := page.Context(ctx)

	// ── 6. Navigate and wait ──────────────────────────────────────────
	if navErr := p.Navigate(req.URL); navErr != nil {
		// Chrome aborts navigations that turn into downloads; PDFs land here.
		if doc := s.tryDocument(ctx, req, tier); doc != nil {
			return doc, nil
		}
		return nil, categorizeError(navErr, "navigation to target URL failed")
	}
	if stableErr := p.WaitDOMStable(300*time.Millisecond, 0.1); stableErr != nil {
		if ctx.Err() != nil {
			return nil, categorizeError(ctx.Err(), "page did not settle before the deadline")
		}
		slog.Debug("WaitDOMStable did not converge, proceeding with current DOM", "error", stableErr)
	}
	if req.WaitFor > 0 {
		if err := sleep(ctx, req.WaitFor); err != nil {
			return nil, categorizeError(err, "waitFor exceeded the deadline")
		}
	}

	statusCode := 0
	if res, evalErr := p.Eval(`() => {
		try {
			const entries = performance.getEntriesByType("navigation");
			if (entries.length > 0) return entries[0].responseStatus || 0;
		} catch(e) {}
		return 0;
	}`); evalErr == nil {
		statusCode = res.Value.Int()
	}
	contentType := evalStringOrEmpty(p, `() => document.contentType`)

	// ── 7. Documents ──────────────────────────────────────────────────
	if engine.IsPDF(contentType, nil) {
		if doc := s.tryDocument(ctx, req, tier); doc != nil {
			return doc, nil
		}
	}

	if req.BlockAds {
		removeOverlays(p)
	}

	// ── 8. Actions ────────────────────────────────────────────────────
	var actions *models.ActionsOutput
	if len(req.Actions) > 0 {
		out, actErr := runPageActions(ctx, newRodSession(page), req, statusCode)
		if actErr != nil {
			return nil, actErr
		}
		actions = out
	}

	// ── 9. Capture ────────────────────────────────────────────────────
	rawHTML, htmlErr := p.HTML()
	if htmlErr != nil {
		return nil, categorizeError(htmlErr, "failed to extract page HTML")
	}

	title := evalStringOrEmpty(p, `() => document.title`)
	finalURL := evalStringOrEmpty(p, `() => window.location.href`)
	if finalURL == "" {
		finalURL = req.URL
	}

	out := &engine.RawPage{
		URL:         req.URL,
		FinalURL:    finalURL,
		StatusCode:  statusCode,
		ContentType: contentType,
		Title:       title,
		HTML:        rawHTML,
		Actions:     actions,
	}

	if req.Screenshot != nil {
		img, shotErr := captureScreenshot(p, *req.Screenshot)
		if shotErr != nil {
			slog.Warn("screenshot capture failed", "url", req.URL, "error", shotErr)
		} else {
			out.Screenshot = img
		}
	}
	if req.Branding {
		out.Branding = evalBranding(p)
	}

	return out, nil
}

// runPageActions runs the request's action script on sess. When the request
// asks for challenge detection, a page that is a bot-defense interstitial
// fails with *engine.BotDefenseError before any action touches it.
func runPageActions(ctx context.Context, sess Session, req *engine.FetchRequest, statusCode int) (*models.ActionsOutput, error) {
	if req.DetectChallenge {
		if _, html, err := sess.Snapshot(ctx); err == nil {
			if reason := engine.DetectChallenge(statusCode, html); reason != "" {
				return nil, &engine.BotDefenseError{StatusCode: statusCode, Reason: reason}
			}
		}
	}
	state, err := RunActions(ctx, sess, req.Actions)
	if err != nil {
		return nil, err
	}
	return state.Output(), nil
}

// tryDocument downloads req.URL outside the browser and returns it when it
// is a PDF.
func (s *Scraper) tryDocument(ctx context.Context, req *engine.FetchRequest, tier models.Tier) *engine.RawPage {
	doc, err := s.documents.Download(ctx, engine.DocumentRequest{
		URL:                req.URL,
		Headers:            req.Headers,
		Proxy:              s.proxyFor(tier),
		InsecureSkipVerify: req.SkipTLSVerification,
	})
	if err != nil {
		slog.Debug("document download failed", "url", req.URL, "error", err)
		return nil
	}
	if !engine.IsPDF(doc.ContentType, doc.Body) {
		return nil
	}
	return &engine.RawPage{
		URL:         req.URL,
		FinalURL:    doc.FinalURL,
		StatusCode:  doc.StatusCode,
		ContentType: "application/pdf",
		Header:      doc.Header,
		Document:    doc.Body,
	}
}

// requestHeaders merges the caller's headers with a Google referer and the
// locale's Accept-Language.
func requestHeaders(req *engine.FetchRequest) map[string]string {
	headers := make(map[string]string, len(req.Headers)+2)
	if u, err := url.Parse(req.URL); err == nil {
		headers["Referer"] = "https://www.google.com/search?q=" + url.QueryEscape(u.Hostname())
	}
	if req.AcceptLanguage != "" {
		headers["Accept-Language"] = req.AcceptLanguage
	}
	for k, v := range req.Headers {
		headers[k] = v
	}
	return headers
}

// proxyServer strips credentials from a proxy URL; Chrome accepts only
// scheme://host:port.
func proxyServer(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}
	return u.Scheme + "://" + u.Host
}

// evalStringOrEmpty evaluates a JS expression and returns the string result,
// swallowing any errors (useful for optional metadata extraction).
func evalStringOrEmpty(page *rod.Page, js string) string {
	res, err := page.Eval(js)
	if err != nil {
		return ""
	}
	return res.Value.Str()
}

// toHeadersMap converts a plain string map to the proto.NetworkHeaders type
// (map[string]gson.JSON) required by NetworkSetExtraHTTPHeaders.
func toHeadersMap(headers map[string]string) proto.NetworkHeaders {
	m := make(proto.NetworkHeaders, len(headers))
	for k, v := range headers {
		m[k] = gson.New(v)
	}
	return m
}

// removeOverlays injects JS to remove fixed/sticky positioned elements with
// high z-index, which are typically cookie consent banners and popup overlays.
func removeOverlays(p *rod.Page) {
	const js = `() => {
		for (const el of document.querySelectorAll('*')) {
			const style = window.getComputedStyle(el);
			if (style.position === 'fixed' || style.position === 'sticky') {
				const z = parseInt(style.zIndex, 10);
				if (z >= 900) el.remove();
			}
		}
		const selectors = [
			'[class*="cookie"]', '[class*="consent"]', '[id*="cookie"]', '[id*="consent"]',
			'[class*="gdpr"]', '[id*="gdpr"]', '[class*="popup"]', '[id*="popup"]',
		];
		for (const sel of selectors) {
			document.querySelectorAll(sel).forEach(el => {
				const pos = window.getComputedStyle(el).position;
				if (pos === 'fixed' || pos === 'sticky' || pos === 'absolute') el.remove();
			});
		}
		document.documentElement.style.overflow = '';
		if (document.body) document.body.style.overflow = '';
	}`
	_, _ = p.Eval(js)
}

// categorizeError wraps raw errors into typed ScrapeErrors so the API layer
// can map them to appropriate HTTP status codes.
func categorizeError(err error, msg string) *models.ScrapeError {
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return models.NewScrapeError(models.KindFetchFailure, msg+": timed out", err)
	default:
		return models.NewScrapeError(models.KindFetchFailure, msg, err)
	}
}

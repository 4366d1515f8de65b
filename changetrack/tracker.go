// Package changetrack compares a scrape against the previous scrape of the
// same URL.
package changetrack

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"reflect"
	"time"

	"github.com/use-agent/skim/cache"
	"github.com/use-agent/skim/cleaner"
	"github.com/use-agent/skim/models"
)

// History is the read side of the scrape history.
type History interface {
	// Latest returns the newest record for urlKey created strictly before
	// before (zero means newest), or cache.ErrNotFound.
	Latest(ctx context.Context, urlKey string, before time.Time) (*cache.Entry, error)
}

// Snapshot is the current state of a page.
type Snapshot struct {
	URL        string
	Markdown   string
	JSON       any
	StatusCode int
	HTML       string
	Header     http.Header

	// Before restricts the comparison to records older than it; a cache
	// hit compares against what preceded the cached entry.
	Before time.Time

	Options *models.ChangeTrackingOptions
}

// Tracker computes change records. It only reads history.
type Tracker struct {
	history History
	robots  *RobotsCache
}

// New creates a Tracker. robots may be nil, in which case only page-level
// noindex directives affect visibility.
func New(history History, robots *RobotsCache) *Tracker {
	return &Tracker{history: history, robots: robots}
}

// Track compares cur against the newest history record for urlKey.
func (t *Tracker) Track(ctx context.Context, urlKey string, cur Snapshot) (*models.ChangeTracking, error) {
	out := &models.ChangeTracking{
		ChangeStatus: models.ChangeNew,
		Visibility:   t.Visibility(ctx, cur.URL, cur.HTML, cur.Header),
	}

	prev, err := t.history.Latest(ctx, urlKey, cur.Before)
	switch {
	case errors.Is(err, cache.ErrNotFound):
		return out, nil
	case err != nil:
		return nil, models.NewScrapeError(models.KindInternalFailure, "failed to read change history", err)
	}

	prevAt := prev.CreatedAt
	out.PreviousScrapeAt = &prevAt

	current := cleaner.NormalizeMarkdown(cur.Markdown)
	previous := cleaner.NormalizeMarkdown(prev.Markdown)

	if cur.Markdown != "" && prev.Markdown != "" {
		slog.Debug("change tracking: fingerprint distance",
			"url", cur.URL,
			"distance", Distance(Fingerprint(current), prev.Fingerprint),
		)
	}

	switch {
	case cur.StatusCode == http.StatusNotFound || cur.StatusCode == http.StatusGone:
		out.ChangeStatus = models.ChangeRemoved
	case current == previous:
		out.ChangeStatus = models.ChangeSame
	default:
		out.ChangeStatus = models.ChangeChanged
		text, structured := unifiedDiff(previous, current)
		out.Diff = &models.Diff{Text: text}
		if cur.Options.HasMode(models.ChangeModeGitDiff) {
			out.Diff.JSON = structured
		}
	}

	if cur.JSON != nil && prev.JSON != nil {
		out.JSON = jsonDelta(prev.JSON, cur.JSON)
	}
	return out, nil
}

// Visibility reports whether search engines may index the page: hidden when
// robots.txt disallows it or the page or its headers say noindex.
func (t *Tracker) Visibility(ctx context.Context, rawURL, html string, header http.Header) string {
	if hasNoindex(cleaner.MetaRobots(html)) || hasNoindex(header.Values("X-Robots-Tag")) {
		return models.Hidden
	}
	if t.robots != nil && !t.robots.Allowed(ctx, rawURL) {
		return models.Hidden
	}
	return models.Visible
}

// jsonDelta lists the top-level fields whose value changed. Non-object
// values are compared as a whole under the empty key.
func jsonDelta(previous, current any) map[string]models.FieldDelta {
	pm, pok := previous.(map[string]any)
	cm, cok := current.(map[string]any)
	if !pok || !cok {
		if reflect.DeepEqual(previous, current) {
			return nil
		}
		return map[string]models.FieldDelta{"": {Previous: previous, Current: current}}
	}

	delta := map[string]models.FieldDelta{}
	for k, pv := range pm {
		if cv, ok := cm[k]; !ok || !reflect.DeepEqual(pv, cv) {
			delta[k] = models.FieldDelta{Previous: pv, Current: cm[k]}
		}
	}
	for k, cv := range cm {
		if _, ok := pm[k]; !ok {
			delta[k] = models.FieldDelta{Previous: nil, Current: cv}
		}
	}
	if len(delta) == 0 {
		return nil
	}
	return delta
}

package changetrack

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
)

// robotsEntry caches a host's parsed robots.txt. A nil data allows all.
type robotsEntry struct {
	data      *robotstxt.RobotsData
	expiresAt time.Time
}

// RobotsCache remembers each host's robots.txt for a TTL. Entries expire
// lazily on read and are pruned periodically.
type RobotsCache struct {
	store     sync.Map // scheme://host -> *robotsEntry
	ttl       time.Duration
	userAgent string
	client    *http.Client
	done      chan struct{}
	stopOnce  sync.Once
}

// NewRobotsCache creates a RobotsCache and starts a background goroutine
// that prunes expired entries every hour.
func NewRobotsCache(client *http.Client, userAgent string, ttl time.Duration) *RobotsCache {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	rc := &RobotsCache{
		ttl:       ttl,
		userAgent: userAgent,
		client:    client,
		done:      make(chan struct{}),
	}
	go rc.cleanupLoop()
	return rc
}

// Allowed reports whether the configured user agent may crawl rawURL.
// Unreachable or broken robots.txt files allow everything.
func (rc *RobotsCache) Allowed(ctx context.Context, rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return true
	}
	origin := u.Scheme + "://" + u.Host

	data := rc.get(origin)
	if data == nil {
		if _, cached := rc.store.Load(origin); !cached {
			data = rc.fetch(ctx, origin)
			rc.store.Store(origin, &robotsEntry{data: data, expiresAt: time.Now().Add(rc.ttl)})
		}
	}
	if data == nil {
		return true
	}

	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}
	return data.FindGroup(rc.userAgent).Test(path)
}

func (rc *RobotsCache) get(origin string) *robotstxt.RobotsData {
	val, ok := rc.store.Load(origin)
	if !ok {
		return nil
	}
	entry := val.(*robotsEntry)
	if time.Now().After(entry.expiresAt) {
		rc.store.Delete(origin)
		return nil
	}
	return entry.data
}

// fetch downloads and parses origin's robots.txt. Server errors allow all.
func (rc *RobotsCache) fetch(ctx context.Context, origin string) *robotstxt.RobotsData {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, origin+"/robots.txt", nil)
	if err != nil {
		return nil
	}
	req.Header.Set("User-Agent", rc.userAgent)

	resp, err := rc.client.Do(req)
	if err != nil {
		slog.Debug("robots.txt fetch failed", "origin", origin, "error", err)
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	data, err := robotstxt.FromResponse(resp)
	if err != nil {
		slog.Debug("robots.txt parse failed", "origin", origin, "error", err)
		return nil
	}
	return data
}

// Stop terminates the background cleanup goroutine.
func (rc *RobotsCache) Stop() {
	rc.stopOnce.Do(func() { close(rc.done) })
}

// cleanupLoop runs every hour, deleting expired entries.
func (rc *RobotsCache) cleanupLoop() {
	ticker := time.NewTicker(1 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-rc.done:
			return
		case <-ticker.C:
			now := time.Now()
			rc.store.Range(func(key, value any) bool {
				if now.After(value.(*robotsEntry).expiresAt) {
					rc.store.Delete(key)
				}
				return true
			})
		}
	}
}

// hasNoindex reports whether any robots directive forbids indexing.
func hasNoindex(directives []string) bool {
	for _, d := range directives {
		for _, part := range strings.Split(strings.ToLower(d), ",") {
			part = strings.TrimSpace(part)
			// X-Robots-Tag may be prefixed with a user agent: "googlebot: noindex".
			if i := strings.LastIndexByte(part, ':'); i >= 0 {
				part = strings.TrimSpace(part[i+1:])
			}
			if part == "noindex" || part == "none" {
				return true
			}
		}
	}
	return false
}

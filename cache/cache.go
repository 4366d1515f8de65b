package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/use-agent/skim/models"
)

// ErrNotFound is returned by Get and Latest when no entry matches.
var ErrNotFound = errors.New("cache: entry not found")

// Entry is one stored scrape outcome. Entries are immutable once written.
type Entry struct {
	Identity    string      `json:"identity"`
	URLKey      string      `json:"urlKey"`
	URL         string      `json:"url"`
	Data        models.Data `json:"data"`
	Markdown    string      `json:"markdown"`
	JSON        any         `json:"json,omitempty"`
	StatusCode  int         `json:"statusCode"`
	Visibility  string      `json:"visibility,omitempty"`
	Fingerprint uint64      `json:"fingerprint"`
	ProxyUsed   models.Tier `json:"proxyUsed"`
	CreatedAt   time.Time   `json:"createdAt"`
}

// Store persists derived scrape results keyed by request identity, plus a
// per-URL history read by change tracking.
//
// Implementations must be safe for concurrent use. Put is last-writer-wins.
type Store interface {
	// Get returns the entry stored under identity, or ErrNotFound.
	Get(ctx context.Context, identity string) (*Entry, error)

	// Put stores e under e.Identity, replacing any previous entry.
	Put(ctx context.Context, e *Entry) error

	// Latest returns the newest history record for urlKey created strictly
	// before the given time. A zero before means "newest overall".
	Latest(ctx context.Context, urlKey string, before time.Time) (*Entry, error)

	// Append adds e to the history of e.URLKey.
	Append(ctx context.Context, e *Entry) error

	// Save is Put and Append as one atomic write: either both land or
	// neither does.
	Save(ctx context.Context, e *Entry) error

	// Len returns the number of cache entries.
	Len(ctx context.Context) (int, error)

	Close() error
}

// Fresh reports whether e is at most maxAgeMs old at now.
func (e *Entry) Fresh(now time.Time, maxAgeMs int64) bool {
	if maxAgeMs <= 0 {
		return false
	}
	return now.Sub(e.CreatedAt) <= time.Duration(maxAgeMs)*time.Millisecond
}

// NormalizeURL canonicalizes a URL so equivalent spellings share a key:
// lower-case scheme and host, default port stripped, fragment removed and
// query parameters sorted.
func NormalizeURL(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return raw
	}
	u.Scheme = strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Hostname())
	port := u.Port()
	if (u.Scheme == "http" && port == "80") || (u.Scheme == "https" && port == "443") {
		port = ""
	}
	if port != "" {
		host = host + ":" + port
	}
	u.Host = host
	u.Fragment = ""
	u.RawFragment = ""
	if u.Path == "" {
		u.Path = "/"
	}
	if u.RawQuery != "" {
		u.RawQuery = u.Query().Encode()
	}
	return u.String()
}

// Identity derives the cache key of a request from every field that changes
// the derived output.
func Identity(req *models.ScrapeRequest) string {
	include := append([]string(nil), req.IncludeTags...)
	exclude := append([]string(nil), req.ExcludeTags...)
	parsers := append([]string(nil), req.Parsers...)
	sort.Strings(include)
	sort.Strings(exclude)
	sort.Strings(parsers)

	h := sha256.New()
	write := func(s string) {
		h.Write([]byte(s))
		h.Write([]byte("|"))
	}
	write(NormalizeURL(req.URL))
	write(models.FormatIdentity(req.Formats))
	write(strings.Join(include, ","))
	write(strings.Join(exclude, ","))
	write(strconv.FormatBool(req.MainContentOnly()))
	write(strings.Join(parsers, ","))
	write(strconv.FormatBool(req.Mobile))
	if req.RemoveBase64Images != nil {
		write(strconv.FormatBool(*req.RemoveBase64Images))
	}
	if req.Location != nil {
		write(req.Location.AcceptLanguage())
	}
	return hex.EncodeToString(h.Sum(nil))
}

// URLKey derives the history key of a URL. tag separates independent
// change-tracking histories of the same page.
func URLKey(rawURL, tag string) string {
	h := sha256.New()
	h.Write([]byte(NormalizeURL(rawURL)))
	h.Write([]byte("|"))
	h.Write([]byte(tag))
	return hex.EncodeToString(h.Sum(nil))
}

package engine

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/use-agent/skim/models"
)

// Fetcher loads a page through one proxy tier. Implementations own the
// browser session for the duration of the call and release it on return.
type Fetcher interface {
	Fetch(ctx context.Context, req *FetchRequest, tier models.Tier) (*RawPage, error)
}

// FetchRequest contains everything a Fetcher needs to load a page.
type FetchRequest struct {
	URL                 string
	Headers             map[string]string
	Actions             []models.Action
	WaitFor             time.Duration
	Mobile              bool
	SkipTLSVerification bool
	AcceptLanguage      string
	BlockAds            bool

	// Screenshot requests a capture of the final page state.
	Screenshot *models.ScreenshotOptions

	// Branding requests computed-style branding analysis.
	Branding bool

	// DetectChallenge asks the fetcher to classify the loaded page before
	// the action script runs and to fail with *BotDefenseError on a
	// challenge interstitial. The Escalator sets it on basic attempts
	// under TierAuto.
	DetectChallenge bool
}

// RawPage is the state captured at the end of a successful attempt.
type RawPage struct {
	URL         string
	FinalURL    string
	StatusCode  int
	ContentType string
	Title       string
	HTML        string

	// Header holds response headers when the transport exposes them.
	Header http.Header

	// Document is the raw body of a non-HTML document (PDF).
	Document []byte

	Screenshot []byte
	Branding   map[string]any

	// Actions is set when an action script ran.
	Actions *models.ActionsOutput

	// Attempts is the escalation trail that produced this page.
	Attempts []Attempt
}

// BotDefenseError reports that a page was blocked by anti-bot measures.
type BotDefenseError struct {
	StatusCode int
	Reason     string
}

func (e *BotDefenseError) Error() string {
	return fmt.Sprintf("blocked by bot defense (status %d): %s", e.StatusCode, e.Reason)
}

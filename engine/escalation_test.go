package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/use-agent/skim/models"
)

// scriptedFetcher returns a canned outcome per tier and records the calls.
type scriptedFetcher struct {
	mu       sync.Mutex
	calls    []models.Tier
	inFlight int
	overlap  bool
	outcomes map[models.Tier]func() (*RawPage, error)
}

func (f *scriptedFetcher) Fetch(_ context.Context, _ *FetchRequest, tier models.Tier) (*RawPage, error) {
	f.mu.Lock()
	f.calls = append(f.calls, tier)
	f.inFlight++
	if f.inFlight > 1 {
		f.overlap = true
	}
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.inFlight--
		f.mu.Unlock()
	}()
	return f.outcomes[tier]()
}

func okPage(status int, html string) func() (*RawPage, error) {
	return func() (*RawPage, error) {
		return &RawPage{StatusCode: status, HTML: html}, nil
	}
}

func fail(err error) func() (*RawPage, error) {
	return func() (*RawPage, error) { return nil, err }
}

func TestAutoEscalatesOnceOnBotDefense(t *testing.T) {
	f := &scriptedFetcher{outcomes: map[models.Tier]func() (*RawPage, error){
		models.TierBasic:   okPage(403, `<html><title>Just a moment...</title><div id="cf-browser-verification"></div></html>`),
		models.TierStealth: okPage(200, "<html><p>content</p></html>"),
	}}
	page, tier, err := NewEscalator(f).FetchWithProxy(context.Background(), &FetchRequest{URL: "https://a.com"}, models.TierAuto)
	require.NoError(t, err)

	assert.Equal(t, models.TierStealth, tier)
	assert.Equal(t, []models.Tier{models.TierBasic, models.TierStealth}, f.calls)
	assert.False(t, f.overlap, "attempts must not run concurrently")
	require.Len(t, page.Attempts, 2)
	assert.NotEmpty(t, page.Attempts[0].Error)
	assert.Equal(t, 200, page.Attempts[1].StatusCode)
}

func TestAutoEscalatesOnTransportError(t *testing.T) {
	f := &scriptedFetcher{outcomes: map[models.Tier]func() (*RawPage, error){
		models.TierBasic:   fail(errors.New("net::ERR_CONNECTION_RESET")),
		models.TierStealth: okPage(200, "ok"),
	}}
	_, tier, err := NewEscalator(f).FetchWithProxy(context.Background(), &FetchRequest{}, models.TierAuto)
	require.NoError(t, err)
	assert.Equal(t, models.TierStealth, tier)
}

func TestAutoBasicSuccessStaysBasic(t *testing.T) {
	f := &scriptedFetcher{outcomes: map[models.Tier]func() (*RawPage, error){
		models.TierBasic: okPage(404, "<h1>Not Found</h1>"),
	}}
	page, tier, err := NewEscalator(f).FetchWithProxy(context.Background(), &FetchRequest{}, models.TierAuto)
	require.NoError(t, err)
	assert.Equal(t, models.TierBasic, tier)
	assert.Equal(t, 404, page.StatusCode)
	assert.Equal(t, []models.Tier{models.TierBasic}, f.calls)
}

func TestAutoDoesNotEscalateElementNotFound(t *testing.T) {
	f := &scriptedFetcher{outcomes: map[models.Tier]func() (*RawPage, error){
		models.TierBasic: fail(models.ElementNotFound("#btn", nil)),
	}}
	_, _, err := NewEscalator(f).FetchWithProxy(context.Background(), &FetchRequest{}, models.TierAuto)
	require.Error(t, err)

	var se *models.ScrapeError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, models.KindActionFailed, se.Kind)
	assert.Equal(t, models.ReasonElementNotFound, se.Reason)
	assert.Equal(t, []models.Tier{models.TierBasic}, f.calls)
}

func TestAutoStealthFailureIsTerminal(t *testing.T) {
	f := &scriptedFetcher{outcomes: map[models.Tier]func() (*RawPage, error){
		models.TierBasic:   fail(&BotDefenseError{StatusCode: 403, Reason: "captcha"}),
		models.TierStealth: fail(errors.New("proxy unreachable")),
	}}
	_, _, err := NewEscalator(f).FetchWithProxy(context.Background(), &FetchRequest{}, models.TierAuto)
	require.Error(t, err)
	assert.True(t, models.IsKind(err, models.KindFetchFailure))
	assert.Equal(t, []models.Tier{models.TierBasic, models.TierStealth}, f.calls)
}

func TestPinnedTiersNeverEscalate(t *testing.T) {
	tests := []struct {
		pref models.Tier
		want []models.Tier
	}{
		{models.TierBasic, []models.Tier{models.TierBasic}},
		{models.TierStealth, []models.Tier{models.TierStealth}},
	}
	for _, tt := range tests {
		t.Run(string(tt.pref), func(t *testing.T) {
			f := &scriptedFetcher{outcomes: map[models.Tier]func() (*RawPage, error){
				models.TierBasic:   fail(&BotDefenseError{StatusCode: 403}),
				models.TierStealth: fail(&BotDefenseError{StatusCode: 403}),
			}}
			_, _, err := NewEscalator(f).FetchWithProxy(context.Background(), &FetchRequest{}, tt.pref)
			require.Error(t, err)
			assert.Equal(t, tt.want, f.calls)
		})
	}
}

func TestPinnedBasicReturnsChallengePage(t *testing.T) {
	f := &scriptedFetcher{outcomes: map[models.Tier]func() (*RawPage, error){
		models.TierBasic: okPage(403, `<div class="px-captcha"></div>`),
	}}
	page, tier, err := NewEscalator(f).FetchWithProxy(context.Background(), &FetchRequest{}, models.TierBasic)
	require.NoError(t, err)
	assert.Equal(t, models.TierBasic, tier)
	assert.Equal(t, 403, page.StatusCode)
}

func TestCancelledContextStopsEscalation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	f := &scriptedFetcher{outcomes: map[models.Tier]func() (*RawPage, error){
		models.TierBasic: func() (*RawPage, error) {
			cancel()
			return nil, models.NewScrapeError(models.KindFetchFailure, "navigation timed out", context.Canceled)
		},
		models.TierStealth: okPage(200, "ok"),
	}}
	_, _, err := NewEscalator(f).FetchWithProxy(ctx, &FetchRequest{}, models.TierAuto)
	require.Error(t, err)
	assert.Equal(t, []models.Tier{models.TierBasic}, f.calls)
}

func TestDetectChallenge(t *testing.T) {
	tests := []struct {
		name   string
		status int
		html   string
		want   bool
	}{
		{"normal page", 200, "<html><body>hello</body></html>", false},
		{"cloudflare", 503, "<script>window._cf_chl_opt={}</script>", true},
		{"perimeterx on 200", 200, `<div id="px-captcha"></div>`, true},
		{"403 captcha", 403, "<p>Please solve this CAPTCHA</p>", true},
		{"403 plain", 403, "<p>Forbidden</p>", false},
		{"200 with captcha word", 200, "<p>We use reCAPTCHA on our contact form</p>", false},
		{"429", 429, "slow down", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DetectChallenge(tt.status, tt.html)
			assert.Equal(t, tt.want, got != "", "reason=%q", got)
		})
	}
}

func TestIsPDF(t *testing.T) {
	assert.True(t, IsPDF("application/pdf", nil))
	assert.True(t, IsPDF("application/octet-stream", []byte("%PDF-1.7\n")))
	assert.False(t, IsPDF("text/html", []byte("<html>")))
}

// ctxFetcher blocks basic attempts until their context ends and records the
// requests it was given.
type ctxFetcher struct {
	mu    sync.Mutex
	calls []models.Tier
	reqs  []FetchRequest
}

func (f *ctxFetcher) Fetch(ctx context.Context, req *FetchRequest, tier models.Tier) (*RawPage, error) {
	f.mu.Lock()
	f.calls = append(f.calls, tier)
	f.reqs = append(f.reqs, *req)
	f.mu.Unlock()
	if tier == models.TierBasic {
		<-ctx.Done()
		return nil, models.NewScrapeError(models.KindFetchFailure, "navigation timed out", ctx.Err())
	}
	return &RawPage{StatusCode: 200, HTML: "ok"}, nil
}

func TestAutoEscalatesWhenBasicTimesOut(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 400*time.Millisecond)
	defer cancel()

	f := &ctxFetcher{}
	page, tier, err := NewEscalator(f).FetchWithProxy(ctx, &FetchRequest{URL: "https://a.com"}, models.TierAuto)
	require.NoError(t, err)
	assert.Equal(t, models.TierStealth, tier)
	assert.Equal(t, []models.Tier{models.TierBasic, models.TierStealth}, f.calls)
	require.Len(t, page.Attempts, 2)
	assert.Contains(t, page.Attempts[0].Error, "basic attempt timed out")
	assert.NoError(t, ctx.Err(), "stealth must run inside the request deadline")
}

func TestPinnedBasicTimeoutDoesNotEscalate(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	f := &ctxFetcher{}
	_, _, err := NewEscalator(f).FetchWithProxy(ctx, &FetchRequest{}, models.TierBasic)
	require.Error(t, err)
	assert.Equal(t, []models.Tier{models.TierBasic}, f.calls)
}

func TestChallengeDetectionRequestedOnlyForAutoBasic(t *testing.T) {
	f := &scriptedFetcher{outcomes: map[models.Tier]func() (*RawPage, error){
		models.TierBasic:   fail(&BotDefenseError{StatusCode: 403, Reason: "cloudflare challenge"}),
		models.TierStealth: okPage(200, "ok"),
	}}
	rec := &recordingFetcher{next: f}
	req := &FetchRequest{URL: "https://a.com", Actions: []models.Action{{Type: models.ActionClick, Selector: "#btn"}}}

	_, tier, err := NewEscalator(rec).FetchWithProxy(context.Background(), req, models.TierAuto)
	require.NoError(t, err)
	assert.Equal(t, models.TierStealth, tier)
	require.Len(t, rec.reqs, 2)
	assert.True(t, rec.reqs[0].DetectChallenge)
	assert.False(t, rec.reqs[1].DetectChallenge)
	assert.False(t, req.DetectChallenge, "caller's request must not be modified")

	rec.reqs = nil
	_, _, err = NewEscalator(rec).FetchWithProxy(context.Background(), &FetchRequest{}, models.TierBasic)
	require.Error(t, err)
	require.Len(t, rec.reqs, 1)
	assert.False(t, rec.reqs[0].DetectChallenge)
}

type recordingFetcher struct {
	next Fetcher
	reqs []FetchRequest
}

func (r *recordingFetcher) Fetch(ctx context.Context, req *FetchRequest, tier models.Tier) (*RawPage, error) {
	r.reqs = append(r.reqs, *req)
	return r.next.Fetch(ctx, req, tier)
}

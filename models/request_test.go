package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeRequest(t *testing.T, body string) *ScrapeRequest {
	t.Helper()
	var req ScrapeRequest
	require.NoError(t, json.Unmarshal([]byte(body), &req))
	req.Defaults()
	req.Normalize()
	return &req
}

func TestDefaults(t *testing.T) {
	req := decodeRequest(t, `{"url":"https://example.com"}`)

	assert.Equal(t, []Format{{Kind: FormatMarkdown}}, req.Formats)
	assert.True(t, req.MainContentOnly())
	assert.Equal(t, DefaultMaxAgeMs, *req.MaxAge)
	assert.Equal(t, DefaultTimeoutMs, req.Timeout)
	assert.Equal(t, []string{ParserPDF}, req.Parsers)
	assert.Equal(t, TierAuto, req.Proxy)
	assert.True(t, req.ShouldStore())
	assert.True(t, req.CacheReadable())
	require.NotNil(t, req.Location)
	assert.Equal(t, "en-US", req.Location.AcceptLanguage())
	require.NoError(t, req.Validate())
}

func TestExplicitEmptyParsers(t *testing.T) {
	req := decodeRequest(t, `{"url":"https://example.com/a.pdf","parsers":[]}`)
	assert.NotNil(t, req.Parsers)
	assert.Empty(t, req.Parsers)
	assert.False(t, req.ParsesPDF())
}

func TestFormatDecoding(t *testing.T) {
	req := decodeRequest(t, `{"url":"https://example.com","formats":[
		"markdown",
		"screenshot@fullPage",
		{"type":"json","prompt":"extract the price"},
		{"type":"changeTracking","modes":["git-diff"],"tag":"daily"}
	]}`)
	require.NoError(t, req.Validate())

	require.Len(t, req.Formats, 4)
	assert.True(t, req.Format(FormatScreenshot).Screenshot.FullPage)
	assert.Equal(t, "extract the price", req.Format(FormatJSON).JSON.Prompt)
	ct := req.Format(FormatChangeTracking).ChangeTracking
	assert.True(t, ct.HasMode(ChangeModeGitDiff))
	assert.Equal(t, "daily", ct.Tag)
}

func TestUnknownFormatRejected(t *testing.T) {
	var req ScrapeRequest
	err := json.Unmarshal([]byte(`{"url":"https://example.com","formats":["pdfText"]}`), &req)
	assert.Error(t, err)

	err = json.Unmarshal([]byte(`{"url":"https://example.com","formats":[{"type":"video"}]}`), &req)
	assert.Error(t, err)
}

func TestUnknownActionRejected(t *testing.T) {
	var req ScrapeRequest
	err := json.Unmarshal([]byte(`{"url":"https://example.com","actions":[{"type":"hover","selector":"a"}]}`), &req)
	assert.Error(t, err)
}

func TestNormalizeCacheOverrides(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		store     bool
		cacheRead bool
	}{
		{"plain", `{"url":"https://a.com"}`, true, true},
		{"headers", `{"url":"https://a.com","headers":{"Cookie":"x=1"}}`, false, false},
		{"actions", `{"url":"https://a.com","actions":[{"type":"wait","milliseconds":10}]}`, false, false},
		{"zero retention", `{"url":"https://a.com","zeroDataRetention":true}`, false, true},
		{"max age zero", `{"url":"https://a.com","maxAge":0}`, true, false},
		{"store disabled", `{"url":"https://a.com","storeInCache":false}`, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := decodeRequest(t, tt.body)
			assert.Equal(t, tt.store, req.ShouldStore())
			assert.Equal(t, tt.cacheRead, req.CacheReadable())
		})
	}
}

func TestNormalizeDropsDuplicateBareFormats(t *testing.T) {
	req := decodeRequest(t, `{"url":"https://a.com","formats":["markdown","links","markdown"]}`)
	require.NoError(t, req.Validate())
	assert.Len(t, req.Formats, 2)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		body string
		ok   bool
	}{
		{"ftp scheme", `{"url":"ftp://a.com"}`, false},
		{"no host", `{"url":"https:///path"}`, false},
		{"empty url", `{"url":""}`, false},
		{"duplicate json", `{"url":"https://a.com","formats":[{"type":"json","prompt":"a"},{"type":"json","prompt":"b"}]}`, false},
		{"json without prompt", `{"url":"https://a.com","formats":[{"type":"json"}]}`, false},
		{"bad include selector", `{"url":"https://a.com","includeTags":["div[["]}`, false},
		{"click without selector", `{"url":"https://a.com","actions":[{"type":"click"}]}`, false},
		{"bad action selector", `{"url":"https://a.com","actions":[{"type":"click","selector":"#"}]}`, false},
		{"wait both", `{"url":"https://a.com","actions":[{"type":"wait","milliseconds":5,"selector":"#a"}]}`, false},
		{"unknown proxy", `{"url":"https://a.com","proxy":"residential"}`, false},
		{"unknown parser", `{"url":"https://a.com","parsers":["docx"]}`, false},
		{"waitFor beyond timeout", `{"url":"https://a.com","waitFor":5000,"timeout":1000}`, false},
		{"valid actions", `{"url":"https://a.com","actions":[{"type":"click","selector":"#btn"},{"type":"scrape"},{"type":"press","key":"Enter"}]}`, true},
		{"valid stealth", `{"url":"http://a.com/x?y=1","proxy":"stealth","formats":["rawHtml","links"]}`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := decodeRequest(t, tt.body)
			err := req.Validate()
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, IsKind(err, KindInvalidRequest))
		})
	}
}

func TestFormatMarshalRoundTripKeepsTags(t *testing.T) {
	b, err := json.Marshal([]Format{{Kind: FormatLinks}, {Kind: FormatJSON, JSON: &JSONOptions{Prompt: "p"}}})
	require.NoError(t, err)
	assert.JSONEq(t, `["links",{"type":"json","prompt":"p"}]`, string(b))
}

func TestFormatIdentityOrderIndependent(t *testing.T) {
	a := []Format{{Kind: FormatMarkdown}, {Kind: FormatLinks}}
	b := []Format{{Kind: FormatLinks}, {Kind: FormatMarkdown}}
	assert.Equal(t, FormatIdentity(a), FormatIdentity(b))
	assert.NotEqual(t, FormatIdentity(a), FormatIdentity([]Format{{Kind: FormatMarkdown}}))
}

func TestAcceptLanguage(t *testing.T) {
	assert.Equal(t, "", (*Location)(nil).AcceptLanguage())
	assert.Equal(t, "en-DE", (&Location{Country: "de"}).AcceptLanguage())
	assert.Equal(t, "de-DE,en;q=0.9", (&Location{Languages: []string{"de-DE", "en"}}).AcceptLanguage())
}

func TestScrapeErrorMapping(t *testing.T) {
	err := ElementNotFound("#btn", nil)
	assert.Equal(t, KindActionFailed, err.Kind)
	assert.Equal(t, ReasonElementNotFound, err.ToDetail().Reason)
	assert.Equal(t, 400, err.HTTPStatus())
	assert.False(t, err.Retryable())

	assert.True(t, NewScrapeError(KindFetchFailure, "x", nil).Retryable())
	assert.Equal(t, 408, NewScrapeError(KindActionTimeout, "x", nil).HTTPStatus())
	assert.Equal(t, KindInternalFailure, AsScrapeError(assert.AnError).Kind)
}

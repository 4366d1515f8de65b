package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/use-agent/skim/models"
)

func TestBuildRequest(t *testing.T) {
	schema := filepath.Join(t.TempDir(), "schema.json")
	require.NoError(t, os.WriteFile(schema, []byte(`{"type":"object"}`), 0o644))

	req, err := buildRequest("https://example.com", scrapeFlags{
		formats:         []string{"markdown", "screenshot@fullPage", "json", "changeTracking"},
		proxy:           "stealth",
		maxAge:          0,
		onlyMainContent: false,
		jsonPrompt:      "list prices",
		jsonSchema:      schema,
		trackingTag:     "daily",
	})
	require.NoError(t, err)

	require.Len(t, req.Formats, 4)
	assert.Equal(t, models.FormatMarkdown, req.Formats[0].Kind)
	require.NotNil(t, req.Formats[1].Screenshot)
	assert.True(t, req.Formats[1].Screenshot.FullPage)
	assert.Equal(t, "list prices", req.Formats[2].JSON.Prompt)
	assert.JSONEq(t, `{"type":"object"}`, string(req.Formats[2].JSON.Schema))
	assert.Equal(t, "daily", req.Formats[3].ChangeTracking.Tag)

	assert.Equal(t, models.TierStealth, req.Proxy)
	require.NotNil(t, req.MaxAge)
	assert.Zero(t, *req.MaxAge)
	assert.False(t, req.MainContentOnly())

	req.Defaults()
	req.Normalize()
	assert.NoError(t, req.Validate())
}

func TestBuildRequestDefaultsMaxAge(t *testing.T) {
	req, err := buildRequest("https://example.com", scrapeFlags{formats: []string{"html"}, maxAge: -1, proxy: "auto"})
	require.NoError(t, err)
	assert.Nil(t, req.MaxAge)

	req.Defaults()
	assert.Equal(t, models.DefaultMaxAgeMs, *req.MaxAge)
}

func TestBuildRequestRejectsUnknownFormat(t *testing.T) {
	_, err := buildRequest("https://example.com", scrapeFlags{formats: []string{"pdf"}})
	assert.Error(t, err)
}

func TestSaveOutputs(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	md := "# Title"
	html := "<h1>Title</h1>"
	shot := "data:image/png;base64,iVBORw0K"

	require.NoError(t, saveOutputs(dir, &models.Data{
		Markdown:   &md,
		HTML:       &html,
		JSON:       map[string]any{"price": 5},
		Screenshot: &shot,
	}))

	b, err := os.ReadFile(filepath.Join(dir, "page.md"))
	require.NoError(t, err)
	assert.Equal(t, md, string(b))

	b, err = os.ReadFile(filepath.Join(dir, "data.json"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"price":5}`, string(b))

	b, err = os.ReadFile(filepath.Join(dir, "screenshot.png"))
	require.NoError(t, err)
	assert.Equal(t, []byte{0x89, 'P', 'N', 'G', '\r', '\n'}, b)

	_, err = os.Stat(filepath.Join(dir, "raw.html"))
	assert.True(t, os.IsNotExist(err))
}

func TestDecodeDataURI(t *testing.T) {
	_, ext, err := decodeDataURI("data:image/jpeg;base64,/9j/")
	require.NoError(t, err)
	assert.Equal(t, "jpg", ext)

	_, _, err = decodeDataURI("https://example.com/x.png")
	assert.Error(t, err)
}

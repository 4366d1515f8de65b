package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientScrape(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/scrape", r.URL.Path)
		assert.Equal(t, "k", r.Header.Get("X-API-Key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"success":true,"data":{"markdown":"# Hi","metadata":{"title":"Hi","sourceURL":"https://example.com","url":"https://example.com","statusCode":200,"cacheState":"miss","creditsUsed":1,"timing":{"totalMs":1,"fetchMs":1,"deriveMs":0}}}}`))
	}))
	defer srv.Close()

	c := &client{baseURL: srv.URL, apiKey: "k", http: srv.Client()}
	res, err := c.scrape(context.Background(), map[string]any{"url": "https://example.com", "formats": []string{"markdown"}})
	require.NoError(t, err)
	assert.Equal(t, "https://example.com", got["url"])

	text := renderScrape(res, "markdown")
	assert.Contains(t, text, "Title: Hi")
	assert.Contains(t, text, "# Hi")
	assert.Contains(t, text, "Cache: miss, credits: 1")
}

func TestClientScrapeError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte(`{"success":false,"error":{"code":"FETCH_FAILURE","message":"dns lookup failed","retryable":true}}`))
	}))
	defer srv.Close()

	c := &client{baseURL: srv.URL, apiKey: "k", http: srv.Client()}
	_, err := c.scrape(context.Background(), map[string]any{"url": "https://nowhere.invalid"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "FETCH_FAILURE")
	assert.Contains(t, err.Error(), "dns lookup failed")
}

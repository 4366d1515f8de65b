package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/use-agent/skim/models"
)

// client calls the skim HTTP API.
type client struct {
	baseURL string
	apiKey  string
	timeout time.Duration
	http    *http.Client
}

// scrape posts req to /v1/scrape. API failures come back as an error
// carrying the error code and message.
func (c *client) scrape(ctx context.Context, req map[string]any) (*models.ScrapeResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(c.baseURL, "/")+"/v1/scrape", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-API-Key", c.apiKey)

	hc := c.http
	if hc == nil {
		hc = &http.Client{Timeout: c.timeout}
	}
	resp, err := hc.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var result models.ScrapeResult
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("parse response (status %d): %w", resp.StatusCode, err)
	}
	if !result.Success {
		if result.Error != nil {
			return nil, fmt.Errorf("[%s] %s", result.Error.Code, result.Error.Message)
		}
		return nil, fmt.Errorf("scrape failed with status %d", resp.StatusCode)
	}
	if result.Data == nil {
		return nil, fmt.Errorf("response has no data")
	}
	return &result, nil
}

func handleScrapeURL(c *client) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		url, err := request.RequireString("url")
		if err != nil {
			return mcp.NewToolResultError("url is required"), nil
		}

		format := request.GetString("format", "markdown")
		payload := map[string]any{
			"url":             url,
			"formats":         []string{format},
			"onlyMainContent": request.GetBool("only_main_content", true),
			"proxy":           request.GetString("proxy", "auto"),
		}
		if args := request.GetArguments(); args["max_age"] != nil {
			payload["maxAge"] = int64(request.GetFloat("max_age", 0))
		}

		result, err := c.scrape(ctx, payload)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(renderScrape(result, format)), nil
	}
}

func handleExtractData(c *client) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		url, err := request.RequireString("url")
		if err != nil {
			return mcp.NewToolResultError("url is required"), nil
		}

		prompt := request.GetString("prompt", "")
		schemaStr := request.GetString("schema", "")
		if prompt == "" && schemaStr == "" {
			return mcp.NewToolResultError("prompt or schema is required"), nil
		}

		jsonFormat := map[string]any{"type": "json"}
		if prompt != "" {
			jsonFormat["prompt"] = prompt
		}
		if schemaStr != "" {
			var schema json.RawMessage
			if err := json.Unmarshal([]byte(schemaStr), &schema); err != nil {
				return mcp.NewToolResultError(fmt.Sprintf("schema must be valid JSON: %v", err)), nil
			}
			jsonFormat["schema"] = schema
		}

		result, err := c.scrape(ctx, map[string]any{
			"url":     url,
			"formats": []any{jsonFormat},
		})
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if result.Data.JSON == nil {
			msg := "extraction produced no data"
			if result.Warning != "" {
				msg += ": " + result.Warning
			}
			return mcp.NewToolResultError(msg), nil
		}

		pretty, err := json.MarshalIndent(result.Data.JSON, "", "  ")
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to render data: %v", err)), nil
		}
		m := result.Data.Metadata
		return mcp.NewToolResultText(fmt.Sprintf("Source: %s\nTitle: %s\n\nExtracted Data:\n%s", m.SourceURL, m.Title, pretty)), nil
	}
}

// renderScrape formats a result as text with a metadata header.
func renderScrape(result *models.ScrapeResult, format string) string {
	d := result.Data
	var sb strings.Builder
	fmt.Fprintf(&sb, "Title: %s\nSource: %s\n\n", d.Metadata.Title, d.Metadata.SourceURL)

	switch format {
	case "html":
		if d.HTML != nil {
			sb.WriteString(*d.HTML)
		}
	case "summary":
		if d.Summary != nil {
			sb.WriteString(*d.Summary)
		}
	case "links":
		for _, l := range d.Links {
			sb.WriteString(l + "\n")
		}
	default:
		if d.Markdown != nil {
			sb.WriteString(*d.Markdown)
		}
	}

	fmt.Fprintf(&sb, "\n\n---\nCache: %s, credits: %d", d.Metadata.CacheState, d.Metadata.CreditsUsed)
	if result.Warning != "" {
		fmt.Fprintf(&sb, "\nWarning: %s", result.Warning)
	}
	return sb.String()
}

package main

import (
	"fmt"
	"os"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

func main() {
	apiURL := os.Getenv("SKIM_API_URL")
	if apiURL == "" {
		apiURL = "http://127.0.0.1:8080"
	}
	apiKey := os.Getenv("SKIM_API_KEY")
	if apiKey == "" {
		fmt.Fprintln(os.Stderr, "SKIM_API_KEY is required")
		os.Exit(1)
	}

	c := &client{baseURL: apiURL, apiKey: apiKey, timeout: 150 * time.Second}

	s := server.NewMCPServer(
		"skim",
		"0.1.0",
		server.WithToolCapabilities(false),
	)

	scrapeURLTool := mcp.NewTool("scrape_url",
		mcp.WithDescription("Scrape a single web page and return its main content as markdown. Renders JavaScript in a headless browser and escalates to a stealth proxy when the page is blocked. Results are cached for two days unless max_age says otherwise."),
		mcp.WithString("url",
			mcp.Required(),
			mcp.Description("The URL of the web page to scrape"),
		),
		mcp.WithString("format",
			mcp.Description("Content format: 'markdown' (default), 'html' (cleaned HTML), 'summary' (LLM summary) or 'links'"),
			mcp.Enum("markdown", "html", "summary", "links"),
		),
		mcp.WithBoolean("only_main_content",
			mcp.Description("Strip navigation, headers and footers (default: true)"),
		),
		mcp.WithNumber("max_age",
			mcp.Description("Oldest acceptable cached result in milliseconds; 0 forces a fresh fetch"),
		),
		mcp.WithString("proxy",
			mcp.Description("Proxy tier: 'auto' (default), 'basic' or 'stealth'"),
			mcp.Enum("auto", "basic", "stealth"),
		),
	)
	s.AddTool(scrapeURLTool, handleScrapeURL(c))

	extractDataTool := mcp.NewTool("extract_data",
		mcp.WithDescription("Scrape a web page and extract structured data with an LLM. Provide a prompt, a JSON schema, or both."),
		mcp.WithString("url",
			mcp.Required(),
			mcp.Description("The URL of the web page to scrape"),
		),
		mcp.WithString("prompt",
			mcp.Description("What to extract"),
		),
		mcp.WithString("schema",
			mcp.Description("JSON schema string describing the desired output structure"),
		),
	)
	s.AddTool(extractDataTool, handleExtractData(c))

	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "server error: %v\n", err)
		os.Exit(1)
	}
}

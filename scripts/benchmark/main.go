package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/use-agent/skim/models"
)

// CLI flags
var (
	apiURL = flag.String("api-url", "http://localhost:8080", "skim API base URL")
	apiKey = flag.String("api-key", "", "API key for authenticated requests")
	runs   = flag.Int("runs", 3, "Number of cold runs per URL for averaging")
	output = flag.String("output", "benchmark-results.json", "JSON output file path")
)

// Test URLs covering 5 site types.
var testURLs = []struct {
	Label string
	URL   string
}{
	{"Static", "https://example.com"},
	{"Blog", "https://go.dev/blog/go1.21"},
	{"Docs", "https://go.dev/doc/effective_go"},
	{"News", "https://www.bbc.com/news"},
	{"Complex", "https://github.com/go-rod/rod"},
}

// --- Benchmark result types ---

type runResult struct {
	Run           int         `json:"run"`
	Cached        bool        `json:"cached"`
	TotalMs       int64       `json:"total_ms"`
	FetchMs       int64       `json:"fetch_ms"`
	DeriveMs      int64       `json:"derive_ms"`
	ContentLength int         `json:"content_length"`
	StatusCode    int         `json:"status_code"`
	ProxyUsed     models.Tier `json:"proxy_used"`
	CacheState    string      `json:"cache_state"`
	Credits       int         `json:"credits"`
	HasTitle      bool        `json:"has_title"`
	Success       bool        `json:"success"`
	Error         string      `json:"error,omitempty"`
}

type urlAverages struct {
	TotalMs       float64 `json:"total_ms"`
	FetchMs       float64 `json:"fetch_ms"`
	DeriveMs      float64 `json:"derive_ms"`
	ContentLength float64 `json:"content_length"`
	Credits       float64 `json:"credits"`
}

type urlResult struct {
	URL      string       `json:"url"`
	Label    string       `json:"label"`
	Runs     []runResult  `json:"runs"`
	Averages *urlAverages `json:"averages,omitempty"`
	CachedMs int64        `json:"cached_ms"`
}

type benchmarkReport struct {
	Timestamp  string      `json:"timestamp"`
	APIURL     string      `json:"api_url"`
	RunsPerURL int         `json:"runs_per_url"`
	Results    []urlResult `json:"results"`
}

func main() {
	flag.Parse()

	fmt.Println("=== skim Benchmark Suite ===")
	fmt.Printf("API URL:   %s\n", *apiURL)
	fmt.Printf("Runs/URL:  %d\n", *runs)
	fmt.Printf("Output:    %s\n", *output)
	fmt.Println()

	// Quick connectivity check.
	if err := checkAPI(*apiURL); err != nil {
		fmt.Fprintf(os.Stderr, "Error: cannot reach API at %s: %v\n", *apiURL, err)
		fmt.Fprintf(os.Stderr, "Make sure skim is running (skim serve)\n")
		os.Exit(1)
	}

	report := benchmarkReport{
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
		APIURL:     *apiURL,
		RunsPerURL: *runs,
	}

	for _, t := range testURLs {
		fmt.Printf("Benchmarking [%s] %s ...\n", t.Label, t.URL)
		ur := urlResult{URL: t.URL, Label: t.Label}

		for i := 1; i <= *runs; i++ {
			fmt.Printf("  Run %d/%d ... ", i, *runs)
			rr := benchmarkURL(t.URL, i, false)
			printRun(rr)
			ur.Runs = append(ur.Runs, rr)
		}

		// One cached read after the cold runs populated the cache.
		fmt.Printf("  Cached  ... ")
		cached := benchmarkURL(t.URL, *runs+1, true)
		printRun(cached)
		ur.Runs = append(ur.Runs, cached)
		if cached.Success && cached.CacheState == models.CacheHit {
			ur.CachedMs = cached.TotalMs
		}

		ur.Averages = computeAverages(ur.Runs)
		report.Results = append(report.Results, ur)
		fmt.Println()
	}

	// Print summary table.
	printTable(report.Results)

	// Write JSON report.
	if err := writeJSON(*output, report); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing JSON output: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("\nDetailed results written to %s\n", *output)
}

func printRun(rr runResult) {
	if rr.Success {
		fmt.Printf("OK  %dms  %s  %d credits  cache=%s\n", rr.TotalMs, rr.ProxyUsed, rr.Credits, rr.CacheState)
	} else {
		fmt.Printf("FAILED: %s\n", rr.Error)
	}
}

func checkAPI(baseURL string) error {
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(baseURL + "/v1/health")
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

func benchmarkURL(url string, run int, cached bool) runResult {
	rr := runResult{Run: run, Cached: cached}

	// Cold runs force a fresh fetch but still write the cache.
	maxAge := int64(0)
	if cached {
		maxAge = models.DefaultMaxAgeMs
	}
	reqBody := models.ScrapeRequest{
		URL:     url,
		Formats: []models.Format{{Kind: models.FormatMarkdown}},
		Timeout: 60000,
		MaxAge:  &maxAge,
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		rr.Error = fmt.Sprintf("marshal error: %v", err)
		return rr
	}

	req, err := http.NewRequest(http.MethodPost, *apiURL+"/v1/scrape", bytes.NewReader(bodyBytes))
	if err != nil {
		rr.Error = fmt.Sprintf("request error: %v", err)
		return rr
	}
	req.Header.Set("Content-Type", "application/json")
	if *apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+*apiKey)
	}

	client := &http.Client{Timeout: 90 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		rr.Error = fmt.Sprintf("request failed: %v", err)
		return rr
	}
	defer resp.Body.Close()

	var sr models.ScrapeResult
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		rr.Error = fmt.Sprintf("decode error: %v", err)
		return rr
	}

	rr.Success = sr.Success
	if sr.Error != nil {
		rr.Error = sr.Error.Message
	}
	if sr.Data == nil {
		return rr
	}

	m := sr.Data.Metadata
	rr.StatusCode = m.StatusCode
	rr.TotalMs = m.Timing.TotalMs
	rr.FetchMs = m.Timing.FetchMs
	rr.DeriveMs = m.Timing.DeriveMs
	rr.ProxyUsed = m.ProxyUsed
	rr.CacheState = m.CacheState
	rr.Credits = m.CreditsUsed
	rr.HasTitle = m.Title != ""
	if sr.Data.Markdown != nil {
		rr.ContentLength = len(*sr.Data.Markdown)
	}
	return rr
}

// computeAverages averages the successful cold runs.
func computeAverages(runs []runResult) *urlAverages {
	var successCount int
	var avg urlAverages

	for _, r := range runs {
		if !r.Success || r.Cached {
			continue
		}
		successCount++
		avg.TotalMs += float64(r.TotalMs)
		avg.FetchMs += float64(r.FetchMs)
		avg.DeriveMs += float64(r.DeriveMs)
		avg.ContentLength += float64(r.ContentLength)
		avg.Credits += float64(r.Credits)
	}

	if successCount == 0 {
		return nil
	}

	n := float64(successCount)
	avg.TotalMs /= n
	avg.FetchMs /= n
	avg.DeriveMs /= n
	avg.ContentLength /= n
	avg.Credits /= n
	return &avg
}

func printTable(results []urlResult) {
	fmt.Println(strings.Repeat("─", 95))
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "URL\tAvg Latency\tFetch/Derive\tCached\tCredits\tContent Len\tStatus\n")
	fmt.Fprintf(w, "───\t───────────\t────────────\t──────\t───────\t───────────\t──────\n")

	for _, r := range results {
		if r.Averages == nil {
			fmt.Fprintf(w, "%s\tFAILED\t-\t-\t-\t-\t-\n", truncateURL(r.URL, 40))
			continue
		}

		// Determine dominant status code from runs.
		status := dominantStatus(r.Runs)

		fmt.Fprintf(w, "%s\t%dms\t%d/%dms\t%dms\t%.1f\t%s\t%d\n",
			truncateURL(r.URL, 40),
			int64(r.Averages.TotalMs),
			int64(r.Averages.FetchMs),
			int64(r.Averages.DeriveMs),
			r.CachedMs,
			r.Averages.Credits,
			formatInt(int(r.Averages.ContentLength)),
			status,
		)
	}

	w.Flush()
	fmt.Println(strings.Repeat("─", 95))
}

func dominantStatus(runs []runResult) int {
	counts := map[int]int{}
	for _, r := range runs {
		if r.Success {
			counts[r.StatusCode]++
		}
	}
	best, bestCount := 0, 0
	for code, count := range counts {
		if count > bestCount {
			best = code
			bestCount = count
		}
	}
	return best
}

func truncateURL(u string, max int) string {
	if len(u) <= max {
		return u
	}
	return u[:max-3] + "..."
}

func formatInt(n int) string {
	s := fmt.Sprintf("%d", n)
	if len(s) <= 3 {
		return s
	}
	var result []byte
	for i, c := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			result = append(result, ',')
		}
		result = append(result, byte(c))
	}
	return string(result)
}

func writeJSON(path string, report benchmarkReport) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

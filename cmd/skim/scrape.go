package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/use-agent/skim/config"
	"github.com/use-agent/skim/models"
)

// scrapeFlags mirrors the request fields exposed on the command line.
type scrapeFlags struct {
	formats         []string
	proxy           string
	maxAge          int64
	onlyMainContent bool
	includeTags     []string
	excludeTags     []string
	waitFor         int
	timeout         int
	mobile          bool
	jsonPrompt      string
	jsonSchema      string
	trackingTag     string
	out             string
}

var scrapeOpts scrapeFlags

var scrapeCmd = &cobra.Command{
	Use:   "scrape <url>",
	Short: "Scrape one page and print the result",
	Long: `Scrape one page with a local browser and print the JSON result.

With --out, each requested format is also written to its own file in the
given directory (page.md, page.html, raw.html, data.json, screenshot.png).`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runScrape(cmd.Context(), args[0], scrapeOpts, cmd.OutOrStdout())
	},
}

func init() {
	f := scrapeCmd.Flags()
	f.StringSliceVarP(&scrapeOpts.formats, "format", "f", []string{"markdown"}, "formats to return (markdown, html, rawHtml, links, images, screenshot, screenshot@fullPage, summary, json, branding, changeTracking)")
	f.StringVar(&scrapeOpts.proxy, "proxy", "auto", "proxy tier: basic, stealth or auto")
	f.Int64Var(&scrapeOpts.maxAge, "max-age", -1, "oldest acceptable cached result in milliseconds; 0 forces a fresh fetch")
	f.BoolVar(&scrapeOpts.onlyMainContent, "only-main-content", true, "strip navigation and other boilerplate")
	f.StringSliceVar(&scrapeOpts.includeTags, "include-tag", nil, "CSS selectors to keep")
	f.StringSliceVar(&scrapeOpts.excludeTags, "exclude-tag", nil, "CSS selectors to drop")
	f.IntVar(&scrapeOpts.waitFor, "wait-for", 0, "extra delay after load in milliseconds")
	f.IntVar(&scrapeOpts.timeout, "timeout", 0, "overall timeout in milliseconds")
	f.BoolVar(&scrapeOpts.mobile, "mobile", false, "emulate a mobile device")
	f.StringVar(&scrapeOpts.jsonPrompt, "json-prompt", "", "extraction prompt for the json format")
	f.StringVar(&scrapeOpts.jsonSchema, "json-schema", "", "path to a JSON schema file for the json format")
	f.StringVar(&scrapeOpts.trackingTag, "tag", "", "change-tracking history tag")
	f.StringVarP(&scrapeOpts.out, "out", "o", "", "directory to write each format to")
	rootCmd.AddCommand(scrapeCmd)
}

func runScrape(ctx context.Context, url string, flags scrapeFlags, stdout io.Writer) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	initLogger(cfg.Log, os.Stderr)

	req, err := buildRequest(url, flags)
	if err != nil {
		return err
	}

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	result, err := a.orch.Scrape(ctx, req)
	if err != nil {
		se := models.AsScrapeError(err)
		result = &models.ScrapeResult{Success: false, Error: se.ToDetail()}
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if encErr := enc.Encode(result); encErr != nil {
		return encErr
	}
	if err != nil {
		return err
	}

	if flags.out != "" {
		return saveOutputs(flags.out, result.Data)
	}
	return nil
}

// buildRequest turns command-line flags into a scrape request. Format names
// go through the same decoder as API requests.
func buildRequest(url string, flags scrapeFlags) (*models.ScrapeRequest, error) {
	req := &models.ScrapeRequest{
		URL:             url,
		OnlyMainContent: &flags.onlyMainContent,
		IncludeTags:     flags.includeTags,
		ExcludeTags:     flags.excludeTags,
		WaitFor:         flags.waitFor,
		Timeout:         flags.timeout,
		Mobile:          flags.mobile,
		Proxy:           models.Tier(flags.proxy),
	}
	if flags.maxAge >= 0 {
		maxAge := flags.maxAge
		req.MaxAge = &maxAge
	}

	for _, name := range flags.formats {
		raw, err := json.Marshal(strings.TrimSpace(name))
		if err != nil {
			return nil, err
		}
		var f models.Format
		if err := json.Unmarshal(raw, &f); err != nil {
			return nil, err
		}

		switch f.Kind {
		case models.FormatJSON:
			f.JSON = &models.JSONOptions{Prompt: flags.jsonPrompt}
			if flags.jsonSchema != "" {
				schema, err := os.ReadFile(flags.jsonSchema)
				if err != nil {
					return nil, fmt.Errorf("read json schema: %w", err)
				}
				f.JSON.Schema = schema
			}
		case models.FormatChangeTracking:
			if flags.trackingTag != "" {
				f.ChangeTracking = &models.ChangeTrackingOptions{Tag: flags.trackingTag}
			}
		}
		req.Formats = append(req.Formats, f)
	}
	return req, nil
}

// saveOutputs writes each present format of data to its own file in dir.
func saveOutputs(dir string, data *models.Data) error {
	if data == nil {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	write := func(name string, content []byte) error {
		return os.WriteFile(filepath.Join(dir, name), content, 0o644)
	}

	if data.Markdown != nil {
		if err := write("page.md", []byte(*data.Markdown)); err != nil {
			return err
		}
	}
	if data.HTML != nil {
		if err := write("page.html", []byte(*data.HTML)); err != nil {
			return err
		}
	}
	if data.RawHTML != nil {
		if err := write("raw.html", []byte(*data.RawHTML)); err != nil {
			return err
		}
	}
	if data.JSON != nil {
		b, err := json.MarshalIndent(data.JSON, "", "  ")
		if err != nil {
			return err
		}
		if err := write("data.json", b); err != nil {
			return err
		}
	}
	if data.Screenshot != nil {
		img, ext, err := decodeDataURI(*data.Screenshot)
		if err != nil {
			return fmt.Errorf("decode screenshot: %w", err)
		}
		if err := write("screenshot."+ext, img); err != nil {
			return err
		}
	}
	return nil
}

// decodeDataURI decodes a base64 image data URI and names its file extension.
func decodeDataURI(uri string) ([]byte, string, error) {
	header, payload, ok := strings.Cut(uri, ",")
	if !ok || !strings.HasPrefix(header, "data:") || !strings.HasSuffix(header, ";base64") {
		return nil, "", fmt.Errorf("not a base64 data uri")
	}
	ext := "png"
	if strings.HasPrefix(header, "data:image/jpeg") {
		ext = "jpg"
	}
	b, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, "", err
	}
	return b, ext, nil
}

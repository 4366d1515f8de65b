package cleaner

import (
	"log/slog"
	nurl "net/url"
	"strings"

	readability "github.com/go-shiori/go-readability"
)

// minContentLength is the minimum text length (in characters) for an
// extraction to count as main content.
const minContentLength = 50

// ExtractContent runs the Mozilla Readability algorithm on rawHTML and
// returns the article HTML.
//
// ok is false when readability could not locate a main content block
// (unparseable URL, parser error, or fewer than minContentLength characters
// of text); the returned HTML is then rawHTML unchanged so the caller never
// gets empty output.
func ExtractContent(rawHTML, sourceURL string) (content string, ok bool) {
	parsedURL, err := nurl.Parse(sourceURL)
	if err != nil {
		slog.Debug("readability: invalid source URL", "url", sourceURL, "error", err)
		return rawHTML, false
	}

	article, err := readability.FromReader(strings.NewReader(rawHTML), parsedURL)
	if err != nil {
		slog.Debug("readability: extraction failed", "url", sourceURL, "error", err)
		return rawHTML, false
	}

	if len(strings.TrimSpace(article.TextContent)) < minContentLength {
		slog.Debug("readability: extracted content too short",
			"url", sourceURL, "length", len(article.TextContent),
		)
		return rawHTML, false
	}

	return article.Content, true
}

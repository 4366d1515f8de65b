package cleaner

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// boilerplateSelectors match page chrome that is never main content.
var boilerplateSelectors = []string{
	"script", "style", "noscript", "template", "iframe", "svg",
	"nav", "header", "footer", "aside",
	"[role=navigation]", "[role=banner]", "[role=contentinfo]", "[role=complementary]",
	"[aria-hidden=true]",
	".sidebar", "#sidebar", ".nav", ".navbar", ".menu", ".breadcrumb", ".breadcrumbs",
	".cookie", ".cookie-banner", "#cookie-banner", ".consent", ".gdpr",
	".ad", ".ads", ".advert", ".advertisement", ".social", ".share", ".newsletter",
	".modal", ".popup",
}

// FilterContent applies CSS-selector-based content filtering to raw HTML.
//
// Processing order:
//  1. Remove elements matching excludeTags (if any).
//  2. Keep only elements matching includeTags (if any).
//
// If both slices are empty the input is returned unchanged.
func FilterContent(html string, includeTags, excludeTags []string) string {
	if len(includeTags) == 0 && len(excludeTags) == 0 {
		return html
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return html
	}

	for _, selector := range excludeTags {
		doc.Find(selector).Remove()
	}

	if len(includeTags) > 0 {
		matches := doc.Find(strings.Join(includeTags, ", "))
		var buf strings.Builder
		matches.Each(func(_ int, s *goquery.Selection) {
			if h, err := goquery.OuterHtml(s); err == nil {
				buf.WriteString(h)
			}
		})
		// Nothing matched: the page has no content of interest.
		return buf.String()
	}

	result, err := doc.Html()
	if err != nil {
		return html
	}
	return result
}

// StripBoilerplate removes navigation, headers, footers, sidebars and
// similar page chrome.
func StripBoilerplate(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return html
	}
	doc.Find(strings.Join(boilerplateSelectors, ", ")).Each(func(_ int, s *goquery.Selection) {
		// Keep wrappers that hold the article itself.
		if s.Find("article, main").Length() > 0 {
			return
		}
		s.Remove()
	})
	result, err := doc.Html()
	if err != nil {
		return html
	}
	return result
}

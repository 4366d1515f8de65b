package cleaner

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/use-agent/skim/models"
)

// ExtractLinks returns the absolute http(s) targets of every <a href> in
// document order, deduplicated. Same-page fragments are skipped.
func ExtractLinks(rawHTML string, sourceURL string) []string {
	links := []string{}

	base, err := url.Parse(sourceURL)
	if err != nil {
		return links
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		return links
	}
	base = documentBase(doc, base)

	seen := make(map[string]struct{})
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "#") {
			return
		}
		resolved, err := base.Parse(href)
		if err != nil {
			return
		}
		// Skip javascript:, mailto:, tel: etc.
		if resolved.Scheme != "http" && resolved.Scheme != "https" {
			return
		}
		absURL := resolved.String()
		if _, ok := seen[absURL]; ok {
			return
		}
		seen[absURL] = struct{}{}
		links = append(links, absURL)
	})

	return links
}

// ExtractImages returns the absolute URLs of <img src>, every srcset
// candidate, <source srcset> and og:image, deduplicated. Inline data URIs
// are skipped.
func ExtractImages(rawHTML string, sourceURL string) []string {
	images := []string{}

	base, err := url.Parse(sourceURL)
	if err != nil {
		return images
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		return images
	}
	base = documentBase(doc, base)

	seen := make(map[string]struct{})
	add := func(ref string) {
		ref = strings.TrimSpace(ref)
		if ref == "" || strings.HasPrefix(ref, "data:") {
			return
		}
		resolved, err := base.Parse(ref)
		if err != nil || (resolved.Scheme != "http" && resolved.Scheme != "https") {
			return
		}
		absURL := resolved.String()
		if _, ok := seen[absURL]; ok {
			return
		}
		seen[absURL] = struct{}{}
		images = append(images, absURL)
	}

	doc.Find("img, picture source").Each(func(_ int, s *goquery.Selection) {
		if src, ok := s.Attr("src"); ok {
			add(src)
		}
		if srcset, ok := s.Attr("srcset"); ok {
			for _, candidate := range parseSrcset(srcset) {
				add(candidate)
			}
		}
	})
	doc.Find(`meta[property="og:image"]`).Each(func(_ int, s *goquery.Selection) {
		content, _ := s.Attr("content")
		add(content)
	})

	return images
}

// parseSrcset returns the URL part of each comma-separated srcset candidate.
func parseSrcset(srcset string) []string {
	var out []string
	for _, candidate := range strings.Split(srcset, ",") {
		fields := strings.Fields(candidate)
		if len(fields) > 0 {
			out = append(out, fields[0])
		}
	}
	return out
}

// documentBase honours a <base href> element.
func documentBase(doc *goquery.Document, base *url.URL) *url.URL {
	href, ok := doc.Find("base[href]").First().Attr("href")
	if !ok {
		return base
	}
	if resolved, err := base.Parse(strings.TrimSpace(href)); err == nil {
		return resolved
	}
	return base
}

// ExtractMetadata reads the document-level metadata of a page: <title>,
// description, language, keywords, robots and Open Graph tags. Response
// fields (URLs, status) are filled in by the caller.
func ExtractMetadata(rawHTML string) models.Metadata {
	var md models.Metadata

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		md.Title = Title(rawHTML)
		return md
	}

	md.Title = strings.TrimSpace(doc.Find("title").First().Text())
	md.Language, _ = doc.Find("html").First().Attr("lang")
	md.Language = strings.TrimSpace(md.Language)

	doc.Find("meta").Each(func(_ int, s *goquery.Selection) {
		content, _ := s.Attr("content")
		content = strings.TrimSpace(content)
		if content == "" {
			return
		}
		name, _ := s.Attr("name")
		prop, _ := s.Attr("property")
		switch strings.ToLower(name) {
		case "description":
			md.Description = content
		case "keywords":
			md.Keywords = content
		case "robots":
			md.Robots = content
		}
		switch strings.ToLower(prop) {
		case "og:title":
			md.OGTitle = content
		case "og:description":
			md.OGDescription = content
		case "og:image":
			if md.OGImage == "" {
				md.OGImage = content
			}
		case "og:site_name":
			md.SiteName = content
		case "og:locale:alternate":
			md.OGLocaleAlternate = append(md.OGLocaleAlternate, content)
		}
	})

	if md.Title == "" {
		md.Title = md.OGTitle
	}
	if md.Description == "" {
		md.Description = md.OGDescription
	}
	return md
}

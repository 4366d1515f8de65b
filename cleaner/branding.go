package cleaner

import (
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var (
	hexColorRe   = regexp.MustCompile(`#(?:[0-9a-fA-F]{6}|[0-9a-fA-F]{3})\b`)
	fontFamilyRe = regexp.MustCompile(`font-family\s*:\s*([^;}]+)`)
	bgColorRe    = regexp.MustCompile(`(?:^|[;{\s])background(?:-color)?\s*:\s*(#[0-9a-fA-F]{3,6}\b)`)
)

// StaticBranding derives a brand profile from markup alone: stylesheets in
// <style>, inline styles, theme-color and icon links. It fills the same keys
// the rendered-page profile uses, leaving out what cannot be known without
// computed styles.
func StaticBranding(rawHTML, sourceURL string) map[string]any {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		return nil
	}
	base, _ := url.Parse(sourceURL)
	resolve := func(ref string) string {
		ref = strings.TrimSpace(ref)
		if ref == "" || base == nil {
			return ref
		}
		if u, err := base.Parse(ref); err == nil {
			return u.String()
		}
		return ref
	}

	var css strings.Builder
	doc.Find("style").Each(func(_ int, s *goquery.Selection) {
		css.WriteString(s.Text())
		css.WriteByte('\n')
	})
	doc.Find("[style]").Each(func(_ int, s *goquery.Selection) {
		style, _ := s.Attr("style")
		css.WriteString(style)
		css.WriteString(";\n")
	})
	sheet := css.String()

	colors := map[string]any{}
	if theme, ok := doc.Find(`meta[name="theme-color"]`).First().Attr("content"); ok && theme != "" {
		colors["primary"] = strings.TrimSpace(theme)
	}
	if ranked := rankValues(hexColorRe.FindAllString(sheet, -1), strings.ToLower); len(ranked) > 0 {
		if _, ok := colors["primary"]; !ok {
			colors["primary"] = ranked[0]
		}
		colors["palette"] = ranked
	}
	if m := bgColorRe.FindStringSubmatch(sheet); m != nil {
		colors["background"] = strings.ToLower(m[1])
	}

	var families []string
	for _, m := range fontFamilyRe.FindAllStringSubmatch(sheet, -1) {
		first := strings.Split(m[1], ",")[0]
		families = append(families, strings.Trim(strings.TrimSpace(first), `"'`))
	}
	fonts := []map[string]any{}
	for _, fam := range rankValues(families, func(s string) string { return s }) {
		fonts = append(fonts, map[string]any{"family": fam})
	}

	images := map[string]any{}
	logo := doc.Find(`header img[src*="logo"], img[alt*="logo"], img[alt*="Logo"], img[class*="logo"], a[class*="logo"] img`).First()
	if src, ok := logo.Attr("src"); ok {
		images["logo"] = resolve(src)
	}
	if href, ok := doc.Find(`link[rel~="icon"]`).First().Attr("href"); ok {
		images["favicon"] = resolve(href)
	}
	if og, ok := doc.Find(`meta[property="og:image"]`).First().Attr("content"); ok {
		images["ogImage"] = resolve(og)
	}

	scheme := "light"
	if bg, ok := colors["background"].(string); ok && isDark(bg) {
		scheme = "dark"
	}

	return map[string]any{
		"colorScheme": scheme,
		"colors":      colors,
		"fonts":       fonts,
		"images":      images,
	}
}

// rankValues returns the distinct values ordered by frequency, ties broken
// by first appearance.
func rankValues(values []string, norm func(string) string) []string {
	count := map[string]int{}
	first := map[string]int{}
	for i, v := range values {
		v = norm(v)
		if v == "" {
			continue
		}
		if _, ok := count[v]; !ok {
			first[v] = i
		}
		count[v]++
	}
	out := make([]string, 0, len(count))
	for v := range count {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool {
		if count[out[i]] != count[out[j]] {
			return count[out[i]] > count[out[j]]
		}
		return first[out[i]] < first[out[j]]
	})
	return out
}

// isDark reports whether a #rgb or #rrggbb colour has low luminance.
func isDark(hex string) bool {
	h := strings.TrimPrefix(hex, "#")
	if len(h) == 3 {
		h = string([]byte{h[0], h[0], h[1], h[1], h[2], h[2]})
	}
	if len(h) != 6 {
		return false
	}
	var rgb [3]float64
	for i := range 3 {
		v, err := strconv.ParseUint(h[i*2:i*2+2], 16, 8)
		if err != nil {
			return false
		}
		rgb[i] = float64(v)
	}
	return (0.2126*rgb[0]+0.7152*rgb[1]+0.0722*rgb[2])/255 < 0.5
}

package cleaner

import (
	"regexp"
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
)

// Base64ImagePlaceholder replaces inline data-URI images when base64 image
// removal is requested.
const Base64ImagePlaceholder = "<Base64-Image-Removed>"

var (
	base64ImageRe = regexp.MustCompile(`!\[([^\]]*)\]\(\s*<?data:image/[^)\s>]*>?(\s+"[^"]*")?\s*\)`)
	blankRunRe    = regexp.MustCompile(`\n{3,}`)
)

// newMarkdownConverter creates a reusable, goroutine-safe Converter:
//
//   - base plugin: strips script, style, iframe, noscript, head, meta, link
//     and HTML comments.
//   - commonmark plugin: standard Markdown rendering.
//   - table plugin: keeps table structure with minimal cell padding.
func newMarkdownConverter() *converter.Converter {
	return converter.NewConverter(
		converter.WithPlugins(
			base.NewBasePlugin(),
			commonmark.NewCommonmarkPlugin(),
			table.NewTablePlugin(
				table.WithCellPaddingBehavior(table.CellPaddingBehaviorMinimal),
			),
		),
	)
}

// ToMarkdown converts HTML to Markdown using html-to-markdown v2.
//
// The domain parameter resolves relative URLs in <a> and <img> tags into
// absolute URLs.
func ToMarkdown(conv *converter.Converter, htmlContent string, domain string) (string, error) {
	return conv.ConvertString(htmlContent, converter.WithDomain(domain))
}

// ReplaceBase64Images swaps data-URI image targets for the placeholder,
// keeping the alt text.
func ReplaceBase64Images(md string) string {
	return base64ImageRe.ReplaceAllString(md, "![$1]("+Base64ImagePlaceholder+")")
}

// NormalizeMarkdown makes converter output deterministic: LF line endings,
// no trailing spaces, at most one blank line between blocks.
func NormalizeMarkdown(md string) string {
	md = strings.ReplaceAll(md, "\r\n", "\n")
	lines := strings.Split(md, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimRight(l, " \t")
	}
	md = strings.Join(lines, "\n")
	md = blankRunRe.ReplaceAllString(md, "\n\n")
	return strings.TrimSpace(md)
}

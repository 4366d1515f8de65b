package cleaner

import (
	"io"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Title returns the text of the first <title> element using the streaming
// tokenizer. It serves pages too malformed for a DOM parse.
func Title(rawHTML string) string {
	z := html.NewTokenizer(strings.NewReader(rawHTML))
	inTitle := false
	for {
		switch z.Next() {
		case html.ErrorToken:
			return ""
		case html.StartTagToken:
			name, _ := z.TagName()
			inTitle = atom.Lookup(name) == atom.Title
		case html.TextToken:
			if inTitle {
				return strings.TrimSpace(html.UnescapeString(string(z.Text())))
			}
		case html.EndTagToken:
			inTitle = false
		}
	}
}

// MetaRobots returns the content of every robots directive meta tag in the
// document head (<meta name="robots"> and crawler-specific variants such as
// "googlebot"). Scanning stops at <body>, so large pages are not parsed in
// full.
func MetaRobots(rawHTML string) []string {
	return metaRobots(strings.NewReader(rawHTML))
}

func metaRobots(r io.Reader) []string {
	var out []string
	z := html.NewTokenizer(r)
	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			return out
		case html.StartTagToken, html.SelfClosingTagToken:
			name, hasAttr := z.TagName()
			switch atom.Lookup(name) {
			case atom.Body:
				return out
			case atom.Meta:
				if !hasAttr {
					continue
				}
				var metaName, content string
				for {
					key, val, more := z.TagAttr()
					switch strings.ToLower(string(key)) {
					case "name":
						metaName = strings.ToLower(strings.TrimSpace(string(val)))
					case "content":
						content = string(val)
					}
					if !more {
						break
					}
				}
				if metaName == "robots" || metaName == "googlebot" || metaName == "bingbot" {
					out = append(out, content)
				}
			}
		}
	}
}

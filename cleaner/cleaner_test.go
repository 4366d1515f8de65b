package cleaner

import (
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const articlePage = `<!DOCTYPE html>
<html lang="en">
<head>
  <title>Release notes</title>
  <meta name="description" content="What changed in 2.0">
  <meta name="keywords" content="release, notes">
  <meta name="robots" content="index, follow">
  <meta property="og:title" content="Release notes (OG)">
  <meta property="og:image" content="/img/cover.png">
  <meta property="og:site_name" content="Example">
  <meta property="og:locale:alternate" content="fr_FR">
  <meta property="og:locale:alternate" content="de_DE">
</head>
<body>
  <nav><a href="/">Home</a> <a href="/docs">Docs</a></nav>
  <header><h1>Example site</h1></header>
  <main>
    <article>
      <h2>Version 2.0</h2>
      <p>This release rewrites the scheduler so that long running jobs no longer starve short ones.
      Queue latency dropped by half in our benchmarks across every workload we measured.</p>
      <p>See the <a href="/docs/upgrade">upgrade guide</a> and <a href="https://other.example.org/blog#x">the announcement</a>.</p>
      <img src="/img/chart.png" alt="chart" srcset="/img/chart-2x.png 2x, /img/chart-3x.png 3x">
      <img src="data:image/png;base64,iVBORw0KGgo=" alt="dot">
    </article>
  </main>
  <footer>Copyright Example <a href="mailto:hi@example.com">mail</a></footer>
  <script>console.log("x")</script>
</body>
</html>`

func TestPrepareMainContentDropsChrome(t *testing.T) {
	c := NewCleaner()
	html := c.Prepare(articlePage, "https://example.com/notes", PrepareOptions{OnlyMainContent: true})

	assert.Contains(t, html, "rewrites the scheduler")
	assert.NotContains(t, html, "Copyright Example")
	assert.NotContains(t, html, "console.log")
}

func TestPrepareFullPageKeepsChrome(t *testing.T) {
	c := NewCleaner()
	html := c.Prepare(articlePage, "https://example.com/notes", PrepareOptions{})
	assert.Equal(t, articlePage, html)
}

func TestPrepareIncludeAndExcludeTags(t *testing.T) {
	c := NewCleaner()
	html := c.Prepare(articlePage, "https://example.com/notes", PrepareOptions{
		IncludeTags:     []string{"article"},
		ExcludeTags:     []string{"img"},
		OnlyMainContent: true,
	})
	assert.True(t, strings.HasPrefix(html, "<article>"))
	assert.NotContains(t, html, "<img")
	assert.NotContains(t, html, "Example site")
}

func TestFilterContentNoMatchIsEmpty(t *testing.T) {
	assert.Empty(t, FilterContent(articlePage, []string{".does-not-exist"}, nil))
}

func TestMarkdownResolvesAndNormalizes(t *testing.T) {
	c := NewCleaner()
	html := c.Prepare(articlePage, "https://example.com/notes", PrepareOptions{IncludeTags: []string{"article"}})

	md, err := c.Markdown(html, "https://example.com/notes", true)
	require.NoError(t, err)

	assert.Contains(t, md, "## Version 2.0")
	assert.Contains(t, md, "(https://example.com/docs/upgrade)")
	assert.Contains(t, md, "![dot]("+Base64ImagePlaceholder+")")
	assert.NotContains(t, md, "\n\n\n")
	assert.NotContains(t, md, "\r")
}

func TestMarkdownKeepsBase64WhenAsked(t *testing.T) {
	c := NewCleaner()
	md, err := c.Markdown(`<p><img src="data:image/png;base64,iVBORw0KGgo=" alt="dot"></p>`, "https://example.com/", false)
	require.NoError(t, err)
	assert.Contains(t, md, "data:image/png;base64")
}

func TestNormalizeMarkdown(t *testing.T) {
	got := NormalizeMarkdown("# Title  \r\n\r\n\r\n\r\nbody\t\n\n\n\nend\n\n")
	assert.Equal(t, "# Title\n\nbody\n\nend", got)
}

func TestReplaceBase64Images(t *testing.T) {
	in := `![a](data:image/png;base64,AAAA) and ![b](https://x.test/b.png) and ![](data:image/gif;base64,R0lG "t")`
	got := ReplaceBase64Images(in)
	assert.Equal(t, `![a](<Base64-Image-Removed>) and ![b](https://x.test/b.png) and ![](<Base64-Image-Removed>)`, got)
}

func TestSanitizedHTMLStripsScripts(t *testing.T) {
	c := NewCleaner()
	out := c.SanitizedHTML(`<div id="x" onclick="steal()"><p>hi</p><script>alert(1)</script><a href="javascript:alert(1)">bad</a></div>`)
	assert.Contains(t, out, "<p>hi</p>")
	assert.Contains(t, out, `id="x"`)
	assert.NotContains(t, out, "onclick")
	assert.NotContains(t, out, "<script")
	assert.NotContains(t, out, "javascript:")
}

func TestExtractLinks(t *testing.T) {
	links := ExtractLinks(articlePage, "https://example.com/notes")
	assert.Equal(t, []string{
		"https://example.com/",
		"https://example.com/docs",
		"https://example.com/docs/upgrade",
		"https://other.example.org/blog#x",
	}, links)
}

func TestExtractLinksHonoursBaseHref(t *testing.T) {
	page := `<html><head><base href="https://cdn.example.com/root/"></head><body><a href="a">a</a><a href="a">dup</a><a href="#top">top</a></body></html>`
	assert.Equal(t, []string{"https://cdn.example.com/root/a"}, ExtractLinks(page, "https://example.com/"))
}

func TestExtractImages(t *testing.T) {
	images := ExtractImages(articlePage, "https://example.com/notes")
	assert.Equal(t, []string{
		"https://example.com/img/chart.png",
		"https://example.com/img/chart-2x.png",
		"https://example.com/img/chart-3x.png",
		"https://example.com/img/cover.png",
	}, images)
}

func TestExtractMetadata(t *testing.T) {
	md := ExtractMetadata(articlePage)
	assert.Equal(t, "Release notes", md.Title)
	assert.Equal(t, "What changed in 2.0", md.Description)
	assert.Equal(t, "en", md.Language)
	assert.Equal(t, "release, notes", md.Keywords)
	assert.Equal(t, "index, follow", md.Robots)
	assert.Equal(t, "Release notes (OG)", md.OGTitle)
	assert.Equal(t, "/img/cover.png", md.OGImage)
	assert.Equal(t, "Example", md.SiteName)
	assert.Equal(t, []string{"fr_FR", "de_DE"}, md.OGLocaleAlternate)
}

func TestExtractMetadataFallsBackToOG(t *testing.T) {
	md := ExtractMetadata(`<html><head><meta property="og:title" content="OG only"><meta property="og:description" content="d"></head></html>`)
	assert.Equal(t, "OG only", md.Title)
	assert.Equal(t, "d", md.Description)
}

func TestTitleTokenizer(t *testing.T) {
	assert.Equal(t, "A & B", Title(`<html><head><title> A &amp; B </title></head>`))
	assert.Empty(t, Title(`<p>no title</p>`))
}

func TestMetaRobots(t *testing.T) {
	page := `<html><head><meta name="Robots" content="noindex"><meta name="googlebot" content="nofollow"><meta name="viewport" content="x"></head>
<body><meta name="robots" content="ignored"></body></html>`
	assert.Equal(t, []string{"noindex", "nofollow"}, MetaRobots(page))
}

func TestStaticBranding(t *testing.T) {
	page := `<html><head>
<meta name="theme-color" content="#ff6600">
<link rel="icon" href="/favicon.ico">
<style>body { background-color: #111111; font-family: "Inter", sans-serif; } a { color: #ff6600; } h1 { font-family: Georgia, serif; } p { font-family: 'Inter'; }</style>
</head><body><header><img src="/logo.svg" alt="Logo"></header></body></html>`

	b := StaticBranding(page, "https://brand.example/")
	require.NotNil(t, b)
	assert.Equal(t, "dark", b["colorScheme"])

	colors := b["colors"].(map[string]any)
	assert.Equal(t, "#ff6600", colors["primary"])
	assert.Equal(t, "#111111", colors["background"])

	fonts := b["fonts"].([]map[string]any)
	require.NotEmpty(t, fonts)
	assert.Equal(t, "Inter", fonts[0]["family"])

	images := b["images"].(map[string]any)
	assert.Equal(t, "https://brand.example/logo.svg", images["logo"])
	assert.Equal(t, "https://brand.example/favicon.ico", images["favicon"])
}

func TestEstimateAndTruncateTokens(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(""))
	assert.Equal(t, 1, EstimateTokens("ab"))
	assert.Equal(t, 4, EstimateTokens("abcdefghijkl"))

	out, cut := TruncateTokens("abcdefghijkl", 2)
	assert.True(t, cut)
	assert.Equal(t, "abcdef", out)

	out, cut = TruncateTokens("héllo wörld", 100)
	assert.False(t, cut)
	assert.Equal(t, "héllo wörld", out)

	out, _ = TruncateTokens("日本語のテキスト", 1)
	assert.Equal(t, "日本語", out)
}

func TestPruneKeepsArticleBlocks(t *testing.T) {
	page := `<html><body><div id="app">
<div class="sidebar"><a href="/a">a</a><a href="/b">b</a></div>
<article class="post-content"><p>` + strings.Repeat("Meaningful paragraph text. ", 20) + `</p></article>
</div></body></html>`
	out, err := contentScorer.Prune(page)
	require.NoError(t, err)
	assert.Contains(t, out, "Meaningful paragraph")
	assert.NotContains(t, out, "sidebar")
}

func TestPruneDescendsNestedWrappers(t *testing.T) {
	page := `<html><body><div id="root"><div class="layout">
<nav><a href="/">Home</a><a href="/about">About</a></nav>
<section><p>` + strings.Repeat("Body copy worth keeping. ", 15) + `</p></section>
</div></div></body></html>`
	out, err := contentScorer.Prune(page)
	require.NoError(t, err)
	assert.Contains(t, out, "<section>")
	assert.NotContains(t, out, "About")
}

func TestPruneFallsBackToWholeBody(t *testing.T) {
	page := `<html><body><nav><a href="/">Home</a></nav></body></html>`
	out, err := contentScorer.Prune(page)
	require.NoError(t, err)
	assert.Contains(t, out, "Home")

	out, err = contentScorer.Prune("plain text")
	require.NoError(t, err)
	assert.Contains(t, out, "plain text")
}

func TestBlockScorerHints(t *testing.T) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(
		`<div class="entry-content" id="x"></div><div class="promo-banner"></div><div class="main-sidebar"></div>`))
	require.NoError(t, err)
	divs := doc.Find("div")
	assert.Equal(t, 3.0, contentScorer.hintScore(divs.Eq(0)))
	assert.Equal(t, -3.0, contentScorer.hintScore(divs.Eq(1)))
	assert.Equal(t, 0.0, contentScorer.hintScore(divs.Eq(2)))
}

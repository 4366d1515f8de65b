package pipeline

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/use-agent/skim/cleaner"
	"github.com/use-agent/skim/engine"
	"github.com/use-agent/skim/models"
)

type fakeLLM struct {
	mu         sync.Mutex
	extracted  any
	extractErr error
	summary    string
	inputs     []string
	prompts    []string
}

func (f *fakeLLM) Extract(_ context.Context, content, prompt string, _ json.RawMessage) (any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inputs = append(f.inputs, content)
	f.prompts = append(f.prompts, prompt)
	return f.extracted, f.extractErr
}

func (f *fakeLLM) Summarize(_ context.Context, content string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inputs = append(f.inputs, content)
	return f.summary, nil
}

const page = `<html lang="en"><head><title>Widgets</title>
<meta name="description" content="All about widgets">
<style>body { background: #ffffff; font-family: Roboto; }</style>
</head><body>
<nav><a href="/">Home</a></nav>
<article><h1>Widgets</h1>
<p>Widgets are small mechanical devices used in a surprising number of everyday machines and tools.</p>
<p><a href="/widgets/blue">Blue widget</a> <img src="/img/w.png" alt="widget"></p>
<script>track()</script>
</article>
<footer>Footer text</footer>
</body></html>`

func newRequest(t *testing.T, body string) *models.ScrapeRequest {
	t.Helper()
	var req models.ScrapeRequest
	require.NoError(t, json.Unmarshal([]byte(body), &req))
	req.Defaults()
	req.Normalize()
	require.NoError(t, req.Validate())
	return &req
}

func rawPage() *engine.RawPage {
	return &engine.RawPage{
		URL:         "https://shop.example/widgets",
		FinalURL:    "https://shop.example/widgets",
		StatusCode:  200,
		ContentType: "text/html",
		HTML:        page,
	}
}

func TestMarkdownOnlyLeavesOtherFormatsAbsent(t *testing.T) {
	p := New(cleaner.NewCleaner(), nil)
	res, err := p.Derive(context.Background(), rawPage(), newRequest(t, `{"url":"https://shop.example/widgets"}`))
	require.NoError(t, err)

	require.NotNil(t, res.Data.Markdown)
	assert.Contains(t, *res.Data.Markdown, "surprising number")
	assert.NotContains(t, *res.Data.Markdown, "Footer text")
	assert.Nil(t, res.Data.HTML)
	assert.Nil(t, res.Data.RawHTML)
	assert.Nil(t, res.Data.Links)
	assert.Nil(t, res.Data.Screenshot)
	assert.Empty(t, res.Warnings)

	out, err := json.Marshal(res.Data)
	require.NoError(t, err)
	assert.NotContains(t, string(out), `"html"`)
	assert.NotContains(t, string(out), `"rawHtml"`)
	assert.NotContains(t, string(out), `"links"`)

	md := res.Data.Metadata
	assert.Equal(t, "Widgets", md.Title)
	assert.Equal(t, "All about widgets", md.Description)
	assert.Equal(t, "en", md.Language)
	assert.Equal(t, 200, md.StatusCode)
	assert.Equal(t, "https://shop.example/widgets", md.SourceURL)
	assert.Empty(t, md.Error)
}

func TestAllHTMLFormats(t *testing.T) {
	p := New(cleaner.NewCleaner(), nil)
	raw := rawPage()
	raw.Screenshot = []byte{0x89, 'P', 'N', 'G'}

	res, err := p.Derive(context.Background(), raw, newRequest(t,
		`{"url":"https://shop.example/widgets","formats":["html","rawHtml","links","images","screenshot","branding"]}`))
	require.NoError(t, err)

	require.NotNil(t, res.Data.HTML)
	assert.NotContains(t, *res.Data.HTML, "<script")
	assert.Contains(t, *res.Data.HTML, "surprising number")

	require.NotNil(t, res.Data.RawHTML)
	assert.Equal(t, page, *res.Data.RawHTML)

	assert.Equal(t, []string{"https://shop.example/", "https://shop.example/widgets/blue"}, res.Data.Links)
	assert.Equal(t, []string{"https://shop.example/img/w.png"}, res.Data.Images)

	require.NotNil(t, res.Data.Screenshot)
	assert.True(t, strings.HasPrefix(*res.Data.Screenshot, "data:image/png;base64,"))

	require.NotNil(t, res.Data.Branding)
	assert.Equal(t, "light", res.Data.Branding["colorScheme"])
	assert.Nil(t, res.Data.Markdown)
}

func TestBrandingPrefersSessionProfile(t *testing.T) {
	p := New(cleaner.NewCleaner(), nil)
	raw := rawPage()
	raw.Branding = map[string]any{"colorScheme": "dark"}

	res, err := p.Derive(context.Background(), raw, newRequest(t, `{"url":"https://shop.example/widgets","formats":["branding"]}`))
	require.NoError(t, err)
	assert.Equal(t, "dark", res.Data.Branding["colorScheme"])
}

func TestMissingScreenshotWarns(t *testing.T) {
	p := New(cleaner.NewCleaner(), nil)
	res, err := p.Derive(context.Background(), rawPage(), newRequest(t, `{"url":"https://shop.example/widgets","formats":["markdown","screenshot"]}`))
	require.NoError(t, err)
	assert.Nil(t, res.Data.Screenshot)
	require.Len(t, res.Warnings, 1)
	assert.True(t, strings.HasPrefix(res.Warnings[0], "screenshot:"))
	assert.NotNil(t, res.Data.Markdown)
}

func TestSummaryUsesMarkdown(t *testing.T) {
	llm := &fakeLLM{summary: "Widgets are devices."}
	p := New(cleaner.NewCleaner(), llm)

	res, err := p.Derive(context.Background(), rawPage(), newRequest(t, `{"url":"https://shop.example/widgets","formats":["summary"]}`))
	require.NoError(t, err)
	require.NotNil(t, res.Data.Summary)
	assert.Equal(t, "Widgets are devices.", *res.Data.Summary)
	assert.Nil(t, res.Data.Markdown, "markdown was not requested")
	require.Len(t, llm.inputs, 1)
	assert.Equal(t, res.Markdown, llm.inputs[0])
	assert.Contains(t, llm.inputs[0], "surprising number")
}

func TestJSONExtractionValidatesSchema(t *testing.T) {
	body := `{"url":"https://shop.example/widgets","formats":["markdown",{"type":"json","schema":{"type":"object","properties":{"name":{"type":"string"}},"required":["name"]}}]}`

	t.Run("valid", func(t *testing.T) {
		p := New(cleaner.NewCleaner(), &fakeLLM{extracted: map[string]any{"name": "Widget"}})
		res, err := p.Derive(context.Background(), rawPage(), newRequest(t, body))
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"name": "Widget"}, res.Data.JSON)
		assert.Empty(t, res.Warnings)
	})

	t.Run("schema mismatch degrades to warning", func(t *testing.T) {
		p := New(cleaner.NewCleaner(), &fakeLLM{extracted: map[string]any{"name": 42.0}})
		res, err := p.Derive(context.Background(), rawPage(), newRequest(t, body))
		require.NoError(t, err)
		assert.Nil(t, res.Data.JSON)
		require.Len(t, res.Warnings, 1)
		assert.True(t, strings.HasPrefix(res.Warnings[0], "json:"))
		assert.NotNil(t, res.Data.Markdown, "other formats still populate")
	})

	t.Run("llm failure degrades to warning", func(t *testing.T) {
		p := New(cleaner.NewCleaner(), &fakeLLM{extractErr: models.NewScrapeError(models.KindExtractionFailure, "LLM request failed", errors.New("dial"))})
		res, err := p.Derive(context.Background(), rawPage(), newRequest(t, body))
		require.NoError(t, err)
		assert.Nil(t, res.Data.JSON)
		assert.Equal(t, []string{"json: LLM request failed"}, res.Warnings)
	})
}

func TestNoLLMConfigured(t *testing.T) {
	p := New(cleaner.NewCleaner(), nil)
	res, err := p.Derive(context.Background(), rawPage(), newRequest(t,
		`{"url":"https://shop.example/widgets","formats":["summary",{"type":"json","prompt":"name"}]}`))
	require.NoError(t, err)
	assert.Nil(t, res.Data.Summary)
	assert.Nil(t, res.Data.JSON)
	assert.Len(t, res.Warnings, 2)
}

func TestTrackingJSON(t *testing.T) {
	t.Run("own extraction", func(t *testing.T) {
		llm := &fakeLLM{extracted: map[string]any{"price": "10"}}
		p := New(cleaner.NewCleaner(), llm)
		res, err := p.Derive(context.Background(), rawPage(), newRequest(t,
			`{"url":"https://shop.example/widgets","formats":["markdown",{"type":"changeTracking","modes":["json"],"prompt":"the price"}]}`))
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"price": "10"}, res.TrackingJSON)
		assert.Equal(t, []string{"the price"}, llm.prompts)
		assert.Nil(t, res.Data.JSON)
	})

	t.Run("reuses json format", func(t *testing.T) {
		llm := &fakeLLM{extracted: map[string]any{"price": "12"}}
		p := New(cleaner.NewCleaner(), llm)
		res, err := p.Derive(context.Background(), rawPage(), newRequest(t,
			`{"url":"https://shop.example/widgets","formats":["markdown",{"type":"json","prompt":"price"},"changeTracking"]}`))
		require.NoError(t, err)
		assert.Equal(t, res.Data.JSON, res.TrackingJSON)
		assert.Len(t, llm.prompts, 1)
		assert.NotEmpty(t, res.Markdown)
	})
}

func TestNon2xxReportsStatusText(t *testing.T) {
	p := New(cleaner.NewCleaner(), nil)
	raw := rawPage()
	raw.StatusCode = 404

	res, err := p.Derive(context.Background(), raw, newRequest(t, `{"url":"https://shop.example/widgets"}`))
	require.NoError(t, err)
	assert.Equal(t, 404, res.Data.Metadata.StatusCode)
	assert.Equal(t, "Not Found", res.Data.Metadata.Error)
	assert.NotNil(t, res.Data.Markdown)
}

func TestActionsPassThrough(t *testing.T) {
	p := New(cleaner.NewCleaner(), nil)
	raw := rawPage()
	raw.Actions = &models.ActionsOutput{Scrapes: []models.ScrapeSnapshot{{URL: raw.URL, HTML: "<p/>"}}}

	res, err := p.Derive(context.Background(), raw, newRequest(t, `{"url":"https://shop.example/widgets"}`))
	require.NoError(t, err)
	assert.Same(t, raw.Actions, res.Data.Actions)
}

func TestExpiredDeadlineIsTimeout(t *testing.T) {
	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()
	_, err := New(cleaner.NewCleaner(), nil).Derive(ctx, rawPage(), newRequest(t, `{"url":"https://shop.example/widgets"}`))
	assert.True(t, models.IsKind(err, models.KindActionTimeout))
	assert.False(t, models.IsKind(err, models.KindFetchFailure))
}

// buildPDF writes a minimal uncompressed PDF with one text line per page.
func buildPDF(pages ...string) []byte {
	var buf bytes.Buffer
	n := len(pages)
	// Objects: 1 catalog, 2 pages, 3 font, then page/content pairs.
	total := 3 + 2*n
	offsets := make([]int, total+1)

	buf.WriteString("%PDF-1.4\n")
	write := func(num int, body string) {
		offsets[num] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", num, body)
	}

	kids := make([]string, n)
	for i := range pages {
		kids[i] = fmt.Sprintf("%d 0 R", 4+2*i)
	}
	write(1, "<< /Type /Catalog /Pages 2 0 R >>")
	write(2, fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), n))
	write(3, "<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>")
	for i, text := range pages {
		pageNum, contentNum := 4+2*i, 5+2*i
		write(pageNum, fmt.Sprintf("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources << /Font << /F1 3 0 R >> >> /Contents %d 0 R >>", contentNum))
		stream := fmt.Sprintf("BT\n/F1 12 Tf\n72 720 Td\n(%s) Tj\nET", text)
		write(contentNum, fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(stream), stream))
	}

	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", total+1)
	buf.WriteString("0000000000 65535 f \n")
	for i := 1; i <= total; i++ {
		fmt.Fprintf(&buf, "%010d 00000 n \n", offsets[i])
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", total+1, xref)
	return buf.Bytes()
}

func pdfPage(doc []byte) *engine.RawPage {
	return &engine.RawPage{
		URL:         "https://docs.example/report.pdf",
		FinalURL:    "https://docs.example/report.pdf",
		StatusCode:  200,
		ContentType: "application/pdf",
		Document:    doc,
	}
}

func TestParsedPDF(t *testing.T) {
	doc := buildPDF("First page text", "Second page text")
	p := New(cleaner.NewCleaner(), nil)

	res, err := p.Derive(context.Background(), pdfPage(doc), newRequest(t,
		`{"url":"https://docs.example/report.pdf","formats":["markdown","html","links"]}`))
	require.NoError(t, err)

	assert.Equal(t, "First page text\n\nSecond page text", *res.Data.Markdown)
	assert.Contains(t, *res.Data.HTML, `<section data-page="2">`)
	assert.Equal(t, []string{}, res.Data.Links)
	assert.Equal(t, 2, res.Data.Metadata.NumPages)
	assert.True(t, res.Usage.IsPDF)
	assert.Equal(t, 2, res.Usage.Pages)
}

func TestUnparsedPDFIsBase64(t *testing.T) {
	doc := buildPDF("Only page")
	p := New(cleaner.NewCleaner(), nil)

	res, err := p.Derive(context.Background(), pdfPage(doc), newRequest(t,
		`{"url":"https://docs.example/report.pdf","parsers":[],"formats":["markdown","rawHtml"]}`))
	require.NoError(t, err)

	encoded := base64.StdEncoding.EncodeToString(doc)
	assert.Equal(t, encoded, *res.Data.Markdown)
	assert.Equal(t, encoded, *res.Data.RawHTML)
	assert.True(t, res.Usage.IsPDF)
	assert.Empty(t, res.Usage.Parsers)
}

func TestCorruptPDFFails(t *testing.T) {
	p := New(cleaner.NewCleaner(), nil)
	_, err := p.Derive(context.Background(), pdfPage([]byte("%PDF-1.4 garbage")), newRequest(t,
		`{"url":"https://docs.example/report.pdf"}`))
	assert.True(t, models.IsKind(err, models.KindExtractionFailure))
}

func TestStreamText(t *testing.T) {
	tests := []struct {
		name   string
		stream string
		want   string
	}{
		{"tj", "BT /F1 12 Tf 72 720 Td (Hello) Tj ET", "Hello"},
		{"tj array", "BT [(Hel) -20 (lo) 120 ( world)] TJ ET", "Hello world"},
		{"escapes", `BT (a\(b\)c \\ \101) Tj ET`, `a(b)c \ A`},
		{"nested parens", "BT (f(x) = y) Tj ET", "f(x) = y"},
		{"next line", "BT (one) Tj T* (two) Tj (three) ' ET", "one\ntwo\nthree"},
		{"hex", "BT <48656C6C6F> Tj ET", "Hello"},
		{"comments and names", "% comment (not text) Tj\nBT /Tj 1 Tf (x) Tj ET", "x"},
		{"positioning spaces", "BT (a) Tj 10 0 Td (b) Tj ET", "a b"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, streamText([]byte(tt.stream)))
		})
	}
}

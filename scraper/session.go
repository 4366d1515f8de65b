package scraper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/proto"
	"github.com/use-agent/skim/models"
)

// rodSession drives a rod page. Each call binds ctx to the page so the
// request deadline cancels in-flight CDP calls.
type rodSession struct {
	page *rod.Page
}

var _ Session = (*rodSession)(nil)

func newRodSession(page *rod.Page) *rodSession {
	return &rodSession{page: page}
}

func (s *rodSession) WaitForSelector(ctx context.Context, selector string) error {
	return s.page.Context(ctx).WaitElementsMoreThan(selector, 0)
}

// elements returns the current matches without waiting.
func (s *rodSession) elements(ctx context.Context, selector string) (rod.Elements, error) {
	els, err := s.page.Context(ctx).Elements(selector)
	if err != nil {
		return nil, err
	}
	if len(els) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrElementNotFound, selector)
	}
	return els, nil
}

func (s *rodSession) Click(ctx context.Context, selector string, all bool) error {
	els, err := s.elements(ctx, selector)
	if err != nil {
		return err
	}
	if !all {
		els = els[:1]
	}
	for _, el := range els {
		if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
			return err
		}
	}
	return nil
}

func (s *rodSession) Write(ctx context.Context, selector, text string) error {
	if selector == "" {
		return s.page.Context(ctx).InsertText(text)
	}
	els, err := s.elements(ctx, selector)
	if err != nil {
		return err
	}
	return els[0].Input(text)
}

var namedKeys = map[string]input.Key{
	"Enter":      input.Enter,
	"Tab":        input.Tab,
	"Escape":     input.Escape,
	"Backspace":  input.Backspace,
	"Delete":     input.Delete,
	"Space":      input.Space,
	"ArrowUp":    input.ArrowUp,
	"ArrowDown":  input.ArrowDown,
	"ArrowLeft":  input.ArrowLeft,
	"ArrowRight": input.ArrowRight,
	"PageUp":     input.PageUp,
	"PageDown":   input.PageDown,
	"Home":       input.Home,
	"End":        input.End,
}

func (s *rodSession) Press(ctx context.Context, key string) error {
	p := s.page.Context(ctx)
	if k, ok := namedKeys[key]; ok {
		return p.Keyboard.Type(k)
	}
	if utf8.RuneCountInString(key) == 1 {
		r, _ := utf8.DecodeRuneInString(key)
		return p.Keyboard.Type(input.Key(r))
	}
	return models.NewScrapeError(models.KindActionFailed, fmt.Sprintf("unsupported key %q", key), nil)
}

func (s *rodSession) Scroll(ctx context.Context, selector, direction string) error {
	p := s.page.Context(ctx)
	if selector != "" {
		els, err := s.elements(ctx, selector)
		if err != nil {
			return err
		}
		return els[0].ScrollIntoView()
	}

	res, err := p.Eval(`() => window.innerHeight`)
	if err != nil {
		return fmt.Errorf("failed to get viewport height: %w", err)
	}
	delta := float64(res.Value.Int())
	if direction == "up" {
		delta = -delta
	}
	return p.Mouse.Scroll(0, delta, 1)
}

func (s *rodSession) Screenshot(ctx context.Context, opts models.ScreenshotOptions) ([]byte, error) {
	return captureScreenshot(s.page.Context(ctx), opts)
}

func (s *rodSession) Snapshot(ctx context.Context) (string, string, error) {
	p := s.page.Context(ctx)
	html, err := p.HTML()
	if err != nil {
		return "", "", err
	}
	return evalStringOrEmpty(p, `() => window.location.href`), html, nil
}

func (s *rodSession) Evaluate(ctx context.Context, script string) (models.JSReturn, error) {
	js := "function() { return (async () => {\n" + script + "\n})(); }"
	res, err := s.page.Context(ctx).Evaluate(rod.Eval(js).ByPromise())
	if err != nil {
		var evalErr *rod.EvalError
		if errors.As(err, &evalErr) {
			return models.JSReturn{Type: "error", Value: evalErr.Error()}, nil
		}
		return models.JSReturn{}, err
	}
	return models.JSReturn{Type: string(res.Type), Value: res.Value.Val()}, nil
}

// paperSizes maps paper formats to inches (width, height).
var paperSizes = map[string][2]float64{
	"Letter":  {8.5, 11},
	"Legal":   {8.5, 14},
	"Tabloid": {11, 17},
	"A3":      {11.69, 16.54},
	"A4":      {8.27, 11.69},
	"A5":      {5.83, 8.27},
}

func (s *rodSession) PDF(ctx context.Context, a models.Action) ([]byte, error) {
	req := &proto.PagePrintToPDF{
		Landscape:       a.Landscape,
		PrintBackground: true,
	}
	if a.Scale > 0 {
		scale := a.Scale
		req.Scale = &scale
	}
	format := a.Format
	if format == "" {
		format = "Letter"
	}
	if size, ok := paperSizes[format]; ok {
		w, h := size[0], size[1]
		req.PaperWidth, req.PaperHeight = &w, &h
	}

	r, err := s.page.Context(ctx).PDF(req)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

// captureScreenshot renders PNG by default and JPEG when a quality is given.
func captureScreenshot(p *rod.Page, opts models.ScreenshotOptions) ([]byte, error) {
	if opts.Viewport != nil {
		if err := p.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
			Width:             opts.Viewport.Width,
			Height:            opts.Viewport.Height,
			DeviceScaleFactor: 1,
		}); err != nil {
			return nil, err
		}
	}
	req := &proto.PageCaptureScreenshot{Format: proto.PageCaptureScreenshotFormatPng}
	if opts.Quality > 0 {
		q := opts.Quality
		req.Format = proto.PageCaptureScreenshotFormatJpeg
		req.Quality = &q
	}
	return p.Screenshot(opts.FullPage, req)
}

package scraper

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/use-agent/skim/models"
)

// ErrElementNotFound is returned by Session methods when a selector matches
// nothing at the time the action runs.
var ErrElementNotFound = errors.New("element not found")

// Session is the browser surface an action script drives. Methods observe
// ctx and return its error when it expires.
type Session interface {
	// WaitForSelector blocks until selector matches at least one element.
	WaitForSelector(ctx context.Context, selector string) error
	Click(ctx context.Context, selector string, all bool) error
	// Write types text into selector, or into the focused element when
	// selector is empty.
	Write(ctx context.Context, selector, text string) error
	Press(ctx context.Context, key string) error
	// Scroll scrolls selector into view, or the viewport by one screen in
	// direction when selector is empty.
	Scroll(ctx context.Context, selector, direction string) error
	Screenshot(ctx context.Context, opts models.ScreenshotOptions) ([]byte, error)
	// Snapshot returns the current URL and serialized DOM.
	Snapshot(ctx context.Context) (url, html string, err error)
	// Evaluate runs script as the body of an async function. A script that
	// throws yields a JSReturn of type "error" and a nil error.
	Evaluate(ctx context.Context, script string) (models.JSReturn, error)
	PDF(ctx context.Context, a models.Action) ([]byte, error)
}

// SessionState accumulates the outputs of one action script. It belongs to
// a single attempt and is dropped with it.
type SessionState struct {
	Screenshots       [][]byte
	Scrapes           []models.ScrapeSnapshot
	JavascriptReturns []models.JSReturn
	PDFs              [][]byte
}

func newSessionState() *SessionState {
	return &SessionState{
		Screenshots:       [][]byte{},
		Scrapes:           []models.ScrapeSnapshot{},
		JavascriptReturns: []models.JSReturn{},
		PDFs:              [][]byte{},
	}
}

// Output converts the state to its API form. Screenshots become data URIs,
// PDFs plain base64.
func (s *SessionState) Output() *models.ActionsOutput {
	out := &models.ActionsOutput{
		Screenshots:       make([]string, 0, len(s.Screenshots)),
		Scrapes:           s.Scrapes,
		JavascriptReturns: s.JavascriptReturns,
		PDFs:              make([]string, 0, len(s.PDFs)),
	}
	for _, img := range s.Screenshots {
		out.Screenshots = append(out.Screenshots, ImageDataURI(img))
	}
	for _, pdf := range s.PDFs {
		out.PDFs = append(out.PDFs, base64.StdEncoding.EncodeToString(pdf))
	}
	return out
}

// RunActions executes actions in order against sess. Each action sees the
// effects of the previous one. On any failure the partial state is
// discarded and nil is returned with the error.
func RunActions(ctx context.Context, sess Session, actions []models.Action) (*SessionState, error) {
	state := newSessionState()
	for i, action := range actions {
		if err := ctx.Err(); err != nil {
			return nil, actionTimeout(i, action, err)
		}
		if err := runAction(ctx, sess, action, state); err != nil {
			return nil, classifyActionError(ctx, i, action, err)
		}
	}
	return state, nil
}

func runAction(ctx context.Context, sess Session, action models.Action, state *SessionState) error {
	switch action.Type {
	case models.ActionWait:
		if action.Selector != "" {
			return sess.WaitForSelector(ctx, action.Selector)
		}
		return sleep(ctx, time.Duration(action.Milliseconds)*time.Millisecond)

	case models.ActionScreenshot:
		img, err := sess.Screenshot(ctx, action.ScreenshotOptions())
		if err != nil {
			return err
		}
		state.Screenshots = append(state.Screenshots, img)
		return nil

	case models.ActionClick:
		return sess.Click(ctx, action.Selector, action.All)

	case models.ActionWrite:
		return sess.Write(ctx, action.Selector, action.Text)

	case models.ActionPress:
		return sess.Press(ctx, action.Key)

	case models.ActionScroll:
		dir := action.Direction
		if dir == "" {
			dir = "down"
		}
		return sess.Scroll(ctx, action.Selector, dir)

	case models.ActionScrape:
		u, html, err := sess.Snapshot(ctx)
		if err != nil {
			return err
		}
		state.Scrapes = append(state.Scrapes, models.ScrapeSnapshot{URL: u, HTML: html})
		return nil

	case models.ActionExecuteJavascript:
		ret, err := sess.Evaluate(ctx, action.Script)
		if err != nil {
			return err
		}
		state.JavascriptReturns = append(state.JavascriptReturns, ret)
		return nil

	case models.ActionGeneratePDF:
		pdf, err := sess.PDF(ctx, action)
		if err != nil {
			return err
		}
		state.PDFs = append(state.PDFs, pdf)
		return nil

	default:
		return models.NewScrapeError(models.KindInvalidRequest, fmt.Sprintf("unknown action type %q", action.Type), nil)
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func actionTimeout(i int, action models.Action, err error) *models.ScrapeError {
	return models.NewScrapeError(models.KindActionTimeout,
		fmt.Sprintf("action %d (%s) did not complete before the deadline", i, action.Type), err)
}

func classifyActionError(ctx context.Context, i int, action models.Action, err error) error {
	switch {
	case errors.Is(err, ErrElementNotFound):
		se := models.ElementNotFound(action.Selector, err)
		se.Message = fmt.Sprintf("action %d (%s): %s", i, action.Type, se.Message)
		return se
	case ctx.Err() != nil, errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return actionTimeout(i, action, err)
	}
	var se *models.ScrapeError
	if errors.As(err, &se) {
		return se
	}
	return models.NewScrapeError(models.KindActionFailed,
		fmt.Sprintf("action %d (%s) failed", i, action.Type), err)
}

// ImageDataURI encodes an image as a data URI, sniffing JPEG from PNG.
func ImageDataURI(img []byte) string {
	mime := "image/png"
	if len(img) > 2 && img[0] == 0xFF && img[1] == 0xD8 {
		mime = "image/jpeg"
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(img)
}

package models

import (
	"encoding/json"
	"fmt"
)

// ActionType names one step of a pre-fetch browser action script.
type ActionType string

const (
	ActionWait              ActionType = "wait"
	ActionScreenshot        ActionType = "screenshot"
	ActionClick             ActionType = "click"
	ActionWrite             ActionType = "write"
	ActionPress             ActionType = "press"
	ActionScroll            ActionType = "scroll"
	ActionScrape            ActionType = "scrape"
	ActionExecuteJavascript ActionType = "executeJavascript"
	ActionGeneratePDF       ActionType = "generatePdf"
)

var actionTypes = map[ActionType]struct{}{
	ActionWait:              {},
	ActionScreenshot:        {},
	ActionClick:             {},
	ActionWrite:             {},
	ActionPress:             {},
	ActionScroll:            {},
	ActionScrape:            {},
	ActionExecuteJavascript: {},
	ActionGeneratePDF:       {},
}

// Action is a single browser interaction executed before content capture.
// Only the fields relevant to Type are meaningful.
type Action struct {
	Type ActionType `json:"type"`

	// wait
	Milliseconds int `json:"milliseconds,omitempty"`

	// wait, click, write, scroll
	Selector string `json:"selector,omitempty"`

	// click
	All bool `json:"all,omitempty"`

	// write
	Text string `json:"text,omitempty"`

	// press
	Key string `json:"key,omitempty"`

	// scroll: "up" or "down"
	Direction string `json:"direction,omitempty"`

	// executeJavascript
	Script string `json:"script,omitempty"`

	// screenshot
	FullPage bool      `json:"fullPage,omitempty"`
	Quality  int       `json:"quality,omitempty"`
	Viewport *Viewport `json:"viewport,omitempty"`

	// generatePdf
	Format    string  `json:"format,omitempty"`
	Landscape bool    `json:"landscape,omitempty"`
	Scale     float64 `json:"scale,omitempty"`
}

// UnmarshalJSON rejects action types outside the known set.
func (a *Action) UnmarshalJSON(b []byte) error {
	type plain Action
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	if _, ok := actionTypes[p.Type]; !ok {
		return fmt.Errorf("unknown action type %q", p.Type)
	}
	*a = Action(p)
	return nil
}

// ScreenshotOptions returns the screenshot parameters of a screenshot action.
func (a Action) ScreenshotOptions() ScreenshotOptions {
	return ScreenshotOptions{FullPage: a.FullPage, Quality: a.Quality, Viewport: a.Viewport}
}

// validate checks the per-type required fields.
func (a Action) validate() error {
	switch a.Type {
	case ActionWait:
		if a.Milliseconds <= 0 && a.Selector == "" {
			return fmt.Errorf("wait requires milliseconds or selector")
		}
		if a.Milliseconds > 0 && a.Selector != "" {
			return fmt.Errorf("wait takes either milliseconds or selector, not both")
		}
	case ActionScreenshot:
		if a.Quality < 0 || a.Quality > 100 {
			return fmt.Errorf("screenshot quality must be between 0 and 100")
		}
	case ActionClick:
		if a.Selector == "" {
			return fmt.Errorf("click requires a selector")
		}
	case ActionWrite:
		if a.Text == "" {
			return fmt.Errorf("write requires text")
		}
	case ActionPress:
		if a.Key == "" {
			return fmt.Errorf("press requires a key")
		}
	case ActionScroll:
		if a.Direction != "" && a.Direction != "up" && a.Direction != "down" {
			return fmt.Errorf("scroll direction must be up or down")
		}
	case ActionScrape:
	case ActionExecuteJavascript:
		if a.Script == "" {
			return fmt.Errorf("executeJavascript requires a script")
		}
	case ActionGeneratePDF:
		if a.Scale < 0 || a.Scale > 2 {
			return fmt.Errorf("generatePdf scale must be between 0.1 and 2")
		}
	default:
		return fmt.Errorf("unknown action type %q", a.Type)
	}
	if a.Selector != "" {
		if err := ValidateSelector(a.Selector); err != nil {
			return err
		}
	}
	return nil
}

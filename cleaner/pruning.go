package cleaner

import (
	"math"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// blockSignals are the measurements taken from one top-level block.
type blockSignals struct {
	textDensity float64 // visible text / outer HTML length
	linkDensity float64 // anchor text / visible text
	tag         float64
	hints       float64 // class and id substrings
	textLength  float64 // log10 of visible text length
}

// blockScorer keeps the blocks of a page body that look like content.
type blockScorer struct {
	weights   blockSignals
	threshold float64

	tags     map[string]float64
	positive []string
	negative []string
	hint     float64

	// wrappers are tags descended into while they are the only child.
	wrappers map[string]bool
}

var contentScorer = &blockScorer{
	weights: blockSignals{
		textDensity: 3.0,
		linkDensity: -2.0,
		tag:         1.5,
		hints:       1.0,
		textLength:  0.5,
	},
	tags: map[string]float64{
		"article": 5, "main": 5, "section": 5,
		"nav": -5, "footer": -5, "aside": -5, "header": -5,
	},
	positive: []string{"content", "article", "post", "entry", "body", "main", "text"},
	negative: []string{
		"sidebar", "advert", "widget", "nav", "menu", "comment", "footer",
		"header", "banner", "popup", "modal", "cookie", "social", "share",
		"related", "recommend", "promo",
	},
	hint:     3.0,
	wrappers: map[string]bool{"div": true},
}

// Prune returns the outer HTML of every scoring block under <body>, joined
// by newlines. Input without a body is returned unchanged; a body in which
// nothing scores is returned whole.
func (s *blockScorer) Prune(rawHTML string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		return rawHTML, err
	}
	body := doc.Find("body")
	if body.Length() == 0 {
		return rawHTML, nil
	}

	var kept []string
	s.root(body).Children().Each(func(_ int, el *goquery.Selection) {
		if s.score(el) <= s.threshold {
			return
		}
		if html, err := goquery.OuterHtml(el); err == nil {
			kept = append(kept, html)
		}
	})
	if len(kept) > 0 {
		return strings.Join(kept, "\n"), nil
	}

	whole, err := body.Html()
	if err != nil {
		return rawHTML, nil
	}
	return whole, nil
}

// root skips single-child wrappers so a page-wide <div id="app"> does not
// hide its structure.
func (s *blockScorer) root(sel *goquery.Selection) *goquery.Selection {
	for {
		children := sel.Children()
		if children.Length() != 1 || !s.wrappers[goquery.NodeName(children)] {
			return sel
		}
		sel = children
	}
}

func (s *blockScorer) score(el *goquery.Selection) float64 {
	sig, ok := s.measure(el)
	if !ok {
		return 0
	}
	w := s.weights
	return sig.textDensity*w.textDensity +
		sig.linkDensity*w.linkDensity +
		sig.tag*w.tag +
		sig.hints*w.hints +
		sig.textLength*w.textLength
}

func (s *blockScorer) measure(el *goquery.Selection) (blockSignals, bool) {
	outer, err := goquery.OuterHtml(el)
	if err != nil {
		return blockSignals{}, false
	}
	text := len(strings.TrimSpace(el.Text()))
	links := 0
	el.Find("a").Each(func(_ int, a *goquery.Selection) {
		links += len(strings.TrimSpace(a.Text()))
	})

	sig := blockSignals{
		tag:        s.tags[goquery.NodeName(el)],
		hints:      s.hintScore(el),
		textLength: math.Log10(float64(text) + 1),
	}
	if len(outer) > 0 {
		sig.textDensity = float64(text) / float64(len(outer))
	}
	if text > 0 {
		sig.linkDensity = float64(links) / float64(text)
	}
	return sig, true
}

// hintScore adds s.hint for a content-like class or id and subtracts it for
// a boilerplate-like one. Each direction counts once.
func (s *blockScorer) hintScore(el *goquery.Selection) float64 {
	class, _ := el.Attr("class")
	id, _ := el.Attr("id")
	attrs := strings.ToLower(class + " " + id)

	score := 0.0
	if containsAny(attrs, s.positive) {
		score += s.hint
	}
	if containsAny(attrs, s.negative) {
		score -= s.hint
	}
	return score
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/use-agent/skim/models"
)

// State is a step of the proxy escalation state machine.
type State int

const (
	StateIdle State = iota
	StateAttemptingBasic
	StateAttemptingStealth
	StateSuccess
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAttemptingBasic:
		return "attempting_basic"
	case StateAttemptingStealth:
		return "attempting_stealth"
	case StateSuccess:
		return "success"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Attempt records one fetch through one tier.
type Attempt struct {
	Tier       models.Tier   `json:"tier"`
	StatusCode int           `json:"statusCode,omitempty"`
	Error      string        `json:"error,omitempty"`
	Duration   time.Duration `json:"duration"`
}

// Escalator runs fetch attempts through proxy tiers. Under TierAuto a basic
// attempt that fails to bot defense escalates exactly once to stealth.
// Attempts are strictly sequential.
type Escalator struct {
	fetcher Fetcher
}

// NewEscalator creates an Escalator over f.
func NewEscalator(f Fetcher) *Escalator {
	return &Escalator{fetcher: f}
}

// escalation is the per-call machine state.
type escalation struct {
	url      string
	pref     models.Tier
	state    State
	page     *RawPage
	tier     models.Tier
	err      error
	attempts []Attempt
}

func (r *escalation) transition(to State, reason string) {
	slog.Debug("proxy escalation",
		"url", r.url,
		"from", r.state.String(),
		"to", to.String(),
		"reason", reason,
	)
	r.state = to
}

// FetchWithProxy fetches req through the preferred tier and returns the page
// together with the tier that produced it. The returned tier is the one to bill.
func (e *Escalator) FetchWithProxy(ctx context.Context, req *FetchRequest, pref models.Tier) (*RawPage, models.Tier, error) {
	run := &escalation{url: req.URL, pref: pref, state: StateIdle}

	for {
		switch run.state {
		case StateIdle:
			if pref == models.TierStealth {
				run.transition(StateAttemptingStealth, "pinned stealth")
			} else {
				run.transition(StateAttemptingBasic, "start")
			}

		case StateAttemptingBasic:
			page, err := e.attempt(ctx, req, models.TierBasic, run)
			if err == nil {
				if pref == models.TierAuto {
					if reason := DetectChallenge(page.StatusCode, page.HTML); reason != "" {
						err = &BotDefenseError{StatusCode: page.StatusCode, Reason: reason}
						run.attempts[len(run.attempts)-1].Error = err.Error()
					}
				}
			}
			if err == nil {
				run.page, run.tier = page, models.TierBasic
				run.transition(StateSuccess, "basic succeeded")
				continue
			}
			run.err = err
			if pref == models.TierAuto && ctx.Err() == nil && isBotDefense(err) {
				slog.Info("escalating to stealth proxy", "url", req.URL, "error", err)
				run.transition(StateAttemptingStealth, err.Error())
				continue
			}
			run.transition(StateFailed, err.Error())

		case StateAttemptingStealth:
			page, err := e.attempt(ctx, req, models.TierStealth, run)
			if err != nil {
				run.err = err
				run.transition(StateFailed, err.Error())
				continue
			}
			run.page, run.tier = page, models.TierStealth
			run.transition(StateSuccess, "stealth succeeded")

		case StateSuccess:
			run.page.Attempts = run.attempts
			return run.page, run.tier, nil

		case StateFailed:
			slog.Warn("fetch failed", "url", req.URL, "attempts", len(run.attempts), "error", run.err)
			return nil, "", finalError(run.err)
		}
	}
}

// errBasicTimeout marks a basic attempt under TierAuto that ran out of its
// share of the request deadline. It escalates like bot defense.
var errBasicTimeout = errors.New("basic attempt timed out")

func (e *Escalator) attempt(ctx context.Context, req *FetchRequest, tier models.Tier, run *escalation) (*RawPage, error) {
	parent := ctx
	if run.pref == models.TierAuto && tier == models.TierBasic {
		r := *req
		r.DetectChallenge = true
		req = &r
		// Basic gets half of the remaining budget so stealth can still run.
		if deadline, ok := ctx.Deadline(); ok {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, time.Until(deadline)/2)
			defer cancel()
		}
	}

	start := time.Now()
	page, err := e.fetcher.Fetch(ctx, req, tier)
	if err != nil && ctx != parent && ctx.Err() != nil && parent.Err() == nil {
		err = fmt.Errorf("%w: %v", errBasicTimeout, err)
	}
	a := Attempt{Tier: tier, Duration: time.Since(start)}
	if err != nil {
		a.Error = err.Error()
	} else {
		a.StatusCode = page.StatusCode
	}
	run.attempts = append(run.attempts, a)
	return page, err
}

// isBotDefense reports whether a basic-tier failure should escalate.
// Deterministic failures of the request itself never escalate.
func isBotDefense(err error) bool {
	var bd *BotDefenseError
	if errors.As(err, &bd) || errors.Is(err, errBasicTimeout) {
		return true
	}
	var se *models.ScrapeError
	if errors.As(err, &se) {
		switch se.Kind {
		case models.KindInvalidRequest, models.KindActionFailed, models.KindActionTimeout,
			models.KindInternalFailure, models.KindUnauthorized:
			return false
		}
	}
	// Timeouts and transport failures.
	return true
}

func finalError(err error) error {
	var se *models.ScrapeError
	if errors.As(err, &se) {
		return se
	}
	return models.NewScrapeError(models.KindFetchFailure, "failed to fetch page", err)
}

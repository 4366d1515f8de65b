// Package billing computes the credit cost of a scrape.
package billing

import "github.com/use-agent/skim/models"

const (
	// BaseCost is charged for every successful scrape.
	BaseCost = 1

	// StealthSurcharge is added when the page was served through the stealth tier.
	StealthSurcharge = 4

	// CacheHitCost is charged when the result is served from the cache.
	CacheHitCost = 1
)

// ParserUsage describes how the fetched document was parsed.
type ParserUsage struct {
	Parsers []string
	IsPDF   bool
	Pages   int
}

func (u ParserUsage) parsedPDF() bool {
	if !u.IsPDF {
		return false
	}
	for _, p := range u.Parsers {
		if p == models.ParserPDF {
			return true
		}
	}
	return false
}

// Cost returns the credits charged for a fresh scrape. tier is the tier of
// the attempt that succeeded. Action scripts carry no surcharge, so the
// action count does not enter the price.
func Cost(tier models.Tier, usage ParserUsage) int {
	cost := BaseCost
	if usage.parsedPDF() {
		cost = max(BaseCost, usage.Pages)
	}
	if tier == models.TierStealth {
		cost += StealthSurcharge
	}
	return cost
}

package billing

import (
	"testing"

	"github.com/use-agent/skim/models"
)

func TestCost(t *testing.T) {
	tests := []struct {
		name  string
		tier  models.Tier
		usage ParserUsage
		want  int
	}{
		{"plain html", models.TierBasic, ParserUsage{Parsers: []string{"pdf"}}, 1},
		{"stealth html", models.TierStealth, ParserUsage{}, 5},
		{"parsed pdf ten pages", models.TierBasic, ParserUsage{Parsers: []string{"pdf"}, IsPDF: true, Pages: 10}, 10},
		{"parsed pdf zero pages", models.TierBasic, ParserUsage{Parsers: []string{"pdf"}, IsPDF: true}, 1},
		{"unparsed pdf", models.TierBasic, ParserUsage{Parsers: []string{}, IsPDF: true, Pages: 10}, 1},
		{"stealth parsed pdf", models.TierStealth, ParserUsage{Parsers: []string{"pdf"}, IsPDF: true, Pages: 3}, 7},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Cost(tt.tier, tt.usage); got != tt.want {
				t.Errorf("Cost() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestCostIsPure(t *testing.T) {
	usage := ParserUsage{Parsers: []string{"pdf"}, IsPDF: true, Pages: 4}
	first := Cost(models.TierStealth, usage)
	for i := 0; i < 5; i++ {
		if got := Cost(models.TierStealth, usage); got != first {
			t.Fatalf("Cost changed between calls: %d vs %d", got, first)
		}
	}
}

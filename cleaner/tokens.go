package cleaner

import "unicode/utf8"

// EstimateTokens provides a fast token count estimate without a tokenizer.
//
// Heuristic: utf8 rune count / 3. English averages ~4 chars/token and CJK
// ~1.5, so dividing by 3 slightly over-estimates mixed content.
func EstimateTokens(text string) int {
	n := utf8.RuneCountInString(text)
	if n == 0 {
		return 0
	}
	est := n / 3
	if est < 1 {
		return 1
	}
	return est
}

// TruncateTokens cuts text so its estimate stays within maxTokens. The cut
// always falls on a rune boundary. maxTokens <= 0 disables truncation.
func TruncateTokens(text string, maxTokens int) (string, bool) {
	if maxTokens <= 0 || EstimateTokens(text) <= maxTokens {
		return text, false
	}
	limit := maxTokens * 3
	n := 0
	for i := range text {
		if n == limit {
			return text[:i], true
		}
		n++
	}
	return text, false
}

package services

import (
	"strings"
	"unicode/utf8"

	"bewo-chat/internal/core/domain"
)

// Match is the winning scenario and the keyword that selected it
type Match struct {
	Scenario *domain.Scenario
	Keyword  string // normalized; empty when selected by intent
}

// MatchScenario returns the single best active scenario for text, or nil.
// Ranking: priority desc, then longest matched keyword, then lowest id.
// A scenario whose intent equals the supplied intent matches with keyword length 0.
func MatchScenario(text, intent string, scenarios []domain.Scenario) *Match {
	normalized := NormalizeText(text)
	if normalized == "" {
		return nil
	}

	var best *Match
	bestLen := -1
	for i := range scenarios {
		sc := &scenarios[i]
		if !sc.IsActive {
			continue
		}

		kw, ok := longestKeyword(normalized, sc.TriggerKeywords)
		if !ok && !(intent != "" && sc.Intent != "" && sc.Intent == intent) {
			continue
		}
		kwLen := utf8.RuneCountInString(kw)

		if best == nil || outranks(sc, kwLen, best.Scenario, bestLen) {
			best = &Match{Scenario: sc, Keyword: kw}
			bestLen = kwLen
		}
	}
	return best
}

func outranks(a *domain.Scenario, aLen int, b *domain.Scenario, bLen int) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	if aLen != bLen {
		return aLen > bLen
	}
	return a.ID < b.ID
}

// longestKeyword finds the longest normalized keyword contained in text
func longestKeyword(text string, keywords []string) (string, bool) {
	found := ""
	ok := false
	for _, raw := range keywords {
		kw := NormalizeText(raw)
		if kw == "" || !strings.Contains(text, kw) {
			continue
		}
		if !ok || utf8.RuneCountInString(kw) > utf8.RuneCountInString(found) {
			found = kw
			ok = true
		}
	}
	return found, ok
}

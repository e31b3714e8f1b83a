// Package filter implements the per-subscriber market matching predicate.
package filter

import (
	"strings"

	"github.com/opinionwatch/opinionwatch/internal/models"
)

// Matches reports whether a market satisfies a subscriber's configured
// filters. It is a pure conjunction of four independent predicates: category,
// liquidity, volume, and keyword. An empty category set matches every
// category; an empty keyword list matches every market.
func Matches(m models.Market, p *models.SubscriberPreferences) bool {
	if len(p.EnabledCategories) > 0 && !p.EnabledCategories[m.Category] {
		return false
	}
	if m.Liquidity < p.MinLiquidity {
		return false
	}
	if m.Volume < p.MinVolume {
		return false
	}
	if len(p.Keywords) > 0 && !containsKeyword(m, p.Keywords) {
		return false
	}
	return true
}

func containsKeyword(m models.Market, keywords []string) bool {
	text := strings.ToLower(m.Title + " " + m.Description)
	for _, kw := range keywords {
		if kw == "" {
			continue
		}
		if strings.Contains(text, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

package models

import "time"

// SubscriberPreferences holds one subscriber's filter configuration and
// per-market notification history.
//
// An empty EnabledCategories set means "no category filter": every category
// matches. The default from NewSubscriberPreferences enables all known
// categories explicitly, which behaves identically but renders clearer in the
// settings menu.
type SubscriberPreferences struct {
	ChatID            int64                `json:"chat_id"`
	EnabledCategories map[string]bool      `json:"enabled_categories"`
	Keywords          []string             `json:"keywords"`
	MinLiquidity      float64              `json:"min_liquidity"`
	MinVolume         float64              `json:"min_volume"`
	NotifyOnLaunch    bool                 `json:"notify_on_launch"`
	LastNotified      map[string]time.Time `json:"last_notified"`
}

// NewSubscriberPreferences returns the defaults applied on first interaction:
// all categories enabled, no keywords, zero thresholds, notifications on.
func NewSubscriberPreferences(chatID int64) *SubscriberPreferences {
	cats := make(map[string]bool, len(CategoryIDs))
	for _, id := range CategoryIDs {
		cats[id] = true
	}
	return &SubscriberPreferences{
		ChatID:            chatID,
		EnabledCategories: cats,
		Keywords:          []string{},
		NotifyOnLaunch:    true,
		LastNotified:      make(map[string]time.Time),
	}
}

// ToggleCategory flips a category in the enabled set and reports the new
// state.
func (p *SubscriberPreferences) ToggleCategory(id string) bool {
	if p.EnabledCategories == nil {
		p.EnabledCategories = make(map[string]bool)
	}
	if p.EnabledCategories[id] {
		delete(p.EnabledCategories, id)
		return false
	}
	p.EnabledCategories[id] = true
	return true
}

package models

import (
	"testing"
	"time"
)

func validMarket() Market {
	now := time.Now()
	return Market{
		ID:        "m-123",
		Title:     "Will X happen?",
		Category:  "politics",
		Volume:    1500,
		Liquidity: 750,
		Expiry:    now.Add(30 * 24 * time.Hour),
		CreatedAt: now,
		URL:       "https://opinion.trade/market/m-123",
		Tags:      []string{"x"},
	}
}

func TestMarketValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Market)
		wantErr bool
	}{
		{name: "valid market", mutate: func(m *Market) {}, wantErr: false},
		{name: "empty ID", mutate: func(m *Market) { m.ID = "" }, wantErr: true},
		{name: "empty title", mutate: func(m *Market) { m.Title = "" }, wantErr: true},
		{name: "empty category", mutate: func(m *Market) { m.Category = "" }, wantErr: true},
		{name: "negative volume", mutate: func(m *Market) { m.Volume = -1 }, wantErr: true},
		{name: "negative liquidity", mutate: func(m *Market) { m.Liquidity = -0.01 }, wantErr: true},
		{name: "zero expiry", mutate: func(m *Market) { m.Expiry = time.Time{} }, wantErr: true},
		{name: "zero created at", mutate: func(m *Market) { m.CreatedAt = time.Time{} }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := validMarket()
			tt.mutate(&m)
			err := m.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Market.Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestNewSubscriberPreferences(t *testing.T) {
	p := NewSubscriberPreferences(42)

	if p.ChatID != 42 {
		t.Errorf("chat ID: got %d, want 42", p.ChatID)
	}
	if len(p.EnabledCategories) != len(CategoryIDs) {
		t.Errorf("got %d enabled categories, want all %d", len(p.EnabledCategories), len(CategoryIDs))
	}
	for _, id := range CategoryIDs {
		if !p.EnabledCategories[id] {
			t.Errorf("category %s should be enabled by default", id)
		}
	}
	if len(p.Keywords) != 0 {
		t.Errorf("expected no default keywords, got %v", p.Keywords)
	}
	if p.MinLiquidity != 0 || p.MinVolume != 0 {
		t.Errorf("thresholds should default to zero, got %f/%f", p.MinLiquidity, p.MinVolume)
	}
	if !p.NotifyOnLaunch {
		t.Error("notifications should be enabled by default")
	}
	if len(p.LastNotified) != 0 {
		t.Errorf("expected empty notification history, got %v", p.LastNotified)
	}
}

func TestToggleCategory(t *testing.T) {
	p := NewSubscriberPreferences(1)

	if on := p.ToggleCategory("crypto"); on {
		t.Error("toggling an enabled category should disable it")
	}
	if p.EnabledCategories["crypto"] {
		t.Error("crypto should be disabled after toggle")
	}
	if on := p.ToggleCategory("crypto"); !on {
		t.Error("toggling a disabled category should enable it")
	}

	p.EnabledCategories = nil
	if on := p.ToggleCategory("sports"); !on {
		t.Error("toggle on nil set should enable")
	}
}

func TestCategoryHelpers(t *testing.T) {
	if !IsValidCategory("crypto") {
		t.Error("crypto should be a valid category")
	}
	if IsValidCategory("memes") {
		t.Error("memes should not be a valid category")
	}
	if got := CategoryName("crypto"); got != "Cryptocurrency" {
		t.Errorf("CategoryName(crypto) = %q, want Cryptocurrency", got)
	}
	if got := CategoryName("unknown-cat"); got != "unknown-cat" {
		t.Errorf("CategoryName should fall back to the raw ID, got %q", got)
	}
}

// Package models defines the core domain entities: markets, categories, and
// subscriber preferences.
package models

import (
	"errors"
	"time"
)

// Market represents a single prediction-market listing from the upstream
// source. Immutable once constructed; identity is the ID.
type Market struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Category    string    `json:"category"`
	Volume      float64   `json:"volume"`
	Liquidity   float64   `json:"liquidity"`
	Expiry      time.Time `json:"expiry"`
	CreatedAt   time.Time `json:"created_at"`
	URL         string    `json:"url"`
	Tags        []string  `json:"tags"`
}

// Validate checks market field constraints.
func (m *Market) Validate() error {
	if m.ID == "" {
		return errors.New("market ID must not be empty")
	}
	if m.Title == "" {
		return errors.New("market title must not be empty")
	}
	if m.Category == "" {
		return errors.New("market category must not be empty")
	}
	if m.Volume < 0 {
		return errors.New("volume must not be negative")
	}
	if m.Liquidity < 0 {
		return errors.New("liquidity must not be negative")
	}
	if m.Expiry.IsZero() {
		return errors.New("expiry must be set")
	}
	if m.CreatedAt.IsZero() {
		return errors.New("created at must be set")
	}
	return nil
}

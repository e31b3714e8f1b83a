package source

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/opinionwatch/opinionwatch/internal/logger"
	"github.com/opinionwatch/opinionwatch/internal/models"
)

// marketURLTemplate derives the public market page from its identifier. The
// URL is never taken from the API payload.
const marketURLTemplate = "https://opinion.trade/market/%s"

// RawMarket is a single record as returned by the markets endpoint.
type RawMarket struct {
	ID          flexID   `json:"id"`
	Question    string   `json:"question"`
	Description string   `json:"description"`
	Category    string   `json:"category"`
	Volume      float64  `json:"volume"`
	Liquidity   float64  `json:"liquidity"`
	Expiry      string   `json:"expiry"`
	CreatedAt   string   `json:"created_at"`
	Tags        []string `json:"tags"`
}

// flexID accepts both string and numeric identifiers from the API.
type flexID string

func (f *flexID) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*f = flexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexID(n.String())
	return nil
}

// ParseRecords normalizes raw records into validated Market entities. Records
// missing a required field (id, expiry, created_at) or carrying an unparsable
// value are logged at warn level and skipped; a single bad record never
// aborts the batch.
func ParseRecords(raws []RawMarket) []models.Market {
	markets := make([]models.Market, 0, len(raws))
	for _, raw := range raws {
		m, err := parseRecord(raw)
		if err != nil {
			logger.Warn("Skipping malformed market record: %v", err)
			continue
		}
		markets = append(markets, m)
	}
	return markets
}

func parseRecord(raw RawMarket) (models.Market, error) {
	id := string(raw.ID)
	if id == "" {
		return models.Market{}, fmt.Errorf("record has no id")
	}

	expiry, err := parseTimestamp(raw.Expiry)
	if err != nil {
		return models.Market{}, fmt.Errorf("record %s: invalid expiry: %w", id, err)
	}
	createdAt, err := parseTimestamp(raw.CreatedAt)
	if err != nil {
		return models.Market{}, fmt.Errorf("record %s: invalid created_at: %w", id, err)
	}

	title := raw.Question
	if title == "" {
		title = "No title"
	}
	category := strings.ToLower(raw.Category)
	if category == "" {
		category = models.CategoryOther
	}
	if raw.Volume < 0 || raw.Liquidity < 0 {
		return models.Market{}, fmt.Errorf("record %s: negative monetary amount", id)
	}
	tags := raw.Tags
	if tags == nil {
		tags = []string{}
	}

	return models.Market{
		ID:          id,
		Title:       title,
		Description: raw.Description,
		Category:    category,
		Volume:      raw.Volume,
		Liquidity:   raw.Liquidity,
		Expiry:      expiry,
		CreatedAt:   createdAt,
		URL:         fmt.Sprintf(marketURLTemplate, id),
		Tags:        tags,
	}, nil
}

func parseTimestamp(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, fmt.Errorf("timestamp missing")
	}
	t, err := time.Parse(time.RFC3339, s)
	if err == nil {
		return t, nil
	}
	// Some records omit the zone entirely; treat those as UTC.
	t, err2 := time.Parse("2006-01-02T15:04:05", s)
	if err2 == nil {
		return t.UTC(), nil
	}
	return time.Time{}, err
}

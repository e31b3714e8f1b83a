// Package dispatch evaluates new markets against every subscriber and
// delivers rate-limited launch alerts through a notification channel.
package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/opinionwatch/opinionwatch/internal/filter"
	"github.com/opinionwatch/opinionwatch/internal/logger"
	"github.com/opinionwatch/opinionwatch/internal/models"
	"golang.org/x/sync/errgroup"
)

// Channel delivers a rendered message to a recipient. Implementations must be
// safe for concurrent use; delivery failures are recipient-scoped and never
// abort the surrounding cycle.
type Channel interface {
	Send(chatID int64, text string) error
}

// Config tunes dispatch behavior.
type Config struct {
	// Cooldown is the minimum time between two alerts to the same subscriber
	// about the same market.
	Cooldown time.Duration
	// MaxTags caps the number of tags rendered per alert.
	MaxTags int
}

// Dispatcher sends at most one alert per (subscriber, market) pair per
// cooldown window.
type Dispatcher struct {
	channel Channel
	cfg     Config
	now     func() time.Time
}

// New creates a Dispatcher. A nil channel disables delivery entirely.
func New(channel Channel, cfg Config) *Dispatcher {
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = time.Hour
	}
	if cfg.MaxTags <= 0 {
		cfg.MaxTags = 5
	}
	return &Dispatcher{channel: channel, cfg: cfg, now: time.Now}
}

// DispatchNew evaluates each newly detected market against every subscriber
// and returns the subscribers whose last-notified history changed, so the
// caller can persist them at the end of the cycle.
//
// Subscriber evaluations for one market run concurrently; each goroutine
// reads and writes only its own subscriber's record. The Wait call is the
// cycle barrier: no subscriber record escapes before all sends settle.
func (d *Dispatcher) DispatchNew(ctx context.Context, markets []models.Market, subs []*models.SubscriberPreferences) []*models.SubscriberPreferences {
	if d.channel == nil {
		if len(markets) > 0 {
			logger.Debug("New markets detected but no delivery channel configured")
		}
		return nil
	}

	var mu sync.Mutex
	touched := make(map[int64]*models.SubscriberPreferences)

	for i := range markets {
		market := markets[i]
		g, _ := errgroup.WithContext(ctx)
		for _, sub := range subs {
			sub := sub
			g.Go(func() error {
				if d.notifyOne(market, sub) {
					mu.Lock()
					touched[sub.ChatID] = sub
					mu.Unlock()
				}
				return nil
			})
		}
		// Delivery failures are logged inside notifyOne, never returned.
		_ = g.Wait()
	}

	result := make([]*models.SubscriberPreferences, 0, len(touched))
	for _, p := range touched {
		result = append(result, p)
	}
	return result
}

// notifyOne reports whether the subscriber's record was mutated. Last-notified
// is advanced only after a successful send, so a failed delivery is retried
// the next time the market is dispatched.
func (d *Dispatcher) notifyOne(m models.Market, p *models.SubscriberPreferences) bool {
	if !p.NotifyOnLaunch {
		return false
	}
	if !filter.Matches(m, p) {
		return false
	}

	now := d.now()
	if last, ok := p.LastNotified[m.ID]; ok && now.Sub(last) < d.cfg.Cooldown {
		logger.Debug("Suppressing alert for market %s to %d: within cooldown", m.ID, p.ChatID)
		return false
	}

	if err := d.channel.Send(p.ChatID, RenderAlert(m, now, d.cfg.MaxTags)); err != nil {
		logger.Error("Failed to deliver alert for market %s to %d: %v", m.ID, p.ChatID, err)
		return false
	}

	if p.LastNotified == nil {
		p.LastNotified = make(map[string]time.Time)
	}
	p.LastNotified[m.ID] = now
	return true
}

// SendTest delivers a synthetic launch alert to a single subscriber without
// touching the ledger or the subscriber's notification history.
func (d *Dispatcher) SendTest(chatID int64) error {
	if d.channel == nil {
		return fmt.Errorf("no delivery channel configured")
	}
	now := d.now()
	m := models.Market{
		ID:          "test-" + uuid.NewString()[:8],
		Title:       "Test: Will this notification work?",
		Description: "This is a test market to verify notifications are working properly.",
		Category:    "crypto",
		Volume:      1500.50,
		Liquidity:   750.25,
		Expiry:      now.Add(30 * 24 * time.Hour),
		CreatedAt:   now,
		URL:         "https://opinion.trade/market/test",
		Tags:        []string{"test", "notification"},
	}
	return d.channel.Send(chatID, RenderAlert(m, now, d.cfg.MaxTags))
}

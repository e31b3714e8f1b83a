// Package scheduler drives the fetch, diff, dispatch, persist cycle on a
// fixed period.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/opinionwatch/opinionwatch/internal/dispatch"
	"github.com/opinionwatch/opinionwatch/internal/logger"
	"github.com/opinionwatch/opinionwatch/internal/models"
	"github.com/opinionwatch/opinionwatch/internal/storage"
)

// Source is the external market API consumed each cycle.
type Source interface {
	FetchRecent(ctx context.Context) ([]models.Market, error)
}

// Config tunes the polling loop.
type Config struct {
	PollInterval time.Duration
	InitialDelay time.Duration
	FetchTimeout time.Duration
}

// Scheduler runs cycles sequentially: a new cycle never starts before the
// previous one's dispatch-and-persist phase completes.
type Scheduler struct {
	source     Source
	store      *storage.Storage
	dispatcher *dispatch.Dispatcher
	cfg        Config
}

// New creates a Scheduler.
func New(source Source, store *storage.Storage, dispatcher *dispatch.Dispatcher, cfg Config) *Scheduler {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 60 * time.Second
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 10 * time.Second
	}
	return &Scheduler{source: source, store: store, dispatcher: dispatcher, cfg: cfg}
}

// Run blocks until ctx is cancelled. The initial delay precedes the first
// cycle; afterwards cycles fire on the poll interval. Every cycle error is
// logged and the loop proceeds to its next scheduled cycle.
func (s *Scheduler) Run(ctx context.Context) {
	if s.cfg.InitialDelay > 0 {
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.cfg.InitialDelay):
		}
	}

	s.runOnce(ctx)

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("Scheduler stopped")
			return
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context) {
	if err := s.RunCycle(ctx); err != nil {
		logger.Error("Monitoring cycle failed: %v", err)
	}
}

// RunCycle executes a single fetch, diff, dispatch, persist pass. A fetch
// failure skips the cycle without mutating any state.
func (s *Scheduler) RunCycle(ctx context.Context) error {
	cycleID := uuid.NewString()[:8]
	start := time.Now()
	logger.Debug("Cycle %s: starting", cycleID)

	fetchCtx, cancel := context.WithTimeout(ctx, s.cfg.FetchTimeout)
	defer cancel()

	markets, err := s.source.FetchRecent(fetchCtx)
	if err != nil {
		return fmt.Errorf("cycle %s: fetch failed: %w", cycleID, err)
	}

	fetchedIDs := make([]string, len(markets))
	for i, m := range markets {
		fetchedIDs[i] = m.ID
	}
	seen, err := s.store.SeenSet(fetchedIDs)
	if err != nil {
		return fmt.Errorf("cycle %s: ledger lookup failed: %w", cycleID, err)
	}

	var newMarkets []models.Market
	for _, m := range markets {
		if !seen[m.ID] {
			newMarkets = append(newMarkets, m)
		}
	}
	logger.Info("Cycle %s: fetched %d markets, %d new", cycleID, len(markets), len(newMarkets))

	if len(newMarkets) == 0 {
		return nil
	}

	ids := make([]string, len(newMarkets))
	for i, m := range newMarkets {
		ids[i] = m.ID
		logger.Info("Cycle %s: new market detected: %s (%s)", cycleID, m.Title, m.ID)
	}

	// The ledger commit happens before any delivery attempt: a crash during
	// dispatch must not re-classify these markets as new on restart.
	if err := s.store.MarkSeen(ids...); err != nil {
		return fmt.Errorf("cycle %s: failed to record ledger entries: %w", cycleID, err)
	}

	subs, err := s.store.AllSubscribers()
	if err != nil {
		return fmt.Errorf("cycle %s: failed to load subscribers: %w", cycleID, err)
	}

	touched := s.dispatcher.DispatchNew(ctx, newMarkets, subs)

	if len(touched) > 0 {
		if err := s.store.SaveCycle(touched); err != nil {
			logger.Warn("Cycle %s: persist failed, retrying once: %v", cycleID, err)
			if err := s.store.SaveCycle(touched); err != nil {
				return fmt.Errorf("cycle %s: failed to persist subscriber state: %w", cycleID, err)
			}
		}
	}

	logger.Info("Cycle %s completed in %v (%d subscribers notified)",
		cycleID, time.Since(start), len(touched))
	return nil
}

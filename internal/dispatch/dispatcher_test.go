package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/opinionwatch/opinionwatch/internal/models"
)

type sentMsg struct {
	chatID int64
	text   string
}

type fakeChannel struct {
	mu    sync.Mutex
	sends []sentMsg
	fail  map[int64]error
}

func (f *fakeChannel) Send(chatID int64, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail[chatID]; err != nil {
		return err
	}
	f.sends = append(f.sends, sentMsg{chatID, text})
	return nil
}

func (f *fakeChannel) sentTo(chatID int64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, s := range f.sends {
		if s.chatID == chatID {
			n++
		}
	}
	return n
}

func launchMarket() models.Market {
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	return models.Market{
		ID:        "m1",
		Title:     "Will X happen?",
		Category:  "crypto",
		Volume:    1500,
		Liquidity: 750,
		Expiry:    now.Add(30 * 24 * time.Hour),
		CreatedAt: now,
		URL:       "https://opinion.trade/market/m1",
	}
}

func newTestDispatcher(ch Channel, at time.Time) *Dispatcher {
	d := New(ch, Config{Cooldown: time.Hour, MaxTags: 5})
	d.now = func() time.Time { return at }
	return d
}

func TestDispatchNew_SendsAndRecords(t *testing.T) {
	ch := &fakeChannel{}
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	d := newTestDispatcher(ch, now)

	sub := models.NewSubscriberPreferences(1)
	touched := d.DispatchNew(context.Background(), []models.Market{launchMarket()}, []*models.SubscriberPreferences{sub})

	if got := ch.sentTo(1); got != 1 {
		t.Fatalf("got %d sends, want 1", got)
	}
	if !sub.LastNotified["m1"].Equal(now) {
		t.Errorf("last notified not recorded: %v", sub.LastNotified)
	}
	if len(touched) != 1 || touched[0].ChatID != 1 {
		t.Errorf("touched: got %v", touched)
	}
}

func TestDispatchNew_DisabledSubscriber(t *testing.T) {
	ch := &fakeChannel{}
	d := newTestDispatcher(ch, time.Now())

	sub := models.NewSubscriberPreferences(1)
	sub.NotifyOnLaunch = false

	touched := d.DispatchNew(context.Background(), []models.Market{launchMarket()}, []*models.SubscriberPreferences{sub})
	if got := ch.sentTo(1); got != 0 {
		t.Errorf("disabled subscriber received %d sends", got)
	}
	if len(touched) != 0 {
		t.Errorf("disabled subscriber should not be touched: %v", touched)
	}
}

func TestDispatchNew_NonMatchingSubscriber(t *testing.T) {
	ch := &fakeChannel{}
	d := newTestDispatcher(ch, time.Now())

	sub := models.NewSubscriberPreferences(1)
	sub.EnabledCategories = map[string]bool{"politics": true}

	d.DispatchNew(context.Background(), []models.Market{launchMarket()}, []*models.SubscriberPreferences{sub})
	if got := ch.sentTo(1); got != 0 {
		t.Errorf("non-matching subscriber received %d sends", got)
	}
}

func TestDispatchNew_CooldownWindow(t *testing.T) {
	ch := &fakeChannel{}
	base := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	d := newTestDispatcher(ch, base)

	sub := models.NewSubscriberPreferences(1)
	markets := []models.Market{launchMarket()}
	subs := []*models.SubscriberPreferences{sub}

	d.DispatchNew(context.Background(), markets, subs)
	if got := ch.sentTo(1); got != 1 {
		t.Fatalf("initial dispatch: got %d sends, want 1", got)
	}

	// 5 minutes later: inside the 1h cooldown, must be suppressed.
	d.now = func() time.Time { return base.Add(5 * time.Minute) }
	touched := d.DispatchNew(context.Background(), markets, subs)
	if got := ch.sentTo(1); got != 1 {
		t.Errorf("within cooldown: got %d sends, want 1", got)
	}
	if len(touched) != 0 {
		t.Errorf("suppressed dispatch should touch nothing: %v", touched)
	}
	if !sub.LastNotified["m1"].Equal(base) {
		t.Errorf("suppression must not advance last notified: %v", sub.LastNotified["m1"])
	}

	// 61 minutes later: cooldown expired, exactly one more send.
	resend := base.Add(61 * time.Minute)
	d.now = func() time.Time { return resend }
	d.DispatchNew(context.Background(), markets, subs)
	if got := ch.sentTo(1); got != 2 {
		t.Errorf("after cooldown: got %d sends, want 2", got)
	}
	if !sub.LastNotified["m1"].Equal(resend) {
		t.Errorf("last notified should advance on resend: %v", sub.LastNotified["m1"])
	}
}

func TestDispatchNew_DeliveryFailureAllowsRetry(t *testing.T) {
	ch := &fakeChannel{fail: map[int64]error{1: errors.New("bot was blocked by the user")}}
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	d := newTestDispatcher(ch, now)

	sub := models.NewSubscriberPreferences(1)
	markets := []models.Market{launchMarket()}
	subs := []*models.SubscriberPreferences{sub}

	touched := d.DispatchNew(context.Background(), markets, subs)
	if len(touched) != 0 {
		t.Errorf("failed delivery must not touch the subscriber: %v", touched)
	}
	if _, ok := sub.LastNotified["m1"]; ok {
		t.Error("failed delivery must leave last notified unset")
	}

	// Channel recovers: the next cycle retries and succeeds exactly once.
	ch.mu.Lock()
	ch.fail = nil
	ch.mu.Unlock()
	d.DispatchNew(context.Background(), markets, subs)
	if got := ch.sentTo(1); got != 1 {
		t.Errorf("retry after failure: got %d sends, want 1", got)
	}
}

func TestDispatchNew_FailuresAreIsolated(t *testing.T) {
	ch := &fakeChannel{fail: map[int64]error{1: errors.New("rate limited")}}
	d := newTestDispatcher(ch, time.Now())

	blocked := models.NewSubscriberPreferences(1)
	healthy := models.NewSubscriberPreferences(2)

	touched := d.DispatchNew(context.Background(), []models.Market{launchMarket()},
		[]*models.SubscriberPreferences{blocked, healthy})

	if got := ch.sentTo(2); got != 1 {
		t.Errorf("healthy subscriber: got %d sends, want 1", got)
	}
	if len(touched) != 1 || touched[0].ChatID != 2 {
		t.Errorf("only the healthy subscriber should be touched: %v", touched)
	}
}

func TestDispatchNew_NilChannel(t *testing.T) {
	d := New(nil, Config{})
	sub := models.NewSubscriberPreferences(1)
	touched := d.DispatchNew(context.Background(), []models.Market{launchMarket()}, []*models.SubscriberPreferences{sub})
	if touched != nil {
		t.Errorf("nil channel should dispatch nothing, got %v", touched)
	}
}

func TestSendTest(t *testing.T) {
	ch := &fakeChannel{}
	d := newTestDispatcher(ch, time.Now())

	if err := d.SendTest(9); err != nil {
		t.Fatalf("SendTest: %v", err)
	}
	if got := ch.sentTo(9); got != 1 {
		t.Errorf("got %d sends, want 1", got)
	}

	noChannel := New(nil, Config{})
	if err := noChannel.SendTest(9); err == nil {
		t.Error("SendTest without a channel should fail")
	}
}

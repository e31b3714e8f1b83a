// Package telegram provides the delivery channel and the user-facing command
// surface over the Telegram Bot API.
package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/jpillora/backoff"
	"github.com/opinionwatch/opinionwatch/internal/dispatch"
	"github.com/opinionwatch/opinionwatch/internal/logger"
	"github.com/opinionwatch/opinionwatch/internal/models"
	"github.com/opinionwatch/opinionwatch/internal/storage"
)

// Client is both the dispatch.Channel implementation and the bot command
// handler.
type Client struct {
	bot            *tgbotapi.BotAPI
	store          *storage.Storage
	dispatcher     *dispatch.Dispatcher
	pollInterval   time.Duration
	maxRetries     int
	retryDelayBase time.Duration
}

// NewClient creates a new Telegram client.
func NewClient(botToken string, store *storage.Storage, pollInterval time.Duration, maxRetries int, retryDelayBase time.Duration) (*Client, error) {
	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}

	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retryDelayBase <= 0 {
		retryDelayBase = time.Second
	}

	return &Client{
		bot:            bot,
		store:          store,
		pollInterval:   pollInterval,
		maxRetries:     maxRetries,
		retryDelayBase: retryDelayBase,
	}, nil
}

// AttachDispatcher wires the dispatcher used by the /test command. Must be
// called before ListenForCommands.
func (c *Client) AttachDispatcher(d *dispatch.Dispatcher) {
	c.dispatcher = d
}

// Send delivers a rendered MarkdownV2 alert to a subscriber, retrying
// transient failures with jittered backoff. It implements dispatch.Channel.
func (c *Client) Send(chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = "MarkdownV2"

	b := &backoff.Backoff{
		Min:    c.retryDelayBase,
		Max:    c.retryDelayBase * 8,
		Jitter: true,
	}

	var lastErr error
	for i := 0; i < c.maxRetries; i++ {
		if _, err := c.bot.Send(msg); err == nil {
			return nil
		} else {
			lastErr = err
			// A blocked recipient never recovers within this attempt.
			if strings.Contains(err.Error(), "blocked") {
				return err
			}
		}
		time.Sleep(b.Duration())
	}
	return fmt.Errorf("failed after %d retries: %w", c.maxRetries, lastErr)
}

// ListenForCommands starts a goroutine that polls for Telegram updates and
// handles bot commands and inline-keyboard callbacks. It returns immediately;
// the goroutine stops when ctx is cancelled.
func (c *Client) ListenForCommands(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := c.bot.GetUpdatesChan(u)

	go func() {
		for {
			select {
			case <-ctx.Done():
				c.bot.StopReceivingUpdates()
				return
			case update, ok := <-updates:
				if !ok {
					return
				}
				if update.Message != nil && update.Message.IsCommand() {
					c.handleCommand(update.Message)
				}
				if update.CallbackQuery != nil {
					c.handleCallback(update.CallbackQuery)
				}
			}
		}
	}()
}

func (c *Client) handleCommand(msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	args := msg.CommandArguments()

	switch msg.Command() {
	case "start":
		c.cmdStart(chatID)
	case "help":
		c.reply(chatID, helpText)
	case "settings":
		c.cmdSettings(chatID)
	case "categories":
		c.sendCategoryMenu(chatID)
	case "keywords":
		c.cmdKeywords(chatID, args)
	case "filters":
		c.cmdFilters(chatID, args)
	case "status":
		c.cmdStatus(chatID, msg.From)
	case "test":
		c.cmdTest(chatID)
	case "ping":
		c.reply(chatID, "Pong")
	}
}

func (c *Client) cmdStart(chatID int64) {
	prefs, err := c.store.GetSubscriber(chatID)
	if err != nil {
		c.replyError(chatID, err)
		return
	}
	if prefs == nil {
		if err := c.store.PutSubscriber(models.NewSubscriberPreferences(chatID)); err != nil {
			c.replyError(chatID, err)
			return
		}
	}
	c.reply(chatID, welcomeText)
}

func (c *Client) cmdSettings(chatID int64) {
	prefs, ok := c.requireSubscriber(chatID)
	if !ok {
		return
	}

	alertsLabel := "🔔 Disable Alerts"
	status := "enabled"
	if !prefs.NotifyOnLaunch {
		alertsLabel = "🔔 Enable Alerts"
		status = "disabled"
	}

	keyboard := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("📁 Categories", "cat_menu")),
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("🔍 Keywords", "set_keywords")),
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("💰 Liquidity/Volume", "set_filters")),
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData(alertsLabel, "toggle_alerts")),
	)

	text := fmt.Sprintf(
		"Current Settings:\n• Alerts: %s\n• Categories: %d selected\n• Keywords: %d\n• Min liquidity: $%.2f\n• Min volume: $%.2f",
		status, len(prefs.EnabledCategories), len(prefs.Keywords), prefs.MinLiquidity, prefs.MinVolume,
	)

	msg := tgbotapi.NewMessage(chatID, text)
	msg.ReplyMarkup = keyboard
	if _, err := c.bot.Send(msg); err != nil {
		logger.Warn("Failed to send settings menu to %d: %v", chatID, err)
	}
}

func (c *Client) sendCategoryMenu(chatID int64) {
	prefs, ok := c.requireSubscriber(chatID)
	if !ok {
		return
	}

	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(models.CategoryIDs)+1)
	for _, id := range models.CategoryIDs {
		mark := "⬜"
		if prefs.EnabledCategories[id] {
			mark = "✅"
		}
		label := fmt.Sprintf("%s %s", mark, models.CategoryName(id))
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(label, "cat_"+id),
		))
	}
	rows = append(rows, tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("🔙 Back", "back_settings"),
	))

	msg := tgbotapi.NewMessage(chatID, "Select categories to monitor (click to toggle):")
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(rows...)
	if _, err := c.bot.Send(msg); err != nil {
		logger.Warn("Failed to send category menu to %d: %v", chatID, err)
	}
}

func (c *Client) cmdKeywords(chatID int64, args string) {
	prefs, ok := c.requireSubscriber(chatID)
	if !ok {
		return
	}

	keywords := parseKeywordArgs(args)
	if args == "" {
		c.reply(chatID, "Usage: /keywords <comma-separated list>\nExample: /keywords bitcoin, ethereum, election")
		return
	}

	prefs.Keywords = keywords
	if err := c.store.PutSubscriber(prefs); err != nil {
		c.replyError(chatID, err)
		return
	}
	c.reply(chatID, fmt.Sprintf("✅ Keywords set: %s", strings.Join(keywords, ", ")))
}

func (c *Client) cmdFilters(chatID int64, args string) {
	prefs, ok := c.requireSubscriber(chatID)
	if !ok {
		return
	}

	fields := strings.Fields(args)
	if len(fields) < 2 {
		c.reply(chatID, fmt.Sprintf(
			"Usage: /filters <min_liquidity> <min_volume>\nExample: /filters 100 500\nCurrent: Liquidity: $%.2f, Volume: $%.2f",
			prefs.MinLiquidity, prefs.MinVolume))
		return
	}

	minLiquidity, minVolume, err := parseFilterArgs(fields[0], fields[1])
	if err != nil {
		c.reply(chatID, "Please enter valid non-negative numbers")
		return
	}

	prefs.MinLiquidity = minLiquidity
	prefs.MinVolume = minVolume
	if err := c.store.PutSubscriber(prefs); err != nil {
		c.replyError(chatID, err)
		return
	}
	c.reply(chatID, fmt.Sprintf("✅ Filters updated:\n• Min liquidity: $%.2f\n• Min volume: $%.2f", minLiquidity, minVolume))
}

func (c *Client) cmdStatus(chatID int64, from *tgbotapi.User) {
	prefs, ok := c.requireSubscriber(chatID)
	if !ok {
		return
	}

	seen, err := c.store.SeenCount()
	if err != nil {
		logger.Warn("Failed to count ledger for status: %v", err)
	}

	alerts := "✅ Enabled"
	if !prefs.NotifyOnLaunch {
		alerts = "❌ Disabled"
	}

	cats := make([]string, 0, len(models.CategoryIDs))
	for _, id := range models.CategoryIDs {
		if prefs.EnabledCategories[id] {
			cats = append(cats, models.CategoryName(id))
		}
	}
	keywords := "None"
	if len(prefs.Keywords) > 0 {
		keywords = strings.Join(prefs.Keywords, ", ")
	}

	username := ""
	if from != nil && from.UserName != "" {
		username = " for @" + from.UserName
	}

	c.reply(chatID, fmt.Sprintf(
		"Status%s\n\n🔔 Alerts: %s\n📁 Categories (%d): %s\n🔍 Keywords (%d): %s\n💰 Min liquidity: $%.2f\n📊 Min volume: $%.2f\n\nMonitoring Stats:\n• Markets tracked: %d\n• Check interval: %v",
		username, alerts, len(cats), strings.Join(cats, ", "),
		len(prefs.Keywords), keywords,
		prefs.MinLiquidity, prefs.MinVolume,
		seen, c.pollInterval,
	))
}

func (c *Client) cmdTest(chatID int64) {
	if _, ok := c.requireSubscriber(chatID); !ok {
		return
	}
	if c.dispatcher == nil {
		c.reply(chatID, "Test alerts are not available right now")
		return
	}
	if err := c.dispatcher.SendTest(chatID); err != nil {
		c.replyError(chatID, err)
		return
	}
	c.reply(chatID, "✅ Test alert sent!")
}

// handleCallback routes inline-keyboard presses. The string-keyed switch
// lives entirely here; each branch maps onto a named preference operation.
func (c *Client) handleCallback(query *tgbotapi.CallbackQuery) {
	if query.Message == nil {
		return
	}
	chatID := query.Message.Chat.ID

	if _, err := c.bot.Request(tgbotapi.NewCallback(query.ID, "")); err != nil {
		logger.Debug("Failed to answer callback query: %v", err)
	}

	data := query.Data
	switch {
	case data == "cat_menu":
		c.sendCategoryMenu(chatID)

	case strings.HasPrefix(data, "cat_"):
		c.toggleCategory(chatID, strings.TrimPrefix(data, "cat_"))

	case data == "toggle_alerts":
		c.toggleAlerts(chatID)

	case data == "set_keywords":
		c.reply(chatID, "Send: /keywords <comma-separated list>\nExample: /keywords bitcoin, election")

	case data == "set_filters":
		c.reply(chatID, "Send: /filters <min_liquidity> <min_volume>\nExample: /filters 100 500")

	case data == "back_settings":
		c.cmdSettings(chatID)
	}
}

func (c *Client) toggleCategory(chatID int64, category string) {
	if !models.IsValidCategory(category) {
		c.reply(chatID, fmt.Sprintf("Unknown category: %s", category))
		return
	}
	prefs, ok := c.requireSubscriber(chatID)
	if !ok {
		return
	}
	prefs.ToggleCategory(category)
	if err := c.store.PutSubscriber(prefs); err != nil {
		c.replyError(chatID, err)
		return
	}
	c.sendCategoryMenu(chatID)
}

func (c *Client) toggleAlerts(chatID int64) {
	prefs, ok := c.requireSubscriber(chatID)
	if !ok {
		return
	}
	prefs.NotifyOnLaunch = !prefs.NotifyOnLaunch
	if err := c.store.PutSubscriber(prefs); err != nil {
		c.replyError(chatID, err)
		return
	}
	c.cmdSettings(chatID)
}

// requireSubscriber loads preferences, prompting for /start when the
// subscriber is unknown.
func (c *Client) requireSubscriber(chatID int64) (*models.SubscriberPreferences, bool) {
	prefs, err := c.store.GetSubscriber(chatID)
	if err != nil {
		c.replyError(chatID, err)
		return nil, false
	}
	if prefs == nil {
		c.reply(chatID, "Please use /start first")
		return nil, false
	}
	return prefs, true
}

// reply sends a plain-text message without a parse mode, so user-facing
// command responses need no escaping.
func (c *Client) reply(chatID int64, text string) {
	if _, err := c.bot.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		logger.Warn("Failed to send reply to %d: %v", chatID, err)
	}
}

func (c *Client) replyError(chatID int64, err error) {
	logger.Error("Command failed for %d: %v", chatID, err)
	c.reply(chatID, "Something went wrong, please try again")
}

// parseKeywordArgs splits a comma-separated keyword list, trimming whitespace
// and dropping empty entries.
func parseKeywordArgs(args string) []string {
	parts := strings.Split(args, ",")
	keywords := make([]string, 0, len(parts))
	for _, p := range parts {
		if kw := strings.TrimSpace(p); kw != "" {
			keywords = append(keywords, kw)
		}
	}
	return keywords
}

// parseFilterArgs validates the numeric threshold arguments of /filters.
func parseFilterArgs(liquidityArg, volumeArg string) (float64, float64, error) {
	minLiquidity, err := strconv.ParseFloat(liquidityArg, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid liquidity threshold: %w", err)
	}
	minVolume, err := strconv.ParseFloat(volumeArg, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid volume threshold: %w", err)
	}
	if minLiquidity < 0 || minVolume < 0 {
		return 0, 0, fmt.Errorf("thresholds must not be negative")
	}
	return minLiquidity, minVolume, nil
}

const welcomeText = `🤖 Opinion.Trade Market Monitor

I'll notify you when new prediction markets launch!

Commands:
• /settings - Configure notifications
• /categories - Choose market categories
• /keywords - Set keyword filters
• /filters - Set liquidity/volume filters
• /status - View current settings
• /help - Show help

I check for new markets every minute.`

const helpText = `🤖 Opinion.Trade Market Monitor Help

Commands:
• /start - Initialize bot
• /settings - Configure notifications
• /categories - Select market categories
• /keywords <words> - Filter by keywords (comma-separated)
• /filters <liquidity> <volume> - Set minimum amounts
• /status - View current settings
• /test - Send test alert
• /help - This message

How it works:
1. I poll Opinion.Trade for newly launched markets
2. New markets are checked against your filters
3. If they match, you get an alert with market details`

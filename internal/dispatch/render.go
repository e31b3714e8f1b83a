package dispatch

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/opinionwatch/opinionwatch/internal/models"
)

// RenderAlert formats a new-market alert as a Telegram MarkdownV2 message.
func RenderAlert(m models.Market, now time.Time, maxTags int) string {
	daysLeft := int(math.Ceil(m.Expiry.Sub(now).Hours() / 24))

	tags := "None"
	if len(m.Tags) > 0 {
		shown := m.Tags
		if len(shown) > maxTags {
			shown = shown[:maxTags]
		}
		tags = strings.Join(shown, ", ")
	}

	var b strings.Builder
	b.WriteString("🎯 *New Market Launched\\!*\n\n")
	fmt.Fprintf(&b, "*%s*\n\n", escapeMarkdownV2(m.Title))
	fmt.Fprintf(&b, "📊 *Volume:* %s\n", escapeMarkdownV2(currency(m.Volume)))
	fmt.Fprintf(&b, "💧 *Liquidity:* %s\n", escapeMarkdownV2(currency(m.Liquidity)))
	fmt.Fprintf(&b, "📈 *Category:* %s\n", escapeMarkdownV2(models.CategoryName(m.Category)))
	fmt.Fprintf(&b, "⏰ *Expires:* %s \\(%d days\\)\n",
		escapeMarkdownV2(m.Expiry.UTC().Format("2006-01-02 15:04 UTC")), daysLeft)
	fmt.Fprintf(&b, "🏷 *Tags:* %s\n\n", escapeMarkdownV2(tags))
	fmt.Fprintf(&b, "[View Market ↗](%s)", m.URL)
	return b.String()
}

func currency(v float64) string {
	return "$" + humanize.FormatFloat("#,###.##", v)
}

// escapeMarkdownV2 escapes special characters for Telegram MarkdownV2.
func escapeMarkdownV2(text string) string {
	var b strings.Builder
	b.Grow(len(text) + len(text)/4) // pre-allocate with room for escapes
	for _, char := range text {
		switch char {
		case '_', '*', '[', ']', '(', ')', '~', '`', '>', '#', '+', '-', '=', '|', '{', '}', '.', '!':
			b.WriteByte('\\')
		}
		b.WriteRune(char)
	}
	return b.String()
}

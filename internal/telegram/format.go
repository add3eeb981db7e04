package telegram

import (
	"fmt"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	qrcode "github.com/skip2/go-qrcode"

	"github.com/davron/xuigram/internal/panel"
)

// Callback data values for the inline action menu.
const (
	CallbackRenew = "renew"
	CallbackHowTo = "howto"
	CallbackPro   = "pro"
)

// Canned informational answers.
const (
	HowToText = "INSTRUCTIONS:\n\n" +
		"1. Copy your configuration\n" +
		"2. Install the V2Box app.\n" +
		"3. Open V2Box, go to Configs\n" +
		"   - Tap +\n" +
		"   - Import uri from clipboard\n" +
		"   - Connect\n" +
		"4. You can also scan the QR code"

	ProText = "This feature is coming soon! Stay tuned for premium options."
)

// FormatStatus renders the data and expiry lines shown under the
// connection string. Zero total means unlimited data; zero expiry means
// the account never expires.
func FormatStatus(traffic *panel.Traffic, now time.Time) string {
	if traffic == nil {
		return "Could not retrieve your stats."
	}

	var dataText string
	if traffic.Total > 0 {
		remaining := float64(traffic.Total-traffic.Up-traffic.Down) / (1 << 30)
		dataText = fmt.Sprintf("Data: `%.2f GB` remaining", remaining)
	} else {
		dataText = "Data: `Unlimited`"
	}

	var timeText string
	switch {
	case traffic.ExpiryTime > 0 && traffic.ExpiryTime > now.UnixMilli():
		left := time.Duration(traffic.ExpiryTime-now.UnixMilli()) * time.Millisecond
		d := int(left.Hours()) / 24
		h := int(left.Hours()) % 24
		m := int(left.Minutes()) % 60
		timeText = fmt.Sprintf("Expires in: `%dd %dh %dm`", d, h, m)
	case traffic.ExpiryTime > 0:
		timeText = "Status: `Expired`"
	default:
		timeText = "Expires: `Never`"
	}

	return fmt.Sprintf("---\n%s\n%s", timeText, dataText)
}

// AccountCaption combines the connection string and the status block.
func AccountCaption(link, status string) string {
	return fmt.Sprintf("Here is your config. Tap to copy:\n\n`%s`\n\n%s", link, status)
}

// AccountKeyboard is the fixed two-row action menu under the account card.
func AccountKeyboard(renewalGB, renewalDays float64) tgbotapi.InlineKeyboardMarkup {
	boost := fmt.Sprintf("⚡️ Boost Account (+%gd, +%gGB)", renewalDays, renewalGB)
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(boost, CallbackRenew),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("📲 App Guides", CallbackHowTo),
			tgbotapi.NewInlineKeyboardButtonData("💎 Go PRO", CallbackPro),
		),
	)
}

// QRCode renders the connection string as an in-memory PNG.
func QRCode(link string) ([]byte, error) {
	png, err := qrcode.Encode(link, qrcode.Medium, 512)
	if err != nil {
		return nil, fmt.Errorf("failed to render QR code: %w", err)
	}
	return png, nil
}

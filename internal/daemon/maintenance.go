package daemon

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/davron/xuigram/internal/panel"
	"github.com/davron/xuigram/internal/store"
)

// Sender is the minimal outbound surface the sweep needs.
type Sender interface {
	SendMessage(chatID int64, text string) error
}

// StatsReader fetches per-client traffic.
type StatsReader interface {
	ClientStats(ctx context.Context, email string) (*panel.Traffic, error)
}

// RecordLister loads the known-user collection.
type RecordLister interface {
	Load() (map[string]store.UserRecord, error)
}

// ReminderSweep walks the known users once and nudges those whose accounts
// expire within the configured window. Informational only: every failure
// is logged and skipped, the sweep never mutates anything.
type ReminderSweep struct {
	bot          Sender
	panel        StatsReader
	records      RecordLister
	reminderDays int
	logger       zerolog.Logger
	now          func() time.Time
}

// NewReminderSweep creates a sweep.
func NewReminderSweep(bot Sender, statsReader StatsReader, records RecordLister, reminderDays int, log zerolog.Logger) *ReminderSweep {
	return &ReminderSweep{
		bot:          bot,
		panel:        statsReader,
		records:      records,
		reminderDays: reminderDays,
		logger:       log.With().Str("component", "reminder").Logger(),
		now:          time.Now,
	}
}

// Run performs one sweep.
func (s *ReminderSweep) Run(ctx context.Context) {
	if s.reminderDays <= 0 {
		return
	}

	users, err := s.records.Load()
	if err != nil {
		s.logger.Error().Err(err).Msg("Reminder sweep cannot load records")
		return
	}

	sent := 0
	for userID := range users {
		if ctx.Err() != nil {
			return
		}
		if s.remindOne(ctx, userID) {
			sent++
		}
	}

	s.logger.Info().Int("users", len(users)).Int("reminded", sent).Msg("Reminder sweep finished")
}

// remindOne checks a single user and reports whether a reminder was sent.
func (s *ReminderSweep) remindOne(ctx context.Context, userID string) bool {
	traffic, err := s.panel.ClientStats(ctx, userID)
	if err != nil {
		s.logger.Debug().Err(err).Str("user_id", userID).Msg("Skipping user, no stats")
		return false
	}
	if traffic.ExpiryTime <= 0 {
		return false // never expires
	}

	now := s.now()
	left := time.Duration(traffic.ExpiryTime-now.UnixMilli()) * time.Millisecond
	if left <= 0 || left > time.Duration(s.reminderDays)*24*time.Hour {
		return false
	}

	chatID, err := strconv.ParseInt(userID, 10, 64)
	if err != nil {
		s.logger.Warn().Str("user_id", userID).Msg("Skipping user, non-numeric id")
		return false
	}

	days := int(left.Hours() / 24)
	text := fmt.Sprintf("Heads up: your VPN account expires in %dd %dh. Use the Boost button on your config card to extend it.",
		days, int(left.Hours())-days*24)
	if err := s.bot.SendMessage(chatID, text); err != nil {
		s.logger.Warn().Err(err).Str("user_id", userID).Msg("Failed to send reminder")
		return false
	}
	return true
}

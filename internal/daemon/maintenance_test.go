package daemon

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davron/xuigram/internal/panel"
	"github.com/davron/xuigram/internal/store"
)

type reminderSender struct {
	chatIDs []int64
	texts   []string
}

func (r *reminderSender) SendMessage(chatID int64, text string) error {
	r.chatIDs = append(r.chatIDs, chatID)
	r.texts = append(r.texts, text)
	return nil
}

type fakeStats struct {
	traffic map[string]*panel.Traffic
}

func (f *fakeStats) ClientStats(ctx context.Context, email string) (*panel.Traffic, error) {
	t, ok := f.traffic[email]
	if !ok {
		return nil, errors.New("unknown client")
	}
	return t, nil
}

type fakeLister struct {
	users map[string]store.UserRecord
	err   error
}

func (f *fakeLister) Load() (map[string]store.UserRecord, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.users, nil
}

func newSweep(bot Sender, stats StatsReader, lister RecordLister, days int, now time.Time) *ReminderSweep {
	s := NewReminderSweep(bot, stats, lister, days, zerolog.Nop())
	s.now = func() time.Time { return now }
	return s
}

func expiryIn(now time.Time, d time.Duration) int64 {
	return now.Add(d).UnixMilli()
}

func TestReminderSweepWindow(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

	users := map[string]store.UserRecord{
		"100": {Name: "soon"},     // expires tomorrow: remind
		"200": {Name: "far"},      // expires in 20 days: skip
		"300": {Name: "expired"},  // already expired: skip
		"400": {Name: "eternal"},  // never expires: skip
		"500": {Name: "orphan"},   // no stats on panel: skip
	}
	stats := &fakeStats{traffic: map[string]*panel.Traffic{
		"100": {ExpiryTime: expiryIn(now, 26*time.Hour)},
		"200": {ExpiryTime: expiryIn(now, 20*24*time.Hour)},
		"300": {ExpiryTime: expiryIn(now, -time.Hour)},
		"400": {ExpiryTime: 0},
	}}
	bot := &reminderSender{}

	newSweep(bot, stats, &fakeLister{users: users}, 3, now).Run(context.Background())

	require.Equal(t, []int64{100}, bot.chatIDs)
	assert.Contains(t, bot.texts[0], "expires in 1d 2h")
}

func TestReminderSweepBoundary(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

	stats := &fakeStats{traffic: map[string]*panel.Traffic{
		"100": {ExpiryTime: expiryIn(now, 3*24*time.Hour)}, // exactly at the window edge
	}}
	bot := &reminderSender{}

	newSweep(bot, stats, &fakeLister{users: map[string]store.UserRecord{"100": {}}}, 3, now).Run(context.Background())

	assert.Equal(t, []int64{100}, bot.chatIDs)
}

func TestReminderSweepDisabled(t *testing.T) {
	bot := &reminderSender{}
	lister := &fakeLister{err: errors.New("should not be called")}

	newSweep(bot, &fakeStats{}, lister, 0, time.Now()).Run(context.Background())

	assert.Empty(t, bot.chatIDs)
}

func TestReminderSweepLoadFailure(t *testing.T) {
	bot := &reminderSender{}

	newSweep(bot, &fakeStats{}, &fakeLister{err: errors.New("disk gone")}, 3, time.Now()).Run(context.Background())

	assert.Empty(t, bot.chatIDs)
}

func TestReminderSweepNonNumericID(t *testing.T) {
	now := time.Now()
	stats := &fakeStats{traffic: map[string]*panel.Traffic{
		"abc": {ExpiryTime: expiryIn(now, time.Hour)},
	}}
	bot := &reminderSender{}

	newSweep(bot, stats, &fakeLister{users: map[string]store.UserRecord{"abc": {}}}, 3, now).Run(context.Background())

	assert.Empty(t, bot.chatIDs)
}

func TestReminderSweepContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	now := time.Now()
	stats := &fakeStats{traffic: map[string]*panel.Traffic{
		"100": {ExpiryTime: expiryIn(now, time.Hour)},
	}}
	bot := &reminderSender{}

	newSweep(bot, stats, &fakeLister{users: map[string]store.UserRecord{"100": {}}}, 3, now).Run(ctx)

	assert.Empty(t, bot.chatIDs)
}

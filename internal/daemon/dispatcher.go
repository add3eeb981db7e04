package daemon

import (
	"context"
	"fmt"
	"sort"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"github.com/davron/xuigram/internal/metrics"
)

// Poller is the long-poll side of the Telegram transport.
type Poller interface {
	GetUpdates(offset, timeoutSeconds int) ([]tgbotapi.Update, error)
}

// UpdateHandler processes one update.
type UpdateHandler interface {
	HandleUpdate(ctx context.Context, update tgbotapi.Update) error
}

// Dispatcher is the single cooperative event loop: long-poll, process the
// batch serially in ascending id order, poll again. The cursor advances
// past each update before its handler runs, so delivery is at-least-once:
// a crash mid-handler loses that update, a crash before the advance
// redelivers it. Handlers are expected to be idempotent-by-design.
type Dispatcher struct {
	poller      Poller
	handler     UpdateHandler
	cursor      CursorStore
	pollTimeout int
	backoff     time.Duration
	logger      zerolog.Logger
	metrics     *metrics.Metrics
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(poller Poller, handler UpdateHandler, cursor CursorStore, pollTimeoutSeconds, backoffSeconds int, log zerolog.Logger, m *metrics.Metrics) *Dispatcher {
	return &Dispatcher{
		poller:      poller,
		handler:     handler,
		cursor:      cursor,
		pollTimeout: pollTimeoutSeconds,
		backoff:     time.Duration(backoffSeconds) * time.Second,
		logger:      log.With().Str("component", "dispatcher").Logger(),
		metrics:     m,
	}
}

// Run polls until the context is cancelled. Any failure in a poll cycle is
// logged and followed by a fixed back-off; the loop itself never dies.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.logger.Info().Msg("Dispatch loop started")

	for {
		if err := ctx.Err(); err != nil {
			d.logger.Info().Msg("Dispatch loop stopping")
			return err
		}

		if err := d.pollOnce(ctx); err != nil {
			if ctx.Err() != nil {
				continue
			}
			d.logger.Error().Err(err).Msg("Poll cycle failed, backing off")
			if d.metrics != nil {
				d.metrics.DispatchBackoffTotal.Inc()
			}
			select {
			case <-ctx.Done():
			case <-time.After(d.backoff):
			}
		}
	}
}

// pollOnce performs one long-poll and processes its batch. A panicking
// handler is converted into an error so the loop backs off instead of
// crashing.
func (d *Dispatcher) pollOnce(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()

	offset, err := d.cursor.Get()
	if err != nil {
		return err
	}

	updates, err := d.poller.GetUpdates(offset, d.pollTimeout)
	if err != nil {
		return err
	}

	sort.Slice(updates, func(i, j int) bool {
		return updates[i].UpdateID < updates[j].UpdateID
	})

	for _, update := range updates {
		// advance first: at-least-once, never at-most-once
		if err := d.cursor.Set(update.UpdateID + 1); err != nil {
			return err
		}
		if d.metrics != nil {
			d.metrics.UpdatesReceivedTotal.Inc()
		}

		if err := d.handler.HandleUpdate(ctx, update); err != nil {
			if d.metrics != nil {
				d.metrics.UpdatesFailedTotal.Inc()
			}
			d.logger.Error().
				Err(err).
				Int("update_id", update.UpdateID).
				Msg("Failed to handle update")
		}
	}

	return nil
}

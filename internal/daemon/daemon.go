// Package daemon wires the bot together and runs the dispatch loop plus
// periodic maintenance.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/davron/xuigram/internal/config"
	"github.com/davron/xuigram/internal/lifecycle"
	"github.com/davron/xuigram/internal/logger"
	"github.com/davron/xuigram/internal/metrics"
	"github.com/davron/xuigram/internal/panel"
	"github.com/davron/xuigram/internal/store"
	"github.com/davron/xuigram/internal/telegram"
)

// reminderSchedule fires the expiry sweep once a day at noon server time.
const reminderSchedule = "0 12 * * *"

// Daemon owns every long-lived component of the bot process.
type Daemon struct {
	cfg        *config.Config
	logger     zerolog.Logger
	metrics    *metrics.Metrics
	bot        *telegram.Bot
	panel      *panel.Client
	records    *store.Store
	engine     *lifecycle.Engine
	dispatcher *Dispatcher
	cron       *cron.Cron

	metricsServer *http.Server
}

// New builds a fully wired daemon from configuration.
func New(cfg *config.Config, log *logger.Logger) (*Daemon, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	zl := log.GetZerolog()
	m := metrics.NewMetrics()

	panelClient, err := panel.New(cfg, zl, m)
	if err != nil {
		return nil, fmt.Errorf("failed to create panel client: %w", err)
	}

	records := store.New(filepath.Join(cfg.DataDir, "users.yaml"))
	engine := lifecycle.NewEngine(panelClient, records, cfg.Provision, zl)

	bot, err := telegram.New(&cfg.Telegram, zl, m)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}

	handler := NewHandler(bot, engine, panelClient, cfg, zl, m)
	cursor := NewCursor(cfg.Dispatch.CursorFile)
	dispatcher := NewDispatcher(bot, handler, cursor,
		cfg.Dispatch.PollTimeoutSeconds, cfg.Dispatch.BackoffSeconds, zl, m)

	d := &Daemon{
		cfg:        cfg,
		logger:     zl.With().Str("component", "daemon").Logger(),
		metrics:    m,
		bot:        bot,
		panel:      panelClient,
		records:    records,
		engine:     engine,
		dispatcher: dispatcher,
		cron:       cron.New(),
	}

	if _, err := d.cron.AddFunc(reminderSchedule, d.runReminderSweep); err != nil {
		return nil, fmt.Errorf("failed to schedule reminder sweep: %w", err)
	}

	return d, nil
}

// Run starts the daemon and blocks until the context is cancelled.
func (d *Daemon) Run(ctx context.Context) error {
	d.logger.Info().Msg("Daemon starting")

	if d.cfg.Metrics.Listen != "" {
		d.startMetricsServer()
	}

	// warm the session and inbound cache; the panel may simply not be up
	// yet, so failure here is logged and retried lazily on first use
	warmCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	if _, err := d.panel.ResolveInbound(warmCtx); err != nil {
		d.logger.Warn().Err(err).Msg("Panel not reachable at startup")
		d.panel.Invalidate()
	}
	cancel()

	d.cron.Start()
	defer func() {
		stopCtx := d.cron.Stop()
		<-stopCtx.Done()
	}()

	err := d.dispatcher.Run(ctx)

	d.stopMetricsServer()
	d.logger.Info().Msg("Daemon stopped")

	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (d *Daemon) startMetricsServer() {
	d.metricsServer = &http.Server{
		Addr:    d.cfg.Metrics.Listen,
		Handler: d.metrics.Handler(),
	}
	go func() {
		d.logger.Info().Str("listen", d.cfg.Metrics.Listen).Msg("Metrics listener started")
		if err := d.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			d.logger.Error().Err(err).Msg("Metrics listener failed")
		}
	}()
}

func (d *Daemon) stopMetricsServer() {
	if d.metricsServer == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = d.metricsServer.Shutdown(shutdownCtx)
}

// runReminderSweep adapts the cron callback to the sweep implementation.
func (d *Daemon) runReminderSweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	sweep := NewReminderSweep(d.bot, d.panel, d.records, d.cfg.Provision.ReminderDays, d.logger)
	sweep.Run(ctx)
}

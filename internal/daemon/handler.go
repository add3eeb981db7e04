package daemon

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"github.com/davron/xuigram/internal/config"
	"github.com/davron/xuigram/internal/lifecycle"
	"github.com/davron/xuigram/internal/metrics"
	"github.com/davron/xuigram/internal/panel"
	"github.com/davron/xuigram/internal/telegram"
	"github.com/davron/xuigram/internal/vless"
)

const (
	apologyProvision = "Sorry, I couldn't create your account. Please contact an administrator."
	apologyRenewal   = "Sorry, I failed to update your account."
	apologyFetch     = "Sorry, there was a problem fetching server data. Please try again."
	deletedAccount   = "Your account appears to be deleted. Please use /start to create a new one."
	renewInProgress  = "Renewing your account, please wait..."
)

// recentCallbackLimit bounds the same-run duplicate suppression set.
const recentCallbackLimit = 256

// Notifier is the outbound side of the Telegram transport.
type Notifier interface {
	Name() string
	SendMessage(chatID int64, text string) error
	DeleteMessage(chatID int64, messageID int) error
	AnswerCallback(queryID, text string, alert bool) error
	SendAccountCard(chatID int64, caption string, png []byte, keyboard tgbotapi.InlineKeyboardMarkup) error
}

// Lifecycle is the slice of the lifecycle engine the handler needs.
type Lifecycle interface {
	Onboard(ctx context.Context, user lifecycle.Identity) (*lifecycle.Account, error)
	Renew(ctx context.Context, user lifecycle.Identity) (*lifecycle.Account, error)
}

// PanelReader is the read-only slice of the panel adapter used for
// presentation (link building and status text).
type PanelReader interface {
	ResolveInbound(ctx context.Context) (*panel.Inbound, error)
	ClientStats(ctx context.Context, email string) (*panel.Traffic, error)
}

// Handler routes updates to the lifecycle engine and presents the result.
// Failures reach the user as a generic apology; detail stays in the log.
type Handler struct {
	bot     Notifier
	engine  Lifecycle
	panel   PanelReader
	cfg     *config.Config
	logger  zerolog.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	// recently applied callback ids: the dispatcher redelivers on restart
	// and Telegram redelivers unacknowledged queries, this suppresses
	// same-run duplicates of an already-applied renew action
	recentCallbacks map[string]struct{}
	recentOrder     []string
}

// NewHandler creates an update handler.
func NewHandler(bot Notifier, engine Lifecycle, panelReader PanelReader, cfg *config.Config, log zerolog.Logger, m *metrics.Metrics) *Handler {
	return &Handler{
		bot:             bot,
		engine:          engine,
		panel:           panelReader,
		cfg:             cfg,
		logger:          log.With().Str("component", "handler").Logger(),
		metrics:         m,
		now:             time.Now,
		recentCallbacks: map[string]struct{}{},
	}
}

// HandleUpdate routes one update. Unrecognized updates are ignored.
func (h *Handler) HandleUpdate(ctx context.Context, update tgbotapi.Update) error {
	switch {
	case update.Message != nil && update.Message.IsCommand():
		if update.Message.Command() == "start" {
			return h.handleStart(ctx, update.Message)
		}
		return nil
	case update.CallbackQuery != nil:
		return h.handleCallback(ctx, update.CallbackQuery)
	default:
		return nil
	}
}

// handleStart onboards the sender and presents the resulting account.
func (h *Handler) handleStart(ctx context.Context, msg *tgbotapi.Message) error {
	if msg.From == nil {
		return nil
	}
	user := identityFrom(msg.From)
	chatID := msg.Chat.ID

	account, err := h.engine.Onboard(ctx, user)
	if err != nil {
		h.countOnboard("failed")
		h.logger.Error().Err(err).Str("user_id", user.ID).Msg("Onboarding failed")
		h.notify(chatID, apologyProvision)
		return fmt.Errorf("onboard %s: %w", user.ID, err)
	}
	h.countOnboard(outcomeFor(account.State))

	return h.sendAccountCard(ctx, chatID, account)
}

// handleCallback routes the inline menu actions.
func (h *Handler) handleCallback(ctx context.Context, query *tgbotapi.CallbackQuery) error {
	switch query.Data {
	case telegram.CallbackRenew:
		return h.handleRenew(ctx, query)
	case telegram.CallbackHowTo:
		return h.bot.AnswerCallback(query.ID, telegram.HowToText, true)
	case telegram.CallbackPro:
		return h.bot.AnswerCallback(query.ID, telegram.ProText, true)
	default:
		return h.bot.AnswerCallback(query.ID, "", false)
	}
}

func (h *Handler) handleRenew(ctx context.Context, query *tgbotapi.CallbackQuery) error {
	if query.From == nil || query.Message == nil {
		return nil
	}
	user := identityFrom(query.From)
	chatID := query.Message.Chat.ID

	if h.callbackSeen(query.ID) {
		return h.bot.AnswerCallback(query.ID, renewInProgress, false)
	}

	if err := h.bot.AnswerCallback(query.ID, renewInProgress, false); err != nil {
		h.logger.Warn().Err(err).Msg("Failed to acknowledge callback")
	}

	account, err := h.engine.Renew(ctx, user)
	if err != nil {
		if errors.Is(err, lifecycle.ErrNoAccount) {
			h.countRenew("no_account")
			return h.bot.AnswerCallback(query.ID, deletedAccount, true)
		}
		h.countRenew("failed")
		h.logger.Error().Err(err).Str("user_id", user.ID).Msg("Renewal failed")
		if errors.Is(err, lifecycle.ErrProvision) {
			h.notify(chatID, apologyRenewal)
		} else {
			h.notify(chatID, apologyFetch)
		}
		return fmt.Errorf("renew %s: %w", user.ID, err)
	}
	h.countRenew("renewed")

	// marked only on success: a redelivery of a failed query retries,
	// a redelivery of an applied one is suppressed
	h.markCallback(query.ID)

	// replace the stale card with a fresh one
	if err := h.bot.DeleteMessage(chatID, query.Message.MessageID); err != nil {
		h.logger.Debug().Err(err).Msg("Failed to delete old card")
	}

	return h.sendAccountCard(ctx, chatID, account)
}

// sendAccountCard builds the connection string, QR, status text, and action
// menu for an account and sends them as one message.
func (h *Handler) sendAccountCard(ctx context.Context, chatID int64, account *lifecycle.Account) error {
	inbound, err := h.panel.ResolveInbound(ctx)
	if err != nil {
		h.notify(chatID, apologyFetch)
		return fmt.Errorf("resolve inbound: %w", err)
	}

	name := fmt.Sprintf("%s-%s", h.bot.Name(), inbound.Remark)
	link, err := vless.BuildLink(inbound, account.UUID, h.cfg.Server.Address, name)
	if err != nil {
		h.notify(chatID, apologyFetch)
		return fmt.Errorf("build link: %w", err)
	}

	// stats are presentational: a failed fetch degrades the caption, it
	// does not block delivery of the connection string
	traffic, err := h.panel.ClientStats(ctx, account.UserID)
	if err != nil {
		h.logger.Warn().Err(err).Str("user_id", account.UserID).Msg("Stats unavailable")
		traffic = nil
	}

	png, err := telegram.QRCode(link)
	if err != nil {
		return fmt.Errorf("render QR: %w", err)
	}

	caption := telegram.AccountCaption(link, telegram.FormatStatus(traffic, h.now()))
	keyboard := telegram.AccountKeyboard(h.cfg.Provision.RenewalGB, h.cfg.Provision.RenewalDays)

	return h.bot.SendAccountCard(chatID, caption, png, keyboard)
}

// callbackSeen reports whether a callback id was already applied this run.
func (h *Handler) callbackSeen(id string) bool {
	_, ok := h.recentCallbacks[id]
	return ok
}

// markCallback records an applied callback id. The set is bounded; oldest
// entries fall out first.
func (h *Handler) markCallback(id string) {
	if _, ok := h.recentCallbacks[id]; ok {
		return
	}
	h.recentCallbacks[id] = struct{}{}
	h.recentOrder = append(h.recentOrder, id)
	if len(h.recentOrder) > recentCallbackLimit {
		oldest := h.recentOrder[0]
		h.recentOrder = h.recentOrder[1:]
		delete(h.recentCallbacks, oldest)
	}
}

// notify sends best-effort user-facing text.
func (h *Handler) notify(chatID int64, text string) {
	if err := h.bot.SendMessage(chatID, text); err != nil {
		h.logger.Warn().Err(err).Int64("chat_id", chatID).Msg("Failed to notify user")
	}
}

func (h *Handler) countOnboard(outcome string) {
	if h.metrics != nil {
		h.metrics.OnboardsTotal.WithLabelValues(outcome).Inc()
	}
}

func (h *Handler) countRenew(outcome string) {
	if h.metrics != nil {
		h.metrics.RenewalsTotal.WithLabelValues(outcome).Inc()
	}
}

func identityFrom(user *tgbotapi.User) lifecycle.Identity {
	lang := user.LanguageCode
	if lang == "" {
		lang = "en"
	}
	return lifecycle.Identity{
		ID:       strconv.FormatInt(user.ID, 10),
		Name:     user.FirstName,
		Language: lang,
	}
}

func outcomeFor(state lifecycle.State) string {
	switch state {
	case lifecycle.StateAbsent, lifecycle.StateStale:
		return "provisioned"
	case lifecycle.StatePanelOnly:
		return "recovered"
	default:
		return "existing"
	}
}

// Package lifecycle reconciles three views of one account (the local
// record, the panel's client, and the user's intent) into a single
// create / recover / renew / reject decision, then carries it out.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"

	"github.com/davron/xuigram/internal/config"
	"github.com/davron/xuigram/internal/panel"
	"github.com/davron/xuigram/internal/store"
)

var (
	// ErrProvision means the panel did not confirm a create or update; no
	// local state was written.
	ErrProvision = errors.New("panel did not confirm the mutation")

	// ErrNoAccount means a renewal was requested for a user with neither a
	// local record nor a panel client.
	ErrNoAccount = errors.New("no account to renew")
)

// PanelAPI is the slice of the panel adapter the engine needs.
type PanelAPI interface {
	ResolveInbound(ctx context.Context) (*panel.Inbound, error)
	FindClient(ctx context.Context, email string) (*panel.ClientSettings, error)
	UpsertClient(ctx context.Context, inboundID int, email, clientUUID, subID string, totalGB, validDays float64) error
	ClientStats(ctx context.Context, email string) (*panel.Traffic, error)
}

// RecordStore is the slice of the local record store the engine needs.
type RecordStore interface {
	Load() (map[string]store.UserRecord, error)
	Save(map[string]store.UserRecord) error
}

// Identity is the platform-side identity of the requesting user.
type Identity struct {
	ID       string // Telegram user id, also the panel email key
	Name     string
	Language string
}

// Account is the reconciled result handed to the presentation layer.
type Account struct {
	UserID string
	UUID   string
	SubID  string
	Record store.UserRecord
	State  State
}

// Engine drives account lifecycle transitions. One reconciliation borrows
// the user's record for its duration; nothing is cached between calls.
type Engine struct {
	panel     PanelAPI
	records   RecordStore
	provision config.ProvisionConfig
	logger    zerolog.Logger

	now      func() time.Time
	newUUID  func() string
	newSubID func() string
}

// NewEngine creates a lifecycle engine.
func NewEngine(panelAPI PanelAPI, records RecordStore, provision config.ProvisionConfig, log zerolog.Logger) *Engine {
	return &Engine{
		panel:     panelAPI,
		records:   records,
		provision: provision,
		logger:    log.With().Str("component", "lifecycle").Logger(),
		now:       time.Now,
		newUUID:   uuid.NewString,
		newSubID: func() string {
			return gonanoid.MustGenerate("abcdefghijklmnopqrstuvwxyz0123456789", 16)
		},
	}
}

// Onboard brings a user to a synced account: provisioning a new client,
// adopting an existing panel client, or replacing a stale local record.
// A panel failure aborts before any local mutation.
func (e *Engine) Onboard(ctx context.Context, user Identity) (*Account, error) {
	users, err := e.records.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load records: %w", err)
	}

	var local *store.UserRecord
	if rec, ok := users[user.ID]; ok {
		local = &rec
	}

	remote, err := e.findClient(ctx, user.ID)
	if err != nil {
		// an unreachable panel is not an absent client: creating here could
		// duplicate an existing account
		return nil, fmt.Errorf("cannot determine panel state: %w", err)
	}

	decision := Reconcile(local, remote, IntentOnboard)
	e.logger.Debug().
		Str("user_id", user.ID).
		Str("state", decision.State.String()).
		Str("action", decision.Action.String()).
		Msg("Reconciled")

	switch decision.Action {
	case ActionNone:
		return &Account{UserID: user.ID, UUID: local.UUID, SubID: local.SubID, Record: *local, State: decision.State}, nil

	case ActionAdopt:
		rec := store.UserRecord{
			Name:     user.Name,
			Language: user.Language,
			UUID:     remote.ID,
			SubID:    remote.SubID,
		}.AppendLog("Recovered", e.now())
		users[user.ID] = rec
		if err := e.records.Save(users); err != nil {
			return nil, fmt.Errorf("failed to save recovered record: %w", err)
		}
		e.logger.Info().Str("user_id", user.ID).Msg("Adopted panel client")
		return &Account{UserID: user.ID, UUID: rec.UUID, SubID: rec.SubID, Record: rec, State: decision.State}, nil

	case ActionProvision:
		if decision.State == StateStale {
			// orphaned history is discarded, not inherited by the new account
			delete(users, user.ID)
			e.logger.Info().Str("user_id", user.ID).Msg("Discarding stale record")
		}
		return e.provisionNew(ctx, user, users, decision.State)

	default:
		return nil, fmt.Errorf("onboard cannot proceed from state %s", decision.State)
	}
}

// provisionNew creates a brand-new panel client and, only after the panel
// confirms, the matching local record.
func (e *Engine) provisionNew(ctx context.Context, user Identity, users map[string]store.UserRecord, state State) (*Account, error) {
	inbound, err := e.panel.ResolveInbound(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve inbound: %w", err)
	}

	clientUUID := e.newUUID()
	subID := e.newSubID()
	if err := e.panel.UpsertClient(ctx, inbound.ID, user.ID, clientUUID, subID,
		e.provision.InitialGB, e.provision.InitialDays); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProvision, err)
	}

	rec := store.UserRecord{
		Name:     user.Name,
		Language: user.Language,
		UUID:     clientUUID,
		SubID:    subID,
	}.AppendLog("Created", e.now())
	users[user.ID] = rec
	if err := e.records.Save(users); err != nil {
		return nil, fmt.Errorf("failed to save new record: %w", err)
	}

	e.logger.Info().
		Str("user_id", user.ID).
		Float64("initial_gb", e.provision.InitialGB).
		Float64("initial_days", e.provision.InitialDays).
		Msg("Account provisioned")
	return &Account{UserID: user.ID, UUID: clientUUID, SubID: subID, Record: rec, State: state}, nil
}

// Renew extends an account's quota and validity additively. A lost local
// record is adopted from the panel first, so renewal never fails merely
// because the local cache was wiped.
func (e *Engine) Renew(ctx context.Context, user Identity) (*Account, error) {
	users, err := e.records.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load records: %w", err)
	}

	rec, ok := users[user.ID]
	if !ok {
		remote, err := e.findClient(ctx, user.ID)
		if err != nil {
			return nil, fmt.Errorf("cannot determine panel state: %w", err)
		}
		if remote == nil {
			return nil, ErrNoAccount
		}
		rec = store.UserRecord{
			Name:     user.Name,
			Language: user.Language,
			UUID:     remote.ID,
			SubID:    remote.SubID,
		}.AppendLog("Auto-recovered", e.now())
		users[user.ID] = rec
		if err := e.records.Save(users); err != nil {
			return nil, fmt.Errorf("failed to save recovered record: %w", err)
		}
		e.logger.Info().Str("user_id", user.ID).Msg("Auto-recovered record for renewal")
	}

	stats, err := e.panel.ClientStats(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch stats: %w", err)
	}
	inbound, err := e.panel.ResolveInbound(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve inbound: %w", err)
	}

	newTotalGB, newValidDays := RenewalAmounts(stats.Total, stats.ExpiryTime, e.provision.RenewalGB, e.provision.RenewalDays, e.now())

	if err := e.panel.UpsertClient(ctx, inbound.ID, user.ID, rec.UUID, rec.SubID, newTotalGB, newValidDays); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProvision, err)
	}

	rec = rec.AppendLog("Renewed", e.now())
	users[user.ID] = rec
	if err := e.records.Save(users); err != nil {
		return nil, fmt.Errorf("failed to save renewed record: %w", err)
	}

	e.logger.Info().
		Str("user_id", user.ID).
		Float64("new_total_gb", newTotalGB).
		Float64("new_valid_days", newValidDays).
		Msg("Account renewed")
	return &Account{UserID: user.ID, UUID: rec.UUID, SubID: rec.SubID, Record: rec, State: StateSynced}, nil
}

// RenewalAmounts computes the post-renewal quota and validity. Both are
// additive: quota on top of the current total, validity on top of the
// remaining time. An already-expired account restarts from now, via the
// max(now, expiry) clamp, so the new window is never shortened by time
// spent expired.
func RenewalAmounts(totalBytes, expiryMs int64, renewalGB, renewalDays float64, now time.Time) (newTotalGB, newValidDays float64) {
	newTotalGB = float64(totalBytes)/(1<<30) + renewalGB

	nowSec := float64(now.UnixMilli()) / 1000
	base := math.Max(nowSec, float64(expiryMs)/1000)
	newValidDays = (base-nowSec)/86400 + renewalDays
	return newTotalGB, newValidDays
}

// findClient maps the adapter's not-found to a nil client while letting
// transport and auth failures through untouched.
func (e *Engine) findClient(ctx context.Context, email string) (*panel.ClientSettings, error) {
	remote, err := e.panel.FindClient(ctx, email)
	if err != nil {
		if errors.Is(err, panel.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return remote, nil
}

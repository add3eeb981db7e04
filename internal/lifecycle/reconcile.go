package lifecycle

import (
	"github.com/davron/xuigram/internal/panel"
	"github.com/davron/xuigram/internal/store"
)

// Intent is what the user asked for.
type Intent int

const (
	IntentOnboard Intent = iota
	IntentRenew
)

func (i Intent) String() string {
	switch i {
	case IntentOnboard:
		return "onboard"
	case IntentRenew:
		return "renew"
	default:
		return "unknown"
	}
}

// State is the merged view of the local record and the panel client.
type State int

const (
	// StateAbsent: no local record, no panel client.
	StateAbsent State = iota
	// StatePanelOnly: panel client exists, local record missing or pointing
	// at a different UUID.
	StatePanelOnly
	// StateSynced: both exist and agree on the UUID.
	StateSynced
	// StateStale: local record exists but the panel client is gone.
	StateStale
)

func (s State) String() string {
	switch s {
	case StateAbsent:
		return "absent"
	case StatePanelOnly:
		return "panel-only"
	case StateSynced:
		return "synced"
	case StateStale:
		return "stale"
	default:
		return "unknown"
	}
}

// Action is the record-reconciliation step the engine must take before the
// intent itself is carried out.
type Action int

const (
	// ActionNone: records agree, proceed with the intent directly.
	ActionNone Action = iota
	// ActionAdopt: take the panel's UUID into the local record; no panel
	// mutation.
	ActionAdopt
	// ActionProvision: create a brand-new client on the panel. For a stale
	// local record this implies discarding it first.
	ActionProvision
	// ActionDeny: the intent cannot proceed from this state.
	ActionDeny
)

func (a Action) String() string {
	switch a {
	case ActionNone:
		return "none"
	case ActionAdopt:
		return "adopt"
	case ActionProvision:
		return "provision"
	case ActionDeny:
		return "deny"
	default:
		return "unknown"
	}
}

// Decision is the outcome of reconciling the two records under an intent.
type Decision struct {
	State  State
	Action Action
}

// Reconcile merges the local record and the panel client into one decision.
// Pure: same inputs, same decision. The panel side wins every disagreement;
// stale local data never overwrites it.
func Reconcile(local *store.UserRecord, remote *panel.ClientSettings, intent Intent) Decision {
	switch {
	case remote == nil && local == nil:
		if intent == IntentRenew {
			return Decision{State: StateAbsent, Action: ActionDeny}
		}
		return Decision{State: StateAbsent, Action: ActionProvision}

	case remote == nil:
		// panel client externally deleted: the local record is orphaned
		if intent == IntentRenew {
			return Decision{State: StateStale, Action: ActionDeny}
		}
		return Decision{State: StateStale, Action: ActionProvision}

	case local == nil || local.UUID != remote.ID:
		return Decision{State: StatePanelOnly, Action: ActionAdopt}

	default:
		return Decision{State: StateSynced, Action: ActionNone}
	}
}

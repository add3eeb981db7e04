package lifecycle

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/davron/xuigram/internal/panel"
	"github.com/davron/xuigram/internal/store"
)

func TestReconcile(t *testing.T) {
	localSynced := &store.UserRecord{UUID: "uuid-1"}
	localMismatch := &store.UserRecord{UUID: "uuid-other"}
	remote := &panel.ClientSettings{ID: "uuid-1"}

	tests := []struct {
		name   string
		local  *store.UserRecord
		remote *panel.ClientSettings
		intent Intent
		want   Decision
	}{
		{"absent onboard provisions", nil, nil, IntentOnboard,
			Decision{StateAbsent, ActionProvision}},
		{"absent renew denied", nil, nil, IntentRenew,
			Decision{StateAbsent, ActionDeny}},
		{"panel only onboard adopts", nil, remote, IntentOnboard,
			Decision{StatePanelOnly, ActionAdopt}},
		{"panel only renew adopts", nil, remote, IntentRenew,
			Decision{StatePanelOnly, ActionAdopt}},
		{"uuid mismatch onboard adopts panel side", localMismatch, remote, IntentOnboard,
			Decision{StatePanelOnly, ActionAdopt}},
		{"stale onboard reprovisions", localSynced, nil, IntentOnboard,
			Decision{StateStale, ActionProvision}},
		{"stale renew denied", localSynced, nil, IntentRenew,
			Decision{StateStale, ActionDeny}},
		{"synced onboard is a no-op", localSynced, remote, IntentOnboard,
			Decision{StateSynced, ActionNone}},
		{"synced renew proceeds", localSynced, remote, IntentRenew,
			Decision{StateSynced, ActionNone}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Reconcile(tt.local, tt.remote, tt.intent)
			assert.Equal(t, tt.want, got)

			// deterministic: same inputs, same decision
			assert.Equal(t, got, Reconcile(tt.local, tt.remote, tt.intent))
		})
	}
}

func TestReconcileDoesNotMutateInputs(t *testing.T) {
	local := &store.UserRecord{UUID: "uuid-a", Name: "keep"}
	remote := &panel.ClientSettings{ID: "uuid-b", Email: "100"}

	Reconcile(local, remote, IntentOnboard)

	assert.Equal(t, "uuid-a", local.UUID)
	assert.Equal(t, "keep", local.Name)
	assert.Equal(t, "uuid-b", remote.ID)
}

package enums

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseOrderSyncStatus(t *testing.T) {
	status, err := ParseOrderSyncStatus("pending")
	require.NoError(t, err)
	assert.Equal(t, OrderSyncStatusPending, status)

	_, err = ParseOrderSyncStatus("shipped")
	assert.Error(t, err)
}

func TestOrderSyncStatusTerminal(t *testing.T) {
	assert.True(t, OrderSyncStatusSynced.IsTerminal())
	assert.True(t, OrderSyncStatusFailed.IsTerminal())
	assert.False(t, OrderSyncStatusPending.IsTerminal())
	assert.False(t, OrderSyncStatusSyncing.IsTerminal())
}

func TestParsePaymentMethod(t *testing.T) {
	method, err := ParsePaymentMethod("card")
	require.NoError(t, err)
	assert.Equal(t, PaymentMethodCard, method)

	_, err = ParsePaymentMethod("iou")
	assert.Error(t, err)
	assert.False(t, PaymentMethod("iou").IsValid())
}

func TestTerminalStateValues(t *testing.T) {
	for _, state := range []TerminalState{
		TerminalStateUnregistered,
		TerminalStateRegistering,
		TerminalStateRegistered,
	} {
		assert.True(t, state.IsValid())
	}
	assert.False(t, TerminalState("offline").IsValid())
}

package enums

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseIsExactMatch(t *testing.T) {
	role, err := ParseActorRole("provider")
	require.NoError(t, err)
	require.Equal(t, ActorProvider, role)

	_, err = ParseActorRole("Provider")
	require.EqualError(t, err, `invalid actor role "Provider"`)

	_, err = ParseOutboxEventType("")
	require.Error(t, err)
}

func TestTransferStatusFoldsGatewayStates(t *testing.T) {
	for raw, want := range map[string]TransferStatus{
		"otp":      TransferStatusPending,
		"queued":   TransferStatusPending,
		"rejected": TransferStatusFailed,
	} {
		got, err := ParseTransferStatus(raw)
		require.NoError(t, err, raw)
		require.Equal(t, want, got, raw)
	}
	require.False(t, OutboxAggregateType("ledger").IsValid())
	require.True(t, AggregateTransaction.IsValid())
}

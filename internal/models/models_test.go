package models_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vircadia/vircadia-world-sub011/internal/models"
)

func TestActionStatusTerminal(t *testing.T) {
	t.Parallel()

	require.False(t, models.ActionPending.Terminal())
	require.False(t, models.ActionInProgress.Terminal())
	for _, status := range models.TerminalStatuses() {
		require.True(t, status.Terminal(), "status %s", status)
	}
}

func TestTickDelayed(t *testing.T) {
	t.Parallel()

	require.False(t, (&models.Tick{}).Delayed())
	require.True(t, (&models.Tick{EngineDelayed: true}).Delayed())
	require.True(t, (&models.Tick{LocalDelayed: true}).Delayed())
}

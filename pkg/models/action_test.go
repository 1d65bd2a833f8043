package models_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quiverfi/quiver/pkg/models"
)

func TestDecodeAction(t *testing.T) {
	t.Parallel()

	action, err := models.DecodeAction("action-1", "workflow-1", models.ActionKindSwap, 0,
		json.RawMessage(`{"from_token":"ETH","to_token":"USDC","amount":1.5,"chain_id":"ethereum"}`))
	require.NoError(t, err)

	require.NotNil(t, action.Swap)
	assert.Equal(t, "ETH", action.Swap.FromToken)
	assert.Equal(t, "USDC", action.Swap.ToToken)
	assert.InEpsilon(t, 1.5, action.Swap.Amount, 0.001)
}

func TestDecodeAction_Rejections(t *testing.T) {
	t.Parallel()

	_, err := models.DecodeAction("action-1", "workflow-1", models.ActionKind("STAKE"), 0, json.RawMessage(`{}`))
	require.ErrorIs(t, err, models.ErrUnknownActionKind)

	_, err = models.DecodeAction("action-1", "workflow-1", models.ActionKindSwap, 0,
		json.RawMessage(`{"from_token":"ETH","to_token":"USDC","amount":0}`))
	require.Error(t, err)
}

func TestSwapConfig_EffectiveChains(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		config  models.SwapConfig
		wantSrc string
		wantDst string
		wantErr bool
	}{
		{
			name:    "explicit chains",
			config:  models.SwapConfig{FromChain: "ethereum", ToChain: "base"},
			wantSrc: "ethereum",
			wantDst: "base",
		},
		{
			name:    "same chain shorthand",
			config:  models.SwapConfig{ChainID: "ethereum"},
			wantSrc: "ethereum",
			wantDst: "ethereum",
		},
		{
			name:    "no chains named",
			config:  models.SwapConfig{},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			src, dst, err := tt.config.EffectiveChains()

			if tt.wantErr {
				require.Error(t, err)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.wantSrc, src)
			assert.Equal(t, tt.wantDst, dst)
		})
	}
}

func TestSwapConfig_Deadline(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	explicit := models.SwapConfig{DeadlineSeconds: 120}
	assert.Equal(t, now.Add(2*time.Minute), explicit.Deadline(now))

	fallback := models.SwapConfig{}
	assert.Equal(t, now.Add(time.Hour), fallback.Deadline(now))
}

package universe

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewNormalizesAndDedupesSymbols(t *testing.T) {
	b := New([]string{"btc-usd", "BTCUSD", "eth-usd"})
	got, err := b.Build(context.Background(), "any")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"BTC-USD", "ETH-USD"}, got)
}

func TestBuildIgnoresRegimeArgument(t *testing.T) {
	b := New([]string{"btc-usd"})
	risk, err := b.Build(context.Background(), "risk-on")
	require.NoError(t, err)
	calm, err := b.Build(context.Background(), "risk-off")
	require.NoError(t, err)
	assert.Equal(t, risk, calm)
}

func TestBuildFailsWhenNoSymbolsConfigured(t *testing.T) {
	b := New(nil)
	_, err := b.Build(context.Background(), "any")
	assert.Error(t, err)
}

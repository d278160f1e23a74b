package strategy

import (
	"context"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"market_maker/internal/core"
)

type fakeStrategy struct {
	name      string
	proposals []core.TradeProposal
	err       error
}

func (f *fakeStrategy) Name() string { return f.name }
func (f *fakeStrategy) Propose(ctx context.Context, universe []string, quotes map[string]core.Quote, portfolio core.PortfolioState) ([]core.TradeProposal, error) {
	return f.proposals, f.err
}

func TestRegistryDedupesBySymbolKeepingHighestConfidence(t *testing.T) {
	low := &fakeStrategy{name: "low", proposals: []core.TradeProposal{
		{Symbol: "BTC-USD", Side: core.SideBuy, Confidence: decimal.NewFromFloat(0.3)},
	}}
	high := &fakeStrategy{name: "high", proposals: []core.TradeProposal{
		{Symbol: "BTC-USD", Side: core.SideBuy, Confidence: decimal.NewFromFloat(0.9)},
	}}

	reg := NewRegistry(nil, low, high)
	out, err := reg.Propose(context.Background(), []string{"BTC-USD"}, nil, core.NewPortfolioState())
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.True(t, out[0].Confidence.Equal(decimal.NewFromFloat(0.9)))
}

func TestRegistrySkipsFailingStrategy(t *testing.T) {
	ok := &fakeStrategy{name: "ok", proposals: []core.TradeProposal{
		{Symbol: "ETH-USD", Confidence: decimal.NewFromFloat(0.5)},
	}}
	failing := &fakeStrategy{name: "bad", err: fmt.Errorf("boom")}

	reg := NewRegistry(nil, ok, failing)
	out, err := reg.Propose(context.Background(), []string{"ETH-USD"}, nil, core.NewPortfolioState())
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "ETH-USD", out[0].Symbol)
}

func TestRegistryNamesReturnsRegistrationOrder(t *testing.T) {
	reg := NewRegistry(nil, &fakeStrategy{name: "a"}, &fakeStrategy{name: "b"})
	assert.Equal(t, []string{"a", "b"}, reg.Names())
}

func TestPassthroughStrategyNeverProposes(t *testing.T) {
	p := NewPassthroughStrategy("")
	out, err := p.Propose(context.Background(), []string{"BTC-USD"}, nil, core.NewPortfolioState())
	require.NoError(t, err)
	assert.Nil(t, out)
	assert.Equal(t, "passthrough", p.Name())
}

func TestPassthroughStrategyErrorsOnEmptyUniverse(t *testing.T) {
	p := NewPassthroughStrategy("ref")
	_, err := p.Propose(context.Background(), nil, nil, core.NewPortfolioState())
	assert.Error(t, err)
}

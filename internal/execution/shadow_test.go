package execution

import (
	"bufio"
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"market_maker/internal/core"
)

func countLines(t *testing.T, path string) int {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	n := 0
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		n++
	}
	return n
}

func TestShadowExecutorCreatesLogFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "shadow.jsonl")
	_, err := NewShadowExecutor(path, nil)
	require.NoError(t, err)
	_, err = os.Stat(path)
	require.NoError(t, err)
}

func TestLogOrderAppendsOneLinePerCall(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shadow.jsonl")
	s, err := NewShadowExecutor(path, nil)
	require.NoError(t, err)

	s.LogOrder(core.PlaceOrderRequest{ClientOrderID: "a", Symbol: "BTC-USD", Side: core.SideBuy, QuoteSize: decimal.NewFromInt(100)})
	s.LogOrder(core.PlaceOrderRequest{ClientOrderID: "b", Symbol: "ETH-USD", Side: core.SideSell, QuoteSize: decimal.NewFromInt(50)})

	assert.Equal(t, 2, countLines(t, path))
}

func TestLogRejectionAppendsEntry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shadow.jsonl")
	s, err := NewShadowExecutor(path, nil)
	require.NoError(t, err)

	s.LogRejection("BTC-USD", core.SideBuy, 100, "stale quote")
	assert.Equal(t, 1, countLines(t, path))
}

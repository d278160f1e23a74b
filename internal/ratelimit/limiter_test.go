package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireWithinBudgetSucceeds(t *testing.T) {
	l := New(0.8, nil, nil)
	l.Configure("GET /products", 10)

	err := l.Acquire(context.Background(), "GET /products", 1, true, false)
	require.NoError(t, err)
}

func TestAcquireNoWaitFailsWhenExhausted(t *testing.T) {
	l := New(0.8, nil, nil)
	l.Configure("GET /products", 1)

	ctx := context.Background()
	require.NoError(t, l.Acquire(ctx, "GET /products", 1, true, false))
	err := l.Acquire(ctx, "GET /products", 1, false, false)
	assert.Error(t, err)
}

func TestAcquireWaitBlocksUntilAvailable(t *testing.T) {
	l := New(0.8, nil, nil)
	l.Configure("POST /orders", 5)

	ctx := context.Background()
	require.NoError(t, l.Acquire(ctx, "POST /orders", 5, true, true))

	start := time.Now()
	require.NoError(t, l.Acquire(ctx, "POST /orders", 1, true, true))
	assert.Greater(t, time.Since(start), time.Duration(0))
}

func TestUnconfiguredEndpointGetsDefault(t *testing.T) {
	l := New(0.8, nil, nil)
	err := l.Acquire(context.Background(), "GET /unknown", 1, true, false)
	assert.NoError(t, err)
}

func TestSnapshotReportsUtilization(t *testing.T) {
	l := New(0.8, nil, nil)
	l.Configure("GET /products", 10)
	require.NoError(t, l.Acquire(context.Background(), "GET /products", 5, true, false))

	snap := l.Snapshot()
	util, ok := snap["GET /products"]
	require.True(t, ok)
	assert.InDelta(t, 0.5, util, 0.001)
}

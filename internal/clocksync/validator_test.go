package clocksync

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"market_maker/internal/core"
)

func unreachableValidator() *Validator {
	return &Validator{
		Servers:    []string{"127.0.0.1:1"},
		MaxDriftMs: 100,
		Timeout:    50 * time.Millisecond,
	}
}

func TestNtpTimestampToUnixMatchesKnownEpoch(t *testing.T) {
	b := make([]byte, 8)
	// ntpEpochOffset seconds since 1900 == unix time zero, fraction zero.
	binary.BigEndian.PutUint64(b, uint64(ntpEpochOffset)<<32)
	assert.InDelta(t, 0, ntpTimestampToUnix(b), 0.0001)
}

func TestNtpTimestampToUnixHandlesFraction(t *testing.T) {
	b := make([]byte, 8)
	raw := (uint64(ntpEpochOffset+10) << 32) | (1 << 31) // +10s and half a second fraction
	binary.BigEndian.PutUint64(b, raw)
	assert.InDelta(t, 10.5, ntpTimestampToUnix(b), 0.0001)
}

func TestQueryFailsWhenAllServersUnreachable(t *testing.T) {
	v := unreachableValidator()
	_, err := v.Query()
	assert.Error(t, err)
}

func TestValidateOrFailSkipsInDryRun(t *testing.T) {
	v := unreachableValidator()
	assert.NoError(t, v.ValidateOrFail(core.ModeDryRun))
}

func TestValidateOrFailWarnsOnlyInPaperMode(t *testing.T) {
	v := unreachableValidator()
	assert.NoError(t, v.ValidateOrFail(core.ModePaper))
}

func TestValidateOrFailFailsClosedInLiveMode(t *testing.T) {
	v := unreachableValidator()
	assert.Error(t, v.ValidateOrFail(core.ModeLive))
}

func TestAbsFloat(t *testing.T) {
	assert.Equal(t, 5.0, absFloat(-5))
	assert.Equal(t, 5.0, absFloat(5))
	assert.Equal(t, 0.0, absFloat(0))
}

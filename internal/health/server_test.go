package health

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleStatusReturns503BeforeFirstUpdate(t *testing.T) {
	s := NewServer(0, nil)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()

	s.handleStatus(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var body Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.False(t, body.OK)
}

func TestHandleStatusReturns200AfterOkUpdate(t *testing.T) {
	s := NewServer(0, nil)
	s.UpdateStatus(Status{OK: true, Cycle: CycleStatus{Status: "EXECUTED", Executed: 1}})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	s.handleStatus(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var body Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.OK)
	assert.Equal(t, "EXECUTED", body.Cycle.Status)
}

func TestStopWithoutStartIsNoop(t *testing.T) {
	s := NewServer(0, nil)
	assert.NoError(t, s.Stop(context.Background()))
}

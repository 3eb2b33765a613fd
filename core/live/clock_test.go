package live

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClockSyncResponseEchoesClientTime(t *testing.T) {
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	req, _ := json.Marshal(&ClockSyncData{ClientTime: 1000})

	resp, err := clockSyncResponse("s1", req, now)
	require.NoError(t, err)
	assert.Equal(t, MsgTypeClockSyncResponse, resp.Type)

	var d ClockSyncData
	require.NoError(t, json.Unmarshal(resp.Data, &d))
	assert.Equal(t, int64(1000), d.ClientTime)
	assert.Equal(t, now.UnixMilli(), d.ServerTime)
}

func TestClockSyncServerTimeMonotonic(t *testing.T) {
	// two clients with wildly different local clocks; server time in the
	// responses must be non-decreasing regardless
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

	first, err := clockSyncResponse("s1", json.RawMessage(`{"clientTime":1000}`), now)
	require.NoError(t, err)
	second, err := clockSyncResponse("s1", json.RawMessage(`{"clientTime":5000}`), now.Add(250*time.Millisecond))
	require.NoError(t, err)

	var d1, d2 ClockSyncData
	require.NoError(t, json.Unmarshal(first.Data, &d1))
	require.NoError(t, json.Unmarshal(second.Data, &d2))
	assert.GreaterOrEqual(t, d2.ServerTime, d1.ServerTime)
}

func TestClockSyncRejectsMalformedPayload(t *testing.T) {
	_, err := clockSyncResponse("s1", json.RawMessage(`"not an object"`), time.Now())
	require.Error(t, err)
	assert.IsType(t, &ValidationError{}, err)
}

package live

import (
	"encoding/json"
	"time"
)

// Clock sync is a stateless echo-plus-timestamp exchange. The server answers
// with its wall clock at send; the client derives the one-way offset and uses
// it to translate server-stamped event times into local scheduling time.
// Clients repeat the exchange periodically since drift and jitter change over
// a session's lifetime.

func clockSyncResponse(sessionID string, req json.RawMessage, now time.Time) (*WSMessage, error) {
	var d ClockSyncData
	if err := json.Unmarshal(req, &d); err != nil {
		return nil, validationErrorf("data", "malformed clock_sync_request payload")
	}

	d.ServerTime = now.UnixMilli()
	data, err := json.Marshal(&d)
	if err != nil {
		return nil, err
	}

	return &WSMessage{
		Type:      MsgTypeClockSyncResponse,
		SessionID: sessionID,
		Data:      data,
		Timestamp: now.UnixMilli(),
	}, nil
}

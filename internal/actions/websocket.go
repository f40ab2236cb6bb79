package actions

import (
	"encoding/json"

	"github.com/victorivanov/readreceipts/internal/gateway"
	"github.com/victorivanov/readreceipts/internal/models"
	"github.com/victorivanov/readreceipts/internal/readstore"
)

// HandleWebSocketEvent routes a push event to its handler. Unknown events are
// ignored. It makes ReadReceipts a gateway.Handler.
func (r *ReadReceipts) HandleWebSocketEvent(msg models.WebSocketMessage) {
	switch msg.Event {
	case gateway.EventReadCursorAdvanced:
		r.HandleReadCursorAdvancedEvent(msg)
	case gateway.EventReady:
		var ready gateway.ReadyData
		if err := json.Unmarshal(msg.Data, &ready); err != nil {
			r.logger.Debug("dropping malformed READY payload", "error", err)
			return
		}
		r.HandleReady(ready)
	}
}

// HandleReadCursorAdvancedEvent stores the cursor carried by a
// READ_CURSOR_ADVANCED push. Payloads that cannot be decoded or lack a
// channel or user id are dropped. Pushes without a timestamp are stamped
// with the local time. It reports whether a cursor was dispatched.
func (r *ReadReceipts) HandleReadCursorAdvancedEvent(msg models.WebSocketMessage) bool {
	cursor, ok := r.normalizePushCursorEvent(msg.Data)
	if !ok {
		return false
	}
	r.dispatcher.Dispatch(readstore.CursorReceived{Cursor: cursor})
	return true
}

func (r *ReadReceipts) normalizePushCursorEvent(raw json.RawMessage) (models.ReadCursor, bool) {
	if len(raw) == 0 {
		r.logger.Debug("dropping read cursor push without data")
		return models.ReadCursor{}, false
	}
	var data models.ReadCursorAdvancedData
	if err := json.Unmarshal(raw, &data); err != nil {
		r.logger.Debug("dropping malformed read cursor push", "error", err)
		return models.ReadCursor{}, false
	}
	if data.ChannelID == "" || data.UserID == "" {
		r.logger.Debug("dropping read cursor push without ids", "channelID", data.ChannelID, "userID", data.UserID)
		return models.ReadCursor{}, false
	}

	updatedAt := data.Timestamp
	if updatedAt == 0 {
		updatedAt = r.clock.Now().UnixMilli()
	}
	return models.ReadCursor{
		ChannelID:   data.ChannelID,
		UserID:      data.UserID,
		LastPostSeq: data.LastPostSeq,
		UpdatedAt:   updatedAt,
	}, true
}

var _ gateway.Handler = (*ReadReceipts)(nil)

package models

import "encoding/json"

// WebSocketMessage is an inbound push event stripped of transport framing.
type WebSocketMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
	Seq   int64           `json:"seq"`
}

// ReadCursorAdvancedData is the payload of a READ_CURSOR_ADVANCED push event.
// LastPostSeq and Timestamp are optional.
type ReadCursorAdvancedData struct {
	ChannelID   string `json:"channel_id"`
	UserID      string `json:"user_id"`
	LastPostSeq int64  `json:"last_post_seq,omitempty"`
	Timestamp   int64  `json:"timestamp,omitempty"`
}

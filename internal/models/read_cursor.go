package models

// ReadCursor records how far a user has read in a channel.
// LastPostSeq and LastPostID are both optional position markers; the zero
// value means the marker is absent. UpdatedAt is in unix milliseconds.
type ReadCursor struct {
	ChannelID   string `json:"channel_id"`
	UserID      string `json:"user_id"`
	LastPostSeq int64  `json:"last_post_seq,omitempty"`
	LastPostID  string `json:"last_post_id,omitempty"`
	UpdatedAt   int64  `json:"updated_at"`
}

// ReadCursorAdvanceRequest is the request body for advancing a read cursor.
// At least one of LastPostSeq or PostID must be set.
type ReadCursorAdvanceRequest struct {
	LastPostSeq int64  `json:"last_post_seq,omitempty"`
	PostID      string `json:"post_id,omitempty"`
}

// ReadCursorEventAdvanced is the Type of a ReadCursorEvent.
const ReadCursorEventAdvanced = "channel_read_advanced"

// ReadCursorEvent is appended to the read cursor event stream every time a
// cursor actually moves forward.
type ReadCursorEvent struct {
	Type        string `json:"type"`
	EventID     string `json:"event_id"`
	ChannelID   string `json:"channel_id"`
	UserID      string `json:"user_id"`
	PrevLastSeq int64  `json:"prev_last_seq"`
	NewLastSeq  int64  `json:"new_last_seq"`
	Timestamp   int64  `json:"timestamp"`
}

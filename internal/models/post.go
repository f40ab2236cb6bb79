package models

// Post is the read-only view of a message needed to position read cursors.
// CreateAt doubles as the post's sequence number within its channel.
type Post struct {
	ID        string `json:"id"`
	ChannelID string `json:"channel_id"`
	UserID    string `json:"user_id"`
	CreateAt  int64  `json:"create_at"`
}

package database

import (
	"context"

	"github.com/victorivanov/readreceipts/internal/models"
)

type UserRepository interface {
	Create(ctx context.Context, user *models.UserProfile) error
	GetByID(ctx context.Context, id string) (*models.UserProfile, error)
	Delete(ctx context.Context, id string) error
}

type ChannelMemberRepository interface {
	Add(ctx context.Context, channelID, userID string) error
	Remove(ctx context.Context, channelID, userID string) error
	IsMember(ctx context.Context, channelID, userID string) (bool, error)
	GetChannelIDsForUser(ctx context.Context, userID string) ([]string, error)
}

type PostRepository interface {
	Create(ctx context.Context, post *models.Post) error
	GetByID(ctx context.Context, id string) (*models.Post, error)
	// GetLatestInChannel returns the newest post in a channel, or nil when
	// the channel has none.
	GetLatestInChannel(ctx context.Context, channelID string) (*models.Post, error)
	Delete(ctx context.Context, id string) error
}

type ReadCursorRepository interface {
	Get(ctx context.Context, channelID, userID string) (*models.ReadCursor, error)
	// Upsert stores cursor unless the stored cursor is already at or past
	// cursor.LastPostSeq. It reports whether the cursor was written.
	Upsert(ctx context.Context, cursor *models.ReadCursor) (bool, error)
	GetForUser(ctx context.Context, userID string) ([]models.ReadCursor, error)
	// CountReaders counts channel members other than excludeUserID whose
	// cursor is at or past seq.
	CountReaders(ctx context.Context, channelID string, seq int64, excludeUserID string) (int, error)
	GetReaders(ctx context.Context, channelID string, seq int64, excludeUserID string, limit int) ([]models.UserProfile, error)
	DeleteOlderThan(ctx context.Context, olderThan int64) (int64, error)
}

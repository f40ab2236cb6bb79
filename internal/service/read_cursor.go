package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/victorivanov/readreceipts/internal/database"
	"github.com/victorivanov/readreceipts/internal/gateway"
	"github.com/victorivanov/readreceipts/internal/metrics"
	"github.com/victorivanov/readreceipts/internal/models"
)

const (
	DefaultReadersLimit = 20
	MaxReadersLimit     = 100
	DefaultReadCountTTL = 30 * time.Second
	sideEffectTimeout   = 5 * time.Second
)

// ReadCountCache caches per-post read counts grouped by channel.
type ReadCountCache interface {
	GetReadCount(ctx context.Context, channelID, postID string) (int, bool, error)
	SetReadCount(ctx context.Context, channelID, postID string, count int, ttl time.Duration) error
	InvalidateChannelReadCounts(ctx context.Context, channelID string) error
}

// ReadCursorEventPublisher records applied cursor advances for downstream consumers.
type ReadCursorEventPublisher interface {
	PublishReadCursorEvent(ctx context.Context, ev models.ReadCursorEvent) (string, error)
}

// ReadCursorService handles read cursor and read receipt business logic.
type ReadCursorService struct {
	cursors  database.ReadCursorRepository
	posts    database.PostRepository
	members  database.ChannelMemberRepository
	cache    ReadCountCache
	events   ReadCursorEventPublisher
	gateway  gateway.Dispatcher
	clock    clock.Clock
	cacheTTL time.Duration
	metrics  *metrics.Metrics
}

// NewReadCursorService creates a ReadCursorService. cache and events may be nil.
func NewReadCursorService(
	cursors database.ReadCursorRepository,
	posts database.PostRepository,
	members database.ChannelMemberRepository,
	cache ReadCountCache,
	events ReadCursorEventPublisher,
	gw gateway.Dispatcher,
	clk clock.Clock,
	cacheTTL time.Duration,
) *ReadCursorService {
	if clk == nil {
		clk = clock.New()
	}
	if cacheTTL <= 0 {
		cacheTTL = DefaultReadCountTTL
	}
	return &ReadCursorService{
		cursors:  cursors,
		posts:    posts,
		members:  members,
		cache:    cache,
		events:   events,
		gateway:  gw,
		clock:    clk,
		cacheTTL: cacheTTL,
	}
}

// SetMetrics records advance outcomes, cache lookups and side effect
// failures in m.
func (s *ReadCursorService) SetMetrics(m *metrics.Metrics) {
	s.metrics = m
}

// Advance moves the user's cursor in a channel forward. The position comes
// from req.LastPostSeq when set, otherwise from the creation time of
// req.PostID. A cursor never moves backwards: a request at or behind the
// stored position returns the stored cursor unchanged.
func (s *ReadCursorService) Advance(ctx context.Context, channelID, userID string, req models.ReadCursorAdvanceRequest) (*models.ReadCursor, error) {
	if channelID == "" {
		return nil, BadRequest("INVALID_CHANNEL", "channel id is required")
	}
	if req.LastPostSeq < 0 {
		return nil, BadRequest("INVALID_SEQUENCE", "last_post_seq must not be negative")
	}
	if req.LastPostSeq == 0 && req.PostID == "" {
		return nil, BadRequest("MISSING_POSITION", "last_post_seq or post_id is required")
	}

	if err := s.requireMember(ctx, channelID, userID); err != nil {
		return nil, err
	}

	seq := req.LastPostSeq
	if req.PostID != "" {
		post, err := s.posts.GetByID(ctx, req.PostID)
		if err != nil {
			return nil, Internal("INTERNAL", "internal server error")
		}
		if post == nil {
			return nil, NotFound("UNKNOWN_POST", "post not found")
		}
		if post.ChannelID != channelID {
			return nil, BadRequest("POST_CHANNEL_MISMATCH", "post does not belong to this channel")
		}
		if seq == 0 {
			seq = post.CreateAt
		}
	}

	current, err := s.cursors.Get(ctx, channelID, userID)
	if err != nil {
		return nil, Internal("INTERNAL", "internal server error")
	}
	if current != nil && current.LastPostSeq >= seq {
		s.metrics.CursorAdvanced(false)
		return current, nil
	}

	cursor := &models.ReadCursor{
		ChannelID:   channelID,
		UserID:      userID,
		LastPostSeq: seq,
		LastPostID:  req.PostID,
		UpdatedAt:   s.clock.Now().UnixMilli(),
	}
	written, err := s.cursors.Upsert(ctx, cursor)
	if err != nil {
		return nil, Internal("INTERNAL", "internal server error")
	}
	if !written {
		// A concurrent advance got there first.
		latest, err := s.cursors.Get(ctx, channelID, userID)
		if err != nil || latest == nil {
			return nil, Internal("INTERNAL", "internal server error")
		}
		s.metrics.CursorAdvanced(false)
		return latest, nil
	}
	s.metrics.CursorAdvanced(true)

	var prev int64
	if current != nil {
		prev = current.LastPostSeq
	}
	s.afterAdvance(ctx, cursor, prev)
	return cursor, nil
}

// ViewChannel records that the user opened a channel by advancing their
// cursor to the newest post in it. Only membership is enforced; a failed
// lookup or advance is logged and the view still succeeds.
func (s *ReadCursorService) ViewChannel(ctx context.Context, channelID, userID string) error {
	if channelID == "" {
		return BadRequest("INVALID_CHANNEL", "channel id is required")
	}
	if err := s.requireMember(ctx, channelID, userID); err != nil {
		return err
	}

	latest, err := s.posts.GetLatestInChannel(ctx, channelID)
	if err != nil {
		slog.Debug("could not get latest post for channel view", "channelID", channelID, "error", err)
		return nil
	}
	if latest == nil || latest.CreateAt <= 0 {
		return nil
	}

	if _, err := s.AdvanceByPost(ctx, channelID, userID, latest.ID); err != nil {
		slog.Warn("failed to advance read cursor on channel view", "channelID", channelID, "userID", userID, "error", err)
	}
	return nil
}

// AdvanceByPost advances the cursor to the position of a post.
func (s *ReadCursorService) AdvanceByPost(ctx context.Context, channelID, userID, postID string) (*models.ReadCursor, error) {
	if postID == "" {
		return nil, BadRequest("MISSING_POSITION", "post_id is required")
	}
	return s.Advance(ctx, channelID, userID, models.ReadCursorAdvanceRequest{PostID: postID})
}

// afterAdvance runs the side effects of a cursor that actually moved. None of
// them can fail the request.
func (s *ReadCursorService) afterAdvance(ctx context.Context, cursor *models.ReadCursor, prevSeq int64) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sideEffectTimeout)
	defer cancel()

	if s.cache != nil {
		if err := s.cache.InvalidateChannelReadCounts(ctx, cursor.ChannelID); err != nil {
			slog.Error("failed to invalidate read counts", "channelID", cursor.ChannelID, "error", err)
			s.metrics.SideEffectFailed("invalidate")
		}
	}

	if s.events != nil {
		ev := models.ReadCursorEvent{
			Type:        models.ReadCursorEventAdvanced,
			EventID:     uuid.NewString(),
			ChannelID:   cursor.ChannelID,
			UserID:      cursor.UserID,
			PrevLastSeq: prevSeq,
			NewLastSeq:  cursor.LastPostSeq,
			Timestamp:   cursor.UpdatedAt,
		}
		if _, err := s.events.PublishReadCursorEvent(ctx, ev); err != nil {
			slog.Error("failed to publish read cursor event", "channelID", cursor.ChannelID, "userID", cursor.UserID, "error", err)
			s.metrics.SideEffectFailed("publish")
		}
	}

	if s.gateway != nil {
		s.gateway.DispatchToChannel(cursor.ChannelID, gateway.EventReadCursorAdvanced, models.ReadCursorAdvancedData{
			ChannelID:   cursor.ChannelID,
			UserID:      cursor.UserID,
			LastPostSeq: cursor.LastPostSeq,
			Timestamp:   cursor.UpdatedAt,
		})
	}
}

// Get returns the user's cursor in a channel.
func (s *ReadCursorService) Get(ctx context.Context, channelID, userID string) (*models.ReadCursor, error) {
	if err := s.requireMember(ctx, channelID, userID); err != nil {
		return nil, err
	}
	cursor, err := s.cursors.Get(ctx, channelID, userID)
	if err != nil {
		return nil, Internal("INTERNAL", "internal server error")
	}
	if cursor == nil {
		return nil, NotFound("NO_READ_CURSOR", "no read cursor for this channel")
	}
	return cursor, nil
}

// GetForUser returns all cursors of a user.
func (s *ReadCursorService) GetForUser(ctx context.Context, userID string) ([]models.ReadCursor, error) {
	cursors, err := s.cursors.GetForUser(ctx, userID)
	if err != nil {
		return nil, Internal("INTERNAL", "internal server error")
	}
	if cursors == nil {
		cursors = []models.ReadCursor{}
	}
	return cursors, nil
}

// ReadCount returns how many channel members other than the author have read
// up to the post.
func (s *ReadCursorService) ReadCount(ctx context.Context, postID, userID string) (int, error) {
	post, err := s.visiblePost(ctx, postID, userID)
	if err != nil {
		return 0, err
	}
	return s.readCount(ctx, post)
}

func (s *ReadCursorService) readCount(ctx context.Context, post *models.Post) (int, error) {
	if s.cache != nil {
		n, ok, err := s.cache.GetReadCount(ctx, post.ChannelID, post.ID)
		if err != nil {
			slog.Warn("read count cache unavailable", "postID", post.ID, "error", err)
		} else if ok {
			s.metrics.ReadCountLookup(true)
			return n, nil
		}
	}
	s.metrics.ReadCountLookup(false)

	n, err := s.cursors.CountReaders(ctx, post.ChannelID, post.CreateAt, post.UserID)
	if err != nil {
		return 0, Internal("INTERNAL", "internal server error")
	}

	if s.cache != nil {
		if err := s.cache.SetReadCount(ctx, post.ChannelID, post.ID, n, s.cacheTTL); err != nil {
			slog.Warn("failed to cache read count", "postID", post.ID, "error", err)
		}
	}
	return n, nil
}

// Readers returns the users who have read a post, oldest read first, capped
// at limit. Count is the full number of readers.
func (s *ReadCursorService) Readers(ctx context.Context, postID, userID string, limit int) (*models.PostReaders, error) {
	if limit <= 0 {
		limit = DefaultReadersLimit
	}
	if limit > MaxReadersLimit {
		limit = MaxReadersLimit
	}

	post, err := s.visiblePost(ctx, postID, userID)
	if err != nil {
		return nil, err
	}

	count, err := s.readCount(ctx, post)
	if err != nil {
		return nil, err
	}

	readers, err := s.cursors.GetReaders(ctx, post.ChannelID, post.CreateAt, post.UserID, limit)
	if err != nil {
		return nil, Internal("INTERNAL", "internal server error")
	}
	if readers == nil {
		readers = []models.UserProfile{}
	}
	// The cached count may lag behind the list.
	if count < len(readers) {
		count = len(readers)
	}

	return &models.PostReaders{
		Count:     count,
		Readers:   readers,
		Truncated: count > len(readers),
	}, nil
}

// CleanupOldReadCursors deletes cursors not updated within the last days.
func (s *ReadCursorService) CleanupOldReadCursors(ctx context.Context, days int) (int64, error) {
	if days <= 0 {
		return 0, BadRequest("INVALID_RETENTION", "days must be positive")
	}
	cutoff := s.clock.Now().Add(-time.Duration(days) * 24 * time.Hour).UnixMilli()
	n, err := s.cursors.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return 0, Internal("INTERNAL", "internal server error")
	}
	return n, nil
}

func (s *ReadCursorService) visiblePost(ctx context.Context, postID, userID string) (*models.Post, error) {
	if postID == "" {
		return nil, BadRequest("INVALID_POST", "post id is required")
	}
	post, err := s.posts.GetByID(ctx, postID)
	if err != nil {
		return nil, Internal("INTERNAL", "internal server error")
	}
	if post == nil {
		return nil, NotFound("UNKNOWN_POST", "post not found")
	}
	if err := s.requireMember(ctx, post.ChannelID, userID); err != nil {
		return nil, err
	}
	return post, nil
}

func (s *ReadCursorService) requireMember(ctx context.Context, channelID, userID string) error {
	ok, err := s.members.IsMember(ctx, channelID, userID)
	if err != nil {
		return Internal("INTERNAL", "internal server error")
	}
	if !ok {
		return Forbidden("NOT_A_MEMBER", "you are not a member of this channel")
	}
	return nil
}

package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/benbjohnson/clock"
	"github.com/victorivanov/readreceipts/internal/models"
	redisclient "github.com/victorivanov/readreceipts/internal/redis"
)

// ---------------------------------------------------------------------------
// Test helpers
// ---------------------------------------------------------------------------

func newTestRedis(t *testing.T) (*redisclient.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb, err := redisclient.NewClient("redis://" + mr.Addr())
	if err != nil {
		t.Fatalf("creating test redis client: %v", err)
	}
	t.Cleanup(func() { rdb.Close() })
	return rdb, mr
}

var testNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestClock() *clock.Mock {
	clk := clock.NewMock()
	clk.Set(testNow)
	return clk
}

type testDeps struct {
	cursors *mockCursorRepo
	posts   *mockPostRepo
	members *mockMemberRepo
	gateway *mockGateway
	redis   *redisclient.Client
	mr      *miniredis.Miniredis
	clock   *clock.Mock
}

func newTestService(t *testing.T) (*ReadCursorService, *testDeps) {
	t.Helper()
	rdb, mr := newTestRedis(t)
	d := &testDeps{
		cursors: newMockCursorRepo(),
		posts:   &mockPostRepo{posts: map[string]*models.Post{}},
		members: &mockMemberRepo{members: map[string]bool{}},
		gateway: &mockGateway{},
		redis:   rdb,
		mr:      mr,
		clock:   newTestClock(),
	}
	svc := NewReadCursorService(d.cursors, d.posts, d.members, rdb, rdb, d.gateway, d.clock, time.Minute)
	return svc, d
}

// ---------------------------------------------------------------------------
// Mock gateway dispatcher
// ---------------------------------------------------------------------------

type dispatchedEvent struct {
	ChannelID string
	UserID    string
	Event     string
	Data      any
}

type mockGateway struct {
	mu     sync.Mutex
	events []dispatchedEvent
}

func (m *mockGateway) DispatchToChannel(channelID string, event string, data any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, dispatchedEvent{ChannelID: channelID, Event: event, Data: data})
}

func (m *mockGateway) DispatchToUser(userID string, event string, data any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, dispatchedEvent{UserID: userID, Event: event, Data: data})
}

func (m *mockGateway) SubscribeToChannel(userID, channelID string)     {}
func (m *mockGateway) UnsubscribeFromChannel(userID, channelID string) {}

func (m *mockGateway) dispatched() []dispatchedEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]dispatchedEvent(nil), m.events...)
}

// ---------------------------------------------------------------------------
// Mock repositories
// ---------------------------------------------------------------------------

// mockCursorRepo is an in-memory database.ReadCursorRepository with the same
// no-rollback upsert rule as the Postgres one. Fn fields override behaviour.
type mockCursorRepo struct {
	mu      sync.Mutex
	cursors map[string]models.ReadCursor

	GetFn             func(ctx context.Context, channelID, userID string) (*models.ReadCursor, error)
	UpsertFn          func(ctx context.Context, cursor *models.ReadCursor) (bool, error)
	CountReadersFn    func(ctx context.Context, channelID string, seq int64, excludeUserID string) (int, error)
	GetReadersFn      func(ctx context.Context, channelID string, seq int64, excludeUserID string, limit int) ([]models.UserProfile, error)
	DeleteOlderThanFn func(ctx context.Context, olderThan int64) (int64, error)

	countCalls int
}

func newMockCursorRepo() *mockCursorRepo {
	return &mockCursorRepo{cursors: map[string]models.ReadCursor{}}
}

func (m *mockCursorRepo) Get(ctx context.Context, channelID, userID string) (*models.ReadCursor, error) {
	if m.GetFn != nil {
		return m.GetFn(ctx, channelID, userID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.cursors[channelID+"/"+userID]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (m *mockCursorRepo) Upsert(ctx context.Context, cursor *models.ReadCursor) (bool, error) {
	if m.UpsertFn != nil {
		return m.UpsertFn(ctx, cursor)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := cursor.ChannelID + "/" + cursor.UserID
	if old, ok := m.cursors[key]; ok && old.LastPostSeq >= cursor.LastPostSeq {
		return false, nil
	}
	m.cursors[key] = *cursor
	return true, nil
}

func (m *mockCursorRepo) GetForUser(ctx context.Context, userID string) ([]models.ReadCursor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.ReadCursor
	for _, c := range m.cursors {
		if c.UserID == userID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *mockCursorRepo) CountReaders(ctx context.Context, channelID string, seq int64, excludeUserID string) (int, error) {
	m.mu.Lock()
	m.countCalls++
	m.mu.Unlock()
	if m.CountReadersFn != nil {
		return m.CountReadersFn(ctx, channelID, seq, excludeUserID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.cursors {
		if c.ChannelID == channelID && c.UserID != excludeUserID && c.LastPostSeq >= seq {
			n++
		}
	}
	return n, nil
}

func (m *mockCursorRepo) GetReaders(ctx context.Context, channelID string, seq int64, excludeUserID string, limit int) ([]models.UserProfile, error) {
	if m.GetReadersFn != nil {
		return m.GetReadersFn(ctx, channelID, seq, excludeUserID, limit)
	}
	return nil, nil
}

func (m *mockCursorRepo) DeleteOlderThan(ctx context.Context, olderThan int64) (int64, error) {
	if m.DeleteOlderThanFn != nil {
		return m.DeleteOlderThanFn(ctx, olderThan)
	}
	return 0, nil
}

type mockPostRepo struct {
	posts     map[string]*models.Post
	GetByIDFn func(ctx context.Context, id string) (*models.Post, error)
	LatestFn  func(ctx context.Context, channelID string) (*models.Post, error)
}

func (m *mockPostRepo) Create(ctx context.Context, post *models.Post) error {
	m.posts[post.ID] = post
	return nil
}

func (m *mockPostRepo) GetByID(ctx context.Context, id string) (*models.Post, error) {
	if m.GetByIDFn != nil {
		return m.GetByIDFn(ctx, id)
	}
	return m.posts[id], nil
}

func (m *mockPostRepo) GetLatestInChannel(ctx context.Context, channelID string) (*models.Post, error) {
	if m.LatestFn != nil {
		return m.LatestFn(ctx, channelID)
	}
	var latest *models.Post
	for _, p := range m.posts {
		if p.ChannelID == channelID && (latest == nil || p.CreateAt > latest.CreateAt) {
			latest = p
		}
	}
	return latest, nil
}

func (m *mockPostRepo) Delete(ctx context.Context, id string) error {
	delete(m.posts, id)
	return nil
}

type mockMemberRepo struct {
	members    map[string]bool
	IsMemberFn func(ctx context.Context, channelID, userID string) (bool, error)
}

func (m *mockMemberRepo) join(channelID string, userIDs ...string) {
	for _, u := range userIDs {
		m.members[channelID+"/"+u] = true
	}
}

func (m *mockMemberRepo) Add(ctx context.Context, channelID, userID string) error {
	m.join(channelID, userID)
	return nil
}

func (m *mockMemberRepo) Remove(ctx context.Context, channelID, userID string) error {
	delete(m.members, channelID+"/"+userID)
	return nil
}

func (m *mockMemberRepo) IsMember(ctx context.Context, channelID, userID string) (bool, error) {
	if m.IsMemberFn != nil {
		return m.IsMemberFn(ctx, channelID, userID)
	}
	return m.members[channelID+"/"+userID], nil
}

func (m *mockMemberRepo) GetChannelIDsForUser(ctx context.Context, userID string) ([]string, error) {
	return nil, nil
}

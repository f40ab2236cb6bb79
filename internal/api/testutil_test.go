package api

import (
	"context"
	"io"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/labstack/echo/v4"
	"github.com/victorivanov/readreceipts/internal/models"
	redisclient "github.com/victorivanov/readreceipts/internal/redis"
)

// ---------------------------------------------------------------------------
// Test helpers
// ---------------------------------------------------------------------------

const (
	testUserID    = "u-1000"
	testChannelID = "c-2000"
	testPostID    = "p-5000"
	testAuthorID  = "u-3000"
)

func newTestContext(method, path string, body io.Reader) (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	req := httptest.NewRequest(method, path, body)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	return c, rec
}

func setAuthUser(c echo.Context, userID string) {
	c.Set("user_id", userID)
}

func newTestRedis(t *testing.T) *redisclient.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb, err := redisclient.NewClient("redis://" + mr.Addr())
	if err != nil {
		t.Fatalf("creating test redis client: %v", err)
	}
	t.Cleanup(func() { rdb.Close() })
	return rdb
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

func (m *mockGateway) SubscribeToChannel(userID, channelID string) {}

func (m *mockGateway) UnsubscribeFromChannel(userID, channelID string) {}

// ---------------------------------------------------------------------------
// Mock repositories
// ---------------------------------------------------------------------------

// mockReadCursorRepo implements database.ReadCursorRepository.
type mockReadCursorRepo struct {
	GetFn             func(ctx context.Context, channelID, userID string) (*models.ReadCursor, error)
	UpsertFn          func(ctx context.Context, cursor *models.ReadCursor) (bool, error)
	GetForUserFn      func(ctx context.Context, userID string) ([]models.ReadCursor, error)
	CountReadersFn    func(ctx context.Context, channelID string, seq int64, excludeUserID string) (int, error)
	GetReadersFn      func(ctx context.Context, channelID string, seq int64, excludeUserID string, limit int) ([]models.UserProfile, error)
	DeleteOlderThanFn func(ctx context.Context, olderThan int64) (int64, error)
}

func (m *mockReadCursorRepo) Get(ctx context.Context, channelID, userID string) (*models.ReadCursor, error) {
	if m.GetFn != nil {
		return m.GetFn(ctx, channelID, userID)
	}
	return nil, nil
}

func (m *mockReadCursorRepo) Upsert(ctx context.Context, cursor *models.ReadCursor) (bool, error) {
	if m.UpsertFn != nil {
		return m.UpsertFn(ctx, cursor)
	}
	return true, nil
}

func (m *mockReadCursorRepo) GetForUser(ctx context.Context, userID string) ([]models.ReadCursor, error) {
	if m.GetForUserFn != nil {
		return m.GetForUserFn(ctx, userID)
	}
	return nil, nil
}

func (m *mockReadCursorRepo) CountReaders(ctx context.Context, channelID string, seq int64, excludeUserID string) (int, error) {
	if m.CountReadersFn != nil {
		return m.CountReadersFn(ctx, channelID, seq, excludeUserID)
	}
	return 0, nil
}

func (m *mockReadCursorRepo) GetReaders(ctx context.Context, channelID string, seq int64, excludeUserID string, limit int) ([]models.UserProfile, error) {
	if m.GetReadersFn != nil {
		return m.GetReadersFn(ctx, channelID, seq, excludeUserID, limit)
	}
	return nil, nil
}

func (m *mockReadCursorRepo) DeleteOlderThan(ctx context.Context, olderThan int64) (int64, error) {
	if m.DeleteOlderThanFn != nil {
		return m.DeleteOlderThanFn(ctx, olderThan)
	}
	return 0, nil
}

// mockPostRepo implements database.PostRepository.
type mockPostRepo struct {
	CreateFn  func(ctx context.Context, post *models.Post) error
	GetByIDFn func(ctx context.Context, id string) (*models.Post, error)
	LatestFn  func(ctx context.Context, channelID string) (*models.Post, error)
	DeleteFn  func(ctx context.Context, id string) error
}

func (m *mockPostRepo) Create(ctx context.Context, post *models.Post) error {
	if m.CreateFn != nil {
		return m.CreateFn(ctx, post)
	}
	return nil
}

func (m *mockPostRepo) GetByID(ctx context.Context, id string) (*models.Post, error) {
	if m.GetByIDFn != nil {
		return m.GetByIDFn(ctx, id)
	}
	return nil, nil
}

func (m *mockPostRepo) GetLatestInChannel(ctx context.Context, channelID string) (*models.Post, error) {
	if m.LatestFn != nil {
		return m.LatestFn(ctx, channelID)
	}
	return nil, nil
}

func (m *mockPostRepo) Delete(ctx context.Context, id string) error {
	if m.DeleteFn != nil {
		return m.DeleteFn(ctx, id)
	}
	return nil
}

// mockChannelMemberRepo implements database.ChannelMemberRepository.
type mockChannelMemberRepo struct {
	AddFn                  func(ctx context.Context, channelID, userID string) error
	RemoveFn               func(ctx context.Context, channelID, userID string) error
	IsMemberFn             func(ctx context.Context, channelID, userID string) (bool, error)
	GetChannelIDsForUserFn func(ctx context.Context, userID string) ([]string, error)
}

func (m *mockChannelMemberRepo) Add(ctx context.Context, channelID, userID string) error {
	if m.AddFn != nil {
		return m.AddFn(ctx, channelID, userID)
	}
	return nil
}

func (m *mockChannelMemberRepo) Remove(ctx context.Context, channelID, userID string) error {
	if m.RemoveFn != nil {
		return m.RemoveFn(ctx, channelID, userID)
	}
	return nil
}

func (m *mockChannelMemberRepo) IsMember(ctx context.Context, channelID, userID string) (bool, error) {
	if m.IsMemberFn != nil {
		return m.IsMemberFn(ctx, channelID, userID)
	}
	return true, nil
}

func (m *mockChannelMemberRepo) GetChannelIDsForUser(ctx context.Context, userID string) ([]string, error) {
	if m.GetChannelIDsForUserFn != nil {
		return m.GetChannelIDsForUserFn(ctx, userID)
	}
	return nil, nil
}

// testPost returns a post mock that knows a single post by testAuthorID.
func testPost() *mockPostRepo {
	return &mockPostRepo{
		GetByIDFn: func(ctx context.Context, id string) (*models.Post, error) {
			if id != testPostID {
				return nil, nil
			}
			return &models.Post{ID: testPostID, ChannelID: testChannelID, UserID: testAuthorID, CreateAt: 1700000000000}, nil
		},
		LatestFn: func(ctx context.Context, channelID string) (*models.Post, error) {
			if channelID != testChannelID {
				return nil, nil
			}
			return &models.Post{ID: testPostID, ChannelID: testChannelID, UserID: testAuthorID, CreateAt: 1700000000000}, nil
		},
	}
}

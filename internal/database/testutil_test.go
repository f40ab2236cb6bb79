package database

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/victorivanov/readreceipts/internal/models"
)

// testPool returns a pgxpool.Pool connected to the test database.
// It skips the test if DATABASE_URL is not set. The database must already
// have the migrations applied.
func testPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set, skipping integration test")
	}
	pool, err := NewPostgresPool(context.Background(), dsn)
	if err != nil {
		t.Fatalf("connecting to test database: %v", err)
	}
	t.Cleanup(func() { pool.Close() })
	return pool
}

// newID returns an ID that is unique across test runs.
func newID() string {
	return uuid.NewString()
}

func createTestUser(t *testing.T, repo UserRepository, username string) *models.UserProfile {
	t.Helper()
	ctx := context.Background()
	u := &models.UserProfile{
		ID:       newID(),
		Username: username + "_" + newID()[:8],
	}
	if err := repo.Create(ctx, u); err != nil {
		t.Fatalf("creating test user: %v", err)
	}
	t.Cleanup(func() { _ = repo.Delete(ctx, u.ID) })
	return u
}

func joinChannel(t *testing.T, repo ChannelMemberRepository, channelID, userID string) {
	t.Helper()
	ctx := context.Background()
	if err := repo.Add(ctx, channelID, userID); err != nil {
		t.Fatalf("adding channel member: %v", err)
	}
	t.Cleanup(func() { _ = repo.Remove(ctx, channelID, userID) })
}

func cleanupCursors(t *testing.T, pool *pgxpool.Pool, channelID string) {
	t.Helper()
	t.Cleanup(func() {
		_, _ = pool.Exec(context.Background(), `DELETE FROM read_cursors WHERE channel_id = $1`, channelID)
	})
}

package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/victorivanov/readreceipts/internal/models"
)

// Client wraps a Redis connection for rate limiting, read-count caching and
// the read-cursor event stream.
type Client struct {
	rdb *goredis.Client
}

// NewClient creates a Redis client from a URL and verifies the connection.
func NewClient(redisURL string) (*Client, error) {
	opts, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis URL: %w", err)
	}
	rdb := goredis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}
	return &Client{rdb: rdb}, nil
}

// Ping checks the Redis connection.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

const (
	readCountPrefix = "readcounts:"

	// ReadCursorStream is the stream every applied cursor advance is appended to.
	ReadCursorStream = "read_cursor_events"

	readCursorStreamMaxLen = 100000
)

// rateLimitScript atomically increments a counter and sets its TTL on first use.
// Returns the new count and the remaining TTL in milliseconds.
var rateLimitScript = goredis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
    redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
return {count, ttl}
`)

// CheckRateLimit reports whether the request is allowed under a fixed-window
// counter, along with the current count and the milliseconds until the window
// resets.
func (c *Client) CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, int64, int64, error) {
	res, err := rateLimitScript.Run(ctx, c.rdb, []string{key}, window.Milliseconds()).Int64Slice()
	if err != nil {
		return false, 0, 0, fmt.Errorf("checking rate limit: %w", err)
	}
	if len(res) != 2 {
		return false, 0, 0, fmt.Errorf("checking rate limit: unexpected reply length %d", len(res))
	}
	count, ttlMs := res[0], res[1]
	if ttlMs < 0 {
		ttlMs = window.Milliseconds()
	}
	return count <= int64(limit), count, ttlMs, nil
}

// GetReadCount returns the cached read count of a post. The second return
// value is false on a cache miss.
func (c *Client) GetReadCount(ctx context.Context, channelID, postID string) (int, bool, error) {
	val, err := c.rdb.HGet(ctx, readCountPrefix+channelID, postID).Result()
	if err == goredis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("getting read count: %w", err)
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, false, fmt.Errorf("parsing read count: %w", err)
	}
	return n, true, nil
}

// SetReadCount caches a post's read count. Counts are grouped per channel so a
// single cursor advance can drop them all at once.
func (c *Client) SetReadCount(ctx context.Context, channelID, postID string, count int, ttl time.Duration) error {
	key := readCountPrefix + channelID
	pipe := c.rdb.TxPipeline()
	pipe.HSet(ctx, key, postID, count)
	pipe.Expire(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("caching read count: %w", err)
	}
	return nil
}

// InvalidateChannelReadCounts drops every cached read count of a channel.
func (c *Client) InvalidateChannelReadCounts(ctx context.Context, channelID string) error {
	return c.rdb.Del(ctx, readCountPrefix+channelID).Err()
}

// PublishReadCursorEvent appends an event to the read-cursor stream and returns
// the stream entry ID.
func (c *Client) PublishReadCursorEvent(ctx context.Context, ev models.ReadCursorEvent) (string, error) {
	id, err := c.rdb.XAdd(ctx, &goredis.XAddArgs{
		Stream: ReadCursorStream,
		MaxLen: readCursorStreamMaxLen,
		Approx: true,
		Values: map[string]any{
			"type":          ev.Type,
			"event_id":      ev.EventID,
			"channel_id":    ev.ChannelID,
			"user_id":       ev.UserID,
			"prev_last_seq": ev.PrevLastSeq,
			"new_last_seq":  ev.NewLastSeq,
			"timestamp":     ev.Timestamp,
		},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("publishing read cursor event: %w", err)
	}
	return id, nil
}

// ReadCursorEvents returns up to count events recorded after the given stream
// entry ID. Use "-" to read from the beginning.
func (c *Client) ReadCursorEvents(ctx context.Context, after string, count int64) ([]models.ReadCursorEvent, string, error) {
	start := after
	if start == "" {
		start = "-"
	}
	// XRANGE is inclusive, so ask for one extra entry and drop the cursor itself.
	msgs, err := c.rdb.XRangeN(ctx, ReadCursorStream, start, "+", count+1).Result()
	if err != nil {
		return nil, after, fmt.Errorf("reading read cursor events: %w", err)
	}

	events := make([]models.ReadCursorEvent, 0, len(msgs))
	last := after
	for _, m := range msgs {
		if m.ID == after || int64(len(events)) == count {
			continue
		}
		events = append(events, models.ReadCursorEvent{
			Type:        str(m.Values["type"]),
			EventID:     str(m.Values["event_id"]),
			ChannelID:   str(m.Values["channel_id"]),
			UserID:      str(m.Values["user_id"]),
			PrevLastSeq: int64Of(m.Values["prev_last_seq"]),
			NewLastSeq:  int64Of(m.Values["new_last_seq"]),
			Timestamp:   int64Of(m.Values["timestamp"]),
		})
		last = m.ID
	}
	return events, last, nil
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

func int64Of(v any) int64 {
	n, _ := strconv.ParseInt(str(v), 10, 64)
	return n
}

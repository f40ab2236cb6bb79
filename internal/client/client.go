// Package client is the HTTP client for the read receipts REST API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/victorivanov/readreceipts/internal/models"
)

const apiPrefix = "/api/v1"

// Client talks to the read receipts API on behalf of one authenticated user.
// The zero value is not valid for use.
type Client struct {
	baseURL string
	token   string
	http    *http.Client

	// receipts throttles read count and reader queries, which views fire
	// while scrolling. Cursor calls are never throttled.
	receipts *rate.Limiter
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithReceiptsRateLimit throttles read receipt queries to rps requests per
// second with the given burst. A non-positive rps disables throttling.
func WithReceiptsRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		if rps <= 0 {
			c.receipts = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.receipts = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// New returns a Client for the server at baseURL authenticating with token.
func New(baseURL, token string, opts ...Option) *Client {
	c := &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		token:    token,
		http:     &http.Client{Timeout: 15 * time.Second},
		receipts: rate.NewLimiter(rate.Every(100*time.Millisecond), 10),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Error is a non-2xx response from the API. Methods return it as is, without
// wrapping.
type Error struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error %d: %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err is an API 404.
func IsNotFound(err error) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// AdvanceReadCursor moves the current user's cursor in channelID forward.
// lastPostSeq and postID are optional; zero values are omitted.
func (c *Client) AdvanceReadCursor(ctx context.Context, channelID string, lastPostSeq int64, postID string) (*models.ReadCursor, error) {
	body := models.ReadCursorAdvanceRequest{LastPostSeq: lastPostSeq, PostID: postID}
	var cursor models.ReadCursor
	if err := c.do(ctx, http.MethodPost, channelPath(channelID)+"/read_cursor", body, &cursor, nil); err != nil {
		return nil, err
	}
	return &cursor, nil
}

// ViewChannel tells the server the current user opened channelID. The server
// advances the user's cursor to the newest post on a best-effort basis.
func (c *Client) ViewChannel(ctx context.Context, channelID string) error {
	return c.do(ctx, http.MethodPost, channelPath(channelID)+"/view", nil, nil, nil)
}

// GetReadCursor returns the current user's cursor in channelID.
func (c *Client) GetReadCursor(ctx context.Context, channelID string) (*models.ReadCursor, error) {
	var cursor models.ReadCursor
	if err := c.do(ctx, http.MethodGet, channelPath(channelID)+"/read_cursor", nil, &cursor, nil); err != nil {
		return nil, err
	}
	return &cursor, nil
}

// GetReadCursorsForUser returns all of the current user's cursors.
func (c *Client) GetReadCursorsForUser(ctx context.Context) ([]models.ReadCursor, error) {
	var cursors []models.ReadCursor
	if err := c.do(ctx, http.MethodGet, apiPrefix+"/users/@me/read_cursors", nil, &cursors, nil); err != nil {
		return nil, err
	}
	return cursors, nil
}

// GetPostReadReceiptsCount returns the number of distinct readers of postID.
func (c *Client) GetPostReadReceiptsCount(ctx context.Context, postID string) (*models.ReadReceiptsCount, error) {
	var count models.ReadReceiptsCount
	if err := c.do(ctx, http.MethodGet, postPath(postID)+"/read_receipts/count", nil, &count, c.receipts); err != nil {
		return nil, err
	}
	return &count, nil
}

// GetPostReaders returns up to limit readers of postID. A non-positive limit
// leaves the choice to the server.
func (c *Client) GetPostReaders(ctx context.Context, postID string, limit int) (*models.PostReaders, error) {
	path := postPath(postID) + "/read_receipts"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var readers models.PostReaders
	if err := c.do(ctx, http.MethodGet, path, nil, &readers, c.receipts); err != nil {
		return nil, err
	}
	if readers.Readers == nil {
		readers.Readers = []models.UserProfile{}
	}
	return &readers, nil
}

// Health checks GET /health.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil, nil)
}

func channelPath(channelID string) string {
	return apiPrefix + "/channels/" + url.PathEscape(channelID)
}

func postPath(postID string) string {
	return apiPrefix + "/posts/" + url.PathEscape(postID)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any, limiter *rate.Limiter) error {
	if limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			return err
		}
	}

	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// decodeError reads the API error envelope. Echo's own errors use a flat
// {"message": ...} body, so both shapes are accepted.
func decodeError(resp *http.Response) error {
	apiErr := &Error{StatusCode: resp.StatusCode}

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var envelope struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &envelope); err == nil {
		apiErr.Code = envelope.Error.Code
		apiErr.Message = envelope.Error.Message
		if apiErr.Message == "" {
			apiErr.Message = envelope.Message
		}
	}
	if apiErr.Message == "" {
		apiErr.Message = strings.TrimSpace(string(raw))
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(resp.StatusCode)
	}
	return apiErr
}

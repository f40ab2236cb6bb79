// Package actions runs read receipt requests against the API and turns their
// results, and inbound gateway events, into readstore events.
package actions

import (
	"context"
	"log/slog"

	"github.com/benbjohnson/clock"
	"github.com/victorivanov/readreceipts/internal/gateway"
	"github.com/victorivanov/readreceipts/internal/models"
	"github.com/victorivanov/readreceipts/internal/readstore"
)

// Client is the subset of the REST client the actions need.
type Client interface {
	AdvanceReadCursor(ctx context.Context, channelID string, lastPostSeq int64, postID string) (*models.ReadCursor, error)
	GetReadCursor(ctx context.Context, channelID string) (*models.ReadCursor, error)
	GetReadCursorsForUser(ctx context.Context) ([]models.ReadCursor, error)
	GetPostReadReceiptsCount(ctx context.Context, postID string) (*models.ReadReceiptsCount, error)
	GetPostReaders(ctx context.Context, postID string, limit int) (*models.PostReaders, error)
}

// Dispatcher receives store events. *readstore.Store implements it.
type Dispatcher interface {
	Dispatch(ev readstore.Event)
}

// ReadReceipts runs read receipt actions for one session.
type ReadReceipts struct {
	client     Client
	dispatcher Dispatcher
	clock      clock.Clock
	logger     *slog.Logger
}

// New creates a ReadReceipts. A nil clock uses the wall clock and a nil
// logger uses slog.Default().
func New(client Client, dispatcher Dispatcher, clk clock.Clock, logger *slog.Logger) *ReadReceipts {
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ReadReceipts{
		client:     client,
		dispatcher: dispatcher,
		clock:      clk,
		logger:     logger,
	}
}

// AdvanceReadCursor asks the server to move the current user's cursor in
// channelID forward. On success the returned cursor is dispatched as
// CursorAdvanced. Errors are returned as-is and nothing is dispatched.
func (r *ReadReceipts) AdvanceReadCursor(ctx context.Context, channelID string, lastPostSeq int64, postID string) (*models.ReadCursor, error) {
	cursor, err := r.client.AdvanceReadCursor(ctx, channelID, lastPostSeq, postID)
	if err != nil {
		r.logger.Debug("advance read cursor failed", "channelID", channelID, "error", err)
		return nil, err
	}
	r.dispatcher.Dispatch(readstore.CursorAdvanced{Cursor: *cursor})
	return cursor, nil
}

// FetchReadCursor loads the current user's cursor in channelID.
func (r *ReadReceipts) FetchReadCursor(ctx context.Context, channelID string) (*models.ReadCursor, error) {
	cursor, err := r.client.GetReadCursor(ctx, channelID)
	if err != nil {
		r.logger.Debug("fetch read cursor failed", "channelID", channelID, "error", err)
		return nil, err
	}
	r.dispatcher.Dispatch(readstore.CursorReceived{Cursor: *cursor})
	return cursor, nil
}

// FetchReadCursorsForUser loads every cursor of the current user.
func (r *ReadReceipts) FetchReadCursorsForUser(ctx context.Context) ([]models.ReadCursor, error) {
	cursors, err := r.client.GetReadCursorsForUser(ctx)
	if err != nil {
		r.logger.Debug("fetch read cursors failed", "error", err)
		return nil, err
	}
	r.dispatcher.Dispatch(readstore.CursorsReceived{Cursors: cursors})
	return cursors, nil
}

// FetchReadReceiptsCount loads the read count of postID and stores it. A
// missing count is stored as 0.
func (r *ReadReceipts) FetchReadReceiptsCount(ctx context.Context, postID string) (*models.ReadReceiptsCount, error) {
	result, err := r.client.GetPostReadReceiptsCount(ctx, postID)
	if err != nil {
		r.logger.Debug("fetch read receipts count failed", "postID", postID, "error", err)
		return nil, err
	}
	count := 0
	if result != nil {
		count = result.Count
	}
	r.dispatcher.Dispatch(readstore.CountReceived{PostID: postID, Count: count})
	return result, nil
}

// FetchPostReaders loads up to limit readers of postID for the readers modal.
// The store is not touched.
func (r *ReadReceipts) FetchPostReaders(ctx context.Context, postID string, limit int) (*models.PostReaders, error) {
	return r.client.GetPostReaders(ctx, postID, limit)
}

// HandleReady hydrates the store with the cursors sent in a gateway READY.
func (r *ReadReceipts) HandleReady(ready gateway.ReadyData) {
	if len(ready.ReadCursors) == 0 {
		return
	}
	r.dispatcher.Dispatch(readstore.CursorsReceived{Cursors: ready.ReadCursors})
}

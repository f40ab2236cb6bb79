// Package readstore holds the client-side read receipts state: the latest
// known read cursor per (channel, user) and the latest read count per post.
//
// State only changes through Dispatch. Every event is applied by pure
// reducers to an immutable snapshot, so readers can hold on to a State
// without locking.
package readstore

import "github.com/victorivanov/readreceipts/internal/models"

// Event is anything that can be dispatched to a Store.
type Event interface {
	eventName() string
}

// CursorReceived carries a cursor fetched from the server or pushed over the
// gateway.
type CursorReceived struct {
	Cursor models.ReadCursor
}

// CursorAdvanced carries the cursor returned by a successful advance call.
type CursorAdvanced struct {
	Cursor models.ReadCursor
}

// CursorsReceived carries a batch of cursors, applied in order as one event.
type CursorsReceived struct {
	Cursors []models.ReadCursor
}

// CountReceived carries the read count of a post. Negative counts are stored
// as 0.
type CountReceived struct {
	PostID string
	Count  int
}

// SessionReset drops all state. Dispatched on logout or session teardown.
type SessionReset struct{}

func (CursorReceived) eventName() string  { return "RECEIVED_READ_CURSOR" }
func (CursorAdvanced) eventName() string  { return "READ_CURSOR_ADVANCED" }
func (CursorsReceived) eventName() string { return "RECEIVED_READ_CURSORS" }
func (CountReceived) eventName() string   { return "RECEIVED_READ_RECEIPTS_COUNT" }
func (SessionReset) eventName() string    { return "READ_RECEIPTS_SESSION_RESET" }

// EventName returns the wire-style name of an event, for logging.
func EventName(ev Event) string {
	if ev == nil {
		return ""
	}
	return ev.eventName()
}

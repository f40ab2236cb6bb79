package readstore

import "github.com/victorivanov/readreceipts/internal/models"

// CursorState maps channel ID to user ID to that user's cursor.
type CursorState map[string]map[string]models.ReadCursor

// CountState maps post ID to its read count.
type CountState map[string]int

// ReduceCursors returns the cursor state after applying ev. Cursor events
// replace the entry for their (channel, user) pair wholesale; no timestamp
// comparison is made, so the last applied event wins. Only the outer map and
// the affected channel's inner map are copied; other channels are shared with
// the previous state. Unrelated events return state unchanged.
func ReduceCursors(state CursorState, ev Event) CursorState {
	switch e := ev.(type) {
	case CursorReceived:
		return setCursors(state, e.Cursor)
	case CursorAdvanced:
		return setCursors(state, e.Cursor)
	case CursorsReceived:
		if len(e.Cursors) == 0 {
			return state
		}
		return setCursors(state, e.Cursors...)
	case SessionReset:
		return CursorState{}
	default:
		return state
	}
}

func setCursors(state CursorState, cursors ...models.ReadCursor) CursorState {
	next := make(CursorState, len(state)+1)
	for channelID, users := range state {
		next[channelID] = users
	}

	copied := make(map[string]bool)
	for _, c := range cursors {
		if !copied[c.ChannelID] {
			users := make(map[string]models.ReadCursor, len(state[c.ChannelID])+1)
			for userID, cursor := range state[c.ChannelID] {
				users[userID] = cursor
			}
			next[c.ChannelID] = users
			copied[c.ChannelID] = true
		}
		next[c.ChannelID][c.UserID] = c
	}
	return next
}

// ReduceReadCounts returns the count state after applying ev. A count event
// overwrites the post's previous count unconditionally.
func ReduceReadCounts(state CountState, ev Event) CountState {
	switch e := ev.(type) {
	case CountReceived:
		count := e.Count
		if count < 0 {
			count = 0
		}
		next := make(CountState, len(state)+1)
		for postID, n := range state {
			next[postID] = n
		}
		next[e.PostID] = count
		return next
	case SessionReset:
		return CountState{}
	default:
		return state
	}
}

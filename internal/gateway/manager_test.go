package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/victorivanov/readreceipts/internal/auth"
	"github.com/victorivanov/readreceipts/internal/models"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func newTestManager(t *testing.T, members *mockMemberRepo) *Manager {
	t.Helper()
	tokens := auth.NewTokenService("test-secret")
	return NewManager(tokens, members, &mockCursorRepo{})
}

// fakeConn creates a Connection wired into the Manager with a buffered Send
// channel so we can read dispatched events without running the pumps.
func fakeConn(t *testing.T, m *Manager, userID string, sessionID string) *Connection {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		up := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
		ws, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("fakeConn: dial failed: %v", err)
	}
	t.Cleanup(func() { ws.Close() })

	c := &Connection{
		UserID:    userID,
		SessionID: sessionID,
		Conn:      ws,
		Send:      make(chan []byte, sendBufferSize),
		manager:   m,
		done:      make(chan struct{}),
	}
	c.lastHeartbeat.Store(time.Now().UnixMilli())

	m.mu.Lock()
	m.connections[userID] = c
	m.sessions[sessionID] = c
	m.mu.Unlock()

	return c
}

// drainEvents reads all buffered payloads from a connection's Send channel
// and returns them as decoded GatewayPayload slices.
func drainEvents(c *Connection) []GatewayPayload {
	var payloads []GatewayPayload
	for {
		select {
		case raw := <-c.Send:
			var p GatewayPayload
			if err := json.Unmarshal(raw, &p); err == nil {
				payloads = append(payloads, p)
			}
		default:
			return payloads
		}
	}
}

func seqEvent(seq int64, name string, data any) sequencedEvent {
	return sequencedEvent{Sequence: seq, Name: name, Data: mustMarshal(data)}
}

// mockMemberRepo implements database.ChannelMemberRepository for testing.
type mockMemberRepo struct {
	GetChannelIDsForUserFn func(ctx context.Context, userID string) ([]string, error)
}

func (m *mockMemberRepo) Add(context.Context, string, string) error    { return nil }
func (m *mockMemberRepo) Remove(context.Context, string, string) error { return nil }
func (m *mockMemberRepo) IsMember(context.Context, string, string) (bool, error) {
	return true, nil
}
func (m *mockMemberRepo) GetChannelIDsForUser(ctx context.Context, userID string) ([]string, error) {
	if m.GetChannelIDsForUserFn != nil {
		return m.GetChannelIDsForUserFn(ctx, userID)
	}
	return nil, nil
}

// mockCursorRepo implements database.ReadCursorRepository for testing.
type mockCursorRepo struct {
	GetForUserFn func(ctx context.Context, userID string) ([]models.ReadCursor, error)
}

func (m *mockCursorRepo) Get(context.Context, string, string) (*models.ReadCursor, error) {
	return nil, nil
}
func (m *mockCursorRepo) Upsert(context.Context, *models.ReadCursor) (bool, error) {
	return false, nil
}
func (m *mockCursorRepo) GetForUser(ctx context.Context, userID string) ([]models.ReadCursor, error) {
	if m.GetForUserFn != nil {
		return m.GetForUserFn(ctx, userID)
	}
	return nil, nil
}
func (m *mockCursorRepo) CountReaders(context.Context, string, int64, string) (int, error) {
	return 0, nil
}
func (m *mockCursorRepo) GetReaders(context.Context, string, int64, string, int) ([]models.UserProfile, error) {
	return nil, nil
}
func (m *mockCursorRepo) DeleteOlderThan(context.Context, int64) (int64, error) { return 0, nil }

// ---------------------------------------------------------------------------
// Ring Buffer Tests
// ---------------------------------------------------------------------------

func TestRingBuffer_AddAndSinceZero(t *testing.T) {
	rb := newRingBuffer(100)
	rb.add(seqEvent(1, "A", "one"))
	rb.add(seqEvent(2, "B", "two"))

	events := rb.since(0)
	if len(events) != 2 {
		t.Fatalf("since(0) returned %d events, want 2", len(events))
	}
	if events[0].Name != "A" {
		t.Errorf("events[0].Name = %q, want %q", events[0].Name, "A")
	}
	if events[1].Name != "B" {
		t.Errorf("events[1].Name = %q, want %q", events[1].Name, "B")
	}
}

func TestRingBuffer_SinceMidway(t *testing.T) {
	rb := newRingBuffer(100)
	for i := int64(1); i <= 10; i++ {
		rb.add(seqEvent(i, "E", i))
	}

	events := rb.since(7)
	if len(events) != 3 {
		t.Fatalf("since(7) returned %d events, want 3", len(events))
	}
	if events[0].Sequence != 8 {
		t.Errorf("first replayed seq = %d, want 8", events[0].Sequence)
	}
}

func TestRingBuffer_GapsInSequence(t *testing.T) {
	// Sequences are global, so one channel's buffer sees gaps.
	rb := newRingBuffer(10)
	for _, seq := range []int64{3, 9, 14, 20} {
		rb.add(seqEvent(seq, "E", seq))
	}

	events := rb.since(10)
	if len(events) != 2 {
		t.Fatalf("since(10) returned %d events, want 2", len(events))
	}
	if events[0].Sequence != 14 || events[1].Sequence != 20 {
		t.Errorf("replayed seqs = %d,%d, want 14,20", events[0].Sequence, events[1].Sequence)
	}
}

func TestRingBuffer_WrapAround(t *testing.T) {
	rb := newRingBuffer(10)
	for i := int64(1); i <= 25; i++ {
		rb.add(seqEvent(i, "E", i))
	}

	events := rb.since(0)
	if len(events) != 10 {
		t.Fatalf("since(0) after wrap returned %d events, want 10", len(events))
	}
	if events[0].Sequence != 16 {
		t.Errorf("oldest event seq = %d, want 16", events[0].Sequence)
	}
	if events[9].Sequence != 25 {
		t.Errorf("newest event seq = %d, want 25", events[9].Sequence)
	}

	events = rb.since(20)
	if len(events) != 5 {
		t.Fatalf("since(20) returned %d events, want 5", len(events))
	}
}

func TestRingBuffer_Empty(t *testing.T) {
	rb := newRingBuffer(100)
	if events := rb.since(0); len(events) != 0 {
		t.Fatalf("since(0) on empty buffer returned %d events, want 0", len(events))
	}
}

// ---------------------------------------------------------------------------
// Subscription Tests
// ---------------------------------------------------------------------------

func TestSubscribe_AddsUserToChannel(t *testing.T) {
	m := newTestManager(t, &mockMemberRepo{})

	m.SubscribeToChannel("u1", "c1")
	m.SubscribeToChannel("u2", "c1")

	m.mu.RLock()
	defer m.mu.RUnlock()

	members, ok := m.subscriptions["c1"]
	if !ok {
		t.Fatal("channel c1 not in subscriptions")
	}
	if !members["u1"] || !members["u2"] {
		t.Errorf("subscriptions[c1] = %v, want u1 and u2", members)
	}
}

func TestUnsubscribe_CleansUpEmptyChannel(t *testing.T) {
	m := newTestManager(t, &mockMemberRepo{})

	m.SubscribeToChannel("u1", "c1")
	m.UnsubscribeFromChannel("u1", "c1")
	m.UnsubscribeFromChannel("u9", "c9")

	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.subscriptions["c1"]; ok {
		t.Error("channel c1 should be removed from subscriptions when empty")
	}
	if _, ok := m.subscriptions["c9"]; ok {
		t.Error("unsubscribing a stranger should not create channel c9")
	}
}

// ---------------------------------------------------------------------------
// Dispatch Tests
// ---------------------------------------------------------------------------

func TestDispatchToChannel_SendsToAllSubscribed(t *testing.T) {
	m := newTestManager(t, &mockMemberRepo{})

	c1 := fakeConn(t, m, "u1", "s1")
	c2 := fakeConn(t, m, "u2", "s2")
	c3 := fakeConn(t, m, "u3", "s3")

	m.SubscribeToChannel("u1", "c1")
	m.SubscribeToChannel("u2", "c1")

	data := models.ReadCursorAdvancedData{ChannelID: "c1", UserID: "u2", LastPostSeq: 42, Timestamp: 1000}
	m.DispatchToChannel("c1", EventReadCursorAdvanced, data)

	p1 := drainEvents(c1)
	p2 := drainEvents(c2)
	p3 := drainEvents(c3)

	if len(p1) != 1 || len(p2) != 1 {
		t.Fatalf("subscribers received %d and %d events, want 1 each", len(p1), len(p2))
	}
	if len(p3) != 0 {
		t.Errorf("non-subscriber received %d events, want 0", len(p3))
	}
	if p1[0].Event == nil || *p1[0].Event != EventReadCursorAdvanced {
		t.Errorf("event name = %v, want %q", p1[0].Event, EventReadCursorAdvanced)
	}
	if p1[0].Sequence == nil || p2[0].Sequence == nil || *p1[0].Sequence != *p2[0].Sequence {
		t.Error("every subscriber should see the same sequence for one dispatch")
	}

	var got models.ReadCursorAdvancedData
	if err := json.Unmarshal(p1[0].Data, &got); err != nil {
		t.Fatalf("unmarshal dispatch data: %v", err)
	}
	if got != data {
		t.Errorf("dispatch data = %+v, want %+v", got, data)
	}
}

func TestDispatchToChannel_StoresInReplayBuffer(t *testing.T) {
	m := newTestManager(t, &mockMemberRepo{})

	m.DispatchToChannel("c1", EventReadCursorAdvanced, "a")
	m.DispatchToChannel("c1", EventReadCursorAdvanced, "b")
	m.DispatchToChannel("c2", EventReadCursorAdvanced, "c")

	m.replayMu.RLock()
	defer m.replayMu.RUnlock()

	if n := len(m.replayBuffer["c1"].since(0)); n != 2 {
		t.Errorf("c1 replay buffer has %d events, want 2", n)
	}
	if n := len(m.replayBuffer["c2"].since(0)); n != 1 {
		t.Errorf("c2 replay buffer has %d events, want 1", n)
	}
}

func TestDispatchToUser_SendsOnlyToTarget(t *testing.T) {
	m := newTestManager(t, &mockMemberRepo{})

	c1 := fakeConn(t, m, "u1", "s1")
	c2 := fakeConn(t, m, "u2", "s2")

	m.DispatchToUser("u1", EventReadCursorAdvanced, map[string]string{"channel_id": "c1"})
	m.DispatchToUser("nobody", EventReadCursorAdvanced, "ignored")

	if p := drainEvents(c1); len(p) != 1 {
		t.Errorf("target user received %d events, want 1", len(p))
	}
	if p := drainEvents(c2); len(p) != 0 {
		t.Errorf("non-target user received %d events, want 0", len(p))
	}
}

// ---------------------------------------------------------------------------
// Register / Unregister Tests
// ---------------------------------------------------------------------------

func TestRegister_DisplacesExistingConnection(t *testing.T) {
	m := newTestManager(t, &mockMemberRepo{})

	c1 := fakeConn(t, m, "u1", "s1")

	c2 := &Connection{
		UserID:    "u1",
		SessionID: "s2",
		Conn:      c1.Conn,
		Send:      make(chan []byte, sendBufferSize),
		manager:   m,
		done:      make(chan struct{}),
	}
	m.register(c2)

	if p := drainEvents(c1); len(p) != 1 || p[0].Op != OpReconnect {
		t.Errorf("displaced connection got %+v, want a single RECONNECT", p)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.connections["u1"] != c2 {
		t.Error("new connection should replace old one")
	}
	if _, ok := m.sessions["s1"]; ok {
		t.Error("old session should be removed")
	}
}

func TestUnregister_RemovesFromAllChannelSubscriptions(t *testing.T) {
	m := newTestManager(t, &mockMemberRepo{})

	c := fakeConn(t, m, "u1", "s1")
	m.SubscribeToChannel("u1", "c1")
	m.SubscribeToChannel("u1", "c2")
	m.SubscribeToChannel("u2", "c2")

	m.unregister(c)

	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.connections["u1"]; ok {
		t.Error("user should be removed from connections")
	}
	if _, ok := m.subscriptions["c1"]; ok {
		t.Error("channel c1 should be dropped once empty")
	}
	if !m.subscriptions["c2"]["u2"] {
		t.Error("other subscribers must be kept")
	}
}

func TestUnregister_IgnoresMismatchedConnection(t *testing.T) {
	m := newTestManager(t, &mockMemberRepo{})

	c1 := fakeConn(t, m, "u1", "s1")
	c2 := &Connection{UserID: "u1", SessionID: "s2", Conn: c1.Conn, manager: m, done: make(chan struct{})}

	m.unregister(c2)

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.connections["u1"] != c1 {
		t.Error("original connection should not be removed by mismatched unregister")
	}
}

// ---------------------------------------------------------------------------
// WebSocket Connection Lifecycle Tests
// ---------------------------------------------------------------------------

func setupWSServer(t *testing.T, m *Manager) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(m)
	t.Cleanup(srv.Close)
	return srv
}

func dialWS(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/gateway"
	ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

func readPayload(t *testing.T, ws *websocket.Conn) GatewayPayload {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var p GatewayPayload
	if err := json.Unmarshal(msg, &p); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return p
}

func sendPayload(t *testing.T, ws *websocket.Conn, p GatewayPayload) {
	t.Helper()
	data, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestWSLifecycle_HelloOnConnect(t *testing.T) {
	m := NewManager(auth.NewTokenService("test-secret"), &mockMemberRepo{}, &mockCursorRepo{}, WithHeartbeatInterval(5*time.Second))
	srv := setupWSServer(t, m)
	ws := dialWS(t, srv)

	p := readPayload(t, ws)
	if p.Op != OpHello {
		t.Fatalf("first message op = %d, want %d (HELLO)", p.Op, OpHello)
	}

	var hello HelloData
	if err := json.Unmarshal(p.Data, &hello); err != nil {
		t.Fatalf("unmarshal hello data: %v", err)
	}
	if hello.HeartbeatInterval != 5000 {
		t.Errorf("heartbeat_interval = %d, want 5000", hello.HeartbeatInterval)
	}
}

func TestWSLifecycle_IdentifyAndReady(t *testing.T) {
	tokens := auth.NewTokenService("test-secret")
	token, err := tokens.GenerateAccessToken("u42")
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}

	members := &mockMemberRepo{
		GetChannelIDsForUserFn: func(ctx context.Context, userID string) ([]string, error) {
			return []string{"c1", "c2"}, nil
		},
	}
	cursors := &mockCursorRepo{
		GetForUserFn: func(ctx context.Context, userID string) ([]models.ReadCursor, error) {
			return []models.ReadCursor{{ChannelID: "c1", UserID: userID, LastPostSeq: 7, UpdatedAt: 100}}, nil
		},
	}

	m := NewManager(tokens, members, cursors)
	srv := setupWSServer(t, m)
	ws := dialWS(t, srv)

	readPayload(t, ws) // HELLO
	sendPayload(t, ws, GatewayPayload{Op: OpIdentify, Data: mustMarshal(IdentifyData{Token: token})})

	p := readPayload(t, ws)
	if p.Op != OpDispatch {
		t.Fatalf("ready op = %d, want %d (DISPATCH)", p.Op, OpDispatch)
	}
	if p.Event == nil || *p.Event != EventReady {
		t.Fatalf("ready event = %v, want %q", p.Event, EventReady)
	}

	var ready ReadyData
	if err := json.Unmarshal(p.Data, &ready); err != nil {
		t.Fatalf("unmarshal ready data: %v", err)
	}
	if ready.UserID != "u42" {
		t.Errorf("ready user_id = %q, want u42", ready.UserID)
	}
	if ready.SessionID == "" {
		t.Error("ready session_id should not be empty")
	}
	if len(ready.Channels) != 2 {
		t.Errorf("ready channels = %v, want 2", ready.Channels)
	}
	if len(ready.ReadCursors) != 1 || ready.ReadCursors[0].LastPostSeq != 7 {
		t.Errorf("ready read_cursors = %+v", ready.ReadCursors)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, ch := range []string{"c1", "c2"} {
		if !m.subscriptions[ch]["u42"] {
			t.Errorf("user u42 not subscribed to %s after IDENTIFY", ch)
		}
	}
}

func TestWSLifecycle_ReadyWithCursorErrorStillSucceeds(t *testing.T) {
	tokens := auth.NewTokenService("test-secret")
	token, _ := tokens.GenerateAccessToken("u1")

	cursors := &mockCursorRepo{
		GetForUserFn: func(ctx context.Context, userID string) ([]models.ReadCursor, error) {
			return nil, errors.New("db down")
		},
	}
	m := NewManager(tokens, &mockMemberRepo{}, cursors)
	ws := dialWS(t, setupWSServer(t, m))

	readPayload(t, ws)
	sendPayload(t, ws, GatewayPayload{Op: OpIdentify, Data: mustMarshal(IdentifyData{Token: token})})

	p := readPayload(t, ws)
	var ready ReadyData
	if err := json.Unmarshal(p.Data, &ready); err != nil {
		t.Fatalf("unmarshal ready data: %v", err)
	}
	if ready.ReadCursors == nil || len(ready.ReadCursors) != 0 {
		t.Errorf("read_cursors = %v, want empty list", ready.ReadCursors)
	}
}

func TestWSLifecycle_InvalidTokenClosesConnection(t *testing.T) {
	m := newTestManager(t, &mockMemberRepo{})
	ws := dialWS(t, setupWSServer(t, m))

	readPayload(t, ws)
	sendPayload(t, ws, GatewayPayload{Op: OpIdentify, Data: mustMarshal(IdentifyData{Token: "invalid-token"})})

	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := ws.ReadMessage(); err == nil {
		t.Error("expected read error after invalid identify, got nil")
	}
}

func TestWSLifecycle_HeartbeatExchange(t *testing.T) {
	m := newTestManager(t, &mockMemberRepo{})
	ws := dialWS(t, setupWSServer(t, m))

	readPayload(t, ws)
	sendPayload(t, ws, GatewayPayload{Op: OpHeartbeat})

	p := readPayload(t, ws)
	if p.Op != OpHeartbeatAck {
		t.Fatalf("response op = %d, want %d (HEARTBEAT_ACK)", p.Op, OpHeartbeatAck)
	}
}

func TestWSLifecycle_ResumeReplaysEventsInOrder(t *testing.T) {
	tokens := auth.NewTokenService("test-secret")
	members := &mockMemberRepo{
		GetChannelIDsForUserFn: func(ctx context.Context, userID string) ([]string, error) {
			return []string{"c1", "c2"}, nil
		},
	}
	m := NewManager(tokens, members, &mockCursorRepo{})

	m.DispatchToChannel("c1", EventReadCursorAdvanced, "seq1")
	m.DispatchToChannel("c2", EventReadCursorAdvanced, "seq2")
	m.DispatchToChannel("c1", EventReadCursorAdvanced, "seq3")
	m.DispatchToChannel("c3", EventReadCursorAdvanced, "not a member")

	ws := dialWS(t, setupWSServer(t, m))
	readPayload(t, ws) // HELLO

	token, err := tokens.GenerateAccessToken("u42")
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	sendPayload(t, ws, GatewayPayload{Op: OpResume, Data: mustMarshal(ResumeData{
		Token:     token,
		SessionID: "old-session",
		Sequence:  1,
	})})

	for _, want := range []int64{2, 3} {
		p := readPayload(t, ws)
		if p.Op != OpDispatch || p.Sequence == nil {
			t.Fatalf("replayed payload = %+v", p)
		}
		if *p.Sequence != want {
			t.Errorf("replayed seq = %d, want %d", *p.Sequence, want)
		}
	}
}

// ---------------------------------------------------------------------------
// Concurrent Safety Test
// ---------------------------------------------------------------------------

func TestConcurrentDispatch(t *testing.T) {
	m := newTestManager(t, &mockMemberRepo{})

	conns := make([]*Connection, 10)
	for i := range conns {
		uid := fmt.Sprintf("u%d", i)
		conns[i] = fakeConn(t, m, uid, fmt.Sprintf("s%d", i))
		m.SubscribeToChannel(uid, "c1")
	}

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			m.DispatchToChannel("c1", EventReadCursorAdvanced, n)
		}(i)
	}
	wg.Wait()

	for i, c := range conns {
		if events := drainEvents(c); len(events) != 100 {
			t.Errorf("conn %d received %d events, want 100", i, len(events))
		}
	}
}
